package models

import "time"

// Bank customers
type Customer struct {
	CustomerID        int64   `gorm:"column:customer_id;primaryKey;autoIncrement:false"`
	Surname           string  `gorm:"column:surname;type:varchar(100)"`
	CreditScore       int     `gorm:"column:credit_score;not null"`
	Geography         string  `gorm:"column:geography;type:varchar(50);index;not null"`
	Gender            string  `gorm:"column:gender;type:varchar(20);not null"`
	Age               int     `gorm:"column:age;not null"`
	Tenure            int     `gorm:"column:tenure;not null"`
	Balance           float64 `gorm:"column:balance;not null;default:0"`
	NumOfProducts     int     `gorm:"column:num_of_products;not null"`
	HasCrCard         bool    `gorm:"column:has_cr_card;not null"`
	IsActiveMember    bool    `gorm:"column:is_active_member;not null"`
	EstimatedSalary   float64 `gorm:"column:estimated_salary;not null"`
	Exited            int     `gorm:"column:exited;not null"`
	Complain          bool    `gorm:"column:complain;not null;default:false"`
	SatisfactionScore int     `gorm:"column:satisfaction_score;not null"`
	CardType          string  `gorm:"column:card_type;type:varchar(20);not null"`
	PointEarned       int     `gorm:"column:point_earned;not null;default:0"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (Customer) TableName() string {
	return "bank_customer"
}

// RFM scores, one row per customer, rebuilt in place
type RFMResult struct {
	CustomerID  int64     `gorm:"column:customer_id;primaryKey;autoIncrement:false" json:"customer_id"`
	RecencyDays int       `gorm:"column:recency_days;not null" json:"recency_days"`
	Frequency   int       `gorm:"column:frequency;not null" json:"frequency"`
	Monetary    float64   `gorm:"column:monetary;not null" json:"monetary"`
	RScore      int       `gorm:"column:r_score;not null" json:"r_score"`
	FScore      int       `gorm:"column:f_score;not null" json:"f_score"`
	MScore      int       `gorm:"column:m_score;not null" json:"m_score"`
	RFMCode     string    `gorm:"column:rfm_code;type:char(3);not null" json:"rfm_code"`
	Segment     string    `gorm:"column:segment;type:varchar(20);index;not null" json:"segment"`
	BuiltAt     time.Time `gorm:"column:built_at;not null" json:"built_at"`
}

func (RFMResult) TableName() string {
	return "rfm_result_once"
}

// Churn probabilities from the latest scoring run
type ChurnScore struct {
	CustomerID       int64     `gorm:"column:customer_id;primaryKey;autoIncrement:false" json:"customer_id"`
	ChurnProbability float64   `gorm:"column:churn_probability;not null" json:"churn_probability"`
	ScoredAt         time.Time `gorm:"column:scored_at;not null" json:"scored_at"`
}

func (ChurnScore) TableName() string {
	return "stg_churn_score"
}

// Scoring pipeline run log
type PipelineRun struct {
	ID                 string    `gorm:"column:id;type:varchar(36);primaryKey" json:"id"`
	StartedAt          time.Time `gorm:"column:started_at;index;not null" json:"started_at"`
	FinishedAt         time.Time `gorm:"column:finished_at" json:"finished_at"`
	Status             string    `gorm:"column:status;type:varchar(20);not null" json:"status"`
	Variant            string    `gorm:"column:variant;type:varchar(20)" json:"variant"`
	ResamplingAccuracy float64   `gorm:"column:resampling_accuracy" json:"resampling_accuracy"`
	WeightedAccuracy   float64   `gorm:"column:weighted_accuracy" json:"weighted_accuracy"`
	ArtifactPath       string    `gorm:"column:artifact_path;type:varchar(500)" json:"artifact_path"`
	ScoredRows         int       `gorm:"column:scored_rows" json:"scored_rows"`
	Error              string    `gorm:"column:error;type:text" json:"error,omitempty"`
}

func (PipelineRun) TableName() string {
	return "pipeline_runs"
}

// RFMScoreRow is one row of the RFM + churn join view.
type RFMScoreRow struct {
	RFMResult
	ChurnProbability *float64 `gorm:"column:churn_probability" json:"churn_probability"`
}

// SegmentSummary aggregates one segment for the dashboard.
type SegmentSummary struct {
	Segment             string   `gorm:"column:segment" json:"segment"`
	Customers           int64    `gorm:"column:customers" json:"customers"`
	AvgRecency          float64  `gorm:"column:avg_r" json:"avg_r"`
	AvgFrequency        float64  `gorm:"column:avg_f" json:"avg_f"`
	AvgMonetary         float64  `gorm:"column:avg_m" json:"avg_m"`
	AvgChurnProbability *float64 `gorm:"column:avg_churn" json:"avg_churn_probability"`
}
