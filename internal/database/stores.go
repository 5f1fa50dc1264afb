package database

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"churn-insight/internal/dataset"
	"churn-insight/internal/models"
)

var (
	// ErrViewDependencyMissing means a table the RFM score view reads does
	// not exist yet.
	ErrViewDependencyMissing = errors.New("view dependency table does not exist")
	ErrNotFound              = errors.New("record not found")
)

// UpsertCustomers inserts new customers and overwrites existing ones by id.
func (m *DBManager) UpsertCustomers(ctx context.Context, customers []models.Customer) error {
	if len(customers) == 0 {
		return nil
	}
	return m.WriteDB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "customer_id"}},
			DoUpdates: clause.AssignmentColumns(customerUpdateColumns),
		}).
		CreateInBatches(customers, batchSize).Error
}

var customerUpdateColumns = []string{
	"surname", "credit_score", "geography", "gender", "age", "tenure", "balance",
	"num_of_products", "has_cr_card", "is_active_member", "estimated_salary", "exited",
	"complain", "satisfaction_score", "card_type", "point_earned", "updated_at",
}

// LoadCustomerTable reads bank_customer into a loosely typed table. Columns are
// taken from the result set as-is, so the customer column contract is checked
// by the same gate that checks CSV input.
func (m *DBManager) LoadCustomerTable(ctx context.Context) (*dataset.Table, error) {
	rows, err := m.GetReadDB().WithContext(ctx).
		Table(models.Customer{}.TableName()).
		Order("customer_id").
		Rows()
	if err != nil {
		return nil, fmt.Errorf("query customers: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("customer columns: %w", err)
	}
	t := dataset.NewTable(cols)
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan customer: %w", err)
		}
		row := make([]string, len(cols))
		for i, v := range values {
			row[i] = cellString(v)
		}
		if err := t.Append(row); err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate customers: %w", err)
	}
	return t, nil
}

func cellString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(x)
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		if x {
			return "1"
		}
		return "0"
	case time.Time:
		return x.Format(time.RFC3339)
	default:
		return fmt.Sprint(x)
	}
}

// UpsertRFMResults writes one row per customer, overwriting scores for ids
// that already exist. Rows for customers absent from results are left alone.
func (m *DBManager) UpsertRFMResults(ctx context.Context, results []models.RFMResult) error {
	if len(results) == 0 {
		return nil
	}
	return m.WriteDB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "customer_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"recency_days", "frequency", "monetary", "r_score", "f_score", "m_score",
				"rfm_code", "segment", "built_at",
			}),
		}).
		CreateInBatches(results, batchSize).Error
}

// ReplaceChurnScores swaps the whole score table for scores in one transaction.
func (m *DBManager) ReplaceChurnScores(ctx context.Context, scores []models.ChurnScore) error {
	return m.WriteDB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Table(m.scoreTable).Where("1 = 1").Delete(&models.ChurnScore{}).Error; err != nil {
			return fmt.Errorf("clear %s: %w", m.scoreTable, err)
		}
		if len(scores) == 0 {
			return nil
		}
		if err := tx.Table(m.scoreTable).CreateInBatches(scores, batchSize).Error; err != nil {
			return fmt.Errorf("load %s: %w", m.scoreTable, err)
		}
		return nil
	})
}

// CreateRFMScoreView (re)creates the view that left-joins RFM results to churn
// scores. It returns ErrViewDependencyMissing when either table is absent.
func (m *DBManager) CreateRFMScoreView(ctx context.Context) error {
	db := m.WriteDB.WithContext(ctx)
	for _, table := range []string{models.RFMResult{}.TableName(), m.scoreTable} {
		if !db.Migrator().HasTable(table) {
			return fmt.Errorf("%w: %s", ErrViewDependencyMissing, table)
		}
	}
	selectSQL := fmt.Sprintf(
		"SELECT r.*, s.churn_probability FROM %s r LEFT JOIN %s s ON s.customer_id = r.customer_id",
		models.RFMResult{}.TableName(), m.scoreTable)

	if db.Dialector.Name() == DriverSQLite {
		return db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Exec("DROP VIEW IF EXISTS " + RFMScoreView).Error; err != nil {
				return err
			}
			return tx.Exec("CREATE VIEW " + RFMScoreView + " AS " + selectSQL).Error
		})
	}
	return db.Exec("CREATE OR REPLACE VIEW " + RFMScoreView + " AS " + selectSQL).Error
}

// rfmScoreSource prefers the view and falls back to the same join inline.
func (m *DBManager) rfmScoreSource(db *gorm.DB, useView bool) *gorm.DB {
	if useView {
		return db.Table(RFMScoreView + " AS v")
	}
	join := db.Session(&gorm.Session{NewDB: true}).
		Table(models.RFMResult{}.TableName() + " AS r").
		Select("r.*, s.churn_probability").
		Joins("LEFT JOIN " + m.scoreTable + " AS s ON s.customer_id = r.customer_id")
	return db.Table("(?) AS v", join)
}

func (m *DBManager) withScoreSource(ctx context.Context, query func(src *gorm.DB) error) error {
	db := m.GetReadDB().WithContext(ctx)
	if err := query(m.rfmScoreSource(db, true)); err == nil {
		return nil
	}
	return query(m.rfmScoreSource(db, false))
}

// SegmentSummaries aggregates RFM scores and churn probability per segment.
func (m *DBManager) SegmentSummaries(ctx context.Context) ([]models.SegmentSummary, error) {
	var out []models.SegmentSummary
	err := m.withScoreSource(ctx, func(src *gorm.DB) error {
		out = out[:0]
		return src.Select("v.segment AS segment, COUNT(*) AS customers, " +
			"AVG(v.r_score) AS avg_r, AVG(v.f_score) AS avg_f, AVG(v.m_score) AS avg_m, " +
			"AVG(v.churn_probability) AS avg_churn").
			Group("v.segment").
			Order("v.segment").
			Scan(&out).Error
	})
	if err != nil {
		return nil, fmt.Errorf("segment summaries: %w", err)
	}
	return out, nil
}

// SegmentCustomers pages through one segment, highest monetary score first,
// then highest churn probability with unscored customers last.
func (m *DBManager) SegmentCustomers(ctx context.Context, segment string, limit, offset int) ([]models.RFMScoreRow, error) {
	var out []models.RFMScoreRow
	err := m.withScoreSource(ctx, func(src *gorm.DB) error {
		out = out[:0]
		return src.Select("v.*").
			Where("v.segment = ?", segment).
			Order("v.m_score DESC").
			Order("CASE WHEN v.churn_probability IS NULL THEN 1 ELSE 0 END").
			Order("v.churn_probability DESC").
			Order("v.customer_id").
			Limit(limit).
			Offset(offset).
			Scan(&out).Error
	})
	if err != nil {
		return nil, fmt.Errorf("segment customers: %w", err)
	}
	return out, nil
}

// RFMScore returns one customer's joined RFM and churn row.
func (m *DBManager) RFMScore(ctx context.Context, customerID int64) (*models.RFMScoreRow, error) {
	var out []models.RFMScoreRow
	err := m.withScoreSource(ctx, func(src *gorm.DB) error {
		out = out[:0]
		return src.Select("v.*").Where("v.customer_id = ?", customerID).Limit(1).Scan(&out).Error
	})
	if err != nil {
		return nil, fmt.Errorf("rfm score for %d: %w", customerID, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("rfm score for %d: %w", customerID, ErrNotFound)
	}
	return &out[0], nil
}

func (m *DBManager) Customer(ctx context.Context, customerID int64) (*models.Customer, error) {
	var c models.Customer
	err := m.GetReadDB().WithContext(ctx).Where("customer_id = ?", customerID).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("customer %d: %w", customerID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("customer %d: %w", customerID, err)
	}
	return &c, nil
}

// RFMResults returns every stored RFM row ordered by customer id.
func (m *DBManager) RFMResults(ctx context.Context) ([]models.RFMResult, error) {
	var out []models.RFMResult
	if err := m.GetReadDB().WithContext(ctx).Order("customer_id").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("rfm results: %w", err)
	}
	return out, nil
}

// ChurnScores returns the current score table ordered by customer id.
func (m *DBManager) ChurnScores(ctx context.Context) ([]models.ChurnScore, error) {
	var out []models.ChurnScore
	if err := m.GetReadDB().WithContext(ctx).Table(m.scoreTable).Order("customer_id").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("churn scores: %w", err)
	}
	return out, nil
}

func (m *DBManager) InsertRun(ctx context.Context, run *models.PipelineRun) error {
	return m.WriteDB.WithContext(ctx).Create(run).Error
}

// LatestRun returns the most recently started pipeline run.
func (m *DBManager) LatestRun(ctx context.Context) (*models.PipelineRun, error) {
	var run models.PipelineRun
	err := m.GetReadDB().WithContext(ctx).Order("started_at DESC").First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest run: %w", err)
	}
	return &run, nil
}
