package features

import (
	"fmt"
	"strconv"
	"strings"
)

// CustomerRecord is one row of the customer source. Records are never mutated;
// Enrich derives a new EnrichedRecord from each.
type CustomerRecord struct {
	CustomerID      int64
	Surname         string
	CreditScore     int
	Geography       string
	Gender          string
	Age             int
	Tenure          int
	Balance         float64
	NumOfProducts   int
	HasCard         bool
	IsActive        bool
	EstimatedSalary float64
	Exited          int
	Complain        bool
	Satisfaction    int
	CardType        string
	PointEarned     int
}

type AgeGroup string

const (
	AgeGroup18To30  AgeGroup = "18-30"
	AgeGroup31To40  AgeGroup = "31-40"
	AgeGroup41To50  AgeGroup = "41-50"
	AgeGroup51Plus  AgeGroup = "51+"
	AgeGroupUnknown AgeGroup = ""
)

type SatisfactionLevel string

const (
	SatisfactionLow     SatisfactionLevel = "Low"
	SatisfactionMedium  SatisfactionLevel = "Medium"
	SatisfactionHigh    SatisfactionLevel = "High"
	SatisfactionUnknown SatisfactionLevel = ""
)

// Interaction is a categorical feature formed from two source fields. Key is
// the token the classifier sees.
type Interaction interface {
	Name() string
	Key() string
}

// ActivityCard crosses activity status with card ownership.
type ActivityCard struct {
	IsActive bool
	HasCard  bool
}

func (ActivityCard) Name() string { return "ia_x_card" }
func (i ActivityCard) Key() string {
	return flag(i.IsActive) + "_" + flag(i.HasCard)
}

// GeoGender crosses geography with gender.
type GeoGender struct {
	Geography string
	Gender    string
}

func (GeoGender) Name() string  { return "geo_x_gender" }
func (i GeoGender) Key() string { return i.Geography + "_" + i.Gender }

// AgeSalaryBin crosses the batch-relative age and salary quintile bins.
type AgeSalaryBin struct {
	AgeBin    int
	SalaryBin int
}

func (AgeSalaryBin) Name() string { return "agebin_x_salbin" }
func (i AgeSalaryBin) Key() string {
	return strconv.Itoa(i.AgeBin) + "_" + strconv.Itoa(i.SalaryBin)
}

// CardTypeActivity crosses card tier with activity status.
type CardTypeActivity struct {
	CardType string
	IsActive bool
}

func (CardTypeActivity) Name() string { return "cardtype_x_ia" }
func (i CardTypeActivity) Key() string {
	return i.CardType + "_" + flag(i.IsActive)
}

// EnrichedRecord is a customer plus every derived model input.
type EnrichedRecord struct {
	CustomerRecord

	AgeGroup            AgeGroup
	SeniorFlag          bool
	GermanyFlag         bool
	GermanyHighBalance  bool
	BalancePerProduct   float64
	LowActiveLowProduct bool
	SatisfactionLevel   SatisfactionLevel

	ActivityCard     ActivityCard
	GeoGender        GeoGender
	AgeSalary        AgeSalaryBin
	CardTypeActivity CardTypeActivity
}

// Interactions returns the record's interaction features in model order.
func (e EnrichedRecord) Interactions() []Interaction {
	return []Interaction{e.ActivityCard, e.GeoGender, e.AgeSalary, e.CardTypeActivity}
}

// MissingColumnError is returned when the customer source lacks required
// columns. Columns lists every absent one.
type MissingColumnError struct {
	Columns []string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("customer table is missing required columns: %s", strings.Join(e.Columns, ", "))
}

// ParseError pins a bad cell to its row and column.
type ParseError struct {
	Row    int
	Column string
	Value  string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("row %d column %q: cannot parse %q: %v", e.Row, e.Column, e.Value, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
