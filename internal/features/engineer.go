package features

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"churn-insight/internal/dataset"
	"churn-insight/internal/ml"
	"churn-insight/internal/stats"
)

const (
	ColCustomerID      = "CustomerId"
	ColSurname         = "Surname"
	ColCreditScore     = "CreditScore"
	ColGeography       = "Geography"
	ColGender          = "Gender"
	ColAge             = "Age"
	ColTenure          = "Tenure"
	ColBalance         = "Balance"
	ColNumOfProducts   = "NumOfProducts"
	ColHasCrCard       = "HasCrCard"
	ColIsActiveMember  = "IsActiveMember"
	ColEstimatedSalary = "EstimatedSalary"
	ColExited          = "Exited"
	ColComplain        = "Complain"
	ColSatisfaction    = "Satisfaction Score"
	ColCardType        = "Card Type"
	ColPointEarned     = "Point Earned"
)

// RequiredColumns must all be present in a customer source.
var RequiredColumns = []string{
	ColCustomerID, ColCreditScore, ColAge, ColTenure, ColBalance, ColNumOfProducts,
	ColIsActiveMember, ColGeography, ColSatisfaction, ColExited, ColHasCrCard,
	ColGender, ColEstimatedSalary, ColCardType,
}

const (
	// FlaggedRegion is the geography singled out by the region flags.
	FlaggedRegion = "Germany"
	SeniorAge     = 45
	QuantileBins  = 5
)

// FeatureColumns is the model input contract, in order.
var FeatureColumns = []string{
	"Geography", "Gender", "Age", "Balance", "NumOfProducts", "IsActiveMember",
	"ia_x_card", "geo_x_gender", "agebin_x_salbin", "cardtype_x_ia",
	"Germany_Flag",
}

// CheckColumns is the single validation gate for customer sources.
func CheckColumns(t *dataset.Table) error {
	var missing []string
	for _, c := range RequiredColumns {
		if !t.Has(c) {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return &MissingColumnError{Columns: missing}
	}
	return nil
}

// ParseTable validates the column contract and converts every row. Customer
// ids must be unique positive integers; an empty balance reads as 0.
func ParseTable(t *dataset.Table) ([]CustomerRecord, error) {
	if err := CheckColumns(t); err != nil {
		return nil, err
	}
	out := make([]CustomerRecord, 0, t.Len())
	seen := make(map[int64]int, t.Len())
	for i := 0; i < t.Len(); i++ {
		p := rowParser{t: t, row: i}
		rec := CustomerRecord{
			CustomerID:      p.id(ColCustomerID),
			Surname:         t.Value(i, ColSurname),
			CreditScore:     p.integer(ColCreditScore, false),
			Geography:       t.Value(i, ColGeography),
			Gender:          t.Value(i, ColGender),
			Age:             p.integer(ColAge, false),
			Tenure:          p.integer(ColTenure, false),
			Balance:         p.number(ColBalance, true),
			NumOfProducts:   p.integer(ColNumOfProducts, false),
			HasCard:         p.integer(ColHasCrCard, false) == 1,
			IsActive:        p.integer(ColIsActiveMember, false) == 1,
			EstimatedSalary: p.number(ColEstimatedSalary, false),
			Exited:          p.integer(ColExited, false),
			Satisfaction:    p.integer(ColSatisfaction, false),
			CardType:        t.Value(i, ColCardType),
		}
		if t.Has(ColComplain) {
			rec.Complain = p.integer(ColComplain, true) == 1
		}
		if t.Has(ColPointEarned) {
			rec.PointEarned = p.integer(ColPointEarned, true)
		}
		if p.err != nil {
			return nil, p.err
		}
		if rec.CustomerID <= 0 {
			return nil, &ParseError{Row: i + 1, Column: ColCustomerID, Value: t.Value(i, ColCustomerID), Err: errors.New("customer id must be positive")}
		}
		if rec.Exited != 0 && rec.Exited != 1 {
			return nil, &ParseError{Row: i + 1, Column: ColExited, Value: t.Value(i, ColExited), Err: errors.New("label must be 0 or 1")}
		}
		if prev, dup := seen[rec.CustomerID]; dup {
			return nil, fmt.Errorf("customer id %d appears on rows %d and %d", rec.CustomerID, prev, i+1)
		}
		seen[rec.CustomerID] = i + 1
		out = append(out, rec)
	}
	return out, nil
}

type rowParser struct {
	t   *dataset.Table
	row int
	err error
}

func (p *rowParser) raw(col string, allowEmpty bool) (string, bool) {
	if p.err != nil {
		return "", false
	}
	v := p.t.Value(p.row, col)
	if v == "" || strings.EqualFold(v, "nan") || strings.EqualFold(v, "null") {
		if !allowEmpty {
			p.err = &ParseError{Row: p.row + 1, Column: col, Value: v, Err: errors.New("value is required")}
		}
		return "", false
	}
	return v, true
}

func (p *rowParser) number(col string, allowEmpty bool) float64 {
	v, ok := p.raw(col, allowEmpty)
	if !ok {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		if err == nil {
			err = errors.New("not a finite number")
		}
		p.err = &ParseError{Row: p.row + 1, Column: col, Value: v, Err: err}
		return 0
	}
	return f
}

func (p *rowParser) integer(col string, allowEmpty bool) int {
	return int(p.whole(col, allowEmpty))
}

func (p *rowParser) id(col string) int64 {
	return p.whole(col, false)
}

// whole accepts "3" and "3.0", which is how numeric exports often render integers.
func (p *rowParser) whole(col string, allowEmpty bool) int64 {
	v, ok := p.raw(col, allowEmpty)
	if !ok {
		return 0
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return n
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f != math.Trunc(f) {
		if err == nil {
			err = errors.New("not an integer")
		}
		p.err = &ParseError{Row: p.row + 1, Column: col, Value: v, Err: err}
		return 0
	}
	return int64(f)
}

// Enrich derives every model input. Batch-relative inputs (median balance,
// age and salary quintiles) are recomputed from records on each call, so the
// same customer can land in a different bin when the population changes.
func Enrich(records []CustomerRecord) []EnrichedRecord {
	balances := make([]float64, len(records))
	ages := make([]float64, len(records))
	salaries := make([]float64, len(records))
	for i, r := range records {
		balances[i] = r.Balance
		ages[i] = float64(r.Age)
		salaries[i] = r.EstimatedSalary
	}
	medianBalance := stats.Median(balances)
	ageBins := stats.QuantileBins(ages, QuantileBins)
	salaryBins := stats.QuantileBins(salaries, QuantileBins)

	out := make([]EnrichedRecord, len(records))
	for i, r := range records {
		germany := r.Geography == FlaggedRegion
		out[i] = EnrichedRecord{
			CustomerRecord:      r,
			AgeGroup:            AgeGroupOf(r.Age),
			SeniorFlag:          r.Age >= SeniorAge,
			GermanyFlag:         germany,
			GermanyHighBalance:  germany && r.Balance > medianBalance,
			BalancePerProduct:   BalancePerProduct(r.Balance, r.NumOfProducts),
			LowActiveLowProduct: !r.IsActive && r.NumOfProducts == 1,
			SatisfactionLevel:   SatisfactionLevelOf(r.Satisfaction),
			ActivityCard:        ActivityCard{IsActive: r.IsActive, HasCard: r.HasCard},
			GeoGender:           GeoGender{Geography: r.Geography, Gender: r.Gender},
			AgeSalary:           AgeSalaryBin{AgeBin: ageBins[i], SalaryBin: salaryBins[i]},
			CardTypeActivity:    CardTypeActivity{CardType: r.CardType, IsActive: r.IsActive},
		}
	}
	return out
}

// Engineer runs the validation gate, parsing and enrichment in one step.
func Engineer(t *dataset.Table) ([]EnrichedRecord, error) {
	records, err := ParseTable(t)
	if err != nil {
		return nil, err
	}
	return Enrich(records), nil
}

// AgeGroupOf bands age into [18,30], (30,40], (40,50], (50,100].
func AgeGroupOf(age int) AgeGroup {
	switch {
	case age < 18 || age > 100:
		return AgeGroupUnknown
	case age <= 30:
		return AgeGroup18To30
	case age <= 40:
		return AgeGroup31To40
	case age <= 50:
		return AgeGroup41To50
	default:
		return AgeGroup51Plus
	}
}

// SatisfactionLevelOf bands a 0-5 score into [0,2], (2,4], (4,5].
func SatisfactionLevelOf(score int) SatisfactionLevel {
	switch {
	case score < 0 || score > 5:
		return SatisfactionUnknown
	case score <= 2:
		return SatisfactionLow
	case score <= 4:
		return SatisfactionMedium
	default:
		return SatisfactionHigh
	}
}

// BalancePerProduct is 0 when the customer holds no products.
func BalancePerProduct(balance float64, products int) float64 {
	if products == 0 {
		return 0
	}
	return balance / float64(products)
}

// BuildFrame lays enriched records out in FeatureColumns order.
func BuildFrame(records []EnrichedRecord) (*ml.Frame, error) {
	n := len(records)
	geo := make([]string, n)
	gender := make([]string, n)
	age := make([]float64, n)
	balance := make([]float64, n)
	products := make([]float64, n)
	active := make([]float64, n)
	iaCard := make([]string, n)
	geoGender := make([]string, n)
	ageSal := make([]string, n)
	cardIA := make([]string, n)
	germany := make([]float64, n)
	for i, r := range records {
		geo[i] = r.Geography
		gender[i] = r.Gender
		age[i] = float64(r.Age)
		balance[i] = r.Balance
		products[i] = float64(r.NumOfProducts)
		active[i] = boolFloat(r.IsActive)
		iaCard[i] = r.ActivityCard.Key()
		geoGender[i] = r.GeoGender.Key()
		ageSal[i] = r.AgeSalary.Key()
		cardIA[i] = r.CardTypeActivity.Key()
		germany[i] = boolFloat(r.GermanyFlag)
	}
	return ml.NewFrame([]ml.Column{
		{Name: "Geography", Categorical: true, Cat: geo},
		{Name: "Gender", Categorical: true, Cat: gender},
		{Name: "Age", Num: age},
		{Name: "Balance", Num: balance},
		{Name: "NumOfProducts", Num: products},
		{Name: "IsActiveMember", Num: active},
		{Name: ActivityCard{}.Name(), Categorical: true, Cat: iaCard},
		{Name: GeoGender{}.Name(), Categorical: true, Cat: geoGender},
		{Name: AgeSalaryBin{}.Name(), Categorical: true, Cat: ageSal},
		{Name: CardTypeActivity{}.Name(), Categorical: true, Cat: cardIA},
		{Name: "Germany_Flag", Num: germany},
	})
}

// Labels extracts the churn label of every record.
func Labels(records []EnrichedRecord) []int {
	y := make([]int, len(records))
	for i, r := range records {
		y[i] = r.Exited
	}
	return y
}

// CustomerIDs extracts ids in record order.
func CustomerIDs(records []EnrichedRecord) []int64 {
	ids := make([]int64, len(records))
	for i, r := range records {
		ids[i] = r.CustomerID
	}
	return ids
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
