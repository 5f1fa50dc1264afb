// Package recommend picks retention and upsell products for a customer or a
// whole segment.
package recommend

import (
	"fmt"
	"strings"

	"churn-insight/internal/models"
)

type Product struct {
	Code string   `json:"code"`
	Name string   `json:"name"`
	Tags []string `json:"tags"`
}

// Catalog is the full product list, in display order.
var Catalog = []Product{
	{Code: "CHK_FREE", Name: "Fee-free checking account", Tags: []string{"deposits", "fee waiver"}},
	{Code: "SAV_PLUS", Name: "Savings Plus (auto-save)", Tags: []string{"saving", "auto transfer", "small savings"}},
	{Code: "SAV_HIGH", Name: "High-yield term deposit (12/36 months)", Tags: []string{"deposit", "preferred rate"}},
	{Code: "CRD_CASH", Name: "Cashback credit card", Tags: []string{"rewards", "living costs"}},
	{Code: "CRD_TRAVEL", Name: "Travel rewards card", Tags: []string{"miles", "travel"}},
	{Code: "LOAN_DC", Name: "Debt consolidation loan", Tags: []string{"interest savings", "refinancing"}},
	{Code: "LOAN_PL", Name: "Personal loan (mid rate)", Tags: []string{"loan", "liquidity"}},
	{Code: "WEALTH_ETF", Name: "Wealth Starter (ETF plan)", Tags: []string{"investing", "beginner"}},
	{Code: "INS_SAFE", Name: "SafeCare (debit card insurance bundle)", Tags: []string{"cover", "bundle"}},
}

var catalogIndex = func() map[string]Product {
	m := make(map[string]Product, len(Catalog))
	for _, p := range Catalog {
		m[p.Code] = p
	}
	return m
}()

func Lookup(code string) (Product, bool) {
	p, ok := catalogIndex[code]
	return p, ok
}

func catalogText() string {
	var b strings.Builder
	for _, p := range Catalog {
		fmt.Fprintf(&b, "- %s: %s (tags: %s)\n", p.Code, p.Name, strings.Join(p.Tags, ", "))
	}
	return b.String()
}

func verbose(codes []string) string {
	parts := make([]string, len(codes))
	for i, c := range codes {
		parts[i] = fmt.Sprintf("%s (%s)", c, catalogIndex[c].Name)
	}
	return strings.Join(parts, ", ")
}

var segmentBundles = map[string][]string{
	"VIP":     {"WEALTH_ETF", "SAV_HIGH", "CRD_TRAVEL"},
	"LOYAL":   {"SAV_HIGH", "CRD_CASH", "WEALTH_ETF"},
	"AT_RISK": {"CHK_FREE", "SAV_PLUS", "CRD_CASH"},
	"LOW":     {"SAV_PLUS", "CRD_CASH", "CHK_FREE"},
}

var defaultBundle = []string{"SAV_PLUS", "CRD_CASH", "CHK_FREE"}

// BundleFor returns the fixed product bundle of a segment code. Unknown
// segments get the default bundle.
func BundleFor(segment string) []string {
	if b, ok := segmentBundles[strings.ToUpper(segment)]; ok {
		return append([]string(nil), b...)
	}
	return append([]string(nil), defaultBundle...)
}

type RiskLevel string

const (
	RiskHigh   RiskLevel = "HIGH"
	RiskMedium RiskLevel = "MEDIUM"
	RiskLow    RiskLevel = "LOW"
)

const (
	creditLow   = 550
	creditMid   = 700
	ageYoung    = 30
	ageAdult    = 45
	ageMature   = 60
	balanceHigh = 100000
	incomeHigh  = 90000
	maxProducts = 3
)

// Thresholds are the churn probability cutoffs of the risk levels.
type Thresholds struct {
	High   float64
	Medium float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{High: 0.60, Medium: 0.35}
}

func (t Thresholds) Risk(churn float64) RiskLevel {
	switch {
	case churn >= t.High:
		return RiskHigh
	case churn >= t.Medium:
		return RiskMedium
	default:
		return RiskLow
	}
}

// Profile is what the rules look at for one customer.
type Profile struct {
	CustomerID       int64   `json:"customer_id"`
	Geography        string  `json:"geography"`
	Gender           string  `json:"gender"`
	Age              int     `json:"age"`
	Tenure           int     `json:"tenure"`
	Balance          float64 `json:"balance"`
	NumOfProducts    int     `json:"num_of_products"`
	HasCrCard        bool    `json:"has_cr_card"`
	IsActiveMember   bool    `json:"is_active_member"`
	EstimatedSalary  float64 `json:"estimated_salary"`
	CreditScore      int     `json:"credit_score"`
	ChurnProbability float64 `json:"churn_probability"`
}

// ProfileOf joins a stored customer with its churn probability. An unscored
// customer counts as zero risk.
func ProfileOf(c models.Customer, churn *float64) Profile {
	p := Profile{
		CustomerID:      c.CustomerID,
		Geography:       c.Geography,
		Gender:          c.Gender,
		Age:             c.Age,
		Tenure:          c.Tenure,
		Balance:         c.Balance,
		NumOfProducts:   c.NumOfProducts,
		HasCrCard:       c.HasCrCard,
		IsActiveMember:  c.IsActiveMember,
		EstimatedSalary: c.EstimatedSalary,
		CreditScore:     c.CreditScore,
	}
	if churn != nil {
		p.ChurnProbability = *churn
	}
	return p
}

type Flags struct {
	Risk        RiskLevel `json:"risk"`
	CreditBand  string    `json:"credit_band"`
	AgeBand     string    `json:"age_band"`
	HighBalance bool      `json:"high_balance"`
	HighIncome  bool      `json:"high_income"`
	Inactive    bool      `json:"inactive"`
	HasCard     bool      `json:"has_card"`
	FewProducts bool      `json:"few_products"`
}

func (t Thresholds) Flags(p Profile) Flags {
	f := Flags{
		Risk:        t.Risk(p.ChurnProbability),
		CreditBand:  "high",
		AgeBand:     "senior",
		HighBalance: p.Balance >= balanceHigh,
		HighIncome:  p.EstimatedSalary >= incomeHigh,
		Inactive:    !p.IsActiveMember,
		HasCard:     p.HasCrCard,
		FewProducts: p.NumOfProducts <= 1,
	}
	switch {
	case p.CreditScore < creditLow:
		f.CreditBand = "low"
	case p.CreditScore < creditMid:
		f.CreditBand = "mid"
	}
	switch {
	case p.Age < ageYoung:
		f.AgeBand = "youth"
	case p.Age < ageAdult:
		f.AgeBand = "adult"
	case p.Age < ageMature:
		f.AgeBand = "mature"
	}
	return f
}

// SelectProducts applies the product rules for the profile's risk level and
// returns at most three distinct codes in priority order.
func (t Thresholds) SelectProducts(p Profile) []string {
	f := t.Flags(p)
	out := make([]string, 0, maxProducts)
	add := func(code string) {
		if len(out) >= maxProducts {
			return
		}
		if _, ok := catalogIndex[code]; !ok {
			return
		}
		for _, c := range out {
			if c == code {
				return
			}
		}
		out = append(out, code)
	}

	switch f.Risk {
	case RiskHigh:
		add("CHK_FREE")
		if f.FewProducts || f.Inactive {
			add("SAV_PLUS")
		}
		if f.CreditBand != "low" {
			add("CRD_CASH")
		}
		if f.CreditBand == "mid" {
			add("LOAN_PL")
		}
		if f.HasCard {
			add("INS_SAFE")
		}
	case RiskMedium:
		if f.Inactive {
			add("CHK_FREE")
		}
		if f.FewProducts {
			add("SAV_PLUS")
		}
		if f.HighBalance || f.HighIncome {
			add("SAV_HIGH")
		}
		if f.CreditBand != "low" {
			add("CRD_CASH")
		}
	default:
		if f.HighBalance {
			add("SAV_HIGH")
		}
		add("WEALTH_ETF")
		if f.CreditBand != "low" {
			if f.AgeBand == "adult" || f.AgeBand == "mature" {
				add("CRD_TRAVEL")
			} else {
				add("CRD_CASH")
			}
		}
		if f.FewProducts {
			add("SAV_PLUS")
		}
	}
	return out
}
