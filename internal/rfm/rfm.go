// Package rfm scores customers on recency, frequency and monetary proxies and
// assigns each a value segment.
package rfm

import (
	"sort"
	"strconv"
	"time"

	"churn-insight/internal/features"
	"churn-insight/internal/models"
	"churn-insight/internal/stats"
)

type Segment string

const (
	SegmentVIP    Segment = "VIP"
	SegmentLoyal  Segment = "LOYAL"
	SegmentAtRisk Segment = "AT_RISK"
	SegmentLow    Segment = "LOW"
)

// Segments in rule priority order.
var Segments = []Segment{SegmentVIP, SegmentLoyal, SegmentAtRisk, SegmentLow}

const (
	Buckets = 5
	// HorizonDays is the recency of a brand new customer.
	HorizonDays = 3650
	daysPerYear = 365
)

type Result struct {
	CustomerID  int64
	RecencyDays int
	Frequency   int
	Monetary    float64
	R           int
	F           int
	M           int
	Code        string
	Segment     Segment
	BuiltAt     time.Time
}

// RecencyDays maps tenure in years onto a recency proxy: longer tenure means
// lower recency, never below zero.
func RecencyDays(tenure int) int {
	d := HorizonDays - tenure*daysPerYear
	if d < 0 {
		return 0
	}
	return d
}

// Classify applies the segment rules in priority order; the first match wins.
func Classify(r, f, m int) Segment {
	switch {
	case r >= 4 && f >= 4 && m >= 4:
		return SegmentVIP
	case r >= 4 && f >= 4:
		return SegmentLoyal
	case r <= 2 && m >= 4:
		return SegmentAtRisk
	default:
		return SegmentLow
	}
}

// Code renders the three scores as a 3-character string such as "541".
func Code(r, f, m int) string {
	return strconv.Itoa(r) + strconv.Itoa(f) + strconv.Itoa(m)
}

// Compute scores every customer against the rest of the batch. Each proxy is
// cut into five equal-population buckets (ties ordered by customer id); lower
// recency earns a higher r score. Results come back in input order.
func Compute(customers []features.CustomerRecord, builtAt time.Time) []Result {
	n := len(customers)
	if n == 0 {
		return nil
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return customers[order[a]].CustomerID < customers[order[b]].CustomerID
	})

	recency := make([]float64, n)
	frequency := make([]float64, n)
	monetary := make([]float64, n)
	for k, i := range order {
		c := customers[i]
		recency[k] = float64(RecencyDays(c.Tenure))
		frequency[k] = float64(c.NumOfProducts)
		monetary[k] = c.Balance
	}
	rb := stats.NTile(recency, Buckets, false)
	fb := stats.NTile(frequency, Buckets, false)
	mb := stats.NTile(monetary, Buckets, false)

	out := make([]Result, n)
	for k, i := range order {
		c := customers[i]
		r, f, m := Buckets+1-rb[k], fb[k], mb[k]
		out[i] = Result{
			CustomerID:  c.CustomerID,
			RecencyDays: RecencyDays(c.Tenure),
			Frequency:   c.NumOfProducts,
			Monetary:    c.Balance,
			R:           r,
			F:           f,
			M:           m,
			Code:        Code(r, f, m),
			Segment:     Classify(r, f, m),
			BuiltAt:     builtAt,
		}
	}
	return out
}

// Counts tallies results per segment. Every segment is present in the map.
func Counts(results []Result) map[Segment]int {
	counts := make(map[Segment]int, len(Segments))
	for _, s := range Segments {
		counts[s] = 0
	}
	for _, r := range results {
		counts[r.Segment]++
	}
	return counts
}

// Rows converts results into rfm_result_once rows.
func Rows(results []Result) []models.RFMResult {
	out := make([]models.RFMResult, len(results))
	for i, r := range results {
		out[i] = models.RFMResult{
			CustomerID:  r.CustomerID,
			RecencyDays: r.RecencyDays,
			Frequency:   r.Frequency,
			Monetary:    r.Monetary,
			RScore:      r.R,
			FScore:      r.F,
			MScore:      r.M,
			RFMCode:     r.Code,
			Segment:     string(r.Segment),
			BuiltAt:     r.BuiltAt,
		}
	}
	return out
}
