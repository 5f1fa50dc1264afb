package stats

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// NTile assigns each value to one of n equal-population buckets numbered 1..n,
// the same way SQL NTILE(n) OVER (ORDER BY value) does: values are ranked
// (ties keep their input order), and the first len%n buckets receive one extra
// member. With descending=true the largest value lands in bucket 1.
func NTile(values []float64, n int, descending bool) []int {
	out := make([]int, len(values))
	if len(values) == 0 || n <= 0 {
		return out
	}
	order := make([]int, len(values))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		va, vb := values[order[a]], values[order[b]]
		if descending {
			return va > vb
		}
		return va < vb
	})

	size := len(values) / n
	extra := len(values) % n
	pos := 0
	for bucket := 1; bucket <= n; bucket++ {
		width := size
		if bucket <= extra {
			width++
		}
		for k := 0; k < width; k++ {
			out[order[pos]] = bucket
			pos++
		}
	}
	return out
}

// QuantileEdges returns up to q+1 strictly increasing bin edges that split
// values into q equal-frequency intervals. Duplicate edges collapse, so heavily
// tied data yields fewer bins.
func QuantileEdges(values []float64, q int) []float64 {
	if len(values) == 0 || q <= 0 {
		return nil
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	edges := []float64{sorted[0]}
	for i := 1; i < q; i++ {
		e := stat.Quantile(float64(i)/float64(q), stat.Empirical, sorted, nil)
		if e > edges[len(edges)-1] {
			edges = append(edges, e)
		}
	}
	if last := sorted[len(sorted)-1]; last > edges[len(edges)-1] {
		edges = append(edges, last)
	}
	return edges
}

// QuantileBins labels every value with its equal-frequency bin index (0-based)
// computed over this batch only. Intervals are right-closed with the lowest
// edge included. Edges are recomputed on every call, so a value's bin can move
// when the population changes.
func QuantileBins(values []float64, q int) []int {
	out := make([]int, len(values))
	edges := QuantileEdges(values, q)
	if len(edges) < 2 {
		return out
	}
	inner := edges[1 : len(edges)-1]
	for i, v := range values {
		// number of inner edges strictly below v
		out[i] = sort.SearchFloat64s(inner, v)
	}
	return out
}

// Median is the midpoint of the sorted values, averaging the two middle
// elements for an even count. An empty slice has median 0.
func Median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return stat.Mean(sorted[mid-1:mid+1], nil)
}
