package ml

import (
	"sort"

	"churn-insight/internal/stats"
)

// borders picks at most maxBorders split points for a column. Low-cardinality
// columns split between every pair of neighbouring values; others split on
// equal-frequency edges. A row goes right of border b when its value is > b.
func borders(values []float64, maxBorders int) []float64 {
	uniq := append([]float64(nil), values...)
	sort.Float64s(uniq)
	k := 0
	for i, v := range uniq {
		if i == 0 || v != uniq[k-1] {
			uniq[k] = v
			k++
		}
	}
	uniq = uniq[:k]
	if len(uniq) < 2 {
		return nil
	}
	if len(uniq)-1 <= maxBorders {
		out := make([]float64, len(uniq)-1)
		for i := range out {
			out[i] = (uniq[i] + uniq[i+1]) / 2
		}
		return out
	}
	edges := stats.QuantileEdges(values, maxBorders)
	// the top edge is the maximum, which nothing exceeds
	return edges[:len(edges)-1]
}

// binIndex counts the borders strictly below v, so bin > b exactly when v > borders[b].
func binIndex(borders []float64, v float64) int {
	return sort.SearchFloat64s(borders, v)
}
