package ml

// ctrPriorWeight is how many pseudo-observations the prior is worth.
const ctrPriorWeight = 1.0

// CTRTable turns a category into the smoothed churn rate observed for it.
type CTRTable struct {
	Prior     float64
	Positives map[string]float64
	Counts    map[string]float64
}

// Value is the smoothed rate for cat. Unseen categories get the prior.
func (c CTRTable) Value(cat string) float64 {
	return (c.Positives[cat] + c.Prior*ctrPriorWeight) / (c.Counts[cat] + ctrPriorWeight)
}

// orderedCTR encodes a training column with ordered target statistics: each
// row only sees the labels of rows before it in perm, so its own label never
// leaks into its encoding. The returned table holds the full-column counts
// used at prediction time.
func orderedCTR(cats []string, y []int, perm []int, prior float64) (CTRTable, []float64) {
	table := CTRTable{
		Prior:     prior,
		Positives: make(map[string]float64),
		Counts:    make(map[string]float64),
	}
	encoded := make([]float64, len(cats))
	for _, i := range perm {
		c := cats[i]
		encoded[i] = table.Value(c)
		table.Positives[c] += float64(y[i])
		table.Counts[c]++
	}
	return table, encoded
}
