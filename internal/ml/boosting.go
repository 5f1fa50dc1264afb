package ml

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
)

// Params configures the gradient-boosted tree classifier. Both training
// variants share one Params so their comparison is fair.
type Params struct {
	Iterations   int
	LearningRate float64
	Depth        int
	L2LeafReg    float64
	// EarlyStopping is the patience, in iterations, without an eval AUC
	// improvement before training stops. Zero disables it.
	EarlyStopping int
	BorderCount   int
	// BalancedWeights weights each class by max_count/count.
	BalancedWeights bool
	Seed            int64
}

func DefaultParams() Params {
	return Params{
		Iterations:    800,
		LearningRate:  0.05,
		Depth:         6,
		L2LeafReg:     3.0,
		EarlyStopping: 100,
		BorderCount:   32,
		Seed:          42,
	}
}

func (p Params) validate() error {
	switch {
	case p.Iterations <= 0:
		return errors.New("iterations must be positive")
	case p.LearningRate <= 0:
		return errors.New("learning rate must be positive")
	case p.Depth <= 0 || p.Depth > 16:
		return fmt.Errorf("depth %d out of range 1..16", p.Depth)
	case p.L2LeafReg < 0:
		return errors.New("l2 leaf regularization must be non-negative")
	case p.BorderCount <= 0:
		return errors.New("border count must be positive")
	}
	return nil
}

// Tree is an oblivious decision tree: every node on a level tests the same
// feature against the same border, so a row's leaf is a bit pattern.
type Tree struct {
	Features  []int
	Borders   []float64
	SplitGain []float64
	Leaves    []float64
}

func (t Tree) leaf(x []float64) int {
	idx := 0
	for level, f := range t.Features {
		if x[f] > t.Borders[level] {
			idx |= 1 << level
		}
	}
	return idx
}

// Booster is a fitted logloss classifier over oblivious trees. Categorical
// columns are encoded as smoothed target rates before any split.
type Booster struct {
	Features     []string
	Categorical  []bool
	CTR          map[int]CTRTable
	Trees        []Tree
	ClassWeights [2]float64
	// BestIteration is the last kept tree when early stopping ran, else -1.
	BestIteration int
	BestEvalAUC   float64
}

// Fit trains on train/y. When eval is non-nil, eval AUC is tracked after every
// tree, training stops after Params.EarlyStopping trees without improvement,
// and the model is cut back to its best iteration.
func Fit(train *Frame, y []int, eval *Frame, evalY []int, p Params) (*Booster, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	if train == nil || train.Rows() == 0 {
		return nil, ErrEmptyFrame
	}
	if len(y) != train.Rows() {
		return nil, fmt.Errorf("labels: got %d, frame has %d rows", len(y), train.Rows())
	}
	if eval != nil {
		if err := CheckLayout(train.Names, train.Categorical, eval); err != nil {
			return nil, fmt.Errorf("eval frame: %w", err)
		}
		if len(evalY) != eval.Rows() {
			return nil, fmt.Errorf("eval labels: got %d, frame has %d rows", len(evalY), eval.Rows())
		}
	}

	n, cols := train.Rows(), train.Cols()
	rng := rand.New(rand.NewSource(p.Seed))

	var count [2]float64
	for _, v := range y {
		if v != 0 && v != 1 {
			return nil, fmt.Errorf("label %d is not binary", v)
		}
		count[v]++
	}
	b := &Booster{
		Features:      append([]string(nil), train.Names...),
		Categorical:   append([]bool(nil), train.Categorical...),
		CTR:           make(map[int]CTRTable),
		ClassWeights:  classWeights(count, p.BalancedWeights),
		BestIteration: -1,
	}

	// column-major numeric view of the training data
	x := make([][]float64, cols)
	prior := count[1] / float64(n)
	perm := rng.Perm(n)
	for j := 0; j < cols; j++ {
		if !train.Categorical[j] {
			x[j] = make([]float64, n)
			for i := 0; i < n; i++ {
				x[j][i] = train.At(i, j)
			}
			continue
		}
		cats := make([]string, n)
		for i := range cats {
			cats[i] = train.Category(i, j)
		}
		b.CTR[j], x[j] = orderedCTR(cats, y, perm, prior)
	}

	bords := make([][]float64, cols)
	bins := make([][]int, cols)
	for j := 0; j < cols; j++ {
		bords[j] = borders(x[j], p.BorderCount)
		bins[j] = make([]int, n)
		for i, v := range x[j] {
			bins[j][i] = binIndex(bords[j], v)
		}
	}

	w := make([]float64, n)
	for i, v := range y {
		w[i] = b.ClassWeights[v]
	}

	var evalRows [][]float64
	var evalRaw []float64
	if eval != nil {
		evalRows = make([][]float64, eval.Rows())
		for i := range evalRows {
			evalRows[i] = b.transformRow(eval, i)
		}
		evalRaw = make([]float64, eval.Rows())
	}

	raw := make([]float64, n)
	grad := make([]float64, n)
	hess := make([]float64, n)
	leafOf := make([]int, n)
	bestAUC := math.Inf(-1)
	best := -1

	for it := 0; it < p.Iterations; it++ {
		for i := range raw {
			pr := sigmoid(raw[i])
			grad[i] = w[i] * (pr - float64(y[i]))
			hess[i] = w[i] * pr * (1 - pr)
		}

		tree := growTree(bins, bords, grad, hess, leafOf, p)
		for i := range raw {
			raw[i] += tree.Leaves[leafOf[i]]
		}
		b.Trees = append(b.Trees, tree)

		if eval == nil {
			continue
		}
		for i, row := range evalRows {
			evalRaw[i] += tree.Leaves[tree.leaf(row)]
		}
		auc := ROCAUC(evalY, evalRaw)
		if auc > bestAUC {
			bestAUC, best = auc, it
		} else if p.EarlyStopping > 0 && it-best >= p.EarlyStopping {
			break
		}
	}

	if eval != nil && best >= 0 {
		b.Trees = b.Trees[:best+1]
		b.BestIteration = best
		b.BestEvalAUC = bestAUC
	}
	return b, nil
}

func classWeights(count [2]float64, balanced bool) [2]float64 {
	w := [2]float64{1, 1}
	if !balanced {
		return w
	}
	most := math.Max(count[0], count[1])
	for c := range w {
		if count[c] > 0 {
			w[c] = most / count[c]
		}
	}
	return w
}

// growTree picks one (feature, border) per level maximising the summed Newton
// gain over all current leaves, then sets leaf values to -G/(H+l2) scaled by
// the learning rate. leafOf receives each training row's leaf.
func growTree(bins [][]int, bords [][]float64, grad, hess []float64, leafOf []int, p Params) Tree {
	for i := range leafOf {
		leafOf[i] = 0
	}
	var t Tree
	lambda := p.L2LeafReg

	for level := 0; level < p.Depth; level++ {
		leaves := 1 << level
		bestGain := math.Inf(-1)
		bestFeature, bestBorder := -1, -1

		parent := make([]float64, 2*leaves)
		for i := range grad {
			parent[2*leafOf[i]] += grad[i]
			parent[2*leafOf[i]+1] += hess[i]
		}
		parentScore := 0.0
		for l := 0; l < leaves; l++ {
			parentScore += newtonScore(parent[2*l], parent[2*l+1], lambda)
		}

		for j, bs := range bords {
			nb := len(bs) + 1
			if nb < 2 {
				continue
			}
			histG := make([]float64, leaves*nb)
			histH := make([]float64, leaves*nb)
			for i, bin := range bins[j] {
				k := leafOf[i]*nb + bin
				histG[k] += grad[i]
				histH[k] += hess[i]
			}
			// running left sums per leaf as the border moves right
			leftG := make([]float64, leaves)
			leftH := make([]float64, leaves)
			for border := 0; border < nb-1; border++ {
				score := 0.0
				for l := 0; l < leaves; l++ {
					leftG[l] += histG[l*nb+border]
					leftH[l] += histH[l*nb+border]
					rg, rh := parent[2*l]-leftG[l], parent[2*l+1]-leftH[l]
					score += newtonScore(leftG[l], leftH[l], lambda) + newtonScore(rg, rh, lambda)
				}
				if gain := score - parentScore; gain > bestGain {
					bestGain, bestFeature, bestBorder = gain, j, border
				}
			}
		}
		if bestFeature < 0 {
			break
		}

		t.Features = append(t.Features, bestFeature)
		t.Borders = append(t.Borders, bords[bestFeature][bestBorder])
		t.SplitGain = append(t.SplitGain, math.Max(bestGain, 0))
		for i, bin := range bins[bestFeature] {
			if bin > bestBorder {
				leafOf[i] |= 1 << level
			}
		}
	}

	leaves := 1 << len(t.Features)
	g := make([]float64, leaves)
	h := make([]float64, leaves)
	for i := range grad {
		g[leafOf[i]] += grad[i]
		h[leafOf[i]] += hess[i]
	}
	t.Leaves = make([]float64, leaves)
	for l := range t.Leaves {
		if h[l]+lambda > 0 {
			t.Leaves[l] = -g[l] / (h[l] + lambda) * p.LearningRate
		}
	}
	return t
}

func newtonScore(g, h, lambda float64) float64 {
	if h+lambda <= 0 {
		return 0
	}
	return g * g / (h + lambda)
}

func sigmoid(v float64) float64 {
	return 1 / (1 + math.Exp(-v))
}

// transformRow maps row i of f into the numeric space the trees split on.
func (b *Booster) transformRow(f *Frame, i int) []float64 {
	row := make([]float64, len(b.Features))
	for j := range row {
		if table, ok := b.CTR[j]; ok {
			row[j] = table.Value(f.Category(i, j))
			continue
		}
		row[j] = f.At(i, j)
	}
	return row
}

// Predict returns P(class 1) per row. The frame must match the training layout.
func (b *Booster) Predict(f *Frame) ([]float64, error) {
	if err := CheckLayout(b.Features, b.Categorical, f); err != nil {
		return nil, err
	}
	out := make([]float64, f.Rows())
	for i := range out {
		row := b.transformRow(f, i)
		raw := 0.0
		for _, t := range b.Trees {
			raw += t.Leaves[t.leaf(row)]
		}
		out[i] = sigmoid(raw)
	}
	return out, nil
}

// FeatureImportance is each feature's share of total split gain, in percent.
func (b *Booster) FeatureImportance() map[string]float64 {
	gain := make([]float64, len(b.Features))
	total := 0.0
	for _, t := range b.Trees {
		for level, f := range t.Features {
			gain[f] += t.SplitGain[level]
			total += t.SplitGain[level]
		}
	}
	out := make(map[string]float64, len(b.Features))
	for j, name := range b.Features {
		if total > 0 {
			out[name] = 100 * gain[j] / total
		} else {
			out[name] = 0
		}
	}
	return out
}
