package ml

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"
)

// Scores are the classification metrics reported per fold.
type Scores struct {
	Accuracy  float64 `json:"accuracy"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	ROCAUC    float64 `json:"roc_auc"`
}

// Threshold turns probabilities into hard labels: p >= th is positive.
func Threshold(proba []float64, th float64) []int {
	out := make([]int, len(proba))
	for i, p := range proba {
		if p >= th {
			out[i] = 1
		}
	}
	return out
}

// Evaluate scores hard labels at th and the raw probabilities for AUC.
func Evaluate(y []int, proba []float64, th float64) Scores {
	pred := Threshold(proba, th)
	return Scores{
		Accuracy:  Accuracy(y, pred),
		Precision: Precision(y, pred),
		Recall:    Recall(y, pred),
		F1:        F1(y, pred),
		ROCAUC:    ROCAUC(y, proba),
	}
}

func confusion(y, pred []int) (tp, fp, tn, fn float64) {
	for i := range y {
		switch {
		case y[i] == 1 && pred[i] == 1:
			tp++
		case y[i] == 0 && pred[i] == 1:
			fp++
		case y[i] == 0:
			tn++
		default:
			fn++
		}
	}
	return
}

func Accuracy(y, pred []int) float64 {
	if len(y) == 0 {
		return 0
	}
	tp, _, tn, _ := confusion(y, pred)
	return (tp + tn) / float64(len(y))
}

// Precision is 0 when nothing is predicted positive.
func Precision(y, pred []int) float64 {
	tp, fp, _, _ := confusion(y, pred)
	if tp+fp == 0 {
		return 0
	}
	return tp / (tp + fp)
}

// Recall is 0 when there are no positives.
func Recall(y, pred []int) float64 {
	tp, _, _, fn := confusion(y, pred)
	if tp+fn == 0 {
		return 0
	}
	return tp / (tp + fn)
}

func F1(y, pred []int) float64 {
	p, r := Precision(y, pred), Recall(y, pred)
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

// ROCAUC is the area under the ROC curve of score against y. It is NaN when y
// holds a single class.
func ROCAUC(y []int, score []float64) float64 {
	if len(y) == 0 {
		return math.NaN()
	}
	idx := make([]int, len(score))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return score[idx[a]] < score[idx[b]] })

	sorted := make([]float64, len(idx))
	classes := make([]bool, len(idx))
	pos := 0
	for k, i := range idx {
		sorted[k] = score[i]
		classes[k] = y[i] == 1
		if classes[k] {
			pos++
		}
	}
	if pos == 0 || pos == len(y) {
		return math.NaN()
	}
	tpr, fpr, _ := stat.ROC(nil, sorted, classes, nil)
	if fpr[0] > fpr[len(fpr)-1] {
		floats.Reverse(fpr)
		floats.Reverse(tpr)
	}
	// pin the curve to (0,0) and (1,1)
	if fpr[0] != 0 || tpr[0] != 0 {
		fpr = append([]float64{0}, fpr...)
		tpr = append([]float64{0}, tpr...)
	}
	if last := len(fpr) - 1; fpr[last] != 1 || tpr[last] != 1 {
		fpr = append(fpr, 1)
		tpr = append(tpr, 1)
	}
	return integrate.Trapezoidal(fpr, tpr)
}

// ThresholdGrid returns n evenly spaced thresholds from lo to hi inclusive.
func ThresholdGrid(lo, hi float64, n int) []float64 {
	return floats.Span(make([]float64, n), lo, hi)
}

// BestF1Threshold scans grid for the threshold with the highest F1. Only a
// strictly better F1 replaces the current best, starting from 0.5 / 0.
func BestF1Threshold(y []int, proba []float64, grid []float64) (th, f1 float64) {
	th = 0.5
	for _, g := range grid {
		if v := F1(y, Threshold(proba, g)); v > f1 {
			th, f1 = g, v
		}
	}
	return th, f1
}

// Summary is the mean and population standard deviation of per-fold values.
type Summary struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
}

func Summarize(values []float64) Summary {
	if len(values) == 0 {
		return Summary{}
	}
	mean, std := stat.PopMeanStdDev(values, nil)
	return Summary{Mean: mean, Std: std}
}

func (s Summary) String() string {
	return fmt.Sprintf("%.4f ± %.4f", s.Mean, s.Std)
}
