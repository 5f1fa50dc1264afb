package ml

import (
	"fmt"
	"math/rand"
	"sort"
)

// Fold is one train/validation split of row indices, each sorted ascending.
type Fold struct {
	Train []int
	Test  []int
}

// StratifiedKFold splits rows into k folds that keep each class's share. Each
// class is shuffled with seed and dealt out in contiguous chunks; the first
// n_c%k folds get one extra row of class c. Every class needs at least k rows.
func StratifiedKFold(y []int, k int, seed int64) ([]Fold, error) {
	if k < 2 {
		return nil, fmt.Errorf("need at least 2 folds, got %d", k)
	}
	byClass := map[int][]int{}
	for i, c := range y {
		byClass[c] = append(byClass[c], i)
	}
	classes := make([]int, 0, len(byClass))
	for c := range byClass {
		classes = append(classes, c)
	}
	sort.Ints(classes)
	if len(classes) < 2 {
		return nil, fmt.Errorf("stratified split needs two classes, got %d", len(classes))
	}

	rng := rand.New(rand.NewSource(seed))
	testOf := make([]int, len(y))
	for _, c := range classes {
		rows := byClass[c]
		if len(rows) < k {
			return nil, fmt.Errorf("class %d has %d rows, fewer than %d folds", c, len(rows), k)
		}
		rng.Shuffle(len(rows), func(a, b int) { rows[a], rows[b] = rows[b], rows[a] })
		size, extra := len(rows)/k, len(rows)%k
		pos := 0
		for f := 0; f < k; f++ {
			width := size
			if f < extra {
				width++
			}
			for _, i := range rows[pos : pos+width] {
				testOf[i] = f
			}
			pos += width
		}
	}

	folds := make([]Fold, k)
	for i, f := range testOf {
		for g := range folds {
			if g == f {
				folds[g].Test = append(folds[g].Test, i)
			} else {
				folds[g].Train = append(folds[g].Train, i)
			}
		}
	}
	return folds, nil
}
