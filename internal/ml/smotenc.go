package ml

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"churn-insight/internal/stats"
)

// ErrResampling marks every failure to oversample a training set.
var ErrResampling = errors.New("minority oversampling failed")

// SMOTENC oversamples the minority class with synthetic rows. Continuous
// columns are interpolated between a minority row and one of its K nearest
// minority neighbours; categorical columns take the most common category among
// those neighbours, so they only ever hold levels that already exist.
type SMOTENC struct {
	// Ratio is the wanted minority:majority ratio after resampling.
	Ratio float64
	K     int
	Seed  int64
}

func DefaultSMOTENC() SMOTENC {
	return SMOTENC{Ratio: 0.67, K: 5, Seed: 42}
}

// Resample returns f with int(Ratio*majority)-minority synthetic minority rows
// appended, and the matching labels. Callers must only pass training rows.
func (s SMOTENC) Resample(f *Frame, y []int) (*Frame, []int, error) {
	if len(y) != f.Rows() {
		return nil, nil, fmt.Errorf("%w: %d labels for %d rows", ErrResampling, len(y), f.Rows())
	}
	if s.K < 1 || s.Ratio <= 0 || s.Ratio > 1 {
		return nil, nil, fmt.Errorf("%w: invalid settings ratio=%v k=%d", ErrResampling, s.Ratio, s.K)
	}

	var count [2]int
	for _, v := range y {
		count[v]++
	}
	minority := 1
	if count[0] < count[1] {
		minority = 0
	}
	nMin, nMaj := count[minority], count[1-minority]
	nGen := int(s.Ratio*float64(nMaj)) - nMin
	if nGen < 0 {
		return nil, nil, fmt.Errorf("%w: ratio %.2f is below the current minority share (%d:%d)", ErrResampling, s.Ratio, nMin, nMaj)
	}
	if nGen == 0 {
		return f, y, nil
	}
	if nMin < s.K+1 {
		return nil, nil, fmt.Errorf("%w: %d minority rows, need more than k=%d", ErrResampling, nMin, s.K)
	}

	var contCols, catCols []int
	for j, c := range f.Categorical {
		if c {
			catCols = append(catCols, j)
		} else {
			contCols = append(contCols, j)
		}
	}
	if len(contCols) == 0 {
		return nil, nil, fmt.Errorf("%w: no continuous columns to interpolate", ErrResampling)
	}

	var rows [][]float64
	for i, v := range y {
		if v == minority {
			rows = append(rows, f.Row(i))
		}
	}
	cont := make([][]float64, nMin)
	for i, row := range rows {
		cont[i] = make([]float64, len(contCols))
		for k, j := range contCols {
			cont[i][k] = row[j]
		}
	}

	// a categorical mismatch costs med^2/2 in squared distance, where med is
	// the median standard deviation of the continuous minority columns
	stds := make([]float64, len(contCols))
	col := make([]float64, nMin)
	for k := range contCols {
		for i := range cont {
			col[i] = cont[i][k]
		}
		_, stds[k] = stat.PopMeanStdDev(col, nil)
	}
	med := stats.Median(stds)
	penalty := med * med / 2

	neighbours := make([][]int, nMin)
	type cand struct {
		idx  int
		dist float64
	}
	cands := make([]cand, 0, nMin-1)
	for a := 0; a < nMin; a++ {
		cands = cands[:0]
		for b := 0; b < nMin; b++ {
			if a == b {
				continue
			}
			d := floats.Distance(cont[a], cont[b], 2)
			d *= d
			for _, j := range catCols {
				if rows[a][j] != rows[b][j] {
					d += penalty
				}
			}
			cands = append(cands, cand{idx: b, dist: d})
		}
		sort.SliceStable(cands, func(i, j int) bool { return cands[i].dist < cands[j].dist })
		neighbours[a] = make([]int, s.K)
		for k := 0; k < s.K; k++ {
			neighbours[a][k] = cands[k].idx
		}
	}

	rng := rand.New(rand.NewSource(s.Seed))
	synth := make([][]float64, nGen)
	diff := make([]float64, len(contCols))
	for n := range synth {
		a := rng.Intn(nMin)
		nn := neighbours[a][rng.Intn(s.K)]
		step := rng.Float64()

		floats.SubTo(diff, cont[nn], cont[a])
		point := floats.AddScaledTo(make([]float64, len(contCols)), cont[a], step, diff)

		row := make([]float64, f.Cols())
		for k, j := range contCols {
			row[j] = point[k]
		}
		for _, j := range catCols {
			row[j] = modeCode(rows, neighbours[a], j)
		}
		synth[n] = row
	}

	out, err := f.AppendRows(synth)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrResampling, err)
	}
	labels := make([]int, 0, len(y)+nGen)
	labels = append(labels, y...)
	for range synth {
		labels = append(labels, minority)
	}
	return out, labels, nil
}

// modeCode is the most frequent level code of column j among the neighbours;
// ties go to the smallest code.
func modeCode(rows [][]float64, neighbours []int, j int) float64 {
	counts := map[float64]int{}
	for _, nb := range neighbours {
		counts[rows[nb][j]]++
	}
	best, bestCount := 0.0, -1
	for code, c := range counts {
		if c > bestCount || (c == bestCount && code < best) {
			best, bestCount = code, c
		}
	}
	return best
}
