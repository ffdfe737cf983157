package model

import (
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// SMOTE oversamples the minority class with synthetic rows interpolated
// between a minority sample and one of its k nearest minority neighbors,
// until both classes have the same count. Inputs are not modified.
func SMOTE(rows [][]float64, labels []int, k int, rng *rand.Rand) ([][]float64, []int) {
	counts := classCounts(labels)
	minority, majority := 1, 0
	if counts[0] < counts[1] {
		minority, majority = 0, 1
	}
	need := counts[majority] - counts[minority]

	outRows := append([][]float64(nil), rows...)
	outLabels := append([]int(nil), labels...)
	if need <= 0 || counts[minority] < 2 {
		return outRows, outLabels
	}

	var pool [][]float64
	for i, y := range labels {
		if y == minority {
			pool = append(pool, rows[i])
		}
	}
	if k < 1 {
		k = 1
	}
	if k > len(pool)-1 {
		k = len(pool) - 1
	}

	neighbors := make([][]int, len(pool))
	for i := range pool {
		neighbors[i] = nearest(pool, i, k)
	}

	for n := 0; n < need; n++ {
		i := rng.Intn(len(pool))
		nb := pool[neighbors[i][rng.Intn(k)]]
		gap := rng.Float64()

		synth := make([]float64, len(pool[i]))
		for j := range synth {
			synth[j] = pool[i][j] + gap*(nb[j]-pool[i][j])
		}
		outRows = append(outRows, synth)
		outLabels = append(outLabels, minority)
	}

	return outRows, outLabels
}

// nearest returns the indices of the k rows in pool closest to pool[i],
// excluding i itself.
func nearest(pool [][]float64, i, k int) []int {
	type cand struct {
		idx  int
		dist float64
	}
	cands := make([]cand, 0, len(pool)-1)
	for j := range pool {
		if j == i {
			continue
		}
		cands = append(cands, cand{idx: j, dist: floats.Distance(pool[i], pool[j], 2)})
	}
	sort.SliceStable(cands, func(a, b int) bool { return cands[a].dist < cands[b].dist })

	out := make([]int, k)
	for n := 0; n < k; n++ {
		out[n] = cands[n].idx
	}
	return out
}
