package model

import (
	"math"
	"math/rand"
)

// Split shuffles row indices with seed and returns the train and test
// partitions. The test partition holds ceil(testFraction*n) rows.
func Split(n int, testFraction float64, seed int64) (train, test []int) {
	perm := rand.New(rand.NewSource(seed)).Perm(n)

	nTest := int(math.Ceil(testFraction * float64(n)))
	if nTest > n {
		nTest = n
	}
	return perm[nTest:], perm[:nTest]
}

func take(rows [][]float64, labels []int, idx []int) ([][]float64, []int) {
	outRows := make([][]float64, len(idx))
	outLabels := make([]int, len(idx))
	for i, j := range idx {
		outRows[i] = rows[j]
		outLabels[i] = labels[j]
	}
	return outRows, outLabels
}

func classCounts(labels []int) map[int]int {
	counts := map[int]int{0: 0, 1: 0}
	for _, y := range labels {
		counts[y]++
	}
	return counts
}
