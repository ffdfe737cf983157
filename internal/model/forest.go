package model

import (
	"context"
	"math"
	"math/rand"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ForestParams configures random forest fitting.
type ForestParams struct {
	Trees          int
	MaxDepth       int
	MinSamplesLeaf int
	Seed           int64
}

// FitForest grows a forest of Gini CART trees. Each tree sees a bootstrap
// sample reweighted so both classes carry equal total weight, and considers
// sqrt(n_features) candidate features per split. It returns the trees and
// the normalized mean impurity-decrease importance of each column.
func FitForest(ctx context.Context, rows [][]float64, labels []int, p ForestParams) ([]domain.Tree, []float64, error) {
	nFeatures := 0
	if len(rows) > 0 {
		nFeatures = len(rows[0])
	}

	seeds := make([]int64, p.Trees)
	master := rand.New(rand.NewSource(p.Seed))
	for i := range seeds {
		seeds[i] = master.Int63()
	}

	trees := make([]domain.Tree, p.Trees)
	importances := make([][]float64, p.Trees)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := 0; i < p.Trees; i++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			b := &treeBuilder{
				rows:     rows,
				labels:   labels,
				params:   p,
				rng:      rand.New(rand.NewSource(seeds[i])),
				mtry:     maxFeatures(nFeatures),
				features: nFeatures,
				imp:      make([]float64, nFeatures),
			}
			trees[i] = b.fit()
			importances[i] = b.imp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	total := make([]float64, nFeatures)
	for _, imp := range importances {
		normalize(imp)
		for j, v := range imp {
			total[j] += v
		}
	}
	normalize(total)

	return trees, total, nil
}

// PredictTree returns the fraud-class probability of one tree.
func PredictTree(t domain.Tree, row []float64) float64 {
	n := 0
	for {
		node := t.Nodes[n]
		if node.Feature < 0 {
			return node.Value
		}
		if row[node.Feature] <= node.Threshold {
			n = node.Left
		} else {
			n = node.Right
		}
	}
}

// PredictForest averages the tree probabilities.
func PredictForest(trees []domain.Tree, row []float64) float64 {
	if len(trees) == 0 {
		return 0
	}
	var sum float64
	for _, t := range trees {
		sum += PredictTree(t, row)
	}
	return sum / float64(len(trees))
}

func maxFeatures(n int) int {
	m := int(math.Sqrt(float64(n)))
	if m < 1 {
		m = 1
	}
	return m
}

func normalize(v []float64) {
	var sum float64
	for _, x := range v {
		sum += x
	}
	if sum == 0 {
		return
	}
	for i := range v {
		v[i] /= sum
	}
}

type treeBuilder struct {
	rows     [][]float64
	labels   []int
	weights  []float64
	params   ForestParams
	rng      *rand.Rand
	mtry     int
	features int
	nodes    []domain.TreeNode
	imp      []float64
	rootW    float64
}

func (b *treeBuilder) fit() domain.Tree {
	n := len(b.rows)
	counts := make([]float64, n)
	for i := 0; i < n; i++ {
		counts[b.rng.Intn(n)]++
	}

	// balanced_subsample: weights from the bootstrap class totals
	var classTotal [2]float64
	for i, c := range counts {
		classTotal[b.labels[i]] += c
	}
	var classWeight [2]float64
	for c := 0; c < 2; c++ {
		if classTotal[c] > 0 {
			classWeight[c] = float64(n) / (2 * classTotal[c])
		}
	}

	b.weights = make([]float64, n)
	var idx []int
	for i, c := range counts {
		if c == 0 {
			continue
		}
		b.weights[i] = c * classWeight[b.labels[i]]
		idx = append(idx, i)
	}

	w0, w1 := b.classWeights(idx)
	b.rootW = w0 + w1
	b.grow(idx, 0)
	return domain.Tree{Nodes: b.nodes}
}

func (b *treeBuilder) classWeights(idx []int) (w0, w1 float64) {
	for _, i := range idx {
		if b.labels[i] == 1 {
			w1 += b.weights[i]
		} else {
			w0 += b.weights[i]
		}
	}
	return w0, w1
}

// grow appends the subtree for idx and returns its node index.
func (b *treeBuilder) grow(idx []int, depth int) int {
	w0, w1 := b.classWeights(idx)
	self := len(b.nodes)

	leaf := domain.TreeNode{Feature: -1}
	if w0+w1 > 0 {
		leaf.Value = w1 / (w0 + w1)
	}
	b.nodes = append(b.nodes, leaf)

	if depth >= b.params.MaxDepth || w0 == 0 || w1 == 0 || len(idx) < 2*b.params.MinSamplesLeaf {
		return self
	}

	s, ok := b.bestSplit(idx, w0, w1)
	if !ok {
		return self
	}

	var left, right []int
	for _, i := range idx {
		if b.rows[i][s.feature] <= s.threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	b.imp[s.feature] += s.decrease * (w0 + w1) / b.rootW

	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	b.nodes[self] = domain.TreeNode{
		Feature:   s.feature,
		Threshold: s.threshold,
		Left:      l,
		Right:     r,
	}
	return self
}

type split struct {
	feature   int
	threshold float64
	decrease  float64
}

func gini(w0, w1 float64) float64 {
	t := w0 + w1
	if t == 0 {
		return 0
	}
	p0, p1 := w0/t, w1/t
	return 1 - p0*p0 - p1*p1
}

// bestSplit scans a random subset of features for the threshold with the
// largest weighted Gini decrease. Constant features do not count toward the
// subset, so the scan continues until mtry informative features were seen.
func (b *treeBuilder) bestSplit(idx []int, w0, w1 float64) (split, bool) {
	parent := gini(w0, w1)
	total := w0 + w1
	minLeaf := b.params.MinSamplesLeaf
	if minLeaf < 1 {
		minLeaf = 1
	}

	best := split{decrease: 0}
	found := false

	order := b.rng.Perm(b.features)
	sorted := make([]int, len(idx))
	visited := 0

	for _, f := range order {
		if visited >= b.mtry && found {
			break
		}

		copy(sorted, idx)
		sort.Slice(sorted, func(a, c int) bool { return b.rows[sorted[a]][f] < b.rows[sorted[c]][f] })
		if b.rows[sorted[0]][f] == b.rows[sorted[len(sorted)-1]][f] {
			continue
		}
		visited++

		var l0, l1 float64
		for pos := 0; pos < len(sorted)-1; pos++ {
			i := sorted[pos]
			if b.labels[i] == 1 {
				l1 += b.weights[i]
			} else {
				l0 += b.weights[i]
			}

			nLeft := pos + 1
			if nLeft < minLeaf || len(sorted)-nLeft < minLeaf {
				continue
			}
			cur, next := b.rows[i][f], b.rows[sorted[pos+1]][f]
			if cur == next {
				continue
			}

			lw := l0 + l1
			rw := total - lw
			child := (lw*gini(l0, l1) + rw*gini(w0-l0, w1-l1)) / total
			dec := parent - child
			if dec > best.decrease {
				best = split{feature: f, threshold: (cur + next) / 2, decrease: dec}
				found = true
			}
		}
	}

	return best, found
}
