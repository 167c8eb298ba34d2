package models

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/hypertune/internal/optimization"
)

// Criterion selects the impurity a tree minimizes.
type Criterion string

const (
	SquaredError  Criterion = "squared_error"
	AbsoluteError Criterion = "absolute_error"
)

// ParseCriterion accepts the current names and the legacy mse/mae aliases.
func ParseCriterion(s string) (Criterion, error) {
	switch s {
	case "squared_error", "mse":
		return SquaredError, nil
	case "absolute_error", "mae":
		return AbsoluteError, nil
	}
	return "", fmt.Errorf("unknown criterion %q", s)
}

// Absolute-error splits are searched exhaustively up to absoluteExhaustive
// candidate positions, else over absoluteSplits evenly spaced ones.
const (
	absoluteExhaustive = 256
	absoluteSplits     = 64
)

type treeNode struct {
	leaf      bool
	value     float64
	feature   int
	threshold float64
	left      *treeNode
	right     *treeNode
}

// RegressionTree is a CART regression tree.
type RegressionTree struct {
	// MaxDepth limits the depth of the tree. Zero means unlimited.
	MaxDepth        int
	MinSamplesSplit int
	MinSamplesLeaf  int
	// MaxFeatures is the per-split feature subset rule: sqrt, log2 or all.
	MaxFeatures string
	Criterion   Criterion
	Seed        int64

	root      *treeNode
	nFeatures int
}

// NewRegressionTree creates a tree with scikit-learn style defaults.
func NewRegressionTree() *RegressionTree {
	return &RegressionTree{
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
		MaxFeatures:     "all",
		Criterion:       SquaredError,
	}
}

func treeFromConfig(cfg optimization.Configuration, seed int64) (*RegressionTree, error) {
	t := NewRegressionTree()
	t.MaxDepth = cfg.Int("max_depth", 0)
	t.MinSamplesSplit = cfg.Int("min_samples_split", t.MinSamplesSplit)
	t.MinSamplesLeaf = cfg.Int("min_samples_leaf", t.MinSamplesLeaf)
	t.MaxFeatures = cfg.Category("max_features", t.MaxFeatures)
	t.Seed = seed

	crit, err := ParseCriterion(cfg.Category("criterion", string(SquaredError)))
	if err != nil {
		return nil, err
	}
	t.Criterion = crit
	return t, t.validate()
}

func (t *RegressionTree) validate() error {
	switch {
	case t.MaxDepth < 0:
		return fmt.Errorf("max_depth must not be negative, got %d", t.MaxDepth)
	case t.MinSamplesSplit < 2:
		return fmt.Errorf("min_samples_split must be at least 2, got %d", t.MinSamplesSplit)
	case t.MinSamplesLeaf < 1:
		return fmt.Errorf("min_samples_leaf must be at least 1, got %d", t.MinSamplesLeaf)
	}
	if _, err := ParseCriterion(string(t.Criterion)); err != nil {
		return err
	}
	_, err := resolveMaxFeatures(t.MaxFeatures, 1)
	return err
}

// resolveMaxFeatures turns a feature subset rule into a count.
func resolveMaxFeatures(rule string, nFeatures int) (int, error) {
	var k int
	switch rule {
	case "", "all", "auto", "None", "1.0":
		k = nFeatures
	case "sqrt":
		k = int(math.Sqrt(float64(nFeatures)))
	case "log2":
		k = int(math.Log2(float64(nFeatures)))
	default:
		return 0, fmt.Errorf("unknown max_features %q", rule)
	}
	if k < 1 {
		k = 1
	}
	return k, nil
}

// columns copies X into column-major slices.
func columns(X *mat.Dense) [][]float64 {
	_, c := X.Dims()
	cols := make([][]float64, c)
	for j := range cols {
		cols[j] = mat.Col(nil, j, X)
	}
	return cols
}

// Fit grows the tree on all rows of X.
func (t *RegressionTree) Fit(X *mat.Dense, y []float64) error {
	if err := t.validate(); err != nil {
		return err
	}
	n, _, err := checkShape(X, y)
	if err != nil {
		return err
	}
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	seed := uint64(t.Seed)
	return t.grow(columns(X), y, idx, rand.New(rand.NewPCG(seed, seed+1)))
}

// grow fits the tree on the rows listed in idx, which may repeat.
func (t *RegressionTree) grow(cols [][]float64, y []float64, idx []int, rng *rand.Rand) error {
	mf, err := resolveMaxFeatures(t.MaxFeatures, len(cols))
	if err != nil {
		return err
	}
	t.nFeatures = len(cols)
	b := &treeBuilder{tree: t, cols: cols, y: y, rng: rng, maxFeatures: mf}
	t.root = b.build(idx, 0)
	return nil
}

// Predict walks each row of X down the tree.
func (t *RegressionTree) Predict(X *mat.Dense) ([]float64, error) {
	if t.root == nil {
		return nil, fmt.Errorf("tree is not fitted")
	}
	r, c := X.Dims()
	if c != t.nFeatures {
		return nil, fmt.Errorf("expected %d features, got %d", t.nFeatures, c)
	}
	out := make([]float64, r)
	for i := range out {
		out[i] = t.predictRow(X.RawRowView(i))
	}
	return out, nil
}

func (t *RegressionTree) predictRow(row []float64) float64 {
	node := t.root
	for !node.leaf {
		if row[node.feature] <= node.threshold {
			node = node.left
		} else {
			node = node.right
		}
	}
	return node.value
}

// Depth returns the depth of the fitted tree.
func (t *RegressionTree) Depth() int {
	var depth func(n *treeNode) int
	depth = func(n *treeNode) int {
		if n == nil || n.leaf {
			return 0
		}
		return 1 + max(depth(n.left), depth(n.right))
	}
	return depth(t.root)
}

type treeBuilder struct {
	tree        *RegressionTree
	cols        [][]float64
	y           []float64
	rng         *rand.Rand
	maxFeatures int
}

type split struct {
	feature   int
	threshold float64
	impurity  float64
}

func (b *treeBuilder) targets(idx []int) []float64 {
	out := make([]float64, len(idx))
	for i, j := range idx {
		out[i] = b.y[j]
	}
	return out
}

func (b *treeBuilder) leafValue(ys []float64) float64 {
	if b.tree.Criterion == AbsoluteError {
		return median(ys)
	}
	return floats.Sum(ys) / float64(len(ys))
}

func (b *treeBuilder) impurity(ys []float64) float64 {
	if len(ys) == 0 {
		return 0
	}
	if b.tree.Criterion == AbsoluteError {
		m := median(ys)
		s := 0.0
		for _, v := range ys {
			s += math.Abs(v - m)
		}
		return s
	}
	mean := floats.Sum(ys) / float64(len(ys))
	s := 0.0
	for _, v := range ys {
		s += (v - mean) * (v - mean)
	}
	return s
}

func (b *treeBuilder) build(idx []int, depth int) *treeNode {
	ys := b.targets(idx)
	node := &treeNode{leaf: true, value: b.leafValue(ys)}

	t := b.tree
	n := len(idx)
	if (t.MaxDepth > 0 && depth >= t.MaxDepth) || n < t.MinSamplesSplit || n < 2*t.MinSamplesLeaf {
		return node
	}
	if floats.Max(ys) == floats.Min(ys) {
		return node
	}

	parent := b.impurity(ys)
	best, ok := b.bestSplit(idx)
	if !ok || best.impurity >= parent {
		return node
	}

	var left, right []int
	for _, i := range idx {
		if b.cols[best.feature][i] <= best.threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return node
	}

	return &treeNode{
		feature:   best.feature,
		threshold: best.threshold,
		left:      b.build(left, depth+1),
		right:     b.build(right, depth+1),
	}
}

// bestSplit scans a random feature subset. Features without any legal split
// do not count against the subset size.
func (b *treeBuilder) bestSplit(idx []int) (split, bool) {
	best := split{impurity: math.Inf(1)}
	found := false
	tried := 0

	for _, f := range b.rng.Perm(len(b.cols)) {
		if tried >= b.maxFeatures {
			break
		}
		s, ok := b.splitFeature(f, idx)
		if !ok {
			continue
		}
		tried++
		if s.impurity < best.impurity {
			best = s
			found = true
		}
	}
	return best, found
}

func (b *treeBuilder) splitFeature(f int, idx []int) (split, bool) {
	col := b.cols[f]
	order := append([]int(nil), idx...)
	sort.Slice(order, func(i, j int) bool {
		return col[order[i]] < col[order[j]]
	})

	n := len(order)
	minLeaf := b.tree.MinSamplesLeaf

	// positions p split order into [0, p) and [p, n)
	var positions []int
	for p := minLeaf; p <= n-minLeaf; p++ {
		if col[order[p-1]] < col[order[p]] {
			positions = append(positions, p)
		}
	}
	if len(positions) == 0 {
		return split{}, false
	}

	ys := make([]float64, n)
	for i, j := range order {
		ys[i] = b.y[j]
	}

	best := split{feature: f, impurity: math.Inf(1)}
	if b.tree.Criterion == AbsoluteError {
		if len(positions) > absoluteExhaustive {
			step := float64(len(positions)) / absoluteSplits
			thinned := make([]int, 0, absoluteSplits)
			for k := 0; k < absoluteSplits; k++ {
				thinned = append(thinned, positions[int(float64(k)*step)])
			}
			positions = thinned
		}
		for _, p := range positions {
			imp := b.impurity(ys[:p]) + b.impurity(ys[p:])
			if imp < best.impurity {
				best.impurity = imp
				best.threshold = (col[order[p-1]] + col[order[p]]) / 2
			}
		}
		return best, true
	}

	// squared error from prefix sums
	sum := make([]float64, n+1)
	sq := make([]float64, n+1)
	for i, v := range ys {
		sum[i+1] = sum[i] + v
		sq[i+1] = sq[i] + v*v
	}
	for _, p := range positions {
		ln, rn := float64(p), float64(n-p)
		ls, rs := sum[p], sum[n]-sum[p]
		imp := (sq[p] - ls*ls/ln) + (sq[n] - sq[p] - rs*rs/rn)
		if imp < best.impurity {
			best.impurity = imp
			best.threshold = (col[order[p-1]] + col[order[p]]) / 2
		}
	}
	return best, true
}
