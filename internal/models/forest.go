package models

import (
	"fmt"
	"math/rand/v2"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/hypertune/internal/optimization"
)

// RandomForest averages regression trees grown on bootstrap samples with
// per-split feature subsampling.
type RandomForest struct {
	NEstimators     int
	MaxDepth        int
	MinSamplesSplit int
	MinSamplesLeaf  int
	MaxFeatures     string
	Bootstrap       bool
	Criterion       Criterion
	Seed            int64
	// MaxWorkers bounds concurrent tree growth. Zero uses GOMAXPROCS.
	MaxWorkers int

	trees []*RegressionTree
}

// NewRandomForest creates a forest with scikit-learn style defaults.
func NewRandomForest() *RandomForest {
	return &RandomForest{
		NEstimators:     100,
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
		MaxFeatures:     "all",
		Bootstrap:       true,
		Criterion:       SquaredError,
	}
}

func forestFromConfig(cfg optimization.Configuration, seed int64) (*RandomForest, error) {
	rf := NewRandomForest()
	rf.NEstimators = cfg.Int("n_estimators", rf.NEstimators)
	rf.MaxDepth = cfg.Int("max_depth", 0)
	rf.MinSamplesSplit = cfg.Int("min_samples_split", rf.MinSamplesSplit)
	rf.MinSamplesLeaf = cfg.Int("min_samples_leaf", rf.MinSamplesLeaf)
	rf.MaxFeatures = cfg.Category("max_features", rf.MaxFeatures)
	rf.Seed = seed

	bootstrap, err := parseBool("bootstrap", cfg.Category("bootstrap", "true"))
	if err != nil {
		return nil, err
	}
	rf.Bootstrap = bootstrap

	crit, err := ParseCriterion(cfg.Category("criterion", string(SquaredError)))
	if err != nil {
		return nil, err
	}
	rf.Criterion = crit

	if rf.NEstimators < 1 {
		return nil, fmt.Errorf("n_estimators must be at least 1, got %d", rf.NEstimators)
	}
	return rf, rf.template().validate()
}

func (rf *RandomForest) template() *RegressionTree {
	return &RegressionTree{
		MaxDepth:        rf.MaxDepth,
		MinSamplesSplit: rf.MinSamplesSplit,
		MinSamplesLeaf:  rf.MinSamplesLeaf,
		MaxFeatures:     rf.MaxFeatures,
		Criterion:       rf.Criterion,
	}
}

// Fit grows the trees concurrently.
func (rf *RandomForest) Fit(X *mat.Dense, y []float64) error {
	if rf.NEstimators < 1 {
		return fmt.Errorf("n_estimators must be at least 1, got %d", rf.NEstimators)
	}
	if err := rf.template().validate(); err != nil {
		return err
	}
	n, _, err := checkShape(X, y)
	if err != nil {
		return err
	}

	cols := columns(X)
	trees := make([]*RegressionTree, rf.NEstimators)

	workers := rf.MaxWorkers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	var g errgroup.Group
	g.SetLimit(workers)
	for i := range trees {
		g.Go(func() error {
			seed := uint64(rf.Seed)
			rng := rand.New(rand.NewPCG(seed, uint64(i)))

			idx := make([]int, n)
			for j := range idx {
				if rf.Bootstrap {
					idx[j] = rng.IntN(n)
				} else {
					idx[j] = j
				}
			}

			tree := rf.template()
			if err := tree.grow(cols, y, idx, rng); err != nil {
				return fmt.Errorf("tree %d training failed: %w", i, err)
			}
			trees[i] = tree
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	rf.trees = trees
	return nil
}

// Predict averages the tree predictions.
func (rf *RandomForest) Predict(X *mat.Dense) ([]float64, error) {
	if len(rf.trees) == 0 {
		return nil, fmt.Errorf("forest is not fitted")
	}
	r, _ := X.Dims()
	out := make([]float64, r)
	for _, tree := range rf.trees {
		pred, err := tree.Predict(X)
		if err != nil {
			return nil, err
		}
		floats.Add(out, pred)
	}
	floats.Scale(1/float64(len(rf.trees)), out)
	return out, nil
}

// Trees returns the number of fitted trees.
func (rf *RandomForest) Trees() int {
	return len(rf.trees)
}
