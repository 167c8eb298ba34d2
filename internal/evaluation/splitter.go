package evaluation

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// Split holds a train/test partition of a dataset.
type Split struct {
	XTrain *mat.Dense
	YTrain []float64
	XTest  *mat.Dense
	YTest  []float64
}

// HasHoldout reports whether the split kept test rows.
func (s *Split) HasHoldout() bool {
	return s.XTest != nil && len(s.YTest) > 0
}

// TrainTestSplit shuffles rows with seed and moves ceil(testFraction·n) of
// them to the test side. A zero fraction keeps every row for training.
func TrainTestSplit(X *mat.Dense, y []float64, testFraction float64, seed int64) (*Split, error) {
	n, _ := X.Dims()
	if n != len(y) {
		return nil, fmt.Errorf("x and y must have the same length")
	}
	if n == 0 {
		return nil, fmt.Errorf("cannot split empty dataset")
	}
	if testFraction < 0 || testFraction >= 1 {
		return nil, fmt.Errorf("test size must be in [0, 1), got %v", testFraction)
	}
	if testFraction == 0 {
		return &Split{XTrain: X, YTrain: y}, nil
	}

	indices := permutation(n, true, seed)

	testCount := int(math.Ceil(float64(n) * testFraction))
	if testCount >= n {
		return nil, fmt.Errorf("test size %v leaves no training rows out of %d", testFraction, n)
	}
	trainCount := n - testCount

	XTrain, yTrain := selectRows(X, y, indices[:trainCount])
	XTest, yTest := selectRows(X, y, indices[trainCount:])
	return &Split{XTrain: XTrain, YTrain: yTrain, XTest: XTest, YTest: yTest}, nil
}

// permutation returns 0..n-1, shuffled with seed when shuffle is set.
func permutation(n int, shuffle bool, seed int64) []int {
	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	if shuffle {
		s := uint64(seed)
		rng := rand.New(rand.NewPCG(s, s^0x5851f42d4c957f2d))
		rng.Shuffle(n, func(i, j int) {
			indices[i], indices[j] = indices[j], indices[i]
		})
	}
	return indices
}

// selectRows copies the listed rows of X and y.
func selectRows(X *mat.Dense, y []float64, rows []int) (*mat.Dense, []float64) {
	_, c := X.Dims()
	out := mat.NewDense(len(rows), c, nil)
	yOut := make([]float64, len(rows))
	for i, r := range rows {
		out.SetRow(i, X.RawRowView(r))
		yOut[i] = y[r]
	}
	return out, yOut
}

// kFold partitions indices into k contiguous folds; the last fold takes the
// remainder.
func kFold(indices []int, k int) [][]int {
	n := len(indices)
	size := n / k
	folds := make([][]int, k)
	for f := 0; f < k; f++ {
		start := f * size
		end := start + size
		if f == k-1 {
			end = n
		}
		folds[f] = indices[start:end]
	}
	return folds
}
