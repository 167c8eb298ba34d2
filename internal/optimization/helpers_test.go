package optimization

import (
	"fmt"
	"math"
	"math/rand/v2"
	"testing"
)

// testSpace returns the space used throughout the package tests.
func testSpace(t *testing.T) *SearchSpace {
	t.Helper()

	space, err := NewSearchSpace(
		IntDimension("n", 10, 500),
		IntDimension("depth", 1, 50),
		CategoricalDimension("criterion", "mse", "mae"),
	)
	if err != nil {
		t.Fatalf("failed to build space: %v", err)
	}
	return space
}

// testConfig builds a configuration for testSpace.
func testConfig(n, depth int, criterion string) Configuration {
	return NewConfiguration(map[string]Value{
		"n":         IntValue(n),
		"depth":     IntValue(depth),
		"criterion": CategoryValue(criterion),
	})
}

// randomDimensions generates a valid random list of dimensions.
func randomDimensions(rng *rand.Rand) []Dimension {
	n := 1 + rng.IntN(5)
	dims := make([]Dimension, n)
	for i := range dims {
		name := fmt.Sprintf("d%d", i)
		switch rng.IntN(4) {
		case 0:
			lo := rng.IntN(100) - 50
			dims[i] = IntDimension(name, lo, lo+1+rng.IntN(100))
		case 1:
			lo := rng.Float64()*10 - 5
			dims[i] = RealDimension(name, lo, lo+0.001+rng.Float64()*10)
		case 2:
			lo := math.Pow(10, -3*rng.Float64())
			dims[i] = LogRealDimension(name, lo, lo*(1.5+rng.Float64()*100))
		default:
			k := 1 + rng.IntN(4)
			choices := make([]string, k)
			for j := range choices {
				choices[j] = fmt.Sprintf("c%d", j)
			}
			dims[i] = CategoricalDimension(name, choices...)
		}
	}
	return dims
}
