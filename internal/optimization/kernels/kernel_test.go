package kernels

import (
	"math"
	"math/rand/v2"
	"testing"

	"gonum.org/v1/gonum/integrate"
)

func TestTruncatedGaussianLogDensity(t *testing.T) {
	k := NewTruncatedGaussian()

	tests := []struct {
		name      string
		x         float64
		center    float64
		bandwidth float64
		low, high float64
		expected  float64
	}{
		{
			name:      "untruncated center",
			x:         0,
			center:    0,
			bandwidth: 1,
			low:       -50,
			high:      50,
			expected:  -0.5 * math.Log(2*math.Pi),
		},
		{
			name:      "half truncated doubles density",
			x:         0,
			center:    0,
			bandwidth: 1,
			low:       0,
			high:      50,
			expected:  -0.5*math.Log(2*math.Pi) + math.Log(2),
		},
		{
			name:      "outside interval",
			x:         2,
			center:    0,
			bandwidth: 1,
			low:       -1,
			high:      1,
			expected:  math.Inf(-1),
		},
		{
			name:      "zero bandwidth",
			x:         0,
			center:    0,
			bandwidth: 0,
			low:       -1,
			high:      1,
			expected:  math.Inf(-1),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := k.LogDensity(tt.x, tt.center, tt.bandwidth, tt.low, tt.high)
			if math.IsInf(tt.expected, -1) {
				if !math.IsInf(got, -1) {
					t.Errorf("expected -Inf, got %v", got)
				}
				return
			}
			if math.Abs(got-tt.expected) > 1e-9 {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestTruncatedGaussianIntegratesToOne(t *testing.T) {
	k := NewTruncatedGaussian()
	low, high := 2.0, 5.0

	const n = 2001
	xs := make([]float64, n)
	ys := make([]float64, n)
	for i := range xs {
		xs[i] = low + (high-low)*float64(i)/float64(n-1)
		ys[i] = math.Exp(k.LogDensity(xs[i], 4.5, 0.8, low, high))
	}

	mass := integrate.Trapezoidal(xs, ys)
	if math.Abs(mass-1) > 1e-3 {
		t.Errorf("density integrates to %v, want 1", mass)
	}
}

func TestTruncatedGaussianSampleStaysInBounds(t *testing.T) {
	k := NewTruncatedGaussian()
	rng := rand.New(rand.NewPCG(42, 42))

	for i := 0; i < 5000; i++ {
		// center far outside the interval forces the clipping fallback
		x := k.Sample(rng, 100, 0.5, -1, 1)
		if x < -1 || x > 1 {
			t.Fatalf("sample %v outside [-1, 1]", x)
		}
		y := k.Sample(rng, 0.9, 3, 0, 1)
		if y < 0 || y > 1 {
			t.Fatalf("sample %v outside [0, 1]", y)
		}
	}
}

func TestBandwidthRules(t *testing.T) {
	samples := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}

	scott := Scott(samples)
	silverman := Silverman(samples)
	if scott <= 0 || silverman <= 0 {
		t.Fatalf("expected positive bandwidths, got scott=%v silverman=%v", scott, silverman)
	}
	if silverman >= scott {
		t.Errorf("silverman (%v) should be narrower than scott (%v)", silverman, scott)
	}

	for name, rule := range map[string]BandwidthRule{"scott": Scott, "silverman": Silverman} {
		if got := rule([]float64{3}); got != 0 {
			t.Errorf("%s: single sample should give 0, got %v", name, got)
		}
		if got := rule([]float64{2, 2, 2}); got != 0 {
			t.Errorf("%s: constant samples should give 0, got %v", name, got)
		}
	}
}

func TestClamp(t *testing.T) {
	if got := Clamp(5, 1, 3); got != 3 {
		t.Errorf("expected 3, got %v", got)
	}
	if got := Clamp(-2.5, -1.0, 1.0); got != -1.0 {
		t.Errorf("expected -1, got %v", got)
	}
	if got := Clamp(int64(2), 1, 3); got != 2 {
		t.Errorf("expected 2, got %v", got)
	}
}

func TestNeighborBandwidths(t *testing.T) {
	tests := []struct {
		name      string
		centers   []float64
		low, high float64
		expected  []float64
	}{
		{
			name:     "spread centers",
			centers:  []float64{9, 2, 5},
			low:      0,
			high:     10,
			expected: []float64{4, 3, 4},
		},
		{
			name:     "close pair is widened to the floor",
			centers:  []float64{5, 5.1},
			low:      0,
			high:     100,
			expected: []float64{100.0 / 3, 94.9},
		},
		{
			name:     "repeated centers",
			centers:  []float64{5, 5, 5},
			low:      0,
			high:     10,
			expected: []float64{5, 2.5, 5},
		},
		{
			name:     "empty",
			centers:  nil,
			low:      0,
			high:     1,
			expected: []float64{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NeighborBandwidths(tt.centers, tt.low, tt.high)
			if len(got) != len(tt.expected) {
				t.Fatalf("expected %d bandwidths, got %d", len(tt.expected), len(got))
			}
			for i := range got {
				if math.Abs(got[i]-tt.expected[i]) > 1e-9 {
					t.Errorf("bandwidth %d: expected %v, got %v", i, tt.expected[i], got[i])
				}
			}
		})
	}
}

func TestBandwidthFloor(t *testing.T) {
	if got := BandwidthFloor(10, 1); got != 5 {
		t.Errorf("expected 5, got %v", got)
	}
	if got := BandwidthFloor(10, 4); got != 2 {
		t.Errorf("expected 2, got %v", got)
	}
	if got := BandwidthFloor(10, 500); got != 0.1 {
		t.Errorf("expected the floor to bottom out at 0.1, got %v", got)
	}
}

func TestLookupRule(t *testing.T) {
	samples := []float64{1, 2, 4, 8}

	for name, want := range map[string]BandwidthRule{ScottRule: Scott, SilvermanRule: Silverman} {
		rule, ok := LookupRule(name)
		if !ok || rule == nil {
			t.Fatalf("%s: expected a rule", name)
		}
		if rule(samples) != want(samples) {
			t.Errorf("%s: rule does not match", name)
		}
	}

	for _, name := range []string{NeighborRule, ""} {
		rule, ok := LookupRule(name)
		if !ok || rule != nil {
			t.Errorf("%q: expected the nil neighbor rule", name)
		}
	}

	if _, ok := LookupRule("gaussian"); ok {
		t.Error("expected unknown rule to be rejected")
	}
}
