package optimization

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSearchSpace(t *testing.T) {
	tests := []struct {
		name    string
		dims    []Dimension
		wantErr bool
	}{
		{
			name: "valid mixed space",
			dims: []Dimension{
				IntDimension("n", 10, 500),
				RealDimension("alpha", 0, 1),
				LogRealDimension("lr", 1e-4, 1),
				CategoricalDimension("criterion", "mse", "mae"),
			},
		},
		{
			name: "single choice is accepted",
			dims: []Dimension{CategoricalDimension("only", "x")},
		},
		{name: "empty space", dims: nil, wantErr: true},
		{name: "empty name", dims: []Dimension{IntDimension("", 1, 2)}, wantErr: true},
		{name: "equal bounds", dims: []Dimension{IntDimension("n", 5, 5)}, wantErr: true},
		{name: "inverted bounds", dims: []Dimension{RealDimension("a", 1, 0)}, wantErr: true},
		{name: "infinite bound", dims: []Dimension{RealDimension("a", 0, math.Inf(1))}, wantErr: true},
		{name: "fractional int bound", dims: []Dimension{{Name: "n", Kind: IntKind, Low: 0.5, High: 3}}, wantErr: true},
		{name: "log with zero low", dims: []Dimension{LogRealDimension("lr", 0, 1)}, wantErr: true},
		{name: "log on int", dims: []Dimension{{Name: "n", Kind: IntKind, Low: 1, High: 3, Log: true}}, wantErr: true},
		{name: "no choices", dims: []Dimension{CategoricalDimension("c")}, wantErr: true},
		{name: "duplicate choices", dims: []Dimension{CategoricalDimension("c", "a", "a")}, wantErr: true},
		{name: "unknown kind", dims: []Dimension{{Name: "x"}}, wantErr: true},
		{
			name:    "duplicate names",
			dims:    []Dimension{IntDimension("n", 1, 2), RealDimension("n", 0, 1)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			space, err := NewSearchSpace(tt.dims...)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidSpace), "got %v", err)
				assert.Nil(t, space)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, len(tt.dims), space.Len())
		})
	}
}

func TestSearchSpaceIsImmutable(t *testing.T) {
	choices := []string{"a", "b"}
	space, err := NewSearchSpace(CategoricalDimension("c", choices...), IntDimension("n", 1, 3))
	require.NoError(t, err)

	dims := space.Dimensions()
	dims[0].Choices[0] = "z"
	dims[1].High = 100
	choices[1] = "y"

	d, ok := space.Dimension("c")
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, d.Choices)
	n, _ := space.Dimension("n")
	assert.Equal(t, 3.0, n.High)
	assert.Equal(t, []string{"c", "n"}, space.Names())
}

func TestSearchSpaceValidate(t *testing.T) {
	space := testSpace(t)

	tests := []struct {
		name    string
		cfg     Configuration
		wantErr bool
	}{
		{name: "inside", cfg: testConfig(123, 7, "mse")},
		{name: "bounds inclusive", cfg: testConfig(500, 1, "mae")},
		{name: "int below", cfg: testConfig(9, 7, "mse"), wantErr: true},
		{name: "int above", cfg: testConfig(123, 51, "mse"), wantErr: true},
		{name: "unknown choice", cfg: testConfig(123, 7, "huber"), wantErr: true},
		{
			name: "wrong kind",
			cfg: NewConfiguration(map[string]Value{
				"n": RealValue(12.5), "depth": IntValue(3), "criterion": CategoryValue("mse"),
			}),
			wantErr: true,
		},
		{
			name:    "missing dimension",
			cfg:     NewConfiguration(map[string]Value{"n": IntValue(12), "depth": IntValue(3)}),
			wantErr: true,
		},
		{
			name: "extra dimension",
			cfg: NewConfiguration(map[string]Value{
				"n": IntValue(12), "depth": IntValue(3), "criterion": CategoryValue("mse"), "x": IntValue(1),
			}),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := space.Validate(tt.cfg)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrInvalidConfig), "got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRandomSpacesAreValid(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	for i := 0; i < 200; i++ {
		_, err := NewSearchSpace(randomDimensions(rng)...)
		require.NoError(t, err)
	}
}

func TestConfigurationAccessors(t *testing.T) {
	values := map[string]Value{
		"n":     IntValue(42),
		"alpha": RealValue(0.5),
		"c":     CategoryValue("sqrt"),
	}
	cfg := NewConfiguration(values)
	values["n"] = IntValue(0)

	assert.Equal(t, 42, cfg.Int("n", -1))
	assert.Equal(t, 42.0, cfg.Real("n", -1))
	assert.Equal(t, 0.5, cfg.Real("alpha", -1))
	assert.Equal(t, "sqrt", cfg.Category("c", ""))
	assert.Equal(t, -1, cfg.Int("alpha", -1))
	assert.Equal(t, "none", cfg.Category("missing", "none"))
	assert.Equal(t, []string{"alpha", "c", "n"}, cfg.Names())

	m := cfg.Map()
	m["n"] = IntValue(1)
	assert.Equal(t, 42, cfg.Int("n", -1))

	data, err := cfg.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":42,"alpha":0.5,"c":"sqrt"}`, string(data))
}

func TestValueString(t *testing.T) {
	assert.Equal(t, "12", IntValue(12).String())
	assert.Equal(t, "0.25", RealValue(0.25).String())
	assert.Equal(t, "log2", CategoryValue("log2").String())
	assert.Equal(t, "None", Value{}.String())
}
