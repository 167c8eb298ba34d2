package optimization

import (
	"math"
)

// ValueKind tags a search dimension and the values drawn from it.
type ValueKind uint8

const (
	// IntKind is an integer range with inclusive bounds.
	IntKind ValueKind = iota + 1
	// RealKind is a real range with inclusive bounds.
	RealKind
	// CategoricalKind is a finite set of labels.
	CategoricalKind
)

// String returns the name used for the kind in space files.
func (k ValueKind) String() string {
	switch k {
	case IntKind:
		return "int"
	case RealKind:
		return "real"
	case CategoricalKind:
		return "categorical"
	default:
		return "unknown"
	}
}

// Dimension describes one tunable hyperparameter.
type Dimension struct {
	// Name identifies the dimension within its space.
	Name string
	// Kind selects which of the remaining fields apply.
	Kind ValueKind
	// Low and High are the inclusive bounds of int and real dimensions.
	Low, High float64
	// Log samples a real dimension uniformly in log space. Requires Low > 0.
	Log bool
	// Choices are the labels of a categorical dimension.
	Choices []string
}

// IntDimension returns an integer dimension over [low, high].
func IntDimension(name string, low, high int) Dimension {
	return Dimension{Name: name, Kind: IntKind, Low: float64(low), High: float64(high)}
}

// RealDimension returns a real dimension over [low, high].
func RealDimension(name string, low, high float64) Dimension {
	return Dimension{Name: name, Kind: RealKind, Low: low, High: high}
}

// LogRealDimension returns a real dimension over [low, high] sampled on a log scale.
func LogRealDimension(name string, low, high float64) Dimension {
	return Dimension{Name: name, Kind: RealKind, Low: low, High: high, Log: true}
}

// CategoricalDimension returns a categorical dimension over choices.
func CategoricalDimension(name string, choices ...string) Dimension {
	return Dimension{Name: name, Kind: CategoricalKind, Choices: append([]string(nil), choices...)}
}

// Span returns High - Low for numeric dimensions.
func (d Dimension) Span() float64 {
	return d.High - d.Low
}

// Contains reports whether v is a legal value of the dimension.
func (d Dimension) Contains(v Value) bool {
	if v.Kind() != d.Kind {
		return false
	}
	switch d.Kind {
	case IntKind:
		i := float64(v.Int())
		return i >= d.Low && i <= d.High
	case RealKind:
		f := v.Real()
		return !math.IsNaN(f) && f >= d.Low && f <= d.High
	case CategoricalKind:
		return d.choiceIndex(v.Category()) >= 0
	}
	return false
}

// ChoiceIndex returns the position of label in Choices, or -1.
func (d Dimension) ChoiceIndex(label string) int {
	return d.choiceIndex(label)
}

func (d Dimension) choiceIndex(label string) int {
	for i, c := range d.Choices {
		if c == label {
			return i
		}
	}
	return -1
}

func (d Dimension) validate() error {
	if d.Name == "" {
		return InvalidSpaceError("dimension name must not be empty")
	}
	switch d.Kind {
	case IntKind:
		if d.Low != math.Trunc(d.Low) || d.High != math.Trunc(d.High) {
			return InvalidSpaceError("dimension %q: integer bounds must be whole numbers", d.Name)
		}
		fallthrough
	case RealKind:
		if math.IsNaN(d.Low) || math.IsNaN(d.High) || math.IsInf(d.Low, 0) || math.IsInf(d.High, 0) {
			return InvalidSpaceError("dimension %q: bounds must be finite", d.Name)
		}
		if d.Low >= d.High {
			return InvalidSpaceError("dimension %q: lower bound %v must be below upper bound %v", d.Name, d.Low, d.High)
		}
		if d.Log && (d.Kind != RealKind || d.Low <= 0) {
			return InvalidSpaceError("dimension %q: log scale needs a real dimension with a positive lower bound", d.Name)
		}
	case CategoricalKind:
		if len(d.Choices) == 0 {
			return InvalidSpaceError("dimension %q: categorical dimension needs at least one choice", d.Name)
		}
		seen := make(map[string]struct{}, len(d.Choices))
		for _, c := range d.Choices {
			if _, dup := seen[c]; dup {
				return InvalidSpaceError("dimension %q: duplicate choice %q", d.Name, c)
			}
			seen[c] = struct{}{}
		}
	default:
		return InvalidSpaceError("dimension %q: unknown kind %d", d.Name, d.Kind)
	}
	return nil
}

// SearchSpace is an ordered, immutable set of dimensions.
type SearchSpace struct {
	dims  []Dimension
	index map[string]int
}

// NewSearchSpace validates dims and returns the space they describe.
func NewSearchSpace(dims ...Dimension) (*SearchSpace, error) {
	if len(dims) == 0 {
		return nil, InvalidSpaceError("search space needs at least one dimension")
	}

	s := &SearchSpace{
		dims:  make([]Dimension, len(dims)),
		index: make(map[string]int, len(dims)),
	}
	for i, d := range dims {
		if err := d.validate(); err != nil {
			return nil, err
		}
		if _, dup := s.index[d.Name]; dup {
			return nil, InvalidSpaceError("duplicate dimension %q", d.Name)
		}
		d.Choices = append([]string(nil), d.Choices...)
		s.dims[i] = d
		s.index[d.Name] = i
	}
	return s, nil
}

// Dimensions returns the dimensions in declaration order.
func (s *SearchSpace) Dimensions() []Dimension {
	out := make([]Dimension, len(s.dims))
	for i, d := range s.dims {
		d.Choices = append([]string(nil), d.Choices...)
		out[i] = d
	}
	return out
}

// Dimension looks up a dimension by name.
func (s *SearchSpace) Dimension(name string) (Dimension, bool) {
	i, ok := s.index[name]
	if !ok {
		return Dimension{}, false
	}
	return s.dims[i], true
}

// Len returns the number of dimensions.
func (s *SearchSpace) Len() int {
	return len(s.dims)
}

// Names returns the dimension names in declaration order.
func (s *SearchSpace) Names() []string {
	names := make([]string, len(s.dims))
	for i, d := range s.dims {
		names[i] = d.Name
	}
	return names
}

// Validate checks that cfg assigns a legal value to every dimension and to
// nothing else.
func (s *SearchSpace) Validate(cfg Configuration) error {
	if cfg.Len() != len(s.dims) {
		return InvalidConfigError("configuration has %d values, space has %d dimensions", cfg.Len(), len(s.dims))
	}
	for _, d := range s.dims {
		v, ok := cfg.Get(d.Name)
		if !ok {
			return InvalidConfigError("configuration is missing dimension %q", d.Name)
		}
		if !d.Contains(v) {
			return InvalidConfigError("value %s is outside dimension %q", v, d.Name)
		}
	}
	return nil
}
