package optimization

import (
	"encoding/json"
	"sort"
	"strconv"
)

// Value is a single hyperparameter value carrying the kind of the dimension
// it was drawn from.
type Value struct {
	kind ValueKind
	i    int
	f    float64
	s    string
}

// IntValue returns an integer value.
func IntValue(v int) Value { return Value{kind: IntKind, i: v} }

// RealValue returns a real value.
func RealValue(v float64) Value { return Value{kind: RealKind, f: v} }

// CategoryValue returns a categorical value.
func CategoryValue(label string) Value { return Value{kind: CategoricalKind, s: label} }

// Kind returns the variant tag.
func (v Value) Kind() ValueKind { return v.kind }

// Int returns the integer payload. Zero for other kinds.
func (v Value) Int() int { return v.i }

// Real returns the real payload. Integer values are converted.
func (v Value) Real() float64 {
	if v.kind == IntKind {
		return float64(v.i)
	}
	return v.f
}

// Category returns the label payload. Empty for other kinds.
func (v Value) Category() string { return v.s }

// String formats the value the way it is written to result files.
func (v Value) String() string {
	switch v.kind {
	case IntKind:
		return strconv.Itoa(v.i)
	case RealKind:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case CategoricalKind:
		return v.s
	default:
		return "None"
	}
}

// MarshalJSON encodes the payload as a plain JSON scalar.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case IntKind:
		return json.Marshal(v.i)
	case RealKind:
		return json.Marshal(v.f)
	case CategoricalKind:
		return json.Marshal(v.s)
	default:
		return []byte("null"), nil
	}
}

// Configuration is an immutable assignment of values to dimension names.
type Configuration struct {
	values map[string]Value
}

// NewConfiguration copies values into a new Configuration.
func NewConfiguration(values map[string]Value) Configuration {
	c := Configuration{values: make(map[string]Value, len(values))}
	for k, v := range values {
		c.values[k] = v
	}
	return c
}

// Get returns the value for name.
func (c Configuration) Get(name string) (Value, bool) {
	v, ok := c.values[name]
	return v, ok
}

// Int returns the integer value for name, or def when absent or not an int.
func (c Configuration) Int(name string, def int) int {
	if v, ok := c.values[name]; ok && v.kind == IntKind {
		return v.i
	}
	return def
}

// Real returns the numeric value for name, or def when absent or categorical.
func (c Configuration) Real(name string, def float64) float64 {
	if v, ok := c.values[name]; ok && (v.kind == RealKind || v.kind == IntKind) {
		return v.Real()
	}
	return def
}

// Category returns the label for name, or def when absent or not categorical.
func (c Configuration) Category(name string, def string) string {
	if v, ok := c.values[name]; ok && v.kind == CategoricalKind {
		return v.s
	}
	return def
}

// Len returns the number of assigned dimensions.
func (c Configuration) Len() int { return len(c.values) }

// Names returns the assigned dimension names, sorted.
func (c Configuration) Names() []string {
	names := make([]string, 0, len(c.values))
	for k := range c.values {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Map returns a copy of the underlying assignment.
func (c Configuration) Map() map[string]Value {
	out := make(map[string]Value, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// MarshalJSON encodes the configuration as a JSON object.
func (c Configuration) MarshalJSON() ([]byte, error) {
	if c.values == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(c.values)
}
