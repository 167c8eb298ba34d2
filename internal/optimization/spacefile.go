package optimization

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// spaceFile is the on-disk form of a search space.
type spaceFile struct {
	Dimensions []struct {
		Name    string   `yaml:"name"`
		Type    string   `yaml:"type"`
		Low     *float64 `yaml:"low"`
		High    *float64 `yaml:"high"`
		Log     bool     `yaml:"log"`
		Choices []string `yaml:"choices"`
	} `yaml:"dimensions"`
}

// LoadSearchSpace reads a YAML search space definition from path.
func LoadSearchSpace(path string) (*SearchSpace, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read search space: %w", err)
	}
	return ParseSearchSpace(data)
}

// ParseSearchSpace decodes a YAML search space definition.
func ParseSearchSpace(data []byte) (*SearchSpace, error) {
	var f spaceFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, WrapError(err, KindInvalidSpace, "decode search space")
	}

	dims := make([]Dimension, 0, len(f.Dimensions))
	for _, fd := range f.Dimensions {
		d := Dimension{Name: fd.Name, Log: fd.Log}
		switch strings.ToLower(fd.Type) {
		case "int", "integer":
			d.Kind = IntKind
		case "real", "float":
			d.Kind = RealKind
		case "categorical", "category":
			d.Kind = CategoricalKind
			d.Choices = fd.Choices
		default:
			return nil, InvalidSpaceError("dimension %q: unknown type %q", fd.Name, fd.Type)
		}
		if d.Kind != CategoricalKind {
			if fd.Low == nil || fd.High == nil {
				return nil, InvalidSpaceError("dimension %q: low and high are required", fd.Name)
			}
			d.Low, d.High = *fd.Low, *fd.High
		}
		dims = append(dims, d)
	}
	return NewSearchSpace(dims...)
}
