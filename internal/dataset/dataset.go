// Package dataset loads tabular training data from CSV files.
package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/mat"
)

// Dataset is an in-memory table of numeric columns. Rows keep file order.
// Columns that do not parse as numbers are label encoded.
type Dataset struct {
	headers  []string
	columns  map[string][]float64
	encoders map[string]*LabelEncoder
	rows     int
}

// Load reads a CSV file with a header row.
func Load(path string) (*Dataset, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer file.Close()

	ds, err := Read(file)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	return ds, nil
}

// Read parses CSV data with a header row. Rows with an empty cell are
// skipped.
func Read(r io.Reader) (*Dataset, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	headers, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("dataset is empty")
		}
		return nil, fmt.Errorf("failed to read headers: %w", err)
	}
	for i, h := range headers {
		headers[i] = strings.TrimSpace(h)
	}
	seen := make(map[string]bool, len(headers))
	for _, h := range headers {
		if h == "" {
			return nil, fmt.Errorf("dataset has an unnamed column")
		}
		if seen[h] {
			return nil, fmt.Errorf("duplicate column %q", h)
		}
		seen[h] = true
	}

	raw := make([][]string, len(headers))
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("error reading record on line %d: %w", line, err)
		}

		hasEmpty := false
		for _, val := range record {
			if strings.TrimSpace(val) == "" {
				hasEmpty = true
				break
			}
		}
		if hasEmpty {
			continue
		}

		for j, val := range record {
			raw[j] = append(raw[j], strings.TrimSpace(val))
		}
	}

	rows := 0
	if len(raw) > 0 {
		rows = len(raw[0])
	}
	if rows == 0 {
		return nil, fmt.Errorf("insufficient data: no complete rows")
	}

	ds := &Dataset{
		headers:  headers,
		columns:  make(map[string][]float64, len(headers)),
		encoders: make(map[string]*LabelEncoder),
		rows:     rows,
	}
	for j, name := range headers {
		values, ok := parseNumeric(raw[j])
		if !ok {
			enc := NewLabelEncoder()
			values = enc.FitTransform(raw[j])
			ds.encoders[name] = enc
		}
		ds.columns[name] = values
	}
	return ds, nil
}

func parseNumeric(cells []string) ([]float64, bool) {
	values := make([]float64, len(cells))
	for i, cell := range cells {
		d, err := decimal.NewFromString(cell)
		if err != nil {
			return nil, false
		}
		values[i] = d.InexactFloat64()
	}
	return values, true
}

// Rows returns the number of rows.
func (d *Dataset) Rows() int {
	return d.rows
}

// Columns returns the column names in file order.
func (d *Dataset) Columns() []string {
	return append([]string(nil), d.headers...)
}

// Column returns a copy of the named column.
func (d *Dataset) Column(name string) ([]float64, error) {
	col, ok := d.columns[name]
	if !ok {
		return nil, fmt.Errorf("unknown column %q", name)
	}
	return append([]float64(nil), col...), nil
}

// Encoder returns the label encoder of a non-numeric column.
func (d *Dataset) Encoder(name string) (*LabelEncoder, bool) {
	enc, ok := d.encoders[name]
	return enc, ok
}

// Matrix assembles the named feature columns into a rows × len(features)
// matrix.
func (d *Dataset) Matrix(features []string) (*mat.Dense, error) {
	if len(features) == 0 {
		return nil, fmt.Errorf("no feature columns selected")
	}
	m := mat.NewDense(d.rows, len(features), nil)
	for j, name := range features {
		col, ok := d.columns[name]
		if !ok {
			return nil, fmt.Errorf("unknown feature column %q", name)
		}
		m.SetCol(j, col)
	}
	return m, nil
}

// XY returns the feature matrix and the target vector.
func (d *Dataset) XY(features []string, target string) (*mat.Dense, []float64, error) {
	for _, f := range features {
		if f == target {
			return nil, nil, fmt.Errorf("target %q is also a feature", target)
		}
	}
	X, err := d.Matrix(features)
	if err != nil {
		return nil, nil, err
	}
	y, err := d.Column(target)
	if err != nil {
		return nil, nil, fmt.Errorf("target: %w", err)
	}
	return X, y, nil
}

// LabelEncoder maps string labels to dense integer codes. Codes follow the
// sorted label order so encodings are stable across runs.
type LabelEncoder struct {
	classToCode map[string]int
	codeToClass []string
}

// NewLabelEncoder creates an empty encoder.
func NewLabelEncoder() *LabelEncoder {
	return &LabelEncoder{classToCode: make(map[string]int)}
}

// Fit learns the label set.
func (le *LabelEncoder) Fit(labels []string) {
	unique := make(map[string]bool)
	for _, l := range labels {
		unique[l] = true
	}
	le.codeToClass = le.codeToClass[:0]
	for l := range unique {
		le.codeToClass = append(le.codeToClass, l)
	}
	sort.Strings(le.codeToClass)

	le.classToCode = make(map[string]int, len(le.codeToClass))
	for i, l := range le.codeToClass {
		le.classToCode[l] = i
	}
}

// Transform encodes labels. Unknown labels map to -1.
func (le *LabelEncoder) Transform(labels []string) []float64 {
	out := make([]float64, len(labels))
	for i, l := range labels {
		code, ok := le.classToCode[l]
		if !ok {
			code = -1
		}
		out[i] = float64(code)
	}
	return out
}

// FitTransform fits and encodes labels in one step.
func (le *LabelEncoder) FitTransform(labels []string) []float64 {
	le.Fit(labels)
	return le.Transform(labels)
}

// Classes returns the labels in code order.
func (le *LabelEncoder) Classes() []string {
	return append([]string(nil), le.codeToClass...)
}
