// Package sink appends study results to CSV files.
package sink

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/copyleftdev/hypertune/internal/evaluation"
	"github.com/copyleftdev/hypertune/internal/optimization"
)

// NoneValue is written for parameters absent from a configuration.
const NoneValue = "None"

// Record is one row of a result file.
type Record interface {
	Header() []string
	Row() []string
}

// ResultSink is an append-only destination for records.
type ResultSink interface {
	Append(rec Record) error
}

// CSVSink appends records to a CSV file. The header row is written when the
// file is missing or empty; later appends write data rows only.
type CSVSink struct {
	path string
	mu   sync.Mutex
}

var _ ResultSink = (*CSVSink)(nil)

// NewCSVSink creates a sink writing to path.
func NewCSVSink(path string) *CSVSink {
	return &CSVSink{path: path}
}

// Path returns the destination file.
func (s *CSVSink) Path() string {
	return s.path
}

// Append writes rec, preceded by its header if the file has no content yet.
func (s *CSVSink) Append(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create result directory: %w", err)
		}
	}

	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", s.path, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", s.path, err)
	}

	w := csv.NewWriter(file)
	if info.Size() == 0 {
		if err := w.Write(rec.Header()); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
	}
	if err := w.Write(rec.Row()); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to flush %s: %w", s.path, err)
	}
	return file.Close()
}

// MetricsRecord is one row of the model performance file.
type MetricsRecord struct {
	ModelName      string
	ModelCategory  string
	Metrics        evaluation.Metrics
	CompletionTime time.Duration
}

// MetricsHeader is the column order of the model performance file.
var MetricsHeader = []string{"Model Name", "Model Category", "MSE", "RMSE", "MAE", "R2", "MAPE", "Completion_Time"}

// Header implements Record.
func (r MetricsRecord) Header() []string {
	return append([]string(nil), MetricsHeader...)
}

// Row implements Record. The completion time is written in seconds.
func (r MetricsRecord) Row() []string {
	return []string{
		r.ModelName,
		r.ModelCategory,
		FormatFloat(r.Metrics.MSE),
		FormatFloat(r.Metrics.RMSE),
		FormatFloat(r.Metrics.MAE),
		FormatFloat(r.Metrics.R2),
		FormatFloat(r.Metrics.MAPE),
		FormatFloat(r.CompletionTime.Seconds()),
	}
}

// ParamsRecord is one row of the best-parameters file: the model name
// followed by one column per dimension in space order.
type ParamsRecord struct {
	ModelName     string
	Dimensions    []string
	Configuration optimization.Configuration
}

// NewParamsRecord lays out cfg in the dimension order of space.
func NewParamsRecord(modelName string, space *optimization.SearchSpace, cfg optimization.Configuration) ParamsRecord {
	return ParamsRecord{
		ModelName:     modelName,
		Dimensions:    space.Names(),
		Configuration: cfg,
	}
}

// Header implements Record.
func (r ParamsRecord) Header() []string {
	return append([]string{"Model Name"}, r.Dimensions...)
}

// Row implements Record.
func (r ParamsRecord) Row() []string {
	row := make([]string, 0, len(r.Dimensions)+1)
	row = append(row, r.ModelName)
	for _, name := range r.Dimensions {
		v, ok := r.Configuration.Get(name)
		if !ok {
			row = append(row, NoneValue)
			continue
		}
		if v.Kind() == optimization.RealKind {
			row = append(row, FormatFloat(v.Real()))
			continue
		}
		row = append(row, v.String())
	}
	return row
}

// FormatFloat renders v in its shortest exact decimal form.
func FormatFloat(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return strconv.FormatFloat(v, 'g', -1, 64)
	}
	return decimal.NewFromFloat(v).String()
}
