package server

import (
	"encoding/json"
	"path/filepath"
	"time"

	"github.com/copyleftdev/hypertune/internal/config"
	apperrors "github.com/copyleftdev/hypertune/internal/errors"
	"github.com/copyleftdev/hypertune/internal/optimization"
	"github.com/copyleftdev/hypertune/internal/study"
)

// StudyRequest is the body of POST /api/v1/studies and the params of
// study.start. Empty fields take the server's STUDY_* defaults. Dataset is
// relative to the server's data directory.
type StudyRequest struct {
	Dataset       string   `json:"dataset"`
	Target        string   `json:"target"`
	Features      []string `json:"features" validate:"omitempty,dive,required"`
	Model         string   `json:"model" validate:"omitempty,oneof=random_forest decision_tree ridge"`
	ModelName     string   `json:"model_name" validate:"omitempty,max=128"`
	ModelCategory string   `json:"model_category" validate:"omitempty,max=128"`
	// Space is an inline search space in the YAML space-file layout.
	Space     json.RawMessage `json:"space,omitempty"`
	Trials    int             `json:"trials" validate:"gte=0,lte=100000"`
	Folds     int             `json:"folds" validate:"omitempty,gte=2,lte=100"`
	Seed      *int64          `json:"seed"`
	TestSize  *float64        `json:"test_size" validate:"omitempty,gte=0,lt=1"`
	Timeout   string          `json:"timeout"`
	BatchSize int             `json:"batch_size" validate:"gte=0,lte=64"`
	Bandwidth string          `json:"bandwidth" validate:"omitempty,oneof=neighbor scott silverman"`
}

// spec overlays the request on the defaults.
func (r *StudyRequest) spec(defaults config.StudyConfig, dataDir string) (study.Spec, int, error) {
	spec := study.Spec{StudyConfig: defaults}
	spec.Features = append([]string(nil), defaults.Features...)

	if r.Dataset != "" {
		path, err := resolveDataset(dataDir, r.Dataset)
		if err != nil {
			return spec, 0, err
		}
		spec.Dataset = path
	}
	if r.Target != "" {
		spec.Target = r.Target
	}
	if len(r.Features) > 0 {
		spec.Features = append([]string(nil), r.Features...)
	}
	if r.Model != "" && r.Model != spec.Model {
		spec.Model = r.Model
		// The default space file belongs to the default model.
		spec.SpaceFile = ""
	}
	if r.ModelName != "" {
		spec.ModelName = r.ModelName
	}
	if r.ModelCategory != "" {
		spec.ModelCategory = r.ModelCategory
	}
	if r.Trials > 0 {
		spec.Trials = r.Trials
	}
	if r.Folds > 0 {
		spec.Folds = r.Folds
	}
	if r.Seed != nil {
		spec.Seed = *r.Seed
	}
	if r.TestSize != nil {
		spec.TestSize = *r.TestSize
	}
	if r.BatchSize > 0 {
		spec.BatchSize = r.BatchSize
	}
	if r.Bandwidth != "" {
		spec.Bandwidth = r.Bandwidth
	}
	if r.Timeout != "" {
		d, err := time.ParseDuration(r.Timeout)
		if err != nil {
			return spec, 0, apperrors.BadRequestf("invalid timeout %q: %v", r.Timeout, err)
		}
		spec.Timeout = d
	}
	if len(r.Space) > 0 && string(r.Space) != "null" {
		space, err := optimization.ParseSearchSpace(r.Space)
		if err != nil {
			return spec, 0, err
		}
		spec.Space = space
	}

	if err := spec.Validate(); err != nil {
		return spec, 0, err
	}
	return spec, spec.Trials, nil
}

// resolveDataset maps a client-supplied dataset name into dir. Absolute
// paths and names that climb out of dir are refused.
func resolveDataset(dir, name string) (string, error) {
	if !filepath.IsLocal(name) {
		return "", apperrors.BadRequestf("dataset %q must be a relative path inside the data directory", name)
	}
	return filepath.Join(dir, name), nil
}
