package config

import (
	"strings"
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/copyleftdev/hypertune/internal/logging"
	"github.com/copyleftdev/hypertune/internal/optimization"
	"github.com/copyleftdev/hypertune/internal/optimization/kernels"
)

// StudyConfig holds the defaults of a tuning run.
type StudyConfig struct {
	Dataset       string        `env:"STUDY_DATASET" envDefault:"data/augmented_dataset.csv"`
	Target        string        `env:"STUDY_TARGET" envDefault:"Resource_Allocation"`
	Features      []string      `env:"STUDY_FEATURES" envSeparator:"," envDefault:"Application_Type,Signal_Strength,Latency,Required_Bandwidth,Allocated_Bandwidth"`
	Model         string        `env:"STUDY_MODEL" envDefault:"random_forest"`
	ModelName     string        `env:"STUDY_MODEL_NAME" envDefault:"RandomForest_BO_TPE"`
	ModelCategory string        `env:"STUDY_MODEL_CATEGORY" envDefault:"Ensemble Models"`
	SpaceFile     string        `env:"STUDY_SPACE_FILE"`
	Trials        int           `env:"STUDY_TRIALS" envDefault:"500"`
	Folds         int           `env:"STUDY_FOLDS" envDefault:"5"`
	Seed          int64         `env:"STUDY_SEED" envDefault:"42"`
	TestSize      float64       `env:"STUDY_TEST_SIZE" envDefault:"0.3"`
	Timeout       time.Duration `env:"STUDY_TIMEOUT" envDefault:"0s"`
	Gamma         float64       `env:"STUDY_GAMMA" envDefault:"0.15"`
	// Warmup of 0 proposes from the density model after the first trial.
	Warmup        int           `env:"STUDY_WARMUP" envDefault:"10"`
	Bandwidth     string        `env:"STUDY_BANDWIDTH" envDefault:"neighbor"`
	Candidates    int           `env:"STUDY_CANDIDATES" envDefault:"24"`
	FoldWorkers   int           `env:"STUDY_FOLD_WORKERS" envDefault:"0"`
	BatchSize     int           `env:"STUDY_BATCH_SIZE" envDefault:"1"`
	MetricsPath   string        `env:"STUDY_METRICS_PATH" envDefault:"data/model_performance_metrics.csv"`
	ParamsPath    string        `env:"STUDY_PARAMS_PATH" envDefault:"data/rf_best_params.csv"`
}

type Config struct {
	Environment string `env:"ENV" envDefault:"development"`
	HTTP        struct {
		Port            int           `env:"HTTP_PORT" envDefault:"8080"`
		ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
		WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
		IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
		ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s"`
		// DataDir is the only directory clients may name datasets in.
		DataDir         string        `env:"HTTP_DATA_DIR" envDefault:"data"`
	}
	Logging struct {
		Level  string `env:"LOG_LEVEL"`
		Format string `env:"LOG_FORMAT" envDefault:"json"`
		Output string `env:"LOG_OUTPUT" envDefault:"stderr"`
	}
	Study        StudyConfig
	Optimization struct {
		// WorkerCount bounds the studies the service runs at once.
		WorkerCount int `env:"OPT_WORKER_COUNT" envDefault:"10"`
	}
}

func Load() (*Config, error) {
	cfg := &Config{}

	// Parse environment variables
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Set default logging level based on environment
	if cfg.Logging.Level == "" {
		if cfg.Environment == "development" {
			cfg.Logging.Level = "debug"
		} else {
			cfg.Logging.Level = "info"
		}
	}

	for i, f := range cfg.Study.Features {
		cfg.Study.Features[i] = strings.TrimSpace(f)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings that would otherwise only fail mid-run.
func (c *Config) Validate() error {
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return optimization.InvalidConfigError("HTTP_PORT %d out of range", c.HTTP.Port)
	}
	if c.Optimization.WorkerCount < 1 {
		return optimization.InvalidConfigError("OPT_WORKER_COUNT must be at least 1, got %d", c.Optimization.WorkerCount)
	}
	return c.Study.Validate()
}

// Validate checks the study defaults.
func (s *StudyConfig) Validate() error {
	switch {
	case s.Target == "":
		return optimization.InvalidConfigError("target column must be set")
	case len(s.Features) == 0:
		return optimization.InvalidConfigError("at least one feature column must be set")
	case s.Trials < 1:
		return optimization.InvalidConfigError("trial budget must be at least 1, got %d", s.Trials)
	case s.Folds < 2:
		return optimization.InvalidConfigError("folds must be at least 2, got %d", s.Folds)
	case s.TestSize < 0 || s.TestSize >= 1:
		return optimization.InvalidConfigError("test size must be in [0, 1), got %v", s.TestSize)
	case s.Gamma <= 0 || s.Gamma >= 1:
		return optimization.InvalidConfigError("gamma must be in (0, 1), got %v", s.Gamma)
	case s.Warmup < 0:
		return optimization.InvalidConfigError("warm-up must not be negative, got %d", s.Warmup)
	case s.Candidates < 1:
		return optimization.InvalidConfigError("candidates must be at least 1, got %d", s.Candidates)
	case s.BatchSize < 1:
		return optimization.InvalidConfigError("batch size must be at least 1, got %d", s.BatchSize)
	case s.Timeout < 0:
		return optimization.InvalidConfigError("timeout must not be negative, got %v", s.Timeout)
	}
	if _, ok := kernels.LookupRule(s.Bandwidth); !ok {
		return optimization.InvalidConfigError("unknown bandwidth rule %q, want %s, %s or %s",
			s.Bandwidth, kernels.NeighborRule, kernels.ScottRule, kernels.SilvermanRule)
	}
	for _, f := range s.Features {
		if f == s.Target {
			return optimization.InvalidConfigError("target %q is also listed as a feature", f)
		}
	}
	return nil
}

// LoggingConfig returns the logger settings.
func (c *Config) LoggingConfig() *logging.Config {
	return &logging.Config{
		Level:  c.Logging.Level,
		Format: c.Logging.Format,
		Output: c.Logging.Output,
	}
}
