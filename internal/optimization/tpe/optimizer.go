// Package tpe implements the Tree-structured Parzen Estimator sampler.
//
// After a warm-up of uniformly random proposals, the recorded trials are
// split at the γ-quantile of their losses into a good and a bad group. Each
// group gets an independent per-dimension density, candidates are drawn from
// the good density and the candidate with the highest good-to-bad density
// ratio is proposed.
package tpe

import (
	"context"
	"math"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/copyleftdev/hypertune/internal/optimization"
	"github.com/copyleftdev/hypertune/internal/optimization/acquisition"
	"github.com/copyleftdev/hypertune/internal/optimization/kernels"
)

// Config holds the TPE tuning knobs. Zero values select the defaults.
type Config struct {
	// Gamma is the fraction of trials treated as good, in (0, 1).
	Gamma float64
	// WarmupTrials is the number of uniformly random proposals made before
	// the densities are used. Zero selects the default; NoWarmup turns the
	// warm-up off.
	WarmupTrials int
	// Candidates is the number of draws from the good density scored per
	// proposal.
	Candidates int
	// PriorWeight is the mixture weight of the prior component, relative to
	// a weight of 1 per observation. It is also the categorical smoothing
	// pseudo-count.
	PriorWeight float64
	// MinBandwidth is the smallest kernel bandwidth as a fraction of a
	// dimension's range. The floor also shrinks with the observation count,
	// see kernels.BandwidthFloor.
	MinBandwidth float64
	// Bandwidth chooses one shared kernel bandwidth from the observations.
	// Nil sizes every kernel from the distance to its neighbors.
	Bandwidth kernels.BandwidthRule
	// Kernel is the smoothing kernel of the numeric estimators.
	Kernel kernels.Kernel
	// Seed seeds the proposal RNG. Zero seeds from the clock.
	Seed int64
	// Logger receives debug output. Nil disables logging.
	Logger *zap.Logger
}

// NoWarmup disables the warm-up phase when set as Config.WarmupTrials.
const NoWarmup = -1

// DefaultConfig returns the default TPE configuration.
func DefaultConfig() Config {
	return Config{
		Gamma:        0.15,
		WarmupTrials: 10,
		Candidates:   24,
		PriorWeight:  1.0,
		MinBandwidth: 0.01,
		Kernel:       kernels.NewTruncatedGaussian(),
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Gamma == 0 {
		c.Gamma = def.Gamma
	}
	switch {
	case c.WarmupTrials == 0:
		c.WarmupTrials = def.WarmupTrials
	case c.WarmupTrials == NoWarmup:
		c.WarmupTrials = 0
	}
	if c.Candidates == 0 {
		c.Candidates = def.Candidates
	}
	if c.PriorWeight == 0 {
		c.PriorWeight = def.PriorWeight
	}
	if c.MinBandwidth == 0 {
		c.MinBandwidth = def.MinBandwidth
	}
	if c.Kernel == nil {
		c.Kernel = def.Kernel
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

func (c Config) validate() error {
	switch {
	case c.Gamma <= 0 || c.Gamma >= 1 || math.IsNaN(c.Gamma):
		return optimization.InvalidConfigError("gamma must be in (0, 1), got %v", c.Gamma)
	case c.WarmupTrials < 0:
		return optimization.InvalidConfigError("warm-up trials must not be negative, got %d", c.WarmupTrials)
	case c.Candidates < 1:
		return optimization.InvalidConfigError("candidates must be at least 1, got %d", c.Candidates)
	case c.PriorWeight <= 0 || math.IsInf(c.PriorWeight, 0) || math.IsNaN(c.PriorWeight):
		return optimization.InvalidConfigError("prior weight must be positive and finite, got %v", c.PriorWeight)
	case c.MinBandwidth <= 0 || c.MinBandwidth > 1:
		return optimization.InvalidConfigError("minimum bandwidth must be in (0, 1], got %v", c.MinBandwidth)
	}
	return nil
}

// Optimizer is a TPE sampler over a search space. It owns a Study holding the
// trial history.
type Optimizer struct {
	config Config
	space  *optimization.SearchSpace
	dims   []optimization.Dimension
	study  *optimization.Study
	ratio  *acquisition.DensityRatio
	logger *zap.Logger

	mu  sync.Mutex // guards rng
	rng *rand.Rand
}

var _ optimization.Sampler = (*Optimizer)(nil)

// New creates a TPE optimizer over space.
func New(space *optimization.SearchSpace, config Config) (*Optimizer, error) {
	if space == nil {
		return nil, optimization.InvalidSpaceError("tpe needs a search space")
	}
	config = config.withDefaults()
	if err := config.validate(); err != nil {
		return nil, err
	}

	study, err := optimization.NewStudy(space)
	if err != nil {
		return nil, err
	}

	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return &Optimizer{
		config: config,
		space:  space,
		dims:   space.Dimensions(),
		study:  study,
		ratio:  acquisition.NewDensityRatio(config.Gamma),
		logger: config.Logger.Named("tpe"),
		rng:    rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15)),
	}, nil
}

// Propose returns the next configuration to evaluate.
func (o *Optimizer) Propose(ctx context.Context) (optimization.Configuration, error) {
	if err := ctx.Err(); err != nil {
		return optimization.Configuration{}, err
	}

	history := o.study.Trials()

	o.mu.Lock()
	defer o.mu.Unlock()

	if len(history) == 0 || len(history) < o.config.WarmupTrials {
		cfg := o.sampleUniform()
		o.logger.Debug("warm-up proposal",
			zap.Int("trial", len(history)),
			zap.Any("configuration", cfg),
		)
		return cfg, nil
	}
	return o.proposeFromModel(history), nil
}

// ProposeBatch returns n proposals conditioned on the same history.
func (o *Optimizer) ProposeBatch(ctx context.Context, n int) ([]optimization.Configuration, error) {
	if n < 1 {
		return nil, optimization.InvalidConfigError("batch size must be at least 1, got %d", n)
	}
	out := make([]optimization.Configuration, 0, n)
	for i := 0; i < n; i++ {
		cfg, err := o.Propose(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, nil
}

// Record appends an evaluated trial to the history.
func (o *Optimizer) Record(trial optimization.Trial) error {
	if err := o.study.Record(trial); err != nil {
		return err
	}
	o.logger.Debug("trial recorded",
		zap.Int("trial", trial.Index),
		zap.Float64("loss", trial.Loss),
		zap.String("state", string(trial.State)),
	)
	return nil
}

// Best returns the trial with the lowest loss so far.
func (o *Optimizer) Best() (optimization.Trial, bool) {
	return o.study.Best()
}

// History returns the recorded trials in index order.
func (o *Optimizer) History() []optimization.Trial {
	return o.study.Trials()
}

// Space returns the search space.
func (o *Optimizer) Space() *optimization.SearchSpace {
	return o.space
}

// Study returns the underlying study.
func (o *Optimizer) Study() *optimization.Study {
	return o.study
}

// Config returns the effective configuration.
func (o *Optimizer) Config() Config {
	return o.config
}

func (o *Optimizer) sampleUniform() optimization.Configuration {
	values := make(map[string]optimization.Value, len(o.dims))
	for _, d := range o.dims {
		switch d.Kind {
		case optimization.IntKind:
			lo, hi := int(d.Low), int(d.High)
			values[d.Name] = optimization.IntValue(lo + o.rng.IntN(hi-lo+1))
		case optimization.RealKind:
			if d.Log {
				x := math.Log(d.Low) + o.rng.Float64()*(math.Log(d.High)-math.Log(d.Low))
				values[d.Name] = optimization.RealValue(kernels.Clamp(math.Exp(x), d.Low, d.High))
			} else {
				values[d.Name] = optimization.RealValue(d.Low + o.rng.Float64()*d.Span())
			}
		case optimization.CategoricalKind:
			values[d.Name] = optimization.CategoryValue(d.Choices[o.rng.IntN(len(d.Choices))])
		}
	}
	return optimization.NewConfiguration(values)
}

func (o *Optimizer) proposeFromModel(history []optimization.Trial) optimization.Configuration {
	sorted := append([]optimization.Trial(nil), history...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Loss < sorted[j].Loss
	})

	nGood := int(math.Ceil(o.ratio.Gamma() * float64(len(sorted))))
	if nGood < 1 {
		nGood = 1
	}
	good, bad := sorted[:nGood], sorted[nGood:]

	goodEst := make([]estimator, len(o.dims))
	badEst := make([]estimator, len(o.dims))
	for i, d := range o.dims {
		goodEst[i] = o.buildEstimator(d, good)
		badEst[i] = o.buildEstimator(d, bad)
	}

	candidates := make([]optimization.Configuration, o.config.Candidates)
	scores := make([]float64, o.config.Candidates)
	for c := range candidates {
		values := make(map[string]optimization.Value, len(o.dims))
		score := 0.0
		for i, d := range o.dims {
			v := toValue(d, goodEst[i].sample(o.rng))
			values[d.Name] = v
			if d.Kind == optimization.CategoricalKind && len(d.Choices) == 1 {
				continue
			}
			x := toCoord(d, v)
			score += o.ratio.Score(goodEst[i].logDensity(x), badEst[i].logDensity(x))
		}
		candidates[c] = optimization.NewConfiguration(values)
		scores[c] = score
	}

	best := acquisition.Argmax(scores)
	if best < 0 {
		best = 0
	}

	o.logger.Debug("model proposal",
		zap.Int("trial", len(history)),
		zap.Int("good", len(good)),
		zap.Int("bad", len(bad)),
		zap.Float64("score", scores[best]),
		zap.Float64("expected_improvement", o.ratio.ExpectedImprovement(scores[best])),
		zap.Any("configuration", candidates[best]),
	)
	return candidates[best]
}

// buildEstimator fits the density of one dimension over trials.
func (o *Optimizer) buildEstimator(d optimization.Dimension, trials []optimization.Trial) estimator {
	if d.Kind == optimization.CategoricalKind {
		obs := make([]int, 0, len(trials))
		for _, t := range trials {
			v, ok := t.Configuration.Get(d.Name)
			if !ok {
				continue
			}
			if i := d.ChoiceIndex(v.Category()); i >= 0 {
				obs = append(obs, i)
			}
		}
		return newCategoricalEstimator(obs, len(d.Choices), o.config.PriorWeight)
	}

	obs := make([]float64, 0, len(trials))
	for _, t := range trials {
		v, ok := t.Configuration.Get(d.Name)
		if !ok {
			continue
		}
		obs = append(obs, toCoord(d, v))
	}
	low, high := coordBounds(d)
	return newParzenEstimator(obs, low, high, o.config)
}

// coordBounds returns the interval of a numeric dimension's internal
// coordinate. Integers own the unit interval around each value.
func coordBounds(d optimization.Dimension) (float64, float64) {
	switch {
	case d.Kind == optimization.IntKind:
		return d.Low - 0.5, d.High + 0.5
	case d.Log:
		return math.Log(d.Low), math.Log(d.High)
	default:
		return d.Low, d.High
	}
}

// toCoord maps a value to its internal coordinate.
func toCoord(d optimization.Dimension, v optimization.Value) float64 {
	switch d.Kind {
	case optimization.IntKind:
		return float64(v.Int())
	case optimization.CategoricalKind:
		return float64(d.ChoiceIndex(v.Category()))
	}
	if d.Log {
		return math.Log(v.Real())
	}
	return v.Real()
}

// toValue maps an internal coordinate back into the dimension.
func toValue(d optimization.Dimension, x float64) optimization.Value {
	switch d.Kind {
	case optimization.IntKind:
		return optimization.IntValue(int(kernels.Clamp(math.Round(x), d.Low, d.High)))
	case optimization.CategoricalKind:
		i := kernels.Clamp(int(x), 0, len(d.Choices)-1)
		return optimization.CategoryValue(d.Choices[i])
	}
	if d.Log {
		x = math.Exp(x)
	}
	return optimization.RealValue(kernels.Clamp(x, d.Low, d.High))
}
