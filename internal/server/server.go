package server

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/copyleftdev/hypertune/internal/config"
	apperrors "github.com/copyleftdev/hypertune/internal/errors"
	"github.com/copyleftdev/hypertune/internal/evaluation"
	"github.com/copyleftdev/hypertune/internal/logging"
	"github.com/copyleftdev/hypertune/internal/optimization"
	"github.com/copyleftdev/hypertune/internal/sink"
	"github.com/copyleftdev/hypertune/internal/study"
)

// Status is the lifecycle state of a study.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the study can no longer change.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// studyState tracks one study. Fields other than runner, budget and the
// creation data are guarded by Server.mu.
type studyState struct {
	ID        string
	Model     string
	Budget    int
	CreatedAt time.Time
	runner    *study.Runner
	cancel    context.CancelFunc

	status     Status
	startedAt  *time.Time
	finishedAt *time.Time
	err        error
	result     *study.BestResult
}

// Server implements the HTTP and JSON-RPC interface of the study service.
// It starts studies in the background, reports their progress and cancels
// them on request.
type Server struct {
	cfg      *config.Config
	logger   *logging.Logger
	metrics  *study.Metrics
	validate *validator.Validate

	// slots bounds the number of studies running at once.
	slots       chan struct{}
	metricsSink sink.ResultSink
	paramsSink  sink.ResultSink

	ctx    context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	closed bool

	mu      sync.RWMutex
	studies map[string]*studyState
}

// NewServer creates a new server instance with the given config, logger and
// study metrics. Metrics may be nil.
func NewServer(cfg *config.Config, logger *logging.Logger, metrics *study.Metrics) *Server {
	workers := cfg.Optimization.WorkerCount
	if workers < 1 {
		workers = 1
	}
	ctx, stop := context.WithCancel(context.Background())

	s := &Server{
		cfg:      cfg,
		logger:   logger.Named("server"),
		metrics:  metrics,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		slots:    make(chan struct{}, workers),
		ctx:      ctx,
		stop:     stop,
		studies:  make(map[string]*studyState),
	}
	if cfg.Study.MetricsPath != "" {
		s.metricsSink = sink.NewCSVSink(cfg.Study.MetricsPath)
	}
	if cfg.Study.ParamsPath != "" {
		s.paramsSink = sink.NewCSVSink(cfg.Study.ParamsPath)
	}
	return s
}

func (s *Server) RegisterRoutes(r chi.Router) {
	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/studies", s.handleCreateStudy)
		r.Get("/studies", s.handleListStudies)
		r.Get("/studies/{id}", s.handleGetStudy)
		r.Delete("/studies/{id}", s.handleCancelStudy)
	})

	// JSON-RPC 2.0 endpoint
	r.Post("/rpc", s.handleJSONRPC)
}

// Close cancels every study and waits for their goroutines to return.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.stop()
	s.wg.Wait()
	return nil
}

// startStudy validates req, prepares the study synchronously so that bad
// datasets and spaces are reported to the caller, and runs it in the
// background.
func (s *Server) startStudy(req *StudyRequest) (*StudyStatus, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, apperrors.BadRequestf("%v", err)
	}

	id := "study_" + uuid.NewString()[:8]
	spec, budget, err := req.spec(s.cfg.Study, s.cfg.HTTP.DataDir)
	if err != nil {
		return nil, err
	}
	spec.ID = id
	spec.Logger = s.logger.WithField("study_id", id)
	spec.Metrics = s.metrics
	spec.MetricsSink = s.metricsSink
	spec.ParamsSink = s.paramsSink

	runner, err := study.Setup(spec)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, apperrors.Unavailablef("server is shutting down")
	}
	ctx, cancel := context.WithCancel(s.ctx)
	st := &studyState{
		ID:        id,
		Model:     spec.Model,
		Budget:    budget,
		CreatedAt: time.Now(),
		runner:    runner,
		cancel:    cancel,
		status:    StatusPending,
	}
	s.studies[id] = st
	s.wg.Add(1)
	view := s.statusLocked(st, false)
	s.mu.Unlock()

	go s.runStudy(ctx, st)

	s.logger.Info("Study accepted", map[string]interface{}{
		"study_id": id,
		"model":    spec.Model,
		"budget":   budget,
	})
	return view, nil
}

// runStudy waits for a free slot and runs the study to its end.
func (s *Server) runStudy(ctx context.Context, st *studyState) {
	defer s.wg.Done()
	defer st.cancel()

	select {
	case s.slots <- struct{}{}:
		defer func() { <-s.slots }()
	case <-ctx.Done():
		s.finishStudy(st, nil, ctx.Err())
		return
	}

	s.mu.Lock()
	if st.status.Terminal() {
		s.mu.Unlock()
		return
	}
	now := time.Now()
	st.status = StatusRunning
	st.startedAt = &now
	s.mu.Unlock()

	result, err := st.runner.Run(ctx, st.Budget)
	s.finishStudy(st, result, err)
}

func (s *Server) finishStudy(st *studyState, result *study.BestResult, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st.status.Terminal() {
		return
	}
	now := time.Now()
	st.finishedAt = &now
	st.result = result

	switch {
	case err == nil:
		st.status = StatusCompleted
		s.logger.Info("Study completed", map[string]interface{}{
			"study_id":  st.ID,
			"loss":      result.Loss,
			"truncated": result.Truncated,
		})
	case errors.Is(err, context.Canceled):
		st.status = StatusCancelled
	default:
		st.status = StatusFailed
		st.err = err
		s.logger.WithError(err).Warn("Study failed", map[string]interface{}{
			"study_id": st.ID,
		})
	}
}

// cancelStudy stops a pending or running study.
func (s *Server) cancelStudy(id string) (*StudyStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.studies[id]
	if !ok {
		return nil, apperrors.NotFoundf("study %q", id)
	}
	if st.status.Terminal() {
		return nil, apperrors.Conflictf("study %s is already %s", id, st.status)
	}

	st.cancel()
	now := time.Now()
	st.status = StatusCancelled
	st.finishedAt = &now

	s.logger.Info("Study cancelled", map[string]interface{}{
		"study_id": id,
	})
	return s.statusLocked(st, false), nil
}

func (s *Server) studyStatus(id string, history bool) (*StudyStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.studies[id]
	if !ok {
		return nil, apperrors.NotFoundf("study %q", id)
	}
	return s.statusLocked(st, history), nil
}

func (s *Server) listStudies() []*StudyStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*StudyStatus, 0, len(s.studies))
	for _, st := range s.studies {
		out = append(out, s.statusLocked(st, false))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// StudyStatus is the wire form of a study's progress.
type StudyStatus struct {
	ID         string       `json:"id"`
	Status     Status       `json:"status"`
	Model      string       `json:"model"`
	Budget     int          `json:"budget"`
	Completed  int          `json:"completed"`
	Failed     int          `json:"failed"`
	Progress   float64      `json:"progress"`
	CreatedAt  time.Time    `json:"created_at"`
	StartedAt  *time.Time   `json:"started_at,omitempty"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
	Error      string       `json:"error,omitempty"`
	Best       *TrialView   `json:"best,omitempty"`
	Result     *ResultView  `json:"result,omitempty"`
	History    []*TrialView `json:"history,omitempty"`
}

// TrialView is the wire form of a trial. Failed trials have a null loss.
type TrialView struct {
	Index         int                        `json:"index"`
	Configuration optimization.Configuration `json:"configuration"`
	Loss          *float64                   `json:"loss"`
	DurationMs    float64                    `json:"duration_ms"`
	State         optimization.TrialState    `json:"state"`
	Error         string                     `json:"error,omitempty"`
}

// ResultView is the wire form of a finished study's result.
type ResultView struct {
	Configuration  optimization.Configuration `json:"configuration"`
	Loss           *float64                   `json:"loss"`
	Metrics        evaluation.Metrics         `json:"metrics"`
	HoldoutMetrics *evaluation.Metrics        `json:"holdout_metrics,omitempty"`
	TotalSeconds   float64                    `json:"total_seconds"`
	Trials         int                        `json:"trials"`
	Failed         int                        `json:"failed"`
	Truncated      bool                       `json:"truncated"`
}

// statusLocked builds the view of st. Callers hold s.mu.
func (s *Server) statusLocked(st *studyState, history bool) *StudyStatus {
	trials := st.runner.Trials()
	view := &StudyStatus{
		ID:         st.ID,
		Status:     st.status,
		Model:      st.Model,
		Budget:     st.Budget,
		Completed:  len(trials),
		CreatedAt:  st.CreatedAt,
		StartedAt:  st.startedAt,
		FinishedAt: st.finishedAt,
	}
	if st.Budget > 0 {
		view.Progress = math.Min(1, float64(len(trials))/float64(st.Budget))
	}
	if st.err != nil {
		view.Error = st.err.Error()
	}
	for _, t := range trials {
		if t.Failed() {
			view.Failed++
		}
	}
	if best, ok := st.runner.Best(); ok && !best.Failed() {
		view.Best = trialView(best)
	}
	if r := st.result; r != nil {
		view.Result = &ResultView{
			Configuration:  r.Configuration,
			Loss:           finite(r.Loss),
			Metrics:        r.Metrics,
			HoldoutMetrics: r.HoldoutMetrics,
			TotalSeconds:   r.TotalDuration.Seconds(),
			Trials:         r.Trials,
			Failed:         r.Failed,
			Truncated:      r.Truncated,
		}
	}
	if history {
		view.History = make([]*TrialView, len(trials))
		for i, t := range trials {
			view.History[i] = trialView(t)
		}
	}
	return view
}

func trialView(t optimization.Trial) *TrialView {
	v := &TrialView{
		Index:         t.Index,
		Configuration: t.Configuration,
		Loss:          finite(t.Loss),
		DurationMs:    float64(t.Duration.Microseconds()) / 1000.0,
		State:         t.State,
	}
	if t.Err != nil {
		v.Error = t.Err.Error()
	}
	return v
}

// finite returns nil for values JSON cannot carry.
func finite(v float64) *float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return nil
	}
	return &v
}
