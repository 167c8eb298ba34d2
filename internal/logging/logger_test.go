package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()

	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry), line)
		out = append(out, entry)
	}
	return out
}

func TestLoggerLevelsAndFields(t *testing.T) {
	var buf bytes.Buffer
	logger := New(InfoLevel, &buf)

	logger.Debug("hidden")
	logger.WithField("trial", 3).Info("visible", map[string]interface{}{"loss": 1.5})
	logger.WithError(errors.New("boom")).Warn("warned")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 2)

	assert.Equal(t, "visible", entries[0]["message"])
	assert.Equal(t, "INFO", entries[0]["level"])
	assert.Equal(t, float64(3), entries[0]["trial"])
	assert.Equal(t, 1.5, entries[0]["loss"])
	assert.Contains(t, entries[0]["caller"], "logging/logger_test.go")

	assert.Equal(t, "boom", entries[1]["error"])
}

func TestLoggerSanitizesInfinity(t *testing.T) {
	var buf bytes.Buffer
	New(DebugLevel, &buf).Info("best", map[string]interface{}{"loss": math.Inf(1)})

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "+Inf", entries[0]["loss"])
}

func TestNamedAndTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(InfoLevel, &buf).WithFormat(TextFormat).Named("study").Named("runner")

	logger.Info("trial finished", map[string]interface{}{"b": 2, "a": 1})

	line := buf.String()
	assert.Contains(t, line, "INFO [study.runner] trial finished a=1 b=2")
	assert.True(t, strings.HasSuffix(line, "\n"))
}

func TestFatalExits(t *testing.T) {
	var buf bytes.Buffer
	logger := New(InfoLevel, &buf)
	code := -1
	logger.exit = func(c int) { code = c }

	logger.Fatal("going down")
	assert.Equal(t, 1, code)
	assert.Contains(t, buf.String(), "going down")
}

func TestNewLoggerConfig(t *testing.T) {
	logger, err := NewLogger(&Config{Level: "debug", Format: "text", Output: "stdout"})
	require.NoError(t, err)
	assert.Equal(t, DebugLevel, logger.Level())

	_, err = NewLogger(&Config{Format: "xml"})
	assert.Error(t, err)

	logger, err = NewLogger(nil)
	require.NoError(t, err)
	assert.Equal(t, InfoLevel, logger.Level())
}

func TestZapBridge(t *testing.T) {
	var buf bytes.Buffer
	zl := NewZapLogger(New(InfoLevel, &buf)).Named("tpe").With(zap.String("study", "s1"))

	zl.Debug("dropped")
	zl.Info("proposal",
		zap.Int("trial", 7),
		zap.Float64("score", 0.25),
		zap.Bool("warmup", false),
		zap.Any("configuration", map[string]int{"n": 3}),
	)

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, "proposal", e["message"])
	assert.Equal(t, "tpe", e["logger"])
	assert.Equal(t, "s1", e["study"])
	assert.Equal(t, float64(7), e["trial"])
	assert.Equal(t, 0.25, e["score"])
	assert.Equal(t, false, e["warmup"])
	assert.Equal(t, map[string]interface{}{"n": float64(3)}, e["configuration"])
}

func TestMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := New(InfoLevel, &buf)

	r := chi.NewRouter()
	r.Use(Middleware(logger))
	r.Get("/api/v1/studies/{id}", func(w http.ResponseWriter, r *http.Request) {
		FromContext(r.Context()).Info("inside handler")
		w.WriteHeader(http.StatusNotFound)
	})
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/studies/x", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 2, "health checks log at debug")
	assert.Equal(t, "inside handler", entries[0]["message"])
	assert.Equal(t, "/api/v1/studies/x", entries[0]["path"])
	assert.Equal(t, "Request completed", entries[1]["message"])
	assert.Equal(t, float64(404), entries[1]["status"])
	assert.Equal(t, "Not Found", entries[1]["error"])
	assert.Equal(t, "http", entries[1]["logger"])
}
