package errors

import (
	"encoding/json"
	"net/http"
	"runtime/debug"

	"github.com/copyleftdev/hypertune/internal/logging"
)

// RecoveryMiddleware returns a middleware that recovers from panics and
// answers with a JSON 500.
func RecoveryMiddleware(logger *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				fields := map[string]interface{}{
					"error": rec,
					"stack": string(debug.Stack()),
				}
				if r != nil {
					fields["method"] = r.Method
					fields["path"] = r.URL.Path
					fields["query"] = r.URL.RawQuery
				}
				logger.Error("Recovered from panic", fields)

				WriteJSON(w, http.StatusInternalServerError, map[string]string{
					"error": http.StatusText(http.StatusInternalServerError),
				})
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes err as {"error": ...} with the status Wrap assigns, and
// logs server-side failures.
func WriteError(w http.ResponseWriter, logger *logging.Logger, err error) {
	e := Wrap(err, "")
	if e.Internal() && logger != nil {
		logger.WithError(err).Error("Request failed", map[string]interface{}{
			"stack": e.Stack,
		})
	}
	WriteJSON(w, e.Status, map[string]string{"error": e.Error()})
}
