package gateway

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"tenantgate/pkg/logging"
)

// requestIDHeader carries the per-request ID back to the client and through
// to the backend for log correlation.
const requestIDHeader = "X-Request-Id"

// withRequestID assigns every request a fresh UUID. Inbound values are
// ignored; the ID is a gateway-scoped correlation handle, not client input.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		r.Header.Set(requestIDHeader, id)
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the status code for the access log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer, which
// keeps flushing and hijacking (WebSocket upgrades) working through the
// recorder.
func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// withAccessLog logs one line per completed request.
func withAccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		logging.Info(gatewaySubsystem, "%s %s %d %s id=%s",
			r.Method, r.URL.Path, rec.status, time.Since(start).Round(time.Millisecond),
			r.Header.Get(requestIDHeader))
	})
}
