// Package middleware holds the HTTP middleware shared by the gateway and
// admin listeners: CORS, per-request timing, and panic recovery.
package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/llmgate/llmgate/internal/api"
	"github.com/llmgate/llmgate/internal/logger"
)

// CORS applies the configured origin list. A list containing "*" allows any
// origin. Preflight requests are answered here and never reach handlers.
func CORS(origins []string, next http.Handler) http.Handler {
	allowAll := false
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (allowAll || allowed[origin]) {
			if allowAll {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// timingWriter defers the X-Process-Time header until the handler commits a
// status, so the measured span covers the handler's work.
type timingWriter struct {
	http.ResponseWriter
	start       time.Time
	wroteHeader bool
}

func (t *timingWriter) WriteHeader(code int) {
	if !t.wroteHeader {
		t.wroteHeader = true
		ms := float64(time.Since(t.start).Microseconds()) / 1000.0
		t.Header().Set("X-Process-Time", fmt.Sprintf("%.2f", ms))
	}
	t.ResponseWriter.WriteHeader(code)
}

func (t *timingWriter) Write(b []byte) (int, error) {
	if !t.wroteHeader {
		t.WriteHeader(http.StatusOK)
	}
	return t.ResponseWriter.Write(b)
}

// ProcessTime stamps every response with X-Process-Time in milliseconds,
// two decimals.
func ProcessTime(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(&timingWriter{ResponseWriter: w, start: time.Now()}, r)
	})
}

// Recover catches handler panics, logs them, and answers 500. Telemetry
// capture hooks in via onPanic (may be nil).
func Recover(onPanic func(r *http.Request, err error), next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				err, ok := rec.(error)
				if !ok {
					err = fmt.Errorf("panic: %v", rec)
				}
				logger.FromContext(r.Context()).Error("handler panic",
					"path", r.URL.Path, "error", err)
				if onPanic != nil {
					onPanic(r, err)
				}
				api.WriteError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
