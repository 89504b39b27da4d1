// sentry.go — Sentry error tracking for the llmgate services.
//
// Usage in main.go:
//
//	telemetry.InitSentry(cfg.SentryDSN, "gateway", version)
//	defer telemetry.Flush()
//
// Usage in handlers:
//
//	telemetry.CaptureError(err, map[string]string{"operation": "forward"})
package telemetry

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
)

// InitSentry initializes the Sentry SDK for a named service. Call once at
// process startup. dsn may be empty — Sentry stays disabled and every other
// function in this package becomes a no-op.
func InitSentry(dsn, serviceName, release string) error {
	env := os.Getenv("LLMGATE_ENV")
	if env == "" {
		env = "development"
	}

	if dsn == "" {
		fmt.Fprintf(os.Stderr, "[telemetry] SENTRY_DSN not set — Sentry disabled for %s\n", serviceName)
		return nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      env,
		Release:          release,
		AttachStacktrace: true,
		Tags: map[string]string{
			"service": serviceName,
		},
		BeforeSend: func(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
			return scrubSecrets(event)
		},
	})
	if err != nil {
		return fmt.Errorf("sentry.Init: %w", err)
	}
	return nil
}

// CaptureError sends an error to Sentry with optional context tags.
// Safe to call when Sentry is disabled.
func CaptureError(err error, tags map[string]string) {
	if err == nil {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		sentry.CaptureException(err)
	})
}

// CaptureRequestError reports an error with request context attached.
func CaptureRequestError(r *http.Request, err error) {
	if err == nil {
		return
	}
	hub := sentry.CurrentHub().Clone()
	hub.Scope().SetRequest(r)
	hub.CaptureException(err)
}

// Flush waits for buffered events to be sent. Call with defer in main().
func Flush() {
	sentry.Flush(2 * time.Second)
}

// scrubSecrets removes credentials and user identifiers from events before
// transmission. API-key secrets must never leave the process.
func scrubSecrets(event *sentry.Event) *sentry.Event {
	if event == nil {
		return nil
	}

	if event.User.Email != "" {
		event.User.Email = "[redacted]"
	}
	event.User.IPAddress = ""

	if event.Request != nil {
		for k := range event.Request.Headers {
			switch k {
			case "Authorization", "Cookie", "X-Api-Key":
				event.Request.Headers[k] = "[redacted]"
			}
		}
	}
	return event
}
