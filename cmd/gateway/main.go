// main.go — llmgate API Gateway.
// Authenticates, rate-limits, and proxies LLM traffic to the upstream
// inference server. Port: 8000 (env: GATEWAY_ADDR).
//
// Routes:
//
//	GET  /                  — service index
//	GET  /health            — aggregate health (gateway + upstream + admin)
//	GET  /metrics           — Prometheus scrape endpoint
//	ANY  /v1/*              — authenticated proxy to the upstream (Bearer API key)
//	ANY  /auth/*            — reverse proxy to the admin service (self-service issuance)
//	ANY  /admin/*           — reverse proxy to the admin service (/admin prefix stripped)
package main

import (
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/llmgate/llmgate/internal/config"
	"github.com/llmgate/llmgate/internal/handlers"
	"github.com/llmgate/llmgate/internal/logger"
	"github.com/llmgate/llmgate/internal/metrics"
	"github.com/llmgate/llmgate/internal/middleware"
	"github.com/llmgate/llmgate/internal/proxy"
	"github.com/llmgate/llmgate/internal/ratelimit"
	"github.com/llmgate/llmgate/internal/shutdown"
	"github.com/llmgate/llmgate/internal/store"
	"github.com/llmgate/llmgate/pkg/telemetry"
)

// sweepInterval is how often the limiter drops empty per-user histories.
const sweepInterval = 10 * time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration error", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(log)

	if err := telemetry.InitSentry(cfg.SentryDSN, "gateway", handlers.Version); err != nil {
		log.Warn("sentry init failed", "error", err)
	}
	defer telemetry.Flush()

	st, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		log.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer st.Close()
	log.Info("database connected")

	limiter := ratelimit.New()
	go func() {
		for range time.Tick(sweepInterval) {
			if n := limiter.Sweep(); n > 0 {
				log.Debug("limiter sweep", "dropped", n)
			}
		}
	}()

	pipeline := proxy.New(st, limiter, func(tier string) ratelimit.Limits {
		l := cfg.TierLimitsFor(tier)
		return ratelimit.Limits{PerMinute: l.PerMinute, PerHour: l.PerHour}
	}, cfg.UpstreamURL, cfg.DefaultModel)

	authProxy, err := handlers.AuthProxy(cfg.AdminURL)
	if err != nil {
		log.Error("bad ADMIN_URL", "error", err)
		os.Exit(1)
	}
	adminProxy, err := handlers.AdminPanelProxy(cfg.AdminURL)
	if err != nil {
		log.Error("bad ADMIN_URL", "error", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.Handle("/", metrics.Middleware("gateway", "/", handlers.Index()))
	mux.Handle("/health", metrics.Middleware("gateway", "/health",
		handlers.Health(cfg.UpstreamURL, cfg.AdminURL, nil)))
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/v1/", metrics.Middleware("gateway", "/v1/*", pipeline.Handler()))
	mux.Handle("/auth/", metrics.Middleware("gateway", "/auth/*", authProxy))
	mux.Handle("/admin", metrics.Middleware("gateway", "/admin/*", adminProxy))
	mux.Handle("/admin/", metrics.Middleware("gateway", "/admin/*", adminProxy))

	handler := middleware.Recover(telemetry.CaptureRequestError,
		middleware.CORS(cfg.CORSOrigins,
			middleware.ProcessTime(
				withLogger(log, mux))))

	srv := &http.Server{
		Addr:              cfg.GatewayAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		// No WriteTimeout: upstream completions can legitimately take minutes.
	}
	if err := shutdown.GracefulServe(srv, 30*time.Second, log); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}

// withLogger attaches the process logger to every request context.
func withLogger(log *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(logger.WithContext(r.Context(), log)))
	})
}
