// main.go — llmgate Admin Service.
// Credential management, usage reporting, and self-service key issuance.
// Port: 8002 (env: ADMIN_ADDR). Reached directly or via the gateway's
// /admin/* and /auth/* reverse proxies.
//
// Admin routes (require admin bearer token from /api/login):
//
//	POST   /api/login        — username/password → signed token
//	GET    /api/keys         — list credentials (skip/limit)
//	POST   /api/keys         — create credential
//	PUT    /api/keys/:id     — update tier / active flag / description
//	DELETE /api/keys/:id     — soft delete (is_active=false)
//	GET    /api/usage        — per-day usage stats (user_id, days)
//
// Self-service routes (no auth):
//
//	POST /auth/request-code  — email a one-time verification code
//	POST /auth/verify-code   — redeem code for an API key
//	GET  /auth/my-keys       — list keys for a verified email domain
//
//	GET  /health             — liveness
//	GET  /metrics            — Prometheus scrape endpoint
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/llmgate/llmgate/internal/admin"
	"github.com/llmgate/llmgate/internal/admintoken"
	"github.com/llmgate/llmgate/internal/config"
	"github.com/llmgate/llmgate/internal/email"
	"github.com/llmgate/llmgate/internal/handlers"
	"github.com/llmgate/llmgate/internal/issuance"
	"github.com/llmgate/llmgate/internal/logger"
	"github.com/llmgate/llmgate/internal/metrics"
	"github.com/llmgate/llmgate/internal/middleware"
	"github.com/llmgate/llmgate/internal/shutdown"
	"github.com/llmgate/llmgate/internal/store"
	"github.com/llmgate/llmgate/pkg/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration error", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(log)

	if err := telemetry.InitSentry(cfg.SentryDSN, "admin", handlers.Version); err != nil {
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

	ctx := logger.WithContext(context.Background(), log)
	if err := admin.Bootstrap(ctx, st); err != nil {
		log.Error("admin bootstrap failed", "error", err)
		os.Exit(1)
	}

	var sender email.Sender
	if cfg.UseMockEmail {
		sender = &email.MockSender{}
		log.Info("email: mock sender (codes print to stderr)")
	} else {
		sender = &email.SMTPSender{
			Host:      cfg.SMTPHost,
			Port:      cfg.SMTPPort,
			User:      cfg.SMTPUser,
			Password:  cfg.SMTPPassword,
			FromEmail: cfg.SMTPFromEmail,
		}
		log.Info("email: smtp sender", "host", cfg.SMTPHost, "port", cfg.SMTPPort)
	}

	adminSvc := &admin.Service{
		Repo:   st,
		Signer: admintoken.NewSigner(cfg.AdminSecretKey, time.Duration(cfg.AdminTokenTTLMin)*time.Minute),
	}
	issuanceSvc := &issuance.Service{
		Repo:           st,
		Sender:         sender,
		AllowedDomains: cfg.AllowedEmailDomains,
		CodeTTL:        time.Duration(cfg.CodeTTLMinutes) * time.Minute,
	}

	mux := http.NewServeMux()
	mux.Handle("/health", metrics.Middleware("admin", "/health", handlers.Liveness("admin")))
	mux.Handle("/metrics", metrics.Handler())

	mux.Handle("/api/login", metrics.Middleware("admin", "/api/login", adminSvc.HandleLogin()))
	mux.Handle("/api/keys", metrics.Middleware("admin", "/api/keys", adminSvc.HandleKeys()))
	mux.Handle("/api/keys/", metrics.Middleware("admin", "/api/keys/:id", adminSvc.HandleKeyByID()))
	mux.Handle("/api/usage", metrics.Middleware("admin", "/api/usage", adminSvc.HandleUsage()))

	mux.Handle("/auth/request-code", metrics.Middleware("admin", "/auth/request-code", issuanceSvc.HandleRequestCode()))
	mux.Handle("/auth/verify-code", metrics.Middleware("admin", "/auth/verify-code", issuanceSvc.HandleVerifyCode()))
	mux.Handle("/auth/my-keys", metrics.Middleware("admin", "/auth/my-keys", issuanceSvc.HandleMyKeys()))

	// Static operator UI, when bundled alongside the binary.
	if fi, err := os.Stat("web/admin"); err == nil && fi.IsDir() {
		mux.Handle("/", http.FileServer(http.Dir("web/admin")))
		log.Info("serving static UI from web/admin")
	}

	handler := middleware.Recover(telemetry.CaptureRequestError,
		middleware.CORS(cfg.CORSOrigins,
			middleware.ProcessTime(
				withLogger(log, mux))))

	srv := &http.Server{
		Addr:              cfg.AdminAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	if err := shutdown.GracefulServe(srv, 15*time.Second, log); err != nil {
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
