// Package issuance implements the self-service credential flow: a user with
// an allow-listed email requests a one-time code, receives it out of band via
// the configured email sender, and redeems it for an API key. Codes are never
// echoed in API responses, and the flow never reveals whether an email
// already holds a credential beyond its own "already active" reply.
package issuance

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/llmgate/llmgate/internal/api"
	"github.com/llmgate/llmgate/internal/email"
	"github.com/llmgate/llmgate/internal/keys"
	"github.com/llmgate/llmgate/internal/logger"
	"github.com/llmgate/llmgate/internal/metrics"
	"github.com/llmgate/llmgate/internal/store"
	"github.com/llmgate/llmgate/internal/validate"
)

// Repository is the slice of the store the issuance flow needs.
type Repository interface {
	CreateVerificationCode(ctx context.Context, email, code string, expiresAt time.Time, ipAddress *string) (*store.VerificationCode, error)
	GetRedeemableCode(ctx context.Context, email, code string) (*store.VerificationCode, error)
	MarkCodeUsed(ctx context.Context, id int64) error
	PurgeExpiredCodes(ctx context.Context) (int64, error)
	APIKeysByUser(ctx context.Context, userID string) ([]*store.APIKey, error)
	CreateAPIKey(ctx context.Context, key, userID, tier string, description, createdBy *string, expiresAt *time.Time) (*store.APIKey, error)
}

// Service wires the issuance handlers. Sender selection (SMTP vs mock) is a
// startup decision made by the caller.
type Service struct {
	Repo           Repository
	Sender         email.Sender
	AllowedDomains []string
	CodeTTL        time.Duration
}

type emailRequest struct {
	Email string `json:"email"`
}

type verifyRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type keyResponse struct {
	APIKey  string `json:"api_key"`
	Message string `json:"message"`
}

// HandleRequestCode processes POST /auth/request-code.
func (s *Service) HandleRequestCode() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			api.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST required")
			return
		}

		var req emailRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			api.WriteError(w, http.StatusBadRequest, "invalid_json", "Request body must be valid JSON")
			return
		}

		addr := validate.NormalizeEmail(req.Email)
		domain, err := validate.EmailDomain(addr)
		if err != nil {
			api.WriteError(w, http.StatusBadRequest, "invalid_email", "Invalid email format")
			return
		}
		if !validate.DomainAllowed(domain, s.AllowedDomains) {
			metrics.IssuanceEvents.WithLabelValues("request_code", "domain_rejected").Inc()
			api.WriteError(w, http.StatusBadRequest, "domain_not_allowed",
				"Email domain not allowed. Please use a company email address.")
			return
		}

		code, err := generateCode()
		if err != nil {
			api.WriteError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
			return
		}

		var ip *string
		if origin := clientIP(r); origin != "" {
			ip = &origin
		}
		expiresAt := time.Now().Add(s.CodeTTL)
		if _, err := s.Repo.CreateVerificationCode(r.Context(), addr, code, expiresAt, ip); err != nil {
			logger.FromContext(r.Context()).Error("persist verification code failed", "error", err)
			api.WriteError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
			return
		}

		// The code stays persisted on dispatch failure: if the user somehow
		// received it, a later verify still works.
		if err := s.Sender.SendVerificationCode(addr, code); err != nil {
			metrics.IssuanceEvents.WithLabelValues("request_code", "send_failed").Inc()
			logger.FromContext(r.Context()).Error("verification email dispatch failed", "error", err)
			api.WriteError(w, http.StatusInternalServerError, "email_send_failed",
				"Failed to send verification email")
			return
		}
		metrics.IssuanceEvents.WithLabelValues("request_code", "sent").Inc()

		// Best-effort housekeeping, off the request path.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if _, err := s.Repo.PurgeExpiredCodes(ctx); err != nil {
				logger.FromContext(ctx).Warn("expired code purge failed", "error", err)
			}
		}()

		api.WriteJSON(w, http.StatusOK, map[string]any{
			"message":            "Verification code sent to your email",
			"expires_in_minutes": int(s.CodeTTL.Minutes()),
		})
	}
}

// HandleVerifyCode processes POST /auth/verify-code. The code is marked used
// before any credential work so a crashed mint can never be redriven with the
// same code.
func (s *Service) HandleVerifyCode() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			api.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST required")
			return
		}

		var req verifyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			api.WriteError(w, http.StatusBadRequest, "invalid_json", "Request body must be valid JSON")
			return
		}

		addr := validate.NormalizeEmail(req.Email)
		code := strings.TrimSpace(req.Code)

		verification, err := s.Repo.GetRedeemableCode(r.Context(), addr, code)
		if errors.Is(err, store.ErrNotFound) {
			metrics.IssuanceEvents.WithLabelValues("verify_code", "rejected").Inc()
			api.WriteError(w, http.StatusBadRequest, "invalid_or_expired_code",
				"Invalid or expired verification code")
			return
		}
		if err != nil {
			logger.FromContext(r.Context()).Error("code lookup failed", "error", err)
			api.WriteError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
			return
		}

		if err := s.Repo.MarkCodeUsed(r.Context(), verification.ID); err != nil {
			logger.FromContext(r.Context()).Error("mark code used failed", "error", err)
			api.WriteError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
			return
		}

		existing, err := s.Repo.APIKeysByUser(r.Context(), addr)
		if err != nil {
			logger.FromContext(r.Context()).Error("credential lookup failed", "error", err)
			api.WriteError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
			return
		}
		for _, k := range existing {
			if k.IsActive {
				metrics.IssuanceEvents.WithLabelValues("verify_code", "already_active").Inc()
				api.WriteJSON(w, http.StatusOK, keyResponse{
					APIKey:  k.Key,
					Message: "You already have an active API key",
				})
				return
			}
		}

		secret, err := keys.Generate()
		if err != nil {
			api.WriteError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
			return
		}
		desc := "Self-service registration"
		issuer := "self-service"
		created, err := s.Repo.CreateAPIKey(r.Context(), secret, addr, "standard", &desc, &issuer, nil)
		if err != nil {
			logger.FromContext(r.Context()).Error("credential mint failed", "error", err)
			api.WriteError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
			return
		}

		metrics.IssuanceEvents.WithLabelValues("verify_code", "minted").Inc()
		api.WriteJSON(w, http.StatusOK, keyResponse{
			APIKey:  created.Key,
			Message: "API key created successfully! Please save this key, it won't be shown again.",
		})
	}
}

// keyInfo is the wire shape for a credential row on the my-keys listing.
type keyInfo struct {
	ID          int64      `json:"id"`
	Key         string     `json:"key"`
	UserID      string     `json:"user_id"`
	Tier        string     `json:"tier"`
	IsActive    bool       `json:"is_active"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ExpiresAt   *time.Time `json:"expires_at"`
	Description *string    `json:"description"`
	CreatedBy   *string    `json:"created_by"`
}

// HandleMyKeys processes GET /auth/my-keys?email=… — the credential list for
// an email after domain validation. The allow-list check runs even when an
// account exists, so removed domains lose visibility immediately.
func (s *Service) HandleMyKeys() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			api.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "GET required")
			return
		}

		addr := validate.NormalizeEmail(r.URL.Query().Get("email"))
		domain, err := validate.EmailDomain(addr)
		if err != nil {
			api.WriteError(w, http.StatusBadRequest, "invalid_email", "Invalid email format")
			return
		}
		if !validate.DomainAllowed(domain, s.AllowedDomains) {
			api.WriteError(w, http.StatusBadRequest, "domain_not_allowed", "Email domain not allowed")
			return
		}

		ks, err := s.Repo.APIKeysByUser(r.Context(), addr)
		if err != nil {
			logger.FromContext(r.Context()).Error("credential lookup failed", "error", err)
			api.WriteError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
			return
		}

		out := make([]keyInfo, 0, len(ks))
		for _, k := range ks {
			out = append(out, keyInfo{
				ID: k.ID, Key: k.Key, UserID: k.UserID, Tier: k.Tier,
				IsActive: k.IsActive, CreatedAt: k.CreatedAt, UpdatedAt: k.UpdatedAt,
				ExpiresAt: k.ExpiresAt, Description: k.Description, CreatedBy: k.CreatedBy,
			})
		}
		api.WriteJSON(w, http.StatusOK, out)
	}
}

// generateCode draws a uniformly random six-digit decimal code. Leading
// zeros are preserved — the space is 000000..999999, not 100000..999999.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", fmt.Errorf("generate verification code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// clientIP extracts the originating address, honouring reverse-proxy headers.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	addr := r.RemoteAddr
	if i := strings.LastIndex(addr, ":"); i > 0 {
		return addr[:i]
	}
	return addr
}
