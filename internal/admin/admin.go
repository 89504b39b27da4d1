// Package admin implements the operator surface: login with bcrypt-verified
// principals, short-lived signed tokens, credential CRUD, and usage
// aggregation. Every endpoint except login sits behind RequireAdmin.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/llmgate/llmgate/internal/admintoken"
	"github.com/llmgate/llmgate/internal/api"
	"github.com/llmgate/llmgate/internal/keys"
	"github.com/llmgate/llmgate/internal/logger"
	"github.com/llmgate/llmgate/internal/store"
	"github.com/llmgate/llmgate/internal/validate"
)

// bcryptCost is the adaptive hash cost for admin passwords.
const bcryptCost = 12

// Repository is the slice of the store the admin surface needs.
type Repository interface {
	GetAdminUser(ctx context.Context, username string) (*store.AdminUser, error)
	CreateAdminUser(ctx context.Context, username, hashedPassword string, email *string) (*store.AdminUser, error)
	CountAdminUsers(ctx context.Context) (int64, error)
	UpdateAdminLastLogin(ctx context.Context, id int64) error

	ListAPIKeys(ctx context.Context, offset, limit int) ([]*store.APIKey, error)
	CreateAPIKey(ctx context.Context, key, userID, tier string, description, createdBy *string, expiresAt *time.Time) (*store.APIKey, error)
	UpdateAPIKey(ctx context.Context, id int64, tier *string, isActive *bool, description *string) (*store.APIKey, error)
	SoftDeleteAPIKey(ctx context.Context, id int64) error

	UsageStats(ctx context.Context, userID string, days int) ([]*store.UsageStat, error)
}

// Service wires the admin handlers.
type Service struct {
	Repo   Repository
	Signer *admintoken.Signer
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type keyCreateRequest struct {
	UserID        string  `json:"user_id"`
	Tier          string  `json:"tier"`
	Description   *string `json:"description"`
	ExpiresInDays *int    `json:"expires_in_days"`
}

type keyUpdateRequest struct {
	Tier        *string `json:"tier"`
	IsActive    *bool   `json:"is_active"`
	Description *string `json:"description"`
}

type keyResponse struct {
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

type usageResponse struct {
	Date             string `json:"date"`
	Requests         int64  `json:"requests"`
	TotalTokens      int64  `json:"total_tokens"`
	PromptTokens     int64  `json:"prompt_tokens"`
	CompletionTokens int64  `json:"completion_tokens"`
}

func toKeyResponse(k *store.APIKey) keyResponse {
	return keyResponse{
		ID: k.ID, Key: k.Key, UserID: k.UserID, Tier: k.Tier,
		IsActive: k.IsActive, CreatedAt: k.CreatedAt, UpdatedAt: k.UpdatedAt,
		ExpiresAt: k.ExpiresAt, Description: k.Description, CreatedBy: k.CreatedBy,
	}
}

// Bootstrap creates the default principal when none exists and logs a
// one-time warning instructing rotation.
func Bootstrap(ctx context.Context, repo Repository) error {
	n, err := repo.CountAdminUsers(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte("admin123"), bcryptCost)
	if err != nil {
		return err
	}
	email := "admin@localhost"
	if _, err := repo.CreateAdminUser(ctx, "admin", string(hash), &email); err != nil {
		// Another replica may have won the race.
		if errors.Is(err, store.ErrDuplicate) {
			return nil
		}
		return err
	}
	logger.FromContext(ctx).Warn("default admin user created: username=admin password=admin123 — CHANGE THE DEFAULT PASSWORD")
	return nil
}

// HandleLogin processes POST /api/login.
func (s *Service) HandleLogin() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			api.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST required")
			return
		}

		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			api.WriteError(w, http.StatusBadRequest, "invalid_json", "Request body must be valid JSON")
			return
		}

		principal, err := s.Repo.GetAdminUser(r.Context(), req.Username)
		if errors.Is(err, store.ErrNotFound) {
			// Burn a hash comparison anyway so the miss costs the same.
			bcrypt.CompareHashAndPassword(
				[]byte("$2a$12$l9zmmzXYaVUkpX5wG0TXh.1JhDyDyUuS8WJHFv7W0PSNvRYjOQj9q"),
				[]byte(req.Password))
			api.WriteError(w, http.StatusUnauthorized, "invalid_credentials", "Incorrect username or password")
			return
		}
		if err != nil {
			logger.FromContext(r.Context()).Error("admin lookup failed", "error", err)
			api.WriteError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
			return
		}

		if bcrypt.CompareHashAndPassword([]byte(principal.HashedPassword), []byte(req.Password)) != nil {
			api.WriteError(w, http.StatusUnauthorized, "invalid_credentials", "Incorrect username or password")
			return
		}

		if err := s.Repo.UpdateAdminLastLogin(r.Context(), principal.ID); err != nil {
			logger.FromContext(r.Context()).Warn("last-login update failed", "error", err)
		}

		token, err := s.Signer.Mint(principal.Username)
		if err != nil {
			api.WriteError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
			return
		}
		api.WriteJSON(w, http.StatusOK, tokenResponse{AccessToken: token, TokenType: "bearer"})
	}
}

// RequireAdmin validates the bearer token and re-checks that the principal
// still exists and is active before invoking next.
func (s *Service) RequireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h := r.Header.Get("Authorization")
		const scheme = "Bearer "
		if len(h) <= len(scheme) || !strings.EqualFold(h[:len(scheme)], scheme) {
			api.WriteError(w, http.StatusUnauthorized, "invalid_credentials", "Invalid authentication credentials")
			return
		}

		username, err := s.Signer.Verify(strings.TrimSpace(h[len(scheme):]))
		if err != nil {
			api.WriteError(w, http.StatusUnauthorized, "invalid_credentials", "Invalid authentication credentials")
			return
		}
		if _, err := s.Repo.GetAdminUser(r.Context(), username); err != nil {
			api.WriteError(w, http.StatusUnauthorized, "invalid_credentials", "Invalid authentication credentials")
			return
		}

		next(w, r)
	}
}

// HandleKeys routes /api/keys: GET lists a page, POST creates a credential.
func (s *Service) HandleKeys() http.HandlerFunc {
	return s.RequireAdmin(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			s.listKeys(w, r)
		case http.MethodPost:
			s.createKey(w, r)
		default:
			api.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "GET or POST required")
		}
	})
}

func (s *Service) listKeys(w http.ResponseWriter, r *http.Request) {
	offset := queryInt(r, "skip", 0)
	limit := queryInt(r, "limit", 100)

	ks, err := s.Repo.ListAPIKeys(r.Context(), offset, limit)
	if err != nil {
		logger.FromContext(r.Context()).Error("list keys failed", "error", err)
		api.WriteError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
		return
	}

	out := make([]keyResponse, 0, len(ks))
	for _, k := range ks {
		out = append(out, toKeyResponse(k))
	}
	api.WriteJSON(w, http.StatusOK, out)
}

func (s *Service) createKey(w http.ResponseWriter, r *http.Request) {
	var req keyCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid_json", "Request body must be valid JSON")
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		api.WriteError(w, http.StatusBadRequest, "invalid_user_id", "user_id is required")
		return
	}
	if req.Tier == "" {
		req.Tier = "standard"
	}
	if !validate.ValidTier(req.Tier) {
		api.WriteError(w, http.StatusBadRequest, "invalid_tier", "Invalid tier. Must be free, standard, or premium")
		return
	}

	var expiresAt *time.Time
	if req.ExpiresInDays != nil && *req.ExpiresInDays > 0 {
		t := time.Now().Add(time.Duration(*req.ExpiresInDays) * 24 * time.Hour)
		expiresAt = &t
	}

	secret, err := keys.Generate()
	if err != nil {
		api.WriteError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
		return
	}

	issuer := "admin"
	created, err := s.Repo.CreateAPIKey(r.Context(), secret, req.UserID, req.Tier, req.Description, &issuer, expiresAt)
	if err != nil {
		logger.FromContext(r.Context()).Error("create key failed", "error", err)
		api.WriteError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
		return
	}
	api.WriteJSON(w, http.StatusOK, toKeyResponse(created))
}

// HandleKeyByID routes /api/keys/{id}: PUT updates, DELETE soft-deletes.
func (s *Service) HandleKeyByID() http.HandlerFunc {
	return s.RequireAdmin(func(w http.ResponseWriter, r *http.Request) {
		idStr := strings.TrimPrefix(r.URL.Path, "/api/keys/")
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil || id <= 0 {
			api.WriteError(w, http.StatusNotFound, "not_found", "API key not found")
			return
		}

		switch r.Method {
		case http.MethodPut:
			s.updateKey(w, r, id)
		case http.MethodDelete:
			s.deleteKey(w, r, id)
		default:
			api.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "PUT or DELETE required")
		}
	})
}

func (s *Service) updateKey(w http.ResponseWriter, r *http.Request, id int64) {
	var req keyUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid_json", "Request body must be valid JSON")
		return
	}
	if req.Tier != nil && !validate.ValidTier(*req.Tier) {
		api.WriteError(w, http.StatusBadRequest, "invalid_tier", "Invalid tier. Must be free, standard, or premium")
		return
	}

	updated, err := s.Repo.UpdateAPIKey(r.Context(), id, req.Tier, req.IsActive, req.Description)
	if errors.Is(err, store.ErrNotFound) {
		api.WriteError(w, http.StatusNotFound, "not_found", "API key not found")
		return
	}
	if err != nil {
		logger.FromContext(r.Context()).Error("update key failed", "error", err)
		api.WriteError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
		return
	}
	api.WriteJSON(w, http.StatusOK, toKeyResponse(updated))
}

func (s *Service) deleteKey(w http.ResponseWriter, r *http.Request, id int64) {
	err := s.Repo.SoftDeleteAPIKey(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		api.WriteError(w, http.StatusNotFound, "not_found", "API key not found")
		return
	}
	if err != nil {
		logger.FromContext(r.Context()).Error("delete key failed", "error", err)
		api.WriteError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]string{"message": "API key deleted successfully"})
}

// HandleUsage serves GET /api/usage?user_id=&days=.
func (s *Service) HandleUsage() http.HandlerFunc {
	return s.RequireAdmin(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			api.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "GET required")
			return
		}

		userID := r.URL.Query().Get("user_id")
		days := queryInt(r, "days", 7)
		if days <= 0 {
			days = 7
		}

		stats, err := s.Repo.UsageStats(r.Context(), userID, days)
		if err != nil {
			logger.FromContext(r.Context()).Error("usage stats failed", "error", err)
			api.WriteError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
			return
		}

		out := make([]usageResponse, 0, len(stats))
		for _, st := range stats {
			out = append(out, usageResponse{
				Date: st.Date, Requests: st.Requests, TotalTokens: st.TotalTokens,
				PromptTokens: st.PromptTokens, CompletionTokens: st.CompletionTokens,
			})
		}
		api.WriteJSON(w, http.StatusOK, out)
	})
}

func queryInt(r *http.Request, name string, fallback int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
