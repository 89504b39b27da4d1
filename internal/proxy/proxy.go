// Package proxy implements the edge request pipeline for /v1/* traffic:
// authenticate the bearer credential, consult the rate limiter, forward to
// the upstream inference server, account token usage, and respond with the
// upstream body plus rate-limit headers. Exactly one request-log row is
// written per request.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/llmgate/llmgate/internal/api"
	"github.com/llmgate/llmgate/internal/keys"
	"github.com/llmgate/llmgate/internal/logger"
	"github.com/llmgate/llmgate/internal/metrics"
	"github.com/llmgate/llmgate/internal/ratelimit"
	"github.com/llmgate/llmgate/internal/store"
)

// UpstreamTimeout bounds one upstream round-trip.
const UpstreamTimeout = 300 * time.Second

// errorSnippetMax bounds the error text stored in a request-log row.
const errorSnippetMax = 500

// Repository is the slice of the store the pipeline needs.
type Repository interface {
	GetAPIKeyBySecret(ctx context.Context, secret string) (*store.APIKey, error)
	CreateRequestLog(ctx context.Context, l *store.RequestLog) error
}

// Pipeline is the edge handler for upstream-bound requests.
type Pipeline struct {
	Repo         Repository
	Limiter      *ratelimit.Limiter
	LimitsFor    func(tier string) ratelimit.Limits
	UpstreamURL  string
	DefaultModel string

	// Client is shared across requests; its pool is safe for concurrent use.
	Client *http.Client
}

// New builds a Pipeline with the standard upstream client.
func New(repo Repository, limiter *ratelimit.Limiter, limitsFor func(string) ratelimit.Limits, upstreamURL, defaultModel string) *Pipeline {
	return &Pipeline{
		Repo:         repo,
		Limiter:      limiter,
		LimitsFor:    limitsFor,
		UpstreamURL:  upstreamURL,
		DefaultModel: defaultModel,
		Client:       &http.Client{Timeout: UpstreamTimeout},
	}
}

// usagePayload is the slice of an OpenAI-compatible response body the
// accounting stage cares about.
type usagePayload struct {
	Model string `json:"model"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Handler serves every /v1/* request.
func (p *Pipeline) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Stage 1 — authenticate.
		secret, err := keys.FromRequest(r)
		if err != nil {
			w.Header().Set("WWW-Authenticate", "Bearer")
			api.WriteError(w, http.StatusUnauthorized, "auth_missing",
				"Missing API key. Please provide a valid API key in the Authorization header.")
			return
		}
		info, err := keys.Verify(r.Context(), p.Repo, secret)
		if err != nil {
			w.Header().Set("WWW-Authenticate", "Bearer")
			switch {
			case errors.Is(err, keys.ErrInactive):
				api.WriteError(w, http.StatusUnauthorized, "auth_invalid", "API key has been deactivated.")
			case errors.Is(err, keys.ErrExpired):
				api.WriteError(w, http.StatusUnauthorized, "auth_invalid", "API key has expired.")
			case errors.Is(err, keys.ErrInvalid):
				api.WriteError(w, http.StatusUnauthorized, "auth_invalid", "Invalid API key. Please check your credentials.")
			default:
				logger.FromContext(r.Context()).Error("credential lookup failed", "error", err)
				api.WriteError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
			}
			return
		}

		// Stage 2 — admit.
		limits := p.LimitsFor(info.Tier)
		decision := p.Limiter.Check(info.UserID, limits)
		if !decision.Allowed {
			metrics.RateLimited.WithLabelValues(info.Tier, string(decision.Scope)).Inc()
			st := p.Limiter.Status(info.UserID, limits)
			setRateLimitHeaders(w, st)
			w.Header().Set("Retry-After", strconv.Itoa(decision.RetryAfter))

			detail := fmt.Sprintf("Rate limit exceeded. Maximum %d requests per %s allowed for tier '%s'.",
				decision.Limit, decision.Scope, info.Tier)
			p.writeLog(&store.RequestLog{
				UserID:     info.UserID,
				APIKeyID:   &info.KeyID,
				Endpoint:   r.URL.Path,
				Method:     r.Method,
				StatusCode: http.StatusTooManyRequests,
				DurationMS: durationMS(start),
				Error:      ptr(detail),
			})
			api.WriteError(w, http.StatusTooManyRequests, "rate_limited", detail)
			return
		}
		status := p.Limiter.Status(info.UserID, limits)

		// Stage 3 — forward.
		body, err := io.ReadAll(r.Body)
		if err != nil {
			api.WriteError(w, http.StatusBadRequest, "invalid_body", "Could not read request body")
			return
		}

		upstreamURL := p.UpstreamURL + r.URL.Path
		if r.URL.RawQuery != "" {
			upstreamURL += "?" + r.URL.RawQuery
		}
		req, err := http.NewRequestWithContext(r.Context(), r.Method, upstreamURL, bytes.NewReader(body))
		if err != nil {
			api.WriteError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
			return
		}
		// Only Content-Type crosses the boundary. The caller's Authorization
		// never reaches the upstream.
		ct := r.Header.Get("Content-Type")
		if ct == "" {
			ct = "application/json"
		}
		req.Header.Set("Content-Type", ct)

		resp, err := p.Client.Do(req)
		if err != nil {
			p.handleUpstreamError(w, r, info, start, status, err)
			return
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			p.handleUpstreamError(w, r, info, start, status, err)
			return
		}

		// /v1/models degrades to a synthesized single-model list when the
		// upstream answers with an error, so clients keep working.
		if resp.StatusCode != http.StatusOK && r.Method == http.MethodGet && r.URL.Path == "/v1/models" {
			p.serveModelFallback(w, r, info, start, status)
			return
		}

		// Stage 4 — account. Unparseable bodies record zeros, never an error.
		var promptTokens, completionTokens int
		var model *string
		if resp.StatusCode == http.StatusOK {
			var u usagePayload
			if err := json.Unmarshal(respBody, &u); err == nil {
				promptTokens = u.Usage.PromptTokens
				completionTokens = u.Usage.CompletionTokens
				if u.Model != "" {
					model = &u.Model
				}
			}
		}
		metrics.Tokens.WithLabelValues("prompt").Add(float64(promptTokens))
		metrics.Tokens.WithLabelValues("completion").Add(float64(completionTokens))

		var snippet *string
		if resp.StatusCode != http.StatusOK {
			snippet = ptr(truncate(string(respBody), errorSnippetMax))
		}
		p.writeLog(&store.RequestLog{
			UserID:           info.UserID,
			APIKeyID:         &info.KeyID,
			Endpoint:         r.URL.Path,
			Method:           r.Method,
			StatusCode:       resp.StatusCode,
			DurationMS:       durationMS(start),
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			Model:            model,
			Error:            snippet,
		})

		// Stage 5 — respond verbatim.
		setRateLimitHeaders(w, status)
		if upstreamCT := resp.Header.Get("Content-Type"); upstreamCT != "" {
			w.Header().Set("Content-Type", upstreamCT)
		}
		w.WriteHeader(resp.StatusCode)
		w.Write(respBody)
	}
}

// handleUpstreamError maps transport failures to the 504/500 taxonomy and
// writes the accounting row.
func (p *Pipeline) handleUpstreamError(w http.ResponseWriter, r *http.Request, info keys.Info, start time.Time, st ratelimit.Status, err error) {
	statusCode := http.StatusInternalServerError
	code, detail, kind := "upstream_error", "Internal server error", "transport"

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() || errors.Is(err, context.DeadlineExceeded) {
		statusCode = http.StatusGatewayTimeout
		code, detail, kind = "upstream_timeout", "Request timeout", "timeout"
	}
	metrics.UpstreamErrors.WithLabelValues(kind).Inc()
	logger.FromContext(r.Context()).Warn("upstream request failed",
		"kind", kind, "endpoint", r.URL.Path, "error", err)

	if r.Method == http.MethodGet && r.URL.Path == "/v1/models" {
		p.serveModelFallback(w, r, info, start, st)
		return
	}

	p.writeLog(&store.RequestLog{
		UserID:     info.UserID,
		APIKeyID:   &info.KeyID,
		Endpoint:   r.URL.Path,
		Method:     r.Method,
		StatusCode: statusCode,
		DurationMS: durationMS(start),
		Error:      ptr(truncate(err.Error(), errorSnippetMax)),
	})
	setRateLimitHeaders(w, st)
	api.WriteError(w, statusCode, code, detail)
}

// serveModelFallback synthesizes the single-model list for GET /v1/models
// when the upstream is unavailable.
func (p *Pipeline) serveModelFallback(w http.ResponseWriter, r *http.Request, info keys.Info, start time.Time, st ratelimit.Status) {
	p.writeLog(&store.RequestLog{
		UserID:     info.UserID,
		APIKeyID:   &info.KeyID,
		Endpoint:   r.URL.Path,
		Method:     r.Method,
		StatusCode: http.StatusOK,
		DurationMS: durationMS(start),
		Model:      &p.DefaultModel,
	})
	setRateLimitHeaders(w, st)
	api.WriteJSON(w, http.StatusOK, map[string]any{
		"object": "list",
		"data": []map[string]any{{
			"id":       p.DefaultModel,
			"object":   "model",
			"created":  0,
			"owned_by": "internal",
		}},
	})
}

// writeLog appends the accounting row. The write is decoupled from the
// request context so a client disconnect never loses the row, and the
// response stays authoritative whether or not the write succeeds.
func (p *Pipeline) writeLog(l *store.RequestLog) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Repo.CreateRequestLog(ctx, l); err != nil {
		logger.FromContext(ctx).Error("request log write failed",
			"endpoint", l.Endpoint, "error", err)
	}
}

func setRateLimitHeaders(w http.ResponseWriter, st ratelimit.Status) {
	h := w.Header()
	h.Set("X-RateLimit-Limit-Minute", strconv.Itoa(st.MinuteLimit))
	h.Set("X-RateLimit-Remaining-Minute", strconv.Itoa(st.MinuteRemaining))
	h.Set("X-RateLimit-Limit-Hour", strconv.Itoa(st.HourLimit))
	h.Set("X-RateLimit-Remaining-Hour", strconv.Itoa(st.HourRemaining))
}

func durationMS(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func ptr[T any](v T) *T { return &v }
