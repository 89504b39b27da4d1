// Package handlers holds the gateway's unauthenticated surface: the aggregate
// health check, the service index, and the reverse proxies that hand /auth/*
// and /admin/* traffic to the admin service.
package handlers

import (
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/llmgate/llmgate/internal/api"
	"github.com/llmgate/llmgate/internal/logger"
)

// probeTimeout bounds each backend health probe.
const probeTimeout = 5 * time.Second

// Version is the reported service version.
const Version = "1.0.0"

// Health serves the gateway aggregate health check. It probes the upstream
// inference server (GET /health, falling back to /v1/models for servers that
// lack a health route) and the admin service, and reports "degraded" when
// either is unreachable. The endpoint itself always answers 200: reachability
// of the gateway is the liveness signal, the body carries the rest.
func Health(upstreamURL, adminURL string, client *http.Client) http.HandlerFunc {
	if client == nil {
		client = &http.Client{Timeout: probeTimeout}
	}
	probe := func(url string) bool {
		resp, err := client.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}
	return func(w http.ResponseWriter, r *http.Request) {
		upstreamOK := probe(upstreamURL+"/health") || probe(upstreamURL+"/v1/models")
		adminOK := probe(adminURL + "/health")

		status := "healthy"
		if !upstreamOK || !adminOK {
			status = "degraded"
		}
		api.WriteJSON(w, http.StatusOK, map[string]any{
			"status": status,
			"services": map[string]string{
				"gateway":  "healthy",
				"upstream": healthWord(upstreamOK),
				"admin":    healthWord(adminOK),
			},
		})
	}
}

func healthWord(ok bool) string {
	if ok {
		return "healthy"
	}
	return "unhealthy"
}

// Liveness is the per-service health endpoint used by the admin listener.
func Liveness(service string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		api.WriteJSON(w, http.StatusOK, map[string]string{
			"status":  "healthy",
			"service": service,
		})
	}
}

// Index serves GET / on the gateway: a small service directory.
func Index() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			api.WriteError(w, http.StatusNotFound, "not_found", "Not found")
			return
		}
		api.WriteJSON(w, http.StatusOK, map[string]any{
			"service": "LLM API Gateway",
			"version": Version,
			"endpoints": map[string]string{
				"health":            "/health",
				"llm_api":           "/v1/*",
				"self_service_auth": "/auth/*",
				"admin_api":         "/admin/api/*",
			},
		})
	}
}

// AuthProxy forwards /auth/* to the admin service unchanged. Self-service
// issuance needs no credential, so headers pass through as-is.
func AuthProxy(adminURL string) (http.HandlerFunc, error) {
	return adminProxy(adminURL, func(path string) string { return path })
}

// AdminPanelProxy forwards /admin/* to the admin service with the /admin
// prefix stripped, so /admin/api/keys reaches the admin listener as
// /api/keys. The admin service enforces its own token auth.
func AdminPanelProxy(adminURL string) (http.HandlerFunc, error) {
	return adminProxy(adminURL, func(path string) string {
		out := strings.TrimPrefix(path, "/admin")
		if out == "" {
			out = "/"
		}
		return out
	})
}

func adminProxy(adminURL string, rewritePath func(string) string) (http.HandlerFunc, error) {
	target, err := url.Parse(adminURL)
	if err != nil {
		return nil, err
	}
	rp := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.Out.URL.Path = rewritePath(pr.In.URL.Path)
			pr.Out.URL.RawQuery = pr.In.URL.RawQuery
			pr.SetXForwarded()
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.FromContext(r.Context()).Error("admin service proxy failed",
				"path", r.URL.Path, "error", err)
			api.WriteError(w, http.StatusInternalServerError, "admin_service_error",
				"Admin service error")
		},
	}
	return rp.ServeHTTP, nil
}
