// main.go — llmgate upstream simulator.
// A minimal OpenAI-shaped inference server for local development and manual
// testing of the gateway. No authentication; the gateway strips credentials
// before forwarding anyway. Port: 8001 (env: UPSTREAM_SIM_ADDR).
//
// Routes:
//
//	GET  /health              — liveness
//	GET  /v1/models           — single-model list
//	POST /v1/chat/completions — canned chat reply with synthetic usage
//	POST /v1/completions      — canned text reply with synthetic usage
package main

import (
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/llmgate/llmgate/internal/api"
	"github.com/llmgate/llmgate/internal/logger"
	"github.com/llmgate/llmgate/internal/shutdown"
)

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
	Prompt string `json:"prompt"`
}

// tokenCount is a crude whitespace approximation; good enough for exercising
// the gateway's accounting path.
func tokenCount(s string) int {
	if s == "" {
		return 0
	}
	return len(strings.Fields(s))
}

func main() {
	addr := getEnv("UPSTREAM_SIM_ADDR", ":8001")
	model := getEnv("DEFAULT_MODEL", "meta-llama/Llama-2-7b-chat-hf")
	log := logger.New(getEnv("LOG_FORMAT", "pretty"), getEnv("LOG_LEVEL", "info"))

	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		api.WriteJSON(w, http.StatusOK, map[string]any{
			"status": "healthy",
			"model":  model,
		})
	})

	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		api.WriteJSON(w, http.StatusOK, map[string]any{
			"object": "list",
			"data": []map[string]any{{
				"id":       model,
				"object":   "model",
				"created":  time.Now().Unix(),
				"owned_by": "internal",
			}},
		})
	})

	complete := func(object, reply string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				api.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST required")
				return
			}
			var req chatRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				api.WriteError(w, http.StatusBadRequest, "invalid_json", "Request body must be valid JSON")
				return
			}
			m := req.Model
			if m == "" {
				m = model
			}

			prompt := req.Prompt
			for _, msg := range req.Messages {
				prompt += " " + msg.Content
			}
			promptTokens := tokenCount(prompt)
			completionTokens := tokenCount(reply)

			resp := map[string]any{
				"id":      object + "-" + uuid.NewString(),
				"object":  object,
				"created": time.Now().Unix(),
				"model":   m,
				"usage": map[string]int{
					"prompt_tokens":     promptTokens,
					"completion_tokens": completionTokens,
					"total_tokens":      promptTokens + completionTokens,
				},
			}
			if object == "chat.completion" {
				resp["choices"] = []map[string]any{{
					"index":         0,
					"message":       map[string]string{"role": "assistant", "content": reply},
					"finish_reason": "stop",
				}}
			} else {
				resp["choices"] = []map[string]any{{
					"index":         0,
					"text":          reply,
					"finish_reason": "stop",
				}}
			}
			api.WriteJSON(w, http.StatusOK, resp)
		}
	}

	mux.HandleFunc("/v1/chat/completions",
		complete("chat.completion", "This is a simulated response from the upstream stand-in."))
	mux.HandleFunc("/v1/completions",
		complete("text_completion", "Simulated completion text."))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := shutdown.GracefulServe(srv, 5*time.Second, log); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}
