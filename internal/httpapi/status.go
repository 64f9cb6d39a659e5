package httpapi

import (
	"fmt"
	"net/http"
	"strings"
)

type statusCheck struct {
	ID     string `json:"id"`
	Status string `json:"status"` // ok|warn|error
	Label  string `json:"label"`
	Detail string `json:"detail,omitempty"`
	Fix    string `json:"fix,omitempty"`
}

type statusResponse struct {
	ModelProvider   string        `json:"model_provider"`
	Model           string        `json:"model"`
	TranscriptStore string        `json:"transcript_store"`
	ActiveSessions  int           `json:"active_sessions"`
	Checks          []statusCheck `json:"checks"`
}

// handleStatus reports how the service is configured and what an operator
// should change.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	provider := s.modelProvider()
	checks := make([]statusCheck, 0, 4)
	checks = append(checks, s.modelChecks(provider)...)

	switch s.storeMode() {
	case "postgres":
		checks = append(checks, statusCheck{
			ID:     "transcript_store",
			Status: "ok",
			Label:  "Transcript store",
			Detail: "postgres",
		})
	default:
		checks = append(checks, statusCheck{
			ID:     "transcript_store",
			Status: "warn",
			Label:  "Transcript store",
			Detail: "in-memory, sessions are bound to this process",
			Fix:    "Set DATABASE_URL to share sessions between replicas.",
		})
	}

	if s.cfg.SubmitRate > 0 {
		checks = append(checks, statusCheck{
			ID:     "submit_rate",
			Status: "ok",
			Label:  "Submit rate limit",
			Detail: fmt.Sprintf("%.2f/s, burst %d", s.cfg.SubmitRate, s.cfg.SubmitBurst),
		})
	} else {
		checks = append(checks, statusCheck{
			ID:     "submit_rate",
			Status: "warn",
			Label:  "Submit rate limit",
			Detail: "disabled",
			Fix:    "Set CHAT_SUBMIT_RATE to bound model calls per session.",
		})
	}

	respondJSON(w, http.StatusOK, statusResponse{
		ModelProvider:   provider,
		Model:           s.modelName(provider),
		TranscriptStore: s.storeMode(),
		ActiveSessions:  s.sessions.ActiveCount(),
		Checks:          checks,
	})
}

func (s *Server) modelChecks(provider string) []statusCheck {
	keyCheck := func(id, label, env, value string) statusCheck {
		if strings.TrimSpace(value) == "" {
			return statusCheck{
				ID:     id,
				Status: "error",
				Label:  label,
				Detail: env + " is not set",
				Fix:    "Set " + env + " or switch MODEL_PROVIDER.",
			}
		}
		return statusCheck{ID: id, Status: "ok", Label: label, Detail: "present"}
	}

	switch provider {
	case "gemini":
		return []statusCheck{keyCheck("google_api_key", "Google API key", "GOOGLE_API_KEY", s.cfg.GoogleAPIKey)}
	case "openai":
		checks := []statusCheck{keyCheck("openai_api_key", "OpenAI API key", "OPENAI_API_KEY", s.cfg.OpenAIAPIKey)}
		if base := strings.TrimSpace(s.cfg.OpenAIBaseURL); base != "" {
			checks = append(checks, statusCheck{
				ID:     "openai_base_url",
				Status: "ok",
				Label:  "OpenAI-compatible endpoint",
				Detail: base,
			})
		}
		return checks
	case "mock":
		return []statusCheck{{
			ID:     "mock_model",
			Status: "warn",
			Label:  "Model is mock",
			Detail: "Replies are canned echoes.",
			Fix:    "Set MODEL_PROVIDER=gemini and GOOGLE_API_KEY.",
		}}
	default:
		return []statusCheck{{
			ID:     "model_provider",
			Status: "error",
			Label:  "Model provider",
			Detail: "unknown provider " + provider,
		}}
	}
}

func (s *Server) modelName(provider string) string {
	switch provider {
	case "gemini":
		return s.cfg.GeminiModel
	case "openai":
		return s.cfg.OpenAIModel
	default:
		return provider
	}
}
