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
	RealtimeURL      string        `json:"realtime_url"`
	Voice            string        `json:"voice"`
	Functions        []string      `json:"functions"`
	TranscriptStore  string        `json:"transcript_store"`
	ActiveSessions   int           `json:"active_sessions"`
	MonitorConnected bool          `json:"monitor_connected"`
	Checks           []statusCheck `json:"checks"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	checks := make([]statusCheck, 0, 6)

	if strings.TrimSpace(s.cfg.OpenAIAPIKey) == "" {
		checks = append(checks, statusCheck{
			ID:     "openai_key",
			Status: "error",
			Label:  "Realtime model API key",
			Detail: "OPENAI_API_KEY is not set",
			Fix:    "Set OPENAI_API_KEY; calls are answered but the model never connects.",
		})
	} else {
		checks = append(checks, statusCheck{
			ID:     "openai_key",
			Status: "ok",
			Label:  "Realtime model API key",
			Detail: "present",
		})
	}

	switch {
	case strings.TrimSpace(s.cfg.RecommendAPIURL) == "":
		checks = append(checks, statusCheck{
			ID:     "recommend_api",
			Status: "warn",
			Label:  "Recommendation API",
			Detail: "RECOMMEND_API_URL is not set",
			Fix:    "Set RECOMMEND_API_URL and RECOMMEND_API_KEY so function calls return results.",
		})
	case strings.TrimSpace(s.cfg.RecommendAPIKey) == "":
		checks = append(checks, statusCheck{
			ID:     "recommend_api",
			Status: "warn",
			Label:  "Recommendation API",
			Detail: "RECOMMEND_API_KEY is not set",
		})
	default:
		checks = append(checks, statusCheck{
			ID:     "recommend_api",
			Status: "ok",
			Label:  "Recommendation API",
			Detail: s.cfg.RecommendAPIURL,
		})
	}

	functions := s.table.Names()
	if len(functions) == 0 {
		checks = append(checks, statusCheck{
			ID:     "functions",
			Status: "warn",
			Label:  "Function table",
			Detail: "no functions registered; the greeting waits for confirmed tools",
		})
	} else {
		checks = append(checks, statusCheck{
			ID:     "functions",
			Status: "ok",
			Label:  "Function table",
			Detail: fmt.Sprintf("%d registered", len(functions)),
		})
	}

	mode := s.storeMode()
	if mode == "postgres" {
		checks = append(checks, statusCheck{
			ID:     "transcript_store",
			Status: "ok",
			Label:  "Transcript persistence",
			Detail: mode,
		})
	} else {
		checks = append(checks, statusCheck{
			ID:     "transcript_store",
			Status: "warn",
			Label:  "Transcript persistence",
			Detail: mode,
			Fix:    "Set DATABASE_URL to keep transcripts across restarts.",
		})
	}

	respondJSON(w, http.StatusOK, statusResponse{
		RealtimeURL:      s.cfg.RealtimeURL,
		Voice:            s.cfg.RealtimeVoice,
		Functions:        functions,
		TranscriptStore:  mode,
		ActiveSessions:   s.relay.Registry().Count(),
		MonitorConnected: s.monitor.Current().Open(),
		Checks:           checks,
	})
}
