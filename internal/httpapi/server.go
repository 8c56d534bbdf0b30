package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"github.com/ent0n29/tastecall/internal/calllog"
	"github.com/ent0n29/tastecall/internal/config"
	"github.com/ent0n29/tastecall/internal/monitor"
	"github.com/ent0n29/tastecall/internal/observability"
	"github.com/ent0n29/tastecall/internal/relay"
	"github.com/ent0n29/tastecall/internal/session"
	"github.com/ent0n29/tastecall/internal/tools"
	"github.com/ent0n29/tastecall/internal/transport"
)

const (
	telephonyReadLimit = 1 << 20
	monitorReadLimit   = 4 << 20
	defaultTranscript  = 50
)

type Server struct {
	cfg         config.Config
	relay       *relay.Relay
	monitor     *monitor.Channel
	table       *tools.Table
	transcripts calllog.Store
	metrics     *observability.Metrics
	upgrader    websocket.Upgrader
}

func New(
	cfg config.Config,
	rl *relay.Relay,
	monitorChannel *monitor.Channel,
	table *tools.Table,
	transcripts calllog.Store,
	metrics *observability.Metrics,
) *Server {
	s := &Server{
		cfg:         cfg,
		relay:       rl,
		monitor:     monitorChannel,
		table:       table,
		transcripts: transcripts,
		metrics:     metrics,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(r *http.Request) bool { return s.originAllowed(r, r.Header.Get("Origin")) },
	}
	return s
}

// originAllowed admits non-browser clients, which usually omit Origin, and
// same-origin browser clients unless every origin is allowed.
func (s *Server) originAllowed(r *http.Request, origin string) bool {
	if s.cfg.AllowAnyOrigin {
		return true
	}
	origin = strings.TrimSpace(origin)
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/incoming-call", s.handleIncomingCall)
	r.Post("/incoming-call", s.handleIncomingCall)
	r.Get("/media-stream", s.handleMediaStream)
	r.Get("/monitor", s.handleMonitor)

	r.Get("/v1/status", s.handleStatus)
	r.Get("/v1/sessions", s.handleListSessions)
	r.Delete("/v1/sessions/{id}", s.handleEndSession)
	r.Post("/v1/sessions/{id}/messages", s.handleSessionMessage)
	r.Get("/v1/calls/{id}/transcript", s.handleTranscript)

	c := cors.New(cors.Options{
		AllowOriginRequestFunc: s.originAllowed,
		AllowedMethods:         []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:         []string{"*"},
	})
	return c.Handler(r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"transcript_store": s.storeMode(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":           "ready",
		"sessions":         s.relay.Registry().Count(),
		"functions":        s.table.Len(),
		"transcript_store": s.storeMode(),
	})
}

func (s *Server) handleMediaStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("httpapi: media-stream upgrade failed: %v", err)
		return
	}
	conn.SetReadLimit(telephonyReadLimit)
	s.metrics.SessionEvents.WithLabelValues("telephony_connected").Inc()
	s.relay.ServeTelephony(transport.NewPeer("telephony", conn))
	s.metrics.SessionEvents.WithLabelValues("telephony_disconnected").Inc()
}

func (s *Server) handleMonitor(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("httpapi: monitor upgrade failed: %v", err)
		return
	}
	conn.SetReadLimit(monitorReadLimit)
	s.monitor.Serve(transport.NewPeer("monitor", conn), s.relay)
}

type sessionView struct {
	StreamSID      string    `json:"stream_sid"`
	CallSID        string    `json:"call_sid,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	TelephonyOpen  bool      `json:"telephony_open"`
	ModelConnected bool      `json:"model_connected"`
	Entities       int       `json:"entities"`
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	views := make([]sessionView, 0, s.relay.Registry().Count())
	s.relay.Registry().Range(func(sess *session.Session) {
		views = append(views, sessionView{
			StreamSID:      sess.Key(),
			CallSID:        sess.Info().CallSID,
			StartedAt:      sess.StartedAt(),
			TelephonyOpen:  sess.Telephony().Open(),
			ModelConnected: sess.Model().Open(),
			Entities:       sess.Entities().Len(),
		})
	})
	respondJSON(w, http.StatusOK, map[string]any{
		"count":    len(views),
		"sessions": views,
	})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.relay.Teardown(id, "operator_ended") {
		respondError(w, http.StatusNotFound, "session_not_found", "no active call "+id)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"stream_sid": id, "status": "ended"})
}

type sessionMessageRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleSessionMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req sessionMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "text is required")
		return
	}
	switch err := s.relay.SendUserText(id, req.Text); {
	case err == nil:
		respondJSON(w, http.StatusAccepted, map[string]any{"stream_sid": id, "status": "sent"})
	case errors.Is(err, relay.ErrSessionNotFound):
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
	case errors.Is(err, relay.ErrModelNotOpen):
		respondError(w, http.StatusConflict, "model_not_connected", err.Error())
	default:
		respondError(w, http.StatusBadGateway, "send_failed", err.Error())
	}
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit := defaultTranscript
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}
	if s.transcripts == nil {
		respondError(w, http.StatusNotFound, "transcripts_disabled", "transcript store not configured")
		return
	}
	records, err := s.transcripts.RecentTranscript(r.Context(), id, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "transcript_unavailable", err.Error())
		return
	}
	if records == nil {
		records = []calllog.TranscriptRecord{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"stream_sid": id,
		"count":      len(records),
		"records":    records,
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func (s *Server) storeMode() string {
	if s.transcripts == nil {
		return "disabled"
	}
	return s.transcripts.Mode()
}
