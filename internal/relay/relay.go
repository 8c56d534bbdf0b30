package relay

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/tastecall/internal/calllog"
	"github.com/ent0n29/tastecall/internal/monitor"
	"github.com/ent0n29/tastecall/internal/observability"
	"github.com/ent0n29/tastecall/internal/protocol"
	"github.com/ent0n29/tastecall/internal/session"
	"github.com/ent0n29/tastecall/internal/tools"
	"github.com/ent0n29/tastecall/internal/transport"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrModelNotOpen    = errors.New("model connection not open")
)

// Config holds the per-call model negotiation settings and relay timings.
type Config struct {
	Credentials        session.Credentials
	Voice              string
	Instructions       string
	TranscriptionModel string
	Temperature        float64
	MaxOutputTokens    int

	ModelConnectDelay     time.Duration
	GreetingDelay         time.Duration
	SlowFunctionThreshold time.Duration
	DialTimeout           time.Duration
}

// Dialer opens the outbound model connection.
type Dialer interface {
	DialModel(ctx context.Context, creds session.Credentials) (transport.Conn, error)
}

// WebsocketDialer dials the realtime model endpoint.
type WebsocketDialer struct {
	URL    string
	Dialer *websocket.Dialer
}

func (d WebsocketDialer) DialModel(ctx context.Context, creds session.Credentials) (transport.Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+creds.APIKey)
	headers.Set("OpenAI-Beta", "realtime=v1")

	conn, res, err := dialer.DialContext(ctx, d.URL, headers)
	if res != nil && res.Body != nil {
		_ = res.Body.Close()
	}
	if err != nil {
		if res != nil {
			return nil, fmt.Errorf("dial model websocket: status %d: %w", res.StatusCode, err)
		}
		return nil, fmt.Errorf("dial model websocket: %w", err)
	}
	return conn, nil
}

// Relay ties telephony connections, model connections, the function table
// and the monitor together around the session registry.
type Relay struct {
	cfg         Config
	registry    *session.Registry
	table       *tools.Table
	dialer      Dialer
	monitor     *monitor.Channel
	transcripts calllog.Store
	metrics     *observability.Metrics
}

func New(
	cfg Config,
	registry *session.Registry,
	table *tools.Table,
	dialer Dialer,
	monitorChannel *monitor.Channel,
	transcripts calllog.Store,
	metrics *observability.Metrics,
) *Relay {
	if cfg.SlowFunctionThreshold <= 0 {
		cfg.SlowFunctionThreshold = 2 * time.Second
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if strings.TrimSpace(cfg.Voice) == "" {
		cfg.Voice = "alloy"
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = 4096
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.8
	}
	return &Relay{
		cfg:         cfg,
		registry:    registry,
		table:       table,
		dialer:      dialer,
		monitor:     monitorChannel,
		transcripts: transcripts,
		metrics:     metrics,
	}
}

func (r *Relay) Registry() *session.Registry { return r.registry }

// BroadcastToModels writes raw to every open model connection.
func (r *Relay) BroadcastToModels(raw []byte) int {
	sent := 0
	r.registry.Range(func(s *session.Session) {
		m := s.Model()
		if !m.Open() {
			return
		}
		if err := m.SendRaw(raw); err != nil {
			log.Printf("relay: broadcast to %s failed: %v", s.Key(), err)
			return
		}
		sent++
	})
	return sent
}

// SendUserText injects caller-side text into a live call and asks the model
// to answer it.
func (r *Relay) SendUserText(key, text string) error {
	s, ok := r.registry.Get(key)
	if !ok {
		return ErrSessionNotFound
	}
	m := s.Model()
	if !m.Open() {
		return ErrModelNotOpen
	}
	if err := m.Send(protocol.NewUserText(text)); err != nil {
		return err
	}
	return m.Send(protocol.NewResponseCreate())
}

// Teardown closes both connections of key and removes the session.
func (r *Relay) Teardown(key, reason string) bool {
	s, ok := r.registry.Get(key)
	if !ok {
		return false
	}
	s.Close()
	removed := r.registry.Remove(key)
	if removed {
		log.Printf("relay: session %s torn down (%s)", key, reason)
		r.metrics.SessionEvents.WithLabelValues(reason).Inc()
	}
	return removed
}

func (r *Relay) sendTelephony(s *session.Session, v any, msgType string) {
	t := s.Telephony()
	if !t.Open() {
		return
	}
	if err := t.Send(v); err != nil {
		log.Printf("relay: telephony send %s for %s failed: %v", msgType, s.Key(), err)
		return
	}
	r.metrics.ObserveMessage("telephony", "outbound", msgType)
}

func (r *Relay) sendModel(s *session.Session, v any, msgType string) {
	m := s.Model()
	if !m.Open() {
		return
	}
	if err := m.Send(v); err != nil {
		log.Printf("relay: model send %s for %s failed: %v", msgType, s.Key(), err)
		return
	}
	r.metrics.ObserveMessage("model", "outbound", msgType)
}
