package relay

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/tastecall/internal/calllog"
	"github.com/ent0n29/tastecall/internal/policy"
	"github.com/ent0n29/tastecall/internal/protocol"
	"github.com/ent0n29/tastecall/internal/reliability"
	"github.com/ent0n29/tastecall/internal/session"
	"github.com/ent0n29/tastecall/internal/transport"
)

const markResponsePart = "responsePart"

// ConnectModel opens the model connection for key and negotiates the session.
// It is a no-op when the session is not ready or a connection already exists.
func (r *Relay) ConnectModel(ctx context.Context, key string) error {
	s, ok := r.registry.Get(key)
	if !ok {
		return ErrSessionNotFound
	}
	creds, ok := s.BeginModelConnect()
	if !ok {
		return nil
	}

	started := time.Now()
	dialCtx, cancel := context.WithTimeout(ctx, r.cfg.DialTimeout)
	conn, err := r.dialer.DialModel(dialCtx, creds)
	cancel()
	if err != nil {
		s.FinishModelConnect(nil)
		r.metrics.ProviderErrors.WithLabelValues("realtime", "dial").Inc()
		return err
	}

	peer := transport.NewPeer("model", conn)
	if !s.FinishModelConnect(peer) {
		_ = peer.Close()
		return nil
	}
	r.metrics.ObserveModelConnect(time.Since(started))
	log.Printf("relay: model connected for %s in %s", key, time.Since(started).Round(time.Millisecond))

	if err := peer.Send(r.sessionUpdate()); err != nil {
		s.DetachModel(peer)
		_ = peer.Close()
		return err
	}
	r.metrics.ObserveMessage("model", "outbound", protocol.TypeSessionUpdate)

	go r.readModel(key, peer)
	return nil
}

func (r *Relay) sessionUpdate() protocol.SessionUpdate {
	cfg := protocol.SessionConfig{
		Modalities:              []string{"text", "audio"},
		Voice:                   r.cfg.Voice,
		Temperature:             r.cfg.Temperature,
		MaxResponseOutputTokens: r.cfg.MaxOutputTokens,
		TurnDetection:           protocol.TurnDetection{Type: "server_vad"},
		InputAudioFormat:        "g711_ulaw",
		OutputAudioFormat:       "g711_ulaw",
		Instructions:            r.cfg.Instructions,
		Tools:                   r.table.Definitions(),
		ToolChoice:              "auto",
	}
	if r.cfg.TranscriptionModel != "" {
		cfg.InputAudioTranscription = &protocol.InputAudioTranscription{Model: r.cfg.TranscriptionModel}
	}
	return protocol.SessionUpdate{Type: protocol.TypeSessionUpdate, Session: cfg}
}

func (r *Relay) readModel(key string, peer *transport.Peer) {
	for {
		raw, err := peer.Read()
		if err != nil {
			break
		}
		r.monitor.Forward(raw)

		s, ok := r.registry.Get(key)
		if !ok || s.Model() != peer {
			r.metrics.DroppedFrames.WithLabelValues("model").Inc()
			continue
		}
		r.handleModelFrame(s, raw)
	}

	if s, ok := r.registry.Get(key); ok {
		s.DetachModel(peer)
	}
	log.Printf("relay: model connection for %s closed", key)
}

func (r *Relay) handleModelFrame(s *session.Session, raw []byte) {
	ev, err := protocol.ParseModelEvent(raw)
	if err != nil {
		log.Printf("relay: dropping model frame for %s: %v", s.Key(), err)
		r.metrics.DroppedFrames.WithLabelValues("model").Inc()
		return
	}
	r.metrics.ObserveMessage("model", "inbound", ev.Type)

	switch ev.Type {
	case protocol.TypeSessionCreated:
		log.Printf("relay: model session created for %s", s.Key())
	case protocol.TypeSessionUpdated:
		r.onSessionUpdated(s, ev)
	case protocol.TypeSpeechStarted:
		r.interrupt(s)
	case protocol.TypeResponseAudioDelta:
		r.relayAudio(s, ev)
	case protocol.TypeResponseOutputDone:
		if call, ok := ev.FunctionCall(); ok {
			key := s.Key()
			go func() {
				if err := r.Dispatch(context.Background(), key, call); err != nil {
					log.Printf("relay: function call %s for %s: %v", call.Name, key, err)
				}
			}()
		}
	case protocol.TypeConversationItemAdded:
		if ev.Item != nil && ev.Item.Type == protocol.ItemTypeMessage {
			r.recordTranscript(s, ev.Item.ID, ev.Item.Role, ev.Item.Text())
		}
	case protocol.TypeInputTranscriptDone:
		r.recordTranscript(s, ev.ItemID, "user", ev.Transcript)
	case protocol.TypeError:
		code := ""
		msg := ""
		if ev.Error != nil {
			code, msg = ev.Error.Code, ev.Error.Message
		}
		r.metrics.ProviderErrors.WithLabelValues("realtime", reliability.ErrorCodeLabel(code)).Inc()
		log.Printf("relay: model error for %s: code=%s transient=%t message=%s",
			s.Key(), code, reliability.IsTransientRealtimeError(code), msg)
	}
}

// onSessionUpdated schedules the greeting once the model has confirmed the
// function definitions.
func (r *Relay) onSessionUpdated(s *session.Session, ev protocol.ModelEvent) {
	if ev.Session == nil || len(ev.Session.Tools) == 0 {
		log.Printf("relay: session.updated for %s carries no tools, greeting withheld", s.Key())
		return
	}
	log.Printf("relay: model session for %s confirmed %d tools", s.Key(), len(ev.Session.Tools))
	if !s.ClaimGreeting() {
		return
	}
	key := s.Key()
	time.AfterFunc(r.cfg.GreetingDelay, func() {
		s, ok := r.registry.Get(key)
		if !ok {
			return
		}
		r.sendModel(s, protocol.NewResponseCreate(), protocol.TypeResponseCreate)
	})
}

func (r *Relay) relayAudio(s *session.Session, ev protocol.ModelEvent) {
	if ev.Delta == "" {
		return
	}
	s.ObserveAssistantAudio(ev.ItemID)
	sid := s.StreamSID()
	r.sendTelephony(s, protocol.NewOutboundMedia(sid, ev.Delta), string(protocol.EventMedia))
	r.sendTelephony(s, protocol.NewOutboundMark(sid, markResponsePart), string(protocol.EventMark))
}

func (r *Relay) recordTranscript(s *session.Session, itemID, role, text string) {
	if text == "" {
		return
	}
	redacted, changed := policy.RedactTranscript(text)
	log.Printf("relay: transcript %s %s: %s", s.Key(), role, redacted)
	if r.transcripts == nil {
		return
	}
	rec := calllog.TranscriptRecord{
		ID:        uuid.NewString(),
		StreamSID: s.Key(),
		CallSID:   s.Info().CallSID,
		ItemID:    itemID,
		Role:      role,
		Text:      redacted,
		Redacted:  changed,
		CreatedAt: time.Now().UTC(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := r.transcripts.SaveTranscript(ctx, rec); err != nil {
			log.Printf("relay: save transcript for %s: %v", rec.StreamSID, err)
		}
	}()
}
