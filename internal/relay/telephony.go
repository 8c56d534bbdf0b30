package relay

import (
	"context"
	"log"
	"time"

	"github.com/ent0n29/tastecall/internal/protocol"
	"github.com/ent0n29/tastecall/internal/session"
	"github.com/ent0n29/tastecall/internal/transport"
)

type telephonyConn struct {
	relay   *Relay
	peer    *transport.Peer
	inbound *inbound
}

// ServeTelephony runs the read loop of one accepted media-stream connection
// and returns once it is closed.
func (r *Relay) ServeTelephony(peer *transport.Peer) {
	c := &telephonyConn{relay: r, peer: peer, inbound: newInbound()}
	for {
		raw, err := peer.Read()
		if err != nil {
			break
		}
		for _, frame := range c.inbound.Offer(raw) {
			c.handle(frame)
		}
		if c.inbound.State() == stateTerminated {
			break
		}
	}
	c.finish()
}

func (c *telephonyConn) handle(raw []byte) {
	r := c.relay
	f, err := protocol.ParseTelephonyFrame(raw)
	if err != nil {
		log.Printf("relay: dropping telephony frame: %v", err)
		r.metrics.DroppedFrames.WithLabelValues("telephony").Inc()
		return
	}
	r.metrics.ObserveMessage("telephony", "inbound", string(f.Event))

	switch f.Event {
	case protocol.EventStart:
		c.start(f)
	case protocol.EventConnected:
		key := c.inbound.Key()
		time.AfterFunc(r.cfg.ModelConnectDelay, func() {
			if err := r.ConnectModel(context.Background(), key); err != nil {
				log.Printf("relay: model connect for %s failed: %v", key, err)
			}
		})
	case protocol.EventMedia:
		s, ok := c.session()
		if !ok {
			return
		}
		s.ObserveMedia(int64(f.Media.Timestamp))
		r.sendModel(s, protocol.NewAudioAppend(f.Media.Payload), protocol.TypeInputAudioBufferAppend)
	case protocol.EventStop, protocol.EventClose:
		c.inbound.Terminate()
	case protocol.EventMark:
	}
}

func (c *telephonyConn) start(f protocol.TelephonyFrame) {
	r := c.relay
	key := f.Key()
	if key != c.inbound.Key() {
		log.Printf("relay: ignoring start for %s on connection bound to %s", key, c.inbound.Key())
		r.metrics.DroppedFrames.WithLabelValues("telephony").Inc()
		return
	}

	s, created := r.registry.GetOrCreate(key)
	if prev := s.BindTelephony(c.peer); prev != nil {
		log.Printf("relay: telephony connection for %s replaced", key)
		_ = prev.Close()
	}
	s.Start(session.StartInfo{
		StreamSID:  key,
		CallSID:    f.Start.CallSID,
		AccountSID: f.Start.AccountSID,
	}, r.cfg.Credentials)

	if created {
		r.metrics.SessionEvents.WithLabelValues("started").Inc()
		r.metrics.ActiveSessions.Set(float64(r.registry.Count()))
	} else {
		r.metrics.SessionEvents.WithLabelValues("restarted").Inc()
	}
	log.Printf("relay: call %s started (call_sid=%s)", key, f.Start.CallSID)
}

func (c *telephonyConn) session() (*session.Session, bool) {
	s, ok := c.relay.registry.Get(c.inbound.Key())
	if !ok || !s.OwnsTelephony(c.peer) {
		return nil, false
	}
	return s, true
}

// finish tears the call down if this connection still owns it. A connection
// that was replaced by a newer one for the same call only closes itself.
func (c *telephonyConn) finish() {
	c.inbound.Terminate()
	defer func() { _ = c.peer.Close() }()

	key := c.inbound.Key()
	if key == "" {
		return
	}
	if _, ok := c.session(); !ok {
		return
	}
	c.relay.Teardown(key, "telephony_closed")
}
