package monitor

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/tastecall/internal/observability"
	"github.com/ent0n29/tastecall/internal/protocol"
	"github.com/ent0n29/tastecall/internal/transport"
)

// Broadcaster delivers a raw frame to every open model connection and
// reports how many received it.
type Broadcaster interface {
	BroadcastToModels(raw []byte) int
}

// Channel holds the single observer connection. Accepting a new observer
// evicts the previous one.
type Channel struct {
	mu      sync.Mutex
	current *transport.Peer
	connID  string
	metrics *observability.Metrics
	now     func() time.Time
}

func NewChannel(metrics *observability.Metrics) *Channel {
	return &Channel{metrics: metrics, now: time.Now}
}

// Replace installs p as the current observer, closes the previous one and
// acknowledges the new connection. It returns the new connection id.
func (c *Channel) Replace(p *transport.Peer) string {
	id := uuid.NewString()
	c.mu.Lock()
	prev := c.current
	c.current = p
	c.connID = id
	c.mu.Unlock()

	if prev != nil && prev != p {
		log.Printf("monitor: evicting previous observer")
		_ = prev.Close()
	}
	if c.metrics != nil {
		c.metrics.MonitorConnections.Inc()
	}
	if err := p.Send(protocol.NewConnectionEstablished(id, c.now())); err != nil {
		log.Printf("monitor: acknowledge failed: %v", err)
	}
	return id
}

// Release clears the holder if p is still current.
func (c *Channel) Release(p *transport.Peer) {
	c.mu.Lock()
	if c.current == p {
		c.current = nil
		c.connID = ""
	}
	c.mu.Unlock()
	_ = p.Close()
}

func (c *Channel) Current() *transport.Peer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Forward mirrors one model frame verbatim to the observer, if any.
func (c *Channel) Forward(raw []byte) {
	p := c.Current()
	if !p.Open() {
		return
	}
	if err := p.SendRaw(raw); err != nil {
		log.Printf("monitor: forward failed: %v", err)
	}
}

// Serve reads frames from the observer until it disconnects, broadcasting
// each well-formed JSON object to the model connections.
func (c *Channel) Serve(p *transport.Peer, target Broadcaster) {
	c.Replace(p)
	defer c.Release(p)

	for {
		raw, err := p.Read()
		if err != nil {
			return
		}
		if _, err := protocol.ParseMonitorFrame(raw); err != nil {
			log.Printf("monitor: dropping frame: %v", err)
			if c.metrics != nil {
				c.metrics.DroppedFrames.WithLabelValues("monitor").Inc()
			}
			continue
		}
		n := target.BroadcastToModels(raw)
		if c.metrics != nil {
			c.metrics.MonitorBroadcasts.Inc()
		}
		log.Printf("monitor: broadcast frame to %d model connection(s)", n)
	}
}
