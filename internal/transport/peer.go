package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const writeTimeout = 10 * time.Second

var ErrClosed = errors.New("peer connection closed")

// Conn is the subset of *websocket.Conn a Peer needs.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type deadlineSetter interface {
	SetWriteDeadline(t time.Time) error
}

// Peer owns one websocket connection: a single reader, serialized writers,
// and an idempotent close that every holder can observe through Open.
type Peer struct {
	name      string
	conn      Conn
	writeMu   sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
}

func NewPeer(name string, conn Conn) *Peer {
	return &Peer{name: name, conn: conn}
}

func (p *Peer) Name() string {
	if p == nil {
		return ""
	}
	return p.name
}

// Open reports whether the peer can still be written to. A nil peer is closed.
func (p *Peer) Open() bool {
	return p != nil && !p.closed.Load()
}

// Send encodes v as JSON and writes it as one text frame.
func (p *Peer) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", p.Name(), err)
	}
	return p.SendRaw(data)
}

// SendRaw writes data verbatim as one text frame.
func (p *Peer) SendRaw(data []byte) error {
	if !p.Open() {
		return ErrClosed
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if p.closed.Load() {
		return ErrClosed
	}
	if d, ok := p.conn.(deadlineSetter); ok {
		_ = d.SetWriteDeadline(time.Now().Add(writeTimeout))
	}
	if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		_ = p.Close()
		return fmt.Errorf("write %s frame: %w", p.name, err)
	}
	return nil
}

// Read blocks for the next data frame. Any error is terminal for the peer.
func (p *Peer) Read() ([]byte, error) {
	for {
		msgType, data, err := p.conn.ReadMessage()
		if err != nil {
			_ = p.Close()
			return nil, err
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		return data, nil
	}
}

func (p *Peer) Close() error {
	if p == nil {
		return nil
	}
	var err error
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		err = p.conn.Close()
	})
	return err
}
