package transport

import (
	"encoding/json"
	"errors"
	"io"
	"sync"

	"github.com/gorilla/websocket"
)

var errMockClosed = errors.New("mock connection closed")

// MockConn is an in-memory Conn used by tests and local tooling. Frames pushed
// with Push are returned by ReadMessage in order; written frames are recorded.
type MockConn struct {
	in       chan []byte
	hangup   chan struct{}
	closed   chan struct{}
	hangOnce sync.Once
	once     sync.Once

	mu      sync.Mutex
	written [][]byte
}

func NewMockConn() *MockConn {
	return &MockConn{
		in:     make(chan []byte, 1024),
		hangup: make(chan struct{}),
		closed: make(chan struct{}),
	}
}

func (c *MockConn) Push(frame []byte) {
	c.in <- frame
}

func (c *MockConn) PushJSON(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	c.Push(b)
}

// Hangup makes ReadMessage return io.EOF once queued frames are consumed,
// like a remote peer going away.
func (c *MockConn) Hangup() {
	c.hangOnce.Do(func() { close(c.hangup) })
}

func (c *MockConn) ReadMessage() (int, []byte, error) {
	select {
	case frame := <-c.in:
		return websocket.TextMessage, frame, nil
	case <-c.closed:
		return 0, nil, errMockClosed
	default:
	}
	select {
	case frame := <-c.in:
		return websocket.TextMessage, frame, nil
	case <-c.hangup:
		return 0, nil, io.EOF
	case <-c.closed:
		return 0, nil, errMockClosed
	}
}

func (c *MockConn) WriteMessage(_ int, data []byte) error {
	select {
	case <-c.closed:
		return errMockClosed
	default:
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	c.mu.Lock()
	c.written = append(c.written, cp)
	c.mu.Unlock()
	return nil
}

func (c *MockConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *MockConn) Closed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Written returns a copy of every frame written so far.
func (c *MockConn) Written() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.written))
	copy(out, c.written)
	return out
}

// WrittenJSON decodes every written frame as a JSON object.
func (c *MockConn) WrittenJSON() []map[string]any {
	frames := c.Written()
	out := make([]map[string]any, 0, len(frames))
	for _, f := range frames {
		var m map[string]any
		if err := json.Unmarshal(f, &m); err != nil {
			continue
		}
		out = append(out, m)
	}
	return out
}
