package relay

import (
	"github.com/eapache/queue"

	"github.com/ent0n29/tastecall/internal/protocol"
)

type connState int

const (
	stateAwaitingKey connState = iota
	stateKeyResolved
	stateTerminated
)

func (s connState) String() string {
	switch s {
	case stateAwaitingKey:
		return "awaiting_key"
	case stateKeyResolved:
		return "key_resolved"
	case stateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// inbound orders the frames of one telephony connection. Frames that arrive
// before the call identifier is known are held and released, in arrival
// order, right after the "start" frame that resolves it. Only the reader
// goroutine of the connection touches it.
type inbound struct {
	state   connState
	key     string
	pending *queue.Queue
}

func newInbound() *inbound {
	return &inbound{state: stateAwaitingKey, pending: queue.New()}
}

// Offer returns the frames that are ready to be processed after raw arrived.
func (in *inbound) Offer(raw []byte) [][]byte {
	switch in.state {
	case stateKeyResolved:
		return [][]byte{raw}
	case stateTerminated:
		return nil
	}

	f, err := protocol.ParseTelephonyFrame(raw)
	if err != nil || f.Event != protocol.EventStart {
		in.pending.Add(raw)
		return nil
	}

	in.key = f.Key()
	in.state = stateKeyResolved
	ready := make([][]byte, 0, in.pending.Length()+1)
	ready = append(ready, raw)
	for in.pending.Length() > 0 {
		ready = append(ready, in.pending.Remove().([]byte))
	}
	return ready
}

func (in *inbound) Key() string { return in.key }

func (in *inbound) State() connState { return in.state }

func (in *inbound) Pending() int { return in.pending.Length() }

// Terminate drops anything still pending. It is final.
func (in *inbound) Terminate() {
	in.state = stateTerminated
	for in.pending.Length() > 0 {
		in.pending.Remove()
	}
}
