package session

import (
	"sync"
	"time"

	"github.com/ent0n29/tastecall/internal/tools"
	"github.com/ent0n29/tastecall/internal/transport"
)

// Credentials open the model connection for one call.
type Credentials struct {
	APIKey string
}

// StartInfo is the per-call identity carried by the telephony "start" event.
type StartInfo struct {
	StreamSID  string
	CallSID    string
	AccountSID string
}

// Playback records the assistant item currently being spoken and the caller
// audio timestamp at which it started. It is set and cleared as one value.
type Playback struct {
	ItemID  string
	StartMS int64
}

// Session is the state of one phone call. Telephony frames and model frames
// arrive on different goroutines, so all state goes through methods.
type Session struct {
	key string

	mu              sync.Mutex
	telephony       *transport.Peer
	model           *transport.Peer
	modelConnecting bool
	credentials     Credentials
	info            StartInfo
	latestMediaMS   int64
	playback        *Playback
	greeted         bool
	entities        *tools.EntityContext
	startedAt       time.Time
}

func newSession(key string) *Session {
	return &Session{key: key, entities: tools.NewEntityContext()}
}

func (s *Session) Key() string { return s.key }

// Start reinitializes every per-call field. Prior state is discarded, never merged.
func (s *Session) Start(info StartInfo, creds Credentials) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.info = info
	s.credentials = creds
	s.latestMediaMS = 0
	s.playback = nil
	s.greeted = false
	s.entities = tools.NewEntityContext()
	s.startedAt = time.Now().UTC()
}

func (s *Session) Info() StartInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

func (s *Session) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

// StreamSID is the identifier the telephony peer expects on outbound frames.
func (s *Session) StreamSID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.info.StreamSID != "" {
		return s.info.StreamSID
	}
	return s.key
}

// BindTelephony makes p the session's telephony connection and returns the
// previous one, if it was a different peer.
func (s *Session) BindTelephony(p *transport.Peer) *transport.Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.telephony
	s.telephony = p
	if prev == p {
		return nil
	}
	return prev
}

func (s *Session) Telephony() *transport.Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.telephony
}

// OwnsTelephony reports whether p is still this session's telephony connection.
func (s *Session) OwnsTelephony(p *transport.Peer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.telephony == p
}

func (s *Session) Model() *transport.Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model
}

// BeginModelConnect claims the right to open the model connection. It fails
// unless the telephony connection, call identifier and credentials are all
// present and no model connection is open or being opened.
func (s *Session) BeginModelConnect() (Credentials, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.telephony.Open() || s.key == "" || s.credentials.APIKey == "" {
		return Credentials{}, false
	}
	if s.modelConnecting || s.model.Open() {
		return Credentials{}, false
	}
	s.modelConnecting = true
	return s.credentials, true
}

// FinishModelConnect ends a claim from BeginModelConnect. A nil peer means the
// open failed. It returns false if the telephony side went away meanwhile, in
// which case the caller must close p.
func (s *Session) FinishModelConnect(p *transport.Peer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modelConnecting = false
	if p == nil {
		return false
	}
	if !s.telephony.Open() {
		return false
	}
	s.model = p
	return true
}

// DetachModel clears the model handle if it is still p, so a later
// "connected" event can reconnect.
func (s *Session) DetachModel(p *transport.Peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.model == p {
		s.model = nil
	}
}

func (s *Session) ObserveMedia(ts int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latestMediaMS = ts
}

func (s *Session) LatestMediaMS() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latestMediaMS
}

// ObserveAssistantAudio records the start of playback for a new assistant item.
func (s *Session) ObserveAssistantAudio(itemID string) {
	if itemID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.playback != nil && s.playback.ItemID == itemID {
		return
	}
	s.playback = &Playback{ItemID: itemID, StartMS: s.latestMediaMS}
}

func (s *Session) Playback() (Playback, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.playback == nil {
		return Playback{}, false
	}
	return *s.playback, true
}

// TakeInterruption clears the playback record and returns the in-flight item
// with how much of it the caller actually heard. ok is false if nothing was playing.
func (s *Session) TakeInterruption() (itemID string, elapsedMS int64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.playback == nil {
		return "", 0, false
	}
	itemID = s.playback.ItemID
	elapsedMS = s.latestMediaMS - s.playback.StartMS
	if elapsedMS < 0 {
		elapsedMS = 0
	}
	s.playback = nil
	return itemID, elapsedMS, true
}

// ClaimGreeting returns true exactly once per call.
func (s *Session) ClaimGreeting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.greeted {
		return false
	}
	s.greeted = true
	return true
}

func (s *Session) Entities() *tools.EntityContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entities
}

// Orphaned reports whether neither peer connection is open.
func (s *Session) Orphaned() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.telephony.Open() && !s.model.Open() && !s.modelConnecting
}

// Close closes both peer connections.
func (s *Session) Close() {
	s.mu.Lock()
	telephony, model := s.telephony, s.model
	s.model = nil
	s.playback = nil
	s.mu.Unlock()
	_ = model.Close()
	_ = telephony.Close()
}
