package calllog

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultInMemoryPerCall = 512

// InMemoryStore keeps a bounded tail of each call's transcript in process.
type InMemoryStore struct {
	mu      sync.RWMutex
	perCall int
	records map[string][]TranscriptRecord
}

func NewInMemoryStore(perCall int) *InMemoryStore {
	if perCall <= 0 {
		perCall = defaultInMemoryPerCall
	}
	return &InMemoryStore{perCall: perCall, records: make(map[string][]TranscriptRecord)}
}

func (s *InMemoryStore) SaveTranscript(_ context.Context, record TranscriptRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	arr := append(s.records[record.StreamSID], record)
	if len(arr) > s.perCall {
		arr = arr[len(arr)-s.perCall:]
	}
	s.records[record.StreamSID] = arr
	return nil
}

func (s *InMemoryStore) RecentTranscript(_ context.Context, streamSID string, limit int) ([]TranscriptRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.records[streamSID]
	if len(arr) == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > len(arr) {
		limit = len(arr)
	}
	out := make([]TranscriptRecord, 0, limit)
	out = append(out, arr[len(arr)-limit:]...)
	return out, nil
}

func (s *InMemoryStore) Mode() string { return "in-memory" }

func (s *InMemoryStore) Close() error { return nil }
