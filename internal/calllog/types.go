package calllog

import (
	"context"
	"time"
)

// TranscriptRecord stores one caller or assistant utterance from a call.
type TranscriptRecord struct {
	ID        string    `json:"id"`
	StreamSID string    `json:"stream_sid"`
	CallSID   string    `json:"call_sid"`
	ItemID    string    `json:"item_id,omitempty"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Redacted  bool      `json:"redacted"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists and retrieves call transcripts.
type Store interface {
	SaveTranscript(ctx context.Context, record TranscriptRecord) error
	RecentTranscript(ctx context.Context, streamSID string, limit int) ([]TranscriptRecord, error)
	Mode() string
	Close() error
}
