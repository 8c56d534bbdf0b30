package calllog

import (
	"context"
	"testing"
)

func TestInMemoryStoreKeepsChronologicalTail(t *testing.T) {
	s := NewInMemoryStore(3)
	ctx := context.Background()
	for _, text := range []string{"a", "b", "c", "d"} {
		if err := s.SaveTranscript(ctx, TranscriptRecord{StreamSID: "S1", Role: "user", Text: text}); err != nil {
			t.Fatalf("SaveTranscript() error = %v", err)
		}
	}
	_ = s.SaveTranscript(ctx, TranscriptRecord{StreamSID: "S2", Role: "user", Text: "other"})

	got, err := s.RecentTranscript(ctx, "S1", 0)
	if err != nil {
		t.Fatalf("RecentTranscript() error = %v", err)
	}
	if len(got) != 3 || got[0].Text != "b" || got[2].Text != "d" {
		t.Fatalf("RecentTranscript() = %+v", got)
	}
	if got[0].ID == "" || got[0].CreatedAt.IsZero() {
		t.Fatalf("record defaults not applied: %+v", got[0])
	}

	last, _ := s.RecentTranscript(ctx, "S1", 1)
	if len(last) != 1 || last[0].Text != "d" {
		t.Fatalf("RecentTranscript(limit=1) = %+v", last)
	}
	none, _ := s.RecentTranscript(ctx, "missing", 5)
	if len(none) != 0 {
		t.Fatalf("RecentTranscript(missing) = %+v", none)
	}
}
