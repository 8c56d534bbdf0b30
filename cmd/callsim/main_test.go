package main

import (
	"encoding/base64"
	"testing"

	"github.com/ent0n29/tastecall/internal/audio"
)

func TestParseStreamURL(t *testing.T) {
	body := []byte(`<?xml version="1.0" encoding="UTF-8"?>
<Response><Connect><Stream url="wss://calls.example.com/media-stream"></Stream></Connect></Response>`)
	got, err := parseStreamURL(body)
	if err != nil {
		t.Fatalf("parseStreamURL() error = %v", err)
	}
	if got != "wss://calls.example.com/media-stream" {
		t.Fatalf("url = %q", got)
	}
	if _, err := parseStreamURL([]byte(`<Response></Response>`)); err == nil {
		t.Fatalf("expected error for missing stream")
	}
}

func TestDialableStreamURL(t *testing.T) {
	got, err := dialableStreamURL("http://127.0.0.1:5050", "wss://calls.example.com/media-stream")
	if err != nil {
		t.Fatalf("dialableStreamURL() error = %v", err)
	}
	if got != "ws://127.0.0.1:5050/media-stream" {
		t.Fatalf("url = %q", got)
	}
	if _, err := dialableStreamURL("ftp://x", "wss://y/media-stream"); err == nil {
		t.Fatalf("expected error for unsupported scheme")
	}
}

func TestMediaFramesTimestamps(t *testing.T) {
	ulaw := audio.Silence(50)
	frames := mediaFrames("MZ1", ulaw, 20)
	if len(frames) != 3 {
		t.Fatalf("len(frames) = %d, want 3", len(frames))
	}
	var total int
	for i, f := range frames {
		media := f["media"].(map[string]any)
		wantTS := []string{"0", "20", "40"}[i]
		if media["timestamp"] != wantTS {
			t.Fatalf("frame %d timestamp = %v, want %s", i, media["timestamp"], wantTS)
		}
		b, err := base64.StdEncoding.DecodeString(media["payload"].(string))
		if err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		total += len(b)
	}
	if total != len(ulaw) {
		t.Fatalf("payload bytes = %d, want %d", total, len(ulaw))
	}
}
