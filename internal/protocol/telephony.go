package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// TelephonyEvent identifies media-stream frame variants.
type TelephonyEvent string

const (
	EventConnected TelephonyEvent = "connected"
	EventStart     TelephonyEvent = "start"
	EventMedia     TelephonyEvent = "media"
	EventMark      TelephonyEvent = "mark"
	EventClear     TelephonyEvent = "clear"
	EventStop      TelephonyEvent = "stop"
	EventClose     TelephonyEvent = "close"
)

var (
	ErrUnsupportedEvent = errors.New("unsupported telephony event")
	ErrMissingStreamSID = errors.New("start event without streamSid")
)

// Millis is a millisecond offset. The media-stream peer sends it as a JSON
// string, test harnesses usually send a number; both decode.
type Millis int64

func (m *Millis) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*m = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			*m = 0
			return nil
		}
		b = []byte(s)
	}
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("invalid millisecond value %q: %w", string(b), err)
	}
	*m = Millis(int64(f))
	return nil
}

type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

type StartPayload struct {
	StreamSID   string      `json:"streamSid"`
	AccountSID  string      `json:"accountSid"`
	CallSID     string      `json:"callSid"`
	Tracks      []string    `json:"tracks"`
	MediaFormat MediaFormat `json:"mediaFormat"`
}

type MediaPayload struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp Millis `json:"timestamp"`
	Payload   string `json:"payload"`
}

// TelephonyFrame is one decoded inbound media-stream frame.
type TelephonyFrame struct {
	Event     TelephonyEvent `json:"event"`
	StreamSID string         `json:"streamSid,omitempty"`
	Start     *StartPayload  `json:"start,omitempty"`
	Media     *MediaPayload  `json:"media,omitempty"`
}

// Key returns the call identifier carried by the frame, if any.
func (f TelephonyFrame) Key() string {
	if f.Start != nil && f.Start.StreamSID != "" {
		return f.Start.StreamSID
	}
	return f.StreamSID
}

// ParseTelephonyFrame decodes and validates one inbound frame. The peer is
// untrusted, so every failure is reported rather than assumed away.
func ParseTelephonyFrame(raw []byte) (TelephonyFrame, error) {
	var f TelephonyFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return TelephonyFrame{}, fmt.Errorf("invalid telephony frame: %w", err)
	}

	switch f.Event {
	case EventStart:
		if f.Start == nil {
			f.Start = &StartPayload{}
		}
		if f.Start.StreamSID == "" {
			f.Start.StreamSID = f.StreamSID
		}
		if f.Start.StreamSID == "" {
			return TelephonyFrame{}, ErrMissingStreamSID
		}
	case EventMedia:
		if f.Media == nil || f.Media.Payload == "" {
			return TelephonyFrame{}, errors.New("invalid media event: empty payload")
		}
	case EventConnected, EventMark, EventStop, EventClose:
	default:
		return TelephonyFrame{}, fmt.Errorf("%w: %q", ErrUnsupportedEvent, f.Event)
	}
	return f, nil
}

type OutboundMediaPayload struct {
	Payload string `json:"payload"`
}

// OutboundMedia carries assistant audio to the caller.
type OutboundMedia struct {
	Event     TelephonyEvent       `json:"event"`
	StreamSID string               `json:"streamSid"`
	Media     OutboundMediaPayload `json:"media"`
}

type MarkPayload struct {
	Name string `json:"name"`
}

// OutboundMark is a playback checkpoint sent after every audio chunk.
type OutboundMark struct {
	Event     TelephonyEvent `json:"event"`
	StreamSID string         `json:"streamSid"`
	Mark      MarkPayload    `json:"mark"`
}

// OutboundClear asks the peer to discard queued playback.
type OutboundClear struct {
	Event     TelephonyEvent `json:"event"`
	StreamSID string         `json:"streamSid"`
}

func NewOutboundMedia(streamSID, payload string) OutboundMedia {
	return OutboundMedia{Event: EventMedia, StreamSID: streamSID, Media: OutboundMediaPayload{Payload: payload}}
}

func NewOutboundMark(streamSID, name string) OutboundMark {
	return OutboundMark{Event: EventMark, StreamSID: streamSID, Mark: MarkPayload{Name: name}}
}

func NewOutboundClear(streamSID string) OutboundClear {
	return OutboundClear{Event: EventClear, StreamSID: streamSID}
}
