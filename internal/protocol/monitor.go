package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

const TypeConnectionEstablished = "connection.established"

// ConnectionEstablished is sent once to every newly accepted monitor.
type ConnectionEstablished struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connection_id,omitempty"`
	Timestamp    string `json:"timestamp"`
}

func NewConnectionEstablished(connectionID string, now time.Time) ConnectionEstablished {
	return ConnectionEstablished{
		Type:         TypeConnectionEstablished,
		ConnectionID: connectionID,
		Timestamp:    now.UTC().Format(time.RFC3339Nano),
	}
}

// ParseMonitorFrame accepts any JSON object and rejects everything else.
func ParseMonitorFrame(raw []byte) (map[string]json.RawMessage, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("invalid monitor frame: %w", err)
	}
	if obj == nil {
		return nil, fmt.Errorf("invalid monitor frame: not an object")
	}
	return obj, nil
}
