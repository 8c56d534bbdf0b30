package protocol

import (
	"encoding/json"
	"testing"
)

func TestParseModelEventFunctionCall(t *testing.T) {
	raw := []byte(`{"type":"response.output_item.done","item":{"id":"it1","type":"function_call","name":"search_entities","call_id":"call_1","arguments":"{\"query\":\"dune\"}"}}`)
	e, err := ParseModelEvent(raw)
	if err != nil {
		t.Fatalf("ParseModelEvent() error = %v", err)
	}
	call, ok := e.FunctionCall()
	if !ok {
		t.Fatalf("FunctionCall() ok = false, want true")
	}
	if call.Name != "search_entities" || call.CallID != "call_1" || call.Arguments != `{"query":"dune"}` {
		t.Fatalf("unexpected call: %+v", call)
	}
}

func TestModelEventFunctionCallIgnoresMessages(t *testing.T) {
	e, err := ParseModelEvent([]byte(`{"type":"response.output_item.done","item":{"type":"message"}}`))
	if err != nil {
		t.Fatalf("ParseModelEvent() error = %v", err)
	}
	if _, ok := e.FunctionCall(); ok {
		t.Fatalf("FunctionCall() ok = true for a message item")
	}
}

func TestParseModelEventRequiresType(t *testing.T) {
	if _, err := ParseModelEvent([]byte(`{"delta":"x"}`)); err == nil {
		t.Fatalf("expected error for missing type")
	}
	if _, err := ParseModelEvent([]byte(`{`)); err == nil {
		t.Fatalf("expected error for truncated json")
	}
}

func TestSessionUpdatedCarriesTools(t *testing.T) {
	raw := []byte(`{"type":"session.updated","session":{"id":"sess_1","tools":[{"type":"function","name":"find_venues"}]}}`)
	e, err := ParseModelEvent(raw)
	if err != nil {
		t.Fatalf("ParseModelEvent() error = %v", err)
	}
	if e.Session == nil || len(e.Session.Tools) != 1 {
		t.Fatalf("unexpected session: %+v", e.Session)
	}
}

func TestEventItemText(t *testing.T) {
	item := EventItem{Content: []ContentPart{{Type: "input_audio", Transcript: " hi there "}, {Type: "text", Text: "and more"}}}
	if got := item.Text(); got != "hi there and more" {
		t.Fatalf("Text() = %q", got)
	}
}

func TestFunctionOutputShape(t *testing.T) {
	b, err := json.Marshal(NewFunctionOutput("call_9", `{"ok":true}`))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	item, _ := got["item"].(map[string]any)
	if got["type"] != TypeConversationItemCreate || item["type"] != ItemTypeFunctionCallOutput || item["call_id"] != "call_9" {
		t.Fatalf("unexpected frame: %s", b)
	}
}

func TestParseMonitorFrame(t *testing.T) {
	if _, err := ParseMonitorFrame([]byte(`{"type":"response.create"}`)); err != nil {
		t.Fatalf("ParseMonitorFrame() error = %v", err)
	}
	for _, raw := range []string{`[1,2]`, `null`, `"x"`, `{`} {
		if _, err := ParseMonitorFrame([]byte(raw)); err == nil {
			t.Fatalf("ParseMonitorFrame(%s) expected error", raw)
		}
	}
}
