package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Client-to-model event types.
const (
	TypeSessionUpdate          = "session.update"
	TypeInputAudioBufferAppend = "input_audio_buffer.append"
	TypeConversationItemCreate = "conversation.item.create"
	TypeConversationItemTrunc  = "conversation.item.truncate"
	TypeResponseCreate         = "response.create"
)

// Model-to-client event types the relay acts on.
const (
	TypeSessionCreated        = "session.created"
	TypeSessionUpdated        = "session.updated"
	TypeConversationItemAdded = "conversation.item.created"
	TypeInputTranscriptDone   = "conversation.item.input_audio_transcription.completed"
	TypeSpeechStarted         = "input_audio_buffer.speech_started"
	TypeResponseAudioDelta    = "response.audio.delta"
	TypeResponseOutputDone    = "response.output_item.done"
	TypeResponseDone          = "response.done"
	TypeError                 = "error"
)

const (
	ItemTypeMessage            = "message"
	ItemTypeFunctionCall       = "function_call"
	ItemTypeFunctionCallOutput = "function_call_output"
)

// ToolDefinition is one function offered to the model.
type ToolDefinition struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type TurnDetection struct {
	Type string `json:"type"`
}

type InputAudioTranscription struct {
	Model string `json:"model"`
}

type SessionConfig struct {
	Modalities              []string                 `json:"modalities"`
	Voice                   string                   `json:"voice"`
	Temperature             float64                  `json:"temperature"`
	MaxResponseOutputTokens int                      `json:"max_response_output_tokens"`
	TurnDetection           TurnDetection            `json:"turn_detection"`
	InputAudioFormat        string                   `json:"input_audio_format"`
	OutputAudioFormat       string                   `json:"output_audio_format"`
	InputAudioTranscription *InputAudioTranscription `json:"input_audio_transcription,omitempty"`
	Instructions            string                   `json:"instructions"`
	Tools                   []ToolDefinition         `json:"tools"`
	ToolChoice              string                   `json:"tool_choice,omitempty"`
}

type SessionUpdate struct {
	Type    string        `json:"type"`
	Session SessionConfig `json:"session"`
}

type InputAudioAppend struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

type ContentPart struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	Transcript string `json:"transcript,omitempty"`
}

// ConversationItem is used for caller text echoes and function results.
type ConversationItem struct {
	Type    string        `json:"type"`
	Role    string        `json:"role,omitempty"`
	Content []ContentPart `json:"content,omitempty"`
	CallID  string        `json:"call_id,omitempty"`
	Output  string        `json:"output,omitempty"`
}

type ConversationItemCreate struct {
	Type string           `json:"type"`
	Item ConversationItem `json:"item"`
}

type ResponseCreate struct {
	Type string `json:"type"`
}

type ItemTruncate struct {
	Type         string `json:"type"`
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	AudioEndMS   int64  `json:"audio_end_ms"`
}

func NewFunctionOutput(callID, output string) ConversationItemCreate {
	return ConversationItemCreate{
		Type: TypeConversationItemCreate,
		Item: ConversationItem{Type: ItemTypeFunctionCallOutput, CallID: callID, Output: output},
	}
}

func NewUserText(text string) ConversationItemCreate {
	return ConversationItemCreate{
		Type: TypeConversationItemCreate,
		Item: ConversationItem{
			Type:    ItemTypeMessage,
			Role:    "user",
			Content: []ContentPart{{Type: "input_text", Text: text}},
		},
	}
}

func NewResponseCreate() ResponseCreate {
	return ResponseCreate{Type: TypeResponseCreate}
}

func NewTruncate(itemID string, audioEndMS int64) ItemTruncate {
	return ItemTruncate{Type: TypeConversationItemTrunc, ItemID: itemID, ContentIndex: 0, AudioEndMS: audioEndMS}
}

func NewAudioAppend(payload string) InputAudioAppend {
	return InputAudioAppend{Type: TypeInputAudioBufferAppend, Audio: payload}
}

// NegotiatedSession is the subset of session.created / session.updated the relay reads.
type NegotiatedSession struct {
	ID    string           `json:"id"`
	Model string           `json:"model"`
	Voice string           `json:"voice"`
	Tools []ToolDefinition `json:"tools"`
}

// EventItem is the item carried by conversation.item.* and response.output_item.* events.
type EventItem struct {
	ID        string        `json:"id"`
	Type      string        `json:"type"`
	Status    string        `json:"status"`
	Role      string        `json:"role"`
	Content   []ContentPart `json:"content"`
	Name      string        `json:"name"`
	CallID    string        `json:"call_id"`
	Arguments string        `json:"arguments"`
}

// Text joins the readable text of the item's content parts.
func (i EventItem) Text() string {
	parts := make([]string, 0, len(i.Content))
	for _, c := range i.Content {
		switch {
		case strings.TrimSpace(c.Text) != "":
			parts = append(parts, strings.TrimSpace(c.Text))
		case strings.TrimSpace(c.Transcript) != "":
			parts = append(parts, strings.TrimSpace(c.Transcript))
		}
	}
	return strings.Join(parts, " ")
}

type ModelError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	EventID string `json:"event_id"`
}

// ModelEvent is one decoded inbound frame from the model connection.
type ModelEvent struct {
	Type         string             `json:"type"`
	EventID      string             `json:"event_id"`
	ItemID       string             `json:"item_id"`
	ResponseID   string             `json:"response_id"`
	Delta        string             `json:"delta"`
	Transcript   string             `json:"transcript"`
	AudioStartMS int64              `json:"audio_start_ms"`
	Session      *NegotiatedSession `json:"session"`
	Item         *EventItem         `json:"item"`
	Error        *ModelError        `json:"error"`
}

// FunctionCall reports the completed function call carried by the event, if any.
func (e ModelEvent) FunctionCall() (FunctionCall, bool) {
	if e.Type != TypeResponseOutputDone || e.Item == nil || e.Item.Type != ItemTypeFunctionCall {
		return FunctionCall{}, false
	}
	return FunctionCall{Name: e.Item.Name, Arguments: e.Item.Arguments, CallID: e.Item.CallID}, true
}

// FunctionCall is a transient record of one model-issued call.
type FunctionCall struct {
	Name      string
	Arguments string
	CallID    string
}

func ParseModelEvent(raw []byte) (ModelEvent, error) {
	var e ModelEvent
	if err := json.Unmarshal(raw, &e); err != nil {
		return ModelEvent{}, fmt.Errorf("invalid model event: %w", err)
	}
	if e.Type == "" {
		return ModelEvent{}, errors.New("invalid model event: missing type")
	}
	return e, nil
}
