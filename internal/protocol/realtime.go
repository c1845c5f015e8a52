package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// RealtimeType identifies realtime model socket events.
type RealtimeType string

const (
	TypeSessionUpdate          RealtimeType = "session.update"
	TypeConversationItemCreate RealtimeType = "conversation.item.create"
	TypeConversationTruncate   RealtimeType = "conversation.item.truncate"
	TypeResponseCreate         RealtimeType = "response.create"
	TypeInputAudioAppend       RealtimeType = "input_audio_buffer.append"

	TypeSessionCreated        RealtimeType = "session.created"
	TypeSessionUpdated        RealtimeType = "session.updated"
	TypeError                 RealtimeType = "error"
	TypeAudioDelta            RealtimeType = "response.audio.delta"
	TypeOutputAudioDelta      RealtimeType = "response.output_audio.delta"
	TypeResponseDone          RealtimeType = "response.done"
	TypeSpeechStarted         RealtimeType = "input_audio_buffer.speech_started"
	TypeSpeechStopped         RealtimeType = "input_audio_buffer.speech_stopped"
	TypeInputAudioCommitted   RealtimeType = "input_audio_buffer.committed"
	TypeFunctionArgsDone      RealtimeType = "response.function_call_arguments.done"
	TypeRateLimitsUpdated     RealtimeType = "rate_limits.updated"
	TypeResponseContentDone   RealtimeType = "response.content.done"
	TypeConversationTruncated RealtimeType = "conversation.item.truncated"
)

// Item types used inside conversation items and response outputs.
const (
	ItemMessage            = "message"
	ItemFunctionCall       = "function_call"
	ItemFunctionCallOutput = "function_call_output"
)

// ToolSchema describes one callable function to the model.
type ToolSchema struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  ParameterSchema `json:"parameters"`
}

type ParameterSchema struct {
	Type       string                    `json:"type"`
	Properties map[string]PropertySchema `json:"properties"`
	Required   []string                  `json:"required"`
}

type PropertySchema struct {
	Type        string          `json:"type"`
	Format      string          `json:"format,omitempty"`
	Description string          `json:"description,omitempty"`
	Items       *PropertySchema `json:"items,omitempty"`
}

type TurnDetection struct {
	Type string `json:"type"`
}

type SessionConfig struct {
	TurnDetection     TurnDetection `json:"turn_detection"`
	InputAudioFormat  string        `json:"input_audio_format"`
	OutputAudioFormat string        `json:"output_audio_format"`
	Voice             string        `json:"voice"`
	Instructions      string        `json:"instructions"`
	Modalities        []string      `json:"modalities"`
	Temperature       float64       `json:"temperature"`
	Tools             []ToolSchema  `json:"tools"`
}

type SessionUpdate struct {
	Type    RealtimeType  `json:"type"`
	Session SessionConfig `json:"session"`
}

type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type ConversationItem struct {
	Type    string        `json:"type"`
	Role    string        `json:"role,omitempty"`
	Content []ContentPart `json:"content,omitempty"`
	CallID  string        `json:"call_id,omitempty"`
	Output  string        `json:"output,omitempty"`
}

type ConversationItemCreate struct {
	Type RealtimeType     `json:"type"`
	Item ConversationItem `json:"item"`
}

type ResponseCreate struct {
	Type RealtimeType `json:"type"`
}

type InputAudioAppend struct {
	Type  RealtimeType `json:"type"`
	Audio string       `json:"audio"`
}

type ConversationTruncate struct {
	Type         RealtimeType `json:"type"`
	ItemID       string       `json:"item_id"`
	ContentIndex int          `json:"content_index"`
	AudioEndMS   int64        `json:"audio_end_ms"`
}

// ServerEvent is the superset of fields read from model events.
type ServerEvent struct {
	Type     RealtimeType    `json:"type"`
	EventID  string          `json:"event_id,omitempty"`
	ItemID   string          `json:"item_id,omitempty"`
	Delta    string          `json:"delta,omitempty"`
	Name     string          `json:"name,omitempty"`
	CallID   string          `json:"call_id,omitempty"`
	Response *ResponseBody   `json:"response,omitempty"`
	Error    *ErrorBody      `json:"error,omitempty"`
	Session  json.RawMessage `json:"session,omitempty"`
}

type ResponseBody struct {
	ID     string       `json:"id"`
	Status string       `json:"status"`
	Output []OutputItem `json:"output"`
}

type OutputItem struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Name      string `json:"name,omitempty"`
	CallID    string `json:"call_id,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

type ErrorBody struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
}

// FunctionCall is one model-initiated tool request.
type FunctionCall struct {
	Name      string
	Arguments string
	CallID    string
}

// FunctionCalls lists the completed function calls carried by a response.done event.
func (e ServerEvent) FunctionCalls() []FunctionCall {
	if e.Response == nil {
		return nil
	}
	var calls []FunctionCall
	for _, item := range e.Response.Output {
		if item.Type != ItemFunctionCall {
			continue
		}
		calls = append(calls, FunctionCall{Name: item.Name, Arguments: item.Arguments, CallID: item.CallID})
	}
	return calls
}

// ParseServerEvent decodes one model event.
func ParseServerEvent(raw []byte) (ServerEvent, error) {
	var ev ServerEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return ServerEvent{}, fmt.Errorf("invalid envelope: %w", err)
	}
	if ev.Type == "" {
		return ServerEvent{}, errors.New("event without type")
	}
	return ev, nil
}

func NewInputAudioAppend(payload string) InputAudioAppend {
	return InputAudioAppend{Type: TypeInputAudioAppend, Audio: payload}
}

func NewTruncate(itemID string, audioEndMS int64) ConversationTruncate {
	return ConversationTruncate{Type: TypeConversationTruncate, ItemID: itemID, ContentIndex: 0, AudioEndMS: audioEndMS}
}

func NewResponseCreate() ResponseCreate {
	return ResponseCreate{Type: TypeResponseCreate}
}

func NewFunctionCallOutput(callID, output string) ConversationItemCreate {
	return ConversationItemCreate{
		Type: TypeConversationItemCreate,
		Item: ConversationItem{Type: ItemFunctionCallOutput, CallID: callID, Output: output},
	}
}

func NewUserText(text string) ConversationItemCreate {
	return ConversationItemCreate{
		Type: TypeConversationItemCreate,
		Item: ConversationItem{
			Type:    ItemMessage,
			Role:    "user",
			Content: []ContentPart{{Type: "input_text", Text: text}},
		},
	}
}
