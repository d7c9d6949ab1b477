package domain

import (
	"encoding/json"
	"strings"
)

// EventType is the normalized kind of an inbound call-signaling event.
type EventType string

const (
	EventCallIncoming      EventType = "call-incoming"
	EventSpeechTranscribed EventType = "speech-transcribed"
	EventToolInvoked       EventType = "tool-invoked"
	EventCallEnded         EventType = "call-ended"
	EventUnknown           EventType = "unknown"
)

// wireEventTypes maps upstream wire names onto the normalized event types.
var wireEventTypes = map[string]EventType{
	"call-incoming":                    EventCallIncoming,
	"realtime.call.incoming":           EventCallIncoming,
	"speech-transcribed":               EventSpeechTranscribed,
	"realtime.call.transcript":         EventSpeechTranscribed,
	"realtime.call.transcription":      EventSpeechTranscribed,
	"tool-invoked":                     EventToolInvoked,
	"realtime.call.tool_call":          EventToolInvoked,
	"realtime.call.function_call":      EventToolInvoked,
	"call-ended":                       EventCallEnded,
	"realtime.call.ended":              EventCallEnded,
	"realtime.call.hangup":             EventCallEnded,
	"realtime.call.completed":          EventCallEnded,
	"realtime.call.disconnected":       EventCallEnded,
	"realtime.call.incoming.cancelled": EventCallEnded,
}

// NormalizeEventType resolves a wire event name. Unrecognised names map to
// EventUnknown; they are acknowledged and ignored, never rejected.
func NormalizeEventType(raw string) EventType {
	if t, ok := wireEventTypes[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return t
	}
	return EventUnknown
}

// SIPHeader is one SIP header forwarded with an incoming call.
type SIPHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// EventData is the type-specific payload of an inbound event.
type EventData struct {
	CallID     string      `json:"call_id"`
	SIPHeaders []SIPHeader `json:"sip_headers,omitempty"`
	To         string      `json:"to,omitempty"`
	From       string      `json:"from,omitempty"`
	DemoToken  string      `json:"demo_token,omitempty"`

	// tool-invoked
	ToolCallID string          `json:"tool_call_id,omitempty"`
	Name       string          `json:"name,omitempty"`
	Arguments  json.RawMessage `json:"arguments,omitempty"`

	// speech-transcribed
	Role       string `json:"role,omitempty"`
	Transcript string `json:"transcript,omitempty"`

	// call-ended
	Reason string `json:"reason,omitempty"`
}

// InboundEvent is a parsed webhook delivery. It is never persisted.
type InboundEvent struct {
	ID        string    `json:"id"`
	Object    string    `json:"object"`
	CreatedAt int64     `json:"created_at"`
	RawType   string    `json:"type"`
	Data      EventData `json:"data"`

	Type EventType `json:"-"`
}

// Validate enforces the mandatory fields of an inbound event.
func (e *InboundEvent) Validate() error {
	if strings.TrimSpace(e.RawType) == "" {
		return &ErrValidation{Field: "type", Message: "is required"}
	}
	if strings.TrimSpace(e.Data.CallID) == "" {
		return &ErrValidation{Field: "data.call_id", Message: "is required"}
	}
	e.Type = NormalizeEventType(e.RawType)
	return nil
}

// Identifier returns the value used to resolve the business for this call:
// a demo token when present, otherwise the dialed number.
func (e *InboundEvent) Identifier() string {
	if e.Data.DemoToken != "" {
		return e.Data.DemoToken
	}
	if e.Data.To != "" {
		return e.Data.To
	}
	for _, h := range e.Data.SIPHeaders {
		if strings.EqualFold(h.Name, "To") {
			return sipUser(h.Value)
		}
	}
	return ""
}

// Caller returns the caller's normalized number from the payload or the SIP
// From header.
func (e *InboundEvent) Caller() string {
	if e.Data.From != "" {
		return NormalizePhone(e.Data.From)
	}
	for _, h := range e.Data.SIPHeaders {
		if strings.EqualFold(h.Name, "From") {
			return NormalizePhone(sipUser(h.Value))
		}
	}
	return ""
}

// ToolArguments returns the invocation arguments as raw JSON. Upstream may
// send arguments either as a JSON object or as a JSON-encoded string.
func (e *InboundEvent) ToolArguments() json.RawMessage {
	raw := e.Data.Arguments
	if len(raw) == 0 {
		return json.RawMessage("{}")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if strings.TrimSpace(s) == "" {
			return json.RawMessage("{}")
		}
		return json.RawMessage(s)
	}
	return raw
}

// sipUser extracts the user part of a SIP URI such as
// "<sip:+61400000000@sip.example.com>;tag=abc".
func sipUser(v string) string {
	v = strings.TrimSpace(v)
	if i := strings.Index(v, "<"); i >= 0 {
		v = v[i+1:]
		if j := strings.Index(v, ">"); j >= 0 {
			v = v[:j]
		}
	}
	v = strings.TrimPrefix(v, "sips:")
	v = strings.TrimPrefix(v, "sip:")
	v = strings.TrimPrefix(v, "tel:")
	if i := strings.IndexAny(v, "@;"); i >= 0 {
		v = v[:i]
	}
	return v
}

// AckResponse is returned to the signaling origin once an event is accepted.
type AckResponse struct {
	Success          bool  `json:"success"`
	ProcessingTimeMs int64 `json:"processing_time_ms"`
}
