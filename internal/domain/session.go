package domain

import "time"

// LifecycleState is a session's position in the call-handling state machine.
type LifecycleState string

const (
	StateCreated       LifecycleState = "CREATED"
	StateContextLoaded LifecycleState = "CONTEXT_LOADED"
	StateActive        LifecycleState = "ACTIVE"
	StateToolExecuting LifecycleState = "TOOL_EXECUTING"
	StateClosing       LifecycleState = "CLOSING"
	StateTerminated    LifecycleState = "TERMINATED"
)

// allowedTransitions lists every legal edge. ACTIVE <-> TOOL_EXECUTING is
// the only pair that may be walked in both directions.
var allowedTransitions = map[LifecycleState][]LifecycleState{
	StateCreated:       {StateContextLoaded, StateClosing, StateTerminated},
	StateContextLoaded: {StateActive, StateClosing, StateTerminated},
	StateActive:        {StateToolExecuting, StateClosing, StateTerminated},
	StateToolExecuting: {StateActive, StateClosing},
	StateClosing:       {StateTerminated},
	StateTerminated:    {},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to LifecycleState) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Ended reports whether a call-ended signal has been applied.
func (s LifecycleState) Ended() bool {
	return s == StateClosing || s == StateTerminated
}

// TranscriptLine is one transcribed utterance.
type TranscriptLine struct {
	Role string    `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// MaxTranscriptLines bounds the transcript kept on a session.
const MaxTranscriptLines = 50

// MaxToolCallHistory bounds the completed tool-call ids kept on a session.
const MaxToolCallHistory = 64

// Booking records a slot reserved during the call.
type Booking struct {
	SlotID       string    `json:"slot_id"`
	CustomerName string    `json:"customer_name"`
	StartsAt     time.Time `json:"starts_at"`
}

// Session is the stored state of one call.
type Session struct {
	ID                string            `json:"id"`
	BusinessID        string            `json:"business_id,omitempty"`
	BusinessContext   *BusinessContext  `json:"business_context,omitempty"`
	Identifier        string            `json:"identifier,omitempty"`
	CallerNumber      string            `json:"caller_number,omitempty"`
	LifecycleState    LifecycleState    `json:"lifecycle_state"`
	AssignedPoolIndex int               `json:"assigned_pool_index"`
	UpstreamCallRef   string            `json:"upstream_call_ref,omitempty"`
	Instructions      string            `json:"instructions,omitempty"`
	ActiveTools       []ToolDescriptor  `json:"active_tools,omitempty"`
	QuoteSession      *QuoteSession     `json:"quote_session,omitempty"`
	PendingToolCall   string            `json:"pending_tool_call,omitempty"`
	CompletedTools    []string          `json:"completed_tools,omitempty"`
	Transcript        []TranscriptLine  `json:"transcript,omitempty"`
	Bookings          []Booking         `json:"bookings,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
	EndedAt           *time.Time        `json:"ended_at,omitempty"`
	Version           int64             `json:"version"`
	Meta              map[string]string `json:"meta,omitempty"`
}

// NewSession builds a CREATED session bound to a pool slot.
func NewSession(callID string, poolIndex int, now time.Time) *Session {
	return &Session{
		ID:                callID,
		LifecycleState:    StateCreated,
		AssignedPoolIndex: poolIndex,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// Transition moves the session to a new state. Re-entering the current
// state, or any edge not in the table, is a StateConflict.
func (s *Session) Transition(to LifecycleState, event EventType, now time.Time) error {
	if s.LifecycleState == to || !CanTransition(s.LifecycleState, to) {
		return &ErrStateConflict{CallID: s.ID, State: s.LifecycleState, Event: event}
	}
	s.LifecycleState = to
	s.UpdatedAt = now
	if to == StateClosing || to == StateTerminated {
		if s.EndedAt == nil {
			t := now
			s.EndedAt = &t
		}
	}
	return nil
}

// AppendTranscript adds a line, keeping only the most recent lines.
func (s *Session) AppendTranscript(role, text string, now time.Time) {
	s.Transcript = append(s.Transcript, TranscriptLine{Role: role, Text: text, At: now})
	if n := len(s.Transcript); n > MaxTranscriptLines {
		s.Transcript = append([]TranscriptLine(nil), s.Transcript[n-MaxTranscriptLines:]...)
	}
}

// ToolCallSeen reports whether a tool call id is pending or has already
// completed on this session.
func (s *Session) ToolCallSeen(id string) bool {
	if id == "" {
		return false
	}
	if s.PendingToolCall == id {
		return true
	}
	for _, done := range s.CompletedTools {
		if done == id {
			return true
		}
	}
	return false
}

// RecordToolCall marks a tool call id as completed, keeping only the most
// recent ids.
func (s *Session) RecordToolCall(id string) {
	if id == "" {
		return
	}
	for _, done := range s.CompletedTools {
		if done == id {
			return
		}
	}
	s.CompletedTools = append(s.CompletedTools, id)
	if n := len(s.CompletedTools); n > MaxToolCallHistory {
		s.CompletedTools = append([]string(nil), s.CompletedTools[n-MaxToolCallHistory:]...)
	}
}

// HasTool reports whether a tool is currently attached.
func (s *Session) HasTool(name ToolName) bool {
	for _, t := range s.ActiveTools {
		if t.Name == name {
			return true
		}
	}
	return false
}

// AttachTool appends a tool descriptor if it is not already attached.
func (s *Session) AttachTool(name ToolName) bool {
	if s.HasTool(name) {
		return false
	}
	d, ok := DescriptorFor(name)
	if !ok {
		return false
	}
	s.ActiveTools = append(s.ActiveTools, d)
	return true
}

// Clone returns a deep copy via the JSON shape used by stores.
func (s *Session) Clone() *Session {
	c, err := UnmarshalSession(MustMarshalSession(s))
	if err != nil {
		panic("session clone: " + err.Error())
	}
	return c
}
