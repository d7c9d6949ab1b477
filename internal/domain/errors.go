package domain

import "fmt"

// Error types for consistent error handling across the call-handling core.

// ErrValidation indicates a malformed or incomplete inbound payload.
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrUnauthorized indicates a webhook signature or timestamp failure.
type ErrUnauthorized struct {
	Message string
}

func (e *ErrUnauthorized) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "unauthorized"
}

// ErrNotFound indicates a resource was not found.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrStateConflict indicates an event that is not meaningful for the
// session's current lifecycle state. It is always treated as a no-op.
type ErrStateConflict struct {
	CallID string
	State  LifecycleState
	Event  EventType
}

func (e *ErrStateConflict) Error() string {
	return fmt.Sprintf("event %s is a no-op for call %s in state %s", e.Event, e.CallID, e.State)
}

// ErrUpstream indicates a failure talking to the upstream transport, or a
// session store conflict that survived the bounded retries.
type ErrUpstream struct {
	Service string
	Err     error
}

func (e *ErrUpstream) Error() string {
	return fmt.Sprintf("upstream error [%s]: %v", e.Service, e.Err)
}

func (e *ErrUpstream) Unwrap() error {
	return e.Err
}

// ErrVersionConflict is returned by session stores when a write was based on
// a stale version.
type ErrVersionConflict struct {
	CallID   string
	Expected int64
	Actual   int64
}

func (e *ErrVersionConflict) Error() string {
	return fmt.Sprintf("version conflict for call %s: expected %d, found %d", e.CallID, e.Expected, e.Actual)
}

// ErrTimeout indicates an operation exceeded its deadline.
type ErrTimeout struct {
	Operation string
}

func (e *ErrTimeout) Error() string {
	return fmt.Sprintf("operation timed out: %s", e.Operation)
}

// ErrCircuitOpen indicates the circuit breaker is open.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit breaker open for service: %s", e.Service)
}

// ErrForbidden indicates a tool that the business has not enabled.
type ErrForbidden struct {
	Action string
}

func (e *ErrForbidden) Error() string {
	return fmt.Sprintf("forbidden: %s", e.Action)
}

// ErrPoolIndex is a programming error: a pool index outside [0, size).
type ErrPoolIndex struct {
	Index int
	Size  int
}

func (e *ErrPoolIndex) Error() string {
	return fmt.Sprintf("pool index %d out of range [0, %d)", e.Index, e.Size)
}

// ErrSlotUnavailable indicates a booking slot that is already reserved or
// no longer exists.
type ErrSlotUnavailable struct {
	SlotID string
}

func (e *ErrSlotUnavailable) Error() string {
	return fmt.Sprintf("slot unavailable: %s", e.SlotID)
}
