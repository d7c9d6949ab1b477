// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations.
package port

import (
	"context"
	"time"

	"github.com/boddenberg/receptionist-core/internal/domain"
)

// BusinessContextProvider resolves an inbound identifier (dialed number or
// demo token) to a business profile.
type BusinessContextProvider interface {
	Resolve(ctx context.Context, identifier string) (*domain.BusinessContext, error)
}

// RenderOptions tunes instruction rendering.
type RenderOptions struct {
	CallerNumber string
	Now          time.Time
	IncludeFAQs  bool
}

// PromptRenderer turns a business profile into system instructions.
type PromptRenderer interface {
	Render(bc *domain.BusinessContext, opts RenderOptions) (string, error)
}

// SessionStore is the shared key-value store for call sessions. Every write
// is version-checked; stores never assume a single writer.
type SessionStore interface {
	// Get returns the session or *domain.ErrNotFound.
	Get(ctx context.Context, callID string) (*domain.Session, error)
	// Create stores s only if no session exists for s.ID. It returns the
	// stored session and whether this call created it.
	Create(ctx context.Context, s *domain.Session) (*domain.Session, bool, error)
	// Update writes s if the stored version equals s.Version, then bumps
	// the version. A stale write returns *domain.ErrVersionConflict.
	Update(ctx context.Context, s *domain.Session) (*domain.Session, error)
	// Expire schedules eviction of a session after the grace period.
	Expire(ctx context.Context, callID string, grace time.Duration) error
	// Lock takes an advisory per-key lock and returns its release func.
	Lock(ctx context.Context, key string, ttl time.Duration) (func(), error)
	Ping(ctx context.Context) error
}

// PoolCounter is the shared, strictly increasing assignment counter.
type PoolCounter interface {
	// Next returns the counter value before incrementing it.
	Next(ctx context.Context) (uint64, error)
}

// ConnectionPool hands out upstream credentials.
type ConnectionPool interface {
	// Assign returns the pool index for a new call. It never fails.
	Assign(ctx context.Context) int
	// CredentialFor returns the credential at index; out of range panics.
	CredentialFor(index int) string
	Size() int
}

// AcceptRequest carries everything the upstream needs to pick up a call.
type AcceptRequest struct {
	CallID       string
	Credential   string
	Instructions string
	Tools        []domain.ToolDescriptor
}

// UpstreamTransport is the real-time AI transport.
type UpstreamTransport interface {
	// Accept answers the call and returns the upstream's call handle.
	Accept(ctx context.Context, req AcceptRequest) (string, error)
	// Hangup ends the call upstream.
	Hangup(ctx context.Context, callRef, credential string) error
	// SendToolResult delivers a function result and asks for a response.
	SendToolResult(ctx context.Context, callRef, credential string, result domain.ToolResult) error
	// UpdateSession replaces instructions and tools on a live call.
	UpdateSession(ctx context.Context, callRef, credential, instructions string, tools []domain.ToolDescriptor) error
}

// AvailabilityStore persists generated slots and rollover bookkeeping.
type AvailabilityStore interface {
	SaveSchedule(ctx context.Context, s domain.AvailabilitySchedule) error
	GetSchedule(ctx context.Context, businessID string) (*domain.AvailabilitySchedule, error)
	ListSchedules(ctx context.Context) ([]domain.AvailabilitySchedule, error)
	UpsertSlots(ctx context.Context, slots []domain.Slot) (int, error)
	PruneBefore(ctx context.Context, businessID, localDate string) (int, error)
	ListOpenSlots(ctx context.Context, businessID, localDate string) ([]domain.Slot, error)
	// Reserve books an open slot; a booked or missing slot returns
	// *domain.ErrSlotUnavailable.
	Reserve(ctx context.Context, businessID, slotID, bookedBy string) (*domain.Slot, error)
	Ping(ctx context.Context) error
}

// PaymentLink is the result of creating a payment link.
type PaymentLink struct {
	URL string `json:"url"`
}

// PaymentLinkIssuer creates a payment link for a session's quote.
type PaymentLinkIssuer interface {
	CreateForSession(ctx context.Context, s *domain.Session) (*PaymentLink, error)
}

// Escalation is a request to bring a human into the conversation.
type Escalation struct {
	CallID       string
	BusinessName string
	To           string
	CallerPhone  string
	Reason       string
}

// Notifier reaches the business out of band.
type Notifier interface {
	Escalate(ctx context.Context, e Escalation) error
	SendText(ctx context.Context, to, body string) error
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}
