// Package availability stores generated booking slots and the rollover
// bookkeeping for each business.
package availability

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/boddenberg/receptionist-core/internal/domain"
	"github.com/boddenberg/receptionist-core/internal/port"
)

var _ port.AvailabilityStore = (*Memory)(nil)

// Memory is an in-process AvailabilityStore for development and tests.
type Memory struct {
	mu        sync.RWMutex
	schedules map[string]domain.AvailabilitySchedule
	slots     map[string]domain.Slot
	now       func() time.Time
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{
		schedules: make(map[string]domain.AvailabilitySchedule),
		slots:     make(map[string]domain.Slot),
		now:       time.Now,
	}
}

func (m *Memory) SaveSchedule(ctx context.Context, s domain.AvailabilitySchedule) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedules[s.BusinessID] = s
	return nil
}

func (m *Memory) GetSchedule(ctx context.Context, businessID string) (*domain.AvailabilitySchedule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.schedules[businessID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "schedule", ID: businessID}
	}
	return &s, nil
}

func (m *Memory) ListSchedules(ctx context.Context) ([]domain.AvailabilitySchedule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.AvailabilitySchedule, 0, len(m.schedules))
	for _, s := range m.schedules {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BusinessID < out[j].BusinessID })
	return out, nil
}

// UpsertSlots inserts slots whose ids are new and returns how many were
// inserted. Existing slots, booked or not, are left untouched.
func (m *Memory) UpsertSlots(ctx context.Context, slots []domain.Slot) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	created := 0
	for _, s := range slots {
		if _, exists := m.slots[s.ID]; exists {
			continue
		}
		m.slots[s.ID] = s
		created++
	}
	return created, nil
}

// PruneBefore deletes a business's slots dated before localDate.
func (m *Memory) PruneBefore(ctx context.Context, businessID, localDate string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	pruned := 0
	for id, s := range m.slots {
		if s.BusinessID == businessID && s.LocalDate < localDate {
			delete(m.slots, id)
			pruned++
		}
	}
	return pruned, nil
}

func (m *Memory) ListOpenSlots(ctx context.Context, businessID, localDate string) ([]domain.Slot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Slot
	for _, s := range m.slots {
		if s.BusinessID == businessID && s.LocalDate == localDate && s.Open() {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartsAt.Equal(out[j].StartsAt) {
			return out[i].StartsAt.Before(out[j].StartsAt)
		}
		return out[i].ProviderID < out[j].ProviderID
	})
	return out, nil
}

func (m *Memory) Reserve(ctx context.Context, businessID, slotID, bookedBy string) (*domain.Slot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[slotID]
	if !ok || s.BusinessID != businessID || !s.Open() {
		return nil, &domain.ErrSlotUnavailable{SlotID: slotID}
	}
	at := m.now()
	s.BookedBy = bookedBy
	s.BookedAt = &at
	m.slots[slotID] = s
	return &s, nil
}

func (m *Memory) Ping(context.Context) error { return nil }
