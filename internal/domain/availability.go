package domain

import "time"

// ============================================================
// Availability: produced by the rollover batch, read by the
// booking tools.
// ============================================================

// Provider is a person or resource that can be booked.
type Provider struct {
	ID   string `json:"id" toml:"id"`
	Name string `json:"name" toml:"name"`
}

// OpeningHours is one weekday's bookable window, in business-local "15:04".
type OpeningHours struct {
	Weekday time.Weekday `json:"weekday" toml:"weekday"`
	Open    string       `json:"open" toml:"open"`
	Close   string       `json:"close" toml:"close"`
}

// CalendarSettings controls slot generation for a business.
type CalendarSettings struct {
	HorizonDays int            `json:"horizon_days" toml:"horizon_days"`
	Hours       []OpeningHours `json:"hours" toml:"hours"`
}

// HoursFor returns the opening hours for a weekday.
func (c CalendarSettings) HoursFor(d time.Weekday) (OpeningHours, bool) {
	for _, h := range c.Hours {
		if h.Weekday == d {
			return h, true
		}
	}
	return OpeningHours{}, false
}

// Slot is a bookable interval. LocalDate is the business-local calendar day.
type Slot struct {
	ID         string     `json:"id"`
	BusinessID string     `json:"business_id"`
	ProviderID string     `json:"provider_id"`
	LocalDate  string     `json:"local_date"`
	StartsAt   time.Time  `json:"starts_at"`
	EndsAt     time.Time  `json:"ends_at"`
	BookedBy   string     `json:"booked_by,omitempty"`
	BookedAt   *time.Time `json:"booked_at,omitempty"`
}

// Open reports whether the slot can still be reserved.
func (s Slot) Open() bool {
	return s.BookedBy == ""
}

// AvailabilitySchedule is the rollover bookkeeping for one business.
type AvailabilitySchedule struct {
	BusinessID     string           `json:"business_id"`
	Timezone       string           `json:"timezone"`
	SlotMinutes    int              `json:"slot_minutes"`
	Providers      []Provider       `json:"providers"`
	Settings       CalendarSettings `json:"settings"`
	LastRolledDate string           `json:"last_rolled_date"`
	HorizonEnd     string           `json:"horizon_end"`
}

// RolloverReport summarizes one rollover pass.
type RolloverReport struct {
	Checked  int      `json:"checked"`
	Rolled   []string `json:"rolled"`
	Created  int      `json:"created"`
	Pruned   int      `json:"pruned"`
	Failures []string `json:"failures,omitempty"`
}
