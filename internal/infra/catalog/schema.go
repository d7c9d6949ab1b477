package catalog

import (
	"fmt"

	"github.com/boddenberg/receptionist-core/internal/domain"
)

const currentCatalogSchemaVersion = 1

type catalogFileSchema struct {
	Version    int              `toml:"version"`
	Businesses []businessSchema `toml:"businesses"`
}

func (s *catalogFileSchema) applyDefaults() {
	if s.Version == 0 {
		s.Version = currentCatalogSchemaVersion
	}
}

func (s catalogFileSchema) validate() error {
	if s.Version > currentCatalogSchemaVersion {
		return fmt.Errorf("unsupported catalog schema version %d (current %d)", s.Version, currentCatalogSchemaVersion)
	}
	seen := make(map[string]struct{}, len(s.Businesses))
	for i, b := range s.Businesses {
		if b.BusinessID == "" {
			return fmt.Errorf("businesses[%d]: id is required", i)
		}
		if _, dup := seen[b.BusinessID]; dup {
			return fmt.Errorf("businesses[%d]: duplicate id %q", i, b.BusinessID)
		}
		seen[b.BusinessID] = struct{}{}
	}
	return nil
}

// businessSchema is one [[businesses]] table: the business profile plus an
// optional calendar used to seed availability.
type businessSchema struct {
	domain.BusinessContext
	Calendar *calendarSchema `toml:"calendar"`
}

type calendarSchema struct {
	SlotMinutes int                   `toml:"slot_minutes"`
	HorizonDays int                   `toml:"horizon_days"`
	Providers   []domain.Provider     `toml:"providers"`
	Hours       []domain.OpeningHours `toml:"hours"`
}

// Calendar is the availability configuration of one catalog business.
type Calendar struct {
	BusinessID  string
	Timezone    string
	SlotMinutes int
	Providers   []domain.Provider
	Settings    domain.CalendarSettings
}

func (c calendarSchema) toCalendar(b domain.BusinessContext) Calendar {
	slot := c.SlotMinutes
	if slot <= 0 {
		slot = 60
	}
	horizon := c.HorizonDays
	if horizon <= 0 {
		horizon = 14
	}
	return Calendar{
		BusinessID:  b.BusinessID,
		Timezone:    b.Timezone,
		SlotMinutes: slot,
		Providers:   c.Providers,
		Settings:    domain.CalendarSettings{HorizonDays: horizon, Hours: c.Hours},
	}
}
