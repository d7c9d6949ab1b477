// Package catalog provides BusinessContextProvider implementations: a TOML
// catalog file for development and demos, an HTTP client for the business
// profile service, and a caching decorator over either.
package catalog

import (
	"context"
	"fmt"
	"os"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/boddenberg/receptionist-core/internal/domain"
	"github.com/boddenberg/receptionist-core/internal/port"
)

var _ port.BusinessContextProvider = (*File)(nil)

// File resolves businesses from a TOML catalog loaded once at startup.
type File struct {
	byID      map[string]*domain.BusinessContext
	byPhone   map[string]*domain.BusinessContext
	calendars []Calendar
}

// LoadFile reads and indexes a catalog file.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}
	return Parse(data)
}

// Parse indexes an in-memory catalog document.
func Parse(data []byte) (*File, error) {
	var file catalogFileSchema
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode catalog file: %w", err)
	}
	file.applyDefaults()
	if err := file.validate(); err != nil {
		return nil, err
	}

	f := &File{
		byID:    make(map[string]*domain.BusinessContext, len(file.Businesses)),
		byPhone: make(map[string]*domain.BusinessContext),
	}
	for i := range file.Businesses {
		b := file.Businesses[i].BusinessContext
		bc := &b
		f.byID[bc.BusinessID] = bc
		for _, phone := range bc.PhoneNumbers {
			if n := domain.NormalizePhone(phone); n != "" {
				f.byPhone[n] = bc
			}
		}
		if cal := file.Businesses[i].Calendar; cal != nil {
			f.calendars = append(f.calendars, cal.toCalendar(b))
		}
	}
	return f, nil
}

// Resolve accepts a BusinessRef or a dialed phone number.
func (f *File) Resolve(ctx context.Context, identifier string) (*domain.BusinessContext, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var bc *domain.BusinessContext
	if id, ok := domain.ParseBusinessRef(identifier); ok {
		bc = f.byID[id]
	} else if n := domain.NormalizePhone(identifier); n != "" {
		bc = f.byPhone[n]
	}
	if bc == nil {
		return nil, &domain.ErrNotFound{Resource: "business", ID: identifier}
	}

	copied := *bc
	return &copied, nil
}

// Calendars returns the availability configuration declared in the catalog.
func (f *File) Calendars() []Calendar {
	return append([]Calendar(nil), f.calendars...)
}
