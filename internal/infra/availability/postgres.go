package availability

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/boddenberg/receptionist-core/internal/domain"
	"github.com/boddenberg/receptionist-core/internal/port"
)

var _ port.AvailabilityStore = (*Postgres)(nil)

var tracer = otel.Tracer("availability")

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Migrate applies the embedded schema migrations.
func Migrate(ctx context.Context, pool *pgxpool.Pool) ([]string, error) {
	migrations, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		return nil, err
	}

	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, migrations)
	if err != nil {
		return nil, fmt.Errorf("create migration provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	applied := make([]string, 0, len(results))
	for _, r := range results {
		applied = append(applied, r.Source.Path)
	}
	return applied, nil
}

// Postgres is the persistent AvailabilityStore.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps a connection pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) SaveSchedule(ctx context.Context, s domain.AvailabilitySchedule) error {
	ctx, span := tracer.Start(ctx, "Postgres.SaveSchedule")
	defer span.End()
	span.SetAttributes(attribute.String("business_id", s.BusinessID))

	providers, err := json.Marshal(s.Providers)
	if err != nil {
		return err
	}
	settings, err := json.Marshal(s.Settings)
	if err != nil {
		return err
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO availability_schedules
			(business_id, timezone, slot_minutes, providers, settings, last_rolled_date, horizon_end, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (business_id) DO UPDATE SET
			timezone = EXCLUDED.timezone,
			slot_minutes = EXCLUDED.slot_minutes,
			providers = EXCLUDED.providers,
			settings = EXCLUDED.settings,
			last_rolled_date = EXCLUDED.last_rolled_date,
			horizon_end = EXCLUDED.horizon_end,
			updated_at = now()`,
		s.BusinessID, s.Timezone, s.SlotMinutes, providers, settings, s.LastRolledDate, s.HorizonEnd)
	if err != nil {
		return fmt.Errorf("save schedule %s: %w", s.BusinessID, err)
	}
	return nil
}

const scheduleColumns = `business_id, timezone, slot_minutes, providers, settings, last_rolled_date, horizon_end`

func scanSchedule(row pgx.Row) (domain.AvailabilitySchedule, error) {
	var (
		s                   domain.AvailabilitySchedule
		providers, settings []byte
	)
	if err := row.Scan(&s.BusinessID, &s.Timezone, &s.SlotMinutes, &providers, &settings, &s.LastRolledDate, &s.HorizonEnd); err != nil {
		return s, err
	}
	if err := json.Unmarshal(providers, &s.Providers); err != nil {
		return s, fmt.Errorf("decode providers: %w", err)
	}
	if err := json.Unmarshal(settings, &s.Settings); err != nil {
		return s, fmt.Errorf("decode settings: %w", err)
	}
	return s, nil
}

func (p *Postgres) GetSchedule(ctx context.Context, businessID string) (*domain.AvailabilitySchedule, error) {
	s, err := scanSchedule(p.pool.QueryRow(ctx,
		`SELECT `+scheduleColumns+` FROM availability_schedules WHERE business_id = $1`, businessID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &domain.ErrNotFound{Resource: "schedule", ID: businessID}
	}
	if err != nil {
		return nil, fmt.Errorf("get schedule %s: %w", businessID, err)
	}
	return &s, nil
}

func (p *Postgres) ListSchedules(ctx context.Context) ([]domain.AvailabilitySchedule, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+scheduleColumns+` FROM availability_schedules ORDER BY business_id`)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()

	var out []domain.AvailabilitySchedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// UpsertSlots inserts new slots in one batch; existing ids are skipped.
func (p *Postgres) UpsertSlots(ctx context.Context, slots []domain.Slot) (int, error) {
	if len(slots) == 0 {
		return 0, nil
	}
	ctx, span := tracer.Start(ctx, "Postgres.UpsertSlots")
	defer span.End()
	span.SetAttributes(attribute.Int("slots", len(slots)))

	batch := &pgx.Batch{}
	for _, s := range slots {
		batch.Queue(`
			INSERT INTO availability_slots (id, business_id, provider_id, local_date, starts_at, ends_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO NOTHING`,
			s.ID, s.BusinessID, s.ProviderID, s.LocalDate, s.StartsAt, s.EndsAt)
	}

	br := p.pool.SendBatch(ctx, batch)
	defer br.Close()

	created := 0
	for range slots {
		tag, err := br.Exec()
		if err != nil {
			return created, fmt.Errorf("insert slot: %w", err)
		}
		created += int(tag.RowsAffected())
	}
	return created, nil
}

func (p *Postgres) PruneBefore(ctx context.Context, businessID, localDate string) (int, error) {
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM availability_slots WHERE business_id = $1 AND local_date < $2`, businessID, localDate)
	if err != nil {
		return 0, fmt.Errorf("prune slots: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

const slotColumns = `id, business_id, provider_id, local_date, starts_at, ends_at, booked_by, booked_at`

func scanSlot(row pgx.Row) (domain.Slot, error) {
	var s domain.Slot
	err := row.Scan(&s.ID, &s.BusinessID, &s.ProviderID, &s.LocalDate, &s.StartsAt, &s.EndsAt, &s.BookedBy, &s.BookedAt)
	return s, err
}

func (p *Postgres) ListOpenSlots(ctx context.Context, businessID, localDate string) ([]domain.Slot, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT `+slotColumns+` FROM availability_slots
		WHERE business_id = $1 AND local_date = $2 AND booked_by = ''
		ORDER BY starts_at, provider_id`, businessID, localDate)
	if err != nil {
		return nil, fmt.Errorf("list open slots: %w", err)
	}
	defer rows.Close()

	var out []domain.Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Reserve books a slot only if it is still open.
func (p *Postgres) Reserve(ctx context.Context, businessID, slotID, bookedBy string) (*domain.Slot, error) {
	ctx, span := tracer.Start(ctx, "Postgres.Reserve")
	defer span.End()
	span.SetAttributes(attribute.String("slot_id", slotID))

	s, err := scanSlot(p.pool.QueryRow(ctx, `
		UPDATE availability_slots SET booked_by = $3, booked_at = now()
		WHERE id = $2 AND business_id = $1 AND booked_by = ''
		RETURNING `+slotColumns, businessID, slotID, bookedBy))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &domain.ErrSlotUnavailable{SlotID: slotID}
	}
	if err != nil {
		return nil, fmt.Errorf("reserve slot %s: %w", slotID, err)
	}
	return &s, nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}
