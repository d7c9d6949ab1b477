package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/boddenberg/receptionist-core/internal/domain"
	"github.com/boddenberg/receptionist-core/internal/infra/observability"
	"github.com/boddenberg/receptionist-core/internal/port"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultSlotMinutes = 60
	defaultHorizonDays = 14
)

// Rollover keeps each business's bookable slots a fixed horizon ahead of
// business-local today. Runs are idempotent per local date.
type Rollover struct {
	store       port.AvailabilityStore
	concurrency int
	metrics     *observability.Metrics
	logger      *zap.Logger
	now         func() time.Time
}

// NewRollover creates the rollover service. concurrency bounds how many
// businesses are rolled at once.
func NewRollover(store port.AvailabilityStore, concurrency int, metrics *observability.Metrics, logger *zap.Logger) *Rollover {
	if concurrency < 1 {
		concurrency = 4
	}
	return &Rollover{
		store:       store,
		concurrency: concurrency,
		metrics:     metrics,
		logger:      logger,
		now:         time.Now,
	}
}

// GenerateInitial seeds a business's schedule and slots from fromDate
// (YYYY-MM-DD, business-local) through the horizon. It returns the number of
// slots created; re-running it creates none.
func (r *Rollover) GenerateInitial(
	ctx context.Context,
	businessID, fromDate string,
	providers []domain.Provider,
	settings domain.CalendarSettings,
	tz string,
	slotMinutes int,
) (int, error) {
	ctx, span := tracer.Start(ctx, "Rollover.GenerateInitial")
	defer span.End()
	span.SetAttributes(attribute.String("business.id", businessID))

	if strings.TrimSpace(businessID) == "" {
		return 0, &domain.ErrValidation{Field: "business_id", Message: "is required"}
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return 0, &domain.ErrValidation{Field: "timezone", Message: err.Error()}
	}
	from, err := time.ParseInLocation(time.DateOnly, fromDate, loc)
	if err != nil {
		return 0, &domain.ErrValidation{Field: "from_date", Message: "must be YYYY-MM-DD"}
	}
	if slotMinutes <= 0 {
		slotMinutes = defaultSlotMinutes
	}
	if settings.HorizonDays <= 0 {
		settings.HorizonDays = defaultHorizonDays
	}

	sched := domain.AvailabilitySchedule{
		BusinessID:  businessID,
		Timezone:    tz,
		SlotMinutes: slotMinutes,
		Providers:   providers,
		Settings:    settings,
	}
	if existing, err := r.store.GetSchedule(ctx, businessID); err == nil {
		sched.LastRolledDate = existing.LastRolledDate
		sched.HorizonEnd = existing.HorizonEnd
	}
	if err := r.store.SaveSchedule(ctx, sched); err != nil {
		return 0, fmt.Errorf("save schedule: %w", err)
	}

	last := from.AddDate(0, 0, settings.HorizonDays-1)
	created, err := r.fill(ctx, sched, loc, from, last)
	if err != nil {
		return created, err
	}

	if sched.LastRolledDate < fromDate {
		sched.LastRolledDate = fromDate
	}
	if end := last.Format(time.DateOnly); sched.HorizonEnd < end {
		sched.HorizonEnd = end
	}
	if err := r.store.SaveSchedule(ctx, sched); err != nil {
		return created, fmt.Errorf("save schedule: %w", err)
	}
	r.logger.Info("availability seeded",
		zap.String("business_id", businessID),
		zap.String("from", fromDate),
		zap.String("horizon_end", sched.HorizonEnd),
		zap.Int("created", created),
	)
	return created, nil
}

// Rollover advances every schedule whose business-local date has moved on
// since its last run. One business failing does not stop the others.
func (r *Rollover) Rollover(ctx context.Context, now time.Time) (*domain.RolloverReport, error) {
	ctx, span := tracer.Start(ctx, "Rollover.Rollover")
	defer span.End()

	start := time.Now()
	defer func() {
		r.metrics.RecordRequestDuration("rollover", time.Since(start))
	}()

	schedules, err := r.store.ListSchedules(ctx)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}

	var (
		mu     sync.Mutex
		report = &domain.RolloverReport{Checked: len(schedules)}
	)
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, s := range schedules {
		s := s
		g.Go(func() error {
			rolled, created, pruned, err := r.rollOne(gCtx, s, now)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				r.metrics.IncrDetachedFailure("rollover")
				r.logger.Error("rollover failed",
					zap.String("business_id", s.BusinessID),
					zap.Error(err),
				)
				report.Failures = append(report.Failures, fmt.Sprintf("%s: %v", s.BusinessID, err))
				return nil
			}
			if rolled {
				report.Rolled = append(report.Rolled, s.BusinessID)
				report.Created += created
				report.Pruned += pruned
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}
	sort.Strings(report.Rolled)
	sort.Strings(report.Failures)

	r.logger.Info("rollover complete",
		zap.Int("checked", report.Checked),
		zap.Int("rolled", len(report.Rolled)),
		zap.Int("created", report.Created),
		zap.Int("pruned", report.Pruned),
		zap.Int("failures", len(report.Failures)),
	)
	return report, nil
}

// Run rolls over on every tick until ctx is done.
func (r *Rollover) Run(ctx context.Context, every time.Duration) error {
	if _, err := r.Rollover(ctx, r.now()); err != nil {
		r.logger.Error("rollover pass failed", zap.Error(err))
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.Rollover(ctx, r.now()); err != nil {
				r.logger.Error("rollover pass failed", zap.Error(err))
			}
		}
	}
}

func (r *Rollover) rollOne(ctx context.Context, s domain.AvailabilitySchedule, now time.Time) (bool, int, int, error) {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return false, 0, 0, fmt.Errorf("timezone %q: %w", s.Timezone, err)
	}
	localNow := now.In(loc)
	today := time.Date(localNow.Year(), localNow.Month(), localNow.Day(), 0, 0, 0, 0, loc)
	todayStr := today.Format(time.DateOnly)
	if s.LastRolledDate >= todayStr {
		return false, 0, 0, nil
	}

	horizon := s.Settings.HorizonDays
	if horizon <= 0 {
		horizon = defaultHorizonDays
	}
	last := today.AddDate(0, 0, horizon-1)

	pruned, err := r.store.PruneBefore(ctx, s.BusinessID, todayStr)
	if err != nil {
		return false, 0, 0, fmt.Errorf("prune: %w", err)
	}

	from := today
	if s.HorizonEnd != "" {
		if end, err := time.ParseInLocation(time.DateOnly, s.HorizonEnd, loc); err == nil && !end.Before(today) {
			from = end.AddDate(0, 0, 1)
		}
	}
	created, err := r.fill(ctx, s, loc, from, last)
	if err != nil {
		return false, created, pruned, err
	}

	s.LastRolledDate = todayStr
	s.HorizonEnd = last.Format(time.DateOnly)
	if err := r.store.SaveSchedule(ctx, s); err != nil {
		return false, created, pruned, fmt.Errorf("save schedule: %w", err)
	}
	return true, created, pruned, nil
}

// fill generates and stores slots for every provider on each local day in
// [from, last]. Providers are written concurrently.
func (r *Rollover) fill(ctx context.Context, s domain.AvailabilitySchedule, loc *time.Location, from, last time.Time) (int, error) {
	if from.After(last) {
		return 0, nil
	}
	var (
		mu      sync.Mutex
		created int
	)
	g, gCtx := errgroup.WithContext(ctx)
	for _, p := range s.Providers {
		p := p
		g.Go(func() error {
			var slots []domain.Slot
			for day := from; !day.After(last); day = nextDay(day, loc) {
				slots = append(slots, BuildDay(s.BusinessID, p.ID, day, s.Settings, s.SlotMinutes)...)
			}
			if len(slots) == 0 {
				return nil
			}
			n, err := r.store.UpsertSlots(gCtx, slots)
			if err != nil {
				return fmt.Errorf("upsert slots for %s: %w", p.ID, err)
			}
			mu.Lock()
			created += n
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()
	return created, err
}

func nextDay(day time.Time, loc *time.Location) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day()+1, 0, 0, 0, 0, loc)
}

// BuildDay lays out one provider's slots for a business-local day. Slot ids
// are deterministic so regenerating a day is a no-op.
func BuildDay(businessID, providerID string, day time.Time, settings domain.CalendarSettings, slotMinutes int) []domain.Slot {
	hours, ok := settings.HoursFor(day.Weekday())
	if !ok {
		return nil
	}
	open, err1 := time.Parse("15:04", hours.Open)
	closeAt, err2 := time.Parse("15:04", hours.Close)
	if err1 != nil || err2 != nil {
		return nil
	}
	if slotMinutes <= 0 {
		slotMinutes = defaultSlotMinutes
	}
	loc := day.Location()
	start := time.Date(day.Year(), day.Month(), day.Day(), open.Hour(), open.Minute(), 0, 0, loc)
	end := time.Date(day.Year(), day.Month(), day.Day(), closeAt.Hour(), closeAt.Minute(), 0, 0, loc)
	step := time.Duration(slotMinutes) * time.Minute
	localDate := day.Format(time.DateOnly)

	var out []domain.Slot
	for t := start; !t.Add(step).After(end); t = t.Add(step) {
		out = append(out, domain.Slot{
			ID:         SlotID(businessID, providerID, t),
			BusinessID: businessID,
			ProviderID: providerID,
			LocalDate:  localDate,
			StartsAt:   t.UTC(),
			EndsAt:     t.Add(step).UTC(),
		})
	}
	return out
}

// SlotID is the stable identity of a slot.
func SlotID(businessID, providerID string, start time.Time) string {
	return fmt.Sprintf("%s:%s:%s", businessID, providerID, start.UTC().Format("20060102T1504Z"))
}
