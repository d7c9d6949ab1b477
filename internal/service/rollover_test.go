package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/boddenberg/receptionist-core/internal/domain"
	"github.com/boddenberg/receptionist-core/internal/infra/availability"
	"github.com/boddenberg/receptionist-core/internal/infra/observability"
	"github.com/boddenberg/receptionist-core/internal/service"
)

func weekdayMornings(horizon int) domain.CalendarSettings {
	s := domain.CalendarSettings{HorizonDays: horizon}
	for d := time.Monday; d <= time.Friday; d++ {
		s.Hours = append(s.Hours, domain.OpeningHours{Weekday: d, Open: "09:00", Close: "12:00"})
	}
	return s
}

var twoProviders = []domain.Provider{{ID: "p1", Name: "Alex"}, {ID: "p2", Name: "Sam"}}

func newRollover(store *availability.Memory) *service.Rollover {
	return service.NewRollover(store, 2, observability.NewMetrics(), zap.NewNop())
}

func TestBuildDay_LaysOutSlotsWithinOpeningHours(t *testing.T) {
	monday := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)

	slots := service.BuildDay("biz-1", "p1", monday, weekdayMornings(7), 60)

	require.Len(t, slots, 3)
	assert.Equal(t, "biz-1:p1:20261019T0900Z", slots[0].ID)
	assert.Equal(t, "2026-10-19", slots[0].LocalDate)
	assert.Equal(t, time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC), slots[2].EndsAt)

	saturday := monday.AddDate(0, 0, 5)
	assert.Empty(t, service.BuildDay("biz-1", "p1", saturday, weekdayMornings(7), 60))
}

func TestGenerateInitial_IsIdempotent(t *testing.T) {
	store := availability.NewMemory()
	r := newRollover(store)
	ctx := context.Background()

	created, err := r.GenerateInitial(ctx, "biz-1", "2026-10-19", twoProviders, weekdayMornings(7), "UTC", 60)
	require.NoError(t, err)
	assert.Equal(t, 30, created)

	created, err = r.GenerateInitial(ctx, "biz-1", "2026-10-19", twoProviders, weekdayMornings(7), "UTC", 60)
	require.NoError(t, err)
	assert.Zero(t, created)

	sched, err := store.GetSchedule(ctx, "biz-1")
	require.NoError(t, err)
	assert.Equal(t, "2026-10-19", sched.LastRolledDate)
	assert.Equal(t, "2026-10-25", sched.HorizonEnd)
}

func TestGenerateInitial_RejectsBadInput(t *testing.T) {
	r := newRollover(availability.NewMemory())
	var ve *domain.ErrValidation

	_, err := r.GenerateInitial(context.Background(), "biz-1", "2026-10-19", twoProviders, weekdayMornings(7), "Nowhere/Land", 60)
	assert.ErrorAs(t, err, &ve)

	_, err = r.GenerateInitial(context.Background(), "biz-1", "19/10/2026", twoProviders, weekdayMornings(7), "UTC", 60)
	assert.ErrorAs(t, err, &ve)
}

func TestRollover_AdvancesOncePerLocalDate(t *testing.T) {
	store := availability.NewMemory()
	r := newRollover(store)
	ctx := context.Background()
	_, err := r.GenerateInitial(ctx, "biz-1", "2026-10-19", twoProviders, weekdayMornings(7), "UTC", 60)
	require.NoError(t, err)

	now := time.Date(2026, 10, 20, 10, 0, 0, 0, time.UTC)
	report, err := r.Rollover(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Checked)
	assert.Equal(t, []string{"biz-1"}, report.Rolled)
	assert.Equal(t, 6, report.Pruned)
	assert.Equal(t, 6, report.Created)

	open, err := store.ListOpenSlots(ctx, "biz-1", "2026-10-26")
	require.NoError(t, err)
	assert.Len(t, open, 6)

	again, err := r.Rollover(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, again.Rolled)
	assert.Zero(t, again.Created)
}

func TestRollover_KeepsBookedFutureSlots(t *testing.T) {
	store := availability.NewMemory()
	r := newRollover(store)
	ctx := context.Background()
	_, err := r.GenerateInitial(ctx, "biz-1", "2026-10-19", twoProviders, weekdayMornings(7), "UTC", 60)
	require.NoError(t, err)

	slotID := service.SlotID("biz-1", "p1", time.Date(2026, 10, 21, 9, 0, 0, 0, time.UTC))
	_, err = store.Reserve(ctx, "biz-1", slotID, "rtc_1")
	require.NoError(t, err)

	_, err = r.Rollover(ctx, time.Date(2026, 10, 20, 8, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	_, err = store.Reserve(ctx, "biz-1", slotID, "rtc_2")
	var su *domain.ErrSlotUnavailable
	assert.ErrorAs(t, err, &su, "regeneration must not reopen a booked slot")
}

func TestRollover_OneBadScheduleDoesNotStopOthers(t *testing.T) {
	store := availability.NewMemory()
	r := newRollover(store)
	ctx := context.Background()
	_, err := r.GenerateInitial(ctx, "biz-1", "2026-10-19", twoProviders, weekdayMornings(7), "UTC", 60)
	require.NoError(t, err)
	require.NoError(t, store.SaveSchedule(ctx, domain.AvailabilitySchedule{
		BusinessID: "biz-broken", Timezone: "Nowhere/Land", Providers: twoProviders, Settings: weekdayMornings(7),
	}))

	report, err := r.Rollover(ctx, time.Date(2026, 10, 20, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 2, report.Checked)
	assert.Equal(t, []string{"biz-1"}, report.Rolled)
	require.Len(t, report.Failures, 1)
	assert.Contains(t, report.Failures[0], "biz-broken")
}
