package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/boddenberg/receptionist-core/internal/config"
	"github.com/boddenberg/receptionist-core/internal/infra/catalog"
	"github.com/boddenberg/receptionist-core/internal/infra/observability"
	"github.com/boddenberg/receptionist-core/internal/service"
)

func newRolloverCmd(cfg func() *config.Config) *cobra.Command {
	var every time.Duration
	var seed bool

	cmd := &cobra.Command{
		Use:   "rollover",
		Short: "Advance every business's availability window by one day",
		Long: "Prunes past slots and generates new ones so each schedule keeps a full horizon. " +
			"With --init, schedules from the business catalog are seeded first. " +
			"With --every, the rollover repeats until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return rollover(ctx, cfg(), every, seed)
		},
	}
	cmd.Flags().DurationVar(&every, "every", 0, "repeat on this interval instead of running once")
	cmd.Flags().BoolVar(&seed, "init", false, "seed schedules from the business catalog before rolling over")
	return cmd
}

func rollover(ctx context.Context, cfg *config.Config, every time.Duration, seed bool) error {
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()
	metrics := observability.NewMetrics()

	pg, err := openPostgres(ctx, cfg)
	if err != nil {
		return err
	}
	if pg != nil {
		defer pg.Close()
	}
	store, err := availabilityStore(ctx, pg, logger)
	if err != nil {
		return err
	}
	roller := service.NewRollover(store, cfg.MaxConcurrency, metrics, logger)

	if seed {
		if err := seedSchedules(ctx, cfg.BusinessCatalog, roller, logger); err != nil {
			return err
		}
	}

	if every > 0 {
		err := roller.Run(ctx, every)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	report, err := roller.Rollover(ctx, time.Now())
	if err != nil {
		return err
	}
	if len(report.Failures) > 0 {
		return fmt.Errorf("rollover failed for %d business(es): %s", len(report.Failures), strings.Join(report.Failures, "; "))
	}
	return nil
}

func seedSchedules(ctx context.Context, path string, roller *service.Rollover, logger *zap.Logger) error {
	file, err := catalog.LoadFile(path)
	if err != nil {
		return err
	}
	for _, cal := range file.Calendars() {
		loc, err := time.LoadLocation(cal.Timezone)
		if err != nil {
			return fmt.Errorf("business %s: %w", cal.BusinessID, err)
		}
		today := time.Now().In(loc).Format("2006-01-02")
		created, err := roller.GenerateInitial(ctx, cal.BusinessID, today, cal.Providers, cal.Settings, cal.Timezone, cal.SlotMinutes)
		if err != nil {
			return fmt.Errorf("seed %s: %w", cal.BusinessID, err)
		}
		logger.Info("schedule seeded",
			zap.String("business_id", cal.BusinessID),
			zap.Int("slots_created", created),
		)
	}
	return nil
}
