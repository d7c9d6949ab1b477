package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/boddenberg/receptionist-core/internal/config"
	"github.com/boddenberg/receptionist-core/internal/infra/availability"
)

func newMigrateCmd(cfg func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply availability schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			c := cfg()
			if c.DatabaseURL == "" {
				return errors.New("DATABASE_URL is required")
			}
			pg, err := openPostgres(ctx, c)
			if err != nil {
				return err
			}
			defer pg.Close()

			applied, err := availability.Migrate(ctx, pg)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
				return nil
			}
			for _, v := range applied {
				fmt.Fprintln(cmd.OutOrStdout(), "applied", v)
			}
			return nil
		},
	}
}
