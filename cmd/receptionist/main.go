package main

import (
	"fmt"
	"os"

	_ "time/tzdata"

	"github.com/spf13/cobra"

	"github.com/boddenberg/receptionist-core/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string
	var cfg *config.Config

	root := &cobra.Command{
		Use:           "receptionist",
		Short:         "Call-handling core for the AI voice receptionist",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(configFile)
			if err != nil {
				return err
			}
			cfg = loaded
			return nil
		},
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "optional config file (toml, yaml or json)")

	current := func() *config.Config { return cfg }
	root.AddCommand(
		newServeCmd(current),
		newRolloverCmd(current),
		newMigrateCmd(current),
	)
	return root
}
