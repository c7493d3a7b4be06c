package main

import (
	"fmt"

	"github.com/krelinga/hls-transcoder/internal"
	"github.com/spf13/cobra"
)

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:       "migrate up|down|version",
		Short:     "Apply, roll back or inspect the database schema",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "version"},
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, closeFn, err := ctx.openPool(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			logger := ctx.logger()
			out := cmd.OutOrStdout()
			switch args[0] {
			case "up":
				if err := internal.MigrateUp(cmd.Context(), pool, logger); err != nil {
					return err
				}
				fmt.Fprintln(out, "Migrations applied")
			case "down":
				if err := internal.MigrateDown(cmd.Context(), pool, logger); err != nil {
					return err
				}
				fmt.Fprintln(out, "Migrations rolled back")
			case "version":
				version, dirty, err := internal.SchemaVersion(pool)
				if err != nil {
					return err
				}
				state := "clean"
				if dirty {
					state = "dirty"
				}
				fmt.Fprintf(out, "Schema version %d (%s)\n", version, state)
			}
			return nil
		},
	}
}
