package main

import (
	"fmt"

	"github.com/lewtec/marcador/internal/repository"
	"github.com/spf13/cobra"
)

// migrateCmd applies the schema and bootstraps the counters
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the database schema",
	Long: `Applies pending schema migrations and raises the record and dataset counters
to the largest ids already stored. Safe to run on every deploy.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, release, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer release()

		version, _, err := repository.SchemaVersion(app.Database)
		if err != nil {
			return err
		}
		current, err := app.Sequences.Current(cmd.Context(), app.Config.Sequence.RecordCounter)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "schema version %d, %s at %d\n", version, app.Config.Sequence.RecordCounter, current)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
