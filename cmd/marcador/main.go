/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/lewtec/marcador/annotation"
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "marcador",
	Short: "Hand out labeling work and collect labels from many workers",
	Long: strings.TrimSpace(`
Coordinate many annotators labeling the same datasets: every worker gets its own
stable order of items, every (dataset, item, worker) keeps one record with a
stable id, and ids come from persisted counters shared by all writers.
    `),
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Config file (yaml)")
	rootCmd.PersistentFlags().StringP("database", "d", "", "Database file path, overrides database.path")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error), overrides log.level")
}

func loadConfig(cmd *cobra.Command) (*annotation.Config, error) {
	configFile, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	config, err := annotation.LoadConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if databaseFile, _ := cmd.Flags().GetString("database"); databaseFile != "" {
		config.Database.Path = databaseFile
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		config.Log.Level = level
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// openApp loads the configuration, opens and prepares the database and
// returns the wired application with a function releasing it
func openApp(cmd *cobra.Command) (*annotation.App, func(), error) {
	config, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	logger, logCloser, err := annotation.NewLogger(config.Log, cmd.ErrOrStderr())
	if err != nil {
		return nil, nil, err
	}
	db, err := annotation.GetDatabase(config.Database)
	if err != nil {
		logCloser.Close()
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	release := func() {
		db.Close()
		logCloser.Close()
	}
	app, err := annotation.NewApp(config, db, logger)
	if err != nil {
		release()
		return nil, nil, err
	}
	if err := app.PrepareDatabase(cmd.Context()); err != nil {
		release()
		return nil, nil, fmt.Errorf("failed to prepare database: %w", err)
	}
	logger.Debug("database ready", "path", config.Database.Path)
	return app, release, nil
}

// printRows writes tab separated rows, with the header when there is more than one column
func printRows(w io.Writer, header []string, rows [][]string) {
	if len(header) > 1 {
		fmt.Fprintln(w, strings.Join(header, "\t"))
	}
	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
}
