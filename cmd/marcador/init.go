package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// initCmd represents the init command
var initCmd = &cobra.Command{
	Use:   "init <folder>",
	Short: "Initialize a new labeling project",
	Long: `Initialize a new labeling project in a folder by creating:
- A sample configuration file (config.yaml)
- A sample dataset catalog (catalog.yaml)
- A migrated SQLite database (marcador.db)

Existing files are left alone.

Example:
  marcador init ./project
  marcador catalog import ./project/catalog.yaml -c ./project/config.yaml
  marcador serve -c ./project/config.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		folder := args[0]
		if err := os.MkdirAll(folder, 0o755); err != nil {
			return fmt.Errorf("failed to create project folder: %w", err)
		}
		out := cmd.OutOrStdout()

		configFile := filepath.Join(folder, "config.yaml")
		databaseFile := filepath.Join(folder, "marcador.db")
		created, err := writeIfMissing(configFile, fmt.Sprintf(sampleConfig, databaseFile))
		if err != nil {
			return fmt.Errorf("failed to create config file: %w", err)
		}
		if created {
			fmt.Fprintf(out, "Creating default config: %s\n", configFile)
		} else {
			fmt.Fprintf(out, "Config file already exists: %s\n", configFile)
		}

		catalogFile := filepath.Join(folder, "catalog.yaml")
		created, err = writeIfMissing(catalogFile, sampleCatalog)
		if err != nil {
			return fmt.Errorf("failed to create catalog file: %w", err)
		}
		if created {
			fmt.Fprintf(out, "Creating sample catalog: %s\n", catalogFile)
		}

		if err := cmd.Flags().Set("config", configFile); err != nil {
			return err
		}
		app, release, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer release()
		fmt.Fprintf(out, "Database ready: %s\n", app.Config.Database.Path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func writeIfMissing(filename, content string) (bool, error) {
	if _, err := os.Stat(filename); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, err
	}
	return true, os.WriteFile(filename, []byte(content), 0o644)
}

const sampleConfig = `# marcador configuration file
# Every key can be overridden with an environment variable,
# e.g. database.path with MARCADOR_DATABASE_PATH

database:
  path: %q
  busy_timeout: 5s

server:
  addr: ":8080"
  request_timeout: 10s

stats:
  # how long item and label counts are served from memory
  ttl: 15s

sequence:
  # let allocate_next_id hand out time based ids while the database is unavailable
  fallback_enabled: false
  record_counter: annotation_record_id

assignment:
  # 1: sha256, 2: xxh3. Changing it reshuffles every worker's queue.
  seed_version: 1

log:
  level: info
  file: ""
`

const sampleCatalog = `# Datasets and the items to label in each of them
datasets:
  - name: example
    description: "Edit this description to explain what is being labeled"
    multi_select: false
    range: {from: 1, to: 100}
`
