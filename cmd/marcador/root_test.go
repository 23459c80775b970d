package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetFlags puts every flag back to its default, since rootCmd is shared by all tests
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

// setContext hands ctx to every command. Cobra only fills a subcommand's
// context when it is unset, so the one from a previous run would stick.
func setContext(cmd *cobra.Command, ctx context.Context) {
	cmd.SetContext(ctx)
	for _, sub := range cmd.Commands() {
		setContext(sub, ctx)
	}
}

// executeCommand is a helper to run a cobra command and capture its output
func executeCommand(args ...string) (string, string, error) {
	var out, errOut bytes.Buffer
	resetFlags(rootCmd)
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	setContext(rootCmd, ctx)

	err := rootCmd.ExecuteContext(ctx)
	return out.String(), errOut.String(), err
}

func run(t *testing.T, dbPath string, args ...string) string {
	t.Helper()
	out, errOut, err := executeCommand(append(args, "--database", dbPath)...)
	require.NoError(t, err, errOut)
	return strings.TrimSpace(out)
}

func TestSequenceCommands(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "marcador.db")

	assert.Equal(t, "1", run(t, dbPath, "sequence", "next", "tickets"))
	assert.Equal(t, "2", run(t, dbPath, "sequence", "next", "tickets"))
	assert.Equal(t, "2", run(t, dbPath, "sequence", "show", "tickets"))
	assert.Equal(t, "0", run(t, dbPath, "sequence", "show", "other"))

	run(t, dbPath, "sequence", "reset", "tickets", "40")
	assert.Equal(t, "41", run(t, dbPath, "sequence", "next", "tickets"))

	_, _, err := executeCommand("sequence", "reset", "tickets", "many", "--database", dbPath)
	assert.Error(t, err)
}

func TestLabelingCommands(t *testing.T) {
	tempDir := t.TempDir()
	dbPath := filepath.Join(tempDir, "marcador.db")
	catalogPath := filepath.Join(tempDir, "catalog.yaml")
	require.NoError(t, os.WriteFile(catalogPath, []byte(`
datasets:
  - name: scenario
    items: [101, 102, 103]
  - name: tags
    multi_select: true
    range: {from: 1, to: 2}
`), 0o644))

	out := run(t, dbPath, "catalog", "import", catalogPath)
	assert.Contains(t, out, "1\tscenario\ttrue\t3")
	assert.Contains(t, out, "2\ttags\ttrue\t2")

	out = run(t, dbPath, "catalog", "list")
	assert.Contains(t, out, "1\tscenario\tfalse\t3")

	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		item := run(t, dbPath, "next", "1", "doc1")
		require.NotEqual(t, "done", item)
		assert.False(t, seen[item], "item %s handed out twice", item)
		seen[item] = true

		out = run(t, dbPath, "submit", "1", item, "doc1", "4")
		assert.Contains(t, out, "\tcreated")
	}
	assert.Equal(t, "done", run(t, dbPath, "next", "1", "doc1"))

	out = run(t, dbPath, "submit", "1", "101", "doc1", "5")
	assert.Contains(t, out, "\tupdated")

	out = run(t, dbPath, "stats", "1", "doc1")
	assert.Contains(t, out, "3\t3")

	out = run(t, dbPath, "submit", "2", "1", "doc1", "[2,5,7]")
	assert.Contains(t, out, "\tcreated")
	out = run(t, dbPath, "records", "2")
	assert.Contains(t, out, "[2,5,7]")

	out = run(t, dbPath, "submit", "2", "2", "doc1", "1", "--update-only")
	assert.Contains(t, out, "not_found")

	_, _, err := executeCommand("submit", "1", "101", "doc1", "[]", "--database", dbPath)
	assert.Error(t, err)
	_, _, err = executeCommand("submit", "1", "101", "doc1", "[1,2]", "--database", dbPath)
	assert.Error(t, err, "single select datasets reject multi labels")
}

func TestMigrateAndSeed(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "marcador.db")

	out := run(t, dbPath, "migrate")
	assert.Equal(t, "schema version 1, annotation_record_id at 0", out)

	run(t, dbPath, "submit", "1", "1", "w", "1")
	run(t, dbPath, "submit", "1", "2", "w", "1")
	run(t, dbPath, "sequence", "reset", "annotation_record_id", "0")
	assert.Equal(t, "2", run(t, dbPath, "sequence", "seed"))

	out = run(t, dbPath, "migrate")
	assert.Equal(t, "schema version 1, annotation_record_id at 2", out)
}

// commands run back to back, each under its own context
func TestCommands_RunRepeatedly(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "marcador.db")
	for i := 1; i <= 3; i++ {
		assert.Equal(t, strconv.Itoa(i), run(t, dbPath, "sequence", "next", "runs"))
	}
}

func TestRootCmd_Errors(t *testing.T) {
	t.Run("missing config file", func(t *testing.T) {
		_, _, err := executeCommand("migrate", "--config", "/path/to/some/nonexistent/config.yaml")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to load config")
	})

	t.Run("wrong argument count", func(t *testing.T) {
		_, _, err := executeCommand("next", "1")
		assert.Error(t, err)
	})

	t.Run("non numeric dataset", func(t *testing.T) {
		_, _, err := executeCommand("stats", "abc", "--database", filepath.Join(t.TempDir(), "x.db"))
		assert.Error(t, err)
	})
}

func TestInitCmd(t *testing.T) {
	t.Run("creates config, catalog and database", func(t *testing.T) {
		tempDir := t.TempDir()
		out, errOut, err := executeCommand("init", tempDir)
		require.NoError(t, err, errOut)

		for _, name := range []string{"config.yaml", "catalog.yaml", "marcador.db"} {
			_, err := os.Stat(filepath.Join(tempDir, name))
			assert.NoError(t, err, "expected %s to be created", name)
		}
		assert.Contains(t, out, "Creating default config")
		assert.Contains(t, out, "Creating sample catalog")

		out, errOut, err = executeCommand("catalog", "import", filepath.Join(tempDir, "catalog.yaml"), "--config", filepath.Join(tempDir, "config.yaml"))
		require.NoError(t, err, errOut)
		assert.Contains(t, out, "1\texample\ttrue\t100")
	})

	t.Run("keeps an existing config", func(t *testing.T) {
		tempDir := t.TempDir()
		configPath := filepath.Join(tempDir, "config.yaml")
		require.NoError(t, os.WriteFile(configPath, []byte("database:\n  path: "+filepath.Join(tempDir, "other.db")+"\n"), 0o644))

		out, errOut, err := executeCommand("init", tempDir)
		require.NoError(t, err, errOut)
		assert.Contains(t, out, "Config file already exists")
		assert.Contains(t, out, "other.db")
	})
}
