package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const salesCSV = `region,units,revenue,active
north,10,105.5,true
south,7,80,false
east,,12.25,true
`

func writeConfig(t *testing.T, withState bool) string {
	t.Helper()
	dir := t.TempDir()
	var b strings.Builder
	fmt.Fprintf(&b, "backend: relational\n")
	if withState {
		fmt.Fprintf(&b, "state_file: %s\n", filepath.Join(dir, "state.yaml"))
	}
	fmt.Fprintf(&b, "document:\n  path: %s\n", filepath.Join(dir, "document"))
	fmt.Fprintf(&b, "relational:\n  path: %s\n", filepath.Join(dir, "vault.db"))
	fmt.Fprintf(&b, "log:\n  level: error\n")
	path := filepath.Join(dir, "datavault.yaml")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0644))
	return path
}

func run(t *testing.T, configPath string, args ...string) (string, error) {
	t.Helper()
	app := newApp()
	var out bytes.Buffer
	app.Writer = &out
	err := app.Run(append([]string{"datavault", "--config", configPath}, args...))
	return out.String(), err
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		level   string
		format  string
		wantErr string
	}{
		{level: "debug", format: "text"},
		{level: "info", format: "json"},
		{level: "warn", format: ""},
		{level: "", format: "text"},
		{level: "error", format: "json"},
		{level: "verbose", format: "text", wantErr: "invalid log level"},
		{level: "info", format: "xml", wantErr: "invalid log format"},
	}
	for _, tt := range tests {
		t.Run(tt.level+"/"+tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			logger, err := newLogger(&buf, tt.level, tt.format)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			logger.Error("boom")
			assert.Contains(t, buf.String(), "boom")
		})
	}

	t.Run("json output", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := newLogger(&buf, "info", "json")
		require.NoError(t, err)
		logger.Info("hello", "backend", "relational")
		assert.Contains(t, buf.String(), `"backend":"relational"`)
	})
}

func TestInspectCSV(t *testing.T) {
	t.Run("infers types and preview", func(t *testing.T) {
		summary, err := inspectCSV([]byte(salesCSV), 2)
		require.NoError(t, err)
		assert.Equal(t, []string{"region", "units", "revenue", "active"}, summary.columns)
		assert.Equal(t, int64(3), summary.rows)
		assert.Equal(t, map[string]string{
			"region":  "string",
			"units":   "integer",
			"revenue": "float",
			"active":  "boolean",
		}, summary.types)
		require.Len(t, summary.preview, 2)
		assert.Equal(t, map[string]any{"region": "north", "units": int64(10), "revenue": 105.5, "active": true}, summary.preview[0])
		assert.Equal(t, 80.0, summary.preview[1]["revenue"])
	})

	t.Run("empty cells are nil in preview", func(t *testing.T) {
		summary, err := inspectCSV([]byte(salesCSV), 10)
		require.NoError(t, err)
		require.Len(t, summary.preview, 3)
		assert.Nil(t, summary.preview[2]["units"])
	})

	t.Run("mixed column is string", func(t *testing.T) {
		summary, err := inspectCSV([]byte("a\n1\nx\n"), 0)
		require.NoError(t, err)
		assert.Equal(t, "string", summary.types["a"])
		assert.Empty(t, summary.preview)
	})

	t.Run("header only", func(t *testing.T) {
		summary, err := inspectCSV([]byte("a,b\n"), 10)
		require.NoError(t, err)
		assert.Equal(t, int64(0), summary.rows)
		assert.Equal(t, "string", summary.types["a"])
	})

	errorTests := []struct {
		name    string
		data    string
		wantErr string
	}{
		{name: "empty file", data: "", wantErr: "empty"},
		{name: "duplicate column", data: "a,a\n1,2\n", wantErr: "duplicate column"},
		{name: "unnamed column", data: "a,\n1,2\n", wantErr: "no name"},
		{name: "ragged row", data: "a,b\n1\n", wantErr: "wrong number of fields"},
	}
	for _, tt := range errorTests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := inspectCSV([]byte(tt.data), 10)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDatasetCommands(t *testing.T) {
	cfg := writeConfig(t, false)
	csvPath := filepath.Join(t.TempDir(), "sales.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte(salesCSV), 0644))

	out, err := run(t, cfg, "dataset", "import", csvPath)
	require.NoError(t, err)
	assert.Equal(t, "Imported sales: 3 rows, 4 columns, direct storage on relational\n", out)

	out, err = run(t, cfg, "dataset", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "sales.csv")
	assert.Contains(t, out, "direct")

	out, err = run(t, cfg, "dataset", "export", "sales")
	require.NoError(t, err)
	assert.Equal(t, salesCSV, out)

	exported := filepath.Join(t.TempDir(), "out.csv")
	_, err = run(t, cfg, "dataset", "export", "--out", exported, "sales")
	require.NoError(t, err)
	data, err := os.ReadFile(exported)
	require.NoError(t, err)
	assert.Equal(t, salesCSV, string(data))

	_, err = run(t, cfg, "dataset", "import", csvPath)
	require.Error(t, err, "same id twice")

	out, err = run(t, cfg, "dataset", "rm", "sales")
	require.NoError(t, err)
	assert.Equal(t, "Deleted sales\n", out)

	out, err = run(t, cfg, "dataset", "list")
	require.NoError(t, err)
	assert.NotContains(t, out, "sales.csv")

	_, err = run(t, cfg, "dataset", "export", "sales")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestDatasetCommands_MissingArguments(t *testing.T) {
	cfg := writeConfig(t, false)
	for _, args := range [][]string{
		{"dataset", "import"},
		{"dataset", "export"},
		{"dataset", "rm"},
		{"backend", "switch"},
	} {
		_, err := run(t, cfg, args...)
		require.Error(t, err, strings.Join(args, " "))
		assert.Contains(t, err.Error(), "required")
	}
}

func TestBackendCommands(t *testing.T) {
	cfg := writeConfig(t, true)

	out, err := run(t, cfg, "backend", "show")
	require.NoError(t, err)
	assert.Equal(t, "  document\n* relational\n", out)

	out, err = run(t, cfg, "backend", "switch", "document")
	require.NoError(t, err)
	assert.Equal(t, "Switched backend: relational -> document\n", out)

	// The choice outlives the process.
	out, err = run(t, cfg, "backend", "show")
	require.NoError(t, err)
	assert.Equal(t, "* document\n  relational\n", out)

	_, err = run(t, cfg, "backend", "switch", "columnar")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown backend")
}

func TestBackendSwitch_RequiresStateFile(t *testing.T) {
	_, err := run(t, writeConfig(t, false), "backend", "switch", "document")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "state_file")
}

func TestSweepCommand(t *testing.T) {
	out, err := run(t, writeConfig(t, false), "sweep", "--grace", "0s")
	require.NoError(t, err)
	assert.Equal(t, "Swept relational: 0 blobs, 0 workspaces, 0 training runs, 0 feedback (0 skipped)\n", out)
}

func TestInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend: columnar\n"), 0644))
	_, err := run(t, path, "backend", "show")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend")

	_, err = run(t, writeConfig(t, false), "--log-level", "verbose", "backend", "show")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}
