// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/poiesic/datavault"
	"github.com/poiesic/datavault/config"
	"github.com/poiesic/datavault/core"
	"github.com/urfave/cli/v2"
)

const configKey = "config"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "datavault",
		Usage: "Persistence layer for datasets, workspaces and model feedback",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to YAML configuration file",
				EnvVars: []string{config.EnvPrefix + "CONFIG"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error); overrides the config file",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "Set logging format (text, json); overrides the config file",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:  "backend",
				Usage: "Inspect or change the active storage backend",
				Subcommands: []*cli.Command{
					{
						Name:   "show",
						Usage:  "Print the active backend and the available ones",
						Action: backendShowCommand,
					},
					{
						Name:      "switch",
						Usage:     "Switch the active backend and persist the choice",
						ArgsUsage: "<backend>",
						Action:    backendSwitchCommand,
					},
				},
			},
			{
				Name:  "dataset",
				Usage: "Manage datasets",
				Subcommands: []*cli.Command{
					{
						Name:      "import",
						Usage:     "Import a CSV file as a dataset",
						ArgsUsage: "<file.csv>",
						Action:    datasetImportCommand,
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "id",
								Usage: "Dataset id (defaults to the file name without extension)",
							},
							&cli.StringFlag{
								Name:  "name",
								Usage: "Display name (defaults to the file name)",
							},
							&cli.IntFlag{
								Name:  "preview-rows",
								Usage: "Number of rows kept in the preview",
								Value: defaultPreviewRows,
							},
						},
					},
					{
						Name:      "export",
						Usage:     "Write a dataset's rows to a file or stdout",
						ArgsUsage: "<id>",
						Action:    datasetExportCommand,
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:    "out",
								Aliases: []string{"o"},
								Usage:   "Output file (defaults to stdout)",
							},
						},
					},
					{
						Name:   "list",
						Usage:  "List datasets, newest first",
						Action: datasetListCommand,
						Flags: []cli.Flag{
							&cli.IntFlag{
								Name:  "limit",
								Usage: "Maximum number of datasets to list (0 for all)",
							},
						},
					},
					{
						Name:      "rm",
						Usage:     "Delete a dataset and everything that depends on it",
						ArgsUsage: "<id>",
						Action:    datasetRemoveCommand,
					},
				},
			},
			{
				Name:   "sweep",
				Usage:  "Remove orphaned blobs and records from the active backend",
				Action: sweepCommand,
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "grace",
						Usage: "Minimum age of an unreferenced blob before removal (overrides the config file)",
						Value: -1,
					},
				},
			},
		},
	}
}

// setupLogger loads the configuration and installs the default logger.
func setupLogger(c *cli.Context) error {
	cfg, err := config.LoadWithEnvOverrides(c.String("config"))
	if err != nil {
		return err
	}
	if c.IsSet("log-level") {
		cfg.Log.Level = strings.ToLower(c.String("log-level"))
	}
	if c.IsSet("log-format") {
		cfg.Log.Format = strings.ToLower(c.String("log-format"))
	}

	logger, err := newLogger(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	if c.App.Metadata == nil {
		c.App.Metadata = make(map[string]any)
	}
	c.App.Metadata[configKey] = cfg
	return nil
}

func newLogger(w io.Writer, levelStr, format string) (*slog.Logger, error) {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	opts := &slog.HandlerOptions{Level: level}
	switch format {
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q: must be one of text, json", format)
	}
}

// openVault opens the vault described by the loaded configuration. The
// returned context is cancelled on SIGINT or SIGTERM.
func openVault(c *cli.Context) (context.Context, *datavault.Vault, func(), error) {
	cfg, ok := c.App.Metadata[configKey].(*config.Config)
	if !ok {
		return nil, nil, nil, fmt.Errorf("configuration not loaded")
	}
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	v, err := datavault.Open(ctx, cfg)
	if err != nil {
		stop()
		return nil, nil, nil, fmt.Errorf("failed to open vault: %w", err)
	}
	cleanup := func() {
		if err := v.Close(); err != nil {
			slog.Error("failed to close vault", "error", err)
		}
		stop()
	}
	return ctx, v, cleanup, nil
}

func backendShowCommand(c *cli.Context) error {
	_, v, cleanup, err := openVault(c)
	if err != nil {
		return err
	}
	defer cleanup()

	w := c.App.Writer
	current := v.CurrentBackend()
	for _, name := range v.Backends() {
		marker := " "
		if name == current {
			marker = "*"
		}
		fmt.Fprintf(w, "%s %s\n", marker, name)
	}
	return nil
}

func backendSwitchCommand(c *cli.Context) error {
	name := c.Args().First()
	if name == "" {
		return fmt.Errorf("backend name is required")
	}
	cfg, ok := c.App.Metadata[configKey].(*config.Config)
	if !ok {
		return fmt.Errorf("configuration not loaded")
	}
	if cfg.StateFile == "" {
		return fmt.Errorf("state_file must be configured for a switch to outlive this command")
	}

	ctx, v, cleanup, err := openVault(c)
	if err != nil {
		return err
	}
	defer cleanup()

	from := v.CurrentBackend()
	if err := v.SwitchBackend(ctx, name); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Switched backend: %s -> %s\n", from, v.CurrentBackend())
	return nil
}

func datasetImportCommand(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return fmt.Errorf("CSV file is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	summary, err := inspectCSV(data, c.Int("preview-rows"))
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}

	base := filepath.Base(path)
	id := c.String("id")
	if id == "" {
		id = strings.TrimSuffix(base, filepath.Ext(base))
	}
	name := c.String("name")
	if name == "" {
		name = base
	}

	ctx, v, cleanup, err := openVault(c)
	if err != nil {
		return err
	}
	defer cleanup()

	ds, err := v.Datasets().Create(ctx, &core.Dataset{
		ID:          id,
		Name:        name,
		RowCount:    summary.rows,
		ColumnCount: len(summary.columns),
		Columns:     summary.columns,
		ColumnTypes: summary.types,
		Preview:     summary.preview,
		Data:        data,
	})
	if err != nil {
		return fmt.Errorf("failed to import dataset: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "Imported %s: %d rows, %d columns, %s storage on %s\n",
		ds.ID, ds.RowCount, ds.ColumnCount, ds.StorageType, v.CurrentBackend())
	return nil
}

func datasetExportCommand(c *cli.Context) error {
	id := c.Args().First()
	if id == "" {
		return fmt.Errorf("dataset id is required")
	}
	ctx, v, cleanup, err := openVault(c)
	if err != nil {
		return err
	}
	defer cleanup()

	ds, err := v.Datasets().Get(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load dataset %s: %w", id, err)
	}
	if out := c.String("out"); out != "" {
		if err := os.WriteFile(out, ds.Data, 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", out, err)
		}
		slog.Info("dataset exported", "id", id, "path", out, "bytes", len(ds.Data))
		return nil
	}
	_, err = c.App.Writer.Write(ds.Data)
	return err
}

func datasetListCommand(c *cli.Context) error {
	ctx, v, cleanup, err := openVault(c)
	if err != nil {
		return err
	}
	defer cleanup()

	items, err := v.Datasets().List(ctx, datavault.ListOptions{Limit: c.Int("limit")})
	if err != nil {
		return fmt.Errorf("failed to list datasets: %w", err)
	}
	tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tROWS\tCOLUMNS\tSTORAGE\tTRAINED\tCREATED")
	for _, ds := range items {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%d\t%s\n",
			ds.ID, ds.Name, ds.RowCount, ds.ColumnCount, ds.StorageType, ds.TrainingCount,
			ds.CreatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func datasetRemoveCommand(c *cli.Context) error {
	id := c.Args().First()
	if id == "" {
		return fmt.Errorf("dataset id is required")
	}
	ctx, v, cleanup, err := openVault(c)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := v.Datasets().Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete dataset %s: %w", id, err)
	}
	fmt.Fprintf(c.App.Writer, "Deleted %s\n", id)
	return nil
}

func sweepCommand(c *cli.Context) error {
	if grace := c.Duration("grace"); grace >= 0 {
		cfg, ok := c.App.Metadata[configKey].(*config.Config)
		if !ok {
			return fmt.Errorf("configuration not loaded")
		}
		cfg.Sweep.GracePeriod = grace
	}
	ctx, v, cleanup, err := openVault(c)
	if err != nil {
		return err
	}
	defer cleanup()

	result, err := v.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "Swept %s: %d blobs, %d workspaces, %d training runs, %d feedback (%d skipped)\n",
		result.Backend, result.Blobs, result.Workspaces, result.Training, result.Feedback, result.Skipped)
	return nil
}
