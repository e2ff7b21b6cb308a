// Package cli implements the tablesync operator commands on top of
// core.Service.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/tablesync/internal/config"
	"github.com/JonMunkholm/tablesync/internal/core"
	"github.com/JonMunkholm/tablesync/internal/database"
	"github.com/JonMunkholm/tablesync/internal/logging"
	"github.com/JonMunkholm/tablesync/internal/snapshot"
)

// Version is stamped at build time with -ldflags.
var Version = "dev"

// Connector builds the service a command runs against. The returned func
// releases its resources.
type Connector func(ctx context.Context) (*core.Service, func(), error)

type app struct {
	connect Connector
}

// NewRootCmd assembles the command tree. connect is called once per command
// that touches the database.
func NewRootCmd(connect Connector) *cobra.Command {
	a := &app{connect: connect}

	root := &cobra.Command{
		Use:   "tablesync",
		Short: "Import and export PostgreSQL tables as CSV",
		Long: `
tablesync moves data between CSV files and the tables of one PostgreSQL
schema. Imports upsert by primary key inside a single transaction per table.

Examples:
  tablesync tables
  tablesync export --table customers -o customers.csv
  tablesync export --all -o tables.zip
  tablesync import --table customers customers.csv
  tablesync import --archive tables.zip
  tablesync snapshot`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		a.tablesCmd(),
		a.exportCmd(),
		a.templateCmd(),
		a.importCmd(),
		a.snapshotCmd(),
	)
	return root
}

// Execute runs the CLI against the configured database and prints a
// failure in red.
func Execute(ctx context.Context) error {
	root := NewRootCmd(Connect)
	err := root.ExecuteContext(ctx)
	if err != nil {
		color.New(color.FgRed, color.Bold).Fprintf(os.Stderr, "✗ %s\n", err)
	}
	return err
}

// Connect loads .env and the environment, then opens the pool and builds
// the service the same way the server does.
func Connect(ctx context.Context) (*core.Service, func(), error) {
	_ = godotenv.Overload()

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load configuration: %w", err)
	}
	// Logs go to stderr so exported CSV on stdout stays clean.
	logging.SetupTo(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)

	pool, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return nil, nil, err
	}

	store, err := snapshot.New(ctx, cfg.Snapshot)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("snapshot store: %w", err)
	}

	service, err := core.NewService(pool, cfg, store)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return service, pool.Close, nil
}

// withService connects, tags the context as a CLI caller and runs fn.
func (a *app) withService(cmd *cobra.Command, fn func(ctx context.Context, svc *core.Service) error) error {
	ctx := core.ContextWithOrigin(cmd.Context(), core.Origin{
		UserAgent: "tablesync/" + Version,
		Source:    "cli",
	})

	svc, release, err := a.connect(ctx)
	if err != nil {
		return err
	}
	defer release()

	return fn(ctx, svc)
}
