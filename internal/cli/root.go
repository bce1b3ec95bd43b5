// Package cli implements the lightci command-line tool. Commands drive an
// embedded engine against a local database, so no server is required.
package cli

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/me/lightci/internal/broadcast"
	"github.com/me/lightci/internal/config"
	"github.com/me/lightci/internal/engine"
	"github.com/me/lightci/internal/executor"
	"github.com/me/lightci/internal/logging"
	"github.com/me/lightci/internal/parser"
	"github.com/me/lightci/internal/store"
	"github.com/me/lightci/internal/workspace"
)

// DefaultConfigPath is where pipeline definitions are looked up.
const DefaultConfigPath = "./lightci.yml"

var (
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string
	flagDBPath    string

	logger *slog.Logger
)

// defaultDBPath returns the CLI database path, honouring LIGHTCI_DB.
func defaultDBPath() string {
	if p := os.Getenv("LIGHTCI_DB"); p != "" {
		return p
	}
	return filepath.Join(config.DataDir(), "lightci.db")
}

// NewRootCmd creates the root cobra command for the lightci CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "lightci",
		Short: "LightCI — lightweight CI/CD pipelines",
		Long:  "LightCI validates and executes pipeline definitions: DAGs of shell steps with dependency ordering.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flagDebug {
				flagLogLevel = "debug"
			}
			logger = logging.NewLogger(logging.ParseLevel(flagLogLevel), flagLogFormat)
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")
	root.PersistentFlags().StringVar(&flagDBPath, "db", defaultDBPath(), "Database path (or LIGHTCI_DB env)")

	root.AddCommand(
		newInitCmd(),
		newValidateCmd(),
		newRunCmd(),
		newStatusCmd(),
		newLogsCmd(),
	)

	return root
}

// app bundles the embedded engine and its resources.
type app struct {
	engine *engine.Engine
	parser *parser.Parser
}

// openApp assembles the embedded engine: SQLite store, local executor, and
// workspace manager rooted under the data directory.
func openApp(ctx context.Context) (*app, func(), error) {
	dbPath := flagDBPath
	if dir := filepath.Dir(dbPath); dir != "." && dbPath != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, err
		}
	}

	st, err := store.NewSQLiteStore(dbPath, logger)
	if err != nil {
		return nil, nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, nil, err
	}

	workspaceRoot := filepath.Join(config.DataDir(), "workspaces")
	manager, err := workspace.NewManager(workspaceRoot, logger)
	if err != nil {
		st.Close()
		return nil, nil, err
	}

	broker := broadcast.NewBroker(0, logger)
	eng := engine.New(st,
		executor.NewLocalExecutor(workspaceRoot, logger),
		broker, logger,
		engine.WithWorkspaceManager(manager),
		engine.WithGitHelper(workspace.NewGitHelper(workspace.GitConfig{Depth: 1}, logger)),
	)

	cleanup := func() {
		broker.Close()
		st.Close()
	}
	return &app{engine: eng, parser: parser.New(logger)}, cleanup, nil
}
