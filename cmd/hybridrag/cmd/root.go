// Package cmd provides the CLI commands for HybridRAG.
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ThreatFlux/hybridrag/internal/async"
	"github.com/ThreatFlux/hybridrag/internal/config"
	"github.com/ThreatFlux/hybridrag/internal/logging"
	"github.com/ThreatFlux/hybridrag/internal/registry"
	"github.com/ThreatFlux/hybridrag/internal/retrieval"
	"github.com/ThreatFlux/hybridrag/internal/store"
	"github.com/ThreatFlux/hybridrag/pkg/version"
)

var (
	flagDataDir  string
	flagLogLevel string
)

// NewRootCmd creates the root command for the hybridrag CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hybridrag",
		Short: "Hybrid retrieval engine with an MCP serving surface",
		Long: `HybridRAG fuses BM25, vector, and knowledge-graph retrieval over a
local chunk corpus and serves it to MCP clients over stdio.

Run 'hybridrag serve' to start the server, or 'hybridrag index build'
after loading a corpus.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("hybridrag version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "Data directory (default: ~/.hybridrag)")
	cmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn, error")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// engine bundles the components a command needs, plus their teardown.
type engine struct {
	cfg      *config.Config
	db       *store.DocumentStore
	registry *registry.Registry
	builder  *async.Builder
	logger   *slog.Logger

	logCleanup func()
}

// openEngine loads configuration, sets up logging, and opens the
// document store. MCP stdio mode owns stdout, so logs go to a file
// under the data dir (and stderr).
func openEngine() (*engine, error) {
	cfg, err := config.Load(".")
	if err != nil {
		return nil, err
	}
	if flagDataDir != "" {
		cfg.Paths.DataDir = flagDataDir
	}
	if flagLogLevel != "" {
		cfg.Server.LogLevel = flagLogLevel
	}

	logCfg := logging.DefaultConfig(cfg.Paths.DataDir)
	logCfg.Level = cfg.Server.LogLevel
	logger, logCleanup, err := logging.Setup(logCfg)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	db, err := store.OpenDocumentStore(cfg.DatabasePath(), logger)
	if err != nil {
		logCleanup()
		return nil, err
	}

	return &engine{
		cfg:      cfg,
		db:       db,
		registry: registry.New(cfg, db, logger),
		builder: async.NewBuilder(async.BuilderConfig{
			DataDir: cfg.Paths.DataDir,
			Timeout: cfg.Index.BuildTimeout,
			Logger:  logger,
		}),
		logger:     logger,
		logCleanup: logCleanup,
	}, nil
}

// close persists index state and releases resources.
func (e *engine) close() {
	if err := e.registry.Close(); err != nil {
		e.logger.Warn("registry_close_failed", slog.String("error", err.Error()))
	}
	if err := e.db.Close(); err != nil {
		e.logger.Warn("database_close_failed", slog.String("error", err.Error()))
	}
	e.logCleanup()
}

// coordinator assembles a coordinator over the registry's components
// with every source requested; global toggles still apply.
func (e *engine) coordinator(cmd *cobra.Command) (*retrieval.Coordinator, error) {
	ctx := cmd.Context()

	lexical, err := e.registry.Lexical(ctx)
	if err != nil {
		return nil, err
	}
	vector, err := e.registry.Vector(ctx)
	if err != nil {
		return nil, err
	}
	g, err := e.registry.Graph(ctx)
	if err != nil {
		return nil, err
	}

	return retrieval.New(retrieval.Deps{
		Lexical:  lexical,
		Vector:   vector,
		Graph:    g,
		DB:       e.db,
		Reranker: retrieval.NewTermOverlapReranker(),
		Weights: retrieval.Weights{
			Lexical: e.cfg.Retrieval.LexicalWeight,
			Vector:  e.cfg.Retrieval.VectorWeight,
			Graph:   e.cfg.Retrieval.GraphWeight,
		},
		BatchSize: e.cfg.Index.BatchSize,
		Logger:    e.logger,
	}, retrieval.EnableAll()), nil
}
