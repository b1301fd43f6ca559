package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ThreatFlux/hybridrag/internal/mcp"
)

// newServeCmd creates the serve command.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server on stdio",
		Long: `Start the MCP server. The server speaks JSON-RPC on stdio, so stdout
is reserved for the protocol; all diagnostics go to the log file.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEngine()
			if err != nil {
				return err
			}
			defer e.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := e.registry.Initialize(ctx); err != nil {
				return err
			}

			server, err := mcp.NewServer(e.cfg, e.db, e.registry, e.builder, e.logger)
			if err != nil {
				return err
			}
			return server.Serve(ctx, e.cfg.Server.Transport)
		},
	}
}
