package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ThreatFlux/hybridrag/internal/async"
	"github.com/ThreatFlux/hybridrag/internal/retrieval"
)

// newIndexCmd creates the index command group.
func newIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Manage the retrieval indexes",
	}
	cmd.AddCommand(newIndexBuildCmd())
	cmd.AddCommand(newIndexClearCmd())
	return cmd
}

// newIndexBuildCmd creates the index build command.
func newIndexBuildCmd() *cobra.Command {
	var rebuild bool

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build every enabled index from the stored chunk corpus",
		Long: `Build the BM25, vector, and graph indexes from the chunks in the
database. Without --rebuild only missing chunks are added. The build is
bounded by the configured timeout; partial progress is kept on timeout.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEngine()
			if err != nil {
				return err
			}
			defer e.close()

			coord, err := e.coordinator(cmd)
			if err != nil {
				return err
			}

			err = e.builder.Start(cmd.Context(), func(ctx context.Context, p *async.Progress) (retrieval.BuildSummary, error) {
				summary, buildErr := coord.BuildIndexes(ctx, retrieval.BuildOptions{Rebuild: rebuild})
				p.Advance(summary.ChunksTotal)
				return summary, buildErr
			})
			if err != nil {
				return err
			}

			summary, err := e.builder.Wait()
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(),
				"Indexed %d chunks in %s (lexical %d, vector %d, graph %d nodes / %d edges)\n",
				summary.ChunksTotal, summary.Duration.Round(time.Millisecond),
				summary.LexicalIndexed, summary.VectorIndexed,
				summary.GraphNodes, summary.GraphEdges)
			return nil
		},
	}

	cmd.Flags().BoolVar(&rebuild, "rebuild", false, "Clear existing indexes before ingesting")
	return cmd
}

// newIndexClearCmd creates the index clear command.
func newIndexClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete all in-memory and on-disk index state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEngine()
			if err != nil {
				return err
			}
			defer e.close()

			if err := e.registry.ClearAll(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Indexes cleared.")
			return nil
		},
	}
}
