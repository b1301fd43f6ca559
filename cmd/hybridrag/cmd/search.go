package cmd

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ThreatFlux/hybridrag/internal/retrieval"
)

// newSearchCmd creates the search command.
func newSearchCmd() *cobra.Command {
	var topK int
	var rerank bool
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Run a hybrid query against the built indexes",
		Long: `Search the corpus with BM25 and graph retrieval fused into one ranked
list. Vector search needs a query embedding and is only reachable
through the MCP retrieve tool.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")

			e, err := openEngine()
			if err != nil {
				return err
			}
			defer e.close()

			coord, err := e.coordinator(cmd)
			if err != nil {
				return err
			}

			results, err := coord.Retrieve(cmd.Context(), query, nil, retrieval.RetrieveOptions{
				TopK:   topK,
				Rerank: rerank,
			})
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(results)
			}

			if len(results) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No results.")
				return nil
			}
			for i, r := range results {
				fmt.Fprintf(cmd.OutOrStdout(), "%2d. [%.4f] %s (%s)\n    %s\n",
					i+1, r.Score, r.ID, sourceList(r.Sources), snippet(r.Content))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&topK, "limit", "n", 10, "Maximum number of results")
	cmd.Flags().BoolVar(&rerank, "rerank", false, "Rerank fused candidates")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output results as JSON")
	return cmd
}

// sourceList renders the contributing sources as "lexical+vector".
func sourceList(sources map[string]float64) string {
	names := make([]string, 0, len(sources))
	for name := range sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, "+")
}

// snippet truncates content to a single display line.
func snippet(content string) string {
	line := strings.Join(strings.Fields(content), " ")
	if len(line) > 120 {
		return line[:117] + "..."
	}
	return line
}
