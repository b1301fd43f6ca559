package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// newStatusCmd creates the status command.
func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show corpus counts, component toggles, and index sizes",
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
			status, err := coord.CurrentStatus(cmd.Context())
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(status)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Documents:     %d\n", status.Documents)
			fmt.Fprintf(out, "Chunks:        %d\n", status.Chunks)
			fmt.Fprintf(out, "Lexical:       %s (%d documents)\n", onOff(status.LexicalEnabled), status.LexicalSize)
			fmt.Fprintf(out, "Vector:        %s (%d vectors)\n", onOff(status.VectorEnabled), status.VectorSize)
			fmt.Fprintf(out, "Graph:         %s (%s backend, %d nodes, %d edges)\n",
				onOff(status.GraphEnabled), status.GraphBackend,
				status.GraphNodeCount, status.GraphEdgeCount)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output status as JSON")
	return cmd
}

func onOff(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}
