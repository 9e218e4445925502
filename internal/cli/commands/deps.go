package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// NewDepsCommand creates the deps command.
func NewDepsCommand() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "deps [node]",
		Short: "Show node dependencies",
		Long: `Display the derived dependency graph.

Dependencies are derived from each node's query text: references to
tables owned by other nodes become edges. Remote-only queries have no
dependencies. Without an argument, the whole graph is shown.`,
		Example: `  # Show all dependencies
  querydeck deps

  # Show one node's producers
  querydeck deps daily_totals

  # JSON for tooling
  querydeck deps --format json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeps(cmd, args, format)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text, json")

	return cmd
}

type depsEntry struct {
	Node      string   `json:"node"`
	Table     string   `json:"table"`
	DependsOn []string `json:"depends_on"`
}

func runDeps(cmd *cobra.Command, args []string, format string) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	nodes := cmdCtx.Nodes.List()
	if len(args) == 1 {
		n, err := cmdCtx.resolveNode(args[0])
		if err != nil {
			return err
		}
		nodes = nodes[:0]
		nodes = append(nodes, n)
	}

	var entries []depsEntry
	edges := 0
	for _, n := range nodes {
		depIDs, err := cmdCtx.Deck.GetDependencies(n.ID)
		if err != nil {
			return err
		}
		var depNames []string
		for _, id := range depIDs {
			if dep, ok := cmdCtx.Nodes.Get(id); ok {
				depNames = append(depNames, dep.Name)
			}
		}
		edges += len(depNames)
		entries = append(entries, depsEntry{Node: n.Name, Table: n.TableName(), DependsOn: depNames})
	}

	if format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	out := cmd.OutOrStdout()
	for _, e := range entries {
		fmt.Fprintf(out, "%s (%s)\n", e.Node, e.Table)
		for _, dep := range e.DependsOn {
			fmt.Fprintf(out, "  <- %s\n", dep)
		}
	}
	fmt.Fprintf(out, "\nTotal: %d nodes, %d dependencies\n", len(entries), edges)
	return nil
}
