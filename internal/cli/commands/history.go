package commands

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

// NewHistoryCommand creates the history command.
func NewHistoryCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [node]",
		Short: "Show execution history",
		Long: `Display past node executions and fetches, most recent first.
With a node argument, shows history for that node only.`,
		Example: `  # Show recent executions across all nodes
  querydeck history

  # Show history for one node
  querydeck history daily_totals

  # Show more entries
  querydeck history --limit 100`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			var nodeID int64
			if len(args) > 0 {
				n, err := cmdCtx.resolveNode(args[0])
				if err != nil {
					return err
				}
				nodeID = n.ID
			}

			execs, err := cmdCtx.Store.ListExecutions(nodeID, limit)
			if err != nil {
				return fmt.Errorf("failed to list executions: %w", err)
			}

			if len(execs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No executions recorded.")
				return nil
			}

			nodeNames := make(map[int64]string)
			for _, n := range cmdCtx.Nodes.List() {
				nodeNames[n.ID] = n.Name
			}

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"When", "Node", "Operation", "Backend", "Status", "Rows", "Elapsed"})

			for _, e := range execs {
				name := nodeNames[e.NodeID]
				if name == "" {
					name = fmt.Sprintf("#%d", e.NodeID)
				}
				status := e.Status
				if e.Error != "" {
					status = fmt.Sprintf("%s: %s", e.Status, truncate(e.Error, 40))
				}
				t.AppendRow(table.Row{
					e.StartedAt.Local().Format("2006-01-02 15:04:05"),
					name,
					e.Operation,
					e.Backend,
					status,
					e.Rows,
					(time.Duration(e.ElapsedMs) * time.Millisecond).String(),
				})
			}
			t.Render()
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of entries to show")

	return cmd
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
