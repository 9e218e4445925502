package commands

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/querydeck-io/querydeck/internal/node"
	"github.com/querydeck-io/querydeck/internal/state"
)

// NewNodesCommand creates the nodes command.
func NewNodesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "nodes",
		Short: "Manage query nodes",
		Long: `List and manage query nodes.

A node is a named SQL query. Nodes without a connection run on the
local analytic engine; nodes with a connection run against that remote
backend and their results are materialized locally.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runNodesList(cmd)
		},
	}

	cmd.AddCommand(newNodesAddCommand())
	cmd.AddCommand(newNodesShowCommand())
	cmd.AddCommand(newNodesSetSQLCommand())
	cmd.AddCommand(newNodesRemoveCommand())

	return cmd
}

func runNodesList(cmd *cobra.Command) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	nodes := cmdCtx.Nodes.List()
	if len(nodes) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No nodes defined (use 'querydeck nodes add')")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"ID", "Name", "Table", "Connection", "Materialized"})

	for _, n := range nodes {
		conn := n.ConnectionRef
		if conn == "" {
			conn = "(local)"
		}
		mat := ""
		if tbl, ok := cmdCtx.Catalog.Get(n.TableName()); ok {
			mat = fmt.Sprintf("%d rows", tbl.RowCount)
		}
		t.AppendRow(table.Row{n.ID, n.Name, n.TableName(), conn, mat})
	}
	t.Render()
	return nil
}

func newNodesAddCommand() *cobra.Command {
	var sqlText, sqlFile, connection string

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a node",
		Example: `  querydeck nodes add daily_totals --sql "SELECT day, SUM(amount) FROM orders GROUP BY day"
  querydeck nodes add events --connection warehouse --file events.sql`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			query := sqlText
			if sqlFile != "" {
				content, err := os.ReadFile(sqlFile)
				if err != nil {
					return fmt.Errorf("failed to read file: %w", err)
				}
				query = string(content)
			}
			if query == "" && !isTerminal(os.Stdin) {
				content, err := io.ReadAll(os.Stdin)
				if err != nil {
					return fmt.Errorf("failed to read stdin: %w", err)
				}
				query = string(content)
			}
			query = strings.TrimSpace(query)
			if query == "" {
				return fmt.Errorf("no query text given (use --sql, --file, or pipe via stdin)")
			}

			rec := &state.NodeRecord{
				Name:          args[0],
				QueryText:     query,
				ConnectionRef: connection,
			}
			id, err := cmdCtx.Store.SaveNode(rec)
			if err != nil {
				return err
			}
			cmdCtx.Nodes.Add(&node.Node{
				ID:            id,
				Name:          rec.Name,
				QueryText:     rec.QueryText,
				ConnectionRef: rec.ConnectionRef,
			})

			fmt.Fprintf(cmd.OutOrStdout(), "Added node %s (id %d)\n", rec.Name, id)
			return nil
		},
	}

	cmd.Flags().StringVar(&sqlText, "sql", "", "Query text")
	cmd.Flags().StringVar(&sqlFile, "file", "", "Read query text from file")
	cmd.Flags().StringVarP(&connection, "connection", "c", "", "Connection name (empty for local)")

	return cmd
}

func newNodesShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <node>",
		Short: "Show a node's definition and fetch state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			n, err := cmdCtx.resolveNode(args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Node:       %s (id %d)\n", n.Name, n.ID)
			fmt.Fprintf(out, "Table:      %s\n", n.TableName())
			if n.ConnectionRef != "" {
				fmt.Fprintf(out, "Connection: %s\n", n.ConnectionRef)
			} else {
				fmt.Fprintln(out, "Connection: (local)")
			}

			if tbl, ok := cmdCtx.Catalog.Get(n.TableName()); ok {
				fmt.Fprintf(out, "Rows:       %d\n", tbl.RowCount)
				fmt.Fprintf(out, "Columns:    %s\n", strings.Join(tbl.Columns.Names(), ", "))
			}
			if st, ok := cmdCtx.Deck.GetFetchState(n.ID); ok {
				total := "?"
				if st.TotalRows != nil {
					total = fmt.Sprintf("%d", *st.TotalRows)
				}
				fmt.Fprintf(out, "Fetched:    %d/%s (more: %v)\n", st.FetchedRows, total, st.HasMoreRows)
			}

			fmt.Fprintf(out, "\n%s\n", n.QueryText)
			return nil
		},
	}
}

func newNodesSetSQLCommand() *cobra.Command {
	var sqlText, sqlFile string

	cmd := &cobra.Command{
		Use:   "set-sql <node>",
		Short: "Replace a node's query text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			n, err := cmdCtx.resolveNode(args[0])
			if err != nil {
				return err
			}

			query := sqlText
			if sqlFile != "" {
				content, err := os.ReadFile(sqlFile)
				if err != nil {
					return fmt.Errorf("failed to read file: %w", err)
				}
				query = string(content)
			}
			query = strings.TrimSpace(query)
			if query == "" {
				return fmt.Errorf("no query text given (use --sql or --file)")
			}

			if err := cmdCtx.Store.UpdateNodeQuery(n.ID, query); err != nil {
				return err
			}
			_ = cmdCtx.Nodes.SetQueryText(n.ID, query)

			// The dependency set may have changed with the query.
			deps, err := cmdCtx.Deck.GetDependencies(n.ID)
			if err == nil {
				_ = cmdCtx.Nodes.SetDependencies(n.ID, deps)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Updated %s\n", n.Name)
			return nil
		},
	}

	cmd.Flags().StringVar(&sqlText, "sql", "", "Query text")
	cmd.Flags().StringVar(&sqlFile, "file", "", "Read query text from file")

	return cmd
}

func newNodesRemoveCommand() *cobra.Command {
	var dropTable bool

	cmd := &cobra.Command{
		Use:     "rm <node>",
		Aliases: []string{"remove"},
		Short:   "Remove a node",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			n, err := cmdCtx.resolveNode(args[0])
			if err != nil {
				return err
			}

			if err := cmdCtx.Store.DeleteNode(n.ID); err != nil {
				return err
			}
			_ = cmdCtx.Store.DeleteFetchState(n.ID)
			cmdCtx.States.Delete(n.ID)
			cmdCtx.Nodes.Remove(n.ID)

			if dropTable {
				if err := cmdCtx.Local.DropTable(cmd.Context(), n.TableName()); err != nil {
					return err
				}
				cmdCtx.Catalog.Remove(n.TableName())
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", n.Name)
			return nil
		},
	}

	cmd.Flags().BoolVar(&dropTable, "drop-table", false, "Also drop the node's materialized table")

	return cmd
}
