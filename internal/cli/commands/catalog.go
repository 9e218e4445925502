package commands

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

// NewCatalogCommand creates the catalog command.
func NewCatalogCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Show materialized tables",
		Long: `List the tables materialized in the local analytic database,
with their owning nodes and row counts.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCatalogList(cmd)
		},
	}

	cmd.AddCommand(newCatalogShowCommand())

	return cmd
}

func runCatalogList(cmd *cobra.Command) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	tables := cmdCtx.Catalog.Tables()
	if len(tables) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No materialized tables (run a node first)")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Table", "Rows", "Columns", "Owner Node", "Updated"})

	for _, tbl := range tables {
		owner := ""
		if n, ok := cmdCtx.Nodes.Get(tbl.OwnerNodeID); ok {
			owner = n.Name
		}
		t.AppendRow(table.Row{tbl.Name, tbl.RowCount, len(tbl.Columns), owner, tbl.LastUpdated.Format("2006-01-02 15:04:05")})
	}
	t.Render()
	fmt.Fprintf(cmd.OutOrStdout(), "Catalog version: %d\n", cmdCtx.Catalog.Version())
	return nil
}

func newCatalogShowCommand() *cobra.Command {
	var limit, offset int
	var format string

	cmd := &cobra.Command{
		Use:   "show <table>",
		Short: "Show a table's schema and a page of its rows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			name := args[0]
			schema, err := cmdCtx.Local.GetTableSchema(cmd.Context(), name)
			if err != nil {
				return fmt.Errorf("table %s: %w", name, err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Table: %s\n", name)
			st := table.NewWriter()
			st.SetOutputMirror(out)
			st.SetStyle(table.StyleLight)
			st.AppendHeader(table.Row{"Column", "Type"})
			for _, col := range schema {
				st.AppendRow(table.Row{col.Name, col.Type})
			}
			st.Render()

			res, err := cmdCtx.Local.ReadPage(cmd.Context(), name, offset, limit)
			if err != nil {
				return err
			}
			fmt.Fprintln(out)
			return renderResult(out, res, format)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Rows to display")
	cmd.Flags().IntVar(&offset, "offset", 0, "Row offset")
	cmd.Flags().StringVarP(&format, "format", "f", "table", "Output format: table, json, csv")

	return cmd
}
