package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// FetchOptions holds options for the fetch command.
type FetchOptions struct {
	All bool
}

// NewFetchCommand creates the fetch command.
func NewFetchCommand() *cobra.Command {
	opts := &FetchOptions{}

	cmd := &cobra.Command{
		Use:   "fetch <node>",
		Short: "Fetch the next page of a node's remote result",
		Long: `Fetch more rows for a node whose remote result was materialized
page by page, appending them to the node's local table.`,
		Example: `  # Fetch one more page
  querydeck fetch events

  # Drain all remaining pages
  querydeck fetch events --all`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(cmd, args[0], opts)
		},
	}

	cmd.Flags().BoolVar(&opts.All, "all", false, "Fetch all remaining pages")

	return cmd
}

func runFetch(cmd *cobra.Command, arg string, opts *FetchOptions) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	n, err := cmdCtx.resolveNode(arg)
	if err != nil {
		return err
	}

	st, ok := cmdCtx.Deck.GetFetchState(n.ID)
	if !ok || !st.HasMoreRows {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: nothing to fetch\n", n.Name)
		return nil
	}

	if opts.All {
		done, err := cmdCtx.Deck.FetchAll(cmd.Context(), n.ID)
		if err != nil {
			return fmt.Errorf("fetch %s: %w", n.Name, err)
		}
		if err := <-done; err != nil {
			return fmt.Errorf("fetch %s: %w", n.Name, err)
		}
	} else {
		res, err := cmdCtx.Deck.FetchMore(cmd.Context(), n.ID)
		if err != nil {
			return fmt.Errorf("fetch %s: %w", n.Name, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: appended %d rows\n", n.Name, res.AppendedRows)
	}

	printFetchState(cmd, cmdCtx, n.ID, n.Name)
	return nil
}

func printFetchState(cmd *cobra.Command, cmdCtx *CommandContext, nodeID int64, name string) {
	st, ok := cmdCtx.Deck.GetFetchState(nodeID)
	if !ok {
		return
	}
	total := "?"
	if st.TotalRows != nil {
		total = fmt.Sprintf("%d", *st.TotalRows)
	}
	status := "complete"
	if st.HasMoreRows {
		status = "more available"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d/%s rows fetched [%s]\n", name, st.FetchedRows, total, status)
}
