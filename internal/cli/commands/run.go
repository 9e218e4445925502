package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/querydeck-io/querydeck/internal/engine"
)

// RunOptions holds options for the run command.
type RunOptions struct {
	All  bool
	SQL  string
	Jobs int
}

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	opts := &RunOptions{}

	cmd := &cobra.Command{
		Use:   "run [node...]",
		Short: "Execute nodes and materialize their results",
		Long: `Execute one or more nodes. Producers whose tables are missing are
run first, recursively. Remote paginated backends fetch the first page;
use 'querydeck fetch' to pull further pages.`,
		Example: `  # Run a node by name
  querydeck run daily_totals

  # Run several nodes
  querydeck run daily_totals weekly_rollup

  # Run everything
  querydeck run --all

  # Run a node with a one-off query override
  querydeck run daily_totals --sql "SELECT * FROM orders LIMIT 10"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, args, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.All, "all", false, "Run all nodes")
	cmd.Flags().StringVar(&opts.SQL, "sql", "", "One-off query text override (single node only)")
	cmd.Flags().IntVarP(&opts.Jobs, "jobs", "j", 4, "Concurrent node runs with --all")

	return cmd
}

func runRun(cmd *cobra.Command, args []string, opts *RunOptions) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	if opts.All {
		if opts.SQL != "" {
			return fmt.Errorf("--sql cannot be combined with --all")
		}
		return runAll(cmd, cmdCtx, opts.Jobs)
	}

	if len(args) == 0 {
		return fmt.Errorf("no nodes given (use --all to run everything)")
	}
	if opts.SQL != "" && len(args) > 1 {
		return fmt.Errorf("--sql applies to a single node")
	}

	start := time.Now()
	for _, arg := range args {
		n, err := cmdCtx.resolveNode(arg)
		if err != nil {
			return err
		}

		var sum *engine.Summary
		if opts.SQL != "" {
			sum, err = cmdCtx.Deck.RunQuery(cmd.Context(), n.ID, opts.SQL)
		} else {
			sum, err = cmdCtx.Deck.Run(cmd.Context(), n.ID)
		}
		if err != nil {
			return fmt.Errorf("run %s: %w", n.Name, err)
		}
		printSummary(cmd, n.Name, sum)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Completed in %s\n", time.Since(start).Round(time.Millisecond))
	return nil
}

// runAll runs every node concurrently. The coordinator serializes shared
// producers through the catalog, so overlap only costs duplicate checks.
func runAll(cmd *cobra.Command, cmdCtx *CommandContext, jobs int) error {
	nodes := cmdCtx.Nodes.List()
	if len(nodes) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No nodes defined")
		return nil
	}

	start := time.Now()
	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(jobs)

	for _, n := range nodes {
		g.Go(func() error {
			sum, err := cmdCtx.Deck.Run(ctx, n.ID)
			if err != nil {
				return fmt.Errorf("run %s: %w", n.Name, err)
			}
			printSummary(cmd, n.Name, sum)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Completed %d nodes in %s\n", len(nodes), time.Since(start).Round(time.Millisecond))
	return nil
}

func printSummary(cmd *cobra.Command, name string, sum *engine.Summary) {
	out := cmd.OutOrStdout()
	if sum.HasMore {
		total := "?"
		if sum.TotalRows != nil {
			total = fmt.Sprintf("%d", *sum.TotalRows)
		}
		fmt.Fprintf(out, "%s -> %s: %d/%s rows [%s, more available] (%s)\n",
			name, sum.TableName, sum.RowCount, total, sum.Backend, sum.Elapsed.Round(time.Millisecond))
	} else {
		fmt.Fprintf(out, "%s -> %s: %d rows [%s] (%s)\n",
			name, sum.TableName, sum.RowCount, sum.Backend, sum.Elapsed.Round(time.Millisecond))
	}
	if sum.Stats.BytesProcessed > 0 {
		fmt.Fprintf(out, "  processed %d bytes, cache hit: %v\n", sum.Stats.BytesProcessed, sum.Stats.CacheHit)
	}
}
