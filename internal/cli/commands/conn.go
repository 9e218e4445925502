package commands

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/querydeck-io/querydeck/internal/backend"
	"github.com/querydeck-io/querydeck/internal/state"
)

// NewConnCommand creates the conn command.
func NewConnCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conn",
		Short: "Manage named connections",
		Long: `List and manage named remote connections.

Connections added here are persisted in the state database; connections
in querydeck.yaml are also usable by name but are not listed as stored.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConnList(cmd)
		},
	}

	cmd.AddCommand(newConnAddCommand())
	cmd.AddCommand(newConnTestCommand())
	cmd.AddCommand(newConnRemoveCommand())

	return cmd
}

func runConnList(cmd *cobra.Command) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	conns, err := cmdCtx.Store.ListConnections()
	if err != nil {
		return err
	}

	names := make(map[string]bool, len(conns))
	for _, c := range conns {
		names[c.Name] = true
	}

	if len(conns) == 0 && len(cmdCtx.Cfg.Connections) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No connections defined (use 'querydeck conn add')")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Name", "Type", "Target", "Source"})

	for _, c := range conns {
		t.AppendRow(table.Row{c.Name, c.Type, connTarget(c.Host, c.Port, c.Database, c.BaseURL), "stored"})
	}
	for name, c := range cmdCtx.Cfg.Connections {
		if names[name] {
			continue
		}
		t.AppendRow(table.Row{name, c.Type, connTarget(c.Host, c.Port, c.Database, c.BaseURL), "config"})
	}
	t.Render()
	return nil
}

func connTarget(host string, port int, database, baseURL string) string {
	if baseURL != "" {
		return baseURL
	}
	parts := []string{}
	if host != "" {
		if port != 0 {
			parts = append(parts, fmt.Sprintf("%s:%d", host, port))
		} else {
			parts = append(parts, host)
		}
	}
	if database != "" {
		parts = append(parts, database)
	}
	return strings.Join(parts, "/")
}

func newConnAddCommand() *cobra.Command {
	conn := &state.Connection{}

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add or replace a named connection",
		Example: `  querydeck conn add analytics --type postgres --host db.internal --port 5432 --db analytics --user reader --password secret
  querydeck conn add warehouse --type warehouse --base-url https://wh.example.com --token $WH_TOKEN`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			conn.Name = args[0]
			if !backend.IsRegistered(strings.ToLower(conn.Type)) {
				return &backend.UnknownBackendError{Type: conn.Type, Available: backend.List()}
			}

			if err := cmdCtx.Store.SaveConnection(conn); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved connection %s\n", conn.Name)
			return nil
		},
	}

	cmd.Flags().StringVar(&conn.Type, "type", "", "Backend type (postgres, warehouse)")
	cmd.Flags().StringVar(&conn.Host, "host", "", "Host")
	cmd.Flags().IntVar(&conn.Port, "port", 0, "Port")
	cmd.Flags().StringVar(&conn.Database, "db", "", "Database name")
	cmd.Flags().StringVar(&conn.Username, "user", "", "Username")
	cmd.Flags().StringVar(&conn.Password, "password", "", "Password")
	cmd.Flags().StringVar(&conn.BaseURL, "base-url", "", "Warehouse base URL")
	cmd.Flags().StringVar(&conn.Token, "token", "", "Warehouse API token")
	_ = cmd.MarkFlagRequired("type")

	return cmd
}

func newConnTestCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "test <name>",
		Short: "Check that a connection is reachable",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			b, err := cmdCtx.Provider.Backend(args[0])
			if err != nil {
				return err
			}
			if err := b.Ping(cmd.Context()); err != nil {
				return fmt.Errorf("connection %s unreachable: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Connection %s OK (%s)\n", args[0], b.ID())
			return nil
		},
	}
}

func newConnRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "rm <name>",
		Aliases: []string{"remove"},
		Short:   "Remove a stored connection",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := cmdCtx.Store.DeleteConnection(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed connection %s\n", args[0])
			return nil
		},
	}
}
