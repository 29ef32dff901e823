package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/sqllineage/internal/server"
)

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the lineage pipeline over HTTP",
		Long: `Start the HTTP API. Scripts are posted as {"sql": "..."} or as a plain
body to /v1/decompose, /v1/fields, /v1/operations, /v1/lineage and /v1/graph.
/v1/compose builds an event from stage outputs produced elsewhere.

With --persist every lineage and graph request is archived and can be read
back from /v1/runs.`,
		Example: `  # Serve on the default address
  sqllineage serve

  # Serve on localhost:9000 and archive runs
  sqllineage serve --addr 127.0.0.1:9000 --persist`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd)
		},
	}

	cmd.Flags().String("addr", "", "Listen address (default :8080)")
	cmd.Flags().Bool("persist", false, "Archive runs in the run store")

	return cmd
}

func runServe(cmd *cobra.Command) error {
	cmdCtx := NewCommandContext(cmd)

	cfg := server.Config{
		Pipeline: cmdCtx.Pipeline,
		Addr:     cmdCtx.Cfg.Server.Addr,
		Logger:   cmdCtx.Logger,
	}
	if cmdCtx.Cfg.Persist {
		store, err := cmdCtx.OpenStore()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
		cfg.Store = store
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmdCtx.Renderer.Success("Serving lineage API on " + cfg.Addr)
	return server.New(cfg).Serve(ctx)
}
