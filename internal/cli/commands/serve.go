package commands

import (
	"fmt"

	"github.com/leapstack-labs/leaplint/internal/server"
	"github.com/leapstack-labs/leaplint/internal/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

// ServeOptions holds options for the serve command.
type ServeOptions struct {
	Addr  string
	Watch string
}

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	opts := &ServeOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a lint session over HTTP",
		Long: `Start a long-lived lint session and expose it as a JSON API.

Endpoints:
  GET    /api/state               Session snapshot
  GET    /api/rules               Rules with their flags
  PUT    /api/rules/{id}          Set a rule flag ({"enabled": true})
  POST   /api/rules/{id}/toggle   Flip a rule flag
  PUT    /api/source              Replace the style sheet (?wait=true for results)
  GET    /api/diagnostics         Diagnostics of the last run
  GET    /api/custom-rules        Stored custom rules
  POST   /api/custom-rules        Add a custom rule ({"name": ..., "source": ...})
  DELETE /api/custom-rules/{name} Remove a custom rule
  POST   /api/reload              Start a fresh session
  GET    /api/events              Server-sent state updates
  GET    /metrics                 Prometheus metrics
  GET    /healthz                 Liveness`,
		Example: `  # Serve on the default address
  leaplint serve

  # Lint site.css whenever it changes
  leaplint serve --addr :9000 --watch site.css`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.Addr, "addr", "", "Listen address (default from server.addr)")
	cmd.Flags().StringVar(&opts.Watch, "watch", "", "Style sheet to lint on every change")
	return cmd
}

func runServe(cmd *cobra.Command, opts *ServeOptions) error {
	cmdCtx := NewCommandContext(cmd)
	cfg := cmdCtx.Cfg

	addr := cfg.Server.Addr
	if opts.Addr != "" {
		addr = opts.Addr
	}
	watch := cfg.Server.Watch
	if opts.Watch != "" {
		watch = opts.Watch
	}

	rt, err := NewRuntime(cfg, cmdCtx.Logger)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rt.Registerer = reg

	srv, err := server.New(server.Config{
		Addr: addr,
		Factory: func(source string) (*session.Session, error) {
			return rt.NewSession(source)
		},
		WatchPath: watch,
		Gatherer:  reg,
		Logger:    cmdCtx.Logger,
	})
	if err != nil {
		return err
	}

	cmdCtx.Renderer.Errorf("%s\n", cmdCtx.Renderer.Success(fmt.Sprintf("Serving lint session on http://%s", addr)))
	return srv.Serve(cmd.Context())
}
