package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/leapstack-labs/leaplint/internal/cli/config"
	"github.com/leapstack-labs/leaplint/internal/cli/output"
	"github.com/leapstack-labs/leaplint/internal/loader"
	"github.com/leapstack-labs/leaplint/internal/session"
	"github.com/leapstack-labs/leaplint/internal/starengine"
	starctx "github.com/leapstack-labs/leaplint/internal/starlark"
	"github.com/leapstack-labs/leaplint/internal/state"
	"github.com/leapstack-labs/leaplint/pkg/engine"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Renderer *output.Renderer
}

// NewCommandContext creates a CommandContext from the loaded configuration.
func NewCommandContext(cmd *cobra.Command) *CommandContext {
	cfg := getConfig()
	return &CommandContext{
		Cfg:      cfg,
		Logger:   config.GetLogger(cmd.Context()),
		Renderer: output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), output.Mode(cfg.OutputFormat)),
	}
}

// WithFormat overrides the renderer mode when format is set.
func (c *CommandContext) WithFormat(cmd *cobra.Command, format string) *CommandContext {
	if format != "" {
		c.Renderer = output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), output.Mode(format))
	}
	return c
}

// getConfig returns the current configuration, or the defaults when the
// command runs outside the root command.
func getConfig() *config.Config {
	if cfg := config.GetCurrentConfig(); cfg != nil {
		return cfg
	}
	return config.Default()
}

// Runtime owns what lint sessions are built from. The store outlives the
// sessions so `serve` can recreate a session without reopening it.
type Runtime struct {
	Cfg        *config.Config
	Logger     *slog.Logger
	Store      state.Port
	Registerer prometheus.Registerer

	closeStore func() error
}

// NewRuntime opens the configured custom rule store.
func NewRuntime(cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	store, closeStore, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	return &Runtime{
		Cfg:        cfg,
		Logger:     logger,
		Store:      store,
		closeStore: closeStore,
	}, nil
}

func openStore(cfg *config.Config) (state.Port, func() error, error) {
	noop := func() error { return nil }
	path := cfg.StorePath()

	switch cfg.Store.Kind {
	case config.StoreMemory:
		return state.NewMemoryStore(), noop, nil
	case config.StoreFile:
		return state.NewFileStore(path), noop, nil
	case config.StoreSQLite:
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, nil, fmt.Errorf("failed to create store directory: %w", err)
			}
		}
		s, err := state.OpenSQLite(path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open rule store: %w", err)
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store kind %q", cfg.Store.Kind)
	}
}

// Close releases the store.
func (rt *Runtime) Close() error {
	if rt.closeStore == nil {
		return nil
	}
	return rt.closeStore()
}

// Compiler returns the custom rule compiler.
func (rt *Runtime) Compiler() *starctx.Compiler {
	return starctx.NewCompiler(starctx.WithMaxSteps(rt.Cfg.Engine.MaxSteps))
}

// NewEngine builds a fresh reference engine in the configured mode, along
// with the installer its bundle is loaded through.
func (rt *Runtime) NewEngine() (engine.Adapter, loader.Installer) {
	eng := starengine.New(
		starengine.WithLogger(rt.Logger),
		starengine.WithMaxSteps(rt.Cfg.Engine.MaxSteps),
	)
	if rt.Cfg.Engine.Mode == config.EngineAsync {
		async := starengine.NewAsync(eng, starengine.WithLatency(rt.Cfg.Engine.Latency))
		return async, async.Install
	}
	return eng, eng.Install
}

// NewSession builds an unstarted session over a fresh engine.
func (rt *Runtime) NewSession(source string) (*session.Session, error) {
	adapter, install := rt.NewEngine()
	ld := loader.New(
		loader.WithFetcher(loader.DefaultFetcher(starengine.Bundles())),
		loader.WithInstaller(install),
		loader.WithLogger(rt.Logger),
	)
	return session.New(session.Config{
		Adapter:        adapter,
		Loader:         ld,
		BundleURL:      rt.Cfg.BundleURL,
		LoadTimeout:    rt.Cfg.LoadTimeout,
		Store:          rt.Store,
		Compiler:       rt.Compiler(),
		DefaultEnabled: rt.Cfg.Rules.DefaultEnabled(),
		CustomOptIn:    !rt.Cfg.Rules.CustomEnabled,
		Source:         source,
		Logger:         rt.Logger,
		Registerer:     rt.Registerer,
	})
}

// Start builds a session, runs it and waits for the engine to load.
// The returned stop function ends the session and waits for it.
func (rt *Runtime) Start(ctx context.Context, source string) (*session.Session, func(), error) {
	s, err := rt.NewSession(source)
	if err != nil {
		return nil, nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	go func() {
		if err := s.Run(runCtx); err != nil {
			rt.Logger.Error("session stopped", slog.String("error", err.Error()))
		}
	}()
	stop := func() {
		cancel()
		<-s.Done()
	}

	if err := s.WaitReady(ctx); err != nil {
		stop()
		return nil, nil, fmt.Errorf("rule engine unavailable: %w", err)
	}
	return s, stop, nil
}

// withRuntime opens a runtime for the command, starts a session on source
// and hands the session to fn.
func withRuntime(cmd *cobra.Command, cmdCtx *CommandContext, source string, fn func(*session.Session) error) error {
	rt, err := NewRuntime(cmdCtx.Cfg, cmdCtx.Logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			cmdCtx.Logger.Warn("failed to close rule store", slog.String("error", err.Error()))
		}
	}()

	s, stop, err := rt.Start(cmd.Context(), source)
	if err != nil {
		return err
	}
	defer stop()

	// Store advisories are not fatal but the user should see them.
	if st, err := s.State(cmd.Context()); err == nil {
		for _, a := range st.Advisories {
			cmdCtx.Renderer.Errorf("%s %s\n", cmdCtx.Renderer.Warning("warning:"), a)
		}
	}
	return fn(s)
}

// readSource reads path, or standard input for "" and "-".
func readSource(cmd *cobra.Command, path string) (string, error) {
	if path == "" || path == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("failed to read standard input: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is the user's input file
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return string(data), nil
}
