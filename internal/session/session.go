// Package session runs one lint session: it tracks engine readiness, owns the
// rule registry and decides when the engine is invoked.
//
// All session state lives on the goroutine running Run. Public methods post
// work to that goroutine and wait for it, so they are safe for concurrent use.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/leapstack-labs/leaplint/internal/loader"
	"github.com/leapstack-labs/leaplint/internal/state"
	"github.com/leapstack-labs/leaplint/pkg/core"
	"github.com/leapstack-labs/leaplint/pkg/engine"
	"github.com/leapstack-labs/leaplint/pkg/lint"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ErrClosed is returned once Run has returned.
	ErrClosed = errors.New("session closed")
	// ErrNotReady is returned for rule operations while the engine is loading.
	ErrNotReady = errors.New("session not ready")
	// ErrUnknownRule is returned for rule ids the registry does not know.
	ErrUnknownRule = errors.New("unknown rule")
	// ErrUnknownCustomRule is returned when no stored definition has the given name.
	ErrUnknownCustomRule = errors.New("unknown custom rule")
	// ErrRunning is returned when Run is called twice.
	ErrRunning = errors.New("session already running")
)

// Loader starts the engine bundle load.
type Loader interface {
	Load(ctx context.Context, url string, timeout time.Duration) *loader.Load
}

// Config configures a Session.
type Config struct {
	// Adapter is the engine. It must implement engine.SyncAdapter or engine.AsyncAdapter.
	Adapter engine.Adapter

	// Loader fetches BundleURL. A nil Loader means the engine is already loaded.
	Loader      Loader
	BundleURL   string
	LoadTimeout time.Duration

	// Store persists custom rules. Defaults to an in-memory store.
	Store state.Port

	// Compiler compiles custom rule sources. Without one every custom rule is rejected.
	Compiler lint.Compiler

	// DefaultEnabled lists the built-ins that start enabled.
	// nil enables every built-in; an empty slice enables none.
	DefaultEnabled []string

	// CustomOptIn makes accepted custom rules start disabled.
	CustomOptIn bool

	// Source is the initial source text.
	Source string

	// OnDiagnostics is called on the session goroutine once per applied run.
	// It must not call back into the Session.
	OnDiagnostics func(diags []core.Diagnostic)

	Logger     *slog.Logger
	Registerer prometheus.Registerer
}

type op struct {
	fn    func()
	reply chan struct{}
}

type runResult struct {
	token   uint64
	raw     engine.RawResult
	err     error
	elapsed time.Duration
}

// Session is a single lint session.
type Session struct {
	cfg      Config
	store    state.Port
	logger   *slog.Logger
	metrics  *metrics
	notifier *Notifier

	ops     chan op
	results chan runResult
	done    chan struct{}
	settled chan struct{}
	running atomic.Bool

	// Everything below is owned by the Run goroutine.
	runCtx      context.Context
	load        *loader.Load
	readiness   core.Readiness
	loadErr     error
	source      string
	token       uint64
	inflight    bool
	idle        []chan State
	builtins    []core.RuleDescriptor
	customs     []core.CustomRuleDefinition
	registry    *lint.Registry
	registered  []string
	diagnostics []core.Diagnostic
	hasRun      bool
	rejections  []error
	advisories  []string
	lastErr     error
}

// New creates a session. Nothing happens until Run is called.
func New(cfg Config) (*Session, error) {
	if cfg.Adapter == nil {
		return nil, errors.New("session: engine adapter is required")
	}
	switch cfg.Adapter.(type) {
	case engine.AsyncAdapter, engine.SyncAdapter:
	default:
		return nil, fmt.Errorf("session: engine %s supports neither verify nor lint", cfg.Adapter.Name())
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	store := cfg.Store
	if store == nil {
		store = state.NewMemoryStore()
	}
	m, err := newMetrics(cfg.Registerer)
	if err != nil {
		return nil, err
	}

	return &Session{
		cfg:       cfg,
		store:     store,
		logger:    logger.With(slog.String("engine", cfg.Adapter.Name())),
		metrics:   m,
		notifier:  NewNotifier(),
		ops:       make(chan op),
		results:   make(chan runResult),
		done:      make(chan struct{}),
		settled:   make(chan struct{}),
		readiness: core.Loading,
		source:    cfg.Source,
	}, nil
}

// Run drives the session until ctx ends. It loads persisted custom rules,
// starts the engine load and then serves requests.
func (s *Session) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer func() {
		close(s.done)
		s.notifier.Close()
	}()

	s.runCtx = ctx
	s.start(ctx)

	var loadDone <-chan struct{}
	if s.load != nil {
		loadDone = s.load.Done()
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("session stopped")
			return nil
		case o := <-s.ops:
			o.fn()
			close(o.reply)
		case <-loadDone:
			loadDone = nil
			s.onLoaded(s.load.Err())
		case r := <-s.results:
			s.complete(r)
		}
	}
}

func (s *Session) start(ctx context.Context) {
	defs, err := s.store.Load(ctx)
	if err != nil {
		s.advise("custom rules could not be loaded; continuing without them", err)
		defs = nil
	}
	s.customs = defs

	if s.cfg.Loader == nil {
		s.onLoaded(nil)
		return
	}
	s.load = s.cfg.Loader.Load(ctx, s.cfg.BundleURL, s.cfg.LoadTimeout)
}

// Done is closed when Run returns.
func (s *Session) Done() <-chan struct{} { return s.done }

// Subscribe returns a channel pinged after every visible change.
func (s *Session) Subscribe() (<-chan struct{}, func()) {
	return s.notifier.Subscribe()
}

// WaitReady blocks until the engine load settles. It returns the load error
// when the session failed.
func (s *Session) WaitReady(ctx context.Context) error {
	select {
	case <-s.settled:
		return s.loadErr
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitRun blocks until no lint run is outstanding and returns the state at that point.
func (s *Session) WaitRun(ctx context.Context) (State, error) {
	ch := make(chan State, 1)
	err := s.do(ctx, func() {
		if s.inflight {
			s.idle = append(s.idle, ch)
			return
		}
		ch <- s.snapshot()
	})
	if err != nil {
		return State{}, err
	}
	select {
	case st := <-ch:
		return st, nil
	case <-s.done:
		return State{}, ErrClosed
	case <-ctx.Done():
		return State{}, ctx.Err()
	}
}

// State returns a snapshot of the session.
func (s *Session) State(ctx context.Context) (State, error) {
	var st State
	err := s.do(ctx, func() { st = s.snapshot() })
	return st, err
}

// SetSource replaces the source text and schedules a run.
// While loading the text is kept and linted once the engine is ready.
func (s *Session) SetSource(ctx context.Context, source string) error {
	return s.call(ctx, func() error {
		if s.readiness == core.Failed {
			return s.loadErr
		}
		if source == s.source && s.hasRun {
			return nil
		}
		s.source = source
		s.schedule("source changed")
		return nil
	})
}

// SetEnabled sets the flag of rule id and schedules a run if it changed.
func (s *Session) SetEnabled(ctx context.Context, id string, enabled bool) error {
	return s.call(ctx, func() error {
		if err := s.ready(); err != nil {
			return err
		}
		if _, ok := s.registry.Rule(id); !ok {
			return fmt.Errorf("%w: %s", ErrUnknownRule, id)
		}
		if s.registry.IsEnabled(id) == enabled {
			return nil
		}
		s.registry.SetEnabled(id, enabled)
		s.logger.Debug("rule flag changed", slog.String("rule", id), slog.Bool("enabled", enabled))
		s.schedule("rule config changed")
		return nil
	})
}

// Toggle flips the flag of rule id, schedules a run and returns the new flag.
func (s *Session) Toggle(ctx context.Context, id string) (bool, error) {
	var enabled bool
	err := s.call(ctx, func() error {
		if err := s.ready(); err != nil {
			return err
		}
		var ok bool
		if enabled, ok = s.registry.Toggle(id); !ok {
			return fmt.Errorf("%w: %s", ErrUnknownRule, id)
		}
		s.logger.Debug("rule flag changed", slog.String("rule", id), slog.Bool("enabled", enabled))
		s.schedule("rule config changed")
		return nil
	})
	return enabled, err
}

// AddCustomRule compiles source and, if it is valid and its id is free,
// stores it under name and rebuilds the registry. An existing definition
// with the same name is replaced. Rejections, including a rule the engine
// refuses to register, are *core.ValidationError or *core.CollisionError
// and leave the session and the store unchanged.
func (s *Session) AddCustomRule(ctx context.Context, name, source string) (core.RuleDescriptor, error) {
	var desc core.RuleDescriptor
	err := s.call(ctx, func() error {
		if err := s.ready(); err != nil {
			return err
		}
		name = strings.TrimSpace(name)
		if name == "" {
			return &core.ValidationError{RuleName: core.UnnamedRule, Field: "name", Reason: "custom rule name must not be empty"}
		}
		if s.cfg.Compiler == nil {
			return &core.ValidationError{RuleName: name, Reason: "no rule compiler configured"}
		}
		d, _, err := s.cfg.Compiler.CompileRule(source)
		if err != nil {
			return err
		}
		if existing, taken := s.registry.Rule(d.ID); taken {
			if prevID, _ := s.registry.CustomID(name); prevID != d.ID {
				return &core.CollisionError{ID: d.ID, RuleName: d.Name, Existing: existing.Origin}
			}
		}
		d.Origin = core.OriginCustom

		def := core.CustomRuleDefinition{Name: name, Source: source}
		prev := s.customs
		next := make([]core.CustomRuleDefinition, 0, len(prev)+1)
		replaced := false
		for _, c := range prev {
			if c.Name == name {
				c = def
				replaced = true
			}
			next = append(next, c)
		}
		if !replaced {
			next = append(next, def)
		}

		s.customs = next
		refused := s.rebuild()
		if _, ok := s.registry.CustomID(name); !ok {
			rejection := refused[name]
			if rejection == nil {
				rejection = &core.ValidationError{RuleName: name, Reason: "engine refused registration"}
			}
			s.customs = prev
			s.rebuild()
			s.logger.Warn("custom rule rejected by engine", slog.String("name", name), slog.String("error", rejection.Error()))
			return rejection
		}

		s.logger.Info("custom rule added", slog.String("name", name), slog.String("rule", d.ID), slog.Bool("replaced", replaced))
		s.customsChanged(ctx)
		desc = d
		return nil
	})
	return desc, err
}

// RemoveCustomRule deletes the stored definition called name and rebuilds the registry.
func (s *Session) RemoveCustomRule(ctx context.Context, name string) error {
	return s.call(ctx, func() error {
		if err := s.ready(); err != nil {
			return err
		}
		idx := -1
		for i, def := range s.customs {
			if def.Name == name {
				idx = i
				break
			}
		}
		if idx < 0 {
			return fmt.Errorf("%w: %s", ErrUnknownCustomRule, name)
		}
		s.customs = append(s.customs[:idx:idx], s.customs[idx+1:]...)
		s.rebuild()

		s.logger.Info("custom rule removed", slog.String("name", name))
		s.customsChanged(ctx)
		return nil
	})
}

// CustomRules returns the stored definitions with the ids they compiled to.
func (s *Session) CustomRules(ctx context.Context) ([]CustomRule, error) {
	var out []CustomRule
	err := s.do(ctx, func() {
		out = make([]CustomRule, 0, len(s.customs))
		for _, def := range s.customs {
			c := CustomRule{CustomRuleDefinition: def}
			if s.registry != nil {
				c.ID, _ = s.registry.CustomID(def.Name)
			}
			out = append(out, c)
		}
	})
	return out, err
}

// call runs fn on the session goroutine and returns its error.
func (s *Session) call(ctx context.Context, fn func() error) error {
	var err error
	if doErr := s.do(ctx, func() { err = fn() }); doErr != nil {
		return doErr
	}
	return err
}

// do runs fn on the session goroutine and waits for it to finish.
func (s *Session) do(ctx context.Context, fn func()) error {
	reply := make(chan struct{})
	select {
	case s.ops <- op{fn: fn, reply: reply}:
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-reply
	return nil
}

func (s *Session) ready() error {
	switch s.readiness {
	case core.Ready:
		return nil
	case core.Failed:
		return s.loadErr
	default:
		return ErrNotReady
	}
}

func (s *Session) advise(msg string, err error) {
	if err != nil {
		msg = fmt.Sprintf("%s: %v", msg, err)
	}
	s.advisories = append(s.advisories, msg)
	s.logger.Warn(msg)
}

func (s *Session) snapshot() State {
	st := State{
		Readiness:    s.readiness,
		Engine:       s.cfg.Adapter.Name(),
		Source:       s.source,
		LastRunToken: s.token,
		Running:      s.inflight,
		HasRun:       s.hasRun,
		Diagnostics:  append([]core.Diagnostic(nil), s.diagnostics...),
		Rejections:   append([]error(nil), s.rejections...),
		Advisories:   append([]string(nil), s.advisories...),
		LastError:    s.lastErr,
	}
	if s.registry != nil {
		cfg := s.registry.Config()
		for _, d := range s.registry.Rules() {
			st.Rules = append(st.Rules, RuleState{RuleDescriptor: d, Enabled: cfg[d.ID]})
		}
	}
	return st
}
