package starengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	starctx "github.com/leapstack-labs/leaplint/internal/starlark"
	"github.com/leapstack-labs/leaplint/pkg/core"
	"github.com/leapstack-labs/leaplint/pkg/engine"
	"github.com/leapstack-labs/leaplint/pkg/lint"
	"go.starlark.net/starlark"
)

// BundleGlobal is the global a rule bundle binds to its list of rules.
const BundleGlobal = "rules"

// ErrNotInstalled is returned by Verify before a bundle has been installed.
var ErrNotInstalled = errors.New("engine bundle not installed")

// Engine runs Starlark rules over a style sheet with the CSSLint call
// convention: a synchronous Verify and numeric enable tokens.
type Engine struct {
	mu        sync.RWMutex
	builtins  []*starctx.CompiledRule
	custom    []*starctx.CompiledRule
	installed bool

	pool     *starctx.ThreadPool
	maxSteps uint64
	logger   *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMaxSteps bounds the work each rule may do per run.
func WithMaxSteps(n uint64) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxSteps = n
		}
	}
}

// New creates an Engine with no rules. Install a bundle before linting.
func New(opts ...Option) *Engine {
	e := &Engine{
		maxSteps: starctx.DefaultMaxSteps,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.pool = starctx.NewThreadPool(0, e.maxSteps)
	return e
}

// Name implements engine.Adapter.
func (e *Engine) Name() string { return "csslint" }

// Install loads a rule bundle: a Starlark module binding a list of rules.
// Each rule is validated exactly like a custom rule. A bundle with any
// invalid rule is rejected as a whole and leaves the engine unchanged.
func (e *Engine) Install(bundle []byte) error {
	thread := e.pool.Get("bundle")
	globals, err := starlark.ExecFile(thread, "bundle.star", bundle, starctx.Predeclared()) //nolint:staticcheck // SA1019: will migrate to ExecFileOptions later
	if err != nil {
		return fmt.Errorf("executing bundle: %w", err)
	}
	e.pool.Put(thread)

	v, ok := globals[BundleGlobal]
	if !ok {
		return fmt.Errorf("bundle does not define %q", BundleGlobal)
	}
	iter, ok := v.(starlark.Iterable)
	if !ok {
		return fmt.Errorf("bundle %q must be a list, got %s", BundleGlobal, v.Type())
	}

	var (
		rules []*starctx.CompiledRule
		seen  = make(map[string]bool)
		item  starlark.Value
	)
	it := iter.Iterate()
	defer it.Done()
	for i := 0; it.Next(&item); i++ {
		rule, err := starctx.Validate(item, core.OriginBuiltin)
		if err != nil {
			return fmt.Errorf("bundle rule %d: %w", i, err)
		}
		if seen[rule.RuleID()] {
			return fmt.Errorf("bundle rule %d: duplicate id %q", i, rule.RuleID())
		}
		seen[rule.RuleID()] = true
		rules = append(rules, rule)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.builtins = rules
	e.installed = true
	e.logger.Debug("engine bundle installed", slog.Int("rules", len(rules)))
	return nil
}

// Rules implements engine.Adapter.
func (e *Engine) Rules() []core.RuleDescriptor {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]core.RuleDescriptor, len(e.builtins))
	for i, r := range e.builtins {
		out[i] = r.Descriptor()
	}
	return out
}

// Register implements engine.Adapter. Only rules compiled by the Starlark
// rule compiler can be registered.
func (e *Engine) Register(h engine.Handle) error {
	rule, ok := h.(*starctx.CompiledRule)
	if !ok {
		return fmt.Errorf("cannot register %T: not a compiled Starlark rule", h)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lookup(rule.RuleID()) != nil {
		return fmt.Errorf("rule %q is already registered", rule.RuleID())
	}
	e.custom = append(e.custom, rule)
	return nil
}

// Unregister implements engine.Adapter.
func (e *Engine) Unregister(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, r := range e.custom {
		if r.RuleID() == id {
			e.custom = append(e.custom[:i:i], e.custom[i+1:]...)
			return
		}
	}
}

// EnableToken implements engine.Adapter. 1 enables a rule as a warning;
// a Ruleset may also carry 2 to report it as an error.
func (e *Engine) EnableToken() any { return 1 }

// Verify lints source with the rules enabled in rs.
func (e *Engine) Verify(source string, rs engine.Ruleset) (engine.RawResult, error) {
	msgs, err := e.verify(context.Background(), source, rs)
	if err != nil {
		return engine.RawResult{}, err
	}
	return engine.RawResult{Messages: msgs}, nil
}

func (e *Engine) verify(ctx context.Context, source string, rs engine.Ruleset) ([]engine.RawMessage, error) {
	e.mu.RLock()
	if !e.installed {
		e.mu.RUnlock()
		return nil, ErrNotInstalled
	}
	var active []*activeRule
	for _, group := range [][]*starctx.CompiledRule{e.builtins, e.custom} {
		for _, rule := range group {
			token, ok := rs[rule.RuleID()]
			if !ok {
				continue
			}
			active = append(active, &activeRule{rule: rule, severity: lint.SeverityFromLevel(token)})
		}
	}
	e.mu.RUnlock()

	r := &run{}
	if err := r.execute(ctx, e.pool, active, Scan(source)); err != nil {
		return nil, err
	}
	e.logger.Debug("lint run finished",
		slog.Int("rules", len(active)),
		slog.Int("messages", len(r.messages)))
	return r.messages, nil
}

func (e *Engine) lookup(id string) *starctx.CompiledRule {
	for _, group := range [][]*starctx.CompiledRule{e.builtins, e.custom} {
		for _, r := range group {
			if r.RuleID() == id {
				return r
			}
		}
	}
	return nil
}
