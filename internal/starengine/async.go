package starengine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/leapstack-labs/leaplint/pkg/core"
	"github.com/leapstack-labs/leaplint/pkg/engine"
)

// InputSource names the single source in stylelint-shaped results.
const InputSource = "<input css>"

var errNoCode = errors.New("no code given")

// AsyncEngine exposes an Engine with the stylelint call convention:
// Lint returns a pending result, rules are enabled with true and findings
// come back grouped per source with the rule id appended to the text.
type AsyncEngine struct {
	engine  *Engine
	latency time.Duration
}

// AsyncOption configures an AsyncEngine.
type AsyncOption func(*AsyncEngine)

// WithLatency delays every result, simulating a remote engine.
func WithLatency(d time.Duration) AsyncOption {
	return func(a *AsyncEngine) {
		a.latency = d
	}
}

// NewAsync wraps e.
func NewAsync(e *Engine, opts ...AsyncOption) *AsyncEngine {
	a := &AsyncEngine{engine: e}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name implements engine.Adapter.
func (a *AsyncEngine) Name() string { return "stylelint" }

// Install loads a rule bundle into the wrapped engine.
func (a *AsyncEngine) Install(bundle []byte) error { return a.engine.Install(bundle) }

// Rules implements engine.Adapter.
func (a *AsyncEngine) Rules() []core.RuleDescriptor { return a.engine.Rules() }

// Register implements engine.Adapter.
func (a *AsyncEngine) Register(h engine.Handle) error { return a.engine.Register(h) }

// Unregister implements engine.Adapter.
func (a *AsyncEngine) Unregister(id string) { a.engine.Unregister(id) }

// EnableToken implements engine.Adapter.
func (a *AsyncEngine) EnableToken() any { return true }

// RequiresInput reports that empty code is refused, as stylelint does.
func (a *AsyncEngine) RequiresInput() bool { return true }

// Lint implements engine.AsyncAdapter. Cancelling ctx stops rule execution
// and rejects the pending result.
func (a *AsyncEngine) Lint(ctx context.Context, req engine.Request) *engine.Pending {
	if req.Code == "" {
		return engine.Rejected(errNoCode)
	}

	p := engine.NewPending()
	go func() {
		if a.latency > 0 {
			select {
			case <-time.After(a.latency):
			case <-ctx.Done():
				p.Reject(ctx.Err())
				return
			}
		}

		msgs, err := a.engine.verify(ctx, req.Code, req.RulesConfig)
		if err != nil {
			p.Reject(err)
			return
		}

		warnings := make([]engine.RawWarning, len(msgs))
		for i, m := range msgs {
			warnings[i] = engine.RawWarning{
				Line:     m.Line,
				Column:   m.Col,
				Rule:     m.RuleID,
				Severity: m.Type,
				Text:     fmt.Sprintf("%s (%s)", m.Message, m.RuleID),
			}
		}
		p.Resolve(engine.RawResult{Results: []engine.RawFileResult{{
			Source:   InputSource,
			Warnings: warnings,
		}}})
	}()
	return p
}
