package engine

import (
	"context"

	"github.com/leapstack-labs/leaplint/pkg/core"
)

// Ruleset maps enabled rule ids to the engine's enable token
// (a severity level for CSSLint, true for stylelint).
// Disabled rules are absent.
type Ruleset map[string]any

// Handle is an opaque compiled custom rule. Only the engine that understands
// the concrete type can register it.
type Handle interface {
	RuleID() string
}

// Adapter is the capability shared by every engine.
type Adapter interface {
	// Name identifies the engine in logs and output.
	Name() string

	// Rules returns the built-in rule descriptors. Only valid once the
	// engine bundle has been loaded.
	Rules() []core.RuleDescriptor

	// Register adds a compiled custom rule. Duplicate ids must be rejected.
	Register(h Handle) error

	// Unregister removes a previously registered custom rule.
	// Unknown ids are ignored.
	Unregister(id string)

	// EnableToken is the value placed in a Ruleset for an enabled rule.
	EnableToken() any
}

// SyncAdapter returns results synchronously.
type SyncAdapter interface {
	Adapter
	Verify(source string, rules Ruleset) (RawResult, error)
}

// Request is the argument of an asynchronous lint call.
type Request struct {
	Code        string
	RulesConfig Ruleset
}

// AsyncAdapter returns a pending result that settles later.
type AsyncAdapter interface {
	Adapter
	Lint(ctx context.Context, req Request) *Pending
}

// InputRequirer is implemented by engines that refuse empty source text.
// Sessions suppress runs on empty input only for such engines.
type InputRequirer interface {
	RequiresInput() bool
}
