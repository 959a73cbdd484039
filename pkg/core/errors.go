package core

import "fmt"

// UnnamedRule is reported when a rejected rule never declared a name.
const UnnamedRule = "<unnamed>"

// =============================================================================
// Fatal
// =============================================================================

// EngineLoadError reports that the engine bundle could not be loaded.
// It is fatal to the session: readiness moves to Failed and stays there.
type EngineLoadError struct {
	URL    string
	Reason string
	Err    error
}

func (e *EngineLoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("engine load failed (%s): %s: %v", e.URL, e.Reason, e.Err)
	}
	return fmt.Sprintf("engine load failed (%s): %s", e.URL, e.Reason)
}

func (e *EngineLoadError) Unwrap() error { return e.Err }

// =============================================================================
// Non-fatal
// =============================================================================

// ValidationError rejects one malformed custom rule.
type ValidationError struct {
	RuleName string // declared rule name, or UnnamedRule
	Field    string // offending field; empty for evaluation failures
	Reason   string
	Err      error
}

func (e *ValidationError) Error() string {
	name := e.RuleName
	if name == "" {
		name = UnnamedRule
	}
	if e.Field != "" {
		return fmt.Sprintf("rule %s: field %q: %s", name, e.Field, e.Reason)
	}
	return fmt.Sprintf("rule %s: %s", name, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// CollisionError rejects a custom rule whose id is already registered.
// The earlier registrant stays authoritative.
type CollisionError struct {
	ID       string
	RuleName string
	Existing RuleOrigin
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("rule %s: id %q collides with an existing %s rule", e.RuleName, e.ID, e.Existing)
}

// LintInvocationError reports that an engine call failed or panicked.
// The session stays ready and keeps its previous diagnostics.
type LintInvocationError struct {
	Token uint64
	Err   error
}

func (e *LintInvocationError) Error() string {
	return fmt.Sprintf("lint run %d failed: %v", e.Token, e.Err)
}

func (e *LintInvocationError) Unwrap() error { return e.Err }

// PersistenceError reports a failed load or save of custom rules.
type PersistenceError struct {
	Op  string // "load" or "save"
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("custom rules %s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
