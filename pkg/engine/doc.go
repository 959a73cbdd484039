// Package engine defines the boundary between a lint session and the engine
// that actually evaluates rules against source text.
//
// # Capabilities
//
// Every engine implements Adapter: it enumerates its built-in rules, accepts
// compiled custom rules and names the token it expects for an enabled rule.
// On top of that an engine offers exactly one calling convention:
//
//	SyncAdapter   Verify(source, ruleset) (RawResult, error)   // CSSLint style
//	AsyncAdapter  Lint(ctx, Request) *Pending                  // stylelint style
//
// The session picks the convention with a type switch, so one orchestrator
// serves both kinds of engine.
//
// # Raw results
//
// Engines report findings in their own shape. RawResult carries both the
// CSSLint message list and the stylelint per-source warning list; the lint
// package normalizes either into core.Diagnostic.
package engine
