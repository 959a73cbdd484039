// Package lint merges built-in and custom rules into a Registry and
// normalizes raw engine output into core.Diagnostic values.
//
// A Registry is immutable in its rule set. When the custom rules change,
// callers Build a new one and pass the old registry with WithPrevious so
// enabled flags of surviving rules carry over:
//
//	reg, rejected := lint.Build(eng.Rules(), defs, compiler,
//		lint.WithDefaultEnabled("important", "ids"),
//		lint.WithPrevious(old),
//	)
//
// Every rejected custom rule is reported, not just the first.
package lint
