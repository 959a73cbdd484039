// Package starengine is the reference lint engine. It runs Starlark rules
// over events produced by a small declaration scanner.
//
// Engine follows the CSSLint calling convention (synchronous Verify, numeric
// enable tokens, flat message list). AsyncEngine wraps it with the stylelint
// convention (pending results, boolean tokens, results grouped per source).
//
// Rules come from a bundle, a Starlark module binding a list named "rules".
// Bundle rules and custom rules share one shape:
//
//	{"id": "...", "name": "...", "description": "...", "init": init}
//
// where init(parser, reporter) subscribes listeners with
// parser.add_listener(event, fn) and reports findings with
// reporter.report(message, line, col).
package starengine
