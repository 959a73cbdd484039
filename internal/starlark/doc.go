// Package starlark compiles user-authored lint rules written in Starlark.
//
// Rule sources run in a sandbox: a fresh thread with a bounded step budget,
// no load(), no print output and only the struct builtin predeclared.
// A source is either an expression yielding the rule or a program that
// binds it to the global "rule":
//
//	def _init(parser, reporter):
//	    def on_property(event):
//	        if event.important:
//	            reporter.report("Avoid !important", event.line, event.col)
//	    parser.add_listener("property", on_property)
//
//	rule = {
//	    "id": "no-important",
//	    "name": "No !important",
//	    "description": "Flags declarations using !important.",
//	    "init": _init,
//	}
package starlark
