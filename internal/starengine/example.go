package starengine

// ExampleRuleName is the name ExampleRule is stored under by `custom example --add`.
const ExampleRuleName = "high-z-index"

// ExampleRule is a complete custom rule in program form. It flags z-index
// values above 99.
const ExampleRule = `def _init(parser, reporter):
    def on_property(event):
        if event.property == "z-index" and event.value.isdigit() and int(event.value) > 99:
            reporter.report("High z-index value (%s). Consider refactoring." % event.value, event.line, event.col)
    parser.add_listener("property", on_property)

rule = {
    "id": "high-z-index",
    "name": "Disallow high z-index",
    "desc": "Warns when z-index is set to a value greater than 99.",
    "init": _init,
}
`
