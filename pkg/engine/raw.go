package engine

// RawResult is an engine's unnormalized output.
// CSSLint-style engines fill Messages; stylelint-style engines fill Results.
type RawResult struct {
	Messages []RawMessage
	Results  []RawFileResult
}

// RawMessage is a CSSLint-style finding. Type is "warning" or "error";
// engines that only report a numeric Level (1 warning, 2 error) leave Type empty.
type RawMessage struct {
	Type    string
	Level   int
	Line    *int
	Col     *int
	Message string
	RuleID  string
}

// RawFileResult groups stylelint-style warnings for one source.
type RawFileResult struct {
	Source   string
	Warnings []RawWarning
}

// RawWarning is a stylelint-style finding. Text usually ends with " (<rule>)".
type RawWarning struct {
	Line     *int
	Column   *int
	Rule     string
	Severity string
	Text     string
}

// Len returns the number of findings across both shapes.
func (r RawResult) Len() int {
	n := len(r.Messages)
	for _, res := range r.Results {
		n += len(res.Warnings)
	}
	return n
}
