package core

// Diagnostic is a single lint finding in canonical form.
//
// Line and Column are nil when the engine did not report a position;
// a nil line must never be confused with a real line number.
type Diagnostic struct {
	Line     *int     `json:"line"`
	Column   *int     `json:"column,omitempty"`
	Message  string   `json:"message"`
	RuleID   string   `json:"rule_id"`
	Severity Severity `json:"severity"`
}

// HasLine reports whether the diagnostic carries a line number.
func (d Diagnostic) HasLine() bool {
	return d.Line != nil
}
