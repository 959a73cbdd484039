package lint

import (
	"strings"

	"github.com/leapstack-labs/leaplint/pkg/core"
	"github.com/leapstack-labs/leaplint/pkg/engine"
)

// Adapt normalizes raw engine output. Engine order is preserved and a
// missing line stays nil.
func Adapt(raw engine.RawResult) []core.Diagnostic {
	out := make([]core.Diagnostic, 0, raw.Len())

	for _, m := range raw.Messages {
		var sev core.Severity
		if m.Type != "" {
			sev = SeverityFromLevel(m.Type)
		} else {
			sev = SeverityFromLevel(m.Level)
		}
		out = append(out, core.Diagnostic{
			Line:     copyInt(m.Line),
			Column:   copyInt(m.Col),
			Message:  m.Message,
			RuleID:   m.RuleID,
			Severity: sev,
		})
	}

	for _, res := range raw.Results {
		for _, w := range res.Warnings {
			out = append(out, core.Diagnostic{
				Line:     copyInt(w.Line),
				Column:   copyInt(w.Column),
				Message:  trimRuleSuffix(w.Text, w.Rule),
				RuleID:   w.Rule,
				Severity: SeverityFromLevel(w.Severity),
			})
		}
	}

	return out
}

// SeverityFromLevel maps a numeric level (2 and above is an error) or a
// severity name to a Severity. Anything unrecognized is a warning.
func SeverityFromLevel(level any) core.Severity {
	switch v := level.(type) {
	case core.Severity:
		return v
	case int:
		return severityFromInt(int64(v))
	case int64:
		return severityFromInt(v)
	case float64:
		return severityFromInt(int64(v))
	case string:
		sev, _ := core.ParseSeverity(v)
		return sev
	default:
		return core.SeverityWarning
	}
}

func severityFromInt(n int64) core.Severity {
	if n >= 2 {
		return core.SeverityError
	}
	return core.SeverityWarning
}

// trimRuleSuffix drops the " (rule-id)" stylelint appends to warning text.
func trimRuleSuffix(text, rule string) string {
	if rule == "" {
		return text
	}
	return strings.TrimSuffix(text, " ("+rule+")")
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
