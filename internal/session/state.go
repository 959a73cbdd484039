package session

import (
	"github.com/leapstack-labs/leaplint/pkg/core"
)

// RuleState is a rule descriptor with its current flag.
type RuleState struct {
	core.RuleDescriptor
	Enabled bool `json:"enabled"`
}

// CustomRule is a stored definition and the rule id it compiled to.
// ID is empty when the definition was rejected.
type CustomRule struct {
	core.CustomRuleDefinition
	ID string `json:"id,omitempty"`
}

// Accepted reports whether the definition is part of the registry.
func (c CustomRule) Accepted() bool { return c.ID != "" }

// State is a point-in-time copy of the session.
type State struct {
	Readiness    core.Readiness    `json:"readiness"`
	Engine       string            `json:"engine"`
	Source       string            `json:"source"`
	LastRunToken uint64            `json:"last_run_token"`
	Running      bool              `json:"running"`
	HasRun       bool              `json:"has_run"`
	Rules        []RuleState       `json:"rules"`
	Diagnostics  []core.Diagnostic `json:"diagnostics"`

	// Rejections holds one error per custom rule excluded by the last build.
	Rejections []error `json:"-"`
	// Advisories are non-fatal notices such as persistence failures.
	Advisories []string `json:"advisories,omitempty"`
	// LastError is the load error once Failed, otherwise the last invocation error.
	LastError error `json:"-"`
}

// EnabledCount returns how many rules are enabled.
func (s State) EnabledCount() int {
	n := 0
	for _, r := range s.Rules {
		if r.Enabled {
			n++
		}
	}
	return n
}

// Rule returns the state of rule id.
func (s State) Rule(id string) (RuleState, bool) {
	for _, r := range s.Rules {
		if r.ID == id {
			return r, true
		}
	}
	return RuleState{}, false
}

// ErrorCount returns the number of error-severity diagnostics.
func (s State) ErrorCount() int {
	n := 0
	for _, d := range s.Diagnostics {
		if d.Severity == core.SeverityError {
			n++
		}
	}
	return n
}
