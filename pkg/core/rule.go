package core

// =============================================================================
// Rules
// =============================================================================

// RuleOrigin records where a rule descriptor came from.
type RuleOrigin string

// Rule origins.
const (
	// OriginBuiltin marks rules enumerated by the engine at load time.
	OriginBuiltin RuleOrigin = "builtin"
	// OriginCustom marks rules compiled from user-supplied source.
	OriginCustom RuleOrigin = "custom"
)

// RuleDescriptor is the identity and metadata of one lint rule,
// independent of whether the rule is enabled.
// Descriptors are immutable once registered.
type RuleDescriptor struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Origin      RuleOrigin `json:"origin"`
}

// CustomRuleDefinition is a user-authored rule as persisted by the store.
// Source is kept verbatim; it is only interpreted by the rule compiler.
type CustomRuleDefinition struct {
	Name   string `json:"name" yaml:"name"`
	Source string `json:"source" yaml:"source"`
}
