package lint

import (
	"sync"

	"github.com/leapstack-labs/leaplint/pkg/core"
	"github.com/leapstack-labs/leaplint/pkg/engine"
)

// Compiler turns custom rule source into a descriptor and an engine handle.
// Errors should be *core.ValidationError.
type Compiler interface {
	CompileRule(source string) (core.RuleDescriptor, engine.Handle, error)
}

// CompilerFunc adapts a function to Compiler.
type CompilerFunc func(source string) (core.RuleDescriptor, engine.Handle, error)

// CompileRule calls f(source).
func (f CompilerFunc) CompileRule(source string) (core.RuleDescriptor, engine.Handle, error) {
	return f(source)
}

// Registry holds the merged rule descriptors and their enabled flags.
// The descriptor set never changes after Build; only flags do.
type Registry struct {
	mu      sync.RWMutex
	rules   []core.RuleDescriptor
	index   map[string]int
	enabled map[string]bool
	handles []engine.Handle
	customs map[string]string // definition name -> rule id
}

type buildOptions struct {
	defaultEnabled map[string]bool // nil: every built-in starts enabled
	customEnabled  bool
	previous       *Registry
}

// BuildOption configures Build.
type BuildOption func(*buildOptions)

// WithDefaultEnabled restricts the built-ins that start enabled to ids.
// Without it every built-in starts enabled.
func WithDefaultEnabled(ids ...string) BuildOption {
	return func(o *buildOptions) {
		o.defaultEnabled = make(map[string]bool, len(ids))
		for _, id := range ids {
			o.defaultEnabled[id] = true
		}
	}
}

// WithCustomEnabled sets whether accepted custom rules start enabled (default true).
func WithCustomEnabled(enabled bool) BuildOption {
	return func(o *buildOptions) {
		o.customEnabled = enabled
	}
}

// WithPrevious carries enabled flags over from prev for ids that survive the rebuild.
// Ids unknown to the new registry are dropped.
func WithPrevious(prev *Registry) BuildOption {
	return func(o *buildOptions) {
		o.previous = prev
	}
}

// Build merges builtins and the compiled customs.
//
// Built-ins are added first. Each custom definition is compiled in order;
// a rule whose id is already taken is rejected with *core.CollisionError,
// a rule that fails to compile contributes nothing. All rejections are returned.
func Build(builtins []core.RuleDescriptor, customs []core.CustomRuleDefinition, c Compiler, opts ...BuildOption) (*Registry, []error) {
	o := buildOptions{customEnabled: true}
	for _, opt := range opts {
		opt(&o)
	}

	var prev map[string]bool
	if o.previous != nil {
		prev = o.previous.Config()
	}

	r := &Registry{
		index:   make(map[string]int, len(builtins)+len(customs)),
		enabled: make(map[string]bool, len(builtins)+len(customs)),
		customs: make(map[string]string, len(customs)),
	}
	var rejected []error

	add := func(d core.RuleDescriptor, enabled bool) {
		r.index[d.ID] = len(r.rules)
		r.rules = append(r.rules, d)
		if was, ok := prev[d.ID]; ok {
			enabled = was
		}
		r.enabled[d.ID] = enabled
	}

	for _, d := range builtins {
		if d.Origin == "" {
			d.Origin = core.OriginBuiltin
		}
		if i, taken := r.index[d.ID]; taken {
			rejected = append(rejected, &core.CollisionError{ID: d.ID, RuleName: d.Name, Existing: r.rules[i].Origin})
			continue
		}
		add(d, o.defaultEnabled == nil || o.defaultEnabled[d.ID])
	}

	for _, def := range customs {
		if c == nil {
			rejected = append(rejected, &core.ValidationError{RuleName: core.UnnamedRule, Reason: "no rule compiler configured"})
			continue
		}
		d, h, err := c.CompileRule(def.Source)
		if err != nil {
			rejected = append(rejected, err)
			continue
		}
		if i, taken := r.index[d.ID]; taken {
			rejected = append(rejected, &core.CollisionError{ID: d.ID, RuleName: d.Name, Existing: r.rules[i].Origin})
			continue
		}
		d.Origin = core.OriginCustom
		add(d, o.customEnabled)
		r.handles = append(r.handles, h)
		r.customs[def.Name] = d.ID
	}

	return r, rejected
}

// Rules returns the descriptors: built-ins first, then customs, in build order.
func (r *Registry) Rules() []core.RuleDescriptor {
	out := make([]core.RuleDescriptor, len(r.rules))
	copy(out, r.rules)
	return out
}

// Rule returns the descriptor for id.
func (r *Registry) Rule(id string) (core.RuleDescriptor, bool) {
	i, ok := r.index[id]
	if !ok {
		return core.RuleDescriptor{}, false
	}
	return r.rules[i], true
}

// Len returns the number of known rules.
func (r *Registry) Len() int {
	return len(r.rules)
}

// IsEnabled reports whether id is known and enabled.
func (r *Registry) IsEnabled(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enabled[id]
}

// SetEnabled sets the flag for id. Unknown ids are ignored; the result reports
// whether id is known.
func (r *Registry) SetEnabled(id string, enabled bool) bool {
	if _, ok := r.index[id]; !ok {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled[id] = enabled
	return true
}

// Toggle flips the flag for id and returns the new value.
// ok is false for unknown ids.
func (r *Registry) Toggle(id string) (enabled, ok bool) {
	if _, known := r.index[id]; !known {
		return false, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled[id] = !r.enabled[id]
	return r.enabled[id], true
}

// EnabledIDs returns the enabled ids in rule order.
func (r *Registry) EnabledIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for _, d := range r.rules {
		if r.enabled[d.ID] {
			ids = append(ids, d.ID)
		}
	}
	return ids
}

// Config returns a copy of the enabled flags, keyed by every known id.
func (r *Registry) Config() map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cfg := make(map[string]bool, len(r.enabled))
	for id, on := range r.enabled {
		cfg[id] = on
	}
	return cfg
}

// EngineRuleset maps each enabled id to token. Disabled rules are absent.
func (r *Registry) EngineRuleset(token any) engine.Ruleset {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rs := make(engine.Ruleset, len(r.enabled))
	for id, on := range r.enabled {
		if on {
			rs[id] = token
		}
	}
	return rs
}

// Handles returns the compiled custom rules in build order.
func (r *Registry) Handles() []engine.Handle {
	out := make([]engine.Handle, len(r.handles))
	copy(out, r.handles)
	return out
}

// CustomID returns the rule id an accepted custom definition compiled to.
func (r *Registry) CustomID(name string) (string, bool) {
	id, ok := r.customs[name]
	return id, ok
}
