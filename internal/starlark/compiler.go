package starlark

import (
	"errors"
	"fmt"

	"github.com/leapstack-labs/leaplint/pkg/core"
	"github.com/leapstack-labs/leaplint/pkg/engine"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// RuleGlobal is the global a program-form rule source must bind.
const RuleGlobal = "rule"

const ruleFile = "rule.star"

var errNoRule = fmt.Errorf("source is neither an expression nor a program binding %q", RuleGlobal)

// CompiledRule is a validated rule: its descriptor plus the init handler the
// engine calls with (parser, reporter).
type CompiledRule struct {
	desc core.RuleDescriptor
	init starlark.Callable
}

// RuleID implements engine.Handle.
func (r *CompiledRule) RuleID() string { return r.desc.ID }

// Descriptor returns the rule's identity.
func (r *CompiledRule) Descriptor() core.RuleDescriptor { return r.desc }

// Init returns the handler that subscribes the rule to parser events.
func (r *CompiledRule) Init() starlark.Callable { return r.init }

// Compiler turns rule source text into a CompiledRule.
// It holds no session state; the same source always yields the same outcome.
type Compiler struct {
	maxSteps uint64
}

// CompilerOption configures a Compiler.
type CompilerOption func(*Compiler)

// WithMaxSteps bounds evaluation of a rule source.
func WithMaxSteps(n uint64) CompilerOption {
	return func(c *Compiler) {
		if n > 0 {
			c.maxSteps = n
		}
	}
}

// NewCompiler creates a Compiler.
func NewCompiler(opts ...CompilerOption) *Compiler {
	c := &Compiler{maxSteps: DefaultMaxSteps}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile evaluates source in a sandbox and validates the resulting rule.
// A non-nil error is always a *core.ValidationError.
func (c *Compiler) Compile(source string) (core.RuleDescriptor, *CompiledRule, error) {
	v, err := c.evaluate(source)
	if err != nil {
		return core.RuleDescriptor{}, nil, &core.ValidationError{
			RuleName: core.UnnamedRule,
			Reason:   "evaluation failed: " + err.Error(),
			Err:      err,
		}
	}

	rule, err := Validate(v, core.OriginCustom)
	if err != nil {
		return core.RuleDescriptor{}, nil, err
	}
	return rule.desc, rule, nil
}

// CompileRule is Compile with the rule returned as an engine.Handle.
func (c *Compiler) CompileRule(source string) (core.RuleDescriptor, engine.Handle, error) {
	desc, rule, err := c.Compile(source)
	if err != nil {
		return desc, nil, err
	}
	return desc, rule, nil
}

// evaluate runs source as an expression, falling back to a program that binds RuleGlobal.
func (c *Compiler) evaluate(source string) (starlark.Value, error) {
	v, err := starlark.Eval(newThread(ruleFile, c.maxSteps), ruleFile, source, Predeclared()) //nolint:staticcheck // SA1019: will migrate to EvalOptions later
	if err == nil {
		return v, nil
	}
	var serr syntax.Error
	if !errors.As(err, &serr) {
		return nil, err
	}

	globals, err := starlark.ExecFile(newThread(ruleFile, c.maxSteps), ruleFile, source, Predeclared()) //nolint:staticcheck // SA1019: will migrate to ExecFileOptions later
	if err != nil {
		return nil, err
	}
	v, ok := globals[RuleGlobal]
	if !ok {
		return nil, errNoRule
	}
	return v, nil
}

// Validate checks that v has the rule shape and freezes it.
// Checks run in order and stop at the first violation:
// record type, id and name, description, init handler.
func Validate(v starlark.Value, origin core.RuleOrigin) (*CompiledRule, error) {
	if !isRecord(v) {
		return nil, &core.ValidationError{
			RuleName: core.UnnamedRule,
			Reason:   fmt.Sprintf("rule must be a dict or struct, got %s", v.Type()),
		}
	}

	name := core.UnnamedRule
	if s, ok := stringField(v, "name"); ok && s != "" {
		name = s
	}
	invalid := func(fieldName, reason string) error {
		return &core.ValidationError{RuleName: name, Field: fieldName, Reason: reason}
	}

	id, err := requiredString(v, "id", invalid)
	if err != nil {
		return nil, err
	}
	if _, err := requiredString(v, "name", invalid); err != nil {
		return nil, err
	}

	description, ok := stringField(v, "description")
	if !ok {
		// "desc" is the short form used by older rule sources.
		description, ok = stringField(v, "desc")
	}
	if !ok {
		if _, present := field(v, "description"); present {
			return nil, invalid("description", "must be a string")
		}
		return nil, invalid("description", "missing")
	}

	initVal, ok := field(v, "init")
	if !ok {
		return nil, invalid("init", "missing")
	}
	fn, ok := initVal.(starlark.Callable)
	if !ok {
		return nil, invalid("init", fmt.Sprintf("must be callable, got %s", initVal.Type()))
	}
	if !acceptsParserReporter(fn) {
		return nil, invalid("init", "must accept (parser, reporter)")
	}

	v.Freeze()
	return &CompiledRule{
		desc: core.RuleDescriptor{
			ID:          id,
			Name:        name,
			Description: description,
			Origin:      origin,
		},
		init: fn,
	}, nil
}

func stringField(v starlark.Value, name string) (string, bool) {
	val, ok := field(v, name)
	if !ok {
		return "", false
	}
	s, ok := starlark.AsString(val)
	return s, ok
}

func requiredString(v starlark.Value, name string, invalid func(string, string) error) (string, error) {
	val, ok := field(v, name)
	if !ok {
		return "", invalid(name, "missing")
	}
	s, ok := starlark.AsString(val)
	if !ok {
		return "", invalid(name, fmt.Sprintf("must be a string, got %s", val.Type()))
	}
	if s == "" {
		return "", invalid(name, "must not be empty")
	}
	return s, nil
}

// acceptsParserReporter reports whether fn can be called with exactly two
// positional arguments. Builtins are only checked when called.
func acceptsParserReporter(fn starlark.Callable) bool {
	f, ok := fn.(*starlark.Function)
	if !ok {
		return true
	}
	kwonly := f.NumKwonlyParams()
	positional := f.NumParams() - kwonly
	if f.HasVarargs() {
		positional--
	}
	if f.HasKwargs() {
		positional--
	}
	if positional < 2 && !f.HasVarargs() {
		return false
	}
	for i := 2; i < positional; i++ {
		if f.ParamDefault(i) == nil {
			return false
		}
	}
	for i := positional; i < positional+kwonly; i++ {
		if f.ParamDefault(i) == nil {
			return false
		}
	}
	return true
}
