package starengine

import (
	"context"
	"io/fs"
	"strings"
	"testing"
	"time"

	starctx "github.com/leapstack-labs/leaplint/internal/starlark"
	"github.com/leapstack-labs/leaplint/internal/testutil"
	"github.com/leapstack-labs/leaplint/pkg/core"
	"github.com/leapstack-labs/leaplint/pkg/engine"
	"github.com/leapstack-labs/leaplint/pkg/engine/enginetest"
	"github.com/leapstack-labs/leaplint/pkg/lint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newInstalled(t *testing.T) *Engine {
	t.Helper()
	e := New(WithLogger(testutil.NewTestLogger(t)))
	bundle, err := fs.ReadFile(Bundles(), DefaultBundle+".star")
	require.NoError(t, err)
	require.NoError(t, e.Install(bundle))
	return e
}

func only(ids ...string) engine.Ruleset {
	rs := engine.Ruleset{}
	for _, id := range ids {
		rs[id] = 1
	}
	return rs
}

func TestEngine_InstallDefaultBundle(t *testing.T) {
	e := newInstalled(t)

	rules := e.Rules()
	require.NotEmpty(t, rules)

	ids := make(map[string]bool)
	for _, r := range rules {
		assert.Equal(t, core.OriginBuiltin, r.Origin)
		assert.NotEmpty(t, r.Name)
		ids[r.ID] = true
	}
	for _, id := range DefaultEnabled {
		assert.True(t, ids[id], "default-enabled rule %q is in the bundle", id)
	}
	assert.True(t, ids["order-alphabetical"])
}

func TestEngine_ImportantScenario(t *testing.T) {
	e := newInstalled(t)

	raw, err := e.Verify("body { color: red !important; }", only("important"))
	require.NoError(t, err)

	diags := lint.Adapt(raw)
	require.Len(t, diags, 1)
	assert.Equal(t, "important", diags[0].RuleID)
	assert.Equal(t, core.SeverityWarning, diags[0].Severity)
	require.NotNil(t, diags[0].Line)
	assert.Equal(t, 1, *diags[0].Line)
}

func TestEngine_EmptySource(t *testing.T) {
	e := newInstalled(t)

	rs := engine.Ruleset{}
	for _, r := range e.Rules() {
		rs[r.ID] = 1
	}
	raw, err := e.Verify("", rs)
	require.NoError(t, err)
	assert.Empty(t, lint.Adapt(raw))
}

func TestEngine_BuiltinRules(t *testing.T) {
	tests := []struct {
		rule    string
		src     string
		want    int
		message string
	}{
		{"ids", "#a { color: red; }", 1, "Don't use IDs in selectors."},
		{"ids", "#a #b { color: red; }", 1, "2 IDs in the selector, really?"},
		{"zero-units", "a { margin: 0px; padding: 0; }", 1, "Values of 0 shouldn't have units specified."},
		{"empty-rules", "a {}\nb { color: red; }", 1, "Rule is empty."},
		{"universal-selector", "div * { color: red; }", 1, "The universal selector (*) is known to be slow."},
		{"unqualified-attributes", "[type=text] { color: red; }", 1, "Unqualified attribute selectors are known to be slow."},
		{"adjoining-classes", ".a.b { color: red; }", 1, "Adjoining classes: .a.b"},
		{"box-sizing", "a { box-sizing: border-box; }", 1, ""},
		{"duplicate-properties", "a { color: red; width: 1px; color: blue; }", 1, "Duplicate property 'color' found."},
		{"duplicate-properties", "a { color: red; color: blue; }", 0, ""},
		{"star-property-hack", "a { *width: 1px; }", 1, "Property with star prefix found."},
		{"underscore-hack", "a { _width: 1px; }", 1, "Property with underscore prefix found."},
		{"outline-none", "a { outline: none; }\na:focus { outline: 0; }", 1, "Outlines should only be modified using :focus."},
		{"import", "@import 'x.css';", 1, ""},
		{"known-properties", "a { colour: red; -webkit-foo: 1; color: red; }", 1, "Unknown property 'colour'."},
		{"display-property-grouping", "a { display: inline; float: left; }", 1, "float can't be used with display: inline."},
		{"shorthand", "a { margin-top: 1px; margin-right: 1px; margin-bottom: 1px; margin-left: 1px; }", 1, ""},
		{"text-indent", "a { text-indent: -9999px; }\nb { text-indent: -9999px; direction: ltr; }", 1, ""},
		{"qualified-headings", "div h1 { color: red; }", 1, "Heading (h1) should not be qualified."},
		{"unique-headings", "h2 { color: red; }\nh2 { margin: 1px; }", 1, "Heading (h2) has already been defined."},
		{"overqualified-elements", "li.active { color: red; }", 1, "Element (li.active) is overqualified, just use .active without element name."},
		{"overqualified-elements", "li.active { color: red; }\na.active { color: blue; }", 0, ""},
		{"order-alphabetical", "a { width: 1px; color: red; }", 1, ""},
		{"errors", "a { color red; }", 1, "Expected ':' after property 'color red'"},
	}

	e := newInstalled(t)
	for _, tt := range tests {
		t.Run(tt.rule+"/"+tt.src, func(t *testing.T) {
			raw, err := e.Verify(tt.src, only(tt.rule))
			require.NoError(t, err)
			require.Len(t, raw.Messages, tt.want, "messages: %+v", raw.Messages)
			for _, m := range raw.Messages {
				assert.Equal(t, tt.rule, m.RuleID)
			}
			if tt.message != "" {
				assert.Equal(t, tt.message, raw.Messages[0].Message)
			}
		})
	}
}

func TestEngine_ErrorsRuleReportsErrors(t *testing.T) {
	e := newInstalled(t)
	raw, err := e.Verify("}", only("errors"))
	require.NoError(t, err)

	diags := lint.Adapt(raw)
	require.Len(t, diags, 1)
	assert.Equal(t, core.SeverityError, diags[0].Severity)
}

func TestEngine_RollupHasNoLine(t *testing.T) {
	e := newInstalled(t)
	src := strings.Repeat("a { float: left; }\n", 10)

	raw, err := e.Verify(src, only("floats"))
	require.NoError(t, err)

	diags := lint.Adapt(raw)
	require.Len(t, diags, 1)
	assert.Nil(t, diags[0].Line)
	assert.Contains(t, diags[0].Message, "Too many floats (10)")
}

func TestEngine_SeverityFromToken(t *testing.T) {
	e := newInstalled(t)
	raw, err := e.Verify("#a { color: red; }", engine.Ruleset{"ids": 2})
	require.NoError(t, err)
	require.Len(t, raw.Messages, 1)
	assert.Equal(t, "error", raw.Messages[0].Type)
}

func TestEngine_MessagesOrderedByPosition(t *testing.T) {
	e := newInstalled(t)
	src := "#a { color: red !important; }\n#b { margin: 0px; }"

	raw, err := e.Verify(src, only("important", "ids", "zero-units"))
	require.NoError(t, err)
	require.Len(t, raw.Messages, 4)

	var lines []int
	for _, m := range raw.Messages {
		lines = append(lines, *m.Line)
	}
	assert.Equal(t, []int{1, 1, 2, 2}, lines)
	assert.Equal(t, "ids", raw.Messages[0].RuleID, "selector column precedes declaration column")
}

func TestEngine_CustomRules(t *testing.T) {
	e := newInstalled(t)
	_, rule, err := starctx.NewCompiler().Compile(ExampleRule)
	require.NoError(t, err)

	require.NoError(t, e.Register(rule))
	assert.Error(t, e.Register(rule), "duplicate ids are rejected")

	src := "a { z-index: 100; }\nb { z-index: 5; }"
	raw, err := e.Verify(src, only("high-z-index"))
	require.NoError(t, err)
	require.Len(t, raw.Messages, 1)
	assert.Equal(t, "High z-index value (100). Consider refactoring.", raw.Messages[0].Message)

	e.Unregister("high-z-index")
	raw, err = e.Verify(src, only("high-z-index"))
	require.NoError(t, err)
	assert.Empty(t, raw.Messages)
	assert.NoError(t, e.Register(rule), "id is free again")
}

func TestEngine_RegisterRejects(t *testing.T) {
	e := newInstalled(t)

	assert.Error(t, e.Register(enginetest.Handle{ID: "x"}), "foreign handle")

	_, clash, err := starctx.NewCompiler().Compile(`{"id": "ids", "name": "Mine", "description": "", "init": lambda p, r: None}`)
	require.NoError(t, err)
	assert.Error(t, e.Register(clash), "collides with a built-in")
}

func TestEngine_FailingRuleIsReported(t *testing.T) {
	e := newInstalled(t)
	src := "def _init(parser, reporter):\n    parser.add_listener(\"property\", lambda event: 1 // 0)\nrule = {\"id\": \"boom\", \"name\": \"Boom\", \"description\": \"\", \"init\": _init}\n"
	_, rule, err := starctx.NewCompiler().Compile(src)
	require.NoError(t, err)
	require.NoError(t, e.Register(rule))

	raw, err := e.Verify("a { color: red; width: 1px; }\n#x {}", only("boom", "ids"))
	require.NoError(t, err)

	var boom, ids int
	for _, m := range raw.Messages {
		switch m.RuleID {
		case "boom":
			boom++
			assert.Equal(t, "error", m.Type)
		case "ids":
			ids++
		}
	}
	assert.Equal(t, 1, boom, "a failing rule reports once and is silenced")
	assert.Equal(t, 1, ids, "other rules keep running")
}

func TestEngine_RunawayRuleIsBounded(t *testing.T) {
	e := New(WithMaxSteps(10_000))
	bundle, err := fs.ReadFile(Bundles(), DefaultBundle+".star")
	require.NoError(t, err)
	require.NoError(t, e.Install(bundle))

	src := "def _init(parser, reporter):\n    parser.add_listener(\"property\", lambda event: [i for i in range(100000000)])\nrule = {\"id\": \"slow\", \"name\": \"Slow\", \"description\": \"\", \"init\": _init}\n"
	_, rule, err := starctx.NewCompiler().Compile(src)
	require.NoError(t, err)
	require.NoError(t, e.Register(rule))

	raw, err := e.Verify("a { color: red; }", only("slow"))
	require.NoError(t, err)
	require.Len(t, raw.Messages, 1)
	assert.Contains(t, raw.Messages[0].Message, "too many steps")
}

func TestEngine_VerifyBeforeInstall(t *testing.T) {
	_, err := New().Verify("a {}", only("empty-rules"))
	assert.ErrorIs(t, err, ErrNotInstalled)
}

func TestEngine_InstallRejectsBadBundles(t *testing.T) {
	tests := []struct {
		name   string
		bundle string
	}{
		{"syntax error", "rules = ["},
		{"no rules global", "x = 1"},
		{"not a list", "rules = 3"},
		{"invalid rule", `rules = [{"id": "a", "name": "A", "description": ""}]`},
		{"duplicate ids", `rules = [{"id": "a", "name": "A", "description": "", "init": lambda p, r: None}, {"id": "a", "name": "B", "description": "", "init": lambda p, r: None}]`},
		{"load", `load("x.star", "y")` + "\nrules = []"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New()
			assert.Error(t, e.Install([]byte(tt.bundle)))
			assert.Empty(t, e.Rules())
		})
	}
}

func TestAsyncEngine_Lint(t *testing.T) {
	a := NewAsync(newInstalled(t))
	assert.Equal(t, true, a.EnableToken())
	assert.True(t, a.RequiresInput())

	p := a.Lint(context.Background(), engine.Request{
		Code:        "body { color: red !important; }",
		RulesConfig: engine.Ruleset{"important": true},
	})
	raw, err := p.Wait(context.Background())
	require.NoError(t, err)

	require.Len(t, raw.Results, 1)
	assert.Equal(t, InputSource, raw.Results[0].Source)
	require.Len(t, raw.Results[0].Warnings, 1)
	w := raw.Results[0].Warnings[0]
	assert.Equal(t, "important", w.Rule)
	assert.Equal(t, "warning", w.Severity)
	assert.Equal(t, "Use of !important (important)", w.Text)

	diags := lint.Adapt(raw)
	require.Len(t, diags, 1)
	assert.Equal(t, "Use of !important", diags[0].Message)
}

func TestAsyncEngine_EmptyCodeRejected(t *testing.T) {
	a := NewAsync(newInstalled(t))
	_, err := a.Lint(context.Background(), engine.Request{RulesConfig: engine.Ruleset{"ids": true}}).Wait(context.Background())
	assert.Error(t, err)
}

func TestAsyncEngine_Cancel(t *testing.T) {
	a := NewAsync(newInstalled(t), WithLatency(time.Hour))
	ctx, cancel := context.WithCancel(context.Background())

	p := a.Lint(ctx, engine.Request{Code: "a {}", RulesConfig: engine.Ruleset{"empty-rules": true}})
	cancel()

	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("pending did not settle after cancel")
	}
	_, err := p.Result()
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAdapterCapabilities(t *testing.T) {
	var sync engine.Adapter = New()
	var async engine.Adapter = NewAsync(New())

	_, ok := sync.(engine.SyncAdapter)
	assert.True(t, ok)
	_, ok = sync.(engine.AsyncAdapter)
	assert.False(t, ok)

	_, ok = async.(engine.AsyncAdapter)
	assert.True(t, ok)
	_, ok = async.(engine.SyncAdapter)
	assert.False(t, ok, "async engine must not also look synchronous")
}
