package commands

import (
	"encoding/json"
	"testing"

	"github.com/leapstack-labs/leaplint/internal/cli/output"
	"github.com/leapstack-labs/leaplint/internal/cli/testutil"
	"github.com/leapstack-labs/leaplint/internal/session"
	"github.com/leapstack-labs/leaplint/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const siteCSS = `#header {
    color: red !important;
    margin: 0px;
}

.button {
    color: blue;
}
`

func TestLint_Markdown(t *testing.T) {
	setupConfig(t, nil)
	res := execute(t, NewLintCommand(), siteCSS)
	require.NoError(t, res.err)

	assert.Contains(t, res.out, "# Lint Results: <stdin>")
	assert.Contains(t, res.out, "| Type | Line | Col | Message | Rule |")
	assert.Contains(t, res.out, "important")
	assert.Contains(t, res.out, "ids")
	assert.Contains(t, res.out, "zero-units")
	assert.Contains(t, res.out, "0 errors, 3 warnings")
	testutil.AssertNoANSI(t, res.out)
	testutil.AssertValidMarkdown(t, res.out)
}

func TestLint_File(t *testing.T) {
	setupConfig(t, nil)
	path := testutil.WriteCSS(t, "site.css", siteCSS)

	res := execute(t, NewLintCommand(), "", path)
	require.NoError(t, res.err)
	assert.Contains(t, res.out, "Lint Results: "+path)
}

func TestLint_AllClear(t *testing.T) {
	setupConfig(t, nil)
	res := execute(t, NewLintCommand(), ".button { color: blue; }")
	require.NoError(t, res.err)
	assert.Contains(t, res.out, "All clear! No issues found in <stdin>.")
}

func TestLint_JSON(t *testing.T) {
	setupConfig(t, nil)
	res := execute(t, NewLintCommand(), siteCSS, "--format", "json")
	require.NoError(t, res.err)

	var out LintJSONOutput
	require.NoError(t, json.Unmarshal([]byte(res.out), &out))
	assert.Equal(t, "<stdin>", out.File)
	assert.True(t, out.Linted)
	assert.Equal(t, 3, out.Summary.Total)
	assert.Equal(t, 3, out.Summary.Warnings)
	assert.Equal(t, 0, out.Summary.Errors)
	assert.Positive(t, out.EnabledRules)
	for _, d := range out.Diagnostics {
		assert.Equal(t, core.SeverityWarning, d.Severity)
		assert.True(t, d.HasLine())
	}
}

func TestLint_EnableDisable(t *testing.T) {
	setupConfig(t, map[string]string{"RULES_ENABLED": "important"})

	res := execute(t, NewLintCommand(), siteCSS, "--format", "json", "--enable", "ids", "--disable", "important")
	require.NoError(t, res.err)

	var out LintJSONOutput
	require.NoError(t, json.Unmarshal([]byte(res.out), &out))
	require.Len(t, out.Diagnostics, 1)
	assert.Equal(t, "ids", out.Diagnostics[0].RuleID)
	assert.Equal(t, 1, out.EnabledRules)
}

func TestLint_UnknownRule(t *testing.T) {
	setupConfig(t, nil)
	res := execute(t, NewLintCommand(), siteCSS, "--enable", "no-such-rule")
	require.Error(t, res.err)
	assert.ErrorIs(t, res.err, session.ErrUnknownRule)
}

func TestLint_FailOn(t *testing.T) {
	tests := []struct {
		failOn  string
		wantErr bool
	}{
		{FailOnError, false},
		{FailOnWarning, true},
		{FailOnNone, false},
	}
	for _, tt := range tests {
		t.Run(tt.failOn, func(t *testing.T) {
			setupConfig(t, nil)
			res := execute(t, NewLintCommand(), siteCSS, "--fail-on", tt.failOn)
			if tt.wantErr {
				require.ErrorIs(t, res.err, ErrIssuesFound)
				return
			}
			require.NoError(t, res.err)
		})
	}

	t.Run("invalid", func(t *testing.T) {
		setupConfig(t, nil)
		res := execute(t, NewLintCommand(), siteCSS, "--fail-on", "sometimes")
		require.Error(t, res.err)
		assert.Contains(t, res.err.Error(), "invalid --fail-on")
	})
}

func TestLint_MissingBundle(t *testing.T) {
	setupConfig(t, map[string]string{"BUNDLE_URL": "builtin:nope"})
	res := execute(t, NewLintCommand(), siteCSS)
	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), "rule engine unavailable")
}

func TestCheckFailOn(t *testing.T) {
	line := 1
	st := session.State{Diagnostics: []core.Diagnostic{
		{Line: &line, Message: "m", RuleID: "r", Severity: core.SeverityError},
	}}
	require.ErrorIs(t, checkFailOn(FailOnError, st), ErrIssuesFound)
	require.ErrorIs(t, checkFailOn(FailOnWarning, st), ErrIssuesFound)
	require.NoError(t, checkFailOn(FailOnNone, st))
	require.NoError(t, checkFailOn(FailOnError, session.State{}))
}

func TestRenderDiagnostics(t *testing.T) {
	line, col := 3, 7
	withRun := session.State{
		HasRun: true,
		Diagnostics: []core.Diagnostic{
			{Line: &line, Column: &col, Message: "Use of !important", RuleID: "important", Severity: core.SeverityWarning},
			{Message: "Broken rule", RuleID: "custom", Severity: core.SeverityError},
		},
	}

	t.Run("not linted", func(t *testing.T) {
		tr := testutil.NewTestRendererMarkdown()
		require.NoError(t, renderDiagnostics(tr.Renderer, "a.css", session.State{}))
		assert.Contains(t, tr.Output(), "Ready to lint.")
	})

	t.Run("markdown", func(t *testing.T) {
		tr := testutil.NewTestRendererMarkdown()
		require.NoError(t, renderDiagnostics(tr.Renderer, "a.css", withRun))
		out := tr.Output()
		assert.Contains(t, out, "# Lint Results: a.css")
		assert.Contains(t, out, "| warning | 3 | 7 | Use of !important | important |")
		assert.Contains(t, out, "| error | N/A | N/A | Broken rule | custom |")
		assert.Contains(t, out, "1 errors, 1 warnings")
		testutil.AssertOutputMode(t, tr, output.ModeMarkdown)
	})

	t.Run("text", func(t *testing.T) {
		tr := testutil.NewTestRendererText()
		require.NoError(t, renderDiagnostics(tr.Renderer, "a.css", withRun))
		assert.Contains(t, tr.Output(), "Lint Results: a.css")
		assert.Contains(t, tr.Output(), "Use of !important")
	})

	t.Run("json", func(t *testing.T) {
		tr := testutil.NewTestRendererJSON()
		require.NoError(t, renderDiagnostics(tr.Renderer, "a.css", session.State{HasRun: true}))
		var out LintJSONOutput
		require.NoError(t, json.Unmarshal(tr.Out.Bytes(), &out))
		assert.NotNil(t, out.Diagnostics)
		assert.Empty(t, out.Diagnostics)
		testutil.AssertOutputMode(t, tr, output.ModeJSON)
	})
}

func TestPosition(t *testing.T) {
	assert.Equal(t, "N/A", position(nil))
	n := 0
	assert.Equal(t, "0", position(&n))
	n = 12
	assert.Equal(t, "12", position(&n))
}
