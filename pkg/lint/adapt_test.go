package lint

import (
	"testing"

	"github.com/leapstack-labs/leaplint/pkg/core"
	"github.com/leapstack-labs/leaplint/pkg/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intp(n int) *int { return &n }

func TestAdapt_Messages(t *testing.T) {
	raw := engine.RawResult{Messages: []engine.RawMessage{
		{Type: "warning", Line: intp(3), Col: intp(7), Message: "Use of !important", RuleID: "important"},
		{Type: "error", Line: intp(1), Message: "Bad", RuleID: "errors"},
		{Level: 2, Message: "Numeric error", RuleID: "n2"},
		{Level: 1, Line: intp(9), Message: "Numeric warning", RuleID: "n1"},
	}}

	got := Adapt(raw)
	require.Len(t, got, 4)

	assert.Equal(t, "important", got[0].RuleID)
	assert.Equal(t, core.SeverityWarning, got[0].Severity)
	require.NotNil(t, got[0].Line)
	assert.Equal(t, 3, *got[0].Line)
	assert.Equal(t, 7, *got[0].Column)

	assert.Equal(t, core.SeverityError, got[1].Severity)
	assert.Equal(t, 1, *got[1].Line, "engine order is kept, no re-sort by line")

	assert.Equal(t, core.SeverityError, got[2].Severity)
	assert.Nil(t, got[2].Line, "missing line stays nil")
	assert.False(t, got[2].HasLine())

	assert.Equal(t, core.SeverityWarning, got[3].Severity)
}

func TestAdapt_Results(t *testing.T) {
	raw := engine.RawResult{Results: []engine.RawFileResult{{
		Source: "input.css",
		Warnings: []engine.RawWarning{
			{Line: intp(2), Column: intp(1), Rule: "color-no-invalid-hex", Severity: "error", Text: `Unexpected invalid hex color "#ggg" (color-no-invalid-hex)`},
			{Rule: "block-no-empty", Severity: "warning", Text: "Unexpected empty block"},
		},
	}}}

	got := Adapt(raw)
	require.Len(t, got, 2)

	assert.Equal(t, `Unexpected invalid hex color "#ggg"`, got[0].Message)
	assert.Equal(t, core.SeverityError, got[0].Severity)
	assert.Equal(t, "color-no-invalid-hex", got[0].RuleID)

	assert.Equal(t, "Unexpected empty block", got[1].Message)
	assert.Nil(t, got[1].Line)
}

func TestAdapt_Empty(t *testing.T) {
	got := Adapt(engine.RawResult{})
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestAdapt_DoesNotAliasEngineMemory(t *testing.T) {
	line := 4
	got := Adapt(engine.RawResult{Messages: []engine.RawMessage{{Type: "warning", Line: &line}}})
	line = 99
	assert.Equal(t, 4, *got[0].Line)
}

func TestSeverityFromLevel(t *testing.T) {
	tests := []struct {
		level any
		want  core.Severity
	}{
		{1, core.SeverityWarning},
		{2, core.SeverityError},
		{int64(2), core.SeverityError},
		{float64(1), core.SeverityWarning},
		{float64(2), core.SeverityError},
		{"warning", core.SeverityWarning},
		{"warn", core.SeverityWarning},
		{"error", core.SeverityError},
		{"ERROR", core.SeverityError},
		{"info", core.SeverityWarning},
		{nil, core.SeverityWarning},
		{true, core.SeverityWarning},
		{core.SeverityError, core.SeverityError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, SeverityFromLevel(tt.level), "level %v", tt.level)
	}
}
