package output

import (
	"bytes"
	"encoding/json"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ansi = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

func TestMode(t *testing.T) {
	tests := map[string]OutputMode{
		"":         ModeAuto,
		"auto":     ModeAuto,
		"TEXT":     ModeText,
		"markdown": ModeMarkdown,
		"md":       ModeMarkdown,
		" json ":   ModeJSON,
		"html":     ModeAuto,
	}
	for in, want := range tests {
		assert.Equal(t, want, Mode(in), "Mode(%q)", in)
	}
}

func TestEffectiveMode(t *testing.T) {
	var out bytes.Buffer
	assert.Equal(t, ModeText, NewRendererWithTTY(&out, &out, true, ModeAuto).EffectiveMode())
	assert.Equal(t, ModeMarkdown, NewRendererWithTTY(&out, &out, false, ModeAuto).EffectiveMode())
	assert.Equal(t, ModeJSON, NewRendererWithTTY(&out, &out, true, ModeJSON).EffectiveMode())
	assert.Equal(t, ModeText, NewRendererWithTTY(&out, &out, false, ModeText).EffectiveMode())
}

func TestNewRenderer_BufferIsNotTTY(t *testing.T) {
	r := NewRenderer(&bytes.Buffer{}, &bytes.Buffer{}, ModeAuto)
	assert.False(t, r.IsTTY())
	assert.Equal(t, ModeMarkdown, r.EffectiveMode())
}

func TestRenderer_NoANSIWithoutTTY(t *testing.T) {
	var out bytes.Buffer
	r := NewRendererWithTTY(&out, &out, false, ModeText)

	r.Header("Lint Results")
	r.Println(r.Success("All clear"), r.Error("boom"), r.Warning("careful"), r.Muted("aside"))

	assert.False(t, ansi.MatchString(out.String()), "unexpected escape codes in %q", out.String())
	assert.Contains(t, out.String(), "Lint Results")
	assert.Contains(t, out.String(), "All clear boom careful aside")
}

func TestRenderer_HeaderMarkdown(t *testing.T) {
	var out bytes.Buffer
	r := NewRendererWithTTY(&out, &out, false, ModeMarkdown)
	r.Header("Rules")
	assert.Equal(t, "# Rules\n\n", out.String())
}

func TestRenderer_Table(t *testing.T) {
	header := []string{"Type", "Line", "Message", "Rule"}
	rows := [][]string{{"warning", "3", "Use of !important", "important"}}

	t.Run("markdown", func(t *testing.T) {
		var out bytes.Buffer
		NewRendererWithTTY(&out, &out, false, ModeMarkdown).Table(header, rows)
		assert.Contains(t, out.String(), "| Type | Line | Message | Rule |")
		assert.Contains(t, out.String(), "| warning | 3 | Use of !important | important |")
	})

	t.Run("text", func(t *testing.T) {
		var out bytes.Buffer
		NewRendererWithTTY(&out, &out, false, ModeText).Table(header, rows)
		assert.Contains(t, out.String(), "TYPE")
		assert.Contains(t, out.String(), "Use of !important")
		assert.NotContains(t, out.String(), "| Type |")
	})
}

func TestRenderer_JSON(t *testing.T) {
	var out bytes.Buffer
	r := NewRendererWithTTY(&out, &out, false, ModeJSON)
	require.NoError(t, r.JSON(map[string]int{"count": 2}))

	var got map[string]int
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, 2, got["count"])
}

func TestRenderer_Errorf(t *testing.T) {
	var out, errOut bytes.Buffer
	r := NewRendererWithTTY(&out, &errOut, false, ModeText)
	r.Errorf("failed: %s\n", "reason")
	assert.Empty(t, out.String())
	assert.Equal(t, "failed: reason\n", errOut.String())
}
