package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func newTest(mode OutputMode, isTTY bool) (*Renderer, *bytes.Buffer, *bytes.Buffer) {
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	return NewRendererWithTTY(out, errOut, isTTY, mode), out, errOut
}

var sampleRows = []DefinitionRow{
	{Name: "dist", Body: ".el9", Level: -7, Scope: "cmdline", Used: 2},
	{Name: "greet", Opts: "n:", Body: "hello %{-n*}|x", Level: 0, Scope: "global", Depth: 2},
}

func TestEffectiveMode(t *testing.T) {
	tests := []struct {
		mode  OutputMode
		isTTY bool
		want  OutputMode
	}{
		{ModeAuto, true, ModeText},
		{ModeAuto, false, ModeMarkdown},
		{"", false, ModeMarkdown},
		{ModeJSON, true, ModeJSON},
		{ModeText, false, ModeText},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			r, _, _ := newTest(tt.mode, tt.isTTY)
			assert.Equal(t, tt.want, r.EffectiveMode())
		})
	}
}

func TestNewRenderer_BufferIsNotTTY(t *testing.T) {
	r := NewRenderer(&bytes.Buffer{}, &bytes.Buffer{}, ModeAuto)
	assert.False(t, r.IsTTY())
	assert.Equal(t, ModeMarkdown, r.EffectiveMode())
}

func TestRenderer_Messages(t *testing.T) {
	r, out, errOut := newTest(ModeText, false)

	r.Header(1, "Macros")
	r.Success("done")
	r.Warning("careful")
	r.Error(errors.New("boom"))

	assert.Equal(t, "Macros\ndone\n", out.String())
	assert.Equal(t, "warning: careful\nerror: boom\n", errOut.String())
}

func TestRenderer_MarkdownHeader(t *testing.T) {
	r, out, _ := newTest(ModeMarkdown, false)
	r.Header(2, "Chain")
	assert.Equal(t, "## Chain\n\n", out.String())
}

func TestFormatHelpers(t *testing.T) {
	assert.Equal(t, "### Title", FormatHeader(3, "Title"))
	assert.Equal(t, "- **name:** dist", FormatKeyValue("name", "dist"))
}

func TestDefinitions_Text(t *testing.T) {
	r, out, _ := newTest(ModeText, false)
	require.NoError(t, r.Definitions("Macros", sampleRows, true))

	s := out.String()
	assert.Contains(t, s, "Macros (2)")
	assert.Contains(t, s, "┌")
	assert.Contains(t, s, "greet(n:)")
	assert.Contains(t, s, "CHAIN")
}

func TestDefinitions_Markdown(t *testing.T) {
	r, out, _ := newTest(ModeMarkdown, false)
	require.NoError(t, r.Definitions("Macros", sampleRows, false))

	s := out.String()
	assert.Contains(t, s, "# Macros (2)")
	assert.Contains(t, s, "| Name | Body | Level | Scope | Used |")
	assert.Contains(t, s, "| `dist` | .el9 | -7 | cmdline | 2 |")
	assert.Contains(t, s, `hello %{-n*}\|x`)
	assert.NotContains(t, s, "Chain")
}

func TestDefinitions_MarkdownEmpty(t *testing.T) {
	r, out, _ := newTest(ModeMarkdown, false)
	require.NoError(t, r.Definitions("Macros", nil, false))
	assert.Contains(t, out.String(), "(no definitions)")
}

func TestDefinitions_JSON(t *testing.T) {
	r, out, _ := newTest(ModeJSON, false)
	require.NoError(t, r.Definitions("Macros", sampleRows, false))

	var got []DefinitionRow
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, sampleRows, got)
}

func TestDefinitions_YAML(t *testing.T) {
	r, out, _ := newTest(ModeYAML, false)
	require.NoError(t, r.Definitions("Macros", sampleRows, false))

	assert.Contains(t, out.String(), "name: dist")
	var got []DefinitionRow
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, sampleRows, got)
}

func TestOneLine(t *testing.T) {
	assert.Equal(t, "a⏎b", oneLine("\na\nb\n"))
}
