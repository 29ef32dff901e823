package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTest(mode Mode, isTTY bool) (*Renderer, *bytes.Buffer, *bytes.Buffer) {
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	return NewRendererWithTTY(out, errOut, isTTY, mode), out, errOut
}

func TestEffectiveMode(t *testing.T) {
	tests := []struct {
		name  string
		mode  Mode
		isTTY bool
		want  Mode
	}{
		{name: "auto on terminal", mode: ModeAuto, isTTY: true, want: ModeText},
		{name: "auto piped", mode: ModeAuto, isTTY: false, want: ModeMarkdown},
		{name: "empty means auto", mode: "", isTTY: false, want: ModeMarkdown},
		{name: "explicit json", mode: ModeJSON, isTTY: true, want: ModeJSON},
		{name: "explicit text piped", mode: ModeText, isTTY: false, want: ModeText},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _, _ := newTest(tt.mode, tt.isTTY)
			assert.Equal(t, tt.want, r.EffectiveMode())
		})
	}
}

func TestModeValid(t *testing.T) {
	for _, m := range Modes() {
		assert.True(t, m.Valid(), m)
	}
	assert.True(t, Mode("").Valid())
	assert.False(t, Mode("csv").Valid())
}

func TestYAML(t *testing.T) {
	r, out, _ := newTest(ModeYAML, false)
	doc := struct {
		SourceTable string   `json:"source_table"`
		Filters     []string `json:"filters"`
		Count       string   `json:"count"`
	}{SourceTable: "orders", Filters: []string{"amount > 10"}, Count: "42"}

	require.NoError(t, r.YAML(doc))
	assert.Contains(t, out.String(), "source_table: orders\n")
	assert.Contains(t, out.String(), "- amount > 10\n")
	assert.Contains(t, out.String(), `count: "42"`)
	assert.NotContains(t, out.String(), "{")
}

func TestDocument(t *testing.T) {
	r, out, _ := newTest(ModeJSON, false)
	ok, err := r.Document(map[string]int{"a": 1})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"a":1}`, out.String())

	r, out, _ = newTest(ModeText, false)
	ok, err = r.Document(map[string]int{"a": 1})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, out.String())
}

func TestTable(t *testing.T) {
	t.Run("markdown", func(t *testing.T) {
		r, out, _ := newTest(ModeMarkdown, false)
		r.Table([]string{"Unit", "SQL"}, [][]string{{"t", "SELECT 1"}})
		assert.Contains(t, out.String(), "| t | SELECT 1 |")
	})

	t.Run("text", func(t *testing.T) {
		r, out, _ := newTest(ModeText, false)
		r.Table([]string{"Unit", "SQL"}, [][]string{{"t", "SELECT 1"}})
		assert.Contains(t, out.String(), "┌")
		assert.Contains(t, out.String(), "SELECT 1")
	})
}

func TestMessages(t *testing.T) {
	r, out, errOut := newTest(ModeMarkdown, false)
	r.Header(2, "Units")
	r.Success("done")
	r.Warning("careful")
	r.Error("broken")

	assert.Equal(t, "## Units\n\ndone\n", out.String())
	assert.Equal(t, "careful\nbroken\n", errOut.String())
	assert.NotContains(t, out.String(), "\x1b[")
}

func TestLabel(t *testing.T) {
	r, _, _ := newTest(ModeText, false)
	assert.Equal(t, "Group Key", r.Label("group_key"))
	assert.Equal(t, "Filters", r.Label("filters"))
}
