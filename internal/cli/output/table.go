package output

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// maxBodyWidth truncates long macro bodies in tables.
const maxBodyWidth = 60

// DefinitionRow is one macro in a listing.
type DefinitionRow struct {
	Name   string `json:"name" yaml:"name"`
	Opts   string `json:"opts,omitempty" yaml:"opts,omitempty"`
	Body   string `json:"body" yaml:"body"`
	Level  int    `json:"level" yaml:"level"`
	Scope  string `json:"scope" yaml:"scope"`
	Used   int    `json:"used" yaml:"used"`
	Depth  int    `json:"depth,omitempty" yaml:"depth,omitempty"` // definitions in the chain
	Source string `json:"source,omitempty" yaml:"source,omitempty"`
}

// Signature returns "name" or "name(opts)".
func (d DefinitionRow) Signature() string {
	if d.Opts == "" {
		return d.Name
	}
	return d.Name + "(" + d.Opts + ")"
}

// Definitions renders rows in the effective mode.
func (r *Renderer) Definitions(title string, rows []DefinitionRow, showChain bool) error {
	switch r.EffectiveMode() {
	case ModeJSON:
		return r.JSON(rows)
	case ModeYAML:
		return r.YAML(rows)
	case ModeMarkdown:
		r.definitionsMarkdown(title, rows, showChain)
	default:
		r.definitionsTable(title, rows, showChain)
	}
	return nil
}

func (r *Renderer) definitionsTable(title string, rows []DefinitionRow, showChain bool) {
	r.Header(1, fmt.Sprintf("%s (%d)", title, len(rows)))

	t := table.NewWriter()
	t.SetOutputMirror(r.out)
	t.SetStyle(table.StyleLight)
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Body", WidthMax: maxBodyWidth, WidthMaxEnforcer: text.Trim},
		{Name: "Level", Align: text.AlignRight},
		{Name: "Used", Align: text.AlignRight},
	})

	header := table.Row{"Name", "Body", "Level", "Scope", "Used"}
	if showChain {
		header = append(header, "Chain")
	}
	t.AppendHeader(header)

	for _, d := range rows {
		row := table.Row{d.Signature(), oneLine(d.Body), d.Level, d.Scope, d.Used}
		if showChain {
			row = append(row, d.Depth)
		}
		t.AppendRow(row)
	}
	t.Render()
}

func (r *Renderer) definitionsMarkdown(title string, rows []DefinitionRow, showChain bool) {
	r.Println(FormatHeader(1, fmt.Sprintf("%s (%d)", title, len(rows))))
	r.Println("")
	if len(rows) == 0 {
		r.Println("(no definitions)")
		return
	}

	cols := []string{"Name", "Body", "Level", "Scope", "Used"}
	if showChain {
		cols = append(cols, "Chain")
	}
	r.Printf("| %s |\n", strings.Join(cols, " | "))
	seps := make([]string, len(cols))
	for i := range seps {
		seps[i] = "---"
	}
	r.Printf("| %s |\n", strings.Join(seps, " | "))

	for _, d := range rows {
		values := []string{
			"`" + d.Signature() + "`",
			escapeMarkdown(oneLine(d.Body)),
			fmt.Sprint(d.Level),
			d.Scope,
			fmt.Sprint(d.Used),
		}
		if showChain {
			values = append(values, fmt.Sprint(d.Depth))
		}
		r.Printf("| %s |\n", strings.Join(values, " | "))
	}
}

// oneLine folds a multi-line body for table cells.
func oneLine(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), "\n", "⏎")
}

func escapeMarkdown(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
