package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/specmacro/internal/cli/output"
	"github.com/leapstack-labs/specmacro/internal/macro"
	"github.com/leapstack-labs/specmacro/internal/macrofile"
)

// DumpOptions holds options for the dump command.
type DumpOptions struct {
	All       bool
	Raw       bool
	FromIndex bool
	NoMacros  bool
}

// NewDumpCommand creates the dump command.
func NewDumpCommand() *cobra.Command {
	opts := &DumpOptions{}

	cmd := &cobra.Command{
		Use:   "dump [NAME...]",
		Short: "List macro definitions",
		Long: `List the visible macro definitions after loading the macro path and
command-line defines.

With NAME arguments only those macros are listed. --all adds the number of
definitions in each macro's chain, or with NAME lists every shadowed
definition as well.

Output adapts to environment:
  - Terminal: Styled table
  - Piped/Scripted: Markdown format

Use --output to override: auto, text, markdown, json, yaml`,
		Example: `  # List all macros
  specmacro dump

  # Show every definition of one macro as JSON
  specmacro dump --all -o json dist

  # Print the classic %dump listing
  specmacro dump --raw`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(cmd, args, opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.All, "all", "a", false, "Include shadowed definitions")
	cmd.Flags().BoolVar(&opts.Raw, "raw", false, "Print the %dump listing instead of a table")
	cmd.Flags().BoolVar(&opts.FromIndex, "from-index", false, "Load macros from the definition index")
	cmd.Flags().BoolVar(&opts.NoMacros, "no-macros", false, "Do not read the macro path")

	return cmd
}

func runDump(cmd *cobra.Command, names []string, opts *DumpOptions) error {
	cc, err := NewCommandContext(cmd, SetupOptions{FromIndex: opts.FromIndex, NoMacros: opts.NoMacros})
	if err != nil {
		return err
	}
	r := cc.Renderer

	if opts.Raw {
		return cc.Macros.Dump(r.Writer())
	}

	rows, err := dumpRows(cc.Macros, names, opts.All, definitionSources(cc.Results))
	if err != nil {
		return err
	}

	title := "Macros"
	if cc.Run != nil {
		title = fmt.Sprintf("Macros (index %s)", shortID(cc.Run.ID))
	}
	return r.Definitions(title, rows, opts.All && len(names) == 0)
}

// dumpRows lists the visible entries of mc, or the named ones. With all,
// named macros list their whole chain and unnamed listings count it.
func dumpRows(mc *macro.Context, names []string, all bool, sources map[string]string) ([]output.DefinitionRow, error) {
	if len(names) == 0 {
		entries := mc.Entries()
		rows := make([]output.DefinitionRow, 0, len(entries))
		for _, e := range entries {
			row := definitionRow(e, sources)
			if all {
				row.Depth = len(mc.Chain(e.Name))
			}
			rows = append(rows, row)
		}
		return rows, nil
	}

	var rows []output.DefinitionRow
	for _, name := range names {
		chain := mc.Chain(name)
		if len(chain) == 0 {
			return nil, fmt.Errorf("macro %q is not defined", name)
		}
		if !all {
			chain = chain[:1]
		}
		for _, e := range chain {
			rows = append(rows, definitionRow(e, sources))
		}
	}
	return rows, nil
}

func definitionRow(e macro.Entry, sources map[string]string) output.DefinitionRow {
	row := output.DefinitionRow{
		Name:  e.Name,
		Opts:  e.Opts,
		Body:  e.Body,
		Level: int(e.Level),
		Scope: e.Level.String(),
		Used:  e.Used,
	}
	if e.Level == macro.LevelMacroFiles {
		row.Source = sources[e.Name]
	}
	return row
}

// definitionSources maps each name to the file and line of its last
// definition in the macro path.
func definitionSources(results []macrofile.LoadResult) map[string]string {
	sources := make(map[string]string)
	for _, res := range results {
		for _, d := range res.Definitions {
			sources[d.Name] = fmt.Sprintf("%s:%d", res.File, d.Line)
		}
	}
	return sources
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
