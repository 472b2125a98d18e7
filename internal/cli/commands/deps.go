package commands

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/specmacro/internal/cli/output"
	"github.com/leapstack-labs/specmacro/internal/dag"
)

// DepsOptions holds options for the deps command.
type DepsOptions struct {
	Upstream   bool
	Downstream bool
	Depth      int
	FromIndex  bool
}

// NewDepsCommand creates the deps command.
func NewDepsCommand() *cobra.Command {
	opts := &DepsOptions{}

	cmd := &cobra.Command{
		Use:   "deps NAME",
		Short: "Show what a macro uses and what uses it",
		Long: `Display the macros a definition refers to (upstream) and the macros whose
bodies refer to it (downstream).

References are found by scanning bodies without expanding them, so names
built at expansion time are not seen.`,
		Example: `  # Show both directions
  specmacro deps _bindir

  # Only the macros _bindir uses
  specmacro deps _bindir --downstream=false

  # Direct users only, as JSON
  specmacro deps _prefix --upstream=false --depth 1 -o json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeps(cmd, args[0], opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Upstream, "upstream", true, "Include macros NAME uses")
	cmd.Flags().BoolVar(&opts.Downstream, "downstream", true, "Include macros that use NAME")
	cmd.Flags().IntVar(&opts.Depth, "depth", 0, "Max traversal depth (0 = unlimited)")
	cmd.Flags().BoolVar(&opts.FromIndex, "from-index", false, "Load macros from the definition index")

	return cmd
}

func runDeps(cmd *cobra.Command, name string, opts *DepsOptions) error {
	if opts.Depth < 0 {
		return fmt.Errorf("--depth must not be negative")
	}
	cc, err := NewCommandContext(cmd, SetupOptions{FromIndex: opts.FromIndex})
	if err != nil {
		return err
	}

	graph := dag.FromContext(cc.Macros)
	node, ok := graph.GetNode(name)
	if !ok {
		return fmt.Errorf("macro %q is neither defined nor referenced", name)
	}

	out := depsOutput(graph, node, opts)

	r := cc.Renderer
	switch r.EffectiveMode() {
	case output.ModeJSON:
		return r.JSON(out)
	case output.ModeYAML:
		return r.YAML(out)
	case output.ModeMarkdown:
		depsMarkdown(r, out, opts)
	default:
		depsText(r, out, opts)
	}
	return nil
}

func depsOutput(graph *dag.Graph, node *dag.Node, opts *DepsOptions) output.DepsOutput {
	out := output.DepsOutput{Root: node.ID, Edges: []output.GraphEdge{}}
	if node.Defined() {
		out.Body = node.Entry.Body
	}

	nodeSet := map[string]bool{node.ID: true}
	if opts.Upstream {
		out.Upstream = graph.GetUpstreamNodes(node.ID, opts.Depth)
		for _, n := range out.Upstream {
			nodeSet[n] = true
		}
	}
	if opts.Downstream {
		out.Downstream = graph.GetDownstreamNodes(node.ID, opts.Depth)
		for _, n := range out.Downstream {
			nodeSet[n] = true
		}
	}

	ids := make([]string, 0, len(nodeSet))
	for id := range nodeSet {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	// Only edges between nodes in the set
	for _, id := range ids {
		if n, _ := graph.GetNode(id); !n.Defined() {
			out.Undefined = append(out.Undefined, id)
		}
		for _, parent := range graph.GetParents(id) {
			if nodeSet[parent] {
				out.Edges = append(out.Edges, output.GraphEdge{From: parent, To: id})
			}
		}
	}
	return out
}

func depsText(r *output.Renderer, out output.DepsOutput, opts *DepsOptions) {
	styles := r.Styles()
	undefined := make(map[string]bool, len(out.Undefined))
	for _, u := range out.Undefined {
		undefined[u] = true
	}
	item := func(name string) {
		if undefined[name] {
			r.Printf("  - %s %s\n", name, styles.Warning.Render("(undefined)"))
			return
		}
		r.Printf("  - %s\n", name)
	}

	r.Header(1, "References for: "+out.Root)
	if undefined[out.Root] {
		r.Warning(out.Root + " is referenced but not defined")
	}
	r.Println("")

	if opts.Upstream {
		r.Println(styles.Header2.Render(fmt.Sprintf("Uses (%d):", len(out.Upstream))))
		for _, n := range out.Upstream {
			item(n)
		}
		r.Println("")
	}
	if opts.Downstream {
		r.Println(styles.Header2.Render(fmt.Sprintf("Used by (%d):", len(out.Downstream))))
		for _, n := range out.Downstream {
			item(n)
		}
	}
}

func depsMarkdown(r *output.Renderer, out output.DepsOutput, opts *DepsOptions) {
	undefined := make(map[string]bool, len(out.Undefined))
	for _, u := range out.Undefined {
		undefined[u] = true
	}
	item := func(name string) {
		if undefined[name] {
			r.Printf("- `%s` (undefined)\n", name)
			return
		}
		r.Printf("- `%s`\n", name)
	}

	r.Println(output.FormatHeader(1, "References for "+out.Root))
	r.Println("")
	if undefined[out.Root] {
		r.Println("_referenced but not defined_")
		r.Println("")
	}
	if opts.Upstream {
		r.Println(output.FormatHeader(2, fmt.Sprintf("Uses (%d)", len(out.Upstream))))
		for _, n := range out.Upstream {
			item(n)
		}
		r.Println("")
	}
	if opts.Downstream {
		r.Println(output.FormatHeader(2, fmt.Sprintf("Used by (%d)", len(out.Downstream))))
		for _, n := range out.Downstream {
			item(n)
		}
	}
}
