package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/specmacro/internal/cli/output"
	"github.com/leapstack-labs/specmacro/internal/dag"
)

// GraphQuerier provides read-only access to the reference graph.
type GraphQuerier interface {
	GetParents(string) []string
	GetChildren(string) []string
	NodeCount() int
	EdgeCount() int
}

// NewGraphCommand creates the graph command.
func NewGraphCommand() *cobra.Command {
	var fromIndex bool

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Show the macro reference graph",
		Long: `Display how the visible macros refer to each other.

Macros are grouped by level: level 0 uses no other macro, and a macro at
level N uses at least one macro at level N-1. When a macro refers to
itself, directly or through others, the cycle is reported and the macros
are listed without levels.

Output adapts to environment:
  - Terminal: Styled output with colors
  - Piped/Scripted: Markdown format`,
		Example: `  # Show the graph
  specmacro graph

  # Output as JSON
  specmacro graph --output json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runGraph(cmd, fromIndex)
		},
	}

	cmd.Flags().BoolVar(&fromIndex, "from-index", false, "Load macros from the definition index")

	return cmd
}

func runGraph(cmd *cobra.Command, fromIndex bool) error {
	cc, err := NewCommandContext(cmd, SetupOptions{FromIndex: fromIndex})
	if err != nil {
		return err
	}
	r := cc.Renderer

	graph := dag.FromContext(cc.Macros)
	out := graphOutput(graph)
	if out.Cycle != nil {
		r.Warning("reference cycle: " + strings.Join(out.Cycle, " -> "))
	}

	switch r.EffectiveMode() {
	case output.ModeJSON:
		return r.JSON(out)
	case output.ModeYAML:
		return r.YAML(out)
	case output.ModeMarkdown:
		graphMarkdown(r, graph, out)
	default:
		graphText(r, graph, out)
	}
	return nil
}

func graphOutput(graph *dag.Graph) output.GraphOutput {
	out := output.GraphOutput{
		Undefined:  graph.Undefined(),
		TotalNodes: graph.NodeCount(),
		TotalEdges: graph.EdgeCount(),
	}
	node := func(id string) output.GraphNode {
		n, _ := graph.GetNode(id)
		return output.GraphNode{
			Name:      id,
			Defined:   n.Defined(),
			DependsOn: graph.GetParents(id),
			UsedBy:    graph.GetChildren(id),
		}
	}

	if hasCycle, path := graph.HasCycle(); hasCycle {
		out.Cycle = path
		for _, n := range graph.GetAllNodes() {
			out.Nodes = append(out.Nodes, node(n.ID))
		}
		return out
	}

	// No cycle, so Levels cannot fail.
	levels, _ := graph.Levels()
	out.Levels = make([]output.GraphLevel, 0, len(levels))
	for i, level := range levels {
		gl := output.GraphLevel{Level: i, Macros: make([]output.GraphNode, 0, len(level))}
		for _, id := range level {
			gl.Macros = append(gl.Macros, node(id))
		}
		out.Levels = append(out.Levels, gl)
	}
	return out
}

// graphText outputs the graph in styled text format.
func graphText(r *output.Renderer, graph GraphQuerier, out output.GraphOutput) {
	styles := r.Styles()

	r.Header(1, "Macro References")

	printNode := func(n output.GraphNode) {
		name := styles.Bold.Render(n.Name)
		if !n.Defined {
			name += " " + styles.Warning.Render("(undefined)")
		}
		r.Printf("  %s\n", name)
		if len(n.DependsOn) > 0 {
			r.Printf("    %s %s\n", styles.Muted.Render("uses:"), strings.Join(n.DependsOn, ", "))
		}
		if len(n.UsedBy) > 0 {
			r.Printf("    %s %s\n", styles.Muted.Render("used by:"), strings.Join(n.UsedBy, ", "))
		}
	}

	for _, level := range out.Levels {
		r.Println(styles.Header2.Render(fmt.Sprintf("Level %d:", level.Level)))
		for _, n := range level.Macros {
			printNode(n)
		}
		r.Println("")
	}
	if out.Nodes != nil {
		r.Println(styles.Header2.Render("Macros (cycle, no levels):"))
		for _, n := range out.Nodes {
			printNode(n)
		}
		r.Println("")
	}

	r.Println(styles.Muted.Render(fmt.Sprintf("Total: %d macros, %d references", graph.NodeCount(), graph.EdgeCount())))
}

// graphMarkdown outputs the graph in markdown format.
func graphMarkdown(r *output.Renderer, graph GraphQuerier, out output.GraphOutput) {
	r.Println(output.FormatHeader(1, "Macro References"))
	r.Println("")

	printNode := func(n output.GraphNode) {
		if n.Defined {
			r.Printf("- %s\n", n.Name)
		} else {
			r.Printf("- %s (undefined)\n", n.Name)
		}
		if len(n.DependsOn) > 0 {
			r.Printf("  - uses: %s\n", strings.Join(n.DependsOn, ", "))
		}
		if len(n.UsedBy) > 0 {
			r.Printf("  - used by: %s\n", strings.Join(n.UsedBy, ", "))
		}
	}

	for _, level := range out.Levels {
		name := fmt.Sprintf("Level %d", level.Level)
		if level.Level == 0 {
			name = "Level 0 (Leaves)"
		}
		r.Println(output.FormatHeader(2, name))
		for _, n := range level.Macros {
			printNode(n)
		}
		r.Println("")
	}
	if out.Cycle != nil {
		r.Println(output.FormatHeader(2, "Macros"))
		r.Println("")
		r.Println("Reference cycle: " + strings.Join(out.Cycle, " -> "))
		r.Println("")
		for _, n := range out.Nodes {
			printNode(n)
		}
		r.Println("")
	}

	r.Println(output.FormatHeader(2, "Summary"))
	r.Println(output.FormatKeyValue("Total Macros", fmt.Sprintf("%d", graph.NodeCount())))
	r.Println(output.FormatKeyValue("Total References", fmt.Sprintf("%d", graph.EdgeCount())))
	if len(out.Undefined) > 0 {
		r.Println(output.FormatKeyValue("Undefined", strings.Join(out.Undefined, ", ")))
	}
}
