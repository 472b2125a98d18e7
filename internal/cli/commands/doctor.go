package commands

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/leapstack-labs/specmacro/internal/cli/output"
	"github.com/leapstack-labs/specmacro/internal/dag"
	"github.com/leapstack-labs/specmacro/internal/macro"
	"github.com/leapstack-labs/specmacro/internal/macrofile"
	"github.com/leapstack-labs/specmacro/internal/state"
)

// NewDoctorCommand creates the doctor command.
func NewDoctorCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the macro setup for problems",
		Long: `Load the macro path and report problems grouped by area:
- Files: missing or unreadable macro files, malformed definition lines
- References: macros used but never defined, reference cycles
- Runtime: shell escapes, definition index freshness

A health score (0-100) and recommendations close the report.

Output adapts to environment:
  - Terminal: Styled output with colors
  - Piped/Scripted: Markdown format
  - JSON/YAML with --output`,
		Example: `  # Run the checks
  specmacro doctor

  # Output as JSON
  specmacro doctor -o json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd)
		},
	}

	return cmd
}

// DoctorOutput is the JSON output for the doctor command.
type DoctorOutput struct {
	Summary         MacroSummary  `json:"summary" yaml:"summary"`
	HealthChecks    []HealthCheck `json:"health_checks" yaml:"health_checks"`
	Score           int           `json:"score" yaml:"score"`
	Recommendations []string      `json:"recommendations" yaml:"recommendations"`
	IssueCount      int           `json:"issue_count" yaml:"issue_count"`
}

// MacroSummary contains statistics about the loaded macros.
type MacroSummary struct {
	Files         int `json:"files" yaml:"files"`
	Macros        int `json:"macros" yaml:"macros"`
	Parameterized int `json:"parameterized" yaml:"parameterized"`
	Shadowed      int `json:"shadowed" yaml:"shadowed"`
	References    int `json:"references" yaml:"references"`
	GraphDepth    int `json:"graph_depth" yaml:"graph_depth"`
}

// HealthCheck represents a single health check result.
type HealthCheck struct {
	RuleID     string   `json:"rule_id" yaml:"rule_id"`
	Name       string   `json:"name" yaml:"name"`
	Group      string   `json:"group" yaml:"group"`
	Status     string   `json:"status" yaml:"status"` // "pass", "warn", "error"
	IssueCount int      `json:"issue_count" yaml:"issue_count"`
	Details    []string `json:"details,omitempty" yaml:"details,omitempty"`
}

// check builds a HealthCheck whose status follows its issues.
func check(id, name, group, failStatus string, details []string) HealthCheck {
	status := "pass"
	if len(details) > 0 {
		status = failStatus
	}
	return HealthCheck{
		RuleID:     id,
		Name:       name,
		Group:      group,
		Status:     status,
		IssueCount: len(details),
		Details:    details,
	}
}

func runDoctor(cmd *cobra.Command) error {
	cc, err := NewCommandContext(cmd, SetupOptions{})
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	graph := dag.FromContext(cc.Macros)
	checks := fileChecks(cc.Results)
	checks = append(checks, referenceChecks(cc.Macros, graph)...)
	checks = append(checks, runtimeChecks(ctx, cc)...)

	out := buildDoctorOutput(cc.Macros, cc.Results, graph, checks)

	r := cc.Renderer
	switch r.EffectiveMode() {
	case output.ModeJSON:
		return r.JSON(out)
	case output.ModeYAML:
		return r.YAML(out)
	case output.ModeMarkdown:
		renderDoctorMarkdown(r, out)
	default:
		renderDoctorText(r, out)
	}
	return nil
}

func fileChecks(results []macrofile.LoadResult) []HealthCheck {
	var unreadable, missing, malformed []string
	for _, res := range results {
		switch {
		case errors.Is(res.Err, fs.ErrNotExist):
			missing = append(missing, res.File)
		case res.Err != nil:
			unreadable = append(unreadable, res.Err.Error())
		}
		for _, s := range res.Skipped {
			malformed = append(malformed, fmt.Sprintf("%s:%d: %v", res.File, s.Line, s.Err))
		}
	}
	return []HealthCheck{
		check("MF01", "Macro files readable", "files", "error", unreadable),
		check("MF02", "Macro files present", "files", "warn", missing),
		check("MF03", "Definition lines well-formed", "files", "warn", malformed),
	}
}

func referenceChecks(mc *macro.Context, graph *dag.Graph) []HealthCheck {
	users := make(map[string][]string)
	for _, e := range mc.Entries() {
		for _, ref := range macro.RequiredReferences(e.Body) {
			if _, ok := mc.Lookup(ref); !ok {
				users[ref] = append(users[ref], e.Name)
			}
		}
	}
	undefined := make([]string, 0, len(users))
	for name, by := range users {
		undefined = append(undefined, fmt.Sprintf("%s (used by %s)", name, strings.Join(by, ", ")))
	}
	sort.Strings(undefined)

	var cycle []string
	if hasCycle, path := graph.HasCycle(); hasCycle {
		cycle = []string{strings.Join(path, " -> ")}
	}

	return []HealthCheck{
		check("MR01", "References resolve", "references", "warn", undefined),
		check("MR02", "No reference cycles", "references", "warn", cycle),
	}
}

func runtimeChecks(ctx context.Context, cc *CommandContext) []HealthCheck {
	var shellIssues []string
	out, err := cc.Expand(ctx, macro.NewContext("doctor"), "%(echo ok)")
	switch {
	case err != nil:
		shellIssues = append(shellIssues, err.Error())
	case out != "ok":
		shellIssues = append(shellIssues, fmt.Sprintf("%s shell printed %q for 'echo ok'", cc.Cfg.Shell, out))
	}

	return []HealthCheck{
		check("RT01", "Shell escapes run", "runtime", "error", shellIssues),
		check("RT02", "Definition index current", "runtime", "warn", indexIssues(ctx, cc)),
	}
}

// indexIssues compares the latest index run with the macro path. A
// missing index is not a problem.
func indexIssues(ctx context.Context, cc *CommandContext) []string {
	if _, err := os.Stat(cc.Cfg.StatePath); err != nil {
		return nil
	}
	store, err := openStore(cc.Cfg.StatePath, false, cc.Logger)
	if err != nil {
		return []string{err.Error()}
	}
	defer func() { _ = store.Close() }()

	run, err := store.LatestRun(ctx)
	if errors.Is(err, state.ErrNoRuns) {
		return nil
	}
	if err != nil {
		return []string{err.Error()}
	}

	var issues []string
	if run.MacroPath != cc.Cfg.MacroPathList() {
		issues = append(issues, fmt.Sprintf("index %s was built for macro path %q", shortID(run.ID), run.MacroPath))
	}
	for _, res := range cc.Results {
		if !res.Found {
			continue
		}
		if info, err := os.Stat(res.File); err == nil && info.ModTime().After(run.StartedAt) {
			issues = append(issues, fmt.Sprintf("%s changed after index %s", res.File, shortID(run.ID)))
		}
	}
	return issues
}

func buildDoctorOutput(mc *macro.Context, results []macrofile.LoadResult, graph *dag.Graph, checks []HealthCheck) *DoctorOutput {
	summary := MacroSummary{
		Macros:     mc.Len(),
		References: graph.EdgeCount(),
	}
	for _, res := range results {
		if res.Found {
			summary.Files++
		}
	}
	for _, e := range mc.Entries() {
		if e.Parameterized {
			summary.Parameterized++
		}
		if len(mc.Chain(e.Name)) > 1 {
			summary.Shadowed++
		}
	}
	if levels, err := graph.Levels(); err == nil {
		summary.GraphDepth = len(levels)
	}

	// Sort health checks by group then by rule ID
	sort.Slice(checks, func(i, j int) bool {
		if checks[i].Group != checks[j].Group {
			return checks[i].Group < checks[j].Group
		}
		return checks[i].RuleID < checks[j].RuleID
	})

	issues := 0
	for _, c := range checks {
		issues += c.IssueCount
	}

	return &DoctorOutput{
		Summary:         summary,
		HealthChecks:    checks,
		Score:           calculateHealthScore(checks, summary.Macros),
		Recommendations: generateRecommendations(checks),
		IssueCount:      issues,
	}
}

// calculateHealthScore computes a health score from 0-100. Errors cost
// twice as much as warnings, and each issue costs less in larger macro
// sets.
func calculateHealthScore(checks []HealthCheck, macroCount int) int {
	score := 100.0

	basePenalty := 5.0
	if macroCount > 50 {
		basePenalty = 3.0
	}
	if macroCount > 200 {
		basePenalty = 2.0
	}
	if macroCount > 1000 {
		basePenalty = 1.0
	}

	for _, check := range checks {
		switch check.Status {
		case "error":
			score -= float64(check.IssueCount) * basePenalty * 2
		case "warn":
			score -= float64(check.IssueCount) * basePenalty
		}
	}

	return int(max(0, min(100, score)))
}

// generateRecommendations creates actionable recommendations based on findings.
func generateRecommendations(checks []HealthCheck) []string {
	var recommendations []string
	for _, check := range checks {
		if check.IssueCount == 0 {
			continue
		}
		if rec := getRecommendation(check.RuleID); rec != "" {
			recommendations = append(recommendations, rec)
		}
	}
	return recommendations
}

func getRecommendation(ruleID string) string {
	switch ruleID {
	case "MF01":
		return "Fix the permissions of unreadable macro files or drop them from macro_path"
	case "MF02":
		return "Remove missing files from macro_path, or create them"
	case "MF03":
		return "Fix malformed definitions: names need 3+ characters and a non-empty body"
	case "MR01":
		return "Define the missing macros, or guard their use with %{?name:...}"
	case "MR02":
		return "Break reference cycles; expanding them hits the recursion limit"
	case "RT01":
		return "Check the shell and shell_path settings"
	case "RT02":
		return "Run 'specmacro index' to rebuild the definition index"
	default:
		return ""
	}
}

func renderDoctorText(r *output.Renderer, out *DoctorOutput) {
	styles := r.Styles()

	r.Println("")
	r.Println(styles.Header1.Render("Macro Health Report"))
	r.Println(styles.Muted.Render(strings.Repeat("=", 55)))
	r.Println("")

	r.Println(styles.Header2.Render("Summary"))
	r.Printf("   Files: %d | Macros: %d | Parameterized: %d | Shadowed: %d\n",
		out.Summary.Files, out.Summary.Macros, out.Summary.Parameterized, out.Summary.Shadowed)
	r.Printf("   References: %d | Graph depth: %d levels\n", out.Summary.References, out.Summary.GraphDepth)
	r.Println("")

	r.Println(styles.Header2.Render("Health Checks"))
	r.Println("")

	currentGroup := ""
	titleCaser := cases.Title(language.English)
	for _, check := range out.HealthChecks {
		if check.Group != currentGroup {
			currentGroup = check.Group
			r.Println(styles.Bold.Render("   " + titleCaser.String(currentGroup)))
			r.Println(styles.Muted.Render("   " + strings.Repeat("-", 40)))
		}

		icon := styles.Success.Render("✓")
		switch check.Status {
		case "warn":
			icon = styles.Warning.Render("!")
		case "error":
			icon = styles.Error.Render("✗")
		}

		status := fmt.Sprintf("%s %s: %s", icon, check.RuleID, check.Name)
		if check.IssueCount > 0 {
			status += fmt.Sprintf(" (%d issues)", check.IssueCount)
		}
		r.Println("   " + status)

		for i, detail := range check.Details {
			if i >= 3 {
				r.Println(styles.Muted.Render(fmt.Sprintf("       ... and %d more", len(check.Details)-3)))
				break
			}
			r.Println(styles.Muted.Render("       - " + detail))
		}
	}
	r.Println("")

	r.Println(styles.Muted.Render(strings.Repeat("=", 55)))
	scoreStyle := styles.Success
	if out.Score < 70 {
		scoreStyle = styles.Warning
	}
	if out.Score < 50 {
		scoreStyle = styles.Error
	}
	r.Printf("   Health Score: %s\n", scoreStyle.Render(fmt.Sprintf("%d/100", out.Score)))
	r.Println("")

	if len(out.Recommendations) > 0 {
		r.Println(styles.Header2.Render("Recommendations"))
		for i, rec := range out.Recommendations {
			r.Printf("   %d. %s\n", i+1, rec)
		}
		r.Println("")
	}
}

func renderDoctorMarkdown(r *output.Renderer, out *DoctorOutput) {
	r.Println("# Macro Health Report")
	r.Println("")

	r.Println("## Summary")
	r.Println("")
	r.Printf("- **Files**: %d\n", out.Summary.Files)
	r.Printf("- **Macros**: %d\n", out.Summary.Macros)
	r.Printf("- **Parameterized**: %d\n", out.Summary.Parameterized)
	r.Printf("- **Shadowed**: %d\n", out.Summary.Shadowed)
	r.Printf("- **References**: %d\n", out.Summary.References)
	r.Printf("- **Graph Depth**: %d levels\n", out.Summary.GraphDepth)
	r.Println("")

	r.Println("## Health Checks")
	r.Println("")

	currentGroup := ""
	titleCaser := cases.Title(language.English)
	for _, check := range out.HealthChecks {
		if check.Group != currentGroup {
			currentGroup = check.Group
			r.Println("### " + titleCaser.String(currentGroup))
			r.Println("")
		}

		r.Printf("- **[%s]** %s: %s", strings.ToUpper(check.Status), check.RuleID, check.Name)
		if check.IssueCount > 0 {
			r.Printf(" (%d issues)", check.IssueCount)
		}
		r.Println("")

		for _, detail := range check.Details {
			r.Printf("  - %s\n", detail)
		}
	}
	r.Println("")

	r.Println("## Health Score")
	r.Println("")
	r.Printf("**%d/100**\n", out.Score)
	r.Println("")

	if len(out.Recommendations) > 0 {
		r.Println("## Recommendations")
		r.Println("")
		for i, rec := range out.Recommendations {
			r.Printf("%d. %s\n", i+1, rec)
		}
		r.Println("")
	}
}
