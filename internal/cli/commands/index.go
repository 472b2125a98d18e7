package commands

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/specmacro/internal/cli/output"
	"github.com/leapstack-labs/specmacro/internal/state"
)

// IndexOptions holds options for the index command.
type IndexOptions struct {
	Keep int
	List bool
}

// indexSummary is the JSON and YAML form of an index run.
type indexSummary struct {
	ID          string            `json:"id" yaml:"id"`
	MacroPath   string            `json:"macro_path" yaml:"macro_path"`
	StartedAt   time.Time         `json:"started_at" yaml:"started_at"`
	Files       int               `json:"files" yaml:"files"`
	Definitions int               `json:"definitions" yaml:"definitions"`
	Skipped     int               `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	Missing     []string          `json:"missing,omitempty" yaml:"missing,omitempty"`
	Errors      map[string]string `json:"errors,omitempty" yaml:"errors,omitempty"`
	Pruned      int               `json:"pruned,omitempty" yaml:"pruned,omitempty"`
}

// NewIndexCommand creates the index command.
func NewIndexCommand() *cobra.Command {
	opts := &IndexOptions{}

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Build the definition index",
		Long: `Read every file of the macro path and record the definitions each one
contributed in the index database (state_path).

expand and dump accept --from-index to rebuild their macros from the
latest run instead of reading the macro path again.`,
		Example: `  # Build the index
  specmacro index

  # Build it and keep only the three most recent runs
  specmacro index --keep 3

  # Show recorded runs
  specmacro index --list`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.List {
				return runIndexList(cmd)
			}
			return runIndex(cmd, opts)
		},
	}

	cmd.Flags().IntVar(&opts.Keep, "keep", 0, "Prune all but the N most recent runs (0 keeps all)")
	cmd.Flags().BoolVar(&opts.List, "list", false, "List recorded runs instead of building")

	return cmd
}

func runIndex(cmd *cobra.Command, opts *IndexOptions) error {
	if opts.Keep < 0 {
		return fmt.Errorf("--keep must not be negative")
	}

	cc, err := NewCommandContext(cmd, SetupOptions{})
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	store, err := openStore(cc.Cfg.StatePath, true, cc.Logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	run, err := state.RecordIndex(ctx, store, cc.Cfg.MacroPathList(), cc.Results)
	if err != nil {
		return fmt.Errorf("failed to record index: %w", err)
	}

	summary := indexSummary{
		ID:          run.ID,
		MacroPath:   run.MacroPath,
		StartedAt:   run.StartedAt,
		Files:       run.Files,
		Definitions: run.Definitions,
	}
	for _, res := range cc.Results {
		summary.Skipped += len(res.Skipped)
		switch {
		case errors.Is(res.Err, fs.ErrNotExist):
			summary.Missing = append(summary.Missing, res.File)
		case res.Err != nil:
			if summary.Errors == nil {
				summary.Errors = make(map[string]string)
			}
			summary.Errors[res.File] = res.Err.Error()
		}
	}

	if opts.Keep > 0 {
		pruned, err := store.PruneRuns(ctx, opts.Keep)
		if err != nil {
			return fmt.Errorf("failed to prune index: %w", err)
		}
		summary.Pruned = pruned
	}

	cc.Logger.Info("index built", "run", run.ID, "definitions", run.Definitions)
	return renderIndexSummary(cc.Renderer, cc.Cfg.StatePath, summary)
}

func renderIndexSummary(r *output.Renderer, path string, s indexSummary) error {
	switch r.EffectiveMode() {
	case output.ModeJSON:
		return r.JSON(s)
	case output.ModeYAML:
		return r.YAML(s)
	case output.ModeMarkdown:
		r.Println(output.FormatHeader(1, "Index"))
		r.Println("")
		r.Println(output.FormatKeyValue("Database", path))
		r.Println(output.FormatKeyValue("Run", s.ID))
		r.Println(output.FormatKeyValue("Files", fmt.Sprint(s.Files)))
		r.Println(output.FormatKeyValue("Definitions", fmt.Sprint(s.Definitions)))
		if s.Skipped > 0 {
			r.Println(output.FormatKeyValue("Skipped lines", fmt.Sprint(s.Skipped)))
		}
		if s.Pruned > 0 {
			r.Println(output.FormatKeyValue("Pruned runs", fmt.Sprint(s.Pruned)))
		}
		for _, m := range s.Missing {
			r.Println(output.FormatKeyValue("Missing", m))
		}
		for f, e := range s.Errors {
			r.Println(output.FormatKeyValue("Error", f+": "+e))
		}
	default:
		styles := r.Styles()
		r.Success(fmt.Sprintf("Indexed %d definitions from %d files", s.Definitions, s.Files))
		r.Printf("  %s %s\n", styles.Muted.Render("run:"), s.ID)
		r.Printf("  %s %s\n", styles.Muted.Render("database:"), path)
		if s.Skipped > 0 {
			r.Warning(fmt.Sprintf("%d malformed definition lines skipped", s.Skipped))
		}
		if s.Pruned > 0 {
			r.Printf("  %s %d\n", styles.Muted.Render("pruned:"), s.Pruned)
		}
		for f, e := range s.Errors {
			r.Warning(f + ": " + e)
		}
	}
	return nil
}

func runIndexList(cmd *cobra.Command) error {
	cc := NewCommandContextWithoutMacros(cmd)
	store, err := openStore(cc.Cfg.StatePath, false, cc.Logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	runs, err := store.ListRuns(cmd.Context(), 0)
	if err != nil {
		return err
	}

	r := cc.Renderer
	summaries := make([]indexSummary, 0, len(runs))
	for _, run := range runs {
		summaries = append(summaries, indexSummary{
			ID:          run.ID,
			MacroPath:   run.MacroPath,
			StartedAt:   run.StartedAt,
			Files:       run.Files,
			Definitions: run.Definitions,
		})
	}

	switch r.EffectiveMode() {
	case output.ModeJSON:
		return r.JSON(summaries)
	case output.ModeYAML:
		return r.YAML(summaries)
	}

	t := table.NewWriter()
	t.SetOutputMirror(r.Writer())
	t.AppendHeader(table.Row{"Run", "Started", "Files", "Definitions"})
	for _, s := range summaries {
		t.AppendRow(table.Row{shortID(s.ID), s.StartedAt.Local().Format(time.DateTime), s.Files, s.Definitions})
	}
	if r.EffectiveMode() == output.ModeMarkdown {
		t.RenderMarkdown()
		return nil
	}
	t.SetStyle(table.StyleLight)
	t.Render()
	return nil
}
