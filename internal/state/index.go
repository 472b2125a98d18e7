package state

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/leapstack-labs/specmacro/internal/macro"
	"github.com/leapstack-labs/specmacro/internal/macrofile"
)

// RecordIndex stores the results of loading macroPath as a new run.
func RecordIndex(ctx context.Context, s Store, macroPath string, results []macrofile.LoadResult) (*Run, error) {
	run, err := s.CreateRun(ctx, macroPath)
	if err != nil {
		return nil, err
	}

	seq := 0
	for i, res := range results {
		f := FileRecord{
			RunID:   run.ID,
			Seq:     i,
			Path:    res.File,
			Found:   res.Found,
			Loaded:  res.Loaded(),
			Skipped: len(res.Skipped),
		}
		if res.Err != nil {
			f.Error = res.Err.Error()
		}

		defs := make([]DefinitionRecord, 0, len(res.Definitions))
		for _, d := range res.Definitions {
			defs = append(defs, DefinitionRecord{
				RunID:         run.ID,
				Seq:           seq,
				File:          res.File,
				Line:          d.Line,
				Name:          d.Name,
				Opts:          d.Opts,
				Parameterized: d.Parameterized,
				Body:          d.Body,
				Level:         int(macro.LevelMacroFiles),
			})
			seq++
		}
		if err := s.AddFile(ctx, f, defs); err != nil {
			return nil, err
		}
	}

	if err := s.CompleteRun(ctx, run.ID); err != nil {
		return nil, err
	}
	return s.GetRun(ctx, run.ID)
}

// LoadContext pushes the definitions of run into mc in load order, then
// replays cli at LevelCmdline the way the file loader does.
func LoadContext(ctx context.Context, s Store, runID string, mc, cli *macro.Context, logger *slog.Logger) error {
	defs, err := s.Definitions(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to load index run %s: %w", runID, err)
	}
	for _, d := range defs {
		mc.Load(macro.Level(d.Level), []macro.Definition{{
			Name:          d.Name,
			Opts:          d.Opts,
			Parameterized: d.Parameterized,
			Body:          d.Body,
		}})
	}
	mc.LoadFrom(cli, macro.LevelCmdline)

	if logger != nil {
		logger.Debug("loaded context from index", slog.String("run", runID), slog.Int("definitions", len(defs)))
	}
	return nil
}
