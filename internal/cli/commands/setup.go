// Package commands implements the specmacro CLI commands.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/specmacro/internal/cli/config"
	"github.com/leapstack-labs/specmacro/internal/cli/output"
	"github.com/leapstack-labs/specmacro/internal/macro"
	"github.com/leapstack-labs/specmacro/internal/macrofile"
	"github.com/leapstack-labs/specmacro/internal/shell"
	"github.com/leapstack-labs/specmacro/internal/starlark"
	"github.com/leapstack-labs/specmacro/internal/state"
)

// CommandContext holds common dependencies for command execution.
type CommandContext struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Renderer *output.Renderer
	Expander *macro.Expander

	// Macros is the loaded global context. Commands that expand
	// concurrently give each worker a Clone.
	Macros *macro.Context
	// Results describes the macro files read, nil when loaded from the index.
	Results []macrofile.LoadResult
	// Run is the index run the macros came from, nil when read from files.
	Run *state.Run
}

// SetupOptions selects where a command's macros come from.
type SetupOptions struct {
	FromIndex bool
	// NoMacros skips loading the macro path. Command-line defines still apply.
	NoMacros bool
}

// NewCommandContext loads configuration, macros and runners for cmd.
func NewCommandContext(cmd *cobra.Command, opts SetupOptions) (*CommandContext, error) {
	cc := NewCommandContextWithoutMacros(cmd)
	ctx := cmd.Context()

	cli, err := commandLineContext(cmd, cc.Cfg)
	if err != nil {
		return nil, err
	}

	mc := macro.NewContext("global")
	switch {
	case opts.FromIndex:
		run, err := loadFromIndex(ctx, cc.Cfg.StatePath, mc, cli, cc.Logger)
		if err != nil {
			return nil, err
		}
		cc.Run = run
	case opts.NoMacros:
		mc.LoadFrom(cli, macro.LevelCmdline)
	default:
		cc.Results = macrofile.NewLoader(cc.Logger).Load(mc, cli, cc.Cfg.MacroPathList())
	}
	cc.Macros = mc

	exp, err := newExpander(cmd, cc.Cfg, cc.Logger)
	if err != nil {
		return nil, err
	}
	cc.Expander = exp
	return cc, nil
}

// NewCommandContextWithoutMacros creates a CommandContext with only the
// config, logger and renderer set.
func NewCommandContextWithoutMacros(cmd *cobra.Command) *CommandContext {
	cfg := config.GetConfig(cmd.Context())
	logger := config.GetLogger(cmd.Context())
	mode := output.OutputMode(cfg.OutputFormat)
	r := output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), mode)

	return &CommandContext{
		Cfg:      cfg,
		Logger:   logger,
		Renderer: r,
	}
}

// ExpandContext bounds one expansion by the configured timeout.
func (cc *CommandContext) ExpandContext(parent context.Context) (context.Context, context.CancelFunc) {
	if cc.Cfg.Timeout > 0 {
		return context.WithTimeout(parent, cc.Cfg.Timeout)
	}
	return context.WithCancel(parent)
}

// Expand expands text against mc, or against Macros when mc is nil.
func (cc *CommandContext) Expand(ctx context.Context, mc *macro.Context, text string) (string, error) {
	if mc == nil {
		mc = cc.Macros
	}
	ctx, cancel := cc.ExpandContext(ctx)
	defer cancel()
	return cc.Expander.Expand(ctx, mc, text)
}

// commandLineContext collects config defines and -D flags. Config defines
// are applied first in name order so -D wins for the same name.
func commandLineContext(cmd *cobra.Command, cfg *config.Config) (*macro.Context, error) {
	cli := macro.NewContext("cmdline")

	names := make([]string, 0, len(cfg.Defines))
	for name := range cfg.Defines {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		if err := cli.DefineString(name+" "+cfg.Defines[name], macro.LevelCmdline); err != nil {
			return nil, fmt.Errorf("invalid define %q in config: %w", name, err)
		}
	}

	if cmd.Flags().Lookup("define") != nil {
		defines, err := cmd.Flags().GetStringArray("define")
		if err != nil {
			return nil, err
		}
		for _, d := range defines {
			if err := cli.DefineString(d, macro.LevelCmdline); err != nil {
				return nil, fmt.Errorf("invalid --define %q: %w", d, err)
			}
		}
	}
	return cli, nil
}

func newExpander(cmd *cobra.Command, cfg *config.Config, logger *slog.Logger) (*macro.Expander, error) {
	sh, err := shell.New(shell.Kind(cfg.Shell), shell.Options{
		Shell:  cfg.ShellPath,
		Stderr: cmd.ErrOrStderr(),
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}

	script, err := starlark.NewRunner(starlark.Options{
		ModulePath: cfg.StarlarkPath,
		Vars:       cfg.ScriptVars,
		MaxSteps:   cfg.ScriptMaxSteps,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	return macro.NewExpander(macro.Options{
		MaxDepth:   cfg.MaxDepth,
		BufferSize: cfg.BufferSize,
		Strict:     cfg.Strict,
		Verbose:    cfg.Verbose,
		Trace:      cfg.Trace,
		Shell:      sh,
		Script:     script,
		Diag:       cmd.ErrOrStderr(),
		Logger:     logger,
	}), nil
}

// openStore opens and migrates the index database, creating its
// directory when create is set.
func openStore(path string, create bool, logger *slog.Logger) (*state.SQLiteStore, error) {
	if !create {
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("index database %s not found\nHint: run 'specmacro index' first", path)
			}
			return nil, err
		}
	} else if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
	}

	store := state.NewSQLiteStore(logger)
	if err := store.Open(path); err != nil {
		return nil, err
	}
	if err := store.Migrate(); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

func loadFromIndex(ctx context.Context, path string, mc, cli *macro.Context, logger *slog.Logger) (*state.Run, error) {
	store, err := openStore(path, false, logger)
	if err != nil {
		return nil, err
	}
	defer func() { _ = store.Close() }()

	run, err := store.LatestRun(ctx)
	if err != nil {
		if errors.Is(err, state.ErrNoRuns) {
			return nil, fmt.Errorf("%w\nHint: run 'specmacro index' first", err)
		}
		return nil, err
	}
	if err := state.LoadContext(ctx, store, run.ID, mc, cli, logger); err != nil {
		return nil, err
	}
	return run, nil
}
