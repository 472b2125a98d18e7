package starlark

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/leapstack-labs/specmacro/internal/macro"
)

// DefaultMaxSteps bounds the work of a single script.
const DefaultMaxSteps = 10_000_000

// scriptFile is the file name scripts report in errors and tracebacks.
const scriptFile = "<starlark>"

// Options configures a Runner.
type Options struct {
	// ModulePath is a directory of .star library files. Empty loads none.
	ModulePath string
	// Vars is exposed read-only to scripts as "vars".
	Vars map[string]any
	// MaxSteps caps executed instructions; zero means DefaultMaxSteps.
	MaxSteps uint64
	Logger   *slog.Logger
}

// Runner runs %{starlark:...} sources. Library modules and vars are
// prepared once; every run gets a fresh thread and its own builtins.
type Runner struct {
	globals  starlark.StringDict
	maxSteps uint64
	logger   *slog.Logger
}

var _ macro.ScriptRunner = (*Runner)(nil)

// NewRunner loads the library modules and returns a ready runner.
func NewRunner(opts Options) (*Runner, error) {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.MaxSteps == 0 {
		opts.MaxSteps = DefaultMaxSteps
	}

	modules, err := NewLoader(opts.ModulePath).Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load starlark modules: %w", err)
	}
	globals := Predeclared(modules)
	for _, m := range modules {
		opts.Logger.Debug("loaded starlark module", "namespace", m.Namespace, "path", m.Path, "exports", len(m.Exports))
	}

	vars, err := VarsToStarlark(opts.Vars)
	if err != nil {
		return nil, fmt.Errorf("failed to convert script vars: %w", err)
	}
	globals[builtinVars] = vars

	return &Runner{globals: globals, maxSteps: opts.MaxSteps, logger: opts.Logger}, nil
}

// RunScript runs source against host.
//
// The result is whatever the script printed, one line per print call. A
// source that is a single expression also contributes its value unless it
// is None, so %{starlark:1 + 2} gives "3".
func (r *Runner) RunScript(ctx context.Context, host macro.ScriptHost, source string) (string, error) {
	var printed []string
	thread := &starlark.Thread{
		Name: "script",
		Print: func(_ *starlark.Thread, msg string) {
			printed = append(printed, msg)
		},
	}
	thread.SetMaxExecutionSteps(r.maxSteps)
	stop := context.AfterFunc(ctx, func() { thread.Cancel(context.Cause(ctx).Error()) })
	defer stop()

	globals := make(starlark.StringDict, len(r.globals)+4)
	for k, v := range r.globals {
		globals[k] = v
	}
	for k, v := range hostBuiltins(host) {
		globals[k] = v
	}

	opts := &syntax.FileOptions{Set: true, While: true, TopLevelControl: true, GlobalReassign: true}

	if expr, err := opts.ParseExpr(scriptFile, source, 0); err == nil {
		v, err := starlark.EvalExprOptions(opts, thread, expr, globals)
		if err != nil {
			return "", r.fail(source, err)
		}
		if v != starlark.None {
			printed = append(printed, ToText(v))
		}
		return strings.Join(printed, "\n"), nil
	}

	if _, err := starlark.ExecFileOptions(opts, thread, scriptFile, source, globals); err != nil {
		return "", r.fail(source, err)
	}
	return strings.Join(printed, "\n"), nil
}

// fail wraps a script failure. Errors raised by the host pass through so
// an expansion error inside expand() keeps its type.
func (r *Runner) fail(source string, err error) error {
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		if cause := errors.Unwrap(evalErr); cause != nil && isMacroError(cause) {
			return cause
		}
		r.logger.Debug("starlark script failed", "backtrace", evalErr.Backtrace())
	}
	return &EvalError{Source: source, Message: err.Error()}
}

func isMacroError(err error) bool {
	for _, target := range []error{
		macro.ErrUnterminated, macro.ErrBadOption, macro.ErrRecursionLimit,
		macro.ErrBufferOverflow, macro.ErrShellEscape, macro.ErrUser,
		macro.ErrUndefined, macro.ErrDefine,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// EvalError reports a script that failed to parse or run.
type EvalError struct {
	Source  string
	Message string
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("starlark: %s", e.Message)
}
