package macro

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/leapstack-labs/specmacro/internal/shell"
)

// DefaultMaxDepth is the recursion limit used when Options.MaxDepth is zero.
const DefaultMaxDepth = 16

// ShellRunner runs the command of a %(...) escape and returns its standard
// output. An error means the command could not be run at all; a non-zero
// exit status is not an error.
type ShellRunner interface {
	RunShell(ctx context.Context, command string) (string, error)
}

// ScriptHost is the view of the running expansion given to scripts.
type ScriptHost interface {
	// Expand expands text one level below the calling construct.
	Expand(text string) (string, error)
	// Define parses "name(opts) body" and pushes it like %define.
	Define(text string) error
	Undefine(name string)
	Defined(name string) bool
}

// ScriptRunner runs the source of a %{starlark:...} construct and returns
// the text it produced.
type ScriptRunner interface {
	RunScript(ctx context.Context, host ScriptHost, source string) (string, error)
}

// Options configures an Expander. The zero value is usable.
type Options struct {
	MaxDepth   int  // recursion limit, DefaultMaxDepth when zero
	BufferSize int  // output capacity in bytes, sized from the input when zero
	Strict     bool // fail on unknown macros instead of echoing them
	Verbose    bool // value tested by %{verbose:...}
	Trace      bool // trace every construct from the outermost level

	Shell  ShellRunner  // runs %(...), a native /bin/sh runner when nil
	Script ScriptRunner // runs %{starlark:...}, which fails when nil

	Diag   io.Writer // trace, dump, echo and warn output, stderr when nil
	Logger *slog.Logger
}

// Expander expands text against a Context. It holds no per-call state and
// may be shared; the Context passed to Expand may not.
type Expander struct {
	opts Options
}

// NewExpander creates an expander, filling in defaults for unset options.
func NewExpander(opts Options) *Expander {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if opts.BufferSize < 0 {
		opts.BufferSize = 0
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Diag == nil {
		opts.Diag = os.Stderr
	}
	if opts.Shell == nil {
		opts.Shell = shell.NewNative("", opts.Logger)
	}
	return &Expander{opts: opts}
}

// Options returns the effective options.
func (e *Expander) Options() Options { return e.opts }

// Expand returns text with every macro construct expanded against mc. On
// error the partial output is discarded.
func (e *Expander) Expand(ctx context.Context, mc *Context, text string) (string, error) {
	if mc == nil {
		mc = NewContext("")
	}
	x := &state{
		ctx:  ctx,
		mc:   mc,
		opts: &e.opts,
		log:  e.opts.Logger,
		out:  newBuffer(capacityFor(e.opts.BufferSize, text)),
		diag: e.opts.Diag,
	}
	if e.opts.Trace {
		x.traceDepth = 1
	}
	if err := x.expand(text); err != nil {
		return "", err
	}
	return x.out.String(), nil
}

// Expand expands text against mc with default options.
func Expand(mc *Context, text string) (string, error) {
	return NewExpander(Options{}).Expand(context.Background(), mc, text)
}

// state is the transient state of one top-level expansion.
type state struct {
	ctx  context.Context
	mc   *Context
	opts *Options
	log  *slog.Logger
	out  *buffer
	diag io.Writer

	depth      int
	traceDepth int // tracing is on while non-zero
	traceMark  int // output offset shown by the post-expansion trace line
}

func (x *state) tracing() bool { return x.traceDepth > 0 }

// expand expands s one level deeper, appending to the output. On failure
// the output written by this level is discarded.
func (x *state) expand(s string) error {
	x.depth++
	if x.depth > x.opts.MaxDepth {
		err := &RecursionLimitError{Depth: x.depth, Max: x.opts.MaxDepth}
		x.depth--
		return err
	}
	if err := x.ctx.Err(); err != nil {
		x.depth--
		return err
	}

	outer := x.traceMark
	mark := x.out.Len()
	x.traceMark = mark
	err := x.run(s)

	x.depth--
	if err != nil || x.tracing() {
		from := x.traceMark
		if x.depth == 0 || from < mark || from > x.out.Len() {
			from = mark
		}
		x.printExpansion(x.out.since(from))
	}
	x.traceMark = outer
	if err != nil {
		x.out.truncate(mark)
	}
	return err
}

// expandToString expands s one level deeper and returns the result without
// leaving it in the output.
func (x *state) expandToString(s string) (string, error) {
	mark := x.out.Len()
	if err := x.expand(s); err != nil {
		return "", err
	}
	res := x.out.since(mark)
	x.out.truncate(mark)
	return res, nil
}

// run is the main loop: copy text up to the next '%', classify the construct
// after it, resolve it and resume after its end.
func (x *state) run(s string) error {
	for i := 0; i < len(s); {
		j := strings.IndexByte(s[i:], '%')
		if j < 0 {
			return x.out.WriteString(s[i:])
		}
		if err := x.out.WriteString(s[i : i+j]); err != nil {
			return err
		}
		i += j + 1

		if i < len(s) && s[i] == '%' {
			if err := x.out.WriteByte('%'); err != nil {
				return err
			}
			i++
			continue
		}

		rest := s[i:]
		c, err := scanCall(rest)
		if err != nil {
			return err
		}
		if x.depth > 1 {
			x.traceMark = x.out.Len()
		}

		if c.form == formShell {
			if x.tracing() {
				x.printMacro(rest, c.end)
			}
			if err := x.doShell(c.command); err != nil {
				return err
			}
			i += c.end
			continue
		}

		if c.name == "" {
			if err := x.out.WriteByte('%'); err != nil {
				return err
			}
			i += c.end
			continue
		}

		if x.tracing() {
			x.printMacro(rest, c.end)
		}

		n, err := x.dispatch(c, rest)
		if err != nil {
			return err
		}
		i += n
	}
	return nil
}

// dispatch resolves one named construct and returns how much of rest it
// consumed.
func (x *state) dispatch(c call, rest string) (int, error) {
	if b := LookupBuiltin(c.name); b != BuiltinNone {
		return x.builtin(b, c, rest)
	}

	if c.name[0] == '-' {
		return c.end, x.probeFlag(c)
	}

	if c.chkexist {
		e, found := x.mc.Lookup(c.name)
		if found == c.negate {
			return c.end, nil
		}
		if c.hasClause && c.clause != "" {
			return c.end, x.expand(c.clause)
		}
		if found && e.Body != "" {
			return c.end, x.expand(e.Body)
		}
		return c.end, nil
	}

	h, found := x.mc.find(c.name)
	if !found {
		if x.opts.Strict {
			return 0, &UndefinedMacroError{Name: c.name}
		}
		x.log.Debug("leaving unknown macro as is", "name", c.name)
		// Only the '%' is consumed; the name is copied as plain text.
		return 0, x.out.WriteByte('%')
	}
	return x.call(h, c)
}

// probeFlag handles %{-f}, %{-f:X}, %{!-f:X} and %{-f*}.
func (x *state) probeFlag(c call) error {
	h, found := x.mc.find(c.name)
	if found {
		x.mc.markUsed(h)
	}
	if found == c.negate {
		return nil
	}
	if c.hasClause && c.clause != "" {
		return x.expand(c.clause)
	}
	if !found {
		return nil
	}
	e, _ := x.mc.entryAt(h)
	if e == nil || e.Body == "" {
		return nil
	}
	return x.expand(e.Body)
}

// call expands a user macro, binding arguments first when it is
// parameterized. Bindings are dropped whether or not the body succeeds.
func (x *state) call(h handle, c call) (int, error) {
	ep, _ := x.mc.entryAt(h)
	e := *ep
	end := c.end

	scope := Level(x.depth)
	mark := x.mc.serial()
	if e.Parameterized {
		var binds []binding
		if c.hasArgs {
			var err error
			binds, err = bindArgs(e, c.args)
			if err != nil {
				return 0, err
			}
			end = c.argsEnd
		} else {
			binds = emptyArgs(e)
		}
		for _, b := range binds {
			x.mc.push(Definition{Name: b.name, Body: b.body}, scope)
		}
	}

	var err error
	if e.Body != "" {
		err = x.expand(e.Body)
		if err == nil {
			x.mc.markUsed(h)
		}
	}

	if e.Parameterized {
		x.mc.popScope(scope, mark)
	}
	if err != nil {
		return 0, err
	}
	return end, nil
}

// builtin runs a reserved primitive.
func (x *state) builtin(b Builtin, c call, rest string) (int, error) {
	switch b {
	case BuiltinGlobal, BuiltinDefine:
		return x.doDefine(c, rest, b == BuiltinGlobal)

	case BuiltinUndefine:
		text, braced := x.builtinText(c, rest)
		name, n, err := parseUndefine(text)
		if err != nil {
			return 0, err
		}
		x.mc.Undefine(name)
		if braced {
			return c.end, nil
		}
		return c.end + n, nil

	case BuiltinEcho, BuiltinWarn, BuiltinError:
		msg := c.name
		if c.hasClause && c.clause != "" {
			msg = c.clause
		}
		text, err := x.expandToString(msg)
		if err != nil {
			return 0, err
		}
		switch b {
		case BuiltinError:
			return 0, &UserError{Message: text}
		case BuiltinWarn:
			fmt.Fprintf(x.diag, "warning: %s\n", text)
			x.log.Warn(text)
		default:
			fmt.Fprintln(x.diag, text)
		}
		return c.end, nil

	case BuiltinTrace:
		if c.negate {
			x.traceDepth = 0
		} else {
			x.traceDepth = x.depth
		}
		return c.end, nil

	case BuiltinDump:
		if err := x.mc.Dump(x.diag); err != nil {
			x.log.Debug("failed to write macro dump", "error", err)
		}
		return skipEOLs(rest, c.end), nil

	case BuiltinStarlark:
		return c.end, x.doScript(c)
	}

	if b.transforms() {
		arg := ""
		if c.hasClause {
			var err error
			if arg, err = x.expandToString(c.clause); err != nil {
				return 0, err
			}
		}
		if out, ok := x.transform(b, c.negate, arg); ok {
			if err := x.expand(out); err != nil {
				return 0, err
			}
		}
		return c.end, nil
	}
	return c.end, nil
}

// builtinText returns the operand text of %define-like built-ins: the rest
// of the input for the bare form, or the text inside the braces.
func (x *state) builtinText(c call, rest string) (string, bool) {
	if c.form == formBraced {
		if c.hasClause {
			return c.clause, true
		}
		return c.args, true
	}
	return rest[c.end:], false
}

// doDefine parses and pushes a definition. %global expands the body first
// and stores it below every recursion level; %define stores it unexpanded
// one level above the current depth, so a parameterized call drops it.
func (x *state) doDefine(c call, rest string, global bool) (int, error) {
	text, braced := x.builtinText(c, rest)
	d, n, err := ParseDefinition(text)
	if err != nil {
		return 0, err
	}

	level := Level(x.depth - 1)
	if global {
		level = LevelGlobal - 1
		if d.Body, err = x.expandToString(d.Body); err != nil {
			return 0, fmt.Errorf("macro %%%s failed to expand: %w", d.Name, err)
		}
	}
	x.mc.push(d, level)

	if braced {
		return c.end, nil
	}
	return c.end + n, nil
}

// doShell expands the command, runs it and appends its output without
// trailing line terminators.
func (x *state) doShell(command string) error {
	cmd, err := x.expandToString(command)
	if err != nil {
		return err
	}
	out, err := x.opts.Shell.RunShell(x.ctx, cmd)
	if err != nil {
		return &ShellEscapeError{Command: cmd, Cause: err}
	}
	return x.out.WriteString(strings.TrimRight(out, "\r\n"))
}

var errNoScriptRunner = errors.New("no script runner configured")

// doScript runs the clause of %{starlark:...} and appends what it printed.
func (x *state) doScript(c call) error {
	source := c.clause
	if !c.hasClause {
		source = c.args
	}
	if x.opts.Script == nil {
		return &ScriptError{Cause: errNoScriptRunner}
	}
	out, err := x.opts.Script.RunScript(x.ctx, scriptHost{x}, source)
	if err != nil {
		var se *ScriptError
		if errors.As(err, &se) {
			return err
		}
		return &ScriptError{Cause: err}
	}
	return x.out.WriteString(out)
}

// scriptHost exposes the running state to a ScriptRunner.
type scriptHost struct {
	x *state
}

func (h scriptHost) Expand(text string) (string, error) {
	return h.x.expandToString(text)
}

func (h scriptHost) Define(text string) error {
	d, _, err := ParseDefinition(text)
	if err != nil {
		return err
	}
	h.x.mc.push(d, Level(h.x.depth-1))
	return nil
}

func (h scriptHost) Undefine(name string) { h.x.mc.Undefine(name) }

func (h scriptHost) Defined(name string) bool {
	_, ok := h.x.mc.Lookup(name)
	return ok
}
