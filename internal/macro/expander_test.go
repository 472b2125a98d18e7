package macro

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/specmacro/internal/testutil"
)

// fakeShell records commands and returns canned output.
type fakeShell struct {
	out      string
	err      error
	commands []string
}

func (f *fakeShell) RunShell(_ context.Context, command string) (string, error) {
	f.commands = append(f.commands, command)
	return f.out, f.err
}

func newTestExpander(t *testing.T, opts Options) (*Expander, *bytes.Buffer) {
	t.Helper()
	diag := &bytes.Buffer{}
	opts.Diag = diag
	opts.Logger = testutil.NewTestLogger(t)
	if opts.Shell == nil {
		opts.Shell = &fakeShell{}
	}
	return NewExpander(opts), diag
}

func expandWith(t *testing.T, mc *Context, text string) (string, error) {
	t.Helper()
	e, _ := newTestExpander(t, Options{})
	return e.Expand(context.Background(), mc, text)
}

func mustExpand(t *testing.T, mc *Context, text string) string {
	t.Helper()
	out, err := expandWith(t, mc, text)
	require.NoError(t, err, "expanding %q", text)
	return out
}

func TestExpand_PlainText(t *testing.T) {
	mc := NewContext("test")
	for _, text := range []string{
		"",
		"plain text",
		"multi\nline\r\ntext with {braces} and (parens)",
		"unicode ünïcødé ✓",
		`back\slash`,
	} {
		assert.Equal(t, text, mustExpand(t, mc, text))
	}
}

func TestExpand_Percent(t *testing.T) {
	mc := NewContext("test")
	tests := []struct {
		input string
		want  string
	}{
		{"100%%done", "100%done"},
		{"%%%%", "%%"},
		{"50% off", "50% off"},
		{"trailing %", "trailing %"},
		{"%{}", "%"},
		{"%.", "%."},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, mustExpand(t, mc, tt.input), "input %q", tt.input)
	}
}

func TestExpand_SimpleMacro(t *testing.T) {
	mc := NewContext("test")
	mc.Define("X", "1", LevelGlobal)

	assert.Equal(t, "1", mustExpand(t, mc, "%X"))
	assert.Equal(t, "1", mustExpand(t, mc, "%{X}"))
	assert.Equal(t, "a1b", mustExpand(t, mc, "a%{X}b"))
	assert.Equal(t, "1 1", mustExpand(t, mc, "%X %X"))

	e, _ := mc.Lookup("X")
	assert.Equal(t, 5, e.Used, "every successful expansion counts")
}

func TestExpand_NestedBodies(t *testing.T) {
	mc := NewContext("test")
	mc.Define("_prefix", "/usr", LevelMacroFiles)
	mc.Define("_bindir", "%{_prefix}/bin", LevelMacroFiles)
	mc.Define("_tool", "%_bindir/tool", LevelMacroFiles)

	assert.Equal(t, "/usr/bin/tool --help", mustExpand(t, mc, "%{_tool} --help"))
}

func TestExpand_UnknownLeftAsIs(t *testing.T) {
	mc := NewContext("test")
	mc.Define("X", "1", LevelGlobal)

	assert.Equal(t, "%nosuch and %{nosuch}", mustExpand(t, mc, "%nosuch and %{nosuch}"))
	assert.Equal(t, "%{nosuch 1}", mustExpand(t, mc, "%{nosuch %X}"),
		"text after an unknown name is still expanded")
}

func TestExpand_Strict(t *testing.T) {
	mc := NewContext("test")
	e, _ := newTestExpander(t, Options{Strict: true})

	_, err := e.Expand(context.Background(), mc, "%nosuch")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUndefined)

	var ue *UndefinedMacroError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "nosuch", ue.Name)

	out, err := e.Expand(context.Background(), mc, "%{?nosuch:x}")
	require.NoError(t, err, "existence tests are not lookups")
	assert.Equal(t, "", out)
}

func TestExpand_ExistenceTests(t *testing.T) {
	mc := NewContext("test")
	mc.Define("X", "1", LevelGlobal)
	mc.Define("empty_body", "", LevelGlobal)

	tests := []struct {
		input string
		want  string
	}{
		{"%{?undefinedname:X}", ""},
		{"%{!?undefinedname:X}", "X"},
		{"%{?undefinedname}", ""},
		{"%{!?undefinedname}", ""},
		{"%{?X}", "1"},
		{"%{!?X}", ""},
		{"%{?X:yes}", "yes"},
		{"%{!?X:no}", ""},
		{"%{?X:%X%X}", "11"},
		{"%?X", "1"},
		{"%{?empty_body:defined}", "defined"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, mustExpand(t, mc, tt.input), "input %q", tt.input)
	}
}

func TestExpand_Recursion(t *testing.T) {
	mc := NewContext("test")
	mc.Define("loop", "%loop", LevelGlobal)

	out, err := expandWith(t, mc, "before %loop after")
	require.Error(t, err)
	assert.Empty(t, out, "no partial output on failure")
	assert.ErrorIs(t, err, ErrRecursionLimit)

	var re *RecursionLimitError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, DefaultMaxDepth, re.Max)
	assert.Equal(t, 16, re.Max)
	assert.Equal(t, 17, re.Depth)
}

func TestExpand_MaxDepth(t *testing.T) {
	mc := NewContext("test")
	mc.Define("lvl1", "%lvl2", LevelGlobal)
	mc.Define("lvl2", "%lvl3", LevelGlobal)
	mc.Define("lvl3", "deep", LevelGlobal)

	e, _ := newTestExpander(t, Options{MaxDepth: 4})
	out, err := e.Expand(context.Background(), mc, "%lvl1")
	require.NoError(t, err)
	assert.Equal(t, "deep", out)

	e, _ = newTestExpander(t, Options{MaxDepth: 3})
	_, err = e.Expand(context.Background(), mc, "%lvl1")
	assert.ErrorIs(t, err, ErrRecursionLimit)
}

func TestExpand_Unterminated(t *testing.T) {
	mc := NewContext("test")
	for _, input := range []string{"%{name", "ok %{?x:%{y}", "%(echo"} {
		_, err := expandWith(t, mc, input)
		assert.ErrorIs(t, err, ErrUnterminated, "input %q", input)
	}
}

func TestExpand_ParameterizedOption(t *testing.T) {
	mc := NewContext("test")
	mc.DefineOpts("foo", "a:", "%{-a}", LevelGlobal)

	assert.Equal(t, "bar", mustExpand(t, mc, "%foo -a bar"))
	assert.Equal(t, "bar", mustExpand(t, mc, "%{foo -a bar}"))
	assert.Equal(t, "", mustExpand(t, mc, "%foo"))
}

func TestExpand_FlagProbes(t *testing.T) {
	mc := NewContext("test")
	mc.DefineOpts("opt", "fv:", "%{-f:yes}%{!-f:no} %{-v*}", LevelGlobal)
	mc.DefineOpts("flag", "f", "[%{-f}]", LevelGlobal)

	assert.Equal(t, "yes 3", mustExpand(t, mc, "%opt -f -v 3"))
	assert.Equal(t, "no ", mustExpand(t, mc, "%opt"))
	assert.Equal(t, "no 3", mustExpand(t, mc, "%opt -v3"))
	assert.Equal(t, "[-f]", mustExpand(t, mc, "%flag -f"))
	assert.Equal(t, "[]", mustExpand(t, mc, "%flag"))
	assert.Equal(t, "", mustExpand(t, mc, "%{-f}"), "probe outside any call")
}

func TestExpand_FlagTestMarksUsed(t *testing.T) {
	mc := NewContext("test")
	mc.DefineOpts("check", "fg", "%{!-f:none}%dump\n", LevelGlobal)

	e, diag := newTestExpander(t, Options{})
	out, err := e.Expand(context.Background(), mc, "%{check -f}")
	require.NoError(t, err)
	assert.Empty(t, out, "a satisfied negated test produces nothing")
	assert.Regexp(t, `(?m)^ +\d+= -f\t-f$`, diag.String(), "the tested flag counts as used")

	diag.Reset()
	_, err = e.Expand(context.Background(), mc, "%{check -f -g}")
	require.NoError(t, err)
	assert.Regexp(t, `(?m)^ +\d+: -g\t-g$`, diag.String(), "untested flags stay unused")
}

func TestExpand_TabEndsBracedName(t *testing.T) {
	mc := NewContext("test")
	mc.DefineOpts("foo", "a:", "<%{-a*}>", LevelGlobal)

	assert.Equal(t, "<b>", mustExpand(t, mc, "%{foo\t-a b}"))
}

func TestExpand_Positional(t *testing.T) {
	mc := NewContext("test")
	mc.DefineOpts("args", "", "%# [%1] [%2] [%*] [%0]", LevelGlobal)
	mc.DefineOpts("all", "a", "%{**}|%*", LevelGlobal)
	mc.DefineOpts("perm", "a", "%{-a}:%*", LevelGlobal)

	assert.Equal(t, "2 [a] [b] [a b] [args]", mustExpand(t, mc, "%args a b"))
	assert.Equal(t, "0 [%1] [%2] [] [args]", mustExpand(t, mc, "%args"))
	assert.Equal(t, "-a x y|x y", mustExpand(t, mc, "%all -a x y"))
	assert.Equal(t, "-a:x y", mustExpand(t, mc, "%perm x -a y"))
}

func TestExpand_BareArgsConsumeLine(t *testing.T) {
	mc := NewContext("test")
	mc.DefineOpts("one", "", "<%1>", LevelGlobal)
	mc.Define("plain", "P", LevelGlobal)

	assert.Equal(t, "<a><b>", mustExpand(t, mc, "%one a\n%one b\n"))
	assert.Equal(t, "P rest\n", mustExpand(t, mc, "%plain rest\n"),
		"non-parameterized macros leave the line alone")
}

func TestExpand_BindingsAreCallScoped(t *testing.T) {
	mc := NewContext("test")
	mc.DefineOpts("foo", "a", "%1", LevelGlobal)

	assert.Equal(t, "hello%1", mustExpand(t, mc, "%foo hello\n%1"))
	assert.Equal(t, "%1", mustExpand(t, mc, "%1"))

	for _, name := range []string{"0", "1", "*", "**", "#", "-a"} {
		_, ok := mc.Lookup(name)
		assert.False(t, ok, "binding %s leaked", name)
	}
	assert.Equal(t, 1, mc.Len())
}

func TestExpand_BindingsDroppedOnFailure(t *testing.T) {
	mc := NewContext("test")
	mc.DefineOpts("fails", "", "%1 %{error:stop}", LevelGlobal)

	_, err := expandWith(t, mc, "%fails arg")
	require.ErrorIs(t, err, ErrUser)

	_, ok := mc.Lookup("1")
	assert.False(t, ok)
	assert.Equal(t, 1, mc.Len())
}

func TestExpand_NestedCalls(t *testing.T) {
	mc := NewContext("test")
	mc.DefineOpts("inner", "", "<%1>", LevelGlobal)
	mc.DefineOpts("outer", "", "%inner %2\n%1", LevelGlobal)

	assert.Equal(t, "<b>a", mustExpand(t, mc, "%outer a b"))
}

func TestExpand_SiblingCallsSeeFreshArgs(t *testing.T) {
	mc := NewContext("test")
	mc.DefineOpts("show", "", "[%#:%*]", LevelGlobal)

	assert.Equal(t, "[2:x y][0:]", mustExpand(t, mc, "%show x y\n%show"))
}

func TestExpand_BadOption(t *testing.T) {
	mc := NewContext("test")
	mc.DefineOpts("foo", "a", "body", LevelGlobal)

	_, err := expandWith(t, mc, "%foo -b")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBadOption)

	var be *BadOptionError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, byte('b'), be.Option)
	assert.Equal(t, "foo", be.Macro)
}

func TestExpand_Define(t *testing.T) {
	mc := NewContext("test")

	out := mustExpand(t, mc, "%define greeting hello\n%greeting")
	assert.Equal(t, "hello", out)

	e, ok := mc.Lookup("greeting")
	require.True(t, ok, "top-level %%define persists")
	assert.Equal(t, LevelGlobal, e.Level)

	assert.Equal(t, "Hello World!",
		mustExpand(t, mc, "%define greet(n:) Hello %{-n*}!\n%greet -n World"))
	assert.Equal(t, "hi", mustExpand(t, mc, "%{define braced hi}%braced"))
	assert.Equal(t, "multi\nline", mustExpand(t, mc, "%define grouped {multi\nline}\n%grouped"))
	assert.Equal(t, "one \n two", mustExpand(t, mc, "%define cont one \\\n two\n%cont"))
}

func TestExpand_DefineIsLazy(t *testing.T) {
	mc := NewContext("test")
	mc.Define("X", "1", LevelGlobal)

	out := mustExpand(t, mc, "%global gg1 %X\n%define dd1 %X\n")
	assert.Equal(t, "", out)

	mc.Define("X", "2", LevelGlobal)
	assert.Equal(t, "1 2", mustExpand(t, mc, "%gg1 %dd1"))

	e, _ := mc.Lookup("gg1")
	assert.Equal(t, "1", e.Body, "global stores the expanded body")
	assert.Equal(t, LevelGlobal-1, e.Level)
}

func TestExpand_DefineInsideCall(t *testing.T) {
	mc := NewContext("test")
	mc.DefineOpts("local", "", "%define inner value\n%inner", LevelGlobal)
	mc.DefineOpts("exported", "", "%global outer value\n%outer", LevelGlobal)

	assert.Equal(t, "value\n%inner", mustExpand(t, mc, "%local\n%inner"))
	assert.Equal(t, "value\nvalue", mustExpand(t, mc, "%exported\n%outer"))
}

func TestExpand_DefineErrors(t *testing.T) {
	mc := NewContext("test")
	for _, input := range []string{
		"%define ab body",
		"%define abc",
		"%define 1bc body",
		"%define abc(xy body",
		"%undefine ab",
	} {
		_, err := expandWith(t, mc, input)
		assert.ErrorIs(t, err, ErrDefine, "input %q", input)
	}

	_, err := expandWith(t, mc, "%define abc {open")
	assert.ErrorIs(t, err, ErrUnterminated)
}

func TestExpand_Undefine(t *testing.T) {
	mc := NewContext("test")
	mc.Define("xxx", "1", LevelGlobal)
	mc.Define("xxx", "2", LevelGlobal)

	assert.Equal(t, "1", mustExpand(t, mc, "%undefine xxx\n%xxx"))
	assert.Equal(t, "%xxx", mustExpand(t, mc, "%{undefine xxx}%xxx"))
	assert.Equal(t, "", mustExpand(t, mc, "%undefine never_defined\n"))
}

func TestExpand_BuiltinsNotShadowed(t *testing.T) {
	mc := NewContext("test")
	mc.Define("basename", "user", LevelGlobal)

	assert.Equal(t, "c", mustExpand(t, mc, "%{basename:/a/b/c}"))
}

func TestExpand_Output(t *testing.T) {
	mc := NewContext("test")
	mc.Define("X", "1", LevelGlobal)
	e, diag := newTestExpander(t, Options{})

	out, err := e.Expand(context.Background(), mc, "a%{echo:value %X}b%{warn:careful}c")
	require.NoError(t, err)
	assert.Equal(t, "abc", out)
	assert.Equal(t, "value 1\nwarning: careful\n", diag.String())
}

func TestExpand_Error(t *testing.T) {
	mc := NewContext("test")
	mc.Define("X", "1", LevelGlobal)

	out, err := expandWith(t, mc, "partial %{error:failed at %X}")
	require.Error(t, err)
	assert.Empty(t, out)
	assert.ErrorIs(t, err, ErrUser)

	var ue *UserError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "failed at 1", ue.Message)
}

func TestExpand_Trace(t *testing.T) {
	mc := NewContext("test")
	mc.Define("X", "1", LevelGlobal)

	e, diag := newTestExpander(t, Options{Trace: true})
	out, err := e.Expand(context.Background(), mc, "%X")
	require.NoError(t, err)
	assert.Equal(t, "1", out)
	assert.Contains(t, diag.String(), "  1>   %X^\n")
	assert.Contains(t, diag.String(), "  1<   1\n")

	e, diag = newTestExpander(t, Options{})
	_, err = e.Expand(context.Background(), mc, "%trace%X")
	require.NoError(t, err)
	assert.Contains(t, diag.String(), ">   %X^")

	e, diag = newTestExpander(t, Options{Trace: true})
	_, err = e.Expand(context.Background(), mc, "%{!trace}%X")
	require.NoError(t, err)
	assert.NotContains(t, diag.String(), "%X^")
}

func TestExpand_TraceOnFailure(t *testing.T) {
	mc := NewContext("test")
	mc.Define("bad", "%{error:x}", LevelGlobal)

	e, diag := newTestExpander(t, Options{})
	_, err := e.Expand(context.Background(), mc, "%bad")
	require.Error(t, err)
	assert.Contains(t, diag.String(), "<", "failed expansions are traced")
}

func TestExpand_Dump(t *testing.T) {
	mc := NewContext("test")
	mc.Define("X", "1", LevelGlobal)

	e, diag := newTestExpander(t, Options{})
	out, err := e.Expand(context.Background(), mc, "%dump\n\nrest")
	require.NoError(t, err)
	assert.Equal(t, "rest", out)
	assert.Contains(t, diag.String(), "  0: X\t1\n")
	assert.Contains(t, diag.String(), "======================== active 1 empty 0")
}

func TestExpand_BufferOverflow(t *testing.T) {
	mc := NewContext("test")
	mc.Define("big", "0123456789", LevelGlobal)

	e, _ := newTestExpander(t, Options{BufferSize: 4})
	out, err := e.Expand(context.Background(), mc, "hell")
	require.NoError(t, err, "filling the buffer exactly is allowed")
	assert.Equal(t, "hell", out)

	_, err = e.Expand(context.Background(), mc, "hello")
	assert.ErrorIs(t, err, ErrBufferOverflow)

	_, err = e.Expand(context.Background(), mc, "%big")
	assert.ErrorIs(t, err, ErrBufferOverflow)

	var be *BufferOverflowError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, 4, be.Capacity)
}

func TestExpand_DefaultCapacityFollowsInput(t *testing.T) {
	mc := NewContext("test")
	mc.Define("X", "xx", LevelGlobal)

	big := strings.Repeat("plain text\n", DefaultBufferSize/5)
	require.Greater(t, len(big), DefaultBufferSize)
	assert.Equal(t, big, mustExpand(t, mc, big), "text without macros passes through")

	withMacros := big + "%X"
	assert.Equal(t, big+"xx", mustExpand(t, mc, withMacros))

	e, _ := newTestExpander(t, Options{BufferSize: DefaultBufferSize})
	_, err := e.Expand(context.Background(), mc, big)
	assert.ErrorIs(t, err, ErrBufferOverflow, "an explicit size stays authoritative")
}

func TestCapacityFor(t *testing.T) {
	assert.Equal(t, 10, capacityFor(10, strings.Repeat("x", 100)))
	assert.Equal(t, DefaultBufferSize, capacityFor(0, "short"))
	assert.Equal(t, inputFactor*DefaultBufferSize, capacityFor(0, strings.Repeat("x", DefaultBufferSize)))
}

func TestExpand_ShellEscape(t *testing.T) {
	mc := NewContext("test")
	mc.Define("X", "1", LevelGlobal)

	sh := &fakeShell{out: "hi\r\n\n"}
	e, _ := newTestExpander(t, Options{Shell: sh})
	out, err := e.Expand(context.Background(), mc, "x%(echo %X)y")
	require.NoError(t, err)
	assert.Equal(t, "xhiy", out)
	assert.Equal(t, []string{"echo 1"}, sh.commands, "command is expanded first")
}

func TestExpand_ShellEscapeFailure(t *testing.T) {
	mc := NewContext("test")
	cause := errors.New("fork failed")

	e, _ := newTestExpander(t, Options{Shell: &fakeShell{err: cause}})
	out, err := e.Expand(context.Background(), mc, "a%(true)b")
	require.Error(t, err)
	assert.Empty(t, out)
	assert.ErrorIs(t, err, ErrShellEscape)
	assert.ErrorIs(t, err, cause)

	var se *ShellEscapeError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "true", se.Command)
}

func TestExpand_Canceled(t *testing.T) {
	mc := NewContext("test")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e, _ := newTestExpander(t, Options{})
	_, err := e.Expand(ctx, mc, "text")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExpand_NilContext(t *testing.T) {
	e, _ := newTestExpander(t, Options{})
	out, err := e.Expand(context.Background(), nil, "%X")
	require.NoError(t, err)
	assert.Equal(t, "%X", out)
}

// fakeScript runs "expand:TEXT", "define:DEF" or echoes the source back.
type fakeScript struct{}

func (fakeScript) RunScript(_ context.Context, host ScriptHost, source string) (string, error) {
	switch {
	case len(source) > 7 && source[:7] == "expand:":
		return host.Expand(source[7:])
	case len(source) > 7 && source[:7] == "define:":
		if err := host.Define(source[7:]); err != nil {
			return "", err
		}
		if host.Defined("scripted") {
			return "defined", nil
		}
		return "missing", nil
	case source == "fail":
		return "", errors.New("script blew up")
	}
	return source, nil
}

func TestExpand_Script(t *testing.T) {
	mc := NewContext("test")
	mc.Define("X", "1", LevelGlobal)

	e, _ := newTestExpander(t, Options{Script: fakeScript{}})
	ctx := context.Background()

	out, err := e.Expand(ctx, mc, "[%{starlark:expand:%X}]")
	require.NoError(t, err)
	assert.Equal(t, "[1]", out)

	out, err = e.Expand(ctx, mc, "%{starlark:define:scripted yes}%scripted")
	require.NoError(t, err)
	assert.Equal(t, "definedyes", out)

	_, err = e.Expand(ctx, mc, "%{starlark:fail}")
	assert.ErrorIs(t, err, ErrScript)

	e, _ = newTestExpander(t, Options{})
	_, err = e.Expand(ctx, mc, "%{starlark:anything}")
	assert.ErrorIs(t, err, ErrScript)
}

func TestExpand_ConvenienceDefaults(t *testing.T) {
	mc := NewContext("test")
	mc.Define("X", "1", LevelGlobal)

	out, err := Expand(mc, "%X")
	require.NoError(t, err)
	assert.Equal(t, "1", out)

	opts := NewExpander(Options{}).Options()
	assert.Equal(t, DefaultMaxDepth, opts.MaxDepth)
	assert.Zero(t, opts.BufferSize, "capacity is sized per expansion")
	assert.NotNil(t, opts.Shell)
	assert.NotNil(t, opts.Logger)
}
