package starlark

import (
	"fmt"
	"strings"

	"go.starlark.net/starlark"

	"github.com/leapstack-labs/specmacro/internal/macro"
)

// Names of the predeclared globals. Library modules may not use them.
const (
	builtinExpand   = "expand"
	builtinDefine   = "define"
	builtinUndefine = "undefine"
	builtinDefined  = "defined"
	builtinVars     = "vars"
)

var reserved = map[string]bool{
	builtinExpand:   true,
	builtinDefine:   true,
	builtinUndefine: true,
	builtinDefined:  true,
	builtinVars:     true,
}

// hostBuiltins binds the macro builtins to host for one script run.
func hostBuiltins(host macro.ScriptHost) starlark.StringDict {
	return starlark.StringDict{
		builtinExpand: starlark.NewBuiltin(builtinExpand, func(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var text string
			if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &text); err != nil {
				return nil, err
			}
			out, err := host.Expand(text)
			if err != nil {
				return nil, err
			}
			return starlark.String(out), nil
		}),

		builtinDefine: starlark.NewBuiltin(builtinDefine, func(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var name string
			var body starlark.Value
			var opts starlark.Value = starlark.None
			if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "name", &name, "body", &body, "opts?", &opts); err != nil {
				return nil, err
			}
			if err := host.Define(definitionText(name, opts, body)); err != nil {
				return nil, err
			}
			return starlark.None, nil
		}),

		builtinUndefine: starlark.NewBuiltin(builtinUndefine, func(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var name string
			if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &name); err != nil {
				return nil, err
			}
			host.Undefine(name)
			return starlark.None, nil
		}),

		builtinDefined: starlark.NewBuiltin(builtinDefined, func(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var name string
			if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &name); err != nil {
				return nil, err
			}
			return starlark.Bool(host.Defined(name)), nil
		}),
	}
}

// definitionText builds "name(opts) {body}" for the definition parser.
// The braces keep multi-line bodies intact.
func definitionText(name string, opts, body starlark.Value) string {
	var b strings.Builder
	b.WriteString(name)
	if opts != starlark.None {
		fmt.Fprintf(&b, "(%s)", ToText(opts))
	}
	b.WriteString(" {")
	b.WriteString(ToText(body))
	b.WriteString("}")
	return b.String()
}
