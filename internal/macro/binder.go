package macro

import (
	"strconv"
	"strings"
)

// option is one option parsed from an invocation.
type option struct {
	letter   byte
	value    string
	hasValue bool
}

// optScanner is a getopt-style parser whose cursor lives in the value
// itself, so nested and concurrent invocations never share state. Options
// may be interleaved with operands; "--" ends option processing.
type optScanner struct {
	spec string
	args []string // without argv[0]
}

// takesValue reports whether letter is declared in spec and whether it is
// followed by ':'.
func takesValue(spec string, letter byte) (known, value bool) {
	if letter == ':' {
		return false, false
	}
	i := strings.IndexByte(spec, letter)
	if i < 0 {
		return false, false
	}
	return true, i+1 < len(spec) && spec[i+1] == ':'
}

// parse returns the options in the order they appeared and the remaining
// operands. The returned error is a *BadOptionError without the macro name.
func (p *optScanner) parse() ([]option, []string, *BadOptionError) {
	var opts []option
	var operands []string

	for i := 0; i < len(p.args); i++ {
		arg := p.args[i]
		if arg == "--" {
			operands = append(operands, p.args[i+1:]...)
			break
		}
		if len(arg) < 2 || arg[0] != '-' {
			operands = append(operands, arg)
			continue
		}
		// Cluster of letters: -ab, -avalue, -a value.
		for j := 1; j < len(arg); j++ {
			letter := arg[j]
			known, wantsValue := takesValue(p.spec, letter)
			if !known {
				return nil, nil, &BadOptionError{Option: letter}
			}
			if !wantsValue {
				opts = append(opts, option{letter: letter})
				continue
			}
			if j+1 < len(arg) {
				opts = append(opts, option{letter: letter, value: arg[j+1:], hasValue: true})
				break
			}
			if i+1 >= len(p.args) {
				return nil, nil, &BadOptionError{Option: letter, MissingValue: true}
			}
			i++
			opts = append(opts, option{letter: letter, value: p.args[i], hasValue: true})
			break
		}
	}
	return opts, operands, nil
}

// binding is one ephemeral definition created for a parameterized call.
type binding struct {
	name string
	body string
}

// bindArgs computes the ephemeral definitions for a call of e with the
// given invocation text, in the order they are pushed.
func bindArgs(e Entry, args string) ([]binding, error) {
	words := splitWords(args)
	out := []binding{
		{name: "0", body: e.Name},
		{name: "**", body: strings.Join(words, " ")},
	}

	p := optScanner{spec: e.Opts, args: words}
	opts, operands, bad := p.parse()
	if bad != nil {
		bad.Macro = e.Name
		bad.Opts = e.Opts
		return nil, bad
	}

	for _, o := range opts {
		flag := "-" + string(o.letter)
		if o.hasValue {
			out = append(out,
				binding{name: flag, body: o.value},
				binding{name: flag + "*", body: o.value},
			)
			continue
		}
		out = append(out, binding{name: flag, body: flag})
	}

	out = append(out, binding{name: "#", body: strconv.Itoa(len(operands))})
	for i, arg := range operands {
		out = append(out, binding{name: strconv.Itoa(i + 1), body: arg})
	}
	out = append(out, binding{name: "*", body: strings.Join(operands, " ")})
	return out, nil
}

// emptyArgs returns the bindings for a parameterized call made without
// invocation text.
func emptyArgs(e Entry) []binding {
	return []binding{
		{name: "**", body: ""},
		{name: "*", body: ""},
		{name: "#", body: "0"},
		{name: "0", body: e.Name},
	}
}
