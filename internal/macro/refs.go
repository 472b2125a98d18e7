package macro

import "strings"

// References returns the user macros text refers to, in order of first
// use, without expanding anything. Conditional references (%{?name}) are
// included. Builtins and argument bindings (%-f, %1, %*, %#) are not, but
// their clauses and arguments and the text of %(...) commands are
// searched.
func References(text string) []string {
	return collectRefs(text, false)
}

// RequiredReferences is References without the names that are only
// tested for existence. These are the references that expand to
// themselves, or fail in strict mode, when undefined.
func RequiredReferences(text string) []string {
	return collectRefs(text, true)
}

func collectRefs(text string, required bool) []string {
	seen := make(map[string]bool)
	var out []string
	walkRefs(text, func(c call) {
		if !isUserRef(c.name) || seen[c.name] || (required && c.chkexist) {
			return
		}
		seen[c.name] = true
		out = append(out, c.name)
	})
	return out
}

// walkRefs calls fn for every named construct in s, descending into
// clauses, braced arguments and shell commands. Scanning stops at the
// first malformed construct.
func walkRefs(s string, fn func(call)) {
	for i := 0; i < len(s); {
		j := strings.IndexByte(s[i:], '%')
		if j < 0 {
			return
		}
		i += j + 1
		if i < len(s) && s[i] == '%' {
			i++
			continue
		}

		c, err := scanCall(s[i:])
		if err != nil {
			return
		}
		if c.form == formShell {
			walkRefs(c.command, fn)
			i += c.end
			continue
		}
		if c.name == "" {
			continue
		}

		fn(c)
		if c.hasClause {
			walkRefs(c.clause, fn)
		}
		if c.form == formBraced && c.hasArgs {
			walkRefs(c.args, fn)
		}
		i += c.end
	}
}

func isUserRef(name string) bool {
	if !isAlpha(name[0]) && name[0] != '_' {
		return false
	}
	return !IsBuiltin(name)
}
