package macro

import "strings"

// form identifies which of the invocation syntaxes a call used.
type form int

const (
	formBare   form = iota // %name
	formBraced             // %{name}, %{name:clause}, %{name args}
	formShell              // %(command)
)

func (f form) String() string {
	switch f {
	case formBare:
		return "bare"
	case formBraced:
		return "braced"
	case formShell:
		return "shell"
	default:
		return "unknown"
	}
}

// call is one macro invocation found by the scanner. Offsets are relative to
// the text that follows the introducing '%'.
type call struct {
	form     form
	negate   bool // odd number of '!' modifiers
	chkexist bool // at least one '?' modifier
	name     string

	clause    string // text after ':' in %{name:clause}
	hasClause bool

	// args is the invocation text after a blank. For the bare form it runs
	// to the end of the line and argsEnd points past the newline.
	args    string
	hasArgs bool
	argsEnd int

	// command is the text inside %(...).
	command string

	end int // offset just past the construct (without bare-form args)
}

// matchDelim returns the offset of the delimiter closing s[0], or -1.
// Nested pairs of the same delimiters are balanced and a backslash hides the
// character after it.
func matchDelim(s string, open, close byte) int {
	lvl := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\\' {
			i++
			continue
		}
		if c == close {
			lvl--
			if lvl <= 0 {
				return i
			}
		} else if c == open {
			lvl++
		}
	}
	return -1
}

func isBlank(c byte) bool { return c == ' ' || c == '\t' }

func isEOL(c byte) bool { return c == '\n' || c == '\r' }

func isAlnum(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

func isNameChar(c byte) bool { return isAlnum(c) || c == '_' }

// scanModifiers consumes leading '!' and '?' characters starting at i.
func scanModifiers(s string, i int, c *call) int {
	for i < len(s) && (s[i] == '!' || s[i] == '?') {
		if s[i] == '!' {
			c.negate = !c.negate
		} else {
			c.chkexist = true
		}
		i++
	}
	return i
}

// scanBareName returns the end of a bare macro name starting at i: an
// optional '-', name characters, then an optional "*", "**" or "#".
func scanBareName(s string, i int) int {
	if i < len(s) && s[i] == '-' {
		i++
	}
	for i < len(s) && isNameChar(s[i]) {
		i++
	}
	if i < len(s) {
		switch s[i] {
		case '*':
			i++
			if i < len(s) && s[i] == '*' {
				i++
			}
		case '#':
			i++
		}
	}
	return i
}

// scanCall classifies the construct at the start of s, which is the text
// following a single '%'. A call with an empty name is returned for a '%'
// that does not introduce a macro; the caller emits it literally.
func scanCall(s string) (call, error) {
	var c call
	if s == "" {
		return c, nil
	}

	switch s[0] {
	case '(':
		close := matchDelim(s, '(', ')')
		if close < 0 {
			return c, NewUnterminatedError('(', s)
		}
		c.form = formShell
		c.command = s[1:close]
		c.end = close + 1
		return c, nil

	case '{':
		close := matchDelim(s, '{', '}')
		if close < 0 {
			return c, NewUnterminatedError('{', s)
		}
		c.form = formBraced
		c.end = close + 1
		f := scanModifiers(s, 1, &c)
		fe := f
		for fe < close && !strings.ContainsRune(" \t:}", rune(s[fe])) {
			fe++
		}
		c.name = s[f:fe]
		switch s[fe] {
		case ':':
			c.clause = s[fe+1 : close]
			c.hasClause = true
		case ' ', '\t':
			c.args = s[fe+1 : close]
			c.hasArgs = true
			c.argsEnd = c.end
		}
		return c, nil

	default:
		c.form = formBare
		f := scanModifiers(s, 0, &c)
		fe := scanBareName(s, f)
		c.name = s[f:fe]
		c.end = fe
		if fe < len(s) && isBlank(s[fe]) {
			nl := strings.IndexByte(s[fe:], '\n')
			if nl < 0 {
				c.args = s[fe:]
				c.argsEnd = len(s)
			} else {
				c.args = s[fe : fe+nl]
				c.argsEnd = fe + nl + 1
			}
			c.hasArgs = true
		}
		return c, nil
	}
}

// splitWords splits invocation text on blanks.
func splitWords(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return r == ' ' || r == '\t' })
}
