package macro

import "strings"

func isAlpha(c byte) bool { return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' }

func skipBlanks(s string, i int) int {
	for i < len(s) && isBlank(s[i]) {
		i++
	}
	return i
}

func skipEOLs(s string, i int) int {
	for i < len(s) && isEOL(s[i]) {
		i++
	}
	return i
}

// scanDefName copies a definition name starting at i after leading blanks.
func scanDefName(s string, i int) (name string, end int) {
	i = skipBlanks(s, i)
	start := i
	for i < len(s) && isNameChar(s[i]) {
		i++
	}
	return s[start:i], i
}

// validDefName reports whether name may be defined from text: it must start
// with a letter or '_' and be at least three characters long.
func validDefName(name string) bool {
	return len(name) > 2 && (isAlpha(name[0]) || name[0] == '_')
}

// ParseDefinition parses "name(opts) body" at the start of s and returns the
// definition and the offset just past it, including any line terminators
// that follow. The body is either a {...} group or the rest of the line, in
// which a backslash escapes the next character so "\\\n" continues the body
// on the next line. Trailing blanks are trimmed from a line body.
func ParseDefinition(s string) (Definition, int, error) {
	var d Definition
	name, i := scanDefName(s, 0)
	d.Name = name

	if i < len(s) && s[i] == '(' {
		close := strings.IndexByte(s[i:], ')')
		if close < 0 {
			return d, len(s), NewDefineError(name, "has unterminated opts")
		}
		d.Opts = s[i+1 : i+close]
		d.Parameterized = true
		i += close + 1
	}

	i = skipBlanks(s, i)
	if i < len(s) && s[i] == '{' {
		close := matchDelim(s[i:], '{', '}')
		if close < 0 {
			return d, len(s), NewUnterminatedError('{', s[i:])
		}
		d.Body = s[i+1 : i+close]
		i += close + 1
	} else {
		var b strings.Builder
		for i < len(s) && !isEOL(s[i]) {
			if s[i] == '\\' {
				i++
				if i >= len(s) {
					break
				}
			}
			b.WriteByte(s[i])
			i++
		}
		d.Body = strings.TrimRight(b.String(), " \t\r\n")
	}
	i = skipEOLs(s, i)

	if !validDefName(name) {
		return d, i, NewDefineError(name, "has illegal name")
	}
	if d.Body == "" {
		return d, i, NewDefineError(name, "has empty body")
	}
	return d, i, nil
}

// parseUndefine parses the name of an %undefine at the start of s.
func parseUndefine(s string) (string, int, error) {
	name, i := scanDefName(s, 0)
	i = skipEOLs(s, i)
	if !validDefName(name) {
		return name, i, NewDefineError(name, "has illegal name (%undefine)")
	}
	return name, i, nil
}

// DefineString parses one "name(opts) body" definition and pushes it at
// level. The body is stored unexpanded.
func (c *Context) DefineString(text string, level Level) error {
	d, _, err := ParseDefinition(text)
	if err != nil {
		return err
	}
	c.push(d, level)
	return nil
}
