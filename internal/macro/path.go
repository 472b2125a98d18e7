package macro

import (
	"context"
	"path"
	"strconv"
	"strings"
)

var urlSchemes = []string{"file://", "http://", "ftp://"}

// splitURL splits a file, http or ftp URL into its scheme and host prefix
// and its path. ok is false for anything else.
func splitURL(s string) (prefix, p string, ok bool) {
	for _, scheme := range urlSchemes {
		rest, found := strings.CutPrefix(s, scheme)
		if !found {
			continue
		}
		i := strings.IndexByte(rest, '/')
		if i < 0 {
			return s, "", true
		}
		n := len(scheme) + i
		return s[:n], s[n:], true
	}
	return "", s, false
}

// CleanPath collapses repeated slashes and "." and ".." elements and trims
// a trailing slash. The "//" after a URL scheme is kept.
func CleanPath(p string) string {
	if p == "" {
		return ""
	}
	prefix := ""
	if i := strings.Index(p, "://"); i >= 0 {
		prefix, p = p[:i+3], p[i+3:]
		if p == "" {
			return prefix
		}
	}
	return prefix + path.Clean(p)
}

// GetPath concatenates parts, expands the result and cleans it.
func (e *Expander) GetPath(ctx context.Context, mc *Context, parts ...string) (string, error) {
	out, err := e.Expand(ctx, mc, strings.Join(parts, ""))
	if err != nil {
		return "", err
	}
	return CleanPath(out), nil
}

// GenPath merges a root, a directory and a file, any of which may be a URL,
// into one expanded path. The first URL prefix found wins.
func (e *Expander) GenPath(ctx context.Context, mc *Context, root, mdir, file string) (string, error) {
	var url string
	parts := make([]string, 0, 3)
	for i, part := range []string{root, mdir, file} {
		p, err := e.GetPath(ctx, mc, part)
		if err != nil {
			return "", err
		}
		if prefix, rest, ok := splitURL(p); ok {
			if url == "" {
				url = prefix
			}
			p = rest
		}
		if p == "" && i < 2 {
			p = "/"
		}
		parts = append(parts, p)
	}
	return e.GetPath(ctx, mc, url, parts[0], "/", parts[1], "/", parts[2])
}

// ExpandNumeric expands text and interprets the result as a number. Y and y
// mean 1, N and n mean 0, integers may carry a 0x or 0 base prefix, and
// anything else, including text that still starts with '%', is 0.
func (e *Expander) ExpandNumeric(ctx context.Context, mc *Context, text string) int {
	val, err := e.Expand(ctx, mc, text)
	if err != nil || val == "" || val[0] == '%' {
		return 0
	}
	switch val[0] {
	case 'Y', 'y':
		return 1
	case 'N', 'n':
		return 0
	}
	n, err := strconv.ParseInt(val, 0, 64)
	if err != nil {
		return 0
	}
	return int(n)
}
