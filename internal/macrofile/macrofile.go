// Package macrofile loads macro definition files into a macro context.
//
// A macro path is a colon-separated list of files. Colons that start a
// "://" URL separator do not split the list, and a leading "~/" is
// replaced by $HOME. Files that cannot be opened are skipped.
//
// Inside a file, lines ending in a backslash continue on the next line.
// Lines whose first non-blank character is '%' hold a definition
// ("%name(opts) body"); every other line is ignored.
package macrofile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/leapstack-labs/specmacro/internal/macro"
)

// Definition is a parsed definition and the line it starts on.
type Definition struct {
	macro.Definition
	Line int
}

// Skipped is a '%' line whose definition could not be parsed.
type Skipped struct {
	Line int
	Text string
	Err  error
}

// LoadResult describes one entry of the macro path.
type LoadResult struct {
	File string
	// Found is false when the file could not be opened.
	Found       bool
	Definitions []Definition
	Skipped     []Skipped
	// Err is why the file could not be opened or read.
	Err error
}

// Loaded returns the number of definitions the file contributed.
func (r LoadResult) Loaded() int { return len(r.Definitions) }

// SplitPath splits a macro path list into file names. Empty elements are
// dropped.
func SplitPath(list string) []string {
	var out []string
	for list != "" {
		end := nextSeparator(list)
		file := list[:end]
		if end < len(list) {
			list = list[end+1:]
		} else {
			list = ""
		}
		if file = expandHome(file); file != "" {
			out = append(out, file)
		}
	}
	return out
}

// nextSeparator returns the index of the first ':' that is not followed
// by "//", or len(s).
func nextSeparator(s string) int {
	for i := 0; i < len(s); i++ {
		if s[i] == ':' && !strings.HasPrefix(s[i+1:], "//") {
			return i
		}
	}
	return len(s)
}

func expandHome(file string) string {
	if !strings.HasPrefix(file, "~/") {
		return file
	}
	home := os.Getenv("HOME")
	if home == "" {
		return file
	}
	return home + "/" + file[2:]
}

// Parse reads definitions from r. name is only used in the result.
func Parse(r io.Reader, name string) (LoadResult, error) {
	res := LoadResult{File: name, Found: true}
	lr := newLineReader(r)
	for {
		line, start, err := lr.next()
		if errors.Is(err, io.EOF) {
			return res, nil
		}
		if err != nil {
			return res, fmt.Errorf("failed to read %s: %w", name, err)
		}

		text := strings.TrimLeft(line, " \t")
		if !strings.HasPrefix(text, "%") {
			continue
		}
		d, _, err := macro.ParseDefinition(text[1:])
		if err != nil {
			res.Skipped = append(res.Skipped, Skipped{Line: start, Text: text, Err: err})
			continue
		}
		res.Definitions = append(res.Definitions, Definition{Definition: d, Line: start})
	}
}

// ReadFile parses one macro file. A file that does not exist gives a
// result with Found unset and no error.
func ReadFile(path string) (LoadResult, error) {
	f, err := os.Open(path) //nolint:gosec // G304: macro files are user-configured paths
	if err != nil {
		res := LoadResult{File: path, Err: err}
		if errors.Is(err, fs.ErrNotExist) {
			return res, nil
		}
		return res, fmt.Errorf("failed to open macro file: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Parse(f, path)
}

// Loader loads macro paths into contexts.
type Loader struct {
	logger *slog.Logger
}

// NewLoader returns a loader logging to logger, discarding when nil.
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Loader{logger: logger}
}

// Load defines every file of pathList into mc at LevelMacroFiles, in path
// order, then replays the definitions of cli on top at LevelCmdline so
// command-line overrides win over files. Files that cannot be opened or
// read are reported in their result and skipped.
func (l *Loader) Load(mc, cli *macro.Context, pathList string) []LoadResult {
	files := SplitPath(pathList)
	results := make([]LoadResult, 0, len(files))
	for _, file := range files {
		res, err := ReadFile(file)
		switch {
		case err != nil:
			l.logger.Warn("skipping macro file", "file", file, "error", err)
			res.Err = err
		case !res.Found:
			l.logger.Debug("macro file not found", "file", file)
		default:
			l.logger.Debug("loaded macro file", "file", file,
				"definitions", res.Loaded(), "skipped", len(res.Skipped))
		}
		for _, s := range res.Skipped {
			l.logger.Warn("bad macro definition", "file", file, "line", s.Line, "error", s.Err)
		}

		defs := make([]macro.Definition, len(res.Definitions))
		for i, d := range res.Definitions {
			defs[i] = d.Definition
		}
		mc.Load(macro.LevelMacroFiles, defs)
		results = append(results, res)
	}

	mc.LoadFrom(cli, macro.LevelCmdline)
	return results
}

// lineReader returns logical lines: a physical line ending in '\' is
// joined with the next one. The backslash and a newline are kept so the
// definition parser sees the continuation. Trailing line endings of the
// last physical line are dropped.
type lineReader struct {
	r    *bufio.Reader
	line int
}

func newLineReader(r io.Reader) *lineReader {
	return &lineReader{r: bufio.NewReader(r)}
}

// next returns the next logical line and the number of its first
// physical line.
func (lr *lineReader) next() (string, int, error) {
	var b strings.Builder
	start := lr.line + 1
	read := false
	for {
		raw, err := lr.r.ReadString('\n')
		if raw != "" {
			read = true
			lr.line++
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return "", start, err
		}

		text := strings.TrimRight(raw, "\r\n")
		if strings.HasSuffix(text, "\\") && err == nil {
			b.WriteString(text)
			b.WriteByte('\n')
			continue
		}
		b.WriteString(text)
		if !read {
			return "", start, io.EOF
		}
		return b.String(), start, nil
	}
}
