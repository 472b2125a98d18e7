// Package starlark runs the scripts of %{starlark:...} constructs.
//
// Scripts see the expansion through predeclared builtins (expand, define,
// undefine, defined), the values configured under script_vars as "vars",
// and every library module loaded from the configured directory. Whatever
// a script prints becomes the text of the construct.
package starlark

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// Loader scans a directory for .star library files. Each file becomes a
// module named after the file, so helpers in strings.star are called as
// strings.name(...) from scripts.
type Loader struct {
	dir string
}

// NewLoader creates a new module loader for the specified directory.
func NewLoader(dir string) *Loader {
	return &Loader{dir: dir}
}

// LoadedModule is one executed library file.
type LoadedModule struct {
	// Namespace is derived from the file name ("strings" for strings.star).
	Namespace string
	Path      string
	// Exports holds the top-level names not starting with '_'.
	Exports starlark.StringDict
}

// Load executes every .star file in the directory. A missing directory
// yields no modules and no error.
func (l *Loader) Load() ([]*LoadedModule, error) {
	if l.dir == "" {
		return nil, nil
	}
	info, err := os.Stat(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to access module directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("module path is not a directory: %s", l.dir)
	}

	files, err := filepath.Glob(filepath.Join(l.dir, "*.star"))
	if err != nil {
		return nil, fmt.Errorf("failed to scan module directory: %w", err)
	}

	modules := make([]*LoadedModule, 0, len(files))
	for _, file := range files {
		m, err := l.loadFile(file)
		if err != nil {
			return nil, err
		}
		modules = append(modules, m)
	}
	return modules, nil
}

func (l *Loader) loadFile(path string) (*LoadedModule, error) {
	content, err := os.ReadFile(path) //nolint:gosec // G304: path comes from a glob of the module directory
	if err != nil {
		return nil, &LoadError{File: path, Message: fmt.Sprintf("failed to read file: %v", err)}
	}

	namespace := strings.TrimSuffix(filepath.Base(path), ".star")
	if err := validateNamespace(namespace); err != nil {
		return nil, &LoadError{File: path, Message: err.Error()}
	}
	if reserved[namespace] {
		return nil, &LoadError{File: path, Message: fmt.Sprintf("namespace %q conflicts with a builtin", namespace)}
	}

	thread := &starlark.Thread{
		Name:  "load:" + namespace,
		Print: func(_ *starlark.Thread, _ string) {},
	}
	globals, err := starlark.ExecFile(thread, path, content, nil) //nolint:staticcheck // SA1019: will migrate to ExecFileOptions later
	if err != nil {
		return nil, &LoadError{File: path, Message: fmt.Sprintf("starlark execution error: %v", err)}
	}
	// Scripts on several goroutines share the module values.
	globals.Freeze()

	exports := make(starlark.StringDict)
	for name, value := range globals {
		if !strings.HasPrefix(name, "_") {
			exports[name] = value
		}
	}
	return &LoadedModule{Namespace: namespace, Path: path, Exports: exports}, nil
}

// Predeclared turns loaded modules into script globals.
func Predeclared(modules []*LoadedModule) starlark.StringDict {
	out := make(starlark.StringDict, len(modules))
	for _, m := range modules {
		out[m.Namespace] = &starlarkstruct.Module{Name: m.Namespace, Members: m.Exports}
	}
	return out
}

func validateNamespace(name string) error {
	if name == "" {
		return fmt.Errorf("namespace cannot be empty")
	}
	for i, r := range name {
		switch {
		case isLetter(r) || r == '_':
		case i > 0 && isDigit(r):
		case i == 0:
			return fmt.Errorf("namespace must start with letter or underscore: %s", name)
		default:
			return fmt.Errorf("namespace contains invalid character: %s", name)
		}
	}
	return nil
}

func isLetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

// LoadError reports a library file that could not be loaded.
type LoadError struct {
	File    string
	Message string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s: %s", filepath.Base(e.File), e.Message)
}
