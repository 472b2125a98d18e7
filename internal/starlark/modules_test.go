package starlark

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

func writeModules(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "lib")
	require.NoError(t, os.Mkdir(dir, 0o755))
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

func TestLoader_Load(t *testing.T) {
	tests := []struct {
		name           string
		setupDir       func(t *testing.T) string
		wantNil        bool
		wantErr        string
		wantNamespaces []string
		wantExports    map[string][]string
	}{
		{
			name:     "empty directory",
			setupDir: func(t *testing.T) string { return writeModules(t, nil) },
		},
		{
			name:     "no directory configured",
			setupDir: func(_ *testing.T) string { return "" },
			wantNil:  true,
		},
		{
			name:     "missing directory",
			setupDir: func(_ *testing.T) string { return "/nonexistent/specmacro/lib" },
			wantNil:  true,
		},
		{
			name: "not a directory",
			setupDir: func(t *testing.T) string {
				path := filepath.Join(t.TempDir(), "lib")
				require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
				return path
			},
			wantErr: "not a directory",
		},
		{
			name: "private names are not exported",
			setupDir: func(t *testing.T) string {
				return writeModules(t, map[string]string{
					"text.star": `
def shout(s):
    return s.upper() + "!"

def join(parts, sep):
    return sep.join(parts)

_helper = "hidden"
`,
					"README.md": "ignored",
				})
			},
			wantNamespaces: []string{"text"},
			wantExports:    map[string][]string{"text": {"join", "shout"}},
		},
		{
			name: "one module per file",
			setupDir: func(t *testing.T) string {
				return writeModules(t, map[string]string{
					"dist.star":    "def tag(): return \"el9\"\n",
					"version.star": "def bump(v): return v + 1\n",
				})
			},
			wantNamespaces: []string{"dist", "version"},
		},
		{
			name: "syntax error",
			setupDir: func(t *testing.T) string {
				return writeModules(t, map[string]string{"broken.star": "def broken(:\n    return 1\n"})
			},
			wantErr: "broken.star",
		},
		{
			name: "invalid namespace",
			setupDir: func(t *testing.T) string {
				return writeModules(t, map[string]string{"my-lib.star": "x = 1\n"})
			},
			wantErr: "invalid character",
		},
		{
			name: "namespace shadows builtin",
			setupDir: func(t *testing.T) string {
				return writeModules(t, map[string]string{"expand.star": "x = 1\n"})
			},
			wantErr: "conflicts with a builtin",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			modules, err := NewLoader(tt.setupDir(t)).Load()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			if tt.wantNil {
				assert.Nil(t, modules)
				return
			}

			got := make([]string, 0, len(modules))
			for _, m := range modules {
				got = append(got, m.Namespace)
			}
			assert.ElementsMatch(t, tt.wantNamespaces, got)

			for _, m := range modules {
				want, ok := tt.wantExports[m.Namespace]
				if !ok {
					continue
				}
				assert.ElementsMatch(t, want, m.Exports.Keys())
			}
		})
	}
}

func TestLoader_SyntaxErrorIsLoadError(t *testing.T) {
	dir := writeModules(t, map[string]string{"bad.star": "def f(\n"})

	_, err := NewLoader(dir).Load()
	require.Error(t, err)

	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, filepath.Join(dir, "bad.star"), loadErr.File)
	assert.Contains(t, loadErr.Message, "starlark execution error")
}

func TestValidateNamespace(t *testing.T) {
	tests := []struct {
		name    string
		wantErr bool
	}{
		{"rpm", false},
		{"_internal", false},
		{"lib2", false},
		{"Mixed_Case", false},
		{"", true},
		{"2lib", true},
		{"my-lib", true},
		{"my.lib", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateNamespace(tt.name)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPredeclared(t *testing.T) {
	dir := writeModules(t, map[string]string{"text.star": "def shout(s):\n    return s.upper()\n"})
	modules, err := NewLoader(dir).Load()
	require.NoError(t, err)

	globals := Predeclared(modules)
	mod, ok := globals["text"].(*starlarkstruct.Module)
	require.True(t, ok)
	assert.Equal(t, "text", mod.Name)

	thread := &starlark.Thread{Name: "test"}
	v, err := starlark.Call(thread, mod.Members["shout"], starlark.Tuple{starlark.String("hi")}, nil)
	require.NoError(t, err)
	assert.Equal(t, starlark.String("HI"), v)
}
