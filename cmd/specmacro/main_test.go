// Package main provides tests for the specmacro CLI.
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/leapstack-labs/specmacro/internal/cli"
	"github.com/leapstack-labs/specmacro/internal/macro"
)

const testMacros = `# build defaults
%name hello
%version 1.0
%greet(n:) Hello %{-n*}!
`

// setup moves into an empty directory and writes the test macro file.
func setup(t *testing.T) (dir, macros string) {
	t.Helper()
	dir = t.TempDir()
	t.Chdir(dir)
	macros = filepath.Join(dir, "macros")
	if err := os.WriteFile(macros, []byte(testMacros), 0o644); err != nil {
		t.Fatalf("failed to write macros: %v", err)
	}
	return dir, macros
}

func run(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	cmd := cli.NewRootCmd()
	out, errOut := new(bytes.Buffer), new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestVersionCommand(t *testing.T) {
	setup(t)
	out, _, err := run(t, "", "version")
	if err != nil {
		t.Fatalf("version command error = %v", err)
	}
	if !strings.Contains(out, "specmacro") {
		t.Errorf("version output should contain 'specmacro', got: %s", out)
	}
}

func TestHelpCommand(t *testing.T) {
	out, _, err := run(t, "", "--help")
	if err != nil {
		t.Fatalf("help command error = %v", err)
	}
	for _, expected := range []string{"expand", "dump", "index", "deps", "graph", "doctor", "repl", "watch", "serve", "completion"} {
		if !strings.Contains(out, expected) {
			t.Errorf("help output should contain '%s', got: %s", expected, out)
		}
	}
}

func TestExpandCommand(t *testing.T) {
	_, macros := setup(t)

	tests := []struct {
		name  string
		stdin string
		args  []string
		want  string
	}{
		{
			name: "arguments",
			args: []string{"expand", "--macros", macros, "%{name}-%{version}"},
			want: "hello-1.0\n",
		},
		{
			name: "define overrides file",
			args: []string{"eval", "--macros", macros, "-D", "version 2.0", "-D", "dist .el9", "%{name}-%{version}%{?dist}"},
			want: "hello-2.0.el9\n",
		},
		{
			name: "parameterized",
			args: []string{"expand", "--macros", macros, "%greet -n World"},
			want: "Hello World!\n",
		},
		{
			name:  "stdin",
			stdin: "%{name}\n%%literal\n",
			args:  []string{"expand", "--macros", macros},
			want:  "hello\n%literal\n",
		},
		{
			name: "no macros",
			args: []string{"expand", "--no-macros", "%{?name:set}%{!?name:unset}"},
			want: "unset\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, errOut, err := run(t, tt.stdin, tt.args...)
			if err != nil {
				t.Fatalf("expand error = %v (stderr: %s)", err, errOut)
			}
			if out != tt.want {
				t.Errorf("expand output = %q, want %q", out, tt.want)
			}
		})
	}
}

func TestExpandCommandFiles(t *testing.T) {
	dir, macros := setup(t)
	a := filepath.Join(dir, "a.spec")
	b := filepath.Join(dir, "b.spec")
	if err := os.WriteFile(a, []byte("%define foo one\n%{foo}-%{name}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(b, []byte("%{?foo:set}%{!?foo:unset}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, _, err := run(t, "", "expand", "--macros", macros, "-f", a, "-f", b)
	if err != nil {
		t.Fatalf("expand error = %v", err)
	}
	if out != "one-hello\nunset\n" {
		t.Errorf("files should expand in order on separate contexts, got %q", out)
	}
}

func TestExpandCommandErrors(t *testing.T) {
	_, macros := setup(t)

	_, _, err := run(t, "", "expand", "--macros", macros, "--strict", "%{nosuchmacro}")
	if !errors.Is(err, macro.ErrUndefined) {
		t.Errorf("strict expansion should fail with ErrUndefined, got %v", err)
	}

	_, _, err = run(t, "", "expand", "--no-macros", "-D", "x y", "%x")
	if err == nil || !strings.Contains(err.Error(), "--define") {
		t.Errorf("bad --define should be reported, got %v", err)
	}

	_, _, err = run(t, "", "expand", "--no-macros", "-f", "missing.spec")
	if err == nil {
		t.Error("missing file should fail")
	}

	_, _, err = run(t, "", "expand", "--shell", "powershell", "x")
	if err == nil || !strings.Contains(err.Error(), "invalid shell") {
		t.Errorf("bad shell should fail config validation, got %v", err)
	}
}

func TestConfigFileDefines(t *testing.T) {
	dir, macros := setup(t)
	cfg := "macro_path: " + macros + "\ndefines:\n  dist: .fc40\n"
	if err := os.WriteFile(filepath.Join(dir, "specmacro.yaml"), []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}

	out, _, err := run(t, "", "expand", "%{name}%{dist}")
	if err != nil {
		t.Fatalf("expand error = %v", err)
	}
	if out != "hello.fc40\n" {
		t.Errorf("config defines should apply, got %q", out)
	}
}

type dumpRow struct {
	Name   string `json:"name"`
	Opts   string `json:"opts"`
	Body   string `json:"body"`
	Level  int    `json:"level"`
	Scope  string `json:"scope"`
	Source string `json:"source"`
}

func TestDumpCommand(t *testing.T) {
	_, macros := setup(t)

	out, _, err := run(t, "", "dump", "--macros", macros, "-D", "version 9", "-o", "json")
	if err != nil {
		t.Fatalf("dump error = %v", err)
	}
	var rows []dumpRow
	if err := json.Unmarshal([]byte(out), &rows); err != nil {
		t.Fatalf("dump output is not JSON: %v\n%s", err, out)
	}
	byName := make(map[string]dumpRow)
	for _, r := range rows {
		byName[r.Name] = r
	}
	if got := byName["name"]; got.Scope != "macrofiles" || !strings.HasSuffix(got.Source, "macros:2") {
		t.Errorf("name row = %+v", got)
	}
	if got := byName["version"]; got.Body != "9" || got.Scope != "cmdline" {
		t.Errorf("version should come from the command line, got %+v", got)
	}
	if got := byName["greet"]; got.Opts != "n:" {
		t.Errorf("greet opts = %q", got.Opts)
	}

	out, _, err = run(t, "", "dump", "--macros", macros)
	if err != nil {
		t.Fatalf("dump error = %v", err)
	}
	if !strings.Contains(out, "# Macros (3)") || !strings.Contains(out, "`greet(n:)`") {
		t.Errorf("piped dump should be markdown, got:\n%s", out)
	}

	out, _, err = run(t, "", "dump", "--macros", macros, "--raw")
	if err != nil {
		t.Fatalf("dump --raw error = %v", err)
	}
	if !strings.Contains(out, "-13: name\thello") {
		t.Errorf("raw dump should list name, got:\n%s", out)
	}

	_, _, err = run(t, "", "dump", "--macros", macros, "nosuchmacro")
	if err == nil {
		t.Error("dumping an undefined macro should fail")
	}
}

func TestIndexCommand(t *testing.T) {
	dir, macros := setup(t)
	db := filepath.Join(dir, "state", "index.db")

	_, _, err := run(t, "", "expand", "--state", db, "--from-index", "%name")
	if err == nil || !strings.Contains(err.Error(), "specmacro index") {
		t.Errorf("expanding from a missing index should hint at 'specmacro index', got %v", err)
	}

	out, _, err := run(t, "", "index", "--macros", macros+":"+filepath.Join(dir, "absent"), "--state", db, "-o", "json")
	if err != nil {
		t.Fatalf("index error = %v", err)
	}
	var summary struct {
		ID          string   `json:"id"`
		Files       int      `json:"files"`
		Definitions int      `json:"definitions"`
		Missing     []string `json:"missing"`
	}
	if err := json.Unmarshal([]byte(out), &summary); err != nil {
		t.Fatalf("index output is not JSON: %v\n%s", err, out)
	}
	if summary.ID == "" || summary.Files != 2 || summary.Definitions != 3 || len(summary.Missing) != 1 {
		t.Errorf("unexpected index summary: %+v", summary)
	}

	// The macro file is gone; the index still has its definitions.
	if err := os.Remove(macros); err != nil {
		t.Fatal(err)
	}
	out, _, err = run(t, "", "expand", "--state", db, "--from-index", "-D", "version 3", "%{name}-%{version}")
	if err != nil {
		t.Fatalf("expand --from-index error = %v", err)
	}
	if out != "hello-3\n" {
		t.Errorf("expand --from-index = %q", out)
	}

	out, _, err = run(t, "", "index", "--list", "--state", db, "-o", "json")
	if err != nil {
		t.Fatalf("index --list error = %v", err)
	}
	if !strings.Contains(out, summary.ID) {
		t.Errorf("index --list should include run %s, got:\n%s", summary.ID, out)
	}
}

func TestDepsAndGraphCommands(t *testing.T) {
	_, macros := setup(t)

	out, _, err := run(t, "", "deps", "--macros", macros, "-D", "nvr %{name}-%{version}", "name")
	if err != nil {
		t.Fatalf("deps error = %v", err)
	}
	if !strings.Contains(out, "## Used by (1)") || !strings.Contains(out, "- `nvr`") {
		t.Errorf("deps should list nvr as a user of name, got:\n%s", out)
	}

	_, _, err = run(t, "", "deps", "--macros", macros, "nosuchmacro")
	if err == nil {
		t.Error("deps of an unknown macro should fail")
	}

	out, errOut, err := run(t, "", "graph", "--macros", macros, "-D", "loop %{loop}")
	if err != nil {
		t.Fatalf("graph error = %v", err)
	}
	if !strings.Contains(errOut, "reference cycle: loop -> loop") {
		t.Errorf("graph should warn about the cycle, got stderr: %s", errOut)
	}
	if !strings.Contains(out, "Total Macros") {
		t.Errorf("graph should print a summary, got:\n%s", out)
	}
}

func TestCompletionCommand(t *testing.T) {
	out, _, err := run(t, "", "completion", "bash")
	if err != nil {
		t.Fatalf("completion error = %v", err)
	}
	if !strings.Contains(out, "specmacro") {
		t.Error("bash completion should mention specmacro")
	}
}
