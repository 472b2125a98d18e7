package commands

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/specmacro/internal/cli/config"
	"github.com/leapstack-labs/specmacro/internal/cli/testutil"
	"github.com/leapstack-labs/specmacro/internal/dag"
	"github.com/leapstack-labs/specmacro/internal/macro"
	"github.com/leapstack-labs/specmacro/internal/macrofile"
)

func TestCalculateHealthScore(t *testing.T) {
	tests := []struct {
		name       string
		checks     []HealthCheck
		macroCount int
		want       int
	}{
		{"no checks returns 100", nil, 10, 100},
		{
			name: "all passing returns 100",
			checks: []HealthCheck{
				{RuleID: "MF01", Status: "pass"},
				{RuleID: "MR01", Status: "pass"},
			},
			macroCount: 10,
			want:       100,
		},
		{
			name:       "warnings reduce score",
			checks:     []HealthCheck{{RuleID: "MR01", Status: "warn", IssueCount: 2}},
			macroCount: 10,
			want:       90,
		},
		{
			name:       "errors count double",
			checks:     []HealthCheck{{RuleID: "MF01", Status: "error", IssueCount: 2}},
			macroCount: 10,
			want:       80,
		},
		{
			name:       "more macros means less impact per issue",
			checks:     []HealthCheck{{RuleID: "MR01", Status: "warn", IssueCount: 5}},
			macroCount: 2000,
			want:       95,
		},
		{
			name: "clamped at 0",
			checks: []HealthCheck{
				{RuleID: "MF01", Status: "error", IssueCount: 20},
				{RuleID: "RT01", Status: "error", IssueCount: 20},
			},
			macroCount: 5,
			want:       0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, calculateHealthScore(tt.checks, tt.macroCount))
		})
	}
}

func TestGetRecommendation(t *testing.T) {
	for _, id := range []string{"MF01", "MF02", "MF03", "MR01", "MR02", "RT01", "RT02"} {
		assert.NotEmpty(t, getRecommendation(id), id)
	}
	assert.Empty(t, getRecommendation("UNKNOWN"))

	recs := generateRecommendations([]HealthCheck{
		{RuleID: "MF02", Status: "warn", IssueCount: 1},
		{RuleID: "MR01", Status: "pass"},
		{RuleID: "RT02", Status: "warn", IssueCount: 2},
	})
	require.Len(t, recs, 2)
	assert.Contains(t, recs[1], "specmacro index")
}

func TestFileChecks(t *testing.T) {
	results := []macrofile.LoadResult{
		{File: "/a", Found: true, Skipped: []macrofile.Skipped{{Line: 4, Err: macro.NewDefineError("ab", "too short")}}},
		{File: "/missing", Err: fs.ErrNotExist},
		{File: "/locked", Err: errors.New("open /locked: permission denied")},
	}

	checks := fileChecks(results)
	require.Len(t, checks, 3)
	assert.Equal(t, "error", checks[0].Status)
	assert.Equal(t, []string{"open /locked: permission denied"}, checks[0].Details)
	assert.Equal(t, []string{"/missing"}, checks[1].Details)
	assert.Equal(t, "warn", checks[2].Status)
	assert.Contains(t, checks[2].Details[0], "/a:4:")
}

func TestReferenceChecks(t *testing.T) {
	mc := macro.NewContext("global")
	mc.Load(macro.LevelMacroFiles, []macro.Definition{
		{Name: "_bindir", Body: "%{_prefix}/bin%{?_suffix}"},
		{Name: "tool", Body: "%{_prefix}/tool"},
		{Name: "ping", Body: "%{pong}"},
		{Name: "pong", Body: "%{ping}"},
	})

	checks := referenceChecks(mc, dag.FromContext(mc))
	require.Len(t, checks, 2)
	assert.Equal(t, []string{"_prefix (used by _bindir, tool)"}, checks[0].Details, "guarded references are not reported")
	assert.Equal(t, "warn", checks[1].Status)
	assert.Equal(t, []string{"ping -> pong -> ping"}, checks[1].Details)
}

func TestRunDoctor(t *testing.T) {
	dir := t.TempDir()
	path := testutil.SetupMacroFiles(t, []string{"macros"}, map[string]string{
		"macros": "%_prefix /usr\n%_bindir %{_prefix}/bin\n%greet(n:) Hello %{-n*} %{who}\n%ab bad\n",
	})
	cfg := config.Defaults()
	cfg.MacroPath = append(macrofile.SplitPath(path), filepath.Join(dir, "absent"))
	cfg.Shell = "virtual"
	cfg.StatePath = filepath.Join(dir, "index.db")
	cfg.OutputFormat = "json"

	cmd := NewDoctorCommand()
	tr := testutil.NewTestRendererJSON()
	cmd.SetOut(tr.Out)
	cmd.SetErr(tr.ErrOut)
	cmd.SetContext(config.WithConfig(context.Background(), cfg))
	require.NoError(t, runDoctor(cmd))

	var out DoctorOutput
	require.NoError(t, json.Unmarshal([]byte(tr.Output()), &out))
	assert.Equal(t, MacroSummary{Files: 1, Macros: 3, Parameterized: 1, References: 2, GraphDepth: 2}, out.Summary)

	status := make(map[string]HealthCheck)
	for _, c := range out.HealthChecks {
		status[c.RuleID] = c
	}
	assert.Equal(t, "warn", status["MF02"].Status)
	assert.Equal(t, "warn", status["MF03"].Status)
	assert.Equal(t, []string{"who (used by greet)"}, status["MR01"].Details)
	assert.Equal(t, "pass", status["RT01"].Status, "%v", status["RT01"].Details)
	assert.Equal(t, "pass", status["RT02"].Status)
	assert.Equal(t, 3, out.IssueCount)
	assert.Equal(t, 85, out.Score)
	assert.Equal(t, "files", out.HealthChecks[0].Group)
}

func TestRenderDoctorMarkdown(t *testing.T) {
	tr := testutil.NewTestRendererMarkdown()
	renderDoctorMarkdown(tr.Renderer, &DoctorOutput{
		Summary: MacroSummary{Macros: 2},
		HealthChecks: []HealthCheck{
			{RuleID: "MF01", Name: "Macro files readable", Group: "files", Status: "pass"},
			{RuleID: "MR01", Name: "References resolve", Group: "references", Status: "warn", IssueCount: 1, Details: []string{"x (used by y)"}},
		},
		Score:           95,
		Recommendations: []string{getRecommendation("MR01")},
	})

	testutil.AssertValidMarkdown(t, tr.Output())
	testutil.AssertContains(t, tr.Output(), "### Files")
	testutil.AssertContains(t, tr.Output(), "- **[WARN]** MR01: References resolve (1 issues)")
	testutil.AssertContains(t, tr.Output(), "  - x (used by y)")
	testutil.AssertContains(t, tr.Output(), "**95/100**")
}
