package commands

import (
	"context"
	"io"
	"net/http"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/specmacro/internal/cli/config"
	"github.com/leapstack-labs/specmacro/internal/cli/testutil"
	"github.com/leapstack-labs/specmacro/internal/macrofile"
)

func TestRunServe(t *testing.T) {
	path := testutil.SetupMacroFiles(t, []string{"macros"}, map[string]string{"macros": "%name served\n"})
	cfg := config.Defaults()
	cfg.MacroPath = macrofile.SplitPath(path)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmd := NewServeCommand()
	errOut := &syncBuffer{}
	cmd.SetErr(errOut)
	cmd.SetContext(config.WithConfig(ctx, cfg))

	done := make(chan error, 1)
	go func() {
		done <- runServe(ctx, cmd, &ServeOptions{Addr: "127.0.0.1:0", NoWatch: true})
	}()

	bound := regexp.MustCompile(`http://(\S+)`)
	var addr string
	require.Eventually(t, func() bool {
		if m := bound.FindStringSubmatch(errOut.String()); m != nil {
			addr = m[1]
			return true
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)

	resp, err := http.Post("http://"+addr+"/api/expand", "application/json", strings.NewReader(`{"text": "%{name}"}`))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"output":"served"`)

	resp, err = http.Post("http://"+addr+"/api/expand", "application/json", strings.NewReader(`{"text": "%(echo hi)"}`))
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, string(body), `"kind":"shell_escape"`, "shell escapes need --allow-shell")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop after cancel")
	}
}
