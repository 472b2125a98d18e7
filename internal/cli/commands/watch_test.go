package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/specmacro/internal/cli/config"
)

// syncBuffer is a bytes.Buffer safe for the watch goroutine and the test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRunWatch(t *testing.T) {
	dir := t.TempDir()
	macros := filepath.Join(dir, "macros")
	spec := filepath.Join(dir, "pkg.spec")
	require.NoError(t, os.WriteFile(macros, []byte("%dist .el8\n"), 0o644))
	require.NoError(t, os.WriteFile(spec, []byte("first%{dist}\n"), 0o644))

	cfg := config.Defaults()
	cfg.MacroPath = []string{macros}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmd := NewWatchCommand()
	out, errOut := &syncBuffer{}, &syncBuffer{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetContext(config.WithConfig(ctx, cfg))

	done := make(chan error, 1)
	go func() {
		done <- runWatch(ctx, cmd, spec, &WatchOptions{Debounce: 20 * time.Millisecond})
	}()

	waitFor := func(want string) {
		t.Helper()
		require.Eventually(t, func() bool {
			return strings.Contains(out.String(), want)
		}, 5*time.Second, 20*time.Millisecond, "waiting for %q, have %q (stderr %q)", want, out.String(), errOut.String())
	}

	waitFor("first.el8\n")
	require.Eventually(t, func() bool {
		return strings.Contains(errOut.String(), "Watching")
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(spec, []byte("second%{dist}\n"), 0o644))
	waitFor("second.el8\n")

	require.NoError(t, os.WriteFile(macros, []byte("%dist .el9\n"), 0o644))
	waitFor("second.el9\n")

	require.NoError(t, os.WriteFile(spec, []byte("%{error:broken}\n"), 0o644))
	require.Eventually(t, func() bool {
		return strings.Contains(errOut.String(), "Error: broken")
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop after cancel")
	}
}

func TestRunWatch_MissingFile(t *testing.T) {
	cmd := NewWatchCommand()
	cmd.SetContext(config.WithConfig(context.Background(), config.Defaults()))
	err := runWatch(context.Background(), cmd, filepath.Join(t.TempDir(), "nope.spec"), &WatchOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot watch")
}
