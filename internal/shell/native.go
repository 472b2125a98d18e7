package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
)

// Native runs commands with the host shell.
type Native struct {
	opts Options
}

// NewNative returns a native runner for the given interpreter, DefaultShell
// when empty.
func NewNative(shellPath string, logger *slog.Logger) *Native {
	return newNative(Options{Shell: shellPath, Logger: logger})
}

func newNative(opts Options) *Native {
	opts.defaults()
	if opts.Shell == "" {
		opts.Shell = DefaultShell
	}
	return &Native{opts: opts}
}

// Shell returns the interpreter path.
func (n *Native) Shell() string { return n.opts.Shell }

// RunShell runs command with "<shell> -c" and returns its standard output.
func (n *Native) RunShell(ctx context.Context, command string) (string, error) {
	cmd := exec.CommandContext(ctx, n.opts.Shell, "-c", command)
	if n.opts.Dir != "" {
		cmd.Dir = n.opts.Dir
	}

	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = n.opts.Stderr

	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			n.opts.Logger.Debug("shell escape exited with non-zero status",
				"command", command, "exit_code", exitErr.ExitCode())
			return stdout.String(), nil
		}
		return "", fmt.Errorf("failed to run %s: %w", n.opts.Shell, err)
	}
	return stdout.String(), nil
}
