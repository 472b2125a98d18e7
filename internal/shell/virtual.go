package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

// Virtual interprets commands with an embedded POSIX shell.
type Virtual struct {
	opts Options
}

// NewVirtual returns a virtual runner.
func NewVirtual(opts Options) *Virtual {
	return newVirtual(opts)
}

func newVirtual(opts Options) *Virtual {
	opts.defaults()
	return &Virtual{opts: opts}
}

// RunShell parses and interprets command and returns its standard output.
func (v *Virtual) RunShell(ctx context.Context, command string) (string, error) {
	prog, err := syntax.NewParser().Parse(strings.NewReader(command), "shell-escape")
	if err != nil {
		return "", fmt.Errorf("failed to parse command: %w", err)
	}

	var stdout bytes.Buffer
	opts := []interp.RunnerOption{
		interp.Env(expand.ListEnviron(os.Environ()...)),
		interp.StdIO(nil, &stdout, v.opts.Stderr),
	}
	if v.opts.Dir != "" {
		opts = append(opts, interp.Dir(v.opts.Dir))
	}

	runner, err := interp.New(opts...)
	if err != nil {
		return "", fmt.Errorf("failed to create interpreter: %w", err)
	}

	if err := runner.Run(ctx, prog); err != nil {
		var exitStatus interp.ExitStatus
		if errors.As(err, &exitStatus) {
			v.opts.Logger.Debug("shell escape exited with non-zero status",
				"command", command, "exit_code", int(exitStatus))
			return stdout.String(), nil
		}
		return "", err
	}
	return stdout.String(), nil
}
