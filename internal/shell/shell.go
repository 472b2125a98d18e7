// Package shell runs the commands of %(...) shell escapes.
//
// Two runners are provided. Native hands the command to the host shell
// (/bin/sh -c by default) and inherits the process environment. Virtual
// interprets it with mvdan.cc/sh, so simple commands behave the same on
// every platform and only external programs touch the host.
//
// Both runners return the captured standard output. A command that runs
// but exits non-zero is not an error; only failing to start it is.
package shell

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// Kind selects a runner implementation.
type Kind string

// Runner kinds.
const (
	KindNative  Kind = "native"
	KindVirtual Kind = "virtual"
)

// DefaultShell is the interpreter used by Native when none is configured.
const DefaultShell = "/bin/sh"

// Runner runs one shell-escape command.
type Runner interface {
	RunShell(ctx context.Context, command string) (string, error)
}

// Options configures a runner.
type Options struct {
	// Shell is the interpreter used by Native. Ignored by Virtual.
	Shell string
	// Dir is the working directory. Empty means the current directory.
	Dir string
	// Stderr receives the commands' standard error. Defaults to os.Stderr.
	Stderr io.Writer
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.Stderr == nil {
		o.Stderr = os.Stderr
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
}

// New returns the runner for kind.
func New(kind Kind, opts Options) (Runner, error) {
	switch kind {
	case KindNative, "":
		return newNative(opts), nil
	case KindVirtual:
		return newVirtual(opts), nil
	default:
		return nil, fmt.Errorf("unknown shell runner %q (want %s or %s)", kind, KindNative, KindVirtual)
	}
}
