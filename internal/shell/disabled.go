package shell

import (
	"context"
	"errors"
)

// ErrDisabled is returned by Disabled for every command.
var ErrDisabled = errors.New("shell escapes are disabled")

// Disabled refuses to run anything. The HTTP server uses it unless shell
// escapes were explicitly allowed, so request text cannot start programs.
type Disabled struct{}

// RunShell always fails with ErrDisabled.
func (Disabled) RunShell(context.Context, string) (string, error) {
	return "", ErrDisabled
}
