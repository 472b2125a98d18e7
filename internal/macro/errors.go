package macro

import (
	"errors"
	"fmt"
)

// Sentinel errors for classification with errors.Is. Every typed error
// below matches exactly one of them.
var (
	ErrUnterminated   = errors.New("unterminated macro")
	ErrBadOption      = errors.New("bad macro option")
	ErrRecursionLimit = errors.New("macro recursion limit exceeded")
	ErrBufferOverflow = errors.New("macro output buffer overflow")
	ErrShellEscape    = errors.New("shell escape failed")
	ErrUser           = errors.New("macro error")
	ErrUndefined      = errors.New("undefined macro")
	ErrDefine         = errors.New("bad macro definition")
	ErrScript         = errors.New("script failed")
)

// UnterminatedError reports a construct whose closing delimiter was never
// found.
type UnterminatedError struct {
	Open byte   // '{', '(' or the body brace of a definition
	Text string // remaining input starting at the construct
}

// NewUnterminatedError creates a new unterminated construct error.
func NewUnterminatedError(open byte, text string) *UnterminatedError {
	return &UnterminatedError{Open: open, Text: text}
}

func (e *UnterminatedError) Error() string {
	return fmt.Sprintf("unterminated %c: %s", e.Open, excerpt(e.Text))
}

func (e *UnterminatedError) Is(target error) bool { return target == ErrUnterminated }

// BadOptionError reports an option letter outside a macro's parameter
// specification, or a value-taking option given without a value.
type BadOptionError struct {
	Option byte
	Macro  string
	Opts   string
	// MissingValue is set when the option is known but its value is absent.
	MissingValue bool
}

func (e *BadOptionError) Error() string {
	if e.MissingValue {
		return fmt.Sprintf("option -%c requires a value in %s(%s)", e.Option, e.Macro, e.Opts)
	}
	return fmt.Sprintf("unknown option %c in %s(%s)", e.Option, e.Macro, e.Opts)
}

func (e *BadOptionError) Is(target error) bool { return target == ErrBadOption }

// RecursionLimitError reports that expansion nested deeper than allowed.
type RecursionLimitError struct {
	Depth int
	Max   int
}

func (e *RecursionLimitError) Error() string {
	return fmt.Sprintf("recursion depth(%d) greater than max(%d)", e.Depth, e.Max)
}

func (e *RecursionLimitError) Is(target error) bool { return target == ErrRecursionLimit }

// BufferOverflowError reports that output would exceed the buffer capacity.
type BufferOverflowError struct {
	Capacity int
}

func (e *BufferOverflowError) Error() string {
	return fmt.Sprintf("target buffer overflow (capacity %d bytes)", e.Capacity)
}

func (e *BufferOverflowError) Is(target error) bool { return target == ErrBufferOverflow }

// ShellEscapeError reports a %(...) command that could not be run.
type ShellEscapeError struct {
	Command string
	Cause   error
}

func (e *ShellEscapeError) Error() string {
	return fmt.Sprintf("shell escape %q: %v", excerpt(e.Command), e.Cause)
}

func (e *ShellEscapeError) Unwrap() error { return e.Cause }

func (e *ShellEscapeError) Is(target error) bool { return target == ErrShellEscape }

// UserError carries the text of an %{error:...} directive.
type UserError struct {
	Message string
}

func (e *UserError) Error() string { return e.Message }

func (e *UserError) Is(target error) bool { return target == ErrUser }

// UndefinedMacroError is returned in strict mode for unknown macros.
type UndefinedMacroError struct {
	Name string
}

func (e *UndefinedMacroError) Error() string {
	return fmt.Sprintf("macro %%%s not found", e.Name)
}

func (e *UndefinedMacroError) Is(target error) bool { return target == ErrUndefined }

// DefineError reports a malformed %define, %global or %undefine.
type DefineError struct {
	Name   string
	Reason string
}

// NewDefineError creates a new definition error.
func NewDefineError(name, reason string) *DefineError {
	return &DefineError{Name: name, Reason: reason}
}

func (e *DefineError) Error() string {
	return fmt.Sprintf("macro %%%s %s", e.Name, e.Reason)
}

func (e *DefineError) Is(target error) bool { return target == ErrDefine }

// ScriptError wraps a failure of the %{starlark:...} built-in.
type ScriptError struct {
	Cause error
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("starlark: %v", e.Cause)
}

func (e *ScriptError) Unwrap() error { return e.Cause }

func (e *ScriptError) Is(target error) bool { return target == ErrScript }

// excerpt shortens s for error messages.
func excerpt(s string) string {
	const max = 40
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			s = s[:i]
			break
		}
	}
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
