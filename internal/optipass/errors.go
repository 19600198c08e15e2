package optipass

import (
	"errors"
	"fmt"
	"strings"
)

// Fault classes. Every error returned by this package wraps exactly one of
// these; callers classify with errors.Is.
var (
	// ErrValidation marks a client-input fault: unknown targets, empty
	// selections, mismatched weights, malformed datasets.
	ErrValidation = errors.New("validation error")

	// ErrUnsupported marks a host that cannot run the optimizer.
	ErrUnsupported = errors.New("unsupported operation")

	// ErrRuntime marks a failed sweep: optimizer errors, missing or
	// malformed output artifacts, no-solution results.
	ErrRuntime = errors.New("runtime error")
)

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func runtimef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrRuntime, fmt.Sprintf(format, args...))
}

// ParseError reports an output artifact that does not follow the optimizer's
// output format. The whole artifact is rejected.
type ParseError struct {
	Path string
	Line int
	Want string
	Got  string
}

func (e *ParseError) Error() string {
	if e.Want == "" {
		return fmt.Sprintf("%s:%d: malformed line %q", e.Path, e.Line, e.Got)
	}
	return fmt.Sprintf("%s:%d: expected %s, got %q", e.Path, e.Line, e.Want, e.Got)
}

func (e *ParseError) Unwrap() error { return ErrRuntime }

// ProcessError reports a failed optimizer invocation. Output holds the
// process's combined stdout and stderr.
type ProcessError struct {
	Budget int64
	Args   []string
	Output string
	Err    error
}

func (e *ProcessError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "optimizer failed at budget %d", e.Budget)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if out := strings.TrimSpace(e.Output); out != "" {
		fmt.Fprintf(&b, ": %s", out)
	}
	return b.String()
}

// Unwrap exposes both the runtime class and the underlying cause, so
// errors.Is works for ErrRuntime and for context.DeadlineExceeded.
func (e *ProcessError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrRuntime}
	}
	return []error{ErrRuntime, e.Err}
}
