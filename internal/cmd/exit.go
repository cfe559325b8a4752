package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"

	"github.com/3leaps/clipnimbus/pkg/job"
)

// ExitError carries a process exit code to main.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s: %v (exit code %d)", e.Message, e.Err, e.Code)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// exitError creates an error that will cause the CLI to exit with the given code.
func exitError(code int, message string, err error) error {
	return &ExitError{Code: code, Message: message, Err: err}
}

// ExitCode returns the process exit code for err.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	if errors.Is(err, context.Canceled) {
		return foundry.ExitSignalInt
	}
	return 1
}

// exitCodeForKind maps a job failure to an exit code.
func exitCodeForKind(jerr *job.Error) int {
	if errors.Is(jerr, context.Canceled) {
		return foundry.ExitSignalInt
	}
	switch jerr.Kind {
	case job.KindInvalidInput:
		return foundry.ExitInvalidArgument
	case job.KindConfigCorrupt:
		return foundry.ExitFileReadError
	default:
		return foundry.ExitExternalServiceUnavailable
	}
}
