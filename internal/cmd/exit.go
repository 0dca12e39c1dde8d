package cmd

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/fulmenhq/gofulmen/foundry"

	"github.com/3leaps/batchdeck/pkg/backendapi"
)

// codedError carries the process exit code up to Execute.
type codedError struct {
	code int
	err  error
}

func (e *codedError) Error() string { return e.err.Error() }

func (e *codedError) Unwrap() error { return e.err }

// exitError creates an error that will cause the CLI to exit with the given code.
func exitError(code int, message string, err error) error {
	return &codedError{code: code, err: fmt.Errorf("%s: %w (exit code %d)", message, err, code)}
}

// exitCode returns the code carried by err, or foundry.ExitFailure.
func exitCode(err error) int {
	if err == nil {
		return foundry.ExitSuccess
	}
	var coded *codedError
	if errors.As(err, &coded) {
		return coded.code
	}
	return foundry.ExitFailure
}

// backendExitCode maps a backend client error onto an exit code. The
// backend answers 404 or 422 for job types it does not know.
func backendExitCode(err error) int {
	switch backendapi.Classify(err) {
	case backendapi.KindTransport:
		return foundry.ExitExternalServiceUnavailable
	case backendapi.KindCanceled:
		return foundry.ExitSignalInt
	case backendapi.KindStatus:
		if se, ok := backendapi.AsStatus(err); ok &&
			(se.StatusCode == http.StatusNotFound || se.StatusCode == http.StatusUnprocessableEntity) {
			return foundry.ExitInvalidArgument
		}
		return foundry.ExitFailure
	default:
		return foundry.ExitFailure
	}
}
