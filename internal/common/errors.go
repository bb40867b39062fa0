// Package common defines the sentinel errors and typed errors shared by the
// credential store driver, the repositories and the services. Callers should
// use errors.Is / errors.As to match these values.
package common

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// Repository and token-store errors.
	ErrorNotFound      = errors.New("not found")
	ErrorAlreadyExists = errors.New("already exists")

	// Caller input and guard-condition errors.
	ErrorValidation         = errors.New("validation error")
	ErrorInvalidState       = errors.New("invalid state")
	ErrorAlreadyInitialized = errors.New("already initialized")
	ErrorNotInitialized     = errors.New("not initialized")

	// Credential store errors.
	ErrorExternalTool = errors.New("external tool error")
	ErrorDecode       = errors.New("token decode error")
	ErrorConsistency  = errors.New("consistency error")
)

// ExternalToolError is returned when the credential tool exits with a non-zero
// status. Stderr carries the tool's diagnostic text verbatim.
type ExternalToolError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *ExternalToolError) Error() string {
	if e.Stderr != "" {
		return e.Stderr
	}
	return fmt.Sprintf("%s: %v", strings.Join(e.Args, " "), e.Err)
}

func (e *ExternalToolError) Unwrap() error { return e.Err }

// Is reports ErrorExternalTool so callers do not have to use errors.As.
func (e *ExternalToolError) Is(target error) bool { return target == ErrorExternalTool }

// CompensatedError carries a primary failure together with the failure of the
// compensating action that ran after it. Only the primary error is unwrapped.
type CompensatedError struct {
	Err           error
	CompensateErr error
}

func (e *CompensatedError) Error() string {
	if e.CompensateErr == nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v (compensation failed: %v)", e.Err, e.CompensateErr)
}

func (e *CompensatedError) Unwrap() error { return e.Err }

// Validationf returns an ErrorValidation-wrapped error with a formatted message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrorValidation, fmt.Sprintf(format, args...))
}

// InvalidStatef returns an ErrorInvalidState-wrapped error with a formatted message.
func InvalidStatef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrorInvalidState, fmt.Sprintf(format, args...))
}
