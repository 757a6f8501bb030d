package step

import (
	"errors"
	"fmt"
)

// FatalCode categorises errors that abort a whole run.
type FatalCode string

const (
	// ErrCodeMissingInput indicates a required file or prefix is absent.
	ErrCodeMissingInput FatalCode = "MISSING_INPUT"

	// ErrCodeCorruptInput indicates an input cannot be parsed at all.
	ErrCodeCorruptInput FatalCode = "CORRUPT_INPUT"

	// ErrCodeConfig indicates the step is misconfigured.
	ErrCodeConfig FatalCode = "CONFIG"

	// ErrCodeIntegration indicates an output could not be delivered.
	ErrCodeIntegration FatalCode = "INTEGRATION"
)

// FatalError aborts a step run and is surfaced to the operator.
type FatalError struct {
	Code    FatalCode
	Message string
	Err     error
}

func (e *FatalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *FatalError) Unwrap() error { return e.Err }

// Fatal builds a *FatalError.
func Fatal(code FatalCode, err error, format string, args ...any) error {
	return &FatalError{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// IsFatal reports whether err aborts the run.
// Uses errors.As to handle wrapped errors.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// IsFatalCode reports whether err is a *FatalError with code.
func IsFatalCode(err error, code FatalCode) bool {
	var fe *FatalError
	if errors.As(err, &fe) {
		return fe.Code == code
	}
	return false
}
