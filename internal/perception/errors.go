package perception

import (
	"errors"
	"fmt"
)

// ModelError wraps every failure at the model boundary: transport errors,
// non-2xx statuses, undecodable bodies, and structurally malformed model
// output. Callers branch on the type, not the message.
type ModelError struct {
	// Provider identifies the client ("openai", "gemini").
	Provider string

	// Op is the failing step ("request", "decode", "parse").
	Op string

	// Status is the HTTP status when one was received, else 0.
	Status int

	// Err is the underlying cause.
	Err error
}

func (e *ModelError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("model %s: %s failed (status %d): %v", e.Provider, e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("model %s: %s failed: %v", e.Provider, e.Op, e.Err)
}

func (e *ModelError) Unwrap() error {
	return e.Err
}

// IsModelError reports whether err is (or wraps) a *ModelError.
func IsModelError(err error) bool {
	var me *ModelError
	return errors.As(err, &me)
}

func modelErr(provider, op string, err error) *ModelError {
	return &ModelError{Provider: provider, Op: op, Err: err}
}

func modelStatusErr(provider, op string, status int, err error) *ModelError {
	return &ModelError{Provider: provider, Op: op, Status: status, Err: err}
}
