package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the caller-visible failure states. Missing evidence is
// never an error; it degrades to unknown/partial statuses instead.
var (
	// ErrPolicyNotFound means no digitized policy exists for the requested
	// (payer, medication) pair or version.
	ErrPolicyNotFound = errors.New("policy not found")

	// ErrNoMatchingIndication means a policy was found but none of its
	// indications match the patient's diagnoses. Distinct from
	// ErrPolicyNotFound so callers can surface the two states separately.
	ErrNoMatchingIndication = errors.New("no matching indication")

	// ErrPolicyMismatch means the diff engine was handed two policies that
	// do not cover the same (payer, medication) pair.
	ErrPolicyMismatch = errors.New("policies cover different payer or medication")
)

// ValidationError reports a structurally invalid field on input data.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   any    `json:"value,omitempty"`
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field %q: %s", e.Field, e.Message)
}
