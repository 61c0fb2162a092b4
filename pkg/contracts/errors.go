package contracts

import "errors"

// Error taxonomy shared across the fabric. Callers match with errors.Is;
// components wrap these with fmt.Errorf("...: %w", Err...) to add context.
var (
	// ErrNotFound: a referenced entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict: duplicate id, or a delete blocked by a live reference.
	ErrConflict = errors.New("conflict")
	// ErrValidation: shape or schema violation.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidState: operation invalid for the entity's current lifecycle,
	// e.g. retrying a propagation with no failed targets.
	ErrInvalidState = errors.New("invalid state")
	// ErrIntegrity: signature mismatch or a cyclic attestation chain.
	ErrIntegrity = errors.New("integrity violation")
	// ErrUnavailable: a required collaborator is not configured.
	ErrUnavailable = errors.New("collaborator unavailable")
)
