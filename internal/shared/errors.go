package shared

import "errors"

var (
	// ErrNotFound indicates a referenced role, permission or grant row is absent.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate indicates a grant already exists for the same key.
	ErrDuplicate = errors.New("duplicate grant")
	// ErrDenied indicates the caller lacks the capability required for the operation.
	ErrDenied = errors.New("authorization denied")
	// ErrValidation indicates the request payload failed validation.
	ErrValidation = errors.New("validation failed")
	// ErrProviderUnavailable indicates a population-list fetch failed.
	ErrProviderUnavailable = errors.New("population provider unavailable")
)
