// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested token does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a unique constraint violation (token code taken).
	ErrAlreadyExists = errors.New("already exists")

	// ErrAlreadyUsed indicates a conditional use transition lost against a prior redemption.
	ErrAlreadyUsed = errors.New("already used")

	// ErrInvalidTokenType indicates a token type key outside the known enumeration.
	ErrInvalidTokenType = errors.New("invalid token type")

	// ErrStorageCorrupted indicates the persisted token list could not be decoded.
	ErrStorageCorrupted = errors.New("storage corrupted")

	// ErrCodeExhausted indicates no unique code could be generated within the retry budget.
	ErrCodeExhausted = errors.New("code generation exhausted")

	// ErrUnauthorized indicates failed authentication/authorization.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited indicates a temporary lockout after repeated lookups of unknown codes.
	ErrRateLimited = errors.New("rate limited")

	// ErrValidation is wrapped by input validation failures.
	ErrValidation = errors.New("validation")
)
