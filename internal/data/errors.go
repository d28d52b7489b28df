package data

import "errors"

// Shared sentinel errors for data-layer repositories.
var (
	ErrEmptyKey           = errors.New("key cannot be empty")
	ErrIdentityIDRequired = errors.New("identity id is required")
	ErrEmailRequired      = errors.New("email is required")
)
