package models

import "errors"

var (
	// ErrInvalidInput is returned for a blank or malformed key name or secret.
	ErrInvalidInput = errors.New("invalid input")
	// ErrDuplicateName is returned when a key name is blank or already taken.
	ErrDuplicateName = errors.New("duplicate key name")
	// ErrNotFound is returned when a key is absent from the store or cache.
	ErrNotFound = errors.New("not found")
	// ErrDenied covers every authentication and rate-limit refusal. Callers
	// must not be able to tell an unknown name from a wrong secret.
	ErrDenied = errors.New("access denied")
	// ErrCorrupt marks a cached payload that failed strict decoding.
	ErrCorrupt = errors.New("corrupt cached payload")
	// ErrStoreUnavailable wraps transport failures of the database.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrCacheUnavailable wraps transport failures of redis.
	ErrCacheUnavailable = errors.New("cache unavailable")
)
