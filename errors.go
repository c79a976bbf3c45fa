package permissions

import "errors"

// Custom errors
var (
	// ErrNotFound is returned when a role or permission cannot be resolved
	// from the slug, id or entity the caller supplied.
	ErrNotFound = errors.New("permissions: not found")

	// ErrConflict is returned when a slug already exists within its guard.
	ErrConflict = errors.New("permissions: conflict")

	// ErrConfiguration is returned when an operation requires a feature
	// that is disabled in the options, such as a time-bounded grant while
	// expirable grants are off.
	ErrConfiguration = errors.New("permissions: configuration error")

	// ErrTransaction wraps store failures that aborted a mutation. The
	// mutation had no effect and no cache invalidation was issued.
	ErrTransaction = errors.New("permissions: transaction failed")
)
