package models

import "errors"

// Business-outcome sentinels. Callers classify with errors.Is; packages
// wrap these with fmt.Errorf("%w: ...") to add detail without widening the
// taxonomy.
var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrNotAuthorized     = errors.New("not authorized")
	ErrDriverUnavailable = errors.New("driver unavailable")
	ErrValidation        = errors.New("invalid input")
	ErrDependencyTimeout = errors.New("dependency timeout")
)
