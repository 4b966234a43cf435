// internal/circulation/errors.go
package circulation

import "errors"

// Failures surfaced by the circulation core. Callers match them with
// errors.Is; the wrapped message carries the identifiers involved.
var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrPolicyViolation = errors.New("policy violation")
)
