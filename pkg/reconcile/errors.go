package reconcile

import "errors"

// Domain-level error values returned by purchase-context construction.
var (
	ErrInvalidProvider    = errors.New("invalid provider")
	ErrInvalidAmountCents = errors.New("invalid amount cents")
	ErrInvalidStartTime   = errors.New("invalid start time")
)
