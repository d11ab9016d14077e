package syncer

import "errors"

// Configuration errors returned by NewCoordinator.
var (
	ErrInvalidCoordinatorConfig = errors.New("invalid coordinator config")
	ErrInvalidCredential        = errors.New("invalid credential")
)
