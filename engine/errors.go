package engine

import "errors"

// Sentinel errors, one per failure kind. Call sites wrap these with
// detail via fmt.Errorf("%w: ...") so callers classify with errors.Is.
var (
	ErrInvalidArgument  = errors.New("engine: invalid argument")
	ErrNotFound         = errors.New("engine: not found")
	ErrUnauthorized     = errors.New("engine: unauthorized")
	ErrCapacityExceeded = errors.New("engine: capacity exceeded")
	ErrStateConflict    = errors.New("engine: state conflict")
	ErrThrottled        = errors.New("engine: cooldown active")
	ErrHalted           = errors.New("engine: halted")
	ErrCollaborator     = errors.New("engine: collaborator failure")
	ErrReentrant        = errors.New("engine: reentrant call rejected")
)
