package camera

import "errors"

var (
	// ErrWrongState is returned when an operation is invoked outside the
	// pipeline states it is legal in.
	ErrWrongState = errors.New("camera: operation not allowed in current state")
	// ErrNotBound is returned by Init when a required dependency is missing
	ErrNotBound = errors.New("camera: required dependency not bound")
	// ErrAlreadyBound is returned by a setter whose value was already assigned
	ErrAlreadyBound = errors.New("camera: dependency already bound")
	// ErrInvalidParam is returned for arguments an operation cannot accept
	ErrInvalidParam = errors.New("camera: invalid parameter")
	// ErrWorkerStopped is delivered to a synchronous submitter whose command
	// was discarded because the command worker shut down.
	ErrWorkerStopped = errors.New("camera: worker stopped")
)
