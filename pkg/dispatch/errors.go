package dispatch

import "errors"

// Dispatch package errors.
var (
	// ErrPoolFull is returned by Pool.Allocate when every slot is in use,
	// mirroring ALLOCATE_BUFFER_FAILED.
	ErrPoolFull = errors.New("dispatch: buffer pool full")

	// ErrMsgTooLarge is returned by Pool.Allocate when the requested size
	// exceeds the pool's per-slot capacity.
	ErrMsgTooLarge = errors.New("dispatch: message too large for buffer slot")

	// ErrInvalidHandle is returned when a Handle is out of range or names
	// a slot that is not currently in use.
	ErrInvalidHandle = errors.New("dispatch: invalid buffer handle")

	// ErrHandlerTableFull is returned by Register when no slot is free,
	// mirroring HANDLER_TABLE_FULL.
	ErrHandlerTableFull = errors.New("dispatch: handler table full")

	// ErrHandlerAlreadyRegistered is returned by Register when the key is
	// already bound to a handler.
	ErrHandlerAlreadyRegistered = errors.New("dispatch: handler already registered")

	// ErrHandlerNotFound is returned by Dispatcher.InterruptHandler when
	// no handler is bound to a MSG's application_id or a REPLY's
	// client_id.
	ErrHandlerNotFound = errors.New("dispatch: no handler registered for key")
)
