package cryptohal

import "errors"

// Provider errors, surfaced through the hal.Crypto interface.
var (
	// ErrUnknownKey is returned when an operation names a key ID this
	// Provider has no record of.
	ErrUnknownKey = errors.New("cryptohal: unknown key id")

	// ErrKeyTableFull is returned by DeriveSessionKey/Rekey when the
	// provider's fixed key table has no free slots.
	ErrKeyTableFull = errors.New("cryptohal: key table full")

	// ErrNoIVs is returned by DeriveSessionKey when called with no IVs to
	// hash.
	ErrNoIVs = errors.New("cryptohal: no IVs to derive key from")
)
