package encryption

import "errors"

// Encryption package errors.
var (
	// ErrUnsupportedMode is returned when a trusted subnet's cryptography
	// mode has no concrete hal.Crypto support.
	ErrUnsupportedMode = errors.New("encryption: unsupported cryptography mode")

	// ErrBufferTooSmall is returned when a caller-supplied output buffer
	// cannot hold the encrypted packet.
	ErrBufferTooSmall = errors.New("encryption: output buffer too small")
)
