package hal

import (
	"errors"
	"fmt"

	"github.com/arm-trusted-firmware/sfcp-go/pkg/wire"
)

// Sentinel errors available to Link/Crypto/Platform implementations. The
// implementations in this module (mailbox.Doorbell, cryptohal.Provider)
// report their own package errors instead.
var (
	// ErrSendBusBusy is returned by Link.SendMessage when the channel is
	// still transmitting a previous message. Callers should retry.
	ErrSendBusBusy = errors.New("hal: send channel busy")

	// ErrNoRoute is returned by the engine, the handshake driver and the
	// dispatcher when Link.GetRoute reports no route for a node.
	ErrNoRoute = errors.New("hal: no route to node")

	// ErrUnsupportedMode is returned by Crypto methods when asked to
	// operate in an AEAD mode with no concrete implementation.
	ErrUnsupportedMode = errors.New("hal: unsupported cryptography mode")

	// ErrDecryptionFailed is returned by Crypto.DecryptPacket on
	// authentication failure.
	ErrDecryptionFailed = errors.New("hal: decryption failed")

	// ErrUnknownKey is returned when an operation names a keyID the
	// Crypto provider has no record of.
	ErrUnknownKey = errors.New("hal: unknown key id")

	// ErrKeyTableFull is returned by DeriveSessionKey/Rekey when no more
	// key slots are available.
	ErrKeyTableFull = errors.New("hal: key table full")

	// ErrDeviceInitFailed is returned by Link.Init on hardware/transport
	// initialization failure.
	ErrDeviceInitFailed = errors.New("hal: device initialization failed")
)

// Error wraps a HAL-layer failure with the protocol error code it should
// surface as on the wire, for components that need to turn a HAL error
// directly into a PROTOCOL_ERROR_REPLY.
type Error struct {
	Op   string
	Code wire.ProtocolError
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("hal: %s: %s: %v", e.Op, e.Code, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err as an Error reporting code for operation op.
func NewError(op string, code wire.ProtocolError, err error) *Error {
	return &Error{Op: op, Code: code, Err: err}
}
