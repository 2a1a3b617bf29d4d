package wire

import "errors"

// Packet parsing/encoding errors.
var (
	// ErrPacketTooShort is returned when a buffer is shorter than the
	// minimum size required for its discriminated variant.
	ErrPacketTooShort = errors.New("wire: packet too short")

	// ErrInvalidProtocolVersion is returned when the metadata version field
	// does not match the current ProtocolVersion. Checked before any other
	// validation except the header length check.
	ErrInvalidProtocolVersion = errors.New("wire: invalid protocol version")

	// ErrBufferTooSmall is returned when a caller-supplied buffer is smaller
	// than MinPacketSize, the minimum size the public API accepts.
	ErrBufferTooSmall = errors.New("wire: buffer smaller than minimum packet size")

	// ErrPayloadTooLarge is returned when a payload does not fit in the
	// remaining space of a caller-supplied buffer.
	ErrPayloadTooLarge = errors.New("wire: payload too large for buffer")
)
