package mailbox

import "errors"

// Doorbell/Pipe errors.
var (
	// ErrSendBusBusy is returned by Doorbell.SendMessage when the link is
	// still transmitting a previous message.
	ErrSendBusBusy = errors.New("mailbox: send channel busy")

	// ErrNoRoute is returned by Doorbell.SendMessage, ReceiveMessageSize
	// and ReceiveMessage when no link was added under the given link ID.
	ErrNoRoute = errors.New("mailbox: no route to node")

	// ErrLinkClosed is returned on operations against a closed link.
	ErrLinkClosed = errors.New("mailbox: link closed")

	// ErrNoMessageAvailable is returned by ReceiveMessageSize when no
	// frame is queued; ReceiveMessage waits for one instead.
	ErrNoMessageAvailable = errors.New("mailbox: no message available")

	// ErrMessageTooLarge is returned when a caller-supplied buffer cannot
	// hold the next queued frame.
	ErrMessageTooLarge = errors.New("mailbox: receive buffer too small")

	// ErrInvalidChannel is returned by Transport methods given a channel
	// index outside [0, NumChannels).
	ErrInvalidChannel = errors.New("mailbox: invalid channel index")

	// ErrBufferNotAligned is returned when a send or receive buffer's
	// address is not 4-byte aligned, mirroring validate_buffer_params.
	ErrBufferNotAligned = errors.New("mailbox: buffer not 4-byte aligned")
)
