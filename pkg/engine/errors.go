package engine

import "errors"

// Engine package errors, mirroring the SFCP_ERROR_* result codes the
// session engine's public operations return.
var (
	// ErrNoMsgAvailable is returned by ReceiveMsg/ReceiveReply when no
	// packet is waiting, mirroring NO_MSG_AVAILABLE. It is also returned
	// by ReceiveMsg in place of surfacing an application-ID mismatch to
	// the caller.
	ErrNoMsgAvailable = errors.New("engine: no message available")

	// ErrSendMsgAgain is returned by ReceiveReply when the peer's
	// PROTOCOL_ERROR_REPLY carried TRY_AGAIN_LATER.
	ErrSendMsgAgain = errors.New("engine: peer asked to retry, send message again")

	// ErrProtocolError is returned by ReceiveReply, wrapped with the
	// specific wire.ProtocolError, for any PROTOCOL_ERROR_REPLY other
	// than TRY_AGAIN_LATER.
	ErrProtocolError = errors.New("engine: peer returned a protocol error")

	// ErrUnexpectedPacketType is returned by ReceiveReply when the
	// waiting packet is neither REPLY nor PROTOCOL_ERROR_REPLY.
	ErrUnexpectedPacketType = errors.New("engine: unexpected packet type for a reply")

	// ErrUnexpectedSender is returned by ReceiveReply when the waiting
	// packet's sender/receiver fields do not match the outstanding
	// request's metadata.
	ErrUnexpectedSender = errors.New("engine: reply from unexpected sender")

	// ErrInvalidSequenceNumber is returned by ReceiveReply when the
	// waiting reply's message_id does not match the request it is
	// supposedly answering.
	ErrInvalidSequenceNumber = errors.New("engine: reply message id does not match request")

	// ErrMismatchedIDExtension is returned by ReceiveReply when the
	// waiting reply's client_id/application_id do not match the request.
	ErrMismatchedIDExtension = errors.New("engine: reply client/application id mismatch")

	// ErrCryptoModeMismatch is returned by ReceiveReply when the waiting
	// reply's cryptography flag does not match the request's.
	ErrCryptoModeMismatch = errors.New("engine: reply cryptography mode mismatch")

	// ErrSelfAddressed is returned by InitMsg when receiver names the
	// local node.
	ErrSelfAddressed = errors.New("engine: cannot address a message to the local node")

	// ErrInvalidPayloadSize is returned by InitMsg/InitReply for a
	// negative payload size.
	ErrInvalidPayloadSize = errors.New("engine: invalid payload size")

	// ErrBufferTooSmall reports a packet buffer smaller than
	// wire.MinPacketSize. InitMsg/InitReply allocate the payload buffer
	// themselves, accept any non-negative payload size, and do not
	// return it.
	ErrBufferTooSmall = errors.New("engine: packet smaller than minimum size")
)
