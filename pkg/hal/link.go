package hal

import "context"

// Link is the doorbell/mailbox transport a node sends and receives raw
// packet bytes over. Implementations own one link ID per remote node or
// group of nodes reachable over a shared bus.
type Link interface {
	// GetRoute returns the link ID used to reach nodeID, and false if no
	// route is configured for it.
	GetRoute(nodeID uint8) (linkID uint8, ok bool)

	// MyNodeID returns the local node's identifier.
	MyNodeID() uint8

	// SendMessage transmits data over linkID. Returns ErrSendBusBusy if
	// the underlying channel is mid-transfer.
	SendMessage(ctx context.Context, linkID uint8, data []byte) error

	// IsMessageAvailable reports whether a message is ready to be
	// received on linkID without blocking.
	IsMessageAvailable(linkID uint8) bool

	// ReceiveMessageSize returns the size in bytes of the next message
	// waiting on linkID.
	ReceiveMessageSize(linkID uint8) (int, error)

	// ReceiveMessage reads the next message on linkID into buf, which
	// must be at least as large as the size ReceiveMessageSize reports.
	// Returns the number of bytes written.
	ReceiveMessage(ctx context.Context, linkID uint8, buf []byte) (int, error)

	// Init prepares the transport for use.
	Init(ctx context.Context) error
}
