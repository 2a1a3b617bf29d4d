package handshake

import "errors"

// Handshake package errors.
var (
	// ErrReKeyAlreadyInProgress is returned by Driver.Initiate when the
	// subnet is already in one of the re-keying states that follow
	// ReKeyingRequired, i.e. a re-key handshake is underway.
	ErrReKeyAlreadyInProgress = errors.New("handshake: re-key already in progress")

	// ErrNotReadyToInitiate is returned by Driver.Initiate when a
	// subnet's state is not one that can start a handshake.
	ErrNotReadyToInitiate = errors.New("handshake: subnet not in an initiable state")

	// ErrInvalidIV is returned when a peer's SEND_IVS_MSG does not
	// reproduce the IV this node generated for itself during session key
	// setup.
	ErrInvalidIV = errors.New("handshake: received IV does not match generated IV")

	// ErrInvalidMessage is returned when a handshake payload's shape or
	// type does not match what the current subnet state expects.
	ErrInvalidMessage = errors.New("handshake: unexpected message for current state")

	// ErrStaleMessageID is returned when a reply's message ID does not
	// match the most recent request sent to that node.
	ErrStaleMessageID = errors.New("handshake: reply message id does not match last request")

	// ErrUnknownState is returned when a subnet's state does not match
	// any case the responder or driver knows how to progress.
	ErrUnknownState = errors.New("handshake: subnet in a state handshake cannot progress from")
)
