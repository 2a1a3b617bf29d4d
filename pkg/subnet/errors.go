package subnet

import "errors"

// Subnet package errors.
var (
	// ErrInvalidSubnetID is returned when a subnet ID is not present in the table.
	ErrInvalidSubnetID = errors.New("subnet: invalid trusted subnet id")

	// ErrInvalidNode is returned when a node ID is not a member of a subnet.
	ErrInvalidNode = errors.New("subnet: node not a member of trusted subnet")

	// ErrEmptySubnet is returned when a subnet has no member nodes.
	ErrEmptySubnet = errors.New("subnet: trusted subnet has no nodes")

	// ErrMustBeManuallySelected is returned when a node belongs to more
	// than one trusted subnet and the caller must disambiguate.
	ErrMustBeManuallySelected = errors.New("subnet: node is in multiple trusted subnets, must be manually selected")

	// ErrUnsupportedMode is returned when a subnet names a cryptography
	// mode with no concrete cryptohal implementation.
	ErrUnsupportedMode = errors.New("subnet: unsupported cryptography mode")

	// ErrReplay is returned by CheckRecvSeq when a sequence number has
	// already been accepted.
	ErrReplay = errors.New("subnet: message already received")

	// ErrOutOfOrder is returned by CheckRecvSeq when a sequence number is
	// further ahead than the anti-replay window can track.
	ErrOutOfOrder = errors.New("subnet: message out of order, temporary failure")

	// ErrDuplicateNodeID is returned when Table construction finds two
	// nodes in the same subnet sharing an ID.
	ErrDuplicateNodeID = errors.New("subnet: duplicate node id within trusted subnet")
)
