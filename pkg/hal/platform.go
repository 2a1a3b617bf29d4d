package hal

import "github.com/arm-trusted-firmware/sfcp-go/pkg/subnet"

// Platform describes the static configuration of a node: its own ID, its
// routing table, and the trusted subnets it participates in.
type Platform interface {
	// RoutingTables returns the node's static link-ID-by-node-ID routing
	// table.
	RoutingTables() map[uint8]uint8

	// MyNodeID returns the local node's identifier.
	MyNodeID() uint8

	// TrustedSubnets returns the trusted subnet configurations the node
	// participates in.
	TrustedSubnets() []subnet.Config
}
