// Package platform provides the flat, static hal.Platform implementation
// every node in this module is expected to wire together: a fixed
// routing table plus the trusted subnet configurations baked in at
// build/provisioning time, the Go equivalent of original_source's
// sfcp_get_routing_tables/sfcp_platform_get_trusted_subnets pair.
package platform

import "github.com/arm-trusted-firmware/sfcp-go/pkg/subnet"

// StaticPlatform is a hal.Platform backed by plain in-memory
// configuration, with no provisioning or discovery behavior of its own.
type StaticPlatform struct {
	myNodeID uint8
	routes   map[uint8]uint8
	subnets  []subnet.Config
}

// New builds a StaticPlatform for myNodeID, with routes mapping each
// reachable remote node ID to the link ID used to reach it, and subnets
// listing every trusted subnet the node participates in.
func New(myNodeID uint8, routes map[uint8]uint8, subnets []subnet.Config) *StaticPlatform {
	routesCopy := make(map[uint8]uint8, len(routes))
	for k, v := range routes {
		routesCopy[k] = v
	}
	subnetsCopy := make([]subnet.Config, len(subnets))
	copy(subnetsCopy, subnets)

	return &StaticPlatform{
		myNodeID: myNodeID,
		routes:   routesCopy,
		subnets:  subnetsCopy,
	}
}

// RoutingTables implements hal.Platform.
func (p *StaticPlatform) RoutingTables() map[uint8]uint8 {
	routes := make(map[uint8]uint8, len(p.routes))
	for k, v := range p.routes {
		routes[k] = v
	}
	return routes
}

// MyNodeID implements hal.Platform.
func (p *StaticPlatform) MyNodeID() uint8 {
	return p.myNodeID
}

// TrustedSubnets implements hal.Platform.
func (p *StaticPlatform) TrustedSubnets() []subnet.Config {
	subnets := make([]subnet.Config, len(p.subnets))
	copy(subnets, p.subnets)
	return subnets
}
