package subnet

import "github.com/arm-trusted-firmware/sfcp-go/pkg/wire"

// Config describes one trusted subnet: its member node IDs (including the
// local node, if it is a member), its cryptography mode, and how much
// trust its links start with.
type Config struct {
	ID      uint8
	Type    Type
	Mode    wire.AEADMode
	NodeIDs []uint8
}

// nodeState tracks per-remote-node sequence counters and the anti-replay
// sliding window for one trusted subnet.
type nodeState struct {
	sendSeq       uint16
	recvSeq       uint16
	bitfieldStart uint8
	inflight      uint8 // InflightBitfieldSize (8) bits packed into one byte
}
