package subnet

import (
	"sync"

	"github.com/arm-trusted-firmware/sfcp-go/pkg/wire"
)

// InflightBitfieldSize is the width, in bits, of the anti-replay sliding
// window tracked per remote node.
const InflightBitfieldSize = 8

// ReKeySeqNum is the send sequence number at which a subnet whose state is
// SessionKeySetupValid transitions to ReKeyingRequired.
const ReKeySeqNum uint16 = 0xFFFF - 16

type trackedSubnet struct {
	config Config
	state  State
	keyID  uint32
	nodes  map[uint8]*nodeState
}

// Table owns the trusted subnet configuration and lifecycle state for a
// node. It is safe for concurrent use.
type Table struct {
	mu       sync.RWMutex
	myNodeID uint8
	subnets  map[uint8]*trackedSubnet
}

// NewTable builds a Table from a set of trusted subnet configurations,
// assigning each subnet its initial State from its Type.
func NewTable(myNodeID uint8, configs []Config) (*Table, error) {
	t := &Table{
		myNodeID: myNodeID,
		subnets:  make(map[uint8]*trackedSubnet, len(configs)),
	}

	for _, cfg := range configs {
		if len(cfg.NodeIDs) == 0 {
			return nil, ErrEmptySubnet
		}

		nodes := make(map[uint8]*nodeState, len(cfg.NodeIDs))
		for _, id := range cfg.NodeIDs {
			if _, exists := nodes[id]; exists {
				return nil, ErrDuplicateNodeID
			}
			nodes[id] = &nodeState{}
		}

		t.subnets[cfg.ID] = &trackedSubnet{
			config: cfg,
			state:  initialState(cfg.Type),
			nodes:  nodes,
		}
	}

	return t, nil
}

func (t *Table) lookup(subnetID uint8) (*trackedSubnet, error) {
	s, ok := t.subnets[subnetID]
	if !ok {
		return nil, ErrInvalidSubnetID
	}
	return s, nil
}

// State returns the current lifecycle state of a trusted subnet.
func (t *Table) State(subnetID uint8) (State, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, err := t.lookup(subnetID)
	if err != nil {
		return 0, err
	}
	return s.state, nil
}

// SetState updates the lifecycle state of a trusted subnet.
func (t *Table) SetState(subnetID uint8, state State) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, err := t.lookup(subnetID)
	if err != nil {
		return err
	}
	s.state = state
	return nil
}

// Mode returns the cryptography mode configured for a trusted subnet.
func (t *Table) Mode(subnetID uint8) (wire.AEADMode, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, err := t.lookup(subnetID)
	if err != nil {
		return 0, err
	}
	return s.config.Mode, nil
}

// KeyID returns the session key ID currently bound to a trusted subnet.
func (t *Table) KeyID(subnetID uint8) (uint32, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, err := t.lookup(subnetID)
	if err != nil {
		return 0, err
	}
	return s.keyID, nil
}

// SetKeyID binds a session key ID to a trusted subnet, resetting every
// member node's sequence counters and anti-replay window to zero — the
// effect of a fresh key derivation or a completed re-key.
func (t *Table) SetKeyID(subnetID uint8, keyID uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, err := t.lookup(subnetID)
	if err != nil {
		return err
	}
	s.keyID = keyID
	for _, n := range s.nodes {
		*n = nodeState{}
	}
	return nil
}

// Config returns a copy of the configuration a trusted subnet was built
// from.
func (t *Table) Config(subnetID uint8) (Config, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, err := t.lookup(subnetID)
	if err != nil {
		return Config{}, err
	}
	return s.config, nil
}

// SubnetIDs returns the IDs of every trusted subnet in the table, in no
// particular order.
func (t *Table) SubnetIDs() []uint8 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := make([]uint8, 0, len(t.subnets))
	for id := range t.subnets {
		ids = append(ids, id)
	}
	return ids
}

// Server returns the lowest node ID among a trusted subnet's members,
// which is always the node responsible for the server role in the
// handshake.
func (t *Table) Server(subnetID uint8) (uint8, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, err := t.lookup(subnetID)
	if err != nil {
		return 0, err
	}

	lowest := uint8(0xFF)
	for id := range s.nodes {
		if id < lowest {
			lowest = id
		}
	}
	return lowest, nil
}

// SubnetForNode finds the trusted subnet a remote node belongs to.
// Returns ErrMustBeManuallySelected if the node is a member of more than
// one configured subnet, and ErrInvalidNode if it is a member of none.
func (t *Table) SubnetForNode(nodeID uint8) (Config, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var found *Config
	for _, s := range t.subnets {
		if _, ok := s.nodes[nodeID]; ok {
			if found != nil {
				return Config{}, ErrMustBeManuallySelected
			}
			cfg := s.config
			found = &cfg
		}
	}
	if found == nil {
		return Config{}, ErrInvalidNode
	}
	return *found, nil
}

// NextSendSeq allocates the next outgoing sequence number for a remote
// node on a trusted subnet. When the counter crosses ReKeySeqNum while
// the subnet is SessionKeySetupValid, the subnet's state advances to
// ReKeyingRequired.
func (t *Table) NextSendSeq(subnetID, remoteNode uint8) (uint16, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, err := t.lookup(subnetID)
	if err != nil {
		return 0, err
	}
	n, ok := s.nodes[remoteNode]
	if !ok {
		return 0, ErrInvalidNode
	}

	seq := n.sendSeq
	n.sendSeq++

	if n.sendSeq >= ReKeySeqNum && s.state == SessionKeySetupValid {
		s.state = ReKeyingRequired
	}

	return seq, nil
}

// CheckRecvSeq validates an incoming sequence number against the
// anti-replay sliding window for a remote node, advancing the window's
// base past any now-contiguous run of accepted sequence numbers.
//
// Returns ErrReplay if seqNum has already been accepted, ErrOutOfOrder if
// it is further ahead than the window can track, or nil if accepted.
func (t *Table) CheckRecvSeq(subnetID, remoteNode uint8, seqNum uint16) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, err := t.lookup(subnetID)
	if err != nil {
		return err
	}
	n, ok := s.nodes[remoteNode]
	if !ok {
		return ErrInvalidNode
	}

	if seqNum < n.recvSeq {
		return ErrReplay
	}
	if seqNum-n.recvSeq > InflightBitfieldSize {
		return ErrOutOfOrder
	}

	bitIndex := (n.bitfieldStart + uint8(seqNum-n.recvSeq)) % InflightBitfieldSize
	if isBitSet(n.inflight, bitIndex) {
		return ErrReplay
	}
	setBit(&n.inflight, bitIndex)

	for isBitSet(n.inflight, n.bitfieldStart) {
		clearBit(&n.inflight, n.bitfieldStart)
		n.bitfieldStart++
		if n.bitfieldStart >= InflightBitfieldSize {
			n.bitfieldStart = 0
		}
		n.recvSeq++
	}

	return nil
}

func isBitSet(bitfield uint8, index uint8) bool {
	return bitfield&(1<<index) != 0
}

func setBit(bitfield *uint8, index uint8) {
	*bitfield |= 1 << index
}

func clearBit(bitfield *uint8, index uint8) {
	*bitfield &^= 1 << index
}
