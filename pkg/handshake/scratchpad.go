package handshake

import "sync"

// pad is the per-trusted-subnet bookkeeping a handshake needs across the
// several messages it takes to complete: which message ID was last sent
// to each remote node (to correlate its reply), which nodes have replied
// so far this round, and the IV each node has contributed.
type pad struct {
	mu            sync.Mutex
	sendMessageID map[uint8]uint8
	repliedFrom   map[uint8]bool
	nodeIVs       map[uint8][]byte
}

func newPad() *pad {
	return &pad{
		sendMessageID: make(map[uint8]uint8),
		repliedFrom:   make(map[uint8]bool),
		nodeIVs:       make(map[uint8][]byte),
	}
}

// resetReplies marks every member node other than selfID as not yet
// replied, ahead of a new round of fan-out messages.
func (p *pad) resetReplies(memberIDs []uint8, selfID uint8) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range memberIDs {
		if id == selfID {
			continue
		}
		p.repliedFrom[id] = false
	}
}

// markReplied records that remoteNode has replied this round, and
// reports whether every other member node has now replied too.
func (p *pad) markReplied(memberIDs []uint8, selfID, remoteNode uint8) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.repliedFrom[remoteNode] = true
	for _, id := range memberIDs {
		if id == selfID {
			continue
		}
		if !p.repliedFrom[id] {
			return false
		}
	}
	return true
}

// nextMessageID allocates and records the next message ID to use when
// sending a handshake MSG to remoteNode, so a later reply carrying the
// same ID can be correlated back to it.
func (p *pad) nextMessageID(remoteNode uint8) uint8 {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.sendMessageID[remoteNode] + 1
	p.sendMessageID[remoteNode] = id
	return id
}

func (p *pad) isMessageIDCurrent(remoteNode, messageID uint8) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sendMessageID[remoteNode] == messageID
}

func (p *pad) setIV(nodeID uint8, iv []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]byte, len(iv))
	copy(cp, iv)
	p.nodeIVs[nodeID] = cp
}

func (p *pad) iv(nodeID uint8) ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	iv, ok := p.nodeIVs[nodeID]
	return iv, ok
}

// ivsInOrder returns the IVs contributed by memberIDs, in that order.
// Reports false if any member has not yet contributed one.
func (p *pad) ivsInOrder(memberIDs []uint8) ([][]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ivs := make([][]byte, 0, len(memberIDs))
	for _, id := range memberIDs {
		iv, ok := p.nodeIVs[id]
		if !ok {
			return nil, false
		}
		ivs = append(ivs, iv)
	}
	return ivs, true
}

// scratchpads owns one pad per trusted subnet ID, created lazily.
type scratchpads struct {
	mu   sync.Mutex
	pads map[uint8]*pad
}

func newScratchpads() *scratchpads {
	return &scratchpads{pads: make(map[uint8]*pad)}
}

func (s *scratchpads) get(subnetID uint8) *pad {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pads[subnetID]
	if !ok {
		p = newPad()
		s.pads[subnetID] = p
	}
	return p
}
