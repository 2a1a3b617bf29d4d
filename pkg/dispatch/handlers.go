package dispatch

import "sync"

// DefaultMsgHandlerCapacity is the default size of a MsgHandlers table,
// standing in for original_source's SFCP_MAX_MSG_HANDLERS.
const DefaultMsgHandlerCapacity = 16

// DefaultReplyHandlerCapacity is the default size of a ReplyHandlers
// table, standing in for original_source's SFCP_MAX_REPLY_HANDLERS.
const DefaultReplyHandlerCapacity = 16

// MsgHandler processes one received MSG packet, identified by the
// buffer handle its bytes were received into. Implementations call
// Pool.Buffer(h) to read the packet and must not retain h past the call.
type MsgHandler func(h Handle) error

// ReplyHandler processes one received REPLY packet, identified by its
// buffer handle.
type ReplyHandler func(h Handle) error

type msgHandlerEntry struct {
	applicationID uint16
	handler       MsgHandler
	inUse         bool
}

// MsgHandlers is a small fixed-size, linear-scan registry mapping
// application_id to the handler that processes messages addressed to
// it, mirroring sfcp_msg_handlers[].
type MsgHandlers struct {
	mu      sync.Mutex
	entries []msgHandlerEntry
}

// NewMsgHandlers builds a MsgHandlers table with room for capacity
// entries.
func NewMsgHandlers(capacity int) *MsgHandlers {
	return &MsgHandlers{entries: make([]msgHandlerEntry, capacity)}
}

// Register binds handler to applicationID in the first vacant slot.
// Returns ErrHandlerAlreadyRegistered if applicationID already has a
// handler, or ErrHandlerTableFull if no slot is free.
func (h *MsgHandlers) Register(applicationID uint16, handler MsgHandler) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	free := -1
	for i := range h.entries {
		if !h.entries[i].inUse {
			if free == -1 {
				free = i
			}
			continue
		}
		if h.entries[i].applicationID == applicationID {
			return ErrHandlerAlreadyRegistered
		}
	}
	if free == -1 {
		return ErrHandlerTableFull
	}
	h.entries[free] = msgHandlerEntry{applicationID: applicationID, handler: handler, inUse: true}
	return nil
}

// Lookup returns the handler bound to applicationID, if any.
func (h *MsgHandlers) Lookup(applicationID uint16) (MsgHandler, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i := range h.entries {
		if h.entries[i].inUse && h.entries[i].applicationID == applicationID {
			return h.entries[i].handler, true
		}
	}
	return nil, false
}

type replyHandlerEntry struct {
	clientID uint16
	handler  ReplyHandler
	inUse    bool
}

// ReplyHandlers is the REPLY-side counterpart of MsgHandlers, keyed by
// client_id and mirroring sfcp_reply_handlers[].
type ReplyHandlers struct {
	mu      sync.Mutex
	entries []replyHandlerEntry
}

// NewReplyHandlers builds a ReplyHandlers table with room for capacity
// entries.
func NewReplyHandlers(capacity int) *ReplyHandlers {
	return &ReplyHandlers{entries: make([]replyHandlerEntry, capacity)}
}

// Register binds handler to clientID in the first vacant slot.
func (h *ReplyHandlers) Register(clientID uint16, handler ReplyHandler) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	free := -1
	for i := range h.entries {
		if !h.entries[i].inUse {
			if free == -1 {
				free = i
			}
			continue
		}
		if h.entries[i].clientID == clientID {
			return ErrHandlerAlreadyRegistered
		}
	}
	if free == -1 {
		return ErrHandlerTableFull
	}
	h.entries[free] = replyHandlerEntry{clientID: clientID, handler: handler, inUse: true}
	return nil
}

// Lookup returns the handler bound to clientID, if any.
func (h *ReplyHandlers) Lookup(clientID uint16) (ReplyHandler, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i := range h.entries {
		if h.entries[i].inUse && h.entries[i].clientID == clientID {
			return h.entries[i].handler, true
		}
	}
	return nil, false
}
