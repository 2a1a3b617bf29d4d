// Package engine implements the session engine: the request/reply API
// applications call to exchange SFCP messages, coordinating the link
// HAL, the subnet table, the handshake driver, and encryption behind a
// single value rather than a set of package-level globals. It is
// grounded on pkg/exchange.Manager's role of coordinating transport,
// session, and handler state, narrowed from Matter's exchange
// multiplexing (retries, acknowledgement tracking) down to SFCP's
// simpler request/reply-with-metadata-handle contract: SFCP has no
// reliability layer above the anti-replay window.
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/arm-trusted-firmware/sfcp-go/pkg/encryption"
	"github.com/arm-trusted-firmware/sfcp-go/pkg/hal"
	"github.com/arm-trusted-firmware/sfcp-go/pkg/handshake"
	"github.com/arm-trusted-firmware/sfcp-go/pkg/legacy"
	"github.com/arm-trusted-firmware/sfcp-go/pkg/subnet"
	"github.com/arm-trusted-firmware/sfcp-go/pkg/wire"
)

// Engine bundles everything one node's session layer needs: the link
// and crypto HALs, the trusted subnet table, the handshake driver that
// owns its lifecycle, and an optional legacy packet converter. It is
// safe for concurrent use by multiple goroutines calling different
// operations, though per spec.md's concurrency model a single node's
// foreground traffic on one subnet is expected to stay single-threaded.
type Engine struct {
	myNodeID uint8
	link     hal.Link
	crypto   hal.Crypto
	table    *subnet.Table
	driver   *handshake.Driver
	legacy   legacy.Converter
	routes   map[uint8]uint8

	mu     sync.Mutex
	msgIDs map[uint8]uint8
}

// New builds an Engine from a platform's static configuration plus the
// already-constructed link, crypto, subnet table, and handshake driver
// it shares with the rest of the node. converter may be nil, in which
// case packets are sent exactly as SFCP encodes them.
func New(platform hal.Platform, link hal.Link, crypto hal.Crypto, table *subnet.Table, driver *handshake.Driver, converter legacy.Converter) *Engine {
	if converter == nil {
		converter = legacy.NoopConverter{}
	}
	return &Engine{
		myNodeID: platform.MyNodeID(),
		link:     link,
		crypto:   crypto,
		table:    table,
		driver:   driver,
		legacy:   converter,
		routes:   platform.RoutingTables(),
		msgIDs:   make(map[uint8]uint8),
	}
}

// willRequireEncryption reports whether a message whose send is driven
// to completion from state will ultimately need encryption. Re-keying
// states inherit the encrypted requirement of the valid session they
// are renewing (State.RequiresEncryption already covers those, plus the
// in-progress mutual-auth AUTH_MSG exchange). SessionKeySetupRequired
// has not derived a key yet but will before send_msg's blocking
// handshake returns, so it also requires encryption. MutualAuthRequired
// and MutualAuthCompleted do not: the session key that bootstraps
// mutual authentication is invalidated once authentication completes,
// so application traffic on that subnet is never encrypted with it.
func willRequireEncryption(state subnet.State) bool {
	switch state {
	case subnet.SessionKeySetupNotRequired, subnet.MutualAuthRequired, subnet.MutualAuthCompleted:
		return false
	default:
		return true
	}
}

func (e *Engine) nextMessageID(node uint8) uint8 {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.msgIDs[node]
	e.msgIDs[node]++
	return id
}

// resolveSubnet finds the trusted subnet configuration a message to/from
// remoteNode should use: the caller-supplied trustedSubnetID when
// manuallySpecify is set, or the unique subnet remoteNode belongs to
// otherwise.
func (e *Engine) resolveSubnet(remoteNode uint8, manuallySpecify bool, trustedSubnetID uint8) (subnet.Config, error) {
	if manuallySpecify {
		return e.table.Config(trustedSubnetID)
	}
	return e.table.SubnetForNode(remoteNode)
}

// InitMsg validates and prepares an outgoing message to receiver,
// returning a freshly allocated payload buffer of payloadSize bytes for
// the caller to fill, plus the metadata SendMsg and a later
// ReceiveReply need. It resolves the trusted subnet automatically by
// peer unless manuallySpecify is set, and decides now whether the
// message will ultimately need encryption so the caller's SendMsg can
// drive the handshake first.
func (e *Engine) InitMsg(receiver uint8, applicationID, clientID uint16, needsReply, manuallySpecify bool, trustedSubnetID uint8, payloadSize int) ([]byte, ReplyMetadata, error) {
	if receiver == e.myNodeID {
		return nil, ReplyMetadata{}, ErrSelfAddressed
	}
	if payloadSize < 0 {
		return nil, ReplyMetadata{}, ErrInvalidPayloadSize
	}

	cfg, err := e.resolveSubnet(receiver, manuallySpecify, trustedSubnetID)
	if err != nil {
		return nil, ReplyMetadata{}, err
	}

	state, err := e.table.State(cfg.ID)
	if err != nil {
		return nil, ReplyMetadata{}, err
	}

	usesCrypto := willRequireEncryption(state)
	usesIDExt := !(clientID == 0 && applicationID == 0)

	meta := ReplyMetadata{
		Receiver:         receiver,
		UsesCryptography: usesCrypto,
		UsesIDExtension:  usesIDExt,
		NeedsReply:       needsReply,
		ClientID:         clientID,
		ApplicationID:    applicationID,
		MessageID:        e.nextMessageID(receiver),
		TrustedSubnetID:  cfg.ID,
	}
	return make([]byte, payloadSize), meta, nil
}

// SendMsg sends payload as the message meta describes. If meta flags
// cryptography, it first blocks until the trusted subnet's handshake
// completes (driving session key setup, mutual authentication, or a
// pending re-key as needed) before encrypting and sending.
func (e *Engine) SendMsg(ctx context.Context, meta ReplyMetadata, payload []byte) error {
	if meta.UsesCryptography {
		if err := e.driver.Block(ctx, meta.TrustedSubnetID); err != nil {
			return err
		}
	}

	packetType := wire.MsgNoReply
	if meta.NeedsReply {
		packetType = wire.MsgNeedsReply
	}
	return e.sendPacket(ctx, packetType, meta, payload)
}

// InitReply prepares a reply to a message ReceiveMsg returned, mirroring
// msgMeta's cryptography and ID-extension flags exactly rather than
// re-deriving them — a reply must match the request's shape, not
// whatever the subnet's state happens to be by the time it is sent.
func (e *Engine) InitReply(msgMeta MsgMetadata, payloadSize int) ([]byte, ReplyMetadata, error) {
	if payloadSize < 0 {
		return nil, ReplyMetadata{}, ErrInvalidPayloadSize
	}

	meta := ReplyMetadata{
		Receiver:         msgMeta.Sender,
		UsesCryptography: msgMeta.UsesCryptography,
		UsesIDExtension:  msgMeta.UsesIDExtension,
		ClientID:         msgMeta.ClientID,
		ApplicationID:    msgMeta.ApplicationID,
		MessageID:        msgMeta.MessageID,
		TrustedSubnetID:  msgMeta.TrustedSubnetID,
	}
	return make([]byte, payloadSize), meta, nil
}

// SendReply sends payload as a reply, exactly like SendMsg but without
// ever initiating a handshake — a reply can only exist because the
// handshake (if any was needed) already ran during the request.
func (e *Engine) SendReply(ctx context.Context, meta ReplyMetadata, payload []byte) error {
	return e.sendPacket(ctx, wire.Reply, meta, payload)
}

// sendPacket assembles and transmits the packet meta describes, running
// it through the legacy converter last, mirroring send_msg_reply's
// shared encrypt/route/convert/send tail.
func (e *Engine) sendPacket(ctx context.Context, packetType wire.PacketType, meta ReplyMetadata, payload []byte) error {
	linkID, ok := e.link.GetRoute(meta.Receiver)
	if !ok {
		return hal.ErrNoRoute
	}

	hdr := wire.Header{
		PacketType:       packetType,
		UsesCryptography: meta.UsesCryptography,
		UsesIDExtension:  meta.UsesIDExtension,
		ProtocolVersion:  wire.ProtocolVersion,
		SenderID:         e.myNodeID,
		ReceiverID:       meta.Receiver,
		MessageID:        meta.MessageID,
	}
	if packetType == wire.Reply {
		// A reply's header keeps the original requester in SenderID and
		// the replier's own ID in ReceiverID, the way sfcp_init_reply
		// does, so NeedsForwarding can key off SenderID regardless of
		// which node physically sent the packet.
		hdr.SenderID = meta.Receiver
		hdr.ReceiverID = e.myNodeID
	}

	buf := make([]byte, wire.PacketSizeWithoutPayload(meta.UsesCryptography, meta.UsesIDExtension)+len(payload))
	var n int
	var err error

	switch {
	case meta.UsesCryptography && packetType == wire.Reply:
		n, err = encryption.EncryptReply(e.crypto, e.table, hdr, meta.TrustedSubnetID, meta.Receiver, meta.UsesIDExtension, meta.ClientID, meta.ApplicationID, payload, buf)
	case meta.UsesCryptography:
		n, err = encryption.EncryptMsg(e.crypto, e.table, hdr, meta.TrustedSubnetID, meta.Receiver, meta.UsesIDExtension, meta.ClientID, meta.ApplicationID, payload, buf)
	default:
		offset := hdr.EncodeTo(buf)
		if meta.UsesIDExtension {
			wire.WriteIDExtension(buf[offset:], meta.ClientID, meta.ApplicationID)
			offset += wire.IDExtensionSize
		}
		offset += copy(buf[offset:], payload)
		n = offset
	}
	if err != nil {
		return err
	}

	out, err := e.legacy.Convert(buf[:n])
	if err != nil {
		return err
	}

	return e.link.SendMessage(ctx, linkID, out)
}

// candidateNodes returns the node IDs ReceiveMsg should poll, in the
// ascending order the tie-break policy requires: just sender when
// anySender is false, every routable node other than the local one
// otherwise.
func (e *Engine) candidateNodes(anySender bool, sender uint8) []uint8 {
	if !anySender {
		return []uint8{sender}
	}

	nodes := make([]uint8, 0, len(e.routes))
	for node := range e.routes {
		if node == e.myNodeID {
			continue
		}
		nodes = append(nodes, node)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })
	return nodes
}

// ReceiveMsg polls for a waiting message, filtered by sender unless
// anySender is set (in which case every routable node is polled in
// ascending order and the first ready one wins). A packet this node
// cannot deliver locally (it needs forwarding, which this engine does
// not perform) is answered with a FORWARDING_UNSUPPORTED protocol
// error when it asked for a reply. Handshake traffic is consumed
// silently; a message whose application_id does not match
// applicationID is answered with a TRY_AGAIN_LATER protocol error
// (when the sender asked for a reply) and otherwise treated as if
// nothing were waiting.
func (e *Engine) ReceiveMsg(ctx context.Context, anySender bool, sender uint8, applicationID uint16) ([]byte, MsgMetadata, error) {
	for _, node := range e.candidateNodes(anySender, sender) {
		linkID, ok := e.link.GetRoute(node)
		if !ok {
			continue
		}
		if !e.link.IsMessageAvailable(linkID) {
			continue
		}

		size, err := e.link.ReceiveMessageSize(linkID)
		if err != nil {
			continue
		}
		buf := make([]byte, size)
		n, err := e.link.ReceiveMessage(ctx, linkID, buf)
		if err != nil {
			continue
		}

		pkt, err := wire.Parse(buf[:n])
		if err != nil {
			continue
		}

		if _, needsForward := wire.NeedsForwarding(pkt.SenderID, pkt.ReceiverID, pkt.PacketType, e.myNodeID); needsForward {
			e.sendProtocolError(ctx, pkt, wire.ErrForwardingUnsupported)
			continue
		}

		consumed, err := e.driver.Responder().Handle(ctx, pkt, node)
		if err != nil || consumed {
			continue
		}

		if !pkt.PacketType.IsMsg() {
			continue
		}

		if pkt.UsesIDExtension && pkt.ApplicationID != applicationID {
			e.sendProtocolError(ctx, pkt, wire.ErrTryAgainLater)
			continue
		}

		payload := pkt.Payload
		if pkt.UsesCryptography {
			payload, err = encryption.DecryptMsg(e.crypto, e.table, pkt, pkt.SenderID)
			if err != nil {
				continue
			}
		}

		meta := MsgMetadata{
			Sender:           pkt.SenderID,
			UsesCryptography: pkt.UsesCryptography,
			UsesIDExtension:  pkt.UsesIDExtension,
			ClientID:         pkt.ClientID,
			ApplicationID:    pkt.ApplicationID,
			MessageID:        pkt.MessageID,
			TrustedSubnetID:  pkt.Crypto.TrustedSubnetID,
		}
		return payload, meta, nil
	}

	return nil, MsgMetadata{}, ErrNoMsgAvailable
}

// sendProtocolError replies to pkt's sender with code, but only if pkt
// asked for a reply — fire-and-forget messages, replies, and protocol
// errors themselves never get one.
func (e *Engine) sendProtocolError(ctx context.Context, pkt wire.Parsed, code wire.ProtocolError) {
	if pkt.PacketType != wire.MsgNeedsReply {
		return
	}
	linkID, ok := e.link.GetRoute(pkt.SenderID)
	if !ok {
		return
	}
	buf := make([]byte, wire.HeaderSize+wire.ErrorReplySize)
	n, err := wire.MakeProtocolError(buf, e.myNodeID, pkt.SenderID, pkt.MessageID, pkt.ClientID, code)
	if err != nil {
		return
	}
	_ = e.link.SendMessage(ctx, linkID, buf[:n])
}

// ReceiveReply polls for the single reply meta's request is waiting on.
// A PROTOCOL_ERROR_REPLY is translated: TRY_AGAIN_LATER becomes
// ErrSendMsgAgain, every other code becomes ErrProtocolError. Any
// mismatch against meta (sender, client/application ID, cryptography
// mode) is reported without attempting to decrypt.
func (e *Engine) ReceiveReply(ctx context.Context, meta ReplyMetadata) ([]byte, error) {
	linkID, ok := e.link.GetRoute(meta.Receiver)
	if !ok {
		return nil, hal.ErrNoRoute
	}
	if !e.link.IsMessageAvailable(linkID) {
		return nil, ErrNoMsgAvailable
	}

	size, err := e.link.ReceiveMessageSize(linkID)
	if err != nil {
		return nil, ErrNoMsgAvailable
	}
	buf := make([]byte, size)
	n, err := e.link.ReceiveMessage(ctx, linkID, buf)
	if err != nil {
		return nil, err
	}

	pkt, err := wire.Parse(buf[:n])
	if err != nil {
		return nil, err
	}

	if pkt.PacketType != wire.Reply && pkt.PacketType != wire.ProtocolErrorReply {
		return nil, ErrUnexpectedPacketType
	}
	// A reply's SenderID preserves the original requester (us) and
	// ReceiverID carries the replier's own ID, mirroring sfcp_init_reply;
	// a PROTOCOL_ERROR_REPLY instead follows the physical send direction
	// (MakeProtocolError puts the generator in SenderID), so only Reply
	// packets get the swapped check.
	if pkt.PacketType == wire.Reply {
		if pkt.SenderID != e.myNodeID || pkt.ReceiverID != meta.Receiver {
			return nil, ErrUnexpectedSender
		}
	} else if pkt.SenderID != meta.Receiver || pkt.ReceiverID != e.myNodeID {
		return nil, ErrUnexpectedSender
	}

	if pkt.PacketType == wire.ProtocolErrorReply {
		if pkt.ProtocolError == wire.ErrTryAgainLater {
			return nil, ErrSendMsgAgain
		}
		return nil, fmt.Errorf("%w: %s", ErrProtocolError, pkt.ProtocolError)
	}

	if pkt.MessageID != meta.MessageID {
		return nil, ErrInvalidSequenceNumber
	}
	if pkt.ClientID != meta.ClientID || pkt.ApplicationID != meta.ApplicationID {
		return nil, ErrMismatchedIDExtension
	}
	if pkt.UsesCryptography != meta.UsesCryptography {
		return nil, ErrCryptoModeMismatch
	}

	if !pkt.UsesCryptography {
		return pkt.Payload, nil
	}
	return encryption.DecryptReply(e.crypto, e.table, pkt, meta.Receiver)
}
