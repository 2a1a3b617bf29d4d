package dispatch

import (
	"context"

	"github.com/pion/logging"

	"github.com/arm-trusted-firmware/sfcp-go/pkg/hal"
	"github.com/arm-trusted-firmware/sfcp-go/pkg/handshake"
	"github.com/arm-trusted-firmware/sfcp-go/pkg/wire"
)

// Responder is the handshake-consuming side of a Driver, narrowed to the
// one method InterruptHandler needs.
type Responder interface {
	Handle(ctx context.Context, pkt wire.Parsed, remoteNode uint8) (consumed bool, err error)
}

// Dispatcher wires a Link's interrupt-time receive path to a buffer
// Pool, the registered MSG/REPLY handler tables, and a handshake
// Responder, mirroring tfm_multi_core_hal_receive's role: the one place
// a raw frame becomes either consumed handshake traffic, a forwarded
// packet, or a buffer handle passed to application code.
type Dispatcher struct {
	myNodeID      uint8
	link          hal.Link
	responder     Responder
	pool          *Pool
	msgHandlers   *MsgHandlers
	replyHandlers *ReplyHandlers
	logger        logging.LeveledLogger
}

// NewDispatcher builds a Dispatcher. loggerFactory may be nil, in which
// case the dispatcher logs nothing.
func NewDispatcher(myNodeID uint8, link hal.Link, driver *handshake.Driver, pool *Pool,
	msgHandlers *MsgHandlers, replyHandlers *ReplyHandlers, loggerFactory logging.LoggerFactory) *Dispatcher {

	d := &Dispatcher{
		myNodeID:      myNodeID,
		link:          link,
		responder:     driver.Responder(),
		pool:          pool,
		msgHandlers:   msgHandlers,
		replyHandlers: replyHandlers,
	}
	if loggerFactory != nil {
		d.logger = loggerFactory.NewLogger("dispatch")
	}
	return d
}

// InterruptHandler runs the seven-step receive flow for one waiting
// frame on linkID:
//  1. query the pending frame's size;
//  2. allocate a pool slot for it, emitting a protocol error and
//     dropping the frame on allocation failure;
//  3. receive into the slot and parse the header;
//  4. forward it on if it is not addressed to this node;
//  5. feed it through the handshake responder, which silently consumes
//     handshake traffic;
//  6. look up the registered handler by application_id (MSG) or
//     client_id (REPLY);
//  7. invoke the handler, emitting a protocol error reply on any
//     failure when the sender asked for one.
func (d *Dispatcher) InterruptHandler(ctx context.Context, linkID uint8) error {
	size, err := d.link.ReceiveMessageSize(linkID)
	if err != nil {
		return err
	}

	h, err := d.pool.Allocate(size)
	if err != nil {
		d.dropOversizedOrFull(ctx, linkID, size, err)
		return err
	}

	buf, err := d.pool.Buffer(h)
	if err != nil {
		d.pool.Release(h)
		return err
	}

	n, err := d.link.ReceiveMessage(ctx, linkID, buf)
	if err != nil {
		d.pool.Release(h)
		return err
	}

	pkt, err := wire.Parse(buf[:n])
	if err != nil {
		// No usable header to reply through; the frame is already
		// popped off the wire, so releasing the slot is all we can do.
		d.pool.Release(h)
		if d.logger != nil {
			d.logger.Warnf("dispatch: dropping unparseable frame on link %d: %v", linkID, err)
		}
		return err
	}

	if dest, needsForward := wire.NeedsForwarding(pkt.SenderID, pkt.ReceiverID, pkt.PacketType, d.myNodeID); needsForward {
		defer d.pool.Release(h)
		return d.forward(ctx, pkt, dest)
	}

	remoteNode := wire.RemotePeer(pkt)

	consumed, err := d.responder.Handle(ctx, pkt, remoteNode)
	if err != nil {
		d.failPacket(ctx, pkt, wire.ErrHandshakeFailed)
		d.pool.Release(h)
		return err
	}
	if consumed {
		d.pool.Release(h)
		return nil
	}

	if pkt.PacketType.IsMsg() {
		return d.dispatchMsg(ctx, pkt, h)
	}
	return d.dispatchReply(ctx, pkt, h)
}

// forward relays pkt's raw bytes on the link reachable for dest.
func (d *Dispatcher) forward(ctx context.Context, pkt wire.Parsed, dest uint8) error {
	linkID, ok := d.link.GetRoute(dest)
	if !ok {
		d.failPacket(ctx, pkt, wire.ErrInvalidForwardingDestination)
		return hal.ErrNoRoute
	}

	raw := rebuildFrame(pkt)
	if err := d.link.SendMessage(ctx, linkID, raw); err != nil {
		d.failPacket(ctx, pkt, wire.ErrForwardingFailed)
		return err
	}
	return nil
}

func (d *Dispatcher) dispatchMsg(ctx context.Context, pkt wire.Parsed, h Handle) error {
	handler, ok := d.msgHandlers.Lookup(pkt.ApplicationID)
	if !ok {
		d.failPacket(ctx, pkt, wire.ErrInvalidApplicationID)
		d.pool.Release(h)
		return ErrHandlerNotFound
	}

	if err := handler(h); err != nil {
		d.failPacket(ctx, pkt, wire.ErrHandlerFailed)
		d.pool.Release(h)
		return err
	}
	return nil
}

func (d *Dispatcher) dispatchReply(ctx context.Context, pkt wire.Parsed, h Handle) error {
	handler, ok := d.replyHandlers.Lookup(pkt.ClientID)
	if !ok {
		d.failPacket(ctx, pkt, wire.ErrInvalidClientID)
		d.pool.Release(h)
		return ErrHandlerNotFound
	}

	if err := handler(h); err != nil {
		d.failPacket(ctx, pkt, wire.ErrHandlerFailed)
		d.pool.Release(h)
		return err
	}
	return nil
}

// failPacket sends a PROTOCOL_ERROR_REPLY back to pkt's sender if pkt
// was a MSG that asked for a reply. Replies, fire-and-forget messages,
// and protocol errors themselves never get one.
func (d *Dispatcher) failPacket(ctx context.Context, pkt wire.Parsed, code wire.ProtocolError) {
	if pkt.PacketType != wire.MsgNeedsReply {
		return
	}
	linkID, ok := d.link.GetRoute(pkt.SenderID)
	if !ok {
		return
	}

	buf := make([]byte, wire.HeaderSize+wire.ErrorReplySize)
	n, err := wire.MakeProtocolError(buf, d.myNodeID, pkt.SenderID, pkt.MessageID, pkt.ClientID, code)
	if err != nil {
		return
	}
	if err := d.link.SendMessage(ctx, linkID, buf[:n]); err != nil && d.logger != nil {
		d.logger.Warnf("dispatch: failed to send protocol error %s to node %d: %v", code, pkt.SenderID, err)
	}
}

// dropOversizedOrFull handles a frame the pool could not accept: it
// still pops the frame off the wire (into a buffer outside the pool, so
// a full pool cannot also stall new arrivals) so it can reply with the
// right protocol error and free the link for the next frame.
func (d *Dispatcher) dropOversizedOrFull(ctx context.Context, linkID uint8, size int, allocErr error) {
	temp := make([]byte, size)
	n, err := d.link.ReceiveMessage(ctx, linkID, temp)
	if err != nil {
		return
	}
	pkt, err := wire.Parse(temp[:n])
	if err != nil {
		return
	}

	code := wire.ErrMsgDeliveryTemporaryFailure
	if allocErr == ErrMsgTooLarge {
		code = wire.ErrMsgTooLargeToReceive
	}
	d.failPacket(ctx, pkt, code)
}

// rebuildFrame re-encodes pkt as a flat byte slice for relay, since
// Parse's Payload field aliases into the original receive buffer rather
// than retaining the header bytes alongside it.
func rebuildFrame(pkt wire.Parsed) []byte {
	size := wire.PacketSizeWithoutPayload(pkt.UsesCryptography, pkt.UsesIDExtension) + len(pkt.Payload)
	buf := make([]byte, size)
	offset := pkt.Header.EncodeTo(buf)
	if pkt.UsesCryptography {
		pkt.Crypto.EncodeTo(buf[offset:])
		offset += wire.CryptoMetadataSize
	}
	if pkt.UsesIDExtension {
		wire.WriteIDExtension(buf[offset:], pkt.ClientID, pkt.ApplicationID)
		offset += wire.IDExtensionSize
	}
	copy(buf[offset:], pkt.Payload)
	return buf
}
