package handshake

import (
	"context"
	"time"

	"github.com/pion/logging"

	"github.com/arm-trusted-firmware/sfcp-go/pkg/encryption"
	"github.com/arm-trusted-firmware/sfcp-go/pkg/hal"
	"github.com/arm-trusted-firmware/sfcp-go/pkg/subnet"
	"github.com/arm-trusted-firmware/sfcp-go/pkg/wire"
)

// Status reports the outcome of a single Driver.Progress call.
type Status int

const (
	// Waiting means the handshake is still in progress; call Progress
	// again (or keep blocking) to continue it.
	Waiting Status = iota
	// Complete means the trusted subnet has reached a state where
	// application traffic can flow.
	Complete
	// Failed means the handshake cannot continue; the accompanying error
	// describes why.
	Failed
)

func (s Status) String() string {
	switch s {
	case Waiting:
		return "Waiting"
	case Complete:
		return "Complete"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// pollInterval is how often Block re-polls a subnet's links when no
// message is immediately available.
const pollInterval = time.Millisecond

// Driver drives the session-key-setup, re-keying, and mutual
// authentication handshakes for every trusted subnet a node is a member
// of. It owns no transport state of its own beyond per-subnet
// Scratchpad bookkeeping — the link, the cryptography provider, and the
// subnet table are all shared with the rest of the node.
type Driver struct {
	myNodeID uint8
	link     hal.Link
	crypto   hal.Crypto
	table    *subnet.Table
	logger   logging.LeveledLogger

	pads *scratchpads
}

// NewDriver builds a Driver for myNodeID. loggerFactory may be nil, in
// which case the driver logs nothing.
func NewDriver(myNodeID uint8, link hal.Link, crypto hal.Crypto, table *subnet.Table, loggerFactory logging.LoggerFactory) *Driver {
	d := &Driver{
		myNodeID: myNodeID,
		link:     link,
		crypto:   crypto,
		table:    table,
		pads:     newScratchpads(),
	}
	if loggerFactory != nil {
		d.logger = loggerFactory.NewLogger("handshake")
	}
	return d
}

// Responder returns the responder-side view of this driver, for wiring
// into a dispatcher's incoming-packet path.
func (d *Driver) Responder() *Responder {
	return &Responder{d: d}
}

// Initiate starts the handshake for subnetID from *Required state: it
// sends the first round of messages and advances the subnet's state to
// the corresponding *InitiatorStarted/*Started state. Returns
// ErrNotReadyToInitiate if the subnet is not currently in a state that
// can be initiated, and ErrReKeyAlreadyInProgress if a re-key is
// requested while one is already underway.
func (d *Driver) Initiate(ctx context.Context, subnetID uint8) error {
	state, err := d.table.State(subnetID)
	if err != nil {
		return err
	}

	var reKeying bool
	var started subnet.State
	switch state {
	case subnet.MutualAuthRequired, subnet.SessionKeySetupRequired:
		reKeying = false
		started = subnet.SessionKeySetupInitiatorStarted
	case subnet.ReKeyingRequired:
		reKeying = true
		started = subnet.ReKeyingInitiatorStarted
	case subnet.ReKeyingInitiatorStarted, subnet.ReKeyingSentClientRequest,
		subnet.ReKeyingSendSendIVsMsg, subnet.ReKeyingReceivedClientRequest,
		subnet.ReKeyingReceivedClientRequestServerReply, subnet.ReKeyingReceivedSendIVsMsg:
		return ErrReKeyAlreadyInProgress
	default:
		return ErrNotReadyToInitiate
	}

	cfg, err := d.table.Config(subnetID)
	if err != nil {
		return err
	}
	server, err := d.table.Server(subnetID)
	if err != nil {
		return err
	}

	if err := d.table.SetState(subnetID, started); err != nil {
		return err
	}

	if d.logger != nil {
		d.logger.Debugf("initiating handshake for subnet %d, re_keying=%v, server=%d", subnetID, reKeying, server)
	}

	if server == d.myNodeID {
		return d.initiateAsServer(ctx, cfg, reKeying)
	}
	return d.initiateAsClient(ctx, cfg, server, reKeying)
}

func (d *Driver) initiateAsServer(ctx context.Context, cfg subnet.Config, reKeying bool) error {
	p := d.pads.get(cfg.ID)
	p.resetReplies(cfg.NodeIDs, d.myNodeID)

	if !reKeying {
		payload := make([]byte, msgHeaderSize)
		encodeMsgHeader(payload, serverSessionKeyGetIVMsg, cfg.ID)
		if err := d.fanOut(ctx, cfg, payload); err != nil {
			return err
		}
		return d.table.SetState(cfg.ID, subnet.SessionKeySetupSentGetIVMsg)
	}

	iv := make([]byte, IVSize)
	if err := d.crypto.Random(iv); err != nil {
		return err
	}
	p.setIV(d.myNodeID, iv)

	payload := encodeSendIVsMsg(serverReKeySendIVsMsg, cfg.ID, [][]byte{iv})
	if err := d.fanOut(ctx, cfg, payload); err != nil {
		return err
	}
	return d.table.SetState(cfg.ID, subnet.ReKeyingSendSendIVsMsg)
}

func (d *Driver) initiateAsClient(ctx context.Context, cfg subnet.Config, server uint8, reKeying bool) error {
	t := clientSessionKeyRequestMsg
	newState := subnet.SessionKeySetupSentClientRequest
	if reKeying {
		t = clientReKeyRequestMsg
		newState = subnet.ReKeyingSentClientRequest
	}

	payload := make([]byte, msgHeaderSize)
	encodeMsgHeader(payload, t, cfg.ID)

	if err := d.sendHandshakeMsg(ctx, cfg.ID, server, payload); err != nil {
		return err
	}
	return d.table.SetState(cfg.ID, newState)
}

// fanOut sends payload as a handshake MSG to every member of cfg other
// than the local node.
func (d *Driver) fanOut(ctx context.Context, cfg subnet.Config, payload []byte) error {
	for _, node := range cfg.NodeIDs {
		if node == d.myNodeID {
			continue
		}
		if err := d.sendHandshakeMsg(ctx, cfg.ID, node, payload); err != nil {
			return err
		}
	}
	return nil
}

// Progress advances subnetID's handshake by one step: initiating it if
// it is newly required and the local node is the client for the
// subnet, or polling its member links for one round of incoming
// handshake traffic otherwise. It never blocks waiting for a message to
// arrive.
//
// Only the client side auto-initiates here: the request/reply shape of
// every *Required state (CLIENT_SESSION_KEY_REQUEST_MSG,
// CLIENT_RE_KEY_REQUEST_MSG) has the client ask first, and the server
// responds reactively once the request arrives (see handleInitialRequest
// and handleReKeyPhase). If both sides called Initiate from *Required
// state independently, the server's proactive fan-out and the client's
// request would race and strand each other's state machine. A caller
// that needs the server side to kick off a handshake unilaterally can
// still call Initiate directly.
func (d *Driver) Progress(ctx context.Context, subnetID uint8) (Status, error) {
	state, err := d.table.State(subnetID)
	if err != nil {
		return Failed, err
	}

	switch state {
	case subnet.SessionKeySetupNotRequired, subnet.MutualAuthCompleted:
		return Complete, nil
	case subnet.SessionKeySetupRequired, subnet.ReKeyingRequired, subnet.MutualAuthRequired:
		server, err := d.table.Server(subnetID)
		if err != nil {
			return Failed, err
		}
		if server != d.myNodeID {
			if err := d.Initiate(ctx, subnetID); err != nil {
				return Failed, err
			}
			return Waiting, nil
		}
	}

	cfg, err := d.table.Config(subnetID)
	if err != nil {
		return Failed, err
	}

	for _, node := range cfg.NodeIDs {
		if node == d.myNodeID {
			continue
		}
		if err := d.pollNode(ctx, node); err != nil {
			return Failed, err
		}
	}

	state, err = d.table.State(subnetID)
	if err != nil {
		return Failed, err
	}
	if state == subnet.SessionKeySetupValid || state == subnet.MutualAuthCompleted {
		return Complete, nil
	}
	return Waiting, nil
}

// pollNode checks whether remoteNode's link has a waiting packet and, if
// so, feeds it through the responder.
func (d *Driver) pollNode(ctx context.Context, remoteNode uint8) error {
	linkID, ok := d.link.GetRoute(remoteNode)
	if !ok {
		return nil
	}
	if !d.link.IsMessageAvailable(linkID) {
		return nil
	}

	size, err := d.link.ReceiveMessageSize(linkID)
	if err != nil {
		return nil
	}
	buf := make([]byte, size)
	n, err := d.link.ReceiveMessage(ctx, linkID, buf)
	if err != nil {
		return nil
	}

	pkt, err := wire.Parse(buf[:n])
	if err != nil {
		return nil
	}

	_, err = d.handlePacket(ctx, pkt, remoteNode)
	return err
}

// Block drives subnetID's handshake to completion, polling until
// Progress reports Complete, returns an error, or ctx is done.
func (d *Driver) Block(ctx context.Context, subnetID uint8) error {
	for {
		status, err := d.Progress(ctx, subnetID)
		if err != nil {
			return err
		}
		if status == Complete {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// sendHandshakeMsg sends payload as a MSG packet to remoteNode on
// subnetID, encrypting it if the subnet's current state requires
// encryption, and records the message ID so a later reply can be
// correlated back to it.
func (d *Driver) sendHandshakeMsg(ctx context.Context, subnetID, remoteNode uint8, payload []byte) error {
	linkID, ok := d.link.GetRoute(remoteNode)
	if !ok {
		return hal.ErrNoRoute
	}

	state, err := d.table.State(subnetID)
	if err != nil {
		return err
	}
	encrypt := state.RequiresEncryption()

	p := d.pads.get(subnetID)
	messageID := p.nextMessageID(remoteNode)

	hdr := wire.Header{
		PacketType:       wire.MsgNeedsReply,
		UsesCryptography: encrypt,
		ProtocolVersion:  wire.ProtocolVersion,
		SenderID:         d.myNodeID,
		ReceiverID:       remoteNode,
		MessageID:        messageID,
	}

	buf := make([]byte, wire.PacketSizeWithoutPayload(encrypt, false)+len(payload))
	var n int
	if encrypt {
		n, err = encryption.EncryptMsg(d.crypto, d.table, hdr, subnetID, remoteNode, false, 0, 0, payload, buf)
		if err != nil {
			return err
		}
	} else {
		hdr.EncodeTo(buf)
		n = wire.HeaderSize + copy(buf[wire.HeaderSize:], payload)
	}

	return d.link.SendMessage(ctx, linkID, buf[:n])
}

// sendHandshakeReply sends payload as a REPLY packet to remoteNode,
// correlated to messageID, encrypting it if the subnet's current state
// requires encryption.
func (d *Driver) sendHandshakeReply(ctx context.Context, subnetID, remoteNode, messageID uint8, payload []byte) error {
	linkID, ok := d.link.GetRoute(remoteNode)
	if !ok {
		return hal.ErrNoRoute
	}

	state, err := d.table.State(subnetID)
	if err != nil {
		return err
	}
	encrypt := state.RequiresEncryption()

	hdr := wire.Header{
		PacketType:       wire.Reply,
		UsesCryptography: encrypt,
		ProtocolVersion:  wire.ProtocolVersion,
		// A reply's SenderID preserves the original requester and
		// ReceiverID carries the replier's own ID, mirroring
		// sfcp_init_reply, so NeedsForwarding can key off SenderID.
		SenderID:   remoteNode,
		ReceiverID: d.myNodeID,
		MessageID:  messageID,
	}

	buf := make([]byte, wire.PacketSizeWithoutPayload(encrypt, false)+len(payload))
	var n int
	if encrypt {
		n, err = encryption.EncryptReply(d.crypto, d.table, hdr, subnetID, remoteNode, false, 0, 0, payload, buf)
		if err != nil {
			return err
		}
	} else {
		hdr.EncodeTo(buf)
		n = wire.HeaderSize + copy(buf[wire.HeaderSize:], payload)
	}

	return d.link.SendMessage(ctx, linkID, buf[:n])
}

// decryptPayload returns pkt's plaintext payload, decrypting it first if
// the packet carries cryptography metadata.
func (d *Driver) decryptPayload(pkt wire.Parsed, remoteNode uint8) ([]byte, error) {
	if !pkt.UsesCryptography {
		return pkt.Payload, nil
	}
	return encryption.DecryptMsg(d.crypto, d.table, pkt, remoteNode)
}
