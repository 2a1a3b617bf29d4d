package handshake

import (
	"bytes"
	"context"

	"github.com/arm-trusted-firmware/sfcp-go/pkg/subnet"
	"github.com/arm-trusted-firmware/sfcp-go/pkg/wire"
)

// Responder is the incoming side of a handshake: it consumes handshake
// MSG/REPLY packets addressed to this node and drives the owning
// Driver's per-subnet state machines forward in response. It shares all
// state with the Driver it was obtained from — there is no separate
// responder-only bookkeeping.
type Responder struct {
	d *Driver
}

// Handle processes one incoming packet against every trusted subnet
// remoteNode belongs to, stopping at the first subnet whose current
// state recognizes it as a handshake message. Reports consumed=false
// (with a nil error) when no subnet recognizes the packet at all — the
// caller should then treat it as ordinary application traffic.
func (r *Responder) Handle(ctx context.Context, pkt wire.Parsed, remoteNode uint8) (consumed bool, err error) {
	return r.d.handlePacket(ctx, pkt, remoteNode)
}

func (d *Driver) handlePacket(ctx context.Context, pkt wire.Parsed, remoteNode uint8) (bool, error) {
	for _, subnetID := range d.table.SubnetIDs() {
		cfg, err := d.table.Config(subnetID)
		if err != nil {
			continue
		}
		if !memberOf(cfg, remoteNode) {
			continue
		}

		valid, err := d.handleForSubnet(ctx, cfg, pkt, remoteNode)
		if err != nil {
			return false, err
		}
		if valid {
			return true, nil
		}
	}
	return false, nil
}

func memberOf(cfg subnet.Config, node uint8) bool {
	for _, id := range cfg.NodeIDs {
		if id == node {
			return true
		}
	}
	return false
}

// handleForSubnet routes pkt to the handler matching cfg's current
// state, mirroring the original per-state switch: each trusted subnet
// state expects exactly one kind of handshake message next, and
// anything else either falls through to the next subnet (ordinary
// traffic or a message meant for a different subnet) or is a protocol
// error, depending on how specifically the state identifies the packet
// as belonging to this handshake.
func (d *Driver) handleForSubnet(ctx context.Context, cfg subnet.Config, pkt wire.Parsed, remoteNode uint8) (bool, error) {
	state, err := d.table.State(cfg.ID)
	if err != nil {
		return false, err
	}

	switch state {
	case subnet.MutualAuthCompleted, subnet.SessionKeySetupNotRequired:
		return false, nil

	case subnet.SessionKeySetupValid, subnet.ReKeyingRequired, subnet.ReKeyingSentClientRequest:
		return d.handleReKeyPhase(ctx, cfg, state, pkt, remoteNode)

	case subnet.MutualAuthRequired, subnet.SessionKeySetupRequired:
		return d.handleInitialRequest(ctx, cfg, pkt, remoteNode)

	case subnet.SessionKeyReceivedClientRequestServerReply:
		return d.handleExpectGetIVMsg(ctx, cfg, pkt, remoteNode)

	case subnet.ReKeyingReceivedClientRequestServerReply:
		return d.handleExpectSendIVsMsg(ctx, cfg, pkt, remoteNode, true)

	case subnet.ReKeyingSendSendIVsMsg:
		return d.handleSendIVsReplyState(ctx, cfg, pkt, remoteNode, true)

	case subnet.SessionKeySetupSentSendIVsMsg:
		return d.handleSendIVsReplyState(ctx, cfg, pkt, remoteNode, false)

	case subnet.SessionKeySetupSentClientRequest:
		return d.handleClientRequestEmptyReply(ctx, cfg, pkt, remoteNode, subnet.SessionKeyReceivedClientRequestServerReply)

	case subnet.SessionKeySetupSentGetIVReply:
		return d.handleExpectSendIVsMsg(ctx, cfg, pkt, remoteNode, false)

	case subnet.SessionKeySetupSentGetIVMsg:
		return d.handleGetIVReplyState(ctx, cfg, pkt, remoteNode)

	case subnet.MutualAuthWaitingForAuthMsg:
		return d.handleMutualAuthMsgState(ctx, cfg, pkt, remoteNode)

	case subnet.MutualAuthSentAuthMsg:
		return d.handleMutualAuthReplyState(ctx, cfg, pkt, remoteNode)

	default:
		return false, nil
	}
}

// handleReKeyPhase handles the three states that together span a
// re-key round: the trigger state, the client's wait for the server's
// acknowledgement, and (for the server) a request arriving while the
// subnet still reports session-key-valid. Only packets encrypted with a
// sequence number at or past ReKeySeqNum are considered — anything else
// is left for another subnet to claim.
func (d *Driver) handleReKeyPhase(ctx context.Context, cfg subnet.Config, state subnet.State, pkt wire.Parsed, remoteNode uint8) (bool, error) {
	if !pkt.UsesCryptography || pkt.Crypto.TrustedSubnetID != cfg.ID || pkt.Crypto.SeqNum < subnet.ReKeySeqNum {
		return false, nil
	}

	payload, err := d.decryptPayload(pkt, remoteNode)
	if err != nil {
		return false, err
	}

	server, err := d.table.Server(cfg.ID)
	if err != nil {
		return false, err
	}

	if server == d.myNodeID {
		t, sid, ok := decodeMsgHeader(payload)
		if !ok || t != clientReKeyRequestMsg || sid != cfg.ID {
			return false, ErrInvalidMessage
		}

		if err := d.table.SetState(cfg.ID, subnet.ReKeyingReceivedClientRequest); err != nil {
			return false, err
		}
		if err := d.sendHandshakeReply(ctx, cfg.ID, remoteNode, pkt.MessageID, nil); err != nil {
			return false, err
		}
		return true, d.initiateAsServer(ctx, cfg, true)
	}

	if pkt.PacketType == wire.Reply && len(payload) == 0 && d.pads.get(cfg.ID).isMessageIDCurrent(remoteNode, pkt.MessageID) {
		if state != subnet.ReKeyingSentClientRequest {
			return false, ErrInvalidMessage
		}
		return true, d.table.SetState(cfg.ID, subnet.ReKeyingReceivedClientRequestServerReply)
	}

	if t, sid, ivs, ok := decodeSendIVsMsg(payload); ok && t == serverReKeySendIVsMsg && sid == cfg.ID && len(ivs) == 1 {
		return true, d.handleSendIVsMsg(ctx, cfg, pkt, remoteNode, true, ivs)
	}

	return false, ErrInvalidMessage
}

// handleInitialRequest handles the states a subnet starts in: the
// server waits for the initial session key request, the client waits
// for the server's first GET_IV_MSG.
func (d *Driver) handleInitialRequest(ctx context.Context, cfg subnet.Config, pkt wire.Parsed, remoteNode uint8) (bool, error) {
	server, err := d.table.Server(cfg.ID)
	if err != nil {
		return false, err
	}

	payload, err := d.decryptPayload(pkt, remoteNode)
	if err != nil {
		return false, err
	}

	t, sid, ok := decodeMsgHeader(payload)
	if !ok {
		return false, nil
	}

	if server == d.myNodeID {
		if t != clientSessionKeyRequestMsg || sid != cfg.ID {
			return false, nil
		}
		if err := d.table.SetState(cfg.ID, subnet.SessionKeySetupReceivedClientRequest); err != nil {
			return false, err
		}
		if err := d.sendHandshakeReply(ctx, cfg.ID, remoteNode, pkt.MessageID, nil); err != nil {
			return false, err
		}
		return true, d.initiateAsServer(ctx, cfg, false)
	}

	if t != serverSessionKeyGetIVMsg || sid != cfg.ID {
		return false, nil
	}
	return true, d.handleGetIVMsg(ctx, cfg, pkt, remoteNode)
}

// handleExpectGetIVMsg handles a client waiting on the server's
// GET_IV_MSG after its initial request was acknowledged.
func (d *Driver) handleExpectGetIVMsg(ctx context.Context, cfg subnet.Config, pkt wire.Parsed, remoteNode uint8) (bool, error) {
	payload, err := d.decryptPayload(pkt, remoteNode)
	if err != nil {
		return false, err
	}
	t, sid, ok := decodeMsgHeader(payload)
	if !ok || t != serverSessionKeyGetIVMsg || sid != cfg.ID {
		return false, nil
	}
	return true, d.handleGetIVMsg(ctx, cfg, pkt, remoteNode)
}

// handleGetIVMsg generates this node's contribution to session key
// derivation and replies with it.
func (d *Driver) handleGetIVMsg(ctx context.Context, cfg subnet.Config, pkt wire.Parsed, remoteNode uint8) error {
	iv := make([]byte, IVSize)
	if err := d.crypto.Random(iv); err != nil {
		return err
	}
	d.pads.get(cfg.ID).setIV(d.myNodeID, iv)

	if err := d.sendHandshakeReply(ctx, cfg.ID, remoteNode, pkt.MessageID, iv); err != nil {
		return err
	}
	return d.table.SetState(cfg.ID, subnet.SessionKeySetupSentGetIVReply)
}

// handleClientRequestEmptyReply handles a client waiting for the empty
// acknowledgement of its initial (session-key or re-key) request.
func (d *Driver) handleClientRequestEmptyReply(ctx context.Context, cfg subnet.Config, pkt wire.Parsed, remoteNode uint8, newState subnet.State) (bool, error) {
	payload, err := d.decryptPayload(pkt, remoteNode)
	if err != nil {
		return false, err
	}
	if pkt.PacketType != wire.Reply || len(payload) != 0 || !d.pads.get(cfg.ID).isMessageIDCurrent(remoteNode, pkt.MessageID) {
		return false, nil
	}
	return true, d.table.SetState(cfg.ID, newState)
}

// handleExpectSendIVsMsg handles a client waiting for the server's
// SEND_IVS_MSG, in either the initial session-key-setup round (one IV
// per member) or a re-key round (a single server-generated IV).
func (d *Driver) handleExpectSendIVsMsg(ctx context.Context, cfg subnet.Config, pkt wire.Parsed, remoteNode uint8, reKeying bool) (bool, error) {
	if reKeying {
		if !pkt.UsesCryptography || pkt.Crypto.TrustedSubnetID != cfg.ID || pkt.Crypto.SeqNum < subnet.ReKeySeqNum {
			return false, nil
		}
	}

	payload, err := d.decryptPayload(pkt, remoteNode)
	if err != nil {
		return false, err
	}

	wantType := serverSessionKeySendIVsMsg
	wantCount := len(cfg.NodeIDs)
	if reKeying {
		wantType = serverReKeySendIVsMsg
		wantCount = 1
	}

	t, sid, ivs, ok := decodeSendIVsMsg(payload)
	if !ok || t != wantType || sid != cfg.ID || len(ivs) != wantCount {
		return false, nil
	}

	return true, d.handleSendIVsMsg(ctx, cfg, pkt, remoteNode, reKeying, ivs)
}

// handleSendIVsMsg acknowledges a SEND_IVS_MSG, validates it (for
// initial setup, this node's own IV must appear unchanged among the
// IVs it is being asked to derive a key from), and derives or re-derives
// the subnet's session key from the IVs presented.
func (d *Driver) handleSendIVsMsg(ctx context.Context, cfg subnet.Config, pkt wire.Parsed, remoteNode uint8, reKeying bool, ivs [][]byte) error {
	if err := d.sendHandshakeReply(ctx, cfg.ID, remoteNode, pkt.MessageID, nil); err != nil {
		return err
	}

	if !reKeying {
		mine, ok := d.pads.get(cfg.ID).iv(d.myNodeID)
		if !ok {
			return ErrInvalidMessage
		}
		found := false
		for i, node := range cfg.NodeIDs {
			if node != d.myNodeID {
				continue
			}
			if i >= len(ivs) || !bytes.Equal(ivs[i], mine) {
				return ErrInvalidIV
			}
			found = true
			break
		}
		if !found {
			return ErrInvalidMessage
		}
	}

	var newKeyID uint32
	var err error
	if !reKeying {
		newKeyID, err = d.crypto.DeriveSessionKey(ivs)
	} else {
		oldKeyID, kerr := d.table.KeyID(cfg.ID)
		if kerr != nil {
			return kerr
		}
		newKeyID, err = d.crypto.Rekey(oldKeyID, ivs[0])
	}
	if err != nil {
		return err
	}

	if err := d.table.SetKeyID(cfg.ID, newKeyID); err != nil {
		return err
	}
	if err := d.table.SetState(cfg.ID, subnet.SessionKeySetupValid); err != nil {
		return err
	}

	if cfg.Type == subnet.InitiallyUntrustedLinks {
		return d.table.SetState(cfg.ID, subnet.MutualAuthWaitingForAuthMsg)
	}
	return nil
}

// handleGetIVReplyState handles the server collecting IV replies during
// initial session key setup. Once every member has replied, it
// generates its own IV and fans out the complete SEND_IVS_MSG.
func (d *Driver) handleGetIVReplyState(ctx context.Context, cfg subnet.Config, pkt wire.Parsed, remoteNode uint8) (bool, error) {
	payload, err := d.decryptPayload(pkt, remoteNode)
	if err != nil {
		return false, err
	}
	if pkt.PacketType != wire.Reply || len(payload) != IVSize || !d.pads.get(cfg.ID).isMessageIDCurrent(remoteNode, pkt.MessageID) {
		return false, nil
	}

	p := d.pads.get(cfg.ID)
	p.setIV(remoteNode, payload)

	if !p.markReplied(cfg.NodeIDs, d.myNodeID, remoteNode) {
		return true, nil
	}

	iv := make([]byte, IVSize)
	if err := d.crypto.Random(iv); err != nil {
		return false, err
	}
	p.setIV(d.myNodeID, iv)

	ivs, ok := p.ivsInOrder(cfg.NodeIDs)
	if !ok {
		return false, ErrInvalidMessage
	}

	msg := encodeSendIVsMsg(serverSessionKeySendIVsMsg, cfg.ID, ivs)
	if err := d.fanOut(ctx, cfg, msg); err != nil {
		return false, err
	}
	return true, d.table.SetState(cfg.ID, subnet.SessionKeySetupSentSendIVsMsg)
}

// handleSendIVsReplyState handles the server collecting empty
// acknowledgements of its SEND_IVS_MSG fan-out, in either the initial
// setup round or a re-key round. Once every member has replied, it
// derives the new session key and, for a subnet still completing its
// first mutual authentication, starts the AUTH_MSG exchange.
func (d *Driver) handleSendIVsReplyState(ctx context.Context, cfg subnet.Config, pkt wire.Parsed, remoteNode uint8, reKeying bool) (bool, error) {
	payload, err := d.decryptPayload(pkt, remoteNode)
	if err != nil {
		return false, err
	}
	if pkt.PacketType != wire.Reply || len(payload) != 0 || !d.pads.get(cfg.ID).isMessageIDCurrent(remoteNode, pkt.MessageID) {
		return false, nil
	}

	p := d.pads.get(cfg.ID)
	if !p.markReplied(cfg.NodeIDs, d.myNodeID, remoteNode) {
		return true, nil
	}

	var ivs [][]byte
	if !reKeying {
		var ok bool
		ivs, ok = p.ivsInOrder(cfg.NodeIDs)
		if !ok {
			return false, ErrInvalidMessage
		}
	} else {
		mine, ok := p.iv(d.myNodeID)
		if !ok {
			return false, ErrInvalidMessage
		}
		ivs = [][]byte{mine}
	}

	var newKeyID uint32
	if !reKeying {
		newKeyID, err = d.crypto.DeriveSessionKey(ivs)
	} else {
		var oldKeyID uint32
		oldKeyID, err = d.table.KeyID(cfg.ID)
		if err == nil {
			newKeyID, err = d.crypto.Rekey(oldKeyID, ivs[0])
		}
	}
	if err != nil {
		return false, err
	}

	if err := d.table.SetKeyID(cfg.ID, newKeyID); err != nil {
		return false, err
	}
	if err := d.table.SetState(cfg.ID, subnet.SessionKeySetupValid); err != nil {
		return false, err
	}

	if cfg.Type == subnet.InitiallyUntrustedLinks {
		p.resetReplies(cfg.NodeIDs, d.myNodeID)
		authPayload := make([]byte, msgHeaderSize)
		encodeMsgHeader(authPayload, clientAuthMsg, cfg.ID)
		if err := d.fanOut(ctx, cfg, authPayload); err != nil {
			return false, err
		}
		return true, d.table.SetState(cfg.ID, subnet.MutualAuthSentAuthMsg)
	}
	return true, nil
}

// handleMutualAuthMsgState handles a client receiving the server's
// AUTH_MSG and acknowledging it.
func (d *Driver) handleMutualAuthMsgState(ctx context.Context, cfg subnet.Config, pkt wire.Parsed, remoteNode uint8) (bool, error) {
	if !pkt.UsesCryptography || pkt.Crypto.TrustedSubnetID != cfg.ID {
		return false, nil
	}
	payload, err := d.decryptPayload(pkt, remoteNode)
	if err != nil {
		return false, err
	}

	t, sid, ok := decodeMsgHeader(payload)
	if !ok || t != clientAuthMsg || sid != cfg.ID {
		return false, ErrInvalidMessage
	}

	if err := d.sendHandshakeReply(ctx, cfg.ID, remoteNode, pkt.MessageID, nil); err != nil {
		return false, err
	}
	return true, d.completeMutualAuth(cfg)
}

// handleMutualAuthReplyState handles the server collecting AUTH_MSG
// acknowledgements from every member.
func (d *Driver) handleMutualAuthReplyState(ctx context.Context, cfg subnet.Config, pkt wire.Parsed, remoteNode uint8) (bool, error) {
	if !pkt.UsesCryptography || pkt.Crypto.TrustedSubnetID != cfg.ID {
		return false, nil
	}
	payload, err := d.decryptPayload(pkt, remoteNode)
	if err != nil {
		return false, err
	}
	if pkt.PacketType != wire.Reply || len(payload) != 0 {
		return false, nil
	}

	p := d.pads.get(cfg.ID)
	if !p.markReplied(cfg.NodeIDs, d.myNodeID, remoteNode) {
		return true, nil
	}
	return true, d.completeMutualAuth(cfg)
}

// completeMutualAuth invalidates the session key used to bootstrap
// mutual authentication and marks the subnet fully trusted. The key is
// invalidated rather than kept because its only purpose was to protect
// the AUTH_MSG exchange itself.
func (d *Driver) completeMutualAuth(cfg subnet.Config) error {
	keyID, err := d.table.KeyID(cfg.ID)
	if err != nil {
		return err
	}
	if err := d.crypto.InvalidateKey(keyID); err != nil {
		return err
	}
	return d.table.SetState(cfg.ID, subnet.MutualAuthCompleted)
}
