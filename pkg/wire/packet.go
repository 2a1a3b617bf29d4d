package wire

import "encoding/binary"

// Parsed is the result of parsing an SFCP packet: the header plus whichever
// body fields apply to its variant. Payload aliases into the buffer passed
// to Parse — callers that need to retain it beyond the buffer's lifetime
// must copy it.
type Parsed struct {
	Header

	// ClientID/ApplicationID are valid when UsesIDExtension is set (for
	// MSG/REPLY packets) and are zero otherwise.
	ClientID      uint16
	ApplicationID uint16

	// Crypto is valid when UsesCryptography is set.
	Crypto CryptoMetadata

	// Payload is the application/ciphertext payload slice. For
	// PROTOCOL_ERROR_REPLY packets this is always nil.
	Payload []byte

	// ProtocolError is valid only when PacketType == ProtocolErrorReply.
	ProtocolError ProtocolError
}

// Parse decodes an SFCP packet from buf.
//
// Validation order follows the component design: protocol version first
// (via DecodeHeader), then the minimum length for the discriminated body
// variant.
func Parse(buf []byte) (Parsed, error) {
	h, err := DecodeHeader(buf)
	if err != nil {
		return Parsed{}, err
	}

	p := Parsed{Header: h}

	if h.PacketType == ProtocolErrorReply {
		if len(buf) < HeaderSize+ErrorReplySize {
			return Parsed{}, ErrPacketTooShort
		}
		p.ClientID = binary.LittleEndian.Uint16(buf[HeaderSize : HeaderSize+2])
		p.ProtocolError = ProtocolError(binary.LittleEndian.Uint16(buf[HeaderSize+2 : HeaderSize+4]))
		return p, nil
	}

	minSize := PacketSizeWithoutPayload(h.UsesCryptography, h.UsesIDExtension)
	if len(buf) < minSize {
		return Parsed{}, ErrPacketTooShort
	}

	offset := HeaderSize
	if h.UsesCryptography {
		p.Crypto = DecodeCryptoMetadata(buf[offset : offset+CryptoMetadataSize])
		offset += CryptoMetadataSize
	}
	if h.UsesIDExtension {
		p.ClientID = binary.LittleEndian.Uint16(buf[offset : offset+2])
		p.ApplicationID = binary.LittleEndian.Uint16(buf[offset+2 : offset+4])
		offset += IDExtensionSize
	}

	p.Payload = buf[offset:]
	return p, nil
}

// WriteIDExtension writes the 4-byte client_id/application_id pair into buf,
// which must be at least IDExtensionSize bytes long.
func WriteIDExtension(buf []byte, clientID, applicationID uint16) {
	binary.LittleEndian.PutUint16(buf[0:2], clientID)
	binary.LittleEndian.PutUint16(buf[2:4], applicationID)
}

// MakeProtocolError writes a fixed-shape PROTOCOL_ERROR_REPLY packet into
// buf, which must be at least HeaderSize+ErrorReplySize (8) bytes long.
// Returns the number of bytes written.
func MakeProtocolError(buf []byte, sender, receiver, messageID uint8, clientID uint16, protoErr ProtocolError) (int, error) {
	if len(buf) < HeaderSize+ErrorReplySize {
		return 0, ErrBufferTooSmall
	}

	h := Header{
		PacketType:       ProtocolErrorReply,
		UsesCryptography: false,
		UsesIDExtension:  false,
		ProtocolVersion:  ProtocolVersion,
		SenderID:         sender,
		ReceiverID:       receiver,
		MessageID:        messageID,
	}
	h.EncodeTo(buf)

	binary.LittleEndian.PutUint16(buf[HeaderSize:HeaderSize+2], clientID)
	binary.LittleEndian.PutUint16(buf[HeaderSize+2:HeaderSize+4], uint16(protoErr))

	return HeaderSize + ErrorReplySize, nil
}

// NeedsForwarding reports whether a received packet must be relayed to
// reach its true endpoint. MSG variants (MsgNeedsReply/MsgNoReply) forward
// via their ReceiverID field; REPLY forwards whenever the local node is
// not the packet's SenderID, and forwards to that SenderID.
// PROTOCOL_ERROR_REPLY packets never need forwarding.
func NeedsForwarding(sender, receiver uint8, packetType PacketType, myID uint8) (dest uint8, ok bool) {
	switch {
	case packetType.IsMsg():
		if receiver != myID {
			return receiver, true
		}
	case packetType == Reply:
		if sender != myID {
			return sender, true
		}
	}
	return 0, false
}

// RemotePeer returns the node ID of the conversational peer pkt was
// exchanged with. REPLY packets preserve the original requester in
// SenderID and carry the replier's own ID in ReceiverID (mirroring
// sfcp_init_reply), so the peer is ReceiverID; every other packet type
// carries the peer in SenderID.
func RemotePeer(pkt Parsed) uint8 {
	if pkt.PacketType == Reply {
		return pkt.ReceiverID
	}
	return pkt.SenderID
}
