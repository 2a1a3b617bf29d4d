package wire

import "encoding/binary"

// Wire layout constants.
const (
	// HeaderSize is the fixed 4-byte SFCP header: metadata, sender, receiver, message_id.
	HeaderSize = 4

	// CryptoMetadataSize is the size of the cryptography_metadata body segment
	// (seq_num:u16 + mode:u8 + trusted_subnet_id:u8 + tag:u8[16]).
	CryptoMetadataSize = 20

	// IDExtensionSize is the size of the optional client_id/application_id pair.
	IDExtensionSize = 4

	// ErrorReplySize is the fixed size of a PROTOCOL_ERROR_REPLY packet body
	// (client_id:u16 + protocol_error:u16), on top of HeaderSize.
	ErrorReplySize = 4

	// TagSize is the AEAD authentication tag length.
	TagSize = 16

	// MinPacketSize is the minimum buffer size the public API will accept.
	MinPacketSize = 40
)

// metadata byte bit layout, grounded on original_source's sfcp_defs.h
// GET/SET_METADATA_FIELD offsets and masks.
const (
	metadataPacketTypeOffset = 6
	metadataPacketTypeMask   = 0b11
	metadataCryptoOffset     = 5
	metadataCryptoMask       = 0b1
	metadataIDExtOffset      = 4
	metadataIDExtMask        = 0b1
	metadataVersionOffset    = 0
	metadataVersionMask      = 0b1111
)

// Header is the 4-byte SFCP packet header.
type Header struct {
	PacketType        PacketType
	UsesCryptography  bool
	UsesIDExtension   bool
	ProtocolVersion   uint8
	SenderID          uint8
	ReceiverID        uint8
	MessageID         uint8
}

// EncodeTo writes the header into buf, which must be at least HeaderSize
// bytes long. Returns the number of bytes written.
func (h *Header) EncodeTo(buf []byte) int {
	var metadata uint8
	metadata |= (uint8(h.PacketType) & metadataPacketTypeMask) << metadataPacketTypeOffset
	if h.UsesCryptography {
		metadata |= metadataCryptoMask << metadataCryptoOffset
	}
	if h.UsesIDExtension {
		metadata |= metadataIDExtMask << metadataIDExtOffset
	}
	metadata |= (h.ProtocolVersion & metadataVersionMask) << metadataVersionOffset

	buf[0] = metadata
	buf[1] = h.SenderID
	buf[2] = h.ReceiverID
	buf[3] = h.MessageID
	return HeaderSize
}

// Encode returns a new HeaderSize-byte slice with the encoded header.
func (h *Header) Encode() []byte {
	buf := make([]byte, HeaderSize)
	h.EncodeTo(buf)
	return buf
}

// DecodeHeader parses the 4-byte header from buf.
// Returns ErrPacketTooShort if buf is shorter than HeaderSize, and
// ErrInvalidProtocolVersion if the version field does not match
// ProtocolVersion — once the header length is known to be sufficient,
// this check happens before any other validation.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, ErrPacketTooShort
	}

	metadata := buf[0]
	h := Header{
		PacketType:       PacketType((metadata >> metadataPacketTypeOffset) & metadataPacketTypeMask),
		UsesCryptography: (metadata>>metadataCryptoOffset)&metadataCryptoMask != 0,
		UsesIDExtension:  (metadata>>metadataIDExtOffset)&metadataIDExtMask != 0,
		ProtocolVersion:  (metadata >> metadataVersionOffset) & metadataVersionMask,
		SenderID:         buf[1],
		ReceiverID:       buf[2],
		MessageID:        buf[3],
	}

	if h.ProtocolVersion != ProtocolVersion {
		return Header{}, ErrInvalidProtocolVersion
	}

	return h, nil
}

// PacketSizeWithoutPayload returns the number of header+metadata bytes a
// non-error packet occupies before its payload begins, for the given
// crypto/id-extension combination.
func PacketSizeWithoutPayload(usesCrypto, usesIDExtension bool) int {
	size := HeaderSize
	if usesCrypto {
		size += CryptoMetadataSize
	}
	if usesIDExtension {
		size += IDExtensionSize
	}
	return size
}

// CryptoMetadata is the cryptography_metadata segment: the 4-byte
// cryptography configuration followed by the tag.
type CryptoMetadata struct {
	SeqNum          uint16
	Mode            AEADMode
	TrustedSubnetID uint8
	Tag             [TagSize]byte
}

// EncodeTo writes the cryptography metadata (config + tag) into buf, which
// must be at least CryptoMetadataSize bytes long.
func (m CryptoMetadata) EncodeTo(buf []byte) {
	binary.LittleEndian.PutUint16(buf[0:2], m.SeqNum)
	buf[2] = uint8(m.Mode)
	buf[3] = m.TrustedSubnetID
	copy(buf[4:4+TagSize], m.Tag[:])
}

// DecodeCryptoMetadata parses the cryptography metadata segment from buf.
func DecodeCryptoMetadata(buf []byte) CryptoMetadata {
	var m CryptoMetadata
	m.SeqNum = binary.LittleEndian.Uint16(buf[0:2])
	m.Mode = AEADMode(buf[2])
	m.TrustedSubnetID = buf[3]
	copy(m.Tag[:], buf[4:4+TagSize])
	return m
}
