package encryption

import (
	"encoding/binary"

	"github.com/arm-trusted-firmware/sfcp-go/pkg/hal"
	"github.com/arm-trusted-firmware/sfcp-go/pkg/subnet"
	"github.com/arm-trusted-firmware/sfcp-go/pkg/wire"
)

// configBytes returns the 4-byte (seq_num, mode, trusted_subnet_id)
// prefix of a CryptoMetadata — the part of the crypto metadata that, like
// the header, is covered by the AEAD nonce rather than the tag.
func configBytes(seqNum uint16, mode wire.AEADMode, subnetID uint8) [4]byte {
	var b [4]byte
	binary.LittleEndian.PutUint16(b[0:2], seqNum)
	b[2] = uint8(mode)
	b[3] = subnetID
	return b
}

// idExtensionAAD returns the 4-byte client_id/application_id pair as AAD
// when useIDExtension is set, or nil otherwise.
func idExtensionAAD(useIDExtension bool, clientID, applicationID uint16) []byte {
	if !useIDExtension {
		return nil
	}
	aad := make([]byte, wire.IDExtensionSize)
	wire.WriteIDExtension(aad, clientID, applicationID)
	return aad
}

// sealInto encrypts payload and writes the full packet (header, crypto
// metadata, optional ID extension, ciphertext) into buf. hdr.UsesCryptography
// must already be true; hdr is encoded as-is.
func sealInto(crypto hal.Crypto, tbl *subnet.Table, hdr wire.Header, subnetID, remoteNode uint8,
	useIDExtension bool, clientID, applicationID uint16, payload []byte, buf []byte) (int, error) {

	mode, err := tbl.Mode(subnetID)
	if err != nil {
		return 0, err
	}
	if mode != wire.AES256CCM {
		return 0, ErrUnsupportedMode
	}

	keyID, err := tbl.KeyID(subnetID)
	if err != nil {
		return 0, err
	}

	seq, err := tbl.NextSendSeq(subnetID, remoteNode)
	if err != nil {
		return 0, err
	}

	total := wire.PacketSizeWithoutPayload(true, useIDExtension) + len(payload)
	if len(buf) < total {
		return 0, ErrBufferTooSmall
	}

	hdrBytes := hdr.Encode()
	cfg := configBytes(seq, mode, subnetID)

	nonce := make([]byte, 0, wire.HeaderSize+len(cfg))
	nonce = append(nonce, hdrBytes...)
	nonce = append(nonce, cfg[:]...)

	aad := idExtensionAAD(useIDExtension, clientID, applicationID)

	ciphertext, tag, err := crypto.EncryptPacket(keyID, nonce, aad, payload)
	if err != nil {
		return 0, err
	}

	offset := copy(buf, hdrBytes)

	cryptoMeta := wire.CryptoMetadata{SeqNum: seq, Mode: mode, TrustedSubnetID: subnetID}
	copy(cryptoMeta.Tag[:], tag)
	cryptoMeta.EncodeTo(buf[offset:])
	offset += wire.CryptoMetadataSize

	if useIDExtension {
		wire.WriteIDExtension(buf[offset:], clientID, applicationID)
		offset += wire.IDExtensionSize
	}

	offset += copy(buf[offset:], ciphertext)
	return offset, nil
}

// openFrom verifies and decrypts pkt's payload, checking the anti-replay
// window for remoteNode on pkt.Crypto.TrustedSubnetID before decrypting.
func openFrom(crypto hal.Crypto, tbl *subnet.Table, pkt wire.Parsed, remoteNode uint8) ([]byte, error) {
	subnetID := pkt.Crypto.TrustedSubnetID

	mode, err := tbl.Mode(subnetID)
	if err != nil {
		return nil, err
	}
	if mode != wire.AES256CCM || pkt.Crypto.Mode != wire.AES256CCM {
		return nil, ErrUnsupportedMode
	}

	if err := tbl.CheckRecvSeq(subnetID, remoteNode, pkt.Crypto.SeqNum); err != nil {
		return nil, err
	}

	keyID, err := tbl.KeyID(subnetID)
	if err != nil {
		return nil, err
	}

	hdr := pkt.Header
	hdrBytes := hdr.Encode()
	cfg := configBytes(pkt.Crypto.SeqNum, pkt.Crypto.Mode, subnetID)

	nonce := make([]byte, 0, wire.HeaderSize+len(cfg))
	nonce = append(nonce, hdrBytes...)
	nonce = append(nonce, cfg[:]...)

	aad := idExtensionAAD(hdr.UsesIDExtension, pkt.ClientID, pkt.ApplicationID)

	return crypto.DecryptPacket(keyID, nonce, aad, pkt.Payload, pkt.Crypto.Tag[:])
}

// EncryptMsg seals an outgoing message packet's payload and writes the
// full packet into buf.
func EncryptMsg(crypto hal.Crypto, tbl *subnet.Table, hdr wire.Header, subnetID, remoteNode uint8,
	useIDExtension bool, clientID, applicationID uint16, payload, buf []byte) (int, error) {
	return sealInto(crypto, tbl, hdr, subnetID, remoteNode, useIDExtension, clientID, applicationID, payload, buf)
}

// DecryptMsg verifies and decrypts a received message packet's payload.
// remoteNode is the sender of the message.
func DecryptMsg(crypto hal.Crypto, tbl *subnet.Table, pkt wire.Parsed, remoteNode uint8) ([]byte, error) {
	return openFrom(crypto, tbl, pkt, remoteNode)
}

// EncryptReply seals an outgoing reply packet's payload and writes the
// full packet into buf.
func EncryptReply(crypto hal.Crypto, tbl *subnet.Table, hdr wire.Header, subnetID, remoteNode uint8,
	useIDExtension bool, clientID, applicationID uint16, payload, buf []byte) (int, error) {
	return sealInto(crypto, tbl, hdr, subnetID, remoteNode, useIDExtension, clientID, applicationID, payload, buf)
}

// DecryptReply verifies and decrypts a received reply packet's payload.
// remoteNode is the node that generated the reply.
func DecryptReply(crypto hal.Crypto, tbl *subnet.Table, pkt wire.Parsed, remoteNode uint8) ([]byte, error) {
	return openFrom(crypto, tbl, pkt, remoteNode)
}
