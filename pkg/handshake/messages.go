package handshake

import "encoding/binary"

// IVSize is the width of the randomness each node contributes to session
// key derivation.
const IVSize = 32

// msgType identifies the handshake payload carried by a MSG packet.
// Values are grouped by concern the way the wire protocol documents them:
// session key generation in the 0x1xxx range, re-keying in 0x2xxx, mutual
// authentication in 0x3xxx.
type msgType uint16

const (
	clientSessionKeyRequestMsg msgType = 0x1010
	serverSessionKeyGetIVMsg   msgType = 0x1020
	serverSessionKeySendIVsMsg msgType = 0x1030

	clientReKeyRequestMsg msgType = 0x2010
	serverReKeySendIVsMsg msgType = 0x2030

	clientAuthMsg msgType = 0x3010
)

// msgHeaderSize is the size of the type+trusted_subnet_id header every
// handshake MSG payload (other than a GET_IV reply) carries.
const msgHeaderSize = 3

// encodeMsgHeader writes a handshake payload's type and trusted_subnet_id
// into buf, which must be at least msgHeaderSize bytes.
func encodeMsgHeader(buf []byte, t msgType, subnetID uint8) int {
	binary.LittleEndian.PutUint16(buf[0:2], uint16(t))
	buf[2] = subnetID
	return msgHeaderSize
}

// decodeMsgHeader reads a handshake payload's type and trusted_subnet_id.
func decodeMsgHeader(buf []byte) (t msgType, subnetID uint8, ok bool) {
	if len(buf) < msgHeaderSize {
		return 0, 0, false
	}
	return msgType(binary.LittleEndian.Uint16(buf[0:2])), buf[2], true
}

// encodeSendIVsMsg lays out a SEND_IVS_MSG payload: header, then the
// count of IVs present, then that many IVSize-byte IVs concatenated in
// member node-ID order.
func encodeSendIVsMsg(t msgType, subnetID uint8, ivs [][]byte) []byte {
	buf := make([]byte, msgHeaderSize+1+len(ivs)*IVSize)
	off := encodeMsgHeader(buf, t, subnetID)
	buf[off] = uint8(len(ivs))
	off++
	for _, iv := range ivs {
		off += copy(buf[off:], iv)
	}
	return buf
}

// decodeSendIVsMsg parses a SEND_IVS_MSG payload produced by
// encodeSendIVsMsg.
func decodeSendIVsMsg(buf []byte) (t msgType, subnetID uint8, ivs [][]byte, ok bool) {
	t, subnetID, ok = decodeMsgHeader(buf)
	if !ok || len(buf) < msgHeaderSize+1 {
		return 0, 0, nil, false
	}
	count := int(buf[msgHeaderSize])
	off := msgHeaderSize + 1
	if len(buf) < off+count*IVSize {
		return 0, 0, nil, false
	}
	ivs = make([][]byte, count)
	for i := 0; i < count; i++ {
		ivs[i] = buf[off : off+IVSize]
		off += IVSize
	}
	return t, subnetID, ivs, true
}
