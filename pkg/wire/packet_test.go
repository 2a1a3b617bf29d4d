package wire

import (
	"bytes"
	"testing"
)

func TestParsePlainMsg(t *testing.T) {
	buf := make([]byte, HeaderSize+5)
	h := Header{PacketType: MsgNeedsReply, ProtocolVersion: ProtocolVersion, SenderID: 1, ReceiverID: 2, MessageID: 3}
	h.EncodeTo(buf)
	copy(buf[HeaderSize:], []byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE})

	p, err := Parse(buf)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if p.PacketType != MsgNeedsReply || p.SenderID != 1 || p.ReceiverID != 2 || p.MessageID != 3 {
		t.Errorf("Parse() header = %+v", p.Header)
	}
	if !bytes.Equal(p.Payload, []byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE}) {
		t.Errorf("Parse() payload = % x", p.Payload)
	}
}

func TestParseWithCryptoAndIDExtension(t *testing.T) {
	crypto := CryptoMetadata{SeqNum: 42, Mode: AES256CCM, TrustedSubnetID: 3}
	payload := []byte{1, 2, 3}

	buf := make([]byte, PacketSizeWithoutPayload(true, true)+len(payload))
	h := Header{
		PacketType:       Reply,
		UsesCryptography: true,
		UsesIDExtension:  true,
		ProtocolVersion:  ProtocolVersion,
		SenderID:         4,
		ReceiverID:       5,
		MessageID:        6,
	}
	h.EncodeTo(buf)
	crypto.EncodeTo(buf[HeaderSize:])
	WriteIDExtension(buf[HeaderSize+CryptoMetadataSize:], 0x1111, 0x2222)
	copy(buf[HeaderSize+CryptoMetadataSize+IDExtensionSize:], payload)

	p, err := Parse(buf)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if p.Crypto.SeqNum != 42 || p.Crypto.Mode != AES256CCM || p.Crypto.TrustedSubnetID != 3 {
		t.Errorf("Parse() crypto = %+v", p.Crypto)
	}
	if p.ClientID != 0x1111 || p.ApplicationID != 0x2222 {
		t.Errorf("Parse() ClientID/ApplicationID = %x/%x", p.ClientID, p.ApplicationID)
	}
	if !bytes.Equal(p.Payload, payload) {
		t.Errorf("Parse() payload = % x, want % x", p.Payload, payload)
	}
}

func TestParseRejectsShortBody(t *testing.T) {
	buf := make([]byte, HeaderSize+CryptoMetadataSize-1)
	h := Header{PacketType: MsgNeedsReply, UsesCryptography: true, ProtocolVersion: ProtocolVersion}
	h.EncodeTo(buf)

	_, err := Parse(buf)
	if err != ErrPacketTooShort {
		t.Errorf("Parse() error = %v, want ErrPacketTooShort", err)
	}
}

func TestParseProtocolErrorReply(t *testing.T) {
	buf := make([]byte, HeaderSize+ErrorReplySize)
	n, err := MakeProtocolError(buf, 1, 2, 3, 0xBEEF, ErrHandshakeFailed)
	if err != nil {
		t.Fatalf("MakeProtocolError() error = %v", err)
	}
	if n != HeaderSize+ErrorReplySize {
		t.Fatalf("MakeProtocolError() n = %d, want %d", n, HeaderSize+ErrorReplySize)
	}

	p, err := Parse(buf)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if p.PacketType != ProtocolErrorReply {
		t.Errorf("Parse() PacketType = %v, want ProtocolErrorReply", p.PacketType)
	}
	if p.ClientID != 0xBEEF {
		t.Errorf("Parse() ClientID = %x, want 0xBEEF", p.ClientID)
	}
	if p.ProtocolError != ErrHandshakeFailed {
		t.Errorf("Parse() ProtocolError = %v, want ErrHandshakeFailed", p.ProtocolError)
	}
	if p.Payload != nil {
		t.Errorf("Parse() Payload = % x, want nil", p.Payload)
	}
}

func TestMakeProtocolErrorRejectsSmallBuffer(t *testing.T) {
	buf := make([]byte, 3)
	_, err := MakeProtocolError(buf, 1, 2, 3, 0, ErrInternalError)
	if err != ErrBufferTooSmall {
		t.Errorf("MakeProtocolError() error = %v, want ErrBufferTooSmall", err)
	}
}

func TestNeedsForwarding(t *testing.T) {
	const myID = 5

	tests := []struct {
		name       string
		sender     uint8
		receiver   uint8
		packetType PacketType
		wantDest   uint8
		wantOK     bool
	}{
		{"msg to me", 1, myID, MsgNeedsReply, 0, false},
		{"msg to elsewhere forwards via receiver", 1, 9, MsgNeedsReply, 9, true},
		{"fire and forget forwards via receiver", 1, 9, MsgNoReply, 9, true},
		{"reply where I am the sender never forwards regardless of receiver", myID, 9, Reply, 0, false},
		{"reply I originally sent as the receiver field still never forwards", myID, myID, Reply, 0, false},
		{"reply from elsewhere forwards via sender regardless of receiver", 9, 1, Reply, 9, true},
		{"reply from elsewhere addressed to me still forwards via sender", 9, myID, Reply, 9, true},
		{"protocol error never forwards", 1, 9, ProtocolErrorReply, 0, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dest, ok := NeedsForwarding(tc.sender, tc.receiver, tc.packetType, myID)
			if dest != tc.wantDest || ok != tc.wantOK {
				t.Errorf("NeedsForwarding() = (%d, %v), want (%d, %v)", dest, ok, tc.wantDest, tc.wantOK)
			}
		})
	}
}
