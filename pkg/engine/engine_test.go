package engine

import (
	"context"
	"testing"
	"time"

	"github.com/arm-trusted-firmware/sfcp-go/pkg/cryptohal"
	"github.com/arm-trusted-firmware/sfcp-go/pkg/handshake"
	"github.com/arm-trusted-firmware/sfcp-go/pkg/mailbox"
	"github.com/arm-trusted-firmware/sfcp-go/pkg/platform"
	"github.com/arm-trusted-firmware/sfcp-go/pkg/subnet"
	"github.com/arm-trusted-firmware/sfcp-go/pkg/wire"
)

const (
	testLinkID        = 0
	openSubnetID      = 10
	sealedSubnetID     = 20
	pingApplicationID = 1
	otherApplicationID = 2
)

// testNode bundles one participant's transport, subnet table, handshake
// driver, and engine, mirroring how a real node wires these together.
type testNode struct {
	id     uint8
	link   *mailbox.Doorbell
	driver *handshake.Driver
	engine *Engine
}

func newTestNodes(t *testing.T) (*testNode, *testNode) {
	t.Helper()

	pipe := mailbox.NewPipe()
	stop := make(chan struct{})
	t.Cleanup(func() { close(stop) })
	pipe.RunBackground(time.Millisecond, stop)

	cfgs := []subnet.Config{
		{ID: openSubnetID, Type: subnet.TrustedLinks, Mode: wire.AES256CCM, NodeIDs: []uint8{1, 2}},
		{ID: sealedSubnetID, Type: subnet.UntrustedLinks, Mode: wire.AES256CCM, NodeIDs: []uint8{1, 2}},
	}

	linkA := mailbox.NewDoorbell(1, nil)
	linkB := mailbox.NewDoorbell(2, nil)
	linkA.AddLink(testLinkID, 2, pipe.Conn0())
	linkB.AddLink(testLinkID, 1, pipe.Conn1())

	ctx := context.Background()
	if err := linkA.Init(ctx); err != nil {
		t.Fatalf("linkA.Init() error = %v", err)
	}
	if err := linkB.Init(ctx); err != nil {
		t.Fatalf("linkB.Init() error = %v", err)
	}

	tblA, err := subnet.NewTable(1, cfgs)
	if err != nil {
		t.Fatalf("subnet.NewTable(1) error = %v", err)
	}
	tblB, err := subnet.NewTable(2, cfgs)
	if err != nil {
		t.Fatalf("subnet.NewTable(2) error = %v", err)
	}

	cryptoA := cryptohal.NewProvider()
	cryptoB := cryptohal.NewProvider()

	driverA := handshake.NewDriver(1, linkA, cryptoA, tblA, nil)
	driverB := handshake.NewDriver(2, linkB, cryptoB, tblB, nil)

	platA := platform.New(1, map[uint8]uint8{2: testLinkID}, cfgs)
	platB := platform.New(2, map[uint8]uint8{1: testLinkID}, cfgs)

	a := &testNode{id: 1, link: linkA, driver: driverA, engine: New(platA, linkA, cryptoA, tblA, driverA, nil)}
	b := &testNode{id: 2, link: linkB, driver: driverB, engine: New(platB, linkB, cryptoB, tblB, driverB, nil)}
	return a, b
}

// drainMsg polls b for a.id's message, driving b's handshake responder
// via ReceiveMsg itself (no session key is required on openSubnetID), and
// fails the test if nothing arrives before the deadline.
func drainMsg(t *testing.T, b *testNode, sender uint8, applicationID uint16) ([]byte, MsgMetadata) {
	t.Helper()
	ctx := context.Background()
	deadline := time.After(2 * time.Second)
	for {
		payload, meta, err := b.engine.ReceiveMsg(ctx, false, sender, applicationID)
		if err == nil {
			return payload, meta
		}
		if err != ErrNoMsgAvailable {
			t.Fatalf("ReceiveMsg() error = %v", err)
		}
		select {
		case <-deadline:
			t.Fatal("drainMsg: timed out waiting for message")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestRequestReplyOnTrustedSubnet(t *testing.T) {
	a, b := newTestNodes(t)
	ctx := context.Background()

	payload, meta, err := a.engine.InitMsg(b.id, pingApplicationID, 7, true, true, openSubnetID, 4)
	if err != nil {
		t.Fatalf("InitMsg() error = %v", err)
	}
	copy(payload, "ping")

	if err := a.engine.SendMsg(ctx, meta, payload); err != nil {
		t.Fatalf("SendMsg() error = %v", err)
	}

	got, msgMeta := drainMsg(t, b, a.id, pingApplicationID)
	if string(got) != "ping" {
		t.Errorf("ReceiveMsg() payload = %q, want %q", got, "ping")
	}
	if msgMeta.ApplicationID != pingApplicationID || msgMeta.ClientID != 7 {
		t.Errorf("ReceiveMsg() meta = %+v, want application id %d / client id 7", msgMeta, pingApplicationID)
	}

	replyPayload, replyMeta, err := b.engine.InitReply(msgMeta, 4)
	if err != nil {
		t.Fatalf("InitReply() error = %v", err)
	}
	copy(replyPayload, "pong")
	if err := b.engine.SendReply(ctx, replyMeta, replyPayload); err != nil {
		t.Fatalf("SendReply() error = %v", err)
	}

	var reply []byte
	deadline := time.After(2 * time.Second)
	for reply == nil {
		reply, err = a.engine.ReceiveReply(ctx, meta)
		if err != nil {
			if err == ErrNoMsgAvailable {
				select {
				case <-deadline:
					t.Fatal("timed out waiting for reply")
				case <-time.After(time.Millisecond):
				}
				continue
			}
			t.Fatalf("ReceiveReply() error = %v", err)
		}
	}
	if string(reply) != "pong" {
		t.Errorf("ReceiveReply() = %q, want %q", reply, "pong")
	}
}

func TestSendMsgDrivesHandshakeOnSealedSubnet(t *testing.T) {
	a, b := newTestNodes(t)
	ctx := context.Background()

	payload, meta, err := a.engine.InitMsg(b.id, pingApplicationID, 0, true, true, sealedSubnetID, 4)
	if err != nil {
		t.Fatalf("InitMsg() error = %v", err)
	}
	if !meta.UsesCryptography {
		t.Fatal("InitMsg() on an untrusted-links subnet should flag cryptography")
	}
	copy(payload, "ping")

	sendErr := make(chan error, 1)
	go func() { sendErr <- a.engine.SendMsg(ctx, meta, payload) }()

	deadline := time.After(3 * time.Second)
	for {
		if _, err := b.driver.Progress(ctx, sealedSubnetID); err != nil {
			t.Fatalf("b.driver.Progress() error = %v", err)
		}
		select {
		case err := <-sendErr:
			if err != nil {
				t.Fatalf("SendMsg() error = %v", err)
			}
			got, _ := drainMsg(t, b, a.id, pingApplicationID)
			if string(got) != "ping" {
				t.Errorf("ReceiveMsg() payload = %q, want %q", got, "ping")
			}
			return
		case <-deadline:
			t.Fatal("timed out waiting for handshake-gated send")
		case <-time.After(time.Millisecond):
		}
	}
}

// rawMsgNeedsReplyFrame hand-encodes a MSG_NEEDS_REPLY frame addressed to
// an arbitrary receiver, bypassing InitMsg/SendMsg so the ReceiverID can
// point at a node the local engine has no route to.
func rawMsgNeedsReplyFrame(t *testing.T, sender, receiver, messageID uint8, applicationID, clientID uint16, payload []byte) []byte {
	t.Helper()
	hdr := wire.Header{
		PacketType:      wire.MsgNeedsReply,
		UsesIDExtension: true,
		ProtocolVersion: wire.ProtocolVersion,
		SenderID:        sender,
		ReceiverID:      receiver,
		MessageID:       messageID,
	}
	buf := make([]byte, wire.PacketSizeWithoutPayload(false, true)+len(payload))
	offset := hdr.EncodeTo(buf)
	wire.WriteIDExtension(buf[offset:], clientID, applicationID)
	offset += wire.IDExtensionSize
	copy(buf[offset:], payload)
	return buf
}

// TestReceiveMsgRejectsForwardingWithProtocolError covers Scenario C: a
// MSG_NEEDS_REPLY addressed to a node other than the receiving engine
// cannot be forwarded (this engine has no multi-hop relay), so it must
// be answered with a FORWARDING_UNSUPPORTED protocol error rather than
// silently dropped.
func TestReceiveMsgRejectsForwardingWithProtocolError(t *testing.T) {
	a, b := newTestNodes(t)
	ctx := context.Background()

	const elsewhere = 99
	frame := rawMsgNeedsReplyFrame(t, a.id, elsewhere, 3, pingApplicationID, 7, []byte("ping"))
	if err := a.link.SendMessage(ctx, testLinkID, frame); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		_, _, err := b.engine.ReceiveMsg(ctx, false, a.id, pingApplicationID)
		if err == nil {
			t.Fatal("ReceiveMsg() on an unforwardable packet succeeded, want ErrNoMsgAvailable")
		}
		if err != ErrNoMsgAvailable {
			t.Fatalf("ReceiveMsg() error = %v, want ErrNoMsgAvailable", err)
		}

		if a.link.IsMessageAvailable(testLinkID) {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for FORWARDING_UNSUPPORTED reply")
		case <-time.After(time.Millisecond):
		}
	}

	size, err := a.link.ReceiveMessageSize(testLinkID)
	if err != nil {
		t.Fatalf("ReceiveMessageSize() error = %v", err)
	}
	buf := make([]byte, size)
	n, err := a.link.ReceiveMessage(ctx, testLinkID, buf)
	if err != nil {
		t.Fatalf("ReceiveMessage() error = %v", err)
	}
	pkt, err := wire.Parse(buf[:n])
	if err != nil {
		t.Fatalf("wire.Parse() error = %v", err)
	}
	if pkt.PacketType != wire.ProtocolErrorReply {
		t.Errorf("reply packet type = %v, want ProtocolErrorReply", pkt.PacketType)
	}
	if pkt.ProtocolError != wire.ErrForwardingUnsupported {
		t.Errorf("reply protocol error = %v, want ErrForwardingUnsupported", pkt.ProtocolError)
	}
}

func TestReceiveMsgApplicationIDMismatchIsNotAnError(t *testing.T) {
	a, b := newTestNodes(t)
	ctx := context.Background()

	payload, meta, err := a.engine.InitMsg(b.id, pingApplicationID, 0, true, true, openSubnetID, 4)
	if err != nil {
		t.Fatalf("InitMsg() error = %v", err)
	}
	copy(payload, "ping")
	if err := a.engine.SendMsg(ctx, meta, payload); err != nil {
		t.Fatalf("SendMsg() error = %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		_, _, err := b.engine.ReceiveMsg(ctx, false, a.id, otherApplicationID)
		if err == nil {
			t.Fatal("ReceiveMsg() with mismatched application id succeeded, want ErrNoMsgAvailable")
		}
		if err != ErrNoMsgAvailable {
			t.Fatalf("ReceiveMsg() error = %v, want ErrNoMsgAvailable", err)
		}

		reply, err := a.engine.ReceiveReply(ctx, meta)
		if err == ErrSendMsgAgain {
			if reply != nil {
				t.Error("ReceiveReply() returned a payload alongside ErrSendMsgAgain")
			}
			return
		}
		if err != nil && err != ErrNoMsgAvailable {
			t.Fatalf("ReceiveReply() error = %v", err)
		}

		select {
		case <-deadline:
			t.Fatal("timed out waiting for TRY_AGAIN_LATER")
		case <-time.After(time.Millisecond):
		}
	}
}
