package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/arm-trusted-firmware/sfcp-go/pkg/cryptohal"
	"github.com/arm-trusted-firmware/sfcp-go/pkg/handshake"
	"github.com/arm-trusted-firmware/sfcp-go/pkg/mailbox"
	"github.com/arm-trusted-firmware/sfcp-go/pkg/subnet"
	"github.com/arm-trusted-firmware/sfcp-go/pkg/wire"
)

const (
	testLinkID   = 0
	testSubnetID = 10
	testAppID    = 7
)

func newLinkedDoorbells(t *testing.T) (a, b *mailbox.Doorbell) {
	t.Helper()

	pipe := mailbox.NewPipe()
	stop := make(chan struct{})
	t.Cleanup(func() { close(stop) })
	pipe.RunBackground(time.Millisecond, stop)

	a = mailbox.NewDoorbell(1, nil)
	b = mailbox.NewDoorbell(2, nil)
	a.AddLink(testLinkID, 2, pipe.Conn0())
	b.AddLink(testLinkID, 1, pipe.Conn1())

	ctx := context.Background()
	if err := a.Init(ctx); err != nil {
		t.Fatalf("a.Init() error = %v", err)
	}
	if err := b.Init(ctx); err != nil {
		t.Fatalf("b.Init() error = %v", err)
	}
	return a, b
}

func newBDriver(t *testing.T, b *mailbox.Doorbell) *handshake.Driver {
	t.Helper()
	cfgs := []subnet.Config{
		{ID: testSubnetID, Type: subnet.TrustedLinks, Mode: wire.AES256CCM, NodeIDs: []uint8{1, 2}},
	}
	tbl, err := subnet.NewTable(2, cfgs)
	if err != nil {
		t.Fatalf("subnet.NewTable() error = %v", err)
	}
	return handshake.NewDriver(2, b, cryptohal.NewProvider(), tbl, nil)
}

func plainMsgFrame(t *testing.T, sender, receiver, messageID uint8, applicationID, clientID uint16, payload []byte) []byte {
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

func TestInterruptHandlerDispatchesToRegisteredHandler(t *testing.T) {
	a, b := newLinkedDoorbells(t)
	driver := newBDriver(t, b)
	pool := NewPool(DefaultCapacity, DefaultMaxMsgSize)
	msgHandlers := NewMsgHandlers(DefaultMsgHandlerCapacity)
	replyHandlers := NewReplyHandlers(DefaultReplyHandlerCapacity)

	var gotPayload []byte
	if err := msgHandlers.Register(testAppID, func(h Handle) error {
		buf, err := pool.Buffer(h)
		if err != nil {
			return err
		}
		pkt, err := wire.Parse(buf)
		if err != nil {
			return err
		}
		gotPayload = append([]byte(nil), pkt.Payload...)
		return pool.Release(h)
	}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	d := NewDispatcher(2, b, driver, pool, msgHandlers, replyHandlers, nil)

	ctx := context.Background()
	frame := plainMsgFrame(t, 1, 2, 5, testAppID, 3, []byte("ping"))
	if err := a.SendMessage(ctx, testLinkID, frame); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}

	waitForMessage(t, b, testLinkID)
	if err := d.InterruptHandler(ctx, testLinkID); err != nil {
		t.Fatalf("InterruptHandler() error = %v", err)
	}

	want := append([]byte(nil), "ping"...)
	if string(gotPayload) != string(want) {
		t.Errorf("handler saw payload %q, want %q", gotPayload, want)
	}
}

func TestInterruptHandlerReportsUnregisteredApplication(t *testing.T) {
	a, b := newLinkedDoorbells(t)
	driver := newBDriver(t, b)
	pool := NewPool(DefaultCapacity, DefaultMaxMsgSize)
	msgHandlers := NewMsgHandlers(DefaultMsgHandlerCapacity)
	replyHandlers := NewReplyHandlers(DefaultReplyHandlerCapacity)

	d := NewDispatcher(2, b, driver, pool, msgHandlers, replyHandlers, nil)

	ctx := context.Background()
	frame := plainMsgFrame(t, 1, 2, 1, 99, 3, []byte("ping"))
	if err := a.SendMessage(ctx, testLinkID, frame); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}

	waitForMessage(t, b, testLinkID)
	if err := d.InterruptHandler(ctx, testLinkID); err != ErrHandlerNotFound {
		t.Errorf("InterruptHandler() error = %v, want ErrHandlerNotFound", err)
	}

	waitForMessage(t, a, testLinkID)
	size, err := a.ReceiveMessageSize(testLinkID)
	if err != nil {
		t.Fatalf("ReceiveMessageSize() error = %v", err)
	}
	replyBuf := make([]byte, size)
	n, err := a.ReceiveMessage(ctx, testLinkID, replyBuf)
	if err != nil {
		t.Fatalf("ReceiveMessage() error = %v", err)
	}
	pkt, err := wire.Parse(replyBuf[:n])
	if err != nil {
		t.Fatalf("wire.Parse() error = %v", err)
	}
	if pkt.PacketType != wire.ProtocolErrorReply {
		t.Errorf("reply packet type = %v, want ProtocolErrorReply", pkt.PacketType)
	}
	if pkt.ProtocolError != wire.ErrInvalidApplicationID {
		t.Errorf("reply protocol error = %v, want ErrInvalidApplicationID", pkt.ProtocolError)
	}
}

func waitForMessage(t *testing.T, link *mailbox.Doorbell, linkID uint8) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !link.IsMessageAvailable(linkID) {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for message to arrive")
		case <-time.After(time.Millisecond):
		}
	}
}
