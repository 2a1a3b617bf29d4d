package handshake

import (
	"context"
	"testing"
	"time"

	"github.com/arm-trusted-firmware/sfcp-go/pkg/cryptohal"
	"github.com/arm-trusted-firmware/sfcp-go/pkg/encryption"
	"github.com/arm-trusted-firmware/sfcp-go/pkg/mailbox"
	"github.com/arm-trusted-firmware/sfcp-go/pkg/subnet"
	"github.com/arm-trusted-firmware/sfcp-go/pkg/wire"
)

const testSubnetID = 5

// node bundles one simulated node's transport, crypto, subnet table, and
// handshake driver, mirroring how a real node wires these together.
type node struct {
	id     uint8
	link   *mailbox.Doorbell
	crypto *cryptohal.Provider
	table  *subnet.Table
	driver *Driver
}

func newHandshakeNodes(t *testing.T, subnetType subnet.Type) (*node, *node, *mailbox.Pipe) {
	t.Helper()

	pipe := mailbox.NewPipe()
	stop := make(chan struct{})
	t.Cleanup(func() { close(stop) })
	pipe.RunBackground(time.Millisecond, stop)

	linkA := mailbox.NewDoorbell(1, nil)
	linkB := mailbox.NewDoorbell(2, nil)
	linkA.AddLink(0, 2, pipe.Conn0())
	linkB.AddLink(0, 1, pipe.Conn1())

	ctx := context.Background()
	if err := linkA.Init(ctx); err != nil {
		t.Fatalf("linkA.Init() error = %v", err)
	}
	if err := linkB.Init(ctx); err != nil {
		t.Fatalf("linkB.Init() error = %v", err)
	}

	cfg := subnet.Config{ID: testSubnetID, Type: subnetType, Mode: wire.AES256CCM, NodeIDs: []uint8{1, 2}}

	tblA, err := subnet.NewTable(1, []subnet.Config{cfg})
	if err != nil {
		t.Fatalf("NewTable(1) error = %v", err)
	}
	tblB, err := subnet.NewTable(2, []subnet.Config{cfg})
	if err != nil {
		t.Fatalf("NewTable(2) error = %v", err)
	}

	cryptoA := cryptohal.NewProvider()
	cryptoB := cryptohal.NewProvider()

	a := &node{id: 1, link: linkA, crypto: cryptoA, table: tblA, driver: NewDriver(1, linkA, cryptoA, tblA, nil)}
	b := &node{id: 2, link: linkB, crypto: cryptoB, table: tblB, driver: NewDriver(2, linkB, cryptoB, tblB, nil)}
	return a, b, pipe
}

// runUntilStates drives both drivers' Progress loop until each subnet
// table reports one of the wanted terminal states, or the deadline
// passes.
func runUntilStates(t *testing.T, a, b *node, wantA, wantB subnet.State) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for {
		stateA, err := a.table.State(testSubnetID)
		if err != nil {
			t.Fatalf("a.table.State() error = %v", err)
		}
		stateB, err := b.table.State(testSubnetID)
		if err != nil {
			t.Fatalf("b.table.State() error = %v", err)
		}
		if stateA == wantA && stateB == wantB {
			return
		}

		if _, err := a.driver.Progress(ctx, testSubnetID); err != nil {
			t.Fatalf("a.driver.Progress() error = %v", err)
		}
		if _, err := b.driver.Progress(ctx, testSubnetID); err != nil {
			t.Fatalf("b.driver.Progress() error = %v", err)
		}

		select {
		case <-ctx.Done():
			t.Fatalf("handshake did not complete in time: a=%s (want %s), b=%s (want %s)", stateA, wantA, stateB, wantB)
		case <-time.After(time.Millisecond):
		}
	}
}

// assertSessionKeysInterop confirms both sides derived the same session
// key by round-tripping an application-level ciphertext between them.
func assertSessionKeysInterop(t *testing.T, a, b *node) {
	t.Helper()

	hdr := wire.Header{
		PacketType:       wire.MsgNeedsReply,
		UsesCryptography: true,
		ProtocolVersion:  wire.ProtocolVersion,
		SenderID:         a.id,
		ReceiverID:       b.id,
		MessageID:        1,
	}

	plaintext := []byte("interop check")
	buf := make([]byte, wire.PacketSizeWithoutPayload(true, false)+len(plaintext))
	n, err := encryption.EncryptMsg(a.crypto, a.table, hdr, testSubnetID, b.id, false, 0, 0, plaintext, buf)
	if err != nil {
		t.Fatalf("EncryptMsg() error = %v", err)
	}

	pkt, err := wire.Parse(buf[:n])
	if err != nil {
		t.Fatalf("wire.Parse() error = %v", err)
	}

	got, err := encryption.DecryptMsg(b.crypto, b.table, pkt, a.id)
	if err != nil {
		t.Fatalf("DecryptMsg() error = %v", err)
	}
	if string(got) != string(plaintext) {
		t.Errorf("DecryptMsg() = %q, want %q", got, plaintext)
	}
}

func TestHandshakeSessionKeySetupUntrustedLinks(t *testing.T) {
	a, b, _ := newHandshakeNodes(t, subnet.UntrustedLinks)

	runUntilStates(t, a, b, subnet.SessionKeySetupValid, subnet.SessionKeySetupValid)
	assertSessionKeysInterop(t, a, b)
}

func TestHandshakeMutualAuthInitiallyUntrustedLinks(t *testing.T) {
	a, b, _ := newHandshakeNodes(t, subnet.InitiallyUntrustedLinks)

	runUntilStates(t, a, b, subnet.MutualAuthCompleted, subnet.MutualAuthCompleted)

	keyID, err := a.table.KeyID(testSubnetID)
	if err != nil {
		t.Fatalf("a.table.KeyID() error = %v", err)
	}
	if _, _, err := a.crypto.EncryptPacket(keyID, make([]byte, cryptohal.NonceSize), nil, []byte("x")); err == nil {
		t.Error("EncryptPacket() with the mutual-auth key after completion = nil error, want it invalidated")
	}
}

func TestHandshakeReKey(t *testing.T) {
	a, b, _ := newHandshakeNodes(t, subnet.UntrustedLinks)

	runUntilStates(t, a, b, subnet.SessionKeySetupValid, subnet.SessionKeySetupValid)
	assertSessionKeysInterop(t, a, b)

	// Drive each side's own send counter to the re-key threshold, the way
	// a long-running link actually reaches ReKeyingRequired. Ordinary
	// traffic would carry each advancing sequence number to the peer and
	// have it decrypted there, keeping the peer's receive window in
	// lockstep; forceReKeyThreshold plays that side out explicitly via
	// CheckRecvSeq so the packets the handshake exchanges next carry a
	// sequence number past ReKeySeqNum without tripping the peer's
	// anti-replay window.
	forceReKeyThreshold(t, a.table, b.table, 1, 2)
	forceReKeyThreshold(t, b.table, a.table, 2, 1)

	runUntilStates(t, a, b, subnet.SessionKeySetupValid, subnet.SessionKeySetupValid)
	assertSessionKeysInterop(t, a, b)
}

// forceReKeyThreshold drives senderTable's send counter toward remoteNode up
// to the re-key threshold, mirroring each sequence number into
// receiverTable's matching receive window via CheckRecvSeq so the two
// tables' counters stay in sync the way real decrypted traffic would keep
// them.
func forceReKeyThreshold(t *testing.T, senderTable, receiverTable *subnet.Table, senderNode, receiverNode uint8) {
	t.Helper()
	for {
		state, err := senderTable.State(testSubnetID)
		if err != nil {
			t.Fatalf("senderTable.State() error = %v", err)
		}
		if state == subnet.ReKeyingRequired {
			return
		}
		seq, err := senderTable.NextSendSeq(testSubnetID, receiverNode)
		if err != nil {
			t.Fatalf("senderTable.NextSendSeq() error = %v", err)
		}
		if err := receiverTable.CheckRecvSeq(testSubnetID, senderNode, seq); err != nil {
			t.Fatalf("receiverTable.CheckRecvSeq() error = %v", err)
		}
	}
}
