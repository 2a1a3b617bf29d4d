package subnet

import (
	"testing"

	"github.com/arm-trusted-firmware/sfcp-go/pkg/wire"
)

func newTestTable(t *testing.T) *Table {
	t.Helper()
	tbl, err := NewTable(1, []Config{
		{ID: 0, Type: TrustedLinks, Mode: wire.AES256CCM, NodeIDs: []uint8{1, 2}},
		{ID: 1, Type: InitiallyUntrustedLinks, Mode: wire.AES256CCM, NodeIDs: []uint8{1, 3}},
		{ID: 2, Type: UntrustedLinks, Mode: wire.AES256CCM, NodeIDs: []uint8{1, 4, 2}},
	})
	if err != nil {
		t.Fatalf("NewTable() error = %v", err)
	}
	return tbl
}

func TestNewTableInitialStates(t *testing.T) {
	tbl := newTestTable(t)

	tests := []struct {
		subnetID uint8
		want     State
	}{
		{0, SessionKeySetupNotRequired},
		{1, MutualAuthRequired},
		{2, SessionKeySetupRequired},
	}

	for _, tc := range tests {
		got, err := tbl.State(tc.subnetID)
		if err != nil {
			t.Fatalf("State(%d) error = %v", tc.subnetID, err)
		}
		if got != tc.want {
			t.Errorf("State(%d) = %v, want %v", tc.subnetID, got, tc.want)
		}
	}
}

func TestNewTableRejectsEmptySubnet(t *testing.T) {
	_, err := NewTable(1, []Config{{ID: 0, Type: TrustedLinks}})
	if err != ErrEmptySubnet {
		t.Errorf("NewTable() error = %v, want ErrEmptySubnet", err)
	}
}

func TestNewTableRejectsDuplicateNode(t *testing.T) {
	_, err := NewTable(1, []Config{{ID: 0, Type: TrustedLinks, NodeIDs: []uint8{1, 1}}})
	if err != ErrDuplicateNodeID {
		t.Errorf("NewTable() error = %v, want ErrDuplicateNodeID", err)
	}
}

func TestServerIsLowestNodeID(t *testing.T) {
	tbl := newTestTable(t)

	server, err := tbl.Server(2)
	if err != nil {
		t.Fatalf("Server() error = %v", err)
	}
	if server != 1 {
		t.Errorf("Server(2) = %d, want 1", server)
	}
}

func TestSubnetForNode(t *testing.T) {
	tbl := newTestTable(t)

	cfg, err := tbl.SubnetForNode(3)
	if err != nil {
		t.Fatalf("SubnetForNode() error = %v", err)
	}
	if cfg.ID != 1 {
		t.Errorf("SubnetForNode(3).ID = %d, want 1", cfg.ID)
	}

	_, err = tbl.SubnetForNode(99)
	if err != ErrInvalidNode {
		t.Errorf("SubnetForNode(99) error = %v, want ErrInvalidNode", err)
	}
}

func TestSubnetForNodeAmbiguous(t *testing.T) {
	tbl := newTestTable(t)

	// Node 1 and 2 both belong to subnets 0 and 2.
	_, err := tbl.SubnetForNode(2)
	if err != ErrMustBeManuallySelected {
		t.Errorf("SubnetForNode(2) error = %v, want ErrMustBeManuallySelected", err)
	}
}

func TestNextSendSeqMonotonic(t *testing.T) {
	tbl := newTestTable(t)

	for want := uint16(0); want < 5; want++ {
		got, err := tbl.NextSendSeq(0, 2)
		if err != nil {
			t.Fatalf("NextSendSeq() error = %v", err)
		}
		if got != want {
			t.Errorf("NextSendSeq() = %d, want %d", got, want)
		}
	}
}

func TestNextSendSeqTriggersReKeying(t *testing.T) {
	tbl := newTestTable(t)
	if err := tbl.SetState(0, SessionKeySetupValid); err != nil {
		t.Fatalf("SetState() error = %v", err)
	}

	s, ok := tbl.subnets[0]
	if !ok {
		t.Fatal("subnet 0 missing")
	}
	s.nodes[2].sendSeq = ReKeySeqNum - 1

	if _, err := tbl.NextSendSeq(0, 2); err != nil {
		t.Fatalf("NextSendSeq() error = %v", err)
	}

	state, err := tbl.State(0)
	if err != nil {
		t.Fatalf("State() error = %v", err)
	}
	if state != ReKeyingRequired {
		t.Errorf("State() = %v, want ReKeyingRequired", state)
	}
}

func TestCheckRecvSeqInOrder(t *testing.T) {
	tbl := newTestTable(t)

	for seq := uint16(0); seq < 5; seq++ {
		if err := tbl.CheckRecvSeq(0, 2, seq); err != nil {
			t.Fatalf("CheckRecvSeq(%d) error = %v", seq, err)
		}
	}
}

func TestCheckRecvSeqRejectsReplay(t *testing.T) {
	tbl := newTestTable(t)

	if err := tbl.CheckRecvSeq(0, 2, 0); err != nil {
		t.Fatalf("CheckRecvSeq(0) error = %v", err)
	}
	if err := tbl.CheckRecvSeq(0, 2, 0); err != ErrReplay {
		t.Errorf("CheckRecvSeq(0) second time error = %v, want ErrReplay", err)
	}
}

func TestCheckRecvSeqRejectsOutOfWindow(t *testing.T) {
	tbl := newTestTable(t)

	if err := tbl.CheckRecvSeq(0, 2, InflightBitfieldSize+1); err != ErrOutOfOrder {
		t.Errorf("CheckRecvSeq() error = %v, want ErrOutOfOrder", err)
	}
}

func TestCheckRecvSeqOutOfOrderThenFillGap(t *testing.T) {
	tbl := newTestTable(t)

	// Accept seq 3 before seq 0-2 arrive; window should hold it without
	// advancing recv_seq_num until the gap is filled.
	if err := tbl.CheckRecvSeq(0, 2, 3); err != nil {
		t.Fatalf("CheckRecvSeq(3) error = %v", err)
	}

	for _, seq := range []uint16{0, 1, 2} {
		if err := tbl.CheckRecvSeq(0, 2, seq); err != nil {
			t.Fatalf("CheckRecvSeq(%d) error = %v", seq, err)
		}
	}

	// Window should now be contiguous through seq 3; seq 3 replays as rejected.
	if err := tbl.CheckRecvSeq(0, 2, 3); err != ErrReplay {
		t.Errorf("CheckRecvSeq(3) replay error = %v, want ErrReplay", err)
	}
}

func TestSetKeyIDResetsCounters(t *testing.T) {
	tbl := newTestTable(t)

	if _, err := tbl.NextSendSeq(0, 2); err != nil {
		t.Fatalf("NextSendSeq() error = %v", err)
	}
	if err := tbl.CheckRecvSeq(0, 2, 0); err != nil {
		t.Fatalf("CheckRecvSeq() error = %v", err)
	}

	if err := tbl.SetKeyID(0, 42); err != nil {
		t.Fatalf("SetKeyID() error = %v", err)
	}

	seq, err := tbl.NextSendSeq(0, 2)
	if err != nil {
		t.Fatalf("NextSendSeq() error = %v", err)
	}
	if seq != 0 {
		t.Errorf("NextSendSeq() after rekey = %d, want 0", seq)
	}

	keyID, err := tbl.KeyID(0)
	if err != nil {
		t.Fatalf("KeyID() error = %v", err)
	}
	if keyID != 42 {
		t.Errorf("KeyID() = %d, want 42", keyID)
	}
}

func TestLookupUnknownSubnet(t *testing.T) {
	tbl := newTestTable(t)

	if _, err := tbl.State(99); err != ErrInvalidSubnetID {
		t.Errorf("State(99) error = %v, want ErrInvalidSubnetID", err)
	}
}
