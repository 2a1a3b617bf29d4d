// sfcp-node is a two-node demonstration of the session engine: it wires
// up a pair of in-process nodes over a mailbox.Pipe and drives one plain
// request/reply exchange on an already-trusted subnet, followed by an
// exchange on a subnet that must first complete session key setup —
// exercising the handshake driver's blocking path from SendMsg.
//
// Usage:
//
//	sfcp-node
package main

import (
	"context"
	"log"
	"net"
	"time"

	"github.com/arm-trusted-firmware/sfcp-go/pkg/cryptohal"
	"github.com/arm-trusted-firmware/sfcp-go/pkg/engine"
	"github.com/arm-trusted-firmware/sfcp-go/pkg/handshake"
	"github.com/arm-trusted-firmware/sfcp-go/pkg/mailbox"
	"github.com/arm-trusted-firmware/sfcp-go/pkg/platform"
	"github.com/arm-trusted-firmware/sfcp-go/pkg/subnet"
	"github.com/arm-trusted-firmware/sfcp-go/pkg/wire"
)

const (
	nodeA = 1
	nodeB = 2
	linkID = 0

	openSubnetID   = 10 // TrustedLinks: no handshake needed before send
	sealedSubnetID = 20 // UntrustedLinks: session key setup required

	pingApplicationID = 42
)

var pingPayload = []byte("ping")
var pongPayload = []byte("pong")

// node bundles one demo participant's transport, subnet state,
// handshake driver, and session engine.
type node struct {
	id     uint8
	link   *mailbox.Doorbell
	driver *handshake.Driver
	engine *engine.Engine
}

func buildNode(id, peer uint8, conn net.Conn, cfgs []subnet.Config) *node {
	link := mailbox.NewDoorbell(id, nil)
	link.AddLink(linkID, peer, conn)

	table, err := subnet.NewTable(id, cfgs)
	if err != nil {
		log.Fatalf("node %d: subnet.NewTable: %v", id, err)
	}

	crypto := cryptohal.NewProvider()
	driver := handshake.NewDriver(id, link, crypto, table, nil)
	plat := platform.New(id, map[uint8]uint8{peer: linkID}, cfgs)
	eng := engine.New(plat, link, crypto, table, driver, nil)

	return &node{id: id, link: link, driver: driver, engine: eng}
}

func main() {
	ctx := context.Background()

	pipe := mailbox.NewPipe()
	stop := make(chan struct{})
	defer close(stop)
	pipe.RunBackground(time.Millisecond, stop)

	cfgs := []subnet.Config{
		{ID: openSubnetID, Type: subnet.TrustedLinks, Mode: wire.AES256CCM, NodeIDs: []uint8{nodeA, nodeB}},
		{ID: sealedSubnetID, Type: subnet.UntrustedLinks, Mode: wire.AES256CCM, NodeIDs: []uint8{nodeA, nodeB}},
	}

	a := buildNode(nodeA, nodeB, pipe.Conn0(), cfgs)
	b := buildNode(nodeB, nodeA, pipe.Conn1(), cfgs)

	if err := a.link.Init(ctx); err != nil {
		log.Fatalf("node %d: link init: %v", a.id, err)
	}
	if err := b.link.Init(ctx); err != nil {
		log.Fatalf("node %d: link init: %v", b.id, err)
	}

	runRequestReply(ctx, a, b, openSubnetID, nil)
	runRequestReply(ctx, a, b, sealedSubnetID, b.driver)
}

// runRequestReply sends pingPayload from a to b on subnetID, waits for
// b to receive and answer it, and confirms a receives the reply. If
// progressDriver is non-nil, b's handshake driver is polled alongside
// waiting for the message, so a session key can be derived first.
func runRequestReply(ctx context.Context, a, b *node, subnetID uint8, progressDriver *handshake.Driver) {
	payload, meta, err := a.engine.InitMsg(b.id, pingApplicationID, 0, true, true, subnetID, len(pingPayload))
	if err != nil {
		log.Fatalf("subnet %d: InitMsg: %v", subnetID, err)
	}
	copy(payload, pingPayload)

	sendErr := make(chan error, 1)
	go func() { sendErr <- a.engine.SendMsg(ctx, meta, payload) }()

	var msgPayload []byte
	var msgMeta engine.MsgMetadata
	deadline := time.After(5 * time.Second)
	for msgPayload == nil {
		if progressDriver != nil {
			if _, err := progressDriver.Progress(ctx, subnetID); err != nil {
				log.Fatalf("subnet %d: node %d progress: %v", subnetID, b.id, err)
			}
		}

		select {
		case err := <-sendErr:
			if err != nil {
				log.Fatalf("subnet %d: SendMsg: %v", subnetID, err)
			}
			sendErr = nil
		case <-deadline:
			log.Fatalf("subnet %d: timed out waiting for message", subnetID)
		default:
		}

		msgPayload, msgMeta, err = b.engine.ReceiveMsg(ctx, false, a.id, pingApplicationID)
		if err != nil && err != engine.ErrNoMsgAvailable {
			log.Fatalf("subnet %d: ReceiveMsg: %v", subnetID, err)
		}

		time.Sleep(time.Millisecond)
	}
	log.Printf("subnet %d: node %d received %q from node %d", subnetID, b.id, msgPayload, a.id)

	replyPayload, replyMeta, err := b.engine.InitReply(msgMeta, len(pongPayload))
	if err != nil {
		log.Fatalf("subnet %d: InitReply: %v", subnetID, err)
	}
	copy(replyPayload, pongPayload)
	if err := b.engine.SendReply(ctx, replyMeta, replyPayload); err != nil {
		log.Fatalf("subnet %d: SendReply: %v", subnetID, err)
	}

	var reply []byte
	deadline = time.After(5 * time.Second)
	for reply == nil {
		reply, err = a.engine.ReceiveReply(ctx, meta)
		if err != nil {
			if err == engine.ErrNoMsgAvailable {
				select {
				case <-deadline:
					log.Fatalf("subnet %d: timed out waiting for reply", subnetID)
				case <-time.After(time.Millisecond):
				}
				continue
			}
			log.Fatalf("subnet %d: ReceiveReply: %v", subnetID, err)
		}
	}
	log.Printf("subnet %d: node %d received %q from node %d", subnetID, a.id, reply, b.id)
}
