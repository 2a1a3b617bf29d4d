package mailbox

import (
	"context"
	"encoding/binary"
	"net"
	"sync"
	"time"
	"unsafe"

	"github.com/pion/logging"
)

// pollInterval paces the busy-wait loops used for notify/clear handshaking
// and incoming-notify polling. Real hardware spins on a register; this
// spins on Transport calls instead.
const pollInterval = 100 * time.Microsecond

// Doorbell is a software hal.Link implementing the real doorbell/MHU
// channel-word protocol: each remote node is reached over one link backed
// by a Transport (a net.Conn-mirrored register file in this package, a
// real register map on hardware). Channel 0 carries a round's message
// length or payload word, the last channel carries notify/clear
// handshaking, and sends fragment across as many notify rounds as the
// payload needs, mirroring mhu_send_data/mhu_receive_data.
type Doorbell struct {
	myNodeID uint8
	logger   logging.LeveledLogger

	mu     sync.RWMutex
	routes map[uint8]uint8 // remote node id -> link id
	links  map[uint8]*linkEndpoint
}

// NewDoorbell constructs a Doorbell for the local node identified by
// myNodeID. loggerFactory may be nil, in which case log output is
// discarded.
func NewDoorbell(myNodeID uint8, loggerFactory logging.LoggerFactory) *Doorbell {
	d := &Doorbell{
		myNodeID: myNodeID,
		routes:   make(map[uint8]uint8),
		links:    make(map[uint8]*linkEndpoint),
	}
	if loggerFactory != nil {
		d.logger = loggerFactory.NewLogger("mailbox")
	}
	return d
}

// AddLink wires linkID to remoteNodeID over conn. Must be called before
// Init.
func (d *Doorbell) AddLink(linkID, remoteNodeID uint8, conn net.Conn) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.routes[remoteNodeID] = linkID
	d.links[linkID] = newLinkEndpoint(conn, remoteNodeID)
}

// GetRoute implements hal.Link.
func (d *Doorbell) GetRoute(nodeID uint8) (uint8, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	linkID, ok := d.routes[nodeID]
	return linkID, ok
}

// MyNodeID implements hal.Link.
func (d *Doorbell) MyNodeID() uint8 {
	return d.myNodeID
}

func (d *Doorbell) endpoint(linkID uint8) (*linkEndpoint, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.links[linkID]
	return e, ok
}

// Init starts the per-link wire reader and receive pump. Implements
// hal.Link.
func (d *Doorbell) Init(ctx context.Context) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for linkID, e := range d.links {
		if d.logger != nil {
			d.logger.Debugf("starting receive pump for link %d", linkID)
		}
		go e.wt.readLoop()
		go e.recvPump(d.logger)
	}
	return nil
}

// SendMessage implements hal.Link, fragmenting data across notify rounds.
// A concurrent send already in flight on the same link is reported as
// ErrSendBusBusy, mirroring a doorbell whose data channels are still
// occupied by a previous transfer; a notify observed on this node's own
// receive side while waiting for a send to clear is reported the same
// way, mirroring the collision that occurs when both ends of a link try
// to use the shared doorbell at once.
func (d *Doorbell) SendMessage(ctx context.Context, linkID uint8, data []byte) error {
	e, ok := d.endpoint(linkID)
	if !ok {
		return ErrNoRoute
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := validateAlignment(data); err != nil {
		return err
	}

	if !e.sendMu.TryLock() {
		return ErrSendBusBusy
	}
	defer e.sendMu.Unlock()

	return e.sendWords(ctx, data)
}

// IsMessageAvailable implements hal.Link.
func (d *Doorbell) IsMessageAvailable(linkID uint8) bool {
	e, ok := d.endpoint(linkID)
	if !ok {
		return false
	}
	_, _, available := e.peek()
	return available
}

// ReceiveMessageSize implements hal.Link.
func (d *Doorbell) ReceiveMessageSize(linkID uint8) (int, error) {
	e, ok := d.endpoint(linkID)
	if !ok {
		return 0, ErrNoRoute
	}
	frame, _, available := e.peek()
	if !available {
		return 0, ErrNoMessageAvailable
	}
	return len(frame), nil
}

// ReceiveMessage implements hal.Link, blocking until a frame is queued or
// ctx is done.
func (d *Doorbell) ReceiveMessage(ctx context.Context, linkID uint8, buf []byte) (int, error) {
	e, ok := d.endpoint(linkID)
	if !ok {
		return 0, ErrNoRoute
	}
	if len(buf) > 0 {
		if err := validateAlignment(buf); err != nil {
			return 0, err
		}
	}

	for {
		frame, wake, available := e.peek()
		if available {
			if len(buf) < len(frame) {
				return 0, ErrMessageTooLarge
			}
			e.pop()
			return copy(buf, frame), nil
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-wake:
		}
	}
}

// validateAlignment enforces the 4-byte buffer-address alignment real MHU
// drivers require (validate_buffer_params), since the channel words it
// backs are transferred 4 bytes at a time.
func validateAlignment(buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	if uintptr(unsafe.Pointer(&buf[0]))%4 != 0 {
		return ErrBufferNotAligned
	}
	return nil
}

// linkEndpoint owns one link's Transport, receive queue, and send-in-flight
// lock.
type linkEndpoint struct {
	transport  Transport
	wt         *wordTransport
	remoteNode uint8

	sendMu sync.Mutex

	mu      sync.Mutex
	queue   [][]byte
	arrived chan struct{}
}

func newLinkEndpoint(conn net.Conn, remoteNode uint8) *linkEndpoint {
	wt := newWordTransport(conn)
	return &linkEndpoint{
		transport:  wt,
		wt:         wt,
		remoteNode: remoteNode,
		arrived:    make(chan struct{}),
	}
}

// packWords lays data out as doorbell words: the first word is always the
// payload length in bytes (channel 0's round-0 role in mhu_send_data),
// followed by the payload itself packed 4 bytes per word, little-endian,
// zero-padded in the final word if the length isn't a multiple of 4.
func packWords(data []byte) []uint32 {
	words := make([]uint32, 0, 1+(len(data)+3)/4)
	words = append(words, uint32(len(data)))
	for i := 0; i < len(data); i += 4 {
		chunk := data[i:]
		if len(chunk) > 4 {
			chunk = chunk[:4]
		}
		var w uint32
		for j, b := range chunk {
			w |= uint32(b) << uint(8*j)
		}
		words = append(words, w)
	}
	return words
}

// sendWords drains words across the data channels, raising the notify
// channel and waiting for it to clear whenever a round fills or the
// transfer ends, mirroring mhu_send_data's round-trip.
func (e *linkEndpoint) sendWords(ctx context.Context, data []byte) error {
	words := packWords(data)

	ch := 0
	for i, w := range words {
		if err := e.transport.WriteWord(ch, w); err != nil {
			return err
		}
		ch++
		last := i == len(words)-1
		if ch == dataChannels || last {
			if err := e.signalAndWaitForClear(ctx); err != nil {
				return err
			}
			ch = 0
		}
	}
	return nil
}

// signalAndWaitForClear raises the notify channel and busy-waits for the
// peer to clear it, the way signal_and_wait_for_clear does. A notify
// observed on our own receive side while waiting is a collision: the peer
// tried to use the doorbell toward us at the same moment we tried to use
// it toward them.
func (e *linkEndpoint) signalAndWaitForClear(ctx context.Context) error {
	if err := e.transport.Notify(notifyChannel); err != nil {
		return err
	}
	for {
		if e.transport.NotifyCleared(notifyChannel) {
			return nil
		}
		if v, err := e.transport.ReadWord(notifyChannel); err == nil && v == MHUNotifyValue {
			return ErrSendBusBusy
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.wt.done:
			return ErrLinkClosed
		case <-time.After(pollInterval):
		}
	}
}

// recvPump is the receive-side counterpart of sendWords: it waits for a
// fresh notify, reads the round-0 length word, drains the rest of the
// payload across as many rounds as needed, and queues the reassembled
// frame for ReceiveMessage. It runs for the link's lifetime.
func (e *linkEndpoint) recvPump(logger logging.LeveledLogger) {
	for {
		if !e.waitForNotify() {
			return
		}

		lengthWord, err := e.transport.ReadWord(0)
		if err != nil {
			return
		}
		size := int(lengthWord)
		numWords := 1 + (size+3)/4

		data, err := e.receiveWords(numWords)
		if err != nil {
			if logger != nil {
				logger.Warnf("mailbox: receive aborted: %v", err)
			}
			return
		}
		e.push(data[:size])
	}
}

// waitForNotify busy-waits until the notify channel shows MHUNotifyValue,
// mirroring mhu_wait_data, or the link closes.
func (e *linkEndpoint) waitForNotify() bool {
	for {
		select {
		case <-e.wt.done:
			return false
		default:
		}

		v, err := e.transport.ReadWord(notifyChannel)
		if err != nil {
			return false
		}
		if v == MHUNotifyValue {
			return true
		}

		select {
		case <-e.wt.done:
			return false
		case <-time.After(pollInterval):
		}
	}
}

// receiveWords reads numWords total words, the first of which (the round-0
// length word at channel 0) the caller has already consumed; it clears the
// notify channel after every full round, waiting for the next one when
// more words remain, mirroring mhu_receive_data/clear_and_wait_for_signal.
func (e *linkEndpoint) receiveWords(numWords int) ([]byte, error) {
	data := make([]byte, 0, (numWords-1)*4)

	ch := 1
	for i := 1; i < numWords; i++ {
		w, err := e.transport.ReadWord(ch)
		if err != nil {
			return nil, err
		}
		var wb [4]byte
		binary.LittleEndian.PutUint32(wb[:], w)
		data = append(data, wb[:]...)

		ch++
		last := i == numWords-1
		if ch == dataChannels || last {
			if err := e.transport.WriteWord(notifyChannel, 0); err != nil {
				return nil, err
			}
			if !last {
				if !e.waitForNotify() {
					return nil, ErrLinkClosed
				}
			}
			ch = 0
		}
	}
	if numWords == 1 {
		// Only the length word was sent; its round still needs clearing.
		if err := e.transport.WriteWord(notifyChannel, 0); err != nil {
			return nil, err
		}
	}
	return data, nil
}

func (e *linkEndpoint) push(frame []byte) {
	e.mu.Lock()
	e.queue = append(e.queue, frame)
	ch := e.arrived
	e.arrived = make(chan struct{})
	e.mu.Unlock()
	close(ch)
}

// peek returns the head-of-queue frame without removing it. When no frame
// is queued it also returns a channel that closes the next time one
// arrives, for callers that want to wait.
func (e *linkEndpoint) peek() (frame []byte, wake chan struct{}, available bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.queue) == 0 {
		return nil, e.arrived, false
	}
	return e.queue[0], nil, true
}

func (e *linkEndpoint) pop() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	f := e.queue[0]
	e.queue = e.queue[1:]
	return f
}
