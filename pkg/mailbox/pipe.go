package mailbox

import (
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/pion/transport/v3/test"
)

// NetworkCondition configures network behavior simulation on a Pipe, for
// exercising the handshake and engine retry paths under loss and jitter.
type NetworkCondition struct {
	// DropRate is the probability of silently dropping a write (0.0-1.0).
	DropRate float64

	// DelayMin/DelayMax bound a uniformly distributed write delay.
	DelayMin time.Duration
	DelayMax time.Duration
}

// Pipe is a deterministic, in-memory bidirectional connection pair built
// on pion/transport/v3's test.Bridge. It stands in for a physical
// doorbell/MHU bus in tests: two Doorbells, one per Conn, can exchange
// framed messages through it without touching real hardware or a socket.
type Pipe struct {
	bridge *test.Bridge

	mu        sync.RWMutex
	condition NetworkCondition
	rng       *rand.Rand
}

// NewPipe creates a new Pipe with no network condition simulation.
func NewPipe() *Pipe {
	return &Pipe{
		bridge: test.NewBridge(),
		rng:    rand.New(rand.NewSource(1)),
	}
}

// SetCondition configures network condition simulation, applied to
// writes from both endpoints.
func (p *Pipe) SetCondition(cond NetworkCondition) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.condition = cond
}

func (p *Pipe) condAndRNG() (NetworkCondition, *rand.Rand) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.condition, p.rng
}

// Conn0 returns the connection for endpoint 0.
func (p *Pipe) Conn0() net.Conn {
	return &conditionedConn{Conn: p.bridge.GetConn0(), pipe: p}
}

// Conn1 returns the connection for endpoint 1.
func (p *Pipe) Conn1() net.Conn {
	return &conditionedConn{Conn: p.bridge.GetConn1(), pipe: p}
}

// Tick delivers one queued packet in each direction, if available.
func (p *Pipe) Tick() int {
	return p.bridge.Tick()
}

// Process delivers all queued packets and returns the number delivered.
// Doorbell's reader goroutines normally drain a Pipe continuously via
// Process run in the background (see RunBackground); call this directly
// only for single-stepped tests.
func (p *Pipe) Process() int {
	count := 0
	for {
		n := p.Tick()
		if n == 0 {
			return count
		}
		count += n
	}
}

// RunBackground starts a goroutine that calls Process on an interval
// until stop is closed.
func (p *Pipe) RunBackground(interval time.Duration, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				p.Process()
			}
		}
	}()
}

// Close closes both endpoints of the pipe.
func (p *Pipe) Close() error {
	err0 := p.bridge.GetConn0().Close()
	err1 := p.bridge.GetConn1().Close()
	if err0 != nil {
		return err0
	}
	return err1
}

// conditionedConn applies a Pipe's NetworkCondition to Write calls.
type conditionedConn struct {
	net.Conn
	pipe *Pipe
}

func (c *conditionedConn) Write(b []byte) (int, error) {
	cond, rng := c.pipe.condAndRNG()

	if cond.DropRate > 0 {
		c.pipe.mu.Lock()
		drop := rng.Float64() < cond.DropRate
		c.pipe.mu.Unlock()
		if drop {
			return len(b), nil
		}
	}

	if cond.DelayMax > 0 {
		c.pipe.mu.Lock()
		delay := cond.DelayMin
		if cond.DelayMax > cond.DelayMin {
			delay += time.Duration(rng.Int63n(int64(cond.DelayMax - cond.DelayMin)))
		}
		c.pipe.mu.Unlock()
		if delay > 0 {
			time.Sleep(delay)
		}
	}

	return c.Conn.Write(b)
}
