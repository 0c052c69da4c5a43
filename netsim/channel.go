// Package netsim provides the datagram channel the transport runs over: a
// thin wrapper around a real net.PacketConn (or, for tests, any
// PacketConn-shaped substitute) that can simulate loss, bit corruption, and
// delay on send. It never touches receive.
package netsim

import (
	"math/rand"
	"net"
	"sync/atomic"
	"time"
)

// PacketConn is the subset of net.PacketConn the channel needs. It lets
// tests inject an in-memory substitute instead of a real UDP socket,
// mirroring the teacher's injectable link.channel.Endpoint.
type PacketConn interface {
	WriteTo(b []byte, addr net.Addr) (int, error)
	ReadFrom(b []byte) (int, net.Addr, error)
	SetReadDeadline(t time.Time) error
	Close() error
}

// ReceiveBufferSize is the minimum datagram buffer size required by §6: at
// least 2048 bytes (the 18-byte header plus up to 1024 bytes of payload
// leaves ample headroom).
const ReceiveBufferSize = 2048

// DelayRange is a half-open [Min, Max) uniform delay range, in the same
// units time.Duration already gives us. Max == 0 disables the delay.
type DelayRange struct {
	Min time.Duration
	Max time.Duration
}

// Channel is a simulated lossy/corrupting/delaying datagram link to a fixed
// peer. The peer address may be set at construction (sender side) or
// learned later from the first received datagram (receiver side, via
// SetPeer).
type Channel struct {
	conn PacketConn
	peer net.Addr

	lossRate        float64
	corruptionRate  float64
	delay           DelayRange
	handshakeGuard  bool
	rng             *rand.Rand

	// closed guards Close against a concurrent signal-handler goroutine
	// force-closing the channel while the connection's own goroutine is
	// still using it; only a single CAS is ever needed; unlike a full
	// mutex nothing here ever waits to acquire it.
	closed int32
}

// New creates a channel bound to conn, targeting peer (which may be nil if
// not yet known). The handshake guard starts enabled: handshake segments are
// never dropped or corrupted by simulation until DisableHandshakeGuard is
// called.
func New(conn PacketConn, peer net.Addr, lossRate, corruptionRate float64, delay DelayRange) *Channel {
	return &Channel{
		conn:           conn,
		peer:           peer,
		lossRate:       lossRate,
		corruptionRate: corruptionRate,
		delay:          delay,
		handshakeGuard: true,
		rng:            rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetPeer fixes the destination address for subsequent sends. Used by the
// receiver once it learns the sender's address from the incoming SYN.
func (c *Channel) SetPeer(peer net.Addr) {
	c.peer = peer
}

// Peer returns the current destination address, or nil if none is set yet.
func (c *Channel) Peer() net.Addr {
	return c.peer
}

// DisableHandshakeGuard turns off the handshake guard, re-enabling loss and
// corruption simulation for all subsequent sends. Called once a connection
// reaches ESTABLISHED.
func (c *Channel) DisableHandshakeGuard() {
	c.handshakeGuard = false
}

// EnableHandshakeGuard turns the guard back on, used by the sender when
// entering teardown so FIN exchanges are not subject to simulated loss.
func (c *Channel) EnableHandshakeGuard() {
	c.handshakeGuard = true
}

// Send transmits b to the fixed peer, applying loss, delay, and corruption
// simulation in that order, per spec: skip loss and corruption while the
// handshake guard is set; otherwise drop with probability lossRate; sleep a
// uniform random delay (applied whether or not the guard is set); flip one
// random bit with probability corruptionRate; then transmit.
func (c *Channel) Send(b []byte) error {
	if c.peer == nil {
		return errNoPeer
	}

	if !c.handshakeGuard {
		if c.rng.Float64() < c.lossRate {
			return nil
		}
	}

	if c.delay.Max > 0 {
		span := c.delay.Max - c.delay.Min
		d := c.delay.Min
		if span > 0 {
			d += time.Duration(c.rng.Int63n(int64(span)))
		}
		time.Sleep(d)
	}

	out := b
	if !c.handshakeGuard && c.rng.Float64() < c.corruptionRate {
		out = append([]byte(nil), b...)
		idx := c.rng.Intn(len(out))
		bit := uint(c.rng.Intn(8))
		out[idx] ^= 1 << bit
	}

	_, err := c.conn.WriteTo(out, c.peer)
	return err
}

// Received is one datagram delivered by Receive, together with the address
// it arrived from.
type Received struct {
	Data []byte
	From net.Addr
}

// Receive blocks for up to timeout waiting for a datagram. It returns
// ErrTimedOut if none arrives in time. No simulation is ever applied on
// receive.
func (c *Channel) Receive(timeout time.Duration) (Received, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return Received{}, err
	}

	buf := make([]byte, ReceiveBufferSize)
	n, addr, err := c.conn.ReadFrom(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return Received{}, ErrTimedOut
		}
		return Received{}, err
	}

	return Received{Data: buf[:n], From: addr}, nil
}

// Close releases the underlying connection. It is safe to call concurrently
// with Send/Receive from another goroutine (e.g. a signal handler forcing an
// interrupted transfer closed); only the first caller actually closes conn.
func (c *Channel) Close() error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}
	return c.conn.Close()
}
