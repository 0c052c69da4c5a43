// Package receiver implements the receiver-side connection state machine:
// passive handshake accept, in-order delivery to a byte sink, and four-way
// ordered teardown.
package receiver

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/YaoZengzeng/rft/metrics"
	"github.com/YaoZengzeng/rft/netsim"
	"github.com/YaoZengzeng/rft/segment"
)

// State is the receiver connection state.
type State int

const (
	Closed State = iota
	Listen
	SynRcvd
	Established
	CloseWait
	LastAck
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Listen:
		return "LISTEN"
	case SynRcvd:
		return "SYN_RCVD"
	case Established:
		return "ESTABLISHED"
	case CloseWait:
		return "CLOSE_WAIT"
	case LastAck:
		return "LAST_ACK"
	default:
		return "UNKNOWN"
	}
}

const (
	acceptTimeout     = 30 * time.Second
	synAckWaitTimeout = 5 * time.Second
	dataTimeout       = 10 * time.Second
	teardownTimeout   = 5 * time.Second
	advertisedWindow  = 8192
)

// ErrHandshakeFailed is returned when no SYN arrives within the listen
// budget, or the peer's final ACK is malformed.
var ErrHandshakeFailed = errors.New("receiver: handshake failed")

// Receiver drives one inbound file transfer.
type Receiver struct {
	ch   *netsim.Channel
	sink io.Writer
	metrics *metrics.Connection
	log  *logrus.Entry

	state       State
	seqNum      uint32
	expectedSeq uint32
}

// New creates a Receiver listening on ch (which need not yet have a peer
// address set — it will be learned from the incoming SYN). m may be nil to
// disable metrics.
func New(ch *netsim.Channel, sink io.Writer, m *metrics.Connection, log *logrus.Entry) *Receiver {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Receiver{
		ch:      ch,
		sink:    sink,
		metrics: m,
		log:     log.WithFields(logrus.Fields{"role": "receiver", "conn_id": xid.New().String()}),
		state:   Closed,
	}
}

// Run executes the full connection lifecycle: listen, accept, receive until
// FIN, teardown. It returns nil on a clean teardown with the file fully
// written to the sink.
func (r *Receiver) Run() error {
	r.state = Listen

	if err := r.accept(); err != nil {
		r.state = Closed
		return err
	}

	r.serve()
	return nil
}

// accept drives LISTEN -> SYN_RCVD -> ESTABLISHED.
func (r *Receiver) accept() error {
	recv, err := r.ch.Receive(acceptTimeout)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}

	syn, ok := segment.Deserialize(recv.Data)
	if !ok || !syn.IsSyn() {
		return fmt.Errorf("%w: expected SYN", ErrHandshakeFailed)
	}

	r.ch.SetPeer(recv.From)
	r.expectedSeq = syn.SeqNum + 1
	r.state = SynRcvd

	synAck := &segment.Segment{SeqNum: r.seqNum, AckNum: r.expectedSeq, Flags: segment.FlagSyn | segment.FlagAck, WindowSize: advertisedWindow}
	if err := r.ch.Send(synAck.Serialize()); err != nil {
		return fmt.Errorf("receiver: sending SYN-ACK: %w", err)
	}

	recv, err = r.ch.Receive(synAckWaitTimeout)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}
	ack, ok := segment.Deserialize(recv.Data)
	if !ok || !ack.IsAck() || ack.AckNum != r.seqNum+1 {
		return fmt.Errorf("%w: malformed final ACK", ErrHandshakeFailed)
	}

	r.seqNum++
	r.ch.DisableHandshakeGuard()
	r.state = Established

	r.log.WithField("peer", r.ch.Peer()).Info("connection established")
	return nil
}

// serve runs the ESTABLISHED data phase until a FIN is received, then tears
// down.
func (r *Receiver) serve() {
	for r.state == Established {
		recv, err := r.ch.Receive(dataTimeout)
		if err != nil {
			if err == netsim.ErrTimedOut {
				continue
			}
			r.log.WithError(err).Warn("receive failed, abandoning connection")
			r.state = Closed
			return
		}

		seg, ok := segment.Deserialize(recv.Data)
		if !ok {
			// Corrupt or malformed: drop silently, nudge the sender with a
			// duplicate ACK for the segment we're still waiting on.
			r.sendAck()
			continue
		}

		if seg.IsFin() {
			r.teardown(seg)
			return
		}

		if len(seg.Payload) == 0 {
			continue
		}

		if seg.SeqNum == r.expectedSeq {
			if _, err := r.sink.Write(seg.Payload); err != nil {
				r.log.WithError(err).Error("writing to sink failed")
				r.state = Closed
				return
			}
			r.metrics.AddBytesDelivered(len(seg.Payload))
			r.expectedSeq++
		}
		// Out-of-order or already-seen: discard payload, still ACK
		// cumulatively for expectedSeq (drives sender fast retransmit).
		r.sendAck()
	}
}

// sendAck replies with a cumulative ACK for the current expected sequence.
func (r *Receiver) sendAck() {
	ack := &segment.Segment{SeqNum: r.seqNum, AckNum: r.expectedSeq, Flags: segment.FlagAck, WindowSize: advertisedWindow}
	if err := r.ch.Send(ack.Serialize()); err != nil {
		r.log.WithError(err).Warn("sending ACK failed")
	}
}

// teardown drives ESTABLISHED -> CLOSE_WAIT -> LAST_ACK -> CLOSED.
func (r *Receiver) teardown(fin *segment.Segment) {
	r.state = CloseWait
	finAck := &segment.Segment{SeqNum: r.seqNum, AckNum: fin.SeqNum + 1, Flags: segment.FlagAck}
	r.ch.Send(finAck.Serialize())

	r.state = LastAck
	ownFin := &segment.Segment{SeqNum: r.seqNum + 1, Flags: segment.FlagFin}
	r.ch.Send(ownFin.Serialize())

	recv, err := r.ch.Receive(teardownTimeout)
	if err == nil {
		if finalAck, ok := segment.Deserialize(recv.Data); ok && finalAck.IsAck() {
			r.log.Info("received final ACK, connection closed cleanly")
		}
	}

	r.state = Closed
}

// State returns the receiver's current connection state.
func (r *Receiver) State() State { return r.state }

// RemoteAddr returns the sender's address, once learned from the handshake.
func (r *Receiver) RemoteAddr() net.Addr { return r.ch.Peer() }
