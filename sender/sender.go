// Package sender implements the sender-side connection state machine:
// three-way handshake, file streaming under the combined send/congestion
// window, and four-way ordered teardown.
package sender

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/YaoZengzeng/rft/congestion"
	"github.com/YaoZengzeng/rft/metrics"
	"github.com/YaoZengzeng/rft/netsim"
	"github.com/YaoZengzeng/rft/reliability"
	"github.com/YaoZengzeng/rft/segment"
)

// State is the sender connection state.
type State int

const (
	Closed State = iota
	SynSent
	Established
	FinWait1
	FinWait2
	TimeWait
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case SynSent:
		return "SYN_SENT"
	case Established:
		return "ESTABLISHED"
	case FinWait1:
		return "FIN_WAIT_1"
	case FinWait2:
		return "FIN_WAIT_2"
	case TimeWait:
		return "TIME_WAIT"
	default:
		return "UNKNOWN"
	}
}

const (
	handshakeTimeout = 5 * time.Second
	ackPollTimeout   = 10 * time.Millisecond
	finTimeout       = 1 * time.Second
	finMaxRetries    = 5
	synMaxRetries    = 5
	timeWaitDuration = 1 * time.Second
	rto              = 1 * time.Second
	chunkSize        = segment.MaxPayloadSize
)

// ErrHandshakeFailed is returned when the three-way handshake does not
// complete within its budget or the peer replies with malformed flags.
var ErrHandshakeFailed = errors.New("sender: handshake failed")

// ErrTransferAbandoned is returned when the data phase's ACK stream goes
// silent past the drain budget and the sender force-closes.
var ErrTransferAbandoned = errors.New("sender: transfer abandoned, peer unresponsive")

// Sender drives one outbound file transfer.
type Sender struct {
	ch      *netsim.Channel
	source  io.Reader
	metrics *metrics.Connection
	log     *logrus.Entry

	state   State
	seqNum  uint32
	peerSeq uint32

	reliability *reliability.Layer
	congestion  *congestion.Controller

	startedAt       time.Time
	bytesSent       int64
	retransmitCount int
}

// New creates a Sender. ch must already be constructed with the peer address
// set. m may be nil to disable metrics.
func New(ch *netsim.Channel, source io.Reader, m *metrics.Connection, log *logrus.Entry) *Sender {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Sender{
		ch:          ch,
		source:      source,
		metrics:     m,
		log:         log.WithFields(logrus.Fields{"role": "sender", "conn_id": xid.New().String()}),
		state:       Closed,
		reliability: reliability.New(1, rto, m),
		congestion:  congestion.New(m),
	}
}

// Run executes the full connection lifecycle: handshake, data transfer, and
// teardown. It returns a non-nil error (the CLI maps that to exit code 1) if
// the handshake or the data phase fails. Once every data segment has been
// acknowledged it returns nil, including when the FIN exchange runs out of
// retries and teardown force-closes the connection.
func (s *Sender) Run() error {
	s.startedAt = time.Now()

	if err := s.handshake(); err != nil {
		s.state = Closed
		return err
	}

	if err := s.transferLoop(); err != nil {
		s.state = Closed
		return err
	}

	s.teardown()

	s.log.WithFields(logrus.Fields{
		"bytes_sent":             s.bytesSent,
		"duration":               time.Since(s.startedAt).String(),
		"segments_retransmitted": s.retransmitCount,
	}).Info("transfer summary")

	return nil
}

// handshake drives CLOSED -> SYN_SENT -> ESTABLISHED.
func (s *Sender) handshake() error {
	s.state = SynSent
	syn := &segment.Segment{SeqNum: 0, Flags: segment.FlagSyn, WindowSize: 1024}

	// Resend the SYN each time the wait for a SYN-ACK times out, up to
	// synMaxRetries attempts.
	var recv netsim.Received
	var err error
	for attempt := 0; attempt < synMaxRetries; attempt++ {
		if err = s.ch.Send(syn.Serialize()); err != nil {
			return fmt.Errorf("sender: sending SYN: %w", err)
		}
		recv, err = s.ch.Receive(handshakeTimeout)
		if err != netsim.ErrTimedOut {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}

	seg, ok := segment.Deserialize(recv.Data)
	if !ok || !seg.IsSyn() || !seg.IsAck() || seg.AckNum != 1 {
		return fmt.Errorf("%w: malformed SYN-ACK", ErrHandshakeFailed)
	}

	s.peerSeq = seg.SeqNum
	s.seqNum = 1

	ack := &segment.Segment{SeqNum: s.seqNum, AckNum: s.peerSeq + 1, Flags: segment.FlagAck, WindowSize: 1024}
	if err := s.ch.Send(ack.Serialize()); err != nil {
		return fmt.Errorf("sender: sending final handshake ACK: %w", err)
	}

	s.reliability.Reset(1)
	s.ch.DisableHandshakeGuard()
	s.state = Established

	s.log.WithField("peer", s.ch.Peer()).Info("connection established")
	return nil
}

// transferLoop streams the file under the combined send/congestion window
// until EOF has been reached and the send buffer has fully drained.
func (s *Sender) transferLoop() error {
	eof := false
	lastProgress := time.Now()
	const drainBudget = 30 * time.Second

	for !eof || !s.reliability.Empty() {
		s.reliability.SetWindowSize(s.congestion.Window())

		for !eof && s.reliability.CanSend() {
			buf := make([]byte, chunkSize)
			n, err := s.source.Read(buf)
			if n > 0 {
				seg := &segment.Segment{Flags: segment.FlagAck, Payload: buf[:n]}
				submitted, err := s.reliability.Submit(seg, s.ch)
				if err != nil {
					return fmt.Errorf("sender: submit failed: %w", err)
				}
				if submitted {
					s.bytesSent += int64(n)
				}
			}
			if err != nil {
				if err != io.EOF {
					return fmt.Errorf("sender: reading file: %w", err)
				}
				eof = true
			}
		}

		recv, err := s.ch.Receive(ackPollTimeout)
		if err == nil {
			if ack, ok := segment.Deserialize(recv.Data); ok && ack.IsAck() {
				acked := s.reliability.OnAck(ack.AckNum)
				if acked > 0 {
					lastProgress = time.Now()
				}
				if s.congestion.OnAck(ack.AckNum) {
					oldest := s.reliability.SendBase()
					retransmitted, err := s.reliability.Retransmit(oldest, s.ch)
					if err != nil {
						return fmt.Errorf("sender: fast retransmit failed: %w", err)
					}
					if retransmitted {
						s.retransmitCount++
					}
					s.log.WithField("seq", oldest).Debug("fast retransmit")
				}
			}
		} else if err != netsim.ErrTimedOut {
			return fmt.Errorf("sender: receive failed: %w", err)
		}

		fired, err := s.reliability.Tick(s.ch)
		if err != nil {
			return fmt.Errorf("sender: retransmit failed: %w", err)
		}
		if fired > 0 {
			s.retransmitCount += fired
			s.congestion.OnTimeout()
			s.log.WithField("count", fired).Debug("RTO fired, cwnd reset to 1")
		}

		if !s.reliability.Empty() && time.Since(lastProgress) > drainBudget {
			return ErrTransferAbandoned
		}
	}

	s.log.Info("file sent, initiating teardown")
	return nil
}

// teardown drives ESTABLISHED -> FIN_WAIT_1 -> FIN_WAIT_2 -> TIME_WAIT -> CLOSED.
func (s *Sender) teardown() {
	s.state = FinWait1
	s.ch.EnableHandshakeGuard()

	finSeq := s.reliability.NextSeq()
	fin := &segment.Segment{SeqNum: finSeq, Flags: segment.FlagFin, WindowSize: 0}

	acked := false
	for attempt := 0; attempt < finMaxRetries; attempt++ {
		if err := s.ch.Send(fin.Serialize()); err != nil {
			s.log.WithError(err).Warn("sending FIN failed")
			continue
		}

		recv, err := s.ch.Receive(finTimeout)
		if err != nil {
			continue
		}
		ack, ok := segment.Deserialize(recv.Data)
		if ok && ack.IsAck() && ack.AckNum == finSeq+1 {
			acked = true
			s.state = FinWait2
			break
		}
	}

	if !acked {
		s.log.Warn("teardown timed out, force closing")
		s.state = Closed
		return
	}

	recv, err := s.ch.Receive(handshakeTimeout)
	if err == nil {
		if peerFin, ok := segment.Deserialize(recv.Data); ok && peerFin.IsFin() {
			finalAck := &segment.Segment{SeqNum: finSeq + 1, AckNum: peerFin.SeqNum + 1, Flags: segment.FlagAck}
			s.ch.Send(finalAck.Serialize())
		}
	}

	s.state = TimeWait
	time.Sleep(timeWaitDuration)
	s.state = Closed
	s.log.Info("connection closed")
}

// State returns the sender's current connection state.
func (s *Sender) State() State { return s.state }

// RemoteAddr returns the peer address data is being sent to, if known.
func (s *Sender) RemoteAddr() net.Addr { return s.ch.Peer() }
