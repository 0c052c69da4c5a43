// Package reliability implements the sender-side sliding window: sequence
// assignment, buffered retransmission, cumulative ACK processing, and
// per-segment RTO timers.
package reliability

import (
	"time"

	"github.com/YaoZengzeng/rft/metrics"
	"github.com/YaoZengzeng/rft/segment"
)

// Channel is the minimal datagram sink the reliability layer needs to
// (re)transmit buffered bytes. netsim.Channel satisfies it.
type Channel interface {
	Send(b []byte) error
}

// entry is one outstanding, unacknowledged segment: its serialized bytes and
// the deadline at which it must be retransmitted. The buffer and timer map
// of spec.md §9 share this single associative structure, keyed by seq.
// next/prev link it directly into sendQueue's oldest-first submission
// order: there's exactly one kind of node on this list, so there's no need
// for the generality of an interface-based intrusive list — a plain
// doubly-linked *entry chain is the whole of it.
type entry struct {
	next, prev *entry
	seq        uint32
	wire       []byte
	deadline   time.Time
}

// sendQueue is the oldest-first chain of outstanding segments. OnAck walks
// it from the front dropping newly-acknowledged entries; Tick walks it in
// full checking deadlines. Both are O(in-flight segments); removal of a
// node is O(1) from any position. Retransmit looks entries up through
// byOrdinal and leaves the chain unchanged.
type sendQueue struct {
	head, tail *entry
}

func (q *sendQueue) reset() {
	q.head, q.tail = nil, nil
}

func (q *sendQueue) pushBack(e *entry) {
	e.next, e.prev = nil, q.tail
	if q.tail != nil {
		q.tail.next = e
	} else {
		q.head = e
	}
	q.tail = e
}

func (q *sendQueue) remove(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		q.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		q.tail = e.prev
	}
}

// Layer holds the send-side window state: send_base, next_seq_num, and the
// buffer of unacknowledged segments with their timers. queue tracks entries
// in submission order (oldest first) so OnAck and Tick can walk outstanding
// segments without sorting; byOrdinal gives O(1) lookup by seq for
// Retransmit.
type Layer struct {
	windowSize      uint32
	timeoutInterval time.Duration

	sendBase  uint32
	nextSeq   uint32
	queue     sendQueue
	byOrdinal map[uint32]*entry

	metrics *metrics.Connection
}

// New creates a reliability layer with the given initial window size and
// fixed RTO. m may be nil, in which case metrics calls are no-ops.
func New(windowSize uint32, timeoutInterval time.Duration, m *metrics.Connection) *Layer {
	if windowSize < 1 {
		windowSize = 1
	}
	return &Layer{
		windowSize:      windowSize,
		timeoutInterval: timeoutInterval,
		byOrdinal:       make(map[uint32]*entry),
		metrics:         m,
	}
}

// Reset reinitializes send_base and next_seq_num to start; used once the
// handshake has fixed the initial sequence number.
func (l *Layer) Reset(start uint32) {
	l.sendBase = start
	l.nextSeq = start
	l.queue.reset()
	l.byOrdinal = make(map[uint32]*entry)
}

// SendBase returns the current send_base (oldest unacknowledged seq).
func (l *Layer) SendBase() uint32 { return l.sendBase }

// NextSeq returns the next sequence number that will be assigned.
func (l *Layer) NextSeq() uint32 { return l.nextSeq }

// InFlight returns next_seq_num - send_base, the number of outstanding segments.
func (l *Layer) InFlight() uint32 { return l.nextSeq - l.sendBase }

// CanSend reports whether the window allows assigning and sending another segment.
func (l *Layer) CanSend() bool {
	return l.InFlight() < l.windowSize
}

// SetWindowSize updates the advertised window, clamped to a minimum of 1.
func (l *Layer) SetWindowSize(n uint32) {
	if n < 1 {
		n = 1
	}
	l.windowSize = n
}

// Submit assigns the next sequence number to seg, serializes and sends it,
// and buffers it for retransmission. It returns false without sending if the
// window is full.
func (l *Layer) Submit(seg *segment.Segment, ch Channel) (bool, error) {
	if !l.CanSend() {
		return false, nil
	}

	seg.SeqNum = l.nextSeq
	wire := seg.Serialize()
	if err := ch.Send(wire); err != nil {
		return false, err
	}

	e := &entry{seq: seg.SeqNum, wire: wire, deadline: time.Now().Add(l.timeoutInterval)}
	l.byOrdinal[seg.SeqNum] = e
	l.queue.pushBack(e)
	l.nextSeq++

	l.metrics.IncSegmentsSent()

	return true, nil
}

// OnAck processes a cumulative ACK. If ackNum advances send_base, every
// buffered entry with seq in [send_base, ackNum) is dropped and send_base is
// advanced; the count of newly-acknowledged segments is returned. A
// regressing or stale ACK (ackNum <= send_base) is a no-op and returns 0.
func (l *Layer) OnAck(ackNum uint32) int {
	if ackNum <= l.sendBase {
		return 0
	}

	acked := int(ackNum - l.sendBase)
	l.sendBase = ackNum

	for e := l.queue.head; e != nil; {
		next := e.next
		if e.seq < l.sendBase {
			l.queue.remove(e)
			delete(l.byOrdinal, e.seq)
		}
		e = next
	}

	return acked
}

// Tick scans all buffered segments and retransmits any whose deadline has
// passed, resetting their timer. It returns the number of retransmissions
// that occurred (0 if none fired). Each outstanding seq carries an
// independent deadline (no Go-Back-N bulk retransmit).
func (l *Layer) Tick(ch Channel) (int, error) {
	now := time.Now()
	fired := 0

	for e := l.queue.head; e != nil; e = e.next {
		if now.After(e.deadline) {
			if err := ch.Send(e.wire); err != nil {
				return fired, err
			}
			e.deadline = now.Add(l.timeoutInterval)
			fired++
			l.metrics.IncSegmentsRetransmitted()
		}
	}

	return fired, nil
}

// Retransmit resends a specific buffered segment (used for fast retransmit)
// and resets its timer. It is a silent no-op if seq is not in the buffer.
func (l *Layer) Retransmit(seq uint32, ch Channel) (bool, error) {
	e, ok := l.byOrdinal[seq]
	if !ok {
		return false, nil
	}
	if err := ch.Send(e.wire); err != nil {
		return false, err
	}
	e.deadline = time.Now().Add(l.timeoutInterval)
	l.metrics.IncSegmentsRetransmitted()
	return true, nil
}

// Empty reports whether the send buffer holds no outstanding segments. A
// timer is running iff the buffer is non-empty (spec.md §3 invariant).
func (l *Layer) Empty() bool {
	return len(l.byOrdinal) == 0
}
