// Package congestion implements the Reno congestion control state machine:
// slow start, congestion avoidance, and fast recovery driven by ACK,
// duplicate-ACK, and timeout events.
package congestion

import "github.com/YaoZengzeng/rft/metrics"

// Phase is the Reno congestion-control phase.
type Phase int

const (
	SlowStart Phase = iota
	CongestionAvoidance
	FastRecovery
)

const (
	initialCwnd     = 1.0
	initialSsthresh = 64.0
	minSsthresh     = 2.0
)

// Controller holds the Reno congestion state: cwnd, ssthresh, phase,
// duplicate-ACK count, last ACK seen, and the recovery target.
type Controller struct {
	cwnd     float64
	ssthresh float64
	phase    Phase

	dupAckCount int
	lastAck     uint32
	haveLastAck bool

	recoveryTarget uint32

	metrics *metrics.Connection
}

// New creates a Controller in its initial state: cwnd=1.0, ssthresh=64.0,
// phase=SlowStart. m may be nil, in which case metrics calls are no-ops.
func New(m *metrics.Connection) *Controller {
	c := &Controller{
		cwnd:     initialCwnd,
		ssthresh: initialSsthresh,
		phase:    SlowStart,
		metrics:  m,
	}
	c.reportState()
	return c
}

// Phase returns the current Reno phase.
func (c *Controller) Phase() Phase { return c.phase }

// Cwnd returns the current (real-valued) congestion window.
func (c *Controller) Cwnd() float64 { return c.cwnd }

// Ssthresh returns the current slow-start threshold.
func (c *Controller) Ssthresh() float64 { return c.ssthresh }

// Window returns the integer window advertised to the reliability layer:
// max(1, floor(cwnd)).
func (c *Controller) Window() uint32 {
	w := int(c.cwnd)
	if w < 1 {
		w = 1
	}
	return uint32(w)
}

// OnAck processes one received cumulative ACK and returns true iff the
// caller must fast-retransmit the oldest unacknowledged segment (the third
// consecutive duplicate ACK was just observed).
func (c *Controller) OnAck(ackNum uint32) (fastRetransmitNow bool) {
	defer c.reportState()

	if c.haveLastAck && ackNum == c.lastAck {
		c.metrics.IncDuplicateAcks()

		if c.phase != FastRecovery {
			c.dupAckCount++
			if c.dupAckCount == 3 {
				return c.enterFastRecovery(ackNum)
			}
			return false
		}

		// Already in fast recovery: window inflation per further duplicate ACK.
		c.cwnd++
		return false
	}

	switch c.phase {
	case FastRecovery:
		if ackNum >= c.recoveryTarget {
			c.cwnd = c.ssthresh
			c.phase = CongestionAvoidance
		} else {
			// Partial ACK: inflate but stay in fast recovery.
			c.cwnd++
		}
	case SlowStart:
		c.cwnd++
		if c.cwnd >= c.ssthresh {
			c.phase = CongestionAvoidance
		}
	case CongestionAvoidance:
		c.cwnd += 1.0 / c.cwnd
	}

	c.dupAckCount = 0
	c.lastAck = ackNum
	c.haveLastAck = true

	return false
}

// enterFastRecovery handles the third consecutive duplicate ACK.
func (c *Controller) enterFastRecovery(ackNum uint32) bool {
	c.ssthresh = max(c.cwnd/2.0, minSsthresh)
	c.cwnd = c.ssthresh + 3.0
	c.phase = FastRecovery
	c.recoveryTarget = ackNum + 1
	return true
}

// OnTimeout handles an RTO firing: reset to slow start with a halved
// ssthresh.
func (c *Controller) OnTimeout() {
	c.ssthresh = max(c.cwnd/2.0, minSsthresh)
	c.cwnd = 1.0
	c.phase = SlowStart
	c.dupAckCount = 0
	c.metrics.IncRTOFires()
	c.reportState()
}

func (c *Controller) reportState() {
	c.metrics.SetCongestionState(c.cwnd, c.ssthresh, int(c.phase))
}
