// Package metrics exposes Prometheus instrumentation for one rft
// connection. It is purely observational: nothing in the protocol core
// reads these values back, and every method is nil-safe so callers that
// don't want metrics can simply pass a nil *Connection around.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Connection bundles the counters and gauges describing one sender or
// receiver connection's lifetime.
type Connection struct {
	segmentsSent          prometheus.Counter
	segmentsRetransmitted prometheus.Counter
	duplicateAcks         prometheus.Counter
	rtoFires              prometheus.Counter
	bytesDelivered        prometheus.Counter
	cwnd                  prometheus.Gauge
	ssthresh              prometheus.Gauge
	phase                 prometheus.Gauge
}

// New creates a Connection's metrics and registers them against reg. reg may
// be nil, in which case the returned *Connection is non-nil but all its
// methods are still safe to call (they simply update unregistered metrics
// that nobody scrapes). labels typically carries the connection's role
// ("sender" or "receiver") and peer address.
func New(reg prometheus.Registerer, labels prometheus.Labels) *Connection {
	c := &Connection{
		segmentsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "rft_segments_sent_total",
			Help:        "Segments submitted to the datagram channel, excluding retransmissions.",
			ConstLabels: labels,
		}),
		segmentsRetransmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "rft_segments_retransmitted_total",
			Help:        "Segments retransmitted due to RTO or fast retransmit.",
			ConstLabels: labels,
		}),
		duplicateAcks: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "rft_duplicate_acks_total",
			Help:        "Duplicate cumulative ACKs observed.",
			ConstLabels: labels,
		}),
		rtoFires: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "rft_rto_fires_total",
			Help:        "Retransmission timeout events.",
			ConstLabels: labels,
		}),
		bytesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "rft_bytes_delivered_total",
			Help:        "Payload bytes delivered to the sink in order.",
			ConstLabels: labels,
		}),
		cwnd: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "rft_congestion_window",
			Help:        "Current Reno congestion window, in segments.",
			ConstLabels: labels,
		}),
		ssthresh: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "rft_ssthresh",
			Help:        "Current slow-start threshold, in segments.",
			ConstLabels: labels,
		}),
		phase: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "rft_congestion_phase",
			Help:        "Current Reno phase: 0=slow start, 1=congestion avoidance, 2=fast recovery.",
			ConstLabels: labels,
		}),
	}

	if reg != nil {
		reg.MustRegister(c.segmentsSent, c.segmentsRetransmitted, c.duplicateAcks,
			c.rtoFires, c.bytesDelivered, c.cwnd, c.ssthresh, c.phase)
	}

	return c
}

// IncSegmentsSent records one segment handed to the datagram channel.
func (c *Connection) IncSegmentsSent() {
	if c == nil {
		return
	}
	c.segmentsSent.Inc()
}

// IncSegmentsRetransmitted records one retransmission (RTO or fast retransmit).
func (c *Connection) IncSegmentsRetransmitted() {
	if c == nil {
		return
	}
	c.segmentsRetransmitted.Inc()
}

// IncDuplicateAcks records one duplicate cumulative ACK.
func (c *Connection) IncDuplicateAcks() {
	if c == nil {
		return
	}
	c.duplicateAcks.Inc()
}

// IncRTOFires records one retransmission-timeout event.
func (c *Connection) IncRTOFires() {
	if c == nil {
		return
	}
	c.rtoFires.Inc()
}

// AddBytesDelivered records n bytes delivered in order to the sink.
func (c *Connection) AddBytesDelivered(n int) {
	if c == nil {
		return
	}
	c.bytesDelivered.Add(float64(n))
}

// SetCongestionState mirrors the controller's current cwnd/ssthresh/phase.
func (c *Connection) SetCongestionState(cwnd, ssthresh float64, phase int) {
	if c == nil {
		return
	}
	c.cwnd.Set(cwnd)
	c.ssthresh.Set(ssthresh)
	c.phase.Set(float64(phase))
}
