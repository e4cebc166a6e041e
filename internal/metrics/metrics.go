// Package metrics holds the prometheus collectors of the capture pipeline.
// A nil *Capture is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcomes of a packet on the logging path.
const (
	OutcomeWritten = "written"
	OutcomeDropped = "dropped"
	OutcomeFailed  = "failed"
)

// Capture collects capture pipeline metrics.
type Capture struct {
	packets      *prometheus.CounterVec
	bytes        *prometheus.CounterVec
	delay        prometheus.Counter
	queueLength  prometheus.Gauge
	state        prometheus.Gauge
	writeLatency prometheus.Histogram
}

// NewCapture creates the collectors and registers them with reg.
func NewCapture(reg prometheus.Registerer) *Capture {
	c := &Capture{
		packets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tlog_capture_packets_total",
			Help: "Packets leaving the packetizer, by channel and outcome.",
		}, []string{"channel", "outcome"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tlog_capture_payload_bytes_total",
			Help: "Payload bytes leaving the packetizer, by channel and outcome.",
		}, []string{"channel", "outcome"}),
		delay: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tlog_capture_limit_delay_seconds_total",
			Help: "Time the logging path spent suspended by the rate limiter.",
		}),
		queueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tlog_capture_queue_length",
			Help: "Terminal events waiting for the logging path.",
		}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tlog_capture_state",
			Help: "Capture engine state (0 idle, 1 recording, 2 suspended, 3 terminated).",
		}),
		writeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tlog_capture_write_latency_seconds",
			Help:    "Time spent in a single writer call.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
	}
	if reg != nil {
		reg.MustRegister(c.packets, c.bytes, c.delay, c.queueLength, c.state, c.writeLatency)
	}
	return c
}

// Packet records one packet with its outcome.
func (c *Capture) Packet(channel, outcome string, size int) {
	if c == nil {
		return
	}
	c.packets.WithLabelValues(channel, outcome).Inc()
	c.bytes.WithLabelValues(channel, outcome).Add(float64(size))
}

// Delayed adds time spent suspended.
func (c *Capture) Delayed(d time.Duration) {
	if c == nil {
		return
	}
	c.delay.Add(d.Seconds())
}

// QueueLength sets the pending event count.
func (c *Capture) QueueLength(n int) {
	if c == nil {
		return
	}
	c.queueLength.Set(float64(n))
}

// State sets the engine state.
func (c *Capture) State(s int) {
	if c == nil {
		return
	}
	c.state.Set(float64(s))
}

// WriteLatency observes one writer call.
func (c *Capture) WriteLatency(d time.Duration) {
	if c == nil {
		return
	}
	c.writeLatency.Observe(d.Seconds())
}

// PacketCount returns the counter for channel and outcome, for tests and
// the end-of-session summary.
func (c *Capture) PacketCount(channel, outcome string) prometheus.Counter {
	return c.packets.WithLabelValues(channel, outcome)
}

// ByteCount returns the byte counter for channel and outcome.
func (c *Capture) ByteCount(channel, outcome string) prometheus.Counter {
	return c.bytes.WithLabelValues(channel, outcome)
}
