// metrics.go - Prometheus-format instrumentation for the connection
// and multiplexer, exposed via VictoriaMetrics/metrics so callers can
// fold it into their own scrape endpoint.

package wire

import (
	"io"
	"sync/atomic"

	"github.com/VictoriaMetrics/metrics"
)

// Metrics holds every counter/gauge a Conn updates over its lifetime.
// A nil *Metrics is valid and every method on it is a no-op, so
// instrumentation stays optional.
type Metrics struct {
	set *metrics.Set

	framesSentTotal     *metrics.Counter
	framesRecvTotal     *metrics.Counter
	crcFailuresTotal    *metrics.Counter
	reconnectsTotal     *metrics.Counter
	keepAliveFailsTotal *metrics.Counter
	pushesDispatched    *metrics.Counter

	inFlight int64 // read by the requestsInFlight gauge callback
}

// NewMetrics returns a fresh, independently scrapeable Metrics set.
func NewMetrics() *Metrics {
	set := metrics.NewSet()
	m := &Metrics{
		set:                 set,
		framesSentTotal:     set.NewCounter(`risco_wire_frames_sent_total`),
		framesRecvTotal:     set.NewCounter(`risco_wire_frames_received_total`),
		crcFailuresTotal:    set.NewCounter(`risco_wire_crc_failures_total`),
		reconnectsTotal:     set.NewCounter(`risco_wire_reconnects_total`),
		keepAliveFailsTotal: set.NewCounter(`risco_wire_keepalive_failures_total`),
		pushesDispatched:    set.NewCounter(`risco_wire_pushes_dispatched_total`),
	}
	set.NewGauge(`risco_wire_requests_in_flight`, func() float64 {
		return float64(atomic.LoadInt64(&m.inFlight))
	})
	return m
}

// WritePrometheus writes every metric in m in Prometheus exposition
// format.
func (m *Metrics) WritePrometheus(w io.Writer) {
	if m == nil {
		return
	}
	m.set.WritePrometheus(w)
}

func (m *Metrics) incFramesSent() {
	if m != nil {
		m.framesSentTotal.Inc()
	}
}

func (m *Metrics) incFramesRecv() {
	if m != nil {
		m.framesRecvTotal.Inc()
	}
}

func (m *Metrics) incCRCFailures() {
	if m != nil {
		m.crcFailuresTotal.Inc()
	}
}

func (m *Metrics) incReconnects() {
	if m != nil {
		m.reconnectsTotal.Inc()
	}
}

func (m *Metrics) incKeepAliveFailures() {
	if m != nil {
		m.keepAliveFailsTotal.Inc()
	}
}

func (m *Metrics) incPushesDispatched() {
	if m != nil {
		m.pushesDispatched.Inc()
	}
}

func (m *Metrics) setRequestsInFlight(n int) {
	if m != nil {
		atomic.StoreInt64(&m.inFlight, int64(n))
	}
}
