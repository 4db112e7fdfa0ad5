package bridge

import "sync/atomic"

// Metrics tracks bridge-level counters using atomic operations for lock-free
// concurrency.
type Metrics struct {
	framed     atomic.Int64
	delivered  atomic.Int64
	framedB    atomic.Int64 // bytes framed
	deliveredB atomic.Int64 // bytes delivered
	exchanges  atomic.Int64
	failures   atomic.Int64
}

// RecordFramed records a message completed by a framed reader.
func (m *Metrics) RecordFramed(bytes int) {
	m.framed.Add(1)
	m.framedB.Add(int64(bytes))
}

// RecordDelivered records a message flushed by a queued writer.
func (m *Metrics) RecordDelivered(bytes int) {
	m.delivered.Add(1)
	m.deliveredB.Add(int64(bytes))
}

// RecordExchange records one responder round trip.
func (m *Metrics) RecordExchange(ok bool) {
	if ok {
		m.exchanges.Add(1)
	} else {
		m.failures.Add(1)
	}
}

// Snapshot returns a consistent point-in-time view of the counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Framed:         m.framed.Load(),
		Delivered:      m.delivered.Load(),
		FramedBytes:    m.framedB.Load(),
		DeliveredBytes: m.deliveredB.Load(),
		Exchanges:      m.exchanges.Load(),
		Failures:       m.failures.Load(),
	}
}

// MetricsSnapshot is a serializable point-in-time metrics view.
type MetricsSnapshot struct {
	Framed         int64 `json:"framed"`
	Delivered      int64 `json:"delivered"`
	FramedBytes    int64 `json:"framed_bytes"`
	DeliveredBytes int64 `json:"delivered_bytes"`
	Exchanges      int64 `json:"exchanges"`
	Failures       int64 `json:"failures"`
}
