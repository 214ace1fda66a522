package obs

import (
	"sync/atomic"
	"time"

	"main/internal/model/enum"
)

const (
	maxEntity = int(enum.EntityKnowledge)
	maxSource = int(enum.SourceCryptoPanic)
)

// Metrics collects lightweight counters and latency stats for the
// ingestion pipeline.
type Metrics struct {
	recordCounts [maxEntity + 1]uint64
	batchCounts  [maxSource + 1]uint64
	queueDrops   uint64
	queueClosed  uint64

	writeLatency   LatencyStats
	extractLatency LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	RecordCounts   map[enum.Entity]uint64
	BatchCounts    map[enum.Source]uint64
	QueueDrops     uint64
	QueueClosed    uint64
	WriteLatency   LatencySnapshot
	ExtractLatency LatencySnapshot
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// ObserveBatch counts a collected batch and its records.
func (m *Metrics) ObserveBatch(source enum.Source, entity enum.Entity, records int) {
	if m == nil {
		return
	}
	if idx := int(source); idx >= 0 && idx < len(m.batchCounts) {
		atomic.AddUint64(&m.batchCounts[idx], 1)
	}
	if idx := int(entity); idx >= 0 && idx < len(m.recordCounts) {
		atomic.AddUint64(&m.recordCounts[idx], uint64(records))
	}
}

// IncQueueDrop records a batch shed under backpressure.
func (m *Metrics) IncQueueDrop() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.queueDrops, 1)
}

// IncQueueClosed records a publish attempt against a closed queue.
func (m *Metrics) IncQueueClosed() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.queueClosed, 1)
}

// ObserveWrite measures one primary write.
func (m *Metrics) ObserveWrite(d time.Duration) {
	if m == nil {
		return
	}
	m.writeLatency.Observe(d)
}

// ObserveExtract measures one extraction round.
func (m *Metrics) ObserveExtract(d time.Duration) {
	if m == nil {
		return
	}
	m.extractLatency.Observe(d)
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	recordCounts := make(map[enum.Entity]uint64)
	for i := range m.recordCounts {
		if v := atomic.LoadUint64(&m.recordCounts[i]); v > 0 {
			recordCounts[enum.Entity(i)] = v
		}
	}
	batchCounts := make(map[enum.Source]uint64)
	for i := range m.batchCounts {
		if v := atomic.LoadUint64(&m.batchCounts[i]); v > 0 {
			batchCounts[enum.Source(i)] = v
		}
	}
	return Snapshot{
		RecordCounts:   recordCounts,
		BatchCounts:    batchCounts,
		QueueDrops:     atomic.LoadUint64(&m.queueDrops),
		QueueClosed:    atomic.LoadUint64(&m.queueClosed),
		WriteLatency:   m.writeLatency.Snapshot(),
		ExtractLatency: m.extractLatency.Snapshot(),
	}
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		min := atomic.LoadUint64(&l.min)
		if min != 0 && nanos >= min {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, min, nanos) {
			break
		}
	}

	for {
		max := atomic.LoadUint64(&l.max)
		if nanos <= max {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, max, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&l.sum)
	min := atomic.LoadUint64(&l.min)
	max := atomic.LoadUint64(&l.max)
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(min),
		Max:   time.Duration(max),
		Avg:   time.Duration(sum / count),
	}
}
