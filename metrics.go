package reactor

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the latency histogram buckets in nanoseconds,
// log-spaced from 1us to 10s.
var LatencyBuckets = []uint64{
	1_000,
	10_000,
	100_000,
	1_000_000,
	10_000_000,
	100_000_000,
	1_000_000_000,
	10_000_000_000,
}

const numLatencyBuckets = 8

// Metrics tracks a reactor's I/O and frame-level statistics. Grounded on
// the teacher's metrics.go, with device/queue I/O counters replaced by
// the reactor's READ/WRITEV/ACCEPT/frame counters (spec.md §4.4's
// completion kinds).
type Metrics struct {
	ReadOps   atomic.Uint64
	WritevOps atomic.Uint64
	AcceptOps atomic.Uint64

	ReadBytes    atomic.Uint64
	WriteBytes   atomic.Uint64
	FramesParsed atomic.Uint64

	ReadErrors   atomic.Uint64
	WritevErrors atomic.Uint64
	AcceptErrors atomic.Uint64

	ChannelsOpened atomic.Uint64
	ChannelsClosed atomic.Uint64

	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a new metrics instance, stamping StartTime.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordRead records a READ completion.
func (m *Metrics) RecordRead(bytes uint64, latencyNs uint64, success bool) {
	m.ReadOps.Add(1)
	if success {
		m.ReadBytes.Add(bytes)
	} else {
		m.ReadErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordWritev records a WRITEV completion.
func (m *Metrics) RecordWritev(bytes uint64, latencyNs uint64, success bool) {
	m.WritevOps.Add(1)
	if success {
		m.WriteBytes.Add(bytes)
	} else {
		m.WritevErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordAccept records an ACCEPT completion.
func (m *Metrics) RecordAccept(latencyNs uint64, success bool) {
	m.AcceptOps.Add(1)
	if !success {
		m.AcceptErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordFramesParsed records the number of frames the inbound parser
// finalized in one READ-completion pass.
func (m *Metrics) RecordFramesParsed(count uint64) {
	m.FramesParsed.Add(count)
}

// RecordChannelOpened/RecordChannelClosed track channel lifecycle.
func (m *Metrics) RecordChannelOpened() { m.ChannelsOpened.Add(1) }
func (m *Metrics) RecordChannelClosed() { m.ChannelsClosed.Add(1) }

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the reactor as stopped.
func (m *Metrics) Stop() { m.StopTime.Store(time.Now().UnixNano()) }

// MetricsSnapshot is a point-in-time copy of Metrics with derived rates.
type MetricsSnapshot struct {
	ReadOps   uint64
	WritevOps uint64
	AcceptOps uint64

	ReadBytes    uint64
	WriteBytes   uint64
	FramesParsed uint64

	ReadErrors   uint64
	WritevErrors uint64
	AcceptErrors uint64

	ChannelsOpened uint64
	ChannelsClosed uint64
	ActiveChannels int64

	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64

	ReadIOPS       float64
	WritevIOPS     float64
	ReadBandwidth  float64
	WriteBandwidth float64
	TotalOps       uint64
	ErrorRate      float64
}

// Snapshot creates a point-in-time snapshot of metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		ReadOps:        m.ReadOps.Load(),
		WritevOps:      m.WritevOps.Load(),
		AcceptOps:      m.AcceptOps.Load(),
		ReadBytes:      m.ReadBytes.Load(),
		WriteBytes:     m.WriteBytes.Load(),
		FramesParsed:   m.FramesParsed.Load(),
		ReadErrors:     m.ReadErrors.Load(),
		WritevErrors:   m.WritevErrors.Load(),
		AcceptErrors:   m.AcceptErrors.Load(),
		ChannelsOpened: m.ChannelsOpened.Load(),
		ChannelsClosed: m.ChannelsClosed.Load(),
	}

	snap.ActiveChannels = int64(snap.ChannelsOpened) - int64(snap.ChannelsClosed)
	snap.TotalOps = snap.ReadOps + snap.WritevOps + snap.AcceptOps

	opCount := m.OpCount.Load()
	totalLatencyNs := m.TotalLatencyNs.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = totalLatencyNs / opCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	if snap.UptimeNs > 0 {
		uptimeSeconds := float64(snap.UptimeNs) / 1e9
		snap.ReadIOPS = float64(snap.ReadOps) / uptimeSeconds
		snap.WritevIOPS = float64(snap.WritevOps) / uptimeSeconds
		snap.ReadBandwidth = float64(snap.ReadBytes) / uptimeSeconds
		snap.WriteBandwidth = float64(snap.WriteBytes) / uptimeSeconds
	}

	totalErrors := snap.ReadErrors + snap.WritevErrors + snap.AcceptErrors
	if snap.TotalOps > 0 {
		snap.ErrorRate = float64(totalErrors) / float64(snap.TotalOps) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	if opCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile
// (0.0-1.0) using linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.OpCount.Load()
	if totalOps == 0 {
		return 0
	}

	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset zeroes all counters (useful for testing).
func (m *Metrics) Reset() {
	m.ReadOps.Store(0)
	m.WritevOps.Store(0)
	m.AcceptOps.Store(0)
	m.ReadBytes.Store(0)
	m.WriteBytes.Store(0)
	m.FramesParsed.Store(0)
	m.ReadErrors.Store(0)
	m.WritevErrors.Store(0)
	m.AcceptErrors.Store(0)
	m.ChannelsOpened.Store(0)
	m.ChannelsClosed.Store(0)
	m.TotalLatencyNs.Store(0)
	m.OpCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// compile-time satisfaction of Observer (declared below).
var _ Observer = (*MetricsObserver)(nil)

// Observer receives metrics callbacks from the reactor's single-threaded
// I/O hot path; matches internal/interfaces.Observer's shape.
type Observer interface {
	ObserveRead(bytes uint64, latencyNs uint64, success bool)
	ObserveWrite(bytes uint64, latencyNs uint64, success bool)
	ObserveAccept(success bool)
	ObserveFramesParsed(count uint64)
	ObserveWritev(frames int, bytes uint64)
}

// NoOpObserver discards every observation.
type NoOpObserver struct{}

func (NoOpObserver) ObserveRead(uint64, uint64, bool)  {}
func (NoOpObserver) ObserveWrite(uint64, uint64, bool) {}
func (NoOpObserver) ObserveAccept(bool)                {}
func (NoOpObserver) ObserveFramesParsed(uint64)        {}
func (NoOpObserver) ObserveWritev(int, uint64)         {}

// MetricsObserver implements Observer by recording into a Metrics.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer backed by m.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveRead(bytes uint64, latencyNs uint64, success bool) {
	o.metrics.RecordRead(bytes, latencyNs, success)
}

func (o *MetricsObserver) ObserveWrite(bytes uint64, latencyNs uint64, success bool) {
	o.metrics.RecordWritev(bytes, latencyNs, success)
}

func (o *MetricsObserver) ObserveAccept(success bool) {
	o.metrics.RecordAccept(0, success)
}

func (o *MetricsObserver) ObserveFramesParsed(count uint64) {
	o.metrics.RecordFramesParsed(count)
}

func (o *MetricsObserver) ObserveWritev(frames int, bytes uint64) {
	// Frame-count granularity isn't tracked separately from byte
	// throughput today; bytes are what RecordWritev needs.
	_ = frames
}
