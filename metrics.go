package grpcexec

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the resume-to-completion latency histogram buckets
// in nanoseconds, covering 1us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,          // 1us
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 8

// Metrics tracks driver-loop and queue-discipline statistics for a Context.
// All fields are safe for concurrent access; producers on other goroutines
// update the remote-queue counters, the driver goroutine updates the rest.
type Metrics struct {
	// Queue-discipline counters.
	LocalDrains     atomic.Uint64 // number of local-queue drain passes (driver iterations)
	OperationsRun   atomic.Uint64 // operations whose resume function has run
	RemoteEnqueues  atomic.Uint64 // operations appended to the remote queue
	RemoteMigration atomic.Uint64 // batches moved from remote to local queue
	WakeUpsSent     atomic.Uint64 // Alarm.Set calls (should equal inactive->active transitions)
	WakeUpsObserved atomic.Uint64 // sentinel tags consumed by the driver

	// Completion counters, summed over all verbs.
	CompletionsOK    atomic.Uint64 // completions delivered with ok=true
	CompletionsNotOK atomic.Uint64 // completions delivered with ok=false

	// Performance tracking.
	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64

	// Latency histogram buckets (cumulative counts); bucket[i] counts
	// completions whose resume-to-completion latency was <= LatencyBuckets[i].
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	// Uptime window. Context.Run sets neither field.
	StartTime atomic.Int64 // set by NewMetrics and Reset (UnixNano)
	StopTime  atomic.Int64 // set by Stop; zero until then (UnixNano)
}

// NewMetrics creates a new, zeroed metrics instance.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordLocalDrain records one driver-loop drain-local pass.
func (m *Metrics) RecordLocalDrain() {
	m.LocalDrains.Add(1)
}

// RecordOperationRun records that an operation's resume function executed.
func (m *Metrics) RecordOperationRun(latencyNs uint64, ok bool) {
	m.OperationsRun.Add(1)
	if ok {
		m.CompletionsOK.Add(1)
	} else {
		m.CompletionsNotOK.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordRemoteEnqueue records an operation appended to the remote queue,
// and whether the enqueuing producer observed the inactive->active
// transition (and so is obligated to signal the Alarm).
func (m *Metrics) RecordRemoteEnqueue(wasInactive bool) {
	m.RemoteEnqueues.Add(1)
	if wasInactive {
		m.WakeUpsSent.Add(1)
	}
}

// RecordRemoteMigration records one non-empty drain of the remote queue
// into the local queue.
func (m *Metrics) RecordRemoteMigration() {
	m.RemoteMigration.Add(1)
}

// RecordWakeUpObserved records the driver consuming the wake-up sentinel.
func (m *Metrics) RecordWakeUpObserved() {
	m.WakeUpsObserved.Add(1)
}

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop records the current time as StopTime, freezing the UptimeNs that
// later snapshots report. Context.Run does not call it.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time snapshot of Metrics.
type MetricsSnapshot struct {
	LocalDrains     uint64
	OperationsRun   uint64
	RemoteEnqueues  uint64
	RemoteMigration uint64
	WakeUpsSent     uint64
	WakeUpsObserved uint64

	CompletionsOK    uint64
	CompletionsNotOK uint64

	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64

	TotalCompletions uint64
	ErrorRate        float64 // fraction of completions delivered with ok=false
}

// Snapshot creates a point-in-time snapshot of the metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		LocalDrains:      m.LocalDrains.Load(),
		OperationsRun:    m.OperationsRun.Load(),
		RemoteEnqueues:   m.RemoteEnqueues.Load(),
		RemoteMigration:  m.RemoteMigration.Load(),
		WakeUpsSent:      m.WakeUpsSent.Load(),
		WakeUpsObserved:  m.WakeUpsObserved.Load(),
		CompletionsOK:    m.CompletionsOK.Load(),
		CompletionsNotOK: m.CompletionsNotOK.Load(),
	}

	snap.TotalCompletions = snap.CompletionsOK + snap.CompletionsNotOK

	totalLatencyNs := m.TotalLatencyNs.Load()
	opCount := m.OpCount.Load()
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

	if snap.TotalCompletions > 0 {
		snap.ErrorRate = float64(snap.CompletionsNotOK) / float64(snap.TotalCompletions)
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

// calculatePercentile estimates the latency at the given percentile (0.0-1.0)
// using linear interpolation between histogram buckets.
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

// Observer receives live notifications of driver-loop events, in addition
// to the atomic counters accumulated in Metrics. Implementations must not
// block: ObserveLocalDrain and ObserveOperationRun are invoked from the
// driver goroutine's hot path, and ObserveRemoteEnqueue from whichever
// producer goroutine enqueued the operation.
type Observer interface {
	ObserveLocalDrain()
	ObserveOperationRun(verb string, latencyNs uint64, ok bool)
	ObserveRemoteEnqueue(wasInactive bool)
}

// NoOpObserver discards all observations. It is the default Observer.
type NoOpObserver struct{}

func (NoOpObserver) ObserveLocalDrain()                                         {}
func (NoOpObserver) ObserveOperationRun(verb string, latencyNs uint64, ok bool) {}
func (NoOpObserver) ObserveRemoteEnqueue(wasInactive bool)                      {}

// MetricsObserver forwards observations into a Metrics instance.
type MetricsObserver struct {
	m *Metrics
}

// NewMetricsObserver returns an Observer that records into m.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{m: m}
}

func (o *MetricsObserver) ObserveLocalDrain() {
	o.m.RecordLocalDrain()
}

func (o *MetricsObserver) ObserveOperationRun(verb string, latencyNs uint64, ok bool) {
	o.m.RecordOperationRun(latencyNs, ok)
}

func (o *MetricsObserver) ObserveRemoteEnqueue(wasInactive bool) {
	o.m.RecordRemoteEnqueue(wasInactive)
}

// Reset zeroes all counters. Useful for tests.
func (m *Metrics) Reset() {
	m.LocalDrains.Store(0)
	m.OperationsRun.Store(0)
	m.RemoteEnqueues.Store(0)
	m.RemoteMigration.Store(0)
	m.WakeUpsSent.Store(0)
	m.WakeUpsObserved.Store(0)
	m.CompletionsOK.Store(0)
	m.CompletionsNotOK.Store(0)
	m.TotalLatencyNs.Store(0)
	m.OpCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}
