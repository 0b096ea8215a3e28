package vm

import (
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// latencySamples is how many recent samples each latency window keeps
const latencySamples = 4096

// latencyWindow keeps the most recent latency samples in a ring
type latencyWindow struct {
	mu      sync.Mutex
	samples []time.Duration
	next    int
	full    bool
}

func newLatencyWindow(size int) *latencyWindow {
	return &latencyWindow{samples: make([]time.Duration, size)}
}

func (w *latencyWindow) record(d time.Duration) {
	w.mu.Lock()
	w.samples[w.next] = d
	w.next++
	if w.next == len(w.samples) {
		w.next = 0
		w.full = true
	}
	w.mu.Unlock()
}

func (w *latencyWindow) reset() {
	w.mu.Lock()
	w.next = 0
	w.full = false
	w.mu.Unlock()
}

// LatencySnapshot summarises a latency window, in microseconds
type LatencySnapshot struct {
	Count int
	Mean  float64
	P50   float64
	P95   float64
	P99   float64
}

// snapshot sorts a copy of the window and reads nearest-rank percentiles
func (w *latencyWindow) snapshot() LatencySnapshot {
	w.mu.Lock()
	n := w.next
	if w.full {
		n = len(w.samples)
	}
	sorted := slices.Clone(w.samples[:n])
	w.mu.Unlock()

	if n == 0 {
		return LatencySnapshot{}
	}
	slices.Sort(sorted)

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	rank := func(p int) float64 { return micros(sorted[(n-1)*p/100]) }
	return LatencySnapshot{
		Count: n,
		Mean:  micros(sum) / float64(n),
		P50:   rank(50),
		P95:   rank(95),
		P99:   rank(99),
	}
}

func micros(d time.Duration) float64 {
	return float64(d) / float64(time.Microsecond)
}

// Metrics tracks memory manager activity
type Metrics struct {
	// Paging
	pageFaults  atomic.Uint64
	zeroFills   atomic.Uint64
	imageLoads  atomic.Uint64
	evictions   atomic.Uint64
	cleanDrops  atomic.Uint64 // evictions that needed no swap write
	frameWaits  atomic.Uint64 // sleeps because every frame was pinned
	swapIns     atomic.Uint64
	swapOuts    atomic.Uint64
	bytesStored atomic.Uint64 // swap bytes written, headers included

	// Swap encodings actually stored
	rawSlots    atomic.Uint64
	lz4Slots    atomic.Uint64
	snappySlots atomic.Uint64

	faultLatency   *latencyWindow
	swapOutLatency *latencyWindow
	swapInLatency  *latencyWindow

	startTime time.Time
	mu        sync.RWMutex
}

// NewMetrics creates a new metrics tracker
func NewMetrics() *Metrics {
	return &Metrics{
		startTime:      time.Now(),
		faultLatency:   newLatencyWindow(latencySamples),
		swapOutLatency: newLatencyWindow(latencySamples),
		swapInLatency:  newLatencyWindow(latencySamples),
	}
}

func (m *Metrics) RecordPageFault(duration time.Duration) {
	m.pageFaults.Add(1)
	m.faultLatency.record(duration)
}

func (m *Metrics) RecordZeroFill() {
	m.zeroFills.Add(1)
}

func (m *Metrics) RecordImageLoad() {
	m.imageLoads.Add(1)
}

func (m *Metrics) RecordEviction(wroteSwap bool) {
	m.evictions.Add(1)
	if !wroteSwap {
		m.cleanDrops.Add(1)
	}
}

func (m *Metrics) RecordFrameWait() {
	m.frameWaits.Add(1)
}

// RecordSwapOut records one slot write of n bytes stored with encoding c
func (m *Metrics) RecordSwapOut(duration time.Duration, n int, c Compression) {
	m.swapOuts.Add(1)
	m.bytesStored.Add(uint64(n))
	m.swapOutLatency.record(duration)

	switch c {
	case CompressionLZ4:
		m.lz4Slots.Add(1)
	case CompressionSnappy:
		m.snappySlots.Add(1)
	default:
		m.rawSlots.Add(1)
	}
}

func (m *Metrics) RecordSwapIn(duration time.Duration) {
	m.swapIns.Add(1)
	m.swapInLatency.record(duration)
}

// Getters

func (m *Metrics) GetPageFaults() uint64 {
	return m.pageFaults.Load()
}

func (m *Metrics) GetZeroFills() uint64 {
	return m.zeroFills.Load()
}

func (m *Metrics) GetImageLoads() uint64 {
	return m.imageLoads.Load()
}

func (m *Metrics) GetEvictions() uint64 {
	return m.evictions.Load()
}

func (m *Metrics) GetCleanDrops() uint64 {
	return m.cleanDrops.Load()
}

func (m *Metrics) GetFrameWaits() uint64 {
	return m.frameWaits.Load()
}

func (m *Metrics) GetSwapIns() uint64 {
	return m.swapIns.Load()
}

func (m *Metrics) GetSwapOuts() uint64 {
	return m.swapOuts.Load()
}

func (m *Metrics) GetBytesStored() uint64 {
	return m.bytesStored.Load()
}

// GetCompressedSlots returns how many swap writes were stored compressed
func (m *Metrics) GetCompressedSlots() uint64 {
	return m.lz4Slots.Load() + m.snappySlots.Load()
}

func (m *Metrics) GetUptime() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return time.Since(m.startTime)
}

func (m *Metrics) GetFaultLatency() LatencySnapshot {
	return m.faultLatency.snapshot()
}

func (m *Metrics) GetSwapOutLatency() LatencySnapshot {
	return m.swapOutLatency.snapshot()
}

func (m *Metrics) GetSwapInLatency() LatencySnapshot {
	return m.swapInLatency.snapshot()
}

// LogMetrics logs all metrics using structured logging
func (m *Metrics) LogMetrics(logger *slog.Logger) {
	fault := m.GetFaultLatency()
	swapOut := m.GetSwapOutLatency()
	swapIn := m.GetSwapInLatency()

	logger.Info("Memory Manager Metrics",
		slog.Group("paging",
			slog.Uint64("page_faults", m.GetPageFaults()),
			slog.Uint64("zero_fills", m.GetZeroFills()),
			slog.Uint64("image_loads", m.GetImageLoads()),
			slog.Uint64("evictions", m.GetEvictions()),
			slog.Uint64("clean_drops", m.GetCleanDrops()),
			slog.Uint64("frame_waits", m.GetFrameWaits()),
		),
		slog.Group("swap",
			slog.Uint64("swap_ins", m.GetSwapIns()),
			slog.Uint64("swap_outs", m.GetSwapOuts()),
			slog.Uint64("bytes_stored", m.GetBytesStored()),
			slog.Uint64("raw_slots", m.rawSlots.Load()),
			slog.Uint64("lz4_slots", m.lz4Slots.Load()),
			slog.Uint64("snappy_slots", m.snappySlots.Load()),
		),
		slog.Group("latency_us",
			slog.Group("page_fault",
				slog.Int("count", fault.Count),
				slog.Float64("mean", fault.Mean),
				slog.Float64("p50", fault.P50),
				slog.Float64("p95", fault.P95),
				slog.Float64("p99", fault.P99),
			),
			slog.Group("swap_out",
				slog.Int("count", swapOut.Count),
				slog.Float64("mean", swapOut.Mean),
				slog.Float64("p99", swapOut.P99),
			),
			slog.Group("swap_in",
				slog.Int("count", swapIn.Count),
				slog.Float64("mean", swapIn.Mean),
				slog.Float64("p99", swapIn.P99),
			),
		),
		slog.Duration("uptime", m.GetUptime()),
	)
}

// Reset resets all metrics (useful for testing)
func (m *Metrics) Reset() {
	m.pageFaults.Store(0)
	m.zeroFills.Store(0)
	m.imageLoads.Store(0)
	m.evictions.Store(0)
	m.cleanDrops.Store(0)
	m.frameWaits.Store(0)
	m.swapIns.Store(0)
	m.swapOuts.Store(0)
	m.bytesStored.Store(0)
	m.rawSlots.Store(0)
	m.lz4Slots.Store(0)
	m.snappySlots.Store(0)

	m.faultLatency.reset()
	m.swapOutLatency.reset()
	m.swapInLatency.reset()

	m.mu.Lock()
	m.startTime = time.Now()
	m.mu.Unlock()
}
