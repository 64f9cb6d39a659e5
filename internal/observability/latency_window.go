package observability

import (
	"math"
	"slices"
	"sync"
	"time"
)

// StageLatency summarizes the recent samples of one cycle stage.
type StageLatency struct {
	Samples int     `json:"samples"`
	LastMS  float64 `json:"last_ms"`
	MeanMS  float64 `json:"mean_ms"`
	P50MS   float64 `json:"p50_ms"`
	P95MS   float64 `json:"p95_ms"`
	MaxMS   float64 `json:"max_ms"`
}

// LatencySnapshot is served by /v1/perf/latency.
type LatencySnapshot struct {
	GeneratedAt     time.Time    `json:"generated_at"`
	WindowSize      int          `json:"window_size"`
	FirstChunk      StageLatency `json:"submit_to_first_chunk"`
	Reply           StageLatency `json:"submit_to_reply"`
	MalformedChunks int          `json:"malformed_chunks"`
	FailedCycles    int          `json:"failed_cycles"`
}

// latencyWindow keeps the last size samples of each cycle stage plus
// counters of what went wrong since the last reset.
type latencyWindow struct {
	mu         sync.Mutex
	size       int
	firstChunk ring
	reply      ring
	malformed  int
	failed     int
}

type ring struct {
	values []float64
	next   int
	full   bool
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = 256
	}
	return &latencyWindow{size: size}
}

func (w *latencyWindow) observeFirstChunk(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.firstChunk.add(w.size, toMS(d))
}

func (w *latencyWindow) observeReply(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.reply.add(w.size, toMS(d))
}

func (w *latencyWindow) countMalformed() {
	w.mu.Lock()
	w.malformed++
	w.mu.Unlock()
}

func (w *latencyWindow) countFailed() {
	w.mu.Lock()
	w.failed++
	w.mu.Unlock()
}

func (w *latencyWindow) snapshot() LatencySnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return LatencySnapshot{
		GeneratedAt:     time.Now().UTC(),
		WindowSize:      w.size,
		FirstChunk:      w.firstChunk.stats(),
		Reply:           w.reply.stats(),
		MalformedChunks: w.malformed,
		FailedCycles:    w.failed,
	}
}

func (w *latencyWindow) reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.firstChunk = ring{}
	w.reply = ring{}
	w.malformed = 0
	w.failed = 0
}

func (r *ring) add(size int, ms float64) {
	if ms < 0 {
		return
	}
	if r.values == nil {
		r.values = make([]float64, size)
	}
	r.values[r.next] = ms
	r.next++
	if r.next == len(r.values) {
		r.next = 0
		r.full = true
	}
}

// stats uses nearest-rank percentiles over the retained samples.
func (r *ring) stats() StageLatency {
	n := r.next
	if r.full {
		n = len(r.values)
	}
	if n == 0 {
		return StageLatency{}
	}
	last := r.values[(r.next-1+len(r.values))%len(r.values)]
	sorted := slices.Clone(r.values[:n])
	slices.Sort(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	rank := func(p float64) float64 {
		i := int(math.Ceil(p*float64(n))) - 1
		return sorted[max(i, 0)]
	}
	return StageLatency{
		Samples: n,
		LastMS:  round2(last),
		MeanMS:  round2(sum / float64(n)),
		P50MS:   round2(rank(0.50)),
		P95MS:   round2(rank(0.95)),
		MaxMS:   round2(sorted[n-1]),
	}
}

func toMS(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
