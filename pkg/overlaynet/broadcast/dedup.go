package broadcast

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultDedupWindow is how long a fingerprint is remembered.
	DefaultDedupWindow = 2 * time.Second
	// defaultCleanupInterval paces the background sweep that evicts
	// expired fingerprints.
	defaultCleanupInterval = 500 * time.Millisecond
)

// DedupMetrics summarizes a Deduplicator's lifetime activity.
type DedupMetrics struct {
	Total         uint64  `json:"total_packets"`
	Forwarded     uint64  `json:"forwarded_packets"`
	Deduplicated  uint64  `json:"deduplicated_packets"`
	DedupRate     float64 `json:"deduplicate_rate"`
	TrackedHashes int     `json:"tracked_hashes"`
}

// Deduplicator suppresses repeat broadcast/multicast packets within a
// sliding time window, keyed by packet fingerprint. It is a runtime
// toggle: when disabled every packet is reported as forwardable.
type Deduplicator struct {
	window time.Duration
	now    func() time.Time

	enabled atomic.Bool

	mu   sync.Mutex
	seen map[[32]byte]time.Time

	total        atomic.Uint64
	forwarded    atomic.Uint64
	deduplicated atomic.Uint64

	cleanupInterval time.Duration
	cancel          context.CancelFunc
	wg              sync.WaitGroup
}

// NewDeduplicator creates a Deduplicator with the given window. A
// non-positive window falls back to DefaultDedupWindow. The deduplicator
// starts enabled.
func NewDeduplicator(window time.Duration) *Deduplicator {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	d := &Deduplicator{
		window:          window,
		now:             time.Now,
		seen:            make(map[[32]byte]time.Time),
		cleanupInterval: defaultCleanupInterval,
	}
	d.enabled.Store(true)
	return d
}

// Enable turns deduplication on.
func (d *Deduplicator) Enable() { d.enabled.Store(true) }

// Disable turns deduplication off; ShouldForward then always returns true.
func (d *Deduplicator) Disable() { d.enabled.Store(false) }

// ShouldForward reports whether p has not been seen within the
// deduplication window (and records it if so). Echo-prevention against a
// known source peer is handled by the caller (Manager), not here.
func (d *Deduplicator) ShouldForward(p Packet) bool {
	d.total.Add(1)

	if !d.enabled.Load() {
		d.forwarded.Add(1)
		return true
	}

	fp := p.Fingerprint()

	d.mu.Lock()
	defer d.mu.Unlock()
	if seenAt, seen := d.seen[fp]; seen && d.now().Sub(seenAt) <= d.window {
		d.deduplicated.Add(1)
		return false
	}
	d.seen[fp] = d.now()
	d.forwarded.Add(1)
	return true
}

// Metrics returns a snapshot of the deduplicator's counters.
func (d *Deduplicator) Metrics() DedupMetrics {
	total := d.total.Load()
	dedup := d.deduplicated.Load()
	rate := 0.0
	if total > 0 {
		rate = float64(dedup) / float64(total)
	}

	d.mu.Lock()
	tracked := len(d.seen)
	d.mu.Unlock()

	return DedupMetrics{
		Total:         total,
		Forwarded:     d.forwarded.Load(),
		Deduplicated:  dedup,
		DedupRate:     rate,
		TrackedHashes: tracked,
	}
}

// Start launches the background sweep that evicts expired fingerprints.
func (d *Deduplicator) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.wg.Add(1)
	go d.cleanupLoop(ctx)
}

// Stop cancels the background sweep and waits for it to exit.
func (d *Deduplicator) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
}

func (d *Deduplicator) cleanupLoop(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.sweep()
		}
	}
}

func (d *Deduplicator) sweep() {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	for fp, seenAt := range d.seen {
		if now.Sub(seenAt) > d.window {
			delete(d.seen, fp)
		}
	}
}
