// Package metrics tracks per-peer latency, bandwidth, and session
// statistics, and derives an overall network quality score from them. An
// isolated Prometheus registry (see prom.go) mirrors the same numbers for
// scraping.
package metrics

import (
	"sync"
	"time"
)

// maxSamples bounds each peer's latency and CPU sliding windows.
const maxSamples = 360

// degradedLatencyMs is the latency above which a peer reads as Degraded.
const degradedLatencyMs = 200.0

// Status mirrors a peer's latency-derived connection health.
type Status string

const (
	StatusConnected    Status = "connected"
	StatusDegraded     Status = "degraded"
	StatusDisconnected Status = "disconnected"
)

type sample struct {
	at    time.Time
	value float64
}

// PeerSummary is a point-in-time view of one peer's tracked metrics.
type PeerSummary struct {
	PeerID            string
	PeerName          string
	Status            Status
	CurrentLatencyMs  *float64
	AverageLatencyMs  *float64
	MinLatencyMs      *float64
	MaxLatencyMs      *float64
	BytesSent         uint64
	BytesReceived     uint64
	PacketsSent       uint64
	PacketsReceived   uint64
	LastSeen          time.Time
}

type peerMetrics struct {
	peerID          string
	peerName        string
	status          Status
	latency         []sample
	bytesSent       uint64
	bytesReceived   uint64
	packetsSent     uint64
	packetsReceived uint64
	lastSeen        time.Time
}

// Session records latency statistics for a bounded game session.
type Session struct {
	GameID         string
	GameName       string
	StartedAt      time.Time
	EndedAt        time.Time
	Peers          []string
	AvgLatencyMs   *float64
	MinLatencyMs   *float64
	MaxLatencyMs   *float64
}

// maxSessions bounds the retained session history.
const maxSessions = 100

// Collector tracks metrics for every peer this node has seen, plus a
// rolling history of game sessions.
type Collector struct {
	now func() time.Time

	mu            sync.RWMutex
	peers         map[string]*peerMetrics
	cpuWindow     []sample
	sessions      []Session
	activeSession *Session

	prom *Prom
}

// New creates an empty Collector. prom may be nil to skip Prometheus
// mirroring.
func New(prom *Prom) *Collector {
	return &Collector{
		now:   time.Now,
		peers: make(map[string]*peerMetrics),
		prom:  prom,
	}
}

// AddPeer begins tracking peerID. Re-adding an already-tracked peer is a
// no-op.
func (c *Collector) AddPeer(peerID, peerName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.peers[peerID]; ok {
		return
	}
	c.peers[peerID] = &peerMetrics{
		peerID:   peerID,
		peerName: peerName,
		status:   StatusConnected,
		lastSeen: c.now(),
	}
}

// RemovePeer marks peerID Disconnected without discarding its history.
func (c *Collector) RemovePeer(peerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.peers[peerID]; ok {
		p.status = StatusDisconnected
	}
}

// RecordLatency records a latency sample for peerID. A nil sample (no
// measurement obtained) or a sample above degradedLatencyMs marks the
// peer Degraded; otherwise it marks Connected. Unknown peers are
// ignored.
func (c *Collector) RecordLatency(peerID string, ms *float64) {
	c.mu.Lock()
	p, ok := c.peers[peerID]
	if !ok {
		c.mu.Unlock()
		return
	}

	now := c.now()
	if ms != nil {
		p.latency = appendBounded(p.latency, sample{at: now, value: *ms}, maxSamples)
		p.lastSeen = now
		if *ms > degradedLatencyMs {
			p.status = StatusDegraded
		} else {
			p.status = StatusConnected
		}
	} else {
		p.status = StatusDegraded
	}
	c.mu.Unlock()

	if c.prom != nil {
		c.prom.observeLatency(peerID, ms)
		c.prom.setPeerStatus(peerID, string(p.status))
	}
}

// RecordBandwidth adds sent/received byte and packet counts to peerID's
// cumulative totals.
func (c *Collector) RecordBandwidth(peerID string, bytesSent, bytesReceived uint64, packetsSent, packetsReceived uint64) {
	c.mu.Lock()
	p, ok := c.peers[peerID]
	if ok {
		p.bytesSent += bytesSent
		p.bytesReceived += bytesReceived
		p.packetsSent += packetsSent
		p.packetsReceived += packetsReceived
	}
	c.mu.Unlock()

	if ok && c.prom != nil {
		c.prom.addBandwidth(peerID, bytesSent, bytesReceived)
	}
}

// RecordCPUPercent appends a system CPU utilization sample used by
// NetworkQualityScore.
func (c *Collector) RecordCPUPercent(pct float64) {
	c.mu.Lock()
	c.cpuWindow = appendBounded(c.cpuWindow, sample{at: c.now(), value: pct}, maxSamples)
	c.mu.Unlock()

	if c.prom != nil {
		c.prom.setCPUPercent(pct)
	}
}

// PeerSummary reports peerID's latency and bandwidth statistics. The
// second return value is false for an untracked peer.
func (c *Collector) PeerSummary(peerID string) (PeerSummary, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.peers[peerID]
	if !ok {
		return PeerSummary{}, false
	}
	return summarize(p), true
}

// AllPeerSummaries reports every tracked peer's summary.
func (c *Collector) AllPeerSummaries() []PeerSummary {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]PeerSummary, 0, len(c.peers))
	for _, p := range c.peers {
		out = append(out, summarize(p))
	}
	return out
}

func summarize(p *peerMetrics) PeerSummary {
	values := make([]float64, len(p.latency))
	for i, s := range p.latency {
		values[i] = s.value
	}
	avg, min, max, cur := stats(values)
	return PeerSummary{
		PeerID:           p.peerID,
		PeerName:         p.peerName,
		Status:           p.status,
		CurrentLatencyMs: cur,
		AverageLatencyMs: avg,
		MinLatencyMs:     min,
		MaxLatencyMs:     max,
		BytesSent:        p.bytesSent,
		BytesReceived:    p.bytesReceived,
		PacketsSent:      p.packetsSent,
		PacketsReceived:  p.packetsReceived,
		LastSeen:         p.lastSeen,
	}
}

func stats(values []float64) (avg, min, max, current *float64) {
	if len(values) == 0 {
		return nil, nil, nil, nil
	}
	sum := 0.0
	lo, hi := values[0], values[0]
	for _, v := range values {
		sum += v
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	a := sum / float64(len(values))
	c := values[len(values)-1]
	return &a, &lo, &hi, &c
}

func appendBounded(s []sample, v sample, cap int) []sample {
	s = append(s, v)
	if len(s) > cap {
		s = append([]sample{}, s[len(s)-cap:]...)
	}
	return s
}

// StartSession begins tracking a new game session, replacing any active
// one without closing it.
func (c *Collector) StartSession(gameID, gameName string, peers []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	peersCopy := append([]string{}, peers...)
	c.activeSession = &Session{
		GameID:    gameID,
		GameName:  gameName,
		StartedAt: c.now(),
		Peers:     peersCopy,
	}
}

// EndSession closes the active session, computing aggregate latency
// statistics across its peers' latency windows, and appends it to the
// bounded session history. It is a no-op if no session is active.
func (c *Collector) EndSession() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.activeSession == nil {
		return
	}

	session := *c.activeSession
	session.EndedAt = c.now()

	var all []float64
	for _, peerID := range session.Peers {
		p, ok := c.peers[peerID]
		if !ok {
			continue
		}
		for _, s := range p.latency {
			all = append(all, s.value)
		}
	}
	if avg, min, max, _ := stats(all); avg != nil {
		session.AvgLatencyMs, session.MinLatencyMs, session.MaxLatencyMs = avg, min, max
	}

	c.sessions = append(c.sessions, session)
	if len(c.sessions) > maxSessions {
		c.sessions = append([]Session{}, c.sessions[len(c.sessions)-maxSessions:]...)
	}
	c.activeSession = nil
}

// Sessions returns the most recent sessions, oldest first, capped at
// limit.
func (c *Collector) Sessions(limit int) []Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if limit <= 0 || limit > len(c.sessions) {
		limit = len(c.sessions)
	}
	start := len(c.sessions) - limit
	out := make([]Session, limit)
	copy(out, c.sessions[start:])
	return out
}

// NetworkQualityScore combines every tracked peer's latency score with
// the system CPU score into a single value in [0, 100]. latency_score =
// max(0, 100 - avg_latency_ms/5); cpu_score = max(0, 100 - avg_cpu_pct).
// With no samples at all it returns 100 (nothing observed, nothing
// wrong).
func (c *Collector) NetworkQualityScore() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var scores []float64
	for _, p := range c.peers {
		if len(p.latency) == 0 {
			continue
		}
		sum := 0.0
		for _, s := range p.latency {
			sum += s.value
		}
		avg := sum / float64(len(p.latency))
		scores = append(scores, clampScore(100-avg/5))
	}

	if len(c.cpuWindow) > 0 {
		sum := 0.0
		for _, s := range c.cpuWindow {
			sum += s.value
		}
		avg := sum / float64(len(c.cpuWindow))
		scores = append(scores, clampScore(100-avg))
	}

	if len(scores) == 0 {
		return 100.0
	}
	sum := 0.0
	for _, s := range scores {
		sum += s
	}
	score := sum / float64(len(scores))

	if c.prom != nil {
		c.prom.setQualityScore(score)
	}
	return score
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
