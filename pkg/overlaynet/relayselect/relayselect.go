// Package relayselect scores relay candidates and chooses between a direct
// peer-to-peer path and a relayed one.
package relayselect

import (
	"math"
	"sort"
	"sync"
	"time"
)

// Candidate describes a relay's health and load as last reported by the
// control plane.
type Candidate struct {
	RelayID     string
	Region      string
	HealthScore float64
	LoadPercent float64
	// PeerQuality maps a peer ID to that peer's observed quality (0-100)
	// of its path to this relay.
	PeerQuality map[string]float64
}

// Mode is the outcome of a selection: either a direct path or a relay.
type Mode string

const (
	ModeDirect Mode = "direct"
	ModeRelay  Mode = "relay"
)

// Selection is the result of Select.
type Selection struct {
	Mode           Mode
	SelectedRelay  string
	Score          float64
	Reason         string
	FallbackRelays []string
}

const (
	// DefaultDirectThreshold is the combined direct-quality score above
	// which a direct connection is always preferred over any relay.
	DefaultDirectThreshold = 80.0
	// DefaultFailoverCooldown is how long a relay is excluded from
	// selection after being marked failed.
	DefaultFailoverCooldown = 2 * time.Second

	regionBonus = 5.0
)

// Selector chooses between direct and relayed paths for a peer pair.
type Selector struct {
	directThreshold  float64
	failoverCooldown time.Duration
	now              func() time.Time

	mu     sync.Mutex
	failed map[string]time.Time
}

// New creates a Selector. A non-positive directThreshold or
// failoverCooldown falls back to the package defaults.
func New(directThreshold float64, failoverCooldown time.Duration) *Selector {
	if directThreshold <= 0 {
		directThreshold = DefaultDirectThreshold
	}
	if failoverCooldown <= 0 {
		failoverCooldown = DefaultFailoverCooldown
	}
	return &Selector{
		directThreshold:  directThreshold,
		failoverCooldown: failoverCooldown,
		now:              time.Now,
		failed:           make(map[string]time.Time),
	}
}

// MarkFailed excludes relayID from selection until the failover cooldown
// elapses.
func (s *Selector) MarkFailed(relayID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed[relayID] = s.now()
}

func (s *Selector) isTemporarilyFailed(relayID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	failedAt, ok := s.failed[relayID]
	if !ok {
		return false
	}
	if s.now().Sub(failedAt) >= s.failoverCooldown {
		delete(s.failed, relayID)
		return false
	}
	return true
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// scoreRelay combines the path quality the two peers observe to this
// relay with its health and load, optionally boosted by region affinity.
func scoreRelay(c Candidate, peerA, peerB string, preferredRegion string) float64 {
	qa := clamp(c.PeerQuality[peerA])
	qb := clamp(c.PeerQuality[peerB])
	pathQuality := math.Sqrt(qa * qb)

	health := clamp(c.HealthScore)
	load := clamp(c.LoadPercent)
	loadFactor := 1.0 - load/100.0

	score := (pathQuality*0.7 + health*0.3) * loadFactor

	if preferredRegion != "" && c.Region == preferredRegion {
		score += regionBonus
	}

	return clamp(score)
}

// Select chooses a connection strategy for peerA and peerB. directQualityA
// and directQualityB are each peer's observed quality (0-100) of a direct
// path to the other. candidates are the relays known to the control plane;
// the selector considers all of them except those still in cooldown from a
// recent MarkFailed call.
func (s *Selector) Select(peerA, peerB string, directQualityA, directQualityB float64, candidates []Candidate, preferredRegion string) Selection {
	directScore := math.Sqrt(clamp(directQualityA) * clamp(directQualityB))
	if directScore >= s.directThreshold {
		return Selection{
			Mode:   ModeDirect,
			Score:  directScore,
			Reason: "direct_quality_above_threshold",
		}
	}

	type scored struct {
		candidate Candidate
		score     float64
	}
	var viable []scored
	for _, c := range candidates {
		if s.isTemporarilyFailed(c.RelayID) {
			continue
		}
		viable = append(viable, scored{c, scoreRelay(c, peerA, peerB, preferredRegion)})
	}

	if len(viable) == 0 {
		return Selection{
			Mode:   ModeDirect,
			Score:  directScore,
			Reason: "no_viable_relay",
		}
	}

	sort.Slice(viable, func(i, j int) bool { return viable[i].score > viable[j].score })

	var fallback []string
	for _, v := range viable[1:] {
		if len(fallback) == 2 {
			break
		}
		fallback = append(fallback, v.candidate.RelayID)
	}

	return Selection{
		Mode:           ModeRelay,
		SelectedRelay:  viable[0].candidate.RelayID,
		Score:          viable[0].score,
		Reason:         "relay_selected",
		FallbackRelays: fallback,
	}
}
