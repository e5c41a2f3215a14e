package controlplane

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	// tokenTTL is how long a registered auth token remains valid.
	tokenTTL = 24 * time.Hour

	peerTimeout  = 5 * time.Minute
	relayTimeout = 10 * time.Minute
	reapInterval = 60 * time.Second

	partyIDBytes = 6
	tokenBytes   = 32 // 256 bits of entropy, hex-encoded
)

// Store is the authoritative in-memory control-plane state: parties,
// peers, relay candidates, and auth tokens. All operations are safe for
// concurrent use.
type Store struct {
	now func() time.Time

	tokenTTL     time.Duration
	peerTimeout  time.Duration
	relayTimeout time.Duration
	reapInterval time.Duration

	mu      sync.RWMutex
	parties map[string]*PartyInfo
	tokens  map[string]AuthToken
	relays  map[string]RelayCandidate

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewStore creates an empty Store with the package's default timeouts.
// Call Start to run the background reaper.
func NewStore() *Store {
	return NewStoreWithConfig(StoreConfig{})
}

// StoreConfig overrides the Store's default timeouts. A zero field keeps
// the package default.
type StoreConfig struct {
	TokenTTL     time.Duration
	PeerTimeout  time.Duration
	RelayTimeout time.Duration
	ReapInterval time.Duration
}

// NewStoreWithConfig creates an empty Store using cfg's timeouts, falling
// back to the package defaults for any zero field. Used by cmd/control-server
// to thread configured timeouts in; NewStore's zero-arg form exists for
// callers and tests happy with the defaults.
func NewStoreWithConfig(cfg StoreConfig) *Store {
	s := &Store{
		now:          time.Now,
		tokenTTL:     tokenTTL,
		peerTimeout:  peerTimeout,
		relayTimeout: relayTimeout,
		reapInterval: reapInterval,
		parties:      make(map[string]*PartyInfo),
		tokens:       make(map[string]AuthToken),
		relays:       make(map[string]RelayCandidate),
	}
	if cfg.TokenTTL > 0 {
		s.tokenTTL = cfg.TokenTTL
	}
	if cfg.PeerTimeout > 0 {
		s.peerTimeout = cfg.PeerTimeout
	}
	if cfg.RelayTimeout > 0 {
		s.relayTimeout = cfg.RelayTimeout
	}
	if cfg.ReapInterval > 0 {
		s.reapInterval = cfg.ReapInterval
	}
	return s
}

// Start launches the background reaper, which runs until ctx is canceled
// or Stop is called.
func (s *Store) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go s.reapLoop(ctx)
}

// Stop cancels the background reaper and waits for it to exit.
func (s *Store) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Store) reapLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.reap()
		}
	}
}

// reap deletes stale peers, parties that have emptied out, expired
// tokens, and stale relay candidates. It runs as a single pass holding the
// store's write lock so it is safe against concurrent writers.
func (s *Store) reap() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	for partyID, party := range s.parties {
		for peerID, peer := range party.Peers {
			if now.Sub(peer.LastSeen) > s.peerTimeout {
				delete(party.Peers, peerID)
				slog.Info("controlplane: reaped stale peer", "party_id", partyID, "peer_id", peerID)
			}
		}
		if len(party.Peers) == 0 {
			delete(s.parties, partyID)
			slog.Info("controlplane: reaped empty party", "party_id", partyID)
		}
	}

	for token, t := range s.tokens {
		if t.Expired(now) {
			delete(s.tokens, token)
		}
	}

	for relayID, r := range s.relays {
		if now.Sub(r.LastSeen) > s.relayTimeout {
			delete(s.relays, relayID)
			slog.Info("controlplane: reaped stale relay", "relay_id", relayID)
		}
	}
}

func randomHexToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("controlplane: generate random token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// RegisterPeer issues a fresh 24-hour bearer token bound to peerID.
func (s *Store) RegisterPeer(peerID string) (AuthToken, error) {
	token, err := randomHexToken(tokenBytes)
	if err != nil {
		return AuthToken{}, err
	}

	now := s.now()
	t := AuthToken{
		Token:     token,
		PeerID:    peerID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.tokenTTL),
	}

	s.mu.Lock()
	s.tokens[token] = t
	s.mu.Unlock()

	return t, nil
}

// ValidateToken returns the peer_id bound to token, or ErrTokenInvalid if
// the token is unknown or expired.
func (s *Store) ValidateToken(token string) (string, error) {
	s.mu.RLock()
	t, ok := s.tokens[token]
	s.mu.RUnlock()
	if !ok || t.Expired(s.now()) {
		return "", ErrTokenInvalid
	}
	return t.PeerID, nil
}

// CreateParty creates a new party with hostPeer as its sole initial
// member and host. The party_id is a fresh 6-byte hex token; collisions
// (astronomically unlikely) are retried.
func (s *Store) CreateParty(name string, hostPeer PeerInfo) (PartyInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hostPeer.LastSeen = s.now()

	for attempt := 0; attempt < 5; attempt++ {
		partyID, err := randomHexToken(partyIDBytes)
		if err != nil {
			return PartyInfo{}, err
		}
		if _, exists := s.parties[partyID]; exists {
			continue
		}

		party := &PartyInfo{
			PartyID:   partyID,
			Name:      name,
			HostID:    hostPeer.PeerID,
			CreatedAt: s.now(),
			Peers:     map[string]PeerInfo{hostPeer.PeerID: hostPeer},
		}
		s.parties[partyID] = party
		slog.Info("controlplane: party created", "party_id", partyID, "host_id", hostPeer.PeerID)
		return *party, nil
	}

	return PartyInfo{}, fmt.Errorf("controlplane: exhausted party_id retries")
}

// JoinParty adds or refreshes peer's membership in partyID. Fails with
// ErrPartyNotFound if the party does not exist.
func (s *Store) JoinParty(partyID string, peer PeerInfo) (PartyInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	party, ok := s.parties[partyID]
	if !ok {
		return PartyInfo{}, ErrPartyNotFound
	}

	peer.LastSeen = s.now()
	party.Peers[peer.PeerID] = peer
	return *party, nil
}

// LeaveParty removes peerID from partyID. Deletion of the party is
// cascaded, transactionally with the removal, when the host leaves or the
// party empties out.
func (s *Store) LeaveParty(partyID, peerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	party, ok := s.parties[partyID]
	if !ok {
		return ErrPartyNotFound
	}
	if _, ok := party.Peers[peerID]; !ok {
		return ErrPeerNotFound
	}

	delete(party.Peers, peerID)
	if peerID == party.HostID || len(party.Peers) == 0 {
		delete(s.parties, partyID)
		slog.Info("controlplane: party deleted on leave", "party_id", partyID, "reason", "host left or party empty")
	}
	return nil
}

// GetParty returns a snapshot of partyID.
func (s *Store) GetParty(partyID string) (PartyInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	party, ok := s.parties[partyID]
	if !ok {
		return PartyInfo{}, ErrPartyNotFound
	}
	return *party, nil
}

// GetPeers returns a snapshot of every peer in partyID.
func (s *Store) GetPeers(partyID string) (map[string]PeerInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	party, ok := s.parties[partyID]
	if !ok {
		return nil, ErrPartyNotFound
	}
	peers := make(map[string]PeerInfo, len(party.Peers))
	for k, v := range party.Peers {
		peers[k] = v
	}
	return peers, nil
}

// DiscoverPeer returns peerID's entry within partyID.
func (s *Store) DiscoverPeer(partyID, peerID string) (PeerInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	party, ok := s.parties[partyID]
	if !ok {
		return PeerInfo{}, ErrPartyNotFound
	}
	peer, ok := party.Peers[peerID]
	if !ok {
		return PeerInfo{}, ErrPeerNotFound
	}
	return peer, nil
}

// Heartbeat advances peerID's last_seen timestamp in place. It never
// deletes and re-creates the peer's row, so a heartbeat can never overtake
// or reorder with a concurrent leave.
func (s *Store) Heartbeat(partyID, peerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	party, ok := s.parties[partyID]
	if !ok {
		return ErrPartyNotFound
	}
	peer, ok := party.Peers[peerID]
	if !ok {
		return ErrPeerNotFound
	}
	peer.LastSeen = s.now()
	party.Peers[peerID] = peer
	return nil
}

// RegisterRelay upserts a relay candidate's registration.
func (s *Store) RegisterRelay(relay RelayCandidate) RelayCandidate {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if existing, ok := s.relays[relay.RelayID]; ok {
		relay.RegisteredAt = existing.RegisteredAt
	} else {
		relay.RegisteredAt = now
	}
	relay.LastSeen = now
	s.relays[relay.RelayID] = relay
	return relay
}

// ListRelays returns every known relay candidate.
func (s *Store) ListRelays() []RelayCandidate {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]RelayCandidate, 0, len(s.relays))
	for _, r := range s.relays {
		out = append(out, r)
	}
	return out
}

// ListRelaysByRegion returns every known relay candidate tagged with the
// given region.
func (s *Store) ListRelaysByRegion(region string) []RelayCandidate {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []RelayCandidate
	for _, r := range s.relays {
		if r.Region == region {
			out = append(out, r)
		}
	}
	return out
}
