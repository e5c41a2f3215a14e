package controlplane

import (
	"errors"
	"testing"
	"time"
)

func newTestStore(now time.Time) *Store {
	s := NewStore()
	s.now = func() time.Time { return now }
	return s
}

func TestCreatePartyAndGet(t *testing.T) {
	s := newTestStore(time.Now())
	host := PeerInfo{PeerID: "host-1", Name: "Host"}

	party, err := s.CreateParty("game night", host)
	if err != nil {
		t.Fatalf("CreateParty: %v", err)
	}
	if len(party.PartyID) != 12 { // 6 bytes hex-encoded
		t.Errorf("party_id length = %d, want 12", len(party.PartyID))
	}
	if party.HostID != "host-1" {
		t.Errorf("HostID = %s, want host-1", party.HostID)
	}

	got, err := s.GetParty(party.PartyID)
	if err != nil {
		t.Fatalf("GetParty: %v", err)
	}
	if len(got.Peers) != 1 {
		t.Errorf("Peers = %d, want 1", len(got.Peers))
	}
}

func TestJoinAndLeaveParty(t *testing.T) {
	s := newTestStore(time.Now())
	host := PeerInfo{PeerID: "host-1"}
	party, _ := s.CreateParty("p", host)

	joined, err := s.JoinParty(party.PartyID, PeerInfo{PeerID: "peer-2"})
	if err != nil {
		t.Fatalf("JoinParty: %v", err)
	}
	if len(joined.Peers) != 2 {
		t.Fatalf("Peers = %d, want 2", len(joined.Peers))
	}

	if err := s.LeaveParty(party.PartyID, "peer-2"); err != nil {
		t.Fatalf("LeaveParty: %v", err)
	}
	got, err := s.GetParty(party.PartyID)
	if err != nil {
		t.Fatalf("GetParty after leave: %v", err)
	}
	if len(got.Peers) != 1 {
		t.Fatalf("Peers after leave = %d, want 1", len(got.Peers))
	}
}

func TestLeavePartyCascadesWhenHostLeaves(t *testing.T) {
	s := newTestStore(time.Now())
	host := PeerInfo{PeerID: "host-1"}
	party, _ := s.CreateParty("p", host)
	s.JoinParty(party.PartyID, PeerInfo{PeerID: "peer-2"})

	if err := s.LeaveParty(party.PartyID, "host-1"); err != nil {
		t.Fatalf("LeaveParty: %v", err)
	}
	if _, err := s.GetParty(party.PartyID); !errors.Is(err, ErrPartyNotFound) {
		t.Fatalf("expected party to be deleted, got err=%v", err)
	}
}

func TestJoinUnknownPartyFails(t *testing.T) {
	s := newTestStore(time.Now())
	if _, err := s.JoinParty("ffffffffffff", PeerInfo{PeerID: "x"}); !errors.Is(err, ErrPartyNotFound) {
		t.Fatalf("err = %v, want ErrPartyNotFound", err)
	}
}

func TestHeartbeatAdvancesLastSeenInPlace(t *testing.T) {
	now := time.Now()
	s := newTestStore(now)
	host := PeerInfo{PeerID: "host-1"}
	party, _ := s.CreateParty("p", host)

	later := now.Add(1 * time.Minute)
	s.now = func() time.Time { return later }
	if err := s.Heartbeat(party.PartyID, "host-1"); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}

	peer, err := s.DiscoverPeer(party.PartyID, "host-1")
	if err != nil {
		t.Fatalf("DiscoverPeer: %v", err)
	}
	if !peer.LastSeen.Equal(later) {
		t.Errorf("LastSeen = %v, want %v", peer.LastSeen, later)
	}
}

func TestRegisterPeerTokenTTL(t *testing.T) {
	now := time.Now()
	s := newTestStore(now)

	token, err := s.RegisterPeer("peer-1")
	if err != nil {
		t.Fatalf("RegisterPeer: %v", err)
	}
	if token.ExpiresAt.Sub(token.CreatedAt) != tokenTTL {
		t.Errorf("TTL = %v, want %v", token.ExpiresAt.Sub(token.CreatedAt), tokenTTL)
	}
	// hex(32 bytes) == 64 characters == 256 bits of entropy.
	if len(token.Token) != 64 {
		t.Errorf("token length = %d, want 64", len(token.Token))
	}

	if _, err := s.ValidateToken(token.Token); err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	now := time.Now()
	s := newTestStore(now)
	token, _ := s.RegisterPeer("peer-1")

	s.now = func() time.Time { return now.Add(25 * time.Hour) }
	if _, err := s.ValidateToken(token.Token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("err = %v, want ErrTokenInvalid", err)
	}
}

func TestReapRemovesStalePeersAndEmptyParties(t *testing.T) {
	now := time.Now()
	s := newTestStore(now)
	host := PeerInfo{PeerID: "host-1"}
	party, _ := s.CreateParty("p", host)

	s.now = func() time.Time { return now.Add(6 * time.Minute) }
	s.reap()

	if _, err := s.GetParty(party.PartyID); !errors.Is(err, ErrPartyNotFound) {
		t.Fatalf("expected party with only a stale host peer to be reaped, err=%v", err)
	}
}

func TestReapRemovesExpiredTokens(t *testing.T) {
	now := time.Now()
	s := newTestStore(now)
	token, _ := s.RegisterPeer("peer-1")

	s.now = func() time.Time { return now.Add(25 * time.Hour) }
	s.reap()

	s.mu.RLock()
	_, exists := s.tokens[token.Token]
	s.mu.RUnlock()
	if exists {
		t.Fatal("expected expired token to be reaped")
	}
}

func TestRelayRegistryListByRegion(t *testing.T) {
	s := newTestStore(time.Now())
	s.RegisterRelay(RelayCandidate{RelayID: "r1", Region: "eu-west"})
	s.RegisterRelay(RelayCandidate{RelayID: "r2", Region: "us-east"})

	all := s.ListRelays()
	if len(all) != 2 {
		t.Fatalf("ListRelays = %d, want 2", len(all))
	}

	eu := s.ListRelaysByRegion("eu-west")
	if len(eu) != 1 || eu[0].RelayID != "r1" {
		t.Fatalf("ListRelaysByRegion(eu-west) = %+v", eu)
	}
}

func TestReapRemovesStaleRelays(t *testing.T) {
	now := time.Now()
	s := newTestStore(now)
	s.RegisterRelay(RelayCandidate{RelayID: "r1"})

	s.now = func() time.Time { return now.Add(11 * time.Minute) }
	s.reap()

	if len(s.ListRelays()) != 0 {
		t.Fatal("expected stale relay to be reaped")
	}
}
