package controlplane

import (
	"context"
	"net/http/httptest"
	"testing"
)

func TestHTTPRegisterCreateJoinHeartbeat(t *testing.T) {
	store := NewStore()
	srv := httptest.NewServer(NewServer(store))
	defer srv.Close()

	client := NewClient(srv.URL)
	ctx := context.Background()

	if _, err := client.Register(ctx, "host-1"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	party, err := client.CreateParty(ctx, "game night", PeerInfo{PeerID: "host-1"})
	if err != nil {
		t.Fatalf("CreateParty: %v", err)
	}
	if party.PartyID == "" {
		t.Fatal("expected non-empty party_id")
	}

	joined, err := client.JoinParty(ctx, party.PartyID, PeerInfo{PeerID: "peer-2"})
	if err != nil {
		t.Fatalf("JoinParty: %v", err)
	}
	if len(joined.Peers) != 2 {
		t.Fatalf("Peers = %d, want 2", len(joined.Peers))
	}

	if err := client.Heartbeat(ctx, party.PartyID, "peer-2"); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}

	peers, err := client.GetPeers(ctx, party.PartyID)
	if err != nil {
		t.Fatalf("GetPeers: %v", err)
	}
	if len(peers) != 2 {
		t.Fatalf("GetPeers = %d, want 2", len(peers))
	}

	if err := client.LeaveParty(ctx, party.PartyID, "peer-2"); err != nil {
		t.Fatalf("LeaveParty: %v", err)
	}
}

func TestHTTPUnauthorizedWithoutToken(t *testing.T) {
	store := NewStore()
	srv := httptest.NewServer(NewServer(store))
	defer srv.Close()

	client := NewClient(srv.URL)
	ctx := context.Background()

	if _, err := client.GetParty(ctx, "ffffffffffff"); err == nil {
		t.Fatal("expected error without a bearer token")
	}
}

func TestHTTPNotFoundForUnknownParty(t *testing.T) {
	store := NewStore()
	srv := httptest.NewServer(NewServer(store))
	defer srv.Close()

	client := NewClient(srv.URL)
	ctx := context.Background()
	client.Register(ctx, "peer-1")

	if _, err := client.GetParty(ctx, "ffffffffffff"); err == nil {
		t.Fatal("expected ErrPartyNotFound")
	}
}

func TestHTTPRelayRegistryRoundTrip(t *testing.T) {
	store := NewStore()
	srv := httptest.NewServer(NewServer(store))
	defer srv.Close()

	client := NewClient(srv.URL)
	ctx := context.Background()
	client.Register(ctx, "peer-1")

	if _, err := client.RegisterRelay(ctx, RelayCandidate{RelayID: "r1", Region: "eu-west"}); err != nil {
		t.Fatalf("RegisterRelay: %v", err)
	}

	relays, err := client.ListRelaysByRegion(ctx, "eu-west")
	if err != nil {
		t.Fatalf("ListRelaysByRegion: %v", err)
	}
	if len(relays) != 1 || relays[0].RelayID != "r1" {
		t.Fatalf("relays = %+v", relays)
	}
}
