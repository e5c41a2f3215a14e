package main

import (
	"context"
	"fmt"
	"net"

	"github.com/lanbridge/overlay/pkg/overlaynet/connection"
	"github.com/lanbridge/overlay/pkg/overlaynet/controlplane"
	"github.com/lanbridge/overlay/pkg/overlaynet/ipam"
	"github.com/lanbridge/overlay/pkg/overlaynet/nat"
	"github.com/lanbridge/overlay/pkg/overlaynet/relayselect"
)

// peerDirectoryAdapter satisfies connection.PeerDirectory against the
// control-plane HTTP client's wire-shaped PeerInfo.
type peerDirectoryAdapter struct {
	client *controlplane.Client
}

func (a *peerDirectoryAdapter) DiscoverPeer(ctx context.Context, partyID, peerID string) (connection.PeerDescriptor, error) {
	peer, err := a.client.DiscoverPeer(ctx, partyID, peerID)
	if err != nil {
		return connection.PeerDescriptor{}, err
	}
	return connection.PeerDescriptor{
		PeerID:    peer.PeerID,
		PublicKey: peer.PublicKey,
		NATType:   nat.Type(peer.NATType),
		Endpoint:  net.JoinHostPort(peer.PublicIP, fmt.Sprintf("%d", peer.PublicPort)),
	}, nil
}

// relayDirectoryAdapter satisfies connection.RelayDirectory. The
// control-plane's RelayCandidate carries no health/load telemetry, so
// every candidate is scored as fully healthy and unloaded. The only health
// signal is relayselect.Selector.MarkFailed, which the connection monitor
// calls during a relay switch when installing the new relay fails or its
// latency does not improve; a failed initial connect does not mark it.
type relayDirectoryAdapter struct {
	client *controlplane.Client
}

func (a *relayDirectoryAdapter) ListCandidates(ctx context.Context) ([]relayselect.Candidate, error) {
	relays, err := a.client.ListRelays(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]relayselect.Candidate, 0, len(relays))
	for _, r := range relays {
		out = append(out, relayselect.Candidate{
			RelayID:     r.RelayID,
			Region:      r.Region,
			HealthScore: 100,
			LoadPercent: 0,
		})
	}
	return out, nil
}

func (a *relayDirectoryAdapter) Endpoint(ctx context.Context, relayID string) (string, error) {
	relays, err := a.client.ListRelays(ctx)
	if err != nil {
		return "", err
	}
	for _, r := range relays {
		if r.RelayID == relayID {
			return net.JoinHostPort(r.PublicIP, fmt.Sprintf("%d", r.Port)), nil
		}
	}
	return "", fmt.Errorf("node: relay %s not found", relayID)
}

// ipAllocatorAdapter satisfies connection.IPAllocator over ipam.Pool's
// net.IP-typed API.
type ipAllocatorAdapter struct {
	pool *ipam.Pool
}

func (a *ipAllocatorAdapter) Allocate(peerID string) (string, error) {
	addr, err := a.pool.Allocate(peerID)
	if err != nil {
		return "", err
	}
	return addr.String(), nil
}

func (a *ipAllocatorAdapter) Release(peerID string) {
	a.pool.Release(peerID)
}

// holePuncher satisfies connection.HolePuncher by binding a fresh
// ephemeral socket per punch attempt and delegating to nat.HolePunch.
//
// This is not the same socket the NAT prober used, so a symmetric-leaning
// NAT that allocates a fresh external mapping per local port may punch a
// mapping the peer can't reuse for the eventual data tunnel; CanDirectConnect
// already routes symmetric NATs to a relay, so this only affects cone NATs,
// where the mapping is address-keyed rather than port-keyed and reuse
// doesn't matter.
type holePuncher struct{}

func (h *holePuncher) Punch(ctx context.Context, peerEndpoint string) error {
	addr, err := net.ResolveUDPAddr("udp4", peerEndpoint)
	if err != nil {
		return fmt.Errorf("node: resolve punch target %s: %w", peerEndpoint, err)
	}
	conn, err := net.ListenPacket("udp4", "0.0.0.0:0")
	if err != nil {
		return fmt.Errorf("node: bind punch socket: %w", err)
	}
	defer conn.Close()
	return nat.HolePunch(ctx, conn, addr)
}
