package connection

import (
	"context"

	"github.com/lanbridge/overlay/pkg/overlaynet/nat"
	"github.com/lanbridge/overlay/pkg/overlaynet/relayselect"
)

// Tunnel is the cryptographic data-plane the Connection Manager drives.
// A real implementation installs a peer into a WireGuard-style interface;
// tests use an in-memory fake.
type Tunnel interface {
	// AddPeer installs or replaces a peer's tunnel configuration.
	AddPeer(publicKey, endpoint string, allowedIPs []string) error
	// RemovePeer tears down a peer's tunnel configuration. Removing an
	// unknown peer is not an error.
	RemovePeer(publicKey string) error
	// MeasureLatency returns the last observed round-trip time to
	// overlayIP in milliseconds, or nil if no sample is available.
	MeasureLatency(overlayIP string) (*float64, error)
}

// PeerDescriptor is what the Connection Manager needs to know about a
// peer before attempting to connect to it.
type PeerDescriptor struct {
	PeerID    string
	PublicKey string
	NATType   nat.Type
	Endpoint  string // public ip:port
}

// PeerDirectory resolves peer records from the control plane.
type PeerDirectory interface {
	DiscoverPeer(ctx context.Context, partyID, peerID string) (PeerDescriptor, error)
}

// RelayDirectory resolves relay candidates and endpoints from the control
// plane's relay registry.
type RelayDirectory interface {
	ListCandidates(ctx context.Context) ([]relayselect.Candidate, error)
	Endpoint(ctx context.Context, relayID string) (string, error)
}

// IPAllocator allocates and releases overlay addresses on connect/disconnect.
type IPAllocator interface {
	Allocate(peerID string) (string, error)
	Release(peerID string)
}

// Selector chooses between a direct path and a relay, mirroring
// relayselect.Selector's signature so tests can substitute a fake.
type Selector interface {
	Select(peerA, peerB string, qualityA, qualityB float64, candidates []relayselect.Candidate, preferredRegion string) relayselect.Selection
	MarkFailed(relayID string)
}

// HolePuncher attempts a UDP hole punch against a peer's public endpoint.
type HolePuncher interface {
	Punch(ctx context.Context, peerEndpoint string) error
}
