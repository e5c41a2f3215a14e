// Package connection orchestrates establishing, monitoring, and tearing
// down peer-to-peer tunnels: resolving a peer's address and NAT posture,
// choosing between a direct path and a relay, allocating an overlay
// address, and installing the result into the cryptographic data plane.
package connection

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/lanbridge/overlay/pkg/overlaynet/nat"
	"github.com/lanbridge/overlay/pkg/overlaynet/relayselect"
)

// State is a peer connection's position in its lifecycle state machine.
type State string

const (
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
	StateDegraded   State = "degraded"
	StateFailed     State = "failed"
	StateCleanup    State = "cleanup"
)

const (
	monitorInterval       = 30 * time.Second
	cleanupInterval       = 30 * time.Second
	failedRetentionPeriod = 300 * time.Second
	maxLatencyMisses      = 3
	degradedLatencyMs     = 200.0
	relaySwitchSettleTime = 3 * time.Second
)

// PeerConnection is the Connection Manager's view of one peer tunnel.
type PeerConnection struct {
	PeerID    string
	PublicKey string
	OverlayIP string
	Endpoint  string
	Strategy  relayselect.Mode
	RelayID   string
	State     State
	FailedAt  *time.Time

	latencyMisses int
}

// Snapshot is a point-in-time copy of a PeerConnection safe to hand to a
// caller outside the Manager's lock.
type Snapshot struct {
	PeerID    string
	OverlayIP string
	Endpoint  string
	Strategy  relayselect.Mode
	State     State
	LatencyMs *float64
}

// Manager coordinates the peer directory, relay selection, hole punching,
// overlay IP allocation, and tunnel installation for every peer this node
// connects to.
type Manager struct {
	localPeerID string
	localNAT    nat.Type

	peers   PeerDirectory
	relays  RelayDirectory
	ips     IPAllocator
	sel     Selector
	puncher HolePuncher
	tunnel  Tunnel

	mu          sync.RWMutex
	connections map[string]*PeerConnection

	connectGroup singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config bundles Manager's collaborators.
type Config struct {
	LocalPeerID string
	LocalNAT    nat.Type
	Peers       PeerDirectory
	Relays      RelayDirectory
	IPs         IPAllocator
	Selector    Selector
	Puncher     HolePuncher
	Tunnel      Tunnel
}

// New constructs a Manager. Call Start before ConnectToPeer.
func New(cfg Config) *Manager {
	return &Manager{
		localPeerID: cfg.LocalPeerID,
		localNAT:    cfg.LocalNAT,
		peers:       cfg.Peers,
		relays:      cfg.Relays,
		ips:         cfg.IPs,
		sel:         cfg.Selector,
		puncher:     cfg.Puncher,
		tunnel:      cfg.Tunnel,
		connections: make(map[string]*PeerConnection),
	}
}

// Start begins accepting ConnectToPeer calls. Background monitor and
// cleanup loops for connected peers are spawned as connections are made.
func (m *Manager) Start(ctx context.Context) {
	m.ctx, m.cancel = context.WithCancel(ctx)
}

// Stop cancels every background loop and waits for them to exit. It does
// not tear down already-installed tunnel peers.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// ConnectToPeer resolves peerID within partyID, chooses a connection
// strategy, and installs the resulting tunnel peer. Concurrent calls for
// the same peerID are deduplicated.
func (m *Manager) ConnectToPeer(ctx context.Context, partyID, peerID string) error {
	_, err, _ := m.connectGroup.Do(peerID, func() (any, error) {
		return nil, m.connect(ctx, partyID, peerID)
	})
	return err
}

func (m *Manager) connect(ctx context.Context, partyID, peerID string) error {
	m.mu.RLock()
	_, alreadyConnected := m.connections[peerID]
	m.mu.RUnlock()
	if alreadyConnected {
		return nil
	}

	peer, err := m.peers.DiscoverPeer(ctx, partyID, peerID)
	if err != nil {
		return fmt.Errorf("%w: resolve peer %s: %v", ErrPeerConnectionFailed, peerID, err)
	}

	direct, needsPunch := nat.CanDirectConnect(m.localNAT, peer.NATType)
	qualityA, qualityB := 0.0, 0.0
	if direct {
		qualityA, qualityB = 100, 100
	}

	candidates, err := m.relays.ListCandidates(ctx)
	if err != nil {
		slog.Warn("connection: list relay candidates failed", "peer_id", peerID, "error", err)
	}

	selection := m.sel.Select(m.localPeerID, peerID, qualityA, qualityB, candidates, "")
	strategy := selection.Mode
	endpoint := peer.Endpoint
	relayID := ""

	if strategy == relayselect.ModeDirect && needsPunch {
		if err := m.puncher.Punch(ctx, peer.Endpoint); err != nil {
			slog.Warn("connection: hole punch failed, falling back to relay", "peer_id", peerID, "error", err)
			strategy = relayselect.ModeRelay
			selection = m.sel.Select(m.localPeerID, peerID, 0, 0, candidates, "")
		}
	}

	if strategy == relayselect.ModeRelay {
		relayID = selection.SelectedRelay
		if relayID == "" {
			return fmt.Errorf("%w: no viable relay for peer %s", ErrPeerConnectionFailed, peerID)
		}
		ep, err := m.relays.Endpoint(ctx, relayID)
		if err != nil {
			return fmt.Errorf("%w: resolve relay %s: %v", ErrPeerConnectionFailed, relayID, err)
		}
		endpoint = ep
	}

	overlayIP, err := m.ips.Allocate(peerID)
	if err != nil {
		return fmt.Errorf("%w: allocate overlay address for %s: %v", ErrPeerConnectionFailed, peerID, err)
	}

	allowedIPs := []string{overlayIP + "/32"}
	if err := m.tunnel.AddPeer(peer.PublicKey, endpoint, allowedIPs); err != nil {
		m.ips.Release(peerID)
		return fmt.Errorf("%w: install tunnel peer %s: %v", ErrPeerConnectionFailed, peerID, err)
	}

	conn := &PeerConnection{
		PeerID:    peerID,
		PublicKey: peer.PublicKey,
		OverlayIP: overlayIP,
		Endpoint:  endpoint,
		Strategy:  strategy,
		RelayID:   relayID,
		State:     StateConnected,
	}

	m.mu.Lock()
	m.connections[peerID] = conn
	m.mu.Unlock()

	m.wg.Add(2)
	go m.monitorLoop(peerID)
	go m.cleanupLoop(peerID)

	return nil
}

// DisconnectFromPeer removes the tunnel peer, releases its overlay
// address, and deletes the connection record. It is idempotent: calling
// it for a peer with no active connection is a no-op.
func (m *Manager) DisconnectFromPeer(peerID string) error {
	m.mu.Lock()
	conn, ok := m.connections[peerID]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.connections, peerID)
	m.mu.Unlock()

	if err := m.tunnel.RemovePeer(conn.PublicKey); err != nil {
		slog.Warn("connection: remove tunnel peer failed", "peer_id", peerID, "error", err)
	}
	m.ips.Release(peerID)
	return nil
}

// Status reports a peer's current connection snapshot. The latency
// sample, not the monitor loop's degraded threshold, decides the
// status reported here: a missing sample alone reads as degraded.
func (m *Manager) Status(peerID string) (Snapshot, error) {
	m.mu.RLock()
	conn, ok := m.connections[peerID]
	m.mu.RUnlock()
	if !ok {
		return Snapshot{}, ErrConnectionNotFound
	}

	latency, err := m.tunnel.MeasureLatency(conn.OverlayIP)
	if err != nil {
		slog.Warn("connection: measure latency failed", "peer_id", peerID, "error", err)
	}

	state := StateConnected
	if latency == nil {
		state = StateDegraded
	}

	return Snapshot{
		PeerID:    peerID,
		OverlayIP: conn.OverlayIP,
		Endpoint:  conn.Endpoint,
		Strategy:  conn.Strategy,
		State:     state,
		LatencyMs: latency,
	}, nil
}

// Connections returns a snapshot of every peer currently tracked.
func (m *Manager) Connections() []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Snapshot, 0, len(m.connections))
	for _, c := range m.connections {
		out = append(out, Snapshot{
			PeerID:    c.PeerID,
			OverlayIP: c.OverlayIP,
			Endpoint:  c.Endpoint,
			Strategy:  c.Strategy,
			State:     c.State,
		})
	}
	return out
}
