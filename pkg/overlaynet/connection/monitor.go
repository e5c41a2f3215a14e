package connection

import (
	"log/slog"
	"time"

	"github.com/lanbridge/overlay/pkg/overlaynet/relayselect"
)

// monitorLoop samples latency for peerID every monitorInterval and drives
// its state transitions until the connection is removed or the Manager
// stops.
func (m *Manager) monitorLoop(peerID string) {
	defer m.wg.Done()
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			if !m.monitorTick(peerID) {
				return
			}
		}
	}
}

// monitorTick samples latency once and applies the transition table:
//   - no sample, fewer than maxLatencyMisses in a row: reinstall the
//     tunnel peer and resample on the next tick.
//   - no sample, maxLatencyMisses reached: mark Failed.
//   - sample above degradedLatencyMs: mark Degraded; if the peer is
//     relayed, attempt a relay switch.
//   - sample at or below degradedLatencyMs: mark Connected, reset the
//     miss counter.
//
// It returns false when the loop should stop (connection gone or failed).
func (m *Manager) monitorTick(peerID string) bool {
	m.mu.RLock()
	conn, ok := m.connections[peerID]
	m.mu.RUnlock()
	if !ok {
		return false
	}

	latency, err := m.tunnel.MeasureLatency(conn.OverlayIP)
	if err != nil {
		slog.Warn("connection: measure latency failed", "peer_id", peerID, "error", err)
	}

	m.mu.Lock()
	conn, ok = m.connections[peerID]
	if !ok {
		m.mu.Unlock()
		return false
	}

	switch {
	case latency == nil:
		conn.latencyMisses++
		if conn.latencyMisses >= maxLatencyMisses {
			conn.State = StateFailed
			now := time.Now()
			conn.FailedAt = &now
			m.mu.Unlock()
			slog.Warn("connection: marking peer failed after repeated latency loss", "peer_id", peerID)
			return false
		}
		publicKey, endpoint, allowedIPs := conn.PublicKey, conn.Endpoint, []string{conn.OverlayIP + "/32"}
		m.mu.Unlock()

		if err := m.tunnel.RemovePeer(publicKey); err != nil {
			slog.Warn("connection: reinstall remove failed", "peer_id", peerID, "error", err)
		}
		if err := m.tunnel.AddPeer(publicKey, endpoint, allowedIPs); err != nil {
			slog.Warn("connection: reinstall add failed", "peer_id", peerID, "error", err)
		}
		return true

	case *latency > degradedLatencyMs:
		conn.State = StateDegraded
		conn.latencyMisses = 0
		isRelayed := conn.Strategy == relayselect.ModeRelay
		m.mu.Unlock()

		if isRelayed {
			m.switchRelay(peerID)
		}
		return true

	default:
		conn.State = StateConnected
		conn.latencyMisses = 0
		m.mu.Unlock()
		return true
	}
}

// switchRelay attempts to move a degraded relayed connection to a better
// relay. It is best-effort: any failure along the way leaves the existing
// relay in place.
func (m *Manager) switchRelay(peerID string) {
	m.mu.RLock()
	conn, ok := m.connections[peerID]
	m.mu.RUnlock()
	if !ok {
		return
	}

	currentLatency, err := m.tunnel.MeasureLatency(conn.OverlayIP)
	if err != nil || currentLatency == nil {
		return
	}

	candidates, err := m.relays.ListCandidates(m.ctx)
	if err != nil {
		slog.Warn("connection: relay switch candidate lookup failed", "peer_id", peerID, "error", err)
		return
	}

	selection := m.sel.Select(m.localPeerID, peerID, 0, 0, candidates, "")
	if selection.Mode != relayselect.ModeRelay || selection.SelectedRelay == "" || selection.SelectedRelay == conn.RelayID {
		return
	}

	newEndpoint, err := m.relays.Endpoint(m.ctx, selection.SelectedRelay)
	if err != nil {
		slog.Warn("connection: relay switch endpoint lookup failed", "peer_id", peerID, "error", err)
		return
	}

	publicKey := conn.PublicKey
	allowedIPs := []string{conn.OverlayIP + "/32"}
	oldEndpoint := conn.Endpoint

	if err := m.tunnel.RemovePeer(publicKey); err != nil {
		slog.Warn("connection: relay switch remove failed", "peer_id", peerID, "error", err)
	}
	if err := m.tunnel.AddPeer(publicKey, newEndpoint, allowedIPs); err != nil {
		slog.Warn("connection: relay switch add failed, reverting", "peer_id", peerID, "error", err)
		if revertErr := m.tunnel.AddPeer(publicKey, oldEndpoint, allowedIPs); revertErr != nil {
			slog.Warn("connection: relay switch revert failed", "peer_id", peerID, "error", revertErr)
		}
		m.sel.MarkFailed(selection.SelectedRelay)
		return
	}

	select {
	case <-time.After(relaySwitchSettleTime):
	case <-m.ctx.Done():
		return
	}

	newLatency, err := m.tunnel.MeasureLatency(conn.OverlayIP)
	if err != nil || newLatency == nil || *newLatency >= *currentLatency {
		if err := m.tunnel.RemovePeer(publicKey); err != nil {
			slog.Warn("connection: relay switch revert-remove failed", "peer_id", peerID, "error", err)
		}
		if err := m.tunnel.AddPeer(publicKey, oldEndpoint, allowedIPs); err != nil {
			slog.Warn("connection: relay switch revert-add failed", "peer_id", peerID, "error", err)
		}
		m.sel.MarkFailed(selection.SelectedRelay)
		return
	}

	m.mu.Lock()
	if c, ok := m.connections[peerID]; ok {
		c.Endpoint = newEndpoint
		c.RelayID = selection.SelectedRelay
	}
	m.mu.Unlock()
}

// cleanupLoop disconnects a peer once it has stayed Failed for longer
// than failedRetentionPeriod.
func (m *Manager) cleanupLoop(peerID string) {
	defer m.wg.Done()
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			if !m.cleanupTick(peerID) {
				return
			}
		}
	}
}

// cleanupTick disconnects peerID if it has stayed Failed for longer than
// failedRetentionPeriod. It returns false once the loop should stop
// (connection gone or just cleaned up).
func (m *Manager) cleanupTick(peerID string) bool {
	m.mu.RLock()
	conn, ok := m.connections[peerID]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	if conn.State == StateFailed && conn.FailedAt != nil && time.Since(*conn.FailedAt) > failedRetentionPeriod {
		m.DisconnectFromPeer(peerID)
		return false
	}
	return true
}
