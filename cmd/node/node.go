package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"github.com/lanbridge/overlay/internal/config"
	"github.com/lanbridge/overlay/internal/identity"
	"github.com/lanbridge/overlay/pkg/overlaynet/broadcast"
	"github.com/lanbridge/overlay/pkg/overlaynet/connection"
	"github.com/lanbridge/overlay/pkg/overlaynet/controlplane"
	"github.com/lanbridge/overlay/pkg/overlaynet/ipam"
	"github.com/lanbridge/overlay/pkg/overlaynet/metrics"
	"github.com/lanbridge/overlay/pkg/overlaynet/modsync"
	"github.com/lanbridge/overlay/pkg/overlaynet/nat"
	"github.com/lanbridge/overlay/pkg/overlaynet/relayselect"
	"github.com/lanbridge/overlay/pkg/overlaynet/resourcelock"
	"github.com/lanbridge/overlay/pkg/overlaynet/taskengine"
	"github.com/lanbridge/overlay/pkg/overlaynet/wgtunnel"
)

// tunnelDevice is the name of the WireGuard device the node configures
// through wgctrl. Creating and addressing the link itself (ip link add /
// ip addr add) is outside wgctrl's scope and assumed done by the host's
// provisioning, matching how a WireGuard deployment is normally split
// between "wg-quick up" and runtime peer churn.
const tunnelDevice = "wg-overlay"

// broadcastRelayPort carries JSON-encoded broadcast.Packet envelopes
// between nodes over the overlay network, separate from the captured
// game ports themselves.
const broadcastRelayPort = 41820

// heartbeatInterval is how often a joined node refreshes its last_seen
// entry in the control plane. Must stay well under store.go's 5-minute
// peerTimeout or the reaper evicts live, connected peers.
const heartbeatInterval = 60 * time.Second

// node wires every overlay component into one running process.
type node struct {
	cfg config.NodeConfig

	peerID    string
	publicKey wgtypes.Key

	cpClient *controlplane.Client
	prober   *nat.Prober
	selector *relayselect.Selector
	ipPool   *ipam.Pool
	tunnel   *wgtunnel.Tunnel
	connMgr  *connection.Manager

	dedup        *broadcast.Deduplicator
	broadcastMgr *broadcast.Manager
	relayConn    *net.UDPConn

	locker *resourcelock.Locker
	tasks  *taskengine.Engine

	metrics *metrics.Collector
	prom    *metrics.Prom

	partyID string

	heartbeatCancel context.CancelFunc
	heartbeatWG     sync.WaitGroup
}

func newNode(cfg config.NodeConfig) (*node, error) {
	priv, err := identity.LoadOrCreateKey(cfg.Identity.KeyFile)
	if err != nil {
		return nil, err
	}
	peerID := cfg.Identity.PeerID
	if peerID == "" {
		peerID = identity.PeerID(priv.PublicKey())
	}

	tunnel, err := wgtunnel.New(tunnelDevice)
	if err != nil {
		return nil, err
	}

	ipPool, err := ipam.NewPool(cfg.Overlay.BaseSubnet)
	if err != nil {
		tunnel.Close()
		return nil, err
	}

	var prom *metrics.Prom
	if cfg.Telemetry.Metrics.Enabled {
		prom = metrics.NewProm(version, runtime.Version())
	}

	dedup := broadcast.NewDeduplicator(cfg.Broadcast.DedupWindow)
	if !cfg.Broadcast.IsDedupEnabled() {
		dedup.Disable()
	}

	n := &node{
		cfg:       cfg,
		peerID:    peerID,
		publicKey: priv.PublicKey(),
		cpClient:  controlplane.NewClient(cfg.ControlPlane.BaseURL),
		prober:    nat.NewProber(cfg.NAT.STUNServers, cfg.NAT.STUNTimeout),
		selector:  relayselect.New(cfg.NAT.DirectThreshold, cfg.NAT.FailoverCooldown),
		ipPool:    ipPool,
		tunnel:    tunnel,
		dedup:     dedup,
		locker:    resourcelock.New(),
		tasks:     taskengine.New(),
		metrics:   metrics.New(prom),
		prom:      prom,
	}
	n.broadcastMgr = broadcast.NewManager(dedup, n.forwardBroadcast)
	return n, nil
}

// Start runs the startup task graph (control-plane registration, NAT
// probing, party join/create), then brings up the connection manager,
// broadcast listeners, and peer reconciliation using their results.
func (n *node) Start(ctx context.Context) error {
	runID := uuid.New().String()
	slog.Info("node: starting bootstrap", "run_id", runID, "peer_id", n.peerID)

	n.tasks.Register(taskengine.Task{
		Name:         "register_with_control_plane",
		Priority:     taskengine.PriorityHigh,
		Retries:      2,
		RetryBackoff: 500 * time.Millisecond,
		Run: func(ctx context.Context) (any, error) {
			return n.cpClient.Register(ctx, n.peerID)
		},
	})
	n.tasks.Register(taskengine.Task{
		Name:         "probe_nat",
		Priority:     taskengine.PriorityHigh,
		Retries:      1,
		RetryBackoff: 500 * time.Millisecond,
		Run: func(ctx context.Context) (any, error) {
			return n.prober.Probe(ctx)
		},
	})
	n.tasks.Register(taskengine.Task{
		Name:         "join_or_create_party",
		Priority:     taskengine.PriorityNormal,
		Dependencies: []string{"register_with_control_plane"},
		Run:          n.joinOrCreatePartyTask,
	})

	results := n.tasks.ExecuteAll(ctx)
	order := n.tasks.ExecutionOrder()
	slog.Info("node: bootstrap complete", "run_id", runID, "order", order)

	if r, ok := results["register_with_control_plane"]; ok && r.Err != nil {
		return fmt.Errorf("node: control-plane registration failed: %w", r.Err)
	}

	localNAT := nat.TypeUnknown
	if r, ok := results["probe_nat"]; ok {
		if r.Err != nil {
			slog.Warn("node: nat probe failed, treating as unknown", "error", r.Err)
		} else if probe, ok := r.Value.(nat.ProbeResult); ok {
			localNAT = probe.Type
		}
	}

	if r, ok := results["join_or_create_party"]; ok {
		if r.Err != nil {
			slog.Warn("node: party join/create failed", "error", r.Err)
		} else if partyID, ok := r.Value.(string); ok {
			n.partyID = partyID
		}
	}

	n.connMgr = connection.New(connection.Config{
		LocalPeerID: n.peerID,
		LocalNAT:    localNAT,
		Peers:       &peerDirectoryAdapter{client: n.cpClient},
		Relays:      &relayDirectoryAdapter{client: n.cpClient},
		IPs:         &ipAllocatorAdapter{pool: n.ipPool},
		Selector:    n.selector,
		Puncher:     &holePuncher{},
		Tunnel:      n.tunnel,
	})
	n.connMgr.Start(ctx)
	n.dedup.Start(ctx)

	relayConn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: broadcastRelayPort})
	if err != nil {
		return fmt.Errorf("node: bind broadcast relay socket: %w", err)
	}
	n.relayConn = relayConn
	go n.receiveBroadcastRelay(ctx)

	for _, port := range n.cfg.Broadcast.Ports {
		if err := n.broadcastMgr.StartListener(ctx, port); err != nil {
			slog.Warn("node: broadcast listener failed", "port", port, "error", err)
		}
	}

	if n.partyID != "" {
		n.reconcilePeers(ctx)
		n.startHeartbeat(ctx)
	}

	if n.cfg.Mods.ManifestPath != "" {
		n.planModSync()
	}

	return nil
}

func (n *node) joinOrCreatePartyTask(ctx context.Context) (any, error) {
	self := controlplane.PeerInfo{
		PeerID:    n.peerID,
		Name:      n.cfg.Party.DisplayName,
		PublicKey: n.publicKey.String(),
	}
	// probe_nat runs in the same task-engine pass as register_with_control_plane
	// and this task depends on that pass having completed, so the cached probe
	// result, if the probe succeeded, is already available here.
	if probe, ok := n.prober.Cached(); ok {
		self.NATType = string(probe.Type)
		self.PublicIP = probe.PublicIP.String()
		self.PublicPort = probe.PublicPort
	}

	switch {
	case n.cfg.Party.PartyID != "":
		party, err := n.cpClient.JoinParty(ctx, n.cfg.Party.PartyID, self)
		if err != nil {
			return nil, err
		}
		return party.PartyID, nil
	case n.cfg.Party.Name != "":
		party, err := n.cpClient.CreateParty(ctx, n.cfg.Party.Name, self)
		if err != nil {
			return nil, err
		}
		return party.PartyID, nil
	default:
		return "", nil
	}
}

// reconcilePeers connects to every other peer currently in the party as
// one atomic batch: each connect is an Operation keyed by the shared
// "ip-pool" resource, since every connection draws from the same overlay
// address pool and a failed later connect should release addresses
// claimed by the ones before it in this batch.
func (n *node) reconcilePeers(ctx context.Context) {
	peers, err := n.cpClient.GetPeers(ctx, n.partyID)
	if err != nil {
		slog.Warn("node: list party peers failed", "party_id", n.partyID, "error", err)
		return
	}

	var ops []resourcelock.Operation
	for peerID := range peers {
		if peerID == n.peerID {
			continue
		}
		peerID := peerID
		ops = append(ops, resourcelock.Operation{
			ResourceID: "ip-pool",
			Apply: func() (any, error) {
				return nil, n.connMgr.ConnectToPeer(ctx, n.partyID, peerID)
			},
			Rollback: func(any) error {
				return n.connMgr.DisconnectFromPeer(peerID)
			},
		})
		n.metrics.AddPeer(peerID, "")
	}
	if len(ops) == 0 {
		return
	}
	if _, err := n.locker.ExecuteAtomic(ops); err != nil {
		slog.Warn("node: peer reconciliation batch failed", "party_id", n.partyID, "error", err)
	}
}

// startHeartbeat launches the background loop that refreshes this node's
// last_seen entry in the joined party, preventing the control plane's
// reaper from evicting a still-connected peer (store.go's peerTimeout).
// It is owned by its own context, canceled independently in Stop so it
// can be torn down without disturbing the connection manager.
func (n *node) startHeartbeat(ctx context.Context) {
	hbCtx, cancel := context.WithCancel(ctx)
	n.heartbeatCancel = cancel
	n.heartbeatWG.Add(1)
	go n.heartbeatLoop(hbCtx)
}

func (n *node) heartbeatLoop(ctx context.Context) {
	defer n.heartbeatWG.Done()
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := n.cpClient.Heartbeat(ctx, n.partyID, n.peerID); err != nil {
				slog.Warn("node: heartbeat failed", "party_id", n.partyID, "error", err)
			}
		}
	}
}

func (n *node) planModSync() {
	data, err := os.ReadFile(n.cfg.Mods.ManifestPath)
	if err != nil {
		slog.Warn("node: read mod manifest failed", "path", n.cfg.Mods.ManifestPath, "error", err)
		return
	}
	var manifest modsync.Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		slog.Warn("node: parse mod manifest failed", "path", n.cfg.Mods.ManifestPath, "error", err)
		return
	}

	var peerSources []string
	for _, c := range n.connMgr.Connections() {
		peerSources = append(peerSources, "http://"+c.OverlayIP+":8080")
	}

	mode := modsync.Mode(n.cfg.Mods.Mode)
	if mode == "" {
		mode = modsync.ModeHybrid
	}
	plan, err := modsync.BuildSyncPlan(mode, manifest, n.cfg.Mods.ModsRoot, n.cfg.Mods.NativeProvider, peerSources)
	if err != nil {
		slog.Warn("node: build mod sync plan failed", "error", err)
		return
	}
	slog.Info("node: mod sync plan", "ready", plan.Ready, "needed", len(plan.NeededArtifacts), "next_step", plan.NextStep)

	cachePath := n.cfg.Mods.ManifestPath + ".cache.gz"
	if err := modsync.CacheManifest(cachePath, manifest); err != nil {
		slog.Warn("node: cache mod manifest failed", "path", cachePath, "error", err)
	}
}

// forwardBroadcast relays a locally captured broadcast/multicast packet to
// every connected peer's overlay address, where each peer's own broadcast
// manager re-injects it onto its local network.
func (n *node) forwardBroadcast(p broadcast.Packet) {
	envelope, err := json.Marshal(p)
	if err != nil {
		slog.Warn("node: encode broadcast envelope failed", "error", err)
		return
	}
	for _, c := range n.connMgr.Connections() {
		addr := &net.UDPAddr{IP: net.ParseIP(c.OverlayIP), Port: broadcastRelayPort}
		if _, err := n.relayConn.WriteToUDP(envelope, addr); err != nil {
			slog.Warn("node: forward broadcast to peer failed", "peer_id", c.PeerID, "error", err)
		}
	}
}

func (n *node) receiveBroadcastRelay(ctx context.Context) {
	buf := make([]byte, 65535)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n.relayConn.SetReadDeadline(time.Now().Add(1 * time.Second))
		read, _, err := n.relayConn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return
		}
		var p broadcast.Packet
		if err := json.Unmarshal(buf[:read], &p); err != nil {
			continue
		}
		if err := n.broadcastMgr.HandleRemoteBroadcast(p); err != nil {
			slog.Warn("node: re-inject remote broadcast failed", "error", err)
		}
	}
}

func (n *node) pingControlPlane() error {
	_, err := n.cpClient.ListRelays(context.Background())
	return err
}

func (n *node) checkTunnel() error {
	return n.tunnel.DeviceExists()
}

// Stop tears down background loops without disturbing already-installed
// tunnel peers.
func (n *node) Stop() {
	if n.heartbeatCancel != nil {
		n.heartbeatCancel()
		n.heartbeatWG.Wait()
	}
	if n.connMgr != nil {
		n.connMgr.Stop()
	}
	n.dedup.Stop()
	n.broadcastMgr.Close()
	if n.relayConn != nil {
		n.relayConn.Close()
	}
}

// Close releases resources that outlive Start/Stop's background loops.
func (n *node) Close() error {
	return n.tunnel.Close()
}
