package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/net/ipv4"
)

// Forwarder publishes a locally observed broadcast/multicast packet to the
// active set of remote peers. The active-peer set itself is owned by the
// Connection Manager, not this package.
type Forwarder func(Packet)

// Manager coordinates the local listener set, deduplication, and
// re-injection of packets forwarded from remote peers.
type Manager struct {
	dedup     *Deduplicator
	forwarder Forwarder

	mu        sync.RWMutex
	listeners map[int]*net.UDPConn
	groups    map[string]*ipv4.PacketConn

	knownPeerSources map[string]struct{}

	outConn *net.UDPConn
}

// NewManager creates a Manager. forwarder is called for every packet that
// survives deduplication and echo filtering, on its way out to remote
// peers.
func NewManager(dedup *Deduplicator, forwarder Forwarder) *Manager {
	return &Manager{
		dedup:            dedup,
		forwarder:        forwarder,
		listeners:        make(map[int]*net.UDPConn),
		groups:           make(map[string]*ipv4.PacketConn),
		knownPeerSources: make(map[string]struct{}),
	}
}

// SetKnownPeerSources replaces the set of source labels treated as remote
// peers for echo prevention (a forwarded broadcast re-entering the local
// listener from the peer that sent it should not be forwarded again).
func (m *Manager) SetKnownPeerSources(sources []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.knownPeerSources = make(map[string]struct{}, len(sources))
	for _, s := range sources {
		m.knownPeerSources[s] = struct{}{}
	}
}

// StartListener binds a unicast broadcast-discovery listener on port and
// runs its receive loop until ctx is canceled.
func (m *Manager) StartListener(ctx context.Context, port int) error {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: port})
	if err != nil {
		return fmt.Errorf("broadcast: listen on port %d: %w", port, err)
	}
	if err := enableReuseAddrAndBroadcast(conn); err != nil {
		slog.Warn("broadcast: could not set socket options", "port", port, "error", err)
	}

	m.mu.Lock()
	m.listeners[port] = conn
	m.mu.Unlock()

	go m.receiveLoop(ctx, conn, port, "udp")
	return nil
}

// StartMulticastListener joins groupAddr:port and runs its receive loop
// until ctx is canceled.
func (m *Manager) StartMulticastListener(ctx context.Context, groupAddr string, port int) error {
	addr := &net.UDPAddr{IP: net.IPv4zero, Port: port}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return fmt.Errorf("broadcast: listen multicast on %s:%d: %w", groupAddr, port, err)
	}

	pconn := ipv4.NewPacketConn(conn)
	iface, _ := firstMulticastInterface()
	if err := pconn.JoinGroup(iface, &net.UDPAddr{IP: net.ParseIP(groupAddr)}); err != nil {
		conn.Close()
		return fmt.Errorf("broadcast: join group %s: %w", groupAddr, err)
	}

	m.mu.Lock()
	m.groups[fmt.Sprintf("%s:%d", groupAddr, port)] = pconn
	m.mu.Unlock()

	go m.receiveLoop(ctx, conn, port, "multicast")
	return nil
}

func firstMulticastInterface() (*net.Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	for i := range ifaces {
		if ifaces[i].Flags&net.FlagMulticast != 0 && ifaces[i].Flags&net.FlagUp != 0 {
			return &ifaces[i], nil
		}
	}
	return nil, nil
}

func (m *Manager) receiveLoop(ctx context.Context, conn *net.UDPConn, port int, protocol string) {
	buf := make([]byte, 65535)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(1 * time.Second))
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return
		}

		if protocol == "udp" && !IsBroadcastSource(addr.IP.String()) {
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		m.handleInbound(Packet{
			Data:       data,
			SourceIP:   addr.IP.String(),
			SourcePort: addr.Port,
			DestPort:   port,
			Protocol:   protocol,
		}, "")
	}
}

// handleInbound applies echo prevention and deduplication, then forwards
// surviving packets to remote peers.
func (m *Manager) handleInbound(p Packet, sourcePeer string) {
	if sourcePeer != "" {
		m.mu.RLock()
		_, isKnownPeer := m.knownPeerSources[sourcePeer]
		m.mu.RUnlock()
		if isKnownPeer {
			return
		}
	}

	if !m.dedup.ShouldForward(p) {
		return
	}

	if m.forwarder != nil {
		m.forwarder(p)
	}
}

// HandleRemoteBroadcast re-injects a packet forwarded from a remote peer:
// a unicast packet is re-emitted as a limited broadcast, and known
// multicast ports are mapped back to their group address.
func (m *Manager) HandleRemoteBroadcast(p Packet) error {
	conn, err := m.outboundConn()
	if err != nil {
		return err
	}

	target := "255.255.255.255"
	if p.Protocol == "multicast" {
		target = GroupForPort(p.DestPort)
	}

	_, err = conn.WriteToUDP(p.Data, &net.UDPAddr{IP: net.ParseIP(target), Port: p.DestPort})
	if err != nil {
		return fmt.Errorf("broadcast: re-inject to %s:%d: %w", target, p.DestPort, err)
	}
	return nil
}

func (m *Manager) outboundConn() (*net.UDPConn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.outConn != nil {
		return m.outConn, nil
	}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return nil, fmt.Errorf("broadcast: open outbound socket: %w", err)
	}
	if err := enableReuseAddrAndBroadcast(conn); err != nil {
		slog.Warn("broadcast: could not enable broadcast on outbound socket", "error", err)
	}
	m.outConn = conn
	return conn, nil
}

// Close releases every listener and the outbound socket.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.listeners {
		c.Close()
	}
	for _, g := range m.groups {
		g.Close()
	}
	if m.outConn != nil {
		m.outConn.Close()
	}
}
