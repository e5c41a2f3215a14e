// Package nat probes a host's NAT behavior via STUN and performs UDP hole
// punching between cooperating peers.
package nat

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Type classifies a host's NAT behavior. The prober only ever infers Open,
// FullCone, PortRestrictedCone, or Unknown; RestrictedCone and Symmetric are
// values a peer may self-declare (e.g. from a richer external probe) but
// this package never produces them on its own.
type Type string

const (
	TypeOpen               Type = "open"
	TypeFullCone           Type = "full_cone"
	TypeRestrictedCone     Type = "restricted_cone"
	TypePortRestrictedCone Type = "port_restricted_cone"
	TypeSymmetric          Type = "symmetric"
	TypeUnknown            Type = "unknown"
)

// coneTypes are the NAT types that hole punching can bridge, short of a
// full open NAT.
var coneTypes = map[Type]bool{
	TypeFullCone:           true,
	TypeRestrictedCone:     true,
	TypePortRestrictedCone: true,
}

// DefaultSTUNServers are public STUN servers used when a prober is not
// configured with its own list.
var DefaultSTUNServers = []string{
	"stun.l.google.com:19302",
	"stun1.l.google.com:19302",
	"stun2.l.google.com:19302",
}

// defaultServerRetryPace bounds how quickly the prober moves on to the next
// STUN server after one fails.
const defaultServerRetryPace = 200 * time.Millisecond

// ProbeResult is the outcome of a full NAT probe.
type ProbeResult struct {
	Type       Type
	PublicIP   net.IP
	PublicPort int
	LocalIP    net.IP
	LocalPort  int
	Server     string
}

// HolePunchable reports whether this NAT type can participate in UDP hole
// punching at all (symmetric NATs allocate a fresh mapping per destination
// and cannot; unknown is treated conservatively as not punchable).
func (r ProbeResult) HolePunchable() bool {
	return r.Type == TypeOpen || coneTypes[r.Type]
}

// Prober probes the local NAT's type against a set of STUN servers and
// caches the most recent result.
type Prober struct {
	servers []string
	timeout time.Duration
	limiter *rate.Limiter

	mu     sync.RWMutex
	cached *ProbeResult
}

// NewProber creates a Prober. An empty servers slice falls back to
// DefaultSTUNServers, and a non-positive timeout falls back to 3 seconds
// (the per-server STUN request timeout).
func NewProber(servers []string, timeout time.Duration) *Prober {
	if len(servers) == 0 {
		servers = DefaultSTUNServers
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Prober{
		servers: servers,
		timeout: timeout,
		limiter: rate.NewLimiter(rate.Every(defaultServerRetryPace), 1),
	}
}

// Cached returns the most recent probe result, if any.
func (p *Prober) Cached() (ProbeResult, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.cached == nil {
		return ProbeResult{}, false
	}
	return *p.cached, true
}

// Probe binds a UDP socket and queries the configured STUN servers in
// order, pacing attempts so a slow or down server doesn't stall the whole
// probe. It classifies from the first successful response; individual
// server timeouts are expected and logged, and Probe only fails with
// ErrAllServersFailed once every server has been tried.
func (p *Prober) Probe(ctx context.Context) (ProbeResult, error) {
	conn, err := net.ListenPacket("udp4", "0.0.0.0:0")
	if err != nil {
		return ProbeResult{}, fmt.Errorf("nat: bind probe socket: %w", err)
	}
	defer conn.Close()

	localPort := conn.LocalAddr().(*net.UDPAddr).Port

	var lastErr error
	for _, server := range p.servers {
		if err := p.limiter.Wait(ctx); err != nil {
			return ProbeResult{}, fmt.Errorf("%w: %v", ErrAllServersFailed, err)
		}

		reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
		res, err := stunBindingRequest(reqCtx, conn, server)
		cancel()
		if err != nil {
			slog.Warn("nat: stun server failed", "server", server, "error", err)
			lastErr = err
			continue
		}

		localIP, ipErr := localOutboundIP(server)
		if ipErr != nil {
			slog.Warn("nat: could not determine local outbound ip", "server", server, "error", ipErr)
		}

		result := classifyNAT(res, localIP, localPort)
		slog.Info("nat: probe complete", "type", result.Type, "public_ip", result.PublicIP, "public_port", result.PublicPort, "server", server)

		p.mu.Lock()
		p.cached = &result
		p.mu.Unlock()

		return result, nil
	}

	slog.Warn("nat: all stun servers failed", "servers", p.servers)
	if lastErr != nil {
		return ProbeResult{}, fmt.Errorf("%w: %v", ErrAllServersFailed, lastErr)
	}
	return ProbeResult{}, ErrAllServersFailed
}

// localOutboundIP determines which local address the kernel would route
// through to reach server, without sending any packets (UDP dial only
// resolves the route).
func localOutboundIP(server string) (net.IP, error) {
	conn, err := net.Dial("udp4", server)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP, nil
}

// classifyNAT applies the simplified classification: a host whose
// reflected public IP matches its local IP has no NAT (open); a host
// whose reflected public port matches its local port is a full-cone NAT;
// anything else is treated as the more restrictive port-restricted cone.
// Full RFC 3489-style discrimination between restricted and symmetric NATs
// is out of scope; callers that need that distinction supply it themselves
// as a self-declared Type.
func classifyNAT(res STUNResult, localIP net.IP, localPort int) ProbeResult {
	base := ProbeResult{
		PublicIP:   res.PublicIP,
		PublicPort: res.PublicPort,
		LocalIP:    localIP,
		LocalPort:  localPort,
		Server:     res.Server,
	}

	if localIP != nil && res.PublicIP.Equal(localIP) {
		base.Type = TypeOpen
		return base
	}
	if res.PublicPort == localPort {
		base.Type = TypeFullCone
		return base
	}
	base.Type = TypePortRestrictedCone
	return base
}

// CanDirectConnect reports whether two peers with the given NAT types can
// establish a direct tunnel, with or without hole punching.
//
// Rules: either side open allows a direct connection outright. Either side
// symmetric requires a relay. Both full-cone connect directly with no
// punching needed. Any other pairing drawn from the cone types connects
// directly via hole punching. An unknown type on either side is treated
// conservatively as requiring a relay.
func CanDirectConnect(a, b Type) (direct bool, needsHolePunch bool) {
	if a == TypeOpen || b == TypeOpen {
		return true, false
	}
	if a == TypeSymmetric || b == TypeSymmetric {
		return false, false
	}
	if coneTypes[a] && coneTypes[b] {
		if a == TypeFullCone && b == TypeFullCone {
			return true, false
		}
		return true, true
	}
	return false, false
}
