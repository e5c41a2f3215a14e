// Package relay implements a stateless UDP reflector that pairs peers by
// their tunnel handshake identity without ever decrypting traffic.
package relay

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	handshakeMinLen = 40
	pubKeyOffset    = 8
	pubKeyLen       = 32

	clientTimeout = 5 * time.Minute
	evictInterval = 60 * time.Second
)

// Client tracks a single relay participant's current address and traffic
// accounting.
type Client struct {
	ID             string
	Addr           *net.UDPAddr
	LastSeen       time.Time
	BytesRelayed   uint64
	PacketsRelayed uint64
}

// Stats summarizes the relay's global traffic accounting.
type Stats struct {
	ClientCount  int    `json:"client_count"`
	TotalPackets uint64 `json:"total_packets"`
	TotalBytes   uint64 `json:"total_bytes"`
}

// Relay is a stateless UDP reflector. On each inbound datagram it
// identifies the sender (by tunnel public key when a handshake header is
// present, else by source address), upserts its client record, and
// forwards the datagram verbatim to every other known client.
type Relay struct {
	conn          *net.UDPConn
	limiter       *rate.Limiter
	clientTimeout time.Duration

	mu           sync.RWMutex
	clients      map[string]*Client
	blocked      map[string]struct{}
	totalPackets uint64
	totalBytes   uint64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Relay bound to conn. ratePPS/burst configure a global
// token-bucket rate limit on inbound datagrams; a non-positive ratePPS
// disables rate limiting.
func New(conn *net.UDPConn, ratePPS, burst int) *Relay {
	var limiter *rate.Limiter
	if ratePPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(ratePPS), burst)
	}
	return &Relay{
		conn:          conn,
		limiter:       limiter,
		clientTimeout: clientTimeout,
		clients:       make(map[string]*Client),
		blocked:       make(map[string]struct{}),
	}
}

// SetClientTimeout overrides how long a client can go unseen before the
// eviction loop drops it. Must be called before Start.
func (r *Relay) SetClientTimeout(d time.Duration) {
	if d > 0 {
		r.clientTimeout = d
	}
}

// Block adds ip to the block set; future datagrams from it are dropped.
func (r *Relay) Block(ip string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blocked[ip] = struct{}{}
}

// Unblock removes ip from the block set.
func (r *Relay) Unblock(ip string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.blocked, ip)
}

func (r *Relay) isBlocked(ip string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, blocked := r.blocked[ip]
	return blocked
}

// Stats returns a snapshot of the relay's traffic counters.
func (r *Relay) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{
		ClientCount:  len(r.clients),
		TotalPackets: r.totalPackets,
		TotalBytes:   r.totalBytes,
	}
}

// Start launches the background client-eviction loop.
func (r *Relay) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.wg.Add(1)
	go r.evictLoop(ctx)
}

// Stop cancels the eviction loop and waits for it to exit.
func (r *Relay) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

func (r *Relay) evictLoop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(evictInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.evictStale()
		}
	}
}

func (r *Relay) evictStale() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for id, c := range r.clients {
		if now.Sub(c.LastSeen) > r.clientTimeout {
			delete(r.clients, id)
			slog.Info("relay: evicted idle client", "client_id", id)
		}
	}
}

// Serve blocks reading datagrams from the relay's socket until ctx is
// canceled or a non-timeout read error occurs.
func (r *Relay) Serve(ctx context.Context) error {
	buf := make([]byte, 65535)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		r.conn.SetReadDeadline(time.Now().Add(1 * time.Second))
		n, addr, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return fmt.Errorf("relay: read: %w", err)
		}

		packet := make([]byte, n)
		copy(packet, buf[:n])
		r.handlePacket(packet, addr)
	}
}

func (r *Relay) handlePacket(data []byte, addr *net.UDPAddr) {
	if r.isBlocked(addr.IP.String()) {
		return
	}
	if r.limiter != nil && !r.limiter.Allow() {
		slog.Debug("relay: rate limit exceeded, dropping datagram", "source", addr.String())
		return
	}

	id := extractIdentity(data)
	if id == "" {
		id = addr.String()
	}
	r.upsertClient(id, addr)

	targets := r.otherClients(id)
	for _, target := range targets {
		n, err := r.conn.WriteToUDP(data, target.Addr)
		if err != nil {
			slog.Warn("relay: forward failed", "target", target.ID, "error", err)
			continue
		}
		r.mu.Lock()
		target.BytesRelayed += uint64(n)
		target.PacketsRelayed++
		r.totalBytes += uint64(n)
		r.totalPackets++
		r.mu.Unlock()
	}
}

func (r *Relay) upsertClient(id string, addr *net.UDPAddr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[id]
	if !ok {
		c = &Client{ID: id}
		r.clients[id] = c
	}
	c.Addr = addr
	c.LastSeen = time.Now()
}

func (r *Relay) otherClients(excludeID string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.clients))
	for id, c := range r.clients {
		if id == excludeID {
			continue
		}
		out = append(out, c)
	}
	return out
}

// extractIdentity parses a tunnel handshake header at offset 0: if the
// 4-byte little-endian type field is 1 (initiation) or 2 (response) and
// the datagram is at least handshakeMinLen bytes, the 32-byte client
// public key at offset 8 becomes the identity. Data packets (type 4) and
// anything shorter are left unidentified; the caller falls back to the
// source address.
func extractIdentity(data []byte) string {
	if len(data) < handshakeMinLen {
		return ""
	}
	msgType := binary.LittleEndian.Uint32(data[:4])
	if msgType != 1 && msgType != 2 {
		return ""
	}
	key := data[pubKeyOffset : pubKeyOffset+pubKeyLen]
	return base64.StdEncoding.EncodeToString(key)
}
