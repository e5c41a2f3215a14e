// Package controlplane implements the authoritative state store for
// parties, peers, relay candidates, and bearer tokens, plus an HTTP
// server and client exposing it.
package controlplane

import "time"

// PeerInfo is a peer's directory entry within a party.
type PeerInfo struct {
	PeerID     string    `json:"peer_id"`
	Name       string    `json:"name"`
	PublicKey  string    `json:"public_key"`
	NATType    string    `json:"nat_type"`
	PublicIP   string    `json:"public_ip"`
	PublicPort int       `json:"public_port"`
	LocalIP    string    `json:"local_ip"`
	LocalPort  int       `json:"local_port"`
	LastSeen   time.Time `json:"last_seen"`
}

// PartyInfo is a party's full roster as seen by the control plane.
type PartyInfo struct {
	PartyID   string              `json:"party_id"`
	Name      string              `json:"name"`
	HostID    string              `json:"host_id"`
	CreatedAt time.Time           `json:"created_at"`
	Peers     map[string]PeerInfo `json:"peers"`
}

// RelayCandidate is a relay server's registration with the control plane.
type RelayCandidate struct {
	RelayID      string    `json:"relay_id"`
	Region       string    `json:"region"`
	PublicIP     string    `json:"public_ip"`
	Port         int       `json:"port"`
	Capacity     int       `json:"capacity"`
	RegisteredAt time.Time `json:"registered_at"`
	LastSeen     time.Time `json:"last_seen"`
}

// AuthToken is a bearer credential bound to a single peer.
type AuthToken struct {
	Token     string    `json:"token"`
	PeerID    string    `json:"peer_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the token's TTL has elapsed as of now.
func (t AuthToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}
