// Package config holds the YAML-backed configuration structs for the
// three overlay processes (node, control-server, relay-server).
package config

import "time"

// CurrentConfigVersion is the configuration schema version. Bump when
// adding fields that require migration.
const CurrentConfigVersion = 1

// NodeConfig configures the per-host overlay orchestrator (cmd/node).
type NodeConfig struct {
	Version      int                `yaml:"version,omitempty"`
	Identity     IdentityConfig     `yaml:"identity"`
	ControlPlane ControlPlaneConfig `yaml:"control_plane"`
	NAT          NATConfig          `yaml:"nat"`
	Overlay      OverlayConfig      `yaml:"overlay"`
	Party        PartyConfig        `yaml:"party,omitempty"`
	Mods         ModsConfig         `yaml:"mods,omitempty"`
	Broadcast    BroadcastConfig    `yaml:"broadcast,omitempty"`
	Telemetry    TelemetryConfig    `yaml:"telemetry,omitempty"`
}

// PartyConfig tells the node which party to join at startup. If PartyID is
// set it joins an existing party; otherwise, if Name is set, it creates a
// new one and becomes its host. Leaving both empty starts the node without
// a party (control-plane registration and NAT probing only).
type PartyConfig struct {
	PartyID     string `yaml:"party_id,omitempty"`
	Name        string `yaml:"name,omitempty"`
	DisplayName string `yaml:"display_name,omitempty"`
}

// ModsConfig points the node at a mod manifest to reconcile against local
// state on startup. Empty ManifestPath disables mod-sync planning.
type ModsConfig struct {
	ManifestPath   string `yaml:"manifest_path,omitempty"`
	ModsRoot       string `yaml:"mods_root,omitempty"`
	Mode           string `yaml:"mode,omitempty"` // native | managed | hybrid
	NativeProvider string `yaml:"native_provider,omitempty"`
}

// ControlServerConfig configures the authoritative control-plane store
// (cmd/control-server).
type ControlServerConfig struct {
	Version       int             `yaml:"version,omitempty"`
	ListenAddress string          `yaml:"listen_address"`
	ReapInterval  time.Duration   `yaml:"reap_interval,omitempty"`
	PeerTimeout   time.Duration   `yaml:"peer_timeout,omitempty"`
	RelayTimeout  time.Duration   `yaml:"relay_timeout,omitempty"`
	TokenTTL      time.Duration   `yaml:"token_ttl,omitempty"`
	Telemetry     TelemetryConfig `yaml:"telemetry,omitempty"`
}

// RelayServerConfig configures the stateless UDP relay (cmd/relay-server).
type RelayServerConfig struct {
	Version         int             `yaml:"version,omitempty"`
	ListenAddress   string          `yaml:"listen_address"`
	PublicIP        string          `yaml:"public_ip,omitempty"`
	Region          string          `yaml:"region,omitempty"`
	ControlPlaneURL string          `yaml:"control_plane_url,omitempty"`
	ClientTimeout   time.Duration   `yaml:"client_timeout,omitempty"`
	RateLimitPPS    float64         `yaml:"rate_limit_pps,omitempty"`
	RateLimitBurst  int             `yaml:"rate_limit_burst,omitempty"`
	BlockedIPs      []string        `yaml:"blocked_ips,omitempty"`
	Telemetry       TelemetryConfig `yaml:"telemetry,omitempty"`
}

// IdentityConfig holds the local peer's identity material.
type IdentityConfig struct {
	PeerID    string `yaml:"peer_id,omitempty"`
	Name      string `yaml:"name"`
	KeyFile   string `yaml:"key_file"`
}

// ControlPlaneConfig points the node at its control-plane server.
type ControlPlaneConfig struct {
	BaseURL        string        `yaml:"base_url"`
	RequestTimeout time.Duration `yaml:"request_timeout,omitempty"`
	ConnectTimeout time.Duration `yaml:"connect_timeout,omitempty"`
	MaxRetries     int           `yaml:"max_retries,omitempty"`
}

// NATConfig configures STUN probing and direct-connect scoring.
type NATConfig struct {
	STUNServers      []string      `yaml:"stun_servers,omitempty"`
	STUNTimeout      time.Duration `yaml:"stun_timeout,omitempty"`
	DirectThreshold  float64       `yaml:"direct_threshold,omitempty"`
	FailoverCooldown time.Duration `yaml:"failover_cooldown,omitempty"`
}

// OverlayConfig configures the IP allocator's base network.
type OverlayConfig struct {
	BaseSubnet string `yaml:"base_subnet,omitempty"`
}

// BroadcastConfig configures the broadcast/multicast emulator.
type BroadcastConfig struct {
	Ports        []int         `yaml:"ports,omitempty"`
	DedupWindow  time.Duration `yaml:"dedup_window,omitempty"`
	DedupEnabled *bool         `yaml:"dedup_enabled,omitempty"`
}

// IsDedupEnabled returns whether dedup is enabled, defaulting to true.
func (b *BroadcastConfig) IsDedupEnabled() bool {
	if b.DedupEnabled == nil {
		return true
	}
	return *b.DedupEnabled
}

// TelemetryConfig holds observability settings, all opt-in.
type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics,omitempty"`
}

// MetricsConfig controls Prometheus metrics exposure.
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddress string `yaml:"listen_address,omitempty"` // default "127.0.0.1:9091"
}

// DefaultNodeConfig returns sane defaults for a node process.
func DefaultNodeConfig() NodeConfig {
	return NodeConfig{
		Version: CurrentConfigVersion,
		ControlPlane: ControlPlaneConfig{
			RequestTimeout: 10 * time.Second,
			ConnectTimeout: 5 * time.Second,
			MaxRetries:     3,
		},
		NAT: NATConfig{
			STUNServers:      []string{"stun.l.google.com:19302", "stun1.l.google.com:19302"},
			STUNTimeout:      3 * time.Second,
			DirectThreshold:  80.0,
			FailoverCooldown: 2 * time.Second,
		},
		Overlay: OverlayConfig{
			BaseSubnet: "10.66.0.0/16",
		},
		Broadcast: BroadcastConfig{
			Ports:       []int{4445, 7777, 27015, 27016, 6112, 6073},
			DedupWindow: 2 * time.Second,
		},
	}
}

// DefaultControlServerConfig returns sane defaults for the control server.
func DefaultControlServerConfig() ControlServerConfig {
	return ControlServerConfig{
		Version:       CurrentConfigVersion,
		ListenAddress: "0.0.0.0:8666",
		ReapInterval:  60 * time.Second,
		PeerTimeout:   5 * time.Minute,
		RelayTimeout:  10 * time.Minute,
		TokenTTL:      24 * time.Hour,
	}
}

// DefaultRelayServerConfig returns sane defaults for the relay server.
func DefaultRelayServerConfig() RelayServerConfig {
	return RelayServerConfig{
		Version:        CurrentConfigVersion,
		ListenAddress:  "0.0.0.0:51820",
		ClientTimeout:  5 * time.Minute,
		RateLimitPPS:   2000,
		RateLimitBurst: 4000,
	}
}
