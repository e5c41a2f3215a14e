// Package wgtunnel adapts a real WireGuard device, managed through
// wgctrl, to the connection.Tunnel interface: the narrow add/remove/measure
// surface the Connection Manager expects from the cryptographic data plane.
package wgtunnel

import (
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.zx2c4.com/wireguard/wgctrl"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

// pingTimeout bounds a single latency probe.
const pingTimeout = 2 * time.Second

// Tunnel reconfigures a named WireGuard device via wgctrl and measures
// peer latency with an unprivileged ICMP echo to the peer's overlay
// address.
type Tunnel struct {
	client     *wgctrl.Client
	deviceName string
}

// New opens a wgctrl client against deviceName (e.g. "wg-overlay"). The
// device itself — its link and private key — is assumed to already exist;
// wgctrl only configures peers on top of it.
func New(deviceName string) (*Tunnel, error) {
	client, err := wgctrl.New()
	if err != nil {
		return nil, fmt.Errorf("wgtunnel: open wgctrl client: %w", err)
	}
	return &Tunnel{client: client, deviceName: deviceName}, nil
}

// Close releases the underlying wgctrl client.
func (t *Tunnel) Close() error {
	return t.client.Close()
}

// DeviceExists queries the device once, to confirm it is still present and
// the wgctrl client is still usable. Used as a watchdog liveness probe.
func (t *Tunnel) DeviceExists() error {
	_, err := t.client.Device(t.deviceName)
	return err
}

// AddPeer installs or updates a peer: publicKey is WireGuard's standard
// base64 wire format, endpoint is "host:port", and allowedIPs are CIDRs
// routed to the peer. An existing peer's allowed-IP set is replaced
// wholesale rather than merged.
func (t *Tunnel) AddPeer(publicKey, endpoint string, allowedIPs []string) error {
	key, err := wgtypes.ParseKey(publicKey)
	if err != nil {
		return fmt.Errorf("wgtunnel: parse public key: %w", err)
	}
	udpAddr, err := net.ResolveUDPAddr("udp", endpoint)
	if err != nil {
		return fmt.Errorf("wgtunnel: resolve endpoint %s: %w", endpoint, err)
	}
	nets, err := parseAllowedIPs(allowedIPs)
	if err != nil {
		return err
	}

	return t.client.ConfigureDevice(t.deviceName, wgtypes.Config{
		Peers: []wgtypes.PeerConfig{{
			PublicKey:         key,
			Endpoint:          udpAddr,
			AllowedIPs:        nets,
			ReplaceAllowedIPs: true,
		}},
	})
}

// RemovePeer tears down a peer's configuration on the device.
func (t *Tunnel) RemovePeer(publicKey string) error {
	key, err := wgtypes.ParseKey(publicKey)
	if err != nil {
		return fmt.Errorf("wgtunnel: parse public key: %w", err)
	}
	return t.client.ConfigureDevice(t.deviceName, wgtypes.Config{
		Peers: []wgtypes.PeerConfig{{PublicKey: key, Remove: true}},
	})
}

// MeasureLatency sends one ICMP echo to overlayIP and reports the
// round-trip time in milliseconds. A nil result with no error means the
// probe timed out without a reply, which the Connection Manager's monitor
// loop treats the same as a lost packet.
func (t *Tunnel) MeasureLatency(overlayIP string) (*float64, error) {
	return pingOnce(overlayIP, pingTimeout)
}

func parseAllowedIPs(cidrs []string) ([]net.IPNet, error) {
	nets := make([]net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, ipNet, err := net.ParseCIDR(c)
		if err != nil {
			return nil, fmt.Errorf("wgtunnel: parse allowed ip %s: %w", c, err)
		}
		nets = append(nets, *ipNet)
	}
	return nets, nil
}

func pingOnce(addr string, timeout time.Duration) (*float64, error) {
	conn, err := icmp.ListenPacket("udp4", "0.0.0.0")
	if err != nil {
		return nil, fmt.Errorf("wgtunnel: open icmp socket: %w", err)
	}
	defer conn.Close()

	msg := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Code: 0,
		Body: &icmp.Echo{ID: os.Getpid() & 0xffff, Seq: 1, Data: []byte("overlaynet")},
	}
	wire, err := msg.Marshal(nil)
	if err != nil {
		return nil, fmt.Errorf("wgtunnel: marshal icmp echo: %w", err)
	}

	start := time.Now()
	if _, err := conn.WriteTo(wire, &net.UDPAddr{IP: net.ParseIP(addr)}); err != nil {
		return nil, fmt.Errorf("wgtunnel: send icmp echo: %w", err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, fmt.Errorf("wgtunnel: set read deadline: %w", err)
	}
	reply := make([]byte, 1500)
	n, _, err := conn.ReadFrom(reply)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, nil
		}
		return nil, fmt.Errorf("wgtunnel: read icmp reply: %w", err)
	}

	parsed, err := icmp.ParseMessage(1, reply[:n])
	if err != nil || parsed.Type != ipv4.ICMPTypeEchoReply {
		return nil, nil
	}

	elapsed := float64(time.Since(start)) / float64(time.Millisecond)
	return &elapsed, nil
}
