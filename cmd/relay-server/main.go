// Command relay-server runs a stateless UDP reflector that pairs peers
// unable to connect directly, and advertises itself to the control plane
// so nodes' relay selectors can discover it.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/lanbridge/overlay/internal/config"
	"github.com/lanbridge/overlay/internal/watchdog"
	"github.com/lanbridge/overlay/pkg/overlaynet/controlplane"
	"github.com/lanbridge/overlay/pkg/overlaynet/metrics"
	"github.com/lanbridge/overlay/pkg/overlaynet/relay"
)

var (
	version = "dev"
	commit  = "unknown"
)

// relayCapacity is the number of simultaneous client pairs this relay
// advertises as able to serve. Not yet adaptive to observed load.
const relayCapacity = 64

func printUsage() {
	fmt.Println("Usage: relay-server [config-path]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  relay-server [config-path]   Start the relay (default config: relay-server.yaml)")
	fmt.Println("  relay-server help            Show this help message")
	fmt.Println("  relay-server version         Show version information")
}

func main() {
	configPath := "relay-server.yaml"
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "help", "--help", "-h":
			printUsage()
			return
		case "version", "--version":
			fmt.Printf("relay-server %s (%s)\n", version, commit)
			return
		default:
			configPath = os.Args[1]
		}
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	cfg, err := config.LoadRelayServerConfig(configPath)
	if err != nil {
		slog.Error("relay-server: load config failed", "path", configPath, "error", err)
		os.Exit(1)
	}

	udpAddr, err := net.ResolveUDPAddr("udp4", cfg.ListenAddress)
	if err != nil {
		slog.Error("relay-server: resolve listen address failed", "addr", cfg.ListenAddress, "error", err)
		os.Exit(1)
	}
	conn, err := net.ListenUDP("udp4", udpAddr)
	if err != nil {
		slog.Error("relay-server: bind socket failed", "addr", cfg.ListenAddress, "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	r := relay.New(conn, int(cfg.RateLimitPPS), cfg.RateLimitBurst)
	r.SetClientTimeout(cfg.ClientTimeout)
	for _, ip := range cfg.BlockedIPs {
		r.Block(ip)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)
	defer r.Stop()

	var prom *metrics.Prom
	if cfg.Telemetry.Metrics.Enabled {
		prom = metrics.NewProm(version, "relay-server")
		addr := cfg.Telemetry.Metrics.ListenAddress
		if addr == "" {
			addr = "127.0.0.1:9091"
		}
		go func() {
			if err := http.ListenAndServe(addr, prom.Handler()); err != nil && err != http.ErrServerClosed {
				slog.Error("relay-server: metrics listener failed", "addr", addr, "error", err)
			}
		}()
	}

	relayID := uuid.New().String()
	if cfg.ControlPlaneURL != "" {
		go advertiseToControlPlane(ctx, cfg, relayID)
	}

	go func() {
		if err := r.Serve(ctx); err != nil && ctx.Err() == nil {
			slog.Error("relay-server: serve failed", "error", err)
			os.Exit(1)
		}
	}()

	watchdog.Ready()
	go watchdog.Run(ctx, watchdog.Config{Interval: 30 * time.Second}, []watchdog.HealthCheck{
		{Name: "udp-socket-bound", Check: func() error {
			if conn == nil {
				return fmt.Errorf("relay-server: socket not bound")
			}
			return nil
		}},
	})

	slog.Info("relay-server: running", "relay_id", relayID, "addr", cfg.ListenAddress)

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch

	watchdog.Stopping()
	slog.Info("relay-server: shutting down")
	cancel()
}

// advertiseToControlPlane registers this relay (and renews its
// registration on an interval) so relayselect.Selector on every node can
// discover it as a candidate.
func advertiseToControlPlane(ctx context.Context, cfg config.RelayServerConfig, relayID string) {
	client := controlplane.NewClient(cfg.ControlPlaneURL)
	if _, err := client.Register(ctx, "relay-"+relayID); err != nil {
		slog.Warn("relay-server: control-plane registration failed", "error", err)
		return
	}

	host, portStr, err := net.SplitHostPort(cfg.ListenAddress)
	if err != nil {
		slog.Warn("relay-server: parse listen address failed", "addr", cfg.ListenAddress, "error", err)
		return
	}
	port := 0
	fmt.Sscanf(portStr, "%d", &port)

	publicIP := cfg.PublicIP
	if publicIP == "" {
		publicIP = host
	}

	candidate := controlplane.RelayCandidate{
		RelayID:  relayID,
		Region:   cfg.Region,
		PublicIP: publicIP,
		Port:     port,
		Capacity: relayCapacity,
	}

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		if _, err := client.RegisterRelay(ctx, candidate); err != nil {
			slog.Warn("relay-server: relay registration failed", "relay_id", relayID, "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
