// Command node is the per-host overlay orchestrator: it registers with the
// control plane, probes its own NAT, joins or creates a party, and drives
// the connection manager, broadcast emulator, and mod-sync planner that
// keep this host's game traffic flowing to the rest of the party.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lanbridge/overlay/internal/config"
	"github.com/lanbridge/overlay/internal/watchdog"
)

// Set via -ldflags at build time.
var (
	version = "dev"
	commit  = "unknown"
)

func printUsage() {
	fmt.Println("Usage: node [config-path]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  node [config-path]     Start the node (default config: node.yaml)")
	fmt.Println("  node help              Show this help message")
	fmt.Println("  node version           Show version information")
}

func main() {
	configPath := "node.yaml"
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "help", "--help", "-h":
			printUsage()
			return
		case "version", "--version":
			fmt.Printf("node %s (%s)\n", version, commit)
			return
		default:
			configPath = os.Args[1]
		}
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	cfg, err := config.LoadNodeConfig(configPath)
	if err != nil {
		slog.Error("node: load config failed", "path", configPath, "error", err)
		os.Exit(1)
	}

	n, err := newNode(cfg)
	if err != nil {
		slog.Error("node: initialize failed", "error", err)
		os.Exit(1)
	}
	defer n.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := n.Start(ctx); err != nil {
		slog.Error("node: start failed", "error", err)
		os.Exit(1)
	}

	watchdog.Ready()
	go watchdog.Run(ctx, watchdog.Config{Interval: 30 * time.Second}, []watchdog.HealthCheck{
		{Name: "control-plane-reachable", Check: n.pingControlPlane},
		{Name: "tunnel-device-open", Check: n.checkTunnel},
	})

	slog.Info("node: running", "peer_id", n.peerID, "party_id", n.partyID, "overlay_base", cfg.Overlay.BaseSubnet)

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch

	watchdog.Stopping()
	slog.Info("node: shutting down")
	n.Stop()
	cancel()
}
