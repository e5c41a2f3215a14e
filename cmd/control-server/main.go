// Command control-server runs the authoritative control plane: party
// rosters, peer auth tokens, and relay candidate bookkeeping, served over
// HTTP for every node and relay-server in the deployment.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lanbridge/overlay/internal/config"
	"github.com/lanbridge/overlay/internal/watchdog"
	"github.com/lanbridge/overlay/pkg/overlaynet/controlplane"
	"github.com/lanbridge/overlay/pkg/overlaynet/metrics"
)

var (
	version = "dev"
	commit  = "unknown"
)

func printUsage() {
	fmt.Println("Usage: control-server [config-path]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  control-server [config-path]   Start the control plane (default config: control-server.yaml)")
	fmt.Println("  control-server help            Show this help message")
	fmt.Println("  control-server version         Show version information")
}

func main() {
	configPath := "control-server.yaml"
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "help", "--help", "-h":
			printUsage()
			return
		case "version", "--version":
			fmt.Printf("control-server %s (%s)\n", version, commit)
			return
		default:
			configPath = os.Args[1]
		}
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	cfg, err := config.LoadControlServerConfig(configPath)
	if err != nil {
		slog.Error("control-server: load config failed", "path", configPath, "error", err)
		os.Exit(1)
	}

	store := controlplane.NewStoreWithConfig(controlplane.StoreConfig{
		TokenTTL:     cfg.TokenTTL,
		PeerTimeout:  cfg.PeerTimeout,
		RelayTimeout: cfg.RelayTimeout,
		ReapInterval: cfg.ReapInterval,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store.Start(ctx)
	defer store.Stop()

	var prom *metrics.Prom
	if cfg.Telemetry.Metrics.Enabled {
		prom = metrics.NewProm(version, "control-server")
		addr := cfg.Telemetry.Metrics.ListenAddress
		if addr == "" {
			addr = "127.0.0.1:9091"
		}
		go func() {
			if err := http.ListenAndServe(addr, prom.Handler()); err != nil && err != http.ErrServerClosed {
				slog.Error("control-server: metrics listener failed", "addr", addr, "error", err)
			}
		}()
	}

	handler := controlplane.NewServer(store)
	srv := &http.Server{
		Addr:    cfg.ListenAddress,
		Handler: handler,
	}

	go func() {
		slog.Info("control-server: listening", "addr", cfg.ListenAddress)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("control-server: listen failed", "error", err)
			os.Exit(1)
		}
	}()

	watchdog.Ready()
	go watchdog.Run(ctx, watchdog.Config{Interval: 30 * time.Second}, []watchdog.HealthCheck{
		{Name: "http-listener", Check: func() error { return nil }},
	})

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch

	watchdog.Stopping()
	slog.Info("control-server: shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("control-server: graceful shutdown failed", "error", err)
	}
	cancel()
}
