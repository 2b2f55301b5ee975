package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/cortexuvula/pagesync/internal/broker"
	"github.com/cortexuvula/pagesync/internal/config"
	"github.com/cortexuvula/pagesync/internal/docstore"
	"github.com/cortexuvula/pagesync/internal/health"
	"github.com/cortexuvula/pagesync/internal/httpapi"
	"github.com/cortexuvula/pagesync/internal/logging"
	"github.com/cortexuvula/pagesync/internal/metrics"
	"github.com/cortexuvula/pagesync/internal/security"
	"github.com/cortexuvula/pagesync/internal/transport"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pagesync",
		Short: "Real-time PDF presentation broker: a host turns pages, viewers follow",
	}

	var configPath string
	var verbose bool

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the session broker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(configPath, verbose)
		},
	}
	startCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	startCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version and build info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("pagesync %s\n", Version)
			fmt.Printf("  Build time: %s\n", BuildTime)
			fmt.Printf("  Git commit: %s\n", GitCommit)
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate config without starting",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("config validation failed: %w", err)
			}
			fmt.Printf("Configuration is valid.\n")
			fmt.Printf("  Listen: %s\n", cfg.Server.ListenAddress)
			fmt.Printf("  Upload backend: %s\n", cfg.Upload.Backend)
			fmt.Printf("  Health: %s\n", cfg.Health.ListenAddress)
			fmt.Printf("  Static dir: %s\n", cfg.Server.StaticDir)
			return nil
		},
	}
	validateCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Check health (exit 0 if healthy, 1 if not)",
		RunE: func(cmd *cobra.Command, args []string) error {
			url, _ := cmd.Flags().GetString("url")
			return checkHealth(url)
		},
	}
	healthCmd.Flags().String("url", "http://127.0.0.1:8081/health", "Health endpoint URL")

	systemdCmd := &cobra.Command{
		Use:   "systemd",
		Short: "Generate systemd service file",
		RunE: func(cmd *cobra.Command, args []string) error {
			printFlag, _ := cmd.Flags().GetBool("print")
			if printFlag {
				printSystemdUnit()
			}
			return nil
		},
	}
	systemdCmd.Flags().Bool("print", false, "Print systemd unit to stdout")

	rootCmd.AddCommand(startCmd, versionCmd, validateCmd, healthCmd, systemdCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServer(configPath string, verbose bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if verbose {
		cfg.Logging.Level = "debug"
	}

	lj := logging.Setup(cfg.Logging)
	defer func() {
		if lj != nil {
			lj.Close()
		}
	}()

	slog.Info("starting pagesync",
		"version", Version,
		"listen", cfg.Server.ListenAddress,
		"upload_backend", cfg.Upload.Backend,
		"health", cfg.Health.ListenAddress,
	)

	shutdownCtx, shutdown := context.WithCancel(context.Background())
	defer shutdown()

	store, err := docstore.New(shutdownCtx, cfg.Upload)
	if err != nil {
		return fmt.Errorf("creating document store: %w", err)
	}
	if err := store.Ping(shutdownCtx); err != nil {
		slog.Warn("document store not reachable at startup", "error", err)
	}

	b := broker.New()
	tracker := transport.NewTracker()

	var rl *security.RateLimiter
	if cfg.Security.RateLimit.Enabled {
		rl = security.NewRateLimiter(security.PerMinute(cfg.Security.RateLimit.ConnectionsPerMinute), cfg.Security.RateLimit.ConnectionsPerMinute)
		defer rl.Stop()
		slog.Info("rate limiting enabled",
			"connections_per_minute", cfg.Security.RateLimit.ConnectionsPerMinute,
			"messages_per_second", cfg.Security.RateLimit.MessagesPerSecond,
		)
	}

	sessions := transport.NewHandler(cfg, b, tracker, rl, shutdownCtx)

	var m *metrics.Metrics
	if cfg.Monitoring.MetricsEnabled {
		m = metrics.New()
		sessions.Metrics = m
		b.SetMetrics(m)
		slog.Info("prometheus metrics enabled", "endpoint", cfg.Monitoring.MetricsEndpoint)
	}

	publicServer := &http.Server{
		Addr: cfg.Server.ListenAddress,
		Handler: httpapi.NewRouter(httpapi.Deps{
			Config:       cfg,
			ConfigSource: sessions.GetConfig,
			Broker:       b,
			Store:        store,
			Sessions:     sessions,
			Metrics:      m,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Health server (listens on 127.0.0.1:8081)
	var healthServer *http.Server
	if cfg.Health.Enabled {
		healthHandler := health.NewHandler(b, tracker, store, Version, cfg.Health.Detailed)
		if m != nil {
			healthHandler.SetMetrics(m)
		}
		healthMux := http.NewServeMux()
		healthMux.Handle(cfg.Health.Endpoint, healthHandler)

		if cfg.Monitoring.MetricsEnabled {
			healthMux.Handle(cfg.Monitoring.MetricsEndpoint, promhttp.Handler())
		}

		healthServer = &http.Server{
			Addr:    cfg.Health.ListenAddress,
			Handler: healthMux,
		}
	}

	if healthServer != nil {
		go func() {
			slog.Info("health endpoint listening", "address", cfg.Health.ListenAddress)
			if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("health server error", "error", err)
			}
		}()
	}

	go func() {
		slog.Info("public listener started", "address", cfg.Server.ListenAddress, "tls", cfg.Server.TLS.Enabled)
		var err error
		if cfg.Server.TLS.Enabled {
			err = publicServer.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		} else {
			err = publicServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			slog.Error("public server error", "error", err)
		}
	}()

	daemon.SdNotify(false, daemon.SdNotifyReady)

	// Watchdog heartbeat every 15s for WatchdogSec=30s
	watchdogCtx, watchdogCancel := context.WithCancel(context.Background())
	defer watchdogCancel()
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				sent, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog)
				if err != nil {
					slog.Warn("failed to notify watchdog", "error", err)
				} else if sent {
					slog.Debug("watchdog keepalive sent")
				}
			case <-watchdogCtx.Done():
				return
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	for sig := range sigChan {
		switch sig {
		case syscall.SIGHUP:
			slog.Info("received SIGHUP, reloading config")
			newCfg, err := config.Load(configPath)
			if err != nil {
				slog.Error("config reload failed", "error", err)
				continue
			}

			for _, w := range config.IsReloadSafe(cfg, newCfg) {
				slog.Warn("config reload warning", "warning", w)
			}

			cfg = cfg.ApplyReloadableFields(newCfg)
			if verbose {
				cfg.Logging.Level = "debug"
			}
			sessions.UpdateConfig(cfg)

			if cfg.Security.RateLimit.Enabled && rl != nil {
				rl.UpdateRate(security.PerMinute(cfg.Security.RateLimit.ConnectionsPerMinute), cfg.Security.RateLimit.ConnectionsPerMinute)
			}

			oldLJ := lj
			lj = logging.Setup(cfg.Logging)
			if oldLJ != nil {
				oldLJ.Close()
			}

			slog.Info("config reloaded successfully")

		case syscall.SIGTERM, syscall.SIGINT:
			slog.Info("received shutdown signal, draining connections",
				"signal", sig.String(),
				"drain_timeout", cfg.Server.DrainTimeout.String(),
				"sessions", b.SessionCount(),
			)

			watchdogCancel()
			daemon.SdNotify(false, daemon.SdNotifyStopping)

			ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.DrainTimeout)
			defer cancel()

			sessions.StartDrain()

			var wg sync.WaitGroup
			if healthServer != nil {
				wg.Add(1)
				go func() {
					defer wg.Done()
					healthServer.Shutdown(ctx)
				}()
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				publicServer.Shutdown(ctx)
				if err := sessions.Wait(ctx); err != nil {
					slog.Warn("drain timed out with sessions still open", "remaining", tracker.ConnectionCount())
				}
			}()
			wg.Wait()
			shutdown()

			slog.Info("shutdown complete")
			return nil
		}
	}

	return nil
}

func checkHealth(url string) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		fmt.Println("healthy")
		return nil
	}
	fmt.Fprintf(os.Stderr, "unhealthy (status: %d)\n", resp.StatusCode)
	os.Exit(1)
	return nil
}

func printSystemdUnit() {
	fmt.Print(`[Unit]
Description=pagesync - real-time PDF presentation broker
After=network-online.target
Wants=network-online.target

[Service]
Type=notify
User=pagesync
Group=pagesync
ExecStartPre=/usr/local/bin/pagesync validate --config /etc/pagesync/config.yaml
ExecStart=/usr/local/bin/pagesync start --config /etc/pagesync/config.yaml
ExecReload=/bin/kill -HUP $MAINPID
WorkingDirectory=/var/lib/pagesync
Restart=on-failure
RestartSec=5s
WatchdogSec=30s

# Security hardening
ProtectSystem=strict
ProtectHome=true
NoNewPrivileges=true
PrivateTmp=true
ReadOnlyPaths=/etc/pagesync
ReadWritePaths=/var/lib/pagesync
LogsDirectory=pagesync
StateDirectory=pagesync
LimitNOFILE=65535

# Uploaded documents stream to disk; session memory stays small
MemoryMax=256M

# Logging
StandardOutput=journal
StandardError=journal
SyslogIdentifier=pagesync

[Install]
WantedBy=multi-user.target
`)
}
