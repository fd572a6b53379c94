package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vpnse/vpnse/internal/config"
	"github.com/vpnse/vpnse/internal/diag"
	"github.com/vpnse/vpnse/internal/logging"
	"github.com/vpnse/vpnse/internal/metrics"
	"github.com/vpnse/vpnse/internal/session"
	"github.com/vpnse/vpnse/internal/tun"
	"github.com/vpnse/vpnse/internal/vpnerr"
)

// RunConnect runs the full session lifecycle: connect, authenticate,
// establish the tunnel, then hold it open until SIGINT/SIGTERM.
func RunConnect(configFile string, noTunnel bool) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	logger := logging.New(logging.Config{
		Level:  logging.ParseLevel(cfg.LogLevel),
		Output: os.Stderr,
	})
	logging.SetDefault(logger)
	logger.Info("starting", "config", configFile, "target", cfg.String())

	sess, err := session.New(cfg, session.Options{Logger: logger})
	if err != nil {
		return err
	}
	defer sess.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsListen != "" {
		go serveMetrics(cfg.MetricsListen, logger)
	}

	if err := sess.Connect(ctx, cfg.Server.Hostname, cfg.Server.Port); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	if err := sess.Authenticate(ctx, cfg.Auth.Username, cfg.Auth.Password); err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}

	if noTunnel {
		fmt.Printf("Connected to %s:%d (no tunnel requested)\n", cfg.Server.Hostname, cfg.Server.Port)
		<-ctx.Done()
		return sess.Disconnect()
	}

	collector := metrics.NewCollector(metrics.Get(), logger, 10*time.Second)
	collector.Start(ctx)
	defer collector.Stop()

	if err := sess.EstablishTunnel(); err != nil {
		if vpnerr.IsKind(err, vpnerr.KindPermissionDenied) {
			return fmt.Errorf("establish tunnel: %w (try running with elevated privileges)", err)
		}
		// A tunnel-failed session may still be Tunneling with a live
		// device; report the problem but keep the session up.
		if sess.Status() != session.StatusTunneling {
			return fmt.Errorf("establish tunnel: %w", err)
		}
		logger.Warn("tunnel up with degraded routing", "error", err)
	}

	if desc, err := sess.DescribeTunnelInterface(); err == nil {
		fmt.Printf("Tunnel established: %s\n", desc)
	}
	if sess.Mode() == tun.CapabilityNative {
		collector.SetInterface(sess.InterfaceName())
		verifyTunnel(ctx, cfg, logger)
	}

	<-ctx.Done()
	logger.Info("signal received, tearing down")
	if err := sess.CloseTunnel(); err != nil {
		logger.Warn("tunnel teardown incomplete", "error", err)
	}
	return sess.Disconnect()
}

// verifyTunnel runs best-effort reachability probes through the new tunnel.
// Failures are logged, never fatal.
func verifyTunnel(ctx context.Context, cfg *config.Settings, logger *logging.Logger) {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := diag.PingGateway(probeCtx, cfg.Tunnel.GatewayAddress, 3*time.Second); err != nil {
		logger.Warn("tunnel gateway did not answer ping", "gateway", cfg.Tunnel.GatewayAddress, "error", err)
	} else {
		logger.Info("tunnel gateway reachable", "gateway", cfg.Tunnel.GatewayAddress)
	}

	if cfg.Routing != nil && cfg.Routing.DNSOverride {
		for _, ns := range cfg.NameServerIPs() {
			rtt, err := diag.ProbeNameServer(probeCtx, ns, cfg.Server.Hostname, 3*time.Second)
			if err != nil {
				logger.Warn("name server probe failed", "resolver", ns.String(), "error", err)
				continue
			}
			logger.Info("name server answering", "resolver", ns.String(), "rtt", rtt.String())
		}
	}
}

func serveMetrics(addr string, logger *logging.Logger) {
	metrics.Get() // force registration
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logger.Info("metrics listener started", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics listener failed", "error", err)
	}
}
