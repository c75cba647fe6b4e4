// Package main implements the entry point for the DroneController server.
// DroneController exposes a drone flight controller over WebSocket and
// NATS transports: commands in, telemetry out.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"

	"github.com/uwdrones/DroneController/config"
	"github.com/uwdrones/DroneController/drone"
	"github.com/uwdrones/DroneController/handlers"
	"github.com/uwdrones/DroneController/metric"
	"github.com/uwdrones/DroneController/router"
	"github.com/uwdrones/DroneController/rpcserver"
	"github.com/uwdrones/DroneController/service"
	"github.com/uwdrones/DroneController/telemetry"
	"github.com/uwdrones/DroneController/wsserver"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "dronecontroller"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	// Optional .env file for local development
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to load .env file", "error", err)
	}

	cliCfg, shouldExit, err := initializeCLI()
	if shouldExit || err != nil {
		return err
	}

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	return runServer(cliCfg, cfg)
}

// initializeCLI parses flags and sets up logging
func initializeCLI() (*CLIConfig, bool, error) {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, true, nil
	}

	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil, true, nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting DroneController",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	return cliCfg, false, nil
}

func runServer(cliCfg *CLIConfig, cfg config.Config) error {
	logger := slog.Default()

	interval, err := cfg.TelemetryInterval()
	if err != nil {
		return err
	}

	link, err := buildLink(cfg, logger)
	if err != nil {
		return err
	}

	metricsRegistry, metricsServer, err := setupMetrics(cfg, logger)
	if err != nil {
		return err
	}

	r := router.New(logger, metricsRegistry)
	handlers.RegisterAll(r, link, logger)

	broadcaster := telemetry.New(link, interval, logger, metricsRegistry)

	streaming := wsserver.New(wsserver.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
		Path: cfg.Server.Path,
	}, r, broadcaster, logger, metricsRegistry)

	rpc, natsConn, err := setupRPC(cfg, r, logger)
	if err != nil {
		return err
	}
	if natsConn != nil {
		defer natsConn.Close()
	}

	sup := service.New(link, streaming, rpc, broadcaster, logger)

	signalCtx, signalCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	if err := sup.Start(signalCtx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}
	slog.Info("DroneController started successfully",
		"ws_addr", fmt.Sprintf("%s:%d%s", cfg.Server.Host, cfg.Server.Port, cfg.Server.Path),
		"rpc_enabled", cfg.RPC.Enabled,
		"link_mode", cfg.Link.Mode)

	<-signalCtx.Done()
	slog.Info("Received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cliCfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := sup.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	if metricsServer != nil {
		if err := metricsServer.Stop(5 * time.Second); err != nil {
			slog.Error("Failed to stop metrics server", "error", err)
		}
	}

	slog.Info("DroneController shutdown complete")
	return nil
}

// buildLink constructs the device link selected by the configuration.
func buildLink(cfg config.Config, logger *slog.Logger) (drone.Link, error) {
	switch cfg.Link.Mode {
	case config.LinkModeSim:
		return drone.NewSimLink(cfg.Link.Seed, logger), nil
	case config.LinkModeMAVLink:
		// TODO: wire gomavlib once a serial/UDP endpoint config lands
		return nil, fmt.Errorf("link mode %q is not yet supported", cfg.Link.Mode)
	default:
		return nil, fmt.Errorf("unknown link mode %q", cfg.Link.Mode)
	}
}

// setupMetrics starts the Prometheus scrape endpoint when enabled.
func setupMetrics(cfg config.Config, logger *slog.Logger) (*metric.MetricsRegistry, *metric.Server, error) {
	if !cfg.Metrics.Enabled {
		return nil, nil, nil
	}

	registry := metric.NewMetricsRegistry()
	server := metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, registry, logger)
	if err := server.Start(); err != nil {
		return nil, nil, fmt.Errorf("start metrics server: %w", err)
	}

	slog.Info("Metrics endpoint ready", "addr", server.Addr(), "path", cfg.Metrics.Path)
	return registry, server, nil
}

// setupRPC connects to NATS and builds the RPC transport. A disabled RPC
// config yields a server with no connection; its lifecycle is a no-op.
func setupRPC(cfg config.Config, r *router.Router, logger *slog.Logger) (*rpcserver.Server, *nats.Conn, error) {
	if !cfg.RPC.Enabled {
		return rpcserver.New(cfg.RPC.Subject, nil, r, logger), nil, nil
	}

	conn, err := nats.Connect(cfg.RPC.URL,
		nats.Name(appName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to NATS at %s: %w", cfg.RPC.URL, err)
	}

	slog.Info("Connected to NATS", "url", cfg.RPC.URL, "subject", cfg.RPC.Subject)
	return rpcserver.New(cfg.RPC.Subject, conn, r, logger), conn, nil
}
