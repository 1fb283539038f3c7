package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"fleet-dashboard/internal/api"
	"fleet-dashboard/internal/config"
	"fleet-dashboard/internal/dashboard"
	"fleet-dashboard/internal/link"
	"fleet-dashboard/internal/observability"
	"fleet-dashboard/internal/server"
	"fleet-dashboard/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	var configPath, logLevel string
	flagSet := pflag.NewFlagSet("dashboard", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to a YAML config file")
	flagSet.StringVar(&logLevel, "log-level", "", "override the configured log level (debug, info, warn, error)")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	logger := observability.NewLogger(cfg.LogLevel)
	logger.Info("Starting fleet dashboard...", "backend", cfg.BackendURL, "port", cfg.HTTPPort)

	return serve(ctx, cfg, logger)
}

// daemon is the wired dashboard: engine, bridge to the map surfaces and the
// HTTP server carrying them.
type daemon struct {
	engine *dashboard.Engine
	bridge *server.Bridge
	server *server.Server
	mirror *store.FleetMirror

	unsubscribe func()
}

func build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*daemon, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	client, err := api.New(cfg.BackendURL, nil, logger)
	if err != nil {
		return nil, err
	}

	hub := link.NewHub(nil, cfg.AllowedOrigins, logger)
	bridge := server.NewBridge(hub, loc, logger)

	opts := []dashboard.Option{
		dashboard.WithLogger(logger),
		dashboard.WithNotifier(bridge),
		dashboard.WithIntervals(cfg.FleetInterval, cfg.DetailInterval),
		dashboard.WithRequestTimeout(cfg.RequestTimeout),
		dashboard.WithLocationConcurrency(cfg.LocationConcurrency),
	}
	d := &daemon{bridge: bridge}
	if cfg.RedisAddr != "" {
		mirror, err := store.NewFleetMirror(ctx, cfg.RedisAddr, cfg.RedisDB, cfg.MirrorTTL)
		if err != nil {
			logger.Error("Redis init failed", "error", err)
			return nil, err
		}
		logger.Info("redis fleet mirror enabled", "addr", cfg.RedisAddr, "db", cfg.RedisDB)
		d.mirror = mirror
		opts = append(opts, dashboard.WithMirror(mirror))
	}
	d.engine = dashboard.New(client, opts...)
	d.unsubscribe = d.engine.Subscribe(bridge.Publish)
	d.server = server.New(":"+cfg.HTTPPort, d.engine, hub, loc, logger)
	return d, nil
}

func (d *daemon) close() {
	d.unsubscribe()
	if d.mirror != nil {
		_ = d.mirror.Close()
	}
}

func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	d, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer d.close()

	if cfg.MetricsPort != "" {
		go func() {
			if err := observability.StartMetricsServer(cfg.MetricsPort); err != nil {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	ctx, stop := context.WithCancel(ctx)
	defer stop()

	engineDone := make(chan error, 1)
	go func() { engineDone <- d.engine.Run(ctx) }()
	go d.bridge.Run(ctx)
	go startSession(ctx, d.engine, cfg, logger)

	if err := d.server.Run(ctx); err != nil {
		logger.Error("HTTP server failed", "error", err)
		stop()
		<-engineDone
		return err
	}
	if err := <-engineDone; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("fleet dashboard stopped")
	return nil
}

// startSession resumes a live cookie session or, when credentials are
// configured, logs in. Without either the dashboard waits for a login from a
// map surface.
func startSession(ctx context.Context, engine *dashboard.Engine, cfg config.Config, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if cfg.Username != "" {
		u, err := engine.Login(ctx, api.Credentials{Username: cfg.Username, Password: cfg.Password})
		if err != nil {
			logger.Warn("startup login failed", "username", cfg.Username, "error", err)
			return
		}
		logger.Info("startup login", "user_id", u.ID, "role", u.Role)
		return
	}
	if s := engine.CheckSession(ctx); s.Authenticated {
		logger.Info("resumed session", "user_id", s.User.ID)
	}
}
