package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"

	"github.com/mordorwide/plasma/internal/config"
	"github.com/mordorwide/plasma/internal/crypto"
	"github.com/mordorwide/plasma/internal/db"
	"github.com/mordorwide/plasma/internal/fesl"
	"github.com/mordorwide/plasma/internal/relay"
	"github.com/mordorwide/plasma/internal/session"
	"github.com/mordorwide/plasma/internal/theater"
	"github.com/mordorwide/plasma/internal/transport"
)

const ConfigPath = "config/plasma.yaml"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	level := slog.LevelInfo
	if os.Getenv("PLASMA_DEBUG") == "1" {
		level = slog.LevelDebug
	}
	log := slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level:      level,
		TimeFormat: time.TimeOnly,
	}))
	slog.SetDefault(log)

	slog.Info("plasma backend starting")

	cfgPath := ConfigPath
	if p := os.Getenv("PLASMA_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	slog.Info("config loaded",
		"bind", cfg.BindAddress,
		"fesl_pc", cfg.FeslPCPort, "fesl_ps3", cfg.FeslPS3Port, "fesl_xbox", cfg.FeslXboxPort,
		"theater", cfg.TheaterPort)

	database, err := db.New(ctx, cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer database.Close()
	slog.Info("database connected")

	if cfg.InitSchemas {
		if err := db.RunMigrations(ctx, cfg.Database.DSN()); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		slog.Info("database migrations applied")
	}

	// Sessions and games from a previous process reference dead
	// connections, drop them before accepting anyone.
	if err := database.ClearLiveState(ctx); err != nil {
		return fmt.Errorf("clearing live state: %w", err)
	}

	tlsConfig, err := crypto.LegacyServerConfig(cfg.CertificatePath, cfg.PrivateKeyPath)
	if err != nil {
		return fmt.Errorf("loading tls key pair: %w", err)
	}

	registry := transport.NewRegistry()
	stun := relay.NewSTUNClient(cfg.STUN)
	turn := relay.NewTURNClient(cfg.TURN)
	submit := transport.NewSubmitter(registry, stun, log)

	store := session.NewStore(db.NewStore(database.Pool()))
	sessions := session.NewManager(store, registry, log)

	feslHandler := fesl.New(sessions, submit, cfg, log)
	theaterHandler := theater.New(sessions, submit, stun, turn, log)

	servers := []interface {
		Run(ctx context.Context) error
	}{
		transport.NewTCPServer(cfg.BindAddress, uint16(cfg.FeslPCPort), tlsConfig, feslHandler, registry, log),
		transport.NewTCPServer(cfg.BindAddress, uint16(cfg.FeslPS3Port), tlsConfig, feslHandler, registry, log),
		transport.NewTCPServer(cfg.BindAddress, uint16(cfg.FeslXboxPort), nil, feslHandler, registry, log),
		transport.NewTCPServer(cfg.BindAddress, uint16(cfg.TheaterPort), nil, theaterHandler, registry, log),
		transport.NewUDPServer(cfg.BindAddress, uint16(cfg.TheaterPort), theaterHandler, registry, log),
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		g.Go(func() error {
			return srv.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
