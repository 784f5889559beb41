// Worldgate - MMO world server session gateway.
//
// Worldgate accepts persistent binary TCP connections from game
// clients, performs the challenge-response auth handshake, installs the
// per-session stream cipher, and dispatches opcoded packets to
// per-player session handlers with a full chat policy engine. It
// exposes a REST API for remote management and publishes telemetry via
// MQTT.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/worldgate-project/worldgate/internal/account"
	"github.com/worldgate-project/worldgate/internal/api"
	"github.com/worldgate-project/worldgate/internal/auth"
	"github.com/worldgate-project/worldgate/internal/chat"
	"github.com/worldgate-project/worldgate/internal/cli"
	"github.com/worldgate-project/worldgate/internal/config"
	"github.com/worldgate-project/worldgate/internal/events"
	"github.com/worldgate-project/worldgate/internal/network"
	"github.com/worldgate-project/worldgate/internal/scheduler"
	"github.com/worldgate-project/worldgate/internal/session"
	"github.com/worldgate-project/worldgate/internal/telemetry"
	"github.com/worldgate-project/worldgate/internal/util"
	"github.com/worldgate-project/worldgate/internal/world"
)

const (
	AppName    = "Worldgate"
	AppVersion = "1.0.0"
	Banner     = `
 __        __         _     _            _
 \ \      / /__  _ __| | __| | __ _  __ _| |_ ___
  \ \ /\ / / _ \| '__| |/ _' |/ _' |/ _' | __/ _ \
   \ V  V / (_) | |  | | (_| | (_| | (_| | ||  __/
    \_/\_/ \___/|_|  |_|\__,_|\__, |\__,_|\__\___|
                              |___/  v%s
 MMO World Server Session Gateway
`
)

func main() {
	fmt.Printf(Banner, AppVersion)
	fmt.Println()

	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info().
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting Worldgate")

	cfg, err := config.Load(config.DefaultConfigDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Reconfigure logging from the loaded config.
	logCfg := util.LogConfig{
		Level:      cfg.App.Logging.Level,
		Directory:  cfg.App.Logging.Directory,
		MaxBackups: cfg.App.Logging.MaxBackups,
		Console:    true,
	}
	if err := util.InitLogger(logCfg); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Core components.
	bus := events.NewEventBus()
	registry := session.NewRegistry()
	counters := telemetry.NewCounters(bus)

	store, err := account.NewStore(cfg.GetRealm().DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open account database")
	}
	defer store.Close()

	authenticator := auth.NewAuthenticator(store, cfg)

	// World collaborators and the chat policy engine.
	channels := world.NewChannelManager()
	groups := world.NewGroupManager()
	guilds := world.NewGuildRoster()
	proximity := world.NewZoneProximity(registry)
	emotes := world.NewEmoteTable()
	flood := world.NewFloodGate()

	engine := chat.NewEngine(cfg, chat.Deps{
		Registry:  registry,
		Channels:  channels,
		Groups:    groups,
		Guilds:    guilds,
		Proximity: proximity,
		ChatLog:   store,
		Antispam:  flood,
		Emotes:    emotes,
	})

	handlers := make(map[uint16]session.Handler)
	for opcode, h := range engine.SessionHandlers() {
		handlers[opcode] = h
	}

	worldSrv := world.New(cfg, registry, bus)

	listener := network.NewListener(network.Deps{
		Cfg:      cfg,
		Auth:     authenticator,
		Bus:      bus,
		Registry: registry,
		Handlers: handlers,
		Persist:  store,
	})

	apiServer := api.NewServer(cfg, bus, registry, worldSrv, counters)
	sched := scheduler.NewScheduler(cfg, listener, registry)
	console := cli.NewCLI(cfg, bus, registry, worldSrv, counters)

	var mqttPublisher *telemetry.Publisher
	if cfg.App.Telemetry.Enabled {
		mqttPublisher, err = telemetry.NewPublisher(cfg, bus, registry, worldSrv, counters)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		}
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 4)

	// Game listener.
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := listener.Start(ctx); err != nil {
			errCh <- fmt.Errorf("game listener: %w", err)
		}
	}()

	// Logic tick.
	wg.Add(1)
	go func() {
		defer wg.Done()
		worldSrv.Run(ctx)
	}()

	// Admin API.
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := apiServer.Start(ctx); err != nil {
			log.Warn().Err(err).Msg("admin API failed (non-fatal)")
		}
	}()

	// Scheduler.
	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Start(ctx)
	}()

	// MQTT telemetry.
	if mqttPublisher != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := mqttPublisher.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
		}()
	}

	// Operator console.
	wg.Add(1)
	go func() {
		defer wg.Done()
		console.Start(ctx)
	}()

	// Graceful shutdown on signal, console quit, or listener failure.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	shutdownCh := make(chan struct{}, 1)
	bus.Subscribe(events.EventShutdown, "main", func(ctx context.Context, e events.Event) error {
		select {
		case shutdownCh <- struct{}{}:
		default:
		}
		return nil
	})

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-shutdownCh:
		log.Info().Msg("shutdown requested from console")
	case err := <-errCh:
		log.Error().Err(err).Msg("critical error, initiating shutdown")
	}

	log.Info().Msg("initiating graceful shutdown...")
	cancel()
	listener.Stop()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(30 * time.Second):
		log.Warn().Msg("shutdown timed out after 30 seconds, forcing exit")
	}

	bus.Stop()
	log.Info().Msg("Worldgate stopped")
}
