// Package telemetry publishes gateway health and session counters over
// MQTT.
package telemetry

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/worldgate-project/worldgate/internal/config"
	"github.com/worldgate-project/worldgate/internal/events"
	"github.com/worldgate-project/worldgate/internal/session"
	"github.com/worldgate-project/worldgate/internal/util"
)

// MQTT topics.
const (
	TopicStatus   = "worldgate/status"
	TopicSessions = "worldgate/sessions"
	TopicAuth     = "worldgate/auth"
	TopicAdmin    = "worldgate/admin"
)

// WorldStats reports logic-tick progress. Implemented by the world tick
// driver.
type WorldStats interface {
	Ticks() uint64
	PacketsProcessed() uint64
}

// Counters accumulates lifecycle totals from the event bus. Safe for
// concurrent reads; the admin API shares it with the publisher.
type Counters struct {
	opened       atomic.Uint64
	closed       atomic.Uint64
	kicks        atomic.Uint64
	authFailures atomic.Uint64
}

// NewCounters subscribes a counter set to the bus.
func NewCounters(bus *events.EventBus) *Counters {
	c := &Counters{}
	bus.Subscribe(events.EventSessionOpened, "counters.opened", func(ctx context.Context, e events.Event) error {
		c.opened.Add(1)
		return nil
	})
	bus.Subscribe(events.EventSessionClosed, "counters.closed", func(ctx context.Context, e events.Event) error {
		c.closed.Add(1)
		return nil
	})
	bus.Subscribe(events.EventSessionKicked, "counters.kicked", func(ctx context.Context, e events.Event) error {
		c.kicks.Add(1)
		return nil
	})
	bus.Subscribe(events.EventAuthFailed, "counters.authFailed", func(ctx context.Context, e events.Event) error {
		c.authFailures.Add(1)
		return nil
	})
	return c
}

// Snapshot returns the current totals.
func (c *Counters) Snapshot() map[string]uint64 {
	return map[string]uint64{
		"sessions_opened": c.opened.Load(),
		"sessions_closed": c.closed.Load(),
		"kicks":           c.kicks.Load(),
		"auth_failures":   c.authFailures.Load(),
	}
}

// Publisher manages the MQTT connection and the periodic status
// publish.
type Publisher struct {
	cfg      *config.Config
	bus      *events.EventBus
	registry *session.Registry
	world    WorldStats
	counters *Counters
	client   mqtt.Client
	log      zerolog.Logger

	// Metadata included in every message.
	metadata map[string]interface{}
}

// NewPublisher builds the MQTT publisher. Returns an error when
// telemetry is disabled in the config.
func NewPublisher(cfg *config.Config, bus *events.EventBus, registry *session.Registry, world WorldStats, counters *Counters) (*Publisher, error) {
	tcfg := cfg.App.Telemetry
	if !tcfg.Enabled {
		return nil, fmt.Errorf("telemetry is disabled")
	}

	sysInfo := util.GetSystemInfo()
	metadata := map[string]interface{}{
		"realm":     cfg.Realm.Name,
		"hostname":  sysInfo.Hostname,
		"os":        sysInfo.OS,
		"cpu_model": sysInfo.CPUModel,
		"cpu_cores": sysInfo.CPUCores,
		"memory_mb": sysInfo.TotalMemory,
	}

	p := &Publisher{
		cfg:      cfg,
		bus:      bus,
		registry: registry,
		world:    world,
		counters: counters,
		log:      util.ComponentLogger("telemetry"),
		metadata: metadata,
	}

	opts := mqtt.NewClientOptions()
	scheme := "tcp"
	if tcfg.UseTLS {
		scheme = "ssl"
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, tcfg.BrokerURL, tcfg.Port))

	if tcfg.ClientID != "" {
		opts.SetClientID(tcfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("worldgate-%s", sysInfo.Hostname))
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(false)

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		p.log.Info().Msg("MQTT connected")
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		p.log.Warn().Err(err).Msg("MQTT connection lost")
	})

	p.client = mqtt.NewClient(opts)
	return p, nil
}

// Start connects to the broker, subscribes to bus events, and publishes
// a status message every interval until the context is cancelled.
func (p *Publisher) Start(ctx context.Context) error {
	tcfg := p.cfg.App.Telemetry

	p.log.Info().
		Str("broker", tcfg.BrokerURL).
		Int("port", tcfg.Port).
		Msg("connecting to MQTT broker")

	token := p.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	p.subscribeEvents()

	interval := time.Duration(tcfg.IntervalSec) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.publishShutdown()
			p.client.Disconnect(5000)
			p.log.Info().Msg("MQTT disconnected")
			return nil
		case <-ticker.C:
			p.publish(TopicStatus, p.statusPayload())
		}
	}
}

// subscribeEvents mirrors session lifecycle and auth failures onto MQTT
// topics.
func (p *Publisher) subscribeEvents() {
	p.bus.Subscribe(events.EventSessionOpened, "mqtt.sessionOpened", func(ctx context.Context, e events.Event) error {
		p.publish(TopicSessions, map[string]interface{}{"event": "opened", "payload": e.Payload})
		return nil
	})
	p.bus.Subscribe(events.EventSessionClosed, "mqtt.sessionClosed", func(ctx context.Context, e events.Event) error {
		p.publish(TopicSessions, map[string]interface{}{"event": "closed", "payload": e.Payload})
		return nil
	})
	p.bus.Subscribe(events.EventSessionKicked, "mqtt.sessionKicked", func(ctx context.Context, e events.Event) error {
		p.publish(TopicSessions, map[string]interface{}{"event": "kicked", "payload": e.Payload})
		return nil
	})
	p.bus.Subscribe(events.EventAuthFailed, "mqtt.authFailed", func(ctx context.Context, e events.Event) error {
		p.publish(TopicAuth, e.Payload)
		return nil
	})
	p.bus.Subscribe(events.EventNotifyMQTT, "mqtt.notify", func(ctx context.Context, e events.Event) error {
		p.publish(TopicAdmin, e.Payload)
		return nil
	})
}

// statusPayload assembles the periodic health snapshot.
func (p *Publisher) statusPayload() map[string]interface{} {
	live, peak, total := p.registry.Stats()

	payload := map[string]interface{}{
		"sessions_live":     live,
		"sessions_peak":     peak,
		"sessions_total":    total,
		"ticks":             p.world.Ticks(),
		"packets_processed": p.world.PacketsProcessed(),
	}
	for k, v := range p.counters.Snapshot() {
		payload[k] = v
	}

	if cpuPct, err := util.GetCPUUsage(); err == nil {
		payload["cpu_percent"] = cpuPct
	}
	if memUsage, err := util.GetMemoryUsage(); err == nil {
		payload["memory"] = memUsage
	}

	return payload
}

// publish sends a JSON message with metadata merged in.
func (p *Publisher) publish(topic string, payload interface{}) {
	if !p.client.IsConnected() {
		return
	}

	msg := make(map[string]interface{}, len(p.metadata)+2)
	for k, v := range p.metadata {
		msg[k] = v
	}
	msg["payload"] = payload
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)

	data, err := json.Marshal(msg)
	if err != nil {
		p.log.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}

	token := p.client.Publish(topic, 1, false, data) // QoS 1
	go func() {
		token.Wait()
		if token.Error() != nil {
			p.log.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

func (p *Publisher) publishShutdown() {
	p.publish(TopicAdmin, map[string]interface{}{"event": "shutdown"})
}
