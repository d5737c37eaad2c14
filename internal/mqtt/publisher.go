package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/nugget/ember-agent/internal/config"
)

// StatsSource provides runtime data for sensor state publishing. The
// concrete adapter is wired in main.go to avoid coupling the MQTT
// package to the API server or agent loop.
type StatsSource interface {
	// Uptime returns the process uptime.
	Uptime() time.Duration
	// Version returns the software version string.
	Version() string
	// DefaultModel returns the configured default LLM model name.
	DefaultModel() string
	// ActiveSessions returns the count of active conversation sessions.
	ActiveSessions() int
	// LastRequestTime returns when the most recent LLM request completed.
	LastRequestTime() time.Time
}

// Publisher manages the MQTT connection, publishes HA discovery config
// messages on (re-)connect, and runs a periodic loop that pushes
// sensor state updates to the broker.
type Publisher struct {
	cfg        config.MQTTConfig
	instanceID string
	device     DeviceInfo
	tokens     *DailyTokens
	stats      StatsSource
	logger     *slog.Logger
	cm         *autopaho.ConnectionManager
}

// New creates a Publisher but does not connect. Call [Publisher.Start]
// to begin the connection and publish loop.
func New(cfg config.MQTTConfig, instanceID string, tokens *DailyTokens, stats StatsSource, logger *slog.Logger) *Publisher {
	return &Publisher{
		cfg:        cfg,
		instanceID: instanceID,
		device:     NewDeviceInfo(instanceID, cfg.DeviceName),
		tokens:     tokens,
		stats:      stats,
		logger:     logger,
	}
}

// Start connects to the MQTT broker and begins the periodic publish
// loop. It blocks until ctx is cancelled. On every (re-)connect it
// publishes discovery configs and a birth message.
func (p *Publisher) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	availTopic := p.availabilityTopic()

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   availTopic,
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt connected to broker", "broker", p.cfg.Broker)
			p.publishDiscovery(ctx, cm)
			p.publishAvailability(ctx, cm, "online")
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "ember-" + p.cfg.DeviceName,
		},
	}

	// Enable TLS for mqtts:// or ssl:// schemes.
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.cm = cm

	// Wait for the initial connection before starting the publish loop.
	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		// Log but don't fail; autopaho will keep retrying in the background.
		p.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	// Run the periodic state publish loop until ctx is cancelled.
	p.runLoop(ctx)
	return nil
}

// Stop gracefully disconnects by publishing an "offline" availability
// message before closing the MQTT connection. The provided context
// controls how long to wait for the publish and disconnect to complete.
func (p *Publisher) Stop(ctx context.Context) error {
	if p.cm == nil {
		return nil
	}
	p.publishAvailability(ctx, p.cm, "offline")
	return p.cm.Disconnect(ctx)
}

// --- Topic helpers ---

func (p *Publisher) baseTopic() string {
	return "ember/" + p.cfg.DeviceName
}

func (p *Publisher) availabilityTopic() string {
	return p.baseTopic() + "/availability"
}

func (p *Publisher) stateTopic(entity string) string {
	return p.baseTopic() + "/" + entity + "/state"
}

func (p *Publisher) attributesTopic(entity string) string {
	return p.baseTopic() + "/" + entity + "/attributes"
}

func (p *Publisher) discoveryTopic(component, entity string) string {
	return p.cfg.DiscoveryPrefix + "/" + component + "/" + p.cfg.DeviceName + "/" + entity + "/config"
}

// --- Discovery ---

// sensorDef describes one HA sensor entity ember exposes. The full
// discovery payload is assembled by sensorDefinitions so the table
// stays down to what actually varies per sensor.
type sensorDef struct {
	entitySuffix string
	config       SensorConfig
}

// sensorTable lists ember's sensor entities. tokens_today carries a
// JSON attributes topic with the input/output/request breakdown that
// DailyTokens tracks behind the summed state value.
var sensorTable = []struct {
	suffix     string
	name       string
	icon       string
	stateClass string
	unit       string
	category   string
	attributes bool
}{
	{suffix: "uptime", name: "Uptime", icon: "mdi:clock-outline", category: "diagnostic"},
	{suffix: "version", name: "Version", icon: "mdi:tag", category: "diagnostic"},
	{suffix: "active_sessions", name: "Active Sessions", icon: "mdi:chat-processing", stateClass: "measurement"},
	{suffix: "tokens_today", name: "Tokens Today", icon: "mdi:counter", stateClass: "total_increasing", unit: "tokens", attributes: true},
	{suffix: "last_request", name: "Last Request", icon: "mdi:clock-check", category: "diagnostic"},
	{suffix: "default_model", name: "Default Model", icon: "mdi:brain", category: "diagnostic"},
}

func (p *Publisher) sensorDefinitions() []sensorDef {
	avail := p.availabilityTopic()
	defs := make([]sensorDef, 0, len(sensorTable))
	for _, row := range sensorTable {
		cfg := SensorConfig{
			Name:              row.name,
			ObjectID:          row.suffix,
			HasEntityName:     true,
			UniqueID:          p.instanceID + "_" + row.suffix,
			StateTopic:        p.stateTopic(row.suffix),
			AvailabilityTopic: avail,
			Device:            p.device,
			Icon:              row.icon,
			StateClass:        row.stateClass,
			UnitOfMeasurement: row.unit,
			EntityCategory:    row.category,
		}
		if row.attributes {
			cfg.JsonAttributesTopic = p.attributesTopic(row.suffix)
		}
		defs = append(defs, sensorDef{entitySuffix: row.suffix, config: cfg})
	}
	return defs
}

func (p *Publisher) publishDiscovery(ctx context.Context, cm *autopaho.ConnectionManager) {
	for _, s := range p.sensorDefinitions() {
		topic := p.discoveryTopic("sensor", s.entitySuffix)
		payload, err := json.Marshal(s.config)
		if err != nil {
			p.logger.Error("mqtt marshal discovery payload",
				"entity", s.entitySuffix, "error", err)
			continue
		}

		if _, err := cm.Publish(ctx, &paho.Publish{
			Topic:   topic,
			Payload: payload,
			QoS:     1,
			Retain:  true,
		}); err != nil {
			p.logger.Warn("mqtt discovery publish failed",
				"entity", s.entitySuffix, "topic", topic, "error", err)
		} else {
			p.logger.Debug("mqtt discovery published",
				"entity", s.entitySuffix, "topic", topic)
		}
	}
}

func (p *Publisher) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   p.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		p.logger.Warn("mqtt availability publish failed",
			"status", status, "error", err)
	} else {
		p.logger.Info("mqtt availability published", "status", status)
	}
}

// --- Periodic state loop ---

func (p *Publisher) runLoop(ctx context.Context) {
	interval := time.Duration(p.cfg.PublishIntervalSec) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Publish immediately on start.
	p.publishStates(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.publishStates(ctx)
		}
	}
}

func (p *Publisher) publishStates(ctx context.Context) {
	if p.cm == nil {
		return
	}

	states := map[string]string{
		"uptime":          p.stats.Uptime().Truncate(time.Second).String(),
		"version":         p.stats.Version(),
		"active_sessions": strconv.Itoa(p.stats.ActiveSessions()),
		"default_model":   p.stats.DefaultModel(),
	}

	input, output, requests := p.tokens.Snapshot()
	states["tokens_today"] = strconv.FormatInt(input+output, 10)
	p.publishTokenAttributes(ctx, input, output, requests)

	lastReq := p.stats.LastRequestTime()
	if !lastReq.IsZero() {
		states["last_request"] = lastReq.Format(time.RFC3339)
	} else {
		states["last_request"] = "never"
	}

	for entity, value := range states {
		if _, err := p.cm.Publish(ctx, &paho.Publish{
			Topic:   p.stateTopic(entity),
			Payload: []byte(value),
			QoS:     0,
			Retain:  true,
		}); err != nil {
			p.logger.Debug("mqtt state publish failed",
				"entity", entity, "error", err)
		}
	}

	p.logger.Debug("mqtt sensor states published",
		"entities", len(states))
}

// publishTokenAttributes pushes the tokens_today breakdown so HA shows
// input/output/request counts as entity attributes next to the summed
// state value.
func (p *Publisher) publishTokenAttributes(ctx context.Context, input, output, requests int64) {
	payload, err := json.Marshal(map[string]int64{
		"input_tokens":  input,
		"output_tokens": output,
		"requests":      requests,
	})
	if err != nil {
		p.logger.Error("mqtt marshal token attributes", "error", err)
		return
	}

	if _, err := p.cm.Publish(ctx, &paho.Publish{
		Topic:   p.attributesTopic("tokens_today"),
		Payload: payload,
		QoS:     0,
		Retain:  true,
	}); err != nil {
		p.logger.Debug("mqtt token attributes publish failed", "error", err)
	}
}
