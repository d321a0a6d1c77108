// Package telemetry publishes session activity to an MQTT broker.
package telemetry

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/wlnet/metaclient/internal/config"
	"github.com/wlnet/metaclient/internal/events"
	"github.com/wlnet/metaclient/internal/util"
)

// MQTT topics, relative to the configured prefix.
const (
	TopicStatus   = "status"
	TopicSession  = "session"
	TopicLobby    = "lobby"
	TopicRelay    = "relay"
	TopicNotices  = "notices"
	TopicErrors   = "errors"
	TopicShutdown = "admin/shutdown"
)

const (
	subscriberName    = "mqtt"
	heartbeatInterval = time.Minute
	publishTimeout    = 5 * time.Second
)

// publisher is the part of mqtt.Client the handler uses.
type publisher interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTHandler republishes session events as JSON messages.
type MQTTHandler struct {
	mu sync.Mutex

	cfg      config.MQTTConfig
	eventBus *events.EventBus
	client   mqtt.Client
	pub      publisher
	status   func() interface{}

	// Metadata included in every message
	metadata map[string]interface{}
}

// NewMQTTHandler creates a new MQTT telemetry handler. status, if not nil,
// is published with every heartbeat.
func NewMQTTHandler(cfg *config.Config, eventBus *events.EventBus, status func() interface{}) (*MQTTHandler, error) {
	mqttCfg := cfg.GetApplicationData().MQTT

	if !mqttCfg.Enabled {
		return nil, fmt.Errorf("MQTT is disabled")
	}

	sysInfo := util.GetSystemInfo()
	nickname := cfg.GetAccount().Nickname

	handler := &MQTTHandler{
		cfg:      mqttCfg,
		eventBus: eventBus,
		status:   status,
		metadata: buildMetadata(sysInfo, nickname),
	}

	opts := mqtt.NewClientOptions()
	scheme := "tcp"
	if mqttCfg.UseTLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, mqttCfg.BrokerURL, mqttCfg.Port))

	if mqttCfg.ClientID != "" {
		opts.SetClientID(mqttCfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("metaclient-%s-%s", sysInfo.Hostname, nickname))
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(true)
	opts.SetWill(handler.topic(TopicStatus), `{"online":false}`, 1, true)

	if mqttCfg.UseTLS {
		tlsConfig, err := buildTLSConfig(mqttCfg)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Info().Msg("MQTT connected")
	})

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	})

	handler.client = mqtt.NewClient(opts)
	handler.pub = handler.client

	return handler, nil
}

func buildMetadata(info util.SystemInfo, nickname string) map[string]interface{} {
	return map[string]interface{}{
		"hostname":  info.Hostname,
		"os":        info.OS,
		"cpu_cores": info.CPUCores,
		"memory_mb": info.TotalMemory,
		"nickname":  nickname,
	}
}

func buildTLSConfig(mqttCfg config.MQTTConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}

	if mqttCfg.CAFile != "" {
		pem, err := os.ReadFile(mqttCfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read MQTT CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates in MQTT CA file %s", mqttCfg.CAFile)
		}
		tlsConfig.RootCAs = pool
	}

	// mTLS: load client certificate
	if mqttCfg.CertFile != "" && mqttCfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(mqttCfg.CertFile, mqttCfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load MQTT TLS certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

// Start connects to the broker, subscribes to the event bus and publishes
// heartbeats until ctx is cancelled.
func (h *MQTTHandler) Start(ctx context.Context) error {
	log.Info().
		Str("broker", h.cfg.BrokerURL).
		Int("port", h.cfg.Port).
		Msg("connecting to MQTT broker")

	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	h.Attach()
	h.publishHeartbeat()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.eventBus.UnsubscribeAll(subscriberName)
			h.PublishShutdown()
			h.client.Disconnect(5000)
			log.Info().Msg("MQTT disconnected")
			return nil
		case <-ticker.C:
			h.publishHeartbeat()
		}
	}
}

// Attach subscribes the handler to every session event.
func (h *MQTTHandler) Attach() {
	h.eventBus.SubscribeAll(subscriberName, h.onEvent)
}

func (h *MQTTHandler) topic(name string) string {
	if h.cfg.TopicPrefix == "" {
		return name
	}
	return h.cfg.TopicPrefix + "/" + name
}

// topicFor routes an event type to its topic. Chat is not published.
func topicFor(t events.EventType) (string, bool) {
	switch t {
	case events.EventStateChanged, events.EventLoggedIn, events.EventLoginFailed,
		events.EventDisconnected, events.EventServerTime:
		return TopicSession, true
	case events.EventGamesChanged, events.EventClientsChanged:
		return TopicLobby, true
	case events.EventRelayReady, events.EventRelayFailed, events.EventGameStarted, events.EventGameLeft:
		return TopicRelay, true
	case events.EventMotd, events.EventAnnouncement:
		return TopicNotices, true
	case events.EventProtocolError:
		return TopicErrors, true
	default:
		return "", false
	}
}

func (h *MQTTHandler) onEvent(_ context.Context, event events.Event) error {
	topic, ok := topicFor(event.Type)
	if !ok {
		return nil
	}
	return h.publish(h.topic(topic), false, map[string]interface{}{
		"event":   event.Type,
		"time":    event.Time.UTC().Format(time.RFC3339),
		"payload": event.Payload,
	})
}

// publish sends a JSON message to an MQTT topic.
func (h *MQTTHandler) publish(topic string, retained bool, payload interface{}) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.pub.IsConnected() {
		return nil
	}

	data, err := json.Marshal(h.buildMessage(payload))
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return err
	}

	token := h.pub.Publish(topic, 1, retained, data) // QoS 1
	if !token.WaitTimeout(publishTimeout) {
		log.Warn().Str("topic", topic).Msg("MQTT publish timed out")
		return nil
	}
	if err := token.Error(); err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("MQTT publish failed")
		return err
	}
	return nil
}

// buildMessage combines metadata with the event payload.
func (h *MQTTHandler) buildMessage(payload interface{}) map[string]interface{} {
	msg := make(map[string]interface{}, len(h.metadata)+2)
	for k, v := range h.metadata {
		msg[k] = v
	}
	msg["payload"] = payload
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	return msg
}

func (h *MQTTHandler) publishHeartbeat() {
	beat := map[string]interface{}{
		"online":    true,
		"resources": util.GetResourceUsage(),
	}
	if h.status != nil {
		beat["session"] = h.status()
	}
	_ = h.publish(h.topic(TopicStatus), true, beat)
}

// PublishShutdown sends a shutdown message to the MQTT broker.
func (h *MQTTHandler) PublishShutdown() {
	_ = h.publish(h.topic(TopicShutdown), false, map[string]interface{}{
		"event": "shutdown",
	})
	_ = h.publish(h.topic(TopicStatus), true, map[string]interface{}{"online": false})
}
