package telemetry

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wlnet/metaclient/internal/config"
	"github.com/wlnet/metaclient/internal/events"
)

type doneToken struct{ err error }

func (t doneToken) Wait() bool { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} { ch := make(chan struct{}); close(ch); return ch }
func (t doneToken) Error() error { return t.err }

type message struct {
	topic    string
	retained bool
	body     map[string]interface{}
}

type fakePublisher struct {
	mu        sync.Mutex
	connected bool
	messages  []message
}

func (p *fakePublisher) IsConnected() bool { return p.connected }

func (p *fakePublisher) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	var body map[string]interface{}
	_ = json.Unmarshal(payload.([]byte), &body)
	p.mu.Lock()
	p.messages = append(p.messages, message{topic: topic, retained: retained, body: body})
	p.mu.Unlock()
	return doneToken{}
}

func newTestHandler(connected bool) (*MQTTHandler, *fakePublisher, *events.EventBus) {
	pub := &fakePublisher{connected: connected}
	bus := events.NewEventBus()
	h := &MQTTHandler{
		cfg:      config.MQTTConfig{TopicPrefix: "metaclient"},
		eventBus: bus,
		pub:      pub,
		metadata: map[string]interface{}{"nickname": "alice"},
	}
	return h, pub, bus
}

func TestNewMQTTHandlerDisabled(t *testing.T) {
	_, err := NewMQTTHandler(config.DefaultConfig(), events.NewEventBus(), nil)
	assert.Error(t, err)
}

func TestNewMQTTHandlerEnabled(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.ApplicationData.MQTT.Enabled = true
	cfg.ApplicationData.MQTT.BrokerURL = "localhost"

	h, err := NewMQTTHandler(cfg, events.NewEventBus(), nil)
	require.NoError(t, err)
	assert.NotNil(t, h.client)
	assert.Equal(t, "metaclient/status", h.topic(TopicStatus))
}

func TestTopicRouting(t *testing.T) {
	tests := []struct {
		event events.EventType
		topic string
	}{
		{events.EventLoggedIn, TopicSession},
		{events.EventDisconnected, TopicSession},
		{events.EventGamesChanged, TopicLobby},
		{events.EventRelayReady, TopicRelay},
		{events.EventMotd, TopicNotices},
		{events.EventProtocolError, TopicErrors},
	}
	for _, tt := range tests {
		topic, ok := topicFor(tt.event)
		assert.True(t, ok, tt.event)
		assert.Equal(t, tt.topic, topic, tt.event)
	}

	_, ok := topicFor(events.EventChat)
	assert.False(t, ok, "chat stays private")
}

func TestEventsArePublished(t *testing.T) {
	h, pub, bus := newTestHandler(true)
	defer bus.Stop()
	h.Attach()

	err := bus.EmitSync(context.Background(), events.Event{
		Type:    events.EventGamesChanged,
		Time:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Payload: events.LobbyPayload{Count: 3},
	})
	require.NoError(t, err)
	require.NoError(t, bus.EmitSync(context.Background(), events.Event{Type: events.EventChat}))

	require.Len(t, pub.messages, 1)
	msg := pub.messages[0]
	assert.Equal(t, "metaclient/lobby", msg.topic)
	assert.Equal(t, "alice", msg.body["nickname"])
	inner := msg.body["payload"].(map[string]interface{})
	assert.Equal(t, "games_changed", inner["event"])
	assert.Equal(t, float64(3), inner["payload"].(map[string]interface{})["count"])
}

func TestNothingPublishedWhileOffline(t *testing.T) {
	h, pub, bus := newTestHandler(false)
	defer bus.Stop()

	h.publishHeartbeat()
	h.PublishShutdown()
	assert.Empty(t, pub.messages)
}

func TestHeartbeatIsRetained(t *testing.T) {
	h, pub, bus := newTestHandler(true)
	defer bus.Stop()
	h.status = func() interface{} { return map[string]string{"state": "logged_in"} }

	h.publishHeartbeat()
	require.Len(t, pub.messages, 1)
	assert.True(t, pub.messages[0].retained)
	assert.Equal(t, "metaclient/status", pub.messages[0].topic)
	payload := pub.messages[0].body["payload"].(map[string]interface{})
	assert.Equal(t, true, payload["online"])
	assert.Contains(t, payload, "resources")
}
