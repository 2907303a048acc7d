package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"RegimeWatch/internal/domain/models"
	"RegimeWatch/internal/domain/service"
	pkghttp "RegimeWatch/pkg/http"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookPostsNotification(t *testing.T) {
	var got service.Notification
	var header string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		header = r.Header.Get("X-Notification-ID")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := critical()
	n.ID = "abc"
	wh := NewWebhookNotifier(srv.URL, pkghttp.NewClient(pkghttp.WithTimeout(time.Second)))
	require.NoError(t, wh.Notify(context.Background(), n))

	assert.Equal(t, "abc", header)
	assert.Equal(t, models.AlertFlipConfirmed, got.AlertType)
	assert.Equal(t, "2025-09-01", got.Date)
	assert.True(t, strings.HasPrefix(wh.Name(), "webhook:127.0.0.1"))
}

func TestWebhookNon2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhookNotifier(srv.URL, nil).Notify(context.Background(), critical())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestDiscordEmbed(t *testing.T) {
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscordNotifier(srv.URL, nil)
	d.now = func() time.Time { return time.Date(2025, 9, 1, 0, 5, 0, 0, time.UTC) }
	n := critical()
	n.Conditions = []string{"spread crossed below zero"}
	require.NoError(t, d.Notify(context.Background(), n))

	var p discordPayload
	require.NoError(t, json.Unmarshal(body, &p))
	require.Len(t, p.Embeds, 1)
	e := p.Embeds[0]
	assert.Equal(t, "FLIP_CONFIRMED: OFF (2025-09-01)", e.Title)
	assert.Equal(t, colorRed, e.Color)
	assert.Contains(t, e.Description, "- spread crossed below zero")
	assert.Equal(t, "2025-09-01T00:05:00Z", e.Timestamp)
	assert.Len(t, e.Fields, 3)
}

type capture struct {
	topic, key string
	value      []byte
	msgType    string
	payload    interface{}
}

func (c *capture) Publish(_ context.Context, topic string, key []byte, value interface{}) error {
	c.topic, c.key = topic, string(key)
	c.value, _ = value.([]byte)
	return nil
}

func (c *capture) PublishMessage(_ context.Context, msgType string, payload interface{}) error {
	c.msgType, c.payload = msgType, payload
	return nil
}

type subjectCapture struct {
	subject string
	data    []byte
}

func (s *subjectCapture) Publish(_ context.Context, subject string, data []byte) error {
	s.subject, s.data = subject, data
	return nil
}

func TestStreamNotifiers(t *testing.T) {
	n := critical()

	k := &capture{}
	require.NoError(t, NewKafkaNotifier(k, "regime.alerts").Notify(context.Background(), n))
	assert.Equal(t, "regime.alerts", k.topic)
	assert.Equal(t, "2025-09-01", k.key)
	assert.Contains(t, string(k.value), `"alert_type":"FLIP_CONFIRMED"`)

	s := &subjectCapture{}
	require.NoError(t, NewNATSNotifier(s, "regime.alerts").Notify(context.Background(), n))
	assert.Equal(t, "regime.alerts", s.subject)
	assert.Contains(t, string(s.data), `"state":"OFF"`)

	q := &capture{}
	require.NoError(t, NewRedisNotifier(q).Notify(context.Background(), n))
	assert.Equal(t, MessageTypeAlert, q.msgType)
	assert.Equal(t, n, q.payload)
}

func TestHubBroadcast(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, time.Second, 10*time.Millisecond)
	require.NoError(t, hub.Notify(context.Background(), critical()))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var got service.Notification
	require.NoError(t, json.Unmarshal(msg, &got))
	assert.Equal(t, models.StateRiskOff, got.State)
}

func TestHubNotifyWithoutSubscribers(t *testing.T) {
	assert.NoError(t, NewHub(nil).Notify(context.Background(), critical()))
}
