package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"RegimeWatch/pkg/logger"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type batch struct {
	Dates []string `json:"dates"`
	Force bool     `json:"force"`
}

type recordJob struct {
	got []*batch
}

func (j *recordJob) Name() string { return "record" }
func (j *recordJob) Type() string { return "backfill" }
func (j *recordJob) Handle(_ context.Context, payload interface{}) error {
	b, err := ParsePayload[batch](payload)
	if err != nil {
		return err
	}
	j.got = append(j.got, b)
	return nil
}

func TestParsePayload(t *testing.T) {
	raw := json.RawMessage(`{"dates":["2025-09-01"],"force":true}`)
	b, err := ParsePayload[batch](raw)
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-09-01"}, b.Dates)
	assert.True(t, b.Force)

	b, err = ParsePayload[batch](map[string]interface{}{"dates": []interface{}{"2025-09-02"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-09-02"}, b.Dates)

	_, err = ParsePayload[batch](42)
	assert.Error(t, err)
}

func TestProcessMessageDispatchesByType(t *testing.T) {
	job := &recordJob{}
	q := NewRedisConsumer(logger.Nop(), &QueueConfig{Workers: 1}, nil, []Job{job}, WithKeyPrefix("regime:backfill"))

	var msg Message
	require.NoError(t, json.Unmarshal([]byte(`{"ID":"1","Type":"backfill","Payload":{"dates":["2025-09-01","2025-09-02"]}}`), &msg))
	q.processMessage(msg)

	require.Len(t, job.got, 1)
	assert.Equal(t, []string{"2025-09-01", "2025-09-02"}, job.got[0].Dates)
	assert.Equal(t, "regime:backfill:messages", q.getQueueKey())
}

func TestPublisherConnectsOnceRedisAnswers(t *testing.T) {
	db, mock := redismock.NewClientMock()
	q := NewRedisPublisher(logger.Nop(), db, WithKeyPrefix("regime:alerts"))
	assert.False(t, q.running(), "constructor must not connect")

	mock.ExpectPing().SetErr(errors.New("connection refused"))
	err := q.Enqueue(context.Background(), "regime_alert", map[string]string{"id": "n-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis ping")
	assert.False(t, q.running())

	mock.ExpectPing().SetVal("PONG")
	require.NoError(t, q.ensureStarted())
	assert.True(t, q.running())
	require.NoError(t, q.ensureStarted(), "already running is not an error")
	assert.NoError(t, mock.ExpectationsWereMet())

	require.NoError(t, q.Stop(context.Background()))
	require.NoError(t, q.ensureStarted())
	assert.False(t, q.running(), "a stopped publisher stays stopped")
	assert.EqualError(t, q.Enqueue(context.Background(), "regime_alert", nil), "queue not running")
}
