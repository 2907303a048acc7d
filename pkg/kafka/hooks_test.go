package kafka

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTraceHookCopiesHeader(t *testing.T) {
	msg := kafka.Message{Headers: []kafka.Header{{Key: "trace_id", Value: []byte("abc")}}}
	ctx, _, data, err := TraceHook().BeforeHandle(context.Background(), "index.daily", msg, []byte("{}"))
	require.NoError(t, err)
	assert.Equal(t, "abc", TraceID(ctx))
	assert.Equal(t, []byte("{}"), data)
}

func TestTraceHookWithoutHeader(t *testing.T) {
	ctx, _, _, err := TraceHook().BeforeHandle(context.Background(), "index.daily", kafka.Message{}, nil)
	require.NoError(t, err)
	assert.Empty(t, TraceID(ctx))
}

func TestBackoffWithJitterBounded(t *testing.T) {
	for attempt := 1; attempt < 10; attempt++ {
		d := backoffWithJitter(100, 1000, attempt)
		assert.Greater(t, int64(d), int64(0))
		assert.LessOrEqual(t, int64(d), int64(1000))
	}
}
