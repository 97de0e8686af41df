package pub

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"settlement-service/internal/domain"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakePublisher struct {
	channel string
	sent    [][]byte
	err     error
}

func (p *fakePublisher) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	p.channel = channel
	if p.err != nil {
		return redis.NewIntResult(0, p.err)
	}
	p.sent = append(p.sent, message.([]byte))
	return redis.NewIntResult(1, nil)
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

var batch = []domain.Notification{
	{
		Kind:       domain.EventBillCreated,
		Recipients: []string{"u1", "u2"},
		Context:    map[string]string{"bill_id": "bill-1"},
		OccurredAt: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
	},
	{Kind: domain.EventPaymentFailed, Recipients: []string{"u1"}},
}

func TestRedisSink(t *testing.T) {
	p := &fakePublisher{}
	sink := NewRedisSink(p, "", zap.NewNop())
	require.NoError(t, sink.Publish(context.Background(), batch))

	assert.Equal(t, DefaultChannel, p.channel)
	require.Len(t, p.sent, 3)
	var ev Event
	require.NoError(t, json.Unmarshal(p.sent[1], &ev))
	assert.Equal(t, "bill.created", ev.EventType)
	assert.Equal(t, "u2", ev.UserID)
	assert.Equal(t, "bill-1", ev.Context["bill_id"])

	p.err = errors.New("connection refused")
	assert.Error(t, sink.Publish(context.Background(), batch))
}

func TestKafkaSink(t *testing.T) {
	w := &fakeWriter{}
	sink := NewKafkaSink(w, zap.NewNop())
	require.NoError(t, sink.Publish(context.Background(), batch))

	require.Len(t, w.msgs, 3)
	assert.Equal(t, "u1", string(w.msgs[2].Key))
	assert.Equal(t, "payment.failed", string(w.msgs[2].Headers[0].Value))

	require.NoError(t, sink.Publish(context.Background(), nil))
	assert.Len(t, w.msgs, 3)

	w.err = kafka.LeaderNotAvailable
	assert.ErrorIs(t, sink.Publish(context.Background(), batch), kafka.LeaderNotAvailable)
}
