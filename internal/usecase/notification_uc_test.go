package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"settlement-service/internal/domain"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type captureSink struct {
	name string
	err  error

	mu      sync.Mutex
	batches [][]domain.Notification
}

func (s *captureSink) Name() string { return s.name }

func (s *captureSink) Publish(_ context.Context, batch []domain.Notification) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, batch)
	return nil
}

func (s *captureSink) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

func TestNotificationBatcherFlushesOnSize(t *testing.T) {
	sink := &captureSink{name: "capture"}
	nb := NewNotificationBatcher([]NotificationSink{sink}, 2, time.Hour, newFixedClock(), zap.NewNop())
	ctx := context.Background()

	nb.Notify(ctx, domain.EventBillCreated, []string{"u1", "u1", ""}, nil)
	assert.Equal(t, 0, sink.total())
	nb.Notify(ctx, domain.EventBillCreated, []string{"u2"}, nil)
	assert.Equal(t, 2, sink.total())
	assert.Equal(t, []string{"u1"}, sink.batches[0][0].Recipients)

	nb.Notify(ctx, domain.EventBillCreated, []string{""}, nil)
	nb.flush()
	assert.Equal(t, 2, sink.total())
}

func TestNotificationBatcherStopFlushes(t *testing.T) {
	sink := &captureSink{name: "capture"}
	broken := &captureSink{name: "broken", err: errors.New("broker down")}
	nb := NewNotificationBatcher([]NotificationSink{broken, sink}, 100, time.Hour, newFixedClock(), zap.NewNop())
	nb.Start()

	nb.Notify(context.Background(), domain.EventPaymentSucceeded, []string{"u1"}, map[string]string{"amount": "10.00"})
	nb.Stop()

	assert.Equal(t, 1, sink.total())
}
