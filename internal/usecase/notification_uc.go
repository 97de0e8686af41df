package usecase

import (
	"context"
	"sync"
	"time"

	"settlement-service/internal/domain"

	"go.uber.org/zap"
)

// Notifier is the outbound notification port. Delivery is fire-and-forget:
// nothing on a payment path waits for or depends on it.
type Notifier interface {
	Notify(ctx context.Context, kind domain.EventKind, recipients []string, data map[string]string)
}

// NotificationSink receives flushed batches, e.g. a redis channel or kafka topic.
type NotificationSink interface {
	Name() string
	Publish(ctx context.Context, batch []domain.Notification) error
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, domain.EventKind, []string, map[string]string) {}

// NopNotifier drops every notification.
func NopNotifier() Notifier { return nopNotifier{} }

// ===============================
// NOTIFICATION BATCHER
// ===============================

type NotificationBatcher struct {
	sinks         []NotificationSink
	batch         []domain.Notification
	batchSize     int
	flushInterval time.Duration
	clock         Clock
	logger        *zap.Logger
	mu            sync.Mutex
	stopChan      chan struct{}
	doneChan      chan struct{}
}

func NewNotificationBatcher(sinks []NotificationSink, batchSize int, interval time.Duration, clock Clock, logger *zap.Logger) *NotificationBatcher {
	if batchSize <= 0 {
		batchSize = 100
	}
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	return &NotificationBatcher{
		sinks:         sinks,
		batchSize:     batchSize,
		flushInterval: interval,
		clock:         clock,
		logger:        logger,
		stopChan:      make(chan struct{}),
		doneChan:      make(chan struct{}),
	}
}

func (nb *NotificationBatcher) Start() {
	go nb.worker()
}

// Stop ends the worker and flushes whatever is still queued.
func (nb *NotificationBatcher) Stop() {
	close(nb.stopChan)
	<-nb.doneChan
	nb.flush()
}

func (nb *NotificationBatcher) Notify(_ context.Context, kind domain.EventKind, recipients []string, data map[string]string) {
	recipients = dedupe(recipients)
	if len(recipients) == 0 {
		return
	}
	nb.Add(domain.Notification{
		Kind:       kind,
		Recipients: recipients,
		Context:    data,
		OccurredAt: nb.clock.Now(),
	})
}

func (nb *NotificationBatcher) Add(n domain.Notification) {
	nb.mu.Lock()
	nb.batch = append(nb.batch, n)
	shouldFlush := len(nb.batch) >= nb.batchSize
	nb.mu.Unlock()

	if shouldFlush {
		nb.flush()
	}
}

func (nb *NotificationBatcher) worker() {
	defer close(nb.doneChan)
	ticker := time.NewTicker(nb.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			nb.flush()
		case <-nb.stopChan:
			return
		}
	}
}

func (nb *NotificationBatcher) flush() {
	nb.mu.Lock()
	if len(nb.batch) == 0 {
		nb.mu.Unlock()
		return
	}
	batch := nb.batch
	nb.batch = nil
	nb.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	delivered := false
	for _, sink := range nb.sinks {
		if err := sink.Publish(ctx, batch); err != nil {
			nb.logger.Warn("failed to publish notification batch",
				zap.String("sink", sink.Name()),
				zap.Int("size", len(batch)),
				zap.Error(err))
			continue
		}
		delivered = true
	}
	if !delivered {
		notificationsDropped.Add(float64(len(batch)))
		return
	}
	nb.logger.Debug("notification batch sent", zap.Int("size", len(batch)))
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
