package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"settlement-service/pkg/cache"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	jobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_job_runs_total",
		Help: "Periodic job runs by job and outcome",
	}, []string{"job", "outcome"})

	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "settlement_job_duration_seconds",
		Help:    "Periodic job run time",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
	}, []string{"job"})
)

// ErrUnknownJob is returned by RunOnce for a name that was never added.
var ErrUnknownJob = errors.New("unknown job")

type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Locker keeps two replicas from running the same job at once.
// *cache.Locker satisfies it.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, error)
}

type nopLocker struct{}

func (nopLocker) Acquire(context.Context, string, time.Duration) (func(context.Context) error, error) {
	return func(context.Context) error { return nil }, nil
}

// NopLocker is for single-instance deployments and tests.
func NopLocker() Locker { return nopLocker{} }

type Scheduler struct {
	jobs    map[string]Job
	locker  Locker
	lockTTL time.Duration
	logger  *zap.Logger

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewScheduler(locker Locker, lockTTL time.Duration, logger *zap.Logger) *Scheduler {
	if locker == nil {
		locker = NopLocker()
	}
	if lockTTL <= 0 {
		lockTTL = 5 * time.Minute
	}
	return &Scheduler{
		jobs:     make(map[string]Job),
		locker:   locker,
		lockTTL:  lockTTL,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

func (s *Scheduler) Add(jobs ...Job) {
	for _, j := range jobs {
		s.jobs[j.Name] = j
	}
}

func (s *Scheduler) Names() []string {
	names := make([]string, 0, len(s.jobs))
	for n := range s.jobs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Start runs every job with a positive interval on its own ticker until
// Stop is called or ctx ends.
func (s *Scheduler) Start(ctx context.Context) {
	for _, j := range s.jobs {
		if j.Interval <= 0 {
			s.logger.Info("job disabled", zap.String("job", j.Name))
			continue
		}
		s.wg.Add(1)
		go s.loop(ctx, j)
	}
}

func (s *Scheduler) loop(ctx context.Context, j Job) {
	defer s.wg.Done()
	s.logger.Info("starting job", zap.String("job", j.Name), zap.Duration("interval", j.Interval))

	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.run(ctx, j); err != nil && !errors.Is(err, cache.ErrLockHeld) {
				s.logger.Error("job failed", zap.String("job", j.Name), zap.Error(err))
			}
		case <-s.stopChan:
			s.logger.Info("stopping job", zap.String("job", j.Name))
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop ends every loop and waits for in-flight runs.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
}

// RunOnce runs one job immediately under its lock.
func (s *Scheduler) RunOnce(ctx context.Context, name string) error {
	j, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.run(ctx, j)
}

func (s *Scheduler) run(ctx context.Context, j Job) (err error) {
	release, err := s.locker.Acquire(ctx, j.Name, s.lockTTL)
	if err != nil {
		if errors.Is(err, cache.ErrLockHeld) {
			jobRuns.WithLabelValues(j.Name, "skipped").Inc()
			s.logger.Debug("job running elsewhere", zap.String("job", j.Name))
		}
		return err
	}
	defer func() {
		if rerr := release(context.Background()); rerr != nil {
			s.logger.Warn("failed to release job lock", zap.String("job", j.Name), zap.Error(rerr))
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", j.Name, r)
		}
	}()

	start := time.Now()
	err = j.Run(ctx)
	jobDuration.WithLabelValues(j.Name).Observe(time.Since(start).Seconds())
	if err != nil {
		jobRuns.WithLabelValues(j.Name, "error").Inc()
		return err
	}
	jobRuns.WithLabelValues(j.Name, "ok").Inc()
	return nil
}
