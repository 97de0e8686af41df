package worker

import (
	"context"
	"time"

	"settlement-service/internal/usecase"

	"go.uber.org/zap"
)

const (
	JobRecurringTick     = "recurring-tick"
	JobVerificationSweep = "verification-sweep"
	JobBillOverdue       = "bill-overdue"
	JobReminders         = "reminders"
)

type JobConfig struct {
	TickInterval          time.Duration
	SweepInterval         time.Duration
	ReminderInterval      time.Duration
	BillReminderDays      int
	RecurringReminderDays int
}

// SettlementJobs returns the periodic passes of the settlement engine.
// Overdue detection shares the reminder interval.
func SettlementJobs(
	cfg JobConfig,
	recurring *usecase.RecurringUsecase,
	verification *usecase.VerificationUsecase,
	bills *usecase.BillUsecase,
	logger *zap.Logger,
) []Job {
	day := 24 * time.Hour
	return []Job{
		{
			Name:     JobRecurringTick,
			Interval: cfg.TickInterval,
			Run: func(ctx context.Context) error {
				report, err := recurring.Tick(ctx)
				if err != nil {
					return err
				}
				if report.Due > 0 {
					logger.Info("recurring tick",
						zap.Int("due", report.Due),
						zap.Int("succeeded", report.Succeeded),
						zap.Int("failed", report.Failed),
						zap.Int("paused", report.Paused),
						zap.Int("skipped", report.Skipped),
						zap.Int("pending", report.Pending),
						zap.Int("errors", len(report.Errors)))
				}
				return nil
			},
		},
		{
			Name:     JobVerificationSweep,
			Interval: cfg.SweepInterval,
			Run: func(ctx context.Context) error {
				_, err := verification.Sweep(ctx)
				return err
			},
		},
		{
			Name:     JobBillOverdue,
			Interval: cfg.ReminderInterval,
			Run: func(ctx context.Context) error {
				n, err := bills.ProcessOverdue(ctx)
				if n > 0 {
					logger.Info("overdue bills notified", zap.Int("count", n))
				}
				return err
			},
		},
		{
			Name:     JobReminders,
			Interval: cfg.ReminderInterval,
			Run: func(ctx context.Context) error {
				billCount, err := bills.SendReminders(ctx, time.Duration(cfg.BillReminderDays)*day)
				if err != nil {
					return err
				}
				rpCount, err := recurring.SendReminders(ctx, time.Duration(cfg.RecurringReminderDays)*day)
				if err != nil {
					return err
				}
				if billCount+rpCount > 0 {
					logger.Info("reminders sent", zap.Int("bills", billCount), zap.Int("recurring", rpCount))
				}
				return nil
			},
		},
	}
}
