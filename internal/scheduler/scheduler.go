// Package scheduler runs the periodic review reminder job
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"

	"wabisabi/internal/logger"
	"wabisabi/internal/service"
)

// DefaultInterval is used when no positive interval is configured
const DefaultInterval = time.Hour

// ReminderRunner sends reminders for items that are due
type ReminderRunner interface {
	SendDueReminders(ctx context.Context) (service.ReminderReport, error)
}

// Scheduler manages scheduled tasks for the application
type Scheduler struct {
	cron     *gocron.Scheduler
	runner   ReminderRunner
	interval time.Duration
	log      *logger.Logger
}

// New creates a scheduler that runs the reminder job every interval
func New(runner ReminderRunner, interval time.Duration, log *logger.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Scheduler{
		cron:     gocron.NewScheduler(time.UTC),
		runner:   runner,
		interval: interval,
		log:      log.With("component", "scheduler"),
	}
}

// Start registers the reminder job and runs the scheduler in the background.
// The first run happens one interval after Start; a run that overlaps the
// next tick is not started twice.
func (s *Scheduler) Start() error {
	s.cron.SingletonModeAll()
	s.cron.WaitForScheduleAll()

	if _, err := s.cron.Every(s.interval).Tag("review-reminders").Do(s.runReminders); err != nil {
		return fmt.Errorf("schedule review reminders: %w", err)
	}
	s.cron.StartAsync()
	s.log.Info("scheduler started", "interval", s.interval.String())
	return nil
}

// Stop terminates all scheduled tasks and waits for a running job to finish
func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.log.Info("scheduler stopped")
}

// RunNow sends reminders immediately, outside the schedule
func (s *Scheduler) RunNow(ctx context.Context) (service.ReminderReport, error) {
	start := time.Now()
	report, err := s.runner.SendDueReminders(ctx)
	if err != nil {
		return report, fmt.Errorf("send due reminders: %w", err)
	}
	s.log.Info("reminder run finished",
		"recipients", report.Recipients,
		"notified", report.Notified,
		"failed", report.Failed,
		"duration", time.Since(start),
	)
	return report, nil
}

// runReminders is the job body; one run may take at most one interval
func (s *Scheduler) runReminders() {
	ctx, cancel := context.WithTimeout(context.Background(), s.interval)
	defer cancel()

	if _, err := s.RunNow(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			s.log.Warn("review reminders timed out", "interval", s.interval.String())
			return
		}
		s.log.Error("review reminders failed", "error", err)
	}
}
