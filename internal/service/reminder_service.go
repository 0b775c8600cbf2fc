package service

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"wabisabi/internal/logger"
	"wabisabi/internal/models"
	"wabisabi/internal/progress"
)

// DeckDue is the number of due items a learner has on one deck
type DeckDue struct {
	DeckID   string
	Title    string
	DueItems int
}

// Notifier delivers review reminders
type Notifier interface {
	SendReviewReminder(ctx context.Context, learner models.Learner, due []DeckDue) error
}

// RecipientSource lists learners who opted into reminders
type RecipientSource interface {
	ListReminderRecipients(ctx context.Context) ([]models.Learner, error)
}

// ProgressLister lists every aggregate of one learner
type ProgressLister interface {
	ListByUser(ctx context.Context, userID string) ([]*models.VocabularyProgress, error)
}

// DeckLister lists deck headers
type DeckLister interface {
	ListDecks(ctx context.Context) ([]*models.Deck, error)
}

// ReminderReport summarizes one reminder run
type ReminderReport struct {
	Recipients int
	Notified   int
	Failed     int
}

// ReminderService emails learners whose reviews are due
type ReminderService struct {
	learners    RecipientSource
	progress    ProgressLister
	decks       DeckLister
	notifier    Notifier
	clock       progress.Clock
	log         *logger.Logger
	concurrency int
}

// NewReminderService creates a new reminder service
func NewReminderService(learners RecipientSource, progressRepo ProgressLister, decks DeckLister, notifier Notifier, clock progress.Clock, log *logger.Logger) *ReminderService {
	if clock == nil {
		clock = progress.SystemClock{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &ReminderService{
		learners:    learners,
		progress:    progressRepo,
		decks:       decks,
		notifier:    notifier,
		clock:       clock,
		log:         log.With("service", "ReminderService"),
		concurrency: 8,
	}
}

// SendDueReminders notifies every opted-in learner with at least one due item.
// A learner whose progress cannot be read or whose delivery fails is logged
// and counted as failed; the run continues for everyone else.
func (s *ReminderService) SendDueReminders(ctx context.Context) (ReminderReport, error) {
	recipients, err := s.learners.ListReminderRecipients(ctx)
	if err != nil {
		return ReminderReport{}, err
	}
	headers, err := s.decks.ListDecks(ctx)
	if err != nil {
		return ReminderReport{}, err
	}
	titles := make(map[string]string, len(headers))
	for _, d := range headers {
		titles[d.ID] = d.Title
	}

	now := s.clock.Now()
	var notified, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, learner := range recipients {
		learner := learner
		g.Go(func() error {
			due, err := s.dueFor(gctx, learner.ID, titles, now)
			if err != nil {
				failed.Add(1)
				s.log.Warn("failed to load progress for review reminder", "user", learner.ID, "error", err)
				return nil
			}
			if len(due) == 0 {
				return nil
			}
			if err := s.notifier.SendReviewReminder(gctx, learner, due); err != nil {
				failed.Add(1)
				s.log.Warn("failed to send review reminder", "user", learner.ID, "error", err)
				return nil
			}
			notified.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return ReminderReport{}, err
	}

	report := ReminderReport{
		Recipients: len(recipients),
		Notified:   int(notified.Load()),
		Failed:     int(failed.Load()),
	}
	s.log.Info("review reminders sent", "recipients", report.Recipients, "notified", report.Notified, "failed", report.Failed)
	return report, ctx.Err()
}

func (s *ReminderService) dueFor(ctx context.Context, userID string, titles map[string]string, now time.Time) ([]DeckDue, error) {
	aggregates, err := s.progress.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	var due []DeckDue
	for _, agg := range aggregates {
		n := len(progress.ItemsNeedingReview(agg, now))
		if n == 0 {
			continue
		}
		title := titles[agg.DeckID]
		if title == "" {
			title = agg.DeckID
		}
		due = append(due, DeckDue{DeckID: agg.DeckID, Title: title, DueItems: n})
	}
	return due, nil
}
