package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wabisabi/internal/events"
	"wabisabi/internal/logger"
	"wabisabi/internal/models"
	"wabisabi/internal/progress"
)

// ProgressStore loads and saves progress aggregates.
// Save returns progress.ErrConcurrencyConflict when the stored version moved.
type ProgressStore interface {
	Load(ctx context.Context, userID, deckID string) (*models.VocabularyProgress, error)
	Save(ctx context.Context, p *models.VocabularyProgress) error
}

// DeckProvider supplies read-only deck content
type DeckProvider interface {
	GetDeck(ctx context.Context, deckID string) (*models.Deck, error)
}

// ProgressOptions tunes a ProgressService; zero values pick defaults
type ProgressOptions struct {
	MaxSaveRetries int
	PassingScore   float64
	StreakLocation *time.Location
	Clock          progress.Clock
	Publisher      events.Publisher
	Logger         *logger.Logger
}

// SubmitAttempt is one practice outcome reported by a client.
// When Score is set it decides correctness against the passing score.
type SubmitAttempt struct {
	UserID       string
	DeckID       string
	SectionIndex int
	ItemIndex    int
	Correct      bool
	Score        *float64
	OccurredAt   time.Time
}

// AttemptOutcome is what a caller renders after an attempt
type AttemptOutcome struct {
	Item    models.ItemProgress           `json:"item"`
	Section models.SectionProgressSummary `json:"section"`
	Stats   models.ProgressStats          `json:"stats"`
	Version int64                         `json:"version"`
}

// ProgressService handles practice progress business logic
type ProgressService struct {
	store        ProgressStore
	decks        DeckProvider
	publisher    events.Publisher
	clock        progress.Clock
	log          *logger.Logger
	maxRetries   int
	passingScore float64
	streakLoc    *time.Location
	locks        *keyedMutex
}

// NewProgressService creates a new progress service
func NewProgressService(store ProgressStore, decks DeckProvider, opts ProgressOptions) *ProgressService {
	s := &ProgressService{
		store:        store,
		decks:        decks,
		publisher:    opts.Publisher,
		clock:        opts.Clock,
		log:          opts.Logger,
		maxRetries:   opts.MaxSaveRetries,
		passingScore: opts.PassingScore,
		streakLoc:    opts.StreakLocation,
		locks:        newKeyedMutex(),
	}
	if s.publisher == nil {
		s.publisher = events.NopPublisher{}
	}
	if s.clock == nil {
		s.clock = progress.SystemClock{}
	}
	if s.log == nil {
		s.log = logger.Nop()
	}
	if s.maxRetries <= 0 {
		s.maxRetries = 5
	}
	if s.passingScore <= 0 {
		s.passingScore = progress.DefaultPassingScore
	}
	if s.streakLoc == nil {
		s.streakLoc = time.UTC
	}
	s.log = s.log.With("service", "ProgressService")
	return s
}

// SubmitAttempt records one attempt and returns the item, section and deck
// records that changed. Unknown (user, deck) pairs start from empty progress.
func (s *ProgressService) SubmitAttempt(ctx context.Context, in SubmitAttempt) (*AttemptOutcome, error) {
	deck, err := s.decks.GetDeck(ctx, in.DeckID)
	if err != nil {
		return nil, err
	}

	correct := in.Correct
	if in.Score != nil {
		correct = progress.OutcomeFromScore(*in.Score, s.passingScore)
	}
	now := in.OccurredAt
	if now.IsZero() {
		now = s.clock.Now()
	}
	attempt := progress.Attempt{
		Key:     models.ItemKey{SectionIndex: in.SectionIndex, ItemIndex: in.ItemIndex},
		Correct: correct,
	}

	var result *progress.AttemptResult
	saved, err := s.update(ctx, in.UserID, in.DeckID, func(base *models.VocabularyProgress) (*models.VocabularyProgress, error) {
		res, err := progress.ApplyAttempt(base, deck, attempt, now)
		if err != nil {
			return nil, err
		}
		result = res
		return res.Progress, nil
	})
	if err != nil {
		return nil, err
	}

	section, item := attempt.Key.SectionIndex, attempt.Key.ItemIndex
	s.publish(ctx, events.ProgressEvent{
		Type:         events.TypeAttemptRecorded,
		UserID:       in.UserID,
		DeckID:       in.DeckID,
		Version:      saved.Version,
		SectionIndex: &section,
		ItemIndex:    &item,
		MasteryLevel: result.Item.MasteryLevel.String(),
		StudyStreak:  saved.Streak.Current,
		OccurredAt:   now,
	})

	return &AttemptOutcome{
		Item:    result.Item,
		Section: result.Section,
		Stats:   result.Stats,
		Version: saved.Version,
	}, nil
}

// CompleteSession closes a practice session, advancing the study streak once
func (s *ProgressService) CompleteSession(ctx context.Context, userID, deckID string, minutes int) (*models.VocabularyProgress, error) {
	if _, err := s.decks.GetDeck(ctx, deckID); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	saved, err := s.update(ctx, userID, deckID, func(base *models.VocabularyProgress) (*models.VocabularyProgress, error) {
		return progress.CompleteSession(base, minutes, now, s.streakLoc), nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.ProgressEvent{
		Type:        events.TypeSessionCompleted,
		UserID:      userID,
		DeckID:      deckID,
		Version:     saved.Version,
		StudyStreak: saved.Streak.Current,
		OccurredAt:  now,
	})
	return saved, nil
}

// GetDeckProgress returns the stored aggregate, or an empty unsaved one
func (s *ProgressService) GetDeckProgress(ctx context.Context, userID, deckID string) (*models.VocabularyProgress, error) {
	agg, err := s.store.Load(ctx, userID, deckID)
	if err != nil {
		return nil, err
	}
	if agg == nil {
		agg = models.NewVocabularyProgress(userID, deckID, s.clock.Now())
	}
	return agg, nil
}

// GetItemsNeedingReview returns the keys of items due before now, most overdue first
func (s *ProgressService) GetItemsNeedingReview(ctx context.Context, userID, deckID string, now time.Time) ([]models.ItemKey, error) {
	agg, err := s.store.Load(ctx, userID, deckID)
	if err != nil {
		return nil, err
	}
	keys := progress.ItemsNeedingReview(agg, now)
	if keys == nil {
		keys = []models.ItemKey{}
	}
	return keys, nil
}

// GetCompletionPercentage returns mastered items over totalItems as a percentage
func (s *ProgressService) GetCompletionPercentage(ctx context.Context, userID, deckID string, totalItems int) (float64, error) {
	agg, err := s.GetDeckProgress(ctx, userID, deckID)
	if err != nil {
		return 0, err
	}
	return progress.CompletionPercentage(agg.Stats, totalItems), nil
}

// Completion is the mastered share of a deck, read from one aggregate version
type Completion struct {
	Version              int64
	ItemsMastered        int
	CompletionPercentage float64
}

// GetCompletion loads the aggregate once and derives both counts from it
func (s *ProgressService) GetCompletion(ctx context.Context, userID, deckID string, totalItems int) (Completion, error) {
	agg, err := s.GetDeckProgress(ctx, userID, deckID)
	if err != nil {
		return Completion{}, err
	}
	return Completion{
		Version:              agg.Version,
		ItemsMastered:        agg.Stats.ItemsMastered,
		CompletionPercentage: progress.CompletionPercentage(agg.Stats, totalItems),
	}, nil
}

// GetSectionProgress summarizes one section against the deck's content
func (s *ProgressService) GetSectionProgress(ctx context.Context, userID, deckID string, sectionIndex int) (models.SectionProgressSummary, error) {
	deck, err := s.decks.GetDeck(ctx, deckID)
	if err != nil {
		return models.SectionProgressSummary{}, err
	}
	section, ok := deck.Section(sectionIndex)
	if !ok {
		return models.SectionProgressSummary{}, fmt.Errorf("%w: section %d not in deck %s",
			progress.ErrInvalidItemReference, sectionIndex, deckID)
	}

	agg, err := s.GetDeckProgress(ctx, userID, deckID)
	if err != nil {
		return models.SectionProgressSummary{}, err
	}
	return progress.SummarizeSection(section.Index, section.TotalItems, agg.ItemsInSection(section.Index)), nil
}

// update runs a read-modify-write cycle on one aggregate. Writers for the same
// key are serialized in this process; conflicts with other processes are
// retried against a fresh load.
func (s *ProgressService) update(ctx context.Context, userID, deckID string, transform func(*models.VocabularyProgress) (*models.VocabularyProgress, error)) (*models.VocabularyProgress, error) {
	unlock := s.locks.Lock(userID + "\x00" + deckID)
	defer unlock()

	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		base, err := s.store.Load(ctx, userID, deckID)
		if err != nil {
			return nil, err
		}
		if base == nil {
			base = models.NewVocabularyProgress(userID, deckID, s.clock.Now())
		}

		next, err := transform(base)
		if err != nil {
			return nil, err
		}

		err = s.store.Save(ctx, next)
		if err == nil {
			return next, nil
		}
		if !errors.Is(err, progress.ErrConcurrencyConflict) {
			return nil, err
		}
		s.log.Warn("progress save conflict, retrying", "user", userID, "deck", deckID, "attempt", attempt)
	}

	return nil, fmt.Errorf("save progress for user %s deck %s after %d attempts: %w",
		userID, deckID, s.maxRetries, progress.ErrConcurrencyConflict)
}

func (s *ProgressService) publish(ctx context.Context, evt events.ProgressEvent) {
	if err := s.publisher.Publish(ctx, evt); err != nil {
		s.log.Warn("failed to publish progress event", "type", evt.Type, "user", evt.UserID, "deck", evt.DeckID, "error", err)
	}
}
