package progress

import (
	"fmt"
	"time"

	"wabisabi/internal/models"
)

// DefaultPassingScore is the evaluator score at which an attempt counts as correct
const DefaultPassingScore = 70.0

// Attempt is one practice outcome on one item
type Attempt struct {
	Key     models.ItemKey
	Correct bool
}

// AttemptResult carries the new aggregate and the three records a caller renders together
type AttemptResult struct {
	Progress *models.VocabularyProgress
	Item     models.ItemProgress
	Section  models.SectionProgressSummary
	Stats    models.ProgressStats
}

// ApplyAttempt records an attempt against a copy of base.
// base is never modified, so a failed save can be retried against a fresh load.
func ApplyAttempt(base *models.VocabularyProgress, deck *models.Deck, attempt Attempt, now time.Time) (*AttemptResult, error) {
	if base == nil || deck == nil {
		return nil, fmt.Errorf("apply attempt: missing aggregate or deck")
	}
	if !deck.Contains(attempt.Key) {
		return nil, fmt.Errorf("%w: section %d item %d not in deck %s",
			ErrInvalidItemReference, attempt.Key.SectionIndex, attempt.Key.ItemIndex, deck.ID)
	}
	section, _ := deck.Section(attempt.Key.SectionIndex)

	next := base.Clone()

	current, _ := next.Item(attempt.Key)
	item := RecordAttempt(current, attempt.Correct, now)
	next.Items[attempt.Key] = item

	summary := SummarizeSection(section.Index, section.TotalItems, next.ItemsInSection(section.Index))
	next.Sections[section.Index] = summary

	stats := AggregateStats(next.ItemList())
	stats.TotalStudyTimeMinutes = base.Stats.TotalStudyTimeMinutes
	stats.SessionsCompleted = base.Stats.SessionsCompleted
	next.Stats = stats
	next.UpdatedAt = now

	return &AttemptResult{
		Progress: next,
		Item:     item,
		Section:  summary,
		Stats:    stats,
	}, nil
}

// CompleteSession closes a practice session: the study streak advances once
// and session totals grow. base is not modified.
func CompleteSession(base *models.VocabularyProgress, minutes int, now time.Time, loc *time.Location) *models.VocabularyProgress {
	next := base.Clone()
	if minutes < 0 {
		minutes = 0
	}
	next.Streak = AdvanceStudyStreak(base.Streak, now, loc)
	next.Stats.SessionsCompleted++
	next.Stats.TotalStudyTimeMinutes += minutes
	next.UpdatedAt = now
	return next
}

// OutcomeFromScore turns an evaluator score (0-100) into a correctness outcome
func OutcomeFromScore(score, passing float64) bool {
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score >= passing
}
