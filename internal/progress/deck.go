package progress

import (
	"time"

	"wabisabi/internal/models"
)

// AggregateStats sums counters across every item of a deck aggregate.
// AverageAccuracy is total correct over total attempts, not a mean of item accuracies.
// Session totals are not derivable from items and are left at zero.
func AggregateStats(items []models.ItemProgress) models.ProgressStats {
	var stats models.ProgressStats

	for _, item := range items {
		stats.TotalCorrectAttempts += item.CorrectAttempts
		stats.TotalIncorrectAttempts += item.IncorrectAttempts
		stats.TotalAttempts += item.TotalAttempts
		if item.TotalAttempts == 0 {
			continue
		}
		stats.TotalItemsPracticed++
		if item.IsMasteredLevel() {
			stats.ItemsMastered++
		} else {
			stats.ItemsLearning++
		}
	}

	if stats.TotalAttempts > 0 {
		stats.AverageAccuracy = float64(stats.TotalCorrectAttempts) / float64(stats.TotalAttempts)
	}

	return stats
}

// CompletionPercentage returns mastered items over the deck size as a percentage
func CompletionPercentage(stats models.ProgressStats, totalItems int) float64 {
	if totalItems <= 0 {
		return 0
	}
	return float64(stats.ItemsMastered) / float64(totalItems) * 100
}

// AdvanceStudyStreak applies one completed study session to the deck streak.
// Dates are compared in loc; a nil loc means UTC.
func AdvanceStudyStreak(streak models.StudyStreak, now time.Time, loc *time.Location) models.StudyStreak {
	if loc == nil {
		loc = time.UTC
	}
	next := streak
	today := civilDate(now, loc)

	switch {
	case streak.LastStudyDate == nil:
		next.Current = 1
	case civilDate(*streak.LastStudyDate, loc).Equal(today):
		// already counted today
	case civilDate(*streak.LastStudyDate, loc).Equal(today.AddDate(0, 0, -1)):
		next.Current = streak.Current + 1
	default:
		next.Current = 1
	}

	if next.Current > next.Longest {
		next.Longest = next.Current
	}
	studied := now
	next.LastStudyDate = &studied

	return next
}

func civilDate(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
