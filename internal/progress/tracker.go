// Package progress is the mastery and spaced-repetition engine.
// Every function here is pure: it receives the current time explicitly and
// returns new values instead of mutating its inputs. Callers persist results.
package progress

import (
	"time"

	"wabisabi/internal/models"
)

// Mastery thresholds, evaluated in priority order
const (
	masteredMinAttempts = 5
	masteredMinAccuracy = 0.90
	familiarMinAttempts = 3
	familiarMinAccuracy = 0.70
)

// Base review intervals in hours, multiplied by (streak + 1) except for new items
const (
	newIntervalHours      = 1
	learningIntervalHours = 4
	familiarIntervalHours = 24
	masteredIntervalHours = 72
)

// RecordAttempt returns the item record after one practice attempt
func RecordAttempt(current models.ItemProgress, correct bool, now time.Time) models.ItemProgress {
	next := current

	if correct {
		next.CorrectAttempts++
		next.StreakCount++
	} else {
		next.IncorrectAttempts++
		next.StreakCount = 0
	}
	next.TotalAttempts = next.CorrectAttempts + next.IncorrectAttempts
	if next.StreakCount > next.BestStreak {
		next.BestStreak = next.StreakCount
	}

	next.MasteryLevel = ClassifyMastery(next.TotalAttempts, next.CorrectAttempts)

	attemptAt := now
	next.LastAttemptAt = &attemptAt
	if correct {
		correctAt := now
		next.LastCorrectAt = &correctAt
	} else if current.LastCorrectAt != nil {
		prev := *current.LastCorrectAt
		next.LastCorrectAt = &prev
	}

	reviewAt := now.Add(ReviewInterval(next.MasteryLevel, next.StreakCount))
	next.NextReviewAt = &reviewAt

	return next
}

// ClassifyMastery derives the mastery level from attempt counts.
// The first matching rule wins.
func ClassifyMastery(totalAttempts, correctAttempts int) models.MasteryLevel {
	if totalAttempts <= 0 {
		return models.MasteryNew
	}
	accuracy := float64(correctAttempts) / float64(totalAttempts)

	switch {
	case totalAttempts >= masteredMinAttempts && accuracy >= masteredMinAccuracy:
		return models.MasteryMastered
	case totalAttempts >= familiarMinAttempts && accuracy >= familiarMinAccuracy:
		return models.MasteryFamiliar
	default:
		return models.MasteryLearning
	}
}

// ReviewInterval returns how long after an attempt the item becomes due
func ReviewInterval(level models.MasteryLevel, streak int) time.Duration {
	var hours int
	switch level {
	case models.MasteryLearning:
		hours = learningIntervalHours * (streak + 1)
	case models.MasteryFamiliar:
		hours = familiarIntervalHours * (streak + 1)
	case models.MasteryMastered:
		hours = masteredIntervalHours * (streak + 1)
	default:
		hours = newIntervalHours
	}
	return time.Duration(hours) * time.Hour
}
