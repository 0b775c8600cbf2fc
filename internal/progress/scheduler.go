package progress

import (
	"sort"
	"time"

	"wabisabi/internal/models"
)

// IsDue reports whether a scheduled review has passed.
// Items that were never attempted have no schedule and are never due.
func IsDue(item models.ItemProgress, now time.Time) bool {
	return item.NextReviewAt != nil && item.NextReviewAt.Before(now)
}

// ItemsNeedingReview lists the due items of an aggregate, most overdue first
func ItemsNeedingReview(agg *models.VocabularyProgress, now time.Time) []models.ItemKey {
	if agg == nil {
		return nil
	}

	due := make([]models.ItemProgress, 0)
	for _, item := range agg.Items {
		if IsDue(item, now) {
			due = append(due, item)
		}
	}

	sort.Slice(due, func(i, j int) bool {
		ti, tj := *due[i].NextReviewAt, *due[j].NextReviewAt
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return due[i].Key().Less(due[j].Key())
	})

	keys := make([]models.ItemKey, len(due))
	for i, item := range due {
		keys[i] = item.Key()
	}
	return keys
}
