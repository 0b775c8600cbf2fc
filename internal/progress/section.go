package progress

import "wabisabi/internal/models"

// SummarizeSection derives a section summary from the section's item records.
// Average accuracy is the mean of per-item accuracy over practiced items.
func SummarizeSection(sectionIndex, totalItems int, items []models.ItemProgress) models.SectionProgressSummary {
	summary := models.SectionProgressSummary{
		SectionIndex: sectionIndex,
		TotalItems:   totalItems,
	}

	accuracySum := 0.0
	for _, item := range items {
		if item.TotalAttempts > 0 {
			summary.PracticedItems++
			accuracySum += item.Accuracy()
		}
		if item.IsMasteredLevel() {
			summary.MasteredItems++
		}
		if item.LastAttemptAt != nil && (summary.LastStudiedAt == nil || item.LastAttemptAt.After(*summary.LastStudiedAt)) {
			t := *item.LastAttemptAt
			summary.LastStudiedAt = &t
		}
	}

	if summary.PracticedItems > 0 {
		summary.AverageAccuracy = accuracySum / float64(summary.PracticedItems)
	}

	return summary
}
