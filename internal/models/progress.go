package models

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// MasteryLevel is the learned state of a vocabulary item
type MasteryLevel int

const (
	MasteryNew MasteryLevel = iota
	MasteryLearning
	MasteryFamiliar
	MasteryMastered
)

var masteryNames = [...]string{
	MasteryNew:      "NEW",
	MasteryLearning: "LEARNING",
	MasteryFamiliar: "FAMILIAR",
	MasteryMastered: "MASTERED",
}

func (m MasteryLevel) valid() bool {
	return m >= MasteryNew && m <= MasteryMastered
}

func (m MasteryLevel) String() string {
	if m.valid() {
		return masteryNames[m]
	}
	return fmt.Sprintf("MasteryLevel(%d)", int(m))
}

// MarshalText implements encoding.TextMarshaler
func (m MasteryLevel) MarshalText() ([]byte, error) {
	if !m.valid() {
		return nil, fmt.Errorf("invalid mastery level: %d", int(m))
	}
	return []byte(masteryNames[m]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (m *MasteryLevel) UnmarshalText(text []byte) error {
	for level, name := range masteryNames {
		if name == string(text) {
			*m = MasteryLevel(level)
			return nil
		}
	}
	return fmt.Errorf("invalid mastery level: %q", text)
}

// ItemKey identifies a vocabulary item inside a deck
type ItemKey struct {
	SectionIndex int `json:"sectionIndex"`
	ItemIndex    int `json:"itemIndex"`
}

func (k ItemKey) String() string {
	return fmt.Sprintf("%d-%d", k.SectionIndex, k.ItemIndex)
}

// Less orders keys by section, then item
func (k ItemKey) Less(other ItemKey) bool {
	if k.SectionIndex != other.SectionIndex {
		return k.SectionIndex < other.SectionIndex
	}
	return k.ItemIndex < other.ItemIndex
}

// ItemProgress is the practice history of one vocabulary item
type ItemProgress struct {
	SectionIndex      int          `json:"sectionIndex"`
	ItemIndex         int          `json:"itemIndex"`
	CorrectAttempts   int          `json:"correctAttempts"`
	IncorrectAttempts int          `json:"incorrectAttempts"`
	TotalAttempts     int          `json:"totalAttempts"`
	MasteryLevel      MasteryLevel `json:"masteryLevel"`
	LastAttemptAt     *time.Time   `json:"lastAttemptAt,omitempty"`
	LastCorrectAt     *time.Time   `json:"lastCorrectAt,omitempty"`
	NextReviewAt      *time.Time   `json:"nextReviewAt,omitempty"`
	StreakCount       int          `json:"streakCount"`
	BestStreak        int          `json:"bestStreak"`
}

// Key returns the composite key of the item
func (p ItemProgress) Key() ItemKey {
	return ItemKey{SectionIndex: p.SectionIndex, ItemIndex: p.ItemIndex}
}

// Accuracy returns correct attempts over total attempts, 0 when never attempted
func (p ItemProgress) Accuracy() float64 {
	if p.TotalAttempts == 0 {
		return 0
	}
	return float64(p.CorrectAttempts) / float64(p.TotalAttempts)
}

// IsMastered is the display bar used for accuracy badges.
// It is deliberately lower than the MasteryMastered scheduling level.
func (p ItemProgress) IsMastered() bool {
	return p.TotalAttempts >= 3 && p.Accuracy() >= 0.80
}

// IsMasteredLevel reports whether the item reached the MasteryMastered level.
// Completion percentages count items with this predicate.
func (p ItemProgress) IsMasteredLevel() bool {
	return p.MasteryLevel == MasteryMastered
}

// SectionProgressSummary is derived from the items of one section
type SectionProgressSummary struct {
	SectionIndex    int        `json:"sectionIndex"`
	TotalItems      int        `json:"totalItems"`
	PracticedItems  int        `json:"practicedItems"`
	MasteredItems   int        `json:"masteredItems"`
	AverageAccuracy float64    `json:"averageAccuracy"`
	LastStudiedAt   *time.Time `json:"lastStudiedAt,omitempty"`
}

// CompletionPercentage returns mastered items over total items as a percentage
func (s SectionProgressSummary) CompletionPercentage() float64 {
	if s.TotalItems == 0 {
		return 0
	}
	return float64(s.MasteredItems) / float64(s.TotalItems) * 100
}

// ProgressStats holds deck-wide counters
type ProgressStats struct {
	TotalItemsPracticed    int     `json:"totalItemsPracticed"`
	TotalCorrectAttempts   int     `json:"totalCorrectAttempts"`
	TotalIncorrectAttempts int     `json:"totalIncorrectAttempts"`
	TotalAttempts          int     `json:"totalAttempts"`
	ItemsMastered          int     `json:"itemsMastered"`
	ItemsLearning          int     `json:"itemsLearning"`
	AverageAccuracy        float64 `json:"averageAccuracy"`
	TotalStudyTimeMinutes  int     `json:"totalStudyTimeMinutes"`
	SessionsCompleted      int     `json:"sessionsCompleted"`
}

// StudyStreak counts consecutive calendar days with a completed session
type StudyStreak struct {
	Current       int        `json:"current"`
	Longest       int        `json:"longest"`
	LastStudyDate *time.Time `json:"lastStudyDate,omitempty"`
}

// VocabularyProgress is the progress aggregate of one user on one deck
type VocabularyProgress struct {
	ID        string                         `json:"id"`
	UserID    string                         `json:"userId"`
	DeckID    string                         `json:"deckId"`
	Items     map[ItemKey]ItemProgress       `json:"-"`
	Sections  map[int]SectionProgressSummary `json:"sections"`
	Stats     ProgressStats                  `json:"stats"`
	Streak    StudyStreak                    `json:"streak"`
	Version   int64                          `json:"version"`
	CreatedAt time.Time                      `json:"createdAt"`
	UpdatedAt time.Time                      `json:"updatedAt"`
}

// NewVocabularyProgress creates an empty aggregate that has never been saved
func NewVocabularyProgress(userID, deckID string, now time.Time) *VocabularyProgress {
	return &VocabularyProgress{
		ID:        uuid.New().String(),
		UserID:    userID,
		DeckID:    deckID,
		Items:     make(map[ItemKey]ItemProgress),
		Sections:  make(map[int]SectionProgressSummary),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy so callers can transform without touching shared state
func (v *VocabularyProgress) Clone() *VocabularyProgress {
	out := *v
	out.Items = make(map[ItemKey]ItemProgress, len(v.Items))
	for k, item := range v.Items {
		out.Items[k] = item.clone()
	}
	out.Sections = make(map[int]SectionProgressSummary, len(v.Sections))
	for k, s := range v.Sections {
		s.LastStudiedAt = cloneTime(s.LastStudiedAt)
		out.Sections[k] = s
	}
	out.Streak.LastStudyDate = cloneTime(v.Streak.LastStudyDate)
	return &out
}

// Item returns the record for key, or a zero-valued record positioned at key
func (v *VocabularyProgress) Item(key ItemKey) (ItemProgress, bool) {
	item, ok := v.Items[key]
	if !ok {
		return ItemProgress{SectionIndex: key.SectionIndex, ItemIndex: key.ItemIndex}, false
	}
	return item, true
}

// ItemsInSection returns the records of one section ordered by item index
func (v *VocabularyProgress) ItemsInSection(sectionIndex int) []ItemProgress {
	var items []ItemProgress
	for k, item := range v.Items {
		if k.SectionIndex == sectionIndex {
			items = append(items, item)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ItemIndex < items[j].ItemIndex })
	return items
}

// ItemList returns every record ordered by key
func (v *VocabularyProgress) ItemList() []ItemProgress {
	items := make([]ItemProgress, 0, len(v.Items))
	for _, item := range v.Items {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Key().Less(items[j].Key()) })
	return items
}

func (p ItemProgress) clone() ItemProgress {
	p.LastAttemptAt = cloneTime(p.LastAttemptAt)
	p.LastCorrectAt = cloneTime(p.LastCorrectAt)
	p.NextReviewAt = cloneTime(p.NextReviewAt)
	return p
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
