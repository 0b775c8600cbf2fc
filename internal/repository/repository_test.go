package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wabisabi/internal/database"
	"wabisabi/internal/models"
	"wabisabi/internal/progress"
)

func setupTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Initialize(filepath.Join(t.TempDir(), "repo.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.RunMigrations("../../migrations")
	require.NoError(t, err)
	return db
}

func sampleDeck() *models.Deck {
	return &models.Deck{
		ID:       "jlpt-n5",
		Title:    "JLPT N5",
		Language: "ja",
		Sections: []models.DeckSection{
			{Index: 0, Title: "Greetings", TotalItems: 2, Items: []models.DeckItem{
				{SectionIndex: 0, ItemIndex: 0, Term: "こんにちは", Meaning: "hello"},
				{SectionIndex: 0, ItemIndex: 1, Term: "さようなら", Meaning: "goodbye"},
			}},
			{Index: 1, Title: "Numbers", TotalItems: 1, Items: []models.DeckItem{
				{SectionIndex: 1, ItemIndex: 0, Term: "一", Meaning: "one"},
			}},
		},
	}
}

func TestProgressRepository_SaveAndLoad(t *testing.T) {
	db := setupTestDB(t)
	repo := NewProgressRepository(db)
	ctx := context.Background()

	got, err := repo.Load(ctx, "user-1", "jlpt-n5")
	require.NoError(t, err)
	assert.Nil(t, got, "missing aggregate loads as nil")

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	deck := sampleDeck()
	agg := models.NewVocabularyProgress("user-1", deck.ID, now)
	res, err := progress.ApplyAttempt(agg, deck, progress.Attempt{Key: models.ItemKey{SectionIndex: 0, ItemIndex: 1}, Correct: true}, now)
	require.NoError(t, err)
	saved := progress.CompleteSession(res.Progress, 12, now, time.UTC)

	require.NoError(t, repo.Save(ctx, saved))
	assert.Equal(t, int64(1), saved.Version)

	loaded, err := repo.Load(ctx, "user-1", "jlpt-n5")
	require.NoError(t, err)
	require.NotNil(t, loaded)

	assert.Equal(t, saved.ID, loaded.ID)
	assert.Equal(t, int64(1), loaded.Version)
	assert.Equal(t, 1, loaded.Streak.Current)
	require.NotNil(t, loaded.Streak.LastStudyDate)
	assert.True(t, loaded.Streak.LastStudyDate.Equal(now))

	item, ok := loaded.Item(models.ItemKey{SectionIndex: 0, ItemIndex: 1})
	require.True(t, ok)
	assert.Equal(t, 1, item.CorrectAttempts)
	assert.Equal(t, models.MasteryLearning, item.MasteryLevel)
	require.NotNil(t, item.NextReviewAt)
	assert.True(t, item.NextReviewAt.Equal(now.Add(8*time.Hour)))

	assert.Equal(t, saved.Stats, loaded.Stats)
	assert.Equal(t, saved.Sections[0].PracticedItems, loaded.Sections[0].PracticedItems)
	assert.Equal(t, saved.Sections[0].AverageAccuracy, loaded.Sections[0].AverageAccuracy)
}

func TestProgressRepository_VersionConflict(t *testing.T) {
	db := setupTestDB(t)
	repo := NewProgressRepository(db)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	first := models.NewVocabularyProgress("user-1", "deck-1", now)
	require.NoError(t, repo.Save(ctx, first))

	// A second writer that also saw "no aggregate" loses the insert race
	second := models.NewVocabularyProgress("user-1", "deck-1", now)
	err := repo.Save(ctx, second)
	assert.True(t, errors.Is(err, progress.ErrConcurrencyConflict), "got %v", err)

	a, err := repo.Load(ctx, "user-1", "deck-1")
	require.NoError(t, err)
	b, err := repo.Load(ctx, "user-1", "deck-1")
	require.NoError(t, err)

	require.NoError(t, repo.Save(ctx, a))
	assert.Equal(t, int64(2), a.Version)

	// b still carries version 1
	err = repo.Save(ctx, b)
	assert.ErrorIs(t, err, progress.ErrConcurrencyConflict)

	reloaded, err := repo.Load(ctx, "user-1", "deck-1")
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, reloaded))
	assert.Equal(t, int64(3), reloaded.Version)
}

func TestProgressRepository_ListAndRestore(t *testing.T) {
	db := setupTestDB(t)
	repo := NewProgressRepository(db)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	for _, deckID := range []string{"deck-b", "deck-a"} {
		require.NoError(t, repo.Save(ctx, models.NewVocabularyProgress("user-1", deckID, now)))
	}
	require.NoError(t, repo.Save(ctx, models.NewVocabularyProgress("user-2", "deck-a", now)))

	mine, err := repo.ListByUser(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, "deck-a", mine[0].DeckID)
	assert.Equal(t, "deck-b", mine[1].DeckID)

	all, err := repo.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	restored := models.NewVocabularyProgress("user-2", "deck-a", now)
	restored.Version = 7
	restored.Stats.SessionsCompleted = 4
	require.NoError(t, repo.Restore(ctx, restored))

	loaded, err := repo.Load(ctx, "user-2", "deck-a")
	require.NoError(t, err)
	assert.Equal(t, restored.ID, loaded.ID)
	assert.Equal(t, int64(7), loaded.Version)
	assert.Equal(t, 4, loaded.Stats.SessionsCompleted)
}

func TestDeckRepository(t *testing.T) {
	db := setupTestDB(t)
	repo := NewDeckRepository(db)
	ctx := context.Background()

	_, err := repo.GetDeck(ctx, "missing")
	assert.ErrorIs(t, err, progress.ErrDeckNotFound)

	deck := sampleDeck()
	require.NoError(t, repo.UpsertDeck(ctx, deck))

	got, err := repo.GetDeck(ctx, deck.ID)
	require.NoError(t, err)
	assert.Equal(t, "JLPT N5", got.Title)
	require.Len(t, got.Sections, 2)
	assert.Equal(t, 2, got.Sections[0].TotalItems)
	assert.Equal(t, "さようなら", got.Sections[0].Items[1].Term)
	assert.Equal(t, 3, got.TotalItems())

	// Upserting again replaces the content
	deck.Sections = deck.Sections[:1]
	deck.Title = "JLPT N5 (short)"
	require.NoError(t, repo.UpsertDeck(ctx, deck))

	decks, err := repo.ListDecks(ctx)
	require.NoError(t, err)
	require.Len(t, decks, 1)
	assert.Equal(t, "JLPT N5 (short)", decks[0].Title)
	require.Len(t, decks[0].Sections, 1)
	assert.Empty(t, decks[0].Sections[0].Items)
}

func TestLearnerRepository(t *testing.T) {
	db := setupTestDB(t)
	repo := NewLearnerRepository(db)
	ctx := context.Background()

	missing, err := repo.Get(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, repo.Upsert(ctx, &models.Learner{ID: "user-1", Email: "a@example.com", Name: "A", RemindersEnabled: true}))
	require.NoError(t, repo.Upsert(ctx, &models.Learner{ID: "user-2", Email: "b@example.com", Name: "B", RemindersEnabled: false}))
	require.NoError(t, repo.Upsert(ctx, &models.Learner{ID: "user-1", Email: "a2@example.com", Name: "A", RemindersEnabled: true}))

	l, err := repo.Get(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, l)
	assert.Equal(t, "a2@example.com", l.Email)

	recipients, err := repo.ListReminderRecipients(ctx)
	require.NoError(t, err)
	require.Len(t, recipients, 1)
	assert.Equal(t, "user-1", recipients[0].ID)
}
