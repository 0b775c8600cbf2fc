package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wabisabi/internal/events"
	"wabisabi/internal/models"
	"wabisabi/internal/progress"
)

// memStore is a ProgressStore that enforces the same version rules as the SQL repository
type memStore struct {
	mu        sync.Mutex
	rows      map[string]*models.VocabularyProgress
	loads     int
	saves     int
	conflicts int
	failSaves int
	gate      *loadGate
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[string]*models.VocabularyProgress)}
}

func storeKey(userID, deckID string) string { return userID + "/" + deckID }

func (m *memStore) Load(_ context.Context, userID, deckID string) (*models.VocabularyProgress, error) {
	if m.gate != nil {
		m.gate.wait()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads++
	p, ok := m.rows[storeKey(userID, deckID)]
	if !ok {
		return nil, nil
	}
	return p.Clone(), nil
}

func (m *memStore) Save(_ context.Context, p *models.VocabularyProgress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++

	k := storeKey(p.UserID, p.DeckID)
	cur, exists := m.rows[k]
	stale := (p.Version == 0 && exists) || (p.Version != 0 && (!exists || cur.Version != p.Version))
	if stale || m.failSaves > 0 {
		if m.failSaves > 0 {
			m.failSaves--
		}
		m.conflicts++
		return progress.ErrConcurrencyConflict
	}
	p.Version++
	m.rows[k] = p.Clone()
	return nil
}

func (m *memStore) stored(userID, deckID string) *models.VocabularyProgress {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[storeKey(userID, deckID)]
}

// loadGate holds the first n loads until all n have happened, forcing the
// callers to read the same version
type loadGate struct {
	mu        sync.Mutex
	remaining int
	wg        sync.WaitGroup
}

func newLoadGate(n int) *loadGate {
	g := &loadGate{remaining: n}
	g.wg.Add(n)
	return g
}

func (g *loadGate) wait() {
	g.mu.Lock()
	held := g.remaining > 0
	if held {
		g.remaining--
	}
	g.mu.Unlock()
	if held {
		g.wg.Done()
		g.wg.Wait()
	}
}

type deckStub map[string]*models.Deck

func (d deckStub) GetDeck(_ context.Context, id string) (*models.Deck, error) {
	deck, ok := d[id]
	if !ok {
		return nil, fmt.Errorf("deck %s: %w", id, progress.ErrDeckNotFound)
	}
	return deck, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.ProgressEvent
	err    error
}

func (r *recordingPublisher) Publish(_ context.Context, evt events.ProgressEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return r.err
}

type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

var testNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func testDecks() deckStub {
	return deckStub{
		"deck-1": {
			ID: "deck-1",
			Sections: []models.DeckSection{
				{Index: 0, TotalItems: 10},
				{Index: 1, TotalItems: 5},
			},
		},
	}
}

func newTestService(store ProgressStore, opts ProgressOptions) *ProgressService {
	if opts.Clock == nil {
		opts.Clock = progress.FixedClock{T: testNow}
	}
	return NewProgressService(store, testDecks(), opts)
}

func TestSubmitAttempt_FirstAttemptCreatesAggregate(t *testing.T) {
	store := newMemStore()
	pub := &recordingPublisher{}
	svc := newTestService(store, ProgressOptions{Publisher: pub})

	out, err := svc.SubmitAttempt(context.Background(), SubmitAttempt{
		UserID: "user-1", DeckID: "deck-1", SectionIndex: 0, ItemIndex: 3, Correct: true,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1), out.Version)
	assert.Equal(t, models.MasteryLearning, out.Item.MasteryLevel)
	require.NotNil(t, out.Item.NextReviewAt)
	assert.Equal(t, testNow.Add(8*time.Hour), *out.Item.NextReviewAt)
	assert.Equal(t, 1, out.Section.PracticedItems)
	assert.Equal(t, 1, out.Stats.TotalAttempts)

	stored := store.stored("user-1", "deck-1")
	require.NotNil(t, stored)
	assert.Len(t, stored.Items, 1)

	require.Len(t, pub.events, 1)
	assert.Equal(t, events.TypeAttemptRecorded, pub.events[0].Type)
	assert.Equal(t, "LEARNING", pub.events[0].MasteryLevel)
	assert.Equal(t, int64(1), pub.events[0].Version)
}

func TestSubmitAttempt_ScoreDecidesOutcome(t *testing.T) {
	tests := []struct {
		name    string
		score   float64
		correct bool
		want    int
	}{
		{"below passing overrides correct flag", 65, true, 0},
		{"at passing", 70, false, 1},
		{"above range is clamped", 140, false, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(newMemStore(), ProgressOptions{PassingScore: 70})
			score := tt.score
			out, err := svc.SubmitAttempt(context.Background(), SubmitAttempt{
				UserID: "user-1", DeckID: "deck-1", ItemIndex: 1, Correct: tt.correct, Score: &score,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.Item.CorrectAttempts)
		})
	}
}

func TestSubmitAttempt_UsesOccurredAt(t *testing.T) {
	svc := newTestService(newMemStore(), ProgressOptions{})
	at := testNow.Add(-2 * time.Hour)

	out, err := svc.SubmitAttempt(context.Background(), SubmitAttempt{
		UserID: "user-1", DeckID: "deck-1", Correct: false, OccurredAt: at,
	})
	require.NoError(t, err)
	require.NotNil(t, out.Item.LastAttemptAt)
	assert.Equal(t, at, *out.Item.LastAttemptAt)
	assert.Equal(t, at.Add(4*time.Hour), *out.Item.NextReviewAt)
}

func TestSubmitAttempt_Errors(t *testing.T) {
	tests := []struct {
		name   string
		in     SubmitAttempt
		target error
	}{
		{"unknown section", SubmitAttempt{UserID: "u", DeckID: "deck-1", SectionIndex: 9}, progress.ErrInvalidItemReference},
		{"item past section end", SubmitAttempt{UserID: "u", DeckID: "deck-1", SectionIndex: 1, ItemIndex: 5}, progress.ErrInvalidItemReference},
		{"negative item", SubmitAttempt{UserID: "u", DeckID: "deck-1", ItemIndex: -1}, progress.ErrInvalidItemReference},
		{"unknown deck", SubmitAttempt{UserID: "u", DeckID: "nope"}, progress.ErrDeckNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			svc := newTestService(store, ProgressOptions{})
			_, err := svc.SubmitAttempt(context.Background(), tt.in)
			assert.ErrorIs(t, err, tt.target)
			assert.Zero(t, store.saves, "a rejected attempt must not write")
		})
	}
}

func TestSubmitAttempt_RacingWritersKeepBothUpdates(t *testing.T) {
	store := newMemStore()
	store.gate = newLoadGate(2)

	// Two services model two server processes sharing one store
	a := newTestService(store, ProgressOptions{})
	b := newTestService(store, ProgressOptions{})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, svc := range []*ProgressService{a, b} {
		wg.Add(1)
		go func(i int, svc *ProgressService) {
			defer wg.Done()
			_, errs[i] = svc.SubmitAttempt(context.Background(), SubmitAttempt{
				UserID: "user-1", DeckID: "deck-1", SectionIndex: 0, ItemIndex: i, Correct: true,
			})
		}(i, svc)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, 1, store.conflicts)

	final := store.stored("user-1", "deck-1")
	require.NotNil(t, final)
	assert.Equal(t, int64(2), final.Version)
	assert.Len(t, final.Items, 2)
	assert.Equal(t, 2, final.Stats.TotalAttempts)
	assert.Equal(t, 2, final.Sections[0].PracticedItems)
}

func TestSubmitAttempt_ConcurrentSameProcess(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, ProgressOptions{})

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.SubmitAttempt(context.Background(), SubmitAttempt{
				UserID: "user-1", DeckID: "deck-1", SectionIndex: i % 2, ItemIndex: i / 4, Correct: i%3 != 0,
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	final := store.stored("user-1", "deck-1")
	require.NotNil(t, final)
	assert.Equal(t, n, final.Stats.TotalAttempts)
	assert.Equal(t, int64(n), final.Version)
	assert.Zero(t, store.conflicts)
	assert.Zero(t, svc.locks.size())
}

func TestSubmitAttempt_RetriesAreBounded(t *testing.T) {
	store := newMemStore()
	store.failSaves = 10
	svc := newTestService(store, ProgressOptions{MaxSaveRetries: 3})

	_, err := svc.SubmitAttempt(context.Background(), SubmitAttempt{UserID: "u", DeckID: "deck-1", Correct: true})
	assert.ErrorIs(t, err, progress.ErrConcurrencyConflict)
	assert.Equal(t, 3, store.saves)
	assert.Nil(t, store.stored("u", "deck-1"))
}

func TestSubmitAttempt_RecoversFromTransientConflict(t *testing.T) {
	store := newMemStore()
	store.failSaves = 2
	svc := newTestService(store, ProgressOptions{})

	out, err := svc.SubmitAttempt(context.Background(), SubmitAttempt{UserID: "u", DeckID: "deck-1", Correct: true})
	require.NoError(t, err)
	assert.Equal(t, int64(1), out.Version)
	assert.Equal(t, 3, store.saves)
}

func TestSubmitAttempt_PublishFailureIsNotFatal(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("redis down")}
	svc := newTestService(newMemStore(), ProgressOptions{Publisher: pub})

	_, err := svc.SubmitAttempt(context.Background(), SubmitAttempt{UserID: "u", DeckID: "deck-1", Correct: true})
	assert.NoError(t, err)
	assert.Len(t, pub.events, 1)
}

func TestSubmitAttempt_CancelledContext(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, ProgressOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.SubmitAttempt(ctx, SubmitAttempt{UserID: "u", DeckID: "deck-1", Correct: true})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, store.saves)
}

func TestCompleteSession_StudyStreak(t *testing.T) {
	store := newMemStore()
	clock := &stepClock{t: testNow}
	pub := &recordingPublisher{}
	svc := newTestService(store, ProgressOptions{Clock: clock, Publisher: pub})
	ctx := context.Background()

	steps := []struct {
		advance time.Duration
		minutes int
		current int
		longest int
	}{
		{0, 10, 1, 1},
		{2 * time.Hour, 5, 1, 1},
		{24 * time.Hour, 15, 2, 2},
		{24 * time.Hour, 0, 3, 3},
		{72 * time.Hour, -4, 1, 3},
	}

	total := 0
	for i, step := range steps {
		clock.Advance(step.advance)
		agg, err := svc.CompleteSession(ctx, "user-1", "deck-1", step.minutes)
		require.NoError(t, err, "step %d", i)
		if step.minutes > 0 {
			total += step.minutes
		}
		assert.Equal(t, step.current, agg.Streak.Current, "step %d current", i)
		assert.Equal(t, step.longest, agg.Streak.Longest, "step %d longest", i)
		assert.Equal(t, i+1, agg.Stats.SessionsCompleted)
		assert.Equal(t, total, agg.Stats.TotalStudyTimeMinutes)
	}
	assert.Len(t, pub.events, len(steps))
	assert.Equal(t, events.TypeSessionCompleted, pub.events[0].Type)

	// Later attempts keep session totals
	out, err := svc.SubmitAttempt(ctx, SubmitAttempt{UserID: "user-1", DeckID: "deck-1", Correct: true})
	require.NoError(t, err)
	assert.Equal(t, len(steps), out.Stats.SessionsCompleted)
	assert.Equal(t, total, out.Stats.TotalStudyTimeMinutes)
}

func TestCompleteSession_UnknownDeck(t *testing.T) {
	svc := newTestService(newMemStore(), ProgressOptions{})
	_, err := svc.CompleteSession(context.Background(), "u", "nope", 5)
	assert.ErrorIs(t, err, progress.ErrDeckNotFound)
}

func TestReadQueries(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, ProgressOptions{})
	ctx := context.Background()

	empty, err := svc.GetDeckProgress(ctx, "user-1", "deck-1")
	require.NoError(t, err)
	assert.Zero(t, empty.Version)
	assert.Empty(t, empty.Items)

	due, err := svc.GetItemsNeedingReview(ctx, "user-1", "deck-1", testNow)
	require.NoError(t, err)
	assert.Empty(t, due)
	assert.NotNil(t, due)

	// Item 0 mastered by five correct attempts, item 1 practiced once incorrectly
	for i := 0; i < 5; i++ {
		_, err := svc.SubmitAttempt(ctx, SubmitAttempt{UserID: "user-1", DeckID: "deck-1", ItemIndex: 0, Correct: true})
		require.NoError(t, err)
	}
	_, err = svc.SubmitAttempt(ctx, SubmitAttempt{UserID: "user-1", DeckID: "deck-1", ItemIndex: 1, Correct: false})
	require.NoError(t, err)

	agg, err := svc.GetDeckProgress(ctx, "user-1", "deck-1")
	require.NoError(t, err)
	assert.Equal(t, int64(6), agg.Version)
	assert.Equal(t, 1, agg.Stats.ItemsMastered)
	assert.Equal(t, 1, agg.Stats.ItemsLearning)

	pct, err := svc.GetCompletionPercentage(ctx, "user-1", "deck-1", 15)
	require.NoError(t, err)
	assert.InDelta(t, 100.0/15.0, pct, 1e-9)

	pct, err = svc.GetCompletionPercentage(ctx, "user-1", "deck-1", 0)
	require.NoError(t, err)
	assert.Zero(t, pct)

	loadsBefore := store.loads
	completion, err := svc.GetCompletion(ctx, "user-1", "deck-1", 15)
	require.NoError(t, err)
	assert.Equal(t, 1, store.loads-loadsBefore)
	assert.Equal(t, int64(6), completion.Version)
	assert.Equal(t, 1, completion.ItemsMastered)
	assert.InDelta(t, 100.0/15.0, completion.CompletionPercentage, 1e-9)

	// Item 1 (LEARNING, 4h) is due before item 0 (MASTERED, 432h)
	due, err = svc.GetItemsNeedingReview(ctx, "user-1", "deck-1", testNow.Add(5*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []models.ItemKey{{SectionIndex: 0, ItemIndex: 1}}, due)

	due, err = svc.GetItemsNeedingReview(ctx, "user-1", "deck-1", testNow.Add(500*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []models.ItemKey{{SectionIndex: 0, ItemIndex: 1}, {SectionIndex: 0, ItemIndex: 0}}, due)

	section, err := svc.GetSectionProgress(ctx, "user-1", "deck-1", 0)
	require.NoError(t, err)
	assert.Equal(t, 10, section.TotalItems)
	assert.Equal(t, 2, section.PracticedItems)
	assert.Equal(t, 1, section.MasteredItems)
	assert.InDelta(t, 0.5, section.AverageAccuracy, 1e-9)
	assert.InDelta(t, 10.0, section.CompletionPercentage(), 1e-9)

	untouched, err := svc.GetSectionProgress(ctx, "user-1", "deck-1", 1)
	require.NoError(t, err)
	assert.Equal(t, 5, untouched.TotalItems)
	assert.Zero(t, untouched.PracticedItems)

	_, err = svc.GetSectionProgress(ctx, "user-1", "deck-1", 4)
	assert.ErrorIs(t, err, progress.ErrInvalidItemReference)
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	km := newKeyedMutex()
	unlockA := km.Lock("a")

	done := make(chan struct{})
	go func() {
		unlock := km.Lock("b")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a different key blocked")
	}
	unlockA()
	assert.Zero(t, km.size())
}
