package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"wabisabi/internal/database"
	"wabisabi/internal/models"
	"wabisabi/internal/progress"
)

var progressColumns = []string{
	"id", "user_id", "deck_id", "version", "study_streak", "longest_streak",
	"last_streak_date", "document", "created_at", "updated_at",
}

const selectProgress = `
	SELECT id, user_id, deck_id, version, study_streak, longest_streak,
	       last_streak_date, document, created_at, updated_at
	FROM vocabulary_progress
`

// ProgressRepository stores one progress aggregate per (user, deck).
// Writes use optimistic versioning: a save only succeeds against the version
// that was loaded, otherwise progress.ErrConcurrencyConflict is returned.
type ProgressRepository struct {
	db database.DBTX
}

// NewProgressRepository creates a new progress repository
func NewProgressRepository(db database.DBTX) *ProgressRepository {
	return &ProgressRepository{db: db}
}

type progressRow struct {
	ID             string       `db:"id"`
	UserID         string       `db:"user_id"`
	DeckID         string       `db:"deck_id"`
	Version        int64        `db:"version"`
	StudyStreak    int          `db:"study_streak"`
	LongestStreak  int          `db:"longest_streak"`
	LastStreakDate sql.NullTime `db:"last_streak_date"`
	Document       string       `db:"document"`
	CreatedAt      time.Time    `db:"created_at"`
	UpdatedAt      time.Time    `db:"updated_at"`
}

// progressDocument is the JSON column holding item and summary records
type progressDocument struct {
	Items    []models.ItemProgress                 `json:"items"`
	Sections map[int]models.SectionProgressSummary `json:"sections"`
	Stats    models.ProgressStats                  `json:"stats"`
}

// Load returns the aggregate for (userID, deckID), or nil when none exists
func (r *ProgressRepository) Load(ctx context.Context, userID, deckID string) (*models.VocabularyProgress, error) {
	var row progressRow
	err := r.db.GetContext(ctx, &row, selectProgress+" WHERE user_id = ? AND deck_id = ?", userID, deckID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load progress for user %s deck %s: %w", userID, deckID, err)
	}
	return row.toModel()
}

// Save persists p. A never-saved aggregate (Version 0) is inserted; any other
// is updated only if the stored version still equals p.Version. On success
// p.Version holds the new stored version.
func (r *ProgressRepository) Save(ctx context.Context, p *models.VocabularyProgress) error {
	doc, err := encodeDocument(p)
	if err != nil {
		return err
	}
	p.UpdatedAt = p.UpdatedAt.UTC()

	if p.Version == 0 {
		query := r.db.GetDialect().InsertIgnoreQuery("vocabulary_progress", progressColumns, []string{"user_id", "deck_id"})
		res, err := r.db.ExecContext(ctx, query,
			p.ID, p.UserID, p.DeckID, 1, p.Streak.Current, p.Streak.Longest,
			nullTime(p.Streak.LastStudyDate), doc, p.CreatedAt.UTC(), p.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert progress: %w", err)
		}
		if err := expectOneRow(res); err != nil {
			return err
		}
		p.Version = 1
		return nil
	}

	query := `
		UPDATE vocabulary_progress
		SET version = version + 1, study_streak = ?, longest_streak = ?, last_streak_date = ?,
		    document = ?, updated_at = ?
		WHERE user_id = ? AND deck_id = ? AND version = ?
	`
	res, err := r.db.ExecContext(ctx, query,
		p.Streak.Current, p.Streak.Longest, nullTime(p.Streak.LastStudyDate),
		doc, p.UpdatedAt, p.UserID, p.DeckID, p.Version)
	if err != nil {
		return fmt.Errorf("failed to update progress: %w", err)
	}
	if err := expectOneRow(res); err != nil {
		return err
	}
	p.Version++
	return nil
}

// Restore replaces whatever is stored for p's (user, deck) with p, keeping p.Version
func (r *ProgressRepository) Restore(ctx context.Context, p *models.VocabularyProgress) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM vocabulary_progress WHERE user_id = ? AND deck_id = ?", p.UserID, p.DeckID); err != nil {
		return fmt.Errorf("failed to clear progress: %w", err)
	}
	if p.Version < 1 {
		p.Version = 1
	}
	doc, err := encodeDocument(p)
	if err != nil {
		return err
	}
	query := "INSERT INTO vocabulary_progress (id, user_id, deck_id, version, study_streak, longest_streak, last_streak_date, document, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
	_, err = r.db.ExecContext(ctx, query,
		p.ID, p.UserID, p.DeckID, p.Version, p.Streak.Current, p.Streak.Longest,
		nullTime(p.Streak.LastStudyDate), doc, p.CreatedAt.UTC(), p.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to restore progress: %w", err)
	}
	return nil
}

// ListByUser returns every aggregate owned by userID
func (r *ProgressRepository) ListByUser(ctx context.Context, userID string) ([]*models.VocabularyProgress, error) {
	var rows []progressRow
	if err := r.db.SelectContext(ctx, &rows, selectProgress+" WHERE user_id = ? ORDER BY deck_id", userID); err != nil {
		return nil, fmt.Errorf("failed to list progress for user %s: %w", userID, err)
	}
	return rowsToModels(rows)
}

// ListAll returns every stored aggregate
func (r *ProgressRepository) ListAll(ctx context.Context) ([]*models.VocabularyProgress, error) {
	var rows []progressRow
	if err := r.db.SelectContext(ctx, &rows, selectProgress+" ORDER BY user_id, deck_id"); err != nil {
		return nil, fmt.Errorf("failed to list progress: %w", err)
	}
	return rowsToModels(rows)
}

func rowsToModels(rows []progressRow) ([]*models.VocabularyProgress, error) {
	out := make([]*models.VocabularyProgress, 0, len(rows))
	for _, row := range rows {
		p, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (row progressRow) toModel() (*models.VocabularyProgress, error) {
	var doc progressDocument
	if err := json.Unmarshal([]byte(row.Document), &doc); err != nil {
		return nil, fmt.Errorf("failed to decode progress %s: %w", row.ID, err)
	}

	p := &models.VocabularyProgress{
		ID:        row.ID,
		UserID:    row.UserID,
		DeckID:    row.DeckID,
		Items:     make(map[models.ItemKey]models.ItemProgress, len(doc.Items)),
		Sections:  doc.Sections,
		Stats:     doc.Stats,
		Version:   row.Version,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
		Streak: models.StudyStreak{
			Current: row.StudyStreak,
			Longest: row.LongestStreak,
		},
	}
	if p.Sections == nil {
		p.Sections = make(map[int]models.SectionProgressSummary)
	}
	for _, item := range doc.Items {
		p.Items[item.Key()] = item
	}
	if row.LastStreakDate.Valid {
		t := row.LastStreakDate.Time
		p.Streak.LastStudyDate = &t
	}
	return p, nil
}

func encodeDocument(p *models.VocabularyProgress) (string, error) {
	raw, err := json.Marshal(progressDocument{
		Items:    p.ItemList(),
		Sections: p.Sections,
		Stats:    p.Stats,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode progress %s: %w", p.ID, err)
	}
	return string(raw), nil
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return progress.ErrConcurrencyConflict
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
