package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"wabisabi/internal/database"
	"wabisabi/internal/models"
)

// LearnerRepository stores the contact details used for review reminders
type LearnerRepository struct {
	db database.DBTX
}

// NewLearnerRepository creates a new learner repository
func NewLearnerRepository(db database.DBTX) *LearnerRepository {
	return &LearnerRepository{db: db}
}

// Upsert creates the learner or updates email, name and reminder preference
func (r *LearnerRepository) Upsert(ctx context.Context, l *models.Learner) error {
	now := time.Now().UTC()
	if l.CreatedAt.IsZero() {
		l.CreatedAt = now
	}
	l.UpdatedAt = now

	insert := r.db.GetDialect().InsertIgnoreQuery("learners",
		[]string{"id", "email", "name", "reminders_enabled", "created_at", "updated_at"},
		[]string{"id"})
	res, err := r.db.ExecContext(ctx, insert, l.ID, l.Email, l.Name, l.RemindersEnabled, l.CreatedAt.UTC(), l.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert learner: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}

	_, err = r.db.ExecContext(ctx,
		"UPDATE learners SET email = ?, name = ?, reminders_enabled = ?, updated_at = ? WHERE id = ?",
		l.Email, l.Name, l.RemindersEnabled, l.UpdatedAt, l.ID)
	if err != nil {
		return fmt.Errorf("failed to update learner: %w", err)
	}
	return nil
}

// Get returns the learner with the given id, or nil when none exists
func (r *LearnerRepository) Get(ctx context.Context, id string) (*models.Learner, error) {
	var l models.Learner
	err := r.db.GetContext(ctx, &l, "SELECT id, email, name, reminders_enabled, created_at, updated_at FROM learners WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get learner: %w", err)
	}
	return &l, nil
}

// ListReminderRecipients returns learners who opted into reminders
func (r *LearnerRepository) ListReminderRecipients(ctx context.Context) ([]models.Learner, error) {
	var learners []models.Learner
	err := r.db.SelectContext(ctx, &learners, `
		SELECT id, email, name, reminders_enabled, created_at, updated_at
		FROM learners
		WHERE reminders_enabled = ? AND email <> ''
		ORDER BY id
	`, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list reminder recipients: %w", err)
	}
	return learners, nil
}
