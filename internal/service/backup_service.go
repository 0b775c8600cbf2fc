package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"wabisabi/internal/database"
	"wabisabi/internal/logger"
	"wabisabi/internal/models"
	"wabisabi/internal/repository"
)

const backupFormatVersion = "2.0"

// BackupData represents the complete database backup structure
type BackupData struct {
	Version      string           `json:"version"`
	ExportedAt   time.Time        `json:"exported_at"`
	DatabaseType string           `json:"database_type"`
	Decks        []*models.Deck   `json:"decks"`
	Learners     []LearnerBackup  `json:"learners"`
	Progress     []ProgressBackup `json:"progress"`
}

// LearnerBackup represents a learner record for backup
type LearnerBackup struct {
	ID               string    `json:"id"`
	Email            string    `json:"email"`
	Name             string    `json:"name"`
	RemindersEnabled bool      `json:"reminders_enabled"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// ProgressBackup is a progress aggregate with its items flattened to a list
type ProgressBackup struct {
	ID        string                                `json:"id"`
	UserID    string                                `json:"user_id"`
	DeckID    string                                `json:"deck_id"`
	Version   int64                                 `json:"version"`
	Items     []models.ItemProgress                 `json:"items"`
	Sections  map[int]models.SectionProgressSummary `json:"sections"`
	Stats     models.ProgressStats                  `json:"stats"`
	Streak    models.StudyStreak                    `json:"streak"`
	CreatedAt time.Time                             `json:"created_at"`
	UpdatedAt time.Time                             `json:"updated_at"`
}

// BackupSummary counts the records moved by an export or import
type BackupSummary struct {
	Decks    int
	Learners int
	Progress int
}

// BackupService handles database backup and restore operations
type BackupService struct {
	db  *database.DB
	log *logger.Logger
}

// NewBackupService creates a new backup service
func NewBackupService(db *database.DB, log *logger.Logger) *BackupService {
	if log == nil {
		log = logger.Nop()
	}
	return &BackupService{db: db, log: log.With("service", "BackupService")}
}

// Export writes every deck, learner and progress aggregate to w as JSON
func (s *BackupService) Export(ctx context.Context, w io.Writer) (BackupSummary, error) {
	backup := &BackupData{
		Version:      backupFormatVersion,
		ExportedAt:   time.Now().UTC(),
		DatabaseType: s.db.Dialect.DriverName(),
	}

	decks := repository.NewDeckRepository(s.db)
	headers, err := decks.ListDecks(ctx)
	if err != nil {
		return BackupSummary{}, fmt.Errorf("failed to export decks: %w", err)
	}
	for _, h := range headers {
		deck, err := decks.GetDeck(ctx, h.ID)
		if err != nil {
			return BackupSummary{}, fmt.Errorf("failed to export deck %s: %w", h.ID, err)
		}
		backup.Decks = append(backup.Decks, deck)
	}

	var learners []models.Learner
	if err := s.db.SelectContext(ctx, &learners, "SELECT id, email, name, reminders_enabled, created_at, updated_at FROM learners ORDER BY id"); err != nil {
		return BackupSummary{}, fmt.Errorf("failed to export learners: %w", err)
	}
	for _, l := range learners {
		backup.Learners = append(backup.Learners, LearnerBackup(l))
	}

	aggregates, err := repository.NewProgressRepository(s.db).ListAll(ctx)
	if err != nil {
		return BackupSummary{}, fmt.Errorf("failed to export progress: %w", err)
	}
	for _, p := range aggregates {
		backup.Progress = append(backup.Progress, progressToBackup(p))
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(backup); err != nil {
		return BackupSummary{}, fmt.Errorf("failed to encode backup: %w", err)
	}

	summary := BackupSummary{Decks: len(backup.Decks), Learners: len(backup.Learners), Progress: len(backup.Progress)}
	s.log.Info("database exported", "decks", summary.Decks, "learners", summary.Learners, "progress", summary.Progress)
	return summary, nil
}

// ExportToFile creates a complete backup of the database in outputPath
func (s *BackupService) ExportToFile(ctx context.Context, outputPath string) (BackupSummary, error) {
	file, err := os.Create(outputPath)
	if err != nil {
		return BackupSummary{}, fmt.Errorf("failed to create output file: %w", err)
	}
	defer file.Close()
	return s.Export(ctx, file)
}

// Import restores a backup read from r. Decks are replaced one by one; learners
// and progress aggregates are restored in a single transaction.
func (s *BackupService) Import(ctx context.Context, r io.Reader) (BackupSummary, error) {
	var backup BackupData
	if err := json.NewDecoder(r).Decode(&backup); err != nil {
		return BackupSummary{}, fmt.Errorf("failed to decode backup: %w", err)
	}
	s.log.Info("importing backup", "version", backup.Version, "exported_at", backup.ExportedAt)

	decks := repository.NewDeckRepository(s.db)
	for _, d := range backup.Decks {
		if d == nil || d.ID == "" {
			return BackupSummary{}, fmt.Errorf("backup contains a deck without an id")
		}
		if err := decks.UpsertDeck(ctx, d); err != nil {
			return BackupSummary{}, fmt.Errorf("failed to import deck %s: %w", d.ID, err)
		}
	}

	err := s.db.WithTx(ctx, func(tx *database.Tx) error {
		learners := repository.NewLearnerRepository(tx)
		for _, l := range backup.Learners {
			learner := models.Learner(l)
			if err := learners.Upsert(ctx, &learner); err != nil {
				return fmt.Errorf("failed to import learner %s: %w", l.ID, err)
			}
		}

		progressRepo := repository.NewProgressRepository(tx)
		for _, p := range backup.Progress {
			if err := progressRepo.Restore(ctx, backupToProgress(p)); err != nil {
				return fmt.Errorf("failed to import progress %s: %w", p.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return BackupSummary{}, err
	}

	summary := BackupSummary{Decks: len(backup.Decks), Learners: len(backup.Learners), Progress: len(backup.Progress)}
	s.log.Info("database import completed", "decks", summary.Decks, "learners", summary.Learners, "progress", summary.Progress)
	return summary, nil
}

// ImportFromFile restores a backup stored at inputPath
func (s *BackupService) ImportFromFile(ctx context.Context, inputPath string) (BackupSummary, error) {
	file, err := os.Open(inputPath)
	if err != nil {
		return BackupSummary{}, fmt.Errorf("failed to open input file: %w", err)
	}
	defer file.Close()
	return s.Import(ctx, file)
}

// Clear deletes every row the backup covers, children before parents
func (s *BackupService) Clear(ctx context.Context) error {
	tables := []string{"vocabulary_progress", "learners", "deck_items", "deck_sections", "decks"}
	return s.db.WithTx(ctx, func(tx *database.Tx) error {
		for _, table := range tables {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("failed to clear table %s: %w", table, err)
			}
			s.log.Info("cleared table", "table", table)
		}
		return nil
	})
}

func progressToBackup(p *models.VocabularyProgress) ProgressBackup {
	return ProgressBackup{
		ID:        p.ID,
		UserID:    p.UserID,
		DeckID:    p.DeckID,
		Version:   p.Version,
		Items:     p.ItemList(),
		Sections:  p.Sections,
		Stats:     p.Stats,
		Streak:    p.Streak,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

func backupToProgress(b ProgressBackup) *models.VocabularyProgress {
	p := &models.VocabularyProgress{
		ID:        b.ID,
		UserID:    b.UserID,
		DeckID:    b.DeckID,
		Version:   b.Version,
		Items:     make(map[models.ItemKey]models.ItemProgress, len(b.Items)),
		Sections:  b.Sections,
		Stats:     b.Stats,
		Streak:    b.Streak,
		CreatedAt: b.CreatedAt,
		UpdatedAt: b.UpdatedAt,
	}
	if p.Sections == nil {
		p.Sections = make(map[int]models.SectionProgressSummary)
	}
	for _, item := range b.Items {
		p.Items[item.Key()] = item
	}
	return p
}
