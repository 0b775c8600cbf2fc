package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"wabisabi/internal/database"
	"wabisabi/internal/models"
	"wabisabi/internal/progress"
)

// DeckRepository handles database operations for deck content
type DeckRepository struct {
	db *database.DB
}

// NewDeckRepository creates a new deck repository
func NewDeckRepository(db *database.DB) *DeckRepository {
	return &DeckRepository{db: db}
}

type deckRow struct {
	ID        string    `db:"id"`
	Title     string    `db:"title"`
	Language  string    `db:"language"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

type sectionRow struct {
	DeckID       string `db:"deck_id"`
	SectionIndex int    `db:"section_index"`
	Title        string `db:"title"`
	TotalItems   int    `db:"total_items"`
}

type itemRow struct {
	SectionIndex int    `db:"section_index"`
	ItemIndex    int    `db:"item_index"`
	Term         string `db:"term"`
	Meaning      string `db:"meaning"`
}

// GetDeck returns a deck with its sections and items, or progress.ErrDeckNotFound
func (r *DeckRepository) GetDeck(ctx context.Context, deckID string) (*models.Deck, error) {
	var row deckRow
	err := r.db.GetContext(ctx, &row, "SELECT id, title, language, created_at, updated_at FROM decks WHERE id = ?", deckID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("deck %s: %w", deckID, progress.ErrDeckNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get deck: %w", err)
	}

	var sections []sectionRow
	err = r.db.SelectContext(ctx, &sections, `
		SELECT deck_id, section_index, title, total_items
		FROM deck_sections
		WHERE deck_id = ?
		ORDER BY section_index
	`, deckID)
	if err != nil {
		return nil, fmt.Errorf("failed to get deck sections: %w", err)
	}

	var items []itemRow
	err = r.db.SelectContext(ctx, &items, `
		SELECT section_index, item_index, term, meaning
		FROM deck_items
		WHERE deck_id = ?
		ORDER BY section_index, item_index
	`, deckID)
	if err != nil {
		return nil, fmt.Errorf("failed to get deck items: %w", err)
	}

	deck := row.toModel()
	bySection := make(map[int][]models.DeckItem)
	for _, it := range items {
		bySection[it.SectionIndex] = append(bySection[it.SectionIndex], models.DeckItem{
			SectionIndex: it.SectionIndex,
			ItemIndex:    it.ItemIndex,
			Term:         it.Term,
			Meaning:      it.Meaning,
		})
	}
	for _, s := range sections {
		deck.Sections = append(deck.Sections, models.DeckSection{
			Index:      s.SectionIndex,
			Title:      s.Title,
			TotalItems: s.TotalItems,
			Items:      bySection[s.SectionIndex],
		})
	}
	return deck, nil
}

// ListDecks returns every deck with section headers but without items
func (r *DeckRepository) ListDecks(ctx context.Context) ([]*models.Deck, error) {
	var rows []deckRow
	if err := r.db.SelectContext(ctx, &rows, "SELECT id, title, language, created_at, updated_at FROM decks ORDER BY title, id"); err != nil {
		return nil, fmt.Errorf("failed to list decks: %w", err)
	}

	var sections []sectionRow
	err := r.db.SelectContext(ctx, &sections, "SELECT deck_id, section_index, title, total_items FROM deck_sections ORDER BY deck_id, section_index")
	if err != nil {
		return nil, fmt.Errorf("failed to list deck sections: %w", err)
	}
	byDeck := make(map[string][]models.DeckSection)
	for _, s := range sections {
		byDeck[s.DeckID] = append(byDeck[s.DeckID], models.DeckSection{
			Index:      s.SectionIndex,
			Title:      s.Title,
			TotalItems: s.TotalItems,
		})
	}

	decks := make([]*models.Deck, 0, len(rows))
	for _, row := range rows {
		d := row.toModel()
		d.Sections = byDeck[d.ID]
		decks = append(decks, d)
	}
	return decks, nil
}

// UpsertDeck replaces a deck and all of its content in one transaction
func (r *DeckRepository) UpsertDeck(ctx context.Context, deck *models.Deck) error {
	now := time.Now().UTC()
	if deck.CreatedAt.IsZero() {
		deck.CreatedAt = now
	}
	deck.UpdatedAt = now

	return r.db.WithTx(ctx, func(tx *database.Tx) error {
		// Children first; not every dialect is configured to cascade
		for _, table := range []string{"deck_items", "deck_sections", "decks"} {
			col := "deck_id"
			if table == "decks" {
				col = "id"
			}
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE "+col+" = ?", deck.ID); err != nil {
				return fmt.Errorf("failed to clear %s: %w", table, err)
			}
		}

		_, err := tx.ExecContext(ctx,
			"INSERT INTO decks (id, title, language, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
			deck.ID, deck.Title, deck.Language, deck.CreatedAt.UTC(), deck.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert deck: %w", err)
		}

		for _, s := range deck.Sections {
			_, err := tx.ExecContext(ctx,
				"INSERT INTO deck_sections (deck_id, section_index, title, total_items) VALUES (?, ?, ?, ?)",
				deck.ID, s.Index, s.Title, s.TotalItems)
			if err != nil {
				return fmt.Errorf("failed to insert section %d: %w", s.Index, err)
			}
			for _, it := range s.Items {
				_, err := tx.ExecContext(ctx,
					"INSERT INTO deck_items (deck_id, section_index, item_index, term, meaning) VALUES (?, ?, ?, ?, ?)",
					deck.ID, s.Index, it.ItemIndex, it.Term, it.Meaning)
				if err != nil {
					return fmt.Errorf("failed to insert item %d/%d: %w", s.Index, it.ItemIndex, err)
				}
			}
		}
		return nil
	})
}

func (row deckRow) toModel() *models.Deck {
	return &models.Deck{
		ID:        row.ID,
		Title:     row.Title,
		Language:  row.Language,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
}
