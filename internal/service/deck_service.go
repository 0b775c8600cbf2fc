package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"wabisabi/internal/logger"
	"wabisabi/internal/models"
)

// ErrInvalidDeck is returned when imported deck content is malformed
var ErrInvalidDeck = errors.New("invalid deck")

// DeckStore persists deck content
type DeckStore interface {
	GetDeck(ctx context.Context, deckID string) (*models.Deck, error)
	ListDecks(ctx context.Context) ([]*models.Deck, error)
	UpsertDeck(ctx context.Context, deck *models.Deck) error
}

// DeckService handles deck content
type DeckService struct {
	store DeckStore
	log   *logger.Logger
}

// NewDeckService creates a new deck service
func NewDeckService(store DeckStore, log *logger.Logger) *DeckService {
	if log == nil {
		log = logger.Nop()
	}
	return &DeckService{store: store, log: log.With("service", "DeckService")}
}

// GetDeck returns a deck with its items
func (s *DeckService) GetDeck(ctx context.Context, deckID string) (*models.Deck, error) {
	return s.store.GetDeck(ctx, deckID)
}

// ListDecks returns deck headers
func (s *DeckService) ListDecks(ctx context.Context) ([]*models.Deck, error) {
	return s.store.ListDecks(ctx)
}

// Import normalizes and stores a deck, replacing any previous content.
// Items are numbered by position and a section's total covers all its items.
func (s *DeckService) Import(ctx context.Context, deck *models.Deck) error {
	if err := NormalizeDeck(deck); err != nil {
		return err
	}
	if err := s.store.UpsertDeck(ctx, deck); err != nil {
		return err
	}
	s.log.Info("deck imported", "deck", deck.ID, "sections", len(deck.Sections), "items", deck.TotalItems())
	return nil
}

// NormalizeDeck validates deck content and fills in derived indexes
func NormalizeDeck(deck *models.Deck) error {
	if deck == nil {
		return fmt.Errorf("%w: empty deck", ErrInvalidDeck)
	}
	deck.ID = strings.TrimSpace(deck.ID)
	if deck.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidDeck)
	}
	if strings.TrimSpace(deck.Title) == "" {
		deck.Title = deck.ID
	}
	if len(deck.Sections) == 0 {
		return fmt.Errorf("%w: deck %s has no sections", ErrInvalidDeck, deck.ID)
	}

	seen := make(map[int]bool, len(deck.Sections))
	for i := range deck.Sections {
		section := &deck.Sections[i]
		if section.Index < 0 {
			return fmt.Errorf("%w: negative section index %d", ErrInvalidDeck, section.Index)
		}
		if seen[section.Index] {
			return fmt.Errorf("%w: duplicate section index %d", ErrInvalidDeck, section.Index)
		}
		seen[section.Index] = true

		for j := range section.Items {
			item := &section.Items[j]
			item.SectionIndex = section.Index
			item.ItemIndex = j
			if strings.TrimSpace(item.Term) == "" {
				return fmt.Errorf("%w: section %d item %d has no term", ErrInvalidDeck, section.Index, j)
			}
		}
		if section.TotalItems < len(section.Items) {
			section.TotalItems = len(section.Items)
		}
		if section.TotalItems == 0 {
			return fmt.Errorf("%w: section %d is empty", ErrInvalidDeck, section.Index)
		}
	}
	return nil
}
