package models

import "time"

// Deck is read-only vocabulary content grouped into sections
type Deck struct {
	ID        string        `json:"id" yaml:"id"`
	Title     string        `json:"title" yaml:"title"`
	Language  string        `json:"language" yaml:"language"`
	Sections  []DeckSection `json:"sections" yaml:"sections"`
	CreatedAt time.Time     `json:"createdAt" yaml:"-"`
	UpdatedAt time.Time     `json:"updatedAt" yaml:"-"`
}

// DeckSection is one numbered section of a deck
type DeckSection struct {
	Index      int        `json:"index" yaml:"index"`
	Title      string     `json:"title" yaml:"title"`
	TotalItems int        `json:"totalItems" yaml:"totalItems"`
	Items      []DeckItem `json:"items,omitempty" yaml:"items"`
}

// DeckItem is a single vocabulary entry
type DeckItem struct {
	SectionIndex int    `json:"sectionIndex" yaml:"-"`
	ItemIndex    int    `json:"itemIndex" yaml:"-"`
	Term         string `json:"term" yaml:"term"`
	Meaning      string `json:"meaning" yaml:"meaning"`
}

// Section returns the section with the given index
func (d *Deck) Section(index int) (DeckSection, bool) {
	for _, s := range d.Sections {
		if s.Index == index {
			return s, true
		}
	}
	return DeckSection{}, false
}

// Contains reports whether key addresses an item of this deck
func (d *Deck) Contains(key ItemKey) bool {
	s, ok := d.Section(key.SectionIndex)
	if !ok {
		return false
	}
	return key.ItemIndex >= 0 && key.ItemIndex < s.TotalItems
}

// TotalItems returns the number of items across all sections
func (d *Deck) TotalItems() int {
	total := 0
	for _, s := range d.Sections {
		total += s.TotalItems
	}
	return total
}

// Learner is a user who opted into review reminders
type Learner struct {
	ID               string    `db:"id"`
	Email            string    `db:"email"`
	Name             string    `db:"name"`
	RemindersEnabled bool      `db:"reminders_enabled"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}
