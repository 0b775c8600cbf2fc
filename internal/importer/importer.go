// Package importer reads deck content from YAML documents and Excel workbooks
package importer

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
	"gopkg.in/yaml.v3"

	"wabisabi/internal/models"
)

// ErrUnsupportedFormat is returned for files that are neither YAML nor XLSX
var ErrUnsupportedFormat = errors.New("unsupported deck file format")

// Options override deck metadata. Workbooks carry no metadata of their own,
// so DeckID is required for them.
type Options struct {
	DeckID   string
	Title    string
	Language string
}

// LoadFile parses a deck file, choosing the format by extension
func LoadFile(path string, opts Options) (*models.Deck, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open deck file: %w", err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		deck, err := ParseYAML(f)
		if err != nil {
			return nil, err
		}
		applyOptions(deck, opts)
		return deck, nil
	case ".xlsx":
		if opts.DeckID == "" {
			opts.DeckID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		}
		return ParseXLSX(f, opts)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// ParseYAML decodes one deck document. Unknown keys are rejected so typos
// in hand-written content surface early.
func ParseYAML(r io.Reader) (*models.Deck, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var deck models.Deck
	if err := dec.Decode(&deck); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("parse deck yaml: empty document")
		}
		return nil, fmt.Errorf("parse deck yaml: %w", err)
	}
	return &deck, nil
}

// ParseXLSX reads a workbook where every sheet is one section, in sheet
// order. Column A holds the term and column B the meaning; a first row whose
// A cell reads "term" is treated as a header. Blank rows are skipped.
func ParseXLSX(r io.Reader, opts Options) (*models.Deck, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	deck := &models.Deck{}
	applyOptions(deck, opts)

	for idx, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
		}

		section := models.DeckSection{Index: idx, Title: sheet}
		for i, row := range rows {
			term := cell(row, 0)
			if i == 0 && strings.EqualFold(term, "term") {
				continue
			}
			if term == "" {
				continue
			}
			section.Items = append(section.Items, models.DeckItem{
				SectionIndex: idx,
				ItemIndex:    len(section.Items),
				Term:         term,
				Meaning:      cell(row, 1),
			})
		}
		section.TotalItems = len(section.Items)
		deck.Sections = append(deck.Sections, section)
	}
	return deck, nil
}

func cell(row []string, col int) string {
	if col >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[col])
}

func applyOptions(deck *models.Deck, opts Options) {
	if opts.DeckID != "" {
		deck.ID = opts.DeckID
	}
	if opts.Title != "" {
		deck.Title = opts.Title
	}
	if opts.Language != "" {
		deck.Language = opts.Language
	}
}
