package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"wabisabi/internal/logger"
	"wabisabi/internal/models"
	"wabisabi/internal/progress"
	"wabisabi/internal/service"
	"wabisabi/internal/validation"
)

// ProgressHandler serves the practice progress API
type ProgressHandler struct {
	progress *service.ProgressService
	decks    *service.DeckService
	clock    progress.Clock
	log      *logger.Logger
}

// NewProgressHandler creates a new progress handler
func NewProgressHandler(progressService *service.ProgressService, deckService *service.DeckService, clock progress.Clock, log *logger.Logger) *ProgressHandler {
	if clock == nil {
		clock = progress.SystemClock{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &ProgressHandler{
		progress: progressService,
		decks:    deckService,
		clock:    clock,
		log:      log.With("handler", "ProgressHandler"),
	}
}

// RegisterRoutes mounts the progress API on mux behind RequireAuth
func (h *ProgressHandler) RegisterRoutes(mux *http.ServeMux, mw *Middleware) {
	mux.HandleFunc("GET /api/decks", mw.RequireAuth(h.ListDecks))
	mux.HandleFunc("POST /api/decks/{deckId}/attempts", mw.RequireAuth(h.SubmitAttempt))
	mux.HandleFunc("POST /api/decks/{deckId}/sessions", mw.RequireAuth(h.CompleteSession))
	mux.HandleFunc("GET /api/decks/{deckId}/progress", mw.RequireAuth(h.GetDeckProgress))
	mux.HandleFunc("GET /api/decks/{deckId}/reviews", mw.RequireAuth(h.GetItemsNeedingReview))
	mux.HandleFunc("GET /api/decks/{deckId}/completion", mw.RequireAuth(h.GetCompletion))
	mux.HandleFunc("GET /api/decks/{deckId}/sections/{sectionIndex}", mw.RequireAuth(h.GetSectionProgress))
}

type submitAttemptRequest struct {
	SectionIndex *int       `json:"sectionIndex" validate:"required"`
	ItemIndex    *int       `json:"itemIndex" validate:"required"`
	Correct      *bool      `json:"correct" validate:"required_without=Score"`
	Score        *float64   `json:"score" validate:"omitempty,min=0,max=100"`
	OccurredAt   *time.Time `json:"occurredAt"`
}

type completeSessionRequest struct {
	DurationMinutes int `json:"durationMinutes" validate:"min=0,max=1440"`
}

type itemView struct {
	models.ItemProgress
	Accuracy   float64 `json:"accuracy"`
	IsMastered bool    `json:"isMastered"`
}

type sectionView struct {
	models.SectionProgressSummary
	CompletionPercentage float64 `json:"completionPercentage"`
}

type progressView struct {
	ID        string               `json:"id"`
	UserID    string               `json:"userId"`
	DeckID    string               `json:"deckId"`
	Items     []itemView           `json:"items"`
	Sections  []sectionView        `json:"sections"`
	Stats     models.ProgressStats `json:"stats"`
	Streak    models.StudyStreak   `json:"streak"`
	Version   int64                `json:"version"`
	CreatedAt time.Time            `json:"createdAt"`
	UpdatedAt time.Time            `json:"updatedAt"`
}

type attemptResponse struct {
	Item    itemView             `json:"item"`
	Section sectionView          `json:"section"`
	Stats   models.ProgressStats `json:"stats"`
	Version int64                `json:"version"`
}

type reviewResponse struct {
	Items []models.ItemKey `json:"items"`
	Count int              `json:"count"`
	AsOf  time.Time        `json:"asOf"`
}

type completionResponse struct {
	DeckID               string  `json:"deckId"`
	TotalItems           int     `json:"totalItems"`
	ItemsMastered        int     `json:"itemsMastered"`
	CompletionPercentage float64 `json:"completionPercentage"`
}

// SubmitAttempt records one practice attempt
func (h *ProgressHandler) SubmitAttempt(w http.ResponseWriter, r *http.Request) {
	var req submitAttemptRequest
	if !decodeAndValidate(w, r, h.log, &req) {
		return
	}

	in := service.SubmitAttempt{
		UserID:       GetUserIDFromContext(r.Context()),
		DeckID:       r.PathValue("deckId"),
		SectionIndex: *req.SectionIndex,
		ItemIndex:    *req.ItemIndex,
		Score:        req.Score,
	}
	if req.Correct != nil {
		in.Correct = *req.Correct
	}
	if req.OccurredAt != nil {
		in.OccurredAt = req.OccurredAt.UTC()
	}

	out, err := h.progress.SubmitAttempt(r.Context(), in)
	if err != nil {
		respondWithServiceError(w, r, h.log, err)
		return
	}

	respondJSON(w, http.StatusOK, attemptResponse{
		Item:    newItemView(out.Item),
		Section: newSectionView(out.Section),
		Stats:   out.Stats,
		Version: out.Version,
	})
}

// CompleteSession closes a practice session and advances the study streak
func (h *ProgressHandler) CompleteSession(w http.ResponseWriter, r *http.Request) {
	var req completeSessionRequest
	if !decodeAndValidate(w, r, h.log, &req) {
		return
	}

	agg, err := h.progress.CompleteSession(r.Context(), GetUserIDFromContext(r.Context()), r.PathValue("deckId"), req.DurationMinutes)
	if err != nil {
		respondWithServiceError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, newProgressView(agg))
}

// GetDeckProgress returns the caller's full progress on a deck
func (h *ProgressHandler) GetDeckProgress(w http.ResponseWriter, r *http.Request) {
	agg, err := h.progress.GetDeckProgress(r.Context(), GetUserIDFromContext(r.Context()), r.PathValue("deckId"))
	if err != nil {
		respondWithServiceError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, newProgressView(agg))
}

// GetItemsNeedingReview lists due items; ?at=RFC3339 evaluates at another instant
func (h *ProgressHandler) GetItemsNeedingReview(w http.ResponseWriter, r *http.Request) {
	now := h.clock.Now()
	if raw := r.URL.Query().Get("at"); raw != "" {
		at, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondWithError(w, r, h.log, http.StatusBadRequest, CodeBadRequest, "at must be an RFC3339 timestamp", err)
			return
		}
		now = at.UTC()
	}

	keys, err := h.progress.GetItemsNeedingReview(r.Context(), GetUserIDFromContext(r.Context()), r.PathValue("deckId"), now)
	if err != nil {
		respondWithServiceError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, reviewResponse{Items: keys, Count: len(keys), AsOf: now})
}

// GetCompletion returns the mastered share of the deck; ?totalItems overrides the deck size
func (h *ProgressHandler) GetCompletion(w http.ResponseWriter, r *http.Request) {
	deckID := r.PathValue("deckId")

	var totalItems int
	if raw := r.URL.Query().Get("totalItems"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondWithError(w, r, h.log, http.StatusBadRequest, CodeBadRequest, "totalItems must be a non-negative integer", err)
			return
		}
		totalItems = n
	} else {
		deck, err := h.decks.GetDeck(r.Context(), deckID)
		if err != nil {
			respondWithServiceError(w, r, h.log, err)
			return
		}
		totalItems = deck.TotalItems()
	}

	completion, err := h.progress.GetCompletion(r.Context(), GetUserIDFromContext(r.Context()), deckID, totalItems)
	if err != nil {
		respondWithServiceError(w, r, h.log, err)
		return
	}

	respondJSON(w, http.StatusOK, completionResponse{
		DeckID:               deckID,
		TotalItems:           totalItems,
		ItemsMastered:        completion.ItemsMastered,
		CompletionPercentage: completion.CompletionPercentage,
	})
}

// GetSectionProgress returns the summary of one section
func (h *ProgressHandler) GetSectionProgress(w http.ResponseWriter, r *http.Request) {
	sectionIndex, err := strconv.Atoi(r.PathValue("sectionIndex"))
	if err != nil {
		respondWithError(w, r, h.log, http.StatusBadRequest, CodeBadRequest, "sectionIndex must be an integer", err)
		return
	}

	summary, err := h.progress.GetSectionProgress(r.Context(), GetUserIDFromContext(r.Context()), r.PathValue("deckId"), sectionIndex)
	if err != nil {
		respondWithServiceError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, newSectionView(summary))
}

// ListDecks returns deck headers
func (h *ProgressHandler) ListDecks(w http.ResponseWriter, r *http.Request) {
	decks, err := h.decks.ListDecks(r.Context())
	if err != nil {
		respondWithServiceError(w, r, h.log, err)
		return
	}
	if decks == nil {
		decks = []*models.Deck{}
	}
	respondJSON(w, http.StatusOK, decks)
}

// decodeAndValidate reads a JSON body into dst and validates it, writing the
// error response itself when it returns false
func decodeAndValidate(w http.ResponseWriter, r *http.Request, log *logger.Logger, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		msg := "Invalid JSON body"
		if errors.Is(err, io.EOF) {
			msg = "Request body is required"
		}
		respondWithError(w, r, log, http.StatusBadRequest, CodeBadRequest, msg, err)
		return false
	}

	if err := validation.Struct(dst); err != nil {
		var verr validation.ValidationError
		if errors.As(err, &verr) {
			writeError(w, r, log, http.StatusBadRequest, errorResponse{Error: verr.Message, Code: CodeValidation, Field: verr.Field}, err)
			return false
		}
		respondWithError(w, r, log, http.StatusInternalServerError, CodeInternal, ErrInternalServerMsg, fmt.Errorf("validate request: %w", err))
		return false
	}
	return true
}

func newItemView(item models.ItemProgress) itemView {
	return itemView{ItemProgress: item, Accuracy: item.Accuracy(), IsMastered: item.IsMastered()}
}

func newSectionView(s models.SectionProgressSummary) sectionView {
	return sectionView{SectionProgressSummary: s, CompletionPercentage: s.CompletionPercentage()}
}

func newProgressView(agg *models.VocabularyProgress) progressView {
	view := progressView{
		ID:        agg.ID,
		UserID:    agg.UserID,
		DeckID:    agg.DeckID,
		Items:     make([]itemView, 0, len(agg.Items)),
		Sections:  make([]sectionView, 0, len(agg.Sections)),
		Stats:     agg.Stats,
		Streak:    agg.Streak,
		Version:   agg.Version,
		CreatedAt: agg.CreatedAt,
		UpdatedAt: agg.UpdatedAt,
	}
	for _, item := range agg.ItemList() {
		view.Items = append(view.Items, newItemView(item))
	}
	indexes := make([]int, 0, len(agg.Sections))
	for idx := range agg.Sections {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	for _, idx := range indexes {
		view.Sections = append(view.Sections, newSectionView(agg.Sections[idx]))
	}
	return view
}
