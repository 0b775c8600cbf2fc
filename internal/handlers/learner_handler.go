package handlers

import (
	"context"
	"net/http"
	"strings"

	"wabisabi/internal/logger"
	"wabisabi/internal/models"
)

// LearnerStore persists reminder preferences
type LearnerStore interface {
	Get(ctx context.Context, id string) (*models.Learner, error)
	Upsert(ctx context.Context, l *models.Learner) error
}

// LearnerHandler lets a learner manage review reminders
type LearnerHandler struct {
	store LearnerStore
	log   *logger.Logger
}

// NewLearnerHandler creates a new learner handler
func NewLearnerHandler(store LearnerStore, log *logger.Logger) *LearnerHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &LearnerHandler{store: store, log: log.With("handler", "LearnerHandler")}
}

// RegisterRoutes mounts the reminder preference routes behind RequireAuth
func (h *LearnerHandler) RegisterRoutes(mux *http.ServeMux, mw *Middleware) {
	mux.HandleFunc("GET /api/me/reminders", mw.RequireAuth(h.GetReminders))
	mux.HandleFunc("PUT /api/me/reminders", mw.RequireAuth(h.UpdateReminders))
}

type reminderPreferences struct {
	Email   string `json:"email" validate:"omitempty,email"`
	Name    string `json:"name" validate:"max=100"`
	Enabled bool   `json:"enabled"`
}

// GetReminders returns the caller's reminder preferences
func (h *LearnerHandler) GetReminders(w http.ResponseWriter, r *http.Request) {
	learner, err := h.store.Get(r.Context(), GetUserIDFromContext(r.Context()))
	if err != nil {
		respondWithServiceError(w, r, h.log, err)
		return
	}
	if learner == nil {
		respondJSON(w, http.StatusOK, reminderPreferences{})
		return
	}
	respondJSON(w, http.StatusOK, reminderPreferences{Email: learner.Email, Name: learner.Name, Enabled: learner.RemindersEnabled})
}

// UpdateReminders stores the caller's reminder preferences. The email
// defaults to the one carried by the bearer token.
func (h *LearnerHandler) UpdateReminders(w http.ResponseWriter, r *http.Request) {
	var req reminderPreferences
	if !decodeAndValidate(w, r, h.log, &req) {
		return
	}

	email := strings.TrimSpace(req.Email)
	name := strings.TrimSpace(req.Name)
	if claims := GetClaimsFromContext(r.Context()); claims != nil {
		if email == "" {
			email = claims.Email
		}
		if name == "" {
			name = claims.Name
		}
	}
	if req.Enabled && email == "" {
		writeError(w, r, h.log, http.StatusBadRequest, errorResponse{Error: "email is required to enable reminders", Code: CodeValidation, Field: "email"}, nil)
		return
	}

	learner := &models.Learner{
		ID:               GetUserIDFromContext(r.Context()),
		Email:            email,
		Name:             name,
		RemindersEnabled: req.Enabled,
	}
	if err := h.store.Upsert(r.Context(), learner); err != nil {
		respondWithServiceError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, reminderPreferences{Email: learner.Email, Name: learner.Name, Enabled: learner.RemindersEnabled})
}
