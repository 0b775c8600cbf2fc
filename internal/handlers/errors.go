package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"wabisabi/internal/logger"
	"wabisabi/internal/progress"
	"wabisabi/internal/service"
)

// statusClientClosedRequest is logged when the client went away mid request
const statusClientClosedRequest = 499

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Field     string `json:"field,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// respondWithError logs the internal cause, if any, and writes a JSON error body
func respondWithError(w http.ResponseWriter, r *http.Request, log *logger.Logger, status int, code, userMsg string, err error) {
	writeError(w, r, log, status, errorResponse{Error: userMsg, Code: code}, err)
}

func writeError(w http.ResponseWriter, r *http.Request, log *logger.Logger, status int, body errorResponse, err error) {
	body.RequestID = GetRequestID(r.Context())
	if err != nil {
		if status >= http.StatusInternalServerError {
			log.Error(body.Error, "error", err, "request_id", body.RequestID, "path", r.URL.Path)
		} else {
			log.Warn(body.Error, "error", err, "request_id", body.RequestID, "path", r.URL.Path)
		}
	}
	respondJSON(w, status, body)
}

// respondWithServiceError maps domain errors to HTTP statuses
func respondWithServiceError(w http.ResponseWriter, r *http.Request, log *logger.Logger, err error) {
	switch {
	case errors.Is(err, progress.ErrInvalidItemReference):
		respondWithError(w, r, log, http.StatusUnprocessableEntity, CodeInvalidItem, "Item is not part of this deck", err)
	case errors.Is(err, progress.ErrDeckNotFound):
		respondWithError(w, r, log, http.StatusNotFound, CodeNotFound, "Deck not found", err)
	case errors.Is(err, progress.ErrConcurrencyConflict):
		respondWithError(w, r, log, http.StatusConflict, CodeConflict, "Progress was modified concurrently, please retry", err)
	case errors.Is(err, service.ErrInvalidDeck):
		respondWithError(w, r, log, http.StatusBadRequest, CodeBadRequest, err.Error(), err)
	case errors.Is(err, context.Canceled):
		respondWithError(w, r, log, statusClientClosedRequest, CodeBadRequest, "Request cancelled", err)
	default:
		respondWithError(w, r, log, http.StatusInternalServerError, CodeInternal, ErrInternalServerMsg, err)
	}
}
