package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"nibras-backend/internal/models"
	"nibras-backend/internal/services"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// handleServiceError maps service errors onto the chat result envelope.
func handleServiceError(w http.ResponseWriter, err error) {
	var ve *services.ValidationError
	var ue *services.UnauthorizedError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, models.ChatResult{Error: ve.Message, Code: "VALIDATION_ERROR", Fields: ve.Fields})
	case errors.As(err, &ue):
		writeJSON(w, http.StatusUnauthorized, models.ChatResult{Error: ue.Message, Code: "UNAUTHORIZED"})
	default:
		writeJSON(w, http.StatusInternalServerError, models.ChatResult{Error: "Internal server error", Code: "INTERNAL_ERROR"})
	}
}
