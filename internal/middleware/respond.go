package middleware

import (
	"encoding/json"
	"net/http"

	"nibras-backend/internal/models"
)

// writeError answers with the chat result envelope so clients parse one
// shape regardless of which layer rejected them.
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(models.ChatResult{Error: message, Code: code})
}
