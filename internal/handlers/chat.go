package handlers

import (
	"context"
	"net/http"

	"nibras-backend/internal/middleware"
	"nibras-backend/internal/models"
	"nibras-backend/internal/services"
)

// maxChatBody bounds inbound chat bodies. Inline images make these large.
const maxChatBody = 20 << 20

type chatDispatcher interface {
	Dispatch(ctx context.Context, req models.ChatRequest, meta services.DispatchMeta) models.ChatResult
}

type ChatHandler struct {
	chat chatDispatcher
}

func NewChatHandler(chat chatDispatcher) *ChatHandler {
	return &ChatHandler{chat: chat}
}

// Chat answers POST /api/chat. Malformed bodies get 400; everything past
// validation is reported with 200 and the success flag.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	req, err := services.DecodeChatRequest(http.MaxBytesReader(w, r.Body, maxChatBody))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	result := h.chat.Dispatch(r.Context(), req, services.DispatchMeta{
		RequestID: middleware.GetRequestID(r.Context()),
		Subject:   middleware.GetSubject(r.Context()),
	})
	writeJSON(w, http.StatusOK, result)
}
