package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/illenko/relicwatch/analyzer"
	"github.com/illenko/relicwatch/api/helpers"
	"github.com/illenko/relicwatch/models"
)

// Asker is implemented by analyzer.Chat.
type Asker interface {
	Ask(ctx context.Context, question string) (*analyzer.Answer, error)
	Recent(ctx context.Context, limit int) ([]models.QueryRecord, error)
}

type ChatHandler struct {
	chat Asker
}

func NewChatHandler(chat Asker) *ChatHandler {
	return &ChatHandler{chat: chat}
}

type ChatRequest struct {
	Question string `json:"question"`
}

func (h *ChatHandler) Ask(w http.ResponseWriter, r *http.Request) {
	if h.chat == nil {
		helpers.WriteError(w, http.StatusServiceUnavailable, "chat not configured")
		return
	}

	var req ChatRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	answer, err := h.chat.Ask(r.Context(), req.Question)
	if err != nil {
		if errors.Is(err, analyzer.ErrEmptyQuestion) {
			helpers.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		slog.Error("chat failed", "error", err)
		helpers.WriteError(w, http.StatusBadGateway, "failed to answer question")
		return
	}

	helpers.WriteJSON(w, http.StatusOK, answer)
}

func (h *ChatHandler) History(w http.ResponseWriter, r *http.Request) {
	if h.chat == nil {
		helpers.WriteJSON(w, http.StatusOK, []models.QueryRecord{})
		return
	}

	records, err := h.chat.Recent(r.Context(), helpers.ParseIntParam(r, "limit", 50))
	if err != nil {
		helpers.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if records == nil {
		records = []models.QueryRecord{}
	}

	helpers.WriteJSON(w, http.StatusOK, records)
}
