package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/alexgthegreat/StudySync-22/internal/core/domain"
	"github.com/alexgthegreat/StudySync-22/internal/core/services"
	"github.com/alexgthegreat/StudySync-22/pkg/logging"
	"github.com/alexgthegreat/StudySync-22/pkg/middleware"
)

// HistoryHandler serves recent chat messages for a group so the chat
// view has context before live envelopes start arriving.
type HistoryHandler struct {
	chat *services.ChatService
}

func NewHistoryHandler(chat *services.ChatService) *HistoryHandler {
	return &HistoryHandler{chat: chat}
}

func (h *HistoryHandler) Handler(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	userID, ok := middleware.UserIDFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized: user id missing", http.StatusUnauthorized)
		return
	}
	groupID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || groupID <= 0 {
		http.Error(w, "invalid group id", http.StatusBadRequest)
		return
	}
	member, err := h.chat.MemberOf(r.Context(), groupID, userID)
	if err != nil {
		log.ErrorContext(r.Context(), "history handler - membership check failed", logging.Group(groupID), logging.Err(err))
		http.Error(w, "failed to verify membership", http.StatusInternalServerError)
		return
	}
	if !member {
		http.Error(w, "not a member of this group", http.StatusForbidden)
		return
	}
	limit := 50
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}
	msgs, err := h.chat.History(r.Context(), groupID, limit)
	if err != nil {
		log.ErrorContext(r.Context(), "history handler - read failed", logging.Group(groupID), logging.Err(err))
		http.Error(w, "failed to load messages", http.StatusInternalServerError)
		return
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(msgs)
}
