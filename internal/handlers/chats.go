package handlers

import (
	"net/http"

	"github.com/google/uuid"

	"marketplace/models"
)

type chatRequest struct {
	Subject   models.Subject `json:"subject"`
	SubjectID uuid.UUID      `json:"subjectId"`
	ProID     uuid.UUID      `json:"proId"`
}

func (h *Handler) CreateChatHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req chatRequest
	if !decodeBody(w, r, &req) {
		return
	}
	c, err := h.svc.Chat.CreateChat(r.Context(), actor, req.Subject, req.SubjectID, req.ProID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) PostMessageHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	chatID, ok := uuidParam(w, r, "chatId")
	if !ok {
		return
	}
	var req struct {
		Content string `json:"content"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	msg, err := h.svc.Chat.PostMessage(r.Context(), actor, chatID, req.Content)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (h *Handler) ListMessagesHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	chatID, ok := uuidParam(w, r, "chatId")
	if !ok {
		return
	}
	msgs, err := h.svc.Chat.ListMessages(r.Context(), actor, chatID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}
