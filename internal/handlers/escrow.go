package handlers

import (
	"net/http"

	"github.com/google/uuid"

	"marketplace/models"
)

type depositRequest struct {
	Subject   models.Subject `json:"subject"`
	SubjectID uuid.UUID      `json:"subjectId"`
	Amount    int64          `json:"amount"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

// CreateDepositHandler вносит депозит. Повторный запрос возвращает тот же депозит со статусом 200.
func (h *Handler) CreateDepositHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req depositRequest
	if !decodeBody(w, r, &req) {
		return
	}
	esc, created, err := h.svc.Escrow.CreateDeposit(r.Context(), actor, req.Subject, req.SubjectID, req.Amount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, esc)
}

func (h *Handler) ReleaseEscrowHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	escrowID, ok := uuidParam(w, r, "escrowId")
	if !ok {
		return
	}
	var req reasonRequest
	if !decodeBody(w, r, &req) {
		return
	}
	esc, err := h.svc.Escrow.Release(r.Context(), actor, escrowID, req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, esc)
}

func (h *Handler) RefundEscrowHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	escrowID, ok := uuidParam(w, r, "escrowId")
	if !ok {
		return
	}
	var req reasonRequest
	if !decodeBody(w, r, &req) {
		return
	}
	esc, err := h.svc.Escrow.Refund(r.Context(), actor, escrowID, req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, esc)
}
