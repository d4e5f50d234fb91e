package handlers

import (
	"net/http"

	"marketplace/internal/auction"
)

// CreateTenderHandler обрабатывает POST /api/tenders
func (h *Handler) CreateTenderHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var in auction.TenderInput
	if !decodeBody(w, r, &in) {
		return
	}
	tender, err := h.svc.Auction.CreateTender(r.Context(), actor, in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tender)
}

func (h *Handler) GetTenderHandler(w http.ResponseWriter, r *http.Request) {
	tenderID, ok := uuidParam(w, r, "tenderId")
	if !ok {
		return
	}
	tender, err := h.svc.Auction.GetTender(r.Context(), tenderID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tender)
}

// LockBidsHandler закрывает приём ставок
func (h *Handler) LockBidsHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	tenderID, ok := uuidParam(w, r, "tenderId")
	if !ok {
		return
	}
	tender, err := h.svc.Auction.LockBids(r.Context(), actor, tenderID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tender)
}

// SelectWinnerHandler выбирает победителя закрытого тендера
func (h *Handler) SelectWinnerHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	tenderID, ok := uuidParam(w, r, "tenderId")
	if !ok {
		return
	}
	result, err := h.svc.Auction.SelectWinner(r.Context(), actor, tenderID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) CancelTenderHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	tenderID, ok := uuidParam(w, r, "tenderId")
	if !ok {
		return
	}
	tender, err := h.svc.Auction.CancelTender(r.Context(), actor, tenderID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tender)
}
