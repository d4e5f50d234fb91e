package handlers

import (
	"net/http"

	"marketplace/internal/auction"
)

// SubmitBidHandler подаёт или заменяет ставку специалиста
func (h *Handler) SubmitBidHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	tenderID, ok := uuidParam(w, r, "tenderId")
	if !ok {
		return
	}
	var in auction.BidInput
	if !decodeBody(w, r, &in) {
		return
	}
	bid, err := h.svc.Auction.SubmitBid(r.Context(), actor, tenderID, in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bid)
}

// ListBidsHandler отдаёт ставки, видимые участнику
func (h *Handler) ListBidsHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	tenderID, ok := uuidParam(w, r, "tenderId")
	if !ok {
		return
	}
	bids, err := h.svc.Auction.ListBids(r.Context(), actor, tenderID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bids)
}
