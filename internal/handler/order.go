package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/promo-engine/internal/promojson"
)

func (h *Handler) placeOrder(w http.ResponseWriter, r *http.Request) {
	req, err := promojson.DecodePlaceOrder(decoder(w, r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.orders.PlaceOrder(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("order")
		promojson.EncodeOrder(e, res.Order)
		e.FieldStart("rejected")
		promojson.EncodeResults(e, res.Quote.Rejected)
		e.ObjEnd()
	})
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { promojson.EncodeOrder(e, o) })
}

func (h *Handler) confirmOrder(w http.ResponseWriter, r *http.Request) {
	res, err := h.orders.ConfirmOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { promojson.EncodeConfirmation(e, res) })
}
