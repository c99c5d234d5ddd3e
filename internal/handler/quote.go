package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/promo-engine/internal/promojson"
)

// quote prices a cart without consuming any use. Invalid codes are reported
// in the body rather than as an error status.
func (h *Handler) quote(w http.ResponseWriter, r *http.Request) {
	cart, err := promojson.DecodeCart(decoder(w, r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	q, err := h.quoter.Quote(r.Context(), cart)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { promojson.EncodeQuote(e, q) })
}
