package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/promo-engine/internal/domain/promo"
	"github.com/xenking/promo-engine/internal/promojson"
)

func (h *Handler) createPromo(w http.ResponseWriter, r *http.Request) {
	in, err := promojson.DecodeInput(decoder(w, r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.promos.Create(r.Context(), in, actor(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { promojson.EncodePolicy(e, p) })
}

func (h *Handler) updatePromo(w http.ResponseWriter, r *http.Request) {
	in, err := promojson.DecodeInput(decoder(w, r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.promos.Update(r.Context(), chi.URLParam(r, "id"), in, actor(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { promojson.EncodePolicy(e, p) })
}

func (h *Handler) deletePromo(w http.ResponseWriter, r *http.Request) {
	if err := h.promos.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) getPromo(w http.ResponseWriter, r *http.Request) {
	p, err := h.promos.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { promojson.EncodePolicy(e, p) })
}

func (h *Handler) getPromoByCode(w http.ResponseWriter, r *http.Request) {
	p, err := h.promos.GetByCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { promojson.EncodePolicy(e, p) })
}

func (h *Handler) listPromos(w http.ResponseWriter, r *http.Request) {
	f, err := parseListFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	items, total, err := h.promos.List(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("items")
		e.ArrStart()
		for i := range items {
			promojson.EncodePolicy(e, &items[i])
		}
		e.ArrEnd()
		e.FieldStart("total")
		e.Int(total)
		e.FieldStart("limit")
		e.Int(f.Limit)
		e.FieldStart("offset")
		e.Int(f.Offset)
		e.ObjEnd()
	})
}

// parseListFilter reads status, auto_apply, limit and offset from the query.
func parseListFilter(r *http.Request) (promo.ListFilter, error) {
	q := r.URL.Query()
	var f promo.ListFilter

	if s := q.Get("status"); s != "" {
		f.Status = promo.Status(s)
		if !f.Status.Valid() {
			return f, &promo.ValidationError{Field: "status", Reason: "unknown status " + strconv.Quote(s)}
		}
	}
	if s := q.Get("auto_apply"); s != "" {
		v, err := strconv.ParseBool(s)
		if err != nil {
			return f, &promo.ValidationError{Field: "auto_apply", Reason: "must be a boolean"}
		}
		f.AutoApply = &v
	}
	for _, p := range []struct {
		name string
		dst  *int
	}{
		{"limit", &f.Limit},
		{"offset", &f.Offset},
	} {
		s := q.Get(p.name)
		if s == "" {
			continue
		}
		v, err := strconv.Atoi(s)
		if err != nil || v < 0 {
			return f, &promo.ValidationError{Field: p.name, Reason: "must be a non-negative integer"}
		}
		*p.dst = v
	}
	return f, nil
}

func (h *Handler) expirePromos(w http.ResponseWriter, r *http.Request) {
	n, err := h.promos.ExpireStale(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("expired")
		e.Int64(n)
		e.ObjEnd()
	})
}
