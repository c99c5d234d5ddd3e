package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/promo-engine/internal/domain/order"
	"github.com/xenking/promo-engine/internal/domain/promo"
	"github.com/xenking/promo-engine/pkg/httpmiddleware"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, encode func(e *jx.Encoder)) {
	var e jx.Encoder
	encode(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// decoder reads at most maxBodyBytes of the request body.
func decoder(w http.ResponseWriter, r *http.Request) *jx.Decoder {
	return jx.Decode(http.MaxBytesReader(w, r.Body, maxBodyBytes), 4096)
}

// writeError maps domain errors to HTTP status codes.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *promo.ValidationError
	switch {
	case errors.As(err, &verr):
		httpmiddleware.WriteError(w, http.StatusBadRequest, "invalid_"+verr.Field, verr.Error())
	case errors.Is(err, promo.ErrNotFound), errors.Is(err, order.ErrNotFound):
		httpmiddleware.WriteError(w, http.StatusNotFound, "not_found", rootMessage(err))
	case errors.Is(err, promo.ErrCodeTaken):
		httpmiddleware.WriteError(w, http.StatusConflict, "code_taken", promo.ErrCodeTaken.Error())
	case errors.Is(err, promo.ErrPolicyInUse):
		httpmiddleware.WriteError(w, http.StatusConflict, "in_use", promo.ErrPolicyInUse.Error())
	case errors.Is(err, promo.ErrConcurrentUpdate):
		httpmiddleware.WriteError(w, http.StatusConflict, "concurrent_update", promo.ErrConcurrentUpdate.Error())
	case errors.Is(err, promo.ErrUserLimitReached):
		httpmiddleware.WriteError(w, http.StatusConflict, "user_limit_reached", promo.ErrUserLimitReached.Error())
	case errors.Is(err, promo.ErrAlreadyRedeemed):
		httpmiddleware.WriteError(w, http.StatusConflict, "already_redeemed", promo.ErrAlreadyRedeemed.Error())
	case errors.Is(err, promo.ErrNotUsable):
		httpmiddleware.WriteError(w, http.StatusConflict, "not_usable", promo.ErrNotUsable.Error())
	case promo.IsRetryable(err):
		httpmiddleware.WriteError(w, http.StatusConflict, "usage_limit_reached", promo.ErrUsageLimitReached.Error())
	default:
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
		httpmiddleware.WriteError(w, http.StatusInternalServerError, "internal", "internal server error")
	}
}

// rootMessage returns the message of the innermost sentinel so that
// wrapping context stays out of client responses.
func rootMessage(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}
