package handler

import (
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/ecomkit/promostack/internal/domain/coupon"
	"github.com/ecomkit/promostack/internal/domain/ledger"
)

// commit handles POST /api/v1/commit. Called exactly once per finalized
// order; a 409 means a cap was consumed by a concurrent checkout and the
// caller must re-preview.
func (h *Handler) commit(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read request body")
		return
	}

	couponIDs, userID, err := decodeCommitRequest(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.svc.Commit(r.Context(), couponIDs, userID); err != nil {
		switch {
		case errors.Is(err, ledger.ErrConflict):
			writeError(w, http.StatusConflict, "coupon usage cap exhausted, re-preview required")
		case errors.Is(err, coupon.ErrNotFound):
			writeError(w, http.StatusNotFound, "coupon not found")
		default:
			writeInternalError(w, r, err)
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func decodeCommitRequest(body []byte) (couponIDs []string, userID string, err error) {
	d := jx.DecodeBytes(body)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "coupon_ids":
			return d.Arr(func(d *jx.Decoder) error {
				v, err := d.Str()
				if err != nil {
					return err
				}
				couponIDs = append(couponIDs, v)
				return nil
			})
		case "user_id":
			v, err := d.Str()
			userID = v
			return err
		default:
			return d.Skip()
		}
	}); err != nil {
		return nil, "", errors.Wrap(err, "decode commit request")
	}

	if len(couponIDs) == 0 {
		return nil, "", errors.New("coupon_ids must not be empty")
	}
	return couponIDs, userID, nil
}
