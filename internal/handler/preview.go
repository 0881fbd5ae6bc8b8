package handler

import (
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/ecomkit/promostack/internal/domain/cart"
	"github.com/ecomkit/promostack/internal/domain/coupon"
	"github.com/ecomkit/promostack/internal/domain/promo"
	"github.com/ecomkit/promostack/internal/domain/stacking"
)

// preview handles POST /api/v1/preview. It is safe to call on every cart
// change: the engine reads ledger counters but never writes them.
func (h *Handler) preview(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read request body")
		return
	}

	req, err := decodePreviewRequest(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.svc.Preview(r.Context(), req)
	if err != nil {
		if errors.Is(err, coupon.ErrNotFound) {
			writeError(w, http.StatusNotFound, "coupon not found")
			return
		}
		writeInternalError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(encodeResult(res))
}

// decodePreviewRequest parses the preview request body. The cart subtotal is
// recomputed from the lines; callers cannot supply an inconsistent one.
func decodePreviewRequest(body []byte) (promo.PreviewRequest, error) {
	var (
		req      promo.PreviewRequest
		lines    []cart.Line
		shipping = decimal.Zero
	)

	d := jx.DecodeBytes(body)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "primary_code":
			v, err := d.Str()
			req.PrimaryCode = v
			return err
		case "secondary_codes":
			return d.Arr(func(d *jx.Decoder) error {
				v, err := d.Str()
				if err != nil {
					return err
				}
				req.SecondaryCodes = append(req.SecondaryCodes, v)
				return nil
			})
		case "user_id":
			v, err := d.Str()
			req.UserID = v
			return err
		case "cart":
			return d.Obj(func(d *jx.Decoder, key string) error {
				switch key {
				case "shipping_fee":
					v, err := decodeDecimal(d)
					shipping = v
					return err
				case "lines":
					return d.Arr(func(d *jx.Decoder) error {
						line, err := decodeLine(d)
						if err != nil {
							return err
						}
						lines = append(lines, line)
						return nil
					})
				default:
					return d.Skip()
				}
			})
		default:
			return d.Skip()
		}
	}); err != nil {
		return promo.PreviewRequest{}, errors.Wrap(err, "decode preview request")
	}

	if req.PrimaryCode == "" {
		return promo.PreviewRequest{}, errors.New("primary_code is required")
	}
	if len(lines) == 0 {
		return promo.PreviewRequest{}, errors.New("cart.lines must not be empty")
	}
	for _, l := range lines {
		if l.Quantity <= 0 {
			return promo.PreviewRequest{}, errors.Errorf("quantity must be positive for product %s", l.ProductID)
		}
	}

	req.Cart = cart.New(lines, shipping)
	return req, nil
}

func decodeLine(d *jx.Decoder) (cart.Line, error) {
	var line cart.Line
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "product_id":
			v, err := d.Str()
			line.ProductID = v
			return err
		case "category_id":
			v, err := d.Str()
			line.CategoryID = v
			return err
		case "unit_price":
			v, err := decodeDecimal(d)
			line.UnitPrice = v
			return err
		case "quantity":
			v, err := d.Int()
			line.Quantity = v
			return err
		default:
			return d.Skip()
		}
	})
	return line, err
}

// decodeDecimal reads a JSON number or numeric string as a decimal.
func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(s)
	default:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(n.String())
	}
}

// encodeResult renders a resolution as JSON. Monetary values are emitted as
// raw decimal numbers, never floats.
func encodeResult(res *stacking.Result) []byte {
	var e jx.Encoder
	e.ObjStart()

	e.FieldStart("original_total")
	encodeDecimal(&e, res.OriginalTotal)
	e.FieldStart("total_discount")
	encodeDecimal(&e, res.TotalDiscount)
	e.FieldStart("final_total")
	encodeDecimal(&e, res.FinalTotal)

	e.FieldStart("applied")
	e.ArrStart()
	for _, a := range res.Applied {
		e.ObjStart()
		e.FieldStart("coupon_id")
		e.Str(a.CouponID)
		e.FieldStart("code")
		e.Str(a.Code)
		e.FieldStart("discount")
		encodeDecimal(&e, a.Discount)
		e.FieldStart("capped")
		e.Bool(a.Capped)
		if a.Shipping {
			e.FieldStart("shipping")
			e.Bool(true)
		}
		e.ObjEnd()
	}
	e.ArrEnd()

	e.FieldStart("rejected")
	e.ArrStart()
	for _, rej := range res.Rejected {
		e.ObjStart()
		if rej.CouponID != "" {
			e.FieldStart("coupon_id")
			e.Str(rej.CouponID)
		}
		e.FieldStart("code")
		e.Str(rej.Code)
		e.FieldStart("reason")
		e.Str(string(rej.Reason))
		e.ObjEnd()
	}
	e.ArrEnd()

	e.ObjEnd()
	return e.Bytes()
}

func encodeDecimal(e *jx.Encoder, v decimal.Decimal) {
	e.Num(jx.Num(v.String()))
}
