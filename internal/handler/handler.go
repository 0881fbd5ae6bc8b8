// Package handler exposes the engine over HTTP: a preview endpoint for
// repeated, side-effect-free resolution and a commit endpoint for the
// one-time usage consumption at checkout.
package handler

import (
	"context"
	"net/http"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/ecomkit/promostack/internal/domain/promo"
	"github.com/ecomkit/promostack/internal/domain/stacking"
)

// Engine is the part of the promo service the handlers delegate to.
// Implemented by *promo.Service.
type Engine interface {
	Preview(ctx context.Context, req promo.PreviewRequest) (*stacking.Result, error)
	Commit(ctx context.Context, couponIDs []string, userID string) error
}

// Handler serves the engine's HTTP API.
type Handler struct {
	svc Engine
}

// New constructs a Handler around the engine service.
func New(svc Engine) *Handler {
	return &Handler{svc: svc}
}

// Register mounts the API routes on the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/preview", h.preview)
	mux.HandleFunc("POST /api/v1/commit", h.commit)
}

// writeError writes a JSON error body with the given status code.
func writeError(w http.ResponseWriter, status int, message string) {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("code")
	e.Int(status)
	e.FieldStart("message")
	e.Str(message)
	e.ObjEnd()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// writeInternalError logs the error and responds 500 without leaking detail.
func writeInternalError(w http.ResponseWriter, r *http.Request, err error) {
	zctx.From(r.Context()).Error("request failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}
