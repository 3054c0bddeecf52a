package trader

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/kelvinogodo/atlamarkets/internal/copytrade"
	"github.com/kelvinogodo/atlamarkets/internal/httputil"
	"github.com/kelvinogodo/atlamarkets/internal/model"
	"github.com/kelvinogodo/atlamarkets/internal/store"
	"github.com/kelvinogodo/atlamarkets/internal/types"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// List is user-facing; everything else here is behind the internal token.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	traders, err := h.svc.List(r.Context())
	if err != nil {
		httputil.WriteJSON(w, http.StatusInternalServerError, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	if traders == nil {
		traders = []model.Trader{}
	}
	httputil.WriteJSON(w, http.StatusOK, traders)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var t model.Trader
	if err := httputil.ReadJSON(r, &t); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	created, err := h.svc.Create(r.Context(), t)
	if err != nil {
		httputil.WriteJSON(w, http.StatusInternalServerError, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, created)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httputil.WriteJSON(w, http.StatusNotFound, httputil.ErrorResponse{Error: "trader not found"})
			return
		}
		httputil.WriteJSON(w, http.StatusInternalServerError, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	events, err := h.svc.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteJSON(w, http.StatusInternalServerError, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	if events == nil {
		events = []model.TradeEvent{}
	}
	httputil.WriteJSON(w, http.StatusOK, events)
}

// RecordTrade ingests one profit/loss event from the admin feed and fans it
// out to subscribers.
func (h *Handler) RecordTrade(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID      string           `json:"id"`
		Pair    string           `json:"pair"`
		Kind    types.TradeKind  `json:"kind"`
		Percent *decimal.Decimal `json:"percent"`
		Amount  *decimal.Decimal `json:"amount"`
	}
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	report, err := h.svc.RecordTrade(r.Context(), model.TradeEvent{
		ID:       req.ID,
		TraderID: chi.URLParam(r, "id"),
		Pair:     req.Pair,
		Kind:     req.Kind,
		Percent:  req.Percent,
		Amount:   req.Amount,
	})
	if err != nil {
		switch {
		case errors.Is(err, copytrade.ErrInvalidTradeKind):
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		case errors.Is(err, store.ErrNotFound):
			httputil.WriteJSON(w, http.StatusNotFound, httputil.ErrorResponse{Error: "trader not found"})
		default:
			httputil.WriteJSON(w, http.StatusInternalServerError, httputil.ErrorResponse{Error: err.Error()})
		}
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}
