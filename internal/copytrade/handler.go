package copytrade

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/kelvinogodo/atlamarkets/internal/httputil"
	"github.com/kelvinogodo/atlamarkets/internal/ledger"
	"github.com/kelvinogodo/atlamarkets/internal/model"
	"github.com/kelvinogodo/atlamarkets/internal/store"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Subscribe(w http.ResponseWriter, r *http.Request, userID string) {
	var req struct {
		TraderID string          `json:"trader_id"`
		Amount   decimal.Decimal `json:"amount"`
	}
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	sub, err := h.svc.Subscribe(r.Context(), userID, req.TraderID, req.Amount)
	if err != nil {
		switch {
		case errors.Is(err, ErrAlreadyActive):
			httputil.WriteJSON(w, http.StatusConflict, httputil.ErrorResponse{Error: err.Error()})
		case errors.Is(err, ledger.ErrInsufficientFunds):
			httputil.WriteJSON(w, http.StatusUnprocessableEntity, httputil.ErrorResponse{Error: err.Error()})
		case errors.Is(err, ledger.ErrInvalidAmount):
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		case errors.Is(err, store.ErrNotFound):
			httputil.WriteJSON(w, http.StatusNotFound, httputil.ErrorResponse{Error: "trader not found"})
		default:
			httputil.WriteJSON(w, http.StatusInternalServerError, httputil.ErrorResponse{Error: err.Error()})
		}
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, sub)
}

func (h *Handler) Stop(w http.ResponseWriter, r *http.Request, userID string) {
	var req struct {
		TraderID string `json:"trader_id"`
	}
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	sub, err := h.svc.Stop(r.Context(), userID, req.TraderID)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotSubscribed):
			httputil.WriteJSON(w, http.StatusNotFound, httputil.ErrorResponse{Error: err.Error()})
		default:
			httputil.WriteJSON(w, http.StatusInternalServerError, httputil.ErrorResponse{Error: err.Error()})
		}
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sub)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request, userID string) {
	subs, err := h.svc.Subscriptions(r.Context(), userID)
	if err != nil {
		httputil.WriteJSON(w, http.StatusInternalServerError, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	if subs == nil {
		subs = []model.CopySubscription{}
	}
	httputil.WriteJSON(w, http.StatusOK, subs)
}

func (h *Handler) TradeLogs(w http.ResponseWriter, r *http.Request, userID string) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	logs, err := h.svc.TradeLogs(r.Context(), userID, limit)
	if err != nil {
		httputil.WriteJSON(w, http.StatusInternalServerError, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	if logs == nil {
		logs = []model.TradeLog{}
	}
	httputil.WriteJSON(w, http.StatusOK, logs)
}
