package invest

import (
	"errors"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kelvinogodo/atlamarkets/internal/httputil"
	"github.com/kelvinogodo/atlamarkets/internal/ledger"
	"github.com/kelvinogodo/atlamarkets/internal/model"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Open(w http.ResponseWriter, r *http.Request, userID string) {
	var req struct {
		Amount      decimal.Decimal `json:"amount"`
		PlanPercent int64           `json:"plan_percent"`
	}
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	pos, err := h.svc.Open(r.Context(), userID, req.Amount, req.PlanPercent)
	if err != nil {
		switch {
		case errors.Is(err, ErrUnknownPlan), errors.Is(err, ledger.ErrInvalidAmount):
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		case errors.Is(err, ledger.ErrInsufficientFunds):
			httputil.WriteJSON(w, http.StatusUnprocessableEntity, httputil.ErrorResponse{Error: err.Error()})
		default:
			httputil.WriteJSON(w, http.StatusInternalServerError, httputil.ErrorResponse{Error: err.Error()})
		}
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, pos)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request, userID string) {
	positions, err := h.svc.Positions(r.Context(), userID)
	if err != nil {
		httputil.WriteJSON(w, http.StatusInternalServerError, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	if positions == nil {
		positions = []model.InvestmentPosition{}
	}
	httputil.WriteJSON(w, http.StatusOK, positions)
}

// RunPass is the internal trigger for a one-shot accrual pass, used by ops
// tooling alongside the periodic scheduler.
func (h *Handler) RunPass(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.RunAccrualPass(r.Context(), time.Now().UTC())
	if err != nil {
		httputil.WriteJSON(w, http.StatusInternalServerError, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}
