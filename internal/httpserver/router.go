package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kelvinogodo/atlamarkets/internal/auth"
	"github.com/kelvinogodo/atlamarkets/internal/copytrade"
	"github.com/kelvinogodo/atlamarkets/internal/httputil"
	"github.com/kelvinogodo/atlamarkets/internal/invest"
	"github.com/kelvinogodo/atlamarkets/internal/ledger"
	"github.com/kelvinogodo/atlamarkets/internal/trader"
)

type RouterDeps struct {
	AuthHandler   *auth.Handler
	LedgerHandler *ledger.Handler
	InvestHandler *invest.Handler
	CopyHandler   *copytrade.Handler
	TraderHandler *trader.Handler
	AuthService   *auth.Service
	InternalToken string
	NotifyWS      http.Handler
	RateLimit     func(http.Handler) http.Handler
}

func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()

	// CORS middleware for development
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				origin = "*"
			}
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Internal-Token")
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Use(SecurityHeaders)
	if d.RateLimit != nil {
		r.Use(d.RateLimit)
	} else {
		r.Use(RateLimitMiddleware)
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	r.Route("/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", d.AuthHandler.Register)
			r.Post("/login", d.AuthHandler.Login)
		})

		r.Get("/traders", d.TraderHandler.List)

		r.Group(func(r chi.Router) {
			r.Use(WithAuth(d.AuthService))
			r.Get("/me", user(d.AuthHandler.Me))
			r.Get("/ledger/entries", user(d.LedgerHandler.Entries))
			r.Post("/withdrawals", user(d.LedgerHandler.Withdraw))
			r.Post("/investments", user(d.InvestHandler.Open))
			r.Get("/investments", user(d.InvestHandler.List))
			r.Post("/copy/subscriptions", user(d.CopyHandler.Subscribe))
			r.Get("/copy/subscriptions", user(d.CopyHandler.List))
			r.Post("/copy/stop", user(d.CopyHandler.Stop))
			r.Get("/copy/trades", user(d.CopyHandler.TradeLogs))
		})
	})

	r.Route("/internal", func(r chi.Router) {
		r.Use(InternalAuth(d.InternalToken))
		r.Post("/deposits", d.LedgerHandler.Deposit)
		r.Post("/adjustments", d.LedgerHandler.Adjust)
		r.Post("/accrual/run", d.InvestHandler.RunPass)
		r.Post("/traders", d.TraderHandler.Create)
		r.Delete("/traders/{id}", d.TraderHandler.Delete)
		r.Get("/traders/{id}/history", d.TraderHandler.History)
		r.Post("/traders/{id}/trades", d.TraderHandler.RecordTrade)
	})

	if d.NotifyWS != nil {
		r.Get("/internal/ws", d.NotifyWS.ServeHTTP)
	}

	return r
}

func user(h func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := UserID(r)
		if !ok {
			httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "unauthorized"})
			return
		}
		h(w, r, userID)
	}
}
