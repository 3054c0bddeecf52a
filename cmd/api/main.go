package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/kelvinogodo/atlamarkets/internal/auth"
	"github.com/kelvinogodo/atlamarkets/internal/config"
	"github.com/kelvinogodo/atlamarkets/internal/copytrade"
	"github.com/kelvinogodo/atlamarkets/internal/db"
	"github.com/kelvinogodo/atlamarkets/internal/httpserver"
	"github.com/kelvinogodo/atlamarkets/internal/invest"
	"github.com/kelvinogodo/atlamarkets/internal/ledger"
	"github.com/kelvinogodo/atlamarkets/internal/notify"
	"github.com/kelvinogodo/atlamarkets/internal/store"
	"github.com/kelvinogodo/atlamarkets/internal/trader"
)

func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("database connect")
	}
	defer pool.Close()
	if err := db.Migrate(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("database migrate")
	}

	st := store.NewPostgres(pool)
	bus := notify.NewBus()

	engine := ledger.NewEngine(st, log)
	ledgerSvc := ledger.NewService(engine, st, bus, cfg.CommissionPercent, cfg.SignupBonus, log)
	investSvc := invest.NewService(engine, st, bus, log)
	copySvc := copytrade.NewService(engine, st, bus, copytrade.ReferenceCapitalPolicy(cfg.ReferenceCapital), log)
	traderSvc := trader.NewService(st, copySvc, log)
	authSvc := auth.NewService(st, ledgerSvc, cfg.JWTIssuer, []byte(cfg.JWTSecret), cfg.JWTTTL, log)

	var rateLimit func(http.Handler) http.Handler
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer client.Close()
		rateLimit = httpserver.RedisRateLimit(client, 600, log)
	}

	router := httpserver.NewRouter(httpserver.RouterDeps{
		AuthHandler:   auth.NewHandler(authSvc),
		LedgerHandler: ledger.NewHandler(ledgerSvc),
		InvestHandler: invest.NewHandler(investSvc),
		CopyHandler:   copytrade.NewHandler(copySvc),
		TraderHandler: trader.NewHandler(traderSvc),
		AuthService:   authSvc,
		InternalToken: cfg.InternalToken,
		NotifyWS:      notify.NewWSHandler(bus, cfg.InternalToken, cfg.WebSocketOrigin, log),
		RateLimit:     rateLimit,
	})

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	accrualCtx, stopAccrual := context.WithCancel(ctx)
	defer stopAccrual()
	go invest.NewScheduler(investSvc, cfg.AccrualInterval, log).Run(accrualCtx)

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	stopAccrual()
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}
	log.Info().Msg("stopped")
}
