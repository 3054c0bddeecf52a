// atlasctl is the ops companion to the API server: one-shot accrual passes
// and ledger reconciliation against the same database.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/kelvinogodo/atlamarkets/internal/config"
	"github.com/kelvinogodo/atlamarkets/internal/db"
	"github.com/kelvinogodo/atlamarkets/internal/invest"
	"github.com/kelvinogodo/atlamarkets/internal/ledger"
	"github.com/kelvinogodo/atlamarkets/internal/notify"
	"github.com/kelvinogodo/atlamarkets/internal/store"
)

func main() {
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()

	root := &cobra.Command{
		Use:           "atlasctl",
		Short:         "Operational tooling for the ledger core",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(accrueCmd(log), reconcileCmd(log))

	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func openServices(ctx context.Context, log zerolog.Logger) (*ledger.Service, *invest.Service, store.Store, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, nil, err
	}
	pool, err := db.NewPool(ctx, cfg.DBDSN)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	st := store.NewPostgres(pool)
	bus := notify.NewBus()
	engine := ledger.NewEngine(st, log)
	ledgerSvc := ledger.NewService(engine, st, bus, cfg.CommissionPercent, cfg.SignupBonus, log)
	investSvc := invest.NewService(engine, st, bus, log)
	return ledgerSvc, investSvc, st, pool.Close, nil
}

func accrueCmd(log zerolog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "accrue",
		Short: "Run one accrual pass over due investment positions",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, investSvc, _, closeFn, err := openServices(ctx, log)
			if err != nil {
				return err
			}
			defer closeFn()

			report, err := investSvc.RunAccrualPass(ctx, time.Now().UTC())
			if err != nil {
				return err
			}
			fmt.Printf("matured=%d errors=%d\n", report.Matured, len(report.Errors))
			for _, accountID := range report.Errors {
				fmt.Printf("failed account=%s\n", accountID)
			}
			return nil
		},
	}
}

func reconcileCmd(log zerolog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Replay each account's entry log and report drift from the cached balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ledgerSvc, _, st, closeFn, err := openServices(ctx, log)
			if err != nil {
				return err
			}
			defer closeFn()

			accounts, err := st.Accounts(ctx)
			if err != nil {
				return err
			}
			drifted := 0
			for _, acc := range accounts {
				drift, err := ledgerSvc.Reconcile(ctx, acc.ID)
				if err != nil {
					return err
				}
				if !drift.IsZero() {
					drifted++
					fmt.Printf("account=%s username=%s drift=%s\n", acc.ID, acc.Username, drift.String())
				}
			}
			fmt.Printf("accounts=%d drifted=%d\n", len(accounts), drifted)
			if drifted > 0 {
				return fmt.Errorf("%d accounts out of balance", drifted)
			}
			return nil
		},
	}
}
