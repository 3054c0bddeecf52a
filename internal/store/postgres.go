package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/kelvinogodo/atlamarkets/internal/model"
	"github.com/kelvinogodo/atlamarkets/internal/types"
)

type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres is the durable Store. Inside Atomic, account reads take row locks
// so the ledger engine's read-validate-write executes under one isolation
// boundary.
type Postgres struct {
	pool *pgxpool.Pool
	q    pgQuerier
	inTx bool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool, q: pool}
}

func (p *Postgres) Atomic(ctx context.Context, fn func(Store) error) error {
	if p.inTx {
		return fn(p)
	}
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if err := fn(&Postgres{pool: p.pool, q: tx, inTx: true}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const accountColumns = `id, email, username, first_name, last_name, password_hash,
	available, capital, total_deposited, total_withdrawn, total_profit, periodic_profit,
	referral_code, coalesce(upline, ''), coalesce(legacy_trader, ''), rank, created_at, updated_at`

func scanAccount(row pgx.Row) (model.Account, error) {
	var a model.Account
	var rank string
	err := row.Scan(&a.ID, &a.Email, &a.Username, &a.FirstName, &a.LastName, &a.PasswordHash,
		&a.Available, &a.Capital, &a.TotalDeposited, &a.TotalWithdrawn, &a.TotalProfit, &a.PeriodicProfit,
		&a.ReferralCode, &a.Upline, &a.LegacyTrader, &rank, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return a, ErrNotFound
		}
		return a, err
	}
	a.Rank = types.RankTier(rank)
	return a, nil
}

func (p *Postgres) CreateAccount(ctx context.Context, acc model.Account) error {
	_, err := p.q.Exec(ctx, `
		INSERT INTO accounts (id, email, username, first_name, last_name, password_hash,
			available, capital, total_deposited, total_withdrawn, total_profit, periodic_profit,
			referral_code, upline, legacy_trader, rank, created_at, updated_at)
		VALUES ($1, lower($2), lower($3), $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, nullif($14, ''), nullif($15, ''), $16, $17, $18)
	`, acc.ID, acc.Email, acc.Username, acc.FirstName, acc.LastName, acc.PasswordHash,
		acc.Available, acc.Capital, acc.TotalDeposited, acc.TotalWithdrawn, acc.TotalProfit, acc.PeriodicProfit,
		acc.ReferralCode, acc.Upline, acc.LegacyTrader, string(acc.Rank), acc.CreatedAt, acc.UpdatedAt)
	if isUniqueViolation(err) {
		return errDuplicate("account", acc.Email)
	}
	return err
}

func (p *Postgres) Account(ctx context.Context, id string) (model.Account, error) {
	q := "SELECT " + accountColumns + " FROM accounts WHERE id = $1"
	if p.inTx {
		q += " FOR UPDATE"
	}
	return scanAccount(p.q.QueryRow(ctx, q, id))
}

func (p *Postgres) AccountByEmail(ctx context.Context, email string) (model.Account, error) {
	q := "SELECT " + accountColumns + " FROM accounts WHERE email = lower($1)"
	if p.inTx {
		q += " FOR UPDATE"
	}
	return scanAccount(p.q.QueryRow(ctx, q, email))
}

func (p *Postgres) AccountByUsername(ctx context.Context, username string) (model.Account, error) {
	q := "SELECT " + accountColumns + " FROM accounts WHERE username = lower($1)"
	if p.inTx {
		q += " FOR UPDATE"
	}
	return scanAccount(p.q.QueryRow(ctx, q, username))
}

func (p *Postgres) Accounts(ctx context.Context) ([]model.Account, error) {
	rows, err := p.q.Query(ctx, "SELECT "+accountColumns+" FROM accounts ORDER BY created_at ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (p *Postgres) UpdateBalances(ctx context.Context, acc model.Account) error {
	cmd, err := p.q.Exec(ctx, `
		UPDATE accounts
		SET available = $2, capital = $3,
		    total_deposited = $4, total_withdrawn = $5, total_profit = $6, periodic_profit = $7,
		    rank = $8, updated_at = $9
		WHERE id = $1
	`, acc.ID, acc.Available, acc.Capital,
		acc.TotalDeposited, acc.TotalWithdrawn, acc.TotalProfit, acc.PeriodicProfit,
		string(acc.Rank), acc.UpdatedAt)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) AppendEntry(ctx context.Context, entry model.LedgerEntry) error {
	_, err := p.q.Exec(ctx, `
		INSERT INTO ledger_entries (id, account_id, kind, amount, balance, ref, created_at)
		VALUES ($1, $2, $3, $4, $5, nullif($6, ''), $7)
	`, entry.ID, entry.AccountID, string(entry.Kind), entry.Amount, entry.Balance, entry.Ref, entry.CreatedAt)
	if isUniqueViolation(err) {
		return errDuplicate("ledger ref", entry.Ref)
	}
	return err
}

func (p *Postgres) RefApplied(ctx context.Context, kind types.EntryKind, ref string) (bool, error) {
	var ok bool
	err := p.q.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM ledger_entries WHERE kind = $1 AND ref = $2)",
		string(kind), ref).Scan(&ok)
	return ok, err
}

func (p *Postgres) Entries(ctx context.Context, accountID string, limit int) ([]model.LedgerEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.q.Query(ctx, `
		SELECT id, account_id, kind, amount, balance, coalesce(ref, ''), created_at
		FROM ledger_entries
		WHERE account_id = $1
		ORDER BY id DESC
		LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		var kind string
		if err := rows.Scan(&e.ID, &e.AccountID, &kind, &e.Amount, &e.Balance, &e.Ref, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Kind = types.EntryKind(kind)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *Postgres) SumEntryAmounts(ctx context.Context, accountID string) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := p.q.QueryRow(ctx,
		"SELECT coalesce(sum(amount), 0) FROM ledger_entries WHERE account_id = $1",
		accountID).Scan(&sum)
	return sum, err
}

func (p *Postgres) CreatePosition(ctx context.Context, pos model.InvestmentPosition) error {
	_, err := p.q.Exec(ctx, `
		INSERT INTO investment_positions (id, account_id, principal, plan_percent, profit, started_at, duration_seconds, credited, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, pos.ID, pos.AccountID, pos.Principal, pos.PlanPercent, pos.Profit, pos.StartedAt,
		int64(pos.Duration/time.Second), pos.Credited, pos.CreatedAt)
	return err
}

func scanPositions(rows pgx.Rows) ([]model.InvestmentPosition, error) {
	defer rows.Close()
	var out []model.InvestmentPosition
	for rows.Next() {
		var pos model.InvestmentPosition
		var seconds int64
		if err := rows.Scan(&pos.ID, &pos.AccountID, &pos.Principal, &pos.PlanPercent, &pos.Profit,
			&pos.StartedAt, &seconds, &pos.Credited, &pos.CreatedAt); err != nil {
			return nil, err
		}
		pos.Duration = time.Duration(seconds) * time.Second
		out = append(out, pos)
	}
	return out, rows.Err()
}

func (p *Postgres) DuePositions(ctx context.Context, now time.Time) ([]model.InvestmentPosition, error) {
	rows, err := p.q.Query(ctx, `
		SELECT id, account_id, principal, plan_percent, profit, started_at, duration_seconds, credited, created_at
		FROM investment_positions
		WHERE credited = FALSE
		  AND started_at + make_interval(secs => duration_seconds) <= $1
		ORDER BY id ASC
	`, now)
	if err != nil {
		return nil, err
	}
	return scanPositions(rows)
}

func (p *Postgres) MarkPositionCredited(ctx context.Context, id string) error {
	cmd, err := p.q.Exec(ctx,
		"UPDATE investment_positions SET credited = TRUE WHERE id = $1 AND credited = FALSE", id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) PositionsByAccount(ctx context.Context, accountID string) ([]model.InvestmentPosition, error) {
	rows, err := p.q.Query(ctx, `
		SELECT id, account_id, principal, plan_percent, profit, started_at, duration_seconds, credited, created_at
		FROM investment_positions
		WHERE account_id = $1
		ORDER BY created_at ASC
	`, accountID)
	if err != nil {
		return nil, err
	}
	return scanPositions(rows)
}

func (p *Postgres) CreateTrader(ctx context.Context, t model.Trader) error {
	_, err := p.q.Exec(ctx, `
		INSERT INTO traders (id, first_name, last_name, nationality, profit_rate, average_return, followers, rr_ratio, minimum_capital, image, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, t.ID, t.FirstName, t.LastName, t.Nationality, t.ProfitRate, t.AverageReturn, t.Followers,
		t.RRRatio, t.MinimumCapital, t.Image, t.CreatedAt)
	return err
}

const traderColumns = `id, first_name, last_name, nationality, profit_rate, average_return, followers, rr_ratio, minimum_capital, coalesce(image, ''), created_at`

func scanTrader(row pgx.Row) (model.Trader, error) {
	var t model.Trader
	err := row.Scan(&t.ID, &t.FirstName, &t.LastName, &t.Nationality, &t.ProfitRate, &t.AverageReturn,
		&t.Followers, &t.RRRatio, &t.MinimumCapital, &t.Image, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return t, ErrNotFound
	}
	return t, err
}

func (p *Postgres) Trader(ctx context.Context, id string) (model.Trader, error) {
	return scanTrader(p.q.QueryRow(ctx, "SELECT "+traderColumns+" FROM traders WHERE id = $1", id))
}

func (p *Postgres) Traders(ctx context.Context) ([]model.Trader, error) {
	rows, err := p.q.Query(ctx, "SELECT "+traderColumns+" FROM traders ORDER BY created_at ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Trader
	for rows.Next() {
		t, err := scanTrader(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (p *Postgres) DeleteTrader(ctx context.Context, id string) error {
	cmd, err := p.q.Exec(ctx, "DELETE FROM traders WHERE id = $1", id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) AppendTradeHistory(ctx context.Context, ev model.TradeEvent) error {
	_, err := p.q.Exec(ctx, `
		INSERT INTO trade_events (id, trader_id, pair, kind, percent, amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, ev.ID, ev.TraderID, ev.Pair, string(ev.Kind), ev.Percent, ev.Amount, ev.CreatedAt)
	if isForeignKeyViolation(err) {
		return ErrNotFound
	}
	return err
}

func (p *Postgres) TradeHistory(ctx context.Context, traderID string) ([]model.TradeEvent, error) {
	rows, err := p.q.Query(ctx, `
		SELECT id, trader_id, pair, kind, percent, amount, created_at
		FROM trade_events
		WHERE trader_id = $1
		ORDER BY created_at ASC
	`, traderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.TradeEvent
	for rows.Next() {
		var ev model.TradeEvent
		var kind string
		if err := rows.Scan(&ev.ID, &ev.TraderID, &ev.Pair, &kind, &ev.Percent, &ev.Amount, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.Kind = types.TradeKind(kind)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (p *Postgres) CreateSubscription(ctx context.Context, sub model.CopySubscription) error {
	_, err := p.q.Exec(ctx, `
		INSERT INTO copy_subscriptions (id, account_id, trader_id, allocated, equity, status, started_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, sub.ID, sub.AccountID, sub.TraderID, sub.Allocated, sub.Equity, string(sub.Status), sub.StartedAt, sub.UpdatedAt)
	if isUniqueViolation(err) {
		return errDuplicate("active subscription", sub.AccountID+"/"+sub.TraderID)
	}
	return err
}

const subscriptionColumns = `id, account_id, trader_id, allocated, equity, status, started_at, updated_at`

func scanSubscription(row pgx.Row) (model.CopySubscription, error) {
	var s model.CopySubscription
	var status string
	err := row.Scan(&s.ID, &s.AccountID, &s.TraderID, &s.Allocated, &s.Equity, &status, &s.StartedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return s, ErrNotFound
	}
	s.Status = types.SubscriptionStatus(status)
	return s, err
}

func (p *Postgres) ActiveSubscription(ctx context.Context, accountID, traderID string) (model.CopySubscription, error) {
	q := "SELECT " + subscriptionColumns + " FROM copy_subscriptions WHERE account_id = $1 AND trader_id = $2 AND status = 'active'"
	if p.inTx {
		q += " FOR UPDATE"
	}
	return scanSubscription(p.q.QueryRow(ctx, q, accountID, traderID))
}

func (p *Postgres) subscriptionRows(ctx context.Context, q string, args ...any) ([]model.CopySubscription, error) {
	rows, err := p.q.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.CopySubscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) ActiveSubscriptionsByTrader(ctx context.Context, traderID string) ([]model.CopySubscription, error) {
	return p.subscriptionRows(ctx,
		"SELECT "+subscriptionColumns+" FROM copy_subscriptions WHERE trader_id = $1 AND status = 'active' ORDER BY started_at ASC",
		traderID)
}

func (p *Postgres) SubscriptionsByAccount(ctx context.Context, accountID string) ([]model.CopySubscription, error) {
	return p.subscriptionRows(ctx,
		"SELECT "+subscriptionColumns+" FROM copy_subscriptions WHERE account_id = $1 ORDER BY started_at ASC",
		accountID)
}

func (p *Postgres) UpdateSubscription(ctx context.Context, sub model.CopySubscription) error {
	cmd, err := p.q.Exec(ctx, `
		UPDATE copy_subscriptions
		SET equity = $2, status = $3, updated_at = $4
		WHERE id = $1
	`, sub.ID, sub.Equity, string(sub.Status), sub.UpdatedAt)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) LegacyFollowers(ctx context.Context, traderID string) ([]model.Account, error) {
	rows, err := p.q.Query(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE legacy_trader = $1 ORDER BY created_at ASC", traderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (p *Postgres) AppendTradeLog(ctx context.Context, tl model.TradeLog) error {
	_, err := p.q.Exec(ctx, `
		INSERT INTO trade_logs (id, account_id, event_id, pair, kind, amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, tl.ID, tl.AccountID, tl.EventID, tl.Pair, string(tl.Kind), tl.Amount, tl.CreatedAt)
	return err
}

func (p *Postgres) TradeLogs(ctx context.Context, accountID string, limit int) ([]model.TradeLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.q.Query(ctx, `
		SELECT id, account_id, event_id, pair, kind, amount, created_at
		FROM trade_logs
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.TradeLog
	for rows.Next() {
		var tl model.TradeLog
		var kind string
		if err := rows.Scan(&tl.ID, &tl.AccountID, &tl.EventID, &tl.Pair, &kind, &tl.Amount, &tl.CreatedAt); err != nil {
			return nil, err
		}
		tl.Kind = types.TradeKind(kind)
		out = append(out, tl)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
