package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/kelvinogodo/atlamarkets/internal/ledger"
	"github.com/kelvinogodo/atlamarkets/internal/model"
	"github.com/kelvinogodo/atlamarkets/internal/store"
	"github.com/kelvinogodo/atlamarkets/internal/types"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountExists      = errors.New("email or username already registered")
)

type Service struct {
	store  store.Store
	ledger *ledger.Service
	issuer string
	secret []byte
	ttl    time.Duration
	log    zerolog.Logger
}

func NewService(st store.Store, ledgerSvc *ledger.Service, issuer string, secret []byte, ttl time.Duration, log zerolog.Logger) *Service {
	return &Service{
		store:  st,
		ledger: ledgerSvc,
		issuer: issuer,
		secret: secret,
		ttl:    ttl,
		log:    log.With().Str("component", "auth").Logger(),
	}
}

type RegisterInput struct {
	Email        string `json:"email"`
	Username     string `json:"username"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Password     string `json:"password"`
	ReferralCode string `json:"referral_code"`
}

// Register creates the account, resolves the referral parameter to an upline
// and credits the upline's signup bonus. A referral matching no account is
// ignored rather than rejected. When the username is omitted it is derived
// from the email's local part.
func (s *Service) Register(ctx context.Context, in RegisterInput) (model.Account, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if in.Email == "" || len(in.Password) < 8 {
		return model.Account{}, errors.New("email and a password of at least 8 characters required")
	}
	in.Username = strings.ToLower(strings.TrimSpace(in.Username))
	if in.Username == "" {
		local, _, _ := strings.Cut(in.Email, "@")
		in.Username = local + "-" + uuid.NewString()[:4]
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return model.Account{}, err
	}

	var uplineAcc *model.Account
	if code := strings.TrimSpace(in.ReferralCode); code != "" {
		ref, err := s.resolveReferral(ctx, code)
		if err == nil {
			uplineAcc = &ref
		} else if !errors.Is(err, store.ErrNotFound) {
			return model.Account{}, err
		}
	}

	now := time.Now().UTC()
	acc := model.Account{
		ID:           uuid.NewString(),
		Email:        in.Email,
		Username:     in.Username,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		PasswordHash: string(hash),
		ReferralCode: in.Username + "-" + uuid.NewString()[:8],
		Rank:         types.RankSilver,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if uplineAcc != nil {
		acc.Upline = uplineAcc.Username
	}
	if err := s.store.CreateAccount(ctx, acc); err != nil {
		if store.IsDuplicate(err) {
			return model.Account{}, ErrAccountExists
		}
		return model.Account{}, err
	}

	if uplineAcc != nil {
		if _, err := s.ledger.SignupBonus(ctx, uplineAcc.ID, acc.ID); err != nil && !errors.Is(err, ledger.ErrDuplicateEntry) {
			s.log.Error().Err(err).Str("upline_id", uplineAcc.ID).Msg("signup bonus failed")
		}
	}

	return s.store.Account(ctx, acc.ID)
}

// resolveReferral accepts either the upline's username (the form the shared
// referral links carry) or a generated referral code.
func (s *Service) resolveReferral(ctx context.Context, code string) (model.Account, error) {
	acc, err := s.store.AccountByUsername(ctx, code)
	if err == nil {
		return acc, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return model.Account{}, err
	}
	accounts, err := s.store.Accounts(ctx)
	if err != nil {
		return model.Account{}, err
	}
	for _, acc := range accounts {
		if acc.ReferralCode == code {
			return acc, nil
		}
	}
	return model.Account{}, store.ErrNotFound
}

func (s *Service) Login(ctx context.Context, email, password string) (string, model.Account, error) {
	acc, err := s.store.AccountByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, store.ErrNotFound) {
		return "", model.Account{}, ErrInvalidCredentials
	}
	if err != nil {
		return "", model.Account{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password)); err != nil {
		return "", model.Account{}, ErrInvalidCredentials
	}
	token, err := s.signToken(acc.ID)
	if err != nil {
		return "", model.Account{}, err
	}
	return token, acc, nil
}

func (s *Service) Account(ctx context.Context, id string) (model.Account, error) {
	return s.store.Account(ctx, id)
}

// Profile is the dashboard snapshot: the account plus its subscriptions,
// recent ledger entries and trade logs in one round trip.
type Profile struct {
	Account       model.Account            `json:"account"`
	Subscriptions []model.CopySubscription `json:"subscriptions"`
	Entries       []model.LedgerEntry      `json:"entries"`
	TradeLogs     []model.TradeLog         `json:"trade_logs"`
}

func (s *Service) Profile(ctx context.Context, id string) (Profile, error) {
	acc, err := s.store.Account(ctx, id)
	if err != nil {
		return Profile{}, err
	}
	subs, err := s.store.SubscriptionsByAccount(ctx, id)
	if err != nil {
		return Profile{}, err
	}
	entries, err := s.store.Entries(ctx, id, profileEntryLimit)
	if err != nil {
		return Profile{}, err
	}
	logs, err := s.store.TradeLogs(ctx, id, profileEntryLimit)
	if err != nil {
		return Profile{}, err
	}
	return Profile{Account: acc, Subscriptions: subs, Entries: entries, TradeLogs: logs}, nil
}

const profileEntryLimit = 20

func (s *Service) signToken(accountID string) (string, error) {
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Subject:   accountID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(s.secret)
}

func (s *Service) ParseToken(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return s.secret, nil
	})
	if err != nil {
		return "", err
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return "", errors.New("invalid token")
	}
	if s.issuer != "" && claims.Issuer != s.issuer {
		return "", errors.New("invalid token issuer")
	}
	return claims.Subject, nil
}
