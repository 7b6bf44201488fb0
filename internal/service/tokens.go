// Package service contains the discount token lifecycle service.
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/doutorizze/discount-tokens/internal/crypto"
	"github.com/doutorizze/discount-tokens/internal/errs"
	"github.com/doutorizze/discount-tokens/internal/limiter"
	"github.com/doutorizze/discount-tokens/internal/model"
	"github.com/doutorizze/discount-tokens/internal/repository"
)

// DefaultExpiringSoonDays is the threshold used by ExpiringSoon when none is given.
const DefaultExpiringSoonDays = 3

const maxCodeAttempts = 5

var hundred = decimal.NewFromInt(100)

// TokenService defines the discount token lifecycle.
type TokenService interface {
	// Generate issues a new token for a user from a type template.
	Generate(ctx context.Context, p model.IssueParams) (*model.Token, error)
	// Validate checks a code without consuming it.
	Validate(ctx context.Context, code string) (model.Validation, error)
	// Use consumes a code against a purchase and records the saving.
	Use(ctx context.Context, code string, purchase decimal.Decimal, partner string) (model.Redemption, error)
	// ActiveTokens lists unused, unexpired tokens soonest-expiry first.
	ActiveTokens(ctx context.Context, userID string) ([]model.TokenView, error)
	// AllTokens lists the user's full history newest first.
	AllTokens(ctx context.Context, userID string) ([]model.TokenView, error)
	// ExpiringSoon lists active tokens with at most days left.
	ExpiringSoon(ctx context.Context, userID string, days int) ([]model.TokenView, error)
	// ExpireOldTokens reports tokens that expired without being used.
	ExpireOldTokens(ctx context.Context) ([]model.TokenView, error)
	// TotalSaved sums the savings over the user's used tokens.
	TotalSaved(ctx context.Context, userID string) (decimal.Decimal, error)
}

// Observer receives lifecycle events, e.g. for metrics.
type Observer interface {
	TokenIssued(t model.TokenType)
	TokenValidated(failure model.FailureCode)
	TokenRedeemed(t model.TokenType, saved decimal.Decimal)
}

type nopObserver struct{}

func (nopObserver) TokenIssued(model.TokenType) {}
func (nopObserver) TokenValidated(model.FailureCode) {}
func (nopObserver) TokenRedeemed(model.TokenType, decimal.Decimal) {}

type TokenServiceImpl struct {
	repo    repository.TokenRepository
	log     *zap.Logger
	now     func() time.Time
	newCode func() (string, error)
	obs     Observer
	lim     limiter.Limiter
}

// Option customizes TokenServiceImpl.
type Option func(*TokenServiceImpl)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(s *TokenServiceImpl) { s.now = now } }

// WithCodeGenerator overrides the code source.
func WithCodeGenerator(gen func() (string, error)) Option {
	return func(s *TokenServiceImpl) { s.newCode = gen }
}

// WithObserver attaches a lifecycle observer.
func WithObserver(o Observer) Option { return func(s *TokenServiceImpl) { s.obs = o } }

// WithLimiter throttles callers that keep looking up unknown codes.
func WithLimiter(l limiter.Limiter) Option { return func(s *TokenServiceImpl) { s.lim = l } }

// NewTokenService constructs TokenService over a repository.
func NewTokenService(repo repository.TokenRepository, log *zap.Logger, opts ...Option) *TokenServiceImpl {
	if log == nil {
		log = zap.NewNop()
	}
	s := &TokenServiceImpl{
		repo:    repo,
		log:     log,
		now:     time.Now,
		newCode: crypto.NewCode,
		obs:     nopObserver{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Generate resolves template defaults, computes cap and expiry and stores a token
// under a code that is unique in the repository.
// Validation rules:
// - userID not blank
// - type known
// - percent 0 (default) or 1..100
// - validity 0 (default) or >= 1
func (s *TokenServiceImpl) Generate(ctx context.Context, p model.IssueParams) (*model.Token, error) {
	userID := strings.TrimSpace(p.UserID)
	if userID == "" {
		return nil, fmt.Errorf("%w: empty userID", errs.ErrValidation)
	}
	tpl, err := model.LookupType(p.Type)
	if err != nil {
		return nil, err
	}
	percent := tpl.Percent
	switch {
	case p.Percent < 0 || p.Percent > 100:
		return nil, fmt.Errorf("%w: percent %d out of range", errs.ErrValidation, p.Percent)
	case p.Percent > 0:
		percent = p.Percent
	}
	days := tpl.ValidityDays
	switch {
	case p.ValidityDays < 0:
		return nil, fmt.Errorf("%w: negative validity", errs.ErrValidation)
	case p.ValidityDays > 0:
		days = p.ValidityDays
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	now := s.now()
	t := &model.Token{
		ID:          id,
		UserID:      userID,
		Type:        tpl.Type,
		Percent:     percent,
		MaxDiscount: model.MaxDiscountFor(percent),
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Duration(days) * model.Day),
	}

	for attempt := 1; ; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return nil, err
		}
		t.Code = code
		err = s.repo.Create(ctx, t)
		if err == nil {
			break
		}
		if !errors.Is(err, errs.ErrAlreadyExists) {
			return nil, err
		}
		if attempt == maxCodeAttempts {
			return nil, errs.ErrCodeExhausted
		}
		s.log.Warn("token code collision", zap.Int("attempt", attempt))
	}

	s.obs.TokenIssued(t.Type)
	s.log.Info("token issued",
		zap.String("code", crypto.MaskCode(t.Code)),
		zap.String("type", string(t.Type)),
		zap.Int("percent", t.Percent),
		zap.Time("expires_at", t.ExpiresAt),
	)
	return t, nil
}

// Validate looks the code up across all users; holding a code is enough to use it.
func (s *TokenServiceImpl) Validate(ctx context.Context, code string) (model.Validation, error) {
	v, _, err := s.validate(ctx, code)
	if err != nil {
		return model.Validation{}, err
	}
	s.obs.TokenValidated(v.Error)
	return v, nil
}

func (s *TokenServiceImpl) validate(ctx context.Context, code string) (model.Validation, *model.Token, error) {
	caller, _ := CallerFromCtx(ctx)
	ipHash := limiter.HashIP(caller.IP)
	if s.lim != nil {
		ok, retry, err := s.lim.Allow(ctx, caller.UserID, ipHash)
		if err != nil {
			return model.Validation{}, nil, err
		}
		if !ok {
			return model.Validation{}, nil, fmt.Errorf("%w: retry in %s", errs.ErrRateLimited, retry.Round(time.Second))
		}
	}

	code = crypto.NormalizeCode(code)
	t, err := s.repo.GetByCode(ctx, code)
	if errors.Is(err, errs.ErrNotFound) {
		if s.lim != nil {
			blocked, _, ferr := s.lim.Failure(ctx, caller.UserID, ipHash)
			if ferr != nil {
				s.log.Warn("limiter failure record", zap.Error(ferr))
			} else if blocked {
				s.log.Warn("caller blocked after unknown codes", zap.String("caller", caller.UserID))
			}
		}
		return notFound(), nil, nil
	}
	if err != nil {
		return model.Validation{}, nil, err
	}
	now := s.now()
	if t.Used {
		return alreadyUsed(t.UsedAt), t, nil
	}
	if t.Expired(now) {
		exp := t.ExpiresAt
		return model.Validation{
			Error:     model.FailureExpired,
			Message:   "Este token expirou",
			ExpiredAt: &exp,
		}, t, nil
	}
	view := t.View(now)
	return model.Validation{
		Valid:         true,
		Message:       fmt.Sprintf("Token válido! %d%% de desconto", t.Percent),
		Code:          t.Code,
		Percent:       t.Percent,
		MaxDiscount:   t.MaxDiscount,
		Type:          t.Type,
		TypeLabel:     view.TypeLabel,
		DaysLeft:      view.DaysLeft,
		ExpiryWarning: view.ExpiryWarning,
		Urgent:        view.Urgent,
	}, t, nil
}

func notFound() model.Validation {
	return model.Validation{Error: model.FailureNotFound, Message: "Token não encontrado"}
}

func alreadyUsed(at *time.Time) model.Validation {
	return model.Validation{Error: model.FailureAlreadyUsed, Message: "Este token já foi utilizado", UsedAt: at}
}

// Use validates the code, caps the discount and performs the single-use transition.
func (s *TokenServiceImpl) Use(
	ctx context.Context, code string, purchase decimal.Decimal, partner string,
) (model.Redemption, error) {
	if !purchase.IsPositive() {
		return model.Redemption{}, fmt.Errorf("%w: purchase must be positive", errs.ErrValidation)
	}
	v, t, err := s.validate(ctx, code)
	if err != nil {
		return model.Redemption{}, err
	}
	if !v.Valid {
		s.obs.TokenValidated(v.Error)
		return model.Redemption{Validation: &v}, nil
	}

	discount := Discount(purchase, t.Percent, t.MaxDiscount)
	partner = strings.TrimSpace(partner)
	used, err := s.repo.MarkUsed(ctx, t.Code, s.now(), partner, discount)
	switch {
	case errors.Is(err, errs.ErrAlreadyUsed):
		// lost the race to a concurrent redemption
		cur, gerr := s.repo.GetByCode(ctx, t.Code)
		var at *time.Time
		if gerr == nil {
			at = cur.UsedAt
		}
		failed := alreadyUsed(at)
		s.obs.TokenValidated(failed.Error)
		return model.Redemption{Validation: &failed}, nil
	case errors.Is(err, errs.ErrNotFound):
		failed := notFound()
		return model.Redemption{Validation: &failed}, nil
	case err != nil:
		return model.Redemption{}, err
	}

	s.obs.TokenRedeemed(used.Type, discount)
	s.log.Info("token redeemed",
		zap.String("code", crypto.MaskCode(used.Code)),
		zap.String("partner", partner),
		zap.String("discount", discount.StringFixed(2)),
	)
	return model.Redemption{
		Success:  true,
		Code:     used.Code,
		Original: purchase,
		Discount: discount,
		Final:    purchase.Sub(discount),
		Percent:  used.Percent,
		Partner:  partner,
		Message:  fmt.Sprintf("Desconto de %s aplicado! Você economizou %d%%.", FormatBRL(discount), used.Percent),
	}, nil
}

// Discount returns min(purchase*percent/100, limit) rounded to cents.
func Discount(purchase decimal.Decimal, percent int, limit decimal.Decimal) decimal.Decimal {
	d := purchase.Mul(decimal.NewFromInt(int64(percent))).Div(hundred).Round(2)
	if d.GreaterThan(limit) {
		return limit
	}
	return d
}

// FormatBRL renders an amount as "R$ 1234,56".
func FormatBRL(d decimal.Decimal) string {
	return "R$ " + strings.Replace(d.StringFixed(2), ".", ",", 1)
}

// ActiveTokens returns unused, unexpired tokens ordered by expiry ascending.
func (s *TokenServiceImpl) ActiveTokens(ctx context.Context, userID string) ([]model.TokenView, error) {
	all, err := s.userTokens(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]model.TokenView, 0, len(all))
	for i := range all {
		if all[i].Status(now) == model.StatusActive {
			out = append(out, all[i].View(now))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out, nil
}

// AllTokens returns every token of the user ordered by creation descending.
func (s *TokenServiceImpl) AllTokens(ctx context.Context, userID string) ([]model.TokenView, error) {
	all, err := s.userTokens(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]model.TokenView, 0, len(all))
	for i := range all {
		out = append(out, all[i].View(now))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// ExpiringSoon filters active tokens to those within days of expiry.
func (s *TokenServiceImpl) ExpiringSoon(ctx context.Context, userID string, days int) ([]model.TokenView, error) {
	if days <= 0 {
		days = DefaultExpiringSoonDays
	}
	active, err := s.ActiveTokens(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := active[:0]
	for _, v := range active {
		if v.DaysLeft <= days {
			out = append(out, v)
		}
	}
	return out, nil
}

// ExpireOldTokens returns expired, unused tokens labelled EXPIRADO.
// Status is derived on read, so nothing is written back.
func (s *TokenServiceImpl) ExpireOldTokens(ctx context.Context) ([]model.TokenView, error) {
	now := s.now()
	list, err := s.repo.ListExpiredUnused(ctx, now)
	if err != nil {
		return nil, err
	}
	out := make([]model.TokenView, 0, len(list))
	for i := range list {
		out = append(out, list[i].View(now))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	s.log.Info("expiry sweep", zap.Int("expired", len(out)))
	return out, nil
}

// TotalSaved sums Saved over used tokens of the user.
func (s *TokenServiceImpl) TotalSaved(ctx context.Context, userID string) (decimal.Decimal, error) {
	all, err := s.userTokens(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, t := range all {
		if t.Used && t.Saved != nil {
			total = total.Add(*t.Saved)
		}
	}
	return total, nil
}

func (s *TokenServiceImpl) userTokens(ctx context.Context, userID string) ([]model.Token, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: empty userID", errs.ErrValidation)
	}
	return s.repo.ListByUser(ctx, userID)
}
