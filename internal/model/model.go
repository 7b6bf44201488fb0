// Package model defines domain entities used by services and repositories.
package model

import (
	"fmt"
	"math"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/shopspring/decimal"

	"github.com/doutorizze/discount-tokens/internal/errs"
)

// Day is the unit of token validity.
const Day = 24 * time.Hour

// Thresholds for the expiry hints reported alongside active tokens.
const (
	WarningDays = 3
	UrgentDays  = 1
)

// TokenType identifies the template a token was issued from.
type TokenType string

// Known token types.
const (
	TypeFirstUse  TokenType = "PRIMEIRO_USO"
	TypeReferral  TokenType = "INDICACAO"
	TypePromotion TokenType = "PROMOCAO"
	TypeLoyalty   TokenType = "FIDELIDADE"
	TypePartner   TokenType = "PARCEIRO"
)

// TypeTemplate supplies defaults for tokens of a given type.
type TypeTemplate struct {
	Type         TokenType `json:"tipo"`
	Label        string    `json:"label"`
	Percent      int       `json:"percentual"`
	ValidityDays int       `json:"dias_validade"`
}

var typeTemplates = []TypeTemplate{
	{Type: TypeFirstUse, Label: "Primeiro Uso", Percent: 15, ValidityDays: 30},
	{Type: TypeReferral, Label: "Indicação", Percent: 10, ValidityDays: 30},
	{Type: TypePromotion, Label: "Promoção", Percent: 20, ValidityDays: 7},
	{Type: TypeLoyalty, Label: "Fidelidade", Percent: 25, ValidityDays: 60},
	{Type: TypePartner, Label: "Parceiro", Percent: 10, ValidityDays: 15},
}

// TokenTypes returns the full enumeration of token types in declaration order.
func TokenTypes() []TypeTemplate {
	return append([]TypeTemplate(nil), typeTemplates...)
}

// LookupType returns the template for t or ErrInvalidTokenType.
func LookupType(t TokenType) (TypeTemplate, error) {
	for _, tpl := range typeTemplates {
		if tpl.Type == t {
			return tpl, nil
		}
	}
	return TypeTemplate{}, fmt.Errorf("%q: %w", string(t), errs.ErrInvalidTokenType)
}

// Label returns the human label of t, or the raw key when unknown.
func (t TokenType) Label() string {
	if tpl, err := LookupType(t); err == nil {
		return tpl.Label
	}
	return string(t)
}

// MaxDiscountFor returns the monetary cap for a discount percentage: 50 + floor(p/5)*10.
func MaxDiscountFor(percent int) decimal.Decimal {
	return decimal.NewFromInt(int64(50 + (percent/5)*10))
}

// IssueParams describes a token to generate. Zero Percent or ValidityDays take the type default.
type IssueParams struct {
	UserID       string
	Type         TokenType
	Percent      int
	ValidityDays int
}

// Status is the derived lifecycle state of a token.
type Status string

// Derived statuses, in precedence order.
const (
	StatusUsed    Status = "USADO"
	StatusExpired Status = "EXPIRADO"
	StatusActive  Status = "ATIVO"
)

// Token is a single-use discount record.
type Token struct {
	ID            uuid.UUID        `json:"id"`
	Code          string           `json:"token"`
	UserID        string           `json:"user_id"`
	Type          TokenType        `json:"tipo"`
	Percent       int              `json:"percentual"`
	MaxDiscount   decimal.Decimal  `json:"valor_maximo"`
	Used          bool             `json:"usado"`
	UsedAt        *time.Time       `json:"usado_em"`
	UsedAtPartner *string          `json:"usado_em_parceiro"`
	Saved         *decimal.Decimal `json:"valor_economizado"`
	CreatedAt     time.Time        `json:"criado_em"`
	ExpiresAt     time.Time        `json:"expira_em"`
}

// Expired reports whether the expiry instant lies strictly before now.
func (t *Token) Expired(now time.Time) bool { return t.ExpiresAt.Before(now) }

// Status derives the token state: used wins over expired, expired over active.
func (t *Token) Status(now time.Time) Status {
	switch {
	case t.Used:
		return StatusUsed
	case t.Expired(now):
		return StatusExpired
	default:
		return StatusActive
	}
}

// DaysLeft returns the whole days until expiry rounded up, never negative.
func (t *Token) DaysLeft(now time.Time) int {
	rem := t.ExpiresAt.Sub(now)
	if rem <= 0 {
		return 0
	}
	return int(math.Ceil(float64(rem) / float64(Day)))
}

// MarkRedeemed populates the consumption fields in place.
func (t *Token) MarkRedeemed(usedAt time.Time, partner string, saved decimal.Decimal) {
	at, s := usedAt, saved
	t.Used = true
	t.UsedAt = &at
	t.Saved = &s
	if partner != "" {
		p := partner
		t.UsedAtPartner = &p
	}
}

// View annotates the token with its derived state at now.
func (t *Token) View(now time.Time) TokenView {
	days := t.DaysLeft(now)
	st := t.Status(now)
	active := st == StatusActive
	return TokenView{
		Token:         *t,
		TypeLabel:     t.Type.Label(),
		Status:        st,
		DaysLeft:      days,
		ExpiryWarning: active && days <= WarningDays,
		Urgent:        active && days <= UrgentDays,
	}
}

// TokenView is a token annotated for presentation.
type TokenView struct {
	Token
	TypeLabel     string `json:"tipo_label"`
	Status        Status `json:"status"`
	DaysLeft      int    `json:"dias_restantes"`
	ExpiryWarning bool   `json:"alerta_expiracao"`
	Urgent        bool   `json:"urgente"`
}

// FailureCode classifies why a code cannot be redeemed.
type FailureCode string

// Validation failure codes.
const (
	FailureNotFound    FailureCode = "TOKEN_NAO_ENCONTRADO"
	FailureAlreadyUsed FailureCode = "TOKEN_JA_USADO"
	FailureExpired     FailureCode = "TOKEN_EXPIRADO"
)

// Validation is the discriminated result of checking a code.
type Validation struct {
	Valid   bool        `json:"valid"`
	Error   FailureCode `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`

	Code          string          `json:"token,omitempty"`
	Percent       int             `json:"percentual,omitempty"`
	MaxDiscount   decimal.Decimal `json:"valor_maximo"`
	Type          TokenType       `json:"tipo,omitempty"`
	TypeLabel     string          `json:"tipo_label,omitempty"`
	DaysLeft      int             `json:"dias_restantes"`
	ExpiryWarning bool            `json:"alerta_expiracao,omitempty"`
	Urgent        bool            `json:"urgente,omitempty"`

	// Failure context.
	UsedAt    *time.Time `json:"usado_em,omitempty"`
	ExpiredAt *time.Time `json:"expirou_em,omitempty"`
}

// Redemption is the result of consuming a code.
type Redemption struct {
	Success    bool        `json:"success"`
	Validation *Validation `json:"validation,omitempty"`

	Code     string          `json:"token,omitempty"`
	Original decimal.Decimal `json:"valor_original"`
	Discount decimal.Decimal `json:"valor_desconto"`
	Final    decimal.Decimal `json:"valor_final"`
	Percent  int             `json:"percentual,omitempty"`
	Partner  string          `json:"parceiro,omitempty"`
	Message  string          `json:"message,omitempty"`
}
