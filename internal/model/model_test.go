package model

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/doutorizze/discount-tokens/internal/errs"
)

var t0 = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func TestMaxDiscountFor(t *testing.T) {
	t.Parallel()

	cases := map[int]int64{0: 50, 4: 50, 5: 60, 10: 70, 15: 80, 20: 90, 25: 100, 100: 250}
	for p, want := range cases {
		if got := MaxDiscountFor(p); !got.Equal(decimal.NewFromInt(want)) {
			t.Fatalf("MaxDiscountFor(%d)=%s, want %d", p, got, want)
		}
	}
}

func TestLookupType(t *testing.T) {
	t.Parallel()

	tpl, err := LookupType(TypePromotion)
	if err != nil {
		t.Fatalf("LookupType: %v", err)
	}
	if tpl.Percent != 20 || tpl.ValidityDays != 7 || tpl.Label != "Promoção" {
		t.Fatalf("unexpected PROMOCAO template: %+v", tpl)
	}
	if _, err := LookupType("BLACK_FRIDAY"); !errors.Is(err, errs.ErrInvalidTokenType) {
		t.Fatalf("want ErrInvalidTokenType, got %v", err)
	}
	if TokenType("BLACK_FRIDAY").Label() != "BLACK_FRIDAY" {
		t.Fatalf("unknown type should label as its key")
	}
}

func TestTokenTypes_CopyAndOrder(t *testing.T) {
	t.Parallel()

	list := TokenTypes()
	if len(list) != 5 || list[0].Type != TypeFirstUse || list[4].Type != TypePartner {
		t.Fatalf("unexpected enumeration: %+v", list)
	}
	list[0].Percent = 99
	if TokenTypes()[0].Percent != 15 {
		t.Fatalf("TokenTypes must return a copy")
	}
}

func TestStatus_Precedence(t *testing.T) {
	t.Parallel()

	tok := Token{ExpiresAt: t0.Add(Day)}
	if tok.Status(t0) != StatusActive {
		t.Fatalf("want active")
	}
	if tok.Status(t0.Add(2*Day)) != StatusExpired {
		t.Fatalf("want expired")
	}
	tok.MarkRedeemed(t0, "", decimal.NewFromInt(1))
	if tok.Status(t0.Add(2*Day)) != StatusUsed {
		t.Fatalf("used must win over expired")
	}
}

func TestExpired_Boundary(t *testing.T) {
	t.Parallel()

	tok := Token{ExpiresAt: t0}
	if tok.Expired(t0) {
		t.Fatalf("expiry instant itself is not expired")
	}
	if !tok.Expired(t0.Add(time.Nanosecond)) {
		t.Fatalf("want expired just after the instant")
	}
}

func TestDaysLeft_Ceil(t *testing.T) {
	t.Parallel()

	tok := Token{ExpiresAt: t0.Add(7 * Day)}
	cases := []struct {
		now  time.Time
		want int
	}{
		{t0, 7},
		{t0.Add(time.Hour), 7},
		{t0.Add(6*Day + time.Minute), 1},
		{t0.Add(7 * Day), 0},
		{t0.Add(8 * Day), 0},
	}
	for _, c := range cases {
		if got := tok.DaysLeft(c.now); got != c.want {
			t.Fatalf("DaysLeft(%s)=%d, want %d", c.now, got, c.want)
		}
	}
}

func TestView_Flags(t *testing.T) {
	t.Parallel()

	tok := Token{Type: TypeLoyalty, ExpiresAt: t0.Add(3 * Day)}
	v := tok.View(t0)
	if v.TypeLabel != "Fidelidade" || v.Status != StatusActive || v.DaysLeft != 3 {
		t.Fatalf("unexpected view: %+v", v)
	}
	if !v.ExpiryWarning || v.Urgent {
		t.Fatalf("3 days left: want warning, not urgent")
	}

	v = tok.View(t0.Add(2*Day + time.Hour))
	if !v.ExpiryWarning || !v.Urgent {
		t.Fatalf("1 day left: want warning and urgent")
	}

	v = tok.View(t0.Add(4 * Day))
	if v.Status != StatusExpired || v.ExpiryWarning || v.Urgent {
		t.Fatalf("expired token carries no hints: %+v", v)
	}
}

func TestMarkRedeemed(t *testing.T) {
	t.Parallel()

	var tok Token
	tok.MarkRedeemed(t0, "", decimal.RequireFromString("12.34"))
	if !tok.Used || tok.UsedAt == nil || !tok.UsedAt.Equal(t0) {
		t.Fatalf("used fields not set: %+v", tok)
	}
	if tok.UsedAtPartner != nil {
		t.Fatalf("empty partner must stay nil")
	}
	if tok.Saved == nil || tok.Saved.String() != "12.34" {
		t.Fatalf("saved mismatch: %v", tok.Saved)
	}

	tok = Token{}
	tok.MarkRedeemed(t0, "Clínica Sorriso", decimal.Zero)
	if tok.UsedAtPartner == nil || *tok.UsedAtPartner != "Clínica Sorriso" {
		t.Fatalf("partner not recorded")
	}
}

func TestValidation_ZeroDaysLeftIsEncoded(t *testing.T) {
	t.Parallel()

	tok := Token{Code: "DESC-AAAA-0001", Type: TypePromotion, Percent: 20, CreatedAt: t0, ExpiresAt: t0.Add(Day)}
	at := tok.ExpiresAt
	if tok.Expired(at) {
		t.Fatalf("token must still be valid at its expiry instant")
	}
	v := Validation{Valid: true, Code: tok.Code, DaysLeft: tok.View(at).DaysLeft}
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(b), `"dias_restantes":0`) {
		t.Fatalf("days left missing: %s", b)
	}
}
