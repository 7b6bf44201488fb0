package grpcserver

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/doutorizze/discount-tokens/internal/limiter"
	"github.com/doutorizze/discount-tokens/internal/model"
	"github.com/doutorizze/discount-tokens/internal/repository/memory"
	"github.com/doutorizze/discount-tokens/internal/service"
)

const bufSize = 1 << 20

var signKey = []byte("test-key")

type env struct {
	cli   *Client
	clock *time.Time
}

func startBufGRPC(t *testing.T, opts ...service.Option) *env {
	t.Helper()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	e := &env{clock: &now}

	log := zaptest.NewLogger(t)
	tokens := service.NewTokenService(memory.NewTokenRepo(), log,
		append([]service.Option{service.WithClock(func() time.Time { return *e.clock })}, opts...)...)
	srv := New(service.NewAuthService(signKey, time.Hour), tokens)

	lis := bufconn.Listen(bufSize)
	gs := grpc.NewServer(grpc.ChainUnaryInterceptor(RecoverUnary(log), LoggingUnary(log)))
	RegisterDiscountTokensServer(gs, srv)
	go func() { _ = gs.Serve(lis) }()

	dialer := func(context.Context, string) (net.Conn, error) { return lis.Dial() }
	cc, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(dialer), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = cc.Close(); gs.Stop(); _ = lis.Close() })
	e.cli = NewClient(cc)
	return e
}

func authed(t *testing.T, sub string) context.Context {
	t.Helper()
	j := makeJWT(t, sub, signKey, jwt.SigningMethodHS256, time.Now().Add(-time.Minute), time.Hour)
	return metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer "+j)
}

func TestE2E_Unauthenticated(t *testing.T) {
	e := startBufGRPC(t)
	_, err := e.cli.ListTypes(context.Background())
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("want Unauthenticated, got %v", err)
	}
}

func TestE2E_ListTypes(t *testing.T) {
	e := startBufGRPC(t)
	out, err := e.cli.ListTypes(authed(t, "u1"))
	if err != nil {
		t.Fatalf("ListTypes: %v", err)
	}
	if len(out.Types) != 5 || out.Types[2].Type != model.TypePromotion || out.Types[2].Percent != 20 {
		t.Fatalf("unexpected types: %+v", out.Types)
	}
}

func TestE2E_GenerateValidateUse(t *testing.T) {
	e := startBufGRPC(t)
	ctx := authed(t, "u1")

	gen, err := e.cli.Generate(ctx, &GenerateRequest{Type: model.TypePromotion})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	tok := gen.Token
	if tok.UserID != "u1" || tok.Percent != 20 || !tok.MaxDiscount.Equal(decimal.NewFromInt(90)) {
		t.Fatalf("unexpected token: %+v", tok)
	}
	if tok.Status != model.StatusActive || tok.DaysLeft != 7 || tok.TypeLabel != "Promoção" {
		t.Fatalf("unexpected view: %+v", tok)
	}

	v, err := e.cli.Validate(ctx, &ValidateRequest{Code: tok.Code})
	if err != nil || !v.Valid || v.Percent != 20 {
		t.Fatalf("Validate: %+v %v", v, err)
	}

	// another authenticated caller may redeem: codes are bearer
	use, err := e.cli.Use(authed(t, "partner-7"), &UseRequest{
		Code: tok.Code, Purchase: decimal.NewFromInt(200), Partner: "Clínica",
	})
	if err != nil {
		t.Fatalf("Use: %v", err)
	}
	if !use.Success || !use.Discount.Equal(decimal.NewFromInt(40)) || !use.Final.Equal(decimal.NewFromInt(160)) {
		t.Fatalf("unexpected redemption: %+v", use.Redemption)
	}

	again, err := e.cli.Use(ctx, &UseRequest{Code: tok.Code, Purchase: decimal.NewFromInt(200)})
	if err != nil {
		t.Fatalf("Use again: %v", err)
	}
	if again.Success || again.Validation == nil || again.Validation.Error != model.FailureAlreadyUsed {
		t.Fatalf("want TOKEN_JA_USADO, got %+v", again.Redemption)
	}

	saved, err := e.cli.TotalSaved(ctx)
	if err != nil || !saved.Total.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("TotalSaved: %+v %v", saved, err)
	}
}

func TestE2E_GenerateForOtherUser(t *testing.T) {
	e := startBufGRPC(t)
	ctx := authed(t, "admin")

	gen, err := e.cli.Generate(ctx, &GenerateRequest{UserID: "u9", Type: model.TypeReferral, Percent: 12})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if gen.Token.UserID != "u9" || gen.Token.Percent != 12 {
		t.Fatalf("unexpected token: %+v", gen.Token)
	}

	all, err := e.cli.ListAll(authed(t, "u9"))
	if err != nil || len(all.Tokens) != 1 {
		t.Fatalf("ListAll u9: %+v %v", all, err)
	}
	mine, err := e.cli.ListAll(ctx)
	if err != nil || len(mine.Tokens) != 0 {
		t.Fatalf("ListAll admin: %+v %v", mine, err)
	}
}

func TestE2E_InvalidArguments(t *testing.T) {
	e := startBufGRPC(t)
	ctx := authed(t, "u1")

	if _, err := e.cli.Generate(ctx, &GenerateRequest{Type: "NATAL"}); status.Code(err) != codes.InvalidArgument {
		t.Fatalf("unknown type: want InvalidArgument, got %v", err)
	}
	if _, err := e.cli.Validate(ctx, &ValidateRequest{Code: " "}); status.Code(err) != codes.InvalidArgument {
		t.Fatalf("empty code: want InvalidArgument, got %v", err)
	}
	if _, err := e.cli.Use(ctx, &UseRequest{Code: "DESC-AAAA-0001", Purchase: decimal.Zero}); status.Code(err) != codes.InvalidArgument {
		t.Fatalf("zero purchase: want InvalidArgument, got %v", err)
	}
	if _, err := e.cli.ListExpiringSoon(ctx, -1); status.Code(err) != codes.InvalidArgument {
		t.Fatalf("negative days: want InvalidArgument, got %v", err)
	}
}

func TestE2E_NotFound(t *testing.T) {
	e := startBufGRPC(t)
	v, err := e.cli.Validate(authed(t, "u1"), &ValidateRequest{Code: "DESC-ZZZZ-ZZZZ"})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if v.Valid || v.Error != model.FailureNotFound {
		t.Fatalf("want TOKEN_NAO_ENCONTRADO, got %+v", v.Validation)
	}
}

func TestE2E_ListsAndSweep(t *testing.T) {
	e := startBufGRPC(t)
	ctx := authed(t, "u1")

	promo, _ := e.cli.Generate(ctx, &GenerateRequest{Type: model.TypePromotion})
	_, _ = e.cli.Generate(ctx, &GenerateRequest{Type: model.TypeLoyalty})

	*e.clock = e.clock.Add(5 * model.Day)
	active, err := e.cli.ListActive(ctx)
	if err != nil || len(active.Tokens) != 2 || active.Tokens[0].Code != promo.Token.Code {
		t.Fatalf("ListActive: %+v %v", active, err)
	}
	soon, err := e.cli.ListExpiringSoon(ctx, 0)
	if err != nil || len(soon.Tokens) != 1 || !soon.Tokens[0].ExpiryWarning {
		t.Fatalf("ListExpiringSoon: %+v %v", soon, err)
	}

	*e.clock = e.clock.Add(3 * model.Day)
	swept, err := e.cli.ExpireOld(ctx)
	if err != nil || len(swept.Tokens) != 1 || swept.Tokens[0].Status != model.StatusExpired {
		t.Fatalf("ExpireOld: %+v %v", swept, err)
	}
	all, _ := e.cli.ListAll(ctx)
	if len(all.Tokens) != 2 {
		t.Fatalf("sweep must not drop tokens: %d", len(all.Tokens))
	}
}

func TestE2E_RateLimited(t *testing.T) {
	e := startBufGRPC(t, service.WithLimiter(limiter.NewMemory(time.Hour, 2, time.Hour)))
	ctx := authed(t, "prober")

	for _, code := range []string{"DESC-ZZZZ-0001", "DESC-ZZZZ-0002"} {
		if _, err := e.cli.Validate(ctx, &ValidateRequest{Code: code}); err != nil {
			t.Fatalf("Validate %s: %v", code, err)
		}
	}
	_, err := e.cli.Validate(ctx, &ValidateRequest{Code: "DESC-ZZZZ-0003"})
	if status.Code(err) != codes.ResourceExhausted {
		t.Fatalf("want ResourceExhausted, got %v", err)
	}
}
