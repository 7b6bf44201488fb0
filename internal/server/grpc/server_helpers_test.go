package grpcserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/doutorizze/discount-tokens/internal/errs"
	"github.com/doutorizze/discount-tokens/internal/service"
)

func makeJWT(t *testing.T, sub string, key []byte, method jwt.SigningMethod, iat time.Time, ttl time.Duration) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   sub,
		IssuedAt:  jwt.NewNumericDate(iat),
		NotBefore: jwt.NewNumericDate(iat),
		ExpiresAt: jwt.NewNumericDate(iat.Add(ttl)),
	}
	token := jwt.NewWithClaims(method, claims)
	s, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	return s
}

func ctxWithAuth(token string) context.Context {
	md := metadata.New(map[string]string{
		"authorization": "Bearer " + token,
	})
	return metadata.NewIncomingContext(context.Background(), md)
}

func Test_bearerTokenFromMD_OkAndErrors(t *testing.T) {
	t.Parallel()

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer abc.def.ghi"))
	got, err := bearerTokenFromMD(ctx)
	if err != nil || got != "abc.def.ghi" {
		t.Fatalf("ok: got=%q err=%v", got, err)
	}

	ctx = metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "bearer xyz"))
	if got, _ := bearerTokenFromMD(ctx); got != "xyz" {
		t.Fatalf("scheme is case-insensitive, got %q", got)
	}

	ctx = metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Basic foo"))
	if _, err := bearerTokenFromMD(ctx); err == nil {
		t.Fatalf("want error on non-bearer")
	}

	ctx = metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer   "))
	if _, err := bearerTokenFromMD(ctx); err == nil {
		t.Fatalf("want error on empty token")
	}

	if _, err := bearerTokenFromMD(context.Background()); err == nil {
		t.Fatalf("want error on no metadata")
	}
}

func Test_authenticate_Valid(t *testing.T) {
	t.Parallel()

	key := []byte("secret")
	s := New(service.NewAuthService(key, time.Minute), nil)
	j := makeJWT(t, "u1", key, jwt.SigningMethodHS256, time.Now().UTC().Add(-time.Minute), 10*time.Minute)
	ctx := peer.NewContext(ctxWithAuth(j), &peer.Peer{Addr: &net.TCPAddr{IP: net.IPv4(10, 0, 0, 7), Port: 5555}})

	ctx, sub, err := s.authenticate(ctx)
	if err != nil || sub != "u1" {
		t.Fatalf("authenticate: sub=%q err=%v", sub, err)
	}
	c, ok := service.CallerFromCtx(ctx)
	if !ok || c.UserID != "u1" || c.IP != "10.0.0.7" {
		t.Fatalf("caller not attached or port kept: %+v", c)
	}
}

func Test_authenticate_Rejects(t *testing.T) {
	t.Parallel()

	key := []byte("secret")
	s := New(service.NewAuthService(key, time.Minute), nil)
	now := time.Now().UTC()

	cases := map[string]context.Context{
		"no metadata": context.Background(),
		"wrong key":   ctxWithAuth(makeJWT(t, "u1", []byte("other"), jwt.SigningMethodHS256, now, time.Minute)),
		"hs512":       ctxWithAuth(makeJWT(t, "u1", key, jwt.SigningMethodHS512, now, time.Minute)),
		"expired":     ctxWithAuth(makeJWT(t, "u1", key, jwt.SigningMethodHS256, now.Add(-time.Hour), time.Minute)),
	}
	for name, ctx := range cases {
		if _, _, err := s.authenticate(ctx); status.Code(err) != codes.Unauthenticated {
			t.Fatalf("%s: want Unauthenticated, got %v", name, err)
		}
	}
}

func Test_toStatus_Mapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		want codes.Code
	}{
		{fmt.Errorf("%w: empty userID", errs.ErrValidation), codes.InvalidArgument},
		{fmt.Errorf("%q: %w", "NATAL", errs.ErrInvalidTokenType), codes.InvalidArgument},
		{fmt.Errorf("%w: retry in 1m", errs.ErrRateLimited), codes.ResourceExhausted},
		{fmt.Errorf("x: %w", errs.ErrStorageCorrupted), codes.DataLoss},
		{errs.ErrCodeExhausted, codes.Unavailable},
		{context.Canceled, codes.Canceled},
		{context.DeadlineExceeded, codes.DeadlineExceeded},
		{errors.New("boom"), codes.Internal},
	}
	for _, c := range cases {
		if got := status.Code(toStatus("op", c.err)); got != c.want {
			t.Fatalf("%v: got %s, want %s", c.err, got, c.want)
		}
	}
}

func Test_remoteIP(t *testing.T) {
	t.Parallel()

	if remoteIP(context.Background()) != "" {
		t.Fatalf("no peer must give empty ip")
	}
	ctx := peer.NewContext(context.Background(), &peer.Peer{Addr: fakeAddr{}})
	if got := remoteIP(ctx); got != "127.0.0.1" {
		t.Fatalf("got %q", got)
	}
}
