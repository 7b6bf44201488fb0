// Package grpcserver exposes the discount token gRPC API handlers.
package grpcserver

import (
	"context"
	"errors"
	"net"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/doutorizze/discount-tokens/internal/errs"
	"github.com/doutorizze/discount-tokens/internal/model"
	"github.com/doutorizze/discount-tokens/internal/service"
)

// Server wires services into gRPC handlers.
type Server struct {
	auth   service.AuthService
	tokens service.TokenService
}

var _ DiscountTokensServer = (*Server)(nil)

// New constructs a gRPC server with injected services.
func New(auth service.AuthService, tokens service.TokenService) *Server {
	return &Server{auth: auth, tokens: tokens}
}

// ListTypes returns the token type enumeration with template defaults.
func (s *Server) ListTypes(ctx context.Context, _ *Empty) (*ListTypesResponse, error) {
	if _, _, err := s.authenticate(ctx); err != nil {
		return nil, err
	}
	return &ListTypesResponse{Types: model.TokenTypes()}, nil
}

// Generate issues a token to req.UserID, or to the caller when empty.
func (s *Server) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	ctx, userID, err := s.authenticate(ctx)
	if err != nil {
		return nil, err
	}
	if req.UserID != "" {
		userID = req.UserID
	}
	t, err := s.tokens.Generate(ctx, model.IssueParams{
		UserID:       userID,
		Type:         req.Type,
		Percent:      req.Percent,
		ValidityDays: req.ValidityDays,
	})
	if err != nil {
		return nil, toStatus("generate", err)
	}
	return &GenerateResponse{Token: t.View(t.CreatedAt)}, nil
}

// Validate checks a code. Business failures are carried in the response.
func (s *Server) Validate(ctx context.Context, req *ValidateRequest) (*ValidateResponse, error) {
	ctx, _, err := s.authenticate(ctx)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Code) == "" {
		return nil, status.Error(codes.InvalidArgument, "empty token")
	}
	v, err := s.tokens.Validate(ctx, req.Code)
	if err != nil {
		return nil, toStatus("validate", err)
	}
	return &ValidateResponse{Validation: v}, nil
}

// Use redeems a code against a purchase amount.
func (s *Server) Use(ctx context.Context, req *UseRequest) (*UseResponse, error) {
	ctx, _, err := s.authenticate(ctx)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Code) == "" {
		return nil, status.Error(codes.InvalidArgument, "empty token")
	}
	r, err := s.tokens.Use(ctx, req.Code, req.Purchase, req.Partner)
	if err != nil {
		return nil, toStatus("use", err)
	}
	return &UseResponse{Redemption: r}, nil
}

// ListActive returns the caller's active tokens.
func (s *Server) ListActive(ctx context.Context, _ *ListRequest) (*ListResponse, error) {
	ctx, userID, err := s.authenticate(ctx)
	if err != nil {
		return nil, err
	}
	out, err := s.tokens.ActiveTokens(ctx, userID)
	if err != nil {
		return nil, toStatus("list active", err)
	}
	return &ListResponse{Tokens: out}, nil
}

// ListAll returns the caller's full token history.
func (s *Server) ListAll(ctx context.Context, _ *ListRequest) (*ListResponse, error) {
	ctx, userID, err := s.authenticate(ctx)
	if err != nil {
		return nil, err
	}
	out, err := s.tokens.AllTokens(ctx, userID)
	if err != nil {
		return nil, toStatus("list all", err)
	}
	return &ListResponse{Tokens: out}, nil
}

// ListExpiringSoon returns the caller's tokens within req.Days of expiry.
func (s *Server) ListExpiringSoon(ctx context.Context, req *ListRequest) (*ListResponse, error) {
	ctx, userID, err := s.authenticate(ctx)
	if err != nil {
		return nil, err
	}
	if req.Days < 0 {
		return nil, status.Error(codes.InvalidArgument, "negative days")
	}
	out, err := s.tokens.ExpiringSoon(ctx, userID, req.Days)
	if err != nil {
		return nil, toStatus("list expiring", err)
	}
	return &ListResponse{Tokens: out}, nil
}

// TotalSaved returns the caller's accumulated savings.
func (s *Server) TotalSaved(ctx context.Context, _ *Empty) (*TotalSavedResponse, error) {
	ctx, userID, err := s.authenticate(ctx)
	if err != nil {
		return nil, err
	}
	total, err := s.tokens.TotalSaved(ctx, userID)
	if err != nil {
		return nil, toStatus("total saved", err)
	}
	return &TotalSavedResponse{Total: total}, nil
}

// ExpireOld runs the expiry sweep across all users.
func (s *Server) ExpireOld(ctx context.Context, _ *Empty) (*ListResponse, error) {
	ctx, _, err := s.authenticate(ctx)
	if err != nil {
		return nil, err
	}
	out, err := s.tokens.ExpireOldTokens(ctx)
	if err != nil {
		return nil, toStatus("expire old", err)
	}
	return &ListResponse{Tokens: out}, nil
}

// authenticate verifies the bearer JWT and returns a context carrying the caller.
func (s *Server) authenticate(ctx context.Context) (context.Context, string, error) {
	tok, err := bearerTokenFromMD(ctx)
	if err != nil {
		return ctx, "", status.Error(codes.Unauthenticated, "no auth")
	}
	sub, err := s.auth.Verify(tok)
	if err != nil {
		return ctx, "", status.Error(codes.Unauthenticated, "invalid token")
	}
	return service.WithCaller(ctx, service.Caller{UserID: sub, IP: remoteIP(ctx)}), sub, nil
}

func remoteIP(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return ""
	}
	addr := p.Addr.String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

func bearerTokenFromMD(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", errors.New("no metadata")
	}
	for _, v := range md.Get("authorization") {
		v = strings.TrimSpace(v)
		if len(v) >= 7 && strings.EqualFold(v[:7], "bearer ") {
			t := strings.TrimSpace(v[7:])
			if t != "" {
				return t, nil
			}
		}
	}
	return "", errors.New("no bearer token")
}

// toStatus maps service errors onto gRPC codes.
func toStatus(op string, err error) error {
	switch {
	case errors.Is(err, errs.ErrValidation), errors.Is(err, errs.ErrInvalidTokenType):
		return status.Errorf(codes.InvalidArgument, "%s: %v", op, err)
	case errors.Is(err, errs.ErrRateLimited):
		return status.Error(codes.ResourceExhausted, "rate limited")
	case errors.Is(err, errs.ErrStorageCorrupted):
		return status.Errorf(codes.DataLoss, "%s: %v", op, err)
	case errors.Is(err, errs.ErrCodeExhausted):
		return status.Error(codes.Unavailable, "could not allocate a unique code")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, op)
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, op)
	default:
		return status.Errorf(codes.Internal, "%s: %v", op, err)
	}
}
