package grpcserver

import (
	"context"

	"github.com/shopspring/decimal"
	"google.golang.org/grpc"

	"github.com/doutorizze/discount-tokens/internal/model"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "doutorizze.tokens.v1.DiscountTokens"

// Full method names.
const (
	MethodListTypes        = "/" + ServiceName + "/ListTypes"
	MethodGenerate         = "/" + ServiceName + "/Generate"
	MethodValidate         = "/" + ServiceName + "/Validate"
	MethodUse              = "/" + ServiceName + "/Use"
	MethodListActive       = "/" + ServiceName + "/ListActive"
	MethodListAll          = "/" + ServiceName + "/ListAll"
	MethodListExpiringSoon = "/" + ServiceName + "/ListExpiringSoon"
	MethodTotalSaved       = "/" + ServiceName + "/TotalSaved"
	MethodExpireOld        = "/" + ServiceName + "/ExpireOld"
)

// Empty is the request of methods that take no arguments.
type Empty struct{}

// ListTypesResponse carries the token type catalogue.
type ListTypesResponse struct {
	Types []model.TypeTemplate `json:"types"`
}

// GenerateRequest issues a token; UserID defaults to the caller.
type GenerateRequest struct {
	UserID       string          `json:"user_id,omitempty"`
	Type         model.TokenType `json:"tipo"`
	Percent      int             `json:"percentual,omitempty"`
	ValidityDays int             `json:"dias_validade,omitempty"`
}

// GenerateResponse returns the issued token.
type GenerateResponse struct {
	Token model.TokenView `json:"token"`
}

// ValidateRequest names the code to check.
type ValidateRequest struct {
	Code string `json:"token"`
}

// ValidateResponse is the validation outcome.
type ValidateResponse struct {
	model.Validation
}

// UseRequest redeems a code against a purchase amount.
type UseRequest struct {
	Code     string          `json:"token"`
	Purchase decimal.Decimal `json:"valor_compra"`
	Partner  string          `json:"parceiro,omitempty"`
}

// UseResponse is the redemption outcome.
type UseResponse struct {
	model.Redemption
}

// ListRequest is shared by the caller-scoped list methods.
type ListRequest struct {
	// Days bounds ListExpiringSoon; ignored elsewhere.
	Days int `json:"dias,omitempty"`
}

// ListResponse carries annotated tokens.
type ListResponse struct {
	Tokens []model.TokenView `json:"tokens"`
}

// TotalSavedResponse is the caller's accumulated savings.
type TotalSavedResponse struct {
	Total decimal.Decimal `json:"economia_total"`
}

// DiscountTokensServer is the server API for the DiscountTokens service.
type DiscountTokensServer interface {
	ListTypes(context.Context, *Empty) (*ListTypesResponse, error)
	Generate(context.Context, *GenerateRequest) (*GenerateResponse, error)
	Validate(context.Context, *ValidateRequest) (*ValidateResponse, error)
	Use(context.Context, *UseRequest) (*UseResponse, error)
	ListActive(context.Context, *ListRequest) (*ListResponse, error)
	ListAll(context.Context, *ListRequest) (*ListResponse, error)
	ListExpiringSoon(context.Context, *ListRequest) (*ListResponse, error)
	TotalSaved(context.Context, *Empty) (*TotalSavedResponse, error)
	ExpireOld(context.Context, *Empty) (*ListResponse, error)
}

// RegisterDiscountTokensServer attaches srv to a gRPC service registrar.
func RegisterDiscountTokensServer(s grpc.ServiceRegistrar, srv DiscountTokensServer) {
	s.RegisterService(&serviceDesc, srv)
}

func unary[Req any, Resp any](
	method string, call func(DiscountTokensServer, context.Context, *Req) (*Resp, error),
) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(DiscountTokensServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(DiscountTokensServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DiscountTokensServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListTypes", Handler: unary(MethodListTypes, DiscountTokensServer.ListTypes)},
		{MethodName: "Generate", Handler: unary(MethodGenerate, DiscountTokensServer.Generate)},
		{MethodName: "Validate", Handler: unary(MethodValidate, DiscountTokensServer.Validate)},
		{MethodName: "Use", Handler: unary(MethodUse, DiscountTokensServer.Use)},
		{MethodName: "ListActive", Handler: unary(MethodListActive, DiscountTokensServer.ListActive)},
		{MethodName: "ListAll", Handler: unary(MethodListAll, DiscountTokensServer.ListAll)},
		{MethodName: "ListExpiringSoon", Handler: unary(MethodListExpiringSoon, DiscountTokensServer.ListExpiringSoon)},
		{MethodName: "TotalSaved", Handler: unary(MethodTotalSaved, DiscountTokensServer.TotalSaved)},
		{MethodName: "ExpireOld", Handler: unary(MethodExpireOld, DiscountTokensServer.ExpireOld)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "doutorizze/tokens/v1/tokens.json",
}

// Client is a typed client for the DiscountTokens service.
type Client struct{ cc grpc.ClientConnInterface }

// NewClient wraps a connection; calls are sent with the JSON codec.
func NewClient(cc grpc.ClientConnInterface) *Client { return &Client{cc: cc} }

func invoke[Resp any](ctx context.Context, c *Client, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// ListTypes returns the token type catalogue.
func (c *Client) ListTypes(ctx context.Context, opts ...grpc.CallOption) (*ListTypesResponse, error) {
	return invoke[ListTypesResponse](ctx, c, MethodListTypes, &Empty{}, opts)
}

// Generate issues a token.
func (c *Client) Generate(ctx context.Context, in *GenerateRequest, opts ...grpc.CallOption) (*GenerateResponse, error) {
	return invoke[GenerateResponse](ctx, c, MethodGenerate, in, opts)
}

// Validate checks a code without consuming it.
func (c *Client) Validate(ctx context.Context, in *ValidateRequest, opts ...grpc.CallOption) (*ValidateResponse, error) {
	return invoke[ValidateResponse](ctx, c, MethodValidate, in, opts)
}

// Use redeems a code.
func (c *Client) Use(ctx context.Context, in *UseRequest, opts ...grpc.CallOption) (*UseResponse, error) {
	return invoke[UseResponse](ctx, c, MethodUse, in, opts)
}

// ListActive lists the caller's usable tokens.
func (c *Client) ListActive(ctx context.Context, opts ...grpc.CallOption) (*ListResponse, error) {
	return invoke[ListResponse](ctx, c, MethodListActive, &ListRequest{}, opts)
}

// ListAll lists the caller's full token history.
func (c *Client) ListAll(ctx context.Context, opts ...grpc.CallOption) (*ListResponse, error) {
	return invoke[ListResponse](ctx, c, MethodListAll, &ListRequest{}, opts)
}

// ListExpiringSoon lists active tokens with at most days left (0 means the default).
func (c *Client) ListExpiringSoon(ctx context.Context, days int, opts ...grpc.CallOption) (*ListResponse, error) {
	return invoke[ListResponse](ctx, c, MethodListExpiringSoon, &ListRequest{Days: days}, opts)
}

// TotalSaved sums the caller's savings.
func (c *Client) TotalSaved(ctx context.Context, opts ...grpc.CallOption) (*TotalSavedResponse, error) {
	return invoke[TotalSavedResponse](ctx, c, MethodTotalSaved, &Empty{}, opts)
}

// ExpireOld lists tokens that expired unused.
func (c *Client) ExpireOld(ctx context.Context, opts ...grpc.CallOption) (*ListResponse, error) {
	return invoke[ListResponse](ctx, c, MethodExpireOld, &Empty{}, opts)
}
