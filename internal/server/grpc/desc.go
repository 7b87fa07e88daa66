package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "tenantguard.v1.Auth"

const (
	MethodLogin             = "/" + ServiceName + "/Login"
	MethodRefresh           = "/" + ServiceName + "/Refresh"
	MethodCurrentToken      = "/" + ServiceName + "/CurrentToken"
	MethodListTokens        = "/" + ServiceName + "/ListTokens"
	MethodLogout            = "/" + ServiceName + "/Logout"
	MethodCreateStaticToken = "/" + ServiceName + "/CreateStaticToken"
)

// AuthServer is the server side of tenantguard.v1.Auth. Every message is a
// structpb.Struct.
type AuthServer interface {
	Login(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Refresh(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CurrentToken(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListTokens(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Logout(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreateStaticToken(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(AuthServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryCall) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(AuthServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(AuthServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var AuthServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AuthServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Login", Handler: unaryHandler(MethodLogin, AuthServer.Login)},
		{MethodName: "Refresh", Handler: unaryHandler(MethodRefresh, AuthServer.Refresh)},
		{MethodName: "CurrentToken", Handler: unaryHandler(MethodCurrentToken, AuthServer.CurrentToken)},
		{MethodName: "ListTokens", Handler: unaryHandler(MethodListTokens, AuthServer.ListTokens)},
		{MethodName: "Logout", Handler: unaryHandler(MethodLogout, AuthServer.Logout)},
		{MethodName: "CreateStaticToken", Handler: unaryHandler(MethodCreateStaticToken, AuthServer.CreateStaticToken)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "tenantguard/v1/auth.proto",
}

func RegisterAuthServer(s grpc.ServiceRegistrar, srv AuthServer) {
	s.RegisterService(&AuthServiceDesc, srv)
}

// AuthClient calls tenantguard.v1.Auth.
type AuthClient struct {
	cc grpc.ClientConnInterface
}

func NewAuthClient(cc grpc.ClientConnInterface) *AuthClient {
	return &AuthClient{cc: cc}
}

func (c *AuthClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	if in == nil {
		in = &structpb.Struct{}
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *AuthClient) Login(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodLogin, in, opts...)
}

func (c *AuthClient) Refresh(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodRefresh, in, opts...)
}

func (c *AuthClient) CurrentToken(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodCurrentToken, in, opts...)
}

func (c *AuthClient) ListTokens(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodListTokens, in, opts...)
}

func (c *AuthClient) Logout(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodLogout, in, opts...)
}

func (c *AuthClient) CreateStaticToken(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodCreateStaticToken, in, opts...)
}
