package grpc

import (
	"context"

	"github.com/dmitrijs2005/gophvault/internal/common"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = common.ServiceName

// FullMethod returns the "/service/method" path for name.
func FullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// VaultServer is the server API of the vault. Every request and response
// body is a google.protobuf.Struct; field names are documented on the
// handlers.
type VaultServer interface {
	Register(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Login(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RefreshToken(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Ping(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Profile(context.Context, *structpb.Struct) (*structpb.Struct, error)

	CreateCredential(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RotateCredential(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpdateCredential(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListCredentials(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeleteCredential(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DecryptCredential(context.Context, *structpb.Struct) (*structpb.Struct, error)

	CreateAccessRequest(context.Context, *structpb.Struct) (*structpb.Struct, error)
	IssueOTP(context.Context, *structpb.Struct) (*structpb.Struct, error)
	VerifyOTP(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Approve(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Reject(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CheckStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListAccessRequests(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListPendingRequests(context.Context, *structpb.Struct) (*structpb.Struct, error)

	Stats(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ExportSnapshot(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(VaultServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, call unaryCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(VaultServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(VaultServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

// ServiceDesc describes the vault service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*VaultServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Register", VaultServer.Register),
		unary("Login", VaultServer.Login),
		unary("RefreshToken", VaultServer.RefreshToken),
		unary("Ping", VaultServer.Ping),
		unary("Profile", VaultServer.Profile),
		unary("CreateCredential", VaultServer.CreateCredential),
		unary("RotateCredential", VaultServer.RotateCredential),
		unary("UpdateCredential", VaultServer.UpdateCredential),
		unary("ListCredentials", VaultServer.ListCredentials),
		unary("DeleteCredential", VaultServer.DeleteCredential),
		unary("DecryptCredential", VaultServer.DecryptCredential),
		unary("CreateAccessRequest", VaultServer.CreateAccessRequest),
		unary("IssueOTP", VaultServer.IssueOTP),
		unary("VerifyOTP", VaultServer.VerifyOTP),
		unary("Approve", VaultServer.Approve),
		unary("Reject", VaultServer.Reject),
		unary("CheckStatus", VaultServer.CheckStatus),
		unary("ListAccessRequests", VaultServer.ListAccessRequests),
		unary("ListPendingRequests", VaultServer.ListPendingRequests),
		unary("Stats", VaultServer.Stats),
		unary("ExportSnapshot", VaultServer.ExportSnapshot),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "gophvault/v1/vault.proto",
}
