package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName gRPC 服務全名
const ServiceName = "ledger.v1.LedgerService"

// LedgerServiceServer 為 ledger.v1.LedgerService 的伺服端介面，訊息一律使用 google.protobuf.Struct
type LedgerServiceServer interface {
	CreateAccount(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Deposit(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Withdraw(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Transfer(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetAccount(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(LedgerServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

// methodHandler 產生與 protoc-gen-go-grpc 相同行為的 MethodHandler
func methodHandler(name string, call unaryMethod) grpc.MethodHandler {
	method := fullMethod(name)
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(LedgerServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: method,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(LedgerServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ServiceDesc 手寫的服務描述
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LedgerServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateAccount", Handler: methodHandler("CreateAccount", LedgerServiceServer.CreateAccount)},
		{MethodName: "Deposit", Handler: methodHandler("Deposit", LedgerServiceServer.Deposit)},
		{MethodName: "Withdraw", Handler: methodHandler("Withdraw", LedgerServiceServer.Withdraw)},
		{MethodName: "Transfer", Handler: methodHandler("Transfer", LedgerServiceServer.Transfer)},
		{MethodName: "GetAccount", Handler: methodHandler("GetAccount", LedgerServiceServer.GetAccount)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ledger/v1/ledger.proto",
}

// RegisterLedgerServiceServer 註冊服務
func RegisterLedgerServiceServer(s grpc.ServiceRegistrar, srv LedgerServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}
