package grpc

import (
	"context"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// UnaryServerLogger 記錄每個請求的方法、耗時與狀態碼。
// 成功與業務錯誤以 Debug 記錄，其餘錯誤以 Error 記錄。
func UnaryServerLogger(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.Duration("latency", time.Since(start)),
			zap.Stringer("code", code),
		}
		if err != nil {
			fields = append(fields, zap.Error(err))
		}
		logger.Log(levelFor(code), "grpc request", fields...)
		return resp, err
	}
}

// UnaryClientLogger 記錄每次呼叫，供 Pool 使用
func UnaryClientLogger(logger *zap.Logger) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		start := time.Now()
		err := invoker(ctx, method, req, reply, cc, opts...)
		code := status.Code(err)
		fields := []zap.Field{
			zap.String("method", method),
			zap.String("target", cc.Target()),
			zap.Duration("latency", time.Since(start)),
			zap.Stringer("code", code),
		}
		if err != nil {
			fields = append(fields, zap.Error(err))
		}
		logger.Log(levelFor(code), "grpc call", fields...)
		return err
	}
}

func levelFor(code codes.Code) zapcore.Level {
	switch code {
	case codes.OK, codes.InvalidArgument, codes.NotFound, codes.FailedPrecondition, codes.Canceled:
		return zap.DebugLevel
	default:
		return zap.ErrorLevel
	}
}
