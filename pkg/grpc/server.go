package grpc

import (
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

// NewServer 建立 gRPC Server 並註冊標準 health 服務
//
// keepalive 的 EnforcementPolicy 需允許 Pool 預設每 10 秒一次的 Ping，
// 否則伺服端會以 too_many_pings 中斷連線。
//
// 參數:
//
//	logger: 請求 log
//	opts: 額外的 ServerOption
//
// 回傳:
//
//	*grpc.Server: 尚未 Serve 的伺服器
//	*health.Server: 關閉時可呼叫 Shutdown 讓 health check 回報 NOT_SERVING
func NewServer(logger *zap.Logger, opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	serverOpts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(UnaryServerLogger(logger)),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	}
	serverOpts = append(serverOpts, opts...)

	srv := grpc.NewServer(serverOpts...)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	return srv, hs
}
