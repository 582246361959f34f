package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	grpc_adapter "github.com/JoeShih716/go-bank-ledger/internal/app/core/adapter/in/grpc"
	http_adapter "github.com/JoeShih716/go-bank-ledger/internal/app/core/adapter/in/http"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/adapter/out/events"
	memory_adapter "github.com/JoeShih716/go-bank-ledger/internal/app/core/adapter/out/memory"
	mysql_adapter "github.com/JoeShih716/go-bank-ledger/internal/app/core/adapter/out/mysql"
	postgres_adapter "github.com/JoeShih716/go-bank-ledger/internal/app/core/adapter/out/postgres"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/config"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
	grpcpkg "github.com/JoeShih716/go-bank-ledger/pkg/grpc"
	"github.com/JoeShih716/go-bank-ledger/pkg/logger"
	"github.com/JoeShih716/go-bank-ledger/pkg/mysql"
	"github.com/JoeShih716/go-bank-ledger/pkg/postgres"
	"github.com/JoeShih716/go-bank-ledger/pkg/wal"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	// 1. 載入設定
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 2. 初始化 logger
	zlog, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer zlog.Sync()

	if err := run(cfg, zlog); err != nil {
		zlog.Fatal("server exited with error", zap.Error(err))
	}
	zlog.Info("server exited")
}

func run(cfg config.Config, zlog *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. 初始化帳本儲存
	store, closeStore, err := openStore(ctx, cfg, zlog)
	if err != nil {
		return err
	}
	defer closeStore()

	// 4. 事件輸出 (Dispatcher 在所有請求結束後才停止，確保事件送完)
	sink, err := events.NewSink(cfg.Events, zlog)
	if err != nil {
		return err
	}
	defer sink.Close()
	dispatcher := events.NewDispatcher(sink, cfg.Events.BufferSize, zlog.Named("events"))
	dispatchCtx, stopDispatch := context.WithCancel(context.Background())
	dispatcher.Start(dispatchCtx)
	defer func() {
		stopDispatch()
		dispatcher.Wait()
	}()

	// 5. 初始化 UseCase
	coreUseCase := usecase.NewLedgerService(store,
		usecase.WithRetryPolicy(cfg.Retry),
		usecase.WithPublisher(dispatcher),
		usecase.WithLogger(zlog.Named("ledger")),
	)

	// 6. gRPC Server
	grpcServer, healthServer := grpcpkg.NewServer(zlog.Named("grpc"))
	grpc_adapter.RegisterLedgerServiceServer(grpcServer, grpc_adapter.NewGrpcServer(coreUseCase))
	lis, err := net.Listen("tcp", cfg.Server.GrpcAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Server.GrpcAddr, err)
	}

	// 7. HTTP Server
	if cfg.Log.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	httpServer := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: http_adapter.NewRouter(coreUseCase, zlog.Named("http")),
	}

	errCh := make(chan error, 2)
	go func() {
		zlog.Info("starting gRPC server", zap.String("addr", cfg.Server.GrpcAddr))
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc serve: %w", err)
		}
	}()
	go func() {
		zlog.Info("starting HTTP server", zap.String("addr", cfg.Server.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http serve: %w", err)
		}
	}()

	// Graceful Shutdown
	var serveErr error
	select {
	case <-ctx.Done():
		zlog.Info("shutting down server...")
	case serveErr = <-errCh:
		zlog.Error("server failed, shutting down", zap.Error(serveErr))
	}

	healthServer.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zlog.Warn("http shutdown", zap.Error(err))
	}

	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		grpcServer.Stop()
	}
	return serveErr
}

// openStore 依設定建立帳本儲存，回傳的 close 函式負責釋放底層資源
func openStore(ctx context.Context, cfg config.Config, zlog *zap.Logger) (usecase.LedgerStore, func(), error) {
	switch cfg.Store.Type {
	case config.StoreMySQL:
		dbClient, err := mysql.NewClient(cfg.MySQL, zlog)
		if err != nil {
			return nil, nil, fmt.Errorf("connect mysql: %w", err)
		}
		store := mysql_adapter.NewStore(dbClient)
		if cfg.Store.AutoMigrate {
			if err := store.AutoMigrate(ctx); err != nil {
				dbClient.Close()
				return nil, nil, fmt.Errorf("migrate mysql: %w", err)
			}
		}
		zlog.Info("connected to MySQL", zap.String("host", cfg.MySQL.Host))
		return store, func() { dbClient.Close() }, nil

	case config.StorePostgres:
		db, err := postgres.Open(ctx, cfg.Postgres, zlog)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		store := postgres_adapter.NewStore(db)
		if cfg.Store.AutoMigrate {
			if err := store.Migrate(ctx); err != nil {
				db.Close()
				return nil, nil, fmt.Errorf("migrate postgres: %w", err)
			}
		}
		zlog.Info("connected to PostgreSQL")
		return store, func() { db.Close() }, nil

	default:
		var walFile *wal.WAL
		if cfg.Store.WALPath != "" {
			var err error
			if walFile, err = wal.Open(cfg.Store.WALPath); err != nil {
				return nil, nil, fmt.Errorf("open wal: %w", err)
			}
		}
		store, err := memory_adapter.NewStore(walFile)
		if err != nil {
			if walFile != nil {
				walFile.Close()
			}
			return nil, nil, fmt.Errorf("recover memory store: %w", err)
		}
		zlog.Info("memory store ready", zap.String("wal", cfg.Store.WALPath))
		return store, func() {
			if walFile != nil {
				walFile.Close()
			}
		}, nil
	}
}
