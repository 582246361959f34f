package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	grpc_adapter "github.com/JoeShih716/go-bank-ledger/internal/app/core/adapter/in/grpc"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	grpcpkg "github.com/JoeShih716/go-bank-ledger/pkg/grpc"
	"github.com/JoeShih716/go-bank-ledger/pkg/logger"
)

func main() {
	addr := flag.String("addr", "localhost:50051", "ledger gRPC address")
	totalCount := flag.Int("count", 10000, "number of deposits")
	concurrency := flag.Int("concurrency", 100, "concurrent in-flight requests")
	amountStr := flag.String("amount", "1.25", "amount per deposit")
	flag.Parse()

	amount, err := domain.ParseAmount(*amountStr)
	if err != nil {
		log.Fatalf("invalid amount: %v", err)
	}

	zlog, err := logger.New(logger.Config{Env: "development", Level: "info"})
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer zlog.Sync()

	pool := grpcpkg.NewPool(grpcpkg.WithLogger(zlog))
	defer pool.Close()
	conn, err := pool.GetConnection(*addr)
	if err != nil {
		zlog.Fatal("did not connect", zap.Error(err))
	}
	c := grpc_adapter.NewClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	acc, err := c.CreateAccount(ctx)
	if err != nil {
		zlog.Fatal("create account failed", zap.Error(err))
	}
	zlog.Info("account created", zap.Int64("account_id", acc.ID))

	var wg sync.WaitGroup
	var failed atomic.Int64
	sem := make(chan struct{}, *concurrency)
	startTime := time.Now()

	for i := 0; i < *totalCount; i++ {
		sem <- struct{}{}
		wg.Add(1)

		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()

			if _, err := c.Deposit(ctx, uuid.New(), acc.ID, amount); err != nil {
				failed.Add(1)
				if idx%1000 == 0 {
					zlog.Warn("deposit failed", zap.Int("idx", idx), zap.Error(err))
				}
			}
		}(i)
	}
	wg.Wait()
	elapsed := time.Since(startTime)

	got, err := c.GetAccount(ctx, acc.ID)
	if err != nil {
		zlog.Fatal("get account failed", zap.Error(err))
	}

	succeeded := int64(*totalCount) - failed.Load()
	want := domain.Amount(succeeded) * amount
	fmt.Printf("Completed %d deposits (%d failed) in %v\n", *totalCount, failed.Load(), elapsed)
	fmt.Printf("TPS: %.2f\n", float64(*totalCount)/elapsed.Seconds())
	fmt.Printf("Balance: %s, expected: %s\n", got.Balance, want)

	if got.Balance != want {
		fmt.Println("MISMATCH: lost or duplicated updates")
		os.Exit(1)
	}
	fmt.Println("OK")
}
