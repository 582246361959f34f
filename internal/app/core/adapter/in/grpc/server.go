package grpc

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
)

// Ledger 為 gRPC 入口需要的帳本操作
type Ledger interface {
	CreateAccount(ctx context.Context) (*domain.Account, error)
	Deposit(ctx context.Context, accountID int64, amount domain.Amount) (*domain.Account, error)
	Withdraw(ctx context.Context, accountID int64, amount domain.Amount) (*domain.Account, error)
	Transfer(ctx context.Context, fromID, toID int64, amount domain.Amount) error
	GetAccountDetails(ctx context.Context, accountID int64) (*domain.Account, error)
}

type GrpcServer struct {
	core Ledger
}

func NewGrpcServer(core Ledger) *GrpcServer {
	return &GrpcServer{
		core: core,
	}
}

func (s *GrpcServer) CreateAccount(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	acc, err := s.core.CreateAccount(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return accountMessage(acc), nil
}

func (s *GrpcServer) Deposit(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ctx, id, amount, err := s.parseSingle(ctx, req)
	if err != nil {
		return nil, toStatus(err)
	}
	acc, err := s.core.Deposit(ctx, id, amount)
	if err != nil {
		return nil, toStatus(err)
	}
	return accountMessage(acc), nil
}

func (s *GrpcServer) Withdraw(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ctx, id, amount, err := s.parseSingle(ctx, req)
	if err != nil {
		return nil, toStatus(err)
	}
	acc, err := s.core.Withdraw(ctx, id, amount)
	if err != nil {
		return nil, toStatus(err)
	}
	return accountMessage(acc), nil
}

func (s *GrpcServer) Transfer(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ref, err := refField(req)
	if err != nil {
		return nil, toStatus(err)
	}
	from, err := idField(req, fieldFromAccountID)
	if err != nil {
		return nil, toStatus(err)
	}
	to, err := idField(req, fieldToAccountID)
	if err != nil {
		return nil, toStatus(err)
	}
	amount, err := amountField(req)
	if err != nil {
		return nil, toStatus(err)
	}
	if ref != uuid.Nil {
		ctx = usecase.ContextWithRefID(ctx, ref)
	}
	if err := s.core.Transfer(ctx, from, to, amount); err != nil {
		return nil, toStatus(err)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldSuccess: structpb.NewBoolValue(true),
	}}, nil
}

func (s *GrpcServer) GetAccount(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := idField(req, fieldAccountID)
	if err != nil {
		return nil, toStatus(err)
	}
	acc, err := s.core.GetAccountDetails(ctx, id)
	if err != nil {
		return nil, toStatus(err)
	}
	return accountMessage(acc), nil
}

// parseSingle 解析單一帳戶操作 (存款 / 提款) 的欄位，有冪等鍵時放入 context
func (s *GrpcServer) parseSingle(ctx context.Context, req *structpb.Struct) (context.Context, int64, domain.Amount, error) {
	ref, err := refField(req)
	if err != nil {
		return ctx, 0, 0, err
	}
	id, err := idField(req, fieldAccountID)
	if err != nil {
		return ctx, 0, 0, err
	}
	amount, err := amountField(req)
	if err != nil {
		return ctx, 0, 0, err
	}
	if ref != uuid.Nil {
		ctx = usecase.ContextWithRefID(ctx, ref)
	}
	return ctx, id, amount, nil
}

// toStatus 將領域錯誤轉為 gRPC status
func toStatus(err error) error {
	var bad *errBadField
	switch {
	case errors.As(err, &bad), errors.Is(err, domain.ErrInvalidAmount), errors.Is(err, domain.ErrIdempotencyKeyReused):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrAccountNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrInsufficientFunds):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, domain.ErrStoreUnavailable):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

var _ LedgerServiceServer = (*GrpcServer)(nil)
var _ Ledger = (*usecase.LedgerService)(nil)
