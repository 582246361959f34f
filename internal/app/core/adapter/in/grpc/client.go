package grpc

import (
	"context"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
)

// Client 為 ledger.v1.LedgerService 的型別化客戶端
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient 建立客戶端，conn 通常來自 pkg/grpc.Pool
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

func (c *Client) CreateAccount(ctx context.Context) (*domain.Account, error) {
	return c.callAccount(ctx, "CreateAccount", &structpb.Struct{})
}

// Deposit 存款，ref 為 uuid.Nil 時由伺服端產生交易 ID
func (c *Client) Deposit(ctx context.Context, ref uuid.UUID, accountID int64, amount domain.Amount) (*domain.Account, error) {
	return c.callAccount(ctx, "Deposit", singleRequest(ref, accountID, amount))
}

func (c *Client) Withdraw(ctx context.Context, ref uuid.UUID, accountID int64, amount domain.Amount) (*domain.Account, error) {
	return c.callAccount(ctx, "Withdraw", singleRequest(ref, accountID, amount))
}

func (c *Client) Transfer(ctx context.Context, ref uuid.UUID, fromID, toID int64, amount domain.Amount) error {
	req := &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldFromAccountID: structpb.NewStringValue(formatID(fromID)),
		fieldToAccountID:   structpb.NewStringValue(formatID(toID)),
		fieldAmount:        structpb.NewStringValue(amount.String()),
	}}
	if ref != uuid.Nil {
		req.Fields[fieldRefID] = structpb.NewStringValue(ref.String())
	}
	return c.conn.Invoke(ctx, fullMethod("Transfer"), req, new(structpb.Struct))
}

func (c *Client) GetAccount(ctx context.Context, accountID int64) (*domain.Account, error) {
	req := &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldAccountID: structpb.NewStringValue(formatID(accountID)),
	}}
	return c.callAccount(ctx, "GetAccount", req)
}

func (c *Client) callAccount(ctx context.Context, method string, req *structpb.Struct) (*domain.Account, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, fullMethod(method), req, out); err != nil {
		return nil, err
	}
	return accountFromMessage(out)
}

func singleRequest(ref uuid.UUID, accountID int64, amount domain.Amount) *structpb.Struct {
	req := &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldAccountID: structpb.NewStringValue(formatID(accountID)),
		fieldAmount:    structpb.NewStringValue(amount.String()),
	}}
	if ref != uuid.Nil {
		req.Fields[fieldRefID] = structpb.NewStringValue(ref.String())
	}
	return req
}

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}
