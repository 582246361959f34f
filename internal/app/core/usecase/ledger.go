package usecase

import (
	"context"

	"github.com/google/uuid"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
)

// LedgerStore 是帳戶持久化的介面 (Driven Port)
//
// 實作必須保證:
//   - FindByID 回傳複本，不得讓呼叫端改到內部狀態；不存在時回傳 domain.ErrAccountNotFound
//   - Save 為單一持久化點：所有帳戶與交易紀錄一起寫入或全部不寫入
//   - 任一帳戶的儲存版本與 Account.Version 不符時回傳 domain.ErrConflict
//   - 交易 ID 已存在時回傳 domain.ErrTransactionAlreadyProcessed
//   - FindTransaction 找不到交易時回傳 domain.ErrTransactionNotFound
//   - 基礎設施錯誤以 domain.ErrStoreUnavailable 包裝
type LedgerStore interface {
	// Create 建立帳戶並分配 ID
	Create(ctx context.Context, initialBalance domain.Amount) (*domain.Account, error)
	// FindByID 依 ID 讀取帳戶
	FindByID(ctx context.Context, id int64) (*domain.Account, error)
	// Save 以條件更新寫入帳戶，回傳寫入後 (版本已遞增) 的帳戶
	Save(ctx context.Context, tran *domain.Transaction, accounts ...*domain.Account) ([]*domain.Account, error)
	// FindTransaction 依交易 ID 讀取已提交的交易紀錄
	FindTransaction(ctx context.Context, ref uuid.UUID) (*domain.Transaction, error)
}

// EventPublisher 交易提交後的事件出口
type EventPublisher interface {
	Publish(ctx context.Context, event domain.LedgerEvent) error
}

type refIDKey struct{}

// ContextWithRefID 將呼叫端提供的冪等鍵放入 context
func ContextWithRefID(ctx context.Context, ref uuid.UUID) context.Context {
	return context.WithValue(ctx, refIDKey{}, ref)
}

// RefIDFromContext 取出冪等鍵，沒有時回傳 uuid.Nil
func RefIDFromContext(ctx context.Context) uuid.UUID {
	if ref, ok := ctx.Value(refIDKey{}).(uuid.UUID); ok {
		return ref
	}
	return uuid.Nil
}
