package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-bank-ledger/pkg/wal"
)

// walOp WAL 紀錄類型
type walOp string

const (
	walOpCreate walOp = "create"
	walOpCommit walOp = "commit"
)

// walRecord 一筆 WAL 紀錄，保存寫入後的帳戶完整狀態，重放時直接覆蓋即可 (冪等)
type walRecord struct {
	Op          walOp               `json:"op"`
	Transaction *domain.Transaction `json:"transaction,omitempty"`
	Accounts    []domain.Account    `json:"accounts"`
}

// Store 是一個使用 Mutex 保護的記憶體帳本儲存
//
// 結構:
//
//	accounts: 帳戶資料 Map (存值，不外流內部指標)
//	mu: RWMutex 用於保護帳戶資料
//	processed: 已提交的交易 (以交易 ID 為鍵)
//	wal: Write-Ahead Log 實例，nil 時為純記憶體模式
type Store struct {
	mu        sync.RWMutex
	nextID    int64
	accounts  map[int64]domain.Account
	processed map[uuid.UUID]domain.Transaction
	wal       *wal.WAL
}

// NewStore 建立一個新的 Store 實例，並從 WAL 恢復狀態
//
// 參數:
//
//	w: Write-Ahead Log 實例 (可為 nil)
//
// 回傳:
//
//	*Store: Store 實例
//	error: 初始化錯誤 (如 WAL 恢復失敗)
func NewStore(w *wal.WAL) (*Store, error) {
	s := &Store{
		accounts:  make(map[int64]domain.Account),
		processed: make(map[uuid.UUID]domain.Transaction),
		wal:       w,
	}
	if w != nil {
		if err := s.recoverFromWAL(); err != nil {
			return nil, fmt.Errorf("recover from wal: %w", err)
		}
	}
	return s, nil
}

// recoverFromWAL 從 WAL 檔案恢復帳本狀態
// 只有 NewStore 呼叫，無需 Lock (單執行緒)
func (s *Store) recoverFromWAL() error {
	return s.wal.ReadAll(func(jsonRaw []byte) error {
		var rec walRecord
		if err := json.Unmarshal(jsonRaw, &rec); err != nil {
			return err
		}
		s.applyRecord(&rec)
		return nil
	})
}

// applyRecord 將紀錄套用至記憶體，呼叫端需持有寫鎖
func (s *Store) applyRecord(rec *walRecord) {
	for _, acc := range rec.Accounts {
		s.accounts[acc.ID] = acc
		if acc.ID > s.nextID {
			s.nextID = acc.ID
		}
	}
	if rec.Op == walOpCommit && rec.Transaction != nil {
		s.processed[rec.Transaction.TransactionID] = *rec.Transaction
	}
}

// writeAhead 先寫 WAL 再改記憶體；WAL 失敗時狀態完全不變
func (s *Store) writeAhead(rec *walRecord) error {
	if s.wal == nil {
		return nil
	}
	if err := s.wal.Write(rec); err != nil {
		return fmt.Errorf("%w: %w: %v", domain.ErrStoreUnavailable, domain.ErrWALWriteFailed, err)
	}
	return nil
}

// Create 建立帳戶，ID 由 1 開始遞增且不重複使用
func (s *Store) Create(ctx context.Context, initialBalance domain.Amount) (*domain.Account, error) {
	if initialBalance < 0 {
		return nil, domain.ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	acc := domain.Account{ID: s.nextID + 1, Balance: initialBalance}
	rec := &walRecord{Op: walOpCreate, Accounts: []domain.Account{acc}}
	if err := s.writeAhead(rec); err != nil {
		return nil, err
	}
	s.applyRecord(rec)
	return &acc, nil
}

// FindByID 取得帳戶複本
func (s *Store) FindByID(ctx context.Context, id int64) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accounts[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return &acc, nil
}

// FindTransaction 取得已提交的交易複本
func (s *Store) FindTransaction(ctx context.Context, ref uuid.UUID) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tran, ok := s.processed[ref]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	return &tran, nil
}

// Save 檢查所有帳戶版本後一次寫入
//
// 參數:
//
//	ctx: 上下文
//	tran: 交易紀錄
//	accounts: 要寫回的帳戶 (Version 為讀取時的版本)
//
// 回傳:
//
//	[]*domain.Account: 寫入後的帳戶 (Version 已遞增)
//	error: ErrConflict / ErrTransactionAlreadyProcessed / ErrAccountNotFound / ErrStoreUnavailable
func (s *Store) Save(ctx context.Context, tran *domain.Transaction, accounts ...*domain.Account) ([]*domain.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.processed[tran.TransactionID]; ok {
		return nil, domain.ErrTransactionAlreadyProcessed
	}

	next := make([]domain.Account, 0, len(accounts))
	for _, acc := range accounts {
		current, ok := s.accounts[acc.ID]
		if !ok {
			return nil, domain.ErrAccountNotFound
		}
		if current.Version != acc.Version {
			return nil, fmt.Errorf("%w: account %d version %d, expected %d", domain.ErrConflict, acc.ID, current.Version, acc.Version)
		}
		if acc.Balance < 0 {
			return nil, fmt.Errorf("%w: account %d", domain.ErrInsufficientFunds, acc.ID)
		}
		next = append(next, domain.Account{ID: acc.ID, Balance: acc.Balance, Version: acc.Version + 1})
	}

	rec := &walRecord{Op: walOpCommit, Transaction: tran, Accounts: next}
	if err := s.writeAhead(rec); err != nil {
		return nil, err
	}
	s.applyRecord(rec)

	out := make([]*domain.Account, len(next))
	for i := range next {
		out[i] = &next[i]
	}
	return out, nil
}

var _ usecase.LedgerStore = (*Store)(nil)
