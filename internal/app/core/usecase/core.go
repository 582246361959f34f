package usecase

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/pkg/keylock"
)

// LedgerService 是核心業務邏輯層
//
// 每個操作都在持有相關帳戶鎖的情況下重新讀取儲存層、判斷規則，
// 再透過一次 LedgerStore.Save 寫回；服務本身不快取任何餘額。
type LedgerService struct {
	store     LedgerStore
	locks     *keylock.Locker
	retry     RetryPolicy
	publisher EventPublisher
	logger    *zap.Logger
}

// Option 定義了 LedgerService 的配置選項函數
type Option func(*LedgerService)

// WithRetryPolicy 設定儲存層暫時性錯誤的重試策略
func WithRetryPolicy(p RetryPolicy) Option {
	return func(s *LedgerService) {
		s.retry = p.normalized()
	}
}

// WithPublisher 設定交易提交後的事件出口
func WithPublisher(p EventPublisher) Option {
	return func(s *LedgerService) {
		s.publisher = p
	}
}

// WithLogger 設定 logger
func WithLogger(l *zap.Logger) Option {
	return func(s *LedgerService) {
		s.logger = l
	}
}

func NewLedgerService(store LedgerStore, opts ...Option) *LedgerService {
	s := &LedgerService{
		store:  store,
		locks:  keylock.New(),
		retry:  DefaultRetryPolicy(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateAccount 開戶，初始餘額為 0
func (s *LedgerService) CreateAccount(ctx context.Context) (*domain.Account, error) {
	var acc *domain.Account
	err := s.withRetry(ctx, "create_account", func(ctx context.Context) error {
		var err error
		acc, err = s.store.Create(ctx, 0)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("account opened", zap.Int64("account_id", acc.ID))
	s.publish(ctx, domain.NewTransaction(RefIDFromContext(ctx), domain.TransactionTypeOpen, 0, acc.ID, 0), []*domain.Account{acc})
	return acc, nil
}

// Deposit 存款
//
// 參數:
//
//	ctx: 上下文 (可攜帶 ContextWithRefID 設定的冪等鍵)
//	accountID: 帳戶 ID
//	amount: 金額，必須 > 0
//
// 回傳:
//
//	*domain.Account: 存款後的帳戶
//	error: ErrInvalidAmount / ErrAccountNotFound / ErrStoreUnavailable
func (s *LedgerService) Deposit(ctx context.Context, accountID int64, amount domain.Amount) (*domain.Account, error) {
	if err := amount.Validate(); err != nil {
		return nil, err
	}
	tran := domain.NewTransaction(RefIDFromContext(ctx), domain.TransactionTypeDeposit, 0, accountID, amount)
	saved, err := s.apply(ctx, "deposit", tran, func(ctx context.Context) ([]*domain.Account, error) {
		acc, err := s.store.FindByID(ctx, accountID)
		if err != nil {
			return nil, err
		}
		if err := acc.Deposit(amount); err != nil {
			return nil, err
		}
		return []*domain.Account{acc}, nil
	})
	if errors.Is(err, domain.ErrTransactionAlreadyProcessed) {
		return s.GetAccountDetails(ctx, accountID)
	}
	if err != nil {
		return nil, err
	}
	return saved[0], nil
}

// Withdraw 提款
//
// 參數:
//
//	ctx: 上下文
//	accountID: 帳戶 ID
//	amount: 金額，必須 > 0
//
// 回傳:
//
//	*domain.Account: 提款後的帳戶
//	error: ErrInvalidAmount / ErrAccountNotFound / ErrInsufficientFunds / ErrStoreUnavailable
func (s *LedgerService) Withdraw(ctx context.Context, accountID int64, amount domain.Amount) (*domain.Account, error) {
	if err := amount.Validate(); err != nil {
		return nil, err
	}
	tran := domain.NewTransaction(RefIDFromContext(ctx), domain.TransactionTypeWithdraw, accountID, 0, amount)
	saved, err := s.apply(ctx, "withdraw", tran, func(ctx context.Context) ([]*domain.Account, error) {
		acc, err := s.store.FindByID(ctx, accountID)
		if err != nil {
			return nil, err
		}
		if err := acc.Withdraw(amount); err != nil {
			return nil, err
		}
		return []*domain.Account{acc}, nil
	})
	if errors.Is(err, domain.ErrTransactionAlreadyProcessed) {
		return s.GetAccountDetails(ctx, accountID)
	}
	if err != nil {
		return nil, err
	}
	return saved[0], nil
}

// Transfer 轉帳，扣款與入帳在同一次 Save 中提交，全部成功或全部不生效
//
// fromID == toID 時仍需檢查餘額足以支付 amount，成功後餘額不變
func (s *LedgerService) Transfer(ctx context.Context, fromID, toID int64, amount domain.Amount) error {
	if err := amount.Validate(); err != nil {
		return err
	}
	tran := domain.NewTransaction(RefIDFromContext(ctx), domain.TransactionTypeTransfer, fromID, toID, amount)
	_, err := s.apply(ctx, "transfer", tran, func(ctx context.Context) ([]*domain.Account, error) {
		from, err := s.store.FindByID(ctx, fromID)
		if err != nil {
			return nil, fmt.Errorf("source %d: %w", fromID, err)
		}
		to := from
		if toID != fromID {
			if to, err = s.store.FindByID(ctx, toID); err != nil {
				return nil, fmt.Errorf("destination %d: %w", toID, err)
			}
		}
		// 先扣款，餘額不足時尚未有任何狀態改變
		if err := from.Withdraw(amount); err != nil {
			return nil, err
		}
		if err := to.Deposit(amount); err != nil {
			return nil, err
		}
		if to == from {
			return []*domain.Account{from}, nil
		}
		return []*domain.Account{from, to}, nil
	})
	if errors.Is(err, domain.ErrTransactionAlreadyProcessed) {
		return nil
	}
	return err
}

// GetAccountDetails 查詢帳戶，唯讀
func (s *LedgerService) GetAccountDetails(ctx context.Context, accountID int64) (*domain.Account, error) {
	var acc *domain.Account
	err := s.withRetry(ctx, "get_account", func(ctx context.Context) error {
		var err error
		acc, err = s.store.FindByID(ctx, accountID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return acc, nil
}

// apply 鎖定交易涉及的帳戶後執行 讀取-決策-寫入
//
// decide 每次嘗試都會重新從儲存層讀取帳戶；同一筆交易在所有嘗試中沿用同一個 TransactionID，
// 前一次嘗試若其實已提交，下一次會得到 ErrTransactionAlreadyProcessed 而不會重複套用。
func (s *LedgerService) apply(
	ctx context.Context,
	op string,
	tran *domain.Transaction,
	decide func(ctx context.Context) ([]*domain.Account, error),
) ([]*domain.Account, error) {
	unlock, err := s.locks.LockAll(ctx, tran.GetLockIDs()...)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var saved []*domain.Account
	err = s.withRetry(ctx, op, func(ctx context.Context) error {
		if err := s.checkProcessed(ctx, tran); err != nil {
			return err
		}
		accounts, err := decide(ctx)
		if err != nil {
			return err
		}
		saved, err = s.store.Save(ctx, tran, accounts...)
		if errors.Is(err, domain.ErrTransactionAlreadyProcessed) {
			// 檢查之後才被其他請求以相同 ID 提交，需重新比對內容
			if checkErr := s.checkProcessed(ctx, tran); checkErr != nil {
				return checkErr
			}
		}
		return err
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrTransactionAlreadyProcessed):
			s.logger.Info("transaction already processed",
				zap.String("op", op), zap.Stringer("ref_id", tran.TransactionID))
		case errors.Is(err, domain.ErrIdempotencyKeyReused):
			s.logger.Warn("idempotency key reused for a different operation",
				zap.String("op", op), zap.Stringer("ref_id", tran.TransactionID))
		}
		return nil, err
	}

	s.logger.Debug("transaction committed",
		zap.String("op", op),
		zap.Stringer("ref_id", tran.TransactionID),
		zap.Int64("from", tran.From),
		zap.Int64("to", tran.To),
		zap.Stringer("amount", tran.Amount),
	)
	s.publish(ctx, tran, saved)
	return saved, nil
}

// checkProcessed 查詢交易 ID 是否已提交
//
// 回傳:
//
//	nil: 尚未提交
//	ErrTransactionAlreadyProcessed: 已提交且內容相同 (重送)
//	ErrIdempotencyKeyReused: 已提交但內容不同
func (s *LedgerService) checkProcessed(ctx context.Context, tran *domain.Transaction) error {
	prev, err := s.store.FindTransaction(ctx, tran.TransactionID)
	if errors.Is(err, domain.ErrTransactionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !prev.SameIntent(tran) {
		return fmt.Errorf("%w: ref %s was %s %d->%d %s", domain.ErrIdempotencyKeyReused,
			tran.TransactionID, prev.Type, prev.From, prev.To, prev.Amount)
	}
	return domain.ErrTransactionAlreadyProcessed
}

// withRetry 執行 fn，遇到 ErrConflict / ErrStoreUnavailable 時退避後重試
func (s *LedgerService) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 1; ; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = fn(ctx)
		if err == nil || !domain.IsRetryable(err) {
			return err
		}
		if attempt >= s.retry.MaxAttempts {
			break
		}
		delay := s.retry.backoff(attempt)
		s.logger.Warn("retrying ledger operation",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}

	s.logger.Error("ledger operation failed", zap.String("op", op), zap.Int("attempts", s.retry.MaxAttempts), zap.Error(err))
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		err = fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	return fmt.Errorf("%s failed after %d attempts: %w", op, s.retry.MaxAttempts, err)
}

// publish 發佈事件，失敗只記錄 log：交易已提交，不影響呼叫端結果
func (s *LedgerService) publish(ctx context.Context, tran *domain.Transaction, accounts []*domain.Account) {
	if s.publisher == nil {
		return
	}
	event := domain.NewLedgerEvent(tran, accounts)
	if err := s.publisher.Publish(context.WithoutCancel(ctx), event); err != nil {
		s.logger.Warn("failed to publish ledger event",
			zap.String("type", event.Type),
			zap.Stringer("ref_id", event.TransactionID),
			zap.Error(err),
		)
	}
}
