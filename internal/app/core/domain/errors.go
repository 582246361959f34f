package domain

import "errors"

var (
	// ErrInvalidAmount 金額不合法 (<= 0、格式錯誤、超出精度或範圍)
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInsufficientFunds 餘額不足
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrAccountNotFound 找不到帳戶
	ErrAccountNotFound = errors.New("account not found")

	// ErrConflict 寫入時版本不符 (其他寫入者已先修改該帳戶)
	ErrConflict = errors.New("concurrent modification")

	// ErrStoreUnavailable 儲存層暫時無法使用
	ErrStoreUnavailable = errors.New("ledger store unavailable")

	// ErrTransactionAlreadyProcessed 交易已處理
	ErrTransactionAlreadyProcessed = errors.New("transaction already processed")

	// ErrTransactionNotFound 找不到交易紀錄
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrIdempotencyKeyReused 冪等鍵已用於內容不同的交易
	ErrIdempotencyKeyReused = errors.New("idempotency key reused for a different operation")

	// ErrWALWriteFailed WAL 寫入失敗
	ErrWALWriteFailed = errors.New("wal write failed")
)

// IsRetryable 判斷錯誤是否屬於可重試的儲存層錯誤
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrStoreUnavailable)
}
