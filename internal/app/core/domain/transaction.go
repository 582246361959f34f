package domain

import (
	"time"

	"github.com/google/uuid"
)

// TransactionType 交易類型
// 為了極致節省記憶體，使用 uint8
type TransactionType uint8

const (
	// 存款
	TransactionTypeDeposit TransactionType = 1
	// 提款
	TransactionTypeWithdraw TransactionType = 2
	// 轉帳
	TransactionTypeTransfer TransactionType = 3
	// 開戶
	TransactionTypeOpen TransactionType = 4
)

func (t TransactionType) String() string {
	switch t {
	case TransactionTypeDeposit:
		return "deposit"
	case TransactionTypeWithdraw:
		return "withdraw"
	case TransactionTypeTransfer:
		return "transfer"
	case TransactionTypeOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Transaction 交易意圖紀錄 注意欄位排序以避免 Padding
//
// 存款只使用 To，提款只使用 From，轉帳兩者皆用
type Transaction struct {
	// From, To: 帳戶 ID
	From int64 `json:"from"`
	To   int64 `json:"to"`
	// Amount: 金額
	Amount Amount `json:"amount"`
	// CreatedAt: 交易時間 (unix milli)
	CreatedAt int64 `json:"created_at"`
	// TransactionID: 外部追蹤號 (UUID)，同時作為冪等鍵
	TransactionID uuid.UUID `json:"transaction_id"`
	// Type: 放到最後面，利用 Padding 空間
	Type TransactionType `json:"type"`
}

// NewTransaction 建立交易，ref 為 uuid.Nil 時自動產生
func NewTransaction(ref uuid.UUID, txType TransactionType, from, to int64, amount Amount) *Transaction {
	if ref == uuid.Nil {
		ref = uuid.New()
	}
	return &Transaction{
		From:          from,
		To:            to,
		Amount:        amount,
		CreatedAt:     time.Now().UnixMilli(),
		TransactionID: ref,
		Type:          txType,
	}
}

// SameIntent 比對兩筆交易的內容 (類型、帳戶、金額)，不比對時間
func (t *Transaction) SameIntent(other *Transaction) bool {
	return t.Type == other.Type &&
		t.From == other.From &&
		t.To == other.To &&
		t.Amount == other.Amount
}

// GetLockIDs 回傳需要鎖定的帳號 ID，並確保順序以避免死鎖
func (t *Transaction) GetLockIDs() (ids []int64) {
	// 預先宣告一個容量為 2 的 slice，避免多次分配
	// make([]Type, len, cap)
	ids = make([]int64, 0, 2)
	switch t.Type {
	case TransactionTypeTransfer:
		switch {
		case t.From == t.To:
			ids = append(ids, t.From)
		case t.From < t.To:
			ids = append(ids, t.From, t.To)
		default:
			ids = append(ids, t.To, t.From)
		}
	case TransactionTypeDeposit:
		ids = append(ids, t.To)
	case TransactionTypeWithdraw:
		ids = append(ids, t.From)
	}
	return ids
}
