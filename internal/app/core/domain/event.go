package domain

import (
	"time"

	"github.com/google/uuid"
)

// LedgerEvent 交易提交後對外發佈的事件
type LedgerEvent struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	Type          string    `json:"type"`
	From          int64     `json:"from_account_id,omitempty"`
	To            int64     `json:"to_account_id,omitempty"`
	Amount        Amount    `json:"amount"`
	// Balances: 交易後各相關帳戶餘額
	Balances   map[int64]Amount `json:"balances"`
	OccurredAt time.Time        `json:"occurred_at"`
}

// EventTypeAccountOpened 等為事件類型名稱
const (
	EventTypeAccountOpened = "account.opened"
	EventTypeDeposited     = "account.deposited"
	EventTypeWithdrawn     = "account.withdrawn"
	EventTypeTransferred   = "account.transferred"
)

// NewLedgerEvent 由已提交的交易與寫入後的帳戶建立事件
func NewLedgerEvent(tran *Transaction, accounts []*Account) LedgerEvent {
	balances := make(map[int64]Amount, len(accounts))
	for _, acc := range accounts {
		balances[acc.ID] = acc.Balance
	}
	return LedgerEvent{
		TransactionID: tran.TransactionID,
		Type:          eventType(tran.Type),
		From:          tran.From,
		To:            tran.To,
		Amount:        tran.Amount,
		Balances:      balances,
		OccurredAt:    time.UnixMilli(tran.CreatedAt).UTC(),
	}
}

// PartitionKey 用於訊息分區，讓同一帳戶的事件保持順序
func (e LedgerEvent) PartitionKey() int64 {
	if e.From != 0 {
		return e.From
	}
	return e.To
}

func eventType(t TransactionType) string {
	switch t {
	case TransactionTypeOpen:
		return EventTypeAccountOpened
	case TransactionTypeDeposit:
		return EventTypeDeposited
	case TransactionTypeWithdraw:
		return EventTypeWithdrawn
	case TransactionTypeTransfer:
		return EventTypeTransferred
	default:
		return t.String()
	}
}
