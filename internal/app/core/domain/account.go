package domain

import "fmt"

// Account 帳戶
//
// Version 為樂觀鎖版本號，由儲存層在每次成功寫入後遞增
type Account struct {
	ID      int64  `json:"id"`
	Balance Amount `json:"balance"`
	Version int64  `json:"version"`
}

func NewAccount(id int64, balance Amount) *Account {
	return &Account{
		ID:      id,
		Balance: balance,
	}
}

// Clone 回傳複本，避免呼叫端持有儲存層內部指標
func (a *Account) Clone() *Account {
	cp := *a
	return &cp
}

// Deposit 存款
func (a *Account) Deposit(amount Amount) error {
	if err := amount.Validate(); err != nil {
		return err
	}
	if a.Balance > MaxAmount-amount {
		return fmt.Errorf("%w: balance overflow", ErrInvalidAmount)
	}

	a.Balance = a.Balance + amount
	return nil
}

// Withdraw 提款
func (a *Account) Withdraw(amount Amount) error {
	if err := amount.Validate(); err != nil {
		return err
	}

	if a.Balance < amount {
		return ErrInsufficientFunds
	}

	a.Balance = a.Balance - amount
	return nil
}
