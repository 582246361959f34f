package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccount_DepositWithdrawRoundTrip(t *testing.T) {
	acc := NewAccount(1, MustParseAmount("25"))
	amt := MustParseAmount("10.5")

	require.NoError(t, acc.Deposit(amt))
	assert.Equal(t, MustParseAmount("35.5"), acc.Balance)

	require.NoError(t, acc.Withdraw(amt))
	assert.Equal(t, MustParseAmount("25"), acc.Balance)
}

func TestAccount_WithdrawInsufficient(t *testing.T) {
	acc := NewAccount(1, MustParseAmount("5"))

	err := acc.Withdraw(MustParseAmount("5.0001"))
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, MustParseAmount("5"), acc.Balance)
}

func TestAccount_RejectsNonPositive(t *testing.T) {
	acc := NewAccount(1, 0)
	assert.ErrorIs(t, acc.Deposit(0), ErrInvalidAmount)
	assert.ErrorIs(t, acc.Withdraw(-1), ErrInvalidAmount)
	assert.Equal(t, Amount(0), acc.Balance)
}

func TestAccount_DepositOverflow(t *testing.T) {
	acc := NewAccount(1, MaxAmount-1)
	assert.ErrorIs(t, acc.Deposit(2), ErrInvalidAmount)
	assert.Equal(t, MaxAmount-1, acc.Balance)
}

func TestAccount_Clone(t *testing.T) {
	acc := NewAccount(7, 100)
	cp := acc.Clone()
	cp.Balance = 1
	assert.Equal(t, Amount(100), acc.Balance)
}
