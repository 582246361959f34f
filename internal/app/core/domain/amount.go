package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// amount 使用int64，並定義精度：小數點後 4 位
const (
	CurrencyScale  = 10000
	currencyDigits = 4
)

// MaxAmount 可表示的最大金額 (最小單位)
const MaxAmount Amount = math.MaxInt64

// Amount 金額，以最小單位 (1/CurrencyScale) 儲存，避免浮點誤差
type Amount int64

var (
	minDecimal = decimal.Zero
	maxDecimal = decimal.New(int64(MaxAmount), -currencyDigits)
)

// ParseAmount 解析十進位字串為 Amount
//
// 參數:
//
//	s: 金額字串，例如 "100", "0.25"
//
// 回傳:
//
//	Amount: 以最小單位表示的金額
//	error: 格式錯誤、NaN/Inf、小數位數超過 4 位、負數或溢位時回傳 ErrInvalidAmount
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return AmountFromDecimal(d)
}

// AmountFromDecimal 將 decimal 轉為 Amount
func AmountFromDecimal(d decimal.Decimal) (Amount, error) {
	if d.LessThan(minDecimal) {
		return 0, fmt.Errorf("%w: negative %s", ErrInvalidAmount, d.String())
	}
	if d.GreaterThan(maxDecimal) {
		return 0, fmt.Errorf("%w: %s out of range", ErrInvalidAmount, d.String())
	}
	scaled := d.Shift(currencyDigits)
	if !scaled.IsInteger() {
		return 0, fmt.Errorf("%w: %s has more than %d decimal places", ErrInvalidAmount, d.String(), currencyDigits)
	}
	return Amount(scaled.IntPart()), nil
}

// MustParseAmount 供測試與常數使用，格式錯誤直接 panic
func MustParseAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

// Validate 檢查金額可用於存款、提款或轉帳 (必須 > 0)
func (a Amount) Validate() error {
	if a <= 0 {
		return fmt.Errorf("%w: must be positive", ErrInvalidAmount)
	}
	return nil
}

// Decimal 轉為 decimal 表示
func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), -currencyDigits)
}

func (a Amount) String() string {
	return a.Decimal().String()
}

// MarshalJSON 以字串輸出，避免 JSON 數字被當成浮點數處理
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON 同時接受 "12.5" 與 12.5 兩種寫法
func (a *Amount) UnmarshalJSON(data []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, string(data))
	}
	v, err := AmountFromDecimal(d)
	if err != nil {
		return err
	}
	*a = v
	return nil
}
