package grpc

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
)

// 欄位名稱
const (
	fieldRefID         = "ref_id"
	fieldAccountID     = "account_id"
	fieldFromAccountID = "from_account_id"
	fieldToAccountID   = "to_account_id"
	fieldAmount        = "amount"
	fieldBalance       = "balance"
	fieldSuccess       = "success"
)

// errBadField 欄位格式錯誤，對應 codes.InvalidArgument
type errBadField struct {
	field  string
	reason string
}

func (e *errBadField) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.field, e.reason)
}

// idField 讀取帳戶 ID，接受數字或十進位字串
func idField(msg *structpb.Struct, name string) (int64, error) {
	v, ok := msg.GetFields()[name]
	if !ok {
		return 0, &errBadField{field: name, reason: "required"}
	}
	switch kind := v.GetKind().(type) {
	case *structpb.Value_NumberValue:
		n := kind.NumberValue
		if n != float64(int64(n)) {
			return 0, &errBadField{field: name, reason: "not an integer"}
		}
		return int64(n), nil
	case *structpb.Value_StringValue:
		n, err := strconv.ParseInt(kind.StringValue, 10, 64)
		if err != nil {
			return 0, &errBadField{field: name, reason: "not an integer"}
		}
		return n, nil
	default:
		return 0, &errBadField{field: name, reason: "must be a number or string"}
	}
}

// amountField 讀取金額，建議以字串傳遞避免浮點誤差
func amountField(msg *structpb.Struct) (domain.Amount, error) {
	v, ok := msg.GetFields()[fieldAmount]
	if !ok {
		return 0, &errBadField{field: fieldAmount, reason: "required"}
	}
	switch kind := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		return domain.ParseAmount(kind.StringValue)
	case *structpb.Value_NumberValue:
		return domain.ParseAmount(strconv.FormatFloat(kind.NumberValue, 'f', -1, 64))
	default:
		return 0, &errBadField{field: fieldAmount, reason: "must be a number or string"}
	}
}

// refField 讀取選填的冪等鍵，未提供時回傳 uuid.Nil
func refField(msg *structpb.Struct) (uuid.UUID, error) {
	v, ok := msg.GetFields()[fieldRefID]
	if !ok {
		return uuid.Nil, nil
	}
	s, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return uuid.Nil, &errBadField{field: fieldRefID, reason: "must be a string"}
	}
	if s.StringValue == "" {
		return uuid.Nil, nil
	}
	ref, err := uuid.Parse(s.StringValue)
	if err != nil {
		return uuid.Nil, &errBadField{field: fieldRefID, reason: err.Error()}
	}
	return ref, nil
}

func accountMessage(acc *domain.Account) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldAccountID: structpb.NewStringValue(formatID(acc.ID)),
		fieldBalance:   structpb.NewStringValue(acc.Balance.String()),
	}}
}

func accountFromMessage(msg *structpb.Struct) (*domain.Account, error) {
	id, err := idField(msg, fieldAccountID)
	if err != nil {
		return nil, err
	}
	balance, err := domain.ParseAmount(msg.GetFields()[fieldBalance].GetStringValue())
	if err != nil {
		return nil, err
	}
	return &domain.Account{ID: id, Balance: balance}, nil
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
