package mysql

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-bank-ledger/pkg/mysql"
)

// sqlAccount 對應資料庫的 accounts 表
type sqlAccount struct {
	ID        int64 `gorm:"primaryKey;autoIncrement"`
	Balance   int64 `gorm:"not null;default:0"`
	Version   int64 `gorm:"not null;default:0"`
	UpdatedAt int64 `gorm:"autoUpdateTime:milli"` // 自動更新時間
}

func (*sqlAccount) TableName() string {
	return "accounts"
}

// sqlTransaction 對應資料庫的 transactions 表
type sqlTransaction struct {
	ID            int64  `gorm:"primaryKey;autoIncrement"`
	RefID         []byte `gorm:"column:ref_id;type:binary(16);uniqueIndex"` // 對應 domain.TransactionID
	FromAccountID int64
	ToAccountID   int64
	Amount        int64
	Type          uint8
	CreatedAt     int64 `gorm:"autoCreateTime:milli"` // 自動寫入時間
}

func (*sqlTransaction) TableName() string {
	return "transactions"
}

// Store 以 GORM 實作的帳本儲存，餘額更新採用版本號條件更新 (樂觀鎖)
type Store struct {
	client *mysql.Client
}

func NewStore(client *mysql.Client) *Store {
	return &Store{
		client: client,
	}
}

// AutoMigrate 建立資料表，僅供開發與測試環境使用
func (s *Store) AutoMigrate(ctx context.Context) error {
	return s.client.DB().WithContext(ctx).AutoMigrate(&sqlAccount{}, &sqlTransaction{})
}

// Create 建立帳戶，ID 由資料庫自動遞增分配
func (s *Store) Create(ctx context.Context, initialBalance domain.Amount) (*domain.Account, error) {
	if initialBalance < 0 {
		return nil, domain.ErrInvalidAmount
	}
	row := sqlAccount{Balance: int64(initialBalance)}
	if err := s.client.DB().WithContext(ctx).Create(&row).Error; err != nil {
		return nil, unavailable("create account", err)
	}
	return toDomain(&row), nil
}

// FindByID 取得帳戶
func (s *Store) FindByID(ctx context.Context, id int64) (*domain.Account, error) {
	var row sqlAccount
	err := s.client.DB().WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, unavailable("find account", err)
	}
	return toDomain(&row), nil
}

// FindTransaction 依 ref_id 取得已提交的交易紀錄
func (s *Store) FindTransaction(ctx context.Context, ref uuid.UUID) (*domain.Transaction, error) {
	var row sqlTransaction
	err := s.client.DB().WithContext(ctx).Where("ref_id = ?", ref[:]).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrTransactionNotFound
	}
	if err != nil {
		return nil, unavailable("find transaction", err)
	}
	return &domain.Transaction{
		TransactionID: ref,
		Type:          domain.TransactionType(row.Type),
		From:          row.FromAccountID,
		To:            row.ToAccountID,
		Amount:        domain.Amount(row.Amount),
		CreatedAt:     row.CreatedAt,
	}, nil
}

// Save 在同一個資料庫交易內更新所有帳戶並寫入交易紀錄
//
// 每個帳戶以 WHERE id = ? AND version = ? 條件更新，影響列數為 0 代表已被其他寫入者修改，
// 整個交易回滾並回傳 ErrConflict。
func (s *Store) Save(ctx context.Context, tran *domain.Transaction, accounts ...*domain.Account) ([]*domain.Account, error) {
	saved := make([]*domain.Account, 0, len(accounts))
	err := s.client.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 先檢查是否有這筆交易記錄
		var existing int64
		if err := tx.Model(&sqlTransaction{}).Where("ref_id = ?", tran.TransactionID[:]).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return domain.ErrTransactionAlreadyProcessed
		}

		for _, acc := range accounts {
			if acc.Balance < 0 {
				return fmt.Errorf("%w: account %d", domain.ErrInsufficientFunds, acc.ID)
			}
			res := tx.Model(&sqlAccount{}).
				Where("id = ? AND version = ?", acc.ID, acc.Version).
				Updates(map[string]any{
					"balance": int64(acc.Balance),
					"version": acc.Version + 1,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("%w: account %d version %d", domain.ErrConflict, acc.ID, acc.Version)
			}
			next := acc.Clone()
			next.Version++
			saved = append(saved, next)
		}

		// 建立交易紀錄
		return tx.Create(&sqlTransaction{
			RefID:         tran.TransactionID[:],
			FromAccountID: tran.From,
			ToAccountID:   tran.To,
			Amount:        int64(tran.Amount),
			Type:          uint8(tran.Type),
		}).Error
	})
	if err != nil {
		if errors.Is(err, domain.ErrTransactionAlreadyProcessed) ||
			errors.Is(err, domain.ErrConflict) ||
			errors.Is(err, domain.ErrInsufficientFunds) {
			return nil, err
		}
		return nil, unavailable("save transaction", err)
	}
	return saved, nil
}

func toDomain(row *sqlAccount) *domain.Account {
	return &domain.Account{
		ID:      row.ID,
		Balance: domain.Amount(row.Balance),
		Version: row.Version,
	}
}

// unavailable 將基礎設施錯誤歸類為可重試的儲存層錯誤，context 錯誤原樣保留
func unavailable(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%s: %w: %v", op, domain.ErrStoreUnavailable, err)
}

var _ usecase.LedgerStore = (*Store)(nil)
