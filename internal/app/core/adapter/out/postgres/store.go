package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
)

// Schema 為本 Store 需要的資料表，僅供開發環境建立使用
const Schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id         BIGSERIAL PRIMARY KEY,
	balance    BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
	version    BIGINT NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS transactions (
	id              BIGSERIAL PRIMARY KEY,
	ref_id          UUID NOT NULL UNIQUE,
	from_account_id BIGINT NOT NULL,
	to_account_id   BIGINT NOT NULL,
	amount          BIGINT NOT NULL,
	type            SMALLINT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`

// Store 以 database/sql + lib/pq 實作的帳本儲存
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate 建立資料表
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, Schema)
	return err
}

func (s *Store) Create(ctx context.Context, initialBalance domain.Amount) (*domain.Account, error) {
	if initialBalance < 0 {
		return nil, domain.ErrInvalidAmount
	}
	const query = `INSERT INTO accounts (balance) VALUES ($1) RETURNING id, balance, version`

	var acc domain.Account
	err := s.db.QueryRowContext(ctx, query, int64(initialBalance)).Scan(&acc.ID, &acc.Balance, &acc.Version)
	if err != nil {
		return nil, unavailable("create account", err)
	}
	return &acc, nil
}

func (s *Store) FindByID(ctx context.Context, id int64) (*domain.Account, error) {
	const query = `SELECT id, balance, version FROM accounts WHERE id = $1`

	var acc domain.Account
	err := s.db.QueryRowContext(ctx, query, id).Scan(&acc.ID, &acc.Balance, &acc.Version)
	if err == sql.ErrNoRows {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, unavailable("find account", err)
	}
	return &acc, nil
}

// FindTransaction 依 ref_id 取得已提交的交易紀錄
func (s *Store) FindTransaction(ctx context.Context, ref uuid.UUID) (*domain.Transaction, error) {
	const query = `SELECT from_account_id, to_account_id, amount, type, created_at FROM transactions WHERE ref_id = $1`

	tran := domain.Transaction{TransactionID: ref}
	var (
		txType    int16
		createdAt time.Time
	)
	err := s.db.QueryRowContext(ctx, query, ref.String()).Scan(&tran.From, &tran.To, &tran.Amount, &txType, &createdAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrTransactionNotFound
	}
	if err != nil {
		return nil, unavailable("find transaction", err)
	}
	tran.Type = domain.TransactionType(txType)
	tran.CreatedAt = createdAt.UnixMilli()
	return &tran, nil
}

// Save 在單一資料庫交易中寫入交易紀錄與所有帳戶
//
// 交易紀錄先寫入，ref_id 的唯一鍵衝突即代表重複提交；
// 帳戶以版本號條件更新，任一筆未命中則整體回滾。
func (s *Store) Save(ctx context.Context, tran *domain.Transaction, accounts ...*domain.Account) (saved []*domain.Account, err error) {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, unavailable("begin", err)
	}
	defer func() {
		if err != nil {
			dbTx.Rollback()
		}
	}()

	const insertTx = `INSERT INTO transactions (ref_id, from_account_id, to_account_id, amount, type)
	VALUES ($1, $2, $3, $4, $5) ON CONFLICT (ref_id) DO NOTHING`
	res, err := dbTx.ExecContext(ctx, insertTx, tran.TransactionID.String(), tran.From, tran.To, int64(tran.Amount), int(tran.Type))
	if err != nil {
		return nil, unavailable("insert transaction", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, unavailable("insert transaction", err)
	} else if n == 0 {
		return nil, domain.ErrTransactionAlreadyProcessed
	}

	const updateAccount = `UPDATE accounts SET balance = $1, version = version + 1, updated_at = NOW()
	WHERE id = $2 AND version = $3`
	saved = make([]*domain.Account, 0, len(accounts))
	for _, acc := range accounts {
		if acc.Balance < 0 {
			return nil, fmt.Errorf("%w: account %d", domain.ErrInsufficientFunds, acc.ID)
		}
		res, err := dbTx.ExecContext(ctx, updateAccount, int64(acc.Balance), acc.ID, acc.Version)
		if err != nil {
			return nil, unavailable("update account", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, unavailable("update account", err)
		}
		if n == 0 {
			return nil, fmt.Errorf("%w: account %d version %d", domain.ErrConflict, acc.ID, acc.Version)
		}
		next := acc.Clone()
		next.Version++
		saved = append(saved, next)
	}

	if err = dbTx.Commit(); err != nil {
		return nil, unavailable("commit", err)
	}
	return saved, nil
}

func unavailable(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%s: %w: %v", op, domain.ErrStoreUnavailable, err)
}

var _ usecase.LedgerStore = (*Store)(nil)
