package usecase_test

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/adapter/out/memory"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
)

var fastRetry = usecase.RetryPolicy{MaxAttempts: 4, BaseBackoff: time.Microsecond, MaxBackoff: time.Millisecond}

func amt(s string) domain.Amount {
	return domain.MustParseAmount(s)
}

func newService(t *testing.T, opts ...usecase.Option) (*usecase.LedgerService, *memory.Store) {
	t.Helper()
	store, err := memory.NewStore(nil)
	require.NoError(t, err)
	opts = append([]usecase.Option{usecase.WithRetryPolicy(fastRetry)}, opts...)
	return usecase.NewLedgerService(store, opts...), store
}

func balance(t *testing.T, svc *usecase.LedgerService, id int64) domain.Amount {
	t.Helper()
	acc, err := svc.GetAccountDetails(context.Background(), id)
	require.NoError(t, err)
	return acc.Balance
}

// flakyStore 在 Save 前後注入錯誤
type flakyStore struct {
	usecase.LedgerStore
	// failBefore: 前 N 次 Save 直接回傳此錯誤且不寫入
	failBefore atomic.Int32
	beforeErr  error
	// failAfter: 前 N 次 Save 寫入成功後仍回傳錯誤 (模擬提交結果不明)
	failAfter atomic.Int32
	saves     atomic.Int32
}

func (f *flakyStore) Save(ctx context.Context, tran *domain.Transaction, accounts ...*domain.Account) ([]*domain.Account, error) {
	f.saves.Add(1)
	if f.failBefore.Add(-1) >= 0 {
		return nil, f.beforeErr
	}
	saved, err := f.LedgerStore.Save(ctx, tran, accounts...)
	if err == nil && f.failAfter.Add(-1) >= 0 {
		return nil, domain.ErrStoreUnavailable
	}
	return saved, err
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.LedgerEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, event domain.LedgerEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func TestCreateAccount(t *testing.T) {
	svc, _ := newService(t)
	acc, err := svc.CreateAccount(context.Background())
	require.NoError(t, err)
	assert.NotZero(t, acc.ID)
	assert.Equal(t, domain.Amount(0), acc.Balance)
}

// 開戶 → 存 100 → 提 40 → 全額轉出 60 → 再提 1 失敗
func TestScenario(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	src, err := svc.CreateAccount(ctx)
	require.NoError(t, err)
	assert.Equal(t, amt("0"), src.Balance)

	acc, err := svc.Deposit(ctx, src.ID, amt("100"))
	require.NoError(t, err)
	assert.Equal(t, amt("100"), acc.Balance)

	acc, err = svc.Withdraw(ctx, src.ID, amt("40"))
	require.NoError(t, err)
	assert.Equal(t, amt("60"), acc.Balance)

	dst, err := svc.CreateAccount(ctx)
	require.NoError(t, err)
	require.NoError(t, svc.Transfer(ctx, src.ID, dst.ID, amt("60")))
	assert.Equal(t, amt("0"), balance(t, svc, src.ID))
	assert.Equal(t, amt("60"), balance(t, svc, dst.ID))

	_, err = svc.Withdraw(ctx, src.ID, amt("1"))
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Equal(t, amt("0"), balance(t, svc, src.ID))
}

func TestDepositWithdrawRoundTrip(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	acc, _ := svc.CreateAccount(ctx)
	_, err := svc.Deposit(ctx, acc.ID, amt("12.34"))
	require.NoError(t, err)

	_, err = svc.Deposit(ctx, acc.ID, amt("0.0001"))
	require.NoError(t, err)
	_, err = svc.Withdraw(ctx, acc.ID, amt("0.0001"))
	require.NoError(t, err)

	assert.Equal(t, amt("12.34"), balance(t, svc, acc.ID))
}

func TestInvalidAmountRejectedBeforeStore(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	// 帳戶不存在，但金額錯誤必須先被拒絕
	_, err := svc.Deposit(ctx, 99, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	_, err = svc.Withdraw(ctx, 99, -1)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	assert.ErrorIs(t, svc.Transfer(ctx, 98, 99, 0), domain.ErrInvalidAmount)
}

func TestAccountNotFound(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.GetAccountDetails(ctx, 404)
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
	_, err = svc.Deposit(ctx, 404, amt("1"))
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
	_, err = svc.Withdraw(ctx, 404, amt("1"))
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestWithdrawInsufficientFundsLeavesBalance(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	acc, _ := svc.CreateAccount(ctx)
	_, _ = svc.Deposit(ctx, acc.ID, amt("10"))

	_, err := svc.Withdraw(ctx, acc.ID, amt("10.01"))
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Equal(t, amt("10"), balance(t, svc, acc.ID))
}

func TestTransferFailuresLeaveBothUnchanged(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	a, _ := svc.CreateAccount(ctx)
	b, _ := svc.CreateAccount(ctx)
	_, _ = svc.Deposit(ctx, a.ID, amt("50"))
	_, _ = svc.Deposit(ctx, b.ID, amt("5"))

	err := svc.Transfer(ctx, a.ID, b.ID, amt("50.5"))
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	err = svc.Transfer(ctx, a.ID, 404, amt("1"))
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)

	err = svc.Transfer(ctx, 404, b.ID, amt("1"))
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)

	assert.Equal(t, amt("50"), balance(t, svc, a.ID))
	assert.Equal(t, amt("5"), balance(t, svc, b.ID))
}

func TestTransferToSelf(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	acc, _ := svc.CreateAccount(ctx)
	_, _ = svc.Deposit(ctx, acc.ID, amt("10"))

	require.NoError(t, svc.Transfer(ctx, acc.ID, acc.ID, amt("10")))
	assert.Equal(t, amt("10"), balance(t, svc, acc.ID))

	err := svc.Transfer(ctx, acc.ID, acc.ID, amt("10.0001"))
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Equal(t, amt("10"), balance(t, svc, acc.ID))
}

func TestConcurrentDepositsNoLostUpdate(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	acc, _ := svc.CreateAccount(ctx)

	const workers = 200
	v := amt("1.25")

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_, err := svc.Deposit(ctx, acc.ID, v)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, workers*v, balance(t, svc, acc.ID))
}

// 雙向併發轉帳不得死鎖，總額守恆且無負餘額
func TestConcurrentTransfersConserveTotal(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	a, _ := svc.CreateAccount(ctx)
	b, _ := svc.CreateAccount(ctx)
	_, _ = svc.Deposit(ctx, a.ID, amt("100"))
	_, _ = svc.Deposit(ctx, b.ID, amt("100"))

	const n = 200
	var wg sync.WaitGroup
	wg.Add(2 * n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			err := svc.Transfer(ctx, a.ID, b.ID, amt("1"))
			if err != nil {
				assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
			}
		}()
		go func() {
			defer wg.Done()
			err := svc.Transfer(ctx, b.ID, a.ID, amt("1"))
			if err != nil {
				assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
			}
		}()
	}
	wg.Wait()

	ba, bb := balance(t, svc, a.ID), balance(t, svc, b.ID)
	assert.GreaterOrEqual(t, int64(ba), int64(0))
	assert.GreaterOrEqual(t, int64(bb), int64(0))
	assert.Equal(t, amt("200"), ba+bb)
}

// 隨機交錯的存提轉操作後，所有帳戶餘額非負且總額等於淨存入
func TestRandomInterleavingsKeepBalancesNonNegative(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	ids := make([]int64, 5)
	for i := range ids {
		acc, err := svc.CreateAccount(ctx)
		require.NoError(t, err)
		ids[i] = acc.ID
	}

	var net atomic.Int64
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(seed uint64) {
			defer wg.Done()
			r := rand.New(rand.NewPCG(seed, seed*31+7))
			for i := 0; i < 300; i++ {
				id := ids[r.IntN(len(ids))]
				v := domain.Amount(r.Int64N(50*domain.CurrencyScale) + 1)
				switch r.IntN(3) {
				case 0:
					if _, err := svc.Deposit(ctx, id, v); err == nil {
						net.Add(int64(v))
					}
				case 1:
					_, err := svc.Withdraw(ctx, id, v)
					if err == nil {
						net.Add(-int64(v))
					} else {
						assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
					}
				default:
					to := ids[r.IntN(len(ids))]
					if err := svc.Transfer(ctx, id, to, v); err != nil {
						assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
					}
				}
			}
		}(uint64(w + 1))
	}
	wg.Wait()

	var total domain.Amount
	for _, id := range ids {
		b := balance(t, svc, id)
		assert.GreaterOrEqual(t, int64(b), int64(0))
		total += b
	}
	assert.Equal(t, domain.Amount(net.Load()), total)
}

func TestRetryOnTransientStoreFailure(t *testing.T) {
	store, _ := memory.NewStore(nil)
	flaky := &flakyStore{LedgerStore: store, beforeErr: domain.ErrConflict}
	svc := usecase.NewLedgerService(flaky, usecase.WithRetryPolicy(fastRetry))
	ctx := context.Background()
	acc, _ := svc.CreateAccount(ctx)

	flaky.failBefore.Store(2)
	got, err := svc.Deposit(ctx, acc.ID, amt("3"))
	require.NoError(t, err)
	assert.Equal(t, amt("3"), got.Balance)
	assert.Equal(t, int32(3), flaky.saves.Load())
}

// 重試耗盡：回傳 ErrStoreUnavailable，且轉帳雙方都不變
func TestTransferStoreFailureRollsBack(t *testing.T) {
	store, _ := memory.NewStore(nil)
	flaky := &flakyStore{LedgerStore: store, beforeErr: domain.ErrStoreUnavailable}
	svc := usecase.NewLedgerService(flaky, usecase.WithRetryPolicy(fastRetry))
	ctx := context.Background()
	a, _ := svc.CreateAccount(ctx)
	b, _ := svc.CreateAccount(ctx)
	_, err := svc.Deposit(ctx, a.ID, amt("20"))
	require.NoError(t, err)

	flaky.failBefore.Store(100)
	err = svc.Transfer(ctx, a.ID, b.ID, amt("20"))
	require.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.False(t, errors.Is(err, domain.ErrInsufficientFunds))
	assert.Equal(t, int32(1+fastRetry.MaxAttempts), flaky.saves.Load())

	flaky.failBefore.Store(0)
	assert.Equal(t, amt("20"), balance(t, svc, a.ID))
	assert.Equal(t, amt("0"), balance(t, svc, b.ID))
}

// 寫入其實已成功但回傳錯誤：重試不得重複套用
func TestAmbiguousCommitNotAppliedTwice(t *testing.T) {
	store, _ := memory.NewStore(nil)
	flaky := &flakyStore{LedgerStore: store}
	svc := usecase.NewLedgerService(flaky, usecase.WithRetryPolicy(fastRetry))
	ctx := context.Background()
	a, _ := svc.CreateAccount(ctx)
	b, _ := svc.CreateAccount(ctx)
	_, _ = svc.Deposit(ctx, a.ID, amt("30"))

	flaky.failAfter.Store(1)
	require.NoError(t, svc.Transfer(ctx, a.ID, b.ID, amt("10")))
	assert.Equal(t, amt("20"), balance(t, svc, a.ID))
	assert.Equal(t, amt("10"), balance(t, svc, b.ID))

	flaky.failAfter.Store(1)
	acc, err := svc.Withdraw(ctx, a.ID, amt("5"))
	require.NoError(t, err)
	assert.Equal(t, amt("15"), acc.Balance)
}

func TestIdempotentRefID(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	a, _ := svc.CreateAccount(ctx)
	b, _ := svc.CreateAccount(ctx)

	refCtx := usecase.ContextWithRefID(ctx, uuid.New())
	_, err := svc.Deposit(refCtx, a.ID, amt("10"))
	require.NoError(t, err)
	acc, err := svc.Deposit(refCtx, a.ID, amt("10"))
	require.NoError(t, err)
	assert.Equal(t, amt("10"), acc.Balance)

	refCtx = usecase.ContextWithRefID(ctx, uuid.New())
	require.NoError(t, svc.Transfer(refCtx, a.ID, b.ID, amt("10")))
	// 重送同一筆轉帳：即使來源已無餘額也回傳成功且不重複扣款
	require.NoError(t, svc.Transfer(refCtx, a.ID, b.ID, amt("10")))
	assert.Equal(t, amt("0"), balance(t, svc, a.ID))
	assert.Equal(t, amt("10"), balance(t, svc, b.ID))
}

// 相同冪等鍵用於不同內容的操作時回報錯誤，不可當作重送而回傳成功
func TestRefIDReusedForDifferentOperation(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	a, _ := svc.CreateAccount(ctx)
	b, _ := svc.CreateAccount(ctx)

	refCtx := usecase.ContextWithRefID(ctx, uuid.New())
	_, err := svc.Deposit(refCtx, a.ID, amt("10"))
	require.NoError(t, err)

	_, err = svc.Deposit(refCtx, b.ID, amt("99"))
	assert.ErrorIs(t, err, domain.ErrIdempotencyKeyReused)
	_, err = svc.Deposit(refCtx, a.ID, amt("11"))
	assert.ErrorIs(t, err, domain.ErrIdempotencyKeyReused)
	_, err = svc.Withdraw(refCtx, a.ID, amt("10"))
	assert.ErrorIs(t, err, domain.ErrIdempotencyKeyReused)
	err = svc.Transfer(refCtx, a.ID, b.ID, amt("10"))
	assert.ErrorIs(t, err, domain.ErrIdempotencyKeyReused)

	assert.Equal(t, amt("10"), balance(t, svc, a.ID))
	assert.Equal(t, amt("0"), balance(t, svc, b.ID))
}

// racingStore 在第一次 Save 之前，以相同交易 ID 先提交另一筆內容不同的交易
type racingStore struct {
	usecase.LedgerStore
	once  sync.Once
	other func()
}

func (r *racingStore) Save(ctx context.Context, tran *domain.Transaction, accounts ...*domain.Account) ([]*domain.Account, error) {
	r.once.Do(r.other)
	return r.LedgerStore.Save(ctx, tran, accounts...)
}

func TestRefIDReusedConcurrentlyDetectedOnSave(t *testing.T) {
	store, err := memory.NewStore(nil)
	require.NoError(t, err)
	ctx := context.Background()
	a, _ := store.Create(ctx, 0)
	b, _ := store.Create(ctx, 0)

	ref := uuid.New()
	racing := &racingStore{LedgerStore: store, other: func() {
		acc, _ := store.FindByID(ctx, b.ID)
		acc.Balance = amt("5")
		_, err := store.Save(ctx, domain.NewTransaction(ref, domain.TransactionTypeDeposit, 0, b.ID, amt("5")), acc)
		require.NoError(t, err)
	}}
	svc := usecase.NewLedgerService(racing, usecase.WithRetryPolicy(fastRetry))

	_, err = svc.Deposit(usecase.ContextWithRefID(ctx, ref), a.ID, amt("10"))
	assert.ErrorIs(t, err, domain.ErrIdempotencyKeyReused)
	assert.Equal(t, amt("0"), balance(t, svc, a.ID))
	assert.Equal(t, amt("5"), balance(t, svc, b.ID))
}

func TestCancelledContextAppliesNothing(t *testing.T) {
	svc, _ := newService(t)
	acc, _ := svc.CreateAccount(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.Deposit(ctx, acc.ID, amt("1"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, amt("0"), balance(t, svc, acc.ID))
}

func TestPublishesCommittedEvents(t *testing.T) {
	pub := &recordingPublisher{}
	svc, _ := newService(t, usecase.WithPublisher(pub))
	ctx := context.Background()
	a, _ := svc.CreateAccount(ctx)
	b, _ := svc.CreateAccount(ctx)
	_, _ = svc.Deposit(ctx, a.ID, amt("5"))
	require.NoError(t, svc.Transfer(ctx, a.ID, b.ID, amt("2")))
	_, err := svc.Withdraw(ctx, a.ID, amt("100"))
	require.Error(t, err)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.events, 4)
	assert.Equal(t, domain.EventTypeAccountOpened, pub.events[0].Type)
	assert.Equal(t, domain.EventTypeDeposited, pub.events[2].Type)
	last := pub.events[3]
	assert.Equal(t, domain.EventTypeTransferred, last.Type)
	assert.Equal(t, map[int64]domain.Amount{a.ID: amt("3"), b.ID: amt("2")}, last.Balances)
}
