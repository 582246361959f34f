package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
)

// IdempotencyKeyHeader 呼叫端提供的冪等鍵 (UUID)
const IdempotencyKeyHeader = "Idempotency-Key"

// Ledger 為 HTTP 入口需要的帳本操作
type Ledger interface {
	CreateAccount(ctx context.Context) (*domain.Account, error)
	Deposit(ctx context.Context, accountID int64, amount domain.Amount) (*domain.Account, error)
	Withdraw(ctx context.Context, accountID int64, amount domain.Amount) (*domain.Account, error)
	Transfer(ctx context.Context, fromID, toID int64, amount domain.Amount) error
	GetAccountDetails(ctx context.Context, accountID int64) (*domain.Account, error)
}

type AccountResponse struct {
	ID      int64         `json:"id"`
	Balance domain.Amount `json:"balance"`
}

type AmountRequest struct {
	Amount domain.Amount `json:"amount" validate:"required"`
}

type TransferRequest struct {
	FromAccountID int64         `json:"from_account_id" validate:"required,gt=0"`
	ToAccountID   int64         `json:"to_account_id" validate:"required,gt=0"`
	Amount        domain.Amount `json:"amount" validate:"required"`
}

type AccountHandler struct {
	core Ledger
}

func NewAccountHandler(core Ledger) *AccountHandler {
	return &AccountHandler{core: core}
}

// Register 註冊 /accounts 路由
func (h *AccountHandler) Register(r gin.IRouter) {
	accounts := r.Group("/accounts")
	accounts.POST("", h.CreateAccount)
	accounts.POST("/transfer", h.Transfer)
	accounts.GET("/:id", h.GetAccount)
	accounts.POST("/:id/deposit", h.Deposit)
	accounts.POST("/:id/withdraw", h.Withdraw)
}

func (h *AccountHandler) CreateAccount(c *gin.Context) {
	ctx, ok := requestContext(c)
	if !ok {
		return
	}
	acc, err := h.core.CreateAccount(ctx)
	if err != nil {
		respondWithDomainError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toResponse(acc))
}

func (h *AccountHandler) Deposit(c *gin.Context) {
	h.applyAmount(c, h.core.Deposit)
}

func (h *AccountHandler) Withdraw(c *gin.Context) {
	h.applyAmount(c, h.core.Withdraw)
}

func (h *AccountHandler) applyAmount(c *gin.Context, op func(context.Context, int64, domain.Amount) (*domain.Account, error)) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	amount, ok := bindAmount(c)
	if !ok {
		return
	}
	ctx, ok := requestContext(c)
	if !ok {
		return
	}
	acc, err := op(ctx, id, amount)
	if err != nil {
		respondWithDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, toResponse(acc))
}

// Transfer 接受 JSON body，或 fromAccountId / toAccountId / amount 查詢參數
func (h *AccountHandler) Transfer(c *gin.Context) {
	req, ok := bindTransfer(c)
	if !ok {
		return
	}
	ctx, ok := requestContext(c)
	if !ok {
		return
	}
	if err := h.core.Transfer(ctx, req.FromAccountID, req.ToAccountID, req.Amount); err != nil {
		respondWithDomainError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *AccountHandler) GetAccount(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	acc, err := h.core.GetAccountDetails(c.Request.Context(), id)
	if err != nil {
		respondWithDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, toResponse(acc))
}

func toResponse(acc *domain.Account) AccountResponse {
	return AccountResponse{ID: acc.ID, Balance: acc.Balance}
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		respondWithError(c, http.StatusBadRequest, "Invalid account id")
		return 0, false
	}
	return id, true
}

// requestContext 帶入 Idempotency-Key
func requestContext(c *gin.Context) (context.Context, bool) {
	ctx := c.Request.Context()
	key := c.GetHeader(IdempotencyKeyHeader)
	if key == "" {
		return ctx, true
	}
	ref, err := uuid.Parse(key)
	if err != nil {
		respondWithError(c, http.StatusBadRequest, "Idempotency-Key must be a UUID")
		return nil, false
	}
	return usecase.ContextWithRefID(ctx, ref), true
}

// bindAmount 接受 {"amount": "12.5"} 或直接以 12.5 作為 body
func bindAmount(c *gin.Context) (domain.Amount, bool) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		respondWithError(c, http.StatusBadRequest, "Invalid request body")
		return 0, false
	}
	body = bytes.TrimSpace(body)

	var req AmountRequest
	if len(body) > 0 && body[0] == '{' {
		if err := json.Unmarshal(body, &req); err != nil {
			respondWithBindError(c, err)
			return 0, false
		}
	} else if err := req.Amount.UnmarshalJSON(body); err != nil {
		respondWithBindError(c, err)
		return 0, false
	}

	if details := validateRequest(req); details != nil {
		respondWithValidationError(c, details)
		return 0, false
	}
	return req.Amount, true
}

func bindTransfer(c *gin.Context) (TransferRequest, bool) {
	var req TransferRequest
	if c.Request.ContentLength != 0 {
		if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
			respondWithBindError(c, err)
			return req, false
		}
	} else {
		from, errFrom := strconv.ParseInt(c.Query("fromAccountId"), 10, 64)
		to, errTo := strconv.ParseInt(c.Query("toAccountId"), 10, 64)
		amount, errAmount := domain.ParseAmount(c.Query("amount"))
		if err := errors.Join(errFrom, errTo, errAmount); err != nil {
			respondWithBindError(c, err)
			return req, false
		}
		req = TransferRequest{FromAccountID: from, ToAccountID: to, Amount: amount}
	}

	if details := validateRequest(req); details != nil {
		respondWithValidationError(c, details)
		return req, false
	}
	return req, true
}

func respondWithError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Message: message})
}

func respondWithValidationError(c *gin.Context, details []ValidationError) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{
		Message: "Invalid request data",
		Details: details,
	})
}

func respondWithBindError(c *gin.Context, err error) {
	if errors.Is(err, domain.ErrInvalidAmount) {
		respondWithError(c, http.StatusBadRequest, err.Error())
		return
	}
	respondWithError(c, http.StatusBadRequest, "Invalid request body")
}

// respondWithDomainError 將領域錯誤轉為 HTTP 狀態碼
func respondWithDomainError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidAmount):
		respondWithError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrAccountNotFound):
		respondWithError(c, http.StatusNotFound, "Account not found")
	case errors.Is(err, domain.ErrInsufficientFunds):
		respondWithError(c, http.StatusConflict, "Insufficient funds")
	case errors.Is(err, domain.ErrIdempotencyKeyReused):
		respondWithError(c, http.StatusUnprocessableEntity, "Idempotency key already used for a different request")
	case errors.Is(err, domain.ErrStoreUnavailable):
		respondWithError(c, http.StatusServiceUnavailable, "Ledger store unavailable, retry later")
	case errors.Is(err, context.DeadlineExceeded):
		respondWithError(c, http.StatusGatewayTimeout, "Request timed out")
	default:
		_ = c.Error(err)
		respondWithError(c, http.StatusInternalServerError, "Internal server error")
	}
}

var _ Ledger = (*usecase.LedgerService)(nil)
