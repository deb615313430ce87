/**
 * @description
 * HTTP handlers for the core-banking API. Handlers parse and validate the request,
 * call the application services, and translate domain errors into status codes.
 *
 * @dependencies
 * - internal/app: rate limiting contract.
 * - internal/domain: request models and sentinel errors.
 * - go-chi/chi: URL parameters.
 */

package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/transfa/core-banking-service/internal/app"
	"github.com/transfa/core-banking-service/internal/domain"
	"github.com/transfa/core-banking-service/internal/observability"
)

const (
	idempotencyKeyHeader = "Idempotency-Key"
	replayedHeader       = "Idempotent-Replayed"
	movementScope        = "movement"
	maxBodyBytes         = 1 << 20
)

// MovementService is the money-movement engine as seen by the handlers.
type MovementService interface {
	Deposit(ctx context.Context, req domain.DepositRequest) (*domain.MovementResult, error)
	Withdraw(ctx context.Context, req domain.WithdrawalRequest) (*domain.MovementResult, error)
	Transfer(ctx context.Context, req domain.TransferRequest) (*domain.MovementResult, error)
	Reverse(ctx context.Context, req domain.ReversalRequest) (*domain.MovementResult, error)
	GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	GetTransactionLedger(ctx context.Context, id uuid.UUID) ([]domain.LedgerEntry, error)
}

type AccountService interface {
	CreateAccount(ctx context.Context, ownerID, class, currency string) (*domain.AccountBalance, error)
	GetAccount(ctx context.Context, accountID uuid.UUID) (*domain.AccountBalance, error)
	GetBalance(ctx context.Context, accountID uuid.UUID) (*domain.Balance, error)
	ListUserAccounts(ctx context.Context, userID string) ([]domain.AccountBalance, error)
	UpdateStatus(ctx context.Context, accountID uuid.UUID, status string) (*domain.Account, error)
	GetAccountLedger(ctx context.Context, accountID uuid.UUID, limit int, before *time.Time) ([]domain.LedgerEntry, error)
}

type SubscriptionService interface {
	CreateSubscription(ctx context.Context, req domain.CreateSubscriptionRequest) (*domain.Subscription, error)
	ListSubscriptions(ctx context.Context, payerID string) ([]domain.Subscription, error)
	CancelSubscription(ctx context.Context, id uuid.UUID, payerID string) (*domain.Subscription, error)
}

// Handlers holds the services the HTTP layer depends on. limiter may be nil,
// in which case movements are not rate limited.
type Handlers struct {
	movements     MovementService
	accounts      AccountService
	subscriptions SubscriptionService
	limiter       app.RateLimiter
	logger        *slog.Logger
}

func NewHandlers(movements MovementService, accounts AccountService, subscriptions SubscriptionService, limiter app.RateLimiter, logger *slog.Logger) *Handlers {
	return &Handlers{
		movements:     movements,
		accounts:      accounts,
		subscriptions: subscriptions,
		limiter:       limiter,
		logger:        logger,
	}
}

type depositRequest struct {
	AccountID             uuid.UUID       `json:"account_id" validate:"required"`
	Amount                decimal.Decimal `json:"amount" validate:"positive_decimal"`
	Currency              string          `json:"currency" validate:"required,currency"`
	IdempotencyKey        string          `json:"idempotency_key" validate:"max=255"`
	Provider              string          `json:"provider" validate:"max=64"`
	ProviderTransactionID string          `json:"provider_transaction_id" validate:"max=128"`
}

type withdrawalRequest struct {
	AccountID      uuid.UUID       `json:"account_id" validate:"required"`
	Amount         decimal.Decimal `json:"amount" validate:"positive_decimal"`
	Currency       string          `json:"currency" validate:"required,currency"`
	IdempotencyKey string          `json:"idempotency_key" validate:"max=255"`
}

type transferRequest struct {
	FromAccountID  uuid.UUID       `json:"from_account_id" validate:"required"`
	ToAccountID    uuid.UUID       `json:"to_account_id" validate:"required"`
	Amount         decimal.Decimal `json:"amount" validate:"positive_decimal"`
	Currency       string          `json:"currency" validate:"required,currency"`
	IdempotencyKey string          `json:"idempotency_key" validate:"max=255"`
	Description    string          `json:"description" validate:"max=255"`
}

type reversalRequest struct {
	IdempotencyKey string `json:"idempotency_key" validate:"max=255"`
	Reason         string `json:"reason" validate:"max=255"`
}

// DepositHandler credits an account owned by the caller.
func (h *Handlers) DepositHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req depositRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if _, err := h.ownedAccount(r.Context(), userID, req.AccountID); err != nil {
		h.writeServiceError(w, "deposit", err)
		return
	}
	if !h.allowMovement(w, r, req.AccountID) {
		return
	}

	result, err := h.movements.Deposit(r.Context(), domain.DepositRequest{
		AccountID:      req.AccountID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		IdempotencyKey: idempotencyKey(r, req.IdempotencyKey),
		Provenance: domain.Provenance{
			Provider:              req.Provider,
			ProviderTransactionID: req.ProviderTransactionID,
		},
	})
	if err != nil {
		h.writeServiceError(w, "deposit", err)
		return
	}
	writeMovement(w, result)
}

// WithdrawalHandler debits an account owned by the caller.
func (h *Handlers) WithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req withdrawalRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if _, err := h.ownedAccount(r.Context(), userID, req.AccountID); err != nil {
		h.writeServiceError(w, "withdrawal", err)
		return
	}
	if !h.allowMovement(w, r, req.AccountID) {
		return
	}

	result, err := h.movements.Withdraw(r.Context(), domain.WithdrawalRequest{
		AccountID:      req.AccountID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		IdempotencyKey: idempotencyKey(r, req.IdempotencyKey),
	})
	if err != nil {
		h.writeServiceError(w, "withdrawal", err)
		return
	}
	writeMovement(w, result)
}

// TransferHandler moves funds from an account owned by the caller to any
// active account in the same currency.
func (h *Handlers) TransferHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req transferRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if _, err := h.ownedAccount(r.Context(), userID, req.FromAccountID); err != nil {
		h.writeServiceError(w, "transfer", err)
		return
	}
	if !h.allowMovement(w, r, req.FromAccountID) {
		return
	}

	result, err := h.movements.Transfer(r.Context(), domain.TransferRequest{
		FromAccountID:  req.FromAccountID,
		ToAccountID:    req.ToAccountID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		IdempotencyKey: idempotencyKey(r, req.IdempotencyKey),
		Description:    req.Description,
	})
	if err != nil {
		h.writeServiceError(w, "transfer", err)
		return
	}
	writeMovement(w, result)
}

// ReverseTransactionHandler is an internal operation; the caller is trusted.
func (h *Handlers) ReverseTransactionHandler(w http.ResponseWriter, r *http.Request) {
	transactionID, ok := uuidParam(w, r, "id", "transaction ID")
	if !ok {
		return
	}

	var req reversalRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	result, err := h.movements.Reverse(r.Context(), domain.ReversalRequest{
		TransactionID:  transactionID,
		IdempotencyKey: idempotencyKey(r, req.IdempotencyKey),
		Reason:         req.Reason,
	})
	if err != nil {
		h.writeServiceError(w, "reverse_transaction", err)
		return
	}
	writeMovement(w, result)
}

// GetTransactionHandler returns a transaction touching one of the caller's accounts.
func (h *Handlers) GetTransactionHandler(w http.ResponseWriter, r *http.Request) {
	txn, ok := h.visibleTransaction(w, r, "get_transaction")
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, txn)
}

// GetTransactionLedgerHandler returns the ledger entries written by one transaction.
func (h *Handlers) GetTransactionLedgerHandler(w http.ResponseWriter, r *http.Request) {
	txn, ok := h.visibleTransaction(w, r, "get_transaction_ledger")
	if !ok {
		return
	}
	entries, err := h.movements.GetTransactionLedger(r.Context(), txn.ID)
	if err != nil {
		h.writeServiceError(w, "get_transaction_ledger", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"transaction_id": txn.ID,
		"entries":        entries,
	})
}

func (h *Handlers) visibleTransaction(w http.ResponseWriter, r *http.Request, endpoint string) (*domain.Transaction, bool) {
	userID, ok := requireUser(w, r)
	if !ok {
		return nil, false
	}
	transactionID, ok := uuidParam(w, r, "id", "transaction ID")
	if !ok {
		return nil, false
	}

	txn, err := h.movements.GetTransaction(r.Context(), transactionID)
	if err != nil {
		h.writeServiceError(w, endpoint, err)
		return nil, false
	}

	for _, accountID := range []*uuid.UUID{txn.FromAccountID, txn.ToAccountID} {
		if accountID == nil {
			continue
		}
		_, err := h.ownedAccount(r.Context(), userID, *accountID)
		if err == nil {
			return txn, true
		}
		if !errors.Is(err, domain.ErrAccountNotFound) {
			h.writeServiceError(w, endpoint, err)
			return nil, false
		}
	}
	h.writeServiceError(w, endpoint, domain.ErrTransactionNotFound)
	return nil, false
}

// ownedAccount loads an account and hides it from anyone but its owner.
func (h *Handlers) ownedAccount(ctx context.Context, userID string, accountID uuid.UUID) (*domain.AccountBalance, error) {
	account, err := h.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.Account.UserID != userID {
		return nil, domain.ErrAccountNotFound
	}
	return account, nil
}

// allowMovement applies the per-account movement limit. It writes the 429
// response itself and reports false when the request must stop.
func (h *Handlers) allowMovement(w http.ResponseWriter, r *http.Request, accountID uuid.UUID) bool {
	if h.limiter == nil {
		return true
	}
	allowed, retryAfter, err := h.limiter.Allow(r.Context(), movementScope, accountID.String())
	if err != nil {
		h.logger.Warn("rate limiter unavailable; allowing request", "account_id", accountID, "error", err)
		return true
	}
	if allowed {
		return true
	}
	observability.RateLimited.Inc()
	if retryAfter < 1 {
		retryAfter = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	writeError(w, http.StatusTooManyRequests, "Too many requests for this account")
	return false
}

// writeServiceError maps domain errors to HTTP statuses.
func (h *Handlers) writeServiceError(w http.ResponseWriter, endpoint string, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidAmount), errors.Is(err, domain.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrAccountNotFound),
		errors.Is(err, domain.ErrTransactionNotFound),
		errors.Is(err, domain.ErrSubscriptionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInsufficientFunds),
		errors.Is(err, domain.ErrAccountNotActive),
		errors.Is(err, domain.ErrCurrencyMismatch),
		errors.Is(err, domain.ErrAlreadyReversed):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrLockTimeout):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "Account is busy, retry with the same idempotency key")
	default:
		h.logger.Error("request failed", "endpoint", endpoint, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := GetUserID(r.Context())
	if !ok || userID == "" {
		writeError(w, http.StatusUnauthorized, "Could not get user ID from context")
		return "", false
	}
	return userID, true
}

func uuidParam(w http.ResponseWriter, r *http.Request, name, label string) (uuid.UUID, bool) {
	raw := chi.URLParam(r, name)
	if raw == "" {
		writeError(w, http.StatusBadRequest, label+" is required")
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid "+label+" format")
		return uuid.Nil, false
	}
	return id, true
}

// decodeAndValidate reads a JSON body into dst and runs tag validation. An
// empty body is accepted so routes whose fields are all optional can omit it.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	if err := validateRequest(dst); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

// idempotencyKey prefers the Idempotency-Key header over the body field.
func idempotencyKey(r *http.Request, bodyKey string) string {
	if header := strings.TrimSpace(r.Header.Get(idempotencyKeyHeader)); header != "" {
		return header
	}
	return strings.TrimSpace(bodyKey)
}

// writeMovement answers 201 for a fresh movement and 200 for a replay.
func writeMovement(w http.ResponseWriter, result *domain.MovementResult) {
	status := http.StatusCreated
	if result.Replayed {
		w.Header().Set(replayedHeader, "true")
		status = http.StatusOK
	}
	writeJSON(w, status, result)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
