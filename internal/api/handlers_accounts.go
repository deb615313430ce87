package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/transfa/core-banking-service/internal/domain"
)

type createAccountRequest struct {
	AccountType string `json:"account_type" validate:"omitempty,oneof=CHECKING SAVINGS checking savings"`
	Currency    string `json:"currency" validate:"required,currency"`
}

type updateAccountStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=ACTIVE FROZEN CLOSED active frozen closed"`
}

// CreateAccountHandler opens an account for the caller with a zero balance.
func (h *Handlers) CreateAccountHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req createAccountRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	account, err := h.accounts.CreateAccount(r.Context(), userID, req.AccountType, req.Currency)
	if err != nil {
		h.writeServiceError(w, "create_account", err)
		return
	}
	writeJSON(w, http.StatusCreated, account)
}

func (h *Handlers) GetAccountHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	accountID, ok := uuidParam(w, r, "id", "account ID")
	if !ok {
		return
	}

	account, err := h.ownedAccount(r.Context(), userID, accountID)
	if err != nil {
		h.writeServiceError(w, "get_account", err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (h *Handlers) GetBalanceHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	accountID, ok := uuidParam(w, r, "id", "account ID")
	if !ok {
		return
	}

	account, err := h.ownedAccount(r.Context(), userID, accountID)
	if err != nil {
		h.writeServiceError(w, "get_balance", err)
		return
	}
	balance, err := h.accounts.GetBalance(r.Context(), accountID)
	if err != nil {
		h.writeServiceError(w, "get_balance", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account_id": accountID,
		"currency":   account.Account.Currency,
		"balance":    balance.Amount,
		"updated_at": balance.UpdatedAt,
	})
}

// GetAccountLedgerHandler pages through an account's ledger, newest first.
// Query params: limit (default 50, max 500) and before (RFC 3339).
func (h *Handlers) GetAccountLedgerHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	accountID, ok := uuidParam(w, r, "id", "account ID")
	if !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	var before *time.Time
	if raw := r.URL.Query().Get("before"); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "before must be an RFC 3339 timestamp")
			return
		}
		before = &parsed
	}

	if _, err := h.ownedAccount(r.Context(), userID, accountID); err != nil {
		h.writeServiceError(w, "get_account_ledger", err)
		return
	}

	entries, err := h.accounts.GetAccountLedger(r.Context(), accountID, limit, before)
	if err != nil {
		h.writeServiceError(w, "get_account_ledger", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account_id": accountID,
		"entries":    entries,
	})
}

// ListUserAccountsHandler only lists the caller's own accounts.
func (h *Handlers) ListUserAccountsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	if requested := chi.URLParam(r, "userID"); requested != userID {
		writeError(w, http.StatusForbidden, "Cannot list accounts of another user")
		return
	}

	accounts, err := h.accounts.ListUserAccounts(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, "list_user_accounts", err)
		return
	}
	if accounts == nil {
		accounts = []domain.AccountBalance{}
	}
	writeJSON(w, http.StatusOK, accounts)
}

// UpdateAccountStatusHandler freezes, closes or reactivates an account.
func (h *Handlers) UpdateAccountStatusHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := uuidParam(w, r, "id", "account ID")
	if !ok {
		return
	}

	var req updateAccountStatusRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	account, err := h.accounts.UpdateStatus(r.Context(), accountID, req.Status)
	if err != nil {
		h.writeServiceError(w, "update_account_status", err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}
