package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/transfa/core-banking-service/internal/domain"
)

type createSubscriptionRequest struct {
	PayeeUserID     string          `json:"provider_id" validate:"required,max=255"`
	SourceAccountID *uuid.UUID      `json:"source_account_id"`
	TargetAccountID *uuid.UUID      `json:"target_account_id"`
	Amount          decimal.Decimal `json:"amount" validate:"positive_decimal"`
	Currency        string          `json:"currency" validate:"required,currency"`
	Frequency       string          `json:"frequency" validate:"required"`
	StartAt         *time.Time      `json:"start_at"`
	Description     string          `json:"description" validate:"max=255"`
}

// CreateSubscriptionHandler registers a recurring payment from the caller to a provider.
func (h *Handlers) CreateSubscriptionHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req createSubscriptionRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	sub, err := h.subscriptions.CreateSubscription(r.Context(), domain.CreateSubscriptionRequest{
		PayerUserID:     userID,
		PayeeUserID:     req.PayeeUserID,
		SourceAccountID: req.SourceAccountID,
		TargetAccountID: req.TargetAccountID,
		Amount:          req.Amount,
		Currency:        req.Currency,
		Frequency:       req.Frequency,
		StartAt:         req.StartAt,
		Description:     req.Description,
	})
	if err != nil {
		h.writeServiceError(w, "create_subscription", err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (h *Handlers) ListSubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	subs, err := h.subscriptions.ListSubscriptions(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, "list_subscriptions", err)
		return
	}
	if subs == nil {
		subs = []domain.Subscription{}
	}
	writeJSON(w, http.StatusOK, subs)
}

func (h *Handlers) CancelSubscriptionHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	subscriptionID, ok := uuidParam(w, r, "id", "subscription ID")
	if !ok {
		return
	}

	sub, err := h.subscriptions.CancelSubscription(r.Context(), subscriptionID, userID)
	if err != nil {
		h.writeServiceError(w, "cancel_subscription", err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}
