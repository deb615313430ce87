package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/transfa/core-banking-service/internal/domain"
	"github.com/transfa/core-banking-service/internal/store"
)

const consumerTimeout = 30 * time.Second

// UserEventHandler provisions default accounts for newly registered users.
type UserEventHandler struct {
	accounts        *AccountService
	repo            store.AccountRepository
	defaultCurrency string
	logger          *slog.Logger
}

func NewUserEventHandler(accounts *AccountService, repo store.AccountRepository, defaultCurrency string, logger *slog.Logger) *UserEventHandler {
	return &UserEventHandler{
		accounts:        accounts,
		repo:            repo,
		defaultCurrency: defaultCurrency,
		logger:          logger,
	}
}

// HandleUserRegistered creates the user's default CHECKING account. The lookup
// skips the common redelivery case; the unique default-account index settles
// concurrent deliveries. It returns true when the message should be acknowledged.
func (h *UserEventHandler) HandleUserRegistered(body []byte) bool {
	var event domain.UserRegisteredEvent
	if err := json.Unmarshal(body, &event); err != nil {
		h.logger.Error("malformed UserRegistered event; acking", "error", err)
		return true
	}
	userID := strings.TrimSpace(event.Payload.UserID)
	if userID == "" {
		h.logger.Warn("UserRegistered event missing user_id; acking")
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), consumerTimeout)
	defer cancel()

	existing, err := h.repo.FindUserAccount(ctx, userID, domain.AccountTypeChecking, h.defaultCurrency)
	switch {
	case err == nil:
		h.logger.Info("user already has a default account; skipping", "user_id", userID, "account_id", existing.ID)
		return true
	case !errors.Is(err, domain.ErrAccountNotFound):
		h.logger.Error("failed to look up existing account", "user_id", userID, "error", err)
		return false
	}

	if _, err := h.accounts.ProvisionDefaultAccount(ctx, userID, h.defaultCurrency); err != nil {
		if errors.Is(err, domain.ErrDefaultAccountExists) {
			h.logger.Info("default account provisioned concurrently; skipping", "user_id", userID)
			return true
		}
		if errors.Is(err, domain.ErrInvalidRequest) {
			h.logger.Error("cannot provision default account; acking", "user_id", userID, "error", err)
			return true
		}
		h.logger.Error("failed to provision default account", "user_id", userID, "error", err)
		return false
	}
	return true
}
