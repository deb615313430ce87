/**
 * @description
 * Event contracts produced to and consumed from the message broker. Each message
 * body is an envelope of the form {"type": ..., "payload": ...}.
 */
package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	TopicTransactionEvents = "transaction-events"
	TopicAccountEvents     = "account-events"
	TopicAuthEvents        = "auth-events"
)

const (
	EventTransactionCompleted = "TransactionCompleted"
	EventTransactionFailed    = "TransactionFailed"
	EventAccountCreated       = "AccountCreated"
	EventUserRegistered       = "UserRegistered"
)

// Event is the envelope published on a topic. The event type doubles as the
// routing key.
type Event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// TransactionEventPayload is carried by TransactionCompleted and TransactionFailed.
type TransactionEventPayload struct {
	TransactionID         *uuid.UUID      `json:"transaction_id,omitempty"`
	IdempotencyKey        string          `json:"idempotency_key"`
	Type                  TransactionType `json:"type"`
	Amount                string          `json:"amount"`
	Currency              string          `json:"currency"`
	FromAccountID         *uuid.UUID      `json:"from_account_id,omitempty"`
	ToAccountID           *uuid.UUID      `json:"to_account_id,omitempty"`
	FromUserID            string          `json:"from_user_id,omitempty"`
	ToUserID              string          `json:"to_user_id,omitempty"`
	ReversesTransactionID *uuid.UUID      `json:"reverses_transaction_id,omitempty"`
	Reason                string          `json:"reason,omitempty"`
	OccurredAt            time.Time       `json:"occurred_at"`
}

// AccountCreatedPayload is carried by AccountCreated.
type AccountCreatedPayload struct {
	AccountID   uuid.UUID   `json:"account_id"`
	UserID      string      `json:"user_id"`
	AccountType AccountType `json:"account_type"`
	Currency    string      `json:"currency"`
}

// UserRegisteredEvent is consumed from the auth-events exchange.
type UserRegisteredEvent struct {
	Type    string `json:"type"`
	Payload struct {
		UserID   string `json:"user_id"`
		Email    string `json:"email"`
		Username string `json:"username"`
	} `json:"payload"`
}
