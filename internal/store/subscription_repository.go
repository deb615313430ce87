package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/transfa/core-banking-service/internal/domain"
)

const subscriptionColumns = `subscription_id, user_id, provider_id, source_account_id, target_account_id,
	amount, currency, frequency, next_payment_date, is_active, description, created_at, updated_at`

func (r *PostgresRepository) CreateSubscription(ctx context.Context, sub *domain.Subscription) error {
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	query := `
		INSERT INTO subscriptions (
			subscription_id, user_id, provider_id, source_account_id, target_account_id,
			amount, currency, frequency, next_payment_date, is_active, description
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at
	`
	return r.db.QueryRow(ctx, query,
		sub.ID,
		sub.PayerUserID,
		sub.PayeeUserID,
		sub.SourceAccountID,
		sub.TargetAccountID,
		sub.Amount,
		sub.Currency,
		string(sub.Frequency),
		sub.NextDueAt,
		sub.Active,
		sub.Description,
	).Scan(&sub.CreatedAt, &sub.UpdatedAt)
}

func (r *PostgresRepository) GetSubscription(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	row := r.db.QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE subscription_id = $1`, id)
	return scanSubscription(row)
}

func (r *PostgresRepository) ListSubscriptionsByPayer(ctx context.Context, userID string) ([]domain.Subscription, error) {
	rows, err := r.replica.Query(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	return collectSubscriptions(rows)
}

func (r *PostgresRepository) DeactivateSubscription(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE subscriptions SET is_active = FALSE, updated_at = NOW()
		WHERE subscription_id = $1
		RETURNING `+subscriptionColumns, id)
	return scanSubscription(row)
}

// ListDueSubscriptions returns active subscriptions that were never charged or
// whose next payment date has passed, oldest due first.
func (r *PostgresRepository) ListDueSubscriptions(ctx context.Context, asOf time.Time, limit int) ([]domain.Subscription, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE is_active = TRUE
		  AND (next_payment_date IS NULL OR next_payment_date <= $1)
		ORDER BY next_payment_date NULLS FIRST, created_at
		LIMIT $2
	`, asOf, limit)
	if err != nil {
		return nil, err
	}
	return collectSubscriptions(rows)
}

func (r *PostgresRepository) AdvanceNextDue(ctx context.Context, id uuid.UUID, previous *time.Time, next time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE subscriptions
		SET next_payment_date = $2, updated_at = NOW()
		WHERE subscription_id = $1
		  AND next_payment_date IS NOT DISTINCT FROM $3::timestamptz
	`, id, next, previous)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func scanSubscription(row rowScanner) (*domain.Subscription, error) {
	var (
		s         domain.Subscription
		frequency string
	)
	err := row.Scan(
		&s.ID,
		&s.PayerUserID,
		&s.PayeeUserID,
		&s.SourceAccountID,
		&s.TargetAccountID,
		&s.Amount,
		&s.Currency,
		&frequency,
		&s.NextDueAt,
		&s.Active,
		&s.Description,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSubscriptionNotFound
		}
		return nil, err
	}
	s.Frequency = domain.Frequency(frequency)
	return &s, nil
}

func collectSubscriptions(rows pgx.Rows) ([]domain.Subscription, error) {
	defer rows.Close()
	subs := make([]domain.Subscription, 0)
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *s)
	}
	return subs, rows.Err()
}
