/**
 * @description
 * Data access for accounts and their balance rows. Accounts are created together
 * with a zero balance in one transaction and are never deleted.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver.
 */
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/transfa/core-banking-service/internal/domain"
)

const accountBalanceColumns = `a.account_id, a.user_id, a.account_type, a.currency, a.status, a.is_default, a.created_at, a.updated_at,
	b.balance, b.version, b.updated_at`

const accountColumns = `account_id, user_id, account_type, currency, status, is_default, created_at, updated_at`

// CreateAccountWithBalance inserts the account and its zero balance atomically.
// Any events are written to the outbox inside the same transaction. A second
// default account for the same user and currency fails with
// domain.ErrDefaultAccountExists.
func (r *PostgresRepository) CreateAccountWithBalance(ctx context.Context, account *domain.Account, events ...OutboxEvent) (*domain.AccountBalance, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	if account.Status == "" {
		account.Status = domain.AccountStatusActive
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO accounts (account_id, user_id, account_type, currency, status, is_default)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`, account.ID, account.UserID, string(account.Type), account.Currency, string(account.Status), account.IsDefault).Scan(&account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert account: %w", classifyError(err))
	}

	balance := domain.Balance{AccountID: account.ID, Amount: decimal.Zero}
	err = tx.QueryRow(ctx, `
		INSERT INTO account_balances (account_id, balance, version)
		VALUES ($1, 0, 1)
		RETURNING version, updated_at
	`, account.ID).Scan(&balance.Version, &balance.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert balance: %w", err)
	}

	for _, event := range events {
		if err := enqueueEventTx(ctx, tx, event); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &domain.AccountBalance{Account: *account, Balance: balance}, nil
}

// GetAccount is a lock-free read served by the replica pool.
func (r *PostgresRepository) GetAccount(ctx context.Context, id uuid.UUID) (*domain.AccountBalance, error) {
	query := `SELECT ` + accountBalanceColumns + `
		FROM accounts a
		JOIN account_balances b ON b.account_id = a.account_id
		WHERE a.account_id = $1`
	return scanAccountBalance(r.replica.QueryRow(ctx, query, id))
}

func (r *PostgresRepository) ListUserAccounts(ctx context.Context, userID string) ([]domain.AccountBalance, error) {
	query := `SELECT ` + accountBalanceColumns + `
		FROM accounts a
		JOIN account_balances b ON b.account_id = a.account_id
		WHERE a.user_id = $1
		ORDER BY a.created_at`
	rows, err := r.replica.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	accounts := make([]domain.AccountBalance, 0)
	for rows.Next() {
		ab, err := scanAccountBalance(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *ab)
	}
	return accounts, rows.Err()
}

func (r *PostgresRepository) UpdateAccountStatus(ctx context.Context, id uuid.UUID, status domain.AccountStatus) (*domain.Account, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE accounts SET status = $1, updated_at = NOW()
		WHERE account_id = $2
		RETURNING `+accountColumns, string(status), id)
	return scanAccount(row)
}

func (r *PostgresRepository) FindUserAccount(ctx context.Context, userID string, accountType domain.AccountType, currency string) (*domain.Account, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+accountColumns+` FROM accounts
		WHERE user_id = $1 AND account_type = $2 AND currency = $3
		ORDER BY created_at
		LIMIT 1`, userID, string(accountType), currency)
	return scanAccount(row)
}

// FindOldestActiveAccount resolves a payer's default funding account.
func (r *PostgresRepository) FindOldestActiveAccount(ctx context.Context, userID, currency string) (*domain.Account, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+accountColumns+` FROM accounts
		WHERE user_id = $1 AND currency = $2 AND status = 'ACTIVE'
		ORDER BY created_at ASC
		LIMIT 1`, userID, currency)
	return scanAccount(row)
}

// FindNewestActiveAccount resolves a payee's default receiving account.
func (r *PostgresRepository) FindNewestActiveAccount(ctx context.Context, userID, currency string) (*domain.Account, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+accountColumns+` FROM accounts
		WHERE user_id = $1 AND currency = $2 AND status = 'ACTIVE'
		ORDER BY created_at DESC
		LIMIT 1`, userID, currency)
	return scanAccount(row)
}

func scanAccount(row rowScanner) (*domain.Account, error) {
	var (
		a           domain.Account
		accountType string
		status      string
	)
	if err := row.Scan(&a.ID, &a.UserID, &accountType, &a.Currency, &status, &a.IsDefault, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, err
	}
	a.Type = domain.AccountType(accountType)
	a.Status = domain.AccountStatus(status)
	return &a, nil
}

func scanAccountBalance(row rowScanner) (*domain.AccountBalance, error) {
	var (
		ab          domain.AccountBalance
		accountType string
		status      string
	)
	err := row.Scan(
		&ab.Account.ID,
		&ab.Account.UserID,
		&accountType,
		&ab.Account.Currency,
		&status,
		&ab.Account.IsDefault,
		&ab.Account.CreatedAt,
		&ab.Account.UpdatedAt,
		&ab.Balance.Amount,
		&ab.Balance.Version,
		&ab.Balance.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, err
	}
	ab.Account.Type = domain.AccountType(accountType)
	ab.Account.Status = domain.AccountStatus(status)
	ab.Balance.AccountID = ab.Account.ID
	return &ab, nil
}
