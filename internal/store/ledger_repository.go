package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/transfa/core-banking-service/internal/domain"
)

const transactionColumns = `transaction_id, idempotency_key, transaction_type, amount, currency,
	from_account_id, to_account_id, status, description, metadata::text, reverses_transaction_id, created_at`

const ledgerColumns = `entry_id, transaction_id, account_id, entry_type, amount, currency, balance_after, description, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// RunInTx opens a unit of work with a bounded lock wait, runs fn and commits
// only if fn returns nil. The deferred rollback covers every other exit path.
func (r *PostgresRepository) RunInTx(ctx context.Context, fn func(tx LedgerTx) error) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin unit of work: %w", classifyError(err))
	}
	defer tx.Rollback(ctx)

	if r.lockTimeout > 0 {
		timeout := fmt.Sprintf("%dms", r.lockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`, timeout); err != nil {
			return fmt.Errorf("set lock timeout: %w", classifyError(err))
		}
	}

	if err := fn(&pgLedgerTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit unit of work: %w", classifyError(err))
	}
	return nil
}

// FindTransactionByIdempotencyKey reads from the primary so that a caller that
// lost the insert race sees the winner's committed row.
func (r *PostgresRepository) FindTransactionByIdempotencyKey(ctx context.Context, key string) (*domain.Transaction, error) {
	return findTransactionByKey(ctx, r.db, key)
}

func (r *PostgresRepository) GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	row := r.replica.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE transaction_id = $1`, id)
	return scanTransaction(row)
}

func (r *PostgresRepository) GetTransactionLedger(ctx context.Context, transactionID uuid.UUID) ([]domain.LedgerEntry, error) {
	rows, err := r.replica.Query(ctx, `SELECT `+ledgerColumns+` FROM transaction_ledger WHERE transaction_id = $1 ORDER BY entry_seq`, transactionID)
	if err != nil {
		return nil, err
	}
	return collectLedgerEntries(rows)
}

// GetAccountLedger pages newest first. entry_seq is drawn while the balance row
// lock is held, so it follows lock acquisition order for the account.
func (r *PostgresRepository) GetAccountLedger(ctx context.Context, accountID uuid.UUID, limit int, before *time.Time) ([]domain.LedgerEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := r.replica.Query(ctx, `
		SELECT `+ledgerColumns+`
		FROM transaction_ledger
		WHERE account_id = $1
		  AND ($3::timestamptz IS NULL OR created_at < $3::timestamptz)
		ORDER BY entry_seq DESC
		LIMIT $2
	`, accountID, limit, before)
	if err != nil {
		return nil, err
	}
	return collectLedgerEntries(rows)
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func findTransactionByKey(ctx context.Context, q queryRower, key string) (*domain.Transaction, error) {
	row := q.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE idempotency_key = $1`, key)
	return scanTransaction(row)
}

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var (
		t        domain.Transaction
		txType   string
		metadata string
	)
	err := row.Scan(
		&t.ID,
		&t.IdempotencyKey,
		&txType,
		&t.Amount,
		&t.Currency,
		&t.FromAccountID,
		&t.ToAccountID,
		&t.Status,
		&t.Description,
		&metadata,
		&t.ReversesTransactionID,
		&t.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTransactionNotFound
		}
		return nil, err
	}
	t.Type = domain.TransactionType(txType)
	if metadata != "" && metadata != "{}" {
		if err := json.Unmarshal([]byte(metadata), &t.Metadata); err != nil {
			return nil, fmt.Errorf("decode transaction metadata: %w", err)
		}
	}
	return &t, nil
}

func scanLedgerEntry(row rowScanner) (domain.LedgerEntry, error) {
	var (
		e         domain.LedgerEntry
		entryType string
	)
	err := row.Scan(&e.ID, &e.TransactionID, &e.AccountID, &entryType, &e.Amount, &e.Currency, &e.BalanceAfter, &e.Description, &e.CreatedAt)
	e.EntryType = domain.EntryType(entryType)
	return e, err
}

func collectLedgerEntries(rows pgx.Rows) ([]domain.LedgerEntry, error) {
	defer rows.Close()
	entries := make([]domain.LedgerEntry, 0)
	for rows.Next() {
		entry, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// pgLedgerTx is the LedgerTx handed to RunInTx callbacks.
type pgLedgerTx struct {
	tx pgx.Tx
}

func (t *pgLedgerTx) FindTransactionByIdempotencyKey(ctx context.Context, key string) (*domain.Transaction, error) {
	txn, err := findTransactionByKey(ctx, t.tx, key)
	return txn, classifyError(err)
}

func (t *pgLedgerTx) FindTransactionByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE transaction_id = $1`, id)
	txn, err := scanTransaction(row)
	return txn, classifyError(err)
}

func (t *pgLedgerTx) FindLedgerEntries(ctx context.Context, transactionID uuid.UUID) ([]domain.LedgerEntry, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+ledgerColumns+` FROM transaction_ledger WHERE transaction_id = $1 ORDER BY entry_seq`, transactionID)
	if err != nil {
		return nil, classifyError(err)
	}
	return collectLedgerEntries(rows)
}

func (t *pgLedgerTx) IsReversed(ctx context.Context, transactionID uuid.UUID) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM transactions WHERE reverses_transaction_id = $1)`, transactionID).Scan(&exists)
	return exists, classifyError(err)
}

func (t *pgLedgerTx) LockAccountBalance(ctx context.Context, accountID uuid.UUID) (*domain.AccountBalance, error) {
	query := `
		SELECT ` + accountBalanceColumns + `
		FROM account_balances b
		JOIN accounts a ON a.account_id = b.account_id
		WHERE b.account_id = $1
		FOR UPDATE OF b
	`
	ab, err := scanAccountBalance(t.tx.QueryRow(ctx, query, accountID))
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("lock balance %s: %w", accountID, classifyError(err))
	}
	return ab, nil
}

func (t *pgLedgerTx) InsertTransaction(ctx context.Context, txn *domain.Transaction) error {
	metadata := "{}"
	if len(txn.Metadata) > 0 {
		blob, err := json.Marshal(txn.Metadata)
		if err != nil {
			return err
		}
		metadata = string(blob)
	}
	if txn.Status == "" {
		txn.Status = domain.TransactionStatusCompleted
	}

	query := `
		INSERT INTO transactions (
			transaction_id, idempotency_key, transaction_type, amount, currency,
			from_account_id, to_account_id, status, description, metadata, reverses_transaction_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::jsonb, $11)
		RETURNING created_at
	`
	err := t.tx.QueryRow(ctx, query,
		txn.ID,
		txn.IdempotencyKey,
		string(txn.Type),
		txn.Amount,
		txn.Currency,
		txn.FromAccountID,
		txn.ToAccountID,
		txn.Status,
		txn.Description,
		metadata,
		txn.ReversesTransactionID,
	).Scan(&txn.CreatedAt)
	if err != nil {
		return classifyError(err)
	}
	return nil
}

func (t *pgLedgerTx) ApplyEntry(ctx context.Context, entry *domain.LedgerEntry) error {
	err := t.tx.QueryRow(ctx, `
		UPDATE account_balances
		SET balance = balance + $2, version = version + 1, updated_at = clock_timestamp()
		WHERE account_id = $1
		RETURNING balance
	`, entry.AccountID, entry.Signed()).Scan(&entry.BalanceAfter)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrAccountNotFound
		}
		return classifyError(err)
	}

	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	// NOW() is the transaction start; entries are stamped after the lock is taken.
	err = t.tx.QueryRow(ctx, `
		INSERT INTO transaction_ledger (entry_id, transaction_id, account_id, entry_type, amount, currency, balance_after, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, clock_timestamp())
		RETURNING created_at
	`,
		entry.ID,
		entry.TransactionID,
		entry.AccountID,
		string(entry.EntryType),
		entry.Amount,
		entry.Currency,
		entry.BalanceAfter,
		entry.Description,
	).Scan(&entry.CreatedAt)
	return classifyError(err)
}

func (t *pgLedgerTx) EnqueueEvent(ctx context.Context, event OutboxEvent) error {
	return enqueueEventTx(ctx, t.tx, event)
}

func enqueueEventTx(ctx context.Context, tx pgx.Tx, event OutboxEvent) error {
	blob, err := json.Marshal(event.Payload)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO event_outbox (exchange, routing_key, payload)
		VALUES ($1, $2, $3::jsonb)
	`, strings.TrimSpace(event.Exchange), strings.TrimSpace(event.RoutingKey), string(blob))
	if err != nil {
		return fmt.Errorf("failed to enqueue outbox event: %w", err)
	}
	return nil
}
