/**
 * @description
 * Connection pool construction and the PostgresRepository type. The pool settings
 * follow the other transfa services: large pools, bounded lifetimes and the
 * simple query protocol so pgbouncer in transaction mode never sees prepared
 * statements.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5/pgxpool: connection pooling.
 */
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolOptions tunes NewPool.
type PoolOptions struct {
	MaxConns int32
	MinConns int32
}

// NewPool opens and pings a pgx pool.
func NewPool(ctx context.Context, databaseURL string, opts PoolOptions) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	if opts.MaxConns > 0 {
		poolConfig.MaxConns = opts.MaxConns
	}
	if opts.MinConns > 0 && opts.MinConns <= poolConfig.MaxConns {
		poolConfig.MinConns = opts.MinConns
	}
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// PostgresRepository implements every repository interface of this package.
// Writes always go to the primary pool; read-only queries that tolerate a short
// staleness window use the replica pool when one is configured.
type PostgresRepository struct {
	db          *pgxpool.Pool
	replica     *pgxpool.Pool
	lockTimeout time.Duration
}

// NewPostgresRepository builds the repository. replica may be nil.
func NewPostgresRepository(db *pgxpool.Pool, replica *pgxpool.Pool, lockTimeout time.Duration) *PostgresRepository {
	if replica == nil {
		replica = db
	}
	return &PostgresRepository{db: db, replica: replica, lockTimeout: lockTimeout}
}

var (
	_ LedgerStore            = (*PostgresRepository)(nil)
	_ AccountRepository      = (*PostgresRepository)(nil)
	_ SubscriptionRepository = (*PostgresRepository)(nil)
	_ OutboxRepository       = (*PostgresRepository)(nil)
)
