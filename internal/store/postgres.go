package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// advisoryLockKey is a stable PostgreSQL advisory lock key used to serialise
// concurrent Update calls. The value is arbitrary but must be consistent
// across all anchord instances sharing a database.
const advisoryLockKey = int64(1_337_240_611)

// Postgres persists records to the kv_records table (see migrations/).
type Postgres struct {
	pool   *pgxpool.Pool
	opts   Options
	logger *zap.Logger
}

// NewPostgres creates a Postgres store backed by the given connection pool.
func NewPostgres(pool *pgxpool.Pool, opts Options, logger *zap.Logger) *Postgres {
	return &Postgres{pool: pool, opts: opts.withDefaults(), logger: logger}
}

// View implements Store. Reads run in a repeatable-read, read-only transaction
// so fn sees one consistent snapshot.
func (p *Postgres) View(ctx context.Context, now time.Time, fn func(Reader) error) error {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	return fn(&pgTx{ctx: ctx, tx: tx, now: now, opts: p.opts})
}

// Update implements Store.
// It acquires a PostgreSQL advisory lock, runs fn, and commits, all within a
// single transaction. The lock is released on commit or rollback.
func (p *Postgres) Update(ctx context.Context, now time.Time, fn func(Tx) error) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
		return fmt.Errorf("acquire advisory lock: %w", err)
	}

	if err := fn(&pgTx{ctx: ctx, tx: tx, now: now, opts: p.opts}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Sweep implements Store.
func (p *Postgres) Sweep(ctx context.Context, now time.Time) (int, error) {
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM kv_records WHERE tier = $1 AND expires_at <> 0 AND expires_at <= $2`,
		int16(TierTemporary), now.UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("sweep expired records: %w", err)
	}
	n := int(tag.RowsAffected())
	if n > 0 {
		p.logger.Debug("postgres sweep", zap.Int("removed", n))
	}
	return n, nil
}

// Close implements Store. The pool is owned by the caller.
func (p *Postgres) Close() error { return nil }

type pgTx struct {
	ctx  context.Context
	tx   pgx.Tx
	now  time.Time
	opts Options
}

func (t *pgTx) Get(tier Tier, key string) ([]byte, error) {
	if err := checkTier(tier); err != nil {
		return nil, err
	}
	var value []byte
	var expiresAt int64
	err := t.tx.QueryRow(t.ctx,
		`SELECT value, expires_at FROM kv_records WHERE tier = $1 AND key = $2`,
		int16(tier), key,
	).Scan(&value, &expiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", tier, key, err)
	}
	if expired(expiresAt, t.now) {
		return nil, ErrNotFound
	}
	return value, nil
}

func (t *pgTx) Put(tier Tier, key string, value []byte, ttl time.Duration) error {
	exp, err := t.opts.expiry(t.now, tier, ttl)
	if err != nil {
		return err
	}
	if _, err := t.tx.Exec(t.ctx,
		`INSERT INTO kv_records (tier, key, value, expires_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (tier, key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`,
		int16(tier), key, value, exp,
	); err != nil {
		return fmt.Errorf("put %s/%s: %w", tier, key, err)
	}
	return nil
}

func (t *pgTx) Delete(tier Tier, key string) error {
	if err := checkTier(tier); err != nil {
		return err
	}
	if _, err := t.tx.Exec(t.ctx,
		`DELETE FROM kv_records WHERE tier = $1 AND key = $2`, int16(tier), key,
	); err != nil {
		return fmt.Errorf("delete %s/%s: %w", tier, key, err)
	}
	return nil
}
