package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"
)

// Pebble is a Store backed by an embedded Pebble database. Keys are prefixed
// with their tier; values carry an 8-byte expiry header.
type Pebble struct {
	db     *pebble.DB
	mu     sync.Mutex // serialises Update so read-modify-write units are atomic
	opts   Options
	logger *zap.Logger
}

// OpenPebble opens (or creates) a Pebble database at path.
func OpenPebble(path string, opts Options, logger *zap.Logger) (*Pebble, error) {
	db, err := pebble.Open(path, &pebble.Options{
		Cache:                       pebble.NewCache(32 << 20), // 32 MB cache
		MemTableSize:                16 << 20,                  // 16 MB memtable
		MemTableStopWritesThreshold: 2,
	})
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", path, err)
	}
	return &Pebble{db: db, opts: opts.withDefaults(), logger: logger}, nil
}

// View implements Store.
func (p *Pebble) View(_ context.Context, now time.Time, fn func(Reader) error) error {
	snap := p.db.NewSnapshot()
	defer snap.Close()
	return fn(&pebbleReader{get: snap.Get, now: now})
}

// Update implements Store. Each unit runs in an indexed batch so reads observe
// the unit's own writes; the batch is committed with Sync.
func (p *Pebble) Update(_ context.Context, now time.Time, fn func(Tx) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	batch := p.db.NewIndexedBatch()
	defer batch.Close()

	tx := &pebbleTx{
		pebbleReader: pebbleReader{get: batch.Get, now: now},
		batch:        batch,
		opts:         p.opts,
	}
	if err := fn(tx); err != nil {
		return err
	}
	if batch.Empty() {
		return nil
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit pebble batch: %w", err)
	}
	return nil
}

// Sweep implements Store.
func (p *Pebble) Sweep(_ context.Context, now time.Time) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	prefix := tierPrefix(TierTemporary)
	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return 0, fmt.Errorf("open sweep iterator: %w", err)
	}

	batch := p.db.NewBatch()
	defer batch.Close()

	n := 0
	for iter.First(); iter.Valid(); iter.Next() {
		value, err := iter.ValueAndErr()
		if err != nil {
			iter.Close()
			return 0, err
		}
		exp, _, err := decodeRecord(value)
		if err != nil || expired(exp, now) {
			if err := batch.Delete(iter.Key(), nil); err != nil {
				iter.Close()
				return 0, err
			}
			n++
		}
	}
	if err := iter.Close(); err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	if err := batch.Commit(pebble.NoSync); err != nil {
		return 0, fmt.Errorf("commit sweep: %w", err)
	}
	p.logger.Debug("pebble sweep", zap.Int("removed", n))
	return n, nil
}

// Close implements Store.
func (p *Pebble) Close() error {
	if err := p.db.Flush(); err != nil {
		return err
	}
	return p.db.Close()
}

type pebbleReader struct {
	get func(key []byte) ([]byte, io.Closer, error)
	now time.Time
}

type pebbleTx struct {
	pebbleReader
	batch *pebble.Batch
	opts  Options
}

func (r *pebbleReader) Get(tier Tier, key string) ([]byte, error) {
	if err := checkTier(tier); err != nil {
		return nil, err
	}
	raw, closer, err := r.get(encodeKey(tier, key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	// decodeRecord copies, since raw is invalid after closer.Close().
	exp, value, err := decodeRecord(raw)
	if err != nil {
		return nil, err
	}
	if expired(exp, r.now) {
		return nil, ErrNotFound
	}
	return value, nil
}

func (t *pebbleTx) Put(tier Tier, key string, value []byte, ttl time.Duration) error {
	exp, err := t.opts.expiry(t.now, tier, ttl)
	if err != nil {
		return err
	}
	return t.batch.Set(encodeKey(tier, key), encodeRecord(exp, value), nil)
}

func (t *pebbleTx) Delete(tier Tier, key string) error {
	if err := checkTier(tier); err != nil {
		return err
	}
	return t.batch.Delete(encodeKey(tier, key), nil)
}

func tierPrefix(tier Tier) []byte {
	return []byte{byte(tier), '/'}
}

func encodeKey(tier Tier, key string) []byte {
	return append(tierPrefix(tier), key...)
}

// prefixUpperBound computes the exclusive upper bound for a prefix scan.
// Increments the last byte; returns nil if prefix is all 0xFF (full range).
func prefixUpperBound(prefix []byte) []byte {
	upper := make([]byte, len(prefix))
	copy(upper, prefix)

	for i := len(upper) - 1; i >= 0; i-- {
		upper[i]++
		if upper[i] != 0 {
			return upper
		}
	}
	return nil
}
