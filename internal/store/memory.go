package store

import (
	"context"
	"sync"
	"time"
)

type memRecord struct {
	value     []byte
	expiresAt int64
}

type memKey struct {
	tier Tier
	key  string
}

// Memory is an in-memory, thread-safe Store.
type Memory struct {
	mu      sync.RWMutex
	records map[memKey]memRecord
	opts    Options
}

// NewMemory returns an empty Memory store.
func NewMemory(opts Options) *Memory {
	return &Memory{
		records: make(map[memKey]memRecord),
		opts:    opts.withDefaults(),
	}
}

// View implements Store.
func (m *Memory) View(_ context.Context, now time.Time, fn func(Reader) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(&memTx{m: m, now: now})
}

// Update implements Store. Writes are buffered in an overlay and applied only
// when fn succeeds.
func (m *Memory) Update(_ context.Context, now time.Time, fn func(Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{m: m, now: now, writes: make(map[memKey]*memRecord)}
	if err := fn(tx); err != nil {
		return err
	}
	for k, rec := range tx.writes {
		if rec == nil {
			delete(m.records, k)
			continue
		}
		m.records[k] = *rec
	}
	return nil
}

// Sweep implements Store.
func (m *Memory) Sweep(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for k, rec := range m.records {
		if k.tier == TierTemporary && expired(rec.expiresAt, now) {
			delete(m.records, k)
			n++
		}
	}
	return n, nil
}

// Close implements Store.
func (m *Memory) Close() error { return nil }

// Len returns the number of physically stored records, expired or not.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

type memTx struct {
	m      *Memory
	now    time.Time
	writes map[memKey]*memRecord // nil value marks a delete
}

func (t *memTx) Get(tier Tier, key string) ([]byte, error) {
	if err := checkTier(tier); err != nil {
		return nil, err
	}
	k := memKey{tier, key}
	rec, ok := t.m.records[k]
	if t.writes != nil {
		if w, staged := t.writes[k]; staged {
			if w == nil {
				return nil, ErrNotFound
			}
			rec, ok = *w, true
		}
	}
	if !ok || expired(rec.expiresAt, t.now) {
		return nil, ErrNotFound
	}
	out := make([]byte, len(rec.value))
	copy(out, rec.value)
	return out, nil
}

func (t *memTx) Put(tier Tier, key string, value []byte, ttl time.Duration) error {
	exp, err := t.m.opts.expiry(t.now, tier, ttl)
	if err != nil {
		return err
	}
	v := make([]byte, len(value))
	copy(v, value)
	t.writes[memKey{tier, key}] = &memRecord{value: v, expiresAt: exp}
	return nil
}

func (t *memTx) Delete(tier Tier, key string) error {
	if err := checkTier(tier); err != nil {
		return err
	}
	t.writes[memKey{tier, key}] = nil
	return nil
}
