// Package store implements the tiered key-value store shared by every
// anchorkit component.
//
// Records live in one of two tiers. The persistent tier holds configuration
// and history that must survive indefinitely. The temporary tier holds records
// that expire on their own (replay sentinels, anchor failure state); once a
// record's expiry has passed it is unreadable, whether or not Sweep has
// physically removed it yet.
//
// The store is clock-free: callers pass the current time to View and Update,
// so expiry is always evaluated against the same time the caller uses for its
// own logic.
//
// Three implementations of Store are provided:
//   - Memory: in-process, for tests and single-node development.
//   - Pebble: embedded LSM storage for single-node deployments.
//   - Postgres: durable shared storage for production.
package store

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// Tier selects the lifetime class of a record.
type Tier uint8

const (
	// TierPersistent records never expire.
	TierPersistent Tier = 1
	// TierTemporary records expire after their TTL.
	TierTemporary Tier = 2
)

func (t Tier) String() string {
	switch t {
	case TierPersistent:
		return "persistent"
	case TierTemporary:
		return "temporary"
	default:
		return fmt.Sprintf("tier(%d)", uint8(t))
	}
}

var (
	// ErrNotFound is returned by Get for missing and expired keys.
	ErrNotFound = errors.New("store: key not found")
	// ErrInvalidTTL is returned by Put when the TTL does not suit the tier.
	ErrInvalidTTL = errors.New("store: invalid ttl")
	// ErrInvalidTier is returned for an unknown tier.
	ErrInvalidTier = errors.New("store: invalid tier")
)

// Reader reads single records by key. There is deliberately no listing.
type Reader interface {
	Get(tier Tier, key string) ([]byte, error)
}

// Tx is a read-write view used inside Update.
type Tx interface {
	Reader
	// Put writes value under key. Persistent records must use ttl 0.
	// Temporary records use the store's default TTL when ttl is 0.
	Put(tier Tier, key string, value []byte, ttl time.Duration) error
	Delete(tier Tier, key string) error
}

// Store runs atomic units of work against the tiered key space.
type Store interface {
	// View runs fn against a consistent read view evaluated at now.
	View(ctx context.Context, now time.Time, fn func(Reader) error) error
	// Update runs fn in a transaction evaluated at now. Writes are committed
	// only if fn returns nil; any error discards every write.
	Update(ctx context.Context, now time.Time, fn func(Tx) error) error
	// Sweep physically removes temporary records expired at now and reports
	// how many were removed.
	Sweep(ctx context.Context, now time.Time) (int, error)
	Close() error
}

// Options configures the temporary tier.
type Options struct {
	// DefaultTTL applies to temporary Puts with a zero ttl.
	DefaultTTL time.Duration
	// MaxTTL bounds temporary Puts. Zero means unbounded.
	MaxTTL time.Duration
}

func (o Options) withDefaults() Options {
	if o.DefaultTTL <= 0 {
		o.DefaultTTL = 24 * time.Hour
	}
	return o
}

// expiry resolves the absolute expiry for a Put, in unix nanoseconds.
// Zero means the record never expires.
func (o Options) expiry(now time.Time, tier Tier, ttl time.Duration) (int64, error) {
	switch tier {
	case TierPersistent:
		if ttl != 0 {
			return 0, fmt.Errorf("%w: persistent records cannot expire", ErrInvalidTTL)
		}
		return 0, nil
	case TierTemporary:
		if ttl < 0 {
			return 0, fmt.Errorf("%w: negative ttl %s", ErrInvalidTTL, ttl)
		}
		if ttl == 0 {
			ttl = o.DefaultTTL
		}
		if o.MaxTTL > 0 && ttl > o.MaxTTL {
			return 0, fmt.Errorf("%w: ttl %s exceeds maximum %s", ErrInvalidTTL, ttl, o.MaxTTL)
		}
		return now.Add(ttl).UnixNano(), nil
	default:
		return 0, ErrInvalidTier
	}
}

func checkTier(tier Tier) error {
	if tier != TierPersistent && tier != TierTemporary {
		return ErrInvalidTier
	}
	return nil
}

func expired(expiresAt int64, now time.Time) bool {
	return expiresAt != 0 && now.UnixNano() >= expiresAt
}

// encodeRecord prefixes value with its big-endian expiry.
func encodeRecord(expiresAt int64, value []byte) []byte {
	buf := make([]byte, 8+len(value))
	binary.BigEndian.PutUint64(buf[:8], uint64(expiresAt))
	copy(buf[8:], value)
	return buf
}

func decodeRecord(raw []byte) (int64, []byte, error) {
	if len(raw) < 8 {
		return 0, nil, fmt.Errorf("store: corrupt record (%d bytes)", len(raw))
	}
	value := make([]byte, len(raw)-8)
	copy(value, raw[8:])
	return int64(binary.BigEndian.Uint64(raw[:8])), value, nil
}
