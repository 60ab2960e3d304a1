package audit

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmerrifield20/anchorkit/internal/store"
)

// ErrEntryNotFound is returned for ids outside 1..Len.
var ErrEntryNotFound = errors.New("audit entry not found")

const metaKey = "audit/meta"

type meta struct {
	Length uint64 `json:"length"`
	Root   string `json:"root"`
}

func entryKey(id uint64) string { return fmt.Sprintf("audit/entry/%020d", id) }

func loadMeta(r store.Reader) (meta, error) {
	raw, err := r.Get(store.TierPersistent, metaKey)
	if errors.Is(err, store.ErrNotFound) {
		return meta{Root: GenesisHash}, nil
	}
	if err != nil {
		return meta{}, fmt.Errorf("load audit meta: %w", err)
	}
	var m meta
	if err := json.Unmarshal(raw, &m); err != nil {
		return meta{}, fmt.Errorf("decode audit meta: %w", err)
	}
	return m, nil
}

func putJSON(tx store.Tx, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return tx.Put(store.TierPersistent, key, raw, 0)
}

// Append adds rec to the chain inside tx. When rec.SessionID is non-zero the
// session must exist; its operation count is incremented and becomes the
// entry's OperationIndex.
func Append(tx store.Tx, rec Record) (*Entry, error) {
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	var opIndex uint64
	if rec.SessionID != 0 {
		sess, err := GetSession(tx, rec.SessionID)
		if err != nil {
			return nil, err
		}
		sess.OperationCount++
		if err := putJSON(tx, sessionKey(sess.ID), sess); err != nil {
			return nil, err
		}
		opIndex = sess.OperationCount
	}

	m, err := loadMeta(tx)
	if err != nil {
		return nil, err
	}

	entry := &Entry{
		ID:             m.Length + 1,
		SessionID:      rec.SessionID,
		OperationIndex: opIndex,
		Timestamp:      rec.Timestamp.UTC(),
		Kind:           rec.Kind,
		Actor:          rec.Actor,
		Status:         StatusSuccess,
		Result:         rec.Result,
		Payload:        payload,
		DataHash:       sha256Sum(payload),
		PrevHash:       m.Root,
	}
	entry.Hash = hashEntry(entry)

	if err := putJSON(tx, entryKey(entry.ID), entry); err != nil {
		return nil, err
	}
	if err := putJSON(tx, metaKey, meta{Length: entry.ID, Root: entry.Hash}); err != nil {
		return nil, err
	}
	return entry, nil
}

// Get returns the entry with the given id.
func Get(r store.Reader, id uint64) (*Entry, error) {
	if id == 0 {
		return nil, ErrEntryNotFound
	}
	raw, err := r.Get(store.TierPersistent, entryKey(id))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get audit entry %d: %w", id, err)
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("decode audit entry %d: %w", id, err)
	}
	return &e, nil
}

// Len returns the number of entries.
func Len(r store.Reader) (uint64, error) {
	m, err := loadMeta(r)
	return m.Length, err
}

// Root returns the hash of the most recent entry, or GenesisHash when empty.
func Root(r store.Reader) (string, error) {
	m, err := loadMeta(r)
	return m.Root, err
}

// List returns up to limit entries starting at from (1-based).
func List(r store.Reader, from uint64, limit int) ([]*Entry, error) {
	if from == 0 {
		from = 1
	}
	m, err := loadMeta(r)
	if err != nil {
		return nil, err
	}
	var out []*Entry
	for id := from; id <= m.Length && len(out) < limit; id++ {
		e, err := Get(r, id)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Verify walks the entire chain and checks hash consistency.
// Returns nil if the chain is intact. O(n) in ledger length.
func Verify(r store.Reader) error {
	m, err := loadMeta(r)
	if err != nil {
		return err
	}
	prev := GenesisHash
	for id := uint64(1); id <= m.Length; id++ {
		e, err := Get(r, id)
		if err != nil {
			return err
		}
		if e.ID != id {
			return fmt.Errorf("entry stored at %d reports id %d", id, e.ID)
		}
		if err := e.check(prev); err != nil {
			return err
		}
		prev = e.Hash
	}
	if prev != m.Root {
		return fmt.Errorf("chain tip %s does not match recorded root %s", prev, m.Root)
	}
	return nil
}
