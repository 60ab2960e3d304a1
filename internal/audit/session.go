package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmerrifield20/anchorkit/internal/store"
)

// ErrSessionNotFound is returned for unknown session ids.
var ErrSessionNotFound = errors.New("session not found")

const sessionCounterKey = "session/counter"

// Session groups audited operations under one id.
type Session struct {
	ID             uint64    `json:"id"`
	Initiator      string    `json:"initiator"`
	CreatedAt      time.Time `json:"created_at"`
	OperationCount uint64    `json:"operation_count"`
}

func sessionKey(id uint64) string { return fmt.Sprintf("session/%020d", id) }

// CreateSession allocates the next session id inside tx.
func CreateSession(tx store.Tx, initiator string, now time.Time) (*Session, error) {
	var last uint64
	raw, err := tx.Get(store.TierPersistent, sessionCounterKey)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("load session counter: %w", err)
	default:
		if err := json.Unmarshal(raw, &last); err != nil {
			return nil, fmt.Errorf("decode session counter: %w", err)
		}
	}

	sess := &Session{ID: last + 1, Initiator: initiator, CreatedAt: now.UTC()}
	if err := putJSON(tx, sessionCounterKey, sess.ID); err != nil {
		return nil, err
	}
	if err := putJSON(tx, sessionKey(sess.ID), sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// GetSession returns the session with the given id.
func GetSession(r store.Reader, id uint64) (*Session, error) {
	raw, err := r.Get(store.TierPersistent, sessionKey(id))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session %d: %w", id, err)
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode session %d: %w", id, err)
	}
	return &s, nil
}
