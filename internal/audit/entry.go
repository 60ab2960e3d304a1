package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// GenesisHash is the well-known hash the first entry chains from.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// StatusSuccess is the only status written; failed operations are not logged.
const StatusSuccess = "success"

// Entry is a single immutable audit record.
type Entry struct {
	ID             uint64          `json:"id"`
	SessionID      uint64          `json:"session_id"`      // 0 when not run in a session
	OperationIndex uint64          `json:"operation_index"` // position within the session, 1-based
	Timestamp      time.Time       `json:"timestamp"`
	Kind           string          `json:"kind"`   // e.g. attestation.submit
	Actor          string          `json:"actor"`  // verified caller identity
	Status         string          `json:"status"` // always StatusSuccess
	Result         string          `json:"result"` // operation-specific summary, e.g. an allocated id
	Payload        json.RawMessage `json:"payload"`
	DataHash       string          `json:"data_hash"` // SHA-256 of Payload
	PrevHash       string          `json:"prev_hash"`
	Hash           string          `json:"hash"`
}

// Record is the caller-supplied part of an entry.
type Record struct {
	SessionID uint64
	Timestamp time.Time
	Kind      string
	Actor     string
	Result    string
	Payload   any
}

// hashEntry computes a deterministic SHA-256 hash over an entry's fields.
func hashEntry(e *Entry) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%d|%d|%s|%s|%s|%s|%s|%s|%s",
		e.ID, e.SessionID, e.OperationIndex,
		e.Timestamp.UTC().Format(time.RFC3339Nano),
		e.Kind, e.Actor, e.Status, e.Result, e.DataHash, e.PrevHash,
	)
	return hex.EncodeToString(h.Sum(nil))
}

// sha256Sum returns the hex-encoded SHA-256 digest of data.
func sha256Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// check validates an entry in isolation against its expected predecessor.
func (e *Entry) check(prevHash string) error {
	if e.PrevHash != prevHash {
		return fmt.Errorf("hash chain broken at entry %d", e.ID)
	}
	if e.DataHash != sha256Sum(e.Payload) {
		return fmt.Errorf("entry %d payload does not match data hash", e.ID)
	}
	if e.Hash != hashEntry(e) {
		return fmt.Errorf("entry %d has invalid hash", e.ID)
	}
	return nil
}
