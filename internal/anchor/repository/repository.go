// Package repository maps anchorkit records onto store keys. Every function
// takes the caller's store.Reader or store.Tx so that reads and writes join the
// caller's atomic unit.
package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/jmerrifield20/anchorkit/internal/anchor/model"
	"github.com/jmerrifield20/anchorkit/internal/store"
)

// ErrNotFound is returned when a record does not exist (or has expired).
var ErrNotFound = store.ErrNotFound

func esc(id string) string { return url.PathEscape(id) }

func attestorKey(id string) string     { return "attestor/" + esc(id) }
func attestationKey(id uint64) string  { return fmt.Sprintf("attestation/%020d", id) }
func quoteKey(id uint64) string        { return fmt.Sprintf("quote/%020d", id) }
func intentKey(id uint64) string       { return fmt.Sprintf("intent/%020d", id) }
func endpointKey(id string) string     { return "endpoint/" + esc(id) }
func policyKey(id string) string       { return "cred-policy/" + esc(id) }
func failureKey(anchor string) string  { return "fallback/state/" + esc(anchor) }
func sentinelKey(digest string) string { return "sentinel/" + digest }
func counterKey(name string) string    { return "counter/" + name }
func credentialKey(id string, t model.CredentialType) string {
	return fmt.Sprintf("cred/%s/%s", esc(id), t)
}
func latestQuoteKey(anchor, base, quote string) string {
	return fmt.Sprintf("quote-latest/%s/%s/%s", esc(anchor), base, quote)
}

const fallbackConfigKey = "fallback/config"

func getJSON(r store.Reader, tier store.Tier, key string, v any) error {
	raw, err := r.Get(tier, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func putJSON(tx store.Tx, tier store.Tier, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := tx.Put(tier, key, raw, ttl); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// ── Counters ────────────────────────────────────────────────────────────────

// Counter names.
const (
	CounterAttestation = "attestation"
	CounterIntent      = "intent"
)

// NextID increments the named counter and returns the new value. Counters
// start at 1 and live in the persistent tier so replay reproduces them.
func NextID(tx store.Tx, name string) (uint64, error) {
	var cur uint64
	if err := getJSON(tx, store.TierPersistent, counterKey(name), &cur); err != nil && !errors.Is(err, ErrNotFound) {
		return 0, err
	}
	cur++
	if err := putJSON(tx, store.TierPersistent, counterKey(name), cur, 0); err != nil {
		return 0, err
	}
	return cur, nil
}

// ── Attestors ───────────────────────────────────────────────────────────────

// GetAttestor loads an attestor record.
func GetAttestor(r store.Reader, id string) (*model.Attestor, error) {
	var a model.Attestor
	if err := getJSON(r, store.TierPersistent, attestorKey(id), &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// PutAttestor stores an attestor record.
func PutAttestor(tx store.Tx, a *model.Attestor) error {
	return putJSON(tx, store.TierPersistent, attestorKey(a.ID), a, 0)
}

// ── Attestations and quotes ─────────────────────────────────────────────────

// GetAttestation loads an attestation by id.
func GetAttestation(r store.Reader, id uint64) (*model.Attestation, error) {
	var a model.Attestation
	if err := getJSON(r, store.TierPersistent, attestationKey(id), &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// PutAttestation stores an attestation.
func PutAttestation(tx store.Tx, a *model.Attestation) error {
	return putJSON(tx, store.TierPersistent, attestationKey(a.ID), a, 0)
}

// GetQuote loads a quote by id.
func GetQuote(r store.Reader, id uint64) (*model.Quote, error) {
	var q model.Quote
	if err := getJSON(r, store.TierPersistent, quoteKey(id), &q); err != nil {
		return nil, err
	}
	return &q, nil
}

// PutQuote stores a quote and makes it the anchor's latest for its pair.
func PutQuote(tx store.Tx, q *model.Quote) error {
	if err := putJSON(tx, store.TierPersistent, quoteKey(q.ID), q, 0); err != nil {
		return err
	}
	return putJSON(tx, store.TierPersistent, latestQuoteKey(q.Anchor, q.BaseAsset, q.QuoteAsset), q.ID, 0)
}

// LatestQuote returns the anchor's most recent quote for a pair.
func LatestQuote(r store.Reader, anchor, base, quote string) (*model.Quote, error) {
	var id uint64
	if err := getJSON(r, store.TierPersistent, latestQuoteKey(anchor, base, quote), &id); err != nil {
		return nil, err
	}
	return GetQuote(r, id)
}

// GetIntent loads a transaction intent by id.
func GetIntent(r store.Reader, id uint64) (*model.TransactionIntent, error) {
	var t model.TransactionIntent
	if err := getJSON(r, store.TierPersistent, intentKey(id), &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// PutIntent stores a transaction intent.
func PutIntent(tx store.Tx, t *model.TransactionIntent) error {
	return putJSON(tx, store.TierPersistent, intentKey(t.ID), t, 0)
}

// ── Replay sentinels ────────────────────────────────────────────────────────

// Sentinel marks a consumed replay key.
type Sentinel struct {
	AttestationID uint64 `json:"attestation_id"`
}

// GetSentinel returns the live sentinel for digest.
func GetSentinel(r store.Reader, digest string) (*Sentinel, error) {
	var s Sentinel
	if err := getJSON(r, store.TierTemporary, sentinelKey(digest), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// PutSentinel records digest as consumed for ttl.
func PutSentinel(tx store.Tx, digest string, s *Sentinel, ttl time.Duration) error {
	return putJSON(tx, store.TierTemporary, sentinelKey(digest), s, ttl)
}

// ── Endpoints ───────────────────────────────────────────────────────────────

// GetEndpoint loads an attestor's endpoint.
func GetEndpoint(r store.Reader, attestor string) (*model.Endpoint, error) {
	var e model.Endpoint
	if err := getJSON(r, store.TierPersistent, endpointKey(attestor), &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// PutEndpoint stores an attestor's endpoint.
func PutEndpoint(tx store.Tx, e *model.Endpoint) error {
	return putJSON(tx, store.TierPersistent, endpointKey(e.Attestor), e, 0)
}

// DeleteEndpoint removes an attestor's endpoint.
func DeleteEndpoint(tx store.Tx, attestor string) error {
	return tx.Delete(store.TierPersistent, endpointKey(attestor))
}

// ── Credentials ─────────────────────────────────────────────────────────────

// GetPolicy loads an attestor's credential policy.
func GetPolicy(r store.Reader, attestor string) (*model.CredentialPolicy, error) {
	var p model.CredentialPolicy
	if err := getJSON(r, store.TierPersistent, policyKey(attestor), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// PutPolicy stores a credential policy, replacing any existing one.
func PutPolicy(tx store.Tx, p *model.CredentialPolicy) error {
	return putJSON(tx, store.TierPersistent, policyKey(p.Attestor), p, 0)
}

// GetCredential loads the credential for (attestor, type).
func GetCredential(r store.Reader, attestor string, t model.CredentialType) (*model.SecureCredential, error) {
	var c model.SecureCredential
	if err := getJSON(r, store.TierPersistent, credentialKey(attestor, t), &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// PutCredential stores the single credential for (attestor, type).
func PutCredential(tx store.Tx, c *model.SecureCredential) error {
	return putJSON(tx, store.TierPersistent, credentialKey(c.Attestor, c.Type), c, 0)
}

// ── Fallback ────────────────────────────────────────────────────────────────

// GetFallbackConfig loads the system-wide fallback configuration.
func GetFallbackConfig(r store.Reader) (*model.FallbackConfig, error) {
	var c model.FallbackConfig
	if err := getJSON(r, store.TierPersistent, fallbackConfigKey, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// PutFallbackConfig replaces the fallback configuration.
func PutFallbackConfig(tx store.Tx, c *model.FallbackConfig) error {
	return putJSON(tx, store.TierPersistent, fallbackConfigKey, c, 0)
}

// GetFailureState loads an anchor's failure state. A missing or expired record
// yields the zero state.
func GetFailureState(r store.Reader, anchor string) (*model.AnchorFailureState, error) {
	st := model.AnchorFailureState{Anchor: anchor}
	if err := getJSON(r, store.TierTemporary, failureKey(anchor), &st); err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return &st, nil
}

// PutFailureState stores an anchor's failure state for ttl.
func PutFailureState(tx store.Tx, st *model.AnchorFailureState, ttl time.Duration) error {
	return putJSON(tx, store.TierTemporary, failureKey(st.Anchor), st, ttl)
}
