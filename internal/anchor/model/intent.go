package model

import "math"

// DefaultIntentTTLSeconds applies when an intent request leaves the TTL unset.
const DefaultIntentTTLSeconds = 300

// TransactionRequest describes the deposit or withdrawal an intent is for.
type TransactionRequest struct {
	BaseAsset  string      `json:"base_asset"`
	QuoteAsset string      `json:"quote_asset"`
	Amount     uint64      `json:"amount"`
	Operation  ServiceType `json:"operation"`
}

// IntentRequest is the input to intent construction. QuoteID 0 means no
// quote is bound.
type IntentRequest struct {
	Anchor     string             `json:"anchor"`
	Request    TransactionRequest `json:"request"`
	QuoteID    uint64             `json:"quote_id,omitempty"`
	RequireKYC bool               `json:"require_kyc,omitempty"`
	TTLSeconds uint64             `json:"ttl_seconds,omitempty"`
}

// Validate checks the fields that need no stored state. A zero TTL is
// replaced by DefaultIntentTTLSeconds first.
func (r *IntentRequest) Validate() error {
	if err := ValidateIdentity(r.Anchor); err != nil {
		return err
	}
	switch r.Request.Operation {
	case ServiceDeposits, ServiceWithdrawals:
	default:
		return Errorf(ErrInvalidServiceType, "intents cover deposits and withdrawals, not %s", r.Request.Operation)
	}
	if err := ValidateAssetSymbol(r.Request.BaseAsset); err != nil {
		return err
	}
	if err := ValidateAssetSymbol(r.Request.QuoteAsset); err != nil {
		return err
	}
	if r.TTLSeconds == 0 {
		r.TTLSeconds = DefaultIntentTTLSeconds
	}
	switch {
	case r.Request.Amount == 0:
		return Errorf(ErrInvalidTransactionIntent, "amount must be positive")
	case r.TTLSeconds > math.MaxInt32:
		return Errorf(ErrInvalidTransactionIntent, "ttl_seconds %d is out of range", r.TTLSeconds)
	}
	return nil
}

// TransactionIntent is a validated, compliance-checked deposit or withdrawal
// ready to hand to an anchor. A bound quote fixes the rate and fee and caps
// the expiry at the quote's valid_until.
type TransactionIntent struct {
	ID          uint64             `json:"id"`
	Anchor      string             `json:"anchor"`
	Request     TransactionRequest `json:"request"`
	QuoteID     uint64             `json:"quote_id"`
	HasQuote    bool               `json:"has_quote"`
	Rate        uint64             `json:"rate"`
	FeeBps      uint32             `json:"fee_bps"`
	RequiresKYC bool               `json:"requires_kyc"`
	SessionID   uint64             `json:"session_id"`
	CreatedAt   int64              `json:"created_at"`
	ExpiresAt   int64              `json:"expires_at"`
}

// BindQuote applies q to the intent. q must have been issued by the
// intent's anchor, be valid at now, and cover the requested pair and amount.
func (t *TransactionIntent) BindQuote(q *Quote, now int64) error {
	if q.ValidUntil <= now {
		return Errorf(ErrStaleQuote, "quote %d expired at %d", q.ID, q.ValidUntil)
	}
	req := t.Request
	if q.BaseAsset != req.BaseAsset || q.QuoteAsset != req.QuoteAsset {
		return Errorf(ErrInvalidQuote, "quote %d is for %s/%s, not %s/%s",
			q.ID, q.BaseAsset, q.QuoteAsset, req.BaseAsset, req.QuoteAsset)
	}
	if req.Amount < q.MinAmount || req.Amount > q.MaxAmount {
		return Errorf(ErrInvalidQuote, "amount %d outside quote %d range [%d, %d]",
			req.Amount, q.ID, q.MinAmount, q.MaxAmount)
	}
	t.QuoteID = q.ID
	t.HasQuote = true
	t.Rate = q.Rate
	t.FeeBps = q.FeeBps
	t.ExpiresAt = min(t.ExpiresAt, q.ValidUntil)
	return nil
}
