package model

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

// Attestation is an immutable, sequentially numbered claim.
type Attestation struct {
	ID          uint64 `json:"id"`
	Issuer      string `json:"issuer"`
	Subject     string `json:"subject"`
	Timestamp   int64  `json:"timestamp"`
	PayloadHash string `json:"payload_hash"` // hex, 32 bytes
	Signature   string `json:"signature,omitempty"`
	RequestID   string `json:"request_id,omitempty"`
	SubmittedAt int64  `json:"submitted_at"`
}

// AttestationRequest is the input to attestation submission.
type AttestationRequest struct {
	Issuer      string `json:"issuer"`
	Subject     string `json:"subject"`
	Timestamp   int64  `json:"timestamp"`
	PayloadHash string `json:"payload_hash"`
	Signature   string `json:"signature,omitempty"`
	RequestID   string `json:"request_id,omitempty"`
}

// Validate checks the request fields. It runs before any state is touched so
// malformed requests never consume an id.
func (r *AttestationRequest) Validate() error {
	if err := ValidateIdentity(r.Issuer); err != nil {
		return err
	}
	if err := ValidateIdentity(r.Subject); err != nil {
		return err
	}
	if r.Timestamp <= 0 {
		return Errorf(ErrInvalidTimestamp, "timestamp must be positive")
	}
	if _, err := DecodeHex32(r.PayloadHash); err != nil {
		return err
	}
	if r.Signature != "" {
		if _, err := hex.DecodeString(r.Signature); err != nil {
			return Errorf(ErrInvalidSignature, "signature is not hex")
		}
	}
	if len(r.RequestID) > 128 {
		return Errorf(ErrInvalidIdentity, "request id exceeds 128 bytes")
	}
	return nil
}

// SigningMessage returns the canonical bytes an issuer signs.
func (r *AttestationRequest) SigningMessage() []byte {
	return fmt.Appendf(nil, "anchorkit/attestation/v1\n%s\n%s\n%d\n%s",
		r.Issuer, r.Subject, r.Timestamp, strings.ToLower(r.PayloadHash))
}

// RateScale is the fixed-point denominator of Quote.Rate: 10000 means 1.0.
const RateScale = 10_000

// MaxFeeBps caps fees at 100%.
const MaxFeeBps = 10_000

// Quote is an exchange-rate attestation. Its ID equals the id of the
// attestation recorded with it.
type Quote struct {
	ID          uint64 `json:"id"`
	Anchor      string `json:"anchor"`
	BaseAsset   string `json:"base_asset"`
	QuoteAsset  string `json:"quote_asset"`
	Rate        uint64 `json:"rate"`
	FeeBps      uint32 `json:"fee_bps"`
	MinAmount   uint64 `json:"min_amount"`
	MaxAmount   uint64 `json:"max_amount"`
	ValidUntil  int64  `json:"valid_until"`
	SubmittedAt int64  `json:"submitted_at"`
}

// QuoteRequest is the input to quote submission.
type QuoteRequest struct {
	Anchor     string `json:"anchor"`
	BaseAsset  string `json:"base_asset"`
	QuoteAsset string `json:"quote_asset"`
	Rate       uint64 `json:"rate"`
	FeeBps     uint32 `json:"fee_bps"`
	MinAmount  uint64 `json:"min_amount"`
	MaxAmount  uint64 `json:"max_amount"`
	ValidUntil int64  `json:"valid_until"`
	Signature  string `json:"signature,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
}

// Validate checks the numeric quote fields against now (unix seconds).
func (q *QuoteRequest) Validate(now int64) error {
	if err := ValidateIdentity(q.Anchor); err != nil {
		return err
	}
	if ValidateAssetSymbol(q.BaseAsset) != nil || ValidateAssetSymbol(q.QuoteAsset) != nil {
		return Errorf(ErrInvalidQuoteParameters, "asset symbols must be 1-12 uppercase alphanumerics")
	}
	if q.BaseAsset == q.QuoteAsset {
		return Errorf(ErrInvalidQuoteParameters, "base and quote asset are both %s", q.BaseAsset)
	}
	switch {
	case q.Rate == 0:
		return Errorf(ErrInvalidQuoteParameters, "rate must be positive")
	case q.MinAmount > q.MaxAmount:
		return Errorf(ErrInvalidQuoteParameters, "min_amount %d exceeds max_amount %d", q.MinAmount, q.MaxAmount)
	case q.ValidUntil <= now:
		return Errorf(ErrInvalidQuoteParameters, "valid_until %d is not in the future", q.ValidUntil)
	case q.FeeBps > MaxFeeBps:
		return Errorf(ErrInvalidQuoteParameters, "fee_bps %d exceeds %d", q.FeeBps, MaxFeeBps)
	}
	if q.Signature != "" {
		if _, err := hex.DecodeString(q.Signature); err != nil {
			return Errorf(ErrInvalidSignature, "signature is not hex")
		}
	}
	return nil
}

// SigningMessage returns the canonical quote bytes. They are both the message
// an anchor signs and the preimage of the quote's payload hash.
func (q *QuoteRequest) SigningMessage() []byte {
	return fmt.Appendf(nil, "anchorkit/quote/v1\n%s\n%s\n%s\n%d\n%d\n%d\n%d\n%d",
		q.Anchor, q.BaseAsset, q.QuoteAsset, q.Rate, q.FeeBps, q.MinAmount, q.MaxAmount, q.ValidUntil)
}

// Subject is the attestation subject recorded for a quote.
func (q *QuoteRequest) Subject() string {
	return "quote:" + q.BaseAsset + "/" + q.QuoteAsset
}

// EffectiveRate returns the fee-adjusted rate for amount; lower is better.
// rate * (amount + amount*fee/10000) / amount, in integer arithmetic.
func (q *Quote) EffectiveRate(amount uint64) *big.Int {
	a := new(big.Int).SetUint64(amount)
	fee := new(big.Int).Mul(a, big.NewInt(int64(q.FeeBps)))
	fee.Quo(fee, big.NewInt(MaxFeeBps))
	eff := new(big.Int).Add(a, fee)
	eff.Mul(eff, new(big.Int).SetUint64(q.Rate))
	return eff.Quo(eff, a)
}

// Covers reports whether the quote is usable for amount at now.
func (q *Quote) Covers(base, quote string, amount uint64, now int64) bool {
	return q.ValidUntil > now &&
		q.BaseAsset == base && q.QuoteAsset == quote &&
		amount >= q.MinAmount && amount <= q.MaxAmount
}

// RateRequest asks for the best quote for a pair among a set of anchors.
type RateRequest struct {
	BaseAsset  string   `json:"base_asset"`
	QuoteAsset string   `json:"quote_asset"`
	Amount     uint64   `json:"amount"`
	Anchors    []string `json:"anchors"`
}

// RateComparison is the result of a rate comparison.
type RateComparison struct {
	Best       Quote   `json:"best"`
	Quotes     []Quote `json:"quotes"`
	ComparedAt int64   `json:"compared_at"`
}
