package service

import (
	"context"
	"encoding/hex"
	"errors"
	"slices"
	"strings"

	"github.com/jmerrifield20/anchorkit/internal/anchor/model"
	"github.com/jmerrifield20/anchorkit/internal/anchor/repository"
	"github.com/jmerrifield20/anchorkit/internal/events"
	"github.com/jmerrifield20/anchorkit/internal/store"
	"github.com/zeebo/blake3"
	"go.uber.org/zap"
)

// replayKey derives the sentinel key. An explicit request id is a
// caller-controlled idempotency key and takes precedence over the
// (issuer, payload hash) pair.
func replayKey(issuer, payloadHash, requestID string) string {
	var sum [32]byte
	if requestID != "" {
		sum = blake3.Sum256([]byte("req|" + requestID))
	} else {
		sum = blake3.Sum256([]byte("att|" + issuer + "|" + payloadHash))
	}
	return hex.EncodeToString(sum[:])
}

// SubmitAttestation records a claim by req.Issuer and returns its id.
//
// The issuer must be registered and not revoked. A live replay sentinel for
// the request's key fails the call with ReplayDetected and no effects. Ids
// are consumed only on success.
func (e *Engine) SubmitAttestation(ctx context.Context, call Call, req model.AttestationRequest) (uint64, error) {
	if err := req.Validate(); err != nil {
		return 0, err
	}
	req.PayloadHash = strings.ToLower(req.PayloadHash)
	req.Signature = strings.ToLower(req.Signature)

	var id uint64
	_, err := e.mutate(ctx, call, KindSubmitAttestation, req, func(o *op) (string, error) {
		if err := e.requireSelfOrAdmin(call, req.Issuer); err != nil {
			return "", err
		}
		a, err := submittingAttestor(o.tx, req.Issuer)
		if err != nil {
			return "", err
		}
		if err := e.checkSignature(a, req.SigningMessage(), req.Signature); err != nil {
			return "", err
		}
		att := &model.Attestation{
			Issuer:      req.Issuer,
			Subject:     req.Subject,
			Timestamp:   req.Timestamp,
			PayloadHash: req.PayloadHash,
			Signature:   req.Signature,
			RequestID:   req.RequestID,
		}
		if err := e.recordAttestation(o, att); err != nil {
			return "", err
		}
		id = att.ID
		return formatID(id), nil
	})
	if err != nil {
		return 0, err
	}
	e.logger.Debug("attestation submitted", zap.Uint64("id", id), zap.String("issuer", req.Issuer))
	return id, nil
}

// SubmitQuote records an exchange-rate quote by req.Anchor. The quote is
// stored together with an attestation sharing its id; the attestation's
// payload hash is the BLAKE3 digest of the canonical quote.
func (e *Engine) SubmitQuote(ctx context.Context, call Call, req model.QuoteRequest) (*model.Quote, error) {
	if err := model.ValidateIdentity(req.Anchor); err != nil {
		return nil, err
	}
	req.Signature = strings.ToLower(req.Signature)

	var out *model.Quote
	_, err := e.mutate(ctx, call, KindSubmitQuote, req, func(o *op) (string, error) {
		if err := req.Validate(o.unix()); err != nil {
			return "", err
		}
		if err := e.requireSelfOrAdmin(call, req.Anchor); err != nil {
			return "", err
		}
		a, err := submittingAttestor(o.tx, req.Anchor)
		if err != nil {
			return "", err
		}
		switch {
		case len(a.Services) == 0:
			return "", model.Errorf(model.ErrServicesNotConfigured, "attestor %s", req.Anchor)
		case !a.Supports(model.ServiceQuotes):
			return "", model.Errorf(model.ErrInvalidServiceType, "attestor %s does not offer quotes", req.Anchor)
		}
		if len(a.Assets) > 0 {
			for _, sym := range []string{req.BaseAsset, req.QuoteAsset} {
				if !a.SupportsAsset(sym) {
					return "", model.Errorf(model.ErrInvalidAssetSymbol, "attestor %s does not handle %s", req.Anchor, sym)
				}
			}
		}

		msg := req.SigningMessage()
		if err := e.checkSignature(a, msg, req.Signature); err != nil {
			return "", err
		}
		digest := blake3.Sum256(msg)
		att := &model.Attestation{
			Issuer:      req.Anchor,
			Subject:     req.Subject(),
			Timestamp:   o.unix(),
			PayloadHash: hex.EncodeToString(digest[:]),
			Signature:   req.Signature,
			RequestID:   req.RequestID,
		}
		if err := e.recordAttestation(o, att); err != nil {
			return "", err
		}

		q := &model.Quote{
			ID:          att.ID,
			Anchor:      req.Anchor,
			BaseAsset:   req.BaseAsset,
			QuoteAsset:  req.QuoteAsset,
			Rate:        req.Rate,
			FeeBps:      req.FeeBps,
			MinAmount:   req.MinAmount,
			MaxAmount:   req.MaxAmount,
			ValidUntil:  req.ValidUntil,
			SubmittedAt: o.unix(),
		}
		if err := repository.PutQuote(o.tx, q); err != nil {
			return "", err
		}
		o.emit(events.TypeQuoteSubmitted, map[string]string{
			"quote_id": formatID(q.ID),
			"anchor":   q.Anchor,
			"pair":     q.BaseAsset + "/" + q.QuoteAsset,
		})
		out = q
		return formatID(q.ID), nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// submittingAttestor loads an attestor allowed to submit. Unknown and revoked
// attestors are both UnauthorizedAttestor.
func submittingAttestor(r store.Reader, id string) (*model.Attestor, error) {
	a, err := repository.GetAttestor(r, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, model.Errorf(model.ErrUnauthorizedAttestor, "attestor %s is not registered", id)
	}
	if err != nil {
		return nil, err
	}
	if !a.Active() {
		return nil, model.Errorf(model.ErrUnauthorizedAttestor, "attestor %s is revoked", id)
	}
	return a, nil
}

// checkSignature verifies sig when a verifier is configured and the attestor
// registered a public key.
func (e *Engine) checkSignature(a *model.Attestor, msg []byte, sig string) error {
	if e.verifier == nil || a.PublicKey == "" {
		return nil
	}
	if sig == "" {
		return model.Errorf(model.ErrInvalidSignature, "attestor %s requires a signature", a.ID)
	}
	pk, err := hex.DecodeString(a.PublicKey)
	if err != nil {
		return model.Errorf(model.ErrInvalidSignature, "stored public key for %s is corrupt", a.ID)
	}
	raw, err := hex.DecodeString(sig)
	if err != nil {
		return model.Errorf(model.ErrInvalidSignature, "signature is not hex")
	}
	if err := e.verifier.Verify(pk, msg, raw); err != nil {
		return model.Errorf(model.ErrInvalidSignature, "attestor %s: %v", a.ID, err)
	}
	return nil
}

// recordAttestation runs the replay check, allocates the id and writes the
// attestation and its sentinel. The sentinel write is part of the same
// transaction, so a concurrent duplicate always observes it.
func (e *Engine) recordAttestation(o *op, att *model.Attestation) error {
	key := replayKey(att.Issuer, att.PayloadHash, att.RequestID)
	if s, err := repository.GetSentinel(o.tx, key); err == nil {
		return model.Errorf(model.ErrReplayDetected, "issuer %s, already recorded as attestation %d", att.Issuer, s.AttestationID)
	} else if !errors.Is(err, repository.ErrNotFound) {
		return err
	}

	id, err := repository.NextID(o.tx, repository.CounterAttestation)
	if err != nil {
		return err
	}
	att.ID = id
	att.SubmittedAt = o.unix()
	if err := repository.PutAttestation(o.tx, att); err != nil {
		return err
	}
	if err := repository.PutSentinel(o.tx, key, &repository.Sentinel{AttestationID: id}, e.cfg.ReplayWindow); err != nil {
		return err
	}
	o.emit(events.TypeAttestationSubmitted, map[string]string{
		"attestation_id": formatID(id),
		"issuer":         att.Issuer,
		"subject":        att.Subject,
	})
	return nil
}

// GetAttestation returns an attestation by id.
func (e *Engine) GetAttestation(ctx context.Context, id uint64) (*model.Attestation, error) {
	var out *model.Attestation
	err := e.view(ctx, func(r store.Reader) error {
		a, err := repository.GetAttestation(r, id)
		if errors.Is(err, repository.ErrNotFound) {
			return model.Errorf(model.ErrAttestationNotFound, "attestation %d", id)
		}
		out = a
		return err
	})
	return out, err
}

// GetQuote returns a quote by id.
func (e *Engine) GetQuote(ctx context.Context, id uint64) (*model.Quote, error) {
	var out *model.Quote
	err := e.view(ctx, func(r store.Reader) error {
		q, err := repository.GetQuote(r, id)
		if errors.Is(err, repository.ErrNotFound) {
			return model.Errorf(model.ErrQuoteNotFound, "quote %d", id)
		}
		out = q
		return err
	})
	return out, err
}

// CompareRates picks the lowest effective rate among each anchor's latest
// quote for the pair that is still valid and covers the amount. Revoked and
// unknown anchors are skipped.
func (e *Engine) CompareRates(ctx context.Context, req model.RateRequest) (*model.RateComparison, error) {
	if req.Amount == 0 {
		return nil, model.Errorf(model.ErrInvalidQuoteParameters, "amount must be positive")
	}
	if model.ValidateAssetSymbol(req.BaseAsset) != nil || model.ValidateAssetSymbol(req.QuoteAsset) != nil {
		return nil, model.Errorf(model.ErrInvalidQuoteParameters, "asset symbols must be 1-12 uppercase alphanumerics")
	}

	now := e.clock.Now()
	var quotes []model.Quote
	err := e.store.View(ctx, now, func(r store.Reader) error {
		for _, anchor := range req.Anchors {
			a, err := repository.GetAttestor(r, anchor)
			if errors.Is(err, repository.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if !a.Active() {
				continue
			}
			q, err := repository.LatestQuote(r, anchor, req.BaseAsset, req.QuoteAsset)
			if errors.Is(err, repository.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if q.Covers(req.BaseAsset, req.QuoteAsset, req.Amount, now.Unix()) {
				quotes = append(quotes, *q)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(quotes) == 0 {
		return nil, model.Errorf(model.ErrNoQuotesAvailable, "%s/%s for amount %d", req.BaseAsset, req.QuoteAsset, req.Amount)
	}

	best := slices.MinFunc(quotes, func(a, b model.Quote) int {
		return a.EffectiveRate(req.Amount).Cmp(b.EffectiveRate(req.Amount))
	})
	return &model.RateComparison{Best: best, Quotes: quotes, ComparedAt: now.Unix()}, nil
}
