package service

import (
	"context"
	"errors"
	"strconv"

	"github.com/jmerrifield20/anchorkit/internal/anchor/model"
	"github.com/jmerrifield20/anchorkit/internal/anchor/repository"
	"github.com/jmerrifield20/anchorkit/internal/events"
	"github.com/jmerrifield20/anchorkit/internal/store"
	"go.uber.org/zap"
)

// BuildTransactionIntent validates a deposit or withdrawal against the
// anchor's configured services and compliance rules and records it under a
// new intent id.
//
// The anchor must be registered, not revoked, and offer the requested
// operation. RequireKYC additionally needs the anchor to offer KYC, else
// ComplianceNotMet. A non-zero QuoteID binds one of the anchor's quotes: an
// expired quote is StaleQuote, one for another pair or amount range is
// InvalidQuote, and the intent's expiry is capped at the quote's
// valid_until. Any registered caller may build intents.
func (e *Engine) BuildTransactionIntent(ctx context.Context, call Call, req model.IntentRequest) (*model.TransactionIntent, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var out *model.TransactionIntent
	_, err := e.mutate(ctx, call, KindBuildIntent, req, func(o *op) (string, error) {
		a, err := submittingAttestor(o.tx, req.Anchor)
		if err != nil {
			return "", err
		}
		opType := req.Request.Operation
		switch {
		case len(a.Services) == 0:
			return "", model.Errorf(model.ErrServicesNotConfigured, "attestor %s", req.Anchor)
		case !a.Supports(opType):
			return "", model.Errorf(model.ErrInvalidServiceType, "attestor %s does not offer %s", req.Anchor, opType)
		case req.RequireKYC && !a.Supports(model.ServiceKYC):
			return "", model.Errorf(model.ErrComplianceNotMet, "attestor %s does not offer kyc", req.Anchor)
		}

		now := o.unix()
		intent := &model.TransactionIntent{
			Anchor:      req.Anchor,
			Request:     req.Request,
			RequiresKYC: req.RequireKYC,
			SessionID:   call.SessionID,
			CreatedAt:   now,
			ExpiresAt:   now + int64(req.TTLSeconds),
		}
		if req.QuoteID != 0 {
			q, err := repository.GetQuote(o.tx, req.QuoteID)
			if errors.Is(err, repository.ErrNotFound) || (err == nil && q.Anchor != req.Anchor) {
				return "", model.Errorf(model.ErrQuoteNotFound, "quote %d from %s", req.QuoteID, req.Anchor)
			}
			if err != nil {
				return "", err
			}
			if err := intent.BindQuote(q, now); err != nil {
				return "", err
			}
		}

		id, err := repository.NextID(o.tx, repository.CounterIntent)
		if err != nil {
			return "", err
		}
		intent.ID = id
		if err := repository.PutIntent(o.tx, intent); err != nil {
			return "", err
		}
		o.emit(events.TypeIntentBuilt, map[string]string{
			"intent_id": formatID(id),
			"anchor":    req.Anchor,
			"operation": opType.String(),
			"quote_id":  strconv.FormatUint(intent.QuoteID, 10),
		})
		out = intent
		return formatID(id), nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Debug("transaction intent built",
		zap.Uint64("id", out.ID),
		zap.String("anchor", out.Anchor),
		zap.Bool("has_quote", out.HasQuote),
	)
	return out, nil
}

// GetTransactionIntent returns a recorded intent, or IntentNotFound.
func (e *Engine) GetTransactionIntent(ctx context.Context, id uint64) (*model.TransactionIntent, error) {
	var out *model.TransactionIntent
	err := e.view(ctx, func(r store.Reader) error {
		t, err := repository.GetIntent(r, id)
		if errors.Is(err, repository.ErrNotFound) {
			return model.Errorf(model.ErrIntentNotFound, "intent %d", id)
		}
		out = t
		return err
	})
	return out, err
}
