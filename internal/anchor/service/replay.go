package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmerrifield20/anchorkit/internal/anchor/model"
	"github.com/jmerrifield20/anchorkit/internal/audit"
	"github.com/jmerrifield20/anchorkit/internal/clock"
	"github.com/jmerrifield20/anchorkit/internal/events"
	"github.com/jmerrifield20/anchorkit/internal/identity"
	"github.com/jmerrifield20/anchorkit/internal/store"
)

// Replay re-executes entries, in order, against dst, which must be empty.
// Each entry runs as its recorded actor and session with the clock pinned to
// its timestamp. After every step the regenerated chain must match the
// original entry's id and hash; any divergence is an error. Authorization and
// signature checks are not repeated, since they were decided when the
// operations first ran.
func (e *Engine) Replay(ctx context.Context, entries []*audit.Entry, dst store.Store) error {
	clk := clock.NewManual(time.Unix(0, 0))
	r, err := NewEngine(dst, identity.AllowAll{}, clk, events.Nop{}, e.cfg, e.logger.Named("replay"))
	if err != nil {
		return err
	}

	for _, orig := range entries {
		clk.Set(orig.Timestamp)
		call := Call{Caller: orig.Actor, SessionID: orig.SessionID}
		if err := r.apply(ctx, call, orig); err != nil {
			return fmt.Errorf("replay entry %d (%s): %w", orig.ID, orig.Kind, err)
		}
		head, err := r.AuditHead(ctx)
		if err != nil {
			return err
		}
		if head.Length != orig.ID || head.Root != orig.Hash {
			return fmt.Errorf("replay diverged at entry %d (%s): got length %d root %s, want %s",
				orig.ID, orig.Kind, head.Length, head.Root, orig.Hash)
		}
	}
	return nil
}

// apply dispatches one recorded operation.
func (e *Engine) apply(ctx context.Context, call Call, entry *audit.Entry) error {
	switch entry.Kind {
	case KindRegister:
		var in registerPayload
		return decodeThen(entry, &in, func() error {
			_, err := e.Register(ctx, call, in.Attestor, in.PublicKey)
			return err
		})
	case KindRevoke:
		var in attestorPayload
		return decodeThen(entry, &in, func() error { return e.Revoke(ctx, call, in.Attestor) })
	case KindConfigureServices:
		var in servicesPayload
		return decodeThen(entry, &in, func() error { return e.ConfigureServices(ctx, call, in.Attestor, in.Services) })
	case KindSetAssets:
		var in assetsPayload
		return decodeThen(entry, &in, func() error { return e.SetSupportedAssets(ctx, call, in.Attestor, in.Assets) })
	case KindConfigureEndpoint:
		var in endpointPayload
		return decodeThen(entry, &in, func() error {
			_, err := e.ConfigureEndpoint(ctx, call, in.Attestor, in.URL)
			return err
		})
	case KindRemoveEndpoint:
		var in attestorPayload
		return decodeThen(entry, &in, func() error { return e.RemoveEndpoint(ctx, call, in.Attestor) })
	case KindSubmitAttestation:
		var in model.AttestationRequest
		return decodeThen(entry, &in, func() error {
			_, err := e.SubmitAttestation(ctx, call, in)
			return err
		})
	case KindSubmitQuote:
		var in model.QuoteRequest
		return decodeThen(entry, &in, func() error {
			_, err := e.SubmitQuote(ctx, call, in)
			return err
		})
	case KindBuildIntent:
		var in model.IntentRequest
		return decodeThen(entry, &in, func() error {
			_, err := e.BuildTransactionIntent(ctx, call, in)
			return err
		})
	case KindCreateSession:
		_, err := e.CreateSession(ctx, call)
		return err
	case KindSetPolicy:
		var in policyPayload
		return decodeThen(entry, &in, func() error {
			_, err := e.SetCredentialPolicy(ctx, call, in.Attestor, in.RotationIntervalSeconds, in.RequireEncryption)
			return err
		})
	case KindStoreCredential:
		var in credentialPayload
		return decodeThen(entry, &in, func() error {
			_, err := e.StoreCredential(ctx, call, in.Attestor, in.Type, in.EncryptedValue, in.ExpiresAt)
			return err
		})
	case KindRotateCredential:
		var in credentialPayload
		return decodeThen(entry, &in, func() error {
			_, err := e.RotateCredential(ctx, call, in.Attestor, in.Type, in.EncryptedValue, in.ExpiresAt)
			return err
		})
	case KindRevokeCredential:
		var in credentialRefPayload
		return decodeThen(entry, &in, func() error { return e.RevokeCredential(ctx, call, in.Attestor, in.Type) })
	case KindInjectCredential:
		var in injectPayload
		return decodeThen(entry, &in, func() error { return e.recordInjection(ctx, call, in) })
	case KindConfigureFallback:
		var in model.FallbackConfig
		return decodeThen(entry, &in, func() error { return e.ConfigureFallback(ctx, call, in) })
	case KindRecordFailure:
		var in anchorPayload
		return decodeThen(entry, &in, func() error {
			_, err := e.RecordFailure(ctx, call, in.Anchor)
			return err
		})
	case KindRecordSuccess:
		var in anchorPayload
		return decodeThen(entry, &in, func() error {
			_, err := e.RecordSuccess(ctx, call, in.Anchor)
			return err
		})
	default:
		return fmt.Errorf("unknown operation kind %q", entry.Kind)
	}
}

func decodeThen(entry *audit.Entry, v any, fn func() error) error {
	if err := json.Unmarshal(entry.Payload, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return fn()
}
