// Package service implements the anchorkit core: the attestation registry,
// the session-scoped audit trail, the credential lifecycle manager and the
// fallback anchor selector. Every mutating operation runs as one store
// transaction that also appends its audit entry; events are published only
// after the transaction commits.
package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jmerrifield20/anchorkit/internal/anchor/model"
	"github.com/jmerrifield20/anchorkit/internal/anchor/repository"
	"github.com/jmerrifield20/anchorkit/internal/audit"
	"github.com/jmerrifield20/anchorkit/internal/clock"
	"github.com/jmerrifield20/anchorkit/internal/events"
	"github.com/jmerrifield20/anchorkit/internal/store"
	"go.uber.org/zap"
)

// Audit entry kinds. Each names one mutating operation; replay dispatches on
// them, so they must never change.
const (
	KindRegister          = "attestor.register"
	KindRevoke            = "attestor.revoke"
	KindConfigureServices = "attestor.configure_services"
	KindSetAssets         = "attestor.set_assets"
	KindConfigureEndpoint = "attestor.configure_endpoint"
	KindRemoveEndpoint    = "attestor.remove_endpoint"
	KindSubmitAttestation = "attestation.submit"
	KindSubmitQuote       = "quote.submit"
	KindBuildIntent       = "intent.build"
	KindCreateSession     = "session.create"
	KindSetPolicy         = "credential.set_policy"
	KindStoreCredential   = "credential.store"
	KindRotateCredential  = "credential.rotate"
	KindRevokeCredential  = "credential.revoke"
	KindInjectCredential  = "credential.inject"
	KindConfigureFallback = "fallback.configure"
	KindRecordFailure     = "anchor.record_failure"
	KindRecordSuccess     = "anchor.record_success"
)

// Authorizer is the identity oracle. *identity.Static satisfies it.
type Authorizer interface {
	IsCaller(id string) bool
	IsAdmin(id string) bool
}

// SignatureVerifier checks attestor signatures. sigverify.BLS satisfies it.
type SignatureVerifier interface {
	ValidatePublicKey(pk []byte) error
	Verify(pk, msg, sig []byte) error
}

// Config holds engine tunables.
type Config struct {
	// ReplayWindow is how long a consumed replay key stays live. Required.
	ReplayWindow time.Duration

	// FailureStateTTL bounds how long an anchor's failure state survives
	// without further failures. Defaults to 24h.
	FailureStateTTL time.Duration

	// MaxTTL is the store's temporary tier bound (store.Options.MaxTTL).
	// When set, ReplayWindow and FailureStateTTL must not exceed it.
	MaxTTL time.Duration
}

// Call identifies who is invoking an operation and, optionally, the session
// it runs in. SessionID 0 means no session.
type Call struct {
	Caller    string
	SessionID uint64
}

// Engine is the anchorkit core.
type Engine struct {
	store    store.Store
	auth     Authorizer
	clock    clock.Clock
	sink     events.Sink
	verifier SignatureVerifier // nil = signatures are stored but not checked
	cfg      Config
	logger   *zap.Logger
}

// NewEngine creates an Engine. sink may be nil to discard events and logger
// nil to discard logs.
func NewEngine(st store.Store, auth Authorizer, clk clock.Clock, sink events.Sink, cfg Config, logger *zap.Logger) (*Engine, error) {
	if cfg.ReplayWindow <= 0 {
		return nil, errors.New("replay window must be positive")
	}
	if cfg.FailureStateTTL == 0 {
		cfg.FailureStateTTL = 24 * time.Hour
	}
	if cfg.FailureStateTTL < 0 {
		return nil, errors.New("failure state ttl must be positive")
	}
	if cfg.MaxTTL > 0 {
		if cfg.ReplayWindow > cfg.MaxTTL {
			return nil, fmt.Errorf("replay window %s exceeds the store's max ttl %s", cfg.ReplayWindow, cfg.MaxTTL)
		}
		if cfg.FailureStateTTL > cfg.MaxTTL {
			return nil, fmt.Errorf("failure state ttl %s exceeds the store's max ttl %s", cfg.FailureStateTTL, cfg.MaxTTL)
		}
	}
	if sink == nil {
		sink = events.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:  st,
		auth:   auth,
		clock:  clk,
		sink:   sink,
		cfg:    cfg,
		logger: logger,
	}, nil
}

// SetVerifier enables signature verification for attestors that registered a
// public key.
func (e *Engine) SetVerifier(v SignatureVerifier) {
	e.verifier = v
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// op is the state of one in-flight mutation.
type op struct {
	tx     store.Tx
	now    time.Time
	call   Call
	events []events.Event
}

func (o *op) unix() int64 { return o.now.Unix() }

func (o *op) emit(eventType string, payload map[string]string) {
	o.events = append(o.events, events.New(eventType, o.now, payload))
}

// mutate runs fn and appends the audit entry in one transaction. fn returns
// the entry's result summary. Nothing is written, logged or published when
// any step fails.
func (e *Engine) mutate(ctx context.Context, call Call, kind string, payload any, fn func(*op) (string, error)) (*audit.Entry, error) {
	if !e.auth.IsCaller(call.Caller) {
		return nil, model.Errorf(model.ErrUnauthorized, "%q is not a recognised caller", call.Caller)
	}

	now := e.clock.Now()
	var (
		o     *op
		entry *audit.Entry
	)
	err := e.store.Update(ctx, now, func(tx store.Tx) error {
		if call.SessionID != 0 {
			if _, err := audit.GetSession(tx, call.SessionID); err != nil {
				return sessionErr(err, call.SessionID)
			}
		}

		o = &op{tx: tx, now: now, call: call}
		result, err := fn(o)
		if err != nil {
			return err
		}

		entry, err = audit.Append(tx, audit.Record{
			SessionID: call.SessionID,
			Timestamp: now,
			Kind:      kind,
			Actor:     call.Caller,
			Result:    result,
			Payload:   payload,
		})
		if err != nil {
			return sessionErr(err, call.SessionID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, ev := range o.events {
		e.sink.Publish(ctx, ev)
	}
	e.sink.Publish(ctx, events.New(events.TypeOperationLogged, now, map[string]string{
		"log_id":     strconv.FormatUint(entry.ID, 10),
		"kind":       kind,
		"actor":      call.Caller,
		"session_id": strconv.FormatUint(call.SessionID, 10),
	}))
	return entry, nil
}

// view runs a read against a consistent snapshot at the current time.
func (e *Engine) view(ctx context.Context, fn func(store.Reader) error) error {
	return e.store.View(ctx, e.clock.Now(), fn)
}

func sessionErr(err error, id uint64) error {
	if errors.Is(err, audit.ErrSessionNotFound) {
		return model.Errorf(model.ErrSessionNotFound, "session %d", id)
	}
	return err
}

func (e *Engine) requireAdmin(call Call) error {
	if !e.auth.IsAdmin(call.Caller) {
		return model.Errorf(model.ErrUnauthorized, "%s is not an admin", call.Caller)
	}
	return nil
}

func (e *Engine) requireSelfOrAdmin(call Call, attestor string) error {
	if call.Caller == attestor || e.auth.IsAdmin(call.Caller) {
		return nil
	}
	return model.Errorf(model.ErrUnauthorized, "%s may not act for %s", call.Caller, attestor)
}

// loadAttestor returns a registered attestor, or AttestorNotRegistered.
func loadAttestor(r store.Reader, id string) (*model.Attestor, error) {
	a, err := repository.GetAttestor(r, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, model.Errorf(model.ErrAttestorNotRegistered, "attestor %s", id)
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// activeAttestor additionally rejects revoked attestors with
// UnauthorizedAttestor.
func activeAttestor(r store.Reader, id string) (*model.Attestor, error) {
	a, err := loadAttestor(r, id)
	if err != nil {
		return nil, err
	}
	if !a.Active() {
		return nil, model.Errorf(model.ErrUnauthorizedAttestor, "attestor %s is revoked", id)
	}
	return a, nil
}

func formatID(id uint64) string { return strconv.FormatUint(id, 10) }
