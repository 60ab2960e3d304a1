// Package events publishes registry state changes to off-chain consumers.
// Publication is fire-and-forget: sinks never report failure to the
// publisher, and the registry never reads events back.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event types.
const (
	TypeAttestorRegistered   = "attestor.registered"
	TypeAttestorRevoked      = "attestor.revoked"
	TypeServicesConfigured   = "attestor.services_configured"
	TypeAssetsConfigured     = "attestor.assets_configured"
	TypeEndpointConfigured   = "attestor.endpoint_configured"
	TypeEndpointRemoved      = "attestor.endpoint_removed"
	TypeAttestationSubmitted = "attestation.submitted"
	TypeQuoteSubmitted       = "quote.submitted"
	TypeIntentBuilt          = "intent.built"
	TypeSessionCreated       = "session.created"
	TypeOperationLogged      = "operation.logged"
	TypePolicySet            = "credential.policy_set"
	TypeCredentialStored     = "credential.stored"
	TypeCredentialRotated    = "credential.rotated"
	TypeCredentialRevoked    = "credential.revoked"
	TypeCredentialInjected   = "credential.injected"
	TypeFallbackConfigured   = "fallback.configured"
	TypeAnchorFailure        = "anchor.failure_recorded"
	TypeAnchorDown           = "anchor.down"
	TypeAnchorRecovered      = "anchor.recovered"
)

// Event is a structured notification carrying the relevant entity ids.
type Event struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   map[string]string `json:"payload"`
}

// New builds an event with a fresh id.
func New(eventType string, ts time.Time, payload map[string]string) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: ts.UTC(),
		Payload:   payload,
	}
}

// Sink receives published events.
type Sink interface {
	Publish(ctx context.Context, e Event)
}

// Nop discards every event.
type Nop struct{}

// Publish implements Sink.
func (Nop) Publish(context.Context, Event) {}

// Fanout publishes each event to every sink in order.
type Fanout []Sink

// Publish implements Sink.
func (f Fanout) Publish(ctx context.Context, e Event) {
	for _, s := range f {
		s.Publish(ctx, e)
	}
}

// Log writes each event to a zap logger.
type Log struct {
	logger *zap.Logger
}

// NewLog returns a Log sink.
func NewLog(logger *zap.Logger) *Log { return &Log{logger: logger} }

// Publish implements Sink.
func (l *Log) Publish(_ context.Context, e Event) {
	fields := make([]zap.Field, 0, len(e.Payload)+2)
	fields = append(fields, zap.String("event_id", e.ID), zap.String("type", e.Type))
	for k, v := range e.Payload {
		fields = append(fields, zap.String(k, v))
	}
	l.logger.Info("event", fields...)
}

// Recorder keeps every published event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Publish implements Sink.
func (r *Recorder) Publish(_ context.Context, e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types returns the recorded event types in publication order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

// Reset discards recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}
