package service_test

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/jmerrifield20/anchorkit/internal/anchor/model"
	"github.com/jmerrifield20/anchorkit/internal/anchor/service"
	"github.com/jmerrifield20/anchorkit/internal/audit"
	"github.com/jmerrifield20/anchorkit/internal/store"
	"go.uber.org/zap"
)

func TestSession_countsOperationsInCallOrder(t *testing.T) {
	h := newHarness(t)
	h.register(t, "X")

	sess, err := h.eng.CreateSession(ctx, as("X"))
	if err != nil {
		t.Fatal(err)
	}
	if sess.ID != 1 || sess.Initiator != "X" {
		t.Fatalf("session: %+v", sess)
	}
	call := service.Call{Caller: "X", SessionID: sess.ID}
	before, _ := h.eng.AuditHead(ctx)

	const n = 4
	for i := 0; i < n; i++ {
		if _, err := h.eng.SubmitAttestation(ctx, call, attestation("X", int64(i+1), hash(byte(i)))); err != nil {
			t.Fatal(err)
		}
	}
	// A failed operation in the session leaves no trace.
	_, err = h.eng.SubmitAttestation(ctx, call, attestation("X", 1, hash(0)))
	wantErr(t, err, model.ErrReplayDetected)

	count, err := h.eng.SessionOperationCount(ctx, sess.ID)
	if err != nil || count != n {
		t.Fatalf("operation count: %d, %v; want %d", count, err, n)
	}

	entries, err := h.eng.ListAuditLog(ctx, before.Length+1, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != n {
		t.Fatalf("new entries: got %d, want %d", len(entries), n)
	}
	for i, e := range entries {
		if e.SessionID != sess.ID || e.OperationIndex != uint64(i+1) || e.Kind != service.KindSubmitAttestation {
			t.Errorf("entry %d: session=%d index=%d kind=%s", i, e.SessionID, e.OperationIndex, e.Kind)
		}
		if e.Result != strconv.Itoa(i+1) {
			t.Errorf("entry %d result %q", i, e.Result)
		}
	}
}

func TestSession_unknownSessionHasNoEffect(t *testing.T) {
	h := newHarness(t)
	h.register(t, "X")
	head, _ := h.eng.AuditHead(ctx)

	_, err := h.eng.SubmitAttestation(ctx, service.Call{Caller: "X", SessionID: 42}, attestation("X", 1, hash(1)))
	wantErr(t, err, model.ErrSessionNotFound)

	after, _ := h.eng.AuditHead(ctx)
	if after != head {
		t.Errorf("audit head moved: %+v -> %+v", head, after)
	}
	// The replay key was not consumed either.
	if _, err := h.eng.SubmitAttestation(ctx, as("X"), attestation("X", 1, hash(1))); err != nil {
		t.Errorf("submission after failed session call: %v", err)
	}
}

func TestAuditReads(t *testing.T) {
	h := newHarness(t)

	_, err := h.eng.GetAuditLog(ctx, 1)
	wantErr(t, err, model.ErrAuditLogNotFound)
	_, err = h.eng.GetSession(ctx, 1)
	wantErr(t, err, model.ErrSessionNotFound)
	_, err = h.eng.SessionOperationCount(ctx, 7)
	wantErr(t, err, model.ErrSessionNotFound)

	head, _ := h.eng.AuditHead(ctx)
	if head.Length != 0 || head.Root != audit.GenesisHash {
		t.Errorf("empty head: %+v", head)
	}

	h.register(t, "X", model.ServiceKYC)
	entry, err := h.eng.GetAuditLog(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Kind != service.KindConfigureServices || entry.Actor != "X" {
		t.Errorf("entry: %+v", entry)
	}
	if err := h.eng.VerifyAuditLog(ctx); err != nil {
		t.Errorf("VerifyAuditLog: %v", err)
	}
}

// buildHistory runs a representative mix of operations across every
// component.
func buildHistory(t *testing.T, h *harness) {
	t.Helper()
	h.register(t, "A", model.ServiceQuotes, model.ServiceDeposits)
	h.register(t, "B", model.ServiceQuotes)
	sess, err := h.eng.CreateSession(ctx, as("A"))
	if err != nil {
		t.Fatal(err)
	}
	inSession := service.Call{Caller: "A", SessionID: sess.ID}

	steps := []func() error{
		func() error { return h.eng.SetSupportedAssets(ctx, inSession, "A", []string{"USDC", "EURC"}) },
		func() error {
			_, err := h.eng.ConfigureEndpoint(ctx, inSession, "A", "https://a.example/health")
			return err
		},
		func() error {
			_, err := h.eng.SubmitAttestation(ctx, inSession, attestation("A", 10, hash(1)))
			return err
		},
		func() error {
			_, err := h.eng.SubmitQuote(ctx, inSession, quote("A", 9_000, 5))
			return err
		},
		func() error {
			req := model.IntentRequest{
				Anchor:  "A",
				Request: model.TransactionRequest{BaseAsset: "USDC", QuoteAsset: "EURC", Amount: 250, Operation: model.ServiceDeposits},
				QuoteID: 1,
			}
			_, err := h.eng.BuildTransactionIntent(ctx, inSession, req)
			return err
		},
		func() error {
			_, err := h.eng.SetCredentialPolicy(ctx, admin, "A", 3600, true)
			return err
		},
		func() error {
			_, err := h.eng.StoreCredential(ctx, admin, "A", model.CredentialOAuth2, sealed[:40], t0.Unix()+86400)
			return err
		},
		func() error {
			_, err := h.eng.RotateCredential(ctx, admin, "A", model.CredentialOAuth2, sealed[:48], 0)
			return err
		},
		func() error {
			return h.eng.Inject(ctx, inSession, "A", model.CredentialAPIKey, "https://a.example", []byte("0123456789abcdef"),
				func(context.Context, *service.RuntimeCredential) error { return nil })
		},
		func() error {
			return h.eng.ConfigureFallback(ctx, admin, model.FallbackConfig{AnchorOrder: []string{"B", "A"}, MaxRetries: 1, FailureThreshold: 1})
		},
		func() error {
			_, err := h.eng.SubmitQuoteWithFallback(ctx, admin, quote("", 9_100, 0), func(_ context.Context, a string) error {
				if a == "B" {
					return errors.New("unreachable")
				}
				return nil
			})
			return err
		},
		func() error {
			_, err := h.eng.RecordSuccess(ctx, admin, "B")
			return err
		},
		func() error { return h.eng.RevokeCredential(ctx, admin, "A", model.CredentialOAuth2) },
		func() error { return h.eng.RemoveEndpoint(ctx, inSession, "A") },
		func() error { return h.eng.Revoke(ctx, admin, "B") },
		func() error {
			_, err := h.eng.Register(ctx, admin, "B", "")
			return err
		},
	}
	for i, step := range steps {
		h.clock.Advance(time.Duration(i+1) * 1500 * time.Millisecond)
		if err := step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
}

func TestReplay_reproducesChain(t *testing.T) {
	h := newHarness(t)
	buildHistory(t, h)

	snapshot, err := h.eng.ExportAuditLog(ctx)
	if err != nil {
		t.Fatal(err)
	}
	entries, err := audit.Decode(snapshot)
	if err != nil {
		t.Fatal(err)
	}

	fresh := store.NewMemory(store.Options{})
	if err := h.eng.Replay(ctx, entries, fresh); err != nil {
		t.Fatalf("Replay: %v", err)
	}

	// Replayed state answers reads exactly like the original, and the next
	// id allocation matches.
	replayed, err := service.NewEngine(fresh, h.oracle, h.clock, nil, h.eng.Config(), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	want, _ := h.eng.AuditHead(ctx)
	got, _ := replayed.AuditHead(ctx)
	if got != want {
		t.Errorf("head: got %+v, want %+v", got, want)
	}
	origCmp, err1 := h.eng.CompareRates(ctx, model.RateRequest{BaseAsset: "USDC", QuoteAsset: "EURC", Amount: 100, Anchors: []string{"A", "B"}})
	replCmp, err2 := replayed.CompareRates(ctx, model.RateRequest{BaseAsset: "USDC", QuoteAsset: "EURC", Amount: 100, Anchors: []string{"A", "B"}})
	if err1 != nil || err2 != nil || origCmp.Best != replCmp.Best {
		t.Errorf("rates differ: %+v/%v vs %+v/%v", origCmp, err1, replCmp, err2)
	}

	origIntent, err1 := h.eng.GetTransactionIntent(ctx, 1)
	replIntent, err2 := replayed.GetTransactionIntent(ctx, 1)
	if err1 != nil || err2 != nil || *origIntent != *replIntent {
		t.Errorf("intents differ: %+v/%v vs %+v/%v", origIntent, err1, replIntent, err2)
	}

	next := attestation("B", 99, hash(9))
	id1, err1 := h.eng.SubmitAttestation(ctx, admin, next)
	id2, err2 := replayed.SubmitAttestation(ctx, admin, next)
	if err1 != nil || err2 != nil || id1 != id2 {
		t.Errorf("next id: %d/%v vs %d/%v", id1, err1, id2, err2)
	}
}

func TestReplay_detectsDivergence(t *testing.T) {
	h := newHarness(t)
	buildHistory(t, h)

	entries, err := h.eng.ListAuditLog(ctx, 1, 1000)
	if err != nil {
		t.Fatal(err)
	}
	entries[3].Actor = "mallory"

	err = h.eng.Replay(ctx, entries, store.NewMemory(store.Options{}))
	if err == nil {
		t.Fatal("expected divergence")
	}
}
