package service_test

import (
	"testing"
	"time"

	"github.com/jmerrifield20/anchorkit/internal/anchor/model"
	"github.com/jmerrifield20/anchorkit/internal/anchor/service"
	"github.com/jmerrifield20/anchorkit/internal/events"
)

func intentRequest(anchor string, op model.ServiceType, amount uint64) model.IntentRequest {
	return model.IntentRequest{
		Anchor: anchor,
		Request: model.TransactionRequest{
			BaseAsset: "USDC", QuoteAsset: "EURC", Amount: amount, Operation: op,
		},
	}
}

func TestBuildTransactionIntent_withoutQuote(t *testing.T) {
	h := newHarness(t)
	h.register(t, "A", model.ServiceDeposits, model.ServiceKYC)

	req := intentRequest("A", model.ServiceDeposits, 100)
	req.RequireKYC = true
	intent, err := h.eng.BuildTransactionIntent(ctx, as("A"), req)
	if err != nil {
		t.Fatal(err)
	}
	if intent.ID != 1 || intent.HasQuote || !intent.RequiresKYC {
		t.Fatalf("intent: %+v", intent)
	}
	if intent.CreatedAt != t0.Unix() || intent.ExpiresAt != t0.Unix()+model.DefaultIntentTTLSeconds {
		t.Errorf("window: created %d expires %d", intent.CreatedAt, intent.ExpiresAt)
	}

	got, err := h.eng.GetTransactionIntent(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if *got != *intent {
		t.Errorf("stored %+v, built %+v", got, intent)
	}
	if types := h.events.Types(); types[len(types)-1] != events.TypeIntentBuilt {
		t.Errorf("events: %v", types)
	}

	_, err = h.eng.GetTransactionIntent(ctx, 2)
	wantErr(t, err, model.ErrIntentNotFound)
}

func TestBuildTransactionIntent_bindsQuote(t *testing.T) {
	h := newHarness(t)
	h.register(t, "A", model.ServiceQuotes, model.ServiceWithdrawals)
	q, err := h.eng.SubmitQuote(ctx, as("A"), quote("A", 9_200, 15))
	if err != nil {
		t.Fatal(err)
	}

	h.clock.Advance(100 * time.Second)
	req := intentRequest("A", model.ServiceWithdrawals, 500)
	req.QuoteID = q.ID
	req.TTLSeconds = 3600
	intent, err := h.eng.BuildTransactionIntent(ctx, admin, req)
	if err != nil {
		t.Fatal(err)
	}
	if !intent.HasQuote || intent.QuoteID != q.ID || intent.Rate != 9_200 || intent.FeeBps != 15 {
		t.Fatalf("quote not bound: %+v", intent)
	}
	if intent.ExpiresAt != q.ValidUntil {
		t.Errorf("expiry %d not capped at quote valid_until %d", intent.ExpiresAt, q.ValidUntil)
	}

	req.TTLSeconds = 60
	short, err := h.eng.BuildTransactionIntent(ctx, admin, req)
	if err != nil {
		t.Fatal(err)
	}
	if short.ID != 2 || short.ExpiresAt != t0.Unix()+160 {
		t.Errorf("short intent: %+v", short)
	}
}

func TestBuildTransactionIntent_rejections(t *testing.T) {
	h := newHarness(t)
	h.register(t, "A", model.ServiceQuotes, model.ServiceDeposits)
	h.register(t, "B", model.ServiceQuotes, model.ServiceWithdrawals)
	h.register(t, "N")
	qa, err := h.eng.SubmitQuote(ctx, as("A"), quote("A", 9_000, 10))
	if err != nil {
		t.Fatal(err)
	}
	qb, err := h.eng.SubmitQuote(ctx, as("B"), quote("B", 9_100, 10))
	if err != nil {
		t.Fatal(err)
	}
	head, _ := h.eng.AuditHead(ctx)

	withQuote := func(r model.IntentRequest, id uint64) model.IntentRequest {
		r.QuoteID = id
		return r
	}
	reversed := intentRequest("A", model.ServiceDeposits, 100)
	reversed.Request.BaseAsset, reversed.Request.QuoteAsset = "EURC", "USDC"
	kyc := intentRequest("A", model.ServiceDeposits, 100)
	kyc.RequireKYC = true

	cases := []struct {
		name string
		req  model.IntentRequest
		want *model.Error
	}{
		{"quotes is not an intent operation", intentRequest("A", model.ServiceQuotes, 100), model.ErrInvalidServiceType},
		{"zero amount", intentRequest("A", model.ServiceDeposits, 0), model.ErrInvalidTransactionIntent},
		{"bad asset", model.IntentRequest{Anchor: "A", Request: model.TransactionRequest{BaseAsset: "usdc", QuoteAsset: "EURC", Amount: 1, Operation: model.ServiceDeposits}}, model.ErrInvalidAssetSymbol},
		{"unknown anchor", intentRequest("Z", model.ServiceDeposits, 100), model.ErrUnauthorizedAttestor},
		{"no services", intentRequest("N", model.ServiceDeposits, 100), model.ErrServicesNotConfigured},
		{"operation not offered", intentRequest("B", model.ServiceDeposits, 100), model.ErrInvalidServiceType},
		{"kyc not offered", kyc, model.ErrComplianceNotMet},
		{"missing quote", withQuote(intentRequest("A", model.ServiceDeposits, 100), 99), model.ErrQuoteNotFound},
		{"another anchor's quote", withQuote(intentRequest("A", model.ServiceDeposits, 100), qb.ID), model.ErrQuoteNotFound},
		{"pair mismatch", withQuote(reversed, qa.ID), model.ErrInvalidQuote},
		{"below quote minimum", withQuote(intentRequest("A", model.ServiceDeposits, 5), qa.ID), model.ErrInvalidQuote},
		{"above quote maximum", withQuote(intentRequest("A", model.ServiceDeposits, 20_000), qa.ID), model.ErrInvalidQuote},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.eng.BuildTransactionIntent(ctx, as("A"), tc.req)
			wantErr(t, err, tc.want)
		})
	}

	h.clock.Set(t0.Add(600 * time.Second))
	_, err = h.eng.BuildTransactionIntent(ctx, as("A"), withQuote(intentRequest("A", model.ServiceDeposits, 100), qa.ID))
	wantErr(t, err, model.ErrStaleQuote)

	// Rejected intents consume no id and leave no audit entry.
	after, _ := h.eng.AuditHead(ctx)
	if after != head {
		t.Errorf("audit head moved: %+v -> %+v", head, after)
	}
	intent, err := h.eng.BuildTransactionIntent(ctx, as("A"), intentRequest("A", model.ServiceDeposits, 100))
	if err != nil || intent.ID != 1 {
		t.Fatalf("first accepted intent: %+v, %v", intent, err)
	}
}

func TestBuildTransactionIntent_inSession(t *testing.T) {
	h := newHarness(t)
	h.register(t, "A", model.ServiceDeposits)
	sess, err := h.eng.CreateSession(ctx, as("A"))
	if err != nil {
		t.Fatal(err)
	}

	call := service.Call{Caller: "A", SessionID: sess.ID}
	intent, err := h.eng.BuildTransactionIntent(ctx, call, intentRequest("A", model.ServiceDeposits, 100))
	if err != nil {
		t.Fatal(err)
	}
	if intent.SessionID != sess.ID {
		t.Errorf("session id %d, want %d", intent.SessionID, sess.ID)
	}
	if n, err := h.eng.SessionOperationCount(ctx, sess.ID); err != nil || n != 1 {
		t.Errorf("operation count %d, %v", n, err)
	}

	head, _ := h.eng.AuditHead(ctx)
	entry, err := h.eng.GetAuditLog(ctx, head.Length)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Kind != service.KindBuildIntent || entry.Result != "1" || entry.SessionID != sess.ID {
		t.Errorf("audit entry: %+v", entry)
	}
}
