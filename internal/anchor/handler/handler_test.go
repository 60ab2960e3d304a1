package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/anchorkit/internal/anchor/handler"
	"github.com/jmerrifield20/anchorkit/internal/anchor/service"
	"github.com/jmerrifield20/anchorkit/internal/clock"
	"github.com/jmerrifield20/anchorkit/internal/events"
	"github.com/jmerrifield20/anchorkit/internal/identity"
	"github.com/jmerrifield20/anchorkit/internal/store"
	"go.uber.org/zap"
)

// ── Helpers ──────────────────────────────────────────────────────────────

type testAPI struct {
	router *gin.Engine
	tokens *identity.TokenIssuer
	engine *service.Engine
}

func newAPI(t *testing.T, configure ...func(*handler.Handler)) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	eng, err := service.NewEngine(
		store.NewMemory(store.Options{}),
		identity.NewStatic([]string{"admin"}, nil),
		clock.NewManual(time.Unix(1_700_000_000, 0)),
		handler.MetricsSink{},
		service.Config{ReplayWindow: time.Hour},
		zap.NewNop(),
	)
	if err != nil {
		t.Fatal(err)
	}
	tokens, err := identity.NewTokenIssuer([]byte(strings.Repeat("k", 32)), "anchorkit-test", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	h := handler.New(eng, tokens, zap.NewNop())
	for _, fn := range configure {
		fn(h)
	}
	r := gin.New()
	h.Register(r.Group("/api/v1"))
	r.GET("/metrics", handler.MetricsHandler())
	return &testAPI{router: r, tokens: tokens, engine: eng}
}

// do sends a request as caller (unauthenticated when empty). Extra headers
// are given as name, value pairs.
func (a *testAPI) do(t *testing.T, method, path, caller string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if caller != "" {
		tok, err := a.tokens.Issue(caller, "")
		if err != nil {
			t.Fatal(err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("expected %d, got %d: %s", want, w.Code, w.Body.String())
	}
}

func expectError(t *testing.T, w *httptest.ResponseRecorder, status int, name string) {
	t.Helper()
	expectStatus(t, w, status)
	if got := decode(t, w)["name"]; got != name {
		t.Fatalf("expected error %s, got %v", name, got)
	}
}

func (a *testAPI) registerAnchor(t *testing.T, id string) {
	t.Helper()
	expectStatus(t, a.do(t, http.MethodPost, "/api/v1/attestors", "admin", gin.H{"id": id}), http.StatusCreated)
	expectStatus(t, a.do(t, http.MethodPut, "/api/v1/attestors/"+id+"/services", id,
		gin.H{"services": []string{"quotes", "deposits"}}), http.StatusOK)
}

var payloadHash = strings.Repeat("ab", 32)

// ── Tests ────────────────────────────────────────────────────────────────

func TestAuthRequired(t *testing.T) {
	api := newAPI(t)

	w := api.do(t, http.MethodGet, "/api/v1/audit/head", "", nil)
	expectStatus(t, w, http.StatusUnauthorized)

	w = api.do(t, http.MethodGet, "/api/v1/audit/head", "", nil, "Authorization", "Bearer nope")
	expectStatus(t, w, http.StatusUnauthorized)

	w = api.do(t, http.MethodGet, "/api/v1/audit/head", "anyone", nil)
	expectStatus(t, w, http.StatusOK)
}

func TestIssueToken(t *testing.T) {
	hash, err := identity.HashAdminSecret("operator-secret")
	if err != nil {
		t.Fatal(err)
	}
	api := newAPI(t, func(h *handler.Handler) { h.SetAdminSecretHash(hash) })

	w := api.do(t, http.MethodPost, "/api/v1/auth/token", "", gin.H{"caller": "admin", "admin_secret": "wrong"})
	expectStatus(t, w, http.StatusUnauthorized)

	w = api.do(t, http.MethodPost, "/api/v1/auth/token", "", gin.H{"caller": "bad id", "admin_secret": "operator-secret"})
	expectError(t, w, http.StatusBadRequest, "InvalidIdentity")

	w = api.do(t, http.MethodPost, "/api/v1/auth/token", "", gin.H{"caller": "admin", "admin_secret": "operator-secret"})
	expectStatus(t, w, http.StatusOK)
	tok, _ := decode(t, w)["access_token"].(string)
	if tok == "" {
		t.Fatal("no access_token in response")
	}

	w = api.do(t, http.MethodPost, "/api/v1/attestors", "", gin.H{"id": "anchor-a"}, "Authorization", "Bearer "+tok)
	expectStatus(t, w, http.StatusCreated)
}

func TestIssueToken_disabledWithoutSecret(t *testing.T) {
	api := newAPI(t)
	w := api.do(t, http.MethodPost, "/api/v1/auth/token", "", gin.H{"caller": "admin", "admin_secret": "x"})
	expectStatus(t, w, http.StatusNotFound)
}

func TestAttestationLifecycle(t *testing.T) {
	api := newAPI(t)
	api.registerAnchor(t, "anchor-a")

	body := gin.H{"issuer": "anchor-a", "subject": "user-1", "timestamp": 1_700_000_000, "payload_hash": payloadHash}
	w := api.do(t, http.MethodPost, "/api/v1/attestations", "anchor-a", body)
	expectStatus(t, w, http.StatusCreated)
	if id := decode(t, w)["id"]; id != float64(1) {
		t.Fatalf("expected id 1, got %v", id)
	}

	w = api.do(t, http.MethodPost, "/api/v1/attestations", "anchor-a", body)
	expectError(t, w, http.StatusConflict, "ReplayDetected")
	if code := decode(t, w)["code"]; code != float64(5) {
		t.Fatalf("expected code 5, got %v", code)
	}

	w = api.do(t, http.MethodGet, "/api/v1/attestations/1", "anyone", nil)
	expectStatus(t, w, http.StatusOK)
	if got := decode(t, w)["subject"]; got != "user-1" {
		t.Fatalf("subject = %v", got)
	}

	expectError(t, api.do(t, http.MethodGet, "/api/v1/attestations/9", "anyone", nil), http.StatusNotFound, "AttestationNotFound")
	expectStatus(t, api.do(t, http.MethodGet, "/api/v1/attestations/x", "anyone", nil), http.StatusBadRequest)
}

func TestQuotesAndRates(t *testing.T) {
	api := newAPI(t)
	api.registerAnchor(t, "anchor-a")
	api.registerAnchor(t, "anchor-b")

	quote := func(anchor string, rate uint64) gin.H {
		return gin.H{
			"anchor": anchor, "base_asset": "USD", "quote_asset": "EUR",
			"rate": rate, "fee_bps": 0, "min_amount": 1, "max_amount": 1_000_000,
			"valid_until": 1_700_003_600,
		}
	}
	expectStatus(t, api.do(t, http.MethodPost, "/api/v1/quotes", "anchor-a", quote("anchor-a", 9_300)), http.StatusCreated)
	w := api.do(t, http.MethodPost, "/api/v1/quotes", "anchor-b", quote("anchor-b", 9_100))
	expectStatus(t, w, http.StatusCreated)
	id := decode(t, w)["id"]

	w = api.do(t, http.MethodGet, "/api/v1/quotes/2", "anyone", nil)
	expectStatus(t, w, http.StatusOK)
	if got := decode(t, w)["id"]; got != id {
		t.Fatalf("quote id %v, want %v", got, id)
	}

	w = api.do(t, http.MethodPost, "/api/v1/rates/compare", "anyone", gin.H{
		"base_asset": "USD", "quote_asset": "EUR", "amount": 100, "anchors": []string{"anchor-a", "anchor-b"},
	})
	expectStatus(t, w, http.StatusOK)
	best, _ := decode(t, w)["best"].(map[string]any)
	if best["anchor"] != "anchor-b" {
		t.Fatalf("best anchor = %v, want anchor-b", best["anchor"])
	}

	w = api.do(t, http.MethodPost, "/api/v1/rates/compare", "anyone", gin.H{
		"base_asset": "USD", "quote_asset": "JPY", "amount": 100, "anchors": []string{"anchor-a"},
	})
	expectError(t, w, http.StatusNotFound, "NoQuotesAvailable")
}

func TestTransactionIntentRoutes(t *testing.T) {
	api := newAPI(t)
	api.registerAnchor(t, "anchor-a")
	expectStatus(t, api.do(t, http.MethodPost, "/api/v1/quotes", "anchor-a", gin.H{
		"anchor": "anchor-a", "base_asset": "USD", "quote_asset": "EUR",
		"rate": 9_300, "fee_bps": 20, "min_amount": 1, "max_amount": 1_000_000,
		"valid_until": 1_700_000_120,
	}), http.StatusCreated)

	intent := func(op string, quoteID int) gin.H {
		return gin.H{
			"anchor":   "anchor-a",
			"request":  gin.H{"base_asset": "USD", "quote_asset": "EUR", "amount": 500, "operation": op},
			"quote_id": quoteID,
		}
	}
	w := api.do(t, http.MethodPost, "/api/v1/intents", "anchor-a", intent("deposits", 1))
	expectStatus(t, w, http.StatusCreated)
	body := decode(t, w)
	if body["id"] != float64(1) || body["has_quote"] != true || body["expires_at"] != float64(1_700_000_120) {
		t.Fatalf("unexpected intent %v", body)
	}
	if req, _ := body["request"].(map[string]any); req["operation"] != "deposits" {
		t.Fatalf("operation = %v", req["operation"])
	}

	w = api.do(t, http.MethodGet, "/api/v1/intents/1", "anyone", nil)
	expectStatus(t, w, http.StatusOK)
	if got := decode(t, w)["rate"]; got != float64(9_300) {
		t.Fatalf("rate = %v", got)
	}

	expectError(t, api.do(t, http.MethodGet, "/api/v1/intents/9", "anyone", nil),
		http.StatusNotFound, "IntentNotFound")
	expectError(t, api.do(t, http.MethodPost, "/api/v1/intents", "anchor-a", intent("quotes", 0)),
		http.StatusBadRequest, "InvalidServiceType")
	expectError(t, api.do(t, http.MethodPost, "/api/v1/intents", "anchor-a", intent("withdrawals", 0)),
		http.StatusBadRequest, "InvalidServiceType")

	kyc := intent("deposits", 0)
	kyc["require_kyc"] = true
	expectError(t, api.do(t, http.MethodPost, "/api/v1/intents", "anchor-a", kyc),
		http.StatusBadRequest, "ComplianceNotMet")
}

func TestErrorMapping(t *testing.T) {
	api := newAPI(t)

	expectError(t, api.do(t, http.MethodPost, "/api/v1/attestors", "mallory", gin.H{"id": "x"}),
		http.StatusForbidden, "Unauthorized")

	api.registerAnchor(t, "anchor-a")
	expectError(t, api.do(t, http.MethodPost, "/api/v1/attestors", "admin", gin.H{"id": "anchor-a"}),
		http.StatusConflict, "AlreadyRegistered")

	expectError(t, api.do(t, http.MethodPut, "/api/v1/attestors/anchor-a/services", "anchor-a",
		gin.H{"services": []string{"teleport"}}), http.StatusBadRequest, "InvalidServiceType")

	expectStatus(t, api.do(t, http.MethodPost, "/api/v1/attestors/anchor-a/revoke", "admin", nil, handler.SessionHeader, "abc"),
		http.StatusBadRequest)

	expectError(t, api.do(t, http.MethodPost, "/api/v1/attestors/anchor-a/revoke", "admin", nil, handler.SessionHeader, "42"),
		http.StatusNotFound, "SessionNotFound")

	expectError(t, api.do(t, http.MethodGet, "/api/v1/fallback/select", "admin", nil),
		http.StatusBadRequest, "InvalidConfig")
}

func TestFallbackRoutes(t *testing.T) {
	api := newAPI(t)

	cfg := gin.H{"anchor_order": []string{"anchor-a", "anchor-b"}, "max_retries": 1, "failure_threshold": 1}
	expectStatus(t, api.do(t, http.MethodPut, "/api/v1/fallback/config", "admin", cfg), http.StatusOK)

	w := api.do(t, http.MethodGet, "/api/v1/fallback/select?failed=anchor-a", "anyone", nil)
	expectStatus(t, w, http.StatusOK)
	if got := decode(t, w)["anchor"]; got != "anchor-b" {
		t.Fatalf("select = %v, want anchor-b", got)
	}

	expectError(t, api.do(t, http.MethodPost, "/api/v1/fallback/anchors/anchor-b/failure", "anchor-b", nil),
		http.StatusForbidden, "Unauthorized")

	w = api.do(t, http.MethodPost, "/api/v1/fallback/anchors/anchor-b/failure", "admin", nil)
	expectStatus(t, w, http.StatusOK)
	if down := decode(t, w)["is_down"]; down != true {
		t.Fatalf("is_down = %v", down)
	}
	w = api.do(t, http.MethodGet, "/api/v1/fallback/select?failed=anchor-a", "anyone", nil)
	expectStatus(t, w, http.StatusOK)
	if got := decode(t, w)["anchor"]; got != "anchor-a" {
		t.Fatalf("select with only anchor-a up = %v, want anchor-a", got)
	}

	expectStatus(t, api.do(t, http.MethodPost, "/api/v1/fallback/anchors/anchor-a/failure", "admin", nil), http.StatusOK)
	expectError(t, api.do(t, http.MethodGet, "/api/v1/fallback/select?failed=anchor-a", "anyone", nil),
		http.StatusServiceUnavailable, "NoAnchorsAvailable")

	expectStatus(t, api.do(t, http.MethodPost, "/api/v1/fallback/anchors/anchor-b/success", "admin", nil), http.StatusOK)
	w = api.do(t, http.MethodGet, "/api/v1/fallback/anchors/anchor-b", "anyone", nil)
	expectStatus(t, w, http.StatusOK)
	if down := decode(t, w)["is_down"]; down != false {
		t.Fatalf("is_down after success = %v", down)
	}
}

func TestQuoteFallback_probeReroutes(t *testing.T) {
	api := newAPI(t, func(h *handler.Handler) {
		h.SetProbe(func(_ context.Context, anchor string) error {
			if anchor == "anchor-a" {
				return io.ErrUnexpectedEOF
			}
			return nil
		})
	})
	api.registerAnchor(t, "anchor-a")
	api.registerAnchor(t, "anchor-b")
	cfg := gin.H{"anchor_order": []string{"anchor-a", "anchor-b"}, "max_retries": 1, "failure_threshold": 3}
	expectStatus(t, api.do(t, http.MethodPut, "/api/v1/fallback/config", "admin", cfg), http.StatusOK)

	w := api.do(t, http.MethodPost, "/api/v1/quotes/fallback", "admin", gin.H{
		"base_asset": "USD", "quote_asset": "EUR", "rate": 9_000,
		"min_amount": 1, "max_amount": 10, "valid_until": 1_700_003_600,
	})
	expectStatus(t, w, http.StatusCreated)
	if got := decode(t, w)["anchor"]; got != "anchor-b" {
		t.Fatalf("quote anchor = %v, want anchor-b", got)
	}

	w = api.do(t, http.MethodGet, "/api/v1/fallback/anchors/anchor-a", "anyone", nil)
	if n := decode(t, w)["failure_count"]; n != float64(1) {
		t.Fatalf("anchor-a failure_count = %v, want 1", n)
	}
}

func TestCredentialRoutes_neverReturnCiphertext(t *testing.T) {
	api := newAPI(t)
	api.registerAnchor(t, "anchor-a")

	sealed := bytes.Repeat([]byte{0x5a}, 40)
	w := api.do(t, http.MethodPut, "/api/v1/attestors/anchor-a/credentials/api_key", "admin",
		gin.H{"encrypted_value": sealed})
	expectStatus(t, w, http.StatusCreated)
	if _, ok := decode(t, w)["encrypted_value"]; ok {
		t.Fatal("store response leaks ciphertext")
	}

	w = api.do(t, http.MethodGet, "/api/v1/attestors/anchor-a/credentials/api_key", "anyone", nil)
	expectStatus(t, w, http.StatusOK)
	got := decode(t, w)
	if _, ok := got["encrypted_value"]; ok {
		t.Fatal("get response leaks ciphertext")
	}
	if got["type"] != "api_key" {
		t.Fatalf("type = %v", got["type"])
	}

	expectStatus(t, api.do(t, http.MethodGet, "/api/v1/attestors/anchor-a/credentials/api_key/status", "anyone", nil), http.StatusOK)
	expectError(t, api.do(t, http.MethodGet, "/api/v1/attestors/anchor-a/credentials/carrier_pigeon", "anyone", nil),
		http.StatusBadRequest, "InvalidCredentialFormat")
	expectError(t, api.do(t, http.MethodPut, "/api/v1/attestors/anchor-a/credentials/api_key", "admin",
		gin.H{"encrypted_value": []byte("short")}), http.StatusBadRequest, "InvalidCredentialFormat")

	expectStatus(t, api.do(t, http.MethodPost, "/api/v1/attestors/anchor-a/credentials/api_key/revoke", "admin", nil), http.StatusOK)
	expectError(t, api.do(t, http.MethodGet, "/api/v1/attestors/anchor-a/credentials/api_key/rotation", "anyone", nil),
		http.StatusNotFound, "CredentialNotFound")
}

func TestSessionsAndAudit(t *testing.T) {
	api := newAPI(t)

	w := api.do(t, http.MethodPost, "/api/v1/sessions", "admin", nil)
	expectStatus(t, w, http.StatusCreated)
	if id := decode(t, w)["id"]; id != float64(1) {
		t.Fatalf("session id = %v", id)
	}

	expectStatus(t, api.do(t, http.MethodPost, "/api/v1/attestors", "admin", gin.H{"id": "anchor-a"}, handler.SessionHeader, "1"),
		http.StatusCreated)

	w = api.do(t, http.MethodGet, "/api/v1/sessions/1", "anyone", nil)
	expectStatus(t, w, http.StatusOK)
	if n := decode(t, w)["operation_count"]; n != float64(1) {
		t.Fatalf("operation_count = %v, want 1", n)
	}

	w = api.do(t, http.MethodGet, "/api/v1/audit?limit=10", "anyone", nil)
	expectStatus(t, w, http.StatusOK)
	if n := decode(t, w)["count"]; n != float64(2) {
		t.Fatalf("audit count = %v, want 2", n)
	}

	w = api.do(t, http.MethodGet, "/api/v1/audit/entries/2", "anyone", nil)
	expectStatus(t, w, http.StatusOK)
	if k := decode(t, w)["kind"]; k != service.KindRegister {
		t.Fatalf("entry kind = %v", k)
	}
	expectError(t, api.do(t, http.MethodGet, "/api/v1/audit/entries/3", "anyone", nil), http.StatusNotFound, "AuditLogNotFound")

	w = api.do(t, http.MethodGet, "/api/v1/audit/verify", "anyone", nil)
	if v := decode(t, w)["valid"]; v != true {
		t.Fatalf("valid = %v", v)
	}

	w = api.do(t, http.MethodGet, "/api/v1/audit/head", "anyone", nil)
	if n := decode(t, w)["length"]; n != float64(2) {
		t.Fatalf("head length = %v", n)
	}

	w = api.do(t, http.MethodGet, "/api/v1/audit/export", "anyone", nil)
	expectStatus(t, w, http.StatusOK)
	if ct := w.Header().Get("Content-Type"); ct != "application/zstd" {
		t.Fatalf("content type = %q", ct)
	}
	if w.Body.Len() == 0 {
		t.Fatal("empty snapshot")
	}
}

func TestRateLimiter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	api := newAPI(t, func(h *handler.Handler) { h.SetRateLimiter(handler.RateLimiter(ctx, 1, 1)) })

	expectStatus(t, api.do(t, http.MethodGet, "/api/v1/audit/head", "alice", nil), http.StatusOK)
	w := api.do(t, http.MethodGet, "/api/v1/audit/head", "alice", nil)
	expectStatus(t, w, http.StatusTooManyRequests)
	if w.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}

	// Buckets are per caller.
	expectStatus(t, api.do(t, http.MethodGet, "/api/v1/audit/head", "bob", nil), http.StatusOK)
}

func TestMetricsSink(t *testing.T) {
	api := newAPI(t)
	handler.MetricsSink{}.Publish(context.Background(), events.New(events.TypeAnchorDown, time.Now(), nil))
	api.registerAnchor(t, "anchor-m")

	w := api.do(t, http.MethodGet, "/metrics", "", nil)
	expectStatus(t, w, http.StatusOK)
	for _, want := range []string{
		`anchorkit_events_total{type="attestor.registered"}`,
		"anchorkit_audit_entries_total",
		"anchorkit_anchors_down",
	} {
		if !strings.Contains(w.Body.String(), want) {
			t.Errorf("metrics output missing %s", want)
		}
	}
}
