package service_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jmerrifield20/anchorkit/internal/anchor/model"
	"github.com/jmerrifield20/anchorkit/internal/anchor/service"
	"github.com/jmerrifield20/anchorkit/internal/events"
)

func TestInject_scopedAndUnlogged(t *testing.T) {
	h := newHarness(t)
	h.register(t, "X")

	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get(service.APIKeyHeader)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	secret := []byte("super-secret-api-key")
	var leaked *service.RuntimeCredential
	err := h.eng.Inject(ctx, as("X"), "X", model.CredentialAPIKey, srv.URL, secret,
		func(ctx context.Context, c *service.RuntimeCredential) error {
			leaked = c
			client, err := c.Client(srv.Client())
			if err != nil {
				return err
			}
			req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/deposit", nil)
			resp, err := client.Do(req)
			if err != nil {
				return err
			}
			return resp.Body.Close()
		})
	if err != nil {
		t.Fatalf("Inject: %v", err)
	}
	if gotKey != "super-secret-api-key" {
		t.Errorf("server saw key %q", gotKey)
	}
	if !bytes.Equal(secret, make([]byte, len(secret))) {
		t.Error("secret bytes were not zeroed")
	}

	req := httptest.NewRequest(http.MethodGet, srv.URL, nil)
	if err := leaked.Authorize(req); !errors.Is(err, service.ErrCredentialClosed) {
		t.Errorf("use after scope: %v", err)
	}

	entry, err := h.eng.GetAuditLog(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Kind != service.KindInjectCredential {
		t.Fatalf("entry kind %s", entry.Kind)
	}
	if strings.Contains(string(entry.Payload), "super-secret") {
		t.Errorf("audit payload leaks secret: %s", entry.Payload)
	}
	var payload map[string]any
	if err := json.Unmarshal(entry.Payload, &payload); err != nil {
		t.Fatal(err)
	}
	if payload["attestor"] != "X" || payload["type"] != "api_key" || payload["endpoint"] != srv.URL {
		t.Errorf("payload: %v", payload)
	}
	if !containsType(h.events.Events(), events.TypeCredentialInjected) {
		t.Error("no injection event")
	}
}

func TestInject_authorizeSchemes(t *testing.T) {
	h := newHarness(t)
	h.register(t, "X")

	cases := []struct {
		typ    model.CredentialType
		secret string
		check  func(*http.Request) bool
	}{
		{model.CredentialBearerToken, "bearer-token-0123456789", func(r *http.Request) bool {
			return r.Header.Get("Authorization") == "Bearer bearer-token-0123456789"
		}},
		{model.CredentialBasicAuth, "alice:wonderland", func(r *http.Request) bool {
			u, p, ok := r.BasicAuth()
			return ok && u == "alice" && p == "wonderland"
		}},
		// Plaintext pairs are not held to the ciphertext minimum length.
		{model.CredentialBasicAuth, "u:passwd", func(r *http.Request) bool {
			u, p, ok := r.BasicAuth()
			return ok && u == "u" && p == "passwd"
		}},
		{model.CredentialAPIKey, "k-123", func(r *http.Request) bool {
			return r.Header.Get(service.APIKeyHeader) == "k-123"
		}},
		{model.CredentialOAuth2, "oauth-access-token-0123456789abcdef", func(r *http.Request) bool {
			return r.Header.Get("Authorization") == "Bearer oauth-access-token-0123456789abcdef"
		}},
	}
	for _, tc := range cases {
		t.Run(tc.typ.String(), func(t *testing.T) {
			err := h.eng.Inject(ctx, admin, "X", tc.typ, "https://anchor.example", []byte(tc.secret),
				func(_ context.Context, c *service.RuntimeCredential) error {
					req := httptest.NewRequest(http.MethodGet, "https://anchor.example/info", nil)
					if err := c.Authorize(req); err != nil {
						return err
					}
					if !tc.check(req) {
						t.Errorf("headers: %v", req.Header)
					}
					other := httptest.NewRequest(http.MethodGet, "https://evil.example/", nil)
					if c.Authorize(other) == nil {
						t.Error("authorized a request to another host")
					}
					return nil
				})
			if err != nil {
				t.Fatal(err)
			}
		})
	}
}

func TestInject_rejections(t *testing.T) {
	h := newHarness(t)
	h.register(t, "X")
	h.register(t, "Y")
	noop := func(context.Context, *service.RuntimeCredential) error { return nil }

	err := h.eng.Inject(ctx, as("Y"), "X", model.CredentialAPIKey, "https://a.example", []byte("0123456789abcdef"), noop)
	wantErr(t, err, model.ErrUnauthorized)
	for _, bad := range []struct {
		typ    model.CredentialType
		secret string
	}{
		{model.CredentialAPIKey, ""},
		{model.CredentialBearerToken, "token\r\nX-Injected: 1"},
		{model.CredentialBasicAuth, "no-separator"},
		{model.CredentialBasicAuth, ":password-only"},
		{model.CredentialMutualTLS, strings.Repeat("not pem ", 10)},
	} {
		err = h.eng.Inject(ctx, as("X"), "X", bad.typ, "https://a.example", []byte(bad.secret), noop)
		wantErr(t, err, model.ErrInvalidCredentialFormat)
	}
	err = h.eng.Inject(ctx, as("X"), "X", model.CredentialAPIKey, "not a url", []byte("0123456789abcdef"), noop)
	wantErr(t, err, model.ErrInvalidEndpointFormat)

	secret := []byte("0123456789abcdef")
	_ = h.eng.Inject(ctx, as("Y"), "X", model.CredentialAPIKey, "https://a.example", secret, noop)
	if !bytes.Equal(secret, make([]byte, len(secret))) {
		t.Error("secret not zeroed after a rejected injection")
	}
}

func containsType(evts []events.Event, typ string) bool {
	for _, e := range evts {
		if e.Type == typ {
			return true
		}
	}
	return false
}
