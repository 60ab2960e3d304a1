package identity_test

import (
	"crypto/tls"
	"crypto/x509"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/anchorkit/internal/identity"
	"github.com/spiffe/go-spiffe/v2/spiffeid"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestTokenIssuer(t *testing.T, ttl time.Duration) *identity.TokenIssuer {
	t.Helper()
	ti, err := identity.NewTokenIssuer(testSecret, "https://anchorkit.test", ttl)
	if err != nil {
		t.Fatal(err)
	}
	return ti
}

func TestNewTokenIssuer_shortSecret(t *testing.T) {
	if _, err := identity.NewTokenIssuer([]byte("short"), "iss", 0); err == nil {
		t.Error("expected error for short secret")
	}
}

func TestTokenIssuer_Verify_valid(t *testing.T) {
	ti := newTestTokenIssuer(t, time.Hour)

	token, err := ti.Issue("anchor-a", "")
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}
	if parts := strings.Split(token, "."); len(parts) != 3 {
		t.Errorf("expected 3-part JWT, got %d parts", len(parts))
	}

	claims, err := ti.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if claims.Caller != "anchor-a" || claims.Subject != "anchor-a" {
		t.Errorf("claims: got caller=%q subject=%q", claims.Caller, claims.Subject)
	}
}

func TestTokenIssuer_Verify_expired(t *testing.T) {
	ti := newTestTokenIssuer(t, time.Nanosecond)
	token, err := ti.Issue("anchor-a", "")
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(time.Millisecond)
	if _, err := ti.Verify(token); err == nil {
		t.Error("expected error for expired token")
	}
}

func TestTokenIssuer_Verify_wrongSecret(t *testing.T) {
	ti := newTestTokenIssuer(t, time.Hour)
	other, _ := identity.NewTokenIssuer([]byte("ffffffffffffffffffffffffffffffff"), "https://anchorkit.test", time.Hour)

	token, _ := other.Issue("anchor-a", "")
	if _, err := ti.Verify(token); err == nil {
		t.Error("expected error for token signed with another secret")
	}
}

func TestTokenIssuer_Verify_wrongIssuer(t *testing.T) {
	ti := newTestTokenIssuer(t, time.Hour)
	other, _ := identity.NewTokenIssuer(testSecret, "https://elsewhere.test", time.Hour)

	token, _ := other.Issue("anchor-a", "")
	if _, err := ti.Verify(token); err == nil {
		t.Error("expected error for foreign issuer")
	}
}

func TestStatic(t *testing.T) {
	s := identity.NewStatic([]string{"root"}, []string{"anchor-a"})

	cases := []struct {
		id            string
		caller, admin bool
	}{
		{"root", true, true},
		{"anchor-a", true, false},
		{"stranger", false, false},
		{"", false, false},
	}
	for _, tc := range cases {
		if got := s.IsCaller(tc.id); got != tc.caller {
			t.Errorf("IsCaller(%q) = %v, want %v", tc.id, got, tc.caller)
		}
		if got := s.IsAdmin(tc.id); got != tc.admin {
			t.Errorf("IsAdmin(%q) = %v, want %v", tc.id, got, tc.admin)
		}
	}

	s.Update([]string{"root2"}, nil)
	if s.IsAdmin("root") {
		t.Error("old admin survived Update")
	}
	if !s.IsCaller("stranger") {
		t.Error("empty caller set should accept any identity")
	}
}

func TestCheckAdminSecret(t *testing.T) {
	hash, err := identity.HashAdminSecret("hunter2-but-longer")
	if err != nil {
		t.Fatal(err)
	}
	if err := identity.CheckAdminSecret(hash, "hunter2-but-longer"); err != nil {
		t.Errorf("matching secret: %v", err)
	}
	if err := identity.CheckAdminSecret(hash, "wrong"); err == nil {
		t.Error("expected mismatch")
	}
	if err := identity.CheckAdminSecret("", "anything"); err == nil {
		t.Error("expected mismatch with no configured hash")
	}
}

func newAuthRouter(ti *identity.TokenIssuer, td spiffeid.TrustDomain) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/whoami", identity.Authenticate(ti, td), func(c *gin.Context) {
		c.String(http.StatusOK, identity.CallerFrom(c))
	})
	return r
}

func TestAuthenticate_bearer(t *testing.T) {
	ti := newTestTokenIssuer(t, time.Hour)
	router := newAuthRouter(ti, spiffeid.TrustDomain{})

	token, _ := ti.Issue("anchor-a", "")
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK || w.Body.String() != "anchor-a" {
		t.Errorf("got %d %q", w.Code, w.Body.String())
	}
}

func TestAuthenticate_missingToken(t *testing.T) {
	router := newAuthRouter(newTestTokenIssuer(t, time.Hour), spiffeid.TrustDomain{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/whoami", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestAuthenticate_spiffePeer(t *testing.T) {
	td := spiffeid.RequireTrustDomainFromString("anchors.example")
	router := newAuthRouter(nil, td)

	peer := func(raw string) *tls.ConnectionState {
		u, _ := url.Parse(raw)
		return &tls.ConnectionState{PeerCertificates: []*x509.Certificate{{URIs: []*url.URL{u}}}}
	}

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.TLS = peer("spiffe://anchors.example/anchor-a")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Body.String() != "spiffe://anchors.example/anchor-a" {
		t.Errorf("member peer: got %d %q", w.Code, w.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.TLS = peer("spiffe://other.example/anchor-a")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("foreign trust domain: expected 401, got %d", w.Code)
	}
}
