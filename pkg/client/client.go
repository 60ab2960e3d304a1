package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// SessionHeader carries the audit session id of a mutating request.
const SessionHeader = "X-Session-ID"

// APIError is a domain error returned by the server.
type APIError struct {
	Status  int    `json:"-"`
	Code    int    `json:"code"`
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("server error %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("%s (code %d): %s", e.Name, e.Code, e.Message)
}

// ErrorCode returns the domain error code carried by err, or 0.
func ErrorCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return 0
}

// Attestor mirrors the server's attestor record.
type Attestor struct {
	ID           string   `json:"id"`
	Registered   bool     `json:"registered"`
	Revoked      bool     `json:"revoked"`
	Services     []string `json:"services"`
	Assets       []string `json:"assets"`
	PublicKey    string   `json:"public_key,omitempty"`
	RegisteredAt int64    `json:"registered_at"`
	UpdatedAt    int64    `json:"updated_at"`
}

// Endpoint is an attestor's service URL.
type Endpoint struct {
	Attestor  string `json:"attestor"`
	URL       string `json:"url"`
	UpdatedAt int64  `json:"updated_at"`
}

// AttestationRequest is the body of SubmitAttestation.
type AttestationRequest struct {
	Issuer      string `json:"issuer"`
	Subject     string `json:"subject"`
	Timestamp   int64  `json:"timestamp"`
	PayloadHash string `json:"payload_hash"`
	Signature   string `json:"signature,omitempty"`
	RequestID   string `json:"request_id,omitempty"`
}

// Attestation is a stored attestation.
type Attestation struct {
	ID uint64 `json:"id"`
	AttestationRequest
	SubmittedAt int64 `json:"submitted_at"`
}

// QuoteRequest is the body of SubmitQuote.
type QuoteRequest struct {
	Anchor     string `json:"anchor,omitempty"`
	BaseAsset  string `json:"base_asset"`
	QuoteAsset string `json:"quote_asset"`
	Rate       uint64 `json:"rate"`
	FeeBps     uint32 `json:"fee_bps"`
	MinAmount  uint64 `json:"min_amount"`
	MaxAmount  uint64 `json:"max_amount"`
	ValidUntil int64  `json:"valid_until"`
	Signature  string `json:"signature,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
}

// Quote is a stored quote.
type Quote struct {
	ID          uint64 `json:"id"`
	Anchor      string `json:"anchor"`
	BaseAsset   string `json:"base_asset"`
	QuoteAsset  string `json:"quote_asset"`
	Rate        uint64 `json:"rate"`
	FeeBps      uint32 `json:"fee_bps"`
	MinAmount   uint64 `json:"min_amount"`
	MaxAmount   uint64 `json:"max_amount"`
	ValidUntil  int64  `json:"valid_until"`
	SubmittedAt int64  `json:"submitted_at"`
}

// RateRequest asks for the best quote among anchors.
type RateRequest struct {
	BaseAsset  string   `json:"base_asset"`
	QuoteAsset string   `json:"quote_asset"`
	Amount     uint64   `json:"amount"`
	Anchors    []string `json:"anchors"`
}

// RateComparison is the result of CompareRates.
type RateComparison struct {
	Best       Quote   `json:"best"`
	Quotes     []Quote `json:"quotes"`
	ComparedAt int64   `json:"compared_at"`
}

// TransactionRequest is the deposit or withdrawal an intent covers.
// Operation is "deposits" or "withdrawals".
type TransactionRequest struct {
	BaseAsset  string `json:"base_asset"`
	QuoteAsset string `json:"quote_asset"`
	Amount     uint64 `json:"amount"`
	Operation  string `json:"operation"`
}

// IntentRequest builds a transaction intent. QuoteID 0 binds no quote and a
// zero TTL means the server default of 300 seconds.
type IntentRequest struct {
	Anchor     string             `json:"anchor"`
	Request    TransactionRequest `json:"request"`
	QuoteID    uint64             `json:"quote_id,omitempty"`
	RequireKYC bool               `json:"require_kyc,omitempty"`
	TTLSeconds uint64             `json:"ttl_seconds,omitempty"`
}

// TransactionIntent is a recorded, compliance-checked intent.
type TransactionIntent struct {
	ID          uint64             `json:"id"`
	Anchor      string             `json:"anchor"`
	Request     TransactionRequest `json:"request"`
	QuoteID     uint64             `json:"quote_id"`
	HasQuote    bool               `json:"has_quote"`
	Rate        uint64             `json:"rate"`
	FeeBps      uint32             `json:"fee_bps"`
	RequiresKYC bool               `json:"requires_kyc"`
	SessionID   uint64             `json:"session_id"`
	CreatedAt   int64              `json:"created_at"`
	ExpiresAt   int64              `json:"expires_at"`
}

// Session is an audit session.
type Session struct {
	ID             uint64    `json:"id"`
	Initiator      string    `json:"initiator"`
	CreatedAt      time.Time `json:"created_at"`
	OperationCount uint64    `json:"operation_count"`
}

// AuditEntry is one audit log record.
type AuditEntry struct {
	ID             uint64          `json:"id"`
	SessionID      uint64          `json:"session_id"`
	OperationIndex uint64          `json:"operation_index"`
	Timestamp      time.Time       `json:"timestamp"`
	Kind           string          `json:"kind"`
	Actor          string          `json:"actor"`
	Status         string          `json:"status"`
	Result         string          `json:"result"`
	Payload        json.RawMessage `json:"payload"`
	DataHash       string          `json:"data_hash"`
	PrevHash       string          `json:"prev_hash"`
	Hash           string          `json:"hash"`
}

// AuditHead is the audit chain length and root hash.
type AuditHead struct {
	Length uint64 `json:"length"`
	Root   string `json:"root"`
}

// CredentialPolicy is an attestor's rotation policy.
type CredentialPolicy struct {
	Attestor                string `json:"attestor"`
	RotationIntervalSeconds uint64 `json:"rotation_interval_seconds"`
	RequireEncryption       bool   `json:"require_encryption"`
	UpdatedAt               int64  `json:"updated_at"`
}

// Credential is credential metadata; the ciphertext is never returned.
type Credential struct {
	Attestor      string `json:"attestor"`
	Type          string `json:"type"`
	ExpiresAt     int64  `json:"expires_at"`
	CreatedAt     int64  `json:"created_at"`
	LastRotatedAt int64  `json:"last_rotated_at"`
	Revoked       bool   `json:"revoked"`
}

// CredentialStatus is the result of ValidateCredential.
type CredentialStatus struct {
	Attestor         string `json:"attestor"`
	Type             string `json:"type"`
	Expired          bool   `json:"expired"`
	RotationRequired bool   `json:"rotation_required"`
	ExpiresAt        int64  `json:"expires_at"`
	LastRotatedAt    int64  `json:"last_rotated_at"`
}

// FallbackConfig is the ordered anchor list.
type FallbackConfig struct {
	AnchorOrder      []string `json:"anchor_order"`
	MaxRetries       uint32   `json:"max_retries"`
	FailureThreshold uint32   `json:"failure_threshold"`
}

// AnchorState is an anchor's failure counter.
type AnchorState struct {
	Anchor        string `json:"anchor"`
	FailureCount  uint32 `json:"failure_count"`
	LastFailureAt int64  `json:"last_failure_at"`
	IsDown        bool   `json:"is_down"`
}

// Client is the anchorkit SDK entry point.
type Client struct {
	base       string
	httpClient *http.Client
	session    uint64

	// token state, guarded by mu
	mu          sync.Mutex
	bearerToken string
	tokenExpiry time.Time // zero = token was set manually (no auto-refresh)
	caller      string
	adminSecret string
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client, overriding any TLS options.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithBearerToken attaches a pre-obtained caller token to every request.
// The token is never auto-refreshed.
func WithBearerToken(token string) Option {
	return func(c *Client) error {
		c.bearerToken = token
		c.tokenExpiry = time.Time{}
		return nil
	}
}

// WithAdminSecret makes the client mint its own caller tokens for caller via
// POST /auth/token, refreshing them before expiry.
func WithAdminSecret(caller, secret string) Option {
	return func(c *Client) error {
		if caller == "" || secret == "" {
			return errors.New("caller and admin secret are required")
		}
		c.caller = caller
		c.adminSecret = secret
		return nil
	}
}

// WithSession runs every mutating call in the given audit session.
func WithSession(id uint64) Option {
	return func(c *Client) error {
		c.session = id
		return nil
	}
}

// WithMTLS authenticates with a client certificate, typically an
// X.509-SVID, and trusts the servers signed by caPEM.
func WithMTLS(certPEM, keyPEM, caPEM string) Option {
	return func(c *Client) error {
		cert, err := tls.X509KeyPair([]byte(certPEM), []byte(keyPEM))
		if err != nil {
			return fmt.Errorf("parse mTLS cert/key: %w", err)
		}
		pool := x509.NewCertPool()
		if caPEM != "" && !pool.AppendCertsFromPEM([]byte(caPEM)) {
			return errors.New("failed to parse CA certificate PEM")
		}
		c.httpClient = &http.Client{
			Transport: &http.Transport{TLSClientConfig: &tls.Config{
				Certificates: []tls.Certificate{cert},
				RootCAs:      pool,
				MinVersion:   tls.VersionTLS13,
			}},
			Timeout: 10 * time.Second,
		}
		return nil
	}
}

// New creates a Client for the server at base, e.g. "http://localhost:8080".
//
//	c, err := client.New("https://anchord.internal:8443",
//	    client.WithAdminSecret("ops", os.Getenv("ANCHORKIT_ADMIN_SECRET")),
//	)
func New(base string, opts ...Option) (*Client, error) {
	c := &Client{
		base:       strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// InSession returns a copy of c whose mutating calls run in session id. The
// copy shares the underlying HTTP client but not the token cache.
func (c *Client) InSession(id uint64) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &Client{
		base:        c.base,
		httpClient:  c.httpClient,
		session:     id,
		bearerToken: c.bearerToken,
		tokenExpiry: c.tokenExpiry,
		caller:      c.caller,
		adminSecret: c.adminSecret,
	}
}

// FetchToken exchanges the admin secret for a caller token and caches it.
// Requires WithAdminSecret.
func (c *Client) FetchToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshLocked(ctx)
}

func (c *Client) refreshLocked(ctx context.Context) (string, error) {
	if c.adminSecret == "" {
		return "", errors.New("no admin secret configured")
	}
	body, err := json.Marshal(map[string]string{"caller": c.caller, "admin_secret": c.adminSecret})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/v1/auth/token", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := c.send(req, &payload); err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}

	// Refresh 60 s before actual expiry to avoid clock-skew failures.
	const refreshBuffer = 60 * time.Second
	c.bearerToken = payload.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(payload.ExpiresIn)*time.Second - refreshBuffer)
	return c.bearerToken, nil
}

// token returns the bearer token to attach, refreshing a minted token that is
// close to expiry.
func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bearerToken != "" && (c.tokenExpiry.IsZero() || time.Now().Before(c.tokenExpiry)) {
		return c.bearerToken, nil
	}
	if c.adminSecret == "" {
		return c.bearerToken, nil
	}
	return c.refreshLocked(ctx)
}

// call sends a JSON request to path and decodes the response into out.
func (c *Client) call(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+"/api/v1"+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.session != 0 && method != http.MethodGet {
		req.Header.Set(SessionHeader, strconv.FormatUint(c.session, 10))
	}
	tok, err := c.token(ctx)
	if err != nil {
		return err
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		if json.Unmarshal(raw, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return apiErr
	}

	switch v := out.(type) {
	case nil:
		return nil
	case *[]byte:
		*v = raw
		return nil
	default:
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
}

func esc(s string) string { return url.PathEscape(s) }

// ── Attestors ───────────────────────────────────────────────────────────────

// RegisterAttestor registers id, optionally with a hex BLS public key.
func (c *Client) RegisterAttestor(ctx context.Context, id, publicKey string) (*Attestor, error) {
	var out Attestor
	err := c.call(ctx, http.MethodPost, "/attestors", map[string]string{"id": id, "public_key": publicKey}, &out)
	return &out, err
}

// GetAttestor fetches an attestor record.
func (c *Client) GetAttestor(ctx context.Context, id string) (*Attestor, error) {
	var out Attestor
	err := c.call(ctx, http.MethodGet, "/attestors/"+esc(id), nil, &out)
	return &out, err
}

// RevokeAttestor revokes id.
func (c *Client) RevokeAttestor(ctx context.Context, id string) error {
	return c.call(ctx, http.MethodPost, "/attestors/"+esc(id)+"/revoke", nil, nil)
}

// ConfigureServices replaces the attestor's service set.
func (c *Client) ConfigureServices(ctx context.Context, id string, services []string) error {
	return c.call(ctx, http.MethodPut, "/attestors/"+esc(id)+"/services", map[string][]string{"services": services}, nil)
}

// GetServices returns the attestor's configured service types.
func (c *Client) GetServices(ctx context.Context, id string) ([]string, error) {
	var out struct {
		Services []string `json:"services"`
	}
	err := c.call(ctx, http.MethodGet, "/attestors/"+esc(id)+"/services", nil, &out)
	return out.Services, err
}

// SupportsService reports whether the attestor offers service. Unknown
// attestors report false.
func (c *Client) SupportsService(ctx context.Context, id, service string) (bool, error) {
	var out struct {
		Supported bool `json:"supported"`
	}
	err := c.call(ctx, http.MethodGet, "/attestors/"+esc(id)+"/services/"+esc(service), nil, &out)
	return out.Supported, err
}

// SetSupportedAssets replaces the attestor's asset list.
func (c *Client) SetSupportedAssets(ctx context.Context, id string, assets []string) error {
	return c.call(ctx, http.MethodPut, "/attestors/"+esc(id)+"/assets", map[string][]string{"assets": assets}, nil)
}

// GetSupportedAssets returns the attestor's asset list.
func (c *Client) GetSupportedAssets(ctx context.Context, id string) ([]string, error) {
	var out struct {
		Assets []string `json:"assets"`
	}
	err := c.call(ctx, http.MethodGet, "/attestors/"+esc(id)+"/assets", nil, &out)
	return out.Assets, err
}

// IsAssetSupported reports whether the attestor handles asset.
func (c *Client) IsAssetSupported(ctx context.Context, id, asset string) (bool, error) {
	var out struct {
		Supported bool `json:"supported"`
	}
	err := c.call(ctx, http.MethodGet, "/attestors/"+esc(id)+"/assets/"+esc(asset), nil, &out)
	return out.Supported, err
}

// ConfigureEndpoint sets the attestor's endpoint URL.
func (c *Client) ConfigureEndpoint(ctx context.Context, id, endpointURL string) (*Endpoint, error) {
	var out Endpoint
	err := c.call(ctx, http.MethodPut, "/attestors/"+esc(id)+"/endpoint", map[string]string{"url": endpointURL}, &out)
	return &out, err
}

// GetEndpoint returns the attestor's endpoint.
func (c *Client) GetEndpoint(ctx context.Context, id string) (*Endpoint, error) {
	var out Endpoint
	err := c.call(ctx, http.MethodGet, "/attestors/"+esc(id)+"/endpoint", nil, &out)
	return &out, err
}

// RemoveEndpoint deletes the attestor's endpoint.
func (c *Client) RemoveEndpoint(ctx context.Context, id string) error {
	return c.call(ctx, http.MethodDelete, "/attestors/"+esc(id)+"/endpoint", nil, nil)
}

// ── Attestations and quotes ─────────────────────────────────────────────────

// SubmitAttestation records an attestation and returns its id.
func (c *Client) SubmitAttestation(ctx context.Context, req AttestationRequest) (uint64, error) {
	var out struct {
		ID uint64 `json:"id"`
	}
	err := c.call(ctx, http.MethodPost, "/attestations", req, &out)
	return out.ID, err
}

// GetAttestation fetches an attestation.
func (c *Client) GetAttestation(ctx context.Context, id uint64) (*Attestation, error) {
	var out Attestation
	err := c.call(ctx, http.MethodGet, "/attestations/"+strconv.FormatUint(id, 10), nil, &out)
	return &out, err
}

// SubmitQuote records a quote from req.Anchor.
func (c *Client) SubmitQuote(ctx context.Context, req QuoteRequest) (*Quote, error) {
	var out Quote
	err := c.call(ctx, http.MethodPost, "/quotes", req, &out)
	return &out, err
}

// SubmitQuoteWithFallback lets the server pick the anchor from its fallback
// order.
func (c *Client) SubmitQuoteWithFallback(ctx context.Context, req QuoteRequest) (*Quote, error) {
	var out Quote
	err := c.call(ctx, http.MethodPost, "/quotes/fallback", req, &out)
	return &out, err
}

// GetQuote fetches a quote.
func (c *Client) GetQuote(ctx context.Context, id uint64) (*Quote, error) {
	var out Quote
	err := c.call(ctx, http.MethodGet, "/quotes/"+strconv.FormatUint(id, 10), nil, &out)
	return &out, err
}

// CompareRates returns the best live quote among req.Anchors.
func (c *Client) CompareRates(ctx context.Context, req RateRequest) (*RateComparison, error) {
	var out RateComparison
	err := c.call(ctx, http.MethodPost, "/rates/compare", req, &out)
	return &out, err
}

// BuildTransactionIntent records a deposit or withdrawal intent against an
// anchor, optionally binding one of its quotes.
func (c *Client) BuildTransactionIntent(ctx context.Context, req IntentRequest) (*TransactionIntent, error) {
	var out TransactionIntent
	err := c.call(ctx, http.MethodPost, "/intents", req, &out)
	return &out, err
}

// GetTransactionIntent fetches an intent.
func (c *Client) GetTransactionIntent(ctx context.Context, id uint64) (*TransactionIntent, error) {
	var out TransactionIntent
	err := c.call(ctx, http.MethodGet, "/intents/"+strconv.FormatUint(id, 10), nil, &out)
	return &out, err
}

// ── Sessions and audit ──────────────────────────────────────────────────────

// CreateSession opens an audit session.
func (c *Client) CreateSession(ctx context.Context) (*Session, error) {
	var out Session
	err := c.call(ctx, http.MethodPost, "/sessions", nil, &out)
	return &out, err
}

// GetSession fetches a session.
func (c *Client) GetSession(ctx context.Context, id uint64) (*Session, error) {
	var out Session
	err := c.call(ctx, http.MethodGet, "/sessions/"+strconv.FormatUint(id, 10), nil, &out)
	return &out, err
}

// ListAudit returns up to limit entries starting at from.
func (c *Client) ListAudit(ctx context.Context, from uint64, limit int) ([]AuditEntry, error) {
	var out struct {
		Entries []AuditEntry `json:"entries"`
	}
	path := fmt.Sprintf("/audit?from=%d&limit=%d", from, limit)
	err := c.call(ctx, http.MethodGet, path, nil, &out)
	return out.Entries, err
}

// GetAuditEntry fetches one audit entry.
func (c *Client) GetAuditEntry(ctx context.Context, id uint64) (*AuditEntry, error) {
	var out AuditEntry
	err := c.call(ctx, http.MethodGet, "/audit/entries/"+strconv.FormatUint(id, 10), nil, &out)
	return &out, err
}

// AuditHead returns the chain length and root.
func (c *Client) AuditHead(ctx context.Context) (*AuditHead, error) {
	var out AuditHead
	err := c.call(ctx, http.MethodGet, "/audit/head", nil, &out)
	return &out, err
}

// VerifyAudit asks the server to walk the chain. A broken chain is reported
// as an error.
func (c *Client) VerifyAudit(ctx context.Context) error {
	var out struct {
		Valid bool   `json:"valid"`
		Error string `json:"error"`
	}
	if err := c.call(ctx, http.MethodGet, "/audit/verify", nil, &out); err != nil {
		return err
	}
	if !out.Valid {
		return fmt.Errorf("audit chain invalid: %s", out.Error)
	}
	return nil
}

// ExportAudit downloads the zstd-compressed audit snapshot.
func (c *Client) ExportAudit(ctx context.Context) ([]byte, error) {
	var out []byte
	err := c.call(ctx, http.MethodGet, "/audit/export", nil, &out)
	return out, err
}

// ── Credentials ─────────────────────────────────────────────────────────────

// SetCredentialPolicy replaces the attestor's credential policy.
func (c *Client) SetCredentialPolicy(ctx context.Context, attestor string, rotationIntervalSeconds uint64, requireEncryption bool) (*CredentialPolicy, error) {
	var out CredentialPolicy
	body := map[string]any{
		"rotation_interval_seconds": rotationIntervalSeconds,
		"require_encryption":        requireEncryption,
	}
	err := c.call(ctx, http.MethodPut, "/attestors/"+esc(attestor)+"/credential-policy", body, &out)
	return &out, err
}

// GetCredentialPolicy returns the attestor's rotation policy. An attestor
// without one yields an *APIError with code 28.
func (c *Client) GetCredentialPolicy(ctx context.Context, attestor string) (*CredentialPolicy, error) {
	var out CredentialPolicy
	err := c.call(ctx, http.MethodGet, "/attestors/"+esc(attestor)+"/credential-policy", nil, &out)
	return &out, err
}

// GetCredential returns credential metadata.
func (c *Client) GetCredential(ctx context.Context, attestor, credType string) (*Credential, error) {
	var out Credential
	err := c.call(ctx, http.MethodGet, credPath(attestor, credType, ""), nil, &out)
	return &out, err
}

// CheckCredentialRotation reports whether the credential is due for rotation.
func (c *Client) CheckCredentialRotation(ctx context.Context, attestor, credType string) (bool, error) {
	var out struct {
		RotationRequired bool `json:"rotation_required"`
	}
	err := c.call(ctx, http.MethodGet, credPath(attestor, credType, "/rotation"), nil, &out)
	return out.RotationRequired, err
}

// StoreCredential stores an already-encrypted credential value.
func (c *Client) StoreCredential(ctx context.Context, attestor, credType string, encrypted []byte, expiresAt int64) (*Credential, error) {
	var out Credential
	body := map[string]any{"encrypted_value": encrypted, "expires_at": expiresAt}
	err := c.call(ctx, http.MethodPut, credPath(attestor, credType, ""), body, &out)
	return &out, err
}

// RotateCredential replaces a live credential's value.
func (c *Client) RotateCredential(ctx context.Context, attestor, credType string, encrypted []byte, expiresAt int64) (*Credential, error) {
	var out Credential
	body := map[string]any{"encrypted_value": encrypted, "expires_at": expiresAt}
	err := c.call(ctx, http.MethodPost, credPath(attestor, credType, "/rotate"), body, &out)
	return &out, err
}

// RevokeCredential revokes a credential.
func (c *Client) RevokeCredential(ctx context.Context, attestor, credType string) error {
	return c.call(ctx, http.MethodPost, credPath(attestor, credType, "/revoke"), nil, nil)
}

// ValidateCredential checks that a credential is usable now. An expired or
// overdue credential yields an *APIError with code 26 or 27.
func (c *Client) ValidateCredential(ctx context.Context, attestor, credType string) (*CredentialStatus, error) {
	var out CredentialStatus
	err := c.call(ctx, http.MethodGet, credPath(attestor, credType, "/status"), nil, &out)
	return &out, err
}

func credPath(attestor, credType, suffix string) string {
	return "/attestors/" + esc(attestor) + "/credentials/" + esc(credType) + suffix
}

// ── Fallback ────────────────────────────────────────────────────────────────

// ConfigureFallback replaces the fallback configuration.
func (c *Client) ConfigureFallback(ctx context.Context, cfg FallbackConfig) error {
	return c.call(ctx, http.MethodPut, "/fallback/config", cfg, nil)
}

// GetFallbackConfig fetches the fallback configuration.
func (c *Client) GetFallbackConfig(ctx context.Context) (*FallbackConfig, error) {
	var out FallbackConfig
	err := c.call(ctx, http.MethodGet, "/fallback/config", nil, &out)
	return &out, err
}

// SelectFallbackAnchor returns the next available anchor after failed.
func (c *Client) SelectFallbackAnchor(ctx context.Context, failed string) (string, error) {
	var out struct {
		Anchor string `json:"anchor"`
	}
	err := c.call(ctx, http.MethodGet, "/fallback/select?failed="+url.QueryEscape(failed), nil, &out)
	return out.Anchor, err
}

// AnchorState fetches an anchor's failure counter.
func (c *Client) AnchorState(ctx context.Context, anchor string) (*AnchorState, error) {
	var out AnchorState
	err := c.call(ctx, http.MethodGet, "/fallback/anchors/"+esc(anchor), nil, &out)
	return &out, err
}

// RecordFailure counts a failure against anchor.
func (c *Client) RecordFailure(ctx context.Context, anchor string) (*AnchorState, error) {
	var out AnchorState
	err := c.call(ctx, http.MethodPost, "/fallback/anchors/"+esc(anchor)+"/failure", nil, &out)
	return &out, err
}

// RecordSuccess clears anchor's failure counter.
func (c *Client) RecordSuccess(ctx context.Context, anchor string) (*AnchorState, error) {
	var out AnchorState
	err := c.call(ctx, http.MethodPost, "/fallback/anchors/"+esc(anchor)+"/success", nil, &out)
	return &out, err
}
