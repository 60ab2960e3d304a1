package service

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/jmerrifield20/anchorkit/internal/anchor/model"
	"github.com/jmerrifield20/anchorkit/internal/events"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// APIKeyHeader carries ApiKey credentials.
const APIKeyHeader = "X-API-Key"

// ErrCredentialClosed is returned when a runtime credential is used after the
// operation it was injected for has returned.
var ErrCredentialClosed = errors.New("runtime credential used outside its scope")

type injectPayload struct {
	Attestor string               `json:"attestor"`
	Type     model.CredentialType `json:"type"`
	Endpoint string               `json:"endpoint"`
}

// RuntimeCredential is a transient credential bound to one endpoint. It is
// valid only inside the function passed to Inject and must not be retained.
type RuntimeCredential struct {
	Attestor string
	Type     model.CredentialType
	Endpoint *url.URL

	mu     sync.Mutex
	secret []byte
	closed bool
}

func (c *RuntimeCredential) value() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrCredentialClosed
	}
	return c.secret, nil
}

// close zeroes the secret and disables the handle.
func (c *RuntimeCredential) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.secret)
	c.secret = nil
	c.closed = true
}

// Authorize adds the credential to req. The request must target the
// credential's endpoint host.
func (c *RuntimeCredential) Authorize(req *http.Request) error {
	secret, err := c.value()
	if err != nil {
		return err
	}
	if req.URL == nil || !strings.EqualFold(req.URL.Host, c.Endpoint.Host) {
		return fmt.Errorf("credential for %s cannot authorize a request to %s", c.Endpoint.Host, req.URL.Host)
	}
	switch c.Type {
	case model.CredentialAPIKey:
		req.Header.Set(APIKeyHeader, string(secret))
	case model.CredentialBearerToken:
		req.Header.Set("Authorization", "Bearer "+string(secret))
	case model.CredentialBasicAuth:
		user, pass, ok := bytes.Cut(secret, []byte(":"))
		if !ok {
			return errors.New("basic auth credential must be user:password")
		}
		req.SetBasicAuth(string(user), string(pass))
	case model.CredentialOAuth2:
		c.token(secret).SetAuthHeader(req)
	case model.CredentialMutualTLS:
		return errors.New("mutual TLS credentials authenticate the connection; use Certificate")
	default:
		return fmt.Errorf("unsupported credential type %s", c.Type)
	}
	return nil
}

// Client returns an HTTP client that authenticates every request with the
// credential. OAuth2 credentials use an oauth2 transport; mutual TLS
// credentials present the client certificate.
func (c *RuntimeCredential) Client(base *http.Client) (*http.Client, error) {
	secret, err := c.value()
	if err != nil {
		return nil, err
	}
	if base == nil {
		base = http.DefaultClient
	}
	client := *base
	switch c.Type {
	case model.CredentialOAuth2:
		client.Transport = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(c.token(secret)),
			Base:   base.Transport,
		}
	case model.CredentialMutualTLS:
		cert, err := c.Certificate()
		if err != nil {
			return nil, err
		}
		tr := http.DefaultTransport.(*http.Transport).Clone()
		tr.TLSClientConfig = &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
		client.Transport = tr
	default:
		client.Transport = &authorizingTransport{cred: c, base: base.Transport}
	}
	return &client, nil
}

// Certificate parses a MutualTLS credential holding PEM certificate and key.
func (c *RuntimeCredential) Certificate() (tls.Certificate, error) {
	secret, err := c.value()
	if err != nil {
		return tls.Certificate{}, err
	}
	if c.Type != model.CredentialMutualTLS {
		return tls.Certificate{}, fmt.Errorf("%s credential holds no certificate", c.Type)
	}
	cert, err := tls.X509KeyPair(secret, secret)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("parse client certificate: %w", err)
	}
	return cert, nil
}

func (c *RuntimeCredential) token(secret []byte) *oauth2.Token {
	return &oauth2.Token{AccessToken: string(secret), TokenType: "Bearer"}
}

type authorizingTransport struct {
	cred *RuntimeCredential
	base http.RoundTripper
}

func (t *authorizingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	r := req.Clone(req.Context())
	if err := t.cred.Authorize(r); err != nil {
		return nil, err
	}
	return base.RoundTrip(r)
}

// Inject builds a runtime credential from a caller-supplied secret, records
// that the injection happened, and runs fn with it. The secret is never
// persisted or logged; its bytes are zeroed when Inject returns, whether or
// not fn succeeds. The caller must be the attestor or an admin.
func (e *Engine) Inject(ctx context.Context, call Call, attestor string, t model.CredentialType, endpoint string, secret []byte, fn func(context.Context, *RuntimeCredential) error) error {
	defer clear(secret)

	if !t.Valid() {
		return model.Errorf(model.ErrInvalidCredentialFormat, "unknown credential type %d", uint8(t))
	}
	if err := model.ValidateEndpointURL(endpoint); err != nil {
		return err
	}
	if err := t.CheckPlaintext(secret); err != nil {
		return err
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return model.Errorf(model.ErrInvalidEndpointFormat, "%v", err)
	}

	if err := e.recordInjection(ctx, call, injectPayload{Attestor: attestor, Type: t, Endpoint: endpoint}); err != nil {
		return err
	}

	cred := &RuntimeCredential{Attestor: attestor, Type: t, Endpoint: u, secret: secret}
	defer cred.close()
	return fn(ctx, cred)
}

func (e *Engine) recordInjection(ctx context.Context, call Call, in injectPayload) error {
	_, err := e.mutate(ctx, call, KindInjectCredential, in, func(o *op) (string, error) {
		if err := e.requireSelfOrAdmin(call, in.Attestor); err != nil {
			return "", err
		}
		if _, err := activeAttestor(o.tx, in.Attestor); err != nil {
			return "", err
		}
		ev := credentialEvent(in.Attestor, in.Type)
		ev["endpoint"] = in.Endpoint
		o.emit(events.TypeCredentialInjected, ev)
		return "injected", nil
	})
	if err == nil {
		e.logger.Info("credential injected",
			zap.String("attestor", in.Attestor),
			zap.Stringer("type", in.Type),
			zap.String("endpoint", in.Endpoint),
		)
	}
	return err
}
