package model

import (
	"bytes"
	"encoding/pem"
	"fmt"
	"strings"
)

// CredentialType is the authentication scheme a credential serves.
type CredentialType uint8

const (
	CredentialAPIKey      CredentialType = 1
	CredentialBearerToken CredentialType = 2
	CredentialBasicAuth   CredentialType = 3
	CredentialOAuth2      CredentialType = 4
	CredentialMutualTLS   CredentialType = 5
)

// CredentialTypes lists every known credential type.
var CredentialTypes = []CredentialType{
	CredentialAPIKey, CredentialBearerToken, CredentialBasicAuth, CredentialOAuth2, CredentialMutualTLS,
}

func (c CredentialType) String() string {
	switch c {
	case CredentialAPIKey:
		return "api_key"
	case CredentialBearerToken:
		return "bearer_token"
	case CredentialBasicAuth:
		return "basic_auth"
	case CredentialOAuth2:
		return "oauth2"
	case CredentialMutualTLS:
		return "mutual_tls"
	default:
		return fmt.Sprintf("credential(%d)", uint8(c))
	}
}

// MinLength is the minimum acceptable encrypted value length in bytes.
// Unknown types return 0, which Valid rejects separately.
func (c CredentialType) MinLength() int {
	switch c {
	case CredentialAPIKey:
		return 16
	case CredentialBearerToken:
		return 20
	case CredentialBasicAuth:
		return 8
	case CredentialOAuth2:
		return 32
	case CredentialMutualTLS:
		return 64
	default:
		return 0
	}
}

// Valid reports whether c is a known credential type.
func (c CredentialType) Valid() bool { return c.MinLength() > 0 }

// ParseCredentialType parses the name produced by String.
func ParseCredentialType(name string) (CredentialType, error) {
	for _, c := range CredentialTypes {
		if strings.EqualFold(name, c.String()) {
			return c, nil
		}
	}
	return 0, Errorf(ErrInvalidCredentialFormat, "unknown credential type %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (c CredentialType) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, Errorf(ErrInvalidCredentialFormat, "unknown credential type %d", uint8(c))
	}
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *CredentialType) UnmarshalText(b []byte) error {
	v, err := ParseCredentialType(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// CheckFormat reports whether value meets the type's minimum length.
func (c CredentialType) CheckFormat(value []byte) bool {
	return c.Valid() && len(value) > 0 && len(value) >= c.MinLength()
}

// CheckPlaintext validates a runtime secret handed to injection. Unlike
// CheckFormat it sees the decrypted value, so it checks shape rather than
// ciphertext length: any non-empty single-line value for key and token
// types, user:password for BasicAuth, and a PEM certificate plus private key
// for MutualTLS.
func (c CredentialType) CheckPlaintext(secret []byte) error {
	if !c.Valid() {
		return Errorf(ErrInvalidCredentialFormat, "unknown credential type %d", uint8(c))
	}
	if len(secret) == 0 {
		return Errorf(ErrInvalidCredentialFormat, "%s secret is empty", c)
	}
	if c != CredentialMutualTLS && bytes.ContainsAny(secret, "\r\n") {
		return Errorf(ErrInvalidCredentialFormat, "%s secret must be a single line", c)
	}
	switch c {
	case CredentialBasicAuth:
		if user, _, ok := bytes.Cut(secret, []byte(":")); !ok || len(user) == 0 {
			return Errorf(ErrInvalidCredentialFormat, "basic auth secret must be user:password")
		}
	case CredentialMutualTLS:
		var cert, key bool
		for rest := secret; ; {
			var block *pem.Block
			block, rest = pem.Decode(rest)
			if block == nil {
				break
			}
			cert = cert || block.Type == "CERTIFICATE"
			key = key || strings.HasSuffix(block.Type, "PRIVATE KEY")
		}
		if !cert || !key {
			return Errorf(ErrInvalidCredentialFormat, "mutual TLS secret must hold a PEM certificate and private key")
		}
	}
	return nil
}

// DefaultRotationIntervalSeconds is the 30-day interval suggested for new
// policies.
const DefaultRotationIntervalSeconds = 30 * 24 * 60 * 60

// CredentialPolicy governs rotation cadence and the encryption requirement
// for one attestor.
type CredentialPolicy struct {
	Attestor                string `json:"attestor"`
	RotationIntervalSeconds uint64 `json:"rotation_interval_seconds"` // 0 disables interval rotation
	RequireEncryption       bool   `json:"require_encryption"`
	UpdatedAt               int64  `json:"updated_at"`
}

// SecureCredential holds an already-encrypted credential value.
type SecureCredential struct {
	Attestor       string         `json:"attestor"`
	Type           CredentialType `json:"type"`
	EncryptedValue []byte         `json:"encrypted_value"`
	ExpiresAt      int64          `json:"expires_at"` // 0 means never
	CreatedAt      int64          `json:"created_at"`
	LastRotatedAt  int64          `json:"last_rotated_at"`
	Revoked        bool           `json:"revoked"`
}

// IsExpired reports whether the credential has expired at now.
func (c *SecureCredential) IsExpired(now int64) bool {
	return c.ExpiresAt > 0 && now >= c.ExpiresAt
}

// NeedsRotation reports whether the credential must be rotated at now.
// Expiry always applies; the interval applies only under a policy with a
// non-zero interval.
func (c *SecureCredential) NeedsRotation(policy *CredentialPolicy, now int64) bool {
	if c.IsExpired(now) {
		return true
	}
	if policy == nil || policy.RotationIntervalSeconds == 0 {
		return false
	}
	elapsed := now - c.LastRotatedAt
	return elapsed >= 0 && uint64(elapsed) >= policy.RotationIntervalSeconds
}

// CredentialStatus is the outcome of a credential validity check.
type CredentialStatus struct {
	Attestor         string         `json:"attestor"`
	Type             CredentialType `json:"type"`
	Expired          bool           `json:"expired"`
	RotationRequired bool           `json:"rotation_required"`
	ExpiresAt        int64          `json:"expires_at"`
	LastRotatedAt    int64          `json:"last_rotated_at"`
}
