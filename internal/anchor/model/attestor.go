// Package model defines the anchorkit domain types, their validation rules,
// and the stable error codes returned to callers.
package model

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"unicode"
)

// ServiceType is a capability an attestor can offer.
type ServiceType uint8

const (
	ServiceDeposits    ServiceType = 1
	ServiceWithdrawals ServiceType = 2
	ServiceQuotes      ServiceType = 3
	ServiceKYC         ServiceType = 4
)

// ServiceTypes lists every known service type.
var ServiceTypes = []ServiceType{ServiceDeposits, ServiceWithdrawals, ServiceQuotes, ServiceKYC}

func (s ServiceType) String() string {
	switch s {
	case ServiceDeposits:
		return "deposits"
	case ServiceWithdrawals:
		return "withdrawals"
	case ServiceQuotes:
		return "quotes"
	case ServiceKYC:
		return "kyc"
	default:
		return fmt.Sprintf("service(%d)", uint8(s))
	}
}

// Valid reports whether s is a known service type.
func (s ServiceType) Valid() bool {
	switch s {
	case ServiceDeposits, ServiceWithdrawals, ServiceQuotes, ServiceKYC:
		return true
	default:
		return false
	}
}

// ParseServiceType parses the name produced by String.
func ParseServiceType(name string) (ServiceType, error) {
	for _, s := range ServiceTypes {
		if strings.EqualFold(name, s.String()) {
			return s, nil
		}
	}
	return 0, Errorf(ErrInvalidServiceType, "unknown service %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (s ServiceType) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, Errorf(ErrInvalidServiceType, "unknown service %d", uint8(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *ServiceType) UnmarshalText(b []byte) error {
	v, err := ParseServiceType(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ValidateServices rejects an empty list, unknown types and duplicates.
func ValidateServices(services []ServiceType) error {
	if len(services) == 0 {
		return Errorf(ErrInvalidServiceType, "service list is empty")
	}
	seen := make(map[ServiceType]bool, len(services))
	for _, s := range services {
		if !s.Valid() {
			return Errorf(ErrInvalidServiceType, "unknown service %d", uint8(s))
		}
		if seen[s] {
			return Errorf(ErrInvalidServiceType, "duplicate service %s", s)
		}
		seen[s] = true
	}
	return nil
}

const maxIdentityLen = 256

// ValidateIdentity checks that id is usable as an attestor or caller identity.
func ValidateIdentity(id string) error {
	if id == "" {
		return Errorf(ErrInvalidIdentity, "identity is empty")
	}
	if len(id) > maxIdentityLen {
		return Errorf(ErrInvalidIdentity, "identity exceeds %d bytes", maxIdentityLen)
	}
	for _, r := range id {
		if unicode.IsSpace(r) || !unicode.IsPrint(r) {
			return Errorf(ErrInvalidIdentity, "identity %q contains whitespace or control characters", id)
		}
	}
	return nil
}

const maxAssetLen = 12

// ValidateAssetSymbol accepts 1-12 uppercase letters or digits.
func ValidateAssetSymbol(sym string) error {
	if sym == "" || len(sym) > maxAssetLen {
		return Errorf(ErrInvalidAssetSymbol, "asset %q must be 1-%d characters", sym, maxAssetLen)
	}
	for _, r := range sym {
		if !(r >= 'A' && r <= 'Z') && !(r >= '0' && r <= '9') {
			return Errorf(ErrInvalidAssetSymbol, "asset %q must be uppercase alphanumeric", sym)
		}
	}
	return nil
}

// ValidateAssets validates each symbol and rejects duplicates.
func ValidateAssets(assets []string) error {
	seen := make(map[string]bool, len(assets))
	for _, a := range assets {
		if err := ValidateAssetSymbol(a); err != nil {
			return err
		}
		if seen[a] {
			return Errorf(ErrInvalidAssetSymbol, "duplicate asset %s", a)
		}
		seen[a] = true
	}
	return nil
}

// Attestor is a registered identity allowed to submit attestations.
// Attestors are never physically removed; revocation is a flag.
type Attestor struct {
	ID           string        `json:"id"`
	Registered   bool          `json:"registered"`
	Revoked      bool          `json:"revoked"`
	Services     []ServiceType `json:"services"`
	Assets       []string      `json:"assets"`
	PublicKey    string        `json:"public_key,omitempty"` // hex, compressed BLS12-381 G1
	RegisteredAt int64         `json:"registered_at"`
	UpdatedAt    int64         `json:"updated_at"`
}

// Active reports whether the attestor may act.
func (a *Attestor) Active() bool { return a.Registered && !a.Revoked }

// ActiveServices returns the services the attestor currently holds. A revoked
// attestor holds none, although its configured set is kept for re-registration.
func (a *Attestor) ActiveServices() []ServiceType {
	if !a.Active() {
		return []ServiceType{}
	}
	return slices.Clone(a.Services)
}

// ActiveAssets mirrors ActiveServices for asset symbols.
func (a *Attestor) ActiveAssets() []string {
	if !a.Active() {
		return []string{}
	}
	return slices.Clone(a.Assets)
}

// Supports reports whether the attestor currently offers s.
func (a *Attestor) Supports(s ServiceType) bool {
	return a.Active() && slices.Contains(a.Services, s)
}

// SupportsAsset reports whether the attestor currently handles sym.
func (a *Attestor) SupportsAsset(sym string) bool {
	return a.Active() && slices.Contains(a.Assets, sym)
}

// Endpoint is the attestor's service URL, probed by the health checker.
type Endpoint struct {
	Attestor  string `json:"attestor"`
	URL       string `json:"url"`
	UpdatedAt int64  `json:"updated_at"`
}

const (
	minEndpointLen = 8
	maxEndpointLen = 256
)

// ValidateEndpointURL accepts absolute http(s) URLs of 8-256 characters.
func ValidateEndpointURL(raw string) error {
	if len(raw) < minEndpointLen || len(raw) > maxEndpointLen {
		return Errorf(ErrInvalidEndpointFormat, "url length must be %d-%d", minEndpointLen, maxEndpointLen)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Errorf(ErrInvalidEndpointFormat, "%v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Errorf(ErrInvalidEndpointFormat, "scheme must be http or https")
	}
	if u.Host == "" {
		return Errorf(ErrInvalidEndpointFormat, "url has no host")
	}
	return nil
}

// DecodeHex32 decodes a hex string that must hold exactly 32 bytes.
func DecodeHex32(s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 32 {
		return nil, Errorf(ErrInvalidPayloadHash, "payload hash must be 32 bytes of hex")
	}
	return b, nil
}
