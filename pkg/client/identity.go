package client

import (
	"fmt"
	"os"
	"path/filepath"
)

// SVIDBundle holds the PEM material of an X.509-SVID as written by a SPIFFE
// helper: svid.pem, svid_key.pem and bundle.pem.
type SVIDBundle struct {
	// CertPEM is the SVID certificate chain.
	CertPEM string

	// PrivateKeyPEM is the SVID private key. Keep this secret.
	PrivateKeyPEM string

	// BundlePEM holds the trust domain's CA certificates.
	BundlePEM string
}

// LoadSVIDBundle reads svid.pem, svid_key.pem and bundle.pem from dir.
func LoadSVIDBundle(dir string) (*SVIDBundle, error) {
	read := func(name string) (string, error) {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return "", fmt.Errorf("read %s: %w", name, err)
		}
		return string(b), nil
	}

	cert, err := read("svid.pem")
	if err != nil {
		return nil, err
	}
	key, err := read("svid_key.pem")
	if err != nil {
		return nil, err
	}
	bundle, err := read("bundle.pem")
	if err != nil {
		return nil, err
	}
	return &SVIDBundle{CertPEM: cert, PrivateKeyPEM: key, BundlePEM: bundle}, nil
}

// NewFromSVIDDir creates an mTLS-authenticated client from the SVID files in
// dir. Additional options are applied after the TLS setup.
func NewFromSVIDDir(base, dir string, opts ...Option) (*Client, error) {
	b, err := LoadSVIDBundle(dir)
	if err != nil {
		return nil, err
	}
	all := append([]Option{WithMTLS(b.CertPEM, b.PrivateKeyPEM, b.BundlePEM)}, opts...)
	return New(base, all...)
}
