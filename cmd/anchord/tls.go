package main

import (
	"crypto/tls"
	"fmt"
	"path/filepath"

	"github.com/spiffe/go-spiffe/v2/bundle/x509bundle"
	"github.com/spiffe/go-spiffe/v2/spiffeid"
	"github.com/spiffe/go-spiffe/v2/spiffetls/tlsconfig"
	"github.com/spiffe/go-spiffe/v2/svid/x509svid"
)

// spiffeServerConfig loads the daemon's X.509-SVID and trust bundle from dir
// (svid.pem, svid_key.pem, bundle.pem) and requires clients to present an
// SVID from td. The peer's SPIFFE ID then becomes the caller identity.
func spiffeServerConfig(dir string, td spiffeid.TrustDomain) (*tls.Config, error) {
	svid, err := x509svid.Load(filepath.Join(dir, "svid.pem"), filepath.Join(dir, "svid_key.pem"))
	if err != nil {
		return nil, fmt.Errorf("load SVID: %w", err)
	}
	bundle, err := x509bundle.Load(td, filepath.Join(dir, "bundle.pem"))
	if err != nil {
		return nil, fmt.Errorf("load trust bundle: %w", err)
	}
	return tlsconfig.MTLSServerConfig(svid, bundle, tlsconfig.AuthorizeMemberOf(td)), nil
}
