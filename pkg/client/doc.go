// Package client is the anchorkit Go SDK.
//
// It wraps the anchord HTTP API: attestor registration, attestation and
// quote submission, rate comparison, audit sessions, credential lifecycle
// and the anchor fallback controls.
//
// # Authentication
//
// Callers authenticate with a bearer token or an X.509-SVID. An operator
// holding the admin secret can let the client mint and refresh its own
// tokens:
//
//	c, err := client.New("http://localhost:8080",
//	    client.WithAdminSecret("ops", os.Getenv("ANCHORKIT_ADMIN_SECRET")),
//	)
//
// A workload with a SPIFFE identity loads its SVID from disk instead:
//
//	c, err := client.NewFromSVIDDir("https://anchord:8443", "/run/spire/svid")
//
// # Sessions
//
// Group related mutations under one audit session:
//
//	s, _ := c.CreateSession(ctx)
//	sc := c.InSession(s.ID)
//	sc.SubmitAttestation(ctx, req)
//
// # Errors
//
// Domain failures come back as *APIError carrying the server's stable error
// code; ErrorCode extracts it:
//
//	if client.ErrorCode(err) == 5 { // ReplayDetected
//	    ...
//	}
package client
