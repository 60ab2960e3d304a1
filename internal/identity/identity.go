// Package identity implements the anchorkit caller-identity layer.
//
// It provides:
//   - Static        authorization oracle backed by configured admin and caller sets
//   - TokenIssuer   issues and verifies HS256 caller tokens
//   - Authenticate  Gin middleware resolving the caller from a SPIFFE peer
//     certificate or a Bearer caller token
//   - CheckAdminSecret  bcrypt comparison guarding admin token issuance
package identity
