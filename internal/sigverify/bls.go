// Package sigverify verifies attestor signatures over attestation messages
// using BLS12-381 (minimal-pubkey-size variant: 48-byte G1 public keys,
// 96-byte G2 signatures).
package sigverify

import (
	"crypto/rand"
	"errors"
	"fmt"

	blst "github.com/supranational/blst/bindings/go"
)

const (
	// PublicKeySize is the size of a compressed BLS public key in bytes.
	PublicKeySize = 48

	// SignatureSize is the size of a compressed BLS signature in bytes.
	SignatureSize = 96
)

// dst is the domain separation tag for attestation signatures.
var dst = []byte("BLS_SIG_BLS12381G2_XMD:SHA-256_SSWU_RO_NUL_")

var (
	ErrInvalidPublicKey = errors.New("invalid BLS public key")
	ErrInvalidSignature = errors.New("invalid BLS signature")
)

// BLS verifies signatures. It is stateless.
type BLS struct{}

// ValidatePublicKey checks that pk is a valid compressed G1 point.
func (BLS) ValidatePublicKey(pk []byte) error {
	if len(pk) != PublicKeySize {
		return fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidPublicKey, PublicKeySize, len(pk))
	}
	p := new(blst.P1Affine).Uncompress(pk)
	if p == nil || !p.KeyValidate() {
		return ErrInvalidPublicKey
	}
	return nil
}

// Verify checks sig over msg against pk.
func (BLS) Verify(pk, msg, sig []byte) error {
	if len(sig) != SignatureSize || len(pk) != PublicKeySize {
		return ErrInvalidSignature
	}
	s := new(blst.P2Affine).Uncompress(sig)
	if s == nil {
		return ErrInvalidSignature
	}
	p := new(blst.P1Affine).Uncompress(pk)
	if p == nil {
		return ErrInvalidPublicKey
	}
	if !s.Verify(true, p, true, msg, dst) {
		return ErrInvalidSignature
	}
	return nil
}

// KeyPair is a BLS signing key, used by attestors and tests.
type KeyPair struct {
	secret *blst.SecretKey
	public *blst.P1Affine
}

// GenerateKey creates a key pair from a random seed.
func GenerateKey() (*KeyPair, error) {
	var ikm [32]byte
	if _, err := rand.Read(ikm[:]); err != nil {
		return nil, fmt.Errorf("generate random seed: %w", err)
	}
	return KeyFromSeed(ikm[:])
}

// KeyFromSeed derives a key pair from a seed of at least 32 bytes.
func KeyFromSeed(seed []byte) (*KeyPair, error) {
	if len(seed) < 32 {
		return nil, fmt.Errorf("seed must be at least 32 bytes")
	}
	secret := blst.KeyGen(seed)
	if secret == nil {
		return nil, fmt.Errorf("failed to generate BLS key")
	}
	return &KeyPair{secret: secret, public: new(blst.P1Affine).From(secret)}, nil
}

// Sign returns the compressed signature over msg.
func (k *KeyPair) Sign(msg []byte) []byte {
	return new(blst.P2Affine).Sign(k.secret, msg, dst).Compress()
}

// PublicKey returns the compressed public key.
func (k *KeyPair) PublicKey() []byte {
	return k.public.Compress()
}
