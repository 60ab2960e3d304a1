package service

import (
	"context"
	"errors"
	"strconv"

	"github.com/jmerrifield20/anchorkit/internal/anchor/model"
	"github.com/jmerrifield20/anchorkit/internal/anchor/repository"
	"github.com/jmerrifield20/anchorkit/internal/events"
	"github.com/jmerrifield20/anchorkit/internal/store"
	"go.uber.org/zap"
)

type policyPayload struct {
	Attestor                string `json:"attestor"`
	RotationIntervalSeconds uint64 `json:"rotation_interval_seconds"`
	RequireEncryption       bool   `json:"require_encryption"`
}

// credentialPayload carries ciphertext only; plaintext never reaches the
// registry.
type credentialPayload struct {
	Attestor       string               `json:"attestor"`
	Type           model.CredentialType `json:"type"`
	EncryptedValue []byte               `json:"encrypted_value"`
	ExpiresAt      int64                `json:"expires_at"`
}

type credentialRefPayload struct {
	Attestor string               `json:"attestor"`
	Type     model.CredentialType `json:"type"`
}

// SetCredentialPolicy creates or replaces the attestor's credential policy.
func (e *Engine) SetCredentialPolicy(ctx context.Context, call Call, attestor string, rotationIntervalSeconds uint64, requireEncryption bool) (*model.CredentialPolicy, error) {
	in := policyPayload{Attestor: attestor, RotationIntervalSeconds: rotationIntervalSeconds, RequireEncryption: requireEncryption}
	var out *model.CredentialPolicy
	_, err := e.mutate(ctx, call, KindSetPolicy, in, func(o *op) (string, error) {
		if err := e.requireAdmin(call); err != nil {
			return "", err
		}
		if _, err := activeAttestor(o.tx, attestor); err != nil {
			return "", err
		}
		p := &model.CredentialPolicy{
			Attestor:                attestor,
			RotationIntervalSeconds: rotationIntervalSeconds,
			RequireEncryption:       requireEncryption,
			UpdatedAt:               o.unix(),
		}
		if err := repository.PutPolicy(o.tx, p); err != nil {
			return "", err
		}
		o.emit(events.TypePolicySet, map[string]string{
			"attestor":           attestor,
			"rotation_interval":  strconv.FormatUint(rotationIntervalSeconds, 10),
			"require_encryption": strconv.FormatBool(requireEncryption),
		})
		out = p
		return "set", nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetCredentialPolicy returns the attestor's policy, or CredentialNotFound
// when none is configured.
func (e *Engine) GetCredentialPolicy(ctx context.Context, attestor string) (*model.CredentialPolicy, error) {
	var out *model.CredentialPolicy
	err := e.view(ctx, func(r store.Reader) error {
		p, err := repository.GetPolicy(r, attestor)
		if errors.Is(err, repository.ErrNotFound) {
			return model.Errorf(model.ErrCredentialNotFound, "no credential policy for %s", attestor)
		}
		out = p
		return err
	})
	return out, err
}

// StoreCredential creates or fully replaces the credential for
// (attestor, type). The value must already be encrypted.
func (e *Engine) StoreCredential(ctx context.Context, call Call, attestor string, t model.CredentialType, encryptedValue []byte, expiresAt int64) (*model.SecureCredential, error) {
	in := credentialPayload{Attestor: attestor, Type: t, EncryptedValue: encryptedValue, ExpiresAt: expiresAt}
	var out *model.SecureCredential
	_, err := e.mutate(ctx, call, KindStoreCredential, in, func(o *op) (string, error) {
		if err := e.requireAdmin(call); err != nil {
			return "", err
		}
		if err := checkCredential(o, attestor, t, encryptedValue, expiresAt); err != nil {
			return "", err
		}
		c := &model.SecureCredential{
			Attestor:       attestor,
			Type:           t,
			EncryptedValue: encryptedValue,
			ExpiresAt:      expiresAt,
			CreatedAt:      o.unix(),
			LastRotatedAt:  o.unix(),
		}
		if err := repository.PutCredential(o.tx, c); err != nil {
			return "", err
		}
		o.emit(events.TypeCredentialStored, credentialEvent(attestor, t))
		out = c
		return "stored", nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("credential stored", zap.String("attestor", attestor), zap.Stringer("type", t))
	return out, nil
}

// RotateCredential overwrites the value and expiry of an existing,
// non-revoked credential and restarts its rotation interval.
func (e *Engine) RotateCredential(ctx context.Context, call Call, attestor string, t model.CredentialType, encryptedValue []byte, expiresAt int64) (*model.SecureCredential, error) {
	in := credentialPayload{Attestor: attestor, Type: t, EncryptedValue: encryptedValue, ExpiresAt: expiresAt}
	var out *model.SecureCredential
	_, err := e.mutate(ctx, call, KindRotateCredential, in, func(o *op) (string, error) {
		if err := e.requireAdmin(call); err != nil {
			return "", err
		}
		if err := checkCredential(o, attestor, t, encryptedValue, expiresAt); err != nil {
			return "", err
		}
		c, err := liveCredential(o.tx, attestor, t)
		if err != nil {
			return "", err
		}
		c.EncryptedValue = encryptedValue
		c.ExpiresAt = expiresAt
		c.LastRotatedAt = o.unix()
		if err := repository.PutCredential(o.tx, c); err != nil {
			return "", err
		}
		o.emit(events.TypeCredentialRotated, credentialEvent(attestor, t))
		out = c
		return "rotated", nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("credential rotated", zap.String("attestor", attestor), zap.Stringer("type", t))
	return out, nil
}

// RevokeCredential sets the revoked flag. The record is kept.
func (e *Engine) RevokeCredential(ctx context.Context, call Call, attestor string, t model.CredentialType) error {
	_, err := e.mutate(ctx, call, KindRevokeCredential, credentialRefPayload{Attestor: attestor, Type: t}, func(o *op) (string, error) {
		if err := e.requireAdmin(call); err != nil {
			return "", err
		}
		c, err := repository.GetCredential(o.tx, attestor, t)
		if errors.Is(err, repository.ErrNotFound) {
			return "", model.Errorf(model.ErrCredentialNotFound, "%s credential for %s", t, attestor)
		}
		if err != nil {
			return "", err
		}
		if c.Revoked {
			return "unchanged", nil
		}
		c.Revoked = true
		if err := repository.PutCredential(o.tx, c); err != nil {
			return "", err
		}
		o.emit(events.TypeCredentialRevoked, credentialEvent(attestor, t))
		return "revoked", nil
	})
	if err == nil {
		e.logger.Info("credential revoked", zap.String("attestor", attestor), zap.Stringer("type", t))
	}
	return err
}

// CheckCredentialRotation reports whether the credential must be rotated now:
// its policy interval has elapsed since the last rotation, or it has expired.
// Without a policy only expiry applies.
func (e *Engine) CheckCredentialRotation(ctx context.Context, attestor string, t model.CredentialType) (bool, error) {
	now := e.clock.Now().Unix()
	var due bool
	err := e.view(ctx, func(r store.Reader) error {
		c, p, err := credentialWithPolicy(r, attestor, t)
		if err != nil {
			return err
		}
		due = c.NeedsRotation(p, now)
		return nil
	})
	return due, err
}

// ValidateCredential certifies that the credential is usable now. It fails
// with CredentialExpired or CredentialRotationRequired when it is not.
func (e *Engine) ValidateCredential(ctx context.Context, attestor string, t model.CredentialType) (*model.CredentialStatus, error) {
	now := e.clock.Now().Unix()
	var st *model.CredentialStatus
	err := e.view(ctx, func(r store.Reader) error {
		c, p, err := credentialWithPolicy(r, attestor, t)
		if err != nil {
			return err
		}
		st = &model.CredentialStatus{
			Attestor:         attestor,
			Type:             t,
			Expired:          c.IsExpired(now),
			RotationRequired: c.NeedsRotation(p, now),
			ExpiresAt:        c.ExpiresAt,
			LastRotatedAt:    c.LastRotatedAt,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	switch {
	case st.Expired:
		return st, model.Errorf(model.ErrCredentialExpired, "%s credential for %s expired at %d", t, attestor, st.ExpiresAt)
	case st.RotationRequired:
		return st, model.Errorf(model.ErrCredentialRotationRequired, "%s credential for %s last rotated at %d", t, attestor, st.LastRotatedAt)
	}
	return st, nil
}

// GetCredential returns the stored credential record, ciphertext included.
func (e *Engine) GetCredential(ctx context.Context, attestor string, t model.CredentialType) (*model.SecureCredential, error) {
	var out *model.SecureCredential
	err := e.view(ctx, func(r store.Reader) error {
		c, err := repository.GetCredential(r, attestor, t)
		if errors.Is(err, repository.ErrNotFound) {
			return model.Errorf(model.ErrCredentialNotFound, "%s credential for %s", t, attestor)
		}
		out = c
		return err
	})
	return out, err
}

// checkCredential validates a value about to be stored against the type's
// format table, the attestor's policy and the clock.
func checkCredential(o *op, attestor string, t model.CredentialType, value []byte, expiresAt int64) error {
	if !t.Valid() {
		return model.Errorf(model.ErrInvalidCredentialFormat, "unknown credential type %d", uint8(t))
	}
	if _, err := activeAttestor(o.tx, attestor); err != nil {
		return err
	}
	p, err := repository.GetPolicy(o.tx, attestor)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	if !t.CheckFormat(value) {
		if p != nil && p.RequireEncryption {
			return model.Errorf(model.ErrInsecureCredentialStorage,
				"%s value for %s is %d bytes, encrypted values are at least %d", t, attestor, len(value), t.MinLength())
		}
		return model.Errorf(model.ErrInvalidCredentialFormat,
			"%s value for %s is %d bytes, need at least %d", t, attestor, len(value), t.MinLength())
	}
	if expiresAt != 0 && expiresAt <= o.unix() {
		return model.Errorf(model.ErrCredentialExpired, "expiry %d is not in the future", expiresAt)
	}
	return nil
}

// liveCredential loads a non-revoked credential.
func liveCredential(r store.Reader, attestor string, t model.CredentialType) (*model.SecureCredential, error) {
	c, err := repository.GetCredential(r, attestor, t)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, model.Errorf(model.ErrCredentialNotFound, "%s credential for %s", t, attestor)
	}
	if err != nil {
		return nil, err
	}
	if c.Revoked {
		return nil, model.Errorf(model.ErrCredentialNotFound, "%s credential for %s is revoked", t, attestor)
	}
	return c, nil
}

func credentialWithPolicy(r store.Reader, attestor string, t model.CredentialType) (*model.SecureCredential, *model.CredentialPolicy, error) {
	c, err := liveCredential(r, attestor, t)
	if err != nil {
		return nil, nil, err
	}
	p, err := repository.GetPolicy(r, attestor)
	if errors.Is(err, repository.ErrNotFound) {
		return c, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return c, p, nil
}

func credentialEvent(attestor string, t model.CredentialType) map[string]string {
	return map[string]string{"attestor": attestor, "type": t.String()}
}
