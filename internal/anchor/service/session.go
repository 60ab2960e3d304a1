package service

import (
	"context"
	"errors"

	"github.com/jmerrifield20/anchorkit/internal/anchor/model"
	"github.com/jmerrifield20/anchorkit/internal/audit"
	"github.com/jmerrifield20/anchorkit/internal/events"
	"github.com/jmerrifield20/anchorkit/internal/store"
)

type sessionPayload struct{}

// CreateSession opens a session initiated by the caller. The creation itself
// is audited outside any session.
func (e *Engine) CreateSession(ctx context.Context, call Call) (*audit.Session, error) {
	var out *audit.Session
	_, err := e.mutate(ctx, Call{Caller: call.Caller}, KindCreateSession, sessionPayload{}, func(o *op) (string, error) {
		sess, err := audit.CreateSession(o.tx, call.Caller, o.now)
		if err != nil {
			return "", err
		}
		o.emit(events.TypeSessionCreated, map[string]string{
			"session_id": formatID(sess.ID),
			"initiator":  call.Caller,
		})
		out = sess
		return formatID(sess.ID), nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetSession returns a session by id.
func (e *Engine) GetSession(ctx context.Context, id uint64) (*audit.Session, error) {
	var out *audit.Session
	err := e.view(ctx, func(r store.Reader) error {
		s, err := audit.GetSession(r, id)
		out = s
		return sessionErr(err, id)
	})
	return out, err
}

// SessionOperationCount returns how many audited operations ran in the
// session.
func (e *Engine) SessionOperationCount(ctx context.Context, id uint64) (uint64, error) {
	s, err := e.GetSession(ctx, id)
	if err != nil {
		return 0, err
	}
	return s.OperationCount, nil
}

// GetAuditLog returns one audit entry.
func (e *Engine) GetAuditLog(ctx context.Context, id uint64) (*audit.Entry, error) {
	var out *audit.Entry
	err := e.view(ctx, func(r store.Reader) error {
		entry, err := audit.Get(r, id)
		if errors.Is(err, audit.ErrEntryNotFound) {
			return model.Errorf(model.ErrAuditLogNotFound, "entry %d", id)
		}
		out = entry
		return err
	})
	return out, err
}

// ListAuditLog returns up to limit entries starting at from.
func (e *Engine) ListAuditLog(ctx context.Context, from uint64, limit int) ([]*audit.Entry, error) {
	var out []*audit.Entry
	err := e.view(ctx, func(r store.Reader) error {
		var err error
		out, err = audit.List(r, from, limit)
		return err
	})
	return out, err
}

// AuditHead is the current length and tip hash of the audit chain.
type AuditHead struct {
	Length uint64 `json:"length"`
	Root   string `json:"root"`
}

// AuditHead returns the chain length and root hash.
func (e *Engine) AuditHead(ctx context.Context) (AuditHead, error) {
	var h AuditHead
	err := e.view(ctx, func(r store.Reader) error {
		var err error
		if h.Length, err = audit.Len(r); err != nil {
			return err
		}
		h.Root, err = audit.Root(r)
		return err
	})
	return h, err
}

// VerifyAuditLog checks the whole hash chain.
func (e *Engine) VerifyAuditLog(ctx context.Context) error {
	return e.view(ctx, audit.Verify)
}

// ExportAuditLog returns a compressed snapshot of the audit chain.
func (e *Engine) ExportAuditLog(ctx context.Context) ([]byte, error) {
	var out []byte
	err := e.view(ctx, func(r store.Reader) error {
		var err error
		out, err = audit.Export(r)
		return err
	})
	return out, err
}
