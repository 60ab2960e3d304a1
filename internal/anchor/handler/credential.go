package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/anchorkit/internal/anchor/model"
)

type policyRequest struct {
	RotationIntervalSeconds uint64 `json:"rotation_interval_seconds"`
	RequireEncryption       bool   `json:"require_encryption"`
}

// SetCredentialPolicy handles PUT /attestors/:id/credential-policy.
func (h *Handler) SetCredentialPolicy(c *gin.Context) {
	var req policyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.bindFail(c, err)
		return
	}
	cl, ok := call(c)
	if !ok {
		return
	}
	p, err := h.engine.SetCredentialPolicy(c.Request.Context(), cl, c.Param("id"), req.RotationIntervalSeconds, req.RequireEncryption)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// GetCredentialPolicy handles GET /attestors/:id/credential-policy.
func (h *Handler) GetCredentialPolicy(c *gin.Context) {
	p, err := h.engine.GetCredentialPolicy(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// credentialRequest carries an already-encrypted value; JSON base64 encodes
// the bytes.
type credentialRequest struct {
	EncryptedValue []byte `json:"encrypted_value"`
	ExpiresAt      int64  `json:"expires_at"`
}

// credentialView is a credential without its ciphertext.
type credentialView struct {
	Attestor      string               `json:"attestor"`
	Type          model.CredentialType `json:"type"`
	ExpiresAt     int64                `json:"expires_at"`
	CreatedAt     int64                `json:"created_at"`
	LastRotatedAt int64                `json:"last_rotated_at"`
	Revoked       bool                 `json:"revoked"`
}

func toCredentialView(sc *model.SecureCredential) credentialView {
	return credentialView{
		Attestor:      sc.Attestor,
		Type:          sc.Type,
		ExpiresAt:     sc.ExpiresAt,
		CreatedAt:     sc.CreatedAt,
		LastRotatedAt: sc.LastRotatedAt,
		Revoked:       sc.Revoked,
	}
}

// StoreCredential handles PUT /attestors/:id/credentials/:type.
func (h *Handler) StoreCredential(c *gin.Context) {
	h.writeCredential(c, false)
}

// RotateCredential handles POST /attestors/:id/credentials/:type/rotate.
func (h *Handler) RotateCredential(c *gin.Context) {
	h.writeCredential(c, true)
}

func (h *Handler) writeCredential(c *gin.Context, rotate bool) {
	t, ok := h.credentialType(c)
	if !ok {
		return
	}
	var req credentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.bindFail(c, err)
		return
	}
	cl, ok := call(c)
	if !ok {
		return
	}

	write, status := h.engine.StoreCredential, http.StatusCreated
	if rotate {
		write, status = h.engine.RotateCredential, http.StatusOK
	}
	sc, err := write(c.Request.Context(), cl, c.Param("id"), t, req.EncryptedValue, req.ExpiresAt)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(status, toCredentialView(sc))
}

// RevokeCredential handles POST /attestors/:id/credentials/:type/revoke.
func (h *Handler) RevokeCredential(c *gin.Context) {
	t, ok := h.credentialType(c)
	if !ok {
		return
	}
	cl, ok := call(c)
	if !ok {
		return
	}
	if err := h.engine.RevokeCredential(c.Request.Context(), cl, c.Param("id"), t); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"attestor": c.Param("id"), "type": t, "revoked": true})
}

// GetCredential handles GET /attestors/:id/credentials/:type. The
// ciphertext is never returned.
func (h *Handler) GetCredential(c *gin.Context) {
	t, ok := h.credentialType(c)
	if !ok {
		return
	}
	sc, err := h.engine.GetCredential(c.Request.Context(), c.Param("id"), t)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toCredentialView(sc))
}

// CheckCredentialRotation handles GET /attestors/:id/credentials/:type/rotation.
func (h *Handler) CheckCredentialRotation(c *gin.Context) {
	t, ok := h.credentialType(c)
	if !ok {
		return
	}
	due, err := h.engine.CheckCredentialRotation(c.Request.Context(), c.Param("id"), t)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"attestor": c.Param("id"), "type": t, "rotation_required": due})
}

// ValidateCredential handles GET /attestors/:id/credentials/:type/status.
// An expired or overdue credential is reported with its domain error.
func (h *Handler) ValidateCredential(c *gin.Context) {
	t, ok := h.credentialType(c)
	if !ok {
		return
	}
	st, err := h.engine.ValidateCredential(c.Request.Context(), c.Param("id"), t)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}
