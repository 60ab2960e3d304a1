package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/anchorkit/internal/anchor/model"
	"github.com/jmerrifield20/anchorkit/internal/identity"
	"go.uber.org/zap"
)

type tokenRequest struct {
	Caller      string `json:"caller" binding:"required"`
	Role        string `json:"role"`
	AdminSecret string `json:"admin_secret" binding:"required"`
}

// IssueToken handles POST /auth/token. An operator holding the admin secret
// mints a caller token for any identity. Whether that identity may act is
// still decided by the authorization oracle on each call.
func (h *Handler) IssueToken(c *gin.Context) {
	if h.adminSecretHash == "" || h.tokens == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "token issuance is disabled"})
		return
	}
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := model.ValidateIdentity(req.Caller); err != nil {
		h.fail(c, err)
		return
	}
	if err := identity.CheckAdminSecret(h.adminSecretHash, req.AdminSecret); err != nil {
		h.logger.Warn("token request with bad admin secret", zap.String("caller", req.Caller))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid admin secret"})
		return
	}

	tok, err := h.tokens.Issue(req.Caller, req.Role)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.logger.Info("caller token issued", zap.String("caller", req.Caller), zap.String("role", req.Role))
	c.JSON(http.StatusOK, gin.H{
		"access_token": tok,
		"token_type":   "Bearer",
		"expires_in":   int(h.tokens.TTL().Seconds()),
	})
}
