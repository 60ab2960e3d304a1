package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/anchorkit/internal/anchor/model"
)

// ConfigureFallback handles PUT /fallback/config.
func (h *Handler) ConfigureFallback(c *gin.Context) {
	var req model.FallbackConfig
	if err := c.ShouldBindJSON(&req); err != nil {
		h.bindFail(c, err)
		return
	}
	cl, ok := call(c)
	if !ok {
		return
	}
	if err := h.engine.ConfigureFallback(c.Request.Context(), cl, req); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

// GetFallbackConfig handles GET /fallback/config.
func (h *Handler) GetFallbackConfig(c *gin.Context) {
	cfg, err := h.engine.GetFallbackConfig(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// SelectFallbackAnchor handles GET /fallback/select?failed=<anchor>.
func (h *Handler) SelectFallbackAnchor(c *gin.Context) {
	anchor, err := h.engine.SelectFallbackAnchor(c.Request.Context(), c.Query("failed"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"anchor": anchor})
}

// GetAnchorState handles GET /fallback/anchors/:anchor.
func (h *Handler) GetAnchorState(c *gin.Context) {
	st, err := h.engine.GetAnchorState(c.Request.Context(), c.Param("anchor"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// RecordFailure handles POST /fallback/anchors/:anchor/failure.
func (h *Handler) RecordFailure(c *gin.Context) {
	cl, ok := call(c)
	if !ok {
		return
	}
	st, err := h.engine.RecordFailure(c.Request.Context(), cl, c.Param("anchor"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// RecordSuccess handles POST /fallback/anchors/:anchor/success.
func (h *Handler) RecordSuccess(c *gin.Context) {
	cl, ok := call(c)
	if !ok {
		return
	}
	st, err := h.engine.RecordSuccess(c.Request.Context(), cl, c.Param("anchor"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}
