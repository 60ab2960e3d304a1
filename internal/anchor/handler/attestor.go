package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/anchorkit/internal/anchor/model"
)

type registerRequest struct {
	ID        string `json:"id" binding:"required"`
	PublicKey string `json:"public_key"`
}

// RegisterAttestor handles POST /attestors.
func (h *Handler) RegisterAttestor(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.bindFail(c, err)
		return
	}
	cl, ok := call(c)
	if !ok {
		return
	}
	a, err := h.engine.Register(c.Request.Context(), cl, req.ID, req.PublicKey)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, a)
}

// GetAttestor handles GET /attestors/:id.
func (h *Handler) GetAttestor(c *gin.Context) {
	a, err := h.engine.GetAttestor(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// RevokeAttestor handles POST /attestors/:id/revoke.
func (h *Handler) RevokeAttestor(c *gin.Context) {
	cl, ok := call(c)
	if !ok {
		return
	}
	if err := h.engine.Revoke(c.Request.Context(), cl, c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "revoked": true})
}

type servicesRequest struct {
	Services []model.ServiceType `json:"services"`
}

// ConfigureServices handles PUT /attestors/:id/services.
func (h *Handler) ConfigureServices(c *gin.Context) {
	var req servicesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.bindFail(c, err)
		return
	}
	cl, ok := call(c)
	if !ok {
		return
	}
	if err := h.engine.ConfigureServices(c.Request.Context(), cl, c.Param("id"), req.Services); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "services": req.Services})
}

// GetServices handles GET /attestors/:id/services.
func (h *Handler) GetServices(c *gin.Context) {
	s, err := h.engine.GetSupportedServices(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "services": s})
}

// SupportsService handles GET /attestors/:id/services/:service.
func (h *Handler) SupportsService(c *gin.Context) {
	s, err := model.ParseServiceType(c.Param("service"))
	if err != nil {
		h.fail(c, err)
		return
	}
	ok, err := h.engine.SupportsService(c.Request.Context(), c.Param("id"), s)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "service": s, "supported": ok})
}

type assetsRequest struct {
	Assets []string `json:"assets"`
}

// SetAssets handles PUT /attestors/:id/assets.
func (h *Handler) SetAssets(c *gin.Context) {
	var req assetsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.bindFail(c, err)
		return
	}
	cl, ok := call(c)
	if !ok {
		return
	}
	if err := h.engine.SetSupportedAssets(c.Request.Context(), cl, c.Param("id"), req.Assets); err != nil {
		h.fail(c, err)
		return
	}
	if req.Assets == nil {
		req.Assets = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "assets": req.Assets})
}

// GetAssets handles GET /attestors/:id/assets.
func (h *Handler) GetAssets(c *gin.Context) {
	assets, err := h.engine.GetSupportedAssets(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "assets": assets})
}

// IsAssetSupported handles GET /attestors/:id/assets/:asset.
func (h *Handler) IsAssetSupported(c *gin.Context) {
	ok, err := h.engine.IsAssetSupported(c.Request.Context(), c.Param("id"), c.Param("asset"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "asset": c.Param("asset"), "supported": ok})
}

type endpointRequest struct {
	URL string `json:"url" binding:"required"`
}

// ConfigureEndpoint handles PUT /attestors/:id/endpoint.
func (h *Handler) ConfigureEndpoint(c *gin.Context) {
	var req endpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.bindFail(c, err)
		return
	}
	cl, ok := call(c)
	if !ok {
		return
	}
	ep, err := h.engine.ConfigureEndpoint(c.Request.Context(), cl, c.Param("id"), req.URL)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ep)
}

// GetEndpoint handles GET /attestors/:id/endpoint.
func (h *Handler) GetEndpoint(c *gin.Context) {
	ep, err := h.engine.GetEndpoint(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ep)
}

// RemoveEndpoint handles DELETE /attestors/:id/endpoint.
func (h *Handler) RemoveEndpoint(c *gin.Context) {
	cl, ok := call(c)
	if !ok {
		return
	}
	if err := h.engine.RemoveEndpoint(c.Request.Context(), cl, c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
