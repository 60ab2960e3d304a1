package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultAuditPage = 100
	maxAuditPage     = 1000
)

// CreateSession handles POST /sessions.
func (h *Handler) CreateSession(c *gin.Context) {
	cl, ok := call(c)
	if !ok {
		return
	}
	s, err := h.engine.CreateSession(c.Request.Context(), cl)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, s)
}

// GetSession handles GET /sessions/:id.
func (h *Handler) GetSession(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	s, err := h.engine.GetSession(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

// ListAudit handles GET /audit?from=<id>&limit=<n>.
func (h *Handler) ListAudit(c *gin.Context) {
	from, err := strconv.ParseUint(c.DefaultQuery("from", "1"), 10, 64)
	if err != nil {
		badRequest(c, "from must be a non-negative integer")
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultAuditPage)))
	if err != nil || limit < 1 {
		badRequest(c, "limit must be a positive integer")
		return
	}
	limit = min(limit, maxAuditPage)

	entries, err := h.engine.ListAuditLog(c.Request.Context(), from, limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

// GetAuditEntry handles GET /audit/entries/:id.
func (h *Handler) GetAuditEntry(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	e, err := h.engine.GetAuditLog(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

// AuditHead handles GET /audit/head.
func (h *Handler) AuditHead(c *gin.Context) {
	head, err := h.engine.AuditHead(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, head)
}

// VerifyAudit handles GET /audit/verify. A broken chain is reported in the
// body, not as a request failure.
func (h *Handler) VerifyAudit(c *gin.Context) {
	if err := h.engine.VerifyAuditLog(c.Request.Context()); err != nil {
		h.logger.Warn("audit chain verification failed", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"valid": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true})
}

// ExportAudit handles GET /audit/export and streams a zstd snapshot.
func (h *Handler) ExportAudit(c *gin.Context) {
	snap, err := h.engine.ExportAuditLog(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="audit.jsonl.zst"`)
	c.Data(http.StatusOK, "application/zstd", snap)
}
