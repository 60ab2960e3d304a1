package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/anchorkit/internal/anchor/model"
)

// SubmitAttestation handles POST /attestations.
func (h *Handler) SubmitAttestation(c *gin.Context) {
	var req model.AttestationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.bindFail(c, err)
		return
	}
	cl, ok := call(c)
	if !ok {
		return
	}
	id, err := h.engine.SubmitAttestation(c.Request.Context(), cl, req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

// GetAttestation handles GET /attestations/:id.
func (h *Handler) GetAttestation(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	a, err := h.engine.GetAttestation(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// SubmitQuote handles POST /quotes.
func (h *Handler) SubmitQuote(c *gin.Context) {
	var req model.QuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.bindFail(c, err)
		return
	}
	cl, ok := call(c)
	if !ok {
		return
	}
	q, err := h.engine.SubmitQuote(c.Request.Context(), cl, req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, q)
}

// SubmitQuoteWithFallback handles POST /quotes/fallback. The anchor field of
// the body is ignored; the fallback order decides.
func (h *Handler) SubmitQuoteWithFallback(c *gin.Context) {
	var req model.QuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.bindFail(c, err)
		return
	}
	cl, ok := call(c)
	if !ok {
		return
	}
	q, err := h.engine.SubmitQuoteWithFallback(c.Request.Context(), cl, req, h.probe)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, q)
}

// GetQuote handles GET /quotes/:id.
func (h *Handler) GetQuote(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	q, err := h.engine.GetQuote(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

// CompareRates handles POST /rates/compare.
func (h *Handler) CompareRates(c *gin.Context) {
	var req model.RateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.bindFail(c, err)
		return
	}
	cmp, err := h.engine.CompareRates(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cmp)
}

// BuildTransactionIntent handles POST /intents.
func (h *Handler) BuildTransactionIntent(c *gin.Context) {
	var req model.IntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.bindFail(c, err)
		return
	}
	cl, ok := call(c)
	if !ok {
		return
	}
	intent, err := h.engine.BuildTransactionIntent(c.Request.Context(), cl, req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, intent)
}

// GetTransactionIntent handles GET /intents/:id.
func (h *Handler) GetTransactionIntent(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	intent, err := h.engine.GetTransactionIntent(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, intent)
}
