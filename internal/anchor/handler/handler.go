// Package handler exposes the anchorkit engine over HTTP using Gin.
package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/anchorkit/internal/anchor/model"
	"github.com/jmerrifield20/anchorkit/internal/anchor/service"
	"github.com/jmerrifield20/anchorkit/internal/identity"
	"github.com/spiffe/go-spiffe/v2/spiffeid"
	"go.uber.org/zap"
)

// SessionHeader selects the audit session a mutating request runs in.
const SessionHeader = "X-Session-ID"

// Handler serves the /api/v1 surface.
type Handler struct {
	engine          *service.Engine
	tokens          *identity.TokenIssuer
	trustDomain     spiffeid.TrustDomain
	adminSecretHash string
	probe           service.Probe
	limiter         gin.HandlerFunc
	logger          *zap.Logger
}

// New creates a Handler. tokens may be nil when only SPIFFE peers are
// accepted.
func New(engine *service.Engine, tokens *identity.TokenIssuer, logger *zap.Logger) *Handler {
	return &Handler{engine: engine, tokens: tokens, logger: logger}
}

// SetTrustDomain accepts X.509-SVID peers from td as callers.
func (h *Handler) SetTrustDomain(td spiffeid.TrustDomain) { h.trustDomain = td }

// SetAdminSecretHash enables POST /auth/token for holders of the secret.
func (h *Handler) SetAdminSecretHash(hash string) { h.adminSecretHash = hash }

// SetProbe sets the transport probe used by fallback quote submission.
func (h *Handler) SetProbe(p service.Probe) { h.probe = p }

// SetRateLimiter installs a limiter that runs after authentication.
func (h *Handler) SetRateLimiter(mw gin.HandlerFunc) { h.limiter = mw }

// Register mounts every route on rg.
func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.POST("/auth/token", h.IssueToken)

	api := rg.Group("", identity.Authenticate(h.tokens, h.trustDomain))
	if h.limiter != nil {
		api.Use(h.limiter)
	}

	a := api.Group("/attestors")
	{
		a.POST("", h.RegisterAttestor)
		a.GET("/:id", h.GetAttestor)
		a.POST("/:id/revoke", h.RevokeAttestor)
		a.PUT("/:id/services", h.ConfigureServices)
		a.GET("/:id/services", h.GetServices)
		a.GET("/:id/services/:service", h.SupportsService)
		a.PUT("/:id/assets", h.SetAssets)
		a.GET("/:id/assets", h.GetAssets)
		a.GET("/:id/assets/:asset", h.IsAssetSupported)
		a.PUT("/:id/endpoint", h.ConfigureEndpoint)
		a.GET("/:id/endpoint", h.GetEndpoint)
		a.DELETE("/:id/endpoint", h.RemoveEndpoint)
		a.PUT("/:id/credential-policy", h.SetCredentialPolicy)
		a.GET("/:id/credential-policy", h.GetCredentialPolicy)
		a.PUT("/:id/credentials/:type", h.StoreCredential)
		a.GET("/:id/credentials/:type", h.GetCredential)
		a.POST("/:id/credentials/:type/rotate", h.RotateCredential)
		a.POST("/:id/credentials/:type/revoke", h.RevokeCredential)
		a.GET("/:id/credentials/:type/rotation", h.CheckCredentialRotation)
		a.GET("/:id/credentials/:type/status", h.ValidateCredential)
	}

	api.POST("/attestations", h.SubmitAttestation)
	api.GET("/attestations/:id", h.GetAttestation)

	api.POST("/quotes", h.SubmitQuote)
	api.POST("/quotes/fallback", h.SubmitQuoteWithFallback)
	api.GET("/quotes/:id", h.GetQuote)
	api.POST("/rates/compare", h.CompareRates)

	api.POST("/intents", h.BuildTransactionIntent)
	api.GET("/intents/:id", h.GetTransactionIntent)

	api.POST("/sessions", h.CreateSession)
	api.GET("/sessions/:id", h.GetSession)

	l := api.Group("/audit")
	{
		l.GET("", h.ListAudit)
		l.GET("/head", h.AuditHead)
		l.GET("/verify", h.VerifyAudit)
		l.GET("/export", h.ExportAudit)
		l.GET("/entries/:id", h.GetAuditEntry)
	}

	f := api.Group("/fallback")
	{
		f.PUT("/config", h.ConfigureFallback)
		f.GET("/config", h.GetFallbackConfig)
		f.GET("/select", h.SelectFallbackAnchor)
		f.GET("/anchors/:anchor", h.GetAnchorState)
		f.POST("/anchors/:anchor/failure", h.RecordFailure)
		f.POST("/anchors/:anchor/success", h.RecordSuccess)
	}
}

// call builds the engine call context from the authenticated caller and the
// optional session header. It writes a 400 and returns false on a malformed
// session id.
func call(c *gin.Context) (service.Call, bool) {
	cl := service.Call{Caller: identity.CallerFrom(c)}
	if raw := c.GetHeader(SessionHeader); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || id == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": SessionHeader + " must be a positive integer"})
			return cl, false
		}
		cl.SessionID = id
	}
	return cl, true
}

func statusFor(k model.Kind) int {
	switch k {
	case model.KindAuthorization:
		return http.StatusForbidden
	case model.KindValidation:
		return http.StatusBadRequest
	case model.KindConflict:
		return http.StatusConflict
	case model.KindNotFound:
		return http.StatusNotFound
	case model.KindExhaustion:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err. Domain errors carry their code, name and kind; anything
// else is logged and reported as a 500 without detail.
func (h *Handler) fail(c *gin.Context, err error) {
	if d, ok := model.AsError(err); ok {
		domainErrorsTotal.WithLabelValues(d.Name).Inc()
		c.JSON(statusFor(d.Kind), gin.H{
			"error": d.Error(),
			"code":  d.Code,
			"name":  d.Name,
			"kind":  d.Kind,
		})
		return
	}
	h.logger.Error("request failed",
		zap.String("method", c.Request.Method),
		zap.String("path", c.FullPath()),
		zap.Error(err),
	)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

func uintParam(c *gin.Context, name string) (uint64, bool) {
	v, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil {
		badRequest(c, name+" must be a non-negative integer")
		return 0, false
	}
	return v, true
}

func (h *Handler) credentialType(c *gin.Context) (model.CredentialType, bool) {
	t, err := model.ParseCredentialType(c.Param("type"))
	if err != nil {
		h.fail(c, err)
		return 0, false
	}
	return t, true
}

// bindFail reports a request body that could not be decoded. Enum fields
// decode through model types, so their domain errors pass through unchanged.
func (h *Handler) bindFail(c *gin.Context, err error) {
	if _, ok := model.AsError(err); ok {
		h.fail(c, err)
		return
	}
	badRequest(c, err.Error())
}
