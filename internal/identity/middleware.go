package identity

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/spiffe/go-spiffe/v2/spiffeid"
	"github.com/spiffe/go-spiffe/v2/spiffetls"
)

const ctxCaller = "anchorkit_caller"

// Authenticate returns a Gin middleware that resolves the caller identity.
//
// A TLS peer presenting an X.509-SVID from trustDomain is identified by its
// SPIFFE ID. Otherwise a Bearer caller token is required. The resolved
// identity is stored in the context and read back with CallerFrom.
// trustDomain may be the zero value to disable SPIFFE peers.
func Authenticate(tokens *TokenIssuer, trustDomain spiffeid.TrustDomain) gin.HandlerFunc {
	return func(c *gin.Context) {
		if id, ok := spiffeCaller(c.Request, trustDomain); ok {
			c.Set(ctxCaller, id)
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Bearer token or SPIFFE client certificate required",
			})
			return
		}
		if tokens == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token authentication disabled"})
			return
		}
		claims, err := tokens.Verify(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid token: " + err.Error(),
			})
			return
		}
		c.Set(ctxCaller, claims.Caller)
		c.Next()
	}
}

func spiffeCaller(r *http.Request, td spiffeid.TrustDomain) (string, bool) {
	if td.IsZero() || r.TLS == nil || len(r.TLS.PeerCertificates) == 0 {
		return "", false
	}
	id, err := spiffetls.PeerIDFromConnectionState(*r.TLS)
	if err != nil || !id.MemberOf(td) {
		return "", false
	}
	return id.String(), true
}

// CallerFrom returns the identity set by Authenticate.
func CallerFrom(c *gin.Context) string {
	return c.GetString(ctxCaller)
}

// SetCaller stores id as the authenticated caller.
func SetCaller(c *gin.Context, id string) {
	c.Set(ctxCaller, id)
}
