package a2a

import (
	"github.com/aigos-io/aigos/internal/token"
	"github.com/aigos-io/aigos/internal/trust"
	"github.com/gin-gonic/gin"
)

// Context keys under which the admitted request's results are stored.
const (
	ContextClaimsKey = "aigos.claims"
	ContextTrustKey  = "aigos.trust"
)

// Gin adapts the pipeline to a gin handler chain. Denied requests are
// aborted with the failure body; admitted requests carry their claims
// and trust result in the gin context.
func (m *Middleware) Gin() gin.HandlerFunc {
	return func(c *gin.Context) {
		outcome := m.Process(c.Request.Context(), Inbound{
			Method:  c.Request.Method,
			Path:    c.Request.URL.Path,
			Headers: c.Request.Header,
		})
		if !outcome.Allowed() {
			c.AbortWithStatusJSON(outcome.Failure.StatusCode, outcome.Failure)
			return
		}
		c.Set(ContextClaimsKey, outcome.Success.Claims)
		c.Set(ContextTrustKey, outcome.Success.Trust)
		c.Next()
	}
}

// ClaimsFrom retrieves the admitted claims from a gin context. The
// second return is false on routes not behind the middleware, or when
// the request carried no attestation.
func ClaimsFrom(c *gin.Context) (*token.Claims, bool) {
	v, ok := c.Get(ContextClaimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*token.Claims)
	return claims, ok && claims != nil
}

// TrustFrom retrieves the trust result from a gin context.
func TrustFrom(c *gin.Context) (*trust.Result, bool) {
	v, ok := c.Get(ContextTrustKey)
	if !ok {
		return nil, false
	}
	res, ok := v.(*trust.Result)
	return res, ok
}
