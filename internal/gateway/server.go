// Package gateway exposes the governance core over HTTP: certification
// runs, token minting and verification, trust evaluation, spawn
// validation, policy selection, and the certificate lifecycle ledger.
package gateway

import (
	"crypto/ecdsa"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aigos-io/aigos/internal/a2a"
	"github.com/aigos-io/aigos/internal/aigerr"
	"github.com/aigos-io/aigos/internal/issuer"
	"github.com/aigos-io/aigos/internal/ledger"
	"github.com/aigos-io/aigos/internal/policy"
	"github.com/aigos-io/aigos/internal/spawn"
	"github.com/aigos-io/aigos/internal/token"
	"github.com/aigos-io/aigos/internal/trust"
	"github.com/aigos-io/aigos/internal/verification"
)

// Config carries the knobs the gateway reads at startup.
type Config struct {
	RateLimitRPS   int
	RateLimitBurst int
	AllowedOrigins []string
}

// Gateway wires the governance components behind the HTTP surface.
type Gateway struct {
	cfg       Config
	engine    *verification.Engine
	generator *issuer.Generator
	minter    *token.Minter
	tokens    *token.Verifier
	evaluator *trust.Evaluator
	enforcer  *spawn.Enforcer
	selector  *policy.Selector
	repo      policy.Repository
	ledger    ledger.Ledger
	admission *a2a.Middleware
	jwksKeys  map[string]*ecdsa.PublicKey
	limits    *callerLimits
	logger    *zap.Logger
}

// Deps bundles the constructed components handed to New.
type Deps struct {
	Engine    *verification.Engine
	Generator *issuer.Generator
	Minter    *token.Minter
	Tokens    *token.Verifier
	Evaluator *trust.Evaluator
	Enforcer  *spawn.Enforcer
	Selector  *policy.Selector
	Repo      policy.Repository
	Ledger    ledger.Ledger
	Admission *a2a.Middleware
	JWKSKeys  map[string]*ecdsa.PublicKey
}

// New creates a Gateway over the given components.
func New(cfg Config, deps Deps, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RateLimitRPS == 0 {
		cfg.RateLimitRPS = 50
	}
	if cfg.RateLimitBurst == 0 {
		cfg.RateLimitBurst = 100
	}
	return &Gateway{
		cfg:       cfg,
		engine:    deps.Engine,
		generator: deps.Generator,
		minter:    deps.Minter,
		tokens:    deps.Tokens,
		evaluator: deps.Evaluator,
		enforcer:  deps.Enforcer,
		selector:  deps.Selector,
		repo:      deps.Repo,
		ledger:    deps.Ledger,
		admission: deps.Admission,
		jwksKeys:  deps.JWKSKeys,
		limits:    newCallerLimits(cfg.RateLimitRPS, cfg.RateLimitBurst),
		logger:    logger,
	}
}

// Close releases the gateway's background resources.
func (g *Gateway) Close() {
	g.limits.Close()
}

// Router builds the gin engine with all routes mounted.
func (g *Gateway) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(PrometheusMiddleware())

	corsCfg := cors.DefaultConfig()
	if len(g.cfg.AllowedOrigins) > 0 {
		corsCfg.AllowOrigins = g.cfg.AllowedOrigins
	} else {
		corsCfg.AllowAllOrigins = true
	}
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, a2a.DefaultTokenHeader, a2a.OrganizationHeader)
	corsCfg.MaxAge = 12 * time.Hour
	r.Use(cors.New(corsCfg))

	r.GET("/healthz", g.handleHealth)
	r.GET("/metrics", MetricsHandler())
	if len(g.jwksKeys) > 0 {
		r.GET("/.well-known/jwks.json", JWKSHandler(g.jwksKeys))
	}

	api := r.Group("/api/v1")
	api.Use(g.limits.middleware())
	{
		api.POST("/verify", g.handleVerify)
		api.POST("/certify", g.handleCertify)
		api.POST("/tokens", g.handleMint)
		api.POST("/tokens/verify", g.handleVerifyToken)
		api.POST("/trust/evaluate", g.handleEvaluate)
		api.POST("/spawn/validate", g.handleSpawnValidate)
		api.POST("/spawn/decay", g.handleSpawnDecay)
		api.POST("/policies/select", g.handlePolicySelect)
		api.GET("/policies/:id", g.handlePolicyResolve)
		api.POST("/certificates/:id/revoke", g.handleRevoke)
		api.GET("/certificates/:id/history", g.handleHistory)
	}

	// Demonstration route guarded by the admission pipeline; deployments
	// mount their own agent surfaces the same way.
	if g.admission != nil {
		protected := r.Group("/a2a")
		protected.Use(g.admission.Gin())
		protected.POST("/echo", g.handleEcho)
	}

	return r
}

// respondError renders a structured error using the taxonomy's HTTP
// status mapping.
func (g *Gateway) respondError(c *gin.Context, err error) {
	var ae *aigerr.Error
	if errors.As(err, &ae) {
		body := gin.H{"error": string(ae.Kind), "message": ae.Message}
		if len(ae.Details) > 0 {
			body["details"] = ae.Details
		}
		c.JSON(aigerr.HTTPStatus(ae.Kind), body)
		return
	}
	g.logger.Error("unclassified error", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "INTERNAL", "message": "internal error"})
}

func (g *Gateway) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleEcho returns the admitted caller's trust standing; it exists to
// exercise the admission pipeline end to end.
func (g *Gateway) handleEcho(c *gin.Context) {
	res, _ := a2a.TrustFrom(c)
	body := gin.H{"ok": true}
	if res != nil {
		body["trust_score"] = res.TrustScore
		if res.CGALevel != nil {
			body["cga_level"] = *res.CGALevel
		}
	}
	if claims, ok := a2a.ClaimsFrom(c); ok {
		body["subject"] = claims.Subject
	}
	c.JSON(http.StatusOK, body)
}
