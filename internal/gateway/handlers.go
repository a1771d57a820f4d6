package gateway

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aigos-io/aigos/internal/aigerr"
	"github.com/aigos-io/aigos/internal/canon"
	"github.com/aigos-io/aigos/internal/cga"
	"github.com/aigos-io/aigos/internal/policy"
	"github.com/aigos-io/aigos/internal/spawn"
	"github.com/aigos-io/aigos/internal/token"
	"github.com/aigos-io/aigos/internal/trust"
	"github.com/aigos-io/aigos/internal/verification"
)

// ─── Certification ───────────────────────────────────────────────────────────

type verifyRequest struct {
	// AssetCard is the raw YAML/JSON card document.
	AssetCard   string `json:"asset_card" binding:"required"`
	TargetLevel string `json:"target_level" binding:"required"`
}

// handleVerify runs the check suite and returns the report without
// issuing anything.
func (g *Gateway) handleVerify(c *gin.Context) {
	report, _, err := g.runVerification(c)
	if err != nil {
		g.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// handleCertify runs verification and, when a level is achieved, issues
// the full and compact certificates and records the issuance.
func (g *Gateway) handleCertify(c *gin.Context) {
	report, card, err := g.runVerification(c)
	if err != nil {
		g.respondError(c, err)
		return
	}
	if report.AchievedLevel == nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   string(aigerr.NotCertifiable),
			"message": "verification did not achieve any level",
			"report":  report,
		})
		return
	}

	hash, err := hashFromReport(report)
	if err != nil {
		g.respondError(c, err)
		return
	}
	cert, err := g.generator.Generate(report, card.Metadata.ID, card.Metadata.Version, hash)
	if err != nil {
		g.respondError(c, err)
		return
	}
	compact, err := g.generator.Compact(cert)
	if err != nil {
		g.respondError(c, err)
		return
	}

	if g.ledger != nil {
		doc, err := canon.MarshalJSON(cert)
		if err == nil {
			_, err = g.ledger.RecordIssued(c.Request.Context(), cert.Metadata.ID, cert.Spec.Agent.ID, cert.Spec.Certification.Issuer.ID, doc)
		}
		if err != nil {
			g.logger.Error("record issuance", zap.String("certificate_id", cert.Metadata.ID), zap.Error(err))
		}
	}
	recordCertificateIssued(string(cert.Spec.Certification.Level))

	c.JSON(http.StatusOK, gin.H{
		"report":      report,
		"certificate": cert,
		"compact":     compact,
	})
}

// runVerification parses the request and executes the engine.
func (g *Gateway) runVerification(c *gin.Context) (*cga.VerificationReport, *verification.AssetCard, error) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return nil, nil, aigerr.Wrap(aigerr.BadFormat, err, "parse request body")
	}
	level, err := cga.ParseLevel(req.TargetLevel)
	if err != nil {
		return nil, nil, err
	}
	card, err := verification.ParseAssetCard([]byte(req.AssetCard))
	if err != nil {
		return nil, nil, err
	}
	report, err := g.engine.Verify(c.Request.Context(), verification.Request{
		Card:        card,
		TargetLevel: level,
	})
	if err != nil {
		return nil, nil, err
	}
	return report, card, nil
}

// hashFromReport pulls the recomputed Golden Thread hash out of the
// identity check's evidence.
func hashFromReport(report *cga.VerificationReport) (string, error) {
	check := report.CheckByName("identity.golden_thread_hash")
	if check == nil || check.Status != cga.CheckPass {
		return "", aigerr.New(aigerr.NotCertifiable, "golden thread hash check did not pass")
	}
	hash, ok := check.Evidence.(string)
	if !ok || hash == "" {
		return "", aigerr.New(aigerr.NotCertifiable, "golden thread hash check carries no hash evidence")
	}
	return hash, nil
}

// ─── Tokens ──────────────────────────────────────────────────────────────────

type mintRequest struct {
	Certificate      *cga.CompactCertificate `json:"certificate" binding:"required"`
	Audience         token.Audience          `json:"audience" binding:"required"`
	AssetID          string                  `json:"asset_id" binding:"required"`
	GoldenThreadHash string                  `json:"golden_thread_hash" binding:"required"`
	RiskLevel        string                  `json:"risk_level" binding:"required"`
	Capabilities     []string                `json:"capabilities"`
	PolicyVersion    string                  `json:"policy_version"`
}

func (g *Gateway) handleMint(c *gin.Context) {
	var req mintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		g.respondError(c, aigerr.Wrap(aigerr.BadFormat, err, "parse request body"))
		return
	}
	risk, err := cga.ParseRiskLevel(req.RiskLevel)
	if err != nil {
		g.respondError(c, err)
		return
	}

	result, err := g.minter.Mint(req.Certificate, token.MintInput{
		Audience:         req.Audience,
		AssetID:          req.AssetID,
		GoldenThreadHash: req.GoldenThreadHash,
		RiskLevel:        risk,
		Capabilities:     req.Capabilities,
		PolicyVersion:    req.PolicyVersion,
	})
	if err != nil {
		g.respondError(c, err)
		return
	}
	recordTokenMinted()
	c.JSON(http.StatusOK, result)
}

type verifyTokenRequest struct {
	Token string `json:"token" binding:"required"`
}

func (g *Gateway) handleVerifyToken(c *gin.Context) {
	var req verifyTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		g.respondError(c, aigerr.Wrap(aigerr.BadFormat, err, "parse request body"))
		return
	}

	result, err := g.tokens.Verify(c.Request.Context(), req.Token)
	recordTokenVerification(string(result.Status))
	if err != nil {
		kind := aigerr.KindOf(err)
		c.JSON(aigerr.HTTPStatus(kind), gin.H{
			"error":   string(kind),
			"message": err.Error(),
			"result":  result,
		})
		return
	}
	c.JSON(http.StatusOK, result)
}

// ─── Trust ───────────────────────────────────────────────────────────────────

type evaluateRequest struct {
	Token              string `json:"token,omitempty"`
	Action             string `json:"action" binding:"required"`
	SourceOrganization string `json:"source_organization,omitempty"`
}

// handleEvaluate is the dry-run surface: evaluate the trust policy for a
// token (or for no attestation) without admitting anything.
func (g *Gateway) handleEvaluate(c *gin.Context) {
	var req evaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		g.respondError(c, aigerr.Wrap(aigerr.BadFormat, err, "parse request body"))
		return
	}

	var claims *token.Claims
	if req.Token != "" {
		result, err := g.tokens.Verify(c.Request.Context(), req.Token)
		if err != nil {
			kind := aigerr.KindOf(err)
			c.JSON(aigerr.HTTPStatus(kind), gin.H{"error": string(kind), "message": err.Error()})
			return
		}
		claims = result.Claims
	}

	res := g.evaluator.Evaluate(claims, trust.Request{
		Action:             req.Action,
		SourceOrganization: req.SourceOrganization,
	})
	recordTrustDecision(res.Trusted)
	c.JSON(http.StatusOK, res)
}

// ─── Spawn ───────────────────────────────────────────────────────────────────

type spawnValidateRequest struct {
	Parent  *spawn.CapabilitySet `json:"parent" binding:"required"`
	Request spawn.SpawnRequest   `json:"request"`
}

func (g *Gateway) handleSpawnValidate(c *gin.Context) {
	var req spawnValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		g.respondError(c, aigerr.Wrap(aigerr.BadFormat, err, "parse request body"))
		return
	}
	result := g.enforcer.Validate(req.Parent, req.Request)
	recordSpawnValidation(result.Valid)
	c.JSON(http.StatusOK, result)
}

type spawnDecayRequest struct {
	Parent   *spawn.CapabilitySet `json:"parent" binding:"required"`
	Mode     spawn.DecayMode      `json:"mode"`
	Explicit *spawn.SpawnRequest  `json:"explicit,omitempty"`
}

func (g *Gateway) handleSpawnDecay(c *gin.Context) {
	var req spawnDecayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		g.respondError(c, aigerr.Wrap(aigerr.BadFormat, err, "parse request body"))
		return
	}
	child, err := g.enforcer.ApplyDecay(req.Parent, req.Mode, req.Explicit)
	if err != nil {
		g.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, child)
}

// ─── Policies ────────────────────────────────────────────────────────────────

type policySelectRequest struct {
	AssetID   string   `json:"asset_id" binding:"required"`
	RiskLevel string   `json:"risk_level,omitempty"`
	Mode      string   `json:"mode,omitempty"`
	Tags      []string `json:"tags,omitempty"`
	Env       string   `json:"env,omitempty"`
}

func (g *Gateway) handlePolicySelect(c *gin.Context) {
	var req policySelectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		g.respondError(c, aigerr.Wrap(aigerr.BadFormat, err, "parse request body"))
		return
	}
	sel, err := g.selector.Select(policy.Criteria{
		AssetID:   req.AssetID,
		RiskLevel: req.RiskLevel,
		Mode:      req.Mode,
		Tags:      req.Tags,
		Env:       req.Env,
	})
	if err != nil {
		g.respondError(c, err)
		return
	}
	aigosSelectorCacheSize.Set(float64(g.selector.CacheLen()))
	c.JSON(http.StatusOK, sel)
}

func (g *Gateway) handlePolicyResolve(c *gin.Context) {
	resolved, err := policy.Resolve(c.Param("id"), g.repo)
	if err != nil {
		g.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resolved)
}

// ─── Certificate lifecycle ───────────────────────────────────────────────────

type revokeRequest struct {
	AgentID string `json:"agent_id" binding:"required"`
	Actor   string `json:"actor" binding:"required"`
	Reason  string `json:"reason"`
}

func (g *Gateway) handleRevoke(c *gin.Context) {
	if g.ledger == nil {
		g.respondError(c, aigerr.New(aigerr.CAUnavailable, "no ledger configured"))
		return
	}
	var req revokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		g.respondError(c, aigerr.Wrap(aigerr.BadFormat, err, "parse request body"))
		return
	}
	entry, err := g.ledger.RecordRevoked(c.Request.Context(), c.Param("id"), req.AgentID, req.Actor, req.Reason)
	if err != nil {
		g.respondError(c, err)
		return
	}
	g.logger.Info("certificate revoked",
		zap.String("certificate_id", c.Param("id")),
		zap.String("actor", req.Actor))
	c.JSON(http.StatusOK, entry)
}

func (g *Gateway) handleHistory(c *gin.Context) {
	if g.ledger == nil {
		g.respondError(c, aigerr.New(aigerr.CAUnavailable, "no ledger configured"))
		return
	}
	entries, err := g.ledger.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		g.respondError(c, err)
		return
	}
	if len(entries) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "NOT_FOUND", "message": "no ledger entries for certificate"})
		return
	}
	c.JSON(http.StatusOK, entries)
}
