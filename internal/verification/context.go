package verification

import (
	"context"
	"time"

	"github.com/aigos-io/aigos/internal/aigerr"
	"github.com/aigos-io/aigos/internal/cga"
	"github.com/aigos-io/aigos/internal/goldenthread"
	"github.com/aigos-io/aigos/internal/killswitch"
)

// killSwitchIterations is how many live-test rounds a verification run
// executes before judging latency.
const killSwitchIterations = 3

// PolicyChecker probes the agent's policy-engine posture. Implementations
// typically call the agent's admin endpoint; tests stub it.
type PolicyChecker interface {
	StrictModeEnabled(ctx context.Context, card *AssetCard) (bool, error)
}

// Context is the per-run environment handed to each check. Data accessors
// are pure; the kill-switch and policy probes reach out to the agent.
type Context struct {
	ctx         context.Context
	targetLevel cga.Level

	cardPath string
	card     *AssetCard
	cardErr  error
	loaded   bool

	signer      killswitch.CommandSigner
	policyCheck PolicyChecker
	ksTimeout   time.Duration
}

// Ctx returns the cancellation handle for the run.
func (c *Context) Ctx() context.Context { return c.ctx }

// TargetLevel returns the level the run is certifying against.
func (c *Context) TargetLevel() cga.Level { return c.targetLevel }

// LoadAssetCard parses the card once and caches the result for every
// subsequent check in the run.
func (c *Context) LoadAssetCard() (*AssetCard, error) {
	if !c.loaded {
		c.loaded = true
		if c.card == nil {
			c.card, c.cardErr = LoadAssetCard(c.cardPath)
		}
	}
	return c.card, c.cardErr
}

// ComputeGoldenThreadHash extracts the Golden Thread from the card and
// recomputes its canonical hash.
func (c *Context) ComputeGoldenThreadHash() (string, error) {
	card, err := c.LoadAssetCard()
	if err != nil {
		return "", err
	}
	components := goldenthread.Extract(card.Spec.AssetLike)
	if components == nil {
		return "", aigerr.New(aigerr.BadFormat, "asset card carries no golden thread and no usable approval")
	}
	return goldenthread.ComputeHash(*components)
}

// SendKillSwitchTest runs the live-test protocol against the card's
// declared channels and returns the latency aggregate.
func (c *Context) SendKillSwitchTest() (*killswitch.Aggregate, error) {
	card, err := c.LoadAssetCard()
	if err != nil {
		return nil, err
	}
	if card.Spec.KillSwitch == nil || len(card.Spec.KillSwitch.Channels) == 0 {
		return nil, aigerr.New(aigerr.SchemaViolation, "asset card declares no kill-switch channels")
	}
	channels, err := card.Spec.KillSwitch.Build()
	if err != nil {
		return nil, err
	}
	exec := killswitch.NewExecutor(channels, c.signer, nil)
	if c.ksTimeout > 0 {
		exec = exec.WithTimeout(c.ksTimeout)
	} else if card.Spec.KillSwitch.TimeoutMS > 0 {
		exec = exec.WithTimeout(time.Duration(card.Spec.KillSwitch.TimeoutMS) * time.Millisecond)
	}
	return exec.ExecuteMultiple(c.ctx, killSwitchIterations)
}

// RunPolicyCheck reports whether the agent's policy engine runs in
// strict mode.
func (c *Context) RunPolicyCheck() (bool, error) {
	card, err := c.LoadAssetCard()
	if err != nil {
		return false, err
	}
	if c.policyCheck != nil {
		return c.policyCheck.StrictModeEnabled(c.ctx, card)
	}
	// Without a live probe, fall back to the declared posture.
	return card.Spec.PolicyEngine != nil && card.Spec.PolicyEngine.Mode == "strict", nil
}
