package verification

import (
	"fmt"

	"github.com/aigos-io/aigos/internal/cga"
	"github.com/aigos-io/aigos/internal/goldenthread"
)

// DefaultChecks returns the standard certification check set. Callers
// may append their own via Engine.Register.
func DefaultChecks() []Check {
	return []Check{
		{Name: "identity.asset_card_valid", MinLevel: cga.Bronze, Run: checkAssetCardValid},
		{Name: "identity.golden_thread_hash", MinLevel: cga.Bronze, Run: checkGoldenThreadHash},
		{Name: "kill_switch.endpoint_declared", MinLevel: cga.Bronze, Run: checkKillSwitchDeclared},
		{Name: "kill_switch.live_test", MinLevel: cga.Silver, Run: checkKillSwitchLiveTest},
		{Name: "policy_engine.strict_mode", MinLevel: cga.Silver, Run: checkPolicyStrictMode},
		{Name: "telemetry.configured", MinLevel: cga.Silver, Run: checkTelemetryConfigured},
		{Name: "compliance.framework_mapped", MinLevel: cga.Gold, Run: checkComplianceMapped},
		{Name: "capability.bounds_declared", MinLevel: cga.Gold, Run: checkCapabilityBounds},
	}
}

func checkAssetCardValid(vc *Context) (cga.CheckResult, error) {
	card, err := vc.LoadAssetCard()
	if err != nil {
		return cga.CheckResult{}, err
	}
	return cga.CheckResult{
		Status:  cga.CheckPass,
		Message: fmt.Sprintf("asset card for %s validates", card.Metadata.ID),
	}, nil
}

func checkGoldenThreadHash(vc *Context) (cga.CheckResult, error) {
	card, err := vc.LoadAssetCard()
	if err != nil {
		return cga.CheckResult{}, err
	}
	computed, err := vc.ComputeGoldenThreadHash()
	if err != nil {
		return cga.CheckResult{}, err
	}

	// A card without a declared hash still passes on a clean recompute;
	// a declared hash must match the recomputation.
	if gt := card.Spec.GoldenThread; gt != nil && gt.Hash != "" {
		components := goldenthread.Extract(card.Spec.AssetLike)
		if _, err := goldenthread.Verify(*components, gt.Hash); err != nil {
			return cga.CheckResult{}, err
		}
	}
	return cga.CheckResult{
		Status:   cga.CheckPass,
		Message:  "golden thread hash verifies against its components",
		Evidence: computed,
	}, nil
}

func checkKillSwitchDeclared(vc *Context) (cga.CheckResult, error) {
	card, err := vc.LoadAssetCard()
	if err != nil {
		return cga.CheckResult{}, err
	}
	ks := card.Spec.KillSwitch
	if ks == nil || len(ks.Channels) == 0 {
		return cga.CheckResult{
			Status:  cga.CheckFail,
			Message: "no kill-switch channel declared",
		}, nil
	}
	types := make([]string, 0, len(ks.Channels))
	for _, ch := range ks.Channels {
		types = append(types, string(ch.Type))
	}
	return cga.CheckResult{
		Status:   cga.CheckPass,
		Message:  fmt.Sprintf("%d kill-switch channel(s) declared", len(ks.Channels)),
		Evidence: types,
	}, nil
}

func checkKillSwitchLiveTest(vc *Context) (cga.CheckResult, error) {
	agg, err := vc.SendKillSwitchTest()
	if err != nil {
		return cga.CheckResult{}, err
	}
	if !agg.Success {
		return cga.CheckResult{
			Status:   cga.CheckFail,
			Message:  fmt.Sprintf("no channel acknowledged in %d iteration(s)", agg.Iterations),
			Evidence: agg,
		}, nil
	}
	return cga.CheckResult{
		Status:   cga.CheckPass,
		Message:  fmt.Sprintf("kill switch responded, p99 %.0f ms over %d iteration(s)", agg.P99MS, agg.Iterations),
		Evidence: agg,
	}, nil
}

func checkPolicyStrictMode(vc *Context) (cga.CheckResult, error) {
	strict, err := vc.RunPolicyCheck()
	if err != nil {
		return cga.CheckResult{}, err
	}
	if !strict {
		return cga.CheckResult{
			Status:  cga.CheckFail,
			Message: "policy engine is not in strict mode",
		}, nil
	}
	return cga.CheckResult{
		Status:  cga.CheckPass,
		Message: "policy engine runs in strict mode",
	}, nil
}

func checkTelemetryConfigured(vc *Context) (cga.CheckResult, error) {
	card, err := vc.LoadAssetCard()
	if err != nil {
		return cga.CheckResult{}, err
	}
	tel := card.Spec.Telemetry
	if tel == nil || !tel.Enabled {
		return cga.CheckResult{
			Status:  cga.CheckFail,
			Message: "telemetry is not configured",
		}, nil
	}
	if tel.Endpoint == "" {
		return cga.CheckResult{
			Status:  cga.CheckWarn,
			Message: "telemetry enabled but no endpoint declared",
		}, nil
	}
	return cga.CheckResult{
		Status:   cga.CheckPass,
		Message:  "telemetry configured",
		Evidence: tel.Endpoint,
	}, nil
}

func checkComplianceMapped(vc *Context) (cga.CheckResult, error) {
	card, err := vc.LoadAssetCard()
	if err != nil {
		return cga.CheckResult{}, err
	}
	comp := card.Spec.Compliance
	if comp == nil || len(comp.Frameworks) == 0 {
		return cga.CheckResult{
			Status:  cga.CheckFail,
			Message: "no compliance framework mapping declared",
		}, nil
	}
	return cga.CheckResult{
		Status:   cga.CheckPass,
		Message:  fmt.Sprintf("%d compliance framework(s) mapped", len(comp.Frameworks)),
		Evidence: comp.Frameworks,
	}, nil
}

func checkCapabilityBounds(vc *Context) (cga.CheckResult, error) {
	card, err := vc.LoadAssetCard()
	if err != nil {
		return cga.CheckResult{}, err
	}
	caps := card.Spec.Capabilities
	if caps == nil {
		return cga.CheckResult{
			Status:  cga.CheckFail,
			Message: "no capability bounds declared",
		}, nil
	}
	if len(caps.AllowedTools) == 0 && len(caps.AllowedDomains) == 0 && caps.Budgets == nil {
		return cga.CheckResult{
			Status:  cga.CheckFail,
			Message: "capability bounds declared but empty",
		}, nil
	}
	return cga.CheckResult{
		Status:  cga.CheckPass,
		Message: fmt.Sprintf("capability bounds declared: %d tool(s), %d domain(s)", len(caps.AllowedTools), len(caps.AllowedDomains)),
	}, nil
}
