package cga

import "time"

// CheckStatus is the outcome of a single verification check.
type CheckStatus string

const (
	CheckPass CheckStatus = "PASS"
	CheckFail CheckStatus = "FAIL"
	CheckSkip CheckStatus = "SKIP"
	CheckWarn CheckStatus = "WARN"
)

// CheckResult is one check's contribution to a verification report.
type CheckResult struct {
	Name       string      `json:"name"`
	Status     CheckStatus `json:"status"`
	Message    string      `json:"message"`
	Evidence   any         `json:"evidence,omitempty"`
	DurationMS int64       `json:"duration_ms,omitempty"`
}

// ReportSummary tallies check outcomes.
type ReportSummary struct {
	Total    int `json:"total"`
	Passed   int `json:"passed"`
	Failed   int `json:"failed"`
	Skipped  int `json:"skipped"`
	Warnings int `json:"warnings"`
}

// VerificationReport is the output of a verification run against an asset.
// AchievedLevel is nil when any required check failed.
type VerificationReport struct {
	AgentID       string        `json:"agent_id"`
	Timestamp     time.Time     `json:"timestamp"`
	TargetLevel   Level         `json:"target_level"`
	AchievedLevel *Level        `json:"achieved_level"`
	Checks        []CheckResult `json:"checks"`
	Summary       ReportSummary `json:"summary"`
}

// Summarize recomputes the summary tallies from the check list.
func (r *VerificationReport) Summarize() {
	s := ReportSummary{Total: len(r.Checks)}
	for _, c := range r.Checks {
		switch c.Status {
		case CheckPass:
			s.Passed++
		case CheckFail:
			s.Failed++
		case CheckSkip:
			s.Skipped++
		case CheckWarn:
			s.Warnings++
		}
	}
	r.Summary = s
}

// CheckByName returns the named check result, or nil when absent.
func (r *VerificationReport) CheckByName(name string) *CheckResult {
	for i := range r.Checks {
		if r.Checks[i].Name == name {
			return &r.Checks[i]
		}
	}
	return nil
}
