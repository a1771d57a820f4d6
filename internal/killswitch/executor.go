package killswitch

import (
	"context"
	"encoding/base64"
	"sort"
	"time"

	"github.com/aigos-io/aigos/internal/aigerr"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultTimeout bounds a single channel round-trip.
const DefaultTimeout = 60 * time.Second

// iterationGap is the pause between executeMultiple iterations. The
// protocol is serial so latency numbers stay attributable.
const iterationGap = 100 * time.Millisecond

// CommandSigner signs the test command payload. The issuer package's
// signers satisfy this via a thin closure.
type CommandSigner func(data []byte) ([]byte, error)

// ChannelResult is one channel's outcome in a single test run.
type ChannelResult struct {
	Channel   ChannelType `json:"channel"`
	Passed    bool        `json:"passed"`
	LatencyMS int64       `json:"latency_ms"`
	Error     string      `json:"error,omitempty"`
}

// ChannelReport is the outcome of one Execute run. Success means at
// least one channel acknowledged in time.
type ChannelReport struct {
	TestID   string          `json:"test_id"`
	Success  bool            `json:"success"`
	Channels []ChannelResult `json:"channels"`
}

// Aggregate summarises latency across ExecuteMultiple iterations.
// Percentiles are computed over all successful channel round-trips.
type Aggregate struct {
	Iterations int     `json:"iterations"`
	Passed     int     `json:"passed"`
	Failed     int     `json:"failed"`
	Success    bool    `json:"success"`
	P50MS      float64 `json:"p50_ms"`
	P99MS      float64 `json:"p99_ms"`
	MinMS      float64 `json:"min_ms"`
	MaxMS      float64 `json:"max_ms"`
}

// Executor runs the live-test protocol over a set of channels.
type Executor struct {
	channels []Channel
	signer   CommandSigner
	timeout  time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

// NewExecutor creates an Executor. signer may be nil, in which case the
// test command carries an empty signature (acceptable for LOCAL_FILE
// smoke tests, rejected by production agents).
func NewExecutor(channels []Channel, signer CommandSigner, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		channels: channels,
		signer:   signer,
		timeout:  DefaultTimeout,
		now:      time.Now,
		logger:   logger,
	}
}

// WithTimeout overrides the per-channel timeout.
func (e *Executor) WithTimeout(d time.Duration) *Executor {
	if d > 0 {
		e.timeout = d
	}
	return e
}

// WithClock overrides the executor's clock; used by tests.
func (e *Executor) WithClock(now func() time.Time) *Executor {
	e.now = now
	return e
}

// Execute sends one signed test command over every channel, serially,
// and reports per-channel pass/fail with measured latency.
func (e *Executor) Execute(ctx context.Context) (*ChannelReport, error) {
	if len(e.channels) == 0 {
		return nil, aigerr.New(aigerr.SchemaViolation, "no kill-switch channels configured")
	}

	cmd, err := e.buildCommand()
	if err != nil {
		return nil, err
	}

	report := &ChannelReport{TestID: cmd.TestID}
	for _, ch := range e.channels {
		if err := ctx.Err(); err != nil {
			return nil, aigerr.Wrap(aigerr.Cancelled, err, "kill-switch test cancelled")
		}
		result := e.deliverOne(ctx, ch, cmd)
		if result.Passed {
			report.Success = true
		}
		report.Channels = append(report.Channels, result)
	}

	e.logger.Debug("kill-switch test complete",
		zap.String("test_id", cmd.TestID),
		zap.Bool("success", report.Success))
	return report, nil
}

// ExecuteMultiple runs Execute iterations times with a 100 ms gap and
// aggregates latency statistics over all successful round-trips.
func (e *Executor) ExecuteMultiple(ctx context.Context, iterations int) (*Aggregate, error) {
	if iterations <= 0 {
		return nil, aigerr.New(aigerr.BadFormat, "iterations must be positive, got %d", iterations)
	}

	agg := &Aggregate{Iterations: iterations}
	var latencies []float64
	for i := 0; i < iterations; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, aigerr.Wrap(aigerr.Cancelled, ctx.Err(), "kill-switch test cancelled after %d iterations", i)
			case <-time.After(iterationGap):
			}
		}
		report, err := e.Execute(ctx)
		if err != nil {
			return nil, err
		}
		if report.Success {
			agg.Passed++
		} else {
			agg.Failed++
		}
		for _, ch := range report.Channels {
			if ch.Passed {
				latencies = append(latencies, float64(ch.LatencyMS))
			}
		}
	}

	agg.Success = agg.Passed > 0
	if len(latencies) > 0 {
		sort.Float64s(latencies)
		agg.MinMS = latencies[0]
		agg.MaxMS = latencies[len(latencies)-1]
		agg.P50MS = percentile(latencies, 0.50)
		agg.P99MS = percentile(latencies, 0.99)
	}
	return agg, nil
}

// deliverOne runs a single channel delivery under the executor timeout.
func (e *Executor) deliverOne(ctx context.Context, ch Channel, cmd TestCommand) ChannelResult {
	cctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := e.now()
	ack, err := ch.Deliver(cctx, cmd)
	elapsed := e.now().Sub(start).Milliseconds()

	result := ChannelResult{Channel: ch.Type(), LatencyMS: elapsed}
	switch {
	case err != nil:
		result.Error = err.Error()
	case ack == nil || ack.TestID != cmd.TestID:
		result.Error = "acknowledgement test_id does not match"
	default:
		result.Passed = true
	}
	return result
}

// buildCommand synthesises a fresh signed test command.
func (e *Executor) buildCommand() (TestCommand, error) {
	cmd := TestCommand{
		Type:      "TEST",
		TestID:    uuid.New().String(),
		Timestamp: e.now().UTC().Format(time.RFC3339),
	}
	if e.signer != nil {
		sig, err := e.signer([]byte(cmd.TestID + "|" + cmd.Timestamp))
		if err != nil {
			return TestCommand{}, aigerr.Wrap(aigerr.SignerUnavailable, err, "sign kill-switch test command")
		}
		cmd.Signature = base64.StdEncoding.EncodeToString(sig)
	}
	return cmd, nil
}

// percentile returns the q-th percentile of sorted values using the
// nearest-rank method.
func percentile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(q*float64(len(sorted))+0.5) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}
