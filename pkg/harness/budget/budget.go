// Package budget tracks a single harness run's wall-clock and cost spend
// against a configured ceiling, and partitions the remainder across
// attempts. It mirrors the teacher's pkg/cost.Tracker mutex-guarded
// running-totals style, generalized from dollar-budget-vs-session to
// wall-clock+cost-vs-run.
package budget

import (
	"sync"
	"time"

	"github.com/cosmoslabs/applyharness/pkg/config"
)

// Usage is the incremental cost of a single LLM call, folded into the
// controller's running totals via Record.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	CostUSD          float64
}

const (
	guardTimeBufferRatio = 0.15
	guardTimeBufferMinMs = int64(1200)
	guardTimeBufferMaxMs = int64(6000)

	guardCostBufferRatio  = 0.02
	guardCostBufferMinUSD = 0.00015
	guardCostBufferMaxUSD = 0.003

	nextCallSlackMs = int64(250)

	minMeaningfulAttemptMs      = int64(10_000)
	minMeaningfulAttemptCostUSD = 0.0025
)

// Controller tracks a run's accumulated cost and elapsed time against
// config.HarnessConfig ceilings, guarded by a mutex the way the teacher's
// cost tracker guards its running totals.
type Controller struct {
	mu sync.Mutex

	cfg       config.HarnessConfig
	startedAt time.Time
	now       func() time.Time

	spentCostUSD float64
}

// New creates a Controller whose clock starts now.
func New(cfg config.HarnessConfig) *Controller {
	return newWithClock(cfg, time.Now)
}

func newWithClock(cfg config.HarnessConfig, now func() time.Time) *Controller {
	return &Controller{cfg: cfg, startedAt: now(), now: now}
}

// Record folds a completed LLM call's cost into the running total.
func (c *Controller) Record(u Usage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.spentCostUSD += u.CostUSD
}

// elapsedMs returns milliseconds since the controller started, caller must
// hold no lock (reads only c.startedAt/c.now, both immutable after New).
func (c *Controller) elapsedMs() int64 {
	return c.now().Sub(c.startedAt).Milliseconds()
}

// Exhausted reports whether the run has used up its wall-clock or cost
// budget. Cost comparisons tolerate config.CostOverrunTolerance of
// provider-side accounting jitter.
func (c *Controller) Exhausted() bool {
	c.mu.Lock()
	spent := c.spentCostUSD
	c.mu.Unlock()

	if c.elapsedMs() >= c.cfg.MaxTotalMs {
		return true
	}
	return spent >= c.cfg.MaxTotalCostUSD+config.CostOverrunTolerance
}

// RemainingMs returns the wall-clock budget left in the run, floored at 0.
func (c *Controller) RemainingMs() int64 {
	remaining := c.cfg.MaxTotalMs - c.elapsedMs()
	if remaining < 0 {
		return 0
	}
	return remaining
}

// RemainingCostUSD returns the cost budget left in the run, floored at 0.
func (c *Controller) RemainingCostUSD() float64 {
	c.mu.Lock()
	spent := c.spentCostUSD
	c.mu.Unlock()

	remaining := c.cfg.MaxTotalCostUSD - spent
	if remaining < 0 {
		return 0
	}
	return remaining
}

// GuardBeforeLLMCall refuses to start a new call when the remaining budget
// is below a scaled buffer: ~15% of the time budget (clamped [1.2s, 6s]) or
// ~2% of the cost budget (clamped [$0.00015, $0.003]). The scaling prevents
// a too-small attempt budget from producing noise-level failures.
func (c *Controller) GuardBeforeLLMCall() bool {
	timeBuffer := clampInt64(int64(float64(c.cfg.MaxTotalMs)*guardTimeBufferRatio), guardTimeBufferMinMs, guardTimeBufferMaxMs)
	if c.RemainingMs() < timeBuffer {
		return false
	}

	costBuffer := clampFloat64(c.cfg.MaxTotalCostUSD*guardCostBufferRatio, guardCostBufferMinUSD, guardCostBufferMaxUSD)
	if c.RemainingCostUSD() < costBuffer {
		return false
	}
	return true
}

// GuardBeforeIndependentReview additionally refuses to proceed into
// quick-check repair when the reserve carved out for the mandatory
// independent-review step (§4.9) would be consumed.
func (c *Controller) GuardBeforeIndependentReview() bool {
	if c.RemainingMs() < c.cfg.ReserveIndependentReviewMs {
		return false
	}
	if c.RemainingCostUSD() < c.cfg.ReserveIndependentReviewCostUSD {
		return false
	}
	return true
}

// TimeoutMsForNextLLMCall returns the timeout to hand the next LLM call:
// remaining time minus a small slack, floored at 1ms.
func (c *Controller) TimeoutMsForNextLLMCall() int64 {
	timeout := c.RemainingMs() - nextCallSlackMs
	if timeout < 1 {
		return 1
	}
	return timeout
}

// AttemptSlice is one attempt's share of the run's remaining budget.
type AttemptSlice struct {
	TimeMs  int64
	CostUSD float64
}

// attemptWeights returns the per-attempt weight table for N attempts:
// N=1 -> [1.0]; N=2 -> [0.80, 0.20]; N=3 -> [0.70, 0.20, 0.10];
// N>=4 -> [0.55, 0.25, then 0.20/(N-2) for each tail attempt].
func attemptWeights(n int) []float64 {
	switch {
	case n <= 1:
		return []float64{1.0}
	case n == 2:
		return []float64{0.80, 0.20}
	case n == 3:
		return []float64{0.70, 0.20, 0.10}
	default:
		weights := make([]float64, n)
		weights[0] = 0.55
		weights[1] = 0.25
		tail := 0.20 / float64(n-2)
		for i := 2; i < n; i++ {
			weights[i] = tail
		}
		return weights
	}
}

// AttemptWeights returns the fixed per-attempt weight table for a run
// configured for maxAttempts attempts. Callers that partition budget
// attempt-by-attempt across the whole run (rather than all at once)
// should compute this once before the attempt loop starts and index into
// it via PartitionAttempt, instead of recomputing a fresh table sized to
// however many attempts remain — attemptWeights' shape depends on the
// *configured* attempt count, not the count still outstanding.
func AttemptWeights(maxAttempts int) []float64 {
	return attemptWeights(maxAttempts)
}

// PartitionAttempt returns attemptIndex's (1-based) share of the
// controller's *current* remaining budget, drawn from the fixed-size
// weights table (as returned by AttemptWeights(cfg.MaxAttempts) once
// before the loop) and renormalized against the sum of that table's
// remaining entries from attemptIndex onward. This keeps each attempt's
// relative share anchored to the run's original N-attempt plan even as
// earlier attempts fail and are skipped, rather than drifting toward the
// more front-loaded weights a smaller, freshly-computed table would give
// the same attempt.
func (c *Controller) PartitionAttempt(weights []float64, attemptIndex int) AttemptSlice {
	if attemptIndex < 1 {
		attemptIndex = 1
	}
	if attemptIndex > len(weights) {
		attemptIndex = len(weights)
	}

	var tailSum float64
	for _, w := range weights[attemptIndex-1:] {
		tailSum += w
	}
	if tailSum <= 0 {
		tailSum = 1
	}
	share := weights[attemptIndex-1] / tailSum

	remainingMs := c.RemainingMs()
	remainingCost := c.RemainingCostUSD()

	timeMs := int64(float64(remainingMs) * share)
	if timeMs < minMeaningfulAttemptMs && remainingMs >= minMeaningfulAttemptMs {
		timeMs = minMeaningfulAttemptMs
	}
	costUSD := remainingCost * share
	if costUSD < minMeaningfulAttemptCostUSD && remainingCost >= minMeaningfulAttemptCostUSD {
		costUSD = minMeaningfulAttemptCostUSD
	}
	return AttemptSlice{TimeMs: timeMs, CostUSD: costUSD}
}

// PartitionAttempts splits the controller's remaining time and cost budget
// across n attempts using attemptWeights, flooring each slice to a
// meaningful minimum (>=10s, >=$0.0025) when the remaining budget allows it.
// Cost partitioning preserves later attempts' share even when an earlier
// attempt overspends within its own slice, because each call re-partitions
// from the controller's *current* remaining totals rather than a
// pre-computed static plan.
func (c *Controller) PartitionAttempts(n int) []AttemptSlice {
	if n < 1 {
		n = 1
	}
	weights := attemptWeights(n)
	var sum float64
	for _, w := range weights {
		sum += w
	}

	remainingMs := c.RemainingMs()
	remainingCost := c.RemainingCostUSD()

	slices := make([]AttemptSlice, n)
	for i, w := range weights {
		share := w / sum
		timeMs := int64(float64(remainingMs) * share)
		if timeMs < minMeaningfulAttemptMs && remainingMs >= minMeaningfulAttemptMs {
			timeMs = minMeaningfulAttemptMs
		}
		costUSD := remainingCost * share
		if costUSD < minMeaningfulAttemptCostUSD && remainingCost >= minMeaningfulAttemptCostUSD {
			costUSD = minMeaningfulAttemptCostUSD
		}
		slices[i] = AttemptSlice{TimeMs: timeMs, CostUSD: costUSD}
	}
	return slices
}

func clampInt64(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat64(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
