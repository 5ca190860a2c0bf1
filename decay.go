package behaviorsdk

import (
	"math"
	"time"
)

// ──────────────────────────────────────────────
// Intensity decay — pure half-life math, no background thread
// ──────────────────────────────────────────────

// DefaultBaseHalfLife is the half-life at volatility 1.0. Lower volatility
// stretches it out: halfLife = base / volatility.
const DefaultBaseHalfLife = 6 * time.Hour

// minVolatility keeps the half-life finite for near-zero temperaments.
const minVolatility = 0.05

// HalfLifeFor returns the decay half-life for a volatility value.
// Higher volatility means faster decay and faster escalation; one
// temperament parameter governs both directions.
func HalfLifeFor(volatility float64, baseHalfLife time.Duration) time.Duration {
	if baseHalfLife <= 0 {
		baseHalfLife = DefaultBaseHalfLife
	}
	v := clampRange(volatility, minVolatility, 1.0)
	return time.Duration(float64(baseHalfLife) / v)
}

// DecayFactor returns the multiplier applied to a prior intensity after
// elapsed wall-clock time: 0.5^(elapsed/halfLife). At elapsed == halfLife
// the prior intensity is exactly halved; at elapsed == 0 the factor is 1,
// which makes recompute idempotent when no time has passed.
func DecayFactor(volatility float64, elapsed time.Duration, baseHalfLife time.Duration) float64 {
	if elapsed <= 0 {
		return 1.0
	}
	hl := HalfLifeFor(volatility, baseHalfLife)
	return math.Exp2(-float64(elapsed) / float64(hl))
}

// EscalationGain is the multiplier applied to trigger weights when they
// accumulate into intensity. Volatility raises the gain symmetrically with
// decay; the stability multiplier (from the progression aggregator,
// [0.5, 2.0]) reinforces or dampens it.
func EscalationGain(volatility, stability float64) float64 {
	v := clampRange(volatility, minVolatility, 1.0)
	s := clampRange(stability, 0.5, 2.0)
	return clampRange((0.5+v)*s, 0.25, 3.0)
}
