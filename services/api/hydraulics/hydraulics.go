// Package hydraulics holds the stateless flow formulas used by the monitor.
package hydraulics

import (
	"math"
	"time"
)

// CubicMetersPerMm3 converts m³ to millions of m³.
const CubicMetersPerMm3 = 1_000_000

// RatingCurve is a power-law gauge calibration Q = Coefficient * h^Exponent.
type RatingCurve struct {
	Coefficient float64 `json:"coefficient"`
	Exponent    float64 `json:"exponent"`
}

// Flow evaluates the curve for a head in meters.
func (r RatingCurve) Flow(head float64) float64 {
	return FlowFromHead(r.Coefficient, r.Exponent, head)
}

// FlowFromHead returns the power-law flow in m³/s. Non-positive heads yield
// zero flow.
func FlowFromHead(coefficient, exponent, head float64) float64 {
	if head <= 0 || math.IsNaN(head) {
		return 0
	}
	return coefficient * math.Pow(head, exponent)
}

// VolumeIncrement returns the volume in Mm³ delivered at flow (m³/s) over
// elapsed. Negative intervals count as zero.
func VolumeIncrement(flow float64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return flow * elapsed.Seconds() / CubicMetersPerMm3
}

// Efficiency is delivered over authorized, as a percentage.
func Efficiency(delivered, authorized float64) float64 {
	if authorized <= 0 {
		return 0
	}
	return delivered / authorized * 100
}
