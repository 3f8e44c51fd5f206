package reflection

import (
	"fmt"
	"math"

	"github.com/fyrsmithlabs/agentloop/internal/memory"
)

// Calibrator adjusts a reported confidence using historical accuracy.
type Calibrator interface {
	Calibrate(raw float64, acc memory.Accuracy) (float64, string)
}

// BetaCalibrator subtracts the historical over-confidence gap of a task
// type from the raw value. The gap is the mean reported confidence minus
// the Beta posterior success rate, shrunk by n/(n+PriorStrength) so a
// short history moves the value little.
type BetaCalibrator struct {
	// MinSamples is the number of evaluated sessions required before any
	// adjustment is made.
	MinSamples    int
	PriorStrength float64
}

// NewBetaCalibrator returns a calibrator. Non-positive arguments fall back
// to 3 samples and a prior strength of 5.
func NewBetaCalibrator(minSamples int, priorStrength float64) *BetaCalibrator {
	if minSamples <= 0 {
		minSamples = 3
	}
	if priorStrength <= 0 {
		priorStrength = 5
	}
	return &BetaCalibrator{MinSamples: minSamples, PriorStrength: priorStrength}
}

func (c *BetaCalibrator) Calibrate(raw float64, acc memory.Accuracy) (float64, string) {
	raw = clamp01(raw)
	n := acc.Samples()
	if n < c.MinSamples {
		return raw, fmt.Sprintf("unchanged: %d of %d past sessions needed for calibration", n, c.MinSamples)
	}

	rate := acc.SuccessRate()
	gap := acc.MeanConfidence - rate
	weight := float64(n) / (float64(n) + c.PriorStrength)
	calibrated := clamp01(raw - gap*weight)

	detail := fmt.Sprintf("on task type %q (success rate %.2f, mean confidence %.2f, %d sessions)",
		acc.TaskType, rate, acc.MeanConfidence, n)
	switch {
	case calibrated < raw-1e-9:
		return calibrated, "lowered: past over-confidence " + detail
	case calibrated > raw+1e-9:
		return calibrated, "raised: past under-confidence " + detail
	}
	return calibrated, "unchanged: confidence matched outcomes " + detail
}

// Identity leaves confidence untouched.
type Identity struct{}

func (Identity) Calibrate(raw float64, _ memory.Accuracy) (float64, string) {
	return clamp01(raw), "unchanged: calibration disabled"
}

func clamp01(f float64) float64 {
	if math.IsNaN(f) {
		return 0
	}
	return math.Max(0, math.Min(1, f))
}
