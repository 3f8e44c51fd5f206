package reflection

import (
	"math"
	"math/rand"
	"testing"

	"github.com/fyrsmithlabs/agentloop/internal/memory"
	"github.com/stretchr/testify/assert"
)

func TestBetaCalibrator(t *testing.T) {
	c := NewBetaCalibrator(3, 5)

	tests := []struct {
		name   string
		raw    float64
		acc    memory.Accuracy
		want   float64
		prefix string
	}{
		{
			name:   "too few samples",
			raw:    0.9,
			acc:    memory.Accuracy{TaskType: "fs", Successes: 1, Failures: 1, MeanConfidence: 0.9},
			want:   0.9,
			prefix: "unchanged: 2 of 3",
		},
		{
			// alpha=1, beta=6 -> 1/7; gap = 0.9-1/7; weight = 5/10
			name:   "over-confident history lowers",
			raw:    0.9,
			acc:    memory.Accuracy{TaskType: "fs", Failures: 5, MeanConfidence: 0.9},
			want:   0.9 - (0.9-1.0/7.0)*0.5,
			prefix: "lowered: past over-confidence",
		},
		{
			// alpha=6, beta=1 -> 6/7; gap = 0.4-6/7; weight = 0.5
			name:   "under-confident history raises",
			raw:    0.5,
			acc:    memory.Accuracy{TaskType: "fs", Successes: 5, MeanConfidence: 0.4},
			want:   0.5 + (6.0/7.0-0.4)*0.5,
			prefix: "raised: past under-confidence",
		},
		{
			name:   "result is clamped",
			raw:    1.5,
			acc:    memory.Accuracy{TaskType: "fs", Successes: 50, MeanConfidence: 0.1},
			want:   1,
			prefix: "unchanged",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason := c.Calibrate(tt.raw, tt.acc)
			assert.InDelta(t, tt.want, got, 1e-9)
			assert.Contains(t, reason, tt.prefix)
		})
	}
}

func TestNewBetaCalibrator_Defaults(t *testing.T) {
	c := NewBetaCalibrator(0, -1)
	assert.Equal(t, 3, c.MinSamples)
	assert.Equal(t, 5.0, c.PriorStrength)
}

func TestCalibratedConfidenceAlwaysInUnitInterval(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	calibrators := []Calibrator{NewBetaCalibrator(1, 1), NewBetaCalibrator(3, 5), Identity{}}
	for i := 0; i < 2000; i++ {
		raw := rng.Float64()*3 - 1
		if i%100 == 0 {
			raw = math.NaN()
		}
		acc := memory.Accuracy{
			TaskType:       "t",
			Successes:      rng.Intn(20),
			Failures:       rng.Intn(20),
			MeanConfidence: rng.Float64(),
		}
		for _, c := range calibrators {
			got, reason := c.Calibrate(raw, acc)
			assert.GreaterOrEqual(t, got, 0.0)
			assert.LessOrEqual(t, got, 1.0)
			assert.NotEmpty(t, reason)
		}
	}
}
