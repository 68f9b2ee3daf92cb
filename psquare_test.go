package corewake

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPSquareQuantileConvergesOnUniform(t *testing.T) {
	ps := newPSquareQuantile(0.50)
	rng := rand.New(rand.NewPCG(1, 2))

	for i := 0; i < 20000; i++ {
		ps.Update(rng.Float64() * 1000)
	}

	// The median of Uniform(0, 1000) is 500; P² is an approximation, not
	// exact, so allow a generous tolerance rather than asserting equality.
	assert.InDelta(t, 500, ps.Quantile(), 40)
	assert.LessOrEqual(t, ps.Max(), 1000.0)
}

func TestPSquareQuantileSmallSampleExact(t *testing.T) {
	ps := newPSquareQuantile(0.5)
	for _, x := range []float64{3, 1, 4} {
		ps.Update(x)
	}
	// Fewer than 5 samples: Quantile falls back to sorting the raw buffer.
	assert.Equal(t, 3.0, ps.Quantile())
	assert.Equal(t, 4.0, ps.Max())
}

func TestPSquareMultiQuantileTracksSeveralAtOnce(t *testing.T) {
	m := newPSquareMultiQuantile(0.5, 0.9, 0.99)
	rng := rand.New(rand.NewPCG(3, 4))

	for i := 0; i < 20000; i++ {
		m.Update(rng.Float64() * 100)
	}

	p50 := m.Quantile(0)
	p90 := m.Quantile(1)
	p99 := m.Quantile(2)

	assert.Less(t, p50, p90)
	assert.Less(t, p90, p99)
	assert.InDelta(t, 50, m.Mean(), 5)
	assert.Equal(t, 20000, m.Count())
}

func TestPSquareMultiQuantileEmpty(t *testing.T) {
	m := newPSquareMultiQuantile(0.5)
	assert.Equal(t, 0, m.Count())
	assert.Equal(t, 0.0, m.Mean())
	assert.Equal(t, 0.0, m.Max())
	assert.False(t, math.IsNaN(m.Quantile(0)))
}
