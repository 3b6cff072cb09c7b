package detection

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func constantIntervals(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestTypingTracker(t *testing.T) {
	newTracker := func(t *testing.T) *TypingTracker {
		tr, err := NewTypingTracker(16, 100, 150, 40)
		require.NoError(t, err)
		return tr
	}

	t.Run("needs a full window", func(t *testing.T) {
		tr := newTracker(t)
		_, flagged := tr.Observe("s1", constantIntervals(99, 10))
		assert.False(t, flagged)

		stats, flagged := tr.Observe("s1", []float64{10})
		assert.True(t, flagged)
		assert.Equal(t, 100, stats.Samples)
		assert.InDelta(t, 10, stats.MeanMS, 0.001)
		assert.InDelta(t, 0, stats.Variance, 0.001)
	})

	t.Run("window resets after a flag", func(t *testing.T) {
		tr := newTracker(t)
		_, flagged := tr.Observe("s1", constantIntervals(100, 10))
		require.True(t, flagged)

		_, flagged = tr.Observe("s1", constantIntervals(99, 10))
		assert.False(t, flagged)
		_, flagged = tr.Observe("s1", []float64{10})
		assert.True(t, flagged)
	})

	t.Run("human typing is not flagged", func(t *testing.T) {
		tr := newTracker(t)
		rng := rand.New(rand.NewSource(1))
		human := make([]float64, 300)
		for i := range human {
			human[i] = 80 + rng.Float64()*220
		}
		_, flagged := tr.Observe("s1", human)
		assert.False(t, flagged)
	})

	t.Run("fast but irregular is not flagged", func(t *testing.T) {
		tr := newTracker(t)
		xs := make([]float64, 100)
		for i := range xs {
			if i%2 == 0 {
				xs[i] = 1
			} else {
				xs[i] = 60
			}
		}
		_, flagged := tr.Observe("s1", xs)
		assert.False(t, flagged)
	})

	t.Run("slow and regular is not flagged", func(t *testing.T) {
		tr := newTracker(t)
		_, flagged := tr.Observe("s1", constantIntervals(100, 120))
		assert.False(t, flagged)
	})

	t.Run("sessions are independent and negatives ignored", func(t *testing.T) {
		tr := newTracker(t)
		_, flagged := tr.Observe("s1", constantIntervals(60, 10))
		assert.False(t, flagged)
		_, flagged = tr.Observe("s2", append(constantIntervals(60, 10), -5))
		assert.False(t, flagged)
		_, flagged = tr.Observe("s1", constantIntervals(40, 10))
		assert.True(t, flagged)
	})
}
