package detection

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// TypingStats summarizes a full window of inter-keystroke intervals.
type TypingStats struct {
	Samples  int     `json:"samples"`
	MeanMS   float64 `json:"meanMs"`
	Variance float64 `json:"varianceMs2"`
}

type typingWindow struct {
	intervals []float64
	next      int
	full      bool
}

// TypingTracker keeps the last N keystroke intervals per key and flags
// windows that are both too fast and too regular to be human typing.
type TypingTracker struct {
	mu                sync.Mutex
	windows           *lru.Cache[string, *typingWindow]
	size              int
	varianceThreshold float64
	meanThreshold     float64
}

func NewTypingTracker(cacheSize, windowSize int, varianceThreshold, meanThreshold float64) (*TypingTracker, error) {
	cache, err := lru.New[string, *typingWindow](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("typing cache: %w", err)
	}
	return &TypingTracker{
		windows:           cache,
		size:              windowSize,
		varianceThreshold: varianceThreshold,
		meanThreshold:     meanThreshold,
	}, nil
}

// Observe appends intervals (milliseconds) to key's window. It reports the
// stats of the first full window that trips both thresholds; that window is
// then cleared and the remaining intervals start a new one.
func (t *TypingTracker) Observe(key string, intervals []float64) (TypingStats, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	w, ok := t.windows.Get(key)
	if !ok {
		w = &typingWindow{intervals: make([]float64, t.size)}
		t.windows.Add(key, w)
	}

	var flagged bool
	var stats TypingStats
	for _, iv := range intervals {
		if iv < 0 {
			continue
		}
		w.intervals[w.next] = iv
		w.next = (w.next + 1) % t.size
		if w.next == 0 {
			w.full = true
		}
		if !w.full || flagged {
			continue
		}

		s := summarize(w.intervals)
		if s.Variance < t.varianceThreshold && s.MeanMS < t.meanThreshold {
			flagged = true
			stats = s
			w.next = 0
			w.full = false
		}
	}
	return stats, flagged
}

func summarize(xs []float64) TypingStats {
	n := float64(len(xs))
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / n
	var sq float64
	for _, x := range xs {
		d := x - mean
		sq += d * d
	}
	return TypingStats{Samples: len(xs), MeanMS: mean, Variance: sq / (n - 1)}
}
