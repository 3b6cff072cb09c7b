package detection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hireproctor/interview-server-go/internal/config"
	"github.com/hireproctor/interview-server-go/internal/policy"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func testPatterns(t *testing.T) *Patterns {
	t.Helper()
	p, err := policy.Default()
	require.NoError(t, err)
	patterns, err := CompilePatterns(p.LLMDomains, p.BotUserAgents)
	require.NoError(t, err)
	return patterns
}

func testClassifier(t *testing.T) *Classifier {
	t.Helper()
	cfg := config.DefaultDetection()
	throttle, err := NewMemoryThrottle(128)
	require.NoError(t, err)
	typing, err := NewTypingTracker(128, cfg.TypingWindowSize, cfg.TypingVarianceThresholdMS2, cfg.TypingMeanThresholdMS)
	require.NoError(t, err)
	return NewClassifier(cfg, NewMemoryWindow(time.Minute), throttle, typing, testPatterns(t), "interview.example.com")
}
