package detection

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hireproctor/interview-server-go/internal/model"
)

func TestClassify_FocusLossEscalates(t *testing.T) {
	c := testClassifier(t)
	ctx := context.Background()

	want := []model.Severity{
		model.SeverityLow, model.SeverityLow,
		model.SeverityMedium, model.SeverityMedium,
		model.SeverityHigh, model.SeverityHigh,
	}
	for i, sev := range want {
		out, err := c.Classify(ctx, Signal{Type: SignalTabSwitch, SessionID: "s1", At: t0.Add(time.Duration(i) * time.Second)})
		require.NoError(t, err)
		require.NotNil(t, out.Incident, "focus loss is always recorded")
		assert.Equal(t, model.KindTabSwitch, out.Incident.Kind)
		assert.Equal(t, sev, out.Incident.Severity, "occurrence %d", i+1)
	}

	// Outside the 60s window the count starts over.
	out, err := c.Classify(ctx, Signal{Type: SignalTabSwitch, SessionID: "s1", At: t0.Add(2 * time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, model.SeverityLow, out.Incident.Severity)
	assert.False(t, out.Incident.Suspicious)
}

func TestClassify_FocusLossAlertThrottle(t *testing.T) {
	c := testClassifier(t)
	ctx := context.Background()

	var alerts int
	for i := 0; i < 5; i++ {
		out, err := c.Classify(ctx, Signal{Type: SignalWindowBlur, SessionID: "s1", At: t0.Add(time.Duration(i) * time.Second)})
		require.NoError(t, err)
		require.NotNil(t, out.Incident)
		if out.Alert != nil {
			alerts++
		}
	}
	assert.Equal(t, 1, alerts)

	out, err := c.Classify(ctx, Signal{Type: SignalTabSwitch, SessionID: "s1", At: t0.Add(11 * time.Second)})
	require.NoError(t, err)
	require.NotNil(t, out.Alert)
	assert.Equal(t, model.KindTabSwitch, out.Alert.Kind)
}

func TestClassify_PasteBurst(t *testing.T) {
	c := testClassifier(t)
	ctx := context.Background()
	paste := func(at time.Time) *model.Incident {
		out, err := c.Classify(ctx, Signal{Type: SignalPaste, SessionID: "s1", At: at})
		require.NoError(t, err)
		return out.Incident
	}

	assert.Nil(t, paste(t0))
	assert.Nil(t, paste(t0.Add(3*time.Second)))

	inc := paste(t0.Add(6 * time.Second))
	require.NotNil(t, inc)
	assert.Equal(t, model.KindCopyPaste, inc.Kind)
	assert.Equal(t, model.SeverityMedium, inc.Severity)

	var details map[string]any
	require.NoError(t, json.Unmarshal(inc.Details, &details))
	assert.Equal(t, float64(3), details["pasteCount"])

	// The window was reset: the next incident needs a whole new burst.
	assert.Nil(t, paste(t0.Add(7*time.Second)))
	assert.Nil(t, paste(t0.Add(8*time.Second)))
	assert.NotNil(t, paste(t0.Add(9*time.Second)))
}

func TestClassify_PastesSpreadOutAreSuppressed(t *testing.T) {
	c := testClassifier(t)
	for i := 0; i < 6; i++ {
		out, err := c.Classify(context.Background(), Signal{Type: SignalPaste, SessionID: "s1", At: t0.Add(time.Duration(i) * 6 * time.Second)})
		require.NoError(t, err)
		assert.Nil(t, out.Incident)
	}
}

func TestClassify_Copy(t *testing.T) {
	c := testClassifier(t)
	ctx := context.Background()

	tests := []struct {
		name        string
		fromProblem bool
		length      int
		logged      bool
	}{
		{"long copy from problem", true, 60, true},
		{"exactly minimum length", true, 50, true},
		{"short copy from problem", true, 49, false},
		{"long copy from editor", false, 500, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out, err := c.Classify(ctx, Signal{Type: SignalCopy, SessionID: "s1", FromProblem: tc.fromProblem, Length: tc.length, At: t0})
			require.NoError(t, err)
			assert.Equal(t, tc.logged, out.Incident != nil)
		})
	}
}

func TestClassify_TrapHitSameOrigin(t *testing.T) {
	c := testClassifier(t)
	ctx := context.Background()
	base := Signal{Type: SignalHoneypot, SessionID: "s1", OriginIP: "198.51.100.4", Host: "localhost:8080", Path: "/docs/x/1", At: t0}

	tests := []struct {
		name    string
		referer string
		origin  string
		logged  bool
	}{
		{"referer equals serving host", "http://localhost:8080/session/s1", "", false},
		{"origin equals public host", "", "https://interview.example.com", false},
		{"foreign referer", "https://evil.example.net/x", "", true},
		{"absent referer", "", "", true},
		{"null origin", "", "null", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sig := base
			sig.Referer = tc.referer
			sig.Origin = tc.origin
			out, err := c.Classify(ctx, sig)
			require.NoError(t, err)
			if !tc.logged {
				assert.Nil(t, out.Incident)
				return
			}
			require.NotNil(t, out.Incident)
			assert.Equal(t, model.KindHoneypotAccess, out.Incident.Kind)
			assert.Equal(t, model.SeverityHigh, out.Incident.Severity)
			assert.True(t, out.Incident.Suspicious)
			assert.Equal(t, "198.51.100.4", *out.Incident.OriginIP)
		})
	}

	t.Run("image beacon kind", func(t *testing.T) {
		sig := base
		sig.Type = SignalImageBeacon
		out, err := c.Classify(ctx, sig)
		require.NoError(t, err)
		require.NotNil(t, out.Incident)
		assert.Equal(t, model.KindImageBeacon, out.Incident.Kind)
		assert.Equal(t, model.SeverityHigh, out.Incident.Severity)
	})
}

func TestClassify_NetworkRequest(t *testing.T) {
	c := testClassifier(t)

	out, err := c.Classify(context.Background(), Signal{Type: SignalNetworkRequest, SessionID: "s1", URL: "https://api.openai.com/v1/chat/completions", At: t0})
	require.NoError(t, err)
	require.NotNil(t, out.Incident)
	assert.Equal(t, model.KindLLMAPIRequest, out.Incident.Kind)
	assert.Equal(t, model.SeverityMedium, out.Incident.Severity)

	out, err = c.Classify(context.Background(), Signal{Type: SignalNetworkRequest, SessionID: "s1", URL: "https://cdn.jsdelivr.net/npm/x", At: t0})
	require.NoError(t, err)
	assert.Nil(t, out.Incident)
}

func TestClassify_PageRequest(t *testing.T) {
	c := testClassifier(t)

	out, err := c.Classify(context.Background(), Signal{Type: SignalPageRequest, UserAgent: "python-requests/2.31.0", OriginIP: "203.0.113.9", Path: "/problems", At: t0})
	require.NoError(t, err)
	require.NotNil(t, out.Incident)
	assert.Equal(t, model.KindScraperAccess, out.Incident.Kind)
	assert.Nil(t, out.Incident.SessionID)

	browser := "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_4) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15"
	out, err = c.Classify(context.Background(), Signal{Type: SignalPageRequest, UserAgent: browser, Path: "/problems", At: t0})
	require.NoError(t, err)
	assert.Nil(t, out.Incident)
}

func TestClassify_Keystrokes(t *testing.T) {
	c := testClassifier(t)

	robotic := make([]float64, 100)
	for i := range robotic {
		robotic[i] = 20 + float64(i%2)
	}
	out, err := c.Classify(context.Background(), Signal{Type: SignalKeystrokes, SessionID: "s1", Intervals: robotic, At: t0})
	require.NoError(t, err)
	require.NotNil(t, out.Incident)
	assert.Equal(t, model.KindTypingPatternAnomaly, out.Incident.Kind)
}

func TestClassify_UnknownType(t *testing.T) {
	c := testClassifier(t)
	_, err := c.Classify(context.Background(), Signal{Type: "teleport"})
	assert.Error(t, err)
}
