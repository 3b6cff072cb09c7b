package detection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/hireproctor/interview-server-go/internal/errors"
)

func TestEventValidator_Parse(t *testing.T) {
	v, err := NewEventValidator()
	require.NoError(t, err)

	t.Run("accepts raw signal", func(t *testing.T) {
		ev, err := v.Parse([]byte(`{"eventId":"e1","type":"copy","sessionId":"s1","fromProblem":true,"length":60}`))
		require.NoError(t, err)
		assert.Equal(t, "copy", ev.Type)
		assert.True(t, ev.FromProblem)
		assert.Equal(t, 60, ev.Length)
	})

	invalid := map[string]string{
		"not json":                     `{"type":`,
		"missing type":                 `{"sessionId":"s1"}`,
		"unknown type":                 `{"type":"honeypot-access"}`,
		"network request without url":  `{"type":"network-request"}`,
		"keystrokes without intervals": `{"type":"keystrokes"}`,
		"negative interval":            `{"type":"keystrokes","intervals":[10,-1]}`,
		"bad timestamp":                `{"type":"paste","timestamp":"yesterday"}`,
	}
	for name, body := range invalid {
		t.Run(name, func(t *testing.T) {
			_, err := v.Parse([]byte(body))
			require.Error(t, err)
			assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))
			appErr, _ := apperrors.AsAppError(err)
			assert.Equal(t, "Invalid event", appErr.Message)
		})
	}
}

func TestClientEvent_Signal(t *testing.T) {
	now := t0

	t.Run("maps classified kinds to raw signals", func(t *testing.T) {
		tests := []struct {
			ev   ClientEvent
			want SignalType
		}{
			{ClientEvent{Type: "copy-paste", Direction: "copy"}, SignalCopy},
			{ClientEvent{Type: "copy-paste"}, SignalPaste},
			{ClientEvent{Type: "llm-api-request"}, SignalNetworkRequest},
			{ClientEvent{Type: "typing-pattern-anomaly"}, SignalKeystrokes},
			{ClientEvent{Type: "tab-switch"}, SignalTabSwitch},
		}
		for _, tc := range tests {
			assert.Equal(t, tc.want, tc.ev.Signal("", "", now).Type, tc.ev.Type)
		}
	})

	t.Run("keeps plausible client timestamps", func(t *testing.T) {
		at := now.Add(-30 * time.Second)
		sig := ClientEvent{Type: "paste", Timestamp: at}.Signal("203.0.113.1", "ua", now)
		assert.Equal(t, at, sig.At)
		assert.Equal(t, "203.0.113.1", sig.OriginIP)
	})

	t.Run("replaces skewed or missing timestamps", func(t *testing.T) {
		assert.Equal(t, now, ClientEvent{Type: "paste", Timestamp: now.Add(time.Hour)}.Signal("", "", now).At)
		assert.Equal(t, now, ClientEvent{Type: "paste"}.Signal("", "", now).At)
	})
}
