package detection

import (
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func okTransport() http.RoundTripper {
	return roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody, Request: r}, nil
	})
}

func TestInterceptor(t *testing.T) {
	var mu sync.Mutex
	var reported []Signal
	report := func(s Signal) {
		mu.Lock()
		reported = append(reported, s)
		mu.Unlock()
	}

	base := okTransport()
	client := &http.Client{Transport: base}
	ic := NewInterceptor(testPatterns(t), "s1", report)

	require.NoError(t, ic.Install(client))
	assert.ErrorIs(t, ic.Install(client), ErrInterceptorInstalled)
	assert.ErrorIs(t, NewInterceptor(testPatterns(t), "s2", report).Install(client), ErrInterceptorInstalled)

	for _, u := range []string{"https://api.openai.com/v1/chat/completions", "https://example.com/"} {
		resp, err := client.Get(u)
		require.NoError(t, err)
		resp.Body.Close()
	}

	require.Len(t, reported, 1)
	assert.Equal(t, SignalNetworkRequest, reported[0].Type)
	assert.Equal(t, "s1", reported[0].SessionID)
	assert.Equal(t, "https://api.openai.com/v1/chat/completions", reported[0].URL)

	ic.Uninstall()
	ic.Uninstall()
	resp, err := client.Get("https://api.anthropic.com/v1/messages")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Len(t, reported, 1, "no reports after uninstall")
	assert.NotNil(t, client.Transport)

	// Reinstall after uninstall is allowed.
	require.NoError(t, ic.Install(client))
	ic.Uninstall()
}

func TestInterceptor_NilTransportRestoresNil(t *testing.T) {
	client := &http.Client{}
	ic := NewInterceptor(testPatterns(t), "s1", func(Signal) {})
	require.NoError(t, ic.Install(client))
	assert.NotNil(t, client.Transport)
	ic.Uninstall()
	assert.Nil(t, client.Transport)
}
