package detection

import (
	"errors"
	"net/http"
	"sync"
	"time"
)

var ErrInterceptorInstalled = errors.New("interceptor already installed")

// Interceptor watches the outgoing requests of one http.Client and reports
// those addressed to AI services. It is owned by a single session view and
// must be uninstalled with it.
type Interceptor struct {
	patterns  *Patterns
	sessionID string
	report    func(Signal)

	mu     sync.Mutex
	client *http.Client
	base   http.RoundTripper
}

func NewInterceptor(patterns *Patterns, sessionID string, report func(Signal)) *Interceptor {
	return &Interceptor{patterns: patterns, sessionID: sessionID, report: report}
}

// Install wraps c's transport. A client can carry one interceptor at a time.
func (i *Interceptor) Install(c *http.Client) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.client != nil {
		return ErrInterceptorInstalled
	}
	if _, ok := c.Transport.(*interceptTransport); ok {
		return ErrInterceptorInstalled
	}
	base := c.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	i.client = c
	i.base = c.Transport
	c.Transport = &interceptTransport{owner: i, base: base}
	return nil
}

// Uninstall restores the client's original transport. Requests already in
// flight complete but are no longer reported.
func (i *Interceptor) Uninstall() {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.client == nil {
		return
	}
	i.client.Transport = i.base
	i.client = nil
	i.base = nil
}

func (i *Interceptor) active() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.client != nil
}

type interceptTransport struct {
	owner *Interceptor
	base  http.RoundTripper
}

func (t *interceptTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	o := t.owner
	if o.active() && o.patterns.MatchLLMHost(req.URL.Host) {
		o.report(Signal{
			Type:      SignalNetworkRequest,
			SessionID: o.sessionID,
			At:        time.Now().UTC(),
			URL:       req.URL.String(),
		})
	}
	return t.base.RoundTrip(req)
}
