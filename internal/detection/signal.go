// Package detection turns raw behavioral signals into a low-volume stream of
// severity-tagged incidents.
package detection

import "time"

type SignalType string

const (
	SignalTabSwitch      SignalType = "tab-switch"
	SignalWindowBlur     SignalType = "window-blur"
	SignalPaste          SignalType = "paste"
	SignalCopy           SignalType = "copy"
	SignalHoneypot       SignalType = "honeypot"
	SignalImageBeacon    SignalType = "image-beacon"
	SignalNetworkRequest SignalType = "network-request"
	SignalPageRequest    SignalType = "page-request"
	SignalKeystrokes     SignalType = "keystrokes"
)

// Signal is one raw observation, from a client event or from the server's
// own request handling.
type Signal struct {
	// EventID is the client's idempotency key; empty for server signals.
	EventID   string
	Type      SignalType
	SessionID string
	At        time.Time
	OriginIP  string
	UserAgent string

	// copy
	FromProblem bool
	Length      int

	// network-request
	URL string

	// honeypot, image-beacon, page-request
	Path    string
	Host    string
	Referer string
	Origin  string

	// keystrokes, in milliseconds
	Intervals []float64
}

// subject is the key windows and throttles are tracked under. Signals bound
// to no session fall back to their origin.
func (s Signal) subject() string {
	if s.SessionID != "" {
		return "s:" + s.SessionID
	}
	return "ip:" + s.OriginIP
}
