package model

// IncidentKind is the closed set of suspicious-behavior categories.
type IncidentKind string

const (
	KindTabSwitch            IncidentKind = "tab-switch"
	KindWindowBlur           IncidentKind = "window-blur"
	KindCopyPaste            IncidentKind = "copy-paste"
	KindHoneypotAccess       IncidentKind = "honeypot-access"
	KindImageBeacon          IncidentKind = "markdown-image-beacon"
	KindLLMAPIRequest        IncidentKind = "llm-api-request"
	KindScraperAccess        IncidentKind = "scraper-access"
	KindTypingPatternAnomaly IncidentKind = "typing-pattern-anomaly"
)

var incidentKinds = map[IncidentKind]struct{}{
	KindTabSwitch:            {},
	KindWindowBlur:           {},
	KindCopyPaste:            {},
	KindHoneypotAccess:       {},
	KindImageBeacon:          {},
	KindLLMAPIRequest:        {},
	KindScraperAccess:        {},
	KindTypingPatternAnomaly: {},
}

func (k IncidentKind) Valid() bool {
	_, ok := incidentKinds[k]
	return ok
}

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Rank orders severities for sorting; unknown values rank lowest.
func (s Severity) Rank() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

func (s Severity) Valid() bool {
	return s.Rank() > 0
}
