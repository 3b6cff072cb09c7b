package detection

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/hireproctor/interview-server-go/internal/config"
	"github.com/hireproctor/interview-server-go/internal/model"
)

// Outcome is the result of classifying one signal. A nil Incident means the
// signal was filtered by policy.
type Outcome struct {
	Incident *model.Incident
	Alert    *model.Alert
}

type Classifier struct {
	cfg          config.DetectionConfig
	windows      WindowStore
	throttle     Throttle
	typing       *TypingTracker
	patterns     *Patterns
	servingHosts []string
}

// NewClassifier wires the per-kind policies. servingHosts are the hosts the
// platform itself serves pages from; trap hits referred from them are
// treated as the platform's own render.
func NewClassifier(
	cfg config.DetectionConfig,
	windows WindowStore,
	throttle Throttle,
	typing *TypingTracker,
	patterns *Patterns,
	servingHosts ...string,
) *Classifier {
	return &Classifier{
		cfg:          cfg,
		windows:      windows,
		throttle:     throttle,
		typing:       typing,
		patterns:     patterns,
		servingHosts: servingHosts,
	}
}

func (c *Classifier) Classify(ctx context.Context, sig Signal) (Outcome, error) {
	if sig.At.IsZero() {
		sig.At = time.Now().UTC()
	}

	switch sig.Type {
	case SignalTabSwitch, SignalWindowBlur:
		return c.classifyFocusLoss(ctx, sig), nil
	case SignalPaste:
		return c.classifyPaste(ctx, sig)
	case SignalCopy:
		return c.classifyCopy(sig), nil
	case SignalHoneypot, SignalImageBeacon:
		return c.classifyTrapHit(sig), nil
	case SignalNetworkRequest:
		return c.classifyNetworkRequest(sig), nil
	case SignalPageRequest:
		return c.classifyPageRequest(sig), nil
	case SignalKeystrokes:
		return c.classifyKeystrokes(sig), nil
	default:
		return Outcome{}, fmt.Errorf("unknown signal type %q", sig.Type)
	}
}

// Focus loss is always recorded. Severity follows the count in the window and
// the companion alert is throttled per session.
func (c *Classifier) classifyFocusLoss(ctx context.Context, sig Signal) Outcome {
	kind := model.KindTabSwitch
	if sig.Type == SignalWindowBlur {
		kind = model.KindWindowBlur
	}

	count, err := c.windows.Add(ctx, sig.subject()+":"+string(kind), sig.At, c.cfg.TabSwitchWindow())
	if err != nil {
		log.Warn().Err(err).Str("kind", string(kind)).Msg("focus window unavailable, recording without count")
		count = 1
	}

	var severity model.Severity
	switch {
	case count >= 5:
		severity = model.SeverityHigh
	case count >= 3:
		severity = model.SeverityMedium
	default:
		severity = model.SeverityLow
	}

	out := Outcome{Incident: newIncident(sig, kind, severity, map[string]any{
		"windowCount":   count,
		"windowSeconds": c.cfg.TabSwitchWindowSeconds,
	})}

	if sig.SessionID != "" {
		allowed, err := c.throttle.Allow(ctx, "alert:"+sig.SessionID, sig.At, c.cfg.AlertThrottle())
		if err != nil {
			log.Warn().Err(err).Str("sessionId", sig.SessionID).Msg("alert throttle unavailable, skipping alert")
		} else if allowed {
			out.Alert = &model.Alert{SessionID: sig.SessionID, Kind: kind, Count: count, At: sig.At}
		}
	}
	return out
}

// Isolated pastes are normal. A burst produces one incident and clears the
// window so the next incident needs a new burst.
func (c *Classifier) classifyPaste(ctx context.Context, sig Signal) (Outcome, error) {
	key := sig.subject() + ":paste"
	count, err := c.windows.Add(ctx, key, sig.At, c.cfg.PasteBurstWindow())
	if err != nil {
		return Outcome{}, err
	}
	if count < c.cfg.PasteBurstThreshold {
		return Outcome{}, nil
	}
	if err := c.windows.Reset(ctx, key); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("failed to reset paste window")
	}
	return Outcome{Incident: newIncident(sig, model.KindCopyPaste, model.SeverityMedium, map[string]any{
		"direction":     "paste",
		"pasteCount":    count,
		"windowSeconds": c.cfg.PasteBurstWindowSeconds,
	})}, nil
}

// Copies out of the problem statement are the injection trigger and are
// always audited past the minimum length.
func (c *Classifier) classifyCopy(sig Signal) Outcome {
	if !sig.FromProblem || sig.Length < c.cfg.CopyMinLength {
		return Outcome{}
	}
	return Outcome{Incident: newIncident(sig, model.KindCopyPaste, model.SeverityMedium, map[string]any{
		"direction": "copy",
		"source":    "problem",
		"length":    sig.Length,
	})}
}

func (c *Classifier) classifyTrapHit(sig Signal) Outcome {
	if c.SameOrigin(sig) {
		return Outcome{}
	}
	kind := model.KindHoneypotAccess
	if sig.Type == SignalImageBeacon {
		kind = model.KindImageBeacon
	}
	details := map[string]any{"path": sig.Path}
	if sig.Referer != "" {
		details["referer"] = sig.Referer
	}
	return Outcome{Incident: newIncident(sig, kind, model.SeverityHigh, details)}
}

// SameOrigin reports whether a trap request was referred by the platform's
// own pages.
func (c *Classifier) SameOrigin(sig Signal) bool {
	for _, ref := range []string{sig.Referer, sig.Origin} {
		host := hostOf(ref)
		if host == "" {
			continue
		}
		if sig.Host != "" && strings.EqualFold(host, sig.Host) {
			return true
		}
		for _, h := range c.servingHosts {
			if h != "" && strings.EqualFold(host, h) {
				return true
			}
		}
	}
	return false
}

func hostOf(raw string) string {
	if raw == "" || raw == "null" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Host
}

func (c *Classifier) classifyNetworkRequest(sig Signal) Outcome {
	host, ok := c.patterns.MatchLLMURL(sig.URL)
	if !ok {
		return Outcome{}
	}
	return Outcome{Incident: newIncident(sig, model.KindLLMAPIRequest, model.SeverityMedium, map[string]any{
		"host": host,
		"url":  sig.URL,
	})}
}

func (c *Classifier) classifyPageRequest(sig Signal) Outcome {
	pattern, ok := c.patterns.MatchBot(sig.UserAgent)
	if !ok {
		return Outcome{}
	}
	return Outcome{Incident: newIncident(sig, model.KindScraperAccess, model.SeverityMedium, map[string]any{
		"path":      sig.Path,
		"signature": pattern,
	})}
}

func (c *Classifier) classifyKeystrokes(sig Signal) Outcome {
	stats, flagged := c.typing.Observe(sig.subject(), sig.Intervals)
	if !flagged {
		return Outcome{}
	}
	return Outcome{Incident: newIncident(sig, model.KindTypingPatternAnomaly, model.SeverityMedium, map[string]any{
		"samples":     stats.Samples,
		"meanMs":      stats.MeanMS,
		"varianceMs2": stats.Variance,
	})}
}

func newIncident(sig Signal, kind model.IncidentKind, severity model.Severity, details map[string]any) *model.Incident {
	raw, _ := json.Marshal(details)
	inc := &model.Incident{
		ID:         uuid.NewString(),
		Kind:       kind,
		Severity:   severity,
		Suspicious: severity != model.SeverityLow,
		Details:    raw,
		OccurredAt: sig.At.UTC(),
	}
	if sig.SessionID != "" {
		id := sig.SessionID
		inc.SessionID = &id
	}
	if sig.OriginIP != "" {
		ip := sig.OriginIP
		inc.OriginIP = &ip
	}
	if sig.UserAgent != "" {
		ua := sig.UserAgent
		inc.UserAgent = &ua
	}
	return inc
}
