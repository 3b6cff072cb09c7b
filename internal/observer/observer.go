// Package observer keeps one view of an interview session in sync with the
// server. Pushed updates arrive over the session's event stream; a poll loop
// fetches authoritative state on a fixed interval and covers anything the
// push channel dropped. Both paths reconcile through the session's state key,
// so seeing the same state twice is a no-op.
package observer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/hireproctor/interview-server-go/internal/detection"
	"github.com/hireproctor/interview-server-go/internal/model"
	"github.com/hireproctor/interview-server-go/internal/session"
	"github.com/hireproctor/interview-server-go/internal/sse"
)

const (
	DefaultPollInterval = 2 * time.Second
	DefaultCodeDebounce = 2 * time.Second

	requestTimeout = 10 * time.Second

	// incidentOverlap is subtracted from the incident cursor on every poll.
	// Incidents are stamped before they commit, so one stamped earlier can
	// become visible after a later one was already listed. It exceeds the
	// server's trap recording timeout.
	incidentOverlap = 10 * time.Second
)

var (
	ErrClosed = errors.New("observer closed")
	ErrEnded  = errors.New("session has ended")
)

// Config zero values for PollInterval and CodeDebounce follow the timing the
// server sends with the session state, then the package defaults.
type Config struct {
	SessionID    string
	PollInterval time.Duration
	CodeDebounce time.Duration
	// Author tags this view's code edits. Broadcasts carrying the same
	// author are not echoed back.
	Author string
	// Patterns enables reporting of requests to AI services made through
	// Watch.
	Patterns *detection.Patterns
	// Watch is the client whose requests are checked against Patterns. Nil
	// watches the API client itself.
	Watch *http.Client
}

// Callbacks are invoked from the observer's goroutines, one at a time. None
// is invoked after Close returns.
type Callbacks struct {
	State    func(model.SessionState)
	Incident func(model.IncidentView)
	Alert    func(model.Alert)
	Code     func(model.CodeSnapshot)
}

type pendingCode struct {
	code     string
	language string
}

type Observer struct {
	client *Client
	cfg    Config
	cb     Callbacks

	mu       sync.Mutex
	state    model.SessionState
	hasState bool
	seen     map[string]struct{}
	since    *time.Time
	pending  *pendingCode
	debounce *time.Timer

	// deliverMu serializes callbacks and guards closed.
	deliverMu sync.Mutex
	closed    bool

	kick       chan struct{}
	pollCancel context.CancelFunc
	subCancel  context.CancelFunc
	pollDone   chan struct{}
	subDone    chan struct{}

	// sendMu orders sends.Add against the Wait in Close.
	sendMu      sync.Mutex
	sendsClosed bool
	sends       sync.WaitGroup

	interceptor *detection.Interceptor
	closeOnce   sync.Once
}

func New(client *Client, cfg Config, cb Callbacks) *Observer {
	return &Observer{
		client:   client,
		cfg:      cfg,
		cb:       cb,
		seen:     make(map[string]struct{}),
		kick:     make(chan struct{}, 1),
		pollDone: make(chan struct{}),
		subDone:  make(chan struct{}),
	}
}

// Start fetches the current state, then starts the poll loop, the event
// subscription and, when configured, the request interceptor. A failure to
// reach the session is returned; a failure to subscribe is not.
func (o *Observer) Start(ctx context.Context) error {
	st, err := o.client.State(ctx, o.cfg.SessionID)
	if err != nil {
		return err
	}
	o.mu.Lock()
	o.cfg.PollInterval = pick(o.cfg.PollInterval, st.PollIntervalMS, DefaultPollInterval)
	o.cfg.CodeDebounce = pick(o.cfg.CodeDebounce, st.CodeDebounceMS, DefaultCodeDebounce)
	o.mu.Unlock()
	o.reconcile(st)

	if o.cfg.Patterns != nil {
		watch := o.cfg.Watch
		if watch == nil {
			watch = o.client.HTTPClient()
		}
		o.interceptor = detection.NewInterceptor(o.cfg.Patterns, o.cfg.SessionID, o.reportRequest)
		if err := o.interceptor.Install(watch); err != nil {
			return err
		}
	}

	pollCtx, pollCancel := context.WithCancel(context.Background())
	subCtx, subCancel := context.WithCancel(context.Background())
	o.pollCancel = pollCancel
	o.subCancel = subCancel

	go o.pollLoop(pollCtx)
	go o.subscribeLoop(subCtx)
	return nil
}

func pick(configured time.Duration, serverMS int, fallback time.Duration) time.Duration {
	switch {
	case configured > 0:
		return configured
	case serverMS > 0:
		return time.Duration(serverMS) * time.Millisecond
	default:
		return fallback
	}
}

// State returns the last reconciled state.
func (o *Observer) State() (model.SessionState, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state, o.hasState
}

// TimeRemaining derives the remaining time from the reconciled state.
func (o *Observer) TimeRemaining(now time.Time) time.Duration {
	st, _ := o.State()
	return session.TimeRemaining(st.StartTime, st.EndTime, time.Duration(st.DurationSeconds)*time.Second, now)
}

// behind reports whether a lacks a flag b already has. Flags only move
// forward, so such a state is stale.
func behind(a, b model.SessionState) bool {
	return (b.CandidateJoinRequested && !a.CandidateJoinRequested) ||
		(b.Approved && !a.Approved) ||
		(b.InterviewerReady && !a.InterviewerReady) ||
		(b.CandidateStarted && !a.CandidateStarted) ||
		(b.Ended && !a.Ended) ||
		(b.StartTime != nil && a.StartTime == nil)
}

// reconcile adopts st unless it is the current state or older than it.
func (o *Observer) reconcile(st model.SessionState) {
	o.mu.Lock()
	if o.hasState && (st.StateKey() == o.state.StateKey() || behind(st, o.state)) {
		o.mu.Unlock()
		return
	}
	o.state = st
	o.hasState = true
	if st.Ended {
		o.cancelDebounceLocked()
	}
	o.mu.Unlock()

	o.deliver(func() {
		if o.cb.State != nil {
			o.cb.State(st)
		}
	})
}

func (o *Observer) deliver(fn func()) {
	o.deliverMu.Lock()
	defer o.deliverMu.Unlock()
	if o.closed {
		return
	}
	fn()
}

func (o *Observer) isClosed() bool {
	o.deliverMu.Lock()
	defer o.deliverMu.Unlock()
	return o.closed
}

func (o *Observer) pollLoop(ctx context.Context) {
	defer close(o.pollDone)

	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.pollState(ctx)
			o.pollIncidents(ctx)
		case <-o.kick:
			o.pollIncidents(ctx)
		}
	}
}

func (o *Observer) pollState(ctx context.Context) {
	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	st, err := o.client.State(reqCtx, o.cfg.SessionID)
	if err != nil {
		if ctx.Err() == nil {
			log.Debug().Err(err).Str("sessionId", o.cfg.SessionID).Msg("state poll failed")
		}
		return
	}
	o.reconcile(st)
}

func (o *Observer) pollIncidents(ctx context.Context) {
	if !o.client.IsInterviewer() {
		return
	}
	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	o.mu.Lock()
	var since *time.Time
	if o.since != nil {
		at := o.since.Add(-incidentOverlap)
		since = &at
	}
	o.mu.Unlock()

	views, err := o.client.Incidents(reqCtx, o.cfg.SessionID, since)
	if err != nil {
		if ctx.Err() == nil {
			log.Debug().Err(err).Str("sessionId", o.cfg.SessionID).Msg("incident poll failed")
		}
		return
	}

	var fresh []model.IncidentView
	o.mu.Lock()
	for _, v := range views {
		if _, ok := o.seen[v.ID]; ok {
			continue
		}
		o.seen[v.ID] = struct{}{}
		fresh = append(fresh, v)
		if o.since == nil || v.CreatedAt.After(*o.since) {
			at := v.CreatedAt
			o.since = &at
		}
	}
	o.mu.Unlock()

	for _, v := range fresh {
		o.deliver(func() {
			if o.cb.Incident != nil {
				o.cb.Incident(v)
			}
		})
	}
}

// subscribeLoop holds the event stream open, reconnecting after the poll
// interval whenever it drops. While disconnected the observer runs on
// polling alone.
func (o *Observer) subscribeLoop(ctx context.Context) {
	defer close(o.subDone)

	for {
		stream, err := o.client.Events(ctx, o.cfg.SessionID)
		if err == nil {
			o.consume(ctx, stream)
			stream.Close()
		} else if ctx.Err() == nil {
			log.Debug().Err(err).Str("sessionId", o.cfg.SessionID).Msg("event stream unavailable")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(o.cfg.PollInterval):
		}
	}
}

func (o *Observer) consume(ctx context.Context, stream *Stream) {
	// Unblock the read when the subscription is canceled.
	stop := context.AfterFunc(ctx, func() { stream.Close() })
	defer stop()

	for {
		ev, err := stream.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				log.Debug().Err(err).Str("sessionId", o.cfg.SessionID).Msg("event stream closed")
			}
			return
		}
		o.handleEvent(ev)
	}
}

func (o *Observer) handleEvent(ev sse.Event) {
	switch ev.Type {
	case sse.EventState:
		var st model.SessionState
		if err := json.Unmarshal(ev.Data, &st); err != nil {
			log.Warn().Err(err).Msg("malformed state event")
			return
		}
		o.reconcile(st)

	case sse.EventIncident:
		// The incident listing carries correlation, so fetch it rather than
		// surfacing the raw push.
		select {
		case o.kick <- struct{}{}:
		default:
		}

	case sse.EventAlert:
		var a model.Alert
		if err := json.Unmarshal(ev.Data, &a); err != nil {
			log.Warn().Err(err).Msg("malformed alert event")
			return
		}
		o.deliver(func() {
			if o.cb.Alert != nil {
				o.cb.Alert(a)
			}
		})

	case sse.EventCode:
		var snap model.CodeSnapshot
		if err := json.Unmarshal(ev.Data, &snap); err != nil {
			log.Warn().Err(err).Msg("malformed code event")
			return
		}
		if o.cfg.Author != "" && snap.Author == o.cfg.Author {
			return
		}
		o.deliver(func() {
			if o.cb.Code != nil {
				o.cb.Code(snap)
			}
		})
	}
}

// EditCode broadcasts an edit right away and schedules the durable save for
// after CodeDebounce without further edits.
func (o *Observer) EditCode(code, language string) error {
	if !o.beginSend() {
		return ErrClosed
	}

	o.mu.Lock()
	if o.state.Ended {
		o.mu.Unlock()
		o.sends.Done()
		return ErrEnded
	}
	debounce := o.cfg.CodeDebounce
	if debounce <= 0 {
		debounce = DefaultCodeDebounce
	}
	o.pending = &pendingCode{code: code, language: language}
	if o.debounce == nil {
		o.debounce = time.AfterFunc(debounce, o.flush)
	} else {
		o.debounce.Reset(debounce)
	}
	o.mu.Unlock()

	snap := model.CodeSnapshot{
		Author:   o.cfg.Author,
		Code:     code,
		Language: language,
		EditedAt: time.Now().UTC(),
	}
	go func() {
		defer o.sends.Done()
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		if err := o.client.BroadcastCode(ctx, o.cfg.SessionID, snap); err != nil {
			log.Debug().Err(err).Str("sessionId", o.cfg.SessionID).Msg("code broadcast failed")
		}
	}()
	return nil
}

// beginSend registers one outgoing request with Close. It reports false once
// Close has started waiting; otherwise the caller must call sends.Done.
func (o *Observer) beginSend() bool {
	o.sendMu.Lock()
	defer o.sendMu.Unlock()
	if o.sendsClosed {
		return false
	}
	o.sends.Add(1)
	return true
}

func (o *Observer) flush() {
	if !o.beginSend() {
		return
	}
	defer o.sends.Done()

	o.mu.Lock()
	p := o.pending
	o.pending = nil
	ended := o.state.Ended
	o.mu.Unlock()

	if p == nil || ended || o.isClosed() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	if err := o.client.SaveCode(ctx, o.cfg.SessionID, p.code, p.language); err != nil {
		// The next edit schedules another save.
		log.Warn().Err(err).Str("sessionId", o.cfg.SessionID).Msg("code save failed")
	}
}

func (o *Observer) cancelDebounceLocked() {
	if o.debounce != nil {
		o.debounce.Stop()
	}
	o.pending = nil
}

// ReportCopy tells the server the user copied selection out of the problem
// and returns the text the clipboard should hold.
func (o *Observer) ReportCopy(ctx context.Context, selection string) (string, error) {
	return o.client.Clipboard(ctx, o.cfg.SessionID, selection)
}

// ReportEvent sends a client-side detection event for this session.
func (o *Observer) ReportEvent(ctx context.Context, ev detection.ClientEvent) error {
	ev.SessionID = o.cfg.SessionID
	if ev.EventID == "" {
		ev.EventID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	return o.client.ReportEvent(ctx, ev)
}

func (o *Observer) reportRequest(sig detection.Signal) {
	if !o.beginSend() {
		return
	}
	go func() {
		defer o.sends.Done()
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		// Sent on a plain client so the report itself is not intercepted.
		reporter := NewClient(o.client.baseURL, o.client.token, nil)
		err := reporter.ReportEvent(ctx, detection.ClientEvent{
			EventID:   uuid.NewString(),
			Type:      string(detection.SignalNetworkRequest),
			SessionID: o.cfg.SessionID,
			Timestamp: sig.At,
			URL:       sig.URL,
		})
		if err != nil {
			log.Debug().Err(err).Msg("failed to report intercepted request")
		}
	}()
}

// Close stops polling, cancels a pending code save, drops the subscription
// and uninstalls the interceptor, in that order. No callback runs after
// Close returns.
func (o *Observer) Close() {
	o.closeOnce.Do(func() {
		if o.pollCancel != nil {
			o.pollCancel()
			<-o.pollDone
		}

		o.mu.Lock()
		o.cancelDebounceLocked()
		o.mu.Unlock()

		if o.subCancel != nil {
			o.subCancel()
			<-o.subDone
		}

		if o.interceptor != nil {
			o.interceptor.Uninstall()
		}

		o.deliverMu.Lock()
		o.closed = true
		o.deliverMu.Unlock()

		o.sendMu.Lock()
		o.sendsClosed = true
		o.sendMu.Unlock()
		o.sends.Wait()
	})
}
