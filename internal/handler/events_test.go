package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hireproctor/interview-server-go/internal/model"
	"github.com/hireproctor/interview-server-go/internal/service"
	"github.com/hireproctor/interview-server-go/internal/sse"
)

func TestEventsHandler_sendEvent(t *testing.T) {
	handler := &EventsHandler{}
	rec := httptest.NewRecorder()

	err := handler.sendEvent(rec, rec, sse.EventState, model.SessionState{ID: "s1", Approved: true})

	require.NoError(t, err)
	body := rec.Body.String()
	assert.Contains(t, body, "event: state\n")
	assert.Contains(t, body, `"approved":true`)
	assert.True(t, strings.HasSuffix(body, "\n\n"))
}

func TestEventsHandler_sendRawEvent(t *testing.T) {
	handler := &EventsHandler{}
	rec := httptest.NewRecorder()

	err := handler.sendRawEvent(rec, rec, sse.Event{Type: sse.EventCode, Data: json.RawMessage(`{"code":"x"}`)})

	require.NoError(t, err)
	assert.Equal(t, "event: code\ndata: {\"code\":\"x\"}\n\n", rec.Body.String())
}

func TestVisibleTo(t *testing.T) {
	interviewer := service.Actor{InterviewerID: "alice"}
	candidate := service.Actor{}

	for _, typ := range []string{sse.EventIncident, sse.EventAlert} {
		assert.True(t, visibleTo(sse.Event{Type: typ}, interviewer))
		assert.False(t, visibleTo(sse.Event{Type: typ}, candidate), typ)
	}
	for _, typ := range []string{sse.EventState, sse.EventCode} {
		assert.True(t, visibleTo(sse.Event{Type: typ}, candidate), typ)
	}
}

type sseReader struct {
	t      *testing.T
	lines  chan string
	cancel context.CancelFunc
}

func openStream(t *testing.T, url, interviewer string) *sseReader {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	require.NoError(t, err)
	if interviewer != "" {
		req.Header.Set("X-Interviewer", interviewer)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	r := &sseReader{t: t, lines: make(chan string, 64), cancel: cancel}
	go func() {
		defer resp.Body.Close()
		defer close(r.lines)
		s := bufio.NewScanner(resp.Body)
		for s.Scan() {
			r.lines <- s.Text()
		}
	}()
	t.Cleanup(cancel)
	return r
}

// next returns the first line that satisfies match, discarding the rest.
func (r *sseReader) next(match func(string) bool) string {
	r.t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case line, ok := <-r.lines:
			if !ok {
				r.t.Fatal("stream closed")
			}
			if match(line) {
				return line
			}
		case <-timeout:
			r.t.Fatal("timed out waiting for stream line")
			return ""
		}
	}
}

func isEventLine(line string) bool { return strings.HasPrefix(line, "event: ") }

func TestEventsHandler_Stream(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.router)
	defer srv.Close()
	s := f.create(t, "alice")
	ctx := context.Background()
	url := srv.URL + "/api/sessions/" + s.ID + "/events"

	interviewer := openStream(t, url, "alice")
	candidate := openStream(t, url, "")

	assert.Equal(t, "event: state", interviewer.next(isEventLine), "snapshot first")
	assert.Equal(t, "event: state", candidate.next(isEventLine))
	require.Eventually(t, func() bool { return f.broker.ClientCount(s.ID) == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, f.broker.PublishIncident(ctx, &model.Incident{ID: "i1", SessionID: &s.ID, Kind: model.KindTabSwitch}))
	require.NoError(t, f.broker.PublishAlert(ctx, &model.Alert{SessionID: s.ID, Kind: model.KindTabSwitch, Count: 3}))
	require.NoError(t, f.broker.PublishCode(ctx, model.CodeSnapshot{SessionID: s.ID, Code: "x"}))

	assert.Equal(t, "event: incident", interviewer.next(isEventLine))
	assert.Equal(t, "event: alert", interviewer.next(isEventLine))
	assert.Equal(t, "event: code", interviewer.next(isEventLine))
	assert.Equal(t, "event: code", candidate.next(isEventLine), "candidates never see detection events")

	assert.Equal(t, ": ping", candidate.next(func(l string) bool { return strings.HasPrefix(l, ":") }))

	interviewer.cancel()
	candidate.cancel()
	require.Eventually(t, func() bool { return f.broker.ClientCount(s.ID) == 0 }, time.Second, 5*time.Millisecond)
}

func TestEventsHandler_Rejections(t *testing.T) {
	f := newFixture(t)
	s := f.create(t, "alice")

	t.Run("unknown session", func(t *testing.T) {
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/00000000-0000-0000-0000-000000000000/events", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("another interviewer's session", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/sessions/"+s.ID+"/events", nil)
		req.Header.Set("X-Interviewer", "bob")
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}
