package observer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hireproctor/interview-server-go/internal/detection"
	"github.com/hireproctor/interview-server-go/internal/httputil"
	"github.com/hireproctor/interview-server-go/internal/model"
	"github.com/hireproctor/interview-server-go/internal/service"
	"github.com/hireproctor/interview-server-go/internal/session"
)

// APIError is a non-2xx response from the interview server.
type APIError struct {
	Status int
	Body   httputil.ErrorResponse
}

func (e *APIError) Error() string {
	if e.Body.Code != "" {
		return fmt.Sprintf("interview api: %d %s: %s", e.Status, e.Body.Code, e.Body.Error)
	}
	return fmt.Sprintf("interview api: %d", e.Status)
}

// Client speaks the interview server's HTTP API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient returns a client for the server at baseURL. token is the
// interviewer bearer token; leave it empty to act as the candidate.
func NewClient(baseURL, token string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    hc,
	}
}

// HTTPClient is the underlying client, so an interceptor can be installed
// on it.
func (c *Client) HTTPClient() *http.Client {
	return c.http
}

func (c *Client) IsInterviewer() bool {
	return c.token != ""
}

func (c *Client) sessionPath(id string, parts ...string) string {
	p := "/api/sessions/" + url.PathEscape(id)
	for _, part := range parts {
		p += "/" + part
	}
	return p
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// do sends the request and decodes a JSON response into out when out is
// non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&apiErr.Body)
		return apiErr
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) CreateSession(ctx context.Context, in service.CreateSessionInput) (*model.Session, error) {
	var s model.Session
	if err := c.do(ctx, http.MethodPost, "/api/sessions", in, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) State(ctx context.Context, id string) (model.SessionState, error) {
	var st model.SessionState
	err := c.do(ctx, http.MethodGet, c.sessionPath(id), nil, &st)
	return st, err
}

func (c *Client) Patch(ctx context.Context, id string, p session.Patch) (model.SessionState, error) {
	var st model.SessionState
	err := c.do(ctx, http.MethodPatch, c.sessionPath(id), p, &st)
	return st, err
}

func (c *Client) Join(ctx context.Context, id, name string) (model.SessionState, error) {
	var st model.SessionState
	err := c.do(ctx, http.MethodPost, c.sessionPath(id, "join"), map[string]string{"candidateName": name}, &st)
	return st, err
}

func (c *Client) Problem(ctx context.Context, id string) (service.ProblemView, error) {
	var p service.ProblemView
	err := c.do(ctx, http.MethodGet, c.sessionPath(id, "problem"), nil, &p)
	return p, err
}

// Clipboard reports a copy of selection and returns the text the clipboard
// should hold.
func (c *Client) Clipboard(ctx context.Context, id, selection string) (string, error) {
	var out struct {
		Text string `json:"text"`
	}
	err := c.do(ctx, http.MethodPost, c.sessionPath(id, "clipboard"), map[string]string{"selection": selection}, &out)
	return out.Text, err
}

func (c *Client) BroadcastCode(ctx context.Context, id string, snap model.CodeSnapshot) error {
	return c.do(ctx, http.MethodPost, c.sessionPath(id, "code", "broadcast"), map[string]any{
		"code":     snap.Code,
		"language": snap.Language,
		"author":   snap.Author,
		"editedAt": snap.EditedAt,
	}, nil)
}

func (c *Client) SaveCode(ctx context.Context, id, code, language string) error {
	return c.do(ctx, http.MethodPut, c.sessionPath(id, "code"), map[string]string{
		"code":     code,
		"language": language,
	}, nil)
}

// Code returns the durable copy of the session's code.
func (c *Client) Code(ctx context.Context, id string) (model.CodeSnapshot, error) {
	var snap model.CodeSnapshot
	err := c.do(ctx, http.MethodGet, c.sessionPath(id, "code"), nil, &snap)
	return snap, err
}

// Incidents lists the session's incidents, optionally only those recorded
// after since. Interviewer only.
func (c *Client) Incidents(ctx context.Context, id string, since *time.Time) ([]model.IncidentView, error) {
	path := c.sessionPath(id, "incidents")
	if since != nil {
		path += "?since=" + url.QueryEscape(since.UTC().Format(time.RFC3339Nano))
	}
	var out struct {
		Incidents []model.IncidentView `json:"incidents"`
	}
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out.Incidents, err
}

// ReportEvent posts a client-side detection event.
func (c *Client) ReportEvent(ctx context.Context, ev detection.ClientEvent) error {
	return c.do(ctx, http.MethodPost, "/api/cheating-events", ev, nil)
}

// Events opens the session's live feed. The caller must close the returned
// stream.
func (c *Client) Events(ctx context.Context, id string) (*Stream, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.sessionPath(id, "events"), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&apiErr.Body)
		return nil, apiErr
	}
	return newStream(resp.Body), nil
}
