package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/hireproctor/interview-server-go/internal/errors"
	"github.com/hireproctor/interview-server-go/internal/httputil"
	"github.com/hireproctor/interview-server-go/internal/model"
	"github.com/hireproctor/interview-server-go/internal/service"
	"github.com/hireproctor/interview-server-go/internal/session"
)

type SessionHandler struct {
	sessions  *service.SessionService
	incidents *service.IncidentService
	events    *EventsHandler
}

func NewSessionHandler(sessions *service.SessionService, incidents *service.IncidentService, events *EventsHandler) *SessionHandler {
	return &SessionHandler{
		sessions:  sessions,
		incidents: incidents,
		events:    events,
	}
}

// Routes expects an optional-auth middleware in front of it; operations
// decide for themselves whether they need an interviewer.
func (h *SessionHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.Create)
	r.Route("/{sessionId}", func(r chi.Router) {
		r.Get("/", h.State)
		r.Patch("/", h.Patch)
		r.Post("/join", h.Join)
		r.Get("/problem", h.Problem)
		r.Post("/clipboard", h.Clipboard)
		r.Post("/code/broadcast", h.BroadcastCode)
		r.Put("/code", h.SaveCode)
		r.Get("/code", h.GetCode)
		r.Get("/incidents", h.Incidents)
		r.Get("/events", h.events.ServeHTTP)
	})

	return r
}

// POST /api/sessions
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in service.CreateSessionInput
	if err := decodeJSON(r, &in); err != nil {
		httputil.WriteError(w, err)
		return
	}

	s, created, err := h.sessions.Create(r.Context(), actorFrom(r), in)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, s)
}

// GET /api/sessions/{sessionId}
// The poll target. Remaining time is not included; clients derive it from
// startTime and durationSeconds.
func (h *SessionHandler) State(w http.ResponseWriter, r *http.Request) {
	state, err := h.sessions.State(r.Context(), chi.URLParam(r, "sessionId"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// PATCH /api/sessions/{sessionId}
func (h *SessionHandler) Patch(w http.ResponseWriter, r *http.Request) {
	var p session.Patch
	if err := decodeJSON(r, &p); err != nil {
		httputil.WriteError(w, err)
		return
	}
	// Names travel only with the join request.
	p.CandidateName = nil

	s, err := h.sessions.ApplyPatch(r.Context(), actorFrom(r), chi.URLParam(r, "sessionId"), p)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.sessions.StateOf(s))
}

// POST /api/sessions/{sessionId}/join
func (h *SessionHandler) Join(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CandidateName string `json:"candidateName"`
	}
	if err := decodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	s, err := h.sessions.RequestJoin(r.Context(), chi.URLParam(r, "sessionId"), req.CandidateName, httputil.ClientIP(r))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.sessions.StateOf(s))
}

// GET /api/sessions/{sessionId}/problem
func (h *SessionHandler) Problem(w http.ResponseWriter, r *http.Request) {
	p, err := h.sessions.Problem(r.Context(), chi.URLParam(r, "sessionId"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// POST /api/sessions/{sessionId}/clipboard
func (h *SessionHandler) Clipboard(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Selection string `json:"selection"`
	}
	if err := decodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	text, err := h.sessions.Clipboard(r.Context(), chi.URLParam(r, "sessionId"), req.Selection, httputil.ClientIP(r), r.UserAgent())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": text})
}

type codeRequest struct {
	Code     string    `json:"code"`
	Language string    `json:"language"`
	Author   string    `json:"author,omitempty"`
	EditedAt time.Time `json:"editedAt,omitempty"`
}

// POST /api/sessions/{sessionId}/code/broadcast
func (h *SessionHandler) BroadcastCode(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := decodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	err := h.sessions.BroadcastCode(r.Context(), chi.URLParam(r, "sessionId"), model.CodeSnapshot{
		Author:   req.Author,
		Code:     req.Code,
		Language: req.Language,
		EditedAt: req.EditedAt,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PUT /api/sessions/{sessionId}/code
func (h *SessionHandler) SaveCode(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := decodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	if err := h.sessions.SaveCode(r.Context(), chi.URLParam(r, "sessionId"), req.Code, req.Language); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /api/sessions/{sessionId}/code
// The durable copy, used to restore an editor after a reload.
func (h *SessionHandler) GetCode(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessions.Get(r.Context(), chi.URLParam(r, "sessionId"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	snap := model.CodeSnapshot{SessionID: s.ID, Code: s.Code, Language: s.Language}
	if s.CodeUpdatedAt != nil {
		snap.EditedAt = *s.CodeUpdatedAt
	}
	writeJSON(w, http.StatusOK, snap)
}

// GET /api/sessions/{sessionId}/incidents?since=RFC3339
func (h *SessionHandler) Incidents(w http.ResponseWriter, r *http.Request) {
	var since *time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			httputil.WriteError(w, apperrors.InvalidInput("since", "must be an RFC 3339 timestamp"))
			return
		}
		since = &t
	}

	views, err := h.incidents.List(r.Context(), actorFrom(r), chi.URLParam(r, "sessionId"), since)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"incidents": views})
}
