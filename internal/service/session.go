package service

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/hireproctor/interview-server-go/internal/audit"
	"github.com/hireproctor/interview-server-go/internal/detection"
	apperrors "github.com/hireproctor/interview-server-go/internal/errors"
	"github.com/hireproctor/interview-server-go/internal/honeypot"
	"github.com/hireproctor/interview-server-go/internal/metrics"
	"github.com/hireproctor/interview-server-go/internal/model"
	"github.com/hireproctor/interview-server-go/internal/payload"
	"github.com/hireproctor/interview-server-go/internal/repository"
	"github.com/hireproctor/interview-server-go/internal/session"
	"github.com/hireproctor/interview-server-go/internal/util"
)

const (
	maxCandidateNameLen = 100
	maxDurationSeconds  = 8 * 60 * 60
)

// DefaultAttackConfig is applied when a session is created without one.
var DefaultAttackConfig = model.AttackConfig{
	Techniques: []string{
		string(payload.HiddenPadding),
		string(payload.ClipboardInjection),
		string(payload.ImageBeacon),
	},
	Hidden: true,
}

// Actor is the caller of a session operation. A zero Actor is the candidate.
type Actor struct {
	InterviewerID string
}

func (a Actor) IsInterviewer() bool {
	return a.InterviewerID != ""
}

// Feed pushes lifecycle and code changes to a session's live observers.
type Feed interface {
	PublishState(ctx context.Context, state model.SessionState) error
	PublishCode(ctx context.Context, snap model.CodeSnapshot) error
}

// SignalSink accepts server-observed signals.
type SignalSink interface {
	Ingest(ctx context.Context, sig detection.Signal) *model.Incident
}

type CreateSessionInput struct {
	ID              string              `json:"id,omitempty"`
	ProblemID       string              `json:"problemId"`
	DurationSeconds int                 `json:"durationSeconds,omitempty"`
	CandidateID     *string             `json:"candidateId,omitempty"`
	AttackConfig    *model.AttackConfig `json:"attackConfig,omitempty"`
}

// ProblemView is a problem as rendered into one session.
type ProblemView struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Timing holds the session defaults and the sync intervals handed to
// observers with every state.
type Timing struct {
	DefaultDuration time.Duration
	PollInterval    time.Duration
	CodeDebounce    time.Duration
}

type SessionService struct {
	sessions repository.SessionRepository
	problems repository.ProblemRepository
	registry *honeypot.Registry
	composer *payload.Composer
	feed     Feed
	signals  SignalSink
	metrics  *metrics.Metrics
	timing   Timing
	now      func() time.Time
}

func NewSessionService(
	sessions repository.SessionRepository,
	problems repository.ProblemRepository,
	registry *honeypot.Registry,
	composer *payload.Composer,
	feed Feed,
	signals SignalSink,
	m *metrics.Metrics,
	timing Timing,
) *SessionService {
	return &SessionService{
		sessions: sessions,
		problems: problems,
		registry: registry,
		composer: composer,
		feed:     feed,
		signals:  signals,
		metrics:  m,
		timing:   timing,
		now:      time.Now,
	}
}

// Create inserts a session unless one with the same id exists, in which case
// the stored session is returned. created reports which happened.
func (s *SessionService) Create(ctx context.Context, actor Actor, in CreateSessionInput) (*model.Session, bool, error) {
	if !actor.IsInterviewer() {
		return nil, false, apperrors.Forbidden("Only interviewers can create sessions")
	}
	if in.ID == "" {
		in.ID = uuid.NewString()
	} else if !util.IsValidUUID(in.ID) {
		return nil, false, apperrors.InvalidInput("id", "must be a lowercase UUID")
	}
	if in.ProblemID == "" {
		return nil, false, apperrors.MissingRequired("problemId")
	}
	if !util.IsValidSlug(in.ProblemID) {
		return nil, false, apperrors.InvalidInput("problemId", "must be a lowercase slug")
	}
	if in.DurationSeconds < 0 || in.DurationSeconds > maxDurationSeconds {
		return nil, false, apperrors.InvalidInput("durationSeconds", fmt.Sprintf("must be between 1 and %d", maxDurationSeconds)).
			WithDetails(map[string]int{"min": 1, "max": maxDurationSeconds})
	}
	if in.DurationSeconds == 0 {
		in.DurationSeconds = int(s.timing.DefaultDuration / time.Second)
	}

	attack := DefaultAttackConfig
	if in.AttackConfig != nil {
		attack = *in.AttackConfig
	}
	techniques, err := payload.ParseTechniques(attack.Techniques)
	if err != nil {
		return nil, false, err
	}
	attack.Techniques = attack.Techniques[:0:0]
	for _, t := range s.composer.Normalize(techniques) {
		attack.Techniques = append(attack.Techniques, string(t))
	}

	problem, err := s.problems.FindByID(ctx, in.ProblemID)
	if err != nil {
		return nil, false, apperrors.Database(err)
	}
	if problem == nil {
		return nil, false, apperrors.NotFound("Problem")
	}

	now := s.now().UTC()
	interviewerID := actor.InterviewerID
	candidate := &model.Session{
		ID:              in.ID,
		CandidateID:     in.CandidateID,
		InterviewerID:   &interviewerID,
		CreatedAt:       now,
		UpdatedAt:       now,
		DurationSeconds: in.DurationSeconds,
		ProblemID:       in.ProblemID,
		AttackConfig:    attack,
	}
	if _, err := s.registry.Issue(ctx, candidate); err != nil {
		return nil, false, err
	}

	stored, created, err := s.sessions.CreateOrGet(ctx, candidate)
	if err != nil {
		return nil, false, apperrors.Database(err)
	}
	if !created {
		if err := checkOwner(stored, actor); err != nil {
			return nil, false, err
		}
		return stored, false, nil
	}

	audit.Log(ctx, audit.Event{
		Type:          audit.EventSessionCreate,
		SessionID:     stored.ID,
		InterviewerID: actor.InterviewerID,
		Details:       map[string]any{"problemId": stored.ProblemID, "durationSeconds": stored.DurationSeconds},
	})
	return stored, true, nil
}

func (s *SessionService) Get(ctx context.Context, id string) (*model.Session, error) {
	sess, err := s.sessions.FindByID(ctx, id)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if sess == nil {
		return nil, apperrors.NotFound("Session")
	}
	return sess, nil
}

// GetForInterviewer is Get restricted to the session's interviewer.
func (s *SessionService) GetForInterviewer(ctx context.Context, actor Actor, id string) (*model.Session, error) {
	if !actor.IsInterviewer() {
		return nil, apperrors.Forbidden("Interviewer access required")
	}
	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkOwner(sess, actor); err != nil {
		return nil, err
	}
	return sess, nil
}

// State is the poll target.
func (s *SessionService) State(ctx context.Context, id string) (model.SessionState, error) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return model.SessionState{}, err
	}
	return s.StateOf(sess), nil
}

// StateOf is sess's lifecycle view with the server's sync timing attached.
func (s *SessionService) StateOf(sess *model.Session) model.SessionState {
	st := sess.State()
	st.PollIntervalMS = int(s.timing.PollInterval / time.Millisecond)
	st.CodeDebounceMS = int(s.timing.CodeDebounce / time.Millisecond)
	return st
}

// RequestJoin records the candidate's name and network origin with the
// join request.
func (s *SessionService) RequestJoin(ctx context.Context, id, name, origin string) (*model.Session, error) {
	if name == "" {
		return nil, apperrors.MissingRequired("candidateName")
	}
	if utf8.RuneCountInString(name) > maxCandidateNameLen {
		return nil, apperrors.InvalidInput("candidateName", "too long")
	}
	p := session.Patch{CandidateJoinRequested: true, CandidateName: &name}
	if origin != "" {
		p.CandidateOrigin = &origin
	}
	return s.ApplyPatch(ctx, Actor{}, id, p)
}

// ApplyPatch applies a partial flag update under the row lock and pushes the
// resulting state when anything changed.
func (s *SessionService) ApplyPatch(ctx context.Context, actor Actor, id string, p session.Patch) (*model.Session, error) {
	if p.RequiresInterviewer() && !actor.IsInterviewer() {
		audit.Log(ctx, audit.Event{
			Type:      audit.EventForbidden,
			SessionID: id,
			Details:   map[string]any{"reason": "candidate attempted interviewer transition"},
		})
		return nil, apperrors.Forbidden("Interviewer access required")
	}

	var changed []session.Flag
	updated, err := s.sessions.UpdateLifecycle(ctx, id, func(current model.Session) (model.Session, bool, error) {
		if actor.IsInterviewer() {
			if err := checkOwner(&current, actor); err != nil {
				return current, false, err
			}
		}
		next, flags, err := session.Apply(current, p, s.now())
		if err != nil {
			return current, false, err
		}
		changed = flags
		return next, len(flags) > 0, nil
	})
	if err != nil {
		if apperrors.HasCode(err, apperrors.ErrCodeSessionEnded) || apperrors.HasCode(err, apperrors.ErrCodeInvalidTransition) {
			audit.Log(ctx, audit.Event{
				Type:          audit.EventInvariantViolation,
				SessionID:     id,
				InterviewerID: actor.InterviewerID,
				Details:       map[string]any{"code": string(apperrors.GetCode(err)), "error": err},
			})
			return nil, err
		}
		if apperrors.IsAppError(err) {
			return nil, err
		}
		return nil, apperrors.Database(err)
	}
	if updated == nil {
		return nil, apperrors.NotFound("Session")
	}

	s.afterTransition(ctx, updated, changed, actor, "")
	return updated, nil
}

// Expire ends a session whose timer has run out. It reports whether this
// call ended it.
func (s *SessionService) Expire(ctx context.Context, id string) (bool, error) {
	var changed []session.Flag
	updated, err := s.sessions.UpdateLifecycle(ctx, id, func(current model.Session) (model.Session, bool, error) {
		now := s.now()
		if current.Ended || !session.Expired(current, now) {
			return current, false, nil
		}
		next, flags, err := session.Apply(current, session.Patch{Ended: true}, now)
		if err != nil {
			return current, false, err
		}
		changed = flags
		return next, len(flags) > 0, nil
	})
	if err != nil {
		return false, fmt.Errorf("expire session %s: %w", id, err)
	}
	if updated == nil || len(changed) == 0 {
		return false, nil
	}

	s.metrics.SessionsExpired.Inc()
	s.afterTransition(ctx, updated, changed, Actor{}, "expired")
	return true, nil
}

func (s *SessionService) afterTransition(ctx context.Context, sess *model.Session, changed []session.Flag, actor Actor, reason string) {
	if len(changed) == 0 {
		return
	}
	for _, f := range changed {
		s.metrics.SessionTransitions.WithLabelValues(string(f)).Inc()
		if f == session.FlagEnded {
			details := map[string]any{}
			if reason != "" {
				details["reason"] = reason
			}
			audit.Log(ctx, audit.Event{
				Type:          audit.EventSessionEnd,
				SessionID:     sess.ID,
				InterviewerID: actor.InterviewerID,
				Details:       details,
			})
		}
	}

	if err := s.feed.PublishState(ctx, s.StateOf(sess)); err != nil {
		// Observers still converge through polling.
		s.metrics.SideEffectFailed("state_publish")
		log.Warn().Err(err).Str("sessionId", sess.ID).Msg("failed to publish session state")
	}
}

// BroadcastCode pushes a live edit to the session's observers. Nothing is
// persisted.
func (s *SessionService) BroadcastCode(ctx context.Context, id string, snap model.CodeSnapshot) error {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if sess.Ended {
		return apperrors.SessionEnded()
	}
	snap.SessionID = id
	if snap.EditedAt.IsZero() {
		snap.EditedAt = s.now().UTC()
	}
	if err := s.feed.PublishCode(ctx, snap); err != nil {
		s.metrics.SideEffectFailed("code_publish")
		return apperrors.External("live feed", err)
	}
	s.metrics.CodeBroadcasts.Inc()
	return nil
}

// SaveCode writes the durable copy. Saves after the session ended are
// rejected.
func (s *SessionService) SaveCode(ctx context.Context, id, code, language string) error {
	ok, err := s.sessions.SaveCode(ctx, id, code, language, s.now().UTC())
	if err != nil {
		return apperrors.Database(err)
	}
	if ok {
		return nil
	}
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return apperrors.SessionEnded()
}

// Problem renders the session's problem with its configured techniques.
func (s *SessionService) Problem(ctx context.Context, id string) (*ProblemView, error) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	problem, err := s.problems.FindByID(ctx, sess.ProblemID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if problem == nil {
		return nil, apperrors.NotFound("Problem")
	}
	return &ProblemView{
		ID:    problem.ID,
		Title: problem.Title,
		Body:  s.compose(sess, problem.Body, payload.SurfaceProblem),
	}, nil
}

// Clipboard returns what the candidate's clipboard should hold after copying
// selection out of the problem, and records the copy.
func (s *SessionService) Clipboard(ctx context.Context, id, selection, originIP, userAgent string) (string, error) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}

	s.signals.Ingest(ctx, detection.Signal{
		Type:        detection.SignalCopy,
		SessionID:   id,
		At:          s.now().UTC(),
		OriginIP:    originIP,
		UserAgent:   userAgent,
		FromProblem: true,
		Length:      utf8.RuneCountInString(selection),
	})

	if sess.Ended {
		return selection, nil
	}
	return s.compose(sess, selection, payload.SurfaceClipboard), nil
}

func (s *SessionService) compose(sess *model.Session, visible string, surface payload.Surface) string {
	techniques, err := payload.ParseTechniques(sess.AttackConfig.Techniques)
	if err != nil {
		// Stored configs were validated on create.
		log.Error().Err(err).Str("sessionId", sess.ID).Msg("stored attack config is invalid")
		return visible
	}
	return s.composer.Compose(payload.Input{
		Visible:          visible,
		URLs:             s.registry.TrapURLs(sess),
		SessionID:        sess.ID,
		Techniques:       techniques,
		Hidden:           sess.AttackConfig.Hidden,
		DistractorText:   sess.AttackConfig.DistractorText,
		WatermarkPhrases: sess.AttackConfig.WatermarkPhrases,
		Surface:          surface,
	})
}

func checkOwner(sess *model.Session, actor Actor) error {
	if sess.InterviewerID != nil && *sess.InterviewerID != actor.InterviewerID {
		return apperrors.Forbidden("Session belongs to another interviewer")
	}
	return nil
}
