// Package session holds the interview lifecycle state machine. Transitions
// are pure functions over model.Session; persistence and fan-out live in the
// service layer.
package session

import (
	"time"

	apperrors "github.com/hireproctor/interview-server-go/internal/errors"
	"github.com/hireproctor/interview-server-go/internal/model"
)

type Flag string

const (
	FlagCandidateJoinRequested Flag = "candidateJoinRequested"
	FlagApproved               Flag = "approved"
	FlagInterviewerReady       Flag = "interviewerReady"
	FlagCandidateStarted       Flag = "candidateStarted"
	FlagEnded                  Flag = "ended"
)

// Patch is a partial set of lifecycle flags. Flags are monotonic, so a false
// value means "leave unchanged".
type Patch struct {
	CandidateJoinRequested bool `json:"candidateJoinRequested"`
	Approved               bool `json:"approved"`
	InterviewerReady       bool `json:"interviewerReady"`
	CandidateStarted       bool `json:"candidateStarted"`
	Ended                  bool `json:"ended"`

	// Recorded only when the join request flag flips.
	CandidateName   *string `json:"candidateName,omitempty"`
	CandidateOrigin *string `json:"-"`
}

// Empty reports whether the patch sets no flag.
func (p Patch) Empty() bool {
	return !p.CandidateJoinRequested && !p.Approved && !p.InterviewerReady &&
		!p.CandidateStarted && !p.Ended
}

// RequiresInterviewer reports whether the patch touches a flag only the
// interviewer may set.
func (p Patch) RequiresInterviewer() bool {
	return p.Approved || p.InterviewerReady || p.Ended
}

// Apply returns s with p applied and the list of flags that changed. An ended
// session rejects every non-empty patch. Applying a patch whose flags are
// already set returns s unchanged with no flags.
func Apply(s model.Session, p Patch, now time.Time) (model.Session, []Flag, error) {
	if p.Empty() {
		return s, nil, nil
	}
	if s.Ended {
		return s, nil, apperrors.SessionEnded()
	}
	if p.Approved && !s.Approved && !s.CandidateJoinRequested && !p.CandidateJoinRequested {
		return s, nil, apperrors.InvalidTransition("cannot approve before the candidate requests to join")
	}

	var changed []Flag
	now = now.UTC()

	if p.CandidateJoinRequested && !s.CandidateJoinRequested {
		s.CandidateJoinRequested = true
		if p.CandidateName != nil {
			s.CandidateName = p.CandidateName
		}
		if p.CandidateOrigin != nil {
			s.CandidateOrigin = p.CandidateOrigin
		}
		changed = append(changed, FlagCandidateJoinRequested)
	}
	if p.Approved && !s.Approved {
		s.Approved = true
		changed = append(changed, FlagApproved)
	}
	if p.InterviewerReady && !s.InterviewerReady {
		s.InterviewerReady = true
		changed = append(changed, FlagInterviewerReady)
		// The timer is interviewer-triggered.
		if !s.CandidateStarted {
			s.CandidateStarted = true
			changed = append(changed, FlagCandidateStarted)
		}
	}
	if p.CandidateStarted && !s.CandidateStarted {
		s.CandidateStarted = true
		changed = append(changed, FlagCandidateStarted)
	}
	if s.InterviewerReady && s.CandidateStarted && s.StartTime == nil {
		start := now
		s.StartTime = &start
	}
	if p.Ended {
		s.Ended = true
		end := now
		s.EndTime = &end
		changed = append(changed, FlagEnded)
	}

	if len(changed) > 0 {
		s.UpdatedAt = now
	}
	return s, changed, nil
}

// TimeRemaining is max(0, duration - (now - start)). Once the session has an
// end time the clock stops there. A missing start yields the full duration,
// never a value computed from a zero time.
func TimeRemaining(start, end *time.Time, duration time.Duration, now time.Time) time.Duration {
	if start == nil {
		return duration
	}
	if end != nil && end.Before(now) {
		now = *end
	}
	remaining := duration - now.Sub(*start)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Expired reports whether a started, live session has run out of time.
func Expired(s model.Session, now time.Time) bool {
	if s.Ended || s.StartTime == nil {
		return false
	}
	return TimeRemaining(s.StartTime, nil, s.Duration(), now) == 0
}
