// Package correlation joins incidents against the session they were observed
// in.
package correlation

import (
	"github.com/hireproctor/interview-server-go/internal/model"
)

// Correlate reports whether inc happened while s was running and whether it
// came from the candidate's network origin. The two answers are kept apart;
// weighing them is the reader's call.
func Correlate(inc model.Incident, s model.Session) model.Correlation {
	return model.Correlation{
		DuringActiveWindow: duringActiveWindow(inc, s),
		OriginMatches:      originMatches(inc, s),
	}
}

func duringActiveWindow(inc model.Incident, s model.Session) bool {
	if s.StartTime == nil {
		return false
	}
	end := s.StartTime.Add(s.Duration())
	if s.EndTime != nil {
		end = *s.EndTime
	}
	at := inc.OccurredAt
	return !at.Before(*s.StartTime) && !at.After(end)
}

func originMatches(inc model.Incident, s model.Session) bool {
	if inc.OriginIP == nil || s.CandidateOrigin == nil {
		return false
	}
	if *inc.OriginIP == "" || *s.CandidateOrigin == "" {
		return false
	}
	return *inc.OriginIP == *s.CandidateOrigin
}

// Applies reports whether incidents of kind are correlated on read. Only
// llm-api-request is weak enough on its own to need it.
func Applies(kind model.IncidentKind) bool {
	return kind == model.KindLLMAPIRequest
}

// View annotates inc for interviewers, correlating it when its kind calls
// for it.
func View(inc model.Incident, s *model.Session) model.IncidentView {
	v := model.IncidentView{Incident: inc}
	if s != nil && Applies(inc.Kind) {
		c := Correlate(inc, *s)
		v.Correlation = &c
	}
	return v
}
