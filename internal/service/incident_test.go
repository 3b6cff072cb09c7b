package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/hireproctor/interview-server-go/internal/errors"
	"github.com/hireproctor/interview-server-go/internal/model"
	"github.com/hireproctor/interview-server-go/internal/session"
)

func TestIncidentService_List(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.feed.On("PublishState", mock.Anything, mock.Anything).Return(nil)
	s := f.create(t)
	_, err := f.svc.RequestJoin(ctx, s.ID, "A", "203.0.113.7")
	require.NoError(t, err)
	_, err = f.svc.ApplyPatch(ctx, alice, s.ID, session.Patch{InterviewerReady: true})
	require.NoError(t, err)

	record := func(id string, kind model.IncidentKind, sev model.Severity, at time.Time, origin string) {
		sid := s.ID
		inc := &model.Incident{
			ID: id, Kind: kind, Severity: sev, Suspicious: sev != model.SeverityLow,
			SessionID: &sid, Details: []byte(`{}`), OccurredAt: at, CreatedAt: at,
		}
		if origin != "" {
			inc.OriginIP = &origin
		}
		require.NoError(t, f.incRepo.Create(ctx, inc))
	}
	record("low", model.KindTabSwitch, model.SeverityLow, t0.Add(time.Second), "")
	record("llm", model.KindLLMAPIRequest, model.SeverityMedium, t0.Add(2*time.Second), "203.0.113.7")
	record("trap", model.KindHoneypotAccess, model.SeverityHigh, t0.Add(3*time.Second), "198.51.100.4")
	record("paste", model.KindCopyPaste, model.SeverityMedium, t0.Add(4*time.Second), "")

	views, err := f.incidents.List(ctx, alice, s.ID, nil)
	require.NoError(t, err)
	ids := make([]string, 0, len(views))
	for _, v := range views {
		ids = append(ids, v.ID)
	}
	assert.Equal(t, []string{"trap", "llm", "paste", "low"}, ids)

	require.NotNil(t, views[1].Correlation)
	assert.True(t, views[1].Correlation.DuringActiveWindow)
	assert.True(t, views[1].Correlation.OriginMatches)
	assert.Nil(t, views[0].Correlation)

	since := t0.Add(2 * time.Second)
	recent, err := f.incidents.List(ctx, alice, s.ID, &since)
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	_, err = f.incidents.List(ctx, Actor{}, s.ID, nil)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeForbidden))
	_, err = f.incidents.List(ctx, bob, s.ID, nil)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeForbidden))
}
