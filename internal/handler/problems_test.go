package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hireproctor/interview-server-go/internal/detection"
	"github.com/hireproctor/interview-server-go/internal/repository"
)

func TestProblemsHandler_List(t *testing.T) {
	ingester := new(MockIngester)
	ingester.On("Ingest", mock.Anything, mock.MatchedBy(func(sig detection.Signal) bool {
		return sig.Type == detection.SignalPageRequest && sig.SessionID == "" && sig.UserAgent == "curl/8.4.0"
	})).Return(nil).Once()
	h := NewProblemsHandler(repository.NewMemoryProblemRepository(repository.SampleProblems()...), ingester)

	req := httptest.NewRequest(http.MethodGet, "/problems?limit=1", nil)
	req.Header.Set("User-Agent", "curl/8.4.0")
	rec := httptest.NewRecorder()
	h.List(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Problems []map[string]any `json:"problems"`
		Total    int              `json:"total"`
		Limit    int              `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Total, "private problems are not listed")
	assert.Equal(t, 1, body.Limit)
	require.Len(t, body.Problems, 1)
	assert.Equal(t, "lru-cache", body.Problems[0]["id"])
	assert.NotContains(t, body.Problems[0], "body")
	ingester.AssertExpectations(t)
}
