package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hireproctor/interview-server-go/internal/config"
	"github.com/hireproctor/interview-server-go/internal/detection"
	apperrors "github.com/hireproctor/interview-server-go/internal/errors"
	"github.com/hireproctor/interview-server-go/internal/httputil"
	"github.com/hireproctor/interview-server-go/internal/repository"
)

type problemSummary struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type ProblemsHandler struct {
	problems repository.ProblemRepository
	ingester Ingester
}

func NewProblemsHandler(problems repository.ProblemRepository, ingester Ingester) *ProblemsHandler {
	return &ProblemsHandler{problems: problems, ingester: ingester}
}

// GET /problems
// Every request is reported as a page-request signal; the classifier decides
// whether the client looks automated.
func (h *ProblemsHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), config.HoneypotRecordTimeout)
	h.ingester.Ingest(ctx, detection.Signal{
		Type:      detection.SignalPageRequest,
		At:        time.Now().UTC(),
		OriginIP:  httputil.ClientIP(r),
		UserAgent: r.UserAgent(),
		Path:      r.URL.Path,
		Host:      r.Host,
		Referer:   r.Referer(),
		Origin:    r.Header.Get("Origin"),
	})
	cancel()

	problems, err := h.problems.ListPublic(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to list problems")
		httputil.WriteError(w, apperrors.Database(err))
		return
	}

	summaries := make([]problemSummary, 0, len(problems))
	for _, p := range problems {
		summaries = append(summaries, problemSummary{ID: p.ID, Title: p.Title})
	}
	page := ParsePagination(r)
	writeJSON(w, http.StatusOK, map[string]any{
		"problems": Page(summaries, page),
		"total":    len(summaries),
		"limit":    page.Limit,
		"offset":   page.Offset,
	})
}
