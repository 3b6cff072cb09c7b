package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	apperrors "github.com/hireproctor/interview-server-go/internal/errors"
	"github.com/hireproctor/interview-server-go/internal/httputil"
	"github.com/hireproctor/interview-server-go/internal/middleware"
	"github.com/hireproctor/interview-server-go/internal/service"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}

// decodeJSON reads exactly one JSON value from the body.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperrors.ValidationError("Request body too large")
		}
		if errors.Is(err, io.EOF) {
			return apperrors.ValidationError("Request body is required")
		}
		return apperrors.ValidationError("Invalid JSON body")
	}
	if dec.More() {
		return apperrors.ValidationError("Invalid JSON body")
	}
	return nil
}

func actorFrom(r *http.Request) service.Actor {
	if id := middleware.GetIdentity(r.Context()); id != nil {
		return service.Actor{InterviewerID: id.InterviewerID}
	}
	return service.Actor{}
}
