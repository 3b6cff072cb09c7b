package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/hireproctor/interview-server-go/internal/audit"
	apperrors "github.com/hireproctor/interview-server-go/internal/errors"
	"github.com/hireproctor/interview-server-go/internal/httputil"
	"github.com/hireproctor/interview-server-go/internal/util"
)

type contextKey string

const IdentityContextKey contextKey = "identity"

// Identity is an authenticated interviewer.
type Identity struct {
	InterviewerID string
}

// GetIdentity returns the interviewer attached to ctx, or nil for
// unauthenticated (candidate) requests.
func GetIdentity(ctx context.Context) *Identity {
	if id, ok := ctx.Value(IdentityContextKey).(*Identity); ok {
		return id
	}
	return nil
}

func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, IdentityContextKey, id)
}

// IdentityProvider resolves a bearer token to an interviewer. A nil
// identity with a nil error means the token is unknown.
type IdentityProvider interface {
	Authenticate(ctx context.Context, token string) (*Identity, error)
}

type staticEntry struct {
	interviewerID string
	tokenHash     string
}

// StaticTokenProvider authenticates against a fixed token list. Only token
// hashes are held in memory.
type StaticTokenProvider struct {
	entries []staticEntry
}

// ParseStaticTokens parses "id:token,id:token".
func ParseStaticTokens(raw string) (*StaticTokenProvider, error) {
	p := &StaticTokenProvider{}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		id, token, ok := strings.Cut(pair, ":")
		if !ok || id == "" || token == "" {
			return nil, fmt.Errorf("invalid interviewer token entry %q: want id:token", pair)
		}
		p.entries = append(p.entries, staticEntry{interviewerID: id, tokenHash: util.HashToken(token)})
	}
	return p, nil
}

func (p *StaticTokenProvider) Authenticate(_ context.Context, token string) (*Identity, error) {
	hash := util.HashToken(token)
	var match *Identity
	// Compare against every entry so timing does not depend on position.
	for _, e := range p.entries {
		if util.ConstantTimeEqual(hash, e.tokenHash) && match == nil {
			match = &Identity{InterviewerID: e.interviewerID}
		}
	}
	return match, nil
}

type AuthMiddleware struct {
	provider IdentityProvider
}

func NewAuthMiddleware(provider IdentityProvider) *AuthMiddleware {
	return &AuthMiddleware{provider: provider}
}

// Optional attaches an identity when a valid token is presented and lets
// anonymous requests through. An invalid token is still rejected.
func (m *AuthMiddleware) Optional(next http.Handler) http.Handler {
	return m.handler(next, false)
}

// Required rejects requests without a valid interviewer token.
func (m *AuthMiddleware) Required(next http.Handler) http.Handler {
	return m.handler(next, true)
}

func (m *AuthMiddleware) handler(next http.Handler, required bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			if required {
				httputil.WriteError(w, apperrors.Unauthorized("Missing authentication token"))
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		identity, err := m.provider.Authenticate(r.Context(), token)
		if err != nil {
			httputil.WriteError(w, apperrors.External("identity provider", err))
			return
		}
		if identity == nil {
			audit.LogFromRequest(r, audit.Event{
				Type:    audit.EventAuthFailure,
				Details: map[string]interface{}{"reason": "invalid_token"},
			})
			httputil.WriteError(w, apperrors.Unauthorized("Invalid token"))
			return
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
	})
}

// extractToken reads the bearer header, falling back to the token query
// parameter for EventSource clients that cannot set headers.
func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return r.URL.Query().Get("token")
}
