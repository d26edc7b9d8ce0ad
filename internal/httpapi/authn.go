package httpapi

import (
	"net/http"
	"strings"

	"gatehouse.org/internal/audit"
	"gatehouse.org/internal/auth"
	"gatehouse.org/internal/obs"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// requestToken finds the session token: bearer header first, then the session
// cookie. The query parameter is only consulted when allowQuery is set.
func (a *API) requestToken(r *http.Request, allowQuery bool) string {
	if header := strings.TrimSpace(r.Header.Get(authHeader)); header != "" {
		if len(header) > len(bearer) && strings.EqualFold(header[:len(bearer)], bearer) {
			if token := strings.TrimSpace(header[len(bearer):]); token != "" {
				return token
			}
		}
	}
	if c, err := r.Cookie(a.cookieName); err == nil && c.Value != "" {
		return c.Value
	}
	if allowQuery {
		return strings.TrimSpace(r.URL.Query().Get("token"))
	}
	return ""
}

// guard authenticates the request. With allowAnonymous set, failures continue
// without an AuthContext instead of answering 401.
func (a *API) guard(allowAnonymous, allowQuery bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			d := a.authGuard.Check(r.Context(), a.requestToken(r, allowQuery), allowAnonymous)
			obs.ObserveAuthDecision(string(d.State), d.Reason())
			switch d.State {
			case auth.StateAuthenticated:
				next.ServeHTTP(w, r.WithContext(auth.ContextWithAuth(r.Context(), d.Auth)))
			case auth.StateAnonymous:
				next.ServeHTTP(w, r)
			default:
				if d.Reason() == auth.ErrTokenInvalid.Reason && d.Err != nil {
					obs.Logger().Warn("auth_rejected",
						"request_id", audit.RequestIDFromContext(r.Context()),
						"path", r.URL.Path, "error", d.Err)
				}
				writeError(w, r, http.StatusUnauthorized, d.Reason(), nil)
			}
		})
	}
}

// requirePermission admits callers holding the requirements under mode.
func requirePermission(mode auth.Mode, reqs ...auth.Requirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ac, ok := auth.AuthFromContext(r.Context())
			if !ok {
				writeError(w, r, http.StatusUnauthorized, auth.ErrTokenMissing.Reason, nil)
				return
			}
			granted := ac.Can(mode, reqs...)
			obs.ObservePermissionCheck(granted)
			if !granted {
				writeError(w, r, http.StatusForbidden, "Forbidden resource", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requireOne is requirePermission for a single (subject, action).
func requireOne(subject auth.Subject, action auth.Action) func(http.Handler) http.Handler {
	return requirePermission(auth.Any, auth.Require(subject, action))
}
