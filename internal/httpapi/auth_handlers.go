package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"gatehouse.org/internal/admin"
	"gatehouse.org/internal/audit"
	"gatehouse.org/internal/auth"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (a *API) mountAuth(r chi.Router) {
	r.Post("/auth/register", a.register)
	r.Post("/auth/login", a.login)
	r.Get("/auth/logout", a.logout)
	r.With(a.guard(false, false)).Get("/permission", a.permissionCatalog)
}

func (a *API) register(w http.ResponseWriter, r *http.Request) {
	var req admin.RegisterInput
	if err := decodeJSON(r, &req); err != nil {
		writeFailure(w, r, err)
		return
	}
	u, err := a.admin.Register(r.Context(), req)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, u)
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeFailure(w, r, err)
		return
	}
	sess, err := a.admin.Login(r.Context(), req.Username, req.Password, clientIP(r))
	if err != nil {
		_ = audit.LogEvent(r.Context(), "auth.login.failed", map[string]any{"username": admin.NormalizeUsername(req.Username)})
		writeFailure(w, r, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     a.cookieName,
		Value:    sess.Token,
		Path:     "/",
		HttpOnly: true,
		Secure:   a.cookieSecure,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(sess.ExpiresIn),
		Expires:  time.Now().Add(time.Duration(sess.ExpiresIn) * time.Second),
	})
	_ = audit.LogEvent(auth.ContextWithAuth(r.Context(), auth.NewAuthContext(sess.User, nil, "")),
		"auth.login", map[string]any{"username": sess.User.Username})
	writeData(w, http.StatusOK, sess)
}

// logout revokes the token from ?token= or, failing that, the request's own
// credentials, and always clears the cookie.
func (a *API) logout(w http.ResponseWriter, r *http.Request) {
	token := a.requestToken(r, true)
	if q := r.URL.Query().Get("token"); q != "" {
		token = q
	}
	if err := a.admin.Logout(r.Context(), token); err != nil {
		writeFailure(w, r, err)
		return
	}
	a.clearCookie(w)
	writeData(w, http.StatusOK, map[string]string{"message": "Logout successfully"})
}

func (a *API) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.cookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   a.cookieSecure,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
	})
}

func (a *API) permissionCatalog(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, a.admin.Catalog())
}
