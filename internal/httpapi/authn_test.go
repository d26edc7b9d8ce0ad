package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"gatehouse.org/internal/auth"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func withAuth(r *http.Request, perms ...auth.Permission) *http.Request {
	u := &auth.User{ID: "u-1", Username: "alice", Active: true}
	return r.WithContext(auth.ContextWithAuth(r.Context(), auth.NewAuthContext(u, perms, "tok")))
}

func TestRequirePermissionAllowsMatchingGrant(t *testing.T) {
	handler := requireOne(auth.SubjectUser, auth.UserListing)(okHandler())

	req := withAuth(httptest.NewRequest(http.MethodGet, "/user", nil),
		auth.Permission{Subject: auth.SubjectUser, Action: auth.UserListing})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestRequirePermissionRejectsMissingGrant(t *testing.T) {
	handler := requireOne(auth.SubjectUser, auth.UserDelete)(okHandler())

	req := withAuth(httptest.NewRequest(http.MethodDelete, "/user/x", nil),
		auth.Permission{Subject: auth.SubjectUser, Action: auth.UserListing})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestRequirePermissionAnyOfSubject(t *testing.T) {
	handler := requirePermission(auth.Any, auth.SubjectActions(auth.SubjectDepartment)...)(okHandler())

	req := withAuth(httptest.NewRequest(http.MethodGet, "/department", nil),
		auth.Permission{Subject: auth.SubjectDepartment, Action: auth.ActionDelete})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for any department action, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, withAuth(httptest.NewRequest(http.MethodGet, "/department", nil), auth.Universal()))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for universal grant, got %d", rr.Code)
	}
}

func TestRequirePermissionWithoutAuth(t *testing.T) {
	handler := requireOne(auth.SubjectUser, auth.UserListing)(okHandler())

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/user", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestRequestTokenPrecedence(t *testing.T) {
	a := &API{cookieName: "access-token"}

	req := httptest.NewRequest(http.MethodGet, "/?token=query", nil)
	req.Header.Set("Authorization", "Bearer header")
	req.AddCookie(&http.Cookie{Name: "access-token", Value: "cookie"})
	if got := a.requestToken(req, true); got != "header" {
		t.Fatalf("header should win, got %q", got)
	}

	req.Header.Del("Authorization")
	if got := a.requestToken(req, true); got != "cookie" {
		t.Fatalf("cookie should win over query, got %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/?token=query", nil)
	if got := a.requestToken(req, false); got != "" {
		t.Fatalf("query token used without allowQuery: %q", got)
	}
	if got := a.requestToken(req, true); got != "query" {
		t.Fatalf("expected query token, got %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Basic abc")
	if got := a.requestToken(req, false); got != "" {
		t.Fatalf("non-bearer header accepted: %q", got)
	}
}
