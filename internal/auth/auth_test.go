package auth_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"gatehouse.org/internal/auth"
	"gatehouse.org/internal/store/memory"
)

const testSecret = "test-secret"

func newUser(t *testing.T, st auth.Store, username string, active bool) *auth.User {
	t.Helper()
	hash, err := auth.HashPassword("1234567890")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	u := &auth.User{Username: username, PasswordHash: hash, Active: active}
	if err := st.Users(context.Background()).Create(context.Background(), u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func newManager(t *testing.T, st auth.Store, opts ...auth.TokenOption) *auth.TokenManager {
	t.Helper()
	m, err := auth.NewTokenManager(st, testSecret, opts...)
	if err != nil {
		t.Fatalf("token manager: %v", err)
	}
	return m
}

func TestNewTokenManagerRequiresSecret(t *testing.T) {
	if _, err := auth.NewTokenManager(memory.New(), "  "); err == nil {
		t.Fatal("expected error for blank secret")
	}
	if _, err := auth.NewTokenManager(memory.New(), testSecret, auth.WithMaxTokens(0)); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for zero max tokens, got %v", err)
	}
}

func TestIssueEvictsOldestBeyondBound(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	m := newManager(t, st, auth.WithMaxTokens(5))
	u := newUser(t, st, "alice", true)

	var issued []string
	for i := 0; i < 6; i++ {
		tok, err := m.Issue(ctx, u)
		if err != nil {
			t.Fatalf("issue %d: %v", i, err)
		}
		issued = append(issued, tok)
	}

	stored, err := st.Users(ctx).Find(ctx, u.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(stored.Tokens) != 5 {
		t.Fatalf("expected 5 live tokens, got %d", len(stored.Tokens))
	}
	if stored.HasToken(issued[0]) {
		t.Fatal("oldest token should have been evicted")
	}
	for i, tok := range stored.Tokens {
		if tok != issued[i+1] {
			t.Fatalf("token %d out of order", i)
		}
	}
	if strings.Join(u.Tokens, ",") != strings.Join(stored.Tokens, ",") {
		t.Fatal("Issue should refresh the caller's token list")
	}
}

func TestParseClaims(t *testing.T) {
	st := memory.New()
	m := newManager(t, st)
	u := newUser(t, st, "bob", true)
	tok, err := m.Issue(context.Background(), u)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := m.Parse(tok)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.UserID != u.ID || claims.Username != "bob" || claims.Subject != u.ID {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.ID == "" {
		t.Fatal("token id should be set")
	}
	if got := claims.ExpiresAt.Sub(claims.IssuedAt.Time); got != 24*time.Hour {
		t.Fatalf("lifetime = %v, want 24h", got)
	}
}

func TestRevokeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	m := newManager(t, st)
	u := newUser(t, st, "carol", true)
	keep, _ := m.Issue(ctx, u)
	drop, _ := m.Issue(ctx, u)

	for i := 0; i < 2; i++ {
		if err := m.Revoke(ctx, u.ID, drop); err != nil {
			t.Fatalf("revoke %d: %v", i, err)
		}
	}
	stored, _ := st.Users(ctx).Find(ctx, u.ID)
	if len(stored.Tokens) != 1 || stored.Tokens[0] != keep {
		t.Fatalf("unexpected tokens after revoke: %v", stored.Tokens)
	}
	if err := m.Revoke(ctx, "missing", drop); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown user, got %v", err)
	}
}

// conflictStore makes the first N user saves fail with ErrConflict after
// bumping the stored version behind the caller's back.
type conflictStore struct {
	*memory.Store
	conflicts int
}

func (c *conflictStore) Users(ctx context.Context) auth.UserStore {
	return conflictUsers{UserStore: c.Store.Users(ctx), parent: c}
}

type conflictUsers struct {
	auth.UserStore
	parent *conflictStore
}

func (cu conflictUsers) Save(ctx context.Context, u *auth.User) error {
	if cu.parent.conflicts > 0 {
		cu.parent.conflicts--
		current, err := cu.UserStore.Find(ctx, u.ID)
		if err != nil {
			return err
		}
		if err := cu.UserStore.Save(ctx, current); err != nil {
			return err
		}
		return auth.ErrConflict
	}
	return cu.UserStore.Save(ctx, u)
}

func TestIssueRetriesOnConflict(t *testing.T) {
	ctx := context.Background()
	st := &conflictStore{Store: memory.New(), conflicts: 2}
	u := newUser(t, st, "dave", true)
	m := newManager(t, st)

	tok, err := m.Issue(ctx, u)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	stored, _ := st.Users(ctx).Find(ctx, u.ID)
	if !stored.HasToken(tok) {
		t.Fatal("token should be persisted after retries")
	}

	st.conflicts = 10
	if _, err := m.Issue(ctx, u); !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected ErrConflict after exhausting retries, got %v", err)
	}
}

func TestGuardAuthenticates(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	m := newManager(t, st)
	u := newUser(t, st, "erin", true)
	if _, err := st.Permissions(ctx).ReplaceForUser(ctx, u.ID, []auth.Permission{
		{Subject: auth.SubjectDepartment, Action: auth.ActionCreate},
	}); err != nil {
		t.Fatalf("permissions: %v", err)
	}
	tok, _ := m.Issue(ctx, u)

	d := auth.NewGuard(st, m).Check(ctx, tok, false)
	if d.State != auth.StateAuthenticated {
		t.Fatalf("state = %s (%s)", d.State, d.Reason())
	}
	if d.Auth.UserID() != u.ID || d.Auth.Token() != tok {
		t.Fatalf("unexpected auth context: %s %s", d.Auth.UserID(), d.Auth.Token())
	}
	if d.Auth.User().PasswordHash == "" || d.Auth.User().Tokens != nil {
		t.Fatal("auth context should keep the user but not its sessions")
	}
	if !d.Auth.Can(auth.Any, auth.Require(auth.SubjectDepartment, auth.ActionCreate)) {
		t.Fatal("direct permission should be effective")
	}
	if d.Auth.Can(auth.Any, auth.Require(auth.SubjectDepartment, auth.ActionDelete)) {
		t.Fatal("ungranted permission should be denied")
	}
}

func TestGuardRejections(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	m := newManager(t, st)
	g := auth.NewGuard(st, m)

	active := newUser(t, st, "frank", true)
	inactive := newUser(t, st, "grace", false)
	activeTok, _ := m.Issue(ctx, active)
	inactiveTok, _ := m.Issue(ctx, inactive)

	past := newManager(t, st, auth.WithClock(func() time.Time { return time.Now().Add(-48 * time.Hour) }))
	expiredTok, _ := past.Issue(ctx, active)
	future := newManager(t, st, auth.WithClock(func() time.Time { return time.Now().Add(time.Hour) }))
	futureTok, _ := future.Issue(ctx, active)
	foreign, _ := auth.NewTokenManager(st, "other-secret")
	foreignTok, _ := foreign.Issue(ctx, active)

	cases := []struct {
		name   string
		token  string
		reason string
	}{
		{"missing", "", "Authentication token is missing"},
		{"garbage", "not-a-token", "Authentication token is invalid"},
		{"wrong secret", foreignTok, "Authentication token is invalid"},
		{"expired", expiredTok, "Authentication token has expired"},
		{"not yet active", futureTok, "Authentication token is not active yet"},
		{"inactive user", inactiveTok, "User not active"},
	}
	for _, tc := range cases {
		d := g.Check(ctx, tc.token, false)
		if d.State != auth.StateRejected {
			t.Fatalf("%s: state = %s", tc.name, d.State)
		}
		if d.Reason() != tc.reason {
			t.Fatalf("%s: reason = %q, want %q", tc.name, d.Reason(), tc.reason)
		}
		if !errors.Is(d.Err, auth.ErrUnauthorized) {
			t.Fatalf("%s: error should match ErrUnauthorized", tc.name)
		}

		anon := g.Check(ctx, tc.token, true)
		if anon.State != auth.StateAnonymous || anon.Auth != nil {
			t.Fatalf("%s: expected anonymous downgrade, got %s", tc.name, anon.State)
		}
	}

	if d := g.Check(ctx, activeTok, false); d.State != auth.StateAuthenticated {
		t.Fatalf("active token rejected: %s", d.Reason())
	}
}

func TestGuardRejectsRevokedAndDeleted(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	m := newManager(t, st)
	g := auth.NewGuard(st, m)
	u := newUser(t, st, "heidi", true)

	first, _ := m.Issue(ctx, u)
	second, _ := m.Issue(ctx, u)
	if err := m.RevokeAll(ctx, u.ID); err != nil {
		t.Fatalf("revoke all: %v", err)
	}
	for _, tok := range []string{first, second} {
		if d := g.Check(ctx, tok, false); d.Reason() != "Token is invalid with db" {
			t.Fatalf("revoked token reason = %q", d.Reason())
		}
	}

	fresh, _ := m.Issue(ctx, u)
	stored, _ := st.Users(ctx).Find(ctx, u.ID)
	stored.Deleted = true
	if err := st.Users(ctx).Save(ctx, stored); err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	if d := g.Check(ctx, fresh, false); d.Reason() != "User not found or deleted" {
		t.Fatalf("deleted user reason = %q", d.Reason())
	}
}

type failingStore struct {
	*memory.Store
}

func (f failingStore) Users(ctx context.Context) auth.UserStore {
	return failingUsers{f.Store.Users(ctx)}
}

type failingUsers struct{ auth.UserStore }

func (failingUsers) FindWithAccess(context.Context, string) (*auth.User, error) {
	return nil, errors.New("connection reset")
}

func TestGuardHidesUnexpectedErrors(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	m := newManager(t, st)
	u := newUser(t, st, "ivan", true)
	tok, _ := m.Issue(ctx, u)

	d := auth.NewGuard(failingStore{st}, m).Check(ctx, tok, false)
	if d.State != auth.StateRejected {
		t.Fatalf("state = %s", d.State)
	}
	if d.Reason() != "Authentication token is invalid" {
		t.Fatalf("reason = %q", d.Reason())
	}
	if !errors.Is(d.Err, auth.ErrUnauthorized) || !strings.Contains(errorChain(d.Err), "connection reset") {
		t.Fatalf("cause should be kept for logs: %v", d.Err)
	}
}

func errorChain(err error) string {
	var parts []string
	var walk func(error)
	walk = func(e error) {
		if e == nil {
			return
		}
		parts = append(parts, e.Error())
		switch x := e.(type) {
		case interface{ Unwrap() []error }:
			for _, inner := range x.Unwrap() {
				walk(inner)
			}
		case interface{ Unwrap() error }:
			walk(x.Unwrap())
		}
	}
	walk(err)
	return strings.Join(parts, " | ")
}

func TestAuthContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	if _, ok := auth.AuthFromContext(ctx); ok {
		t.Fatal("empty context should be anonymous")
	}
	a := auth.NewAuthContext(&auth.User{ID: "u-1", Username: "judy", Tokens: []string{"t"}}, []auth.Permission{auth.Universal()}, "t")
	ctx = auth.ContextWithAuth(ctx, a)
	got, ok := auth.AuthFromContext(ctx)
	if !ok || got.Username() != "judy" {
		t.Fatal("auth context not found")
	}
	if auth.ActorID(ctx) != "u-1" {
		t.Fatalf("actor = %q", auth.ActorID(ctx))
	}
	perms := got.Permissions()
	perms[0].Subject = auth.SubjectRole
	if !got.Can(auth.All, auth.Require(auth.SubjectUser, auth.UserDelete)) {
		t.Fatal("auth context must not observe caller mutations")
	}
}

func TestPasswordHashing(t *testing.T) {
	if _, err := auth.HashPassword(""); err == nil {
		t.Fatal("empty password should be rejected")
	}
	hash, err := auth.HashPassword("s3cret")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !auth.PasswordMatches(hash, "s3cret") || auth.PasswordMatches(hash, "wrong") {
		t.Fatal("password comparison broken")
	}
}
