// Package admin implements the account, user, role, department and menu
// operations of the admin backend on top of an auth.Store.
package admin

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"

	"gatehouse.org/internal/audit"
	"gatehouse.org/internal/auth"
	"gatehouse.org/internal/obs"
	"gatehouse.org/internal/stream"
)

const saveAttempts = 5

// Page is one page of a list operation.
type Page[T any] struct {
	Data  []T `json:"data"`
	Total int `json:"total"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

func newPage[T any](data []T, total int, q auth.Query) Page[T] {
	if data == nil {
		data = []T{}
	}
	return Page[T]{Data: data, Total: total, Page: q.Page, Limit: q.Limit}
}

// Result acknowledges a mutation.
type Result struct {
	ID       string `json:"id"`
	Username string `json:"username,omitempty"`
	Name     string `json:"name,omitempty"`
	Message  string `json:"message"`
}

// Service is the admin backend. It is safe for concurrent use.
type Service struct {
	store    auth.Store
	tokens   *auth.TokenManager
	history  *audit.Recorder
	notifier stream.Notifier
	logins   *loginThrottle
}

// Option configures a Service.
type Option func(*Service)

// WithNotifier sets where per-user notifications go. The default drops them.
func WithNotifier(n stream.Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithLoginRate bounds login attempts per username and client address.
func WithLoginRate(limit rate.Limit, burst int) Option {
	return func(s *Service) {
		s.logins = newLoginThrottle(limit, burst)
	}
}

// New wires a Service.
func New(store auth.Store, tokens *auth.TokenManager, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("admin: store is required")
	}
	if tokens == nil {
		return nil, errors.New("admin: token manager is required")
	}
	s := &Service{
		store:    store,
		tokens:   tokens,
		history:  audit.NewRecorder(store),
		notifier: discard{},
		logins:   newLoginThrottle(rate.Every(6*time.Second), 10),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Store exposes the backing store, for readiness checks and wiring.
func (s *Service) Store() auth.Store { return s.store }

// Tokens exposes the session manager.
func (s *Service) Tokens() *auth.TokenManager { return s.tokens }

// Catalog lists every grantable (subject, action) pair.
func (s *Service) Catalog() []auth.Grant { return auth.Catalog() }

// History pages the audit trail, newest first.
func (s *Service) History(ctx context.Context, q auth.HistoryQuery) (Page[auth.History], error) {
	q.Query = q.Query.Normalize()
	rows, total, err := s.history.List(ctx, q)
	if err != nil {
		return Page[auth.History]{}, err
	}
	return newPage(rows, total, q.Query), nil
}

// updateUser applies fn to a fresh copy of the user and saves it, reloading on
// version conflicts. It returns the state before and after the change.
func (s *Service) updateUser(ctx context.Context, id string, fn func(*auth.User) error) (before, after *auth.User, err error) {
	users := s.store.Users(ctx)
	for attempt := 0; attempt < saveAttempts; attempt++ {
		u, err := users.Find(ctx, id)
		if err != nil {
			return nil, nil, userLookupError(err)
		}
		before = u.Clone()
		if err := fn(u); err != nil {
			return nil, nil, err
		}
		err = users.Save(ctx, u)
		if err == nil {
			return before, u, nil
		}
		if !errors.Is(err, auth.ErrConflict) {
			return nil, nil, userLookupError(err)
		}
	}
	return nil, nil, auth.ErrConflict
}

// endSessions revokes every session of userID and tells the user why.
func (s *Service) endSessions(ctx context.Context, userID, event string, data any) {
	if err := s.tokens.RevokeAll(ctx, userID); err != nil && !errors.Is(err, auth.ErrNotFound) {
		obs.Logger().Warn("session_revoke_failed", "user_id", userID, "event", event,
			"request_id", audit.RequestIDFromContext(ctx), "error", err)
	}
	s.notify(ctx, userID, event, data)
}

func (s *Service) notify(ctx context.Context, userID, event string, data any) {
	evt := stream.Event{Type: event}
	if data != nil {
		evt.Data = stream.Payload(data)
	}
	if err := s.notifier.Notify(ctx, userID, evt); err != nil {
		obs.Logger().Warn("notify_failed", "user_id", userID, "event", event,
			"request_id", audit.RequestIDFromContext(ctx), "error", err)
	}
}

type discard struct{}

func (discard) Notify(context.Context, string, stream.Event) error { return nil }

func userLookupError(err error) error {
	if errors.Is(err, auth.ErrNotFound) {
		var nf *auth.NotFoundError
		if errors.As(err, &nf) {
			return err
		}
		return auth.NotFound("User not found")
	}
	return err
}

func uniqueIDs(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, id := range in {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
