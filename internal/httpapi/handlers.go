package httpapi

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"gatehouse.org/internal/admin"
	"gatehouse.org/internal/audit"
	"gatehouse.org/internal/auth"
	"gatehouse.org/internal/obs"
	"gatehouse.org/internal/stream"
	"gatehouse.org/internal/upload"
)

const serviceName = "gatehouse-api"

// Pinger is anything that can report reachability, such as a Redis client.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe checks the database and optional dependencies.
type ReadyProbe struct {
	DB     *sql.DB
	Others []Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB != nil {
		if err := rp.DB.PingContext(ctx); err != nil {
			return err
		}
	}
	for _, p := range rp.Others {
		if p == nil {
			continue
		}
		if err := p.Ping(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Options wires the HTTP layer.
type Options struct {
	Admin   *admin.Service
	Uploads *upload.Storage
	Hub     *stream.Hub
	Ready   ReadyProbe
	Version string

	CookieName    string
	CookieSecure  bool
	CORSOrigins   []string
	RateBurst     int
	RatePerSecond int
	MaxBodyBytes  int64
	UploadMaxBody int64
}

// API is the HTTP layer.
type API struct {
	router     chi.Router
	admin      *admin.Service
	authGuard  *auth.Guard
	history    *audit.Recorder
	uploads    *upload.Storage
	hub        *stream.Hub
	readyProbe ReadyProbe
	version    string

	cookieName    string
	cookieSecure  bool
	corsOrigins   []string
	rateBurst     int
	ratePerSec    int
	maxBodyBytes  int64
	uploadMaxBody int64
}

func New(opts Options) (*API, error) {
	if opts.Admin == nil {
		return nil, errors.New("httpapi: admin service is required")
	}
	a := &API{
		admin:         opts.Admin,
		authGuard:     auth.NewGuard(opts.Admin.Store(), opts.Admin.Tokens()),
		history:       audit.NewRecorder(opts.Admin.Store()),
		uploads:       opts.Uploads,
		hub:           opts.Hub,
		readyProbe:    opts.Ready,
		version:       opts.Version,
		cookieName:    opts.CookieName,
		cookieSecure:  opts.CookieSecure,
		corsOrigins:   opts.CORSOrigins,
		rateBurst:     opts.RateBurst,
		ratePerSec:    opts.RatePerSecond,
		maxBodyBytes:  opts.MaxBodyBytes,
		uploadMaxBody: opts.UploadMaxBody,
	}
	if a.cookieName == "" {
		a.cookieName = "access-token"
	}
	if a.rateBurst <= 0 {
		a.rateBurst = 50
	}
	if a.ratePerSec <= 0 {
		a.ratePerSec = 20
	}
	if a.maxBodyBytes <= 0 {
		a.maxBodyBytes = 1 << 20
	}
	if len(a.corsOrigins) == 0 {
		a.corsOrigins = []string{"http://localhost:*", "http://127.0.0.1:*"}
	}
	a.router = a.routes()
	return a, nil
}

func (a *API) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(middleware.Recoverer)
	r.Use(LoggingJSON)
	r.Use(SecurityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   a.corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", requestIDHeader},
		ExposedHeaders:   []string{requestIDHeader},
		AllowCredentials: true,
		MaxAge:           600,
	}))

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Handle("/metrics", obs.Handler())

	r.Group(func(r chi.Router) {
		r.Use(NewRateLimiter(a.rateBurst, a.ratePerSec).Middleware)
		r.Use(MaxBodyBytes(a.maxBodyBytes))
		a.mountAuth(r)
		a.mountUsers(r)
		a.mountRoles(r)
		a.mountDepartments(r)
		a.mountHistory(r)
		a.mountUploads(r)
		r.With(a.guard(false, true)).Get("/notifications/stream", a.Stream)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "Cannot "+r.Method+" "+r.URL.Path, nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "Method not allowed", nil)
	})
	return r
}

// Handler returns the instrumented router.
func (a *API) Handler() http.Handler {
	return obs.Instrument(a.router)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.readyProbe.Check(ctx); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}
