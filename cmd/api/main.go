package main

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"gatehouse.org/internal/admin"
	"gatehouse.org/internal/auth"
	"gatehouse.org/internal/config"
	"gatehouse.org/internal/httpapi"
	"gatehouse.org/internal/obs"
	"gatehouse.org/internal/store/memory"
	"gatehouse.org/internal/store/pg"
	"gatehouse.org/internal/stream"
	"gatehouse.org/internal/upload"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	if err := run(); err != nil {
		obs.Logger().Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	obs.SetLevel(cfg.LogLevel)
	obs.Init()
	obs.InitBuildInfo(version, commit)
	log := obs.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Without a DSN everything lives in memory and the admin account is seeded
	// on start so the server is usable for local work.
	var (
		store auth.Store
		db    *sql.DB
	)
	if cfg.Database.DSN != "" {
		pgStore, err := pg.Open(cfg.Database.DSN, pg.Pool{
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			return err
		}
		defer pgStore.Close()
		store, db = pgStore, pgStore.DB()
	} else {
		mem := memory.New()
		created, err := admin.EnsureAdmin(ctx, mem, admin.DefaultAdminUsername, admin.DefaultAdminPassword)
		if err != nil {
			return err
		}
		log.Warn("using in-memory store", "admin_seeded", created)
		store = mem
	}

	tokens, err := auth.NewTokenManager(store, cfg.Auth.JWTSecret,
		auth.WithTokenTTL(cfg.Auth.JWTExpiresIn),
		auth.WithMaxTokens(cfg.Auth.JWTMaxTokens),
	)
	if err != nil {
		return err
	}

	hub := stream.NewHub()
	var notifier stream.Notifier = hub
	probe := httpapi.ReadyProbe{DB: db}
	if cfg.Redis.URL != "" {
		rn, err := stream.NewRedisNotifier(ctx, cfg.Redis.URL, cfg.Redis.Channel, hub)
		if err != nil {
			return err
		}
		defer rn.Close()
		go func() {
			if err := rn.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("redis_subscriber_stopped", "error", err)
			}
		}()
		notifier = rn
		probe.Others = append(probe.Others, rn)
	}

	svc, err := admin.New(store, tokens, admin.WithNotifier(notifier))
	if err != nil {
		return err
	}
	uploads, err := upload.NewStorage(cfg.Upload.Dir, cfg.Upload.MaxBytes)
	if err != nil {
		return err
	}

	api, err := httpapi.New(httpapi.Options{
		Admin:         svc,
		Uploads:       uploads,
		Hub:           hub,
		Ready:         probe,
		Version:       version,
		CookieName:    cfg.Auth.CookieName,
		CookieSecure:  cfg.Auth.CookieSecure,
		CORSOrigins:   cfg.HTTP.CORSOrigins,
		RateBurst:     cfg.HTTP.RateBurst,
		RatePerSecond: cfg.HTTP.RatePerSecond,
		MaxBodyBytes:  cfg.HTTP.MaxBodyBytes,
		UploadMaxBody: cfg.Upload.MaxBytes + 1<<20,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,

		// ends open notification streams on shutdown
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info("http_listen", "addr", srv.Addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var grpcSrv *grpc.Server
	if cfg.GRPC.Addr != "" {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			return err
		}
		grpcSrv = grpc.NewServer()
		health := httpapi.NewGRPCServer(probe, version, 0)
		health.Register(grpcSrv)
		go health.Run(ctx)
		go func() {
			log.Info("grpc_listen", "addr", cfg.GRPC.Addr)
			if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errCh <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		stop()
		log.Error("server_failed", "error", err)
	}
	log.Info("shutting_down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info("stopped")
	return nil
}
