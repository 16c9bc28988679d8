package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	sentry "github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"

	"authforge.dev/internal/engine"
	"authforge.dev/internal/httpapi"
	"authforge.dev/internal/obs"
	"authforge.dev/internal/store/pg"
	"authforge.dev/internal/sweeper"
	"authforge.dev/internal/vault"
)

var version = "0.3.0"

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("AUTHFORGE_COMMIT"))

	if dsn := os.Getenv("AUTHFORGE_SENTRY_DSN"); dsn != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         dsn,
			Release:     "authforge-api@" + version,
			Environment: os.Getenv("AUTHFORGE_ENV"),
		}); err != nil {
			log.Fatalf("sentry init: %v", err)
		}
		defer sentry.Flush(5 * time.Second)
	}

	dsn := os.Getenv("AUTHFORGE_PG_DSN")
	if dsn == "" {
		log.Fatal("missing AUTHFORGE_PG_DSN")
	}
	st, err := pg.Open(dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer st.Close()

	v, err := vault.New(mustEnv("AUTHFORGE_MASTER_SECRET"))
	if err != nil {
		log.Fatalf("vault: %v", err)
	}

	eng, err := engine.New(st, v, mustEnv("AUTHFORGE_PLATFORM_SECRET"))
	if err != nil {
		log.Fatalf("engine: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// First-run bootstrap. A populated admins table makes this a no-op.
	if email := os.Getenv("AUTHFORGE_BOOTSTRAP_ADMIN_EMAIL"); email != "" {
		if _, err := eng.Bootstrap(ctx, email, mustEnv("AUTHFORGE_BOOTSTRAP_ADMIN_PASSWORD")); err != nil {
			log.Fatalf("bootstrap: %v", err)
		}
	}

	sw := sweeper.New(st, sweeper.WithInterval(envDuration("AUTHFORGE_SWEEP_INTERVAL_MINUTES", sweeper.DefaultInterval)))
	go sw.Run(ctx)

	api := httpapi.New(httpapi.ReadyProbe{DB: st.DB()}, version)
	handler := httpapi.Logging(httpapi.SecurityHeaders(httpapi.MaxBodyBytes(api.Handler(), 1<<20)))

	addr := os.Getenv("AUTHFORGE_HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting authforge-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	log.Println("Stopped")
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("missing %s", key)
	}
	return v
}

func envDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	minutes, err := strconv.Atoi(raw)
	if err != nil || minutes <= 0 {
		log.Fatalf("invalid %s: %q", key, raw)
	}
	return time.Duration(minutes) * time.Minute
}
