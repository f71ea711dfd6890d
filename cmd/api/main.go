package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"orgmesh.org/internal/audit"
	"orgmesh.org/internal/hierarchy"
	"orgmesh.org/internal/httpapi"
	"orgmesh.org/internal/identity"
	"orgmesh.org/internal/obs"
	"orgmesh.org/internal/store/pg"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	dsn := os.Getenv("ORGMESH_PG_DSN")
	if dsn == "" {
		log.Fatal("missing ORGMESH_PG_DSN")
	}
	secret := os.Getenv("ORGMESH_AUTH_SECRET")
	if secret == "" {
		log.Fatal("missing ORGMESH_AUTH_SECRET")
	}

	store, err := pg.Open(dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}

	recorder := audit.LogRecorder{}

	idOpts := []identity.ServiceOption{identity.WithAuditRecorder(recorder)}
	if iss := os.Getenv("ORGMESH_AUTH_ISSUER"); iss != "" {
		idOpts = append(idOpts, identity.WithIssuer(iss))
	}
	if aud := os.Getenv("ORGMESH_AUTH_AUDIENCE"); aud != "" {
		idOpts = append(idOpts, identity.WithAudience(aud))
	}
	if ttl := os.Getenv("ORGMESH_ACCESS_TTL"); ttl != "" {
		d, err := time.ParseDuration(ttl)
		if err != nil {
			log.Fatalf("parse ORGMESH_ACCESS_TTL: %v", err)
		}
		idOpts = append(idOpts, identity.WithAccessTTL(d))
	}
	if ttl := os.Getenv("ORGMESH_REFRESH_TTL"); ttl != "" {
		d, err := time.ParseDuration(ttl)
		if err != nil {
			log.Fatalf("parse ORGMESH_REFRESH_TTL: %v", err)
		}
		idOpts = append(idOpts, identity.WithRefreshTTL(d))
	}

	svc, err := identity.NewService(store, secret, idOpts...)
	if err != nil {
		log.Fatalf("identity service: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	if err := svc.EnsureBuiltins(ctx); err != nil {
		cancel()
		log.Fatalf("ensure builtins: %v", err)
	}
	bootOrg := os.Getenv("ORGMESH_BOOTSTRAP_ORG")
	bootEmail := os.Getenv("ORGMESH_BOOTSTRAP_EMAIL")
	bootPassword := os.Getenv("ORGMESH_BOOTSTRAP_PASSWORD")
	if bootOrg != "" && bootEmail != "" && bootPassword != "" {
		if _, err := svc.EnsureBootstrapAdmin(ctx, bootOrg, bootEmail, bootPassword); err != nil {
			cancel()
			log.Fatalf("ensure bootstrap admin: %v", err)
		}
	}
	cancel()

	tree, err := hierarchy.NewEngine(store.Tree(),
		hierarchy.WithAuditRecorder(recorder),
		hierarchy.WithSessionRevoker(svc),
	)
	if err != nil {
		log.Fatalf("hierarchy engine: %v", err)
	}

	api := httpapi.New(httpapi.ReadyProbe{DB: store.DB()}, version, svc, tree)

	addr := os.Getenv("ORGMESH_HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting orgmesh-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	_ = store.Close()
	log.Println("Stopped")
}
