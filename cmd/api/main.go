package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mskhalsa/EZPostgres-service/internal/audit"
	"github.com/mskhalsa/EZPostgres-service/internal/deploy"
	"github.com/mskhalsa/EZPostgres-service/internal/guard"
	"github.com/mskhalsa/EZPostgres-service/internal/httpapi"
	"github.com/mskhalsa/EZPostgres-service/internal/identity"
	"github.com/mskhalsa/EZPostgres-service/internal/obs"
	"github.com/mskhalsa/EZPostgres-service/internal/registry"
	"github.com/mskhalsa/EZPostgres-service/internal/report"
	"github.com/mskhalsa/EZPostgres-service/internal/store/pg"
	"github.com/mskhalsa/EZPostgres-service/internal/tenant"
)

var version = "0.3.1"

func main() {
	obs.Init()

	dsn := os.Getenv("EZPG_PG_DSN")
	if dsn == "" {
		log.Fatal("missing DSN: set EZPG_PG_DSN")
	}
	store, err := pg.Open(dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}

	recorder := audit.NewRecorder(store)
	policy := tenant.NewPolicy(store, store)
	users := identity.NewService(store, recorder)
	authenticator := identity.NewAuthenticator(store, guard.New(store), recorder)
	teams := tenant.NewService(store, store, policy, recorder)
	tables := registry.NewService(store, policy)
	deployer := deploy.NewOrchestrator(policy, store, store, recorder)
	activity := audit.NewService(store)
	reports := report.NewService(store, policy)

	api := httpapi.New(httpapi.Services{
		Users:         users,
		Authenticator: authenticator,
		Directory:     store,
		Teams:         teams,
		Tables:        tables,
		Deployer:      deployer,
		Activity:      activity,
		Reports:       reports,
	}, httpapi.ReadyProbe{DB: store.DB()}, version)

	addr := os.Getenv("EZPG_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	handler := httpapi.SecurityHeaders(api.Handler())
	handler = httpapi.MaxBodyBytes(handler, 1<<20)
	handler = httpapi.RateLimit(handler, 20, 10)
	handler = httpapi.Logging(handler)

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting ezpostgres-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	_ = store.Close()
	log.Println("Stopped")
}
