package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nixlone/trackly/internal/auth"
	"github.com/nixlone/trackly/internal/config"
	"github.com/nixlone/trackly/internal/db"
	api "github.com/nixlone/trackly/internal/http"
	"github.com/nixlone/trackly/internal/repo"
	"github.com/nixlone/trackly/internal/service"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	var store repo.Store
	switch cfg.Store {
	case config.StoreMemory:
		log.Printf("using in-memory store; data is lost on restart")
		store = repo.NewMemory()
	default:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("failed to connect db: %v", err)
		}
		defer pool.Close()
		if err := db.RunMigrations(ctx, pool, cfg.MigrationsDir); err != nil {
			log.Fatalf("failed to run migrations: %v", err)
		}
		store = repo.NewPostgres(pool)
	}

	authManager := auth.NewManager(cfg.JWTSecret)
	svc := service.New(store, authManager)
	if err := svc.EnsureDefaultAdmin(ctx); err != nil {
		log.Fatalf("failed to bootstrap admin user: %v", err)
	}

	handler := &api.API{Store: store, Service: svc, Auth: authManager, Origins: cfg.CORSOrigins}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("server listening on %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctxShutdown); err != nil {
		log.Printf("server shutdown error: %v", err)
	}
}
