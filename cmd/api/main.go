package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"niche-backend/internal/bootstrap"
	"niche-backend/internal/shared/config"
	"niche-backend/internal/shared/server"
)

func main() {
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.Build(ctx, cfg, bootstrap.RoleServer)
	if err != nil {
		log.Fatalf("bootstrap build: %v", err)
	}
	defer app.Close()

	var wg sync.WaitGroup
	if app.EmbeddedWorker() {
		// The local queue is a single-process Badger store, so the API
		// consumes it itself.
		if n, err := app.RecoverQueue(ctx); err != nil {
			log.Printf("recover local queue: %v", err)
		} else if n > 0 {
			log.Printf("requeued %d interrupted jobs", n)
		}
		sched, err := app.NewScheduler(ctx)
		if err != nil {
			log.Fatalf("scheduler: %v", err)
		}
		sched.Start()

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := app.WorkerPool().Run(ctx); err != nil {
				log.Printf("embedded worker: %v", err)
			}
		}()
	}

	srv := &http.Server{Addr: server.Addr(cfg.Port), Handler: app.Router}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("server shutdown: %v", err)
		}
	}()

	log.Printf("Starting API server on %s (queue=%s)", srv.Addr, cfg.QueueDriver)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}
	wg.Wait()
}
