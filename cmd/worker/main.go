package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"niche-backend/internal/bootstrap"
	"niche-backend/internal/shared/config"
)

func main() {
	cfg := config.Load()
	if cfg.QueueDriver != "sqs" {
		log.Printf("worker: queue driver %q is consumed by the API process; starting anyway", cfg.QueueDriver)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.Build(ctx, cfg, bootstrap.RoleWorker)
	if err != nil {
		log.Fatalf("bootstrap build: %v", err)
	}
	defer app.Close()

	if n, err := app.RecoverQueue(ctx); err != nil {
		log.Printf("recover queue: %v", err)
	} else if n > 0 {
		log.Printf("requeued %d interrupted jobs", n)
	}

	sched, err := app.NewScheduler(ctx)
	if err != nil {
		log.Fatalf("scheduler: %v", err)
	}
	sched.Start()

	pool := app.WorkerPool()
	log.Printf("worker started queue=%s concurrency=%d max_attempts=%d", cfg.QueueDriver, pool.Concurrency, pool.MaxAttempts)
	if err := pool.Run(ctx); err != nil {
		log.Fatalf("worker: %v", err)
	}
	log.Printf("worker stopped")
}
