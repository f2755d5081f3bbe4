package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"niche-backend/internal/analysisruns"
	"niche-backend/internal/apiusage"
	"niche-backend/internal/clients/adsapi"
	"niche-backend/internal/clients/apify"
	"niche-backend/internal/clients/keepa"
	"niche-backend/internal/llm"
	anthropicllm "niche-backend/internal/llm/anthropic"
	geminillm "niche-backend/internal/llm/gemini"
	openaillm "niche-backend/internal/llm/openai"
	"niche-backend/internal/niches"
	"niche-backend/internal/queue"
	"niche-backend/internal/services/health"
	"niche-backend/internal/shared/cache"
	"niche-backend/internal/shared/config"
	"niche-backend/internal/shared/ratelimit"
	"niche-backend/internal/shared/server"
	"niche-backend/internal/shared/storage/db"
	"niche-backend/internal/users"
	"niche-backend/internal/workerproc"
)

// Role selects the connection pool profile of the process.
type Role string

const (
	RoleServer Role = "server"
	RoleWorker Role = "worker"
	RoleCLI    Role = "cli"
)

// App holds shared dependencies.
type App struct {
	Config config.Config
	Router *gin.Engine
	DB     *sql.DB
	Badger *badger.DB
	Cache  cache.Cache
	Usage  apiusage.Recorder
	Limits *ratelimit.Registry

	Queue    queue.Client
	Consumer queue.Consumer

	Keepa *keepa.Client
	Apify *apify.Client
	Ads   *adsapi.Client
	LLM   llm.Client

	NichesRepo     niches.Repo
	NicheProcessor *niches.Processor
	NichesService  *niches.Service
	NichesHandler  *niches.Handler

	RunsRepo     analysisruns.Repo
	Orchestrator *analysisruns.Orchestrator
	RunsHandler  *analysisruns.Handler

	UsersService *users.Service
	UsersHandler *users.Handler
}

// Build prepares shared dependencies and the HTTP router.
func Build(ctx context.Context, cfg config.Config, role Role) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}

	sqlDB, err := buildDB(ctx, cfg, role)
	if err != nil {
		return nil, err
	}

	app := &App{Config: cfg, DB: sqlDB}
	if err := app.buildLocalStore(); err != nil {
		app.Close()
		return nil, err
	}
	if err := app.buildQueue(ctx); err != nil {
		app.Close()
		return nil, err
	}
	if err := app.buildClients(ctx); err != nil {
		app.Close()
		return nil, err
	}
	app.buildServices()

	app.Router = server.NewRouter(server.RouterDeps{
		Config:         cfg,
		NichesHandler:  app.NichesHandler,
		RunsHandler:    app.RunsHandler,
		UsersHandler:   app.UsersHandler,
		Health:         health.NewService(pinger(sqlDB), cfg.QueueDriver),
		RateLimitRules: server.DefaultRateLimitRules(),
	})
	return app, nil
}

// pinger avoids handing the health check a typed nil.
func pinger(sqlDB *sql.DB) health.Pinger {
	if sqlDB == nil {
		return nil
	}
	return sqlDB
}

func buildDB(ctx context.Context, cfg config.Config, role Role) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if cfg.IsDevLike() {
			log.Printf("bootstrap: DATABASE_URL empty; using in-memory repositories")
			return nil, nil
		}
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	var opts db.Options
	switch role {
	case RoleWorker:
		opts = db.OptionsFromEnv(db.DefaultWorkerOptions(cfg.WorkerConcurrency))
	case RoleCLI:
		opts = db.OptionsFromEnv(db.DefaultMigrateOptions())
	default:
		opts = db.OptionsFromEnv(db.DefaultServerOptions())
	}
	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, opts)
	if err != nil {
		if cfg.IsDevLike() {
			log.Printf("bootstrap: database connect failed; using in-memory repositories: %v", err)
			return nil, nil
		}
		return nil, err
	}
	return sqlDB, nil
}

// buildLocalStore opens Badger for the response cache and the local queue.
// The memory queue driver keeps Badger in memory as well.
func (a *App) buildLocalStore() error {
	dir := a.Config.LocalDataDir
	if a.Config.QueueDriver == "memory" {
		dir = ""
	}
	bdb, err := cache.OpenBadger(dir)
	if err != nil {
		return fmt.Errorf("open badger: %w", err)
	}
	a.Badger = bdb
	a.Cache = cache.NewBadgerCache(bdb)
	return nil
}

func (a *App) buildQueue(ctx context.Context) error {
	switch a.Config.QueueDriver {
	case "sqs":
		client, err := queue.NewSQSClient(ctx, a.Config.SQSQueueURL, a.Config.AWSRegion)
		if err != nil {
			return fmt.Errorf("sqs client: %w", err)
		}
		a.Queue, a.Consumer = client, client
	default:
		q := queue.NewBadgerQueue(a.Badger)
		a.Queue, a.Consumer = q, q
	}
	return nil
}

// EmbeddedWorker reports whether the queue lives inside this process, in
// which case the API server must also consume it.
func (a *App) EmbeddedWorker() bool {
	return a.Config.QueueDriver != "sqs"
}

func (a *App) buildClients(ctx context.Context) error {
	cfg := a.Config
	if a.DB != nil {
		a.Usage = &apiusage.PGRecorder{DB: a.DB}
	} else {
		a.Usage = &apiusage.MemoryRecorder{}
	}
	a.Limits = ratelimit.NewRegistry(cfg.Pipeline.RateLimits)
	cacheTTL := time.Duration(cfg.Pipeline.CacheTTLSec) * time.Second
	httpClient := &http.Client{}

	a.Keepa = keepa.NewClient(keepa.Config{
		APIKey:   cfg.KeepaAPIKey,
		Endpoint: cfg.KeepaEndpoint,
		Domain:   cfg.KeepaDomain,
		CacheTTL: cacheTTL,
	}, httpClient, a.Limits.For("keepa"), a.Cache, a.Usage)

	a.Apify = apify.NewClient(apify.Config{
		Token:           cfg.ApifyToken,
		ReviewActor:     cfg.ApifyReviewActor,
		CompetitorActor: cfg.ApifyCompetitorActor,
		CacheTTL:        cacheTTL,
	}, httpClient, a.Limits.For("apify"), a.Cache, a.Usage)

	a.Ads = adsapi.NewClient(ctx, adsapi.Config{
		ClientID:     cfg.AdsClientID,
		ClientSecret: cfg.AdsClientSecret,
		RefreshToken: cfg.AdsRefreshToken,
		ProfileID:    cfg.AdsProfileID,
		Endpoint:     cfg.AdsEndpoint,
	}, httpClient, a.Limits.For("ads"), a.Usage)

	client, err := buildLLM(ctx, cfg, a.Limits.For("llm"))
	if err != nil {
		return err
	}
	a.LLM = client
	return nil
}

// buildLLM picks the configured provider. Without an API key the run still
// works; AI insights fall back to the unavailable placeholder.
func buildLLM(ctx context.Context, cfg config.Config, limiter ratelimit.Waiter) (llm.Client, error) {
	var (
		client llm.Client
		err    error
	)
	switch cfg.LLMProvider {
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			return llm.PlaceholderClient{}, nil
		}
		client, err = anthropicllm.NewClient(cfg.AnthropicAPIKey, cfg.LLMModel, limiter)
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			return llm.PlaceholderClient{}, nil
		}
		client, err = geminillm.NewClient(ctx, cfg.GeminiAPIKey, cfg.LLMModel, limiter)
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return llm.PlaceholderClient{}, nil
		}
		client, err = openaillm.NewClient(cfg.OpenAIAPIKey, cfg.LLMModel, limiter)
	case "", "none":
		return llm.PlaceholderClient{}, nil
	default:
		return nil, fmt.Errorf("unknown LLM_PROVIDER %q", cfg.LLMProvider)
	}
	if err != nil {
		return nil, fmt.Errorf("%s client: %w", cfg.LLMProvider, err)
	}
	return llm.NewRetrying(client), nil
}

func (a *App) buildServices() {
	var (
		nicheRepo niches.Repo
		runsRepo  analysisruns.Repo
		userRepo  users.Repo
	)
	if a.DB != nil {
		nicheRepo = &niches.PGRepo{DB: a.DB}
		runsRepo = &analysisruns.PGRepo{DB: a.DB}
		userRepo = &users.PGRepo{DB: a.DB}
	} else {
		memUsers := users.NewMemoryRepo()
		memRuns := analysisruns.NewMemoryRepo()
		memRuns.Tiers = memUsers
		nicheRepo, runsRepo, userRepo = niches.NewMemoryRepo(), memRuns, memUsers
	}

	pipeline := a.Config.Pipeline
	retryEvery := time.Duration(pipeline.Processor.RetryDelayMs) * time.Millisecond
	processor := niches.NewProcessor(nicheRepo, a.Keepa, a.Ads, a.Apify, pipeline.Processor, rate.NewLimiter(rate.Every(retryEvery), 1))
	nicheSvc := niches.NewService(nicheRepo, processor)

	orch := analysisruns.NewOrchestrator(analysisruns.Deps{
		Repo:        runsRepo,
		Niches:      nicheRepo,
		Queue:       a.Queue,
		Products:    a.Keepa,
		Competitors: a.Apify,
		Reviews:     a.Apify,
		LLM:         a.LLM,
		Notifier:    analysisruns.NewHTTPNotifier(&http.Client{}),
		Pipeline:    pipeline,
	})
	userSvc := users.NewService(userRepo)

	a.NichesRepo = nicheRepo
	a.NicheProcessor = processor
	a.NichesService = nicheSvc
	a.NichesHandler = niches.NewHandler(nicheSvc)
	a.RunsRepo = runsRepo
	a.Orchestrator = orch
	a.RunsHandler = analysisruns.NewHandler(orch)
	a.UsersService = userSvc
	a.UsersHandler = users.NewHandler(userSvc, orch)
}

// WorkerPool returns a pool consuming the app's queue with the
// orchestrator's retry tunables.
func (a *App) WorkerPool() *workerproc.Pool {
	t := a.Orchestrator.Tunables
	return &workerproc.Pool{
		Consumer:        a.Consumer,
		Processor:       a.Orchestrator,
		Concurrency:     a.Config.WorkerConcurrency,
		MaxAttempts:     t.MaxAttempts,
		BackoffBase:     time.Duration(t.BackoffBaseMs) * time.Millisecond,
		ShutdownTimeout: a.Config.ShutdownTimeout,
	}
}

// RecoverQueue requeues jobs a crashed local worker left active. SQS handles
// this itself through visibility timeouts.
func (a *App) RecoverQueue(ctx context.Context) (int, error) {
	q, ok := a.Consumer.(*queue.BadgerQueue)
	if !ok {
		return 0, nil
	}
	return q.RecoverActive(ctx)
}

// Close releases the database pool and Badger.
func (a *App) Close() error {
	var errs []error
	if a.Badger != nil {
		errs = append(errs, a.Badger.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}
