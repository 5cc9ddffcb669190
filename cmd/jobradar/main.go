// Package main wires together the job crawl service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gcs "cloud.google.com/go/storage"

	"cloud.google.com/go/pubsub"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/jobradar/jobradar/internal/api"
	"github.com/jobradar/jobradar/internal/archive"
	"github.com/jobradar/jobradar/internal/config"
	"github.com/jobradar/jobradar/internal/dedup"
	"github.com/jobradar/jobradar/internal/fetch"
	"github.com/jobradar/jobradar/internal/index"
	"github.com/jobradar/jobradar/internal/jobs"
	"github.com/jobradar/jobradar/internal/logging"
	"github.com/jobradar/jobradar/internal/metrics"
	"github.com/jobradar/jobradar/internal/orchestrator"
	pubsubpublisher "github.com/jobradar/jobradar/internal/publisher/pubsub"
	"github.com/jobradar/jobradar/internal/run"
	"github.com/jobradar/jobradar/internal/scheduler"
	"github.com/jobradar/jobradar/internal/sources"
	memorystorage "github.com/jobradar/jobradar/internal/storage/memory"
	"github.com/jobradar/jobradar/internal/storage/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	postingStore, historyStore, closeStores, err := buildStores(ctx, cfg)
	if err != nil {
		logger.Fatal("storage init failed", zap.Error(err))
	}
	defer closeStores()

	searchIndex := buildIndex(cfg, logger)

	engineOpts := []dedup.Option{}
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() {
			if closeErr := rdb.Close(); closeErr != nil {
				logger.Warn("redis close failed", zap.Error(closeErr))
			}
		}()
		engineOpts = append(engineOpts, dedup.WithCache(dedup.NewRedisCache(rdb, cfg.CacheTTL())))
		logger.Info("fingerprint cache enabled", zap.String("addr", cfg.Redis.Addr))
	}
	engine := dedup.New(postingStore, searchIndex, logger.Named("dedup"), engineOpts...)

	tracker := run.NewTracker(historyStore, logger.Named("tracker"))

	runnerOpts := []run.RunnerOption{run.WithAbandonBudget(cfg.AbandonBudget())}
	if cfg.PubSub.ProjectID != "" {
		psClient, psErr := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if psErr != nil {
			logger.Fatal("pubsub client init failed", zap.Error(psErr))
		}
		pub := pubsubpublisher.New(psClient)
		defer pub.Stop()
		runnerOpts = append(runnerOpts, run.WithPublisher(pub, cfg.PubSub.Topic))
		logger.Info("posting events enabled", zap.String("topic", cfg.PubSub.Topic))
	}
	runner := run.NewRunner(tracker, engine, logger.Named("runner"), runnerOpts...)

	blobStore, err := buildArchive(ctx, cfg)
	if err != nil {
		logger.Fatal("archive init failed", zap.Error(err))
	}

	chain, closeChain := buildFetchChain(cfg, logger)
	defer closeChain()

	orch := orchestrator.New(runner, logger.Named("orchestrator"),
		orchestrator.WithMaxPerSource(cfg.Crawl.MaxPerSource))
	registerBoards(cfg, chain, blobStore, orch, logger)

	apiServer := api.NewServer(orch, tracker, engine, api.AuthConfig{
		Enabled: cfg.Auth.Enabled,
		APIKey:  cfg.Auth.APIKey,
	}, logger.Named("api"))

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched = scheduler.New(orch, logger.Named("scheduler"))
		if err := sched.Add(cfg.Scheduler.Cron); err != nil {
			logger.Fatal("scheduler init failed", zap.Error(err))
		}
		sched.Start()
		logger.Info("scheduler started", zap.String("cron", cfg.Scheduler.Cron))
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if sched != nil {
		sched.Stop()
	}
	logger.Info("shutdown complete")
}

// buildStores returns Postgres-backed stores when a DSN is configured, and
// in-memory stores otherwise.
func buildStores(ctx context.Context, cfg config.Config) (jobs.PostingStore, jobs.HistoryStore, func(), error) {
	if cfg.DB.DSN == "" {
		return memorystorage.NewPostingStore(), memorystorage.NewHistoryStore(), func() {}, nil
	}

	storeCfg := postgres.PostingStoreConfig{
		DSN:             cfg.DB.DSN,
		MaxConns:        cfg.DB.MaxConns,
		MinConns:        cfg.DB.MinConns,
		MaxConnLifetime: time.Duration(cfg.DB.ConnLifetimeMin) * time.Minute,
	}
	postingStore, err := postgres.NewPostingStore(ctx, storeCfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("posting store: %w", err)
	}
	historyStore, err := postgres.NewHistoryStore(ctx, storeCfg)
	if err != nil {
		postingStore.Close()
		return nil, nil, nil, fmt.Errorf("history store: %w", err)
	}
	closeAll := func() {
		historyStore.Close()
		postingStore.Close()
	}
	return postingStore, historyStore, closeAll, nil
}

func buildIndex(cfg config.Config, logger *zap.Logger) jobs.SearchIndex {
	if cfg.Index.URL == "" {
		return index.NewMemory()
	}
	return index.NewMarqo(cfg.Index.URL, cfg.Index.IndexName, logger.Named("index"))
}

func buildArchive(ctx context.Context, cfg config.Config) (jobs.BlobStore, error) {
	switch cfg.Archive.Backend {
	case "gcs":
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		return archive.NewGCS(ctx, client, cfg.Archive.Bucket)
	case "local":
		return archive.NewLocal(cfg.Archive.BaseDir)
	default:
		return nil, nil
	}
}

// buildFetchChain assembles the strategy waterfall, cheapest first. Headless
// init failure degrades the chain rather than aborting startup.
func buildFetchChain(cfg config.Config, logger *zap.Logger) (*fetch.Chain, func()) {
	detector := fetch.NewChallengeDetector(nil)
	timeout := time.Duration(cfg.Fetch.TimeoutSeconds) * time.Second

	strategies := []fetch.Strategy{
		fetch.NewDirect(fetch.DirectConfig{
			UserAgent: cfg.Fetch.UserAgent,
			Timeout:   timeout,
		}),
	}
	closeChain := func() {}

	headless, err := fetch.NewHeadless(fetch.HeadlessConfig{
		MaxParallel:       cfg.Fetch.HeadlessMaxParallel,
		UserAgent:         cfg.Fetch.UserAgent,
		NavigationTimeout: timeout,
	})
	if err != nil {
		logger.Warn("headless strategy init failed", zap.Error(err))
	} else {
		strategies = append(strategies, headless)
		closeChain = headless.Close
	}

	if cfg.Fetch.SolverURL != "" {
		strategies = append(strategies, fetch.NewSolver(fetch.SolverConfig{
			Endpoint: cfg.Fetch.SolverURL,
			Timeout:  time.Duration(cfg.Fetch.SolverTimeoutSec) * time.Second,
		}))
	}

	if cfg.Fetch.InteractiveEnabled {
		strategies = append(strategies, fetch.NewInteractive(fetch.InteractiveConfig{
			PollInterval: time.Duration(cfg.Fetch.InteractivePollSec) * time.Second,
			MaxWait:      time.Duration(cfg.Fetch.InteractiveMaxSec) * time.Second,
		}, detector, nil))
	}

	return fetch.NewChain(detector, logger.Named("fetch"), strategies...), closeChain
}

func registerBoards(cfg config.Config, chain *fetch.Chain, blobStore jobs.BlobStore, orch *orchestrator.Orchestrator, logger *zap.Logger) {
	for _, src := range cfg.Sources {
		extractor := sources.NewHTMLExtractor(src.Name, sources.Selectors{
			Item:            src.Selectors.Item,
			Title:           src.Selectors.Title,
			Company:         src.Selectors.Company,
			Location:        src.Selectors.Location,
			Salary:          src.Selectors.Salary,
			JobType:         src.Selectors.JobType,
			ExperienceLevel: src.Selectors.ExperienceLevel,
			Description:     src.Selectors.Description,
			Link:            src.Selectors.Link,
			NativeIDAttr:    src.Selectors.NativeIDAttr,
			PostedAtSel:     src.Selectors.PostedAt,
			PostedAtLayout:  src.Selectors.PostedAtLayout,
		})

		var opts []sources.BoardOption
		if blobStore != nil {
			opts = append(opts, sources.WithArchive(blobStore))
		}
		board := sources.NewBoard(sources.BoardConfig{
			Name:          src.Name,
			StartURL:      src.StartURL,
			PageParam:     src.PageParam,
			MaxPages:      src.MaxPages,
			ExpectMarkers: src.ExpectMarkers,
			Browser:       src.Browser,
			Headers:       src.Headers,
		}, chain, extractor, logger.Named("board"), opts...)

		orch.Register(board)
		logger.Info("source registered", zap.String("source", src.Name))
	}
}
