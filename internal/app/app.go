// Package app builds the crawlrules services from configuration and runs them.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/crawlrules/internal/api"
	"github.com/JakeFAU/crawlrules/internal/clock/system"
	"github.com/JakeFAU/crawlrules/internal/config"
	"github.com/JakeFAU/crawlrules/internal/crawler"
	"github.com/JakeFAU/crawlrules/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/crawlrules/internal/fetcher/colly"
	"github.com/JakeFAU/crawlrules/internal/hash/sha256"
	"github.com/JakeFAU/crawlrules/internal/id/uuid"
	"github.com/JakeFAU/crawlrules/internal/logging"
	"github.com/JakeFAU/crawlrules/internal/metrics"
	"github.com/JakeFAU/crawlrules/internal/policy/ratelimit"
	"github.com/JakeFAU/crawlrules/internal/progress"
	progresssinks "github.com/JakeFAU/crawlrules/internal/progress/sinks"
	queueMemory "github.com/JakeFAU/crawlrules/internal/queue/memory"
	"github.com/JakeFAU/crawlrules/internal/telemetry"
	"github.com/JakeFAU/crawlrules/internal/worker"
)

// ErrNoSeeds is returned when a crawl is started without any seed URLs.
var ErrNoSeeds = errors.New("no seed urls")

// App contains the application's dependencies.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	enforcer *crawler.RobotsEnforcer
	robots   crawler.RobotsPolicy
	fetcher  *collyfetcher.Fetcher
	follower *crawler.RedirectFollower
	ids      *uuid.Generator
	clock    *system.Clock
	hub      *progress.Hub

	tracerShutdown telemetry.ShutdownFunc
}

// Summary describes a finished crawl run.
type Summary struct {
	RunID     string
	Processed int
	Outcomes  map[crawler.Outcome]int
}

// Build creates the logger and tracer from cfg and wires the application.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.NewWithLevel(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	shutdown, err := telemetry.InitTracerProvider(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}

	app := NewApp(cfg, logger)
	app.tracerShutdown = shutdown
	return app, nil
}

// NewApp wires the robots enforcer, fetcher and redirect follower shared by
// the API server and crawl runs.
func NewApp(cfg config.Config, logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	type sanitizedConfig struct {
		ServerPort    int    `json:"server_port"`
		UserAgent     string `json:"user_agent"`
		Concurrency   int    `json:"concurrency"`
		RespectRobots bool   `json:"respect_robots"`
		AuthEnabled   bool   `json:"auth_enabled"`
	}
	logger.Info("creating application", zap.Any("config", sanitizedConfig{
		ServerPort:    cfg.Server.Port,
		UserAgent:     cfg.Crawler.UserAgent,
		Concurrency:   cfg.Crawler.Concurrency,
		RespectRobots: cfg.Robots.Respect,
		AuthEnabled:   cfg.Auth.Enabled,
	}))

	clock := system.New()
	enforcer := crawler.NewRobotsEnforcer(crawler.RobotsConfig{
		UserAgent: cfg.Crawler.UserAgent,
		CacheTTL:  cfg.RobotsCacheTTL(),
		CacheSize: cfg.Robots.CacheSize,
		Client:    collyfetcher.NewRobotsClient(cfg.RobotsTimeout()),
		Clock:     clock,
	}, logger.Named("robots"))
	policy := crawler.NewRobotsPolicy(cfg.Robots.Respect, enforcer)
	if !cfg.Robots.Respect {
		logger.Warn("robots.txt enforcement disabled")
	}

	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.Crawler.UserAgent,
		Timeout:   cfg.FetchTimeout(),
	})
	follower := crawler.NewRedirectFollower(fetcher, policy, cfg.Redirect.MaxHops, logger.Named("redirect"))

	return &App{
		cfg:      cfg,
		logger:   logger,
		enforcer: enforcer,
		robots:   policy,
		fetcher:  fetcher,
		follower: follower,
		ids:      uuid.New(),
		clock:    clock,
		hub:      setupProgress(cfg, logger),
	}
}

func setupProgress(cfg config.Config, logger *zap.Logger) *progress.Hub {
	if !cfg.Progress.Enabled {
		logger.Info("progress tracking disabled")
		return nil
	}
	var sinkList []progress.Sink
	promSink, err := progresssinks.NewPrometheusSink(nil)
	if err != nil {
		logger.Warn("progress prometheus sink unavailable", zap.Error(err))
	} else {
		sinkList = append(sinkList, promSink)
	}
	if cfg.Progress.LogEnabled {
		sinkList = append(sinkList, progresssinks.NewLogSink(logger.Named("progress")))
	}
	if len(sinkList) == 0 {
		return nil
	}
	hubCfg := progress.Config{
		BufferSize:     cfg.Progress.BufferSize,
		MaxBatchEvents: cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   time.Duration(cfg.Progress.MaxBatchWaitMs) * time.Millisecond,
		Logger:         logger.Named("progress_hub"),
	}
	logger.Debug("progress hub initialized",
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
		zap.Int("sinks", len(sinkList)),
	)
	return progress.NewHub(hubCfg, sinkList...)
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Robots returns the robots enforcer regardless of whether crawls respect it.
func (a *App) Robots() *crawler.RobotsEnforcer {
	return a.enforcer
}

// Serve runs the HTTP API until ctx is canceled, then shuts it down gracefully.
func (a *App) Serve(ctx context.Context) error {
	apiServer := api.NewServer(a.enforcer, a.ids, a.cfg, a.logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown initiated")
		apiServer.SetReady(false)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout())
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// Crawl runs one crawl over seeds, falling back to the configured seeds when
// none are given, and blocks until every planned URL has been processed.
func (a *App) Crawl(ctx context.Context, seeds []string) (Summary, error) {
	if len(seeds) == 0 {
		seeds = a.cfg.Crawler.Seeds
	}
	if len(seeds) == 0 {
		return Summary{}, ErrNoSeeds
	}
	runID, err := a.ids.NewID()
	if err != nil {
		return Summary{}, fmt.Errorf("generate run id: %w", err)
	}
	logger := a.logger.With(zap.String("run_id", runID))

	sink, closeSink, err := a.openSink(logger)
	if err != nil {
		return Summary{}, err
	}
	defer func() {
		if cerr := closeSink(); cerr != nil {
			logger.Warn("sink close failed", zap.Error(cerr))
		}
	}()
	counter := newCountingSink(sink)

	planner := crawler.NewPlanner(a.enforcer, a.fetcher, crawler.PlannerConfig{
		FollowSitemaps: a.cfg.Crawler.FollowSitemaps,
		MaxSitemapURLs: a.cfg.Crawler.MaxSitemapURLs,
	}, logger.Named("planner"))
	items := planner.Plan(ctx, seeds)
	logger.Info("crawl planned", zap.Int("seeds", len(seeds)), zap.Int("items", len(items)))
	started := a.clock.Now()
	a.emitRun(runID, progress.StageRunStart, 0, "")

	queue := queueMemory.NewQueue(a.cfg.Crawler.QueueDepth)
	deps := worker.Deps{
		Queue:   queue,
		Fetcher: a.follower,
		Robots:  a.robots,
		Pacer: ratelimit.New(ratelimit.Config{
			DefaultRPS:   a.cfg.Crawler.RatePerSecond,
			DefaultBurst: a.cfg.Crawler.Burst,
		}),
		Retry: crawler.NewExponentialRetryPolicy(
			a.cfg.HTTP.MaxRetries,
			time.Duration(a.cfg.HTTP.BackoffInitialMs)*time.Millisecond,
			time.Duration(a.cfg.HTTP.BackoffMaxMs)*time.Millisecond,
		),
		Visits:    crawler.NewVisitTracker(),
		Blocklist: crawler.NewDomainBlocklist(a.cfg.Crawler.BlockedDomains),
		Blocker:   crawler.NewDomainBlocker(a.cfg.Crawler.ForbiddenThreshold),
		Hasher:    sha256.New(),
		Clock:     a.clock,
		Sink:      counter,
	}
	if a.hub != nil {
		deps.Progress = a.hub
	}
	workerCfg := worker.Config{RunID: runID}
	workers := make([]*worker.Worker, 0, a.cfg.Crawler.Concurrency)
	for i := 0; i < a.cfg.Crawler.Concurrency; i++ {
		workers = append(workers, worker.New(deps, workerCfg, logger.Named("worker").With(zap.Int("worker", i))))
	}
	dispatch := dispatcher.New(queue, workers)

	var g errgroup.Group
	g.Go(func() error {
		dispatch.Run(ctx)
		return nil
	})
	g.Go(func() error {
		defer dispatch.Close()
		return dispatch.EnqueueAll(ctx, items)
	})
	enqueueErr := g.Wait()

	summary := Summary{RunID: runID, Processed: counter.total(), Outcomes: counter.snapshot()}
	logger.Info("crawl finished", zap.Int("processed", summary.Processed), zap.Any("outcomes", summary.Outcomes))
	elapsed := a.clock.Now().Sub(started)
	if enqueueErr != nil {
		a.emitRun(runID, progress.StageRunError, elapsed, enqueueErr.Error())
		return summary, fmt.Errorf("enqueue seeds: %w", enqueueErr)
	}
	if err := ctx.Err(); err != nil {
		a.emitRun(runID, progress.StageRunError, elapsed, err.Error())
		return summary, fmt.Errorf("crawl interrupted: %w", err)
	}
	a.emitRun(runID, progress.StageRunDone, elapsed, "")
	return summary, nil
}

func (a *App) emitRun(runID string, stage progress.Stage, dur time.Duration, note string) {
	if a.hub == nil {
		return
	}
	a.hub.Emit(progress.Event{RunID: runID, TS: a.clock.Now(), Stage: stage, Dur: dur, Note: note})
}

func (a *App) openSink(logger *zap.Logger) (crawler.Sink, func() error, error) {
	if a.cfg.Crawler.Output == "" {
		return crawler.NewLogSink(logger.Named("results")), func() error { return nil }, nil
	}
	sink, err := crawler.NewJSONLSink(a.cfg.Crawler.Output)
	if err != nil {
		return nil, nil, fmt.Errorf("open output: %w", err)
	}
	logger.Info("writing results", zap.String("path", a.cfg.Crawler.Output))
	return sink, sink.Close, nil
}

// Close flushes progress sinks, telemetry and the logger.
func (a *App) Close(ctx context.Context) error {
	if err := a.hub.Close(ctx); err != nil {
		a.logger.Warn("progress hub close failed", zap.Error(err))
	}
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	//nolint:errcheck // stderr sync fails on some terminals
	_ = a.logger.Sync()
	return nil
}

type countingSink struct {
	next crawler.Sink

	mu     sync.Mutex
	counts map[crawler.Outcome]int
}

func newCountingSink(next crawler.Sink) *countingSink {
	return &countingSink{next: next, counts: make(map[crawler.Outcome]int)}
}

func (s *countingSink) Record(ctx context.Context, result crawler.CrawlResult) error {
	s.mu.Lock()
	s.counts[result.Outcome]++
	s.mu.Unlock()
	return s.next.Record(ctx, result) //nolint:wrapcheck // pass-through
}

func (s *countingSink) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.counts {
		n += c
	}
	return n
}

func (s *countingSink) snapshot() map[crawler.Outcome]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[crawler.Outcome]int, len(s.counts))
	for k, v := range s.counts {
		out[k] = v
	}
	return out
}
