// Package worker implements the crawl pipeline execution loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlrules/internal/crawler"
	"github.com/JakeFAU/crawlrules/internal/metrics"
	"github.com/JakeFAU/crawlrules/internal/progress"
)

const tracerName = "github.com/JakeFAU/crawlrules/internal/worker"

// Deps are the collaborators a Worker runs against. Queue, Fetcher and Sink are required.
type Deps struct {
	Queue     crawler.Queue
	Fetcher   crawler.PageFetcher
	Robots    crawler.RobotsPolicy
	Pacer     crawler.Pacer
	Retry     crawler.RetryPolicy
	Visits    *crawler.VisitTracker
	Blocklist *crawler.DomainBlocklist
	Blocker   *crawler.DomainBlocker
	Hasher    crawler.Hasher
	Clock     crawler.Clock
	Sink      crawler.Sink
	// Progress receives one event per recorded result when set.
	Progress progress.Emitter
}

// Config controls Worker behavior.
type Config struct {
	RunID   string
	Headers http.Header
}

// Worker consumes queue items and executes the fetch pipeline.
type Worker struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
	tracer trace.Tracer
}

// New constructs a Worker.
func New(deps Deps, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Visits == nil {
		deps.Visits = crawler.NewVisitTracker()
	}
	if deps.Blocker == nil {
		deps.Blocker = crawler.NewDomainBlocker(crawler.DefaultForbiddenThreshold)
	}
	return &Worker{
		deps:   deps,
		cfg:    cfg,
		logger: logger,
		tracer: otel.Tracer(tracerName),
	}
}

// Run blocks, consuming queue items until the queue closes or the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.deps.Queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, crawler.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			return
		}
		w.logger.Debug("dequeued item", zap.String("url", item.URL), zap.String("source", item.Source))
		metrics.IncActiveWorkers()
		w.Process(ctx, item)
		metrics.DecActiveWorkers()
	}
}

// Process runs one item through the pipeline and records its result. Duplicate
// URLs are skipped without a record.
func (w *Worker) Process(ctx context.Context, item crawler.QueueItem) {
	ctx, span := w.tracer.Start(ctx, "crawl.item", trace.WithAttributes(
		attribute.String("crawl.url", item.URL),
		attribute.String("crawl.source", item.Source),
	))
	defer span.End()

	result := crawler.CrawlResult{
		RunID:     w.cfg.RunID,
		URL:       item.URL,
		Source:    item.Source,
		FetchedAt: w.now(),
	}

	normalized, err := crawler.NormalizeURL(item.URL)
	if err != nil {
		w.finish(ctx, span, result, crawler.OutcomeFailed, err)
		return
	}
	result.URL = normalized
	parsed, err := url.Parse(normalized)
	if err != nil {
		w.finish(ctx, span, result, crawler.OutcomeFailed, fmt.Errorf("parse url: %w", err))
		return
	}
	host := parsed.Hostname()

	if w.deps.Blocklist.IsBlocked(host) || w.deps.Blocker.IsBlocked(host) {
		w.finish(ctx, span, result, crawler.OutcomeBlocked, nil)
		return
	}
	if !w.deps.Visits.MarkIfNew(normalized) {
		w.logger.Debug("skipping visited url", zap.String("url", normalized))
		span.SetAttributes(attribute.Bool("crawl.duplicate", true))
		return
	}

	if w.deps.Robots != nil {
		if reporter, ok := w.deps.Robots.(crawler.RobotsStatusReporter); ok {
			result.RobotsStatus = reporter.Status(ctx, normalized)
		}
		if !w.deps.Robots.Allowed(ctx, normalized) {
			w.finish(ctx, span, result, crawler.OutcomeRobotsDenied, nil)
			return
		}
		if w.deps.Pacer != nil {
			if delay := w.deps.Robots.CrawlDelay(ctx, normalized); delay > 0 {
				w.deps.Pacer.SetDelay(host, delay)
			}
		}
	}

	if w.deps.Pacer != nil {
		if err := w.deps.Pacer.Wait(ctx, normalized); err != nil {
			w.finish(ctx, span, result, crawler.OutcomeFailed, err)
			return
		}
	}

	page, err := w.fetchWithRetry(ctx, normalized, item.Attempt)
	result.FinalURL = page.FinalURL
	result.StatusCode = page.StatusCode
	result.Redirects = page.Redirects
	result.DurationMs = page.Duration.Milliseconds()
	if err != nil {
		outcome := crawler.OutcomeFailed
		switch {
		case errors.Is(err, crawler.ErrRobotsDenied):
			outcome = crawler.OutcomeRobotsDenied
		case errors.Is(err, crawler.ErrRedirectLoop),
			errors.Is(err, crawler.ErrTooManyRedirects),
			errors.Is(err, crawler.ErrUnsupportedRedirect):
			outcome = crawler.OutcomeRedirectError
		}
		w.finish(ctx, span, result, outcome, err)
		return
	}

	if page.StatusCode == http.StatusForbidden {
		finalHost := host
		if u, perr := url.Parse(page.FinalURL); perr == nil {
			finalHost = u.Hostname()
		}
		if w.deps.Blocker.MarkForbidden(finalHost) {
			w.logger.Warn("host blocked after repeated 403s", zap.String("host", finalHost))
		}
	}

	result.Bytes = len(page.Body)
	if w.deps.Hasher != nil && len(page.Body) > 0 {
		sum, herr := w.deps.Hasher.Hash(page.Body)
		if herr != nil {
			w.logger.Warn("hash body failed", zap.String("url", normalized), zap.Error(herr))
		} else {
			result.ContentHash = sum
		}
	}
	w.finish(ctx, span, result, crawler.OutcomeFetched, nil)
}

func (w *Worker) fetchWithRetry(ctx context.Context, rawURL string, firstAttempt int) (crawler.Page, error) {
	if firstAttempt <= 0 {
		firstAttempt = 1
	}
	req := crawler.FetchRequest{URL: rawURL, Headers: w.cfg.Headers}
	for attempt := firstAttempt; ; attempt++ {
		page, err := w.deps.Fetcher.FetchPage(ctx, req)
		if err == nil {
			return page, nil
		}
		if w.deps.Retry == nil || !w.deps.Retry.ShouldRetry(err, attempt) {
			return page, err
		}
		delay := w.deps.Retry.Backoff(attempt - 1)
		w.logger.Info("retrying fetch",
			zap.String("url", rawURL),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		if perr := crawler.Pause(ctx, delay); perr != nil {
			return page, fmt.Errorf("retry backoff: %w", perr)
		}
	}
}

func (w *Worker) finish(ctx context.Context, span trace.Span, result crawler.CrawlResult, outcome crawler.Outcome, err error) {
	result.Outcome = outcome
	span.SetAttributes(
		attribute.String("crawl.outcome", string(outcome)),
		attribute.Int("http.status_code", result.StatusCode),
	)
	if err != nil {
		result.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, string(outcome))
		w.logger.Warn("crawl item failed",
			zap.String("url", result.URL),
			zap.String("outcome", string(outcome)),
			zap.Error(err),
		)
	}
	metrics.ObserveCrawl(result.URL, string(outcome), result.Bytes)
	w.emitProgress(result)
	if serr := w.deps.Sink.Record(ctx, result); serr != nil {
		w.logger.Error("record result failed", zap.String("url", result.URL), zap.Error(serr))
	}
}

func (w *Worker) emitProgress(result crawler.CrawlResult) {
	if w.deps.Progress == nil {
		return
	}
	host := ""
	if u, err := url.Parse(result.URL); err == nil {
		host = u.Hostname()
	}
	w.deps.Progress.Emit(progress.Event{
		RunID:   result.RunID,
		TS:      w.now(),
		Stage:   progress.StageItemDone,
		Host:    host,
		URL:     result.URL,
		Outcome: string(result.Outcome),
		Status:  progress.ClassifyStatus(result.StatusCode),
		Bytes:   int64(result.Bytes),
		Dur:     time.Duration(result.DurationMs) * time.Millisecond,
		Note:    result.Error,
	})
}

func (w *Worker) now() time.Time {
	if w.deps.Clock == nil {
		return time.Now().UTC()
	}
	return w.deps.Clock.Now()
}
