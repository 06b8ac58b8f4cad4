package scraper

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"caskwatch/internal/config"
	"caskwatch/internal/pkg/metrics"
	"caskwatch/internal/pkg/ratelimit"
	"caskwatch/internal/pkg/redisqueue"

	"github.com/redis/go-redis/v9"
)

// Service 是抓取 worker 的主循环：
// 从 Redis 任务队列取任务，执行站点适配器，把结果推回结果队列。
type Service struct {
	cfg      *config.Config
	queue    *redisqueue.Client
	registry *Registry
	rdb      *redis.Client
	logger   *slog.Logger

	// 按站点缓存限流器与 Fetcher
	mu       sync.Mutex
	fetchers map[string]*Fetcher

	// 并发抓取任务数上限
	sem chan struct{}
	wg  sync.WaitGroup
}

func NewService(cfg *config.Config, queue *redisqueue.Client, registry *Registry, rdb *redis.Client, logger *slog.Logger) *Service {
	maxConcurrency := cfg.Scraper.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	return &Service{
		cfg:      cfg,
		queue:    queue,
		registry: registry,
		rdb:      rdb,
		logger:   logger,
		fetchers: make(map[string]*Fetcher),
		sem:      make(chan struct{}, maxConcurrency),
	}
}

// Run 阻塞运行，直到 ctx 被取消。
func (s *Service) Run(ctx context.Context) {
	s.logger.Info("scraper worker started",
		slog.Any("adapters", s.registry.Types()),
		slog.Int("max_concurrency", cap(s.sem)))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scraper worker stopping, waiting for in-flight jobs")
			s.wg.Wait()
			return
		default:
		}

		job, err := s.queue.PopJob(ctx, 5*time.Second)
		if errors.Is(err, redisqueue.ErrNoJob) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			s.logger.Error("pop job failed", slog.String("error", err.Error()))
			time.Sleep(time.Second)
			continue
		}

		select {
		case s.sem <- struct{}{}:
		case <-ctx.Done():
			continue
		}

		s.wg.Add(1)
		go func(job *redisqueue.ScrapeJob) {
			defer s.wg.Done()
			defer func() { <-s.sem }()
			s.process(ctx, job)
		}(job)
	}
}

// process 执行单个抓取任务，无论成败都推结果并 ack。
func (s *Service) process(ctx context.Context, job *redisqueue.ScrapeJob) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scrape job panic recovered",
				slog.String("site_type", job.SiteType),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			metrics.ScraperErrorsTotal.WithLabelValues(job.SiteType, "panic").Inc()
		}
	}()

	s.logger.Info("scrape job started",
		slog.String("site_type", job.SiteType),
		slog.Uint64("site_id", uint64(job.SiteID)))

	result := &redisqueue.ScrapeResult{
		JobID:    job.JobID,
		SiteID:   job.SiteID,
		SiteType: job.SiteType,
		StoreID:  job.StoreID,
	}

	start := time.Now()
	entries, err := s.scrape(ctx, job.SiteType)
	metrics.ScrapeDuration.WithLabelValues(job.SiteType).Observe(time.Since(start).Seconds())
	result.ScrapedAt = time.Now().Unix()

	if err != nil {
		result.ErrorMessage = err.Error()
		metrics.ScrapeRequestsTotal.WithLabelValues(job.SiteType, "error").Inc()
		metrics.ScraperErrorsTotal.WithLabelValues(job.SiteType, classifyScrapeError(err)).Inc()
		s.logger.Error("scrape job failed",
			slog.String("site_type", job.SiteType),
			slog.String("error", err.Error()))
	} else {
		result.Entries = entries
		metrics.ScrapeRequestsTotal.WithLabelValues(job.SiteType, "ok").Inc()
		s.logger.Info("scrape job finished",
			slog.String("site_type", job.SiteType),
			slog.Int("entries", len(entries)),
			slog.Duration("elapsed", time.Since(start)))
	}

	if err := s.queue.PushResult(ctx, result); err != nil {
		// 推送失败时不 ack，任务留在 processing queue 等 janitor 重派
		s.logger.Error("push result failed",
			slog.String("site_type", job.SiteType),
			slog.String("error", err.Error()))
		return
	}
	if err := s.queue.AckJob(ctx, job); err != nil {
		s.logger.Warn("ack job failed",
			slog.String("site_type", job.SiteType),
			slog.String("error", err.Error()))
	}
}

func (s *Service) scrape(ctx context.Context, siteType string) ([]redisqueue.PriceEntry, error) {
	adapter, err := s.registry.Get(siteType)
	if err != nil {
		return nil, err
	}
	return adapter.Scrape(ctx, s.fetcherFor(siteType))
}

// fetcherFor 返回站点专属的 Fetcher，首次使用时创建。
func (s *Service) fetcherFor(siteType string) *Fetcher {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f, ok := s.fetchers[siteType]; ok {
		return f
	}
	limiter := ratelimit.ForSite(s.rdb, s.logger, siteType, s.cfg.App.RateLimit, s.cfg.App.RateBurst)
	f := NewFetcher(s.cfg.Scraper.HTTPTimeout, s.cfg.Scraper.UserAgent, limiter, s.logger)
	s.fetchers[siteType] = f
	return f
}

func classifyScrapeError(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ratelimit.ErrRateLimitTimeout):
		return "rate_limited"
	default:
		return "fetch_failed"
	}
}
