package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"caskwatch/internal/model"
	"caskwatch/internal/pkg/metrics"
	"caskwatch/internal/pkg/queue"
	"caskwatch/internal/pkg/redisqueue"
	"caskwatch/internal/pricing"

	"gorm.io/gorm"
)

// SiteStore 提供到期站点的扫描与派发。
//
// DispatchDue 在单个事务内遍历到期站点：先调用 dispatch 推送任务，
// 成功后把 last_run_at / next_run_at 打到当前时间。崩溃发生在
// 推送与打点之间时下个周期会重复派发，at-least-once 语义由入库
// 幂等性兜底。
type SiteStore interface {
	DispatchDue(ctx context.Context, now time.Time, dispatch func(ctx context.Context, site *model.ExternalSite) error) (int, error)
}

// BatchIngestor 把一批抓取结果写入价格表。
type BatchIngestor interface {
	IngestBatch(ctx context.Context, storeID uint, entries []redisqueue.PriceEntry) (*pricing.Result, error)
}

// Scheduler 负责周期性扫描到期站点并派发抓取任务，同时消费结果队列。
type Scheduler struct {
	sites      SiteStore
	redisQueue *redisqueue.Client
	ingestor   BatchIngestor
	pool       *queue.Pool
	logger     *slog.Logger

	interval        time.Duration
	janitorInterval time.Duration
	janitorTimeout  time.Duration

	// 可注入时钟，测试时固定时间
	clock func() time.Time
}

// NewScheduler 创建调度器。workers / capacity 为 0 时用默认值。
func NewScheduler(db *gorm.DB, logger *slog.Logger, redisQueue *redisqueue.Client, ingestor BatchIngestor, interval time.Duration, workers int, capacity int, janitorInterval time.Duration, janitorTimeout time.Duration) *Scheduler {
	if workers <= 0 {
		workers = 10
	}
	if capacity <= 0 {
		capacity = 500
	}
	if interval <= 0 {
		interval = time.Minute
	}
	if janitorInterval <= 0 {
		janitorInterval = time.Minute
	}
	if janitorTimeout <= 0 {
		janitorTimeout = 5 * time.Minute
	}

	return &Scheduler{
		sites:           &dbSiteStore{db: db},
		redisQueue:      redisQueue,
		ingestor:        ingestor,
		pool:            queue.NewPool(logger, workers, capacity),
		logger:          logger,
		interval:        interval,
		janitorInterval: janitorInterval,
		janitorTimeout:  janitorTimeout,
		clock:           time.Now,
	}
}

// Run 启动派发循环，阻塞直到 ctx 被取消。
func (s *Scheduler) Run(ctx context.Context) {
	if s.redisQueue == nil {
		s.logger.Error("redis queue client is not initialized")
		return
	}
	s.logger.Info("scheduler started",
		slog.String("interval", s.interval.String()))

	// 启动结果处理 Worker Pool
	s.pool.Start(ctx)

	// 首次立即扫描一次
	s.ScanOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	statsTicker := time.NewTicker(1 * time.Minute)
	defer statsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping")
			if err := s.pool.ShutdownWithTimeout(30 * time.Second); err != nil {
				s.logger.Error("pool shutdown timeout", slog.String("error", err.Error()))
			}
			s.logger.Info("scheduler stopped")
			return

		case <-ticker.C:
			s.ScanOnce(ctx)

		case <-statsTicker.C:
			s.printPoolStats()
		}
	}
}

// ScanOnce 扫描一轮到期站点并派发。
func (s *Scheduler) ScanOnce(ctx context.Context) {
	now := s.clock()
	dispatched, err := s.sites.DispatchDue(ctx, now, s.dispatch)
	if err != nil {
		s.logger.Error("dispatch scan failed", slog.String("error", err.Error()))
		return
	}
	if dispatched > 0 {
		metrics.SitesDispatchedTotal.Add(float64(dispatched))
		s.logger.Info("sites dispatched", slog.Int("count", dispatched))
	}
}

// dispatch 把单个站点的抓取任务推入 Redis 队列。
// 队列里已有同站点任务时视为成功，照常打点，避免每轮扫描都重试。
func (s *Scheduler) dispatch(ctx context.Context, site *model.ExternalSite) error {
	job := redisqueue.NewScrapeJob(site.ID, site.Type, site.StoreID, s.clock().Unix())
	err := s.redisQueue.PushJob(ctx, job)
	if errors.Is(err, redisqueue.ErrJobExists) {
		s.logger.Debug("scrape job already queued",
			slog.String("site_type", site.Type))
		return nil
	}
	if err != nil {
		return fmt.Errorf("push scrape job for %s: %w", site.Type, err)
	}
	s.logger.Info("scrape job pushed",
		slog.String("site_type", site.Type),
		slog.Uint64("site_id", uint64(site.ID)))
	return nil
}

// StartResultListener 监听 Redis 结果队列，把每个结果交给 Worker Pool 入库。
func (s *Scheduler) StartResultListener(ctx context.Context) error {
	if s.redisQueue == nil {
		return errors.New("redis queue client is not initialized")
	}

	s.logger.Info("result listener started")
	go s.monitorQueueDepth(ctx)

	for {
		res, err := s.redisQueue.PopResult(ctx, 2*time.Second)
		if err != nil {
			if errors.Is(err, redisqueue.ErrNoResult) {
				continue
			}
			// 优雅关闭：返回 nil，避免 main 打印 "context canceled"
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			s.logger.Error("pop scrape result failed", slog.String("error", err.Error()))
			time.Sleep(200 * time.Millisecond)
			continue
		}
		if res == nil {
			continue
		}

		result := res
		if err := s.pool.SubmitBlocking(ctx, func(context.Context) error {
			// 使用 Background context 防止入库被外层 cancel 打断（半个事务）
			return s.handleResult(context.Background(), result)
		}); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Warn("submit result blocked or canceled",
				slog.String("site_type", result.SiteType),
				slog.String("error", err.Error()))
		}
	}
}

// handleResult 处理单个抓取结果：失败结果只记日志，成功结果整批入库。
func (s *Scheduler) handleResult(ctx context.Context, res *redisqueue.ScrapeResult) error {
	if res.ErrorMessage != "" {
		s.logger.Warn("scrape result reported failure",
			slog.String("site_type", res.SiteType),
			slog.String("error", res.ErrorMessage))
		return nil
	}
	if len(res.Entries) == 0 {
		s.logger.Info("scrape result empty",
			slog.String("site_type", res.SiteType))
		return nil
	}

	result, err := s.ingestor.IngestBatch(ctx, res.StoreID, res.Entries)
	if err != nil {
		return fmt.Errorf("ingest %s batch: %w", res.SiteType, err)
	}
	s.logger.Info("scrape result ingested",
		slog.String("site_type", res.SiteType),
		slog.Int("total", result.Total),
		slog.Int("matched", result.Matched),
		slog.Int("unmatched", result.Unmatched))
	return nil
}

// StartJanitor runs a periodic rescue loop for stuck jobs.
func (s *Scheduler) StartJanitor(ctx context.Context) {
	ticker := time.NewTicker(s.janitorInterval)
	s.logger.Info("janitor started")

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runRescue(ctx)
			}
		}
	}()
}

func (s *Scheduler) runRescue(ctx context.Context) {
	if s.redisQueue == nil {
		return
	}
	rescueCtx, cancel := context.WithTimeout(ctx, 1*time.Minute)
	defer cancel()

	count, err := s.redisQueue.RescueStuckJobs(rescueCtx, s.janitorTimeout)
	if err != nil {
		s.logger.Error("janitor failed to rescue jobs", slog.String("error", err.Error()))
		return
	}
	if count > 0 {
		s.logger.Info("janitor rescued stuck jobs", slog.Int("count", count))
	}
}

func (s *Scheduler) monitorQueueDepth(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			jobs, results, err := s.redisQueue.QueueDepth(ctx)
			if err != nil {
				s.logger.Warn("queue depth probe failed", slog.String("error", err.Error()))
				continue
			}
			metrics.ScrapeQueueDepth.WithLabelValues("jobs").Set(float64(jobs))
			metrics.ScrapeQueueDepth.WithLabelValues("results").Set(float64(results))
		}
	}
}

func (s *Scheduler) printPoolStats() {
	stats := s.pool.Snapshot()
	s.logger.Info("result pool statistics",
		slog.Int("pending", s.pool.Len()),
		slog.Int64("enqueued", stats.Enqueued),
		slog.Int64("succeeded", stats.Succeeded),
		slog.Int64("failed", stats.Failed),
		slog.Int64("dropped", stats.Dropped),
		slog.Int64("panics", stats.Panics),
	)
}

// dbSiteStore 是 SiteStore 的 MySQL 实现。
type dbSiteStore struct {
	db *gorm.DB
}

// DispatchDue 在单个事务内派发全部到期站点并打点。
//
// 到期条件: run_every 非空，且 next_run_at 为空（从未跑过，立即到期）
// 或 next_run_at <= now。
func (s *dbSiteStore) DispatchDue(ctx context.Context, now time.Time, dispatch func(ctx context.Context, site *model.ExternalSite) error) (int, error) {
	dispatched := 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sites []model.ExternalSite
		if err := tx.
			Where("run_every IS NOT NULL AND (next_run_at IS NULL OR next_run_at <= ?)", now).
			Find(&sites).Error; err != nil {
			return fmt.Errorf("load due sites: %w", err)
		}

		for i := range sites {
			site := &sites[i]
			if err := dispatch(ctx, site); err != nil {
				return err
			}
			next := now.Add(time.Duration(*site.RunEvery) * time.Minute)
			if err := tx.Model(&model.ExternalSite{}).
				Where("id = ?", site.ID).
				Updates(map[string]interface{}{
					"last_run_at": now,
					"next_run_at": next,
				}).Error; err != nil {
				return fmt.Errorf("stamp site %d: %w", site.ID, err)
			}
			dispatched++
		}
		return nil
	})
	return dispatched, err
}
