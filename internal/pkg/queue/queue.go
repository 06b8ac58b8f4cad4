package queue

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// Job 表示一个可执行的异步任务。
type Job func(ctx context.Context) error

// Pool 提供固定 worker 数的内存任务池，用于串联抓取结果与入库。
type Pool struct {
	logger  *slog.Logger
	workers int
	jobs    chan Job

	// 优雅关闭
	wg     sync.WaitGroup
	closed atomic.Bool

	// 指标统计
	stats poolStats
}

// poolStats 池内部统计信息（使用 atomic 类型）。
type poolStats struct {
	Enqueued  atomic.Int64 // 总入队任务数
	Succeeded atomic.Int64 // 成功任务数
	Failed    atomic.Int64 // 失败任务数
	Dropped   atomic.Int64 // 丢弃任务数（队列满）
	Panics    atomic.Int64 // Panic 次数
}

// Stats 池统计信息快照（普通值类型，可安全拷贝）。
type Stats struct {
	Enqueued  int64
	Succeeded int64
	Failed    int64
	Dropped   int64
	Panics    int64
}

// NewPool 创建一个新的任务池。workers 与 capacity 至少为 1。
func NewPool(logger *slog.Logger, workers int, capacity int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if capacity <= 0 {
		capacity = 1
	}
	return &Pool{
		logger:  logger,
		workers: workers,
		jobs:    make(chan Job, capacity),
	}
}

// Start 启动 worker 池，直到 ctx 被取消或调用 Shutdown。
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			p.logger.Debug("worker stopped", slog.Int("worker_id", id))
			return

		case job, ok := <-p.jobs:
			if !ok {
				p.logger.Debug("worker exit on closed channel", slog.Int("worker_id", id))
				return
			}
			if job != nil {
				p.execute(ctx, job, id)
			}
		}
	}
}

// execute 执行单个任务，带 panic 恢复。
func (p *Pool) execute(ctx context.Context, job Job, workerID int) {
	defer func() {
		if r := recover(); r != nil {
			p.stats.Panics.Add(1)
			p.logger.Error("job panic recovered",
				slog.Int("worker_id", workerID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()

	if err := job(ctx); err != nil {
		p.stats.Failed.Add(1)
		p.logger.Warn("job failed",
			slog.Int("worker_id", workerID),
			slog.String("error", err.Error()))
		return
	}
	p.stats.Succeeded.Add(1)
}

// Submit 将任务放入池中，若队列已满则返回 false（非阻塞）。
func (p *Pool) Submit(job Job) bool {
	if job == nil {
		return false
	}

	if p.closed.Load() {
		p.logger.Warn("pool is closed, reject job")
		return false
	}

	select {
	case p.jobs <- job:
		p.stats.Enqueued.Add(1)
		return true
	default:
		p.stats.Dropped.Add(1)
		p.logger.Warn("pool full, drop job",
			slog.Int("capacity", cap(p.jobs)),
			slog.Int("pending", len(p.jobs)))
		return false
	}
}

// SubmitBlocking 阻塞式入队，直到成功或 ctx 被取消。
func (p *Pool) SubmitBlocking(ctx context.Context, job Job) error {
	if job == nil {
		return fmt.Errorf("job is nil")
	}

	if p.closed.Load() {
		return fmt.Errorf("pool is closed")
	}

	select {
	case p.jobs <- job:
		p.stats.Enqueued.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown 优雅关闭：拒绝新任务，关闭通道，等待 worker 处理完积压。
func (p *Pool) Shutdown() {
	if p.closed.CompareAndSwap(false, true) {
		close(p.jobs)
		p.logger.Info("pool shutdown initiated, waiting for workers to finish")
		p.wg.Wait()
		p.logger.Info("pool shutdown completed")
	}
}

// ShutdownWithTimeout 带超时的优雅关闭。
func (p *Pool) ShutdownWithTimeout(timeout time.Duration) error {
	if !p.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("pool already closed")
	}

	close(p.jobs)
	p.logger.Info("pool shutdown initiated with timeout",
		slog.String("timeout", timeout.String()))

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("pool shutdown completed")
		return nil
	case <-time.After(timeout):
		p.logger.Error("pool shutdown timeout")
		return fmt.Errorf("shutdown timeout after %s", timeout)
	}
}

// Snapshot 获取统计信息快照。
func (p *Pool) Snapshot() Stats {
	return Stats{
		Enqueued:  p.stats.Enqueued.Load(),
		Succeeded: p.stats.Succeeded.Load(),
		Failed:    p.stats.Failed.Load(),
		Dropped:   p.stats.Dropped.Load(),
		Panics:    p.stats.Panics.Load(),
	}
}

// Len 返回当前待处理的任务数量。
func (p *Pool) Len() int {
	return len(p.jobs)
}

// IsClosed 返回池是否已关闭。
func (p *Pool) IsClosed() bool {
	return p.closed.Load()
}
