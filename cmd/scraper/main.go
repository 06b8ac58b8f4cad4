package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"caskwatch/internal/config"
	"caskwatch/internal/pkg/logger"
	"caskwatch/internal/pkg/redisqueue"
	"caskwatch/internal/scraper"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// main 是抓取 Worker 的入口函数。
//
// 它负责：
// 1. 加载配置
// 2. 初始化日志记录器
// 3. 注册站点适配器并启动 Worker 循环
// 4. 启动 Metrics 服务
// 5. 优雅关闭
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	appLogger := logger.NewDefault(cfg.App.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       0,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		appLogger.Error("redis unreachable", slog.String("error", err.Error()))
		os.Exit(1)
	}

	redisQueue, err := redisqueue.NewClientWithRedis(rdb)
	if err != nil {
		appLogger.Error("init queue client failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	registry := scraper.NewRegistry(
		scraper.NewTotalWines(cfg.Scraper.MaxPages, appLogger),
		scraper.NewWoodenCork(cfg.Scraper.MaxPages, appLogger),
	)
	service := scraper.NewService(cfg, redisQueue, registry, rdb, appLogger)

	workerDone := make(chan struct{})
	go func() {
		// 添加保险丝：Worker 循环 panic 时让进程退出，交给 Docker 重启
		defer func() {
			if r := recover(); r != nil {
				appLogger.Error("PANIC in scrape worker loop", slog.Any("panic", r))
				os.Exit(1)
			}
		}()

		appLogger.Info("starting scrape worker loop")
		service.Run(ctx)
		close(workerDone)
	}()

	metricsAddr := ":2112"
	if v := os.Getenv("SCRAPER_METRICS_ADDR"); v != "" {
		metricsAddr = v
	}
	metricsServer := &http.Server{
		Addr:    metricsAddr,
		Handler: promhttp.Handler(),
	}
	go func() {
		appLogger.Info("scraper metrics server started", slog.String("addr", metricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("metrics server stopped with error", slog.String("error", err.Error()))
		}
	}()

	<-ctx.Done()
	appLogger.Info("shutting down scraper...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("metrics shutdown error", slog.String("error", err.Error()))
	}

	// Run 在 ctx 取消后会等所有在途任务结束
	select {
	case <-workerDone:
		appLogger.Info("scraper stopped gracefully")
	case <-shutdownCtx.Done():
		appLogger.Warn("scraper shutdown timed out")
	}
}
