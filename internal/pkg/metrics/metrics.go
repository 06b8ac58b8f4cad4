package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 指标在包加载时注册一次，InitMetrics 只负责写入启动期的静态 Gauge，
// 可以重复调用（测试里会多次初始化）。
var (
	// WorkerPoolSize 结果处理 Worker Pool 的大小。
	WorkerPoolSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "caskwatch_worker_pool_size",
		Help: "Configured size of the ingest worker pool.",
	})

	// SitesDispatchedTotal 调度器派发的抓取任务总数。
	SitesDispatchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "caskwatch_sites_dispatched_total",
		Help: "Total number of scrape jobs dispatched by the scheduler.",
	})

	// ScrapeQueueDepth 各 Redis 队列当前长度。
	ScrapeQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "caskwatch_scrape_queue_depth",
		Help: "Current depth of the Redis scrape queues.",
	}, []string{"queue"})

	// ScrapeRequestsTotal 按站点与结果分类的抓取次数。
	ScrapeRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caskwatch_scrape_requests_total",
		Help: "Total scrape runs by site type and outcome.",
	}, []string{"site", "status"})

	// ScrapeDuration 抓取单个站点耗时分布。
	ScrapeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "caskwatch_scrape_duration_seconds",
		Help:    "Duration of a full site scrape.",
		Buckets: prometheus.DefBuckets,
	}, []string{"site"})

	// ScraperErrorsTotal 按站点与错误类型分类的抓取错误数。
	ScraperErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caskwatch_scraper_errors_total",
		Help: "Total scraper errors by site type and kind.",
	}, []string{"site", "kind"})

	// PricesIngestedTotal 按匹配结果分类的入库价格条数。
	PricesIngestedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caskwatch_prices_ingested_total",
		Help: "Total store prices upserted, labelled matched or unmatched.",
	}, []string{"result"})

	// PriceDropsTotal 检测到的降价次数。
	PriceDropsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "caskwatch_price_drops_total",
		Help: "Total price drops detected against the price cache.",
	})

	// RateLimitWaitDuration 抓取前等待令牌的耗时分布。
	RateLimitWaitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "caskwatch_rate_limit_wait_seconds",
		Help:    "Time spent waiting for a rate limit token before a page fetch.",
		Buckets: []float64{.01, .05, .1, .5, 1, 2.5, 5, 10, 30},
	})

	// RateLimitTimeoutTotal 等待令牌超时的次数。
	RateLimitTimeoutTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "caskwatch_rate_limit_timeout_total",
		Help: "Total rate limit waits that timed out.",
	})
)

// InitMetrics 写入启动期确定的静态指标值。
func InitMetrics(workerPoolSize int) {
	WorkerPoolSize.Set(float64(workerPoolSize))
}
