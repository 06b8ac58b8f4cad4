package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"caskwatch/internal/pkg/ratelimit"

	"github.com/PuerkitoBio/goquery"
)

// Fetcher 封装页面抓取：限流、User-Agent、超时与 goquery 解析。
// 每个站点一个实例，令牌桶按站点隔离。
type Fetcher struct {
	client    *http.Client
	userAgent string
	limiter   *ratelimit.RateLimiter
	logger    *slog.Logger
}

func NewFetcher(timeout time.Duration, userAgent string, limiter *ratelimit.RateLimiter, logger *slog.Logger) *Fetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Fetcher{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
		limiter:   limiter,
		logger:    logger,
	}
}

// GetDocument 抓取一个页面并解析为 goquery 文档。
// 每次请求前先向令牌桶取令牌。
func (f *Fetcher) GetDocument(ctx context.Context, url string) (*goquery.Document, error) {
	if f.limiter != nil {
		if err := f.limiter.Acquire(ctx); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", url, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", url, err)
	}

	f.logger.Debug("page fetched",
		slog.String("url", url),
		slog.Duration("elapsed", time.Since(start)))
	return doc, nil
}
