package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"caskwatch/internal/pkg/redisqueue"

	"github.com/PuerkitoBio/goquery"
)

const totalWinesBaseURL = "https://www.totalwine.com"

// TotalWines 抓取 Total Wine & More 的威士忌列表页。
type TotalWines struct {
	baseURL  string
	maxPages int
	logger   *slog.Logger
}

func NewTotalWines(maxPages int, logger *slog.Logger) *TotalWines {
	if maxPages <= 0 {
		maxPages = 20
	}
	return &TotalWines{
		baseURL:  totalWinesBaseURL,
		maxPages: maxPages,
		logger:   logger,
	}
}

func (t *TotalWines) Type() string { return "totalwines" }

// Scrape 逐页抓取列表，直到空页或达到 maxPages。
func (t *TotalWines) Scrape(ctx context.Context, fetcher *Fetcher) ([]redisqueue.PriceEntry, error) {
	var all []redisqueue.PriceEntry

	for page := 1; page <= t.maxPages; page++ {
		url := fmt.Sprintf("%s/spirits/whiskey/c/9238919?page=%d&pageSize=120", t.baseURL, page)
		doc, err := fetcher.GetDocument(ctx, url)
		if err != nil {
			// 第一页都拿不到才算失败，翻页中断按已有结果返回
			if page == 1 {
				return nil, err
			}
			t.logger.Warn("totalwines page fetch failed, stop paging",
				slog.Int("page", page),
				slog.String("error", err.Error()))
			break
		}

		entries := t.parseListing(doc)
		if len(entries) == 0 {
			break
		}
		all = append(all, entries...)
	}

	return all, nil
}

// parseListing 从列表页提取商品条目。
func (t *TotalWines) parseListing(doc *goquery.Document) []redisqueue.PriceEntry {
	var entries []redisqueue.PriceEntry

	doc.Find("article[data-testid='productCard']").Each(func(_ int, card *goquery.Selection) {
		link := card.Find("a[data-testid='itemName']").First()
		name := strings.TrimSpace(link.Text())
		if name == "" {
			return
		}

		priceText := strings.TrimSpace(card.Find("span[data-testid='itemPrice']").First().Text())
		price, err := ParsePrice(priceText)
		if err != nil {
			t.logger.Debug("totalwines unparseable price",
				slog.String("name", name),
				slog.String("price", priceText))
			return
		}

		href, _ := link.Attr("href")
		if href != "" && !strings.HasPrefix(href, "http") {
			href = t.baseURL + href
		}

		entries = append(entries, redisqueue.PriceEntry{
			Name:  name,
			Price: price,
			URL:   href,
		})
	})

	return entries
}
