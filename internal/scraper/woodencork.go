package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"caskwatch/internal/pkg/redisqueue"

	"github.com/PuerkitoBio/goquery"
)

const woodenCorkBaseURL = "https://woodencork.com"

// WoodenCork 抓取 Wooden Cork（Shopify 商店）的威士忌分类页。
type WoodenCork struct {
	baseURL  string
	maxPages int
	logger   *slog.Logger
}

func NewWoodenCork(maxPages int, logger *slog.Logger) *WoodenCork {
	if maxPages <= 0 {
		maxPages = 20
	}
	return &WoodenCork{
		baseURL:  woodenCorkBaseURL,
		maxPages: maxPages,
		logger:   logger,
	}
}

func (w *WoodenCork) Type() string { return "woodencork" }

// Scrape 逐页抓取分类列表，直到空页或达到 maxPages。
func (w *WoodenCork) Scrape(ctx context.Context, fetcher *Fetcher) ([]redisqueue.PriceEntry, error) {
	var all []redisqueue.PriceEntry

	for page := 1; page <= w.maxPages; page++ {
		url := fmt.Sprintf("%s/collections/whiskey?page=%d", w.baseURL, page)
		doc, err := fetcher.GetDocument(ctx, url)
		if err != nil {
			if page == 1 {
				return nil, err
			}
			w.logger.Warn("woodencork page fetch failed, stop paging",
				slog.Int("page", page),
				slog.String("error", err.Error()))
			break
		}

		entries := w.parseListing(doc)
		if len(entries) == 0 {
			break
		}
		all = append(all, entries...)
	}

	return all, nil
}

// parseListing 从 Shopify 商品网格提取条目。售罄商品没有价格，跳过。
func (w *WoodenCork) parseListing(doc *goquery.Document) []redisqueue.PriceEntry {
	var entries []redisqueue.PriceEntry

	doc.Find(".grid-product").Each(func(_ int, card *goquery.Selection) {
		name := strings.TrimSpace(card.Find(".grid-product__title").First().Text())
		if name == "" {
			return
		}

		priceText := strings.TrimSpace(card.Find(".grid-product__price").First().Text())
		// 打折商品的价格块包含划线原价，取现价
		if sale := strings.TrimSpace(card.Find(".grid-product__price .sale-price").First().Text()); sale != "" {
			priceText = sale
		}
		price, err := ParsePrice(priceText)
		if err != nil {
			w.logger.Debug("woodencork unparseable price",
				slog.String("name", name),
				slog.String("price", priceText))
			return
		}

		href, _ := card.Find("a.grid-product__link").First().Attr("href")
		if href != "" && !strings.HasPrefix(href, "http") {
			href = w.baseURL + href
		}

		entries = append(entries, redisqueue.PriceEntry{
			Name:  name,
			Price: price,
			URL:   href,
		})
	})

	return entries
}
