package redisqueue

import "fmt"

// ScrapeJob 是调度器派发给抓取器的任务消息（JSON 编码入队）。
type ScrapeJob struct {
	JobID     string `json:"job_id"`     // 去重键，同一站点在队列中只存在一份
	SiteID    uint   `json:"site_id"`    // ExternalSite ID
	SiteType  string `json:"site_type"`  // 适配器标识
	StoreID   uint   `json:"store_id"`   // 价格归属的商店 ID
	CreatedAt int64  `json:"created_at"` // 入队时间（unix 秒）
}

// NewScrapeJob 构造一个抓取任务。JobID 以站点 ID 为准，保证队列内去重。
func NewScrapeJob(siteID uint, siteType string, storeID uint, now int64) *ScrapeJob {
	return &ScrapeJob{
		JobID:     fmt.Sprintf("site-%d", siteID),
		SiteID:    siteID,
		SiteType:  siteType,
		StoreID:   storeID,
		CreatedAt: now,
	}
}

// PriceEntry 是抓取到的单条商品报价。
type PriceEntry struct {
	Name  string `json:"name"`  // 商品原始名称
	Price int    `json:"price"` // 价格（最小货币单位）
	URL   string `json:"url"`   // 商品详情页链接
}

// ScrapeResult 是抓取器回传的结果消息。
//
// ErrorMessage 非空表示该站点本轮抓取失败，Entries 为空。
type ScrapeResult struct {
	JobID        string       `json:"job_id"`
	SiteID       uint         `json:"site_id"`
	SiteType     string       `json:"site_type"`
	StoreID      uint         `json:"store_id"`
	Entries      []PriceEntry `json:"entries"`
	ErrorMessage string       `json:"error_message,omitempty"`
	ScrapedAt    int64        `json:"scraped_at"` // 抓取完成时间（unix 秒）
}
