package notify

import "context"

// PriceDrop 描述一次检测到的降价。
type PriceDrop struct {
	StoreName  string // 商店展示名
	ProductURL string // 商品详情页链接
	Name       string // 商品原始名称
	OldPrice   int    // 旧价格（最小货币单位）
	NewPrice   int    // 新价格（最小货币单位）
}

// Notifier 定义降价通知接口。
type Notifier interface {
	// SendPriceDrop 发送降价通知到 toEmail。
	SendPriceDrop(ctx context.Context, drop PriceDrop, toEmail string) error
}
