package scraper

import (
	"context"
	"fmt"
	"sort"

	"caskwatch/internal/pkg/redisqueue"
)

// Adapter 定义单个站点的抓取逻辑。
//
// Scrape 遍历站点的商品列表页，返回全部报价条目。实现方负责
// 翻页与解析，页面获取统一走 Fetcher（限流、UA、超时）。
type Adapter interface {
	// Type 返回适配器标识，与 ExternalSite.Type / Store.Type 对应。
	Type() string
	// Scrape 抓取整个站点的商品报价。
	Scrape(ctx context.Context, fetcher *Fetcher) ([]redisqueue.PriceEntry, error)
}

// Registry 按站点类型保存适配器。
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Type()] = a
	}
	return r
}

// Get 返回给定类型的适配器，未注册时报错。
func (r *Registry) Get(siteType string) (Adapter, error) {
	a, ok := r.adapters[siteType]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for site type %q", siteType)
	}
	return a, nil
}

// Types 返回全部已注册的站点类型（排序后），用于启动日志。
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.adapters))
	for t := range r.adapters {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
