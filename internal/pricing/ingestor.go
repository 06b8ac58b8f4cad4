package pricing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"caskwatch/internal/catalog"
	"caskwatch/internal/model"
	"caskwatch/internal/pkg/metrics"
	"caskwatch/internal/pkg/notify"
	"caskwatch/internal/pkg/pricecache"
	"caskwatch/internal/pkg/redisqueue"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BottleResolver 将商品名解析为酒款 ID，解析不到返回 (nil, nil)。
type BottleResolver interface {
	Resolve(ctx context.Context, rawName string) (*uint, error)
}

// Result 汇总一个批次的入库结果。
type Result struct {
	Total     int `json:"total"`
	Matched   int `json:"matched"`
	Unmatched int `json:"unmatched"`
}

// Ingestor 把抓取到的价格批次写入 store_prices。
//
// 幂等：同一 (store_id, name) 重复入库时原地更新，不产生新行。
// 匹配不到酒款的条目照常入库，bottle_id 置空。
type Ingestor struct {
	db         *gorm.DB
	resolver   BottleResolver
	cache      *pricecache.Cache
	notifier   notify.Notifier
	alertEmail string
	logger     *slog.Logger
}

func NewIngestor(db *gorm.DB, resolver BottleResolver, logger *slog.Logger) *Ingestor {
	return &Ingestor{
		db:       db,
		resolver: resolver,
		logger:   logger,
	}
}

// WithPriceDropAlerts 启用降价检测：入库后对比缓存中的旧价，
// 降价时通过 notifier 发邮件。cache 或 notifier 为 nil 时不启用。
func (ing *Ingestor) WithPriceDropAlerts(cache *pricecache.Cache, notifier notify.Notifier, alertEmail string) *Ingestor {
	ing.cache = cache
	ing.notifier = notifier
	ing.alertEmail = alertEmail
	return ing
}

// IngestBatch 处理一个商店的价格批次。
//
// 商店不存在时整批失败（catalog.ErrNotFound），不写任何行。
// 其余情况在单个事务内按顺序 upsert 每条报价；事务失败整批回滚。
func (ing *Ingestor) IngestBatch(ctx context.Context, storeID uint, entries []redisqueue.PriceEntry) (*Result, error) {
	var store model.Store
	err := ing.db.WithContext(ctx).First(&store, storeID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, catalog.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load store: %w", err)
	}

	result := &Result{Total: len(entries)}
	if len(entries) == 0 {
		return result, nil
	}

	// 先在事务外完成匹配（只读），再把所有写入放进一个事务
	bottleIDs := make([]*uint, len(entries))
	for i, entry := range entries {
		bottleID, err := ing.resolver.Resolve(ctx, entry.Name)
		if err != nil {
			return nil, fmt.Errorf("resolve %q: %w", entry.Name, err)
		}
		bottleIDs[i] = bottleID
		if bottleID != nil {
			result.Matched++
		} else {
			result.Unmatched++
		}
	}

	err = ing.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i, entry := range entries {
			row := model.StorePrice{
				StoreID:  storeID,
				Name:     entry.Name,
				Price:    entry.Price,
				URL:      entry.URL,
				BottleID: bottleIDs[i],
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "store_id"}, {Name: "name"}},
				DoUpdates: clause.AssignmentColumns([]string{"price", "url", "bottle_id", "updated_at"}),
			}).Create(&row).Error; err != nil {
				return fmt.Errorf("upsert price %q: %w", entry.Name, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.PricesIngestedTotal.WithLabelValues("matched").Add(float64(result.Matched))
	metrics.PricesIngestedTotal.WithLabelValues("unmatched").Add(float64(result.Unmatched))
	ing.logger.Info("price batch ingested",
		slog.Uint64("store_id", uint64(storeID)),
		slog.Int("total", result.Total),
		slog.Int("matched", result.Matched),
		slog.Int("unmatched", result.Unmatched))

	// 降价检测在事务提交后进行，缓存故障不影响入库结果
	ing.detectPriceDrops(ctx, &store, entries)

	return result, nil
}

func (ing *Ingestor) detectPriceDrops(ctx context.Context, store *model.Store, entries []redisqueue.PriceEntry) {
	if ing.cache == nil {
		return
	}
	for _, entry := range entries {
		old, seen, err := ing.cache.LastPrice(ctx, store.ID, entry.Name)
		if err != nil {
			ing.logger.Warn("price cache lookup failed",
				slog.String("name", entry.Name),
				slog.String("error", err.Error()))
			continue
		}
		if seen && entry.Price < old {
			metrics.PriceDropsTotal.Inc()
			ing.logger.Info("price drop detected",
				slog.String("store", store.Name),
				slog.String("name", entry.Name),
				slog.Int("old_price", old),
				slog.Int("new_price", entry.Price))
			if ing.notifier != nil && ing.alertEmail != "" {
				drop := notify.PriceDrop{
					StoreName:  store.Name,
					ProductURL: entry.URL,
					Name:       entry.Name,
					OldPrice:   old,
					NewPrice:   entry.Price,
				}
				if err := ing.notifier.SendPriceDrop(ctx, drop, ing.alertEmail); err != nil {
					ing.logger.Warn("price drop notification failed",
						slog.String("name", entry.Name),
						slog.String("error", err.Error()))
				}
			}
		}
		if err := ing.cache.Remember(ctx, store.ID, entry.Name, entry.Price); err != nil {
			ing.logger.Warn("price cache update failed",
				slog.String("name", entry.Name),
				slog.String("error", err.Error()))
		}
	}
}
