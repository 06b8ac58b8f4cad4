package model

import (
	"time"
)

// 实体类型常量。一个实体可以同时拥有多个类型（品牌同时也是蒸馏厂等）。
const (
	EntityTypeBrand     = "brand"
	EntityTypeDistiller = "distiller"
	EntityTypeBottler   = "bottler"
)

// ValidEntityType 判断给定字符串是否是合法的实体类型。
func ValidEntityType(t string) bool {
	switch t {
	case EntityTypeBrand, EntityTypeDistiller, EntityTypeBottler:
		return true
	}
	return false
}

// Entity 表示酒类生态中的一个实体（品牌 / 蒸馏厂 / 装瓶商）。
//
// 同名实体只存一行，Type 是一个只增不减的类型集合：
// 同一家公司先以品牌身份出现、后来又作为蒸馏厂出现时，只是在集合里追加类型。
type Entity struct {
	ID        uint      `gorm:"primaryKey"` // 实体唯一标识
	CreatedAt time.Time // 创建时间
	UpdatedAt time.Time // 更新时间

	Name        string   `gorm:"type:varchar(191);uniqueIndex;not null"` // 实体名称（全局唯一）
	Type        []string `gorm:"serializer:json"`                        // 类型集合: brand / distiller / bottler
	Country     string   // 所在国家
	Region      string   // 产区（如 Islay）
	Description string   `gorm:"type:text"` // 描述

	CreatedByID   *uint // 创建者用户 ID
	TotalTastings int   `gorm:"default:0"` // 冗余计数：关联品鉴数（合并时不重算）
}

// HasType 判断实体是否已拥有指定类型。
func (e *Entity) HasType(t string) bool {
	for _, existing := range e.Type {
		if existing == t {
			return true
		}
	}
	return false
}

// Bottle 表示一支具体的酒款。
//
// FullName 由品牌名与酒款名拼接而成（"{brand.Name} {Name}"，有 Series 时附加），
// CanonicalName 是 FullName 的归一化形式，店铺价格按它做精确匹配。
type Bottle struct {
	ID        uint      `gorm:"primaryKey"` // 酒款唯一标识
	CreatedAt time.Time // 创建时间
	UpdatedAt time.Time // 更新时间

	Name          string  `gorm:"not null"`             // 酒款名（不含品牌）
	FullName      string  `gorm:"type:varchar(255)"`    // 展示全名
	CanonicalName string  `gorm:"type:varchar(255);index"` // 匹配键（归一化全名）
	Series        *string // 系列名（可空）
	StatedAge     *int    // 标注年份（可空，如 10）
	Category      string  `gorm:"type:varchar(32)"` // 分类: blend / single_malt / bourbon ...

	BrandID   uint     `gorm:"not null;index"`                     // 品牌实体 ID
	Brand     Entity   `gorm:"foreignKey:BrandID"`                 // 品牌实体
	BottlerID *uint    `gorm:"index"`                              // 装瓶商实体 ID（可空）
	Distillers []Entity `gorm:"many2many:bottle_distillers"`       // 蒸馏厂列表

	CreatedByID *uint // 创建者用户 ID
}

// BottleDistiller 是酒款与蒸馏厂的关联表（多对多中间表）。
type BottleDistiller struct {
	BottleID    uint `gorm:"primaryKey"` // 酒款 ID
	DistillerID uint `gorm:"primaryKey"` // 蒸馏厂实体 ID
}

// Store 表示一个被监控的外部商店。
//
// Type 是抓取适配器的标识（如 totalwines），同时也是商店的唯一业务键。
type Store struct {
	ID        uint      `gorm:"primaryKey"` // 商店唯一标识
	CreatedAt time.Time // 创建时间
	UpdatedAt time.Time // 更新时间

	Name    string `gorm:"not null"`                               // 商店展示名
	Type    string `gorm:"type:varchar(64);uniqueIndex;not null"`  // 适配器标识（唯一）
	Country string // 所在国家

	Prices []StorePrice `gorm:"foreignKey:StoreID"` // 该商店的价格列表
}

// StorePrice 表示某商店某商品名下的当前报价。
//
// (StoreID, Name) 唯一：同一商店重复抓到同名商品时原地更新价格，
// 不产生历史行。BottleID 可空，表示尚未匹配到目录中的酒款。
type StorePrice struct {
	ID        uint      `gorm:"primaryKey"` // 报价唯一标识
	CreatedAt time.Time // 首次抓取时间
	UpdatedAt time.Time // 最近更新时间

	StoreID uint   `gorm:"not null;uniqueIndex:idx_store_price_name,priority:1"`                    // 所属商店 ID
	Name    string `gorm:"type:varchar(191);not null;uniqueIndex:idx_store_price_name,priority:2"` // 商品原始名称
	Price   int    `gorm:"not null"` // 价格（最小货币单位，如美分）
	URL     string `gorm:"type:varchar(512)"` // 商品详情页链接

	BottleID *uint   `gorm:"index"`               // 匹配到的酒款 ID（可空）
	Bottle   *Bottle `gorm:"foreignKey:BottleID"` // 匹配到的酒款
}

// ExternalSite 表示一个外部站点的抓取调度状态。
//
// RunEvery 为 nil 表示该站点不参与调度。LastRunAt / NextRunAt
// 仅由调度器在派发事务内更新。
type ExternalSite struct {
	ID        uint      `gorm:"primaryKey"` // 站点唯一标识
	CreatedAt time.Time // 创建时间
	UpdatedAt time.Time // 更新时间

	Type    string `gorm:"type:varchar(64);uniqueIndex;not null"` // 适配器标识（唯一）
	Name    string // 站点展示名
	StoreID uint   `gorm:"not null"`           // 价格归属的商店 ID
	Store   Store  `gorm:"foreignKey:StoreID"` // 价格归属的商店

	RunEvery  *int       // 调度周期（分钟，nil 表示停用）
	LastRunAt *time.Time // 上次派发时间
	NextRunAt *time.Time // 下次应派发时间（nil 表示立即到期）
}
