package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"caskwatch/internal/matcher"
	"caskwatch/internal/model"

	"gorm.io/gorm"
)

// BottleStore 维护酒款目录。
type BottleStore struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewBottleStore(db *gorm.DB, logger *slog.Logger) *BottleStore {
	return &BottleStore{db: db, logger: logger}
}

// BottleInput 是创建酒款的输入。
type BottleInput struct {
	Name         string
	BrandID      uint
	BottlerID    *uint
	DistillerIDs []uint
	Series       *string
	StatedAge    *int
	Category     string
	CreatedByID  *uint
}

// Create 创建酒款并计算展示全名与匹配键。
//
// FullName = "{品牌名} {酒款名}"，有 Series 时再附加系列名；
// CanonicalName 是 FullName 的归一化形式。品牌或任一蒸馏厂不存在
// 时返回 ErrNotFound。
func (s *BottleStore) Create(ctx context.Context, input BottleInput) (*model.Bottle, error) {
	var brand model.Entity
	err := s.db.WithContext(ctx).First(&brand, input.BrandID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load brand: %w", err)
	}

	if input.BottlerID != nil {
		var count int64
		if err := s.db.WithContext(ctx).Model(&model.Entity{}).
			Where("id = ?", *input.BottlerID).Count(&count).Error; err != nil {
			return nil, fmt.Errorf("check bottler: %w", err)
		}
		if count == 0 {
			return nil, ErrNotFound
		}
	}

	var distillers []model.Entity
	if len(input.DistillerIDs) > 0 {
		if err := s.db.WithContext(ctx).Where("id IN ?", input.DistillerIDs).Find(&distillers).Error; err != nil {
			return nil, fmt.Errorf("load distillers: %w", err)
		}
		if len(distillers) != len(input.DistillerIDs) {
			return nil, ErrNotFound
		}
	}

	fullName := FullName(brand.Name, input.Name, input.Series)
	bottle := &model.Bottle{
		Name:          input.Name,
		FullName:      fullName,
		CanonicalName: matcher.Normalize(fullName),
		Series:        input.Series,
		StatedAge:     input.StatedAge,
		Category:      input.Category,
		BrandID:       input.BrandID,
		BottlerID:     input.BottlerID,
		Distillers:    distillers,
		CreatedByID:   input.CreatedByID,
	}

	if err := s.db.WithContext(ctx).Create(bottle).Error; err != nil {
		return nil, fmt.Errorf("create bottle: %w", err)
	}

	s.logger.Info("bottle created",
		slog.Uint64("bottle_id", uint64(bottle.ID)),
		slog.String("full_name", bottle.FullName))
	return bottle, nil
}

// List 返回全部酒款，按全名排序。
func (s *BottleStore) List(ctx context.Context) ([]model.Bottle, error) {
	var bottles []model.Bottle
	if err := s.db.WithContext(ctx).Order("full_name").Find(&bottles).Error; err != nil {
		return nil, fmt.Errorf("list bottles: %w", err)
	}
	return bottles, nil
}

// FullName 拼接酒款展示全名。
func FullName(brandName, bottleName string, series *string) string {
	full := brandName + " " + bottleName
	if series != nil && *series != "" {
		full += " " + *series
	}
	return full
}
