package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"caskwatch/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EntityOutcome 表示 CreateOrAugment 的结果类别。
type EntityOutcome string

const (
	OutcomeCreated   EntityOutcome = "created"   // 新建了实体
	OutcomeAugmented EntityOutcome = "augmented" // 已有实体追加了新类型
)

// EntityStore 维护实体目录（品牌 / 蒸馏厂 / 装瓶商）。
type EntityStore struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewEntityStore(db *gorm.DB, logger *slog.Logger) *EntityStore {
	return &EntityStore{db: db, logger: logger}
}

// EntityInput 是创建实体的输入。
type EntityInput struct {
	Name        string
	Types       []string
	Country     string
	Region      string
	Description string
	CreatedByID *uint
}

// CreateOrAugment 创建实体；同名实体已存在时改为追加缺失的类型。
//
// 返回 ErrNoNewTypes 表示同名实体已拥有全部给定类型，本次调用没有
// 引入任何新信息。类型集合只增不减。
func (s *EntityStore) CreateOrAugment(ctx context.Context, input EntityInput) (*model.Entity, EntityOutcome, error) {
	for _, t := range input.Types {
		if !model.ValidEntityType(t) {
			return nil, "", fmt.Errorf("%w: %s", ErrInvalidType, t)
		}
	}

	entity := &model.Entity{
		Name:        input.Name,
		Type:        dedupeTypes(input.Types),
		Country:     input.Country,
		Region:      input.Region,
		Description: input.Description,
		CreatedByID: input.CreatedByID,
	}

	// 先尝试插入，撞到同名实体时什么都不写
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoNothing: true,
		}).
		Create(entity)
	if res.Error != nil {
		return nil, "", fmt.Errorf("insert entity: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		s.logger.Info("entity created",
			slog.Uint64("entity_id", uint64(entity.ID)),
			slog.String("name", entity.Name))
		return entity, OutcomeCreated, nil
	}

	// 同名实体已存在：加载后补齐缺失的类型
	var existing model.Entity
	if err := s.db.WithContext(ctx).Where("name = ?", input.Name).First(&existing).Error; err != nil {
		return nil, "", fmt.Errorf("load existing entity: %w", err)
	}

	missing := missingTypes(&existing, input.Types)
	if len(missing) == 0 {
		return nil, "", ErrNoNewTypes
	}

	existing.Type = append(existing.Type, missing...)
	if err := s.db.WithContext(ctx).Model(&existing).Update("type", existing.Type).Error; err != nil {
		return nil, "", fmt.Errorf("augment entity types: %w", err)
	}

	s.logger.Info("entity augmented",
		slog.Uint64("entity_id", uint64(existing.ID)),
		slog.String("name", existing.Name),
		slog.Any("added_types", missing))
	return &existing, OutcomeAugmented, nil
}

// GetByID 按 ID 查询实体。
func (s *EntityStore) GetByID(ctx context.Context, id uint) (*model.Entity, error) {
	var entity model.Entity
	err := s.db.WithContext(ctx).First(&entity, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get entity: %w", err)
	}
	return &entity, nil
}

// List 返回全部实体，按名称排序。
func (s *EntityStore) List(ctx context.Context) ([]model.Entity, error) {
	var entities []model.Entity
	if err := s.db.WithContext(ctx).Order("name").Find(&entities).Error; err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	return entities, nil
}

// Merge 将 losingIDs 的实体并入 rootID。
//
// 单个事务内：把指向被并实体的 bottles.brand_id / bottles.bottler_id /
// bottle_distillers.distiller_id 全部改指 root，把被并实体的类型并入
// root 的类型集合，最后删除被并实体。
//
// TODO: 合并后可能产生同名酒款，目前不做酒款去重。
// TODO: root 的 total_tastings 不重算，计数可能偏低。
func (s *EntityStore) Merge(ctx context.Context, rootID uint, losingIDs []uint) error {
	if len(losingIDs) == 0 {
		return nil
	}

	var root model.Entity
	err := s.db.WithContext(ctx).First(&root, rootID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load root entity: %w", err)
	}

	var losers []model.Entity
	if err := s.db.WithContext(ctx).Where("id IN ?", losingIDs).Find(&losers).Error; err != nil {
		return fmt.Errorf("load losing entities: %w", err)
	}
	if len(losers) != len(losingIDs) {
		return ErrNotFound
	}

	mergedTypes := root.Type
	for i := range losers {
		mergedTypes = append(mergedTypes, missingTypes(&root, losers[i].Type)...)
		root.Type = mergedTypes
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.Bottle{}).
			Where("brand_id IN ?", losingIDs).
			Update("brand_id", rootID).Error; err != nil {
			return fmt.Errorf("repoint brands: %w", err)
		}
		if err := tx.Model(&model.Bottle{}).
			Where("bottler_id IN ?", losingIDs).
			Update("bottler_id", rootID).Error; err != nil {
			return fmt.Errorf("repoint bottlers: %w", err)
		}
		if err := tx.Model(&model.BottleDistiller{}).
			Where("distiller_id IN ?", losingIDs).
			Update("distiller_id", rootID).Error; err != nil {
			return fmt.Errorf("repoint distillers: %w", err)
		}
		if err := tx.Model(&model.Entity{}).
			Where("id = ?", rootID).
			Update("type", mergedTypes).Error; err != nil {
			return fmt.Errorf("merge types: %w", err)
		}
		if err := tx.Where("id IN ?", losingIDs).Delete(&model.Entity{}).Error; err != nil {
			return fmt.Errorf("delete losing entities: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("entities merged",
		slog.Uint64("root_id", uint64(rootID)),
		slog.Int("merged", len(losingIDs)))
	return nil
}

// missingTypes 返回 candidates 中实体尚未拥有的类型。
func missingTypes(e *model.Entity, candidates []string) []string {
	var missing []string
	for _, t := range candidates {
		if !e.HasType(t) && !contains(missing, t) {
			missing = append(missing, t)
		}
	}
	return missing
}

func dedupeTypes(types []string) []string {
	var out []string
	for _, t := range types {
		if !contains(out, t) {
			out = append(out, t)
		}
	}
	return out
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
