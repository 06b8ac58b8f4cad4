package matcher

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"caskwatch/internal/model"

	"gorm.io/gorm"
)

// Matcher 将商店抓到的商品名精确匹配到目录中的酒款。
//
// 只做归一化后的全等匹配，宁可不匹配也不错配：
// 匹配不到或存在歧义时返回 nil，由调用方以未匹配状态入库。
type Matcher struct {
	db     *gorm.DB
	logger *slog.Logger
}

func New(db *gorm.DB, logger *slog.Logger) *Matcher {
	return &Matcher{db: db, logger: logger}
}

// Normalize 将商品名归一化为匹配键：
// 小写、非字母数字折叠为空格、压缩连续空白。
// "Ardbeg 10-year-old" 与 "ardbeg 10 Year Old" 归一化后相同。
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	lastSpace := true
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastSpace = false
			continue
		}
		if !lastSpace {
			b.WriteByte(' ')
			lastSpace = true
		}
	}
	return strings.TrimRight(b.String(), " ")
}

// Resolve 按归一化名称查找酒款，返回其 ID。
//
// 返回 (nil, nil) 表示未匹配：目录中没有该名称，或者有多行
// 同名（歧义，记 warn 日志后放弃）。只有数据库错误才返回 error。
func (m *Matcher) Resolve(ctx context.Context, rawName string) (*uint, error) {
	key := Normalize(rawName)
	if key == "" {
		return nil, nil
	}

	var bottles []model.Bottle
	err := m.db.WithContext(ctx).
		Select("id").
		Where("canonical_name = ?", key).
		Limit(2).
		Find(&bottles).Error
	if err != nil {
		return nil, fmt.Errorf("resolve bottle: %w", err)
	}

	switch len(bottles) {
	case 0:
		return nil, nil
	case 1:
		id := bottles[0].ID
		return &id, nil
	default:
		m.logger.Warn("ambiguous bottle name, skip match",
			slog.String("name", rawName),
			slog.String("canonical", key))
		return nil, nil
	}
}
