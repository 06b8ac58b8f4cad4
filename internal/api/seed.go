package api

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"caskwatch/internal/model"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// defaultSites 是内置抓取适配器对应的站点与商店。
// 首次启动时写入，已存在的行不动。
var defaultSites = []struct {
	storeName string
	siteName  string
	siteType  string
	country   string
	runEvery  int // 分钟
}{
	{storeName: "Total Wine & More", siteName: "Total Wine", siteType: "totalwines", country: "US", runEvery: 60},
	{storeName: "Wooden Cork", siteName: "Wooden Cork", siteType: "woodencork", country: "US", runEvery: 60},
}

// SeedData 初始化管理员账号与内置站点。
func (s *Server) SeedData(ctx context.Context) error {
	if err := s.seedAdmin(ctx); err != nil {
		return err
	}
	return s.seedSites(ctx)
}

// seedAdmin 按配置创建管理员。邮箱已存在时只保证其角色是 admin。
func (s *Server) seedAdmin(ctx context.Context) error {
	email := strings.TrimSpace(strings.ToLower(s.cfg.Security.AdminEmail))
	password := s.cfg.Security.AdminPassword
	if email == "" || password == "" {
		s.logger.Warn("admin credentials not configured, skip admin seed")
		return nil
	}

	var user model.User
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		hash, hashErr := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if hashErr != nil {
			return hashErr
		}
		user = model.User{
			Email:    email,
			Password: string(hash),
			Role:     model.RoleAdmin,
		}
		if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
			return err
		}
		s.logger.Info("admin user created", slog.String("email", email))
		return nil
	}
	if err != nil {
		return err
	}
	if user.Role != model.RoleAdmin {
		return s.db.WithContext(ctx).Model(&model.User{}).
			Where("id = ?", user.ID).Update("role", model.RoleAdmin).Error
	}
	return nil
}

// seedSites 为每个内置适配器创建商店与调度站点。
func (s *Server) seedSites(ctx context.Context) error {
	for _, d := range defaultSites {
		store := model.Store{
			Name:    d.storeName,
			Type:    d.siteType,
			Country: d.country,
		}
		if err := s.db.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "type"}},
				DoNothing: true,
			}).Create(&store).Error; err != nil {
			return err
		}
		if store.ID == 0 {
			// 已存在，取回 ID
			if err := s.db.WithContext(ctx).Where("type = ?", d.siteType).First(&store).Error; err != nil {
				return err
			}
		}

		runEvery := d.runEvery
		site := model.ExternalSite{
			Type:     d.siteType,
			Name:     d.siteName,
			StoreID:  store.ID,
			RunEvery: &runEvery,
		}
		if err := s.db.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "type"}},
				DoNothing: true,
			}).Create(&site).Error; err != nil {
			return err
		}
	}
	return nil
}
