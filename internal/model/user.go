package model

import "time"

// 用户角色常量。admin 拥有全部权限，mod 只能维护目录（实体 / 酒款）。
const (
	RoleAdmin = "admin"
	RoleMod   = "mod"
)

// User 表示系统用户。
type User struct {
	ID        uint      `gorm:"primaryKey"`                    // 用户 ID
	Email     string    `gorm:"type:varchar(191);uniqueIndex"` // 邮箱（唯一）
	Password  string    `gorm:"not null"`                      // bcrypt 哈希
	Role      string    `gorm:"type:varchar(16);default:mod"`  // 角色: admin / mod
	CreatedAt time.Time // 创建时间
}

// IsAdmin 判断用户是否是管理员。
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}
