package models

import (
	"time"

	"gorm.io/gorm"
)

// 操作员角色
const (
	RoleAdmin    = "admin"    // 管理员：账户与日志管理
	RoleOperator = "operator" // 操作员：可下发控制命令
	RoleViewer   = "viewer"   // 观察员：只读
)

// Operator 操作员账户表
type Operator struct {
	BaseModel
	Username    string     `gorm:"uniqueIndex;size:50;not null" json:"username"`
	Password    string     `gorm:"size:255;not null" json:"-"` // argon2id 哈希
	Nickname    string     `gorm:"size:100" json:"nickname"`
	Role        string     `gorm:"size:20;default:'viewer'" json:"role"`   // admin, operator, viewer
	Status      string     `gorm:"size:20;default:'active'" json:"status"` // active, disabled
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	LastLoginIP string     `gorm:"size:50" json:"last_login_ip"`
	LoginCount  int        `gorm:"default:0" json:"login_count"`
}

// TableName 指定表名
func (Operator) TableName() string {
	return "operators"
}

// BeforeCreate 创建前的钩子
func (o *Operator) BeforeCreate(tx *gorm.DB) error {
	// 设置默认昵称
	if o.Nickname == "" {
		o.Nickname = o.Username
	}
	// 设置默认角色和状态
	if o.Role == "" {
		o.Role = RoleViewer
	}
	if o.Status == "" {
		o.Status = "active"
	}
	return nil
}

// IsActive 检查账户是否激活
func (o *Operator) IsActive() bool {
	return o.Status == "active"
}

// CanLogin 检查账户是否可以登录
func (o *Operator) CanLogin() bool {
	return o.Status == "active"
}

// CanCommand 检查是否可以下发控制命令
func (o *Operator) CanCommand() bool {
	return o.Role == RoleAdmin || o.Role == RoleOperator
}

// CanManage 检查是否可以管理账户与日志
func (o *Operator) CanManage() bool {
	return o.Role == RoleAdmin
}

// UpdateLoginInfo 更新登录信息
func (o *Operator) UpdateLoginInfo(ip string) {
	now := time.Now()
	o.LastLoginAt = &now
	o.LastLoginIP = ip
	o.LoginCount++
}
