package service

import (
	"context"

	"github.com/wfunc/dpc3000/internal/models"
)

// AuthService 认证服务接口
type AuthService interface {
	// 登录登出
	Login(ctx context.Context, req *LoginRequest) (*AuthResponse, error)
	Logout(ctx context.Context, operatorID uint, token string) error
	RefreshToken(ctx context.Context, refreshToken string) (*AuthResponse, error)

	// 验证
	ValidateToken(ctx context.Context, token string) (*TokenClaims, error)

	// 账户管理
	GetProfile(ctx context.Context, operatorID uint) (*models.Operator, error)
	ChangePassword(ctx context.Context, operatorID uint, oldPassword, newPassword string) error
	EnsureDefaultAdmin(ctx context.Context) error
}

// Publisher 实时推送接口，由websocket中心实现。
// Publish不得阻塞，推送失败由实现方自行处理。
type Publisher interface {
	Publish(messageType string, payload interface{})
}

// 推送消息类型
const (
	PushPressure = "pressure" // 压力读数
	PushStatus   = "status"   // 状态字节
	PushMode     = "mode"     // 工作模式
	PushCommand  = "command"  // 命令审计回显
	PushDevice   = "device"   // 设备上下线
)

// LoginRequest 登录请求
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	IP       string `json:"-"` // 客户端IP，由handler设置
}

// ChangePasswordRequest 修改密码请求
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required,min=6"`
}

// AuthResponse 认证响应
type AuthResponse struct {
	Operator     *models.Operator `json:"operator"`
	AccessToken  string           `json:"access_token"`
	RefreshToken string           `json:"refresh_token"`
	ExpiresIn    int64            `json:"expires_in"`
	TokenType    string           `json:"token_type"`
}

// TokenClaims JWT Claims
type TokenClaims struct {
	OperatorID uint   `json:"operator_id"`
	Username   string `json:"username"`
	Role       string `json:"role"`
	SessionID  string `json:"session_id"`
	IssuedAt   int64  `json:"iat"`
	ExpiresAt  int64  `json:"exp"`
}
