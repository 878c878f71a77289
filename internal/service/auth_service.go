package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/wfunc/dpc3000/internal/models"
	"github.com/wfunc/dpc3000/internal/repository"
	"github.com/wfunc/dpc3000/internal/utils"
	"go.uber.org/zap"
)

var (
	ErrInvalidCredentials = errors.New("用户名或密码错误")
	ErrOperatorNotFound   = errors.New("操作员不存在")
	ErrOperatorDisabled   = errors.New("操作员已被禁用")
	ErrInvalidToken       = errors.New("无效的令牌")
	ErrTokenExpired       = errors.New("令牌已过期")
)

// DefaultAdminUsername 默认管理员账户名
const DefaultAdminUsername = "admin"

// defaultAdminPassword 默认管理员初始密码，首次登录后应立即修改
const defaultAdminPassword = "dpc3000"

// authService 认证服务实现
type authService struct {
	operatorRepo repository.OperatorRepository
	jwtManager   *utils.JWTManager
	log          *zap.Logger
}

// NewAuthService 创建认证服务
func NewAuthService(
	operatorRepo repository.OperatorRepository,
	jwtManager *utils.JWTManager,
	log *zap.Logger,
) AuthService {
	return &authService{
		operatorRepo: operatorRepo,
		jwtManager:   jwtManager,
		log:          log,
	}
}

// Login 操作员登录
func (s *authService) Login(ctx context.Context, req *LoginRequest) (*AuthResponse, error) {
	operator, err := s.operatorRepo.FindByUsername(ctx, req.Username)
	if err != nil || operator == nil {
		s.log.Warn("登录失败：操作员不存在", zap.String("username", req.Username))
		return nil, ErrInvalidCredentials
	}

	if !operator.CanLogin() {
		s.log.Warn("登录失败：操作员已被禁用",
			zap.Uint("operator_id", operator.ID),
			zap.String("status", operator.Status))
		return nil, ErrOperatorDisabled
	}

	// 验证密码
	valid, err := utils.VerifyPassword(req.Password, operator.Password)
	if err != nil || !valid {
		s.log.Warn("登录失败：密码错误", zap.Uint("operator_id", operator.ID))
		return nil, ErrInvalidCredentials
	}

	// 创建会话
	sessionID, err := utils.GenerateSessionID()
	if err != nil {
		return nil, fmt.Errorf("生成会话ID失败: %w", err)
	}

	// 更新登录信息
	if err := s.operatorRepo.UpdateLastLogin(ctx, operator.ID, req.IP); err != nil {
		s.log.Warn("更新登录信息失败", zap.Error(err), zap.Uint("operator_id", operator.ID))
	}

	// 生成JWT令牌
	accessToken, err := s.jwtManager.GenerateAccessToken(
		operator.ID, operator.Username, operator.Role, sessionID)
	if err != nil {
		return nil, fmt.Errorf("生成访问令牌失败: %w", err)
	}

	refreshToken, err := s.jwtManager.GenerateRefreshToken(operator.ID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("生成刷新令牌失败: %w", err)
	}

	s.log.Info("操作员登录成功",
		zap.Uint("operator_id", operator.ID),
		zap.String("username", operator.Username),
		zap.String("role", operator.Role),
		zap.String("ip", req.IP))

	return &AuthResponse{
		Operator:     operator,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(s.jwtManager.GetTokenExpiry("access").Seconds()),
		TokenType:    "Bearer",
	}, nil
}

// Logout 操作员登出。令牌为无状态JWT，服务端只做审计记录，
// 客户端负责丢弃令牌。
func (s *authService) Logout(ctx context.Context, operatorID uint, token string) error {
	if _, err := s.jwtManager.ValidateToken(token); err != nil {
		return ErrInvalidToken
	}

	s.log.Info("操作员登出", zap.Uint("operator_id", operatorID))
	return nil
}

// RefreshToken 使用刷新令牌换取新的访问令牌
func (s *authService) RefreshToken(ctx context.Context, refreshToken string) (*AuthResponse, error) {
	claims, err := s.jwtManager.ValidateToken(refreshToken)
	if err != nil {
		if errors.Is(err, utils.ErrExpiredToken) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}

	if claims.TokenType != "refresh" {
		return nil, ErrInvalidToken
	}

	// 操作员可能在令牌有效期内被禁用
	operator, err := s.operatorRepo.FindByID(ctx, claims.OperatorID)
	if err != nil {
		return nil, ErrOperatorNotFound
	}
	if !operator.CanLogin() {
		return nil, ErrOperatorDisabled
	}

	accessToken, err := s.jwtManager.RefreshAccessToken(
		refreshToken, operator.Username, operator.Role)
	if err != nil {
		return nil, fmt.Errorf("生成访问令牌失败: %w", err)
	}

	s.log.Info("令牌刷新成功", zap.Uint("operator_id", operator.ID))

	return &AuthResponse{
		Operator:     operator,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(s.jwtManager.GetTokenExpiry("access").Seconds()),
		TokenType:    "Bearer",
	}, nil
}

// ValidateToken 验证访问令牌并校验操作员仍然有效
func (s *authService) ValidateToken(ctx context.Context, token string) (*TokenClaims, error) {
	claims, err := s.jwtManager.ValidateToken(token)
	if err != nil {
		if errors.Is(err, utils.ErrExpiredToken) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}

	if claims.TokenType != "access" {
		return nil, ErrInvalidToken
	}

	operator, err := s.operatorRepo.FindByID(ctx, claims.OperatorID)
	if err != nil {
		return nil, ErrOperatorNotFound
	}
	if !operator.IsActive() {
		return nil, ErrOperatorDisabled
	}

	return &TokenClaims{
		OperatorID: claims.OperatorID,
		Username:   claims.Username,
		Role:       claims.Role,
		SessionID:  claims.SessionID,
		IssuedAt:   claims.IssuedAt.Unix(),
		ExpiresAt:  claims.ExpiresAt.Unix(),
	}, nil
}

// GetProfile 获取操作员资料
func (s *authService) GetProfile(ctx context.Context, operatorID uint) (*models.Operator, error) {
	operator, err := s.operatorRepo.FindByID(ctx, operatorID)
	if err != nil {
		return nil, ErrOperatorNotFound
	}
	return operator, nil
}

// ChangePassword 修改密码
func (s *authService) ChangePassword(ctx context.Context, operatorID uint, oldPassword, newPassword string) error {
	operator, err := s.operatorRepo.FindByID(ctx, operatorID)
	if err != nil {
		return ErrOperatorNotFound
	}

	// 验证旧密码
	valid, err := utils.VerifyPassword(oldPassword, operator.Password)
	if err != nil || !valid {
		return errors.New("旧密码不正确")
	}

	// 验证新密码
	if len(newPassword) < 6 {
		return errors.New("新密码长度至少6个字符")
	}

	// 加密新密码
	hashedPassword, err := utils.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("密码加密失败: %w", err)
	}

	if err := s.operatorRepo.UpdatePassword(ctx, operatorID, hashedPassword); err != nil {
		s.log.Error("更新密码失败", zap.Error(err), zap.Uint("operator_id", operatorID))
		return fmt.Errorf("更新密码失败: %w", err)
	}

	s.log.Info("密码修改成功", zap.Uint("operator_id", operatorID))
	return nil
}

// EnsureDefaultAdmin 操作员表为空时创建默认管理员账户
func (s *authService) EnsureDefaultAdmin(ctx context.Context) error {
	count, err := s.operatorRepo.Count(ctx)
	if err != nil {
		return fmt.Errorf("查询操作员数量失败: %w", err)
	}
	if count > 0 {
		return nil
	}

	hashedPassword, err := utils.HashPassword(defaultAdminPassword)
	if err != nil {
		return fmt.Errorf("密码加密失败: %w", err)
	}

	admin := &models.Operator{
		Username: DefaultAdminUsername,
		Password: hashedPassword,
		Nickname: "系统管理员",
		Role:     models.RoleAdmin,
		Status:   "active",
	}

	if err := s.operatorRepo.Create(ctx, admin); err != nil {
		return fmt.Errorf("创建默认管理员失败: %w", err)
	}

	s.log.Warn("已创建默认管理员账户，请尽快修改初始密码",
		zap.String("username", DefaultAdminUsername))
	return nil
}
