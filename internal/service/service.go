package service

import (
	"context"
	"time"

	"github.com/wfunc/dpc3000/internal/config"
	"github.com/wfunc/dpc3000/internal/repository"
	"github.com/wfunc/dpc3000/internal/utils"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Services 服务集合
type Services struct {
	Auth       AuthService
	Device     *DeviceService
	CommandLog *CommandLogService
	Repos      *repository.Manager
}

// NewServices 创建服务集合
func NewServices(db *gorm.DB, cfg *config.Config, log *zap.Logger) *Services {
	repos := repository.NewManager(db)

	// JWT密钥未配置时生成随机密钥，重启后已签发的令牌将失效
	secret := cfg.JWT.Secret
	if secret == "" {
		secret, _ = utils.GenerateRandomString(32)
		log.Warn("未配置JWT密钥，已生成随机密钥，重启后令牌将失效")
	}

	jwtManager := utils.NewJWTManager(
		secret,
		cfg.JWT.Issuer,
		time.Duration(cfg.JWT.ExpireHours)*time.Hour,
		time.Duration(cfg.JWT.RefreshHours)*time.Hour,
	)

	commandLogService := NewCommandLogService(db)
	deviceService := NewDeviceService(cfg, repos, commandLogService)
	authService := NewAuthService(repos.Operator(), jwtManager, log)

	return &Services{
		Auth:       authService,
		Device:     deviceService,
		CommandLog: commandLogService,
		Repos:      repos,
	}
}

// Start 启动需要后台协程的服务
func (s *Services) Start(ctx context.Context) error {
	// 默认管理员账户
	if err := s.Auth.EnsureDefaultAdmin(ctx); err != nil {
		return err
	}

	// 日志保留清理
	helper := repository.NewConfigHelper(s.Repos.SystemConfig())
	if svcCfg, err := helper.GetServiceConfig(ctx); err == nil {
		s.CommandLog.StartRetentionLoop(svcCfg.Log.RetentionDays, 24*time.Hour)
	}

	// 设备连接与监控采样
	return s.Device.Start(ctx)
}

// Close 依次关闭服务，排空日志缓冲
func (s *Services) Close() {
	if s.Device != nil {
		_ = s.Device.Close()
	}
	if s.CommandLog != nil {
		s.CommandLog.Close()
	}
}
