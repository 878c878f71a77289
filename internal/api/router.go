package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/dpc3000/internal/config"
	"github.com/wfunc/dpc3000/internal/middleware"
	"github.com/wfunc/dpc3000/internal/service"
	ws "github.com/wfunc/dpc3000/internal/websocket"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Router API路由器
type Router struct {
	engine         *gin.Engine
	db             *gorm.DB
	cfg            *config.Config
	services       *service.Services
	hub            *ws.Hub
	authHandler    *AuthHandler
	deviceHandler  *DeviceHandler
	logHandler     *CommandLogHandler
	wsHandler      *WebSocketHandler
	authMiddleware *middleware.AuthMiddleware
	log            *zap.Logger
}

// NewRouter 创建路由器。服务集合由调用方创建并管理生命周期，
// 路由器只负责HTTP面与WebSocket推送中心。
func NewRouter(db *gorm.DB, cfg *config.Config, services *service.Services, log *zap.Logger) *Router {
	// 按配置设置Gin运行模式
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}

	// 创建Gin引擎
	engine := gin.New()

	// 全局中间件
	engine.Use(gin.Recovery())
	engine.Use(middleware.RequestLogger(log))
	engine.Use(middleware.CORS())

	// 创建推送中心并接入设备服务
	hub := ws.NewHub(&cfg.WebSocket, log)
	go hub.Run()
	services.Device.SetPublisher(hub)

	// 创建处理器
	authHandler := NewAuthHandler(services.Auth)
	deviceHandler := NewDeviceHandler(services.Device, services.CommandLog, log)
	logHandler := NewCommandLogHandler(services.CommandLog)
	wsHandler := NewWebSocketHandler(hub, &cfg.WebSocket, log)

	// 创建中间件
	authMiddleware := middleware.NewAuthMiddleware(services.Auth)

	router := &Router{
		engine:         engine,
		db:             db,
		cfg:            cfg,
		services:       services,
		hub:            hub,
		authHandler:    authHandler,
		deviceHandler:  deviceHandler,
		logHandler:     logHandler,
		wsHandler:      wsHandler,
		authMiddleware: authMiddleware,
		log:            log,
	}

	// 设置路由
	router.setupRoutes()

	return router
}

// setupRoutes 设置路由
func (r *Router) setupRoutes() {
	// 健康检查
	r.engine.GET("/health", r.healthCheck)

	// API v1路由组
	v1 := r.engine.Group("/api/v1")
	{
		// 认证相关路由（不需要认证）
		auth := v1.Group("/auth")
		{
			auth.POST("/login", r.authHandler.Login)
			auth.POST("/refresh", r.authHandler.RefreshToken)

			// 需要认证的路由
			authRequired := auth.Group("")
			authRequired.Use(r.authMiddleware.RequireAuth())
			{
				authRequired.POST("/logout", r.authHandler.Logout)
				authRequired.GET("/profile", r.authHandler.GetProfile)
				authRequired.PUT("/password", r.authHandler.UpdatePassword)
			}
		}

		// 设备相关路由（需要认证）
		device := v1.Group("/device")
		device.Use(r.authMiddleware.RequireAuth())
		{
			// 只读操作所有角色可用
			device.GET("/pressure", r.deviceHandler.ReadPressure)
			device.GET("/mode", r.deviceHandler.ReadMode)
			device.GET("/status", r.deviceHandler.ReadStatus)
			device.GET("/ports", r.deviceHandler.ListPorts)
			device.GET("/state", r.deviceHandler.GetState)
			device.POST("/check", r.deviceHandler.Check)

			// 控制命令需要操作权限
			command := device.Group("")
			command.Use(r.authMiddleware.RequireCommand())
			{
				command.PUT("/mode", r.deviceHandler.SetMode)
				command.POST("/setpoint", r.deviceHandler.SetPressure)
				command.POST("/stop", r.deviceHandler.Stop)
				command.POST("/vent", r.deviceHandler.Vent)
				command.POST("/pulse", r.deviceHandler.Pulse)
			}
		}

		// 命令审计日志路由
		r.logHandler.RegisterRoutes(v1, r.authMiddleware)

		// WebSocket统计
		wsGroup := v1.Group("/ws")
		wsGroup.Use(r.authMiddleware.RequireAuth())
		{
			wsGroup.GET("/stats", r.wsHandler.GetStats)
		}
	}

	// WebSocket实时监控路由
	monitorPath := r.cfg.WebSocket.Path
	if monitorPath == "" {
		monitorPath = "/ws/monitor"
	}
	r.engine.GET(monitorPath, r.authMiddleware.RequireAuth(), r.wsHandler.Monitor)

	// OpenAPI文档
	registerOpenAPIRoutes(r.engine)
	registerSwaggerRoutes(r.engine)

	// 404处理
	r.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "NOT_FOUND",
			"message": "接口不存在",
		})
	})
}

// healthCheck 健康检查
func (r *Router) healthCheck(c *gin.Context) {
	// 检查数据库连接
	sqlDB, err := r.db.DB()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"status":  "unhealthy",
			"message": "数据库连接失败",
		})
		return
	}

	if err := sqlDB.Ping(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"status":  "unhealthy",
			"message": "数据库ping失败",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"device": gin.H{
			"connected": r.services.Device.IsConnected(),
			"port":      r.cfg.Serial.Port,
			"mock_mode": r.cfg.Serial.MockMode,
		},
	})
}

// Hub 获取推送中心
func (r *Router) Hub() *ws.Hub {
	return r.hub
}

// Run 运行服务器
func (r *Router) Run(addr string) error {
	r.log.Info("Starting API server", zap.String("address", addr))
	return r.engine.Run(addr)
}

// GetEngine 获取Gin引擎（用于测试）
func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}
