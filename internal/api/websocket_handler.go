package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/wfunc/dpc3000/internal/config"
	"github.com/wfunc/dpc3000/internal/middleware"
	ws "github.com/wfunc/dpc3000/internal/websocket"
	"go.uber.org/zap"
)

// WebSocketHandler WebSocket处理器
type WebSocketHandler struct {
	hub      *ws.Hub
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewWebSocketHandler 创建WebSocket处理器
func NewWebSocketHandler(hub *ws.Hub, cfg *config.WebSocketConfig, logger *zap.Logger) *WebSocketHandler {
	readBuffer := cfg.ReadBufferSize
	if readBuffer <= 0 {
		readBuffer = 1024
	}
	writeBuffer := cfg.WriteBufferSize
	if writeBuffer <= 0 {
		writeBuffer = 1024
	}

	return &WebSocketHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:    readBuffer,
			WriteBufferSize:   writeBuffer,
			EnableCompression: cfg.EnableCompression,
			CheckOrigin: func(r *http.Request) bool {
				// 本机控制台场景，不校验Origin
				return true
			},
		},
		logger: logger,
	}
}

// Monitor 实时监控WebSocket连接。
// 需要认证，浏览器客户端可通过?token=查询参数携带令牌。
func (h *WebSocketHandler) Monitor(c *gin.Context) {
	operatorID, exists := middleware.GetOperatorID(c)
	if !exists || operatorID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "未登录",
		})
		return
	}
	username, _ := middleware.GetUsername(c)

	// 连接数上限
	if !h.hub.CanAccept() {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "连接数已达上限",
		})
		return
	}

	// 升级为WebSocket连接
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("WebSocket升级失败",
			zap.Uint("operator_id", operatorID),
			zap.Error(err))
		return
	}

	// 创建客户端并注册
	client := ws.NewClient(h.hub, conn, operatorID, username)
	h.hub.Register(client)

	// 启动读写协程
	go client.WritePump()
	go client.ReadPump()

	h.logger.Info("WebSocket连接建立",
		zap.String("client_id", client.ID),
		zap.Uint("operator_id", operatorID),
		zap.String("username", username))
}

// GetStats 获取在线连接统计
func (h *WebSocketHandler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"online_count":     h.hub.OnlineCount(),
		"online_operators": h.hub.OnlineOperators(),
	})
}
