package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/wfunc/dpc3000/internal/config"
	"go.uber.org/zap"
)

// Hub WebSocket连接管理中心，负责监控数据的实时分发
type Hub struct {
	// 客户端连接池
	clients   map[string]*Client
	clientsMu sync.RWMutex

	// 操作员ID到客户端的映射，用于定向推送
	operatorClients map[uint][]*Client
	operatorMu      sync.RWMutex

	// 消息广播通道
	broadcast chan *Message

	// 注册/注销通道
	register   chan *Client
	unregister chan *Client

	// 配置与日志
	cfg    *config.WebSocketConfig
	logger *zap.Logger
}

// Message WebSocket消息
type Message struct {
	Type      string          `json:"type"`           // 消息类型
	Data      json.RawMessage `json:"data,omitempty"` // 消息数据
	Timestamp int64           `json:"timestamp"`      // 时间戳
}

// MessageType 消息类型
const (
	// 系统消息
	MessageTypeConnected  = "connected"
	MessageTypePing       = "ping"
	MessageTypePong       = "pong"
	MessageTypeError      = "error"
	MessageTypeSubscribe  = "subscribe"
	MessageTypeSubscribed = "subscribed"

	// 监控数据消息
	MessageTypePressure = "pressure" // 压力读数
	MessageTypeStatus   = "status"   // 控制器状态字节
	MessageTypeMode     = "mode"     // 工作模式
	MessageTypeCommand  = "command"  // 命令审计回显
	MessageTypeDevice   = "device"   // 设备连接事件
)

// DataMessageTypes 可订阅的监控数据消息类型
var DataMessageTypes = []string{
	MessageTypePressure,
	MessageTypeStatus,
	MessageTypeMode,
	MessageTypeCommand,
	MessageTypeDevice,
}

// NewHub 创建Hub
func NewHub(cfg *config.WebSocketConfig, logger *zap.Logger) *Hub {
	return &Hub{
		clients:         make(map[string]*Client),
		operatorClients: make(map[uint][]*Client),
		broadcast:       make(chan *Message, 256),
		register:        make(chan *Client),
		unregister:      make(chan *Client),
		cfg:             cfg,
		logger:          logger,
	}
}

// Run 运行Hub
func (h *Hub) Run() {
	// 启动心跳检测
	go h.runHeartbeat()

	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case message := <-h.broadcast:
			h.broadcastMessage(message)
		}
	}
}

// Publish 将监控数据推送给所有订阅的客户端。
// 由设备服务在命令路径上调用，通道满时丢弃不阻塞。
func (h *Hub) Publish(messageType string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("序列化推送数据失败",
			zap.String("type", messageType),
			zap.Error(err))
		return
	}

	msg := &Message{
		Type:      messageType,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	}

	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("推送通道已满，丢弃消息",
			zap.String("type", messageType))
	}
}

// registerClient 注册客户端
func (h *Hub) registerClient(client *Client) {
	h.clientsMu.Lock()
	h.clients[client.ID] = client
	h.clientsMu.Unlock()

	// 添加到操作员客户端映射
	if client.OperatorID > 0 {
		h.operatorMu.Lock()
		h.operatorClients[client.OperatorID] = append(h.operatorClients[client.OperatorID], client)
		h.operatorMu.Unlock()
	}

	h.logger.Info("WebSocket客户端连接",
		zap.String("client_id", client.ID),
		zap.Uint("operator_id", client.OperatorID),
		zap.String("username", client.Username))

	// 发送连接成功消息
	msg := &Message{
		Type:      MessageTypeConnected,
		Timestamp: time.Now().UnixMilli(),
		Data:      json.RawMessage(`{"message":"连接成功"}`),
	}
	h.SendToClient(client.ID, msg)
}

// unregisterClient 注销客户端
func (h *Hub) unregisterClient(client *Client) {
	h.clientsMu.Lock()
	if _, ok := h.clients[client.ID]; ok {
		delete(h.clients, client.ID)
		close(client.Send)
	}
	h.clientsMu.Unlock()

	// 从操作员客户端映射中移除
	if client.OperatorID > 0 {
		h.operatorMu.Lock()
		clients := h.operatorClients[client.OperatorID]
		for i, c := range clients {
			if c.ID == client.ID {
				h.operatorClients[client.OperatorID] = append(clients[:i], clients[i+1:]...)
				break
			}
		}
		if len(h.operatorClients[client.OperatorID]) == 0 {
			delete(h.operatorClients, client.OperatorID)
		}
		h.operatorMu.Unlock()
	}

	h.logger.Info("WebSocket客户端断开",
		zap.String("client_id", client.ID),
		zap.Uint("operator_id", client.OperatorID))
}

// broadcastMessage 广播消息，按客户端订阅过滤
func (h *Hub) broadcastMessage(message *Message) {
	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("序列化消息失败", zap.Error(err))
		return
	}

	h.clientsMu.RLock()
	for _, client := range h.clients {
		if !client.wants(message.Type) {
			continue
		}
		select {
		case client.Send <- data:
		default:
			// 发送缓冲区满，丢弃该客户端的这条消息
			h.logger.Warn("客户端发送缓冲区满",
				zap.String("client_id", client.ID))
		}
	}
	h.clientsMu.RUnlock()
}

// SendToClient 发送消息给指定客户端
func (h *Hub) SendToClient(clientID string, message *Message) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}

	h.clientsMu.RLock()
	client, ok := h.clients[clientID]
	h.clientsMu.RUnlock()

	if !ok {
		return ErrClientNotFound
	}

	select {
	case client.Send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// SendToOperator 发送消息给指定操作员的所有客户端
func (h *Hub) SendToOperator(operatorID uint, message *Message) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}

	h.operatorMu.RLock()
	clients := h.operatorClients[operatorID]
	h.operatorMu.RUnlock()

	if len(clients) == 0 {
		return ErrOperatorNotConnected
	}

	for _, client := range clients {
		select {
		case client.Send <- data:
		default:
			h.logger.Warn("操作员客户端发送缓冲区满",
				zap.String("client_id", client.ID),
				zap.Uint("operator_id", operatorID))
		}
	}

	return nil
}

// OnlineOperators 获取在线操作员列表
func (h *Hub) OnlineOperators() []uint {
	h.operatorMu.RLock()
	defer h.operatorMu.RUnlock()

	operators := make([]uint, 0, len(h.operatorClients))
	for operatorID := range h.operatorClients {
		operators = append(operators, operatorID)
	}
	return operators
}

// OnlineCount 获取在线客户端数
func (h *Hub) OnlineCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// CanAccept 检查是否还能接入新客户端
func (h *Hub) CanAccept() bool {
	if h.cfg == nil || h.cfg.MaxClients <= 0 {
		return true
	}
	return h.OnlineCount() < h.cfg.MaxClients
}

// runHeartbeat 运行心跳检测，周期广播应用层ping
func (h *Hub) runHeartbeat() {
	interval := 30 * time.Second
	if h.cfg != nil && h.cfg.PingInterval > 0 {
		interval = h.cfg.PingInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		<-ticker.C
		ping := &Message{
			Type:      MessageTypePing,
			Timestamp: time.Now().UnixMilli(),
		}
		h.broadcast <- ping
	}
}

// Broadcast 广播消息（公开方法）
func (h *Hub) Broadcast(message *Message) {
	h.broadcast <- message
}

// Register 注册客户端（公开方法）
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister 注销客户端（公开方法）
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}
