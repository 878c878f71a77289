package websocket

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// 错误定义
var (
	ErrClientNotFound       = errors.New("客户端未找到")
	ErrOperatorNotConnected = errors.New("操作员未连接")
	ErrSendBufferFull       = errors.New("发送缓冲区已满")
	ErrInvalidMessage       = errors.New("无效的消息格式")
)

// WebSocket默认配置，未在配置文件中指定时生效
const (
	// 写超时
	defaultWriteWait = 10 * time.Second

	// 读取pong超时
	defaultPongWait = 60 * time.Second

	// 最大消息大小
	defaultMaxMessageSize = 4 * 1024 // 4KB，监控客户端只发订阅消息
)

// Client WebSocket客户端，连接即订阅全部监控数据，
// 可通过subscribe消息收窄
type Client struct {
	ID         string          // 客户端ID
	OperatorID uint            // 操作员ID
	Username   string          // 操作员用户名
	Hub        *Hub            // Hub引用
	Conn       *websocket.Conn // WebSocket连接
	Send       chan []byte     // 发送通道

	// 订阅的消息类型，空表示全部
	subs   map[string]struct{}
	subsMu sync.RWMutex

	// 从配置解析的超时参数
	writeWait      time.Duration
	pongWait       time.Duration
	pingPeriod     time.Duration
	maxMessageSize int64
}

// NewClient 创建新客户端
func NewClient(hub *Hub, conn *websocket.Conn, operatorID uint, username string) *Client {
	c := &Client{
		ID:         uuid.New().String(),
		OperatorID: operatorID,
		Username:   username,
		Hub:        hub,
		Conn:       conn,
		Send:       make(chan []byte, 256),
		subs:       make(map[string]struct{}),

		writeWait:      defaultWriteWait,
		pongWait:       defaultPongWait,
		maxMessageSize: defaultMaxMessageSize,
	}

	if cfg := hub.cfg; cfg != nil {
		if cfg.WriteTimeout > 0 {
			c.writeWait = cfg.WriteTimeout
		}
		if cfg.PongTimeout > 0 {
			c.pongWait = cfg.PongTimeout
		}
		if cfg.MaxMessageSize > 0 {
			c.maxMessageSize = cfg.MaxMessageSize
		}
	}
	// ping周期必须小于pong超时
	c.pingPeriod = (c.pongWait * 9) / 10

	return c
}

// SubscribeRequest 订阅请求的数据部分
type SubscribeRequest struct {
	Types []string `json:"types"`
}

// wants 检查客户端是否订阅了该消息类型。
// 系统消息始终投递，订阅表为空时投递全部数据消息。
func (c *Client) wants(messageType string) bool {
	switch messageType {
	case MessageTypeConnected, MessageTypePing, MessageTypePong,
		MessageTypeError, MessageTypeSubscribed:
		return true
	}

	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	if len(c.subs) == 0 {
		return true
	}
	_, ok := c.subs[messageType]
	return ok
}

// setSubscriptions 设置订阅列表，过滤未知类型
func (c *Client) setSubscriptions(types []string) []string {
	known := make(map[string]struct{}, len(DataMessageTypes))
	for _, t := range DataMessageTypes {
		known[t] = struct{}{}
	}

	accepted := make([]string, 0, len(types))
	subs := make(map[string]struct{}, len(types))
	for _, t := range types {
		if _, ok := known[t]; ok {
			subs[t] = struct{}{}
			accepted = append(accepted, t)
		}
	}

	c.subsMu.Lock()
	c.subs = subs
	c.subsMu.Unlock()
	return accepted
}

// ReadPump 读取消息
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.unregister <- c
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.logger.Error("WebSocket读取错误",
					zap.String("client_id", c.ID),
					zap.Error(err))
			}
			break
		}

		// 处理接收到的消息
		c.handleMessage(message)
	}
}

// WritePump 写入消息
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if !ok {
				// Hub关闭了通道
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// 批量发送队列中的消息
			n := len(c.Send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.Send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage 处理接收到的消息。
// 监控客户端只读，入站只接受subscribe/ping/pong
func (c *Client) handleMessage(data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.Hub.logger.Error("解析WebSocket消息失败",
			zap.String("client_id", c.ID),
			zap.Error(err))
		c.sendError("消息格式错误")
		// 断开发送无效JSON的连接
		c.Close()
		return
	}

	// 验证消息类型不为空
	if msg.Type == "" {
		c.Hub.logger.Warn("收到空消息类型",
			zap.String("client_id", c.ID))
		c.sendError("消息类型不能为空")
		// 断开连接
		c.Close()
		return
	}

	switch msg.Type {
	case MessageTypeSubscribe:
		var req SubscribeRequest
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &req); err != nil {
				c.sendError("订阅请求格式错误")
				return
			}
		}
		accepted := c.setSubscriptions(req.Types)
		c.Hub.logger.Debug("客户端更新订阅",
			zap.String("client_id", c.ID),
			zap.Strings("types", accepted))
		c.SendMessage(MessageTypeSubscribed, SubscribeRequest{Types: accepted})

	case MessageTypePing:
		// 应用层ping，回复pong
		c.SendMessage(MessageTypePong, nil)

	case MessageTypePong:
		// 客户端响应服务端的应用层ping
		c.Hub.logger.Debug("收到pong",
			zap.String("client_id", c.ID))

	default:
		// 不支持的消息类型
		c.Hub.logger.Warn("收到不支持的消息类型",
			zap.String("client_id", c.ID),
			zap.String("type", msg.Type))
		c.sendError("不支持的消息类型: " + msg.Type)
		// 断开发送无效消息类型的连接
		c.Close()
	}
}

// sendError 发送错误消息
func (c *Client) sendError(message string) {
	data, _ := json.Marshal(map[string]string{"error": message})
	errorMsg := &Message{
		Type:      MessageTypeError,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
	}
	c.Hub.SendToClient(c.ID, errorMsg)
}

// SendMessage 发送消息给客户端
func (c *Client) SendMessage(msgType string, data interface{}) error {
	var jsonData json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return err
		}
		jsonData = b
	}

	msg := &Message{
		Type:      msgType,
		Data:      jsonData,
		Timestamp: time.Now().UnixMilli(),
	}

	return c.Hub.SendToClient(c.ID, msg)
}

// Close 关闭客户端连接
func (c *Client) Close() {
	c.Hub.unregister <- c
}
