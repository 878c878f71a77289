package device

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/wfunc/dpc3000/internal/errors"
	"github.com/wfunc/dpc3000/internal/logger"
	"go.uber.org/zap"
)

// pulseInterval 压力/真空脉冲的发送间隔
const pulseInterval = 200 * time.Millisecond

// Reading 一次压力读数
type Reading struct {
	Value float64   `json:"value"`
	Unit  string    `json:"unit"`
	At    time.Time `json:"at"`
}

// Ack 设备确认应答的原文
type Ack string

// Exchange 一次命令交互的完整记录，通过观察者钩子对外提供
type Exchange struct {
	Command  string        `json:"command"`         // 命令名（check/read_press/...）
	Request  string        `json:"request"`         // 写入的原始命令（含\r）
	Response string        `json:"response"`        // 应答行原文
	Fault    string        `json:"fault,omitempty"` // 设备故障码（如有）
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
	At       time.Time     `json:"at"`
}

// ClientStats 客户端统计信息
type ClientStats struct {
	CommandsSent uint64    `json:"commands_sent"`
	Responses    uint64    `json:"responses"`
	Faults       uint64    `json:"faults"`
	Timeouts     uint64    `json:"timeouts"`
	LastError    string    `json:"last_error,omitempty"`
	LastContact  time.Time `json:"last_contact"`
}

// Config 客户端配置
type Config struct {
	Port         string        // 串口设备路径
	BaudRate     int           // 波特率
	ReadTimeout  time.Duration // 单行应答超时
	PollInterval time.Duration // 等待收敛时的轮询间隔
	MaxPressure  float64       // 设定压力上限（bar），0为不限制
}

// DefaultConfig 默认配置（DPC3000出厂串口参数9600 8N1）
func DefaultConfig() *Config {
	return &Config{
		Port:         "/dev/ttyUSB0",
		BaudRate:     9600,
		ReadTimeout:  time.Second,
		PollInterval: 200 * time.Millisecond,
	}
}

// Client DPC3000压力控制器客户端。
// 命令交互由内部互斥锁串行化，同一时刻最多一条命令在途；
// 客户端不做重试，所有错误原样返回给调用方。
type Client struct {
	config *Config
	logger *zap.Logger

	// cmdMu 串行化命令交互
	cmdMu sync.Mutex

	mu        sync.RWMutex
	transport Transport
	connected bool
	observer  func(*Exchange)
	stats     ClientStats
}

// NewClient 创建客户端，调用Connect前不会打开串口
func NewClient(config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	if config.BaudRate <= 0 {
		config.BaudRate = 9600
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = time.Second
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 200 * time.Millisecond
	}

	return &Client{
		config: config,
		logger: logger.GetLogger(),
	}
}

// NewClientWithTransport 基于注入的传输层创建客户端（测试或模拟模式）
func NewClientWithTransport(config *Config, t Transport) *Client {
	c := NewClient(config)
	c.transport = t
	c.connected = true
	return c
}

// Connect 打开串口并等待设备就绪
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}

	t, err := openSerialTransport(c.config.Port, c.config.BaudRate)
	if err != nil {
		c.mu.Unlock()
		c.logger.Error("DPC3000串口打开失败",
			zap.String("port", c.config.Port),
			zap.Error(err))
		return err
	}

	c.transport = t
	c.connected = true
	c.mu.Unlock()

	// 串口打开后给设备留出稳定时间
	time.Sleep(500 * time.Millisecond)

	c.logger.Info("DPC3000串口已连接",
		zap.String("port", c.config.Port),
		zap.Int("baud_rate", c.config.BaudRate))
	return nil
}

// Close 关闭串口连接
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil
	}
	c.connected = false

	var err error
	if c.transport != nil {
		err = c.transport.Close()
		c.transport = nil
	}

	c.logger.Info("DPC3000串口已关闭", zap.String("port", c.config.Port))
	return err
}

// IsConnected 检查连接状态
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Config 返回客户端配置
func (c *Client) Config() *Config {
	return c.config
}

// SetObserver 设置交互观察者（审计钩子）。观察者在命令路径上同步调用，
// 实现方不得阻塞。
func (c *Client) SetObserver(fn func(*Exchange)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observer = fn
}

// Stats 返回统计信息快照
func (c *Client) Stats() *ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	stats := c.stats
	return &stats
}

// exchange 执行一次完整交互：写入命令，读取单行应答。
// wantReply为false的命令（压力/真空脉冲）只写不读。
func (c *Client) exchange(ctx context.Context, name, cmd string, wantReply bool) (string, error) {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", errors.Wrap(err, errors.ErrCanceled, "命令已取消")
	}

	c.mu.RLock()
	t := c.transport
	connected := c.connected
	c.mu.RUnlock()

	if !connected || t == nil {
		return "", errors.New(errors.ErrDeviceOffline, "设备未连接")
	}

	start := time.Now()
	ex := &Exchange{Command: name, Request: cmd, At: start}
	wrote := false

	_, err := t.Write([]byte(cmd))
	if err == nil {
		wrote = true
		if wantReply {
			var line []byte
			line, err = t.ReadLine(c.config.ReadTimeout)
			if err == nil {
				resp := string(line)
				ex.Response = resp
				if IsFaultToken(resp) {
					ex.Fault = strings.TrimSpace(resp)
					err = newFaultError(resp)
				}
			}
		}
	}

	ex.Duration = time.Since(start)
	ex.Err = err
	c.finishExchange(ex, wrote)

	return ex.Response, err
}

// finishExchange 更新统计、记录日志并通知观察者
func (c *Client) finishExchange(ex *Exchange, wrote bool) {
	c.mu.Lock()
	if wrote {
		c.stats.CommandsSent++
	}
	if ex.Response != "" {
		c.stats.Responses++
		c.stats.LastContact = ex.At.Add(ex.Duration)
	}
	if ex.Fault != "" {
		c.stats.Faults++
	}
	if errors.Is(ex.Err, errors.ErrSerialTimeout) {
		c.stats.Timeouts++
	}
	if ex.Err != nil {
		c.stats.LastError = ex.Err.Error()
	}
	observer := c.observer
	c.mu.Unlock()

	logger.LogSerialCommand(strings.TrimRight(ex.Request, "\r"), ex.Response, ex.Err == nil)

	if observer != nil {
		observer(ex)
	}
}

// Check 发送@check探测设备连通性，返回设备的标识应答
func (c *Client) Check(ctx context.Context) (string, error) {
	return c.exchange(ctx, "check", cmdCheck, true)
}

// ReadPress 读取当前压力值（bar）
func (c *Client) ReadPress(ctx context.Context) (*Reading, error) {
	resp, err := c.exchange(ctx, "read_press", cmdReadPress, true)
	if err != nil {
		return nil, err
	}

	v, err := parsePressure(resp)
	if err != nil {
		return nil, err
	}
	return &Reading{Value: v, Unit: "bar", At: time.Now()}, nil
}

// ReadMode 读取当前工作模式
func (c *Client) ReadMode(ctx context.Context) (Mode, error) {
	resp, err := c.exchange(ctx, "read_mode", cmdReadMode, true)
	if err != nil {
		return "", err
	}

	mode, err := ParseMode(resp)
	if err != nil {
		return "", errors.Newf(errors.ErrInvalidResponse, "无法解析模式应答: %q", resp)
	}
	return mode, nil
}

// SetMode 切换工作模式。模式在任何I/O之前校验，
// 设备应答故障码时返回设备故障错误。
func (c *Client) SetMode(ctx context.Context, mode Mode) (Ack, error) {
	if !mode.Valid() {
		return "", errors.Newf(errors.ErrModeInvalid, "无效的工作模式: %q", string(mode))
	}

	resp, err := c.exchange(ctx, "set_mode", cmdSetMode+string(mode)+"\r", true)
	if err != nil {
		return "", err
	}
	return Ack(resp), nil
}

// Stop 停止控制器
func (c *Client) Stop(ctx context.Context) (Ack, error) {
	resp, err := c.exchange(ctx, "stop", cmdStop, true)
	if err != nil {
		return "", err
	}
	return Ack(resp), nil
}

// Vent 向环境排气
func (c *Client) Vent(ctx context.Context) (Ack, error) {
	resp, err := c.exchange(ctx, "vent", cmdVent, true)
	if err != nil {
		return "", err
	}
	return Ack(resp), nil
}

// ReadStatus 读取控制器状态字节（十进制应答）
func (c *Client) ReadStatus(ctx context.Context) (Status, error) {
	resp, err := c.exchange(ctx, "read_status", cmdReadStatus, true)
	if err != nil {
		return 0, err
	}
	return parseStatus(resp, 10)
}

// ReadStatusBinary 读取控制器状态字节（二进制形式应答）
func (c *Client) ReadStatusBinary(ctx context.Context) (Status, error) {
	resp, err := c.exchange(ctx, "read_status_bin", cmdReadStatusBin, true)
	if err != nil {
		return 0, err
	}
	return parseStatus(resp, 2)
}

// validateSetpoint 校验压力设定值，拒绝非有限值和超上限的值
func (c *Client) validateSetpoint(bar float64) error {
	if math.IsNaN(bar) || math.IsInf(bar, 0) {
		return errors.Newf(errors.ErrSetpointInvalid, "压力设定值非法: %v", bar)
	}
	if c.config.MaxPressure > 0 && bar > c.config.MaxPressure {
		return errors.Newf(errors.ErrSetpointInvalid,
			"压力设定值超出上限: %v > %v", bar, c.config.MaxPressure)
	}
	return nil
}

// SetPress 下发压力设定值，控制过程由设备自身执行
func (c *Client) SetPress(ctx context.Context, bar float64) (Ack, error) {
	if err := c.validateSetpoint(bar); err != nil {
		return "", err
	}

	resp, err := c.exchange(ctx, "set_press", cmdSetPress+formatSetpoint(bar)+"\r", true)
	if err != nil {
		return "", err
	}
	return Ack(resp), nil
}

// SetPressAndWait 下发设定值并等待压力收敛。
// 设备自身执行控制，这里只轮询读数和状态：压力进入容差带（±0.1 bar）
// 或设备置位到位标志即返回；设备报告控制器超时（bit 64）或停止
// （bit 128）时带着最后一次读数返回错误。
func (c *Client) SetPressAndWait(ctx context.Context, bar float64) (*Reading, error) {
	if err := c.validateSetpoint(bar); err != nil {
		return nil, err
	}

	if _, err := c.SetMode(ctx, ModeControl); err != nil {
		return nil, err
	}
	if _, err := c.SetPress(ctx, bar); err != nil {
		return nil, err
	}

	c.logger.Info("开始等待压力收敛",
		zap.Float64("target", bar),
		zap.Duration("poll_interval", c.config.PollInterval))

	for {
		reading, err := c.ReadPress(ctx)
		if err != nil {
			return nil, err
		}
		status, err := c.ReadStatus(ctx)
		if err != nil {
			return reading, err
		}

		if math.Abs(reading.Value-bar) <= SetpointTolerance || status.Has(StatusInTolerance) {
			c.logger.Info("压力已到达目标值",
				zap.Float64("target", bar),
				zap.Float64("pressure", reading.Value))
			return reading, nil
		}

		if status.Has(StatusTimeout) {
			c.logger.Warn("控制器超时，压力未到达目标值",
				zap.Float64("target", bar),
				zap.Float64("pressure", reading.Value),
				zap.String("status", status.String()))
			return reading, errors.New(errors.ErrControllerTimeout, status.String())
		}
		if status.Has(StatusStopped) {
			c.logger.Warn("控制器已停止，压力未到达目标值",
				zap.Float64("target", bar),
				zap.Float64("pressure", reading.Value),
				zap.String("status", status.String()))
			return reading, errors.New(errors.ErrControllerStopped, status.String())
		}

		select {
		case <-ctx.Done():
			return reading, errors.Wrap(ctx.Err(), errors.ErrCanceled, "等待压力收敛被取消")
		case <-time.After(c.config.PollInterval):
		}
	}
}

// VentAndWait 排气并等待排气阀关闭，返回排气结束后的压力读数
func (c *Client) VentAndWait(ctx context.Context) (*Reading, error) {
	if _, err := c.Vent(ctx); err != nil {
		return nil, err
	}

	for {
		status, err := c.ReadStatus(ctx)
		if err != nil {
			return nil, err
		}
		if !status.Has(StatusVentOpen) {
			break
		}

		select {
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), errors.ErrCanceled, "等待排气完成被取消")
		case <-time.After(c.config.PollInterval):
		}
	}

	reading, err := c.ReadPress(ctx)
	if err != nil {
		return nil, err
	}

	c.logger.Info("排气完成", zap.Float64("pressure", reading.Value))
	return reading, nil
}

// TickPress 发送steps次压力脉冲，每次脉冲约升压0.001 bar。
// 脉冲间隔200ms，此类命令设备不产生应答。
func (c *Client) TickPress(ctx context.Context, steps int) error {
	if steps < 1 {
		return errors.Newf(errors.ErrPulseCount, "脉冲次数必须为正: %d", steps)
	}

	for i := 0; i < steps; i++ {
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), errors.ErrCanceled, "压力脉冲被取消")
		case <-time.After(pulseInterval):
		}

		if _, err := c.exchange(ctx, "tick_press", cmdTickPress, false); err != nil {
			return err
		}
	}
	return nil
}

// TickVac 打开真空/排气阀一个脉冲时长，steps大于0时追加等量的压力脉冲
func (c *Client) TickVac(ctx context.Context, steps int) error {
	if steps < 0 {
		return errors.Newf(errors.ErrPulseCount, "脉冲次数不能为负: %d", steps)
	}

	if _, err := c.exchange(ctx, "tick_vac", cmdTickVac, false); err != nil {
		return err
	}

	for i := 0; i < steps; i++ {
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), errors.ErrCanceled, "真空脉冲被取消")
		case <-time.After(pulseInterval):
		}

		if _, err := c.exchange(ctx, "tick_press", cmdTickPress, false); err != nil {
			return err
		}
	}
	return nil
}
