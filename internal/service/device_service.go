package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wfunc/dpc3000/internal/config"
	"github.com/wfunc/dpc3000/internal/device"
	apperrs "github.com/wfunc/dpc3000/internal/errors"
	"github.com/wfunc/dpc3000/internal/logger"
	"github.com/wfunc/dpc3000/internal/models"
	"github.com/wfunc/dpc3000/internal/repository"
	"go.uber.org/zap"
)

// DefaultDeviceID 单机部署时的设备标识
const DefaultDeviceID = "dpc3000"

// Actor 命令发起者，用于审计归属
type Actor struct {
	Source    models.CommandSource `json:"source"`
	Operator  string               `json:"operator,omitempty"`
	RequestID string               `json:"request_id,omitempty"`
}

// SystemActor 服务内部命令的发起者
func SystemActor() Actor {
	return Actor{Source: models.CommandSourceSystem}
}

// DeviceStateView 设备状态汇总（状态行+客户端统计）
type DeviceStateView struct {
	State     *models.DeviceState `json:"state,omitempty"`
	Stats     *device.ClientStats `json:"stats"`
	Connected bool                `json:"connected"`
	MockMode  bool                `json:"mock_mode"`
	Port      string              `json:"port"`
	BaudRate  int                 `json:"baud_rate"`
}

// DeviceService 设备控制服务。持有唯一的设备客户端，
// 命令串行化由客户端自身的互斥锁保证，本服务不额外加锁。
type DeviceService struct {
	cfg        *config.Config
	client     *device.Client
	repos      *repository.Manager
	logService *CommandLogService
	logger     *zap.Logger

	deviceID string

	mu        sync.RWMutex
	publisher Publisher
	// actor 最近一次下发命令的归属信息，观察者按此记账
	actor Actor
	// lastMode/lastStatus 最近一次成功读取的快照，用于补全状态行
	lastMode   string
	lastStatus int

	// limits 来自system_configs表的运行限制
	limits repository.DeviceLimitConfig

	// exchCh 观察者到状态行维护协程的通道
	exchCh chan *device.Exchange
	stopCh chan struct{}
	wg     sync.WaitGroup

	monitorOnce sync.Once
	closeOnce   sync.Once
}

// NewDeviceService 创建设备服务。mock_mode下使用内置模拟器，
// 否则按串口配置创建真实客户端。
func NewDeviceService(cfg *config.Config, repos *repository.Manager, logService *CommandLogService) *DeviceService {
	dcfg := &device.Config{
		Port:         cfg.Serial.Port,
		BaudRate:     cfg.Serial.BaudRate,
		ReadTimeout:  cfg.Serial.ReadTimeout,
		PollInterval: cfg.Serial.PollInterval,
		MaxPressure:  cfg.Serial.MaxPressure,
	}

	var client *device.Client
	if cfg.Serial.MockMode {
		client = device.NewClientWithTransport(dcfg, device.NewSimulator())
	} else {
		client = device.NewClient(dcfg)
	}

	s := &DeviceService{
		cfg:        cfg,
		client:     client,
		repos:      repos,
		logService: logService,
		logger:     logger.GetLogger(),
		deviceID:   DefaultDeviceID,
		actor:      SystemActor(),
		limits: repository.DeviceLimitConfig{
			MaxSetpoint:   10.0,
			MaxPulseSteps: 50,
		},
		exchCh: make(chan *device.Exchange, 256),
		stopCh: make(chan struct{}),
	}

	client.SetObserver(s.onExchange)
	return s
}

// Client 返回底层设备客户端
func (s *DeviceService) Client() *device.Client {
	return s.client
}

// SetPublisher 设置实时推送实现
func (s *DeviceService) SetPublisher(p Publisher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publisher = p
}

// Start 打开串口、注册状态行并启动监控采样
func (s *DeviceService) Start(ctx context.Context) error {
	s.wg.Add(1)
	go s.stateWriter()

	// 加载system_configs中的运行限制
	if svcCfg, err := repository.NewConfigHelper(s.repos.SystemConfig()).GetServiceConfig(ctx); err == nil {
		s.mu.Lock()
		s.limits = svcCfg.Device
		s.mu.Unlock()
		// 串口配置未限制设定上限时，使用数据库里的上限
		if s.client.Config().MaxPressure <= 0 && svcCfg.Device.MaxSetpoint > 0 {
			s.client.Config().MaxPressure = svcCfg.Device.MaxSetpoint
		}
	}

	if !s.cfg.Serial.Enabled {
		s.logger.Warn("串口已禁用，设备服务仅提供状态查询")
		return nil
	}

	// 自动探测串口
	if s.cfg.Serial.AutoDetect && !s.cfg.Serial.MockMode {
		if port, err := device.FindPort(s.cfg.Serial.PortPattern); err == nil {
			s.logger.Info("自动探测到串口", zap.String("port", port))
			s.client.Config().Port = port
		} else {
			s.logger.Warn("串口自动探测失败，使用配置的端口",
				zap.String("port", s.cfg.Serial.Port),
				zap.Error(err))
		}
	}

	if err := s.client.Connect(); err != nil {
		_ = s.repos.DeviceState().RecordError(ctx, s.deviceID, err.Error())
		return err
	}

	// 注册/更新状态行
	state := &models.DeviceState{
		DeviceID:  s.deviceID,
		Port:      s.client.Config().Port,
		BaudRate:  s.client.Config().BaudRate,
		Connected: true,
	}
	if err := s.repos.DeviceState().Register(ctx, state); err != nil {
		s.logger.Error("注册设备状态失败", zap.Error(err))
	}

	// 探测设备标识
	if ident, err := s.Check(ctx, SystemActor()); err == nil {
		if err := s.repos.DeviceState().UpdateFirmware(ctx, s.deviceID, ident); err != nil {
			s.logger.Error("更新设备标识失败", zap.Error(err))
		}
	} else {
		s.logger.Warn("设备探测未应答", zap.Error(err))
	}

	s.publish(PushDevice, map[string]interface{}{
		"event": "connected",
		"port":  s.client.Config().Port,
		"mock":  s.cfg.Serial.MockMode,
		"at":    time.Now(),
	})
	logger.LogDeviceEvent("connected", s.client.Config().Port, map[string]interface{}{
		"baud_rate": s.client.Config().BaudRate,
		"mock":      s.cfg.Serial.MockMode,
	})

	if s.cfg.Monitor.Enabled {
		s.StartMonitor()
	}

	return nil
}

// StartMonitor 启动监控采样协程（幂等）
func (s *DeviceService) StartMonitor() {
	s.monitorOnce.Do(func() {
		s.wg.Add(1)
		go s.monitorLoop()
	})
}

// monitorLoop 周期采样压力与状态并推送，只读不控
func (s *DeviceService) monitorLoop() {
	defer s.wg.Done()

	interval := s.cfg.Monitor.SampleInterval
	if interval <= 0 {
		interval = time.Second
	}
	s.logger.Info("监控采样已启动", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sample()
		}
	}
}

// sample 采集一次压力+状态
func (s *DeviceService) sample() {
	if !s.client.IsConnected() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	actor := Actor{Source: models.CommandSourceMonitor}

	reading, err := s.ReadPressure(ctx, actor)
	if err != nil {
		s.logger.Debug("监控采样读压失败", zap.Error(err))
		return
	}

	status, err := s.ReadStatus(ctx, actor, false)
	if err != nil {
		s.logger.Debug("监控采样读状态失败", zap.Error(err))
		return
	}

	s.logger.Debug("监控采样",
		zap.Float64("pressure", reading.Value),
		zap.Int("status", int(status)))
}

// stateWriter 消费观察者送来的交互记录，维护状态行。
// 数据库写出在这里异步串行执行，不阻塞命令路径。
func (s *DeviceService) stateWriter() {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopCh:
			return
		case ex := <-s.exchCh:
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			if ex.Err != nil {
				if err := s.repos.DeviceState().RecordError(ctx, s.deviceID, ex.Err.Error()); err != nil {
					s.logger.Debug("记录设备错误失败", zap.Error(err))
				}
			} else if ex.Response != "" {
				if err := s.repos.DeviceState().Touch(ctx, s.deviceID); err != nil {
					s.logger.Debug("更新设备通信时间失败", zap.Error(err))
				}
			}
			cancel()
		}
	}
}

// onExchange 客户端观察者：记账审计日志、推送回显、送状态行维护
func (s *DeviceService) onExchange(ex *device.Exchange) {
	s.mu.RLock()
	actor := s.actor
	s.mu.RUnlock()

	s.logService.RecordExchange(ex, actor.Source, actor.Operator, actor.RequestID)

	s.publish(PushCommand, map[string]interface{}{
		"command":     ex.Command,
		"response":    ex.Response,
		"fault":       ex.Fault,
		"success":     ex.Err == nil,
		"duration_ms": ex.Duration.Milliseconds(),
		"source":      actor.Source,
		"operator":    actor.Operator,
		"request_id":  actor.RequestID,
		"at":          ex.At,
	})

	select {
	case s.exchCh <- ex:
	default:
	}
}

// beginOp 设置当前命令的归属。客户端互斥锁串行化交互，
// 归属按最近一次beginOp的发起者记账。
func (s *DeviceService) beginOp(actor Actor) Actor {
	if actor.Source == "" {
		actor.Source = models.CommandSourceAPI
	}
	if actor.RequestID == "" {
		actor.RequestID = uuid.New().String()
	}

	s.mu.Lock()
	s.actor = actor
	s.mu.Unlock()
	return actor
}

// publish 推送消息到websocket中心（未接入时忽略）
func (s *DeviceService) publish(messageType string, payload interface{}) {
	s.mu.RLock()
	p := s.publisher
	s.mu.RUnlock()
	if p != nil {
		p.Publish(messageType, payload)
	}
}

// snapshot 用最近一次成功读数补全并更新状态行
func (s *DeviceService) snapshot(ctx context.Context, pressure float64) {
	s.mu.RLock()
	mode := s.lastMode
	status := s.lastStatus
	s.mu.RUnlock()

	if err := s.repos.DeviceState().UpdateSnapshot(ctx, s.deviceID, pressure, mode, status); err != nil {
		s.logger.Debug("更新设备快照失败", zap.Error(err))
	}
}

// Check 探测设备连通性，返回设备标识应答
func (s *DeviceService) Check(ctx context.Context, actor Actor) (string, error) {
	s.beginOp(actor)
	return s.client.Check(ctx)
}

// ReadPressure 读取当前压力并推送
func (s *DeviceService) ReadPressure(ctx context.Context, actor Actor) (*device.Reading, error) {
	s.beginOp(actor)

	reading, err := s.client.ReadPress(ctx)
	if err != nil {
		return nil, err
	}

	s.snapshot(ctx, reading.Value)
	s.publish(PushPressure, map[string]interface{}{
		"value": reading.Value,
		"unit":  reading.Unit,
		"at":    reading.At,
	})
	return reading, nil
}

// ReadMode 读取当前工作模式并推送
func (s *DeviceService) ReadMode(ctx context.Context, actor Actor) (device.Mode, error) {
	s.beginOp(actor)

	mode, err := s.client.ReadMode(ctx)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.lastMode = mode.String()
	s.mu.Unlock()

	s.publish(PushMode, map[string]interface{}{
		"mode": mode,
		"at":   time.Now(),
	})
	return mode, nil
}

// SetMode 切换工作模式
func (s *DeviceService) SetMode(ctx context.Context, actor Actor, mode device.Mode) (device.Ack, error) {
	s.beginOp(actor)

	ack, err := s.client.SetMode(ctx, mode)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.lastMode = mode.String()
	s.mu.Unlock()

	s.publish(PushMode, map[string]interface{}{
		"mode": mode,
		"at":   time.Now(),
	})
	return ack, nil
}

// SetPressure 下发压力设定值。wait为true时等待压力收敛并返回最终读数，
// 否则只下发命令立即返回确认。
func (s *DeviceService) SetPressure(ctx context.Context, actor Actor, bar float64, wait bool) (*device.Reading, device.Ack, error) {
	s.beginOp(actor)

	if err := s.repos.DeviceState().UpdateSetpoint(ctx, s.deviceID, bar); err != nil {
		s.logger.Debug("更新目标压力失败", zap.Error(err))
	}

	if !wait {
		ack, err := s.client.SetPress(ctx, bar)
		if err != nil {
			return nil, "", err
		}
		return nil, ack, nil
	}

	wctx := ctx
	if s.cfg.Serial.WaitTimeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, s.cfg.Serial.WaitTimeout)
		defer cancel()
	}

	reading, err := s.client.SetPressAndWait(wctx, bar)
	if reading != nil {
		s.snapshot(ctx, reading.Value)
		s.publish(PushPressure, map[string]interface{}{
			"value": reading.Value,
			"unit":  reading.Unit,
			"at":    reading.At,
		})
	}
	if err != nil {
		return reading, "", err
	}
	return reading, "", nil
}

// Stop 停止控制器
func (s *DeviceService) Stop(ctx context.Context, actor Actor) (device.Ack, error) {
	s.beginOp(actor)
	return s.client.Stop(ctx)
}

// Vent 排气。wait为true时等待排气阀关闭并返回排气后的读数。
func (s *DeviceService) Vent(ctx context.Context, actor Actor, wait bool) (*device.Reading, device.Ack, error) {
	s.beginOp(actor)

	if !wait {
		ack, err := s.client.Vent(ctx)
		if err != nil {
			return nil, "", err
		}
		return nil, ack, nil
	}

	wctx := ctx
	if s.cfg.Serial.WaitTimeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, s.cfg.Serial.WaitTimeout)
		defer cancel()
	}

	reading, err := s.client.VentAndWait(wctx)
	if err != nil {
		return nil, "", err
	}

	s.snapshot(ctx, reading.Value)
	return reading, "", nil
}

// Pulse 发送压力/真空脉冲，direction为press或vac
func (s *DeviceService) Pulse(ctx context.Context, actor Actor, direction string, steps int) error {
	s.mu.RLock()
	maxSteps := s.limits.MaxPulseSteps
	s.mu.RUnlock()
	if maxSteps > 0 && steps > maxSteps {
		return apperrs.Newf(apperrs.ErrPulseCount, "脉冲次数超出上限: %d > %d", steps, maxSteps)
	}

	s.beginOp(actor)

	switch direction {
	case "press":
		return s.client.TickPress(ctx, steps)
	case "vac":
		return s.client.TickVac(ctx, steps)
	default:
		return apperrs.Newf(apperrs.ErrInvalidParam, "无效的脉冲方向: %q", direction)
	}
}

// ReadStatus 读取控制器状态字节，binary为true时请求二进制形式应答
func (s *DeviceService) ReadStatus(ctx context.Context, actor Actor, binary bool) (device.Status, error) {
	s.beginOp(actor)

	var (
		status device.Status
		err    error
	)
	if binary {
		status, err = s.client.ReadStatusBinary(ctx)
	} else {
		status, err = s.client.ReadStatus(ctx)
	}
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	s.lastStatus = int(status)
	s.mu.Unlock()

	s.publish(PushStatus, map[string]interface{}{
		"bits":  int(status),
		"flags": status.Flags(),
		"at":    time.Now(),
	})
	return status, nil
}

// Ports 枚举主机上的串口
func (s *DeviceService) Ports() ([]device.PortInfo, error) {
	return device.ListPorts()
}

// IsConnected 检查设备连接状态
func (s *DeviceService) IsConnected() bool {
	return s.client.IsConnected()
}

// Stats 返回客户端统计信息
func (s *DeviceService) Stats() *device.ClientStats {
	return s.client.Stats()
}

// State 返回设备状态汇总
func (s *DeviceService) State(ctx context.Context) (*DeviceStateView, error) {
	view := &DeviceStateView{
		Stats:     s.client.Stats(),
		Connected: s.client.IsConnected(),
		MockMode:  s.cfg.Serial.MockMode,
		Port:      s.client.Config().Port,
		BaudRate:  s.client.Config().BaudRate,
	}

	state, err := s.repos.DeviceState().FindByDeviceID(ctx, s.deviceID)
	if err == nil {
		view.State = state
	}
	return view, nil
}

// Close 停止采样、关闭串口并更新状态行
func (s *DeviceService) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stopCh)

		connected := s.client.IsConnected()
		err = s.client.Close()

		if connected {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if uerr := s.repos.DeviceState().UpdateConnection(ctx, s.deviceID, false); uerr != nil {
				s.logger.Error("更新设备连接状态失败", zap.Error(uerr))
			}

			s.publish(PushDevice, map[string]interface{}{
				"event": "disconnected",
				"port":  s.client.Config().Port,
				"at":    time.Now(),
			})
			logger.LogDeviceEvent("disconnected", s.client.Config().Port, nil)
		}

		s.wg.Wait()
	})
	return err
}
