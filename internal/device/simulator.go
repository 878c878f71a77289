package device

import (
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/wfunc/dpc3000/internal/errors"
	"github.com/wfunc/dpc3000/internal/logger"
	"go.uber.org/zap"
)

// Simulator 模拟DPC3000设备（mock模式与演示用）。
// 写入端解析命令并驱动一个简化的设备状态机，读取端返回生成的应答：
// Control模式下压力逐次逼近设定值，排气保持数个状态周期后归零。
type Simulator struct {
	mu     sync.Mutex
	logger *zap.Logger

	mode     Mode
	setpoint float64
	pressure float64
	stopped  bool
	ventLeft int // 排气阀保持打开的剩余状态读取次数

	queue  []string
	closed bool
}

// NewSimulator 创建处于Measure模式、压力为0的模拟设备
func NewSimulator() *Simulator {
	return &Simulator{
		logger: logger.GetLogger(),
		mode:   ModeMeasure,
	}
}

// SetPressure 直接设定模拟压力（测试场景准备）
func (s *Simulator) SetPressure(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pressure = v
}

// Write 解析命令并推进状态机
func (s *Simulator) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, errors.New(errors.ErrSerialPortWrite, "串口已关闭")
	}

	cmd := strings.TrimRight(string(p), "\r\n")
	s.handle(cmd)
	return len(p), nil
}

// handle 处理单条命令，需要持有s.mu
func (s *Simulator) handle(cmd string) {
	switch {
	case cmd == "@check":
		s.reply("DPC3000 V1.10 OK")

	case cmd == "@ReadPress:bar":
		s.stepControl()
		s.reply(strconv.FormatFloat(s.pressure, 'f', 3, 64))

	case strings.HasPrefix(cmd, "@SetPress:"):
		raw := strings.ReplaceAll(strings.TrimPrefix(cmd, "@SetPress:"), ",", ".")
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			s.reply("ErrParameter")
			return
		}
		s.setpoint = v
		s.stopped = false
		s.reply(formatSetpoint(v))

	case cmd == "@Stop":
		s.stopped = true
		s.reply("Stop")

	case cmd == "@Vent":
		s.mode = ModeVent
		s.ventLeft = 3
		s.stopped = false
		s.reply("Vent")

	case cmd == "@ReadMode":
		s.reply(string(s.mode))

	case strings.HasPrefix(cmd, "@SetMode:"):
		mode := Mode(strings.TrimPrefix(cmd, "@SetMode:"))
		if !mode.Valid() {
			s.reply("ErrParameter")
			return
		}
		s.mode = mode
		if mode == ModeControl {
			s.stopped = false
		}
		s.reply(string(mode))

	case cmd == "@ReadStatus":
		s.reply(strconv.Itoa(int(s.currentStatus())))

	case cmd == "@ReadStatus:bin":
		s.reply(strconv.FormatInt(int64(s.currentStatus()), 2))

	case cmd == "@tp":
		// 压力脉冲无应答
		s.pressure += 0.001

	case cmd == "@TickVac":
		// 真空脉冲无应答
		s.pressure -= 0.001

	default:
		s.logger.Debug("模拟设备收到未知命令", zap.String("command", cmd))
		s.reply("ErrUnknCmd")
	}
}

// stepControl Control模式下压力向设定值逼近一步
func (s *Simulator) stepControl() {
	if s.mode != ModeControl || s.stopped {
		return
	}

	diff := s.setpoint - s.pressure
	if math.Abs(diff) < 1e-9 {
		return
	}

	step := diff * 0.4
	if math.Abs(step) < 0.02 {
		step = math.Copysign(math.Min(0.02, math.Abs(diff)), diff)
	}
	s.pressure += step
}

// currentStatus 计算当前状态字节，排气计数随读取递减
func (s *Simulator) currentStatus() Status {
	var st Status

	if s.mode == ModeControl && math.Abs(s.pressure-s.setpoint) <= SetpointTolerance {
		st |= StatusInTolerance | StatusFineDone | StatusCoarseDone
	}
	if s.ventLeft > 0 {
		st |= StatusVentOpen
		s.ventLeft--
		if s.ventLeft == 0 {
			s.pressure = 0
		}
	}
	if s.stopped {
		st |= StatusStopped
	}
	return st
}

// reply 将应答压入读取队列，需要持有s.mu
func (s *Simulator) reply(line string) {
	s.queue = append(s.queue, line)
}

// ReadLine 返回队首应答
func (s *Simulator) ReadLine(timeout time.Duration) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errors.New(errors.ErrSerialPortRead, "串口已关闭")
	}
	if len(s.queue) == 0 {
		return nil, errors.Newf(errors.ErrSerialTimeout, "等待应答超时(%s)", timeout)
	}

	line := s.queue[0]
	s.queue = s.queue[1:]
	return []byte(line), nil
}

// Close 关闭模拟设备
func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
