package device

import (
	"strconv"
	"strings"

	"github.com/wfunc/dpc3000/internal/errors"
)

// DPC3000命令表（均为ASCII，@前缀，\r结尾）
const (
	cmdCheck         = "@check\r"
	cmdReadPress     = "@ReadPress:bar\r"
	cmdSetPress      = "@SetPress:" // 后接数值和\r
	cmdStop          = "@Stop\r"
	cmdVent          = "@Vent\r"
	cmdTickVac       = "@TickVac\r"
	cmdReadMode      = "@ReadMode\r"
	cmdSetMode       = "@SetMode:" // 后接模式名和\r
	cmdReadStatus    = "@ReadStatus\r"
	cmdReadStatusBin = "@ReadStatus:bin\r"

	// 固件对@TickPress返回ErrUnknCmd，实际生效的脉冲命令是@tp
	cmdTickPress = "@tp\r"
)

// SetpointTolerance 压力到达判定带宽（bar）
const SetpointTolerance = 0.1

// Mode 设备工作模式
type Mode string

const (
	ModeControl Mode = "Control"
	ModeMeasure Mode = "Measure"
	ModeVent    Mode = "Vent"
)

// Modes 设备支持的全部工作模式
var Modes = []Mode{ModeControl, ModeMeasure, ModeVent}

// String 返回模式名
func (m Mode) String() string {
	return string(m)
}

// Valid 检查模式是否受设备支持
func (m Mode) Valid() bool {
	switch m {
	case ModeControl, ModeMeasure, ModeVent:
		return true
	}
	return false
}

// ParseMode 解析模式名（状态机回读时忽略首尾空白）
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.TrimSpace(s))
	if !m.Valid() {
		return "", errors.Newf(errors.ErrModeInvalid, "无效的工作模式: %q", s)
	}
	return m, nil
}

// faultDescriptions 设备故障码及其含义
var faultDescriptions = map[string]string{
	"CER":          "Communication Error",
	"PER":          "Parameter Error",
	"VER":          "Value Error",
	"TER":          "Timeout",
	"FER":          "Format Error",
	"SER":          "Command Error",
	"ErrUnknCmd":   "Unknown Command",
	"ErrFunction":  "Error Function",
	"ErrParameter": "Parameter Error",
}

// IsFaultToken 判断应答是否为设备故障码
func IsFaultToken(s string) bool {
	_, ok := faultDescriptions[strings.TrimSpace(s)]
	return ok
}

// FaultDescription 返回故障码的说明文本，未知返回空串
func FaultDescription(token string) string {
	return faultDescriptions[strings.TrimSpace(token)]
}

// newFaultError 构造设备故障错误，保留原始故障码
func newFaultError(token string) *errors.AppError {
	token = strings.TrimSpace(token)
	return errors.Newf(errors.ErrDeviceFault, "设备返回故障码: %s", token).
		WithDetails(FaultDescription(token))
}

// parsePressure 解析压力应答，兼容逗号小数点（部分固件地区设置）
func parsePressure(line string) (float64, error) {
	s := strings.TrimSpace(strings.ReplaceAll(line, ",", "."))
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errors.Newf(errors.ErrInvalidResponse, "无法解析压力应答: %q", line)
	}
	return v, nil
}

// parseStatus 解析状态应答，base为10（十进制）或2（二进制形式）
func parseStatus(line string, base int) (Status, error) {
	s := strings.TrimSpace(line)
	v, err := strconv.ParseInt(s, base, 64)
	if err != nil || v < 0 || v > 255 {
		return 0, errors.Newf(errors.ErrInvalidResponse, "无法解析状态应答: %q", line)
	}
	return Status(v), nil
}

// formatSetpoint 格式化设定压力值（不带多余的零）
func formatSetpoint(bar float64) string {
	return strconv.FormatFloat(bar, 'f', -1, 64)
}
