package device

import (
	"fmt"
	"strings"
)

// Status 控制器状态机的状态字节
type Status int

// 状态位定义（可组合）
const (
	StatusInTolerance Status = 1   // 压力处于容差带内
	StatusFineDone    Status = 2   // 精调（PI控制）完成
	StatusCoarseDone  Status = 4   // 粗调完成
	StatusVentOpen    Status = 8   // 排气阀打开
	StatusOverload    Status = 16  // 控制器过载
	StatusZeroOffset  Status = 32  // 零点偏移补偿激活
	StatusTimeout     Status = 64  // 控制器超时
	StatusStopped     Status = 128 // 控制器处于停止状态
)

// statusDescriptions 状态位说明
var statusDescriptions = map[Status]string{
	StatusInTolerance: "Pressure is within the tolerance band",
	StatusFineDone:    "Fine control (PI control) completed",
	StatusCoarseDone:  "Coarse control completed",
	StatusVentOpen:    "Venting valve is open",
	StatusOverload:    "Controller is in overload state",
	StatusZeroOffset:  "Zero offset compensation is active",
	StatusTimeout:     "Controller timeout",
	StatusStopped:     "Controller is in stop state",
}

// Has 检查指定状态位是否置位
func (s Status) Has(flag Status) bool {
	return s&flag != 0
}

// Flags 返回所有置位状态位的说明
func (s Status) Flags() []string {
	var flags []string
	for bit := Status(1); bit <= StatusStopped; bit <<= 1 {
		if s.Has(bit) {
			flags = append(flags, statusDescriptions[bit])
		}
	}
	return flags
}

// String 格式化状态字节及其置位说明
func (s Status) String() string {
	flags := s.Flags()
	if len(flags) == 0 {
		return fmt.Sprintf("%d", int(s))
	}
	return fmt.Sprintf("%d [%s]", int(s), strings.Join(flags, "; "))
}
