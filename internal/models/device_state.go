package models

import (
	"time"
)

// DeviceState 设备状态表，每台控制器一行（按DeviceID更新插入）
type DeviceState struct {
	BaseModel
	DeviceID   string     `gorm:"uniqueIndex;size:100;not null" json:"device_id"`
	Port       string     `gorm:"size:100" json:"port"`                   // 串口路径 (如 /dev/ttyUSB0)
	BaudRate   int        `gorm:"default:9600" json:"baud_rate"`          // 波特率
	Firmware   string     `gorm:"size:255" json:"firmware"`               // @check 返回的识别信息
	Connected  bool       `gorm:"default:false" json:"connected"`         // 串口是否打开
	Mode       string     `gorm:"size:20" json:"mode"`                    // 最近一次读取的模式
	Pressure   float64    `gorm:"type:decimal(10,4)" json:"pressure"`     // 最近一次读取的压力 (bar)
	Setpoint   float64    `gorm:"type:decimal(10,4)" json:"setpoint"`     // 最近一次下发的目标压力 (bar)
	StatusBits int        `gorm:"default:0" json:"status_bits"`           // 最近一次读取的状态字节
	ErrorCount int64      `gorm:"default:0" json:"error_count"`           // 累计错误次数
	LastError  string     `gorm:"size:500" json:"last_error"`             // 最近一次错误信息
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`                 // 最近一次成功通信时间
}

// TableName 指定表名
func (DeviceState) TableName() string {
	return "device_states"
}

// IsOnline 检查设备是否在线（已连接且60秒内有通信）
func (d *DeviceState) IsOnline() bool {
	if !d.Connected || d.LastSeenAt == nil {
		return false
	}
	return time.Since(*d.LastSeenAt) < 60*time.Second
}

// Touch 更新最近通信时间
func (d *DeviceState) Touch() {
	now := time.Now()
	d.LastSeenAt = &now
}
