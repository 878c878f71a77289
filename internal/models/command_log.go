package models

import (
	"time"

	"gorm.io/gorm"
)

// CommandSource 命令来源
type CommandSource string

const (
	CommandSourceAPI     CommandSource = "API"     // REST接口下发
	CommandSourceMonitor CommandSource = "MONITOR" // 监控采样器下发
	CommandSourceCLI     CommandSource = "CLI"     // dpcctl命令行下发
	CommandSourceSystem  CommandSource = "SYSTEM"  // 服务内部下发（连接检查等）
)

// CommandLogLevel 日志级别
type CommandLogLevel string

const (
	CommandLogLevelInfo  CommandLogLevel = "INFO"
	CommandLogLevelDebug CommandLogLevel = "DEBUG"
	CommandLogLevelWarn  CommandLogLevel = "WARN"
	CommandLogLevelError CommandLogLevel = "ERROR"
)

// CommandLog 设备命令审计日志，每次串口往返一条记录
type CommandLog struct {
	ID        uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatedAt time.Time      `gorm:"index;not null" json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	// 基础信息
	RequestID string          `gorm:"type:varchar(100);index" json:"request_id,omitempty"` // 请求ID（单次往返）
	SessionID string          `gorm:"type:varchar(100);index" json:"session_id,omitempty"` // 会话ID（服务进程一次运行）
	Source    CommandSource   `gorm:"type:varchar(20);index;not null" json:"source"`       // 命令来源 (API/MONITOR/CLI/SYSTEM)
	Level     CommandLogLevel `gorm:"type:varchar(10);default:INFO" json:"level"`          // 日志级别

	// 命令相关
	Command  string `gorm:"type:varchar(100);index" json:"command"`     // 命令名称 (如 "ReadPress", "SetMode")
	Request  string `gorm:"type:varchar(255)" json:"request,omitempty"` // 请求原文 (如 "@ReadPress:bar")
	Response string `gorm:"type:text" json:"response,omitempty"`        // 响应原文

	// 解析结果
	Pressure   *float64 `gorm:"type:decimal(10,4)" json:"pressure,omitempty"` // 解析出的压力值 (bar)
	Mode       string   `gorm:"type:varchar(20)" json:"mode,omitempty"`       // 解析出的运行模式
	StatusBits int      `gorm:"default:0" json:"status_bits,omitempty"`       // 解析出的状态字节

	// 结果与错误
	Success    bool   `gorm:"index" json:"success"`                          // 本次往返是否成功
	ErrorCode  int    `gorm:"index" json:"error_code,omitempty"`             // 错误码
	FaultToken string `gorm:"type:varchar(20)" json:"fault_token,omitempty"` // 设备故障代号 (如 SER)
	ErrorMsg   string `gorm:"type:text" json:"error_msg,omitempty"`          // 错误信息

	// 性能指标
	Duration  int64 `gorm:"default:0" json:"duration"` // 往返时长（毫秒）
	Timestamp int64 `gorm:"index" json:"timestamp"`    // Unix时间戳（毫秒）

	// 额外信息
	Operator string   `gorm:"type:varchar(50);index" json:"operator,omitempty"` // 发起命令的操作员
	Extra    JSONData `gorm:"type:json" json:"extra,omitempty"`                 // 附加数据
}

// TableName 指定表名
func (CommandLog) TableName() string {
	return "command_logs"
}

// BeforeCreate 创建前的钩子
func (c *CommandLog) BeforeCreate(tx *gorm.DB) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	if c.Timestamp == 0 {
		c.Timestamp = time.Now().UnixMilli()
	}
	if c.Level == "" {
		if c.Success {
			c.Level = CommandLogLevelInfo
		} else {
			c.Level = CommandLogLevelError
		}
	}
	return nil
}

// CommandLogQuery 查询参数
type CommandLogQuery struct {
	Source    CommandSource   `json:"source,omitempty"`
	Level     CommandLogLevel `json:"level,omitempty"`
	Command   string          `json:"command,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	Operator  string          `json:"operator,omitempty"`
	Success   *bool           `json:"success,omitempty"`
	HasFault  *bool           `json:"has_fault,omitempty"`
	StartTime *time.Time      `json:"start_time,omitempty"`
	EndTime   *time.Time      `json:"end_time,omitempty"`
	Limit     int             `json:"limit,omitempty"`
	Offset    int             `json:"offset,omitempty"`
	OrderBy   string          `json:"order_by,omitempty"`
}

// CommandLogStats 统计信息
type CommandLogStats struct {
	TotalCount    int64            `json:"total_count"`
	SuccessCount  int64            `json:"success_count"`
	ErrorCount    int64            `json:"error_count"`
	FaultCount    int64            `json:"fault_count"` // 设备故障代号数量
	AvgDuration   float64          `json:"avg_duration"`
	MaxDuration   int64            `json:"max_duration"`
	MinDuration   int64            `json:"min_duration"`
	CommandCounts map[string]int64 `json:"command_counts"` // 各命令的次数
}
