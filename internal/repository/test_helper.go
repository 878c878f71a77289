package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/dpc3000/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SetupTestDB 为测试套件设置测试数据库
func SetupTestDB() *gorm.DB {
	// 使用内存数据库进行测试（更快，不需要文件系统，在所有环境中都能工作）
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		panic(err)
	}

	// 自动迁移所有模型
	err = db.AutoMigrate(
		// 操作员系统
		&models.Operator{},

		// 设备系统
		&models.DeviceState{},
		&models.CommandLog{},

		// 系统管理
		&models.SystemConfig{},
	)
	if err != nil {
		panic(err)
	}

	return db
}

// CleanupTestDB 清理测试数据库
func CleanupTestDB(db *gorm.DB) {
	// 关闭数据库连接
	sqlDB, _ := db.DB()
	if sqlDB != nil {
		sqlDB.Close()
	}
}

// TestDB 创建测试数据库
func TestDB(t *testing.T) *gorm.DB {
	db := SetupTestDB()
	t.Cleanup(func() {
		CleanupTestDB(db)
	})
	return db
}

// SeedTestData 创建测试数据
func SeedTestData(t *testing.T, db *gorm.DB) {
	// 创建测试操作员
	operators := []models.Operator{
		{
			Username: "admin",
			Password: "$argon2id$v=19$m=65536,t=3,p=2$dGVzdHNhbHQ$dGVzdGhhc2g",
			Nickname: "管理员",
			Role:     models.RoleAdmin,
			Status:   "active",
		},
		{
			Username: "bench1",
			Password: "$argon2id$v=19$m=65536,t=3,p=2$dGVzdHNhbHQ$dGVzdGhhc2g",
			Nickname: "测试台操作员1",
			Role:     models.RoleOperator,
			Status:   "active",
		},
	}
	err := db.Create(&operators).Error
	require.NoError(t, err)

	// 创建测试设备状态
	now := time.Now()
	state := models.DeviceState{
		DeviceID:   "dpc3000-test",
		Port:       "/dev/ttyUSB0",
		BaudRate:   9600,
		Firmware:   "DPC3000 TEST",
		Connected:  true,
		Mode:       "Measure",
		Pressure:   0.0,
		StatusBits: 1,
		LastSeenAt: &now,
	}
	err = db.Create(&state).Error
	require.NoError(t, err)

	// 创建测试系统配置
	configs := []models.SystemConfig{
		{
			Key:         "system_version",
			Value:       "1.0.0",
			Type:        "string",
			Group:       "system",
			Description: "系统版本",
			IsPublic:    true,
		},
		{
			Key:         "log.retention_days",
			Value:       "30",
			Type:        "int",
			Group:       "log",
			Description: "命令日志保留天数",
			IsPublic:    false,
		},
		{
			Key:         "device.max_setpoint",
			Value:       "10.0",
			Type:        "float",
			Group:       "device",
			Description: "目标压力上限 (bar)",
			IsPublic:    false,
		},
		{
			Key:         "monitor.enabled",
			Value:       "true",
			Type:        "bool",
			Group:       "monitor",
			Description: "是否启用监控采样",
			IsPublic:    true,
		},
	}
	err = db.Create(&configs).Error
	require.NoError(t, err)
}

// AssertCommandLog 验证命令日志
func AssertCommandLog(t *testing.T, expected, actual *models.CommandLog) {
	assert.Equal(t, expected.Command, actual.Command)
	assert.Equal(t, expected.Request, actual.Request)
	assert.Equal(t, expected.Response, actual.Response)
	assert.Equal(t, expected.Source, actual.Source)
	assert.Equal(t, expected.Success, actual.Success)
}

// AssertDeviceState 验证设备状态
func AssertDeviceState(t *testing.T, expected, actual *models.DeviceState) {
	assert.Equal(t, expected.DeviceID, actual.DeviceID)
	assert.Equal(t, expected.Port, actual.Port)
	assert.Equal(t, expected.Connected, actual.Connected)
	assert.Equal(t, expected.Mode, actual.Mode)
}

// AssertSystemConfig 验证系统配置
func AssertSystemConfig(t *testing.T, expected, actual *models.SystemConfig) {
	assert.Equal(t, expected.Key, actual.Key)
	assert.Equal(t, expected.Value, actual.Value)
	assert.Equal(t, expected.Type, actual.Type)
	assert.Equal(t, expected.Group, actual.Group)
}

// CreateTestCommandLog 创建测试命令日志
func CreateTestCommandLog(command, request, response string, success bool) *models.CommandLog {
	log := &models.CommandLog{
		RequestID: "req_" + time.Now().Format("20060102150405.000"),
		SessionID: "session_test",
		Source:    models.CommandSourceAPI,
		Command:   command,
		Request:   request,
		Response:  response,
		Success:   success,
		Duration:  12,
		Timestamp: time.Now().UnixMilli(),
	}
	if !success {
		log.Level = models.CommandLogLevelError
		log.ErrorMsg = "测试错误"
	}
	return log
}

// CreateTestDeviceState 创建测试设备状态
func CreateTestDeviceState(deviceID, port string, connected bool) *models.DeviceState {
	now := time.Now()
	return &models.DeviceState{
		DeviceID:   deviceID,
		Port:       port,
		BaudRate:   9600,
		Connected:  connected,
		Mode:       "Measure",
		LastSeenAt: &now,
	}
}

// CreateTestSystemConfig 创建测试系统配置
func CreateTestSystemConfig(key, value, configType, group string) *models.SystemConfig {
	return &models.SystemConfig{
		Key:         key,
		Value:       value,
		Type:        configType,
		Group:       group,
		Description: "测试配置: " + key,
		IsPublic:    false,
	}
}
