package repository

import (
	"context"
	"sync"

	"gorm.io/gorm"
)

// Manager 仓储管理器，提供所有仓储的统一访问入口
type Manager struct {
	db *gorm.DB

	txManager TransactionManager

	// 仓储实例懒加载，系统配置仓储的缓存预热只在首次访问时发生
	commandLogOnce sync.Once
	commandLog     *CommandLogRepository

	deviceStateOnce sync.Once
	deviceState     DeviceStateRepository

	operatorOnce sync.Once
	operator     OperatorRepository

	systemConfigOnce sync.Once
	systemConfig     SystemConfigRepository
}

// NewManager 创建仓储管理器
func NewManager(db *gorm.DB) *Manager {
	return &Manager{
		db:        db,
		txManager: NewTransactionManager(db),
	}
}

// GetDB 获取数据库实例
func (m *Manager) GetDB() *gorm.DB {
	return m.db
}

// Transaction 获取事务管理器
func (m *Manager) Transaction() TransactionManager {
	return m.txManager
}

// CommandLog 获取命令日志仓储
func (m *Manager) CommandLog() *CommandLogRepository {
	m.commandLogOnce.Do(func() {
		m.commandLog = NewCommandLogRepository(m.db)
	})
	return m.commandLog
}

// DeviceState 获取设备状态仓储
func (m *Manager) DeviceState() DeviceStateRepository {
	m.deviceStateOnce.Do(func() {
		m.deviceState = NewDeviceStateRepository(m.db)
	})
	return m.deviceState
}

// Operator 获取操作员仓储
func (m *Manager) Operator() OperatorRepository {
	m.operatorOnce.Do(func() {
		m.operator = NewOperatorRepository(m.db)
	})
	return m.operator
}

// SystemConfig 获取系统配置仓储
func (m *Manager) SystemConfig() SystemConfigRepository {
	m.systemConfigOnce.Do(func() {
		m.systemConfig = NewSystemConfigRepository(m.db)
	})
	return m.systemConfig
}

// WithTransaction 在事务中执行操作
func (m *Manager) WithTransaction(ctx context.Context, fn func(tx *Transaction) error) error {
	return m.txManager.WithTransaction(ctx, fn)
}
