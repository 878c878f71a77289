package repository

import (
	"context"
	"fmt"

	"github.com/wfunc/dpc3000/internal/models"
	"gorm.io/gorm"
)

// TransactionManager 事务管理器接口
type TransactionManager interface {
	// Begin 开始事务，调用方负责Commit或Rollback
	Begin(ctx context.Context) (*Transaction, error)
	// WithTransaction 在事务中执行fn，出错自动回滚
	WithTransaction(ctx context.Context, fn func(tx *Transaction) error) error
}

// Transaction 事务包装器，按需提供绑定事务的各仓储
type Transaction struct {
	tx         *gorm.DB
	ctx        context.Context
	committed  bool
	rolledback bool

	commandLog   *CommandLogRepository
	deviceState  DeviceStateRepository
	operator     OperatorRepository
	systemConfig SystemConfigRepository
}

type txManager struct {
	db *gorm.DB
}

// NewTransactionManager 创建事务管理器
func NewTransactionManager(db *gorm.DB) TransactionManager {
	return &txManager{db: db}
}

// Begin 开始事务
func (m *txManager) Begin(ctx context.Context) (*Transaction, error) {
	tx := m.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	return &Transaction{tx: tx, ctx: ctx}, nil
}

// WithTransaction 在事务中执行fn，fn返回错误时回滚，否则提交
func (m *txManager) WithTransaction(ctx context.Context, fn func(tx *Transaction) error) error {
	tx, err := m.Begin(ctx)
	if err != nil {
		return err
	}

	// fn内panic时保证回滚
	defer func() {
		if !tx.committed && !tx.rolledback {
			tx.Rollback()
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

// Commit 提交事务，重复提交或已回滚时返回错误
func (t *Transaction) Commit() error {
	if t.committed {
		return fmt.Errorf("事务已提交")
	}
	if t.rolledback {
		return fmt.Errorf("事务已回滚")
	}

	if err := t.tx.Commit().Error; err != nil {
		return err
	}
	t.committed = true
	return nil
}

// Rollback 回滚事务
func (t *Transaction) Rollback() error {
	if t.committed {
		return fmt.Errorf("事务已提交，无法回滚")
	}
	if t.rolledback {
		return fmt.Errorf("事务已回滚")
	}

	if err := t.tx.Rollback().Error; err != nil {
		return err
	}
	t.rolledback = true
	return nil
}

// GetDB 获取事务中的数据库实例
func (t *Transaction) GetDB() *gorm.DB {
	return t.tx
}

// CommandLog 获取事务中的命令日志仓储
func (t *Transaction) CommandLog() *CommandLogRepository {
	if t.commandLog == nil {
		t.commandLog = &CommandLogRepository{db: t.tx}
	}
	return t.commandLog
}

// DeviceState 获取事务中的设备状态仓储
func (t *Transaction) DeviceState() DeviceStateRepository {
	if t.deviceState == nil {
		t.deviceState = &deviceStateRepo{
			BaseRepo: &BaseRepo{db: t.tx},
		}
	}
	return t.deviceState
}

// Operator 获取事务中的操作员仓储
func (t *Transaction) Operator() OperatorRepository {
	if t.operator == nil {
		t.operator = &operatorRepo{
			BaseRepo: &BaseRepo{db: t.tx},
		}
	}
	return t.operator
}

// SystemConfig 获取事务中的系统配置仓储。
// 使用独立缓存，避免未提交的数据进入全局缓存。
func (t *Transaction) SystemConfig() SystemConfigRepository {
	if t.systemConfig == nil {
		t.systemConfig = &systemConfigRepo{
			BaseRepo: &BaseRepo{db: t.tx},
			cache:    make(map[string]*models.SystemConfig),
		}
	}
	return t.systemConfig
}
