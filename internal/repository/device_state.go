package repository

import (
	"context"
	"time"

	"github.com/wfunc/dpc3000/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DeviceStateRepository 设备状态仓储接口
type DeviceStateRepository interface {
	BaseRepository
	Register(ctx context.Context, state *models.DeviceState) error
	Update(ctx context.Context, state *models.DeviceState) error
	UpdateConnection(ctx context.Context, deviceID string, connected bool) error
	UpdateSnapshot(ctx context.Context, deviceID string, pressure float64, mode string, statusBits int) error
	UpdateSetpoint(ctx context.Context, deviceID string, setpoint float64) error
	UpdateFirmware(ctx context.Context, deviceID string, firmware string) error
	RecordError(ctx context.Context, deviceID string, errMsg string) error
	Touch(ctx context.Context, deviceID string) error
	FindByDeviceID(ctx context.Context, deviceID string) (*models.DeviceState, error)
	GetFirst(ctx context.Context) (*models.DeviceState, error)
}

// deviceStateRepo 设备状态仓储实现
type deviceStateRepo struct {
	*BaseRepo
}

// NewDeviceStateRepository 创建设备状态仓储
func NewDeviceStateRepository(db *gorm.DB) DeviceStateRepository {
	return &deviceStateRepo{
		BaseRepo: NewBaseRepo(db),
	}
}

// Register 注册设备（按DeviceID更新插入）
func (r *deviceStateRepo) Register(ctx context.Context, state *models.DeviceState) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "device_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"port", "baud_rate", "connected", "updated_at",
			}),
		}).
		Create(state).Error
}

// Update 保存设备状态
func (r *deviceStateRepo) Update(ctx context.Context, state *models.DeviceState) error {
	return r.db.WithContext(ctx).Save(state).Error
}

// UpdateConnection 更新连接状态
func (r *deviceStateRepo) UpdateConnection(ctx context.Context, deviceID string, connected bool) error {
	updates := map[string]interface{}{
		"connected": connected,
	}
	if connected {
		updates["last_seen_at"] = time.Now()
	}
	return r.db.WithContext(ctx).
		Model(&models.DeviceState{}).
		Where("device_id = ?", deviceID).
		Updates(updates).Error
}

// UpdateSnapshot 更新压力/模式/状态快照
func (r *deviceStateRepo) UpdateSnapshot(ctx context.Context, deviceID string, pressure float64, mode string, statusBits int) error {
	updates := map[string]interface{}{
		"pressure":     pressure,
		"status_bits":  statusBits,
		"last_seen_at": time.Now(),
	}
	if mode != "" {
		updates["mode"] = mode
	}
	return r.db.WithContext(ctx).
		Model(&models.DeviceState{}).
		Where("device_id = ?", deviceID).
		Updates(updates).Error
}

// UpdateSetpoint 更新目标压力
func (r *deviceStateRepo) UpdateSetpoint(ctx context.Context, deviceID string, setpoint float64) error {
	return r.db.WithContext(ctx).
		Model(&models.DeviceState{}).
		Where("device_id = ?", deviceID).
		Updates(map[string]interface{}{
			"setpoint":     setpoint,
			"last_seen_at": time.Now(),
		}).Error
}

// UpdateFirmware 更新识别信息（@check 返回值）
func (r *deviceStateRepo) UpdateFirmware(ctx context.Context, deviceID string, firmware string) error {
	return r.db.WithContext(ctx).
		Model(&models.DeviceState{}).
		Where("device_id = ?", deviceID).
		Updates(map[string]interface{}{
			"firmware":     firmware,
			"last_seen_at": time.Now(),
		}).Error
}

// RecordError 记录错误并累加错误计数
func (r *deviceStateRepo) RecordError(ctx context.Context, deviceID string, errMsg string) error {
	return r.db.WithContext(ctx).
		Model(&models.DeviceState{}).
		Where("device_id = ?", deviceID).
		Updates(map[string]interface{}{
			"last_error":  errMsg,
			"error_count": gorm.Expr("error_count + 1"),
		}).Error
}

// Touch 更新最近通信时间
func (r *deviceStateRepo) Touch(ctx context.Context, deviceID string) error {
	return r.db.WithContext(ctx).
		Model(&models.DeviceState{}).
		Where("device_id = ?", deviceID).
		Update("last_seen_at", time.Now()).Error
}

// FindByDeviceID 根据设备ID查找
func (r *deviceStateRepo) FindByDeviceID(ctx context.Context, deviceID string) (*models.DeviceState, error) {
	var state models.DeviceState
	err := r.db.WithContext(ctx).
		Where("device_id = ?", deviceID).
		First(&state).Error
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// GetFirst 获取第一台设备（单机部署时即唯一设备）
func (r *deviceStateRepo) GetFirst(ctx context.Context) (*models.DeviceState, error) {
	var state models.DeviceState
	err := r.db.WithContext(ctx).
		Order("id ASC").
		First(&state).Error
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// WithTx 使用事务
func (r *deviceStateRepo) WithTx(tx *gorm.DB) BaseRepository {
	return &deviceStateRepo{
		BaseRepo: &BaseRepo{db: tx},
	}
}
