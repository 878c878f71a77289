package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/wfunc/dpc3000/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SystemConfigRepository 系统配置仓储接口
type SystemConfigRepository interface {
	BaseRepository
	Get(ctx context.Context, key string) (*models.SystemConfig, error)
	GetString(ctx context.Context, key string, defaultValue string) string
	GetInt(ctx context.Context, key string, defaultValue int) int
	GetFloat(ctx context.Context, key string, defaultValue float64) float64
	GetBool(ctx context.Context, key string, defaultValue bool) bool
	GetJSON(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, description string) error
	SetBatch(ctx context.Context, configs map[string]interface{}) error
	Update(ctx context.Context, key string, value interface{}) error
	Delete(ctx context.Context, key string) error
	GetAll(ctx context.Context) ([]*models.SystemConfig, error)
	GetByGroup(ctx context.Context, group string) ([]*models.SystemConfig, error)
	GetPublic(ctx context.Context) ([]*models.SystemConfig, error)
	RefreshCache(ctx context.Context) error
}

// systemConfigRepo 带读穿缓存的系统配置仓储
type systemConfigRepo struct {
	*BaseRepo
	cache map[string]*models.SystemConfig
}

// NewSystemConfigRepository 创建系统配置仓储并预热缓存
func NewSystemConfigRepository(db *gorm.DB) SystemConfigRepository {
	repo := &systemConfigRepo{
		BaseRepo: NewBaseRepo(db),
		cache:    make(map[string]*models.SystemConfig),
	}
	repo.RefreshCache(context.Background())
	return repo
}

// Get 读取配置，缓存未命中时查库并回填
func (r *systemConfigRepo) Get(ctx context.Context, key string) (*models.SystemConfig, error) {
	if config, ok := r.cache[key]; ok {
		return config, nil
	}

	var config models.SystemConfig
	err := r.db.WithContext(ctx).
		Where("`key` = ?", key).
		First(&config).Error
	if err != nil {
		return nil, err
	}

	r.cache[key] = &config
	return &config, nil
}

// GetString 读取字符串配置，缺失时返回默认值
func (r *systemConfigRepo) GetString(ctx context.Context, key string, defaultValue string) string {
	config, err := r.Get(ctx, key)
	if err != nil || config == nil {
		return defaultValue
	}
	return config.Value
}

// GetInt 读取整数配置，缺失或无法解析时返回默认值
func (r *systemConfigRepo) GetInt(ctx context.Context, key string, defaultValue int) int {
	config, err := r.Get(ctx, key)
	if err != nil || config == nil {
		return defaultValue
	}
	if val, err := strconv.Atoi(config.Value); err == nil {
		return val
	}
	return defaultValue
}

// GetFloat 读取浮点配置，缺失或无法解析时返回默认值
func (r *systemConfigRepo) GetFloat(ctx context.Context, key string, defaultValue float64) float64 {
	config, err := r.Get(ctx, key)
	if err != nil || config == nil {
		return defaultValue
	}
	if val, err := strconv.ParseFloat(config.Value, 64); err == nil {
		return val
	}
	return defaultValue
}

// GetBool 读取布尔配置，缺失或无法解析时返回默认值
func (r *systemConfigRepo) GetBool(ctx context.Context, key string, defaultValue bool) bool {
	config, err := r.Get(ctx, key)
	if err != nil || config == nil {
		return defaultValue
	}
	if val, err := strconv.ParseBool(config.Value); err == nil {
		return val
	}
	return defaultValue
}

// GetJSON 读取JSON配置并反序列化到dest
func (r *systemConfigRepo) GetJSON(ctx context.Context, key string, dest interface{}) error {
	config, err := r.Get(ctx, key)
	if err != nil {
		return err
	}
	if config == nil {
		return fmt.Errorf("配置项不存在: %s", key)
	}
	return json.Unmarshal([]byte(config.Value), dest)
}

// encodeConfigValue 把任意值编码为存储字符串并推断类型标记
func encodeConfigValue(value interface{}) (string, string, error) {
	switch v := value.(type) {
	case string:
		return v, "string", nil
	case int, int32, int64:
		return fmt.Sprintf("%d", v), "int", nil
	case float32, float64:
		return fmt.Sprintf("%f", v), "float", nil
	case bool:
		return strconv.FormatBool(v), "bool", nil
	default:
		bytes, err := json.Marshal(value)
		if err != nil {
			return "", "", err
		}
		return string(bytes), "json", nil
	}
}

// Set 写入配置，已存在时更新值、类型和描述
func (r *systemConfigRepo) Set(ctx context.Context, key string, value interface{}, description string) error {
	strValue, configType, err := encodeConfigValue(value)
	if err != nil {
		return err
	}

	config := &models.SystemConfig{
		Key:         key,
		Value:       strValue,
		Type:        configType,
		Description: description,
		IsPublic:    false,
	}

	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "type", "description", "updated_at"}),
		}).
		Create(config).Error
	if err != nil {
		return err
	}

	r.cache[key] = config
	return nil
}

// SetBatch 在一个事务里写入多项配置
func (r *systemConfigRepo) SetBatch(ctx context.Context, configs map[string]interface{}) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txRepo := &systemConfigRepo{
			BaseRepo: &BaseRepo{db: tx},
			cache:    r.cache,
		}
		for key, value := range configs {
			if err := txRepo.Set(ctx, key, value, ""); err != nil {
				return err
			}
		}
		return nil
	})
}

// Update 只更新配置值，类型和描述保持不变
func (r *systemConfigRepo) Update(ctx context.Context, key string, value interface{}) error {
	strValue, _, err := encodeConfigValue(value)
	if err != nil {
		return err
	}

	err = r.db.WithContext(ctx).
		Model(&models.SystemConfig{}).
		Where("`key` = ?", key).
		Update("value", strValue).Error
	if err != nil {
		return err
	}

	if config, ok := r.cache[key]; ok {
		config.Value = strValue
	}
	return nil
}

// Delete 删除配置并清除缓存
func (r *systemConfigRepo) Delete(ctx context.Context, key string) error {
	err := r.db.WithContext(ctx).
		Where("`key` = ?", key).
		Delete(&models.SystemConfig{}).Error
	if err != nil {
		return err
	}

	delete(r.cache, key)
	return nil
}

// GetAll 返回全部配置，按组和键排序
func (r *systemConfigRepo) GetAll(ctx context.Context) ([]*models.SystemConfig, error) {
	var configs []*models.SystemConfig
	err := r.db.WithContext(ctx).
		Order("`group`, `key`").
		Find(&configs).Error
	return configs, err
}

// GetByGroup 返回指定分组的配置
func (r *systemConfigRepo) GetByGroup(ctx context.Context, group string) ([]*models.SystemConfig, error) {
	var configs []*models.SystemConfig
	err := r.db.WithContext(ctx).
		Where("`group` = ?", group).
		Order("`key`").
		Find(&configs).Error
	return configs, err
}

// GetPublic 返回可对外暴露的配置
func (r *systemConfigRepo) GetPublic(ctx context.Context) ([]*models.SystemConfig, error) {
	var configs []*models.SystemConfig
	err := r.db.WithContext(ctx).
		Where("is_public = ?", true).
		Order("`group`, `key`").
		Find(&configs).Error
	return configs, err
}

// RefreshCache 全量重建缓存
func (r *systemConfigRepo) RefreshCache(ctx context.Context) error {
	configs, err := r.GetAll(ctx)
	if err != nil {
		return err
	}

	r.cache = make(map[string]*models.SystemConfig, len(configs))
	for _, config := range configs {
		r.cache[config.Key] = config
	}
	return nil
}

// WithTx 返回绑定事务的仓储，缓存与原仓储共享
func (r *systemConfigRepo) WithTx(tx *gorm.DB) BaseRepository {
	return &systemConfigRepo{
		BaseRepo: &BaseRepo{db: tx},
		cache:    r.cache,
	}
}

// ConfigHelper 把零散配置项组装成结构化的服务配置
type ConfigHelper struct {
	repo SystemConfigRepository
}

// NewConfigHelper 创建配置辅助器
func NewConfigHelper(repo SystemConfigRepository) *ConfigHelper {
	return &ConfigHelper{repo: repo}
}

// GetServiceConfig 获取服务运行配置
func (h *ConfigHelper) GetServiceConfig(ctx context.Context) (*ServiceConfig, error) {
	config := &ServiceConfig{}

	// 日志保留配置
	config.Log.RetentionDays = h.repo.GetInt(ctx, "log.retention_days", 30)
	config.Log.ExportLimit = h.repo.GetInt(ctx, "log.export_limit", 10000)

	// 监控采样配置
	config.Monitor.Enabled = h.repo.GetBool(ctx, "monitor.enabled", true)
	config.Monitor.SampleInterval = h.repo.GetInt(ctx, "monitor.sample_interval_ms", 1000)

	// 设备安全限制
	config.Device.MaxSetpoint = h.repo.GetFloat(ctx, "device.max_setpoint", 10.0)
	config.Device.MaxPulseSteps = h.repo.GetInt(ctx, "device.max_pulse_steps", 50)

	return config, nil
}

// ServiceConfig 服务运行配置结构
type ServiceConfig struct {
	Log     LogRetentionConfig `json:"log"`
	Monitor MonitorConfig      `json:"monitor"`
	Device  DeviceLimitConfig  `json:"device"`
}

// LogRetentionConfig 日志保留配置
type LogRetentionConfig struct {
	RetentionDays int `json:"retention_days"`
	ExportLimit   int `json:"export_limit"`
}

// MonitorConfig 监控采样配置
type MonitorConfig struct {
	Enabled        bool `json:"enabled"`
	SampleInterval int  `json:"sample_interval_ms"`
}

// DeviceLimitConfig 设备安全限制
type DeviceLimitConfig struct {
	MaxSetpoint   float64 `json:"max_setpoint"`
	MaxPulseSteps int     `json:"max_pulse_steps"`
}
