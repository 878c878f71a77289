package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/wfunc/dpc3000/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CommandLogRepository 命令审计日志仓库
type CommandLogRepository struct {
	db *gorm.DB
}

// NewCommandLogRepository 创建命令审计日志仓库
func NewCommandLogRepository(db *gorm.DB) *CommandLogRepository {
	return &CommandLogRepository{
		db: db,
	}
}

// Create 创建日志记录
func (r *CommandLogRepository) Create(ctx context.Context, log *models.CommandLog) error {
	return r.db.WithContext(ctx).Create(log).Error
}

// CreateBatch 批量创建日志记录
func (r *CommandLogRepository) CreateBatch(ctx context.Context, logs []*models.CommandLog) error {
	if len(logs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(logs, 100).Error
}

// GetByID 根据ID获取日志
func (r *CommandLogRepository) GetByID(ctx context.Context, id uint) (*models.CommandLog, error) {
	var log models.CommandLog
	err := r.db.WithContext(ctx).First(&log, id).Error
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// GetByRequestID 根据请求ID获取日志
func (r *CommandLogRepository) GetByRequestID(ctx context.Context, requestID string) (*models.CommandLog, error) {
	var log models.CommandLog
	err := r.db.WithContext(ctx).
		Where("request_id = ?", requestID).
		First(&log).Error
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// GetBySessionID 根据会话ID获取日志
func (r *CommandLogRepository) GetBySessionID(ctx context.Context, sessionID string) ([]*models.CommandLog, error) {
	var logs []*models.CommandLog
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Find(&logs).Error
	return logs, err
}

// Query 查询日志
func (r *CommandLogRepository) Query(ctx context.Context, query *models.CommandLogQuery) ([]*models.CommandLog, int64, error) {
	db := r.db.WithContext(ctx).Model(&models.CommandLog{})

	// 构建查询条件
	if query.Source != "" {
		db = db.Where("source = ?", query.Source)
	}
	if query.Level != "" {
		db = db.Where("level = ?", query.Level)
	}
	if query.Command != "" {
		db = db.Where("command LIKE ?", "%"+query.Command+"%")
	}
	if query.RequestID != "" {
		db = db.Where("request_id = ?", query.RequestID)
	}
	if query.SessionID != "" {
		db = db.Where("session_id = ?", query.SessionID)
	}
	if query.Operator != "" {
		db = db.Where("operator = ?", query.Operator)
	}
	if query.Success != nil {
		db = db.Where("success = ?", *query.Success)
	}
	if query.HasFault != nil && *query.HasFault {
		db = db.Where("fault_token IS NOT NULL AND fault_token != ''")
	}
	if query.StartTime != nil {
		db = db.Where("created_at >= ?", *query.StartTime)
	}
	if query.EndTime != nil {
		db = db.Where("created_at <= ?", *query.EndTime)
	}

	// 获取总数
	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	// 排序
	orderBy := query.OrderBy
	if orderBy == "" {
		orderBy = "created_at DESC"
	}
	db = db.Order(orderBy)

	// 分页
	if query.Limit > 0 {
		db = db.Limit(query.Limit)
	}
	if query.Offset > 0 {
		db = db.Offset(query.Offset)
	}

	// 查询数据
	var logs []*models.CommandLog
	if err := db.Find(&logs).Error; err != nil {
		return nil, 0, err
	}

	return logs, total, nil
}

// GetStats 获取统计信息
func (r *CommandLogRepository) GetStats(ctx context.Context, startTime, endTime *time.Time) (*models.CommandLogStats, error) {
	stats := &models.CommandLogStats{
		CommandCounts: make(map[string]int64),
	}

	// 时间范围过滤（每个子查询都套用）
	rangeScope := func(db *gorm.DB) *gorm.DB {
		if startTime != nil {
			db = db.Where("created_at >= ?", *startTime)
		}
		if endTime != nil {
			db = db.Where("created_at <= ?", *endTime)
		}
		return db
	}

	// 总数统计
	if err := rangeScope(r.db.WithContext(ctx).Model(&models.CommandLog{})).
		Count(&stats.TotalCount).Error; err != nil {
		return nil, err
	}

	// 成功/失败统计
	if err := rangeScope(r.db.WithContext(ctx).Model(&models.CommandLog{})).
		Where("success = ?", true).
		Count(&stats.SuccessCount).Error; err != nil {
		return nil, err
	}
	stats.ErrorCount = stats.TotalCount - stats.SuccessCount

	// 设备故障统计
	if err := rangeScope(r.db.WithContext(ctx).Model(&models.CommandLog{})).
		Where("fault_token IS NOT NULL AND fault_token != ''").
		Count(&stats.FaultCount).Error; err != nil {
		return nil, err
	}

	// 性能统计
	type DurationStats struct {
		AvgDuration float64
		MaxDuration int64
		MinDuration int64
	}
	var durationStats DurationStats
	if err := rangeScope(r.db.WithContext(ctx).Model(&models.CommandLog{})).
		Select("AVG(duration) as avg_duration, MAX(duration) as max_duration, MIN(duration) as min_duration").
		Where("duration > 0").
		Scan(&durationStats).Error; err != nil {
		return nil, err
	}
	stats.AvgDuration = durationStats.AvgDuration
	stats.MaxDuration = durationStats.MaxDuration
	stats.MinDuration = durationStats.MinDuration

	// 各命令次数统计
	type CommandCount struct {
		Command string
		Count   int64
	}
	var counts []CommandCount
	if err := rangeScope(r.db.WithContext(ctx).Model(&models.CommandLog{})).
		Select("command, COUNT(*) as count").
		Group("command").
		Scan(&counts).Error; err != nil {
		return nil, err
	}
	for _, c := range counts {
		stats.CommandCounts[c.Command] = c.Count
	}

	return stats, nil
}

// GetLatest 获取最新的日志记录
func (r *CommandLogRepository) GetLatest(ctx context.Context, limit int, source models.CommandSource) ([]*models.CommandLog, error) {
	var logs []*models.CommandLog
	db := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if source != "" {
		db = db.Where("source = ?", source)
	}
	err := db.Find(&logs).Error
	return logs, err
}

// GetErrorLogs 获取错误日志
func (r *CommandLogRepository) GetErrorLogs(ctx context.Context, limit int) ([]*models.CommandLog, error) {
	var logs []*models.CommandLog
	err := r.db.WithContext(ctx).
		Where("success = ?", false).
		Or("level = ?", models.CommandLogLevelError).
		Order("created_at DESC").
		Limit(limit).
		Find(&logs).Error
	return logs, err
}

// DeleteOldLogs 删除旧日志
func (r *CommandLogRepository) DeleteOldLogs(ctx context.Context, beforeTime time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("created_at < ?", beforeTime).
		Delete(&models.CommandLog{})
	return result.RowsAffected, result.Error
}

// CleanupLogs 清理日志（保留最近N天的数据）
func (r *CommandLogRepository) CleanupLogs(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, fmt.Errorf("retention days must be greater than 0")
	}
	beforeTime := time.Now().AddDate(0, 0, -retentionDays)
	return r.DeleteOldLogs(ctx, beforeTime)
}

// BulkInsertWithConflict 批量插入（忽略冲突）
func (r *CommandLogRepository) BulkInsertWithConflict(ctx context.Context, logs []*models.CommandLog) error {
	if len(logs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		DoNothing: true,
	}).CreateInBatches(logs, 100).Error
}
