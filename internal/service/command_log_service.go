package service

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wfunc/dpc3000/internal/device"
	"github.com/wfunc/dpc3000/internal/errors"
	"github.com/wfunc/dpc3000/internal/logger"
	"github.com/wfunc/dpc3000/internal/models"
	"github.com/wfunc/dpc3000/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CommandLogService 命令审计日志服务
type CommandLogService struct {
	repo      *repository.CommandLogRepository
	logger    *zap.Logger
	mu        sync.Mutex
	buffer    []*models.CommandLog
	bufferCh  chan *models.CommandLog
	stopCh    chan struct{}
	sessionID string
}

// NewCommandLogService 创建命令日志服务
func NewCommandLogService(db *gorm.DB) *CommandLogService {
	service := &CommandLogService{
		repo:      repository.NewCommandLogRepository(db),
		logger:    logger.GetLogger(),
		buffer:    make([]*models.CommandLog, 0, 100),
		bufferCh:  make(chan *models.CommandLog, 1000),
		stopCh:    make(chan struct{}),
		sessionID: uuid.New().String(),
	}

	// 启动后台写入协程
	go service.backgroundWriter()

	return service
}

// SessionID 返回本次服务运行的会话ID
func (s *CommandLogService) SessionID() string {
	return s.sessionID
}

// backgroundWriter 后台写入协程
func (s *CommandLogService) backgroundWriter() {
	ticker := time.NewTicker(5 * time.Second) // 每5秒批量写入一次
	defer ticker.Stop()

	for {
		select {
		case log := <-s.bufferCh:
			s.mu.Lock()
			s.buffer = append(s.buffer, log)
			// 如果缓冲区满了，立即写入
			if len(s.buffer) >= 100 {
				s.flushBuffer()
			}
			s.mu.Unlock()

		case <-ticker.C:
			s.mu.Lock()
			s.flushBuffer()
			s.mu.Unlock()

		case <-s.stopCh:
			// 退出前排空通道并写入剩余的日志
			for {
				select {
				case log := <-s.bufferCh:
					s.mu.Lock()
					s.buffer = append(s.buffer, log)
					s.mu.Unlock()
					continue
				default:
				}
				break
			}
			s.mu.Lock()
			s.flushBuffer()
			s.mu.Unlock()
			return
		}
	}
}

// flushBuffer 写入缓冲区的日志到数据库
func (s *CommandLogService) flushBuffer() {
	if len(s.buffer) == 0 {
		return
	}

	if err := s.repo.CreateBatch(context.Background(), s.buffer); err != nil {
		s.logger.Error("批量写入命令日志失败", zap.Error(err))
	} else {
		s.logger.Debug("批量写入命令日志成功", zap.Int("count", len(s.buffer)))
	}

	// 清空缓冲区
	s.buffer = s.buffer[:0]
}

// RecordExchange 记录一次设备命令交互。在客户端观察者钩子中调用，
// 缓冲区满时丢弃并告警，不阻塞命令路径。
func (s *CommandLogService) RecordExchange(ex *device.Exchange, source models.CommandSource, operator, requestID string) {
	if ex == nil {
		return
	}
	if requestID == "" {
		requestID = uuid.New().String()
	}

	log := &models.CommandLog{
		RequestID:  requestID,
		SessionID:  s.sessionID,
		Source:     source,
		Command:    ex.Command,
		Request:    strings.TrimRight(ex.Request, "\r"),
		Response:   ex.Response,
		FaultToken: ex.Fault,
		Success:    ex.Err == nil,
		Duration:   ex.Duration.Milliseconds(),
		Operator:   operator,
		CreatedAt:  ex.At,
		Timestamp:  ex.At.UnixMilli(),
	}

	if ex.Err != nil {
		log.ErrorCode = int(errors.GetCode(ex.Err))
		log.ErrorMsg = ex.Err.Error()
	}

	// 提取应答中的解析结果
	s.parseExchange(log, ex)

	// 异步写入
	select {
	case s.bufferCh <- log:
	default:
		s.logger.Warn("命令日志缓冲区满，丢弃日志")
	}
}

// parseExchange 按命令类型从应答中提取压力/模式/状态
func (s *CommandLogService) parseExchange(log *models.CommandLog, ex *device.Exchange) {
	if ex.Err != nil || ex.Response == "" {
		return
	}

	switch ex.Command {
	case "read_press":
		raw := strings.TrimSpace(strings.ReplaceAll(ex.Response, ",", "."))
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			log.Pressure = &v
		}
	case "read_mode":
		log.Mode = strings.TrimSpace(ex.Response)
	case "set_mode":
		// 请求形如 @SetMode:Control，目标模式在冒号之后
		if i := strings.Index(log.Request, ":"); i >= 0 {
			log.Mode = log.Request[i+1:]
		}
	case "read_status":
		if v, err := strconv.ParseInt(strings.TrimSpace(ex.Response), 10, 32); err == nil {
			log.StatusBits = int(v)
		}
	case "read_status_bin":
		if v, err := strconv.ParseInt(strings.TrimSpace(ex.Response), 2, 32); err == nil {
			log.StatusBits = int(v)
		}
	}
}

// Record 直接记录一条命令日志（不经过设备交互的事件，如连接失败）
func (s *CommandLogService) Record(log *models.CommandLog) {
	if log == nil {
		return
	}
	if log.SessionID == "" {
		log.SessionID = s.sessionID
	}
	if log.RequestID == "" {
		log.RequestID = uuid.New().String()
	}

	select {
	case s.bufferCh <- log:
	default:
		s.logger.Warn("命令日志缓冲区满，丢弃日志")
	}
}

// Flush 立即写入缓冲区中的日志（测试和关停路径使用）
func (s *CommandLogService) Flush() {
	// 先排空通道再落库
	for {
		select {
		case log := <-s.bufferCh:
			s.mu.Lock()
			s.buffer = append(s.buffer, log)
			s.mu.Unlock()
			continue
		default:
		}
		break
	}
	s.mu.Lock()
	s.flushBuffer()
	s.mu.Unlock()
}

// Query 查询日志
func (s *CommandLogService) Query(ctx context.Context, query *models.CommandLogQuery) ([]*models.CommandLog, int64, error) {
	return s.repo.Query(ctx, query)
}

// GetByID 根据ID获取单条日志
func (s *CommandLogService) GetByID(ctx context.Context, id uint) (*models.CommandLog, error) {
	return s.repo.GetByID(ctx, id)
}

// GetStats 获取统计信息
func (s *CommandLogService) GetStats(ctx context.Context, startTime, endTime *time.Time) (*models.CommandLogStats, error) {
	return s.repo.GetStats(ctx, startTime, endTime)
}

// GetLatestLogs 获取最新的日志
func (s *CommandLogService) GetLatestLogs(ctx context.Context, limit int, source models.CommandSource) ([]*models.CommandLog, error) {
	return s.repo.GetLatest(ctx, limit, source)
}

// GetErrorLogs 获取错误日志
func (s *CommandLogService) GetErrorLogs(ctx context.Context, limit int) ([]*models.CommandLog, error) {
	return s.repo.GetErrorLogs(ctx, limit)
}

// CleanupOldLogs 清理旧日志
func (s *CommandLogService) CleanupOldLogs(ctx context.Context, retentionDays int) (int64, error) {
	return s.repo.CleanupLogs(ctx, retentionDays)
}

// ExportLogs 导出日志为JSON格式
func (s *CommandLogService) ExportLogs(ctx context.Context, query *models.CommandLogQuery) ([]byte, error) {
	logs, _, err := s.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(logs, "", "  ")
}

// GenerateRequestID 生成请求ID
func (s *CommandLogService) GenerateRequestID() string {
	return uuid.New().String()
}

// StartRetentionLoop 启动周期清理，按保留天数删除过期日志
func (s *CommandLogService) StartRetentionLoop(retentionDays int, interval time.Duration) {
	if retentionDays <= 0 {
		return
	}
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				deleted, err := s.CleanupOldLogs(context.Background(), retentionDays)
				if err != nil {
					s.logger.Error("清理过期命令日志失败", zap.Error(err))
				} else if deleted > 0 {
					s.logger.Info("清理过期命令日志完成",
						zap.Int64("deleted", deleted),
						zap.Int("retention_days", retentionDays))
				}
			case <-s.stopCh:
				return
			}
		}
	}()
}

// Close 关闭服务
func (s *CommandLogService) Close() {
	close(s.stopCh)
	// 等待一段时间确保数据写入完成
	time.Sleep(1 * time.Second)
}
