package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/dpc3000/internal/middleware"
	"github.com/wfunc/dpc3000/internal/models"
	"github.com/wfunc/dpc3000/internal/service"
	"gorm.io/gorm"
)

// CommandLogHandler 命令审计日志API
type CommandLogHandler struct {
	service *service.CommandLogService
}

// NewCommandLogHandler 创建命令审计日志API
func NewCommandLogHandler(service *service.CommandLogService) *CommandLogHandler {
	return &CommandLogHandler{
		service: service,
	}
}

// RegisterRoutes 注册路由。查询接口所有角色可用，清理需要管理员权限。
func (api *CommandLogHandler) RegisterRoutes(router *gin.RouterGroup, auth *middleware.AuthMiddleware) {
	logs := router.Group("/logs")
	logs.Use(auth.RequireAuth())
	{
		logs.GET("", api.QueryLogs)            // 查询日志列表
		logs.GET("/latest", api.GetLatestLogs) // 获取最新日志
		logs.GET("/stats", api.GetStats)       // 获取统计信息
		logs.GET("/errors", api.GetErrorLogs)  // 获取错误日志
		logs.GET("/export", api.ExportLogs)    // 导出日志
		logs.GET("/:id", api.GetLog)           // 单条日志详情

		logs.DELETE("", auth.RequireAdmin(), api.CleanupLogs) // 清理旧日志
	}
}

// QueryLogs 查询日志列表
func (api *CommandLogHandler) QueryLogs(c *gin.Context) {
	query := &models.CommandLogQuery{}

	// 解析查询参数
	if source := c.Query("source"); source != "" {
		query.Source = models.CommandSource(source)
	}
	if level := c.Query("level"); level != "" {
		query.Level = models.CommandLogLevel(level)
	}
	query.Command = c.Query("command")
	query.Operator = c.Query("operator")
	query.RequestID = c.Query("request_id")
	query.SessionID = c.Query("session_id")

	// 时间范围
	if startTime := c.Query("start_time"); startTime != "" {
		if t, err := time.Parse(time.RFC3339, startTime); err == nil {
			query.StartTime = &t
		}
	}
	if endTime := c.Query("end_time"); endTime != "" {
		if t, err := time.Parse(time.RFC3339, endTime); err == nil {
			query.EndTime = &t
		}
	}

	// 执行结果过滤
	if success := c.Query("success"); success != "" {
		b := success == "true"
		query.Success = &b
	}
	if hasFault := c.Query("has_fault"); hasFault == "true" {
		b := true
		query.HasFault = &b
	}

	// 分页参数
	query.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "20"))
	query.Offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	query.OrderBy = c.DefaultQuery("order_by", "created_at DESC")

	// 查询日志
	logs, total, err := api.service.Query(c.Request.Context(), query)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "查询失败",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":   logs,
		"total":  total,
		"limit":  query.Limit,
		"offset": query.Offset,
	})
}

// GetLog 单条日志详情
func (api *CommandLogHandler) GetLog(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "日志ID无效",
		})
		return
	}

	log, err := api.service.GetByID(c.Request.Context(), uint(id))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "日志不存在",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "查询失败",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, log)
}

// GetLatestLogs 获取最新日志
func (api *CommandLogHandler) GetLatestLogs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	source := models.CommandSource(c.Query("source"))

	logs, err := api.service.GetLatestLogs(c.Request.Context(), limit, source)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "获取失败",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  logs,
		"count": len(logs),
	})
}

// GetStats 获取统计信息
func (api *CommandLogHandler) GetStats(c *gin.Context) {
	var startTime, endTime *time.Time

	// 解析时间范围
	if start := c.Query("start_time"); start != "" {
		if t, err := time.Parse(time.RFC3339, start); err == nil {
			startTime = &t
		}
	}
	if end := c.Query("end_time"); end != "" {
		if t, err := time.Parse(time.RFC3339, end); err == nil {
			endTime = &t
		}
	}

	stats, err := api.service.GetStats(c.Request.Context(), startTime, endTime)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "获取统计失败",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, stats)
}

// GetErrorLogs 获取错误日志
func (api *CommandLogHandler) GetErrorLogs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	logs, err := api.service.GetErrorLogs(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "获取错误日志失败",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  logs,
		"count": len(logs),
	})
}

// CleanupLogs 清理旧日志
func (api *CommandLogHandler) CleanupLogs(c *gin.Context) {
	// 获取保留天数
	retentionDays, _ := strconv.Atoi(c.DefaultQuery("retention_days", "30"))
	if retentionDays < 1 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "保留天数必须大于0",
		})
		return
	}

	count, err := api.service.CleanupOldLogs(c.Request.Context(), retentionDays)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "清理失败",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":        "清理成功",
		"deleted":        count,
		"retention_days": retentionDays,
	})
}

// ExportLogs 导出日志
func (api *CommandLogHandler) ExportLogs(c *gin.Context) {
	query := &models.CommandLogQuery{}

	// 解析查询参数（与QueryLogs相同）
	if source := c.Query("source"); source != "" {
		query.Source = models.CommandSource(source)
	}
	if level := c.Query("level"); level != "" {
		query.Level = models.CommandLogLevel(level)
	}
	query.Command = c.Query("command")
	query.Operator = c.Query("operator")
	query.RequestID = c.Query("request_id")
	query.SessionID = c.Query("session_id")

	// 时间范围
	if startTime := c.Query("start_time"); startTime != "" {
		if t, err := time.Parse(time.RFC3339, startTime); err == nil {
			query.StartTime = &t
		}
	}
	if endTime := c.Query("end_time"); endTime != "" {
		if t, err := time.Parse(time.RFC3339, endTime); err == nil {
			query.EndTime = &t
		}
	}

	// 导出限制
	query.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "1000"))

	// 导出日志
	data, err := api.service.ExportLogs(c.Request.Context(), query)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "导出失败",
			"message": err.Error(),
		})
		return
	}

	// 设置响应头
	filename := fmt.Sprintf("command_logs_%s.json", time.Now().Format("20060102_150405"))
	c.Header("Content-Type", "application/json")
	c.Header("Content-Disposition", "attachment; filename="+filename)
	c.Data(http.StatusOK, "application/json", data)
}
