package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/dpc3000/internal/device"
	"github.com/wfunc/dpc3000/internal/errors"
	"github.com/wfunc/dpc3000/internal/models"
	"github.com/wfunc/dpc3000/internal/service"
	"go.uber.org/zap"
)

// DeviceHandler 设备控制处理器
type DeviceHandler struct {
	deviceService *service.DeviceService
	logService    *service.CommandLogService
	logger        *zap.Logger
}

// NewDeviceHandler 创建设备控制处理器
func NewDeviceHandler(deviceService *service.DeviceService, logService *service.CommandLogService, logger *zap.Logger) *DeviceHandler {
	return &DeviceHandler{
		deviceService: deviceService,
		logService:    logService,
		logger:        logger.Named("device-api"),
	}
}

// actor 构造本次请求的命令归属信息。
// 请求ID优先取X-Request-ID头，便于调用方跨系统追踪。
func (h *DeviceHandler) actor(c *gin.Context) service.Actor {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = h.logService.GenerateRequestID()
	}

	username, _ := c.Get("username")
	operator, _ := username.(string)

	return service.Actor{
		Source:    models.CommandSourceAPI,
		Operator:  operator,
		RequestID: requestID,
	}
}

// respondOK 成功响应，回显请求ID便于在审计日志中检索
func respondOK(c *gin.Context, requestID string, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"data":       data,
		"request_id": requestID,
		"timestamp":  time.Now().Unix(),
	})
}

// respondError 错误响应，按错误码映射HTTP状态
func respondError(c *gin.Context, requestID string, err error) {
	appErr, ok := err.(*errors.AppError)
	if !ok {
		appErr = errors.Wrap(err, errors.ErrUnknown, "内部错误")
	}
	c.JSON(appErr.HTTPStatus(), errors.NewErrorResponse(appErr, requestID))
}

// 请求结构体

// SetModeRequest 设置工作模式请求
type SetModeRequest struct {
	Mode string `json:"mode" binding:"required"`
}

// SetpointRequest 设置目标压力请求
type SetpointRequest struct {
	Pressure *float64 `json:"pressure" binding:"required"`
	Wait     bool     `json:"wait"`
}

// VentRequest 排气请求
type VentRequest struct {
	Wait bool `json:"wait"`
}

// PulseRequest 压力脉冲请求
type PulseRequest struct {
	Direction string `json:"direction" binding:"required"`
	Steps     int    `json:"steps" binding:"required,min=1"`
}

// Check 设备自检
// @Summary 设备自检
// @Description 发送自检命令并返回固件标识
// @Tags Device
// @Security Bearer
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 502 {object} errors.ErrorResponse
// @Router /api/v1/device/check [post]
func (h *DeviceHandler) Check(c *gin.Context) {
	actor := h.actor(c)

	firmware, err := h.deviceService.Check(c.Request.Context(), actor)
	if err != nil {
		respondError(c, actor.RequestID, err)
		return
	}

	respondOK(c, actor.RequestID, gin.H{"firmware": firmware})
}

// ReadPressure 读取当前压力
// @Summary 读取当前压力
// @Description 读取控制器的当前压力值（bar）
// @Tags Device
// @Security Bearer
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 504 {object} errors.ErrorResponse
// @Router /api/v1/device/pressure [get]
func (h *DeviceHandler) ReadPressure(c *gin.Context) {
	actor := h.actor(c)

	reading, err := h.deviceService.ReadPressure(c.Request.Context(), actor)
	if err != nil {
		respondError(c, actor.RequestID, err)
		return
	}

	respondOK(c, actor.RequestID, reading)
}

// ReadMode 读取工作模式
// @Summary 读取工作模式
// @Description 读取控制器当前工作模式（Control/Measure/Vent）
// @Tags Device
// @Security Bearer
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/device/mode [get]
func (h *DeviceHandler) ReadMode(c *gin.Context) {
	actor := h.actor(c)

	mode, err := h.deviceService.ReadMode(c.Request.Context(), actor)
	if err != nil {
		respondError(c, actor.RequestID, err)
		return
	}

	respondOK(c, actor.RequestID, gin.H{"mode": mode})
}

// SetMode 设置工作模式
// @Summary 设置工作模式
// @Description 切换控制器工作模式（Control/Measure/Vent）
// @Tags Device
// @Security Bearer
// @Accept json
// @Produce json
// @Param request body SetModeRequest true "目标模式"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} errors.ErrorResponse
// @Router /api/v1/device/mode [put]
func (h *DeviceHandler) SetMode(c *gin.Context) {
	actor := h.actor(c)

	var req SetModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, actor.RequestID, errors.New(errors.ErrInvalidParam, err.Error()))
		return
	}

	mode, err := device.ParseMode(req.Mode)
	if err != nil {
		respondError(c, actor.RequestID, err)
		return
	}

	ack, err := h.deviceService.SetMode(c.Request.Context(), actor, mode)
	if err != nil {
		respondError(c, actor.RequestID, err)
		return
	}

	respondOK(c, actor.RequestID, gin.H{"mode": mode, "ack": ack})
}

// SetPressure 设置目标压力
// @Summary 设置目标压力
// @Description 下发目标压力并切入控制模式，wait=true时阻塞等待压力进入容差带
// @Tags Device
// @Security Bearer
// @Accept json
// @Produce json
// @Param request body SetpointRequest true "目标压力（bar）"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} errors.ErrorResponse
// @Failure 504 {object} errors.ErrorResponse
// @Router /api/v1/device/setpoint [post]
func (h *DeviceHandler) SetPressure(c *gin.Context) {
	actor := h.actor(c)

	var req SetpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, actor.RequestID, errors.New(errors.ErrInvalidParam, err.Error()))
		return
	}

	reading, ack, err := h.deviceService.SetPressure(c.Request.Context(), actor, *req.Pressure, req.Wait)
	if err != nil {
		respondError(c, actor.RequestID, err)
		return
	}

	data := gin.H{"setpoint": *req.Pressure, "ack": ack}
	if reading != nil {
		data["reading"] = reading
	}
	respondOK(c, actor.RequestID, data)
}

// Stop 停止压力控制
// @Summary 停止压力控制
// @Description 停止控制回路，保持当前压力
// @Tags Device
// @Security Bearer
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/device/stop [post]
func (h *DeviceHandler) Stop(c *gin.Context) {
	actor := h.actor(c)

	ack, err := h.deviceService.Stop(c.Request.Context(), actor)
	if err != nil {
		respondError(c, actor.RequestID, err)
		return
	}

	respondOK(c, actor.RequestID, gin.H{"ack": ack})
}

// Vent 排气
// @Summary 排气
// @Description 打开排气阀泄压，wait=true时阻塞等待压力归零
// @Tags Device
// @Security Bearer
// @Accept json
// @Produce json
// @Param request body VentRequest false "排气选项"
// @Success 200 {object} map[string]interface{}
// @Failure 504 {object} errors.ErrorResponse
// @Router /api/v1/device/vent [post]
func (h *DeviceHandler) Vent(c *gin.Context) {
	actor := h.actor(c)

	// 请求体可省略，默认不等待
	var req VentRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, actor.RequestID, errors.New(errors.ErrInvalidParam, err.Error()))
			return
		}
	}

	reading, ack, err := h.deviceService.Vent(c.Request.Context(), actor, req.Wait)
	if err != nil {
		respondError(c, actor.RequestID, err)
		return
	}

	data := gin.H{"ack": ack}
	if reading != nil {
		data["reading"] = reading
	}
	respondOK(c, actor.RequestID, data)
}

// Pulse 压力脉冲微调
// @Summary 压力脉冲微调
// @Description 按方向发送指定步数的微调脉冲（press增压/vac减压）
// @Tags Device
// @Security Bearer
// @Accept json
// @Produce json
// @Param request body PulseRequest true "脉冲参数"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} errors.ErrorResponse
// @Router /api/v1/device/pulse [post]
func (h *DeviceHandler) Pulse(c *gin.Context) {
	actor := h.actor(c)

	var req PulseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, actor.RequestID, errors.New(errors.ErrInvalidParam, err.Error()))
		return
	}

	if err := h.deviceService.Pulse(c.Request.Context(), actor, req.Direction, req.Steps); err != nil {
		respondError(c, actor.RequestID, err)
		return
	}

	respondOK(c, actor.RequestID, gin.H{"direction": req.Direction, "steps": req.Steps})
}

// ReadStatus 读取状态字节
// @Summary 读取状态字节
// @Description 读取控制器状态位，format=bin时走二进制应答命令
// @Tags Device
// @Security Bearer
// @Produce json
// @Param format query string false "应答格式（bin为二进制）"
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/device/status [get]
func (h *DeviceHandler) ReadStatus(c *gin.Context) {
	actor := h.actor(c)
	binary := c.Query("format") == "bin"

	status, err := h.deviceService.ReadStatus(c.Request.Context(), actor, binary)
	if err != nil {
		respondError(c, actor.RequestID, err)
		return
	}

	respondOK(c, actor.RequestID, gin.H{
		"value":        int(status),
		"flags":        status.Flags(),
		"in_tolerance": status.Has(device.StatusInTolerance),
		"vent_open":    status.Has(device.StatusVentOpen),
		"stopped":      status.Has(device.StatusStopped),
	})
}

// ListPorts 枚举串口
// @Summary 枚举串口
// @Description 列出主机上的串口及USB元数据，用于选择设备端口
// @Tags Device
// @Security Bearer
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/device/ports [get]
func (h *DeviceHandler) ListPorts(c *gin.Context) {
	actor := h.actor(c)

	ports, err := h.deviceService.Ports()
	if err != nil {
		respondError(c, actor.RequestID, err)
		return
	}

	respondOK(c, actor.RequestID, gin.H{"ports": ports, "count": len(ports)})
}

// GetState 设备状态快照
// @Summary 设备状态快照
// @Description 返回持久化的设备快照与客户端统计，不触发串口命令
// @Tags Device
// @Security Bearer
// @Produce json
// @Success 200 {object} service.DeviceStateView
// @Router /api/v1/device/state [get]
func (h *DeviceHandler) GetState(c *gin.Context) {
	actor := h.actor(c)

	view, err := h.deviceService.State(c.Request.Context())
	if err != nil {
		respondError(c, actor.RequestID, err)
		return
	}

	respondOK(c, actor.RequestID, view)
}
