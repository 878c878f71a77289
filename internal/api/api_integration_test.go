package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/dpc3000/internal/config"
	"github.com/wfunc/dpc3000/internal/device"
	"github.com/wfunc/dpc3000/internal/models"
	"github.com/wfunc/dpc3000/internal/service"
	"github.com/wfunc/dpc3000/internal/utils"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// setupTestRouter 构建完整测试栈：内存数据库 + 模拟设备 + 真实路由
func setupTestRouter(t *testing.T) (*Router, *gorm.DB, *service.Services, func()) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Operator{},
		&models.DeviceState{},
		&models.CommandLog{},
		&models.SystemConfig{},
	))

	cfg := &config.Config{}
	cfg.Server.Mode = gin.TestMode
	cfg.JWT.Secret = "integration-secret"
	cfg.JWT.Issuer = "dpc3000-test"
	cfg.JWT.ExpireHours = 1
	cfg.JWT.RefreshHours = 24
	cfg.Serial.Enabled = true
	cfg.Serial.MockMode = true
	cfg.Serial.Port = "mock"
	cfg.Serial.BaudRate = 9600
	cfg.Serial.ReadTimeout = 200 * time.Millisecond
	cfg.Serial.PollInterval = time.Millisecond
	cfg.Serial.WaitTimeout = 2 * time.Second
	cfg.Serial.MaxPressure = 10
	cfg.Monitor.Enabled = false

	services := service.NewServices(db, cfg, zap.NewNop())
	require.NoError(t, services.Start(context.Background()))

	router := NewRouter(db, cfg, services, zap.NewNop())

	cleanup := func() {
		services.Close()
	}
	return router, db, services, cleanup
}

// doRequest 执行一次HTTP请求
func doRequest(t *testing.T, router *Router, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	router.GetEngine().ServeHTTP(w, req)
	return w
}

// login 登录并返回访问令牌
func login(t *testing.T, router *Router, username, password string) *service.AuthResponse {
	t.Helper()

	w := doRequest(t, router, http.MethodPost, "/api/v1/auth/login", "", gin.H{
		"username": username,
		"password": password,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp service.AuthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.AccessToken)
	return &resp
}

// apiEnvelope 设备接口的统一响应信封
type apiEnvelope struct {
	Success   bool                   `json:"success"`
	Data      map[string]interface{} `json:"data"`
	RequestID string                 `json:"request_id"`
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) *apiEnvelope {
	t.Helper()
	var env apiEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return &env
}

func TestAPIAuthFlow(t *testing.T) {
	router, _, _, cleanup := setupTestRouter(t)
	defer cleanup()

	t.Run("未登录访问受保护接口", func(t *testing.T) {
		w := doRequest(t, router, http.MethodGet, "/api/v1/device/pressure", "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("错误密码登录", func(t *testing.T) {
		w := doRequest(t, router, http.MethodPost, "/api/v1/auth/login", "", gin.H{
			"username": "admin",
			"password": "wrong-password",
		})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	var access, refresh string
	t.Run("默认管理员登录", func(t *testing.T) {
		resp := login(t, router, "admin", "dpc3000")
		assert.Equal(t, "Bearer", resp.TokenType)
		assert.Equal(t, models.RoleAdmin, resp.Operator.Role)
		access = resp.AccessToken
		refresh = resp.RefreshToken
	})

	t.Run("获取资料", func(t *testing.T) {
		w := doRequest(t, router, http.MethodGet, "/api/v1/auth/profile", access, nil)
		require.Equal(t, http.StatusOK, w.Code)

		var operator models.Operator
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &operator))
		assert.Equal(t, "admin", operator.Username)
		assert.Empty(t, operator.Password) // 密码不得出现在响应中
	})

	t.Run("刷新令牌", func(t *testing.T) {
		w := doRequest(t, router, http.MethodPost, "/api/v1/auth/refresh", "", gin.H{
			"refresh_token": refresh,
		})
		require.Equal(t, http.StatusOK, w.Code)

		var resp service.AuthResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.AccessToken)
	})

	t.Run("登出", func(t *testing.T) {
		w := doRequest(t, router, http.MethodPost, "/api/v1/auth/logout", access, nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("修改密码确认不一致", func(t *testing.T) {
		w := doRequest(t, router, http.MethodPut, "/api/v1/auth/password", access, gin.H{
			"old_password":     "dpc3000",
			"new_password":     "newpass123",
			"confirm_password": "different",
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("修改密码并用新密码登录", func(t *testing.T) {
		w := doRequest(t, router, http.MethodPut, "/api/v1/auth/password", access, gin.H{
			"old_password":     "dpc3000",
			"new_password":     "newpass123",
			"confirm_password": "newpass123",
		})
		require.Equal(t, http.StatusOK, w.Code)

		login(t, router, "admin", "newpass123")

		// 旧密码不再可用
		w = doRequest(t, router, http.MethodPost, "/api/v1/auth/login", "", gin.H{
			"username": "admin",
			"password": "dpc3000",
		})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestAPIDeviceFlow(t *testing.T) {
	router, _, _, cleanup := setupTestRouter(t)
	defer cleanup()

	access := login(t, router, "admin", "dpc3000").AccessToken

	t.Run("设备自检", func(t *testing.T) {
		w := doRequest(t, router, http.MethodPost, "/api/v1/device/check", access, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		env := decodeEnvelope(t, w)
		assert.True(t, env.Success)
		assert.NotEmpty(t, env.RequestID)
		assert.Contains(t, env.Data["firmware"], "DPC3000")
	})

	t.Run("读取压力", func(t *testing.T) {
		w := doRequest(t, router, http.MethodGet, "/api/v1/device/pressure", access, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		env := decodeEnvelope(t, w)
		assert.Equal(t, 0.0, env.Data["value"])
		assert.Equal(t, "bar", env.Data["unit"])
	})

	t.Run("设置并读取模式", func(t *testing.T) {
		w := doRequest(t, router, http.MethodPut, "/api/v1/device/mode", access, gin.H{"mode": "Measure"})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		w = doRequest(t, router, http.MethodGet, "/api/v1/device/mode", access, nil)
		require.Equal(t, http.StatusOK, w.Code)
		env := decodeEnvelope(t, w)
		assert.Equal(t, "Measure", env.Data["mode"])
	})

	t.Run("非法模式", func(t *testing.T) {
		w := doRequest(t, router, http.MethodPut, "/api/v1/device/mode", access, gin.H{"mode": "Turbo"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("设定压力并等待收敛", func(t *testing.T) {
		w := doRequest(t, router, http.MethodPost, "/api/v1/device/setpoint", access, gin.H{
			"pressure": 1.0,
			"wait":     true,
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		env := decodeEnvelope(t, w)
		reading, ok := env.Data["reading"].(map[string]interface{})
		require.True(t, ok, "等待模式应返回最终读数")
		assert.InDelta(t, 1.0, reading["value"].(float64), device.SetpointTolerance+0.01)
	})

	t.Run("设定压力超出上限", func(t *testing.T) {
		w := doRequest(t, router, http.MethodPost, "/api/v1/device/setpoint", access, gin.H{
			"pressure": 20.0,
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("停止控制", func(t *testing.T) {
		w := doRequest(t, router, http.MethodPost, "/api/v1/device/stop", access, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		w = doRequest(t, router, http.MethodGet, "/api/v1/device/status", access, nil)
		require.Equal(t, http.StatusOK, w.Code)
		env := decodeEnvelope(t, w)
		assert.Equal(t, true, env.Data["stopped"])
	})

	t.Run("二进制格式读取状态", func(t *testing.T) {
		w := doRequest(t, router, http.MethodGet, "/api/v1/device/status?format=bin", access, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		env := decodeEnvelope(t, w)
		assert.Equal(t, true, env.Data["stopped"])
	})

	t.Run("排气并等待泄压", func(t *testing.T) {
		w := doRequest(t, router, http.MethodPost, "/api/v1/device/vent", access, gin.H{"wait": true})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		env := decodeEnvelope(t, w)
		reading, ok := env.Data["reading"].(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, 0.0, reading["value"])
	})

	t.Run("压力脉冲", func(t *testing.T) {
		w := doRequest(t, router, http.MethodPost, "/api/v1/device/pulse", access, gin.H{
			"direction": "press",
			"steps":     1,
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	})

	t.Run("脉冲方向非法", func(t *testing.T) {
		w := doRequest(t, router, http.MethodPost, "/api/v1/device/pulse", access, gin.H{
			"direction": "sideways",
			"steps":     1,
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("设备状态快照", func(t *testing.T) {
		w := doRequest(t, router, http.MethodGet, "/api/v1/device/state", access, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		env := decodeEnvelope(t, w)
		assert.Equal(t, true, env.Data["connected"])
		assert.Equal(t, true, env.Data["mock_mode"])
	})
}

func TestAPIRoleEnforcement(t *testing.T) {
	router, db, _, cleanup := setupTestRouter(t)
	defer cleanup()

	// 创建只读观察员账户
	hash, err := utils.HashPassword("viewerpass")
	require.NoError(t, err)
	require.NoError(t, db.Create(&models.Operator{
		Username: "viewer1",
		Password: hash,
		Nickname: "观察员",
		Role:     models.RoleViewer,
		Status:   "active",
	}).Error)

	viewerToken := login(t, router, "viewer1", "viewerpass").AccessToken
	adminToken := login(t, router, "admin", "dpc3000").AccessToken

	t.Run("观察员可以读取压力", func(t *testing.T) {
		w := doRequest(t, router, http.MethodGet, "/api/v1/device/pressure", viewerToken, nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("观察员不能下发控制命令", func(t *testing.T) {
		w := doRequest(t, router, http.MethodPost, "/api/v1/device/stop", viewerToken, nil)
		assert.Equal(t, http.StatusForbidden, w.Code)

		w = doRequest(t, router, http.MethodPost, "/api/v1/device/setpoint", viewerToken, gin.H{"pressure": 1.0})
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("观察员不能清理日志", func(t *testing.T) {
		w := doRequest(t, router, http.MethodDelete, "/api/v1/logs", viewerToken, nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("管理员可以清理日志", func(t *testing.T) {
		w := doRequest(t, router, http.MethodDelete, "/api/v1/logs?retention_days=30", adminToken, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var resp map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, float64(30), resp["retention_days"])
	})
}

func TestAPILogsFlow(t *testing.T) {
	router, _, services, cleanup := setupTestRouter(t)
	defer cleanup()

	access := login(t, router, "admin", "dpc3000").AccessToken

	// 产生一条带请求ID的审计记录
	req := httptest.NewRequest(http.MethodGet, "/api/v1/device/pressure", nil)
	req.Header.Set("Authorization", "Bearer "+access)
	req.Header.Set("X-Request-ID", "req-integration-1")
	w := httptest.NewRecorder()
	router.GetEngine().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	env := decodeEnvelope(t, w)
	assert.Equal(t, "req-integration-1", env.RequestID)

	services.CommandLog.Flush()

	t.Run("按请求ID检索", func(t *testing.T) {
		w := doRequest(t, router, http.MethodGet, "/api/v1/logs?request_id=req-integration-1", access, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var resp struct {
			Data  []map[string]interface{} `json:"data"`
			Total int64                    `json:"total"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Equal(t, int64(1), resp.Total)
		assert.Equal(t, "read_press", resp.Data[0]["command"])
		assert.Equal(t, "admin", resp.Data[0]["operator"])
		assert.Equal(t, string(models.CommandSourceAPI), resp.Data[0]["source"])
	})

	t.Run("统计信息", func(t *testing.T) {
		w := doRequest(t, router, http.MethodGet, "/api/v1/logs/stats", access, nil)
		require.Equal(t, http.StatusOK, w.Code)

		var stats models.CommandLogStats
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
		assert.GreaterOrEqual(t, stats.TotalCount, int64(1))
	})

	t.Run("最新日志", func(t *testing.T) {
		w := doRequest(t, router, http.MethodGet, "/api/v1/logs/latest?limit=5", access, nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp struct {
			Count int `json:"count"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.GreaterOrEqual(t, resp.Count, 1)
	})

	t.Run("单条日志详情", func(t *testing.T) {
		w := doRequest(t, router, http.MethodGet, "/api/v1/logs?request_id=req-integration-1", access, nil)
		require.Equal(t, http.StatusOK, w.Code)
		var listResp struct {
			Data []struct {
				ID uint `json:"id"`
			} `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listResp))
		require.NotEmpty(t, listResp.Data)

		w = doRequest(t, router, http.MethodGet, "/api/v1/logs/"+strconv.FormatUint(uint64(listResp.Data[0].ID), 10), access, nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("日志不存在", func(t *testing.T) {
		w := doRequest(t, router, http.MethodGet, "/api/v1/logs/99999", access, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("导出日志", func(t *testing.T) {
		w := doRequest(t, router, http.MethodGet, "/api/v1/logs/export?request_id=req-integration-1", access, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Header().Get("Content-Disposition"), "attachment")
		assert.Contains(t, w.Body.String(), "req-integration-1")
	})
}

func TestAPIHealthAndMisc(t *testing.T) {
	router, _, _, cleanup := setupTestRouter(t)
	defer cleanup()

	t.Run("健康检查", func(t *testing.T) {
		w := doRequest(t, router, http.MethodGet, "/health", "", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "healthy", resp["status"])

		deviceInfo, ok := resp["device"].(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, true, deviceInfo["connected"])
	})

	t.Run("接口不存在", func(t *testing.T) {
		w := doRequest(t, router, http.MethodGet, "/no/such/route", "", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Contains(t, w.Body.String(), "NOT_FOUND")
	})

	t.Run("CORS预检", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/auth/login", nil)
		req.Header.Set("Origin", "http://localhost:5173")
		w := httptest.NewRecorder()
		router.GetEngine().ServeHTTP(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("在线连接统计", func(t *testing.T) {
		access := login(t, router, "admin", "dpc3000").AccessToken
		w := doRequest(t, router, http.MethodGet, "/api/v1/ws/stats", access, nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, float64(0), resp["online_count"])
	})
}
