package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/dpc3000/internal/models"
)

func TestSystemConfigRepository_SetAndGet(t *testing.T) {
	db := TestDB(t)
	SeedTestData(t, db)
	repo := NewSystemConfigRepository(db)
	ctx := context.Background()

	err := repo.Set(ctx, "device.pressure_unit", "bar", "压力单位")
	require.NoError(t, err)

	config, err := repo.Get(ctx, "device.pressure_unit")
	require.NoError(t, err)
	assert.Equal(t, "bar", config.Value)
	assert.Equal(t, "string", config.Type)
	assert.Equal(t, "压力单位", config.Description)

	// 再次Set更新值和描述
	err = repo.Set(ctx, "device.pressure_unit", "kPa", "改用千帕")
	require.NoError(t, err)

	config, err = repo.Get(ctx, "device.pressure_unit")
	require.NoError(t, err)
	assert.Equal(t, "kPa", config.Value)
	assert.Equal(t, "改用千帕", config.Description)
}

func TestSystemConfigRepository_TypeInference(t *testing.T) {
	db := TestDB(t)
	SeedTestData(t, db)
	repo := NewSystemConfigRepository(db)
	ctx := context.Background()

	tests := []struct {
		key          string
		value        interface{}
		expectedVal  string
		expectedType string
	}{
		{"device.pulse_steps", 10, "10", "int"},
		{"monitor.interval_ms", int64(1000), "1000", "int"},
		{"device.overpressure_limit", 6.5, "6.500000", "float"},
		{"serial.mock_mode", true, "true", "bool"},
		{"serial.ports", []int{1, 2, 3}, "[1,2,3]", "json"},
		{"device.limits", map[string]string{"unit": "bar"}, `{"unit":"bar"}`, "json"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			err := repo.Set(ctx, tt.key, tt.value, "")
			require.NoError(t, err)

			config, err := repo.Get(ctx, tt.key)
			require.NoError(t, err)
			assert.Equal(t, tt.expectedVal, config.Value)
			assert.Equal(t, tt.expectedType, config.Type)
		})
	}
}

func TestSystemConfigRepository_TypedGetters(t *testing.T) {
	db := TestDB(t)
	SeedTestData(t, db)
	repo := NewSystemConfigRepository(db)
	ctx := context.Background()

	t.Run("String", func(t *testing.T) {
		require.NoError(t, repo.Set(ctx, "serial.port", "/dev/ttyUSB1", ""))
		assert.Equal(t, "/dev/ttyUSB1", repo.GetString(ctx, "serial.port", "/dev/ttyUSB0"))
		assert.Equal(t, "/dev/ttyUSB0", repo.GetString(ctx, "missing.key", "/dev/ttyUSB0"))
	})

	t.Run("Int", func(t *testing.T) {
		require.NoError(t, repo.Set(ctx, "serial.baud_rate", 115200, ""))
		assert.Equal(t, 115200, repo.GetInt(ctx, "serial.baud_rate", 9600))
		assert.Equal(t, 9600, repo.GetInt(ctx, "missing.key", 9600))

		// 值不是数字时回退默认值
		require.NoError(t, repo.Set(ctx, "serial.bad_baud", "fast", ""))
		assert.Equal(t, 9600, repo.GetInt(ctx, "serial.bad_baud", 9600))
	})

	t.Run("Float", func(t *testing.T) {
		require.NoError(t, repo.Set(ctx, "device.tolerance", 0.1, ""))
		assert.InDelta(t, 0.1, repo.GetFloat(ctx, "device.tolerance", 0.5), 0.00001)
		assert.Equal(t, 0.5, repo.GetFloat(ctx, "missing.key", 0.5))
	})

	t.Run("Bool", func(t *testing.T) {
		require.NoError(t, repo.Set(ctx, "monitor.push", true, ""))
		assert.True(t, repo.GetBool(ctx, "monitor.push", false))

		require.NoError(t, repo.Set(ctx, "monitor.quiet", false, ""))
		assert.False(t, repo.GetBool(ctx, "monitor.quiet", true))

		assert.True(t, repo.GetBool(ctx, "missing.key", true))
	})
}

func TestSystemConfigRepository_GetJSON(t *testing.T) {
	db := TestDB(t)
	SeedTestData(t, db)
	repo := NewSystemConfigRepository(db)
	ctx := context.Background()

	type serialProfile struct {
		Port     string `json:"port"`
		BaudRate int    `json:"baud_rate"`
	}

	original := serialProfile{Port: "/dev/ttyUSB0", BaudRate: 9600}
	err := repo.Set(ctx, "serial.profile", original, "")
	require.NoError(t, err)

	var result serialProfile
	err = repo.GetJSON(ctx, "serial.profile", &result)
	require.NoError(t, err)
	assert.Equal(t, original, result)

	var missing serialProfile
	err = repo.GetJSON(ctx, "missing.profile", &missing)
	assert.Error(t, err)
}

func TestSystemConfigRepository_SetBatch(t *testing.T) {
	db := TestDB(t)
	SeedTestData(t, db)
	repo := NewSystemConfigRepository(db)
	ctx := context.Background()

	err := repo.SetBatch(ctx, map[string]interface{}{
		"monitor.sample_interval_ms": 500,
		"monitor.push_enabled":       true,
		"device.max_setpoint":        8.0,
		"device.label":               "测试台A",
	})
	require.NoError(t, err)

	assert.Equal(t, 500, repo.GetInt(ctx, "monitor.sample_interval_ms", 0))
	assert.True(t, repo.GetBool(ctx, "monitor.push_enabled", false))
	assert.InDelta(t, 8.0, repo.GetFloat(ctx, "device.max_setpoint", 0.0), 0.001)
	assert.Equal(t, "测试台A", repo.GetString(ctx, "device.label", ""))
}

func TestSystemConfigRepository_UpdateKeepsDescription(t *testing.T) {
	db := TestDB(t)
	SeedTestData(t, db)
	repo := NewSystemConfigRepository(db)
	ctx := context.Background()

	err := repo.Set(ctx, "log.export_limit", 10000, "单次导出上限")
	require.NoError(t, err)

	err = repo.Update(ctx, "log.export_limit", 20000)
	require.NoError(t, err)

	config, err := repo.Get(ctx, "log.export_limit")
	require.NoError(t, err)
	assert.Equal(t, "20000", config.Value)
	assert.Equal(t, "单次导出上限", config.Description)
}

func TestSystemConfigRepository_Delete(t *testing.T) {
	db := TestDB(t)
	SeedTestData(t, db)
	repo := NewSystemConfigRepository(db)
	ctx := context.Background()

	err := repo.Set(ctx, "device.obsolete", "value", "")
	require.NoError(t, err)

	err = repo.Delete(ctx, "device.obsolete")
	require.NoError(t, err)

	config, err := repo.Get(ctx, "device.obsolete")
	assert.Error(t, err)
	assert.Nil(t, config)
}

func TestSystemConfigRepository_GetAllSorted(t *testing.T) {
	db := TestDB(t)
	SeedTestData(t, db)
	repo := NewSystemConfigRepository(db)
	ctx := context.Background()

	configs, err := repo.GetAll(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, configs)

	// 按组再按键排序
	for i := 1; i < len(configs); i++ {
		prev, curr := configs[i-1], configs[i]
		if prev.Group == curr.Group {
			assert.LessOrEqual(t, prev.Key, curr.Key)
		} else {
			assert.LessOrEqual(t, prev.Group, curr.Group)
		}
	}
}

func TestSystemConfigRepository_GetByGroup(t *testing.T) {
	db := TestDB(t)
	SeedTestData(t, db)
	repo := NewSystemConfigRepository(db)
	ctx := context.Background()

	entries := []models.SystemConfig{
		{Key: "serial.poll_interval", Value: "200", Type: "int", Group: "serial"},
		{Key: "serial.read_timeout", Value: "1000", Type: "int", Group: "serial"},
		{Key: "ui.theme", Value: "dark", Type: "string", Group: "ui"},
	}
	for i := range entries {
		require.NoError(t, db.Create(&entries[i]).Error)
	}

	// 直接写库绕过了缓存，需要刷新
	require.NoError(t, repo.RefreshCache(ctx))

	configs, err := repo.GetByGroup(ctx, "serial")
	require.NoError(t, err)
	assert.Len(t, configs, 2)
	for _, config := range configs {
		assert.Equal(t, "serial", config.Group)
	}
}

func TestSystemConfigRepository_GetPublic(t *testing.T) {
	db := TestDB(t)
	SeedTestData(t, db)
	repo := NewSystemConfigRepository(db)
	ctx := context.Background()

	public := models.SystemConfig{
		Key: "system.firmware_hint", Value: "DPC3000 V1.10",
		Type: "string", Group: "system", IsPublic: true,
	}
	private := models.SystemConfig{
		Key: "jwt.rotation_days", Value: "90",
		Type: "int", Group: "auth", IsPublic: false,
	}
	require.NoError(t, db.Create(&public).Error)
	require.NoError(t, db.Create(&private).Error)
	require.NoError(t, repo.RefreshCache(ctx))

	configs, err := repo.GetPublic(ctx)
	require.NoError(t, err)

	seen := make(map[string]bool)
	for _, config := range configs {
		assert.True(t, config.IsPublic)
		seen[config.Key] = true
	}
	assert.True(t, seen["system.firmware_hint"])
	assert.False(t, seen["jwt.rotation_days"])
}

func TestSystemConfigRepository_CacheLifecycle(t *testing.T) {
	db := TestDB(t)
	SeedTestData(t, db)
	repo := NewSystemConfigRepository(db).(*systemConfigRepo)
	ctx := context.Background()

	err := repo.Set(ctx, "device.alias", "台架1号", "")
	require.NoError(t, err)

	config, err := repo.Get(ctx, "device.alias")
	require.NoError(t, err)
	assert.Equal(t, "台架1号", config.Value)
	assert.Contains(t, repo.cache, "device.alias")

	// 绕过缓存直接改库，Get仍返回旧值
	db.Model(&models.SystemConfig{}).
		Where("`key` = ?", "device.alias").
		Update("value", "台架2号")

	config, err = repo.Get(ctx, "device.alias")
	require.NoError(t, err)
	assert.Equal(t, "台架1号", config.Value)

	// 刷新后读到新值
	require.NoError(t, repo.RefreshCache(ctx))
	config, err = repo.Get(ctx, "device.alias")
	require.NoError(t, err)
	assert.Equal(t, "台架2号", config.Value)
}

func TestConfigHelper_GetServiceConfig(t *testing.T) {
	db := TestDB(t)
	SeedTestData(t, db)
	repo := NewSystemConfigRepository(db)
	helper := NewConfigHelper(repo)
	ctx := context.Background()

	serviceConfigs := map[string]interface{}{
		"log.retention_days":         14,
		"log.export_limit":           5000,
		"monitor.enabled":            true,
		"monitor.sample_interval_ms": 500,
		"device.max_setpoint":        6.5,
		"device.max_pulse_steps":     20,
	}
	for key, value := range serviceConfigs {
		require.NoError(t, repo.Set(ctx, key, value, ""))
	}

	config, err := helper.GetServiceConfig(ctx)
	require.NoError(t, err)

	assert.Equal(t, 14, config.Log.RetentionDays)
	assert.Equal(t, 5000, config.Log.ExportLimit)
	assert.True(t, config.Monitor.Enabled)
	assert.Equal(t, 500, config.Monitor.SampleInterval)
	assert.InDelta(t, 6.5, config.Device.MaxSetpoint, 0.001)
	assert.Equal(t, 20, config.Device.MaxPulseSteps)
}

func TestSystemConfigRepository_WithTx(t *testing.T) {
	db := TestDB(t)
	SeedTestData(t, db)
	repo := NewSystemConfigRepository(db)
	ctx := context.Background()

	t.Run("Rollback", func(t *testing.T) {
		tx := db.Begin()
		require.NotNil(t, tx)

		txRepo := &systemConfigRepo{
			BaseRepo: &BaseRepo{db: tx},
			cache:    make(map[string]*models.SystemConfig),
		}
		err := txRepo.Set(ctx, "tx.rollback_key", "value", "事务测试")
		require.NoError(t, err)

		tx.Rollback()

		config, err := repo.Get(ctx, "tx.rollback_key")
		assert.Error(t, err)
		assert.Nil(t, config)
	})

	t.Run("Commit", func(t *testing.T) {
		tx := db.Begin()

		txRepo := &systemConfigRepo{
			BaseRepo: &BaseRepo{db: tx},
			cache:    make(map[string]*models.SystemConfig),
		}
		err := txRepo.Set(ctx, "tx.commit_key", "value", "事务测试")
		require.NoError(t, err)

		tx.Commit()

		config, err := repo.Get(ctx, "tx.commit_key")
		require.NoError(t, err)
		assert.Equal(t, "value", config.Value)
	})
}
