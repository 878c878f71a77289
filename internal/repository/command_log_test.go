package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/dpc3000/internal/models"
)

func TestCommandLogRepository_Create(t *testing.T) {
	db := TestDB(t)
	repo := NewCommandLogRepository(db)
	ctx := context.Background()

	log := CreateTestCommandLog("ReadPress", "@ReadPress:bar", "1.2345", true)
	err := repo.Create(ctx, log)
	require.NoError(t, err)
	assert.NotZero(t, log.ID)

	// BeforeCreate 钩子应补全时间戳和级别
	assert.NotZero(t, log.Timestamp)
	assert.Equal(t, models.CommandLogLevelInfo, log.Level)

	// 根据ID读取
	got, err := repo.GetByID(ctx, log.ID)
	require.NoError(t, err)
	AssertCommandLog(t, log, got)
}

func TestCommandLogRepository_CreateBatch(t *testing.T) {
	db := TestDB(t)
	repo := NewCommandLogRepository(db)
	ctx := context.Background()

	logs := []*models.CommandLog{
		CreateTestCommandLog("Check", "@check", "DPC3000 V1.00", true),
		CreateTestCommandLog("ReadPress", "@ReadPress:bar", "0.0012", true),
		CreateTestCommandLog("SetMode", "@SetMode:Control", "Control", true),
	}
	err := repo.CreateBatch(ctx, logs)
	require.NoError(t, err)

	// 空批次不报错
	err = repo.CreateBatch(ctx, nil)
	require.NoError(t, err)

	var count int64
	db.Model(&models.CommandLog{}).Count(&count)
	assert.Equal(t, int64(3), count)
}

func TestCommandLogRepository_Query(t *testing.T) {
	db := TestDB(t)
	repo := NewCommandLogRepository(db)
	ctx := context.Background()

	// 准备不同来源和结果的日志
	logs := []*models.CommandLog{
		CreateTestCommandLog("ReadPress", "@ReadPress:bar", "1.0", true),
		CreateTestCommandLog("ReadPress", "@ReadPress:bar", "2.0", true),
		CreateTestCommandLog("SetPress", "@SetPress:3", "SER", false),
	}
	logs[1].Source = models.CommandSourceMonitor
	logs[2].FaultToken = "SER"
	require.NoError(t, repo.CreateBatch(ctx, logs))

	// 按命令过滤
	got, total, err := repo.Query(ctx, &models.CommandLogQuery{Command: "ReadPress"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, got, 2)

	// 按来源过滤
	got, total, err = repo.Query(ctx, &models.CommandLogQuery{Source: models.CommandSourceMonitor})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, "2.0", got[0].Response)

	// 按成功状态过滤
	failed := false
	got, total, err = repo.Query(ctx, &models.CommandLogQuery{Success: &failed})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, "SetPress", got[0].Command)

	// 按故障过滤
	hasFault := true
	got, total, err = repo.Query(ctx, &models.CommandLogQuery{HasFault: &hasFault})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, "SER", got[0].FaultToken)

	// 分页
	got, total, err = repo.Query(ctx, &models.CommandLogQuery{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, got, 2)
}

func TestCommandLogRepository_QueryTimeRange(t *testing.T) {
	db := TestDB(t)
	repo := NewCommandLogRepository(db)
	ctx := context.Background()

	old := CreateTestCommandLog("Check", "@check", "DPC3000", true)
	old.CreatedAt = time.Now().Add(-48 * time.Hour)
	recent := CreateTestCommandLog("Check", "@check", "DPC3000", true)
	require.NoError(t, repo.Create(ctx, old))
	require.NoError(t, repo.Create(ctx, recent))

	// 只查询最近24小时
	start := time.Now().Add(-24 * time.Hour)
	got, total, err := repo.Query(ctx, &models.CommandLogQuery{StartTime: &start})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, recent.ID, got[0].ID)
}

func TestCommandLogRepository_GetStats(t *testing.T) {
	db := TestDB(t)
	repo := NewCommandLogRepository(db)
	ctx := context.Background()

	logs := []*models.CommandLog{
		CreateTestCommandLog("ReadPress", "@ReadPress:bar", "1.0", true),
		CreateTestCommandLog("ReadPress", "@ReadPress:bar", "1.1", true),
		CreateTestCommandLog("ReadStatus", "@ReadStatus", "3", true),
		CreateTestCommandLog("SetPress", "@SetPress:99", "PER", false),
	}
	logs[0].Duration = 10
	logs[1].Duration = 20
	logs[2].Duration = 30
	logs[3].Duration = 40
	logs[3].FaultToken = "PER"
	require.NoError(t, repo.CreateBatch(ctx, logs))

	stats, err := repo.GetStats(ctx, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, int64(4), stats.TotalCount)
	assert.Equal(t, int64(3), stats.SuccessCount)
	assert.Equal(t, int64(1), stats.ErrorCount)
	assert.Equal(t, int64(1), stats.FaultCount)
	assert.InDelta(t, 25.0, stats.AvgDuration, 0.001)
	assert.Equal(t, int64(40), stats.MaxDuration)
	assert.Equal(t, int64(10), stats.MinDuration)
	assert.Equal(t, int64(2), stats.CommandCounts["ReadPress"])
	assert.Equal(t, int64(1), stats.CommandCounts["ReadStatus"])
	assert.Equal(t, int64(1), stats.CommandCounts["SetPress"])
}

func TestCommandLogRepository_GetLatest(t *testing.T) {
	db := TestDB(t)
	repo := NewCommandLogRepository(db)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		log := CreateTestCommandLog("ReadPress", "@ReadPress:bar", "1.0", true)
		log.CreatedAt = time.Now().Add(time.Duration(i-5) * time.Minute)
		require.NoError(t, repo.Create(ctx, log))
	}

	logs, err := repo.GetLatest(ctx, 3, "")
	require.NoError(t, err)
	assert.Len(t, logs, 3)

	// 按创建时间倒序
	for i := 1; i < len(logs); i++ {
		assert.True(t, !logs[i-1].CreatedAt.Before(logs[i].CreatedAt))
	}
}

func TestCommandLogRepository_GetBySessionID(t *testing.T) {
	db := TestDB(t)
	repo := NewCommandLogRepository(db)
	ctx := context.Background()

	inSession := CreateTestCommandLog("Check", "@check", "DPC3000", true)
	inSession.SessionID = "session_a"
	other := CreateTestCommandLog("Check", "@check", "DPC3000", true)
	other.SessionID = "session_b"
	require.NoError(t, repo.Create(ctx, inSession))
	require.NoError(t, repo.Create(ctx, other))

	logs, err := repo.GetBySessionID(ctx, "session_a")
	require.NoError(t, err)
	assert.Len(t, logs, 1)
	assert.Equal(t, "session_a", logs[0].SessionID)
}

func TestCommandLogRepository_CleanupLogs(t *testing.T) {
	db := TestDB(t)
	repo := NewCommandLogRepository(db)
	ctx := context.Background()

	old := CreateTestCommandLog("ReadPress", "@ReadPress:bar", "1.0", true)
	old.CreatedAt = time.Now().AddDate(0, 0, -40)
	recent := CreateTestCommandLog("ReadPress", "@ReadPress:bar", "2.0", true)
	require.NoError(t, repo.Create(ctx, old))
	require.NoError(t, repo.Create(ctx, recent))

	// 保留30天，应删除1条
	deleted, err := repo.CleanupLogs(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	// 非法保留天数
	_, err = repo.CleanupLogs(ctx, 0)
	assert.Error(t, err)

	// 剩余1条
	_, total, err := repo.Query(ctx, &models.CommandLogQuery{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestCommandLogRepository_GetErrorLogs(t *testing.T) {
	db := TestDB(t)
	repo := NewCommandLogRepository(db)
	ctx := context.Background()

	ok := CreateTestCommandLog("ReadPress", "@ReadPress:bar", "1.0", true)
	bad := CreateTestCommandLog("ReadPress", "@ReadPress:bar", "", false)
	require.NoError(t, repo.Create(ctx, ok))
	require.NoError(t, repo.Create(ctx, bad))

	logs, err := repo.GetErrorLogs(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, logs, 1)
	assert.False(t, logs[0].Success)
}
