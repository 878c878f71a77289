package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/dpc3000/internal/models"
)

func TestOperatorRepository_Create(t *testing.T) {
	db := TestDB(t)
	repo := NewOperatorRepository(db)
	ctx := context.Background()

	operator := &models.Operator{
		Username: "bench_op",
		Password: "hashed_password",
		Role:     models.RoleOperator,
	}
	err := repo.Create(ctx, operator)
	require.NoError(t, err)
	assert.NotZero(t, operator.ID)

	// BeforeCreate 钩子应补全昵称和状态
	assert.Equal(t, "bench_op", operator.Nickname)
	assert.Equal(t, "active", operator.Status)

	// 用户名唯一
	dup := &models.Operator{
		Username: "bench_op",
		Password: "other",
	}
	err = repo.Create(ctx, dup)
	assert.Error(t, err)
}

func TestOperatorRepository_FindByUsername(t *testing.T) {
	db := TestDB(t)
	SeedTestData(t, db)
	repo := NewOperatorRepository(db)
	ctx := context.Background()

	operator, err := repo.FindByUsername(ctx, "admin")
	require.NoError(t, err)
	assert.Equal(t, "admin", operator.Username)
	assert.Equal(t, models.RoleAdmin, operator.Role)

	// 不存在的用户
	_, err = repo.FindByUsername(ctx, "nobody")
	assert.Error(t, err)
}

func TestOperatorRepository_UpdateLastLogin(t *testing.T) {
	db := TestDB(t)
	SeedTestData(t, db)
	repo := NewOperatorRepository(db)
	ctx := context.Background()

	operator, err := repo.FindByUsername(ctx, "bench1")
	require.NoError(t, err)
	assert.Nil(t, operator.LastLoginAt)
	assert.Equal(t, 0, operator.LoginCount)

	err = repo.UpdateLastLogin(ctx, operator.ID, "192.168.1.50")
	require.NoError(t, err)

	got, err := repo.FindByID(ctx, operator.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.LastLoginAt)
	assert.Equal(t, "192.168.1.50", got.LastLoginIP)
	assert.Equal(t, 1, got.LoginCount)
}

func TestOperatorRepository_UpdateStatus(t *testing.T) {
	db := TestDB(t)
	SeedTestData(t, db)
	repo := NewOperatorRepository(db)
	ctx := context.Background()

	operator, err := repo.FindByUsername(ctx, "bench1")
	require.NoError(t, err)

	err = repo.UpdateStatus(ctx, operator.ID, "disabled")
	require.NoError(t, err)

	got, err := repo.FindByID(ctx, operator.ID)
	require.NoError(t, err)
	assert.Equal(t, "disabled", got.Status)
	assert.False(t, got.CanLogin())
}

func TestOperatorRepository_UpdatePassword(t *testing.T) {
	db := TestDB(t)
	SeedTestData(t, db)
	repo := NewOperatorRepository(db)
	ctx := context.Background()

	operator, err := repo.FindByUsername(ctx, "bench1")
	require.NoError(t, err)

	err = repo.UpdatePassword(ctx, operator.ID, "new_hash")
	require.NoError(t, err)

	got, err := repo.FindByID(ctx, operator.ID)
	require.NoError(t, err)
	assert.Equal(t, "new_hash", got.Password)
}

func TestOperatorRepository_GetAll(t *testing.T) {
	db := TestDB(t)
	SeedTestData(t, db)
	repo := NewOperatorRepository(db)
	ctx := context.Background()

	pagination := NewPagination(1, 10)
	operators, err := repo.GetAll(ctx, pagination)
	require.NoError(t, err)
	assert.Len(t, operators, 2)
	assert.Equal(t, int64(2), pagination.Total)

	// 超出范围的页返回空
	pagination = NewPagination(99, 10)
	operators, err = repo.GetAll(ctx, pagination)
	require.NoError(t, err)
	assert.Empty(t, operators)
}

func TestOperatorRepository_Delete(t *testing.T) {
	db := TestDB(t)
	SeedTestData(t, db)
	repo := NewOperatorRepository(db)
	ctx := context.Background()

	operator, err := repo.FindByUsername(ctx, "bench1")
	require.NoError(t, err)

	err = repo.Delete(ctx, operator.ID)
	require.NoError(t, err)

	// 软删除后不可见
	_, err = repo.FindByUsername(ctx, "bench1")
	assert.Error(t, err)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestOperator_RoleChecks(t *testing.T) {
	admin := &models.Operator{Role: models.RoleAdmin}
	operator := &models.Operator{Role: models.RoleOperator}
	viewer := &models.Operator{Role: models.RoleViewer}

	assert.True(t, admin.CanCommand())
	assert.True(t, admin.CanManage())
	assert.True(t, operator.CanCommand())
	assert.False(t, operator.CanManage())
	assert.False(t, viewer.CanCommand())
	assert.False(t, viewer.CanManage())
}

func TestManager_Repositories(t *testing.T) {
	db := TestDB(t)
	manager := NewManager(db)

	// 懒加载应返回同一实例
	assert.Same(t, manager.CommandLog(), manager.CommandLog())
	assert.NotNil(t, manager.DeviceState())
	assert.NotNil(t, manager.Operator())
	assert.NotNil(t, manager.SystemConfig())
	assert.NotNil(t, manager.Transaction())
}

func TestTransaction_RollbackAndCommit(t *testing.T) {
	db := TestDB(t)
	manager := NewManager(db)
	ctx := context.Background()

	// 回滚场景：事务中创建的操作员不应落库
	err := manager.WithTransaction(ctx, func(tx *Transaction) error {
		if err := tx.Operator().Create(ctx, &models.Operator{
			Username: "tx_user",
			Password: "hash",
		}); err != nil {
			return err
		}
		return assert.AnError
	})
	assert.Error(t, err)

	count, err := manager.Operator().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	// 提交场景
	err = manager.WithTransaction(ctx, func(tx *Transaction) error {
		return tx.Operator().Create(ctx, &models.Operator{
			Username: "tx_user",
			Password: "hash",
		})
	})
	require.NoError(t, err)

	count, err = manager.Operator().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
