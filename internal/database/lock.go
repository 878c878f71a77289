package database

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/wfunc/dpc3000/internal/logger"
	"go.uber.org/zap"
)

// 迁移锁参数：多进程同时启动时串行化建表
const (
	lockRetryCount    = 30
	lockRetryInterval = time.Second
	lockStaleAge      = 5 * time.Minute
)

const defaultDBPath = "./data/dpc3000.db"

// acquireMigrationLock 以独占文件的方式获取迁移锁
func acquireMigrationLock(dbPath string) (*os.File, error) {
	lockPath := dbPath + ".migration.lock"

	for attempt := 1; attempt <= lockRetryCount; attempt++ {
		lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0644)
		if err == nil {
			logger.Debug("获取迁移锁成功", zap.String("lock", lockPath))
			return lockFile, nil
		}

		// 持锁进程可能已崩溃，过期则接管
		if removeIfStale(lockPath, lockStaleAge) {
			continue
		}

		logger.Debug("等待迁移锁...", zap.Int("attempt", attempt))
		time.Sleep(lockRetryInterval)
	}

	return nil, fmt.Errorf("无法获取迁移锁，可能有其他进程正在执行迁移")
}

// releaseMigrationLock 释放并删除迁移锁文件
func releaseMigrationLock(lockFile *os.File) {
	if lockFile == nil {
		return
	}
	lockPath := lockFile.Name()
	lockFile.Close()
	os.Remove(lockPath)
	logger.Debug("释放迁移锁", zap.String("lock", lockPath))
}

// removeIfStale 删除超过maxAge未更新的锁文件，删除成功返回true
func removeIfStale(lockPath string, maxAge time.Duration) bool {
	info, err := os.Stat(lockPath)
	if err != nil {
		return false
	}
	if time.Since(info.ModTime()) <= maxAge {
		return false
	}
	logger.Warn("迁移锁文件过期，尝试删除", zap.String("lock", lockPath))
	return os.Remove(lockPath) == nil
}

// getDBPath 返回sqlite数据库文件路径，用于派生锁文件名
func getDBPath() string {
	if DB == nil {
		return defaultDBPath
	}

	switch DB.Dialector.Name() {
	case "sqlite", "sqlite3":
		// sqlite的DSN即文件路径，优先从连接本身查询
		if sqlDB, err := DB.DB(); err == nil {
			row := sqlDB.QueryRow("PRAGMA database_list")
			var seq int
			var name, file string
			if err := row.Scan(&seq, &name, &file); err == nil && file != "" {
				return file
			}
		}
		return defaultDBPath
	default:
		return ""
	}
}

// CleanupStaleLocks 启动时清理残留的锁文件
func CleanupStaleLocks() {
	patterns := []string{
		"./data/*.lock",
		defaultDBPath + "*.lock",
		"./*.lock",
	}

	for _, pattern := range patterns {
		matches, _ := filepath.Glob(pattern)
		for _, lockFile := range matches {
			info, err := os.Stat(lockFile)
			if err != nil {
				continue
			}
			if time.Since(info.ModTime()) > 2*lockStaleAge {
				logger.Info("清理过期锁文件", zap.String("file", lockFile))
				os.Remove(lockFile)
			}
		}
	}
}
