package logger

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/wfunc/dpc3000/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	logger      *zap.Logger
	pkgLogger   *zap.Logger // 包级便捷函数使用，callerskip+1
	atomicLevel zap.AtomicLevel
	once        sync.Once
	mu          sync.RWMutex

	// 模块日志器，各自独立级别
	moduleLoggers map[string]*zap.Logger
)

// Init 初始化日志系统，主日志与error.log分离，支持轮转
func Init(cfg *config.LogConfig) error {
	var err error
	once.Do(func() {
		moduleLoggers = make(map[string]*zap.Logger)
		atomicLevel = zap.NewAtomicLevelAt(parseLevel(cfg.Level))

		encoder := buildEncoder(cfg.Format)

		var cores []zapcore.Core

		// 控制台输出
		if cfg.Output == "stdout" || cfg.Output == "both" {
			cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), atomicLevel))
		}

		// 文件输出
		if cfg.Output == "file" || cfg.Output == "both" {
			if err = os.MkdirAll(cfg.File.Path, 0755); err != nil {
				return
			}

			cores = append(cores, zapcore.NewCore(
				encoder,
				newRotatingWriter(&cfg.File, cfg.File.Filename),
				atomicLevel,
			))

			// 错误级别单独落盘，方便现场排查
			cores = append(cores, zapcore.NewCore(
				encoder,
				newRotatingWriter(&cfg.File, "error.log"),
				zapcore.ErrorLevel,
			))
		}

		logger = zap.New(
			zapcore.NewTee(cores...),
			zap.AddCaller(),
			zap.AddStacktrace(zapcore.ErrorLevel),
		)
		pkgLogger = logger.WithOptions(zap.AddCallerSkip(1))

		// 各模块可单独指定级别，如 serial: debug
		for module, levelStr := range cfg.Modules {
			moduleCore := zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), parseLevel(levelStr))
			moduleLoggers[module] = zap.New(moduleCore, zap.AddCaller())
		}
	})

	return err
}

// buildEncoder 根据格式创建编码器，控制台格式带颜色
func buildEncoder(format string) zapcore.Encoder {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	if format == "json" {
		return zapcore.NewJSONEncoder(encoderConfig)
	}
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return zapcore.NewConsoleEncoder(encoderConfig)
}

// newRotatingWriter 创建带轮转的文件写入器
func newRotatingWriter(cfg *config.LogFileConfig, filename string) zapcore.WriteSyncer {
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   filepath.Join(cfg.Path, filename),
		MaxSize:    cfg.MaxSize, // MB
		MaxAge:     cfg.MaxAge,  // 天
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
	})
}

// parseLevel 解析日志级别字符串，无法识别时按info处理
func parseLevel(levelStr string) zapcore.Level {
	switch levelStr {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// GetLogger 获取主日志器，未初始化时回退到zap默认生产配置
func GetLogger() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if logger == nil {
		fallback, _ := zap.NewProduction()
		return fallback
	}
	return logger
}

// GetModuleLogger 获取指定模块的日志器，未配置时返回主日志器
func GetModuleLogger(module string) *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if moduleLogger, ok := moduleLoggers[module]; ok {
		return moduleLogger
	}
	return GetLogger()
}

// SetLevel 动态调整主日志级别，配置热更新时调用
func SetLevel(levelStr string) {
	mu.RLock()
	defer mu.RUnlock()
	if logger == nil {
		return
	}
	atomicLevel.SetLevel(parseLevel(levelStr))
}

// Sync 刷新日志缓冲区
func Sync() error {
	mu.RLock()
	defer mu.RUnlock()
	if logger != nil {
		return logger.Sync()
	}
	return nil
}

func pkg() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if pkgLogger == nil {
		fallback, _ := zap.NewProduction()
		return fallback.WithOptions(zap.AddCallerSkip(1))
	}
	return pkgLogger
}

// Debug 输出调试日志
func Debug(msg string, fields ...zap.Field) {
	pkg().Debug(msg, fields...)
}

// Info 输出信息日志
func Info(msg string, fields ...zap.Field) {
	pkg().Info(msg, fields...)
}

// Warn 输出警告日志
func Warn(msg string, fields ...zap.Field) {
	pkg().Warn(msg, fields...)
}

// Error 输出错误日志
func Error(msg string, fields ...zap.Field) {
	pkg().Error(msg, fields...)
}

// Fatal 输出致命错误日志并退出程序
func Fatal(msg string, fields ...zap.Field) {
	pkg().Fatal(msg, fields...)
}

// With 创建携带固定字段的日志器
func With(fields ...zap.Field) *zap.Logger {
	return GetLogger().With(fields...)
}

// LogSerialCommand 记录串口命令收发，失败按错误级别
func LogSerialCommand(cmd string, response string, success bool) {
	serial := GetModuleLogger("serial")
	if success {
		serial.Debug("serial_command",
			zap.String("command", cmd),
			zap.String("response", response),
		)
	} else {
		serial.Error("serial_command_failed",
			zap.String("command", cmd),
			zap.String("response", response),
		)
	}
}

// LogDeviceEvent 记录设备事件（连接、断开、故障）
func LogDeviceEvent(event string, port string, data map[string]interface{}) {
	GetModuleLogger("device").Info("device_event",
		zap.String("event", event),
		zap.String("port", port),
		zap.Any("data", data),
	)
}
