package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/palemoky/bad-cards/internal/config"
)

// 日志文件超过该大小时轮转
const maxLogSize = 10 * 1024 * 1024

var logFile *os.File

// Init 按配置初始化 logrus：级别、格式，以及可选的文件输出
func Init(cfg config.LogConfig) error {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("无效的日志级别 %q: %w", cfg.Level, err)
	}
	log.SetLevel(level)

	if cfg.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05.000"})
	}

	if cfg.File == "" {
		log.SetOutput(os.Stdout)
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
		return fmt.Errorf("创建日志目录失败: %w", err)
	}

	logPath := cfg.File
	if info, err := os.Stat(logPath); err == nil && info.Size() > maxLogSize {
		backupPath := fmt.Sprintf("%s.%d", logPath, time.Now().Unix())
		_ = os.Rename(logPath, backupPath)
	}

	logFile, err = os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("打开日志文件失败: %w", err)
	}

	log.SetOutput(io.MultiWriter(os.Stdout, logFile))
	log.Infof("📝 日志文件: %s", logPath)
	return nil
}

// Close 关闭日志文件
func Close() {
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
}

// LogPanic 记录 panic 及堆栈
func LogPanic(r any) {
	log.Errorf("[PANIC] %v\n%s", r, debug.Stack())
}
