package logger

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config 定义日志初始化配置
// Level 支持 debug/info/warn/error，Environment 为 prod/production 时输出 JSON
// WithSource 控制是否记录源码位置，File 非空时同时写入滚动日志文件
type Config struct {
	Level       string
	Environment string
	Format      string
	WithSource  bool
	File        string
}

var (
	global *slog.Logger
	once   sync.Once
)

func levelFromString(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, errors.New("invalid log level: " + level)
	}
}

func useJSON(cfg Config) bool {
	if strings.EqualFold(cfg.Format, "json") {
		return true
	}
	if strings.EqualFold(cfg.Format, "console") {
		return false
	}
	env := strings.ToLower(cfg.Environment)
	return env == "prod" || env == "production"
}

// New 根据配置创建新的 slog.Logger，不设置全局实例
func New(cfg Config) (*slog.Logger, error) {
	lvl, err := levelFromString(cfg.Level)
	if err != nil {
		return nil, err
	}

	var out io.Writer = os.Stdout
	if cfg.File != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    100, // MB
			MaxBackups: 10,
			MaxAge:     30,
			Compress:   true,
		})
	}

	return NewWithWriter(out, lvl, useJSON(cfg), cfg.WithSource), nil
}

// NewWithWriter 使用给定 writer 构造 logger，测试中用于捕获输出
func NewWithWriter(w io.Writer, level slog.Level, json bool, withSource bool) *slog.Logger {
	handlerOpts := &slog.HandlerOptions{Level: level, AddSource: withSource}
	var handler slog.Handler
	if json {
		handler = slog.NewJSONHandler(w, handlerOpts)
	} else {
		handler = slog.NewTextHandler(w, handlerOpts)
	}
	return slog.New(handler)
}

// Init 初始化全局日志实例，重复调用将返回首次创建的 logger
func Init(cfg Config) (*slog.Logger, error) {
	var initErr error
	once.Do(func() {
		global, initErr = New(cfg)
	})
	return global, initErr
}

// L 返回已初始化的全局 logger；未初始化时返回丢弃输出的 logger，避免测试中 panic
func L() *slog.Logger {
	if global == nil {
		return discard
	}
	return global
}

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))
