// 包 logger：统一初始化与获取日志器；通过环境变量控制级别与输出格式，避免各模块重复配置
package logger

import (
	"log/slog"
	"os"
	"strings"
)

// 进程级默认日志器：复用单实例，保证各子系统输出格式一致
var defaultLogger *slog.Logger

// Setup：初始化默认日志器
// 背景：图层构建与地理关联分散在多个包，集中配置便于按环境调整级别
// 约束：输出固定到标准错误；LOG_FORMAT=json 时输出结构化 JSON，否则文本
func Setup() *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	var h slog.Handler
	if strings.ToLower(os.Getenv("LOG_FORMAT")) == "json" {
		h = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	} else {
		h = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	}
	defaultLogger = slog.New(h)
	return defaultLogger
}

// L：获取默认日志器；未初始化时回退到 Setup
func L() *slog.Logger {
	if defaultLogger == nil {
		return Setup()
	}
	return defaultLogger
}
