// Package logger 提供基于 log/slog 的全局结构化日志。
//
// 包级函数写入进程唯一的默认 logger，启动时通过 NewDefault 按配置
// 的级别初始化；在初始化之前调用会落到 slog 的默认处理器上。
package logger

import (
	"log/slog"
	"os"
	"strings"
)

// NewDefault 按级别字符串初始化全局 logger 并设为 slog 默认。
//
// level 取 debug / info / warn / error，无法识别时按 info 处理。
func NewDefault(level string) *slog.Logger {
	l := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(level),
	}))
	slog.SetDefault(l)
	return l
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Debug 记录 debug 级别日志。
func Debug(msg string, args ...any) { slog.Debug(msg, args...) }

// Info 记录 info 级别日志。
func Info(msg string, args ...any) { slog.Info(msg, args...) }

// Warn 记录 warn 级别日志。
func Warn(msg string, args ...any) { slog.Warn(msg, args...) }

// Error 记录 error 级别日志。
func Error(msg string, args ...any) { slog.Error(msg, args...) }
