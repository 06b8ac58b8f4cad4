package logger

import (
	"log/slog"
	"os"
	"strings"
)

// NewDefault 创建标准输出的 slog Logger。
//
// level 支持 debug / info / warn / error，无法识别时回退到 info。
func NewDefault(level string) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: ParseLevel(level),
	}))
}

// ParseLevel 将配置中的日志级别字符串转换为 slog.Level。
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
