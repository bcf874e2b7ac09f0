// Package logger 提供统一的日志接口
//
// 支持通过环境变量配置日志级别：
//   - WHANAU_LOG_LEVEL: 设置日志级别，支持按子系统配置
//     格式: 子系统=级别,子系统=级别,默认级别
//     示例: whanau/randwalk=debug,rpc=warn,info
//   - WHANAU_LOG_FORMAT: 日志格式 (text 或 json)
package logger

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

// 环境变量名
const (
	EnvLogLevel     = "WHANAU_LOG_LEVEL"
	EnvLogFormat    = "WHANAU_LOG_FORMAT"
	EnvLogAddSource = "WHANAU_LOG_ADD_SOURCE"
)

// LogFormat 日志输出格式
type LogFormat int

const (
	// FormatText 文本格式（默认）
	FormatText LogFormat = iota
	// FormatJSON JSON 格式
	FormatJSON
)

// Config 日志配置
type Config struct {
	// DefaultLevel 默认日志级别
	DefaultLevel slog.Level

	// SubsystemLevels 各子系统的日志级别
	SubsystemLevels map[string]slog.Level

	// Format 输出格式
	Format LogFormat

	// AddSource 是否添加源码位置
	AddSource bool
}

// LevelForSubsystem 获取指定子系统的日志级别
//
// 先精确匹配，再按 "/" 逐级向上匹配父子系统（whanau/setup -> whanau）。
func (c *Config) LevelForSubsystem(subsystem string) slog.Level {
	for name := subsystem; name != ""; {
		if level, ok := c.SubsystemLevels[name]; ok {
			return level
		}
		idx := strings.LastIndex(name, "/")
		if idx < 0 {
			break
		}
		name = name[:idx]
	}
	return c.DefaultLevel
}

var (
	configCache *Config
	configOnce  sync.Once
)

// ConfigFromEnv 从环境变量解析配置（进程内只解析一次）
func ConfigFromEnv() *Config {
	configOnce.Do(func() {
		configCache = parseConfig(os.Getenv)
	})
	return configCache
}

// parseConfig 解析环境变量配置
func parseConfig(getenv func(string) string) *Config {
	cfg := &Config{
		DefaultLevel:    slog.LevelInfo,
		SubsystemLevels: make(map[string]slog.Level),
		Format:          FormatText,
	}

	if levelStr := getenv(EnvLogLevel); levelStr != "" {
		parseLevelConfig(cfg, levelStr)
	}

	if strings.EqualFold(getenv(EnvLogFormat), "json") {
		cfg.Format = FormatJSON
	}

	if s := getenv(EnvLogAddSource); s != "" {
		cfg.AddSource = s != "false" && s != "0"
	}

	return cfg
}

// parseLevelConfig 解析日志级别配置字符串
func parseLevelConfig(cfg *Config, levelStr string) {
	for _, part := range strings.Split(levelStr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if subsystem, levelName, ok := strings.Cut(part, "="); ok {
			if level, ok := ParseLevel(strings.TrimSpace(levelName)); ok {
				cfg.SubsystemLevels[strings.TrimSpace(subsystem)] = level
			}
			continue
		}
		if level, ok := ParseLevel(part); ok {
			cfg.DefaultLevel = level
		}
	}
}

// ParseLevel 解析日志级别名称
func ParseLevel(name string) (slog.Level, bool) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

// ResetConfig 重置配置缓存（仅用于测试）
func ResetConfig() {
	configOnce = sync.Once{}
	configCache = nil
}
