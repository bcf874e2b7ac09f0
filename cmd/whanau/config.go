package main

import (
	"os"
	"strconv"
	"strings"

	"github.com/dep2p/go-whanau/config"
)

// 环境变量名（均带 WHANAU_ 前缀）
const (
	EnvPrefix          = "WHANAU_"
	EnvPreset          = "PRESET"
	EnvListenHost      = "LISTEN_HOST"
	EnvListenPort      = "LISTEN_PORT"
	EnvIdentityKeyFile = "IDENTITY_KEY_FILE"
	EnvPeers           = "PEERS"
	EnvControl         = "CONTROL"
	EnvOpenControl     = "OPEN_CONTROL"
	EnvLogFile         = "LOG_FILE"
)

// envOverrides 不属于 config.Config 的环境变量
type envOverrides struct {
	preset string
	peers  []string
}

// ============================================================================
//                              配置加载（CLI 专用）
// ============================================================================

// applyEnvOverrides 应用环境变量覆盖配置
//
// 环境变量优先级高于配置文件，但低于命令行参数。
func applyEnvOverrides(cfg *config.Config) envOverrides {
	return applyEnv(cfg, os.Getenv)
}

func applyEnv(cfg *config.Config, getenv func(string) string) envOverrides {
	var out envOverrides
	get := func(name string) string { return strings.TrimSpace(getenv(EnvPrefix + name)) }

	out.preset = get(EnvPreset)
	if v := get(EnvListenHost); v != "" {
		cfg.Listen.Host = v
	}
	if v := get(EnvListenPort); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Listen.Port = p
		}
	}
	if v := get(EnvIdentityKeyFile); v != "" {
		cfg.Identity.KeyFile = v
	}
	if v := get(EnvControl); v != "" {
		cfg.Control.AllowList = append(cfg.Control.AllowList, splitAndTrim(v, ",")...)
	}
	if v := get(EnvOpenControl); v != "" {
		cfg.Control.OpenWhenEmpty = parseBool(v)
	}
	out.peers = splitAndTrim(get(EnvPeers), ",")
	return out
}

// ============================================================================
//                              辅助函数
// ============================================================================

// parseBool 解析布尔值字符串
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// splitAndTrim 分割字符串并去除空白
func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
