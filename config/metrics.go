package config

import (
	"errors"
	"time"
)

// MetricsConfig Prometheus 指标配置
type MetricsConfig struct {
	// Enabled 是否启用 HTTP 指标端点
	Enabled bool `json:"enabled"`

	// Addr 指标端点监听地址
	Addr string `json:"addr"`
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled: false,
		Addr:    "127.0.0.1:9464",
	}
}

// Validate 验证指标配置
func (c MetricsConfig) Validate() error {
	if c.Enabled && c.Addr == "" {
		return errors.New("metrics: addr must not be empty")
	}
	return nil
}

// LookupCacheConfig lookup 结果缓存
type LookupCacheConfig struct {
	// Size 缓存条目数（0 = 禁用）
	Size int `json:"size"`

	// TTL 条目有效期
	TTL Duration `json:"ttl"`
}

// DefaultLookupCacheConfig 返回默认缓存配置
func DefaultLookupCacheConfig() LookupCacheConfig {
	return LookupCacheConfig{
		Size: 256,
		TTL:  Duration(time.Minute),
	}
}

// Validate 验证缓存配置
func (c LookupCacheConfig) Validate() error {
	if c.Size < 0 {
		return errors.New("lookup_cache: size must not be negative")
	}
	if c.Size > 0 && c.TTL <= 0 {
		return errors.New("lookup_cache: ttl must be positive")
	}
	return nil
}
