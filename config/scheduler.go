package config

import (
	"errors"
	"time"
)

// SchedulerConfig 周期性 setup 配置
type SchedulerConfig struct {
	// Enabled 是否启用
	Enabled bool `json:"enabled"`

	// Interval 相邻两次动作的间隔（一轮 setup 占三个间隔）
	Interval Duration `json:"interval"`
}

// DefaultSchedulerConfig 返回默认调度配置
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Enabled:  false,
		Interval: Duration(5 * time.Minute),
	}
}

// Validate 验证调度配置
func (c SchedulerConfig) Validate() error {
	if c.Enabled && c.Interval <= 0 {
		return errors.New("scheduler: interval must be positive")
	}
	return nil
}
