package config

import "errors"

// PeersConfig 社交图邻居访问策略
type PeersConfig struct {
	// MaxWalkBudget 每轮 setup 中单个邻居可请求的 numNodes*steps 累计上限（0 = 不限）
	MaxWalkBudget int `json:"max_walk_budget"`

	// SampleRate 单个邻居 sampleNodes 的每秒速率（0 = 不限）
	SampleRate float64 `json:"sample_rate"`

	// SampleBurst 单个邻居 sampleNodes 的突发上限
	SampleBurst int `json:"sample_burst"`
}

// DefaultPeersConfig 返回默认邻居策略
func DefaultPeersConfig() PeersConfig {
	return PeersConfig{
		MaxWalkBudget: 0,
		SampleRate:    0,
		SampleBurst:   100,
	}
}

// Validate 验证邻居策略
func (c PeersConfig) Validate() error {
	if c.MaxWalkBudget < 0 {
		return errors.New("peers: max_walk_budget must not be negative")
	}
	if c.SampleRate < 0 {
		return errors.New("peers: sample_rate must not be negative")
	}
	if c.SampleRate > 0 && c.SampleBurst <= 0 {
		return errors.New("peers: sample_burst must be positive when sample_rate is set")
	}
	return nil
}
