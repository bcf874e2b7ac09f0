package config

import (
	"errors"
	"fmt"
)

// 协议默认参数
const (
	// DefaultW 随机游走长度（同时是缓存的最大跳数）
	DefaultW = 7
	// DefaultRD 数据库采样数
	DefaultRD = 50
	// DefaultRF 每层 finger 数
	DefaultRF = 50
	// DefaultRS 每层 successor 查询数
	DefaultRS = 50
	// DefaultNumLayers 层数
	DefaultNumLayers = 5
	// DefaultMaxSampleFailures 持续采样的最大重试次数
	DefaultMaxSampleFailures = 30
	// DefaultSuccessorsSampleSize successorsSample 每次返回的记录数
	DefaultSuccessorsSampleSize = 2
	// DefaultRandWalkCacheSize 随机游走缓存初始深度
	DefaultRandWalkCacheSize = 100
)

// 记录校验器类型
const (
	ValidatorSigning = "signing"
	ValidatorHashing = "hashing"
)

// ProtocolConfig Whanau 协议参数
type ProtocolConfig struct {
	// W 随机游走步数
	W int `json:"w"`

	// RD 数据库大小
	RD int `json:"rd"`

	// RF finger 表大小
	RF int `json:"rf"`

	// RS successor 查询数
	RS int `json:"rs"`

	// NumLayers 层数
	NumLayers int `json:"num_layers"`

	// MaxSampleFailures 持续采样重试上限
	MaxSampleFailures int `json:"max_sample_failures"`

	// SuccessorsSampleSize successorsSample 返回的记录数
	SuccessorsSampleSize int `json:"successors_sample_size"`

	// RandWalkCacheSize 随机游走缓存初始深度
	RandWalkCacheSize int `json:"rand_walk_cache_size"`

	// RecordTTL 发布记录的有效期（0 = 永不过期）
	RecordTTL Duration `json:"record_ttl"`

	// Validator 记录校验器：signing（键 = 公钥哈希）或 hashing（键 = 值哈希）
	Validator string `json:"validator"`
}

// DefaultProtocolConfig 返回默认协议参数
func DefaultProtocolConfig() ProtocolConfig {
	return ProtocolConfig{
		W:                    DefaultW,
		RD:                   DefaultRD,
		RF:                   DefaultRF,
		RS:                   DefaultRS,
		NumLayers:            DefaultNumLayers,
		MaxSampleFailures:    DefaultMaxSampleFailures,
		SuccessorsSampleSize: DefaultSuccessorsSampleSize,
		RandWalkCacheSize:    DefaultRandWalkCacheSize,
		RecordTTL:            0,
		Validator:            ValidatorSigning,
	}
}

// CacheDepth 一轮 setup 需要的随机游走缓存深度：rd + numLayers*(rf+rs)
func (c ProtocolConfig) CacheDepth() int {
	return c.RD + c.NumLayers*(c.RF+c.RS)
}

// Validate 验证协议参数
func (c ProtocolConfig) Validate() error {
	positive := map[string]int{
		"w":                      c.W,
		"rd":                     c.RD,
		"rf":                     c.RF,
		"rs":                     c.RS,
		"num_layers":             c.NumLayers,
		"max_sample_failures":    c.MaxSampleFailures,
		"successors_sample_size": c.SuccessorsSampleSize,
		"rand_walk_cache_size":   c.RandWalkCacheSize,
	}
	for name, v := range positive {
		if v <= 0 {
			return fmt.Errorf("protocol: %s must be positive", name)
		}
	}
	if c.RecordTTL < 0 {
		return errors.New("protocol: record_ttl must not be negative")
	}
	switch c.Validator {
	case ValidatorSigning, ValidatorHashing:
	default:
		return fmt.Errorf("protocol: unknown validator %q", c.Validator)
	}
	return nil
}
