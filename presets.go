package whanau

import (
	"time"

	"github.com/dep2p/go-whanau/config"
)

// ════════════════════════════════════════════════════════════════════════════
//                              预设配置常量
// ════════════════════════════════════════════════════════════════════════════

// 预设名称常量
const (
	// PresetNameDefault 默认预设名称
	PresetNameDefault = "default"

	// PresetNameSmall 小规模网络预设名称
	PresetNameSmall = "small"

	// PresetNameTest 测试预设名称
	PresetNameTest = "test"
)

// Preset 针对某类网络规模的协议参数与超时
type Preset struct {
	// Name 预设名称
	Name string

	// Description 预设描述
	Description string

	apply func(*config.Config)
}

// Apply 将预设应用到配置
func (p *Preset) Apply(cfg *config.Config) {
	if p != nil && p.apply != nil {
		p.apply(cfg)
	}
}

// PresetDefault 默认协议参数（w=7，rd=rf=rs=50，5 层）
//
// 适用于数百到数千节点的网络。
var PresetDefault = &Preset{
	Name:        PresetNameDefault,
	Description: "默认协议参数，适合数百节点以上的网络",
	apply:       func(*config.Config) {},
}

// PresetSmall 小规模网络
//
// 数十个节点时 rd/rf/rs 取 rd/5，游走仍为默认长度。
var PresetSmall = &Preset{
	Name:        PresetNameSmall,
	Description: "小规模网络（数十节点），rd=rf=rs=10，3 层",
	apply: func(cfg *config.Config) {
		cfg.Protocol.RD = config.DefaultRD / 5
		cfg.Protocol.RF = config.DefaultRF / 5
		cfg.Protocol.RS = config.DefaultRS / 5
		cfg.Protocol.NumLayers = 3
		cfg.Protocol.RandWalkCacheSize = 20
	},
}

// PresetTest 单机测试
//
// 短游走、短超时，只绑定回环地址。
var PresetTest = &Preset{
	Name:        PresetNameTest,
	Description: "单机测试，短游走与短超时",
	apply: func(cfg *config.Config) {
		cfg.Listen.Host = "127.0.0.1"
		cfg.Protocol.W = 3
		cfg.Protocol.RD = 8
		cfg.Protocol.RF = 8
		cfg.Protocol.RS = 8
		cfg.Protocol.NumLayers = 2
		cfg.Protocol.MaxSampleFailures = 3
		cfg.Protocol.RandWalkCacheSize = 8
		cfg.Timeouts.PerStep = config.Duration(2 * time.Second)
		cfg.Timeouts.PerStepProc = config.Duration(100 * time.Millisecond)
		cfg.Timeouts.GetID = config.Duration(5 * time.Second)
		cfg.Timeouts.SuccessorsSample = config.Duration(5 * time.Second)
		cfg.Timeouts.WaitSetup = config.Duration(2 * time.Second)
		cfg.Timeouts.Lookup = config.Duration(3 * time.Second)
		cfg.Timeouts.Query = config.Duration(2 * time.Second)
		cfg.Timeouts.JoinSetup = config.Duration(time.Minute)
	},
}

// ════════════════════════════════════════════════════════════════════════════
//                              预设获取
// ════════════════════════════════════════════════════════════════════════════

// PresetByName 根据名称返回预设，未知名称返回 nil
func PresetByName(name string) *Preset {
	switch name {
	case PresetNameDefault, "":
		return PresetDefault
	case PresetNameSmall:
		return PresetSmall
	case PresetNameTest:
		return PresetTest
	default:
		return nil
	}
}

// GetConfigByPreset 根据预设名称获取配置
//
// 如果名称未知，返回默认配置。
func GetConfigByPreset(name string) *config.Config {
	cfg := config.NewConfig()
	PresetByName(name).Apply(cfg)
	return cfg
}

// AvailablePresets 返回所有可用预设
func AvailablePresets() []*Preset {
	return []*Preset{PresetDefault, PresetSmall, PresetTest}
}

// IsValidPreset 检查预设名称是否有效
func IsValidPreset(name string) bool {
	return PresetByName(name) != nil
}
