// Package config 提供统一的配置管理
//
// 本包采用分段配置模式：
//   - 主 Config 结构体嵌入所有子配置
//   - 每个子配置在独立文件中定义，带 DefaultXxxConfig 与 Validate
//   - 支持从 JSON 加载和保存配置
//
// 使用示例：
//
//	cfg := config.NewConfig()
//	cfg.Protocol.W = 5
//
//	// 从文件加载（缺省字段使用默认值）
//	cfg, err := config.Load("node.json")
package config

// Config 是 Whanau 节点的完整配置结构
//
// 配置按照功能模块组织：
//   - Identity: 身份密钥
//   - Listen: 监听与对外公布的地址
//   - Protocol: Whanau 协议参数（w, rd, rf, rs, 层数……）
//   - Peers: 社交图邻居访问策略（游走预算、限速）
//   - Timeouts: 各类 RPC 与等待超时
//   - Control: 控制命令访问列表
//   - Scheduler: 周期性 setup
//   - Metrics: Prometheus 指标
//   - LookupCache: lookup 结果缓存
type Config struct {
	// Identity 身份配置
	Identity IdentityConfig `json:"identity"`

	// Listen 监听配置
	Listen ListenConfig `json:"listen"`

	// Protocol 协议参数
	Protocol ProtocolConfig `json:"protocol"`

	// Peers 邻居访问策略
	Peers PeersConfig `json:"peers"`

	// Timeouts 超时配置
	Timeouts TimeoutsConfig `json:"timeouts"`

	// Control 控制访问配置
	Control ControlConfig `json:"control"`

	// Scheduler 周期性 setup 配置
	Scheduler SchedulerConfig `json:"scheduler"`

	// Metrics 指标配置
	Metrics MetricsConfig `json:"metrics"`

	// LookupCache lookup 缓存配置
	LookupCache LookupCacheConfig `json:"lookup_cache"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	return &Config{
		Identity:    DefaultIdentityConfig(),
		Listen:      DefaultListenConfig(),
		Protocol:    DefaultProtocolConfig(),
		Peers:       DefaultPeersConfig(),
		Timeouts:    DefaultTimeoutsConfig(),
		Control:     DefaultControlConfig(),
		Scheduler:   DefaultSchedulerConfig(),
		Metrics:     DefaultMetricsConfig(),
		LookupCache: DefaultLookupCacheConfig(),
	}
}

// Validate 验证配置的有效性
func (c *Config) Validate() error {
	validators := []func() error{
		c.Identity.Validate,
		c.Listen.Validate,
		c.Protocol.Validate,
		c.Peers.Validate,
		c.Timeouts.Validate,
		c.Control.Validate,
		c.Scheduler.Validate,
		c.Metrics.Validate,
		c.LookupCache.Validate,
	}
	for _, v := range validators {
		if err := v(); err != nil {
			return err
		}
	}
	return nil
}
