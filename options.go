package whanau

import (
	"fmt"
	"time"

	"go.uber.org/fx"

	"github.com/dep2p/go-whanau/config"
	"github.com/dep2p/go-whanau/internal/core/identity"
	"github.com/dep2p/go-whanau/internal/whanau/node"
	"github.com/dep2p/go-whanau/pkg/types"
)

// Option 用户配置选项函数
type Option func(*options) error

// options 内部选项结构
type options struct {
	// 基础配置（WithConfig / WithConfigFile），为空时使用默认配置
	base *config.Config

	// 预设配置
	preset *Preset

	// 身份配置
	identityKeyFile string
	identity        *identity.Identity

	// 监听地址
	listenHost *string
	listenPort *int

	// 社交图邻居（启动后添加）
	peers []types.Target

	// 控制访问
	allowList     []string
	openWhenEmpty *bool

	// 指标与调度
	metricsAddr       *string
	schedulerInterval *time.Duration

	// 传输（默认 TLS）
	transport node.TransportFactory

	// Fx
	userFxOptions []fx.Option
	verboseFx     bool
}

func newOptions() *options {
	return &options{}
}

// toConfig 合成最终配置
//
// 顺序：基础配置 → 预设 → 单项覆盖。
func (o *options) toConfig() *config.Config {
	var cfg *config.Config
	if o.base != nil {
		c := *o.base
		cfg = &c
	} else {
		cfg = config.NewConfig()
	}

	if o.preset != nil {
		o.preset.Apply(cfg)
	}

	if o.identityKeyFile != "" {
		cfg.Identity.KeyFile = o.identityKeyFile
	}
	if o.listenHost != nil {
		cfg.Listen.Host = *o.listenHost
	}
	if o.listenPort != nil {
		cfg.Listen.Port = *o.listenPort
	}
	if len(o.allowList) > 0 {
		cfg.Control.AllowList = append(append([]string(nil), cfg.Control.AllowList...), o.allowList...)
	}
	if o.openWhenEmpty != nil {
		cfg.Control.OpenWhenEmpty = *o.openWhenEmpty
	}
	if o.metricsAddr != nil {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Addr = *o.metricsAddr
	}
	if o.schedulerInterval != nil {
		cfg.Scheduler.Enabled = true
		cfg.Scheduler.Interval = config.Duration(*o.schedulerInterval)
	}
	return cfg
}

// ============================================================================
//                              配置选项
// ============================================================================

// WithConfig 使用完整配置作为基础
//
// 预设与其他选项在其之上覆盖。
func WithConfig(cfg *config.Config) Option {
	return func(o *options) error {
		if cfg == nil {
			return fmt.Errorf("配置不能为空")
		}
		o.base = cfg
		return nil
	}
}

// WithConfigFile 从 JSON 文件加载基础配置
func WithConfigFile(path string) Option {
	return func(o *options) error {
		cfg, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("加载配置文件失败: %w", err)
		}
		o.base = cfg
		return nil
	}
}

// WithPreset 使用预设配置
//
//   - PresetDefault: 默认协议参数
//   - PresetSmall: 小规模网络
//   - PresetTest: 单机测试
func WithPreset(preset *Preset) Option {
	return func(o *options) error {
		if preset == nil {
			return fmt.Errorf("预设不能为空")
		}
		o.preset = preset
		return nil
	}
}

// ============================================================================
//                              身份选项
// ============================================================================

// WithIdentityFromFile 从文件加载身份密钥
//
// 如果文件不存在，将自动创建新的身份密钥并保存。
func WithIdentityFromFile(path string) Option {
	return func(o *options) error {
		if path == "" {
			return fmt.Errorf("身份密钥文件路径不能为空")
		}
		o.identityKeyFile = path
		return nil
	}
}

// WithIdentity 使用指定的身份
func WithIdentity(id *identity.Identity) Option {
	return func(o *options) error {
		if id == nil {
			return fmt.Errorf("身份不能为空")
		}
		o.identity = id
		return nil
	}
}

// ============================================================================
//                              监听选项
// ============================================================================

// WithListenHost 监听（并对外公布）的主机
func WithListenHost(host string) Option {
	return func(o *options) error {
		if host == "" {
			return fmt.Errorf("监听主机不能为空")
		}
		o.listenHost = &host
		return nil
	}
}

// WithListenPort 监听端口，0 表示由系统分配
func WithListenPort(port int) Option {
	return func(o *options) error {
		if port < 0 || port > 65535 {
			return fmt.Errorf("无效的端口号: %d", port)
		}
		o.listenPort = &port
		return nil
	}
}

// ============================================================================
//                              社交图与控制
// ============================================================================

// WithPeers 启动后添加的社交图邻居
//
// 目标格式为 <NodeID>@host:port。
func WithPeers(targets ...string) Option {
	return func(o *options) error {
		for _, s := range targets {
			t, err := types.ParseTarget(s)
			if err != nil {
				return err
			}
			o.peers = append(o.peers, t)
		}
		return nil
	}
}

// WithControlAllowList 追加允许发起控制命令的身份（Base58 NodeID）
func WithControlAllowList(ids ...string) Option {
	return func(o *options) error {
		for _, s := range ids {
			if _, err := types.ParseNodeID(s); err != nil {
				return fmt.Errorf("控制身份 %q: %w", s, err)
			}
		}
		o.allowList = append(o.allowList, ids...)
		return nil
	}
}

// WithOpenControl 允许列表为空时是否对所有人开放控制命令
func WithOpenControl(open bool) Option {
	return func(o *options) error {
		o.openWhenEmpty = &open
		return nil
	}
}

// ============================================================================
//                              指标与调度
// ============================================================================

// WithMetrics 在 addr 上暴露 Prometheus 指标
func WithMetrics(addr string) Option {
	return func(o *options) error {
		if addr == "" {
			return fmt.Errorf("指标地址不能为空")
		}
		o.metricsAddr = &addr
		return nil
	}
}

// WithScheduler 启用周期性 setup
//
// 每个 interval 推进一步：重置阶段、part1、part2。
func WithScheduler(interval time.Duration) Option {
	return func(o *options) error {
		if interval <= 0 {
			return fmt.Errorf("无效的调度间隔: %s", interval)
		}
		o.schedulerInterval = &interval
		return nil
	}
}

// ============================================================================
//                              高级选项
// ============================================================================

// WithTransport 替换本节点的传输（测试使用内存网络）
func WithTransport(f node.TransportFactory) Option {
	return func(o *options) error {
		if f == nil {
			return fmt.Errorf("传输工厂不能为空")
		}
		o.transport = f
		return nil
	}
}

// WithFxOptions 追加用户 Fx 选项
func WithFxOptions(opts ...fx.Option) Option {
	return func(o *options) error {
		o.userFxOptions = append(o.userFxOptions, opts...)
		return nil
	}
}

// WithVerboseFx 输出 Fx 依赖注入日志
func WithVerboseFx(verbose bool) Option {
	return func(o *options) error {
		o.verboseFx = verbose
		return nil
	}
}
