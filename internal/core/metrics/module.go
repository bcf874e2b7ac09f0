package metrics

import (
	"go.uber.org/fx"

	"github.com/dep2p/go-whanau/config"
)

// Params Metrics 依赖参数
type Params struct {
	fx.In

	Config *config.Config `optional:"true"`
}

// ProvideCollector 提供收集器
func ProvideCollector() *Collector {
	return NewCollector(nil)
}

// registerServer 启用时注册指标端点的生命周期
func registerServer(lc fx.Lifecycle, p Params, c *Collector) {
	if p.Config == nil || !p.Config.Metrics.Enabled {
		return
	}
	s := NewServer(p.Config.Metrics.Addr, c)
	lc.Append(fx.Hook{
		OnStart: s.Start,
		OnStop:  s.Stop,
	})
}

// Module 返回 metrics 的 Fx 模块
func Module() fx.Option {
	return fx.Module("metrics",
		fx.Provide(ProvideCollector),
		fx.Invoke(registerServer),
	)
}
