package scheduler

import (
	"context"

	"go.uber.org/fx"

	"github.com/dep2p/go-whanau/config"
	"github.com/dep2p/go-whanau/internal/whanau/node"
	"github.com/dep2p/go-whanau/internal/whanau/setup"
)

// Params 调度器依赖
type Params struct {
	fx.In

	Config *config.Config `optional:"true"`
	Node   *node.Node
}

// register 启用时注册调度器的生命周期
func register(lc fx.Lifecycle, p Params) {
	if p.Config == nil || !p.Config.Scheduler.Enabled {
		return
	}
	s := New(p.Node, p.Config.Scheduler.Interval.Duration(), setup.Params{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			s.Start()
			return nil
		},
		OnStop: func(context.Context) error {
			s.Stop()
			return nil
		},
	})
}

// Module 返回调度器 Fx 模块
func Module() fx.Option {
	return fx.Module("whanau/scheduler",
		fx.Invoke(register),
	)
}
