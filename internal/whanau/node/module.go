package node

import (
	"context"

	"go.uber.org/fx"

	"github.com/dep2p/go-whanau/config"
	"github.com/dep2p/go-whanau/internal/core/identity"
	"github.com/dep2p/go-whanau/internal/core/rpc"
)

// ============================================================================
//                              模块输入依赖
// ============================================================================

// Params 节点依赖
type Params struct {
	fx.In

	Config    *config.Config `optional:"true"`
	Identity  *identity.Identity
	Transport rpc.Transport `optional:"true"`
	Observer  Observer      `optional:"true"`
}

// ============================================================================
//                              服务提供
// ============================================================================

// ProvideNode 提供节点
//
// 注入了 Transport 时本节点使用它，子节点仍按配置创建 TLS 传输。
func ProvideNode(p Params) (*Node, error) {
	cfg := p.Config
	if cfg == nil {
		cfg = config.NewConfig()
	}

	var opts []Option
	if p.Transport != nil {
		fallback := TLSTransportFactory(cfg.Timeouts.Handshake.Duration())
		own := p.Identity.ID()
		opts = append(opts, WithTransportFactory(func(id *identity.Identity) (rpc.Transport, error) {
			if id.ID() == own {
				return p.Transport, nil
			}
			return fallback(id)
		}))
	}
	if p.Observer != nil {
		opts = append(opts, WithObserver(p.Observer))
	}
	return New(cfg, p.Identity, opts...)
}

// registerLifecycle 注册生命周期钩子
func registerLifecycle(lc fx.Lifecycle, n *Node) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return n.Start(ctx)
		},
		OnStop: func(_ context.Context) error {
			return n.Close()
		},
	})
}

// Module 返回节点 Fx 模块
func Module() fx.Option {
	return fx.Module("whanau/node",
		fx.Provide(ProvideNode),
		fx.Invoke(registerLifecycle),
	)
}
