package tls

import (
	"go.uber.org/fx"

	"github.com/dep2p/go-whanau/config"
	"github.com/dep2p/go-whanau/internal/core/identity"
	"github.com/dep2p/go-whanau/internal/core/rpc"
)

// ModuleInput 定义模块输入依赖
type ModuleInput struct {
	fx.In

	Identity *identity.Identity
	Config   *config.Config `optional:"true"`
}

// ModuleOutput 定义模块输出服务
type ModuleOutput struct {
	fx.Out

	Transport rpc.Transport
}

// ProvideTransport 提供绑定本地身份的 TLS 传输
func ProvideTransport(input ModuleInput) (ModuleOutput, error) {
	timeout := DefaultHandshakeTimeout
	if input.Config != nil {
		timeout = input.Config.Timeouts.Handshake.Duration()
	}
	t, err := NewTransport(input.Identity, timeout)
	if err != nil {
		return ModuleOutput{}, err
	}
	return ModuleOutput{Transport: t}, nil
}

// Module 返回安全传输 Fx 模块
func Module() fx.Option {
	return fx.Module("security/tls",
		fx.Provide(ProvideTransport),
	)
}
