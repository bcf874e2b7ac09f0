package node

import (
	"context"
	"net"
	"time"

	"github.com/dep2p/go-whanau/internal/core/identity"
	"github.com/dep2p/go-whanau/internal/core/rpc"
	"github.com/dep2p/go-whanau/internal/core/security/tls"
	"github.com/dep2p/go-whanau/internal/whanau/lookup"
	"github.com/dep2p/go-whanau/internal/whanau/randwalk"
	"github.com/dep2p/go-whanau/internal/whanau/setup"
	"github.com/dep2p/go-whanau/pkg/types"
)

// Observer 节点各组件的观察者（指标使用）
type Observer interface {
	rpc.Observer
	randwalk.FillObserver
	setup.Observer
	lookup.Observer

	// ObserveRejection 一次被访问控制拒绝的调用
	ObserveRejection(cmd rpc.Command, err error)
}

// TransportFactory 为身份创建安全传输
//
// 子节点使用独立身份，因此需要工厂而不是单个传输。
type TransportFactory func(id *identity.Identity) (rpc.Transport, error)

// TLSTransportFactory 返回使用 TLS 传输的工厂
func TLSTransportFactory(handshakeTimeout time.Duration) TransportFactory {
	return func(id *identity.Identity) (rpc.Transport, error) {
		return tls.NewTransport(id, handshakeTimeout)
	}
}

// options 节点选项
type options struct {
	transport TransportFactory
	observer  Observer
	workers   int
}

// Option 节点选项函数
type Option func(*options)

// WithTransportFactory 指定传输工厂（测试使用内存网络）
func WithTransportFactory(f TransportFactory) Option {
	return func(o *options) { o.transport = f }
}

// WithObserver 指定观察者
func WithObserver(obs Observer) Option {
	return func(o *options) { o.observer = obs }
}

// WithWorkers 限制批量调用的并发度（<= 0 不限制）
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// dialer 给出站建连加上期限
type dialer struct {
	rpc.Dialer
	timeout time.Duration
}

// DialPeer 实现 rpc.Dialer
func (d dialer) DialPeer(ctx context.Context, target types.Target) (net.Conn, error) {
	if d.timeout <= 0 {
		return d.Dialer.DialPeer(ctx, target)
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return d.Dialer.DialPeer(ctx, target)
}
