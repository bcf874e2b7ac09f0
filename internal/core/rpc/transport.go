package rpc

import (
	"context"
	"net"

	"github.com/dep2p/go-whanau/pkg/types"
)

// Dialer 创建到目标的已认证连接
//
// 实现必须校验对端身份等于 target.ID。
type Dialer interface {
	DialPeer(ctx context.Context, target types.Target) (net.Conn, error)
}

// Transport 安全传输工厂
//
// 由 security/tls.Transport 实现；测试中由 MemNetwork 实现。
type Transport interface {
	Dialer

	// Listen 在 addr 上监听原始连接
	Listen(addr string) (net.Listener, error)

	// SecureInbound 对入站连接握手并提取调用方身份
	SecureInbound(ctx context.Context, raw net.Conn) (net.Conn, types.NodeID, error)
}
