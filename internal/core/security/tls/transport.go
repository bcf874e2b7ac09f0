package tls

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"time"

	"github.com/dep2p/go-whanau/internal/core/identity"
	"github.com/dep2p/go-whanau/internal/util/logger"
	"github.com/dep2p/go-whanau/pkg/types"
)

var log = logger.Logger("security/tls")

// DefaultHandshakeTimeout 默认握手超时
const DefaultHandshakeTimeout = 10 * time.Second

// Transport TLS 安全传输工厂
//
// 绑定一个本地身份，创建出站连接并接受入站连接。
type Transport struct {
	id               *identity.Identity
	cert             *tls.Certificate
	handshakeTimeout time.Duration
	dialer           net.Dialer
}

// NewTransport 创建 TLS 传输
func NewTransport(id *identity.Identity, handshakeTimeout time.Duration) (*Transport, error) {
	if id == nil {
		return nil, fmt.Errorf("identity 不能为空")
	}
	cert, err := GenerateCertificate(id)
	if err != nil {
		return nil, err
	}
	if handshakeTimeout <= 0 {
		handshakeTimeout = DefaultHandshakeTimeout
	}
	return &Transport{
		id:               id,
		cert:             cert,
		handshakeTimeout: handshakeTimeout,
	}, nil
}

// LocalID 返回本地身份
func (t *Transport) LocalID() types.NodeID {
	return t.id.ID()
}

// clientConfig 出站配置，握手时校验 expected
func (t *Transport) clientConfig(expected types.NodeID) *tls.Config {
	return &tls.Config{
		MinVersion:   tls.VersionTLS13,
		Certificates: []tls.Certificate{*t.cert},
		// 不使用 CA 链，身份由 VerifyPeerCertificate 校验
		InsecureSkipVerify: true, //nolint:gosec
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			return verifyPeerCertificate(rawCerts, expected)
		},
	}
}

// serverConfig 入站配置，要求客户端证书
func (t *Transport) serverConfig() *tls.Config {
	return &tls.Config{
		MinVersion:   tls.VersionTLS13,
		Certificates: []tls.Certificate{*t.cert},
		ClientAuth:   tls.RequireAnyClientCert,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			return verifyPeerCertificate(rawCerts, types.EmptyNodeID)
		},
	}
}

// DialPeer 建立到 target 的安全连接
//
// 对端证书派生的身份必须等于 target.ID。
func (t *Transport) DialPeer(ctx context.Context, target types.Target) (net.Conn, error) {
	raw, err := t.dialer.DialContext(ctx, "tcp", target.Addr())
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target.Addr(), err)
	}

	conn := tls.Client(raw, t.clientConfig(target.ID))
	if err := t.handshake(ctx, conn); err != nil {
		return nil, err
	}

	log.Debug("出站 TLS 握手成功", "remote", target.String())
	return conn, nil
}

// Listen 在 addr 上监听（返回的连接尚未握手）
func (t *Transport) Listen(addr string) (net.Listener, error) {
	return net.Listen("tcp", addr)
}

// SecureInbound 对入站连接执行握手并提取调用方身份
func (t *Transport) SecureInbound(ctx context.Context, raw net.Conn) (net.Conn, types.NodeID, error) {
	conn := tls.Server(raw, t.serverConfig())
	if err := t.handshake(ctx, conn); err != nil {
		return nil, types.EmptyNodeID, err
	}

	remote, err := nodeIDFromState(conn.ConnectionState())
	if err != nil {
		_ = conn.Close()
		return nil, types.EmptyNodeID, fmt.Errorf("提取远程身份失败: %w", err)
	}

	log.Debug("入站 TLS 握手成功", "remote", remote.ShortString(), "addr", raw.RemoteAddr().String())
	return conn, remote, nil
}

// handshake 带超时握手，失败时关闭连接
func (t *Transport) handshake(ctx context.Context, conn *tls.Conn) error {
	ctx, cancel := context.WithTimeout(ctx, t.handshakeTimeout)
	defer cancel()

	if err := conn.HandshakeContext(ctx); err != nil {
		_ = conn.Close()
		return fmt.Errorf("TLS 握手失败: %w", err)
	}
	return nil
}
