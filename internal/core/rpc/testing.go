package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/dep2p/go-whanau/pkg/types"
)

// ============================================================================
//                              内存网络（测试用）
// ============================================================================

// ErrConnRefused 目标地址没有监听者或已下线
var ErrConnRefused = errors.New("rpc: connection refused")

// MemNetwork 基于 net.Pipe 的内存网络
//
// 用于在单进程内运行多节点协议测试，不占用真实端口。
// 每个端点的身份由创建 Transport 时指定，拨号时按 target.ID 校验。
type MemNetwork struct {
	mu        sync.Mutex
	listeners map[string]*memListener
	down      map[string]bool
	nextPort  int
}

// NewMemNetwork 创建内存网络
func NewMemNetwork() *MemNetwork {
	return &MemNetwork{
		listeners: make(map[string]*memListener),
		down:      make(map[string]bool),
		nextPort:  10000,
	}
}

// Transport 返回以 id 为身份的端点
func (n *MemNetwork) Transport(id types.NodeID) *MemTransport {
	return &MemTransport{network: n, id: id}
}

// SetDown 模拟 addr 不可达（拨号立即失败）
func (n *MemNetwork) SetDown(addr string, down bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.down[addr] = down
}

// MemTransport 内存网络上的一个端点，实现 Transport
type MemTransport struct {
	network *MemNetwork
	id      types.NodeID
}

// DialPeer 实现 Dialer
func (t *MemTransport) DialPeer(ctx context.Context, target types.Target) (net.Conn, error) {
	n := t.network
	addr := target.Addr()

	n.mu.Lock()
	l := n.listeners[addr]
	down := n.down[addr]
	n.mu.Unlock()

	if l == nil || down {
		return nil, fmt.Errorf("%w: %s", ErrConnRefused, addr)
	}
	if l.id != target.ID {
		return nil, fmt.Errorf("mem: node ID mismatch at %s", addr)
	}

	client, server := net.Pipe()
	select {
	case l.conns <- &memConn{Conn: server, remote: t.id}:
		return client, nil
	case <-l.done:
		_ = client.Close()
		_ = server.Close()
		return nil, fmt.Errorf("%w: %s", ErrConnRefused, addr)
	case <-ctx.Done():
		_ = client.Close()
		_ = server.Close()
		return nil, ctx.Err()
	}
}

// Listen 实现 Transport，端口为 0 时自动分配
func (t *MemTransport) Listen(addr string) (net.Listener, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}

	n := t.network
	n.mu.Lock()
	defer n.mu.Unlock()

	if port == "0" {
		n.nextPort++
		port = strconv.Itoa(n.nextPort)
	}
	addr = net.JoinHostPort(host, port)
	if _, ok := n.listeners[addr]; ok {
		return nil, fmt.Errorf("mem: address in use: %s", addr)
	}

	l := &memListener{
		network: n,
		id:      t.id,
		addr:    memAddr(addr),
		conns:   make(chan net.Conn),
		done:    make(chan struct{}),
	}
	n.listeners[addr] = l
	return l, nil
}

// SecureInbound 实现 Transport，直接返回拨号方身份
func (t *MemTransport) SecureInbound(_ context.Context, raw net.Conn) (net.Conn, types.NodeID, error) {
	mc, ok := raw.(*memConn)
	if !ok {
		return nil, types.EmptyNodeID, fmt.Errorf("mem: unexpected conn %T", raw)
	}
	return mc, mc.remote, nil
}

// memConn 携带拨号方身份的连接
type memConn struct {
	net.Conn
	remote types.NodeID
}

// memAddr 内存地址
type memAddr string

func (a memAddr) Network() string { return "mem" }
func (a memAddr) String() string  { return string(a) }

// memListener 内存监听者
type memListener struct {
	network *MemNetwork
	id      types.NodeID
	addr    memAddr
	conns   chan net.Conn
	done    chan struct{}
	once    sync.Once
}

func (l *memListener) Accept() (net.Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.done:
		return nil, net.ErrClosed
	}
}

func (l *memListener) Close() error {
	l.once.Do(func() {
		l.network.mu.Lock()
		delete(l.network.listeners, string(l.addr))
		l.network.mu.Unlock()
		close(l.done)
	})
	return nil
}

func (l *memListener) Addr() net.Addr {
	return l.addr
}
