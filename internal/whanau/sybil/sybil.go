// Package sybil 提供对抗性节点
//
// Sybil 节点不参与 setup，只回答三条命令：
//
//   - getID：任何层都返回同一个目标键，试图让诚实节点的 finger 聚集在目标附近
//   - getPubKeyHash：返回自身身份
//   - sampleNodes：不做随机游走，只返回自己的记录（附新令牌）
//
// 其余命令一律失败。用于测试与本地网络中观察 Sybil 抗性。
package sybil

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/dep2p/go-whanau/internal/core/identity"
	"github.com/dep2p/go-whanau/internal/core/record"
	"github.com/dep2p/go-whanau/internal/core/rpc"
	"github.com/dep2p/go-whanau/internal/util/logger"
	"github.com/dep2p/go-whanau/internal/whanau/state"
	"github.com/dep2p/go-whanau/pkg/types"
)

var log = logger.Logger("whanau/sybil")

// ErrUnsupported Sybil 节点不回答的命令
var ErrUnsupported = errors.New("sybil: command not supported")

// Node Sybil 节点
type Node struct {
	id        *identity.Identity
	targetKey types.Key
	st        *state.State
	server    *rpc.Server
	log       *slog.Logger
}

// New 创建 Sybil 节点
//
// targetKey 为聚集攻击的目标键。
func New(id *identity.Identity, transport rpc.Transport, targetKey types.Key) *Node {
	nlog := log.With("node", id.ID().ShortString())
	n := &Node{
		id:        id,
		targetKey: targetKey,
		st: state.New(rpc.NewClient(transport, nil), record.NewSigningValidator(id, 0), 1,
			state.WithLogger(nlog)),
		log: nlog,
	}
	n.server = rpc.NewServer(transport, n, rpc.DefaultServerConfig())
	return n
}

// Start 在 addr 上监听，返回对外目标
func (n *Node) Start(addr string) (types.Target, error) {
	a, err := n.server.Listen(addr)
	if err != nil {
		return types.Target{}, err
	}
	host, portStr, err := net.SplitHostPort(a.String())
	if err != nil {
		_ = n.server.Close()
		return types.Target{}, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		_ = n.server.Close()
		return types.Target{}, err
	}

	target := types.Target{ID: n.id.ID(), Host: host, Port: port}
	n.st.SetLocal(target)
	n.log.Info("Sybil 节点已启动", "addr", a.String(), "target_key", n.targetKey)
	return target, nil
}

// Publish 发布一个值（sampleNodes 返回这些记录）
func (n *Node) Publish(value string) error {
	_, err := n.st.AddMyValue(value)
	return err
}

// Target 返回对外目标（启动后有效）
func (n *Node) Target() types.Target {
	return n.st.Local()
}

// TargetKey 返回攻击的目标键
func (n *Node) TargetKey() types.Key {
	return n.targetKey
}

// Close 停止监听
func (n *Node) Close() error {
	return n.server.Close()
}

// Handle 实现 rpc.Handler
func (n *Node) Handle(_ context.Context, caller types.NodeID, call rpc.Call) (any, error) {
	switch c := call.(type) {
	case *rpc.GetIDArgs:
		return n.targetKey, nil
	case *rpc.GetPubKeyHashArgs:
		return n.id.ID().String(), nil
	case *rpc.SampleNodesArgs:
		out := make([]record.Sample, 0, c.NumNodes)
		for i := 0; i < c.NumNodes; i++ {
			rec, err := n.st.RandomMyRecord()
			if err != nil {
				return nil, err
			}
			out = append(out, record.Sample{Record: rec, Token: n.st.GenerateToken()})
		}
		return out, nil
	}
	n.log.Debug("忽略命令", "cmd", call.Command(), "caller", caller.ShortString())
	return nil, fmt.Errorf("%w: %s", ErrUnsupported, call.Command())
}
