package localnet

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-whanau/config"
	"github.com/dep2p/go-whanau/internal/core/identity"
	"github.com/dep2p/go-whanau/internal/core/rpc"
	"github.com/dep2p/go-whanau/internal/whanau/node"
)

func smallConfig() *config.Config {
	cfg := config.NewConfig()
	cfg.Protocol.W = 3
	cfg.Protocol.RD = 8
	cfg.Protocol.RF = 8
	cfg.Protocol.RS = 8
	cfg.Protocol.NumLayers = 2
	cfg.Protocol.MaxSampleFailures = 3
	cfg.Timeouts.PerStep = config.Duration(2 * time.Second)
	cfg.Timeouts.PerStepProc = config.Duration(100 * time.Millisecond)
	cfg.Timeouts.GetID = config.Duration(5 * time.Second)
	cfg.Timeouts.SuccessorsSample = config.Duration(5 * time.Second)
	cfg.Timeouts.WaitSetup = config.Duration(2 * time.Second)
	cfg.Timeouts.Lookup = config.Duration(3 * time.Second)
	cfg.Timeouts.Query = config.Duration(2 * time.Second)
	cfg.Timeouts.JoinSetup = config.Duration(time.Minute)
	return cfg
}

func memFactory(mem *rpc.MemNetwork) node.TransportFactory {
	return func(id *identity.Identity) (rpc.Transport, error) {
		return mem.Transport(id.ID()), nil
	}
}

// TestConfig_Defaults 测试默认参数
func TestConfig_Defaults(t *testing.T) {
	n := New(Config{Transport: memFactory(rpc.NewMemNetwork())})
	assert.Equal(t, DefaultNodes, n.cfg.Nodes)
	assert.Equal(t, DefaultPeers, n.cfg.Peers)
	assert.Equal(t, DefaultLookups, n.cfg.Lookups)
	assert.Equal(t, DefaultThreads, n.cfg.Threads)
	assert.NotNil(t, n.cfg.Node)
	assert.NotZero(t, n.cfg.Seed)
}

// TestNetwork_Graph 测试社交图的连接
func TestNetwork_Graph(t *testing.T) {
	n := New(Config{
		Nodes:     5,
		Peers:     2,
		Node:      smallConfig(),
		Transport: memFactory(rpc.NewMemNetwork()),
		Seed:      42,
	})
	t.Cleanup(func() { _ = n.Close() })
	require.NoError(t, n.Start(context.Background()))

	require.Len(t, n.Nodes(), 5)
	total := 0
	for i, nd := range n.Nodes() {
		peers := nd.State().Peers()
		assert.Len(t, peers, len(n.edges[i]), "node %d", i)
		for _, p := range peers {
			assert.NotEqual(t, nd.ID(), p.Target().ID, "不应有自环")
		}
		total += len(peers)
	}
	assert.Equal(t, n.Edges(), total)

	t.Log("✅ 社交图连接正确")
}

// TestNetwork_Run 测试完整的本地网络运行
func TestNetwork_Run(t *testing.T) {
	if testing.Short() {
		t.Skip("跳过多节点测试")
	}

	n := New(Config{
		Nodes:     8,
		Peers:     3,
		Lookups:   8,
		Threads:   4,
		Node:      smallConfig(),
		Transport: memFactory(rpc.NewMemNetwork()),
		Seed:      7,
	})
	t.Cleanup(func() { _ = n.Close() })

	rep, err := n.Run(context.Background())
	require.NoError(t, err)
	t.Log(rep.String())

	assert.Equal(t, 8, rep.Nodes)
	assert.Equal(t, 8, rep.Lookups)
	assert.Zero(t, rep.Forged)
	assert.LessOrEqual(t, rep.Failures, rep.Lookups/4)
	assert.Positive(t, rep.Setup)

	t.Log("✅ 本地网络运行通过")
}

// TestNetwork_RunWithSybils 测试加入 Sybil 节点后不返回伪造记录
func TestNetwork_RunWithSybils(t *testing.T) {
	if testing.Short() {
		t.Skip("跳过多节点测试")
	}

	n := New(Config{
		Nodes:     8,
		Peers:     3,
		Sybils:    2,
		Lookups:   8,
		Threads:   4,
		Node:      smallConfig(),
		Transport: memFactory(rpc.NewMemNetwork()),
		Seed:      11,
	})
	t.Cleanup(func() { _ = n.Close() })

	rep, err := n.Run(context.Background())
	require.NoError(t, err)
	t.Log(rep.String())

	assert.Equal(t, 2, rep.Sybils)
	assert.Len(t, n.Sybils(), 2)
	assert.Zero(t, rep.Forged)

	t.Log("✅ Sybil 网络运行通过")
}

// TestNetwork_TLS 测试 TLS 传输下的本地网络
func TestNetwork_TLS(t *testing.T) {
	if testing.Short() {
		t.Skip("跳过 TLS 多节点测试")
	}

	n := New(Config{
		Nodes:   5,
		Peers:   2,
		Lookups: 4,
		Threads: 4,
		Node:    smallConfig(),
		Seed:    3,
	})
	t.Cleanup(func() { _ = n.Close() })

	rep, err := n.Run(context.Background())
	require.NoError(t, err)
	t.Log(rep.String())
	assert.Zero(t, rep.Forged)

	t.Log("✅ TLS 本地网络运行通过")
}

// TestNetwork_CloseBeforeStart 测试未启动时关闭
func TestNetwork_CloseBeforeStart(t *testing.T) {
	n := New(Config{Transport: memFactory(rpc.NewMemNetwork())})
	assert.NoError(t, n.Close())
}

// TestNetwork_Baseline 测试基准规模：20 节点、每节点 3 条随机边、w=7、rd=rf=rs=10，查找全部成功
func TestNetwork_Baseline(t *testing.T) {
	if testing.Short() {
		t.Skip("跳过多节点测试")
	}

	cfg := config.NewConfig()
	cfg.Protocol.W = 7
	cfg.Protocol.RD = 10
	cfg.Protocol.RF = 10
	cfg.Protocol.RS = 10

	n := New(Config{
		Nodes:     20,
		Peers:     3,
		Lookups:   10,
		Node:      cfg,
		Transport: memFactory(rpc.NewMemNetwork()),
		Seed:      1,
	})
	t.Cleanup(func() { _ = n.Close() })

	rep, err := n.Run(context.Background())
	require.NoError(t, err)
	t.Log(rep.String())

	assert.Equal(t, 20, rep.Nodes)
	assert.Equal(t, 10, rep.Lookups)
	assert.Empty(t, rep.Failed, "所有节点都应完成 setup")
	assert.Zero(t, rep.Failures)
	assert.Zero(t, rep.Forged)

	t.Log("✅ 基准网络查找全部成功")
}
