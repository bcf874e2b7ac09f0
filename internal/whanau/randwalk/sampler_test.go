package randwalk

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-whanau/internal/core/identity"
	"github.com/dep2p/go-whanau/internal/core/record"
	"github.com/dep2p/go-whanau/internal/core/rpc"
	"github.com/dep2p/go-whanau/internal/util/logger"
	"github.com/dep2p/go-whanau/internal/whanau/state"
	"github.com/dep2p/go-whanau/pkg/types"
)

var testConfig = Config{
	MaxSteps:        4,
	PerStepTimeout:  time.Second,
	PerStepProcTime: 100 * time.Millisecond,
}

// testNode 内存网络上的一个最小节点：只服务 sampleNodes
type testNode struct {
	st      *state.State
	sampler *Sampler
	target  types.Target
}

func newTestNode(t *testing.T, n *rpc.MemNetwork, value string) *testNode {
	t.Helper()
	id, err := identity.Generate()
	require.NoError(t, err)

	tr := n.Transport(id.ID())
	st := state.New(rpc.NewClient(tr, nil), record.NewSigningValidator(id, 0), 2,
		state.WithLogger(logger.Discard()))
	node := &testNode{st: st}
	node.sampler = New(st, testConfig, 4, nil)

	srv := rpc.NewServer(tr, rpc.HandlerFunc(func(ctx context.Context, _ types.NodeID, call rpc.Call) (any, error) {
		args := call.(*rpc.SampleNodesArgs)
		return node.sampler.Sample(ctx, args.NumNodes, args.Steps)
	}), rpc.DefaultServerConfig())
	addr, err := srv.Listen("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	host, portStr, _ := net.SplitHostPort(addr.String())
	port, _ := strconv.Atoi(portStr)
	node.target = types.Target{ID: id.ID(), Host: host, Port: port}
	st.SetLocal(node.target)

	if value != "" {
		_, err = st.AddMyValue(value)
		require.NoError(t, err)
	}
	return node
}

// newRing 创建 size 个节点组成的环（双向边）
func newRing(t *testing.T, size int) (*rpc.MemNetwork, []*testNode) {
	t.Helper()
	n := rpc.NewMemNetwork()
	nodes := make([]*testNode, size)
	for i := range nodes {
		nodes[i] = newTestNode(t, n, "n"+strconv.Itoa(i))
	}
	for i, node := range nodes {
		next := nodes[(i+1)%size]
		node.st.AddPeer(next.target)
		next.st.AddPeer(node.target)
	}
	return n, nodes
}

func assertDistinctTokens(t *testing.T, samples []record.Sample) {
	t.Helper()
	seen := make(map[types.QueryToken]bool)
	for _, s := range samples {
		assert.False(t, seen[s.Token], "令牌应两两不同")
		seen[s.Token] = true
	}
}

// ============================================================================
// 边界测试
// ============================================================================

// TestSampler_StepsOutOfRange 测试步数越界无副作用
func TestSampler_StepsOutOfRange(t *testing.T) {
	_, nodes := newRing(t, 2)
	s := nodes[0].sampler

	_, err := s.Sample(context.Background(), 1, -1)
	assert.ErrorIs(t, err, ErrStepsOutOfRange)
	_, err = s.Sample(context.Background(), 1, testConfig.MaxSteps+1)
	assert.ErrorIs(t, err, ErrStepsOutOfRange)

	for _, ls := range s.Stats() {
		assert.Zero(t, ls.Fills)
		assert.Zero(t, ls.Cached)
	}
	assert.Zero(t, nodes[0].st.Snapshot().TokensCurrent, "越界不应生成令牌")

	t.Log("✅ 越界请求被拒绝")
}

// TestSampler_ZeroSteps 测试 0 步合成
func TestSampler_ZeroSteps(t *testing.T) {
	_, nodes := newRing(t, 2)

	out, err := nodes[0].sampler.Sample(context.Background(), 5, 0)
	require.NoError(t, err)
	require.Len(t, out, 5)
	for _, e := range out {
		assert.Equal(t, "n0", e.Record.Value)
		assert.True(t, nodes[0].st.CollectToken(e.Token), "令牌应由本节点签发")
	}
	assertDistinctTokens(t, out)

	t.Log("✅ 0 步游走返回本节点记录")
}

// TestSampler_ZeroStepsNoRecords 测试没有发布值时 0 步失败
func TestSampler_ZeroStepsNoRecords(t *testing.T) {
	node := newTestNode(t, rpc.NewMemNetwork(), "")

	_, err := node.sampler.Sample(context.Background(), 1, 0)
	assert.ErrorIs(t, err, state.ErrNoRecords)

	t.Log("✅ 无记录时失败")
}

// TestSampler_NoActivePeers 测试没有邻居时立即失败
func TestSampler_NoActivePeers(t *testing.T) {
	node := newTestNode(t, rpc.NewMemNetwork(), "v")

	_, err := node.sampler.Sample(context.Background(), 1, 1)
	assert.ErrorIs(t, err, ErrNoActivePeers)

	t.Log("✅ 无活跃邻居立即失败")
}

// ============================================================================
// 远程游走测试
// ============================================================================

// TestSampler_RemoteWalk 测试多步游走
func TestSampler_RemoteWalk(t *testing.T) {
	_, nodes := newRing(t, 4)
	s := nodes[0].sampler

	out, err := s.Sample(context.Background(), 3, 2)
	require.NoError(t, err)
	require.Len(t, out, 3)
	for _, e := range out {
		assert.True(t, record.Check(nodes[0].st.Validator(), e.Record))
	}
	assertDistinctTokens(t, out)

	// 首次填充按 depth*(max-level+1) 预取，后续请求直接由缓存满足
	fills := func() int {
		total := 0
		for _, ls := range s.Stats() {
			total += ls.Fills
		}
		return total
	}
	before := fills()
	out, err = s.Sample(context.Background(), 2, 2)
	require.NoError(t, err)
	assert.Len(t, out, 2)
	assert.Equal(t, before, fills(), "缓存足够时不应再填充")

	t.Log("✅ 多步游走成功")
}

// TestSampler_DeadPeer 测试失效邻居被标记为不活跃且不阻塞其他邻居
func TestSampler_DeadPeer(t *testing.T) {
	n, nodes := newRing(t, 3)
	dead := nodes[1]
	n.SetDown(dead.target.Addr(), true)

	s := nodes[0].sampler
	_, _ = s.Sample(context.Background(), 2, 1)

	for _, ch := range nodes[0].st.Peers() {
		if ch.Target().ID == dead.target.ID {
			assert.False(t, ch.Active(), "失败一次后应标记为不活跃")
		} else {
			assert.True(t, ch.Active())
		}
	}

	// 之后的填充只发往活跃邻居
	out, err := s.Sample(context.Background(), 2, 1)
	require.NoError(t, err)
	for _, e := range out {
		assert.NotEqual(t, dead.target.ID, e.Record.Owner())
	}

	t.Log("✅ 失效邻居被排除")
}

// TestSampler_HungPeer 测试接受连接但从不回复的邻居在填充到期后被标记为不活跃
func TestSampler_HungPeer(t *testing.T) {
	n, nodes := newRing(t, 2)

	id, err := identity.Generate()
	require.NoError(t, err)
	srv := rpc.NewServer(n.Transport(id.ID()), rpc.HandlerFunc(
		func(ctx context.Context, _ types.NodeID, _ rpc.Call) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}), rpc.DefaultServerConfig())
	addr, err := srv.Listen("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })
	host, portStr, _ := net.SplitHostPort(addr.String())
	port, _ := strconv.Atoi(portStr)
	hung := types.Target{ID: id.ID(), Host: host, Port: port}
	nodes[0].st.AddPeer(hung)

	cfg := testConfig
	cfg.PerStepTimeout = 200 * time.Millisecond
	s := New(nodes[0].st, cfg, 4, nil)

	start := time.Now()
	_, _ = s.Sample(context.Background(), 2, 1)
	assert.Less(t, time.Since(start), 2*time.Second)

	for _, ch := range nodes[0].st.Peers() {
		if ch.Target().ID == hung.ID {
			assert.False(t, ch.Active(), "到期未回复应标记为不活跃")
		} else {
			assert.True(t, ch.Active())
		}
	}

	t.Log("✅ 不回复的邻居被标记为不活跃")
}

// TestSampler_Reset 测试重置清空缓存
func TestSampler_Reset(t *testing.T) {
	_, nodes := newRing(t, 2)
	s := nodes[0].sampler

	_, err := s.Sample(context.Background(), 1, 1)
	require.NoError(t, err)

	s.Reset(7)
	assert.Equal(t, 7, s.Depth())
	for _, ls := range s.Stats() {
		assert.Zero(t, ls.Cached)
		assert.Zero(t, ls.Fills)
	}
	assert.Contains(t, s.String(), "depth=7")

	t.Log("✅ 重置正确")
}

// TestSampler_ResetDuringFill 测试重置后旧一轮仍在进行的填充结果被丢弃
func TestSampler_ResetDuringFill(t *testing.T) {
	n := rpc.NewMemNetwork()
	self := newTestNode(t, n, "self")
	source := newTestNode(t, n, "source")

	arrived := make(chan struct{}, 1)
	release := make(chan struct{})
	id, err := identity.Generate()
	require.NoError(t, err)
	srv := rpc.NewServer(n.Transport(id.ID()), rpc.HandlerFunc(
		func(ctx context.Context, _ types.NodeID, call rpc.Call) (any, error) {
			select {
			case arrived <- struct{}{}:
			default:
			}
			<-release
			args := call.(*rpc.SampleNodesArgs)
			return source.sampler.Sample(ctx, args.NumNodes, args.Steps)
		}), rpc.DefaultServerConfig())
	addr, err := srv.Listen("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })
	host, portStr, _ := net.SplitHostPort(addr.String())
	port, _ := strconv.Atoi(portStr)
	self.st.AddPeer(types.Target{ID: id.ID(), Host: host, Port: port})

	done := make(chan error, 1)
	go func() {
		_, err := self.sampler.Sample(context.Background(), 2, 1)
		done <- err
	}()

	<-arrived
	self.sampler.Reset(4)
	close(release)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrExhausted)
	case <-time.After(5 * time.Second):
		t.Fatal("采样未结束")
	}
	for _, ls := range self.sampler.Stats() {
		assert.Zero(t, ls.Cached, "level %d", ls.Level)
	}

	t.Log("✅ 旧一轮的填充结果被丢弃")
}

// TestConfig_FillTimeout 测试填充期限
func TestConfig_FillTimeout(t *testing.T) {
	cfg := Config{PerStepTimeout: 17 * time.Second, PerStepProcTime: 3 * time.Second}
	assert.Equal(t, 17*time.Second, cfg.FillTimeout(1))
	assert.Equal(t, 137*time.Second, cfg.FillTimeout(7))
}
