package state

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-whanau/internal/core/identity"
	"github.com/dep2p/go-whanau/internal/core/record"
	"github.com/dep2p/go-whanau/internal/core/rpc"
	"github.com/dep2p/go-whanau/pkg/types"
)

func newTestState(t *testing.T) (*State, *identity.Identity) {
	t.Helper()
	id, err := identity.Generate()
	require.NoError(t, err)
	net := rpc.NewMemNetwork()
	s := New(rpc.NewClient(net.Transport(id.ID()), nil), record.NewSigningValidator(id, 0), 3)
	s.SetLocal(types.Target{ID: id.ID(), Host: "127.0.0.1", Port: 4000})
	return s, id
}

func randomTarget(t *testing.T, port int) types.Target {
	t.Helper()
	id, err := identity.Generate()
	require.NoError(t, err)
	return types.Target{ID: id.ID(), Host: "127.0.0.1", Port: port}
}

// ============================================================================
// 阶段门测试
// ============================================================================

// TestState_WaitForStage 测试等待者在阶段推进后被唤醒
func TestState_WaitForStage(t *testing.T) {
	s, _ := newTestState(t)

	done := make(chan error, 1)
	go func() {
		done <- s.WaitForStage(context.Background(), 2)
	}()

	s.AdvanceStage(1)
	select {
	case <-done:
		t.Fatal("阶段 1 不应唤醒等待阶段 2 的调用")
	case <-time.After(50 * time.Millisecond):
	}

	s.AdvanceStage(2)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("阶段 2 后等待者应返回")
	}

	// 已达到的阶段立即返回
	assert.NoError(t, s.WaitForStage(context.Background(), 1))

	t.Log("✅ 阶段门唤醒正确")
}

// TestState_WaitForStageCancel 测试 ctx 取消
func TestState_WaitForStageCancel(t *testing.T) {
	s, _ := newTestState(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := s.WaitForStage(ctx, 5)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	t.Log("✅ 等待可被取消")
}

// TestState_AdvanceStageMonotonic 测试阶段只前进
func TestState_AdvanceStageMonotonic(t *testing.T) {
	s, _ := newTestState(t)

	s.AdvanceStage(3)
	s.AdvanceStage(1)
	assert.Equal(t, 3, s.Stage())

	// 控制命令可以重置
	s.SetStage(0)
	assert.Equal(t, 0, s.Stage())

	t.Log("✅ 阶段单调推进")
}

// ============================================================================
// 令牌测试
// ============================================================================

// TestState_Tokens 测试令牌一次性与两代轮换
func TestState_Tokens(t *testing.T) {
	s, _ := newTestState(t)

	old := s.GenerateToken()
	s.ClearTokens()
	cur := s.GenerateToken()

	// 上一代令牌仍然有效
	assert.True(t, s.CollectToken(old))
	assert.False(t, s.CollectToken(old), "令牌只能消耗一次")

	assert.True(t, s.CollectToken(cur))
	assert.False(t, s.CollectToken(cur))

	// 两次轮换后令牌失效
	stale := s.GenerateToken()
	s.ClearTokens()
	s.ClearTokens()
	assert.False(t, s.CollectToken(stale))

	assert.False(t, s.CollectToken("unknown"))

	t.Log("✅ 令牌语义正确")
}

// ============================================================================
// 邻居测试
// ============================================================================

// TestState_Peers 测试邻居与游走计数
func TestState_Peers(t *testing.T) {
	s, _ := newTestState(t)
	a := randomTarget(t, 5001)
	b := randomTarget(t, 5002)

	s.AddPeer(a)
	s.AddPeer(b)
	assert.True(t, s.IsPeer(a.ID))
	assert.Len(t, s.Peers(), 2)

	n, ok := s.AddWalkCount(a.ID, 10)
	require.True(t, ok)
	assert.Equal(t, 10, n)
	n, _ = s.AddWalkCount(a.ID, 5)
	assert.Equal(t, 15, n)

	_, ok = s.AddWalkCount(randomTarget(t, 1).ID, 1)
	assert.False(t, ok, "非邻居不计数")

	s.ResetWalkCounts()
	n, _ = s.AddWalkCount(a.ID, 1)
	assert.Equal(t, 1, n)

	// 不活跃邻居被过滤，重置后恢复
	for _, ch := range s.Peers() {
		if ch.Target().ID == b.ID {
			ch.SetActive(false)
		}
	}
	active := s.ActivePeers()
	require.Len(t, active, 1)
	assert.Equal(t, a.ID, active[0].Target().ID)

	s.ResetPeerActive()
	assert.Len(t, s.ActivePeers(), 2)

	s.RemoveAllPeers()
	assert.Empty(t, s.Peers())
	assert.False(t, s.IsPeer(a.ID))

	t.Log("✅ 邻居管理正确")
}

// ============================================================================
// 记录测试
// ============================================================================

// TestState_MyValues 测试发布与重新签名
func TestState_MyValues(t *testing.T) {
	s, id := newTestState(t)

	_, err := s.RandomMyRecord()
	assert.ErrorIs(t, err, ErrNoRecords)

	r, err := s.AddMyValue("hello")
	require.NoError(t, err)
	assert.Equal(t, id.ID(), r.Owner())
	assert.True(t, record.Check(s.Validator(), r))

	got, err := s.RandomMyRecord()
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Value)

	s.ResignValues()
	recs := s.MyRecords()
	require.Len(t, recs, 1)
	assert.True(t, record.Check(s.Validator(), recs[0]))
	assert.Equal(t, []string{"hello"}, s.MyValues())

	t.Log("✅ 本节点记录管理正确")
}

// TestState_AddMyValueWithoutLocal 测试未设置本地地址
func TestState_AddMyValueWithoutLocal(t *testing.T) {
	id, err := identity.Generate()
	require.NoError(t, err)
	s := New(rpc.NewClient(rpc.NewMemNetwork().Transport(id.ID()), nil), record.NewSigningValidator(id, 0), 1)

	_, err = s.AddMyValue("x")
	assert.ErrorIs(t, err, ErrLocalUnknown)

	t.Log("✅ 未知本地地址被拒绝")
}

// ============================================================================
// 路由表测试
// ============================================================================

// TestState_Layers 测试层号越界与整体替换
func TestState_Layers(t *testing.T) {
	s, _ := newTestState(t)

	_, err := s.ID(3)
	assert.ErrorIs(t, err, ErrLayerOutOfRange)
	_, err = s.ID(-1)
	assert.ErrorIs(t, err, ErrLayerOutOfRange)
	assert.ErrorIs(t, s.SetFingers(7, nil), ErrLayerOutOfRange)

	require.NoError(t, s.SetID(1, "k1"))
	id, err := s.ID(1)
	require.NoError(t, err)
	assert.Equal(t, types.Key("k1"), id)

	target := randomTarget(t, 6000)
	require.NoError(t, s.SetFingers(0, map[types.Key]types.Target{"f": target}))
	fid, ok := s.RandomFingerID(0)
	require.True(t, ok)
	assert.Equal(t, types.Key("f"), fid)
	_, ok = s.RandomFingerID(1)
	assert.False(t, ok)

	r, err := s.AddMyValue("v")
	require.NoError(t, err)
	require.NoError(t, s.SetSuccessors(2, map[types.Key]*record.Record{"s": r}))
	got, err := s.Successor(2, "s")
	require.NoError(t, err)
	assert.Same(t, r, got)
	missing, err := s.Successor(2, "none")
	require.NoError(t, err)
	assert.Nil(t, missing)

	t.Log("✅ 路由表读写正确")
}

// TestState_Snapshot 测试快照与文本转储
func TestState_Snapshot(t *testing.T) {
	s, _ := newTestState(t)
	s.AddPeer(randomTarget(t, 5001))
	_, err := s.AddMyValue("hello")
	require.NoError(t, err)
	s.SetDatabase(map[types.Key]*record.Record{"b": nil, "a": nil})
	require.NoError(t, s.SetID(0, "id0"))
	s.NextSetupNumber()
	s.AdvanceStage(2)

	snap := s.Snapshot()
	assert.Equal(t, 1, snap.SetupNumber)
	assert.Equal(t, 2, snap.Stage)
	assert.Len(t, snap.Peers, 1)
	assert.Equal(t, []types.Key{"a", "b"}, snap.Database)
	require.Len(t, snap.Layers, 3)
	assert.Equal(t, types.Key("id0"), snap.Layers[0].ID)

	str := s.String()
	assert.Contains(t, str, "setup #1 stage 2")
	assert.Contains(t, str, "\"hello\"")
	assert.Contains(t, str, "layer 0 id=id0")

	t.Log("✅ 快照正确")
}
