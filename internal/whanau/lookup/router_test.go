package lookup

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
	"github.com/dep2p/go-whanau/internal/whanau/setup"
	"github.com/dep2p/go-whanau/internal/whanau/state"
	"github.com/dep2p/go-whanau/pkg/types"
)

func newTestState(t *testing.T, mem *rpc.MemNetwork, layers int) (*state.State, *identity.Identity) {
	t.Helper()
	id, err := identity.Generate()
	require.NoError(t, err)
	st := state.New(rpc.NewClient(mem.Transport(id.ID()), nil), record.NewSigningValidator(id, 0), layers,
		state.WithLogger(logger.Discard()))
	st.SetLocal(types.Target{ID: id.ID(), Host: "127.0.0.1", Port: 4000})
	return st, id
}

// newRecords 为 n 个新身份各创建一条记录，按键排序返回
func newRecords(t *testing.T, n int) ([]types.Key, map[types.Key]*record.Record) {
	t.Helper()
	db := make(map[types.Key]*record.Record, n)
	keys := make([]types.Key, 0, n)
	for i := 0; i < n; i++ {
		id, err := identity.Generate()
		require.NoError(t, err)
		rec, err := record.NewSigningValidator(id, 0).Create("v"+strconv.Itoa(i), "127.0.0.1", 5000+i)
		require.NoError(t, err)
		db[id.ID().Key()] = rec
		keys = append(keys, id.ID().Key())
	}
	return types.SortKeys(keys), db
}

// serve 在内存网络上为 st 启动只处理 query 的服务
func serve(t *testing.T, mem *rpc.MemNetwork, st *state.State, id *identity.Identity) types.Target {
	t.Helper()
	r := NewRouter(st, 2, 0)
	srv := rpc.NewServer(mem.Transport(id.ID()), rpc.HandlerFunc(func(_ context.Context, _ types.NodeID, call rpc.Call) (any, error) {
		q := call.(*rpc.QueryArgs)
		rec, err := r.Query(q.Key, q.Layer)
		if err != nil {
			return nil, nil
		}
		return rec, nil
	}), rpc.DefaultServerConfig())
	addr, err := srv.Listen("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	host, portStr, _ := net.SplitHostPort(addr.String())
	port, _ := strconv.Atoi(portStr)
	target := types.Target{ID: id.ID(), Host: host, Port: port}
	st.SetLocal(target)
	return target
}

// ============================================================================
// getID 测试
// ============================================================================

// TestRouter_GetID 测试 getID 等待本层 ID 就绪
func TestRouter_GetID(t *testing.T) {
	st, _ := newTestState(t, rpc.NewMemNetwork(), 2)
	r := NewRouter(st, 2, 0)
	ctx := context.Background()

	_, err := r.GetID(ctx, 2)
	assert.ErrorIs(t, err, state.ErrLayerOutOfRange)
	_, err = r.GetID(ctx, -1)
	assert.ErrorIs(t, err, state.ErrLayerOutOfRange)

	done := make(chan types.Key, 1)
	go func() {
		id, err := r.GetID(ctx, 1)
		assert.NoError(t, err)
		done <- id
	}()

	require.NoError(t, st.SetID(1, "abc"))
	st.AdvanceStage(setup.TablesStage(0))
	select {
	case <-done:
		t.Fatal("第 1 层 ID 阶段之前不应返回")
	case <-time.After(50 * time.Millisecond):
	}

	st.AdvanceStage(setup.IDStage(1))
	select {
	case id := <-done:
		assert.Equal(t, types.Key("abc"), id)
	case <-time.After(time.Second):
		t.Fatal("阶段到达后应返回")
	}

	t.Log("✅ getID 等待正确")
}

// TestRouter_GetIDEmpty 测试阶段已到但 ID 为空
func TestRouter_GetIDEmpty(t *testing.T) {
	st, _ := newTestState(t, rpc.NewMemNetwork(), 2)
	r := NewRouter(st, 2, 0)
	st.SetStage(setup.IDStage(0))

	_, err := r.GetID(context.Background(), 0)
	assert.ErrorIs(t, err, ErrNotReady)
}

// TestRouter_GetIDCancel 测试等待被取消
func TestRouter_GetIDCancel(t *testing.T) {
	st, _ := newTestState(t, rpc.NewMemNetwork(), 2)
	r := NewRouter(st, 2, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := r.GetID(ctx, 0)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// ============================================================================
// successorsSample 测试
// ============================================================================

// TestRouter_SuccessorsSample 测试后继按环序返回并在末端回绕
func TestRouter_SuccessorsSample(t *testing.T) {
	st, _ := newTestState(t, rpc.NewMemNetwork(), 1)
	keys, db := newRecords(t, 5)
	st.SetDatabase(db)
	st.SetStage(setup.StageDatabase)
	r := NewRouter(st, 2, 0)
	ctx := context.Background()

	// id 恰为某个键：从它之后开始
	out, err := r.SuccessorsSample(ctx, keys[1])
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, db[keys[2]], out[0])
	assert.Equal(t, db[keys[3]], out[1])

	// 最大键之后回到最小键
	out, err = r.SuccessorsSample(ctx, keys[4])
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, db[keys[0]], out[0])
	assert.Equal(t, db[keys[1]], out[1])

	// 比所有键都大的 id
	out, err = r.SuccessorsSample(ctx, types.Key("zzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzz"))
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, db[keys[0]], out[0])

	t.Log("✅ successorsSample 顺序正确")
}

// TestRouter_SuccessorsSampleSmallDB 测试数据库小于采样数
func TestRouter_SuccessorsSampleSmallDB(t *testing.T) {
	st, _ := newTestState(t, rpc.NewMemNetwork(), 1)
	keys, db := newRecords(t, 1)
	st.SetDatabase(db)
	st.SetStage(setup.StageDatabase)
	r := NewRouter(st, 3, 0)

	out, err := r.SuccessorsSample(context.Background(), keys[0])
	require.NoError(t, err)
	assert.Empty(t, out, "只有 id 自身时没有后继")

	out, err = r.SuccessorsSample(context.Background(), "0")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, db[keys[0]], out[0])
}

// ============================================================================
// finger 选择与 lookupTry 测试
// ============================================================================

// TestRouter_ChooseFinger 测试在环区间内选择 finger
func TestRouter_ChooseFinger(t *testing.T) {
	st, _ := newTestState(t, rpc.NewMemNetwork(), 2)
	targets := map[types.Key]types.Target{
		"b": {Host: "h", Port: 1},
		"d": {Host: "h", Port: 2},
		"f": {Host: "h", Port: 3},
	}
	require.NoError(t, st.SetFingers(1, targets))
	r := NewRouter(st, 2, 0)

	for i := 0; i < 10; i++ {
		layer, target, ok := r.chooseFinger("c", "e")
		require.True(t, ok)
		assert.Equal(t, 1, layer)
		assert.Equal(t, 2, target.Port)
	}

	// 回绕区间 [e, c] 包含 f 和 b
	layer, target, ok := r.chooseFinger("e", "c")
	require.True(t, ok)
	assert.Equal(t, 1, layer)
	assert.Contains(t, []int{1, 3}, target.Port)

	_, _, ok = r.chooseFinger("g", "a")
	assert.False(t, ok)

	t.Log("✅ finger 选择正确")
}

// TestRouter_TryNoFingers 测试没有 finger 时失败
func TestRouter_TryNoFingers(t *testing.T) {
	st, _ := newTestState(t, rpc.NewMemNetwork(), 2)
	r := NewRouter(st, 2, 0)

	_, err := r.Try(context.Background(), "k", time.Second)
	assert.ErrorIs(t, err, ErrNoFingers)
}

// TestRouter_Try 测试通过 finger 的 successor 表找到记录
func TestRouter_Try(t *testing.T) {
	mem := rpc.NewMemNetwork()
	keys, db := newRecords(t, 3)
	key := keys[2]

	// 远端：第 0 层 successor 表包含 key
	remote, remoteID := newTestState(t, mem, 1)
	require.NoError(t, remote.SetSuccessors(0, map[types.Key]*record.Record{key: db[key]}))
	remoteTarget := serve(t, mem, remote, remoteID)

	// 本地：finger 的 ID 位于 key 之前
	local, _ := newTestState(t, mem, 1)
	require.NoError(t, local.SetFingers(0, map[types.Key]types.Target{keys[0]: remoteTarget}))
	r := NewRouter(local, 2, 0)

	rec, err := r.Try(context.Background(), key, time.Second)
	require.NoError(t, err)
	assert.Equal(t, db[key].Value, rec.Value)

	// successor 表中没有的键
	_, err = r.Try(context.Background(), keys[1], time.Second)
	assert.ErrorIs(t, err, ErrNotFound)

	t.Log("✅ lookupTry 成功")
}

// TestRouter_TryRejectsForged 测试伪造的记录不被接受
func TestRouter_TryRejectsForged(t *testing.T) {
	mem := rpc.NewMemNetwork()
	keys, db := newRecords(t, 2)

	// 远端把 keys[0] 的记录放在 keys[1] 下
	remote, remoteID := newTestState(t, mem, 1)
	require.NoError(t, remote.SetSuccessors(0, map[types.Key]*record.Record{keys[1]: db[keys[0]]}))
	remoteTarget := serve(t, mem, remote, remoteID)

	local, _ := newTestState(t, mem, 1)
	require.NoError(t, local.SetFingers(0, map[types.Key]types.Target{keys[0]: remoteTarget}))
	r := NewRouter(local, 2, 0)

	_, err := r.Try(context.Background(), keys[1], time.Second)
	assert.ErrorIs(t, err, ErrNotFound)

	t.Log("✅ 伪造记录被拒绝")
}
