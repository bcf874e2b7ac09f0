package sybil

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-whanau/config"
	"github.com/dep2p/go-whanau/internal/core/identity"
	"github.com/dep2p/go-whanau/internal/core/record"
	"github.com/dep2p/go-whanau/internal/core/rpc"
	"github.com/dep2p/go-whanau/internal/whanau/lookup"
	"github.com/dep2p/go-whanau/internal/whanau/node"
	"github.com/dep2p/go-whanau/internal/whanau/setup"
	"github.com/dep2p/go-whanau/pkg/types"
)

func newSybil(t *testing.T, mem *rpc.MemNetwork, targetKey types.Key) *Node {
	t.Helper()
	id, err := identity.Generate()
	require.NoError(t, err)
	s := New(id, mem.Transport(id.ID()), targetKey)
	_, err = s.Start("127.0.0.1:0")
	require.NoError(t, err)
	require.NoError(t, s.Publish("EVIL!"))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// TestSybil_Commands 测试 Sybil 节点的应答
func TestSybil_Commands(t *testing.T) {
	mem := rpc.NewMemNetwork()
	s := newSybil(t, mem, "target")

	caller, err := identity.Generate()
	require.NoError(t, err)
	ch := rpc.NewClient(mem.Transport(caller.ID()), nil).Channel(s.Target())
	ctx := context.Background()

	// 任何层、任何令牌都返回目标键
	for layer := 0; layer < 3; layer++ {
		var id types.Key
		require.NoError(t, ch.Call(ctx, &rpc.GetIDArgs{Token: "whatever", Layer: layer}, &id))
		assert.Equal(t, s.TargetKey(), id)
	}

	var samples []record.Sample
	require.NoError(t, ch.Call(ctx, &rpc.SampleNodesArgs{NumNodes: 3, Steps: 7}, &samples))
	require.Len(t, samples, 3)
	tokens := make(map[types.QueryToken]bool)
	for _, sm := range samples {
		assert.Equal(t, "EVIL!", sm.Record.Value)
		assert.Equal(t, s.Target().ID, sm.Record.Owner())
		tokens[sm.Token] = true
	}
	assert.Len(t, tokens, 3)

	var hash string
	require.NoError(t, ch.Call(ctx, &rpc.GetPubKeyHashArgs{}, &hash))
	assert.Equal(t, s.Target().ID.String(), hash)

	var ok bool
	err = ch.Call(ctx, &rpc.WaitStageArgs{Stage: 1}, &ok)
	var remote *rpc.RemoteError
	require.True(t, errors.As(err, &remote))
	assert.Contains(t, remote.Message, ErrUnsupported.Error())

	t.Log("✅ Sybil 应答正确")
}

// TestSybil_AttackEdge 测试一条攻击边下诚实节点仍能完成 setup 与 lookup
func TestSybil_AttackEdge(t *testing.T) {
	if testing.Short() {
		t.Skip("跳过多节点测试")
	}

	const size = 6
	mem := rpc.NewMemNetwork()
	factory := func(id *identity.Identity) (rpc.Transport, error) { return mem.Transport(id.ID()), nil }

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

	honest := make([]*node.Node, size)
	for i := range honest {
		id, err := identity.Generate()
		require.NoError(t, err)
		n, err := node.New(cfg, id, node.WithTransportFactory(factory))
		require.NoError(t, err)
		require.NoError(t, n.Start(context.Background()))
		t.Cleanup(func() { _ = n.Close() })
		_, err = n.Publish("n" + strconv.Itoa(i))
		require.NoError(t, err)
		honest[i] = n
	}
	for i, n := range honest {
		for _, j := range []int{(i + 1) % size, (i + 2) % size} {
			n.AddPeer(honest[j].Target())
			honest[j].AddPeer(n.Target())
		}
	}

	// 攻击目标为 honest[1] 的键
	s := newSybil(t, mem, honest[1].ID().Key())
	honest[0].AddPeer(s.Target())

	for part := 1; part <= 2; part++ {
		for _, n := range honest {
			require.True(t, n.RunSetup(part, setup.Params{}))
		}
		var wg sync.WaitGroup
		for _, n := range honest {
			wg.Add(1)
			go func(n *node.Node) {
				defer wg.Done()
				n.JoinSetup(context.Background(), time.Minute)
			}(n)
		}
		wg.Wait()
		for i, n := range honest {
			require.NoError(t, n.SetupErr(), "node %d part %d", i, part)
		}
	}

	failures := 0
	for i, n := range honest {
		j := (i + 3) % size
		rec, err := n.Lookup(context.Background(), lookup.Params{}, honest[j].ID().Key())
		if err != nil {
			failures++
			continue
		}
		assert.Equal(t, "n"+strconv.Itoa(j), rec.Value, "不应返回 Sybil 伪造的值")
	}
	t.Logf("lookup 失败 %d/%d", failures, size)
	assert.LessOrEqual(t, failures, size/3)

	t.Log("✅ 攻击边测试通过")
}
