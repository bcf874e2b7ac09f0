package node

import (
	"context"
	"fmt"
	"time"

	"github.com/dep2p/go-whanau/internal/core/identity"
	"github.com/dep2p/go-whanau/internal/core/record"
	"github.com/dep2p/go-whanau/internal/core/rpc"
	"github.com/dep2p/go-whanau/internal/whanau/lookup"
	"github.com/dep2p/go-whanau/internal/whanau/randwalk"
	"github.com/dep2p/go-whanau/internal/whanau/setup"
	"github.com/dep2p/go-whanau/internal/whanau/state"
	"github.com/dep2p/go-whanau/pkg/types"
)

// DefaultLookupThreads 控制端 lookup 默认的并行尝试数
const DefaultLookupThreads = 10

// handleControl 分发控制命令
func (n *Node) handleControl(ctx context.Context, call rpc.Call) (any, error) {
	switch c := call.(type) {
	case *rpc.CreateNodeArgs:
		return n.CreateNode(ctx, c.Port, c.Value)
	case *rpc.GetStateArgs:
		return n.Info(), nil
	case *rpc.GetStateStrArgs:
		return n.st.String() + n.sampler.String(), nil
	case *rpc.GetLogStrArgs:
		return n.Logs(), nil
	case *rpc.AddPeerArgs:
		n.AddPeer(types.Target{ID: c.ID, Host: c.Host, Port: c.Port})
		return true, nil
	case *rpc.RemoveAllPeersArgs:
		n.st.RemoveAllPeers()
		n.log.Info("已删除所有邻居")
		return true, nil
	case *rpc.SetSetupStageArgs:
		n.SetSetupStage(c.Stage)
		return true, nil
	case *rpc.RunSetupArgs:
		return n.RunSetup(c.Part, setup.Params{W: c.W, RD: c.RD, RF: c.RF, RS: c.RS}), nil
	case *rpc.JoinSetupThreadArgs:
		return n.JoinSetup(ctx, n.millisOr(c.TimeoutMillis, n.cfg.Timeouts.JoinSetup.Duration())), nil
	case *rpc.GetSetupThreadResultArgs:
		return n.SetupResult().Milliseconds(), nil
	case *rpc.LookupArgs:
		rec, err := n.Lookup(ctx, lookup.Params{
			LookupTimeout: n.millisOr(c.LookupTimeoutMillis, n.cfg.Timeouts.Lookup.Duration()),
			QueryTimeout:  n.millisOr(c.QueryTimeoutMillis, n.cfg.Timeouts.Query.Duration()),
			NumThreads:    c.NumThreads,
			W:             c.W,
		}, c.Key)
		if err != nil {
			return nil, nil
		}
		return rec, nil
	case *rpc.PublishValueArgs:
		if _, err := n.Publish(c.Value); err != nil {
			return false, nil
		}
		return true, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupported, call.Command())
}

// ============================================================================
//                              邻居与发布
// ============================================================================

// AddPeer 添加社交图邻居
func (n *Node) AddPeer(target types.Target) {
	n.st.AddPeer(target)
	n.log.Info("添加邻居", "peer", target.String())
}

// Publish 发布一个值
func (n *Node) Publish(value string) (*record.Record, error) {
	rec, err := n.st.AddMyValue(value)
	if err != nil {
		n.log.Warn("发布失败", "value", value, "err", err)
		return nil, err
	}
	n.log.Info("已发布", "value", value)
	return rec, nil
}

// Lookup 查找 key
//
// 参数为零值时使用配置中的默认值。
func (n *Node) Lookup(ctx context.Context, p lookup.Params, key types.Key) (*record.Record, error) {
	if err := n.ready(); err != nil {
		return nil, err
	}
	if p.LookupTimeout <= 0 {
		p.LookupTimeout = n.cfg.Timeouts.Lookup.Duration()
	}
	if p.QueryTimeout <= 0 {
		p.QueryTimeout = n.cfg.Timeouts.Query.Duration()
	}
	if p.NumThreads <= 0 {
		p.NumThreads = DefaultLookupThreads
	}
	if p.W <= 0 {
		p.W = n.cfg.Protocol.W
	}
	return n.lookups.Lookup(ctx, p, key)
}

// ============================================================================
//                              状态
// ============================================================================

// Info 结构化状态（getState 的返回值）
type Info struct {
	state.Snapshot
	Cache []randwalk.LevelStats `json:"cache"`
}

// Info 返回结构化状态
func (n *Node) Info() Info {
	return Info{Snapshot: n.st.Snapshot(), Cache: n.sampler.Stats()}
}

// ============================================================================
//                              后台 setup
// ============================================================================

// setupRun 一次后台 setup
type setupRun struct {
	part    int
	done    chan struct{}
	elapsed time.Duration
	err     error
}

func (r *setupRun) finished() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// RunSetup 在后台运行 setup 的第 part 阶段
//
// 已有 setup 在运行时返回 false。参数为零值时使用配置中的协议参数。
func (n *Node) RunSetup(part int, p setup.Params) bool {
	if p.W <= 0 {
		p.W = n.cfg.Protocol.W
	}
	if p.RD <= 0 {
		p.RD = n.cfg.Protocol.RD
	}
	if p.RF <= 0 {
		p.RF = n.cfg.Protocol.RF
	}
	if p.RS <= 0 {
		p.RS = n.cfg.Protocol.RS
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed || !n.started {
		return false
	}
	if n.setupRun != nil && !n.setupRun.finished() {
		n.log.Warn("已有 setup 在运行", "part", n.setupRun.part)
		return false
	}

	run := &setupRun{part: part, done: make(chan struct{})}
	n.setupRun = run
	go func() {
		defer close(run.done)
		if part == 2 {
			run.elapsed, run.err = n.coord.Part2(n.ctx, p)
		} else {
			run.elapsed, run.err = n.coord.Part1(n.ctx, p)
		}
	}()
	return true
}

// JoinSetup 等待后台 setup 结束
//
// 没有后台 setup 或超时返回 false。
func (n *Node) JoinSetup(ctx context.Context, timeout time.Duration) bool {
	n.mu.Lock()
	run := n.setupRun
	n.mu.Unlock()
	if run == nil {
		n.log.Warn("没有后台 setup")
		return false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-run.done:
		return true
	case <-timer.C:
		n.log.Warn("等待 setup 超时", "part", run.part, "timeout", timeout)
		return false
	case <-ctx.Done():
		return false
	}
}

// SetupResult 返回最近一次后台 setup 的耗时（失败、未结束或没有时为 0）
func (n *Node) SetupResult() time.Duration {
	n.mu.Lock()
	run := n.setupRun
	n.mu.Unlock()
	if run == nil || !run.finished() || run.err != nil {
		return 0
	}
	// 耗时至少 1ms，0 保留给失败
	if run.elapsed < time.Millisecond {
		return time.Millisecond
	}
	return run.elapsed
}

// SetupRunning 是否有后台 setup 正在运行
func (n *Node) SetupRunning() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.setupRun != nil && !n.setupRun.finished()
}

// SetSetupStage 强制设置 setup 阶段（0 表示等待新一轮）
func (n *Node) SetSetupStage(stage int) {
	n.st.SetStage(stage)
	n.log.Info("设置 setup 阶段", "stage", stage)
}

// SetupErr 返回最近一次后台 setup 的错误
func (n *Node) SetupErr() error {
	n.mu.Lock()
	run := n.setupRun
	n.mu.Unlock()
	if run == nil || !run.finished() {
		return nil
	}
	return run.err
}

// ============================================================================
//                              子节点
// ============================================================================

// CreateNode 在同一主机上创建并启动一个子节点
//
// 子节点使用新身份，沿用本节点的配置（包括控制列表），监听 port。
func (n *Node) CreateNode(ctx context.Context, port int, value string) (types.Target, error) {
	id, err := identity.Generate()
	if err != nil {
		return types.Target{}, err
	}

	cfg := *n.cfg
	cfg.Identity.KeyFile = ""
	cfg.Listen.Port = port

	child, err := New(&cfg, id, n.childOptions()...)
	if err != nil {
		return types.Target{}, err
	}
	if err := child.Start(ctx); err != nil {
		return types.Target{}, err
	}
	if value != "" {
		if _, err := child.Publish(value); err != nil {
			_ = child.Close()
			return types.Target{}, err
		}
	}

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		_ = child.Close()
		return types.Target{}, ErrClosed
	}
	n.children = append(n.children, child)
	n.mu.Unlock()

	n.log.Info("已创建子节点", "child", child.Target().String())
	return child.Target(), nil
}

func (n *Node) childOptions() []Option {
	return []Option{
		WithTransportFactory(n.opts.transport),
		WithObserver(n.opts.observer),
		WithWorkers(n.opts.workers),
	}
}
