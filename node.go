package whanau

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/fx"
	"go.uber.org/multierr"

	"github.com/dep2p/go-whanau/config"
	"github.com/dep2p/go-whanau/internal/core/metrics"
	"github.com/dep2p/go-whanau/internal/core/record"
	"github.com/dep2p/go-whanau/internal/util/logger"
	"github.com/dep2p/go-whanau/internal/whanau/lookup"
	"github.com/dep2p/go-whanau/internal/whanau/node"
	"github.com/dep2p/go-whanau/internal/whanau/setup"
	"github.com/dep2p/go-whanau/pkg/types"
)

var log = logger.Logger("whanau")

// ════════════════════════════════════════════════════════════════════════════
//                              节点状态
// ════════════════════════════════════════════════════════════════════════════

// NodeState 节点生命周期状态
type NodeState int

const (
	// StateIdle 已创建，未启动
	StateIdle NodeState = iota
	// StateRunning 运行中
	StateRunning
	// StateStopping 正在停止
	StateStopping
	// StateStopped 已停止
	StateStopped
)

// String 返回状态名称
func (s NodeState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// ════════════════════════════════════════════════════════════════════════════
//                              Node
// ════════════════════════════════════════════════════════════════════════════

// Node Whanau 节点
//
// 用户交互的主入口。内部组件由 Fx 组装：身份、传输、指标、
// Whanau 节点与可选的周期性 setup 调度器。
type Node struct {
	opts   *options
	config *config.Config
	app    *fx.App

	// 由 Fx 注入
	node      *node.Node
	collector *metrics.Collector

	mu     sync.Mutex
	state  NodeState
	closed bool
}

// New 创建新节点
//
// 创建节点但不启动，需要调用 Start() 启动。
//
// 示例：
//
//	node, err := whanau.New(ctx,
//	    whanau.WithPreset(whanau.PresetSmall),
//	    whanau.WithListenPort(4001),
//	)
func New(_ context.Context, opts ...Option) (*Node, error) {
	o := newOptions()
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	n := &Node{opts: o, config: o.toConfig()}
	app, err := buildFxApp(o, n.config, n)
	if err != nil {
		return nil, fmt.Errorf("build fx app: %w", err)
	}
	n.app = app
	return n, nil
}

// Start 快捷启动函数
//
// 等价于 New() + Start()。
func Start(ctx context.Context, opts ...Option) (*Node, error) {
	n, err := New(ctx, opts...)
	if err != nil {
		return nil, err
	}
	if err := n.Start(ctx); err != nil {
		return nil, fmt.Errorf("start node: %w", err)
	}
	return n, nil
}

// Start 启动节点
//
// 启动 Fx 应用（监听、指标端点、调度器），然后添加 WithPeers 指定的邻居。
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return ErrNodeClosed
	}
	if n.state == StateRunning {
		return ErrAlreadyStarted
	}

	if err := n.app.Start(ctx); err != nil {
		log.Error("启动节点失败", "error", err)
		return fmt.Errorf("start fx app: %w", err)
	}
	for _, p := range n.opts.peers {
		n.node.AddPeer(p)
	}

	n.state = StateRunning
	log.Info("节点已启动", "target", n.node.Target().Encode())
	return nil
}

// Close 关闭节点并释放所有资源
//
// 重复调用返回 nil。
func (n *Node) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil
	}
	n.closed = true

	var err error
	if n.state == StateRunning {
		n.state = StateStopping
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		err = multierr.Append(err, n.app.Stop(ctx))
	}
	n.state = StateStopped
	if err != nil {
		log.Warn("关闭节点出错", "error", err)
	} else {
		log.Info("节点已关闭")
	}
	return err
}

// State 返回生命周期状态
func (n *Node) State() NodeState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// IsRunning 节点是否运行中
func (n *Node) IsRunning() bool {
	return n.State() == StateRunning
}

func (n *Node) running() error {
	switch n.State() {
	case StateRunning:
		return nil
	case StateIdle:
		return ErrNotStarted
	default:
		return ErrNodeClosed
	}
}

// ════════════════════════════════════════════════════════════════════════════
//                              基本信息
// ════════════════════════════════════════════════════════════════════════════

// ID 返回节点身份
func (n *Node) ID() types.NodeID {
	return n.node.ID()
}

// Target 返回对外目标（启动后有效）
func (n *Node) Target() types.Target {
	return n.node.Target()
}

// Config 返回最终配置
func (n *Node) Config() *config.Config {
	return n.config
}

// Info 返回结构化状态
func (n *Node) Info() node.Info {
	return n.node.Info()
}

// Logs 返回最近的日志
func (n *Node) Logs() string {
	return n.node.Logs()
}

// Metrics 返回指标收集器
func (n *Node) Metrics() *metrics.Collector {
	return n.collector
}

// Internal 返回内部节点（高级用法与测试）
func (n *Node) Internal() *node.Node {
	return n.node
}

// ════════════════════════════════════════════════════════════════════════════
//                              社交图与记录
// ════════════════════════════════════════════════════════════════════════════

// AddPeer 添加社交图邻居
func (n *Node) AddPeer(target types.Target) error {
	if err := n.running(); err != nil {
		return err
	}
	n.node.AddPeer(target)
	return nil
}

// RemoveAllPeers 删除所有邻居
func (n *Node) RemoveAllPeers() {
	n.node.State().RemoveAllPeers()
}

// Peers 返回当前邻居
func (n *Node) Peers() []types.Target {
	chs := n.node.State().Peers()
	out := make([]types.Target, 0, len(chs))
	for _, ch := range chs {
		out = append(out, ch.Target())
	}
	return out
}

// Publish 发布一个值，返回签名后的记录
//
// 记录在下一轮 setup 后才能被其他节点查到。
func (n *Node) Publish(value string) (*record.Record, error) {
	if err := n.running(); err != nil {
		return nil, err
	}
	return n.node.Publish(value)
}

// Lookup 查找 key
func (n *Node) Lookup(ctx context.Context, key types.Key) (*record.Record, error) {
	if err := n.running(); err != nil {
		return nil, err
	}
	return n.node.Lookup(ctx, lookup.Params{}, key)
}

// ════════════════════════════════════════════════════════════════════════════
//                              setup
// ════════════════════════════════════════════════════════════════════════════

// RunSetupPart 运行 setup 的第 part 阶段并等待结束
//
// 网络中所有节点应在进入 part2 之前完成 part1。
func (n *Node) RunSetupPart(ctx context.Context, part int) error {
	if err := n.running(); err != nil {
		return err
	}
	if part != 1 && part != 2 {
		return fmt.Errorf("invalid setup part %d", part)
	}
	if !n.node.RunSetup(part, setup.Params{}) {
		return ErrSetupBusy
	}
	if !n.node.JoinSetup(ctx, n.config.Timeouts.JoinSetup.Duration()) {
		if err := ctx.Err(); err != nil {
			return err
		}
		return ErrSetupTimeout
	}
	return n.node.SetupErr()
}

// RunSetup 依次运行 part1 与 part2
//
// part2 会等待邻居进入数据库阶段，因此各节点应大致同时调用。
func (n *Node) RunSetup(ctx context.Context) error {
	if err := n.RunSetupPart(ctx, 1); err != nil {
		return fmt.Errorf("setup part1: %w", err)
	}
	if err := n.RunSetupPart(ctx, 2); err != nil {
		return fmt.Errorf("setup part2: %w", err)
	}
	return nil
}

// SetupStage 返回当前 setup 阶段
func (n *Node) SetupStage() int {
	return n.node.State().Stage()
}

// IsSetupComplete 最近一轮 setup 是否已完成所有层
func (n *Node) IsSetupComplete() bool {
	return n.SetupStage() >= setup.TablesStage(n.config.Protocol.NumLayers-1)
}

