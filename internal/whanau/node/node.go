package node

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"

	"go.uber.org/multierr"

	"github.com/dep2p/go-whanau/config"
	"github.com/dep2p/go-whanau/internal/core/identity"
	"github.com/dep2p/go-whanau/internal/core/record"
	"github.com/dep2p/go-whanau/internal/core/rpc"
	"github.com/dep2p/go-whanau/internal/util/logger"
	"github.com/dep2p/go-whanau/internal/whanau/lookup"
	"github.com/dep2p/go-whanau/internal/whanau/randwalk"
	"github.com/dep2p/go-whanau/internal/whanau/setup"
	"github.com/dep2p/go-whanau/internal/whanau/state"
	"github.com/dep2p/go-whanau/pkg/types"
)

var log = logger.Logger("whanau/node")

// Node Whanau 虚拟节点
type Node struct {
	cfg  *config.Config
	id   *identity.Identity
	opts options

	log  *slog.Logger
	ring *logger.Ring

	transport rpc.Transport
	st        *state.State
	sampler   *randwalk.Sampler
	coord     *setup.Coordinator
	router    *lookup.Router
	lookups   *lookup.Client
	server    *rpc.Server
	acl       *accessControl

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	started  bool
	closed   bool
	setupRun *setupRun
	children []*Node
}

// New 创建节点（尚未监听）
func New(cfg *config.Config, id *identity.Identity, opts ...Option) (*Node, error) {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if id == nil {
		return nil, fmt.Errorf("node: identity 不能为空")
	}

	o := options{transport: TLSTransportFactory(cfg.Timeouts.Handshake.Duration())}
	for _, opt := range opts {
		opt(&o)
	}

	transport, err := o.transport(id)
	if err != nil {
		return nil, fmt.Errorf("node: 创建传输失败: %w", err)
	}
	validator, err := record.New(cfg.Protocol.Validator, id, cfg.Protocol.RecordTTL.Duration())
	if err != nil {
		return nil, err
	}
	acl, err := newAccessControl(cfg.Control, cfg.Peers)
	if err != nil {
		return nil, err
	}

	ring := logger.NewRing(logger.DefaultRingSize)
	nlog := logger.Tee(log, ring).With("node", id.ID().ShortString())

	var rpcObs rpc.Observer
	var fillObs randwalk.FillObserver
	var setupObs setup.Observer
	var lookupObs lookup.Observer
	if o.observer != nil {
		rpcObs, fillObs, setupObs, lookupObs = o.observer, o.observer, o.observer, o.observer
	}

	client := rpc.NewClient(dialer{Dialer: transport, timeout: cfg.Timeouts.GetRemote.Duration()}, rpcObs)
	st := state.New(client, validator, cfg.Protocol.NumLayers, state.WithLogger(nlog))

	sampler := randwalk.New(st, randwalk.Config{
		MaxSteps:        cfg.Protocol.W,
		PerStepTimeout:  cfg.Timeouts.PerStep.Duration(),
		PerStepProcTime: cfg.Timeouts.PerStepProc.Duration(),
		Workers:         o.workers,
	}, cfg.Protocol.RandWalkCacheSize, fillObs)

	coord := setup.New(st, sampler, setup.Config{
		MaxSampleFailures:       cfg.Protocol.MaxSampleFailures,
		WaitSetupTimeout:        cfg.Timeouts.WaitSetup.Duration(),
		GetIDTimeout:            cfg.Timeouts.GetID.Duration(),
		SuccessorsSampleTimeout: cfg.Timeouts.SuccessorsSample.Duration(),
		Workers:                 o.workers,
	}, setupObs)

	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		cfg:       cfg,
		id:        id,
		opts:      o,
		log:       nlog,
		ring:      ring,
		transport: transport,
		st:        st,
		sampler:   sampler,
		coord:     coord,
		router:    lookup.NewRouter(st, cfg.Protocol.SuccessorsSampleSize, o.workers),
		lookups:   lookup.NewClient(coord, cfg.LookupCache.Size, cfg.LookupCache.TTL.Duration(), lookupObs),
		acl:       acl,
		ctx:       ctx,
		cancel:    cancel,
	}
	n.server = rpc.NewServer(transport, n, rpc.ServerConfig{
		HandshakeTimeout: cfg.Timeouts.Handshake.Duration(),
		WriteTimeout:     cfg.Timeouts.SmallCall.Duration(),
	})
	return n, nil
}

// Start 开始监听
//
// 监听端口为 0 时使用系统分配的端口，对外公布的地址随之更新。
func (n *Node) Start(_ context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return ErrClosed
	}
	if n.started {
		return nil
	}

	listen := net.JoinHostPort(n.cfg.Listen.Host, strconv.Itoa(n.cfg.Listen.Port))
	addr, err := n.server.Listen(listen)
	if err != nil {
		return fmt.Errorf("node: 监听 %s 失败: %w", listen, err)
	}
	_, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		_ = n.server.Close()
		return err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		_ = n.server.Close()
		return err
	}

	n.st.SetLocal(types.Target{ID: n.id.ID(), Host: n.cfg.Listen.AdvertisedHost(), Port: port})
	n.started = true
	n.log.Info("节点已启动", "addr", addr.String(), "id", n.id.ID().String())
	return nil
}

// Close 停止节点及其子节点
func (n *Node) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	children := n.children
	n.children = nil
	n.mu.Unlock()

	n.cancel()
	var err error
	for _, c := range children {
		err = multierr.Append(err, c.Close())
	}
	err = multierr.Append(err, n.server.Close())
	n.log.Info("节点已关闭")
	return err
}

// ready 节点是否可以发起出站操作
func (n *Node) ready() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	switch {
	case n.closed:
		return ErrClosed
	case !n.started:
		return ErrNotStarted
	}
	return nil
}

// ============================================================================
//                              访问器
// ============================================================================

// ID 返回节点身份
func (n *Node) ID() types.NodeID {
	return n.id.ID()
}

// Target 返回节点的 RPC 目标（启动后有效）
func (n *Node) Target() types.Target {
	return n.st.Local()
}

// State 返回路由状态
func (n *Node) State() *state.State {
	return n.st
}

// Sampler 返回随机游走采样器
func (n *Node) Sampler() *randwalk.Sampler {
	return n.sampler
}

// Config 返回节点配置
func (n *Node) Config() *config.Config {
	return n.cfg
}

// Logs 返回最近的日志
func (n *Node) Logs() string {
	return n.ring.String()
}

// Children 返回子节点
func (n *Node) Children() []*Node {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*Node(nil), n.children...)
}
