// Package localnet 在本机运行一个多节点 Whanau 网络
//
// 每个节点随机连接 Peers 个双向社交边，另加一条单向边；
// 可选地加入 Sybil 节点，每个 Sybil 只通过一条攻击边连接到随机的诚实节点。
// 网络完成一轮 setup 后，从随机节点查找随机节点发布的键并统计失败次数。
package localnet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/dep2p/go-whanau/config"
	"github.com/dep2p/go-whanau/internal/core/identity"
	"github.com/dep2p/go-whanau/internal/util/logger"
	"github.com/dep2p/go-whanau/internal/whanau/lookup"
	"github.com/dep2p/go-whanau/internal/whanau/node"
	"github.com/dep2p/go-whanau/internal/whanau/setup"
	"github.com/dep2p/go-whanau/internal/whanau/sybil"
	"github.com/dep2p/go-whanau/pkg/types"
)

var log = logger.Logger("whanau/localnet")

// ErrSetupFailed 有节点 setup 失败
var ErrSetupFailed = errors.New("localnet: setup failed")

// 默认参数
const (
	DefaultNodes   = 20
	DefaultPeers   = 3
	DefaultLookups = 10
	DefaultThreads = 10
)

// Config 本地网络配置
type Config struct {
	// Nodes 诚实节点数
	Nodes int

	// Peers 每个节点随机添加的双向边数
	Peers int

	// Sybils Sybil 节点数
	Sybils int

	// Lookups 查找次数
	Lookups int

	// Threads 每次查找的并行尝试数
	Threads int

	// Setup 协议参数（零值字段取 Node 中的配置）
	Setup setup.Params

	// StartPort 第 i 个节点监听 StartPort+i（0 = 随机端口）
	StartPort int

	// Node 节点配置模板（nil 使用默认配置）
	Node *config.Config

	// Transport 传输工厂（nil 使用 TLS）
	Transport node.TransportFactory

	// Seed 社交图随机种子（0 = 随机）
	Seed uint64
}

func (c *Config) applyDefaults() {
	if c.Nodes <= 0 {
		c.Nodes = DefaultNodes
	}
	if c.Peers <= 0 {
		c.Peers = DefaultPeers
	}
	if c.Lookups <= 0 {
		c.Lookups = DefaultLookups
	}
	if c.Threads <= 0 {
		c.Threads = DefaultThreads
	}
	if c.Node == nil {
		c.Node = config.NewConfig()
	}
	if c.Transport == nil {
		c.Transport = node.TLSTransportFactory(c.Node.Timeouts.Handshake.Duration())
	}
	if c.Seed == 0 {
		c.Seed = rand.Uint64()
	}
}

// Network 本地网络
type Network struct {
	cfg Config
	rng *rand.Rand
	log *slog.Logger

	nodes  []*node.Node
	sybils []*sybil.Node
	edges  map[int]map[int]struct{}
}

// Report 一次运行的结果
type Report struct {
	Nodes    int           `json:"nodes"`
	Sybils   int           `json:"sybils"`
	Edges    int           `json:"edges"`
	Setup    time.Duration `json:"setup"`
	Failed   []int         `json:"failed_setup,omitempty"`
	Lookups  int           `json:"lookups"`
	Failures int           `json:"failures"`
	Forged   int           `json:"forged"`
	AvgTime  time.Duration `json:"avg_success_time"`
}

// String 单行摘要
func (r Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "nodes=%d sybils=%d edges=%d setup=%s", r.Nodes, r.Sybils, r.Edges, r.Setup)
	if len(r.Failed) > 0 {
		fmt.Fprintf(&b, " failed_setup=%v", r.Failed)
	}
	fmt.Fprintf(&b, " lookups=%d fails=%d forged=%d avgSuccTime=%s", r.Lookups, r.Failures, r.Forged, r.AvgTime)
	return b.String()
}

// New 创建本地网络（尚未启动）
func New(cfg Config) *Network {
	cfg.applyDefaults()
	return &Network{
		cfg:   cfg,
		rng:   rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		log:   log.With("seed", cfg.Seed),
		edges: make(map[int]map[int]struct{}),
	}
}

// Nodes 返回诚实节点
func (n *Network) Nodes() []*node.Node {
	return n.nodes
}

// Sybils 返回 Sybil 节点
func (n *Network) Sybils() []*sybil.Node {
	return n.sybils
}

// ============================================================================
//                              启动
// ============================================================================

// Start 并行启动所有节点并连接社交图
func (n *Network) Start(ctx context.Context) error {
	n.nodes = make([]*node.Node, n.cfg.Nodes)

	g, gctx := errgroup.WithContext(ctx)
	for i := range n.nodes {
		i := i
		g.Go(func() error {
			nd, err := n.startNode(gctx, i)
			if err != nil {
				return fmt.Errorf("node %d: %w", i, err)
			}
			n.nodes[i] = nd
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		_ = n.Close()
		return err
	}

	for i := 0; i < n.cfg.Sybils; i++ {
		if err := n.startSybil(i); err != nil {
			_ = n.Close()
			return fmt.Errorf("sybil %d: %w", i, err)
		}
	}

	n.connect()
	n.log.Info("本地网络已启动", "nodes", len(n.nodes), "sybils", len(n.sybils))
	return nil
}

func (n *Network) startNode(ctx context.Context, i int) (*node.Node, error) {
	id, err := identity.Generate()
	if err != nil {
		return nil, err
	}
	cfg := *n.cfg.Node
	cfg.Identity.KeyFile = ""
	if n.cfg.StartPort > 0 {
		cfg.Listen.Port = n.cfg.StartPort + i
	}

	nd, err := node.New(&cfg, id, node.WithTransportFactory(n.cfg.Transport))
	if err != nil {
		return nil, err
	}
	if err := nd.Start(ctx); err != nil {
		return nil, err
	}
	if _, err := nd.Publish("n" + strconv.Itoa(i)); err != nil {
		_ = nd.Close()
		return nil, err
	}
	return nd, nil
}

func (n *Network) startSybil(i int) error {
	id, err := identity.Generate()
	if err != nil {
		return err
	}
	tr, err := n.cfg.Transport(id)
	if err != nil {
		return err
	}

	// 攻击随机诚实节点的键
	victim := n.nodes[n.rng.IntN(len(n.nodes))]
	s := sybil.New(id, tr, victim.ID().Key())

	addr := n.cfg.Node.Listen.Host + ":0"
	if n.cfg.StartPort > 0 {
		addr = n.cfg.Node.Listen.Host + ":" + strconv.Itoa(n.cfg.StartPort+n.cfg.Nodes+i)
	}
	if _, err := s.Start(addr); err != nil {
		return err
	}
	n.sybils = append(n.sybils, s)
	if err := s.Publish("sybil" + strconv.Itoa(i)); err != nil {
		return err
	}

	// 一条攻击边
	n.nodes[n.rng.IntN(len(n.nodes))].AddPeer(s.Target())
	return nil
}

// connect 随机连接社交图
func (n *Network) connect() {
	size := len(n.nodes)
	link := func(from, to int) {
		n.nodes[from].AddPeer(n.nodes[to].Target())
		if n.edges[from] == nil {
			n.edges[from] = make(map[int]struct{})
		}
		n.edges[from][to] = struct{}{}
	}
	for i := 0; i < size; i++ {
		for j := 0; j < n.cfg.Peers; j++ {
			peer := n.rng.IntN(size)
			if peer != i {
				link(i, peer)
				link(peer, i)
			}
		}
		if peer := n.rng.IntN(size); peer != i {
			link(i, peer)
		}
	}
}

// Edges 返回有向边数（去重）
func (n *Network) Edges() int {
	total := 0
	for _, to := range n.edges {
		total += len(to)
	}
	return total
}

// ============================================================================
//                              setup 与 lookup
// ============================================================================

// Setup 在所有节点上运行一轮 setup，返回失败的节点下标
func (n *Network) Setup(ctx context.Context) (time.Duration, []int, error) {
	start := time.Now()
	var failed []int
	for part := 1; part <= 2; part++ {
		for i, nd := range n.nodes {
			if !nd.RunSetup(part, n.cfg.Setup) {
				return 0, nil, fmt.Errorf("node %d: setup already running", i)
			}
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, nd := range n.nodes {
			nd := nd
			g.Go(func() error {
				nd.JoinSetup(gctx, nd.Config().Timeouts.JoinSetup.Duration())
				return nil
			})
		}
		_ = g.Wait()
		if err := ctx.Err(); err != nil {
			return 0, nil, err
		}

		for i, nd := range n.nodes {
			if nd.SetupResult() == 0 {
				n.log.Warn("节点 setup 失败", "node", i, "part", part, "err", nd.SetupErr())
				if part == 2 {
					failed = append(failed, i)
				}
			}
		}
	}

	elapsed := time.Since(start)
	n.log.Info("setup 完成", "elapsed", elapsed, "failed", len(failed))
	return elapsed, failed, nil
}

// lookupResult 一次查找的结果
type lookupResult struct {
	elapsed time.Duration
	ok      bool
	forged  bool
}

// Lookups 并行执行 count 次查找：随机节点查找随机节点发布的键
func (n *Network) Lookups(ctx context.Context, count int) []lookupResult {
	type job struct {
		from *node.Node
		key  types.Key
	}
	jobs := make([]job, count)
	for i := range jobs {
		from := n.nodes[n.rng.IntN(len(n.nodes))]
		owner := n.nodes[n.rng.IntN(len(n.nodes))]
		jobs[i] = job{from: from, key: owner.ID().Key()}
	}

	results := make([]lookupResult, count)
	var wg sync.WaitGroup
	for i, j := range jobs {
		wg.Add(1)
		go func(i int, j job) {
			defer wg.Done()
			start := time.Now()
			rec, err := j.from.Lookup(ctx, lookup.Params{NumThreads: n.cfg.Threads, W: n.cfg.Setup.W}, j.key)
			res := lookupResult{elapsed: time.Since(start)}
			switch {
			case err != nil:
			case !j.from.State().Validator().CheckKey(j.key, rec):
				res.forged = true
				n.log.Error("lookup 返回了不属于该键的记录", "key", j.key, "value", rec.Value)
			default:
				res.ok = true
			}
			results[i] = res
		}(i, j)
	}
	wg.Wait()
	return results
}

// Run 启动、setup、查找并汇总
func (n *Network) Run(ctx context.Context) (Report, error) {
	if err := n.Start(ctx); err != nil {
		return Report{}, err
	}

	rep := Report{Nodes: len(n.nodes), Sybils: len(n.sybils), Edges: n.Edges()}
	elapsed, failed, err := n.Setup(ctx)
	if err != nil {
		return rep, err
	}
	rep.Setup, rep.Failed = elapsed, failed
	if len(failed) == len(n.nodes) {
		return rep, ErrSetupFailed
	}

	var total time.Duration
	for _, r := range n.Lookups(ctx, n.cfg.Lookups) {
		rep.Lookups++
		switch {
		case r.ok:
			total += r.elapsed
		case r.forged:
			rep.Forged++
			rep.Failures++
		default:
			rep.Failures++
		}
	}
	if ok := rep.Lookups - rep.Failures; ok > 0 {
		rep.AvgTime = total / time.Duration(ok)
	}
	n.log.Info("本地网络测试完成", "report", rep.String())
	return rep, nil
}

// Close 关闭所有节点
func (n *Network) Close() error {
	var err error
	for _, nd := range n.nodes {
		if nd != nil {
			err = multierr.Append(err, nd.Close())
		}
	}
	for _, s := range n.sybils {
		err = multierr.Append(err, s.Close())
	}
	return err
}
