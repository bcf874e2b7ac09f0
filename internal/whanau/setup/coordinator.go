package setup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dep2p/go-whanau/internal/core/batch"
	"github.com/dep2p/go-whanau/internal/core/record"
	"github.com/dep2p/go-whanau/internal/core/rpc"
	"github.com/dep2p/go-whanau/internal/whanau/randwalk"
	"github.com/dep2p/go-whanau/internal/whanau/state"
	"github.com/dep2p/go-whanau/pkg/types"
)

// 阶段常量
const (
	// StageReady 阶段一开始，邻居可以进行游走
	StageReady = 1

	// StageDatabase 数据库已就绪
	StageDatabase = 2
)

// IDStage 返回第 layer 层 ID 就绪时的阶段
func IDStage(layer int) int {
	return 2*layer + 3
}

// TablesStage 返回第 layer 层 finger 与 successor 就绪时的阶段
func TablesStage(layer int) int {
	return 2*layer + 4
}

// Params 一轮 setup 的协议参数
type Params struct {
	W  int `json:"w"`
	RD int `json:"rd"`
	RF int `json:"rf"`
	RS int `json:"rs"`
}

// Config 协调器配置
type Config struct {
	// MaxSampleFailures 持续采样的重试上限
	MaxSampleFailures int

	// WaitSetupTimeout 等待邻居进入阶段的期限
	WaitSetupTimeout time.Duration

	// GetIDTimeout 并行 getID 的期限
	GetIDTimeout time.Duration

	// SuccessorsSampleTimeout 并行 successorsSample 的期限
	SuccessorsSampleTimeout time.Duration

	// Workers 并行查询的并发上限（<= 0 不限制）
	Workers int
}

// Observer 观察每一轮 setup（指标使用）
type Observer interface {
	ObserveSetup(part int, elapsed time.Duration, err error)
}

// Coordinator setup 协调器
type Coordinator struct {
	st       *state.State
	sampler  *randwalk.Sampler
	cfg      Config
	log      *slog.Logger
	observer Observer
}

// New 创建协调器
func New(st *state.State, sampler *randwalk.Sampler, cfg Config, observer Observer) *Coordinator {
	return &Coordinator{
		st:       st,
		sampler:  sampler,
		cfg:      cfg,
		log:      st.Logger(),
		observer: observer,
	}
}

// State 返回路由状态
func (c *Coordinator) State() *state.State {
	return c.st
}

// ============================================================================
//                              阶段一
// ============================================================================

// Part1 执行阶段一，返回耗时
func (c *Coordinator) Part1(ctx context.Context, p Params) (elapsed time.Duration, err error) {
	start := time.Now()
	defer func() { c.observe(1, time.Since(start), err) }()

	round := c.st.NextSetupNumber()
	c.log.Info("setup 阶段一开始", "round", round, "w", p.W, "rd", p.RD, "rf", p.RF, "rs", p.RS)

	c.st.ResignValues()
	c.st.ClearTokens()
	c.sampler.Reset(p.RD + c.st.NumLayers()*(p.RF+p.RS))
	c.st.ResetWalkCounts()
	c.st.ResetPeerActive()
	c.st.SetStage(StageReady)

	c.waitPeers(ctx, StageReady)

	samples, err := c.PersistentSample(ctx, round, p.RD, p.W)
	if err != nil {
		c.log.Error("阶段一失败：采样数据库", "round", round, "err", err)
		return 0, err
	}

	v := c.st.Validator()
	db := make(map[types.Key]*record.Record, len(samples))
	for _, s := range samples {
		key, err := v.ExtractKey(s.Record)
		if err != nil {
			continue
		}
		db[key] = s.Record
	}
	c.st.SetDatabase(db)
	c.st.AdvanceStage(StageDatabase)

	elapsed = time.Since(start)
	c.log.Info("setup 阶段一完成", "round", round, "database", len(db), "elapsed", elapsed)
	return elapsed, nil
}

// waitPeers 等待活跃邻居进入 stage（失败可容忍）
func (c *Coordinator) waitPeers(ctx context.Context, stage int) {
	peers := c.st.ActivePeers()
	b := batch.New[int, bool](ctx, c.cfg.Workers)
	for i, ch := range peers {
		ch := ch
		b.Go(i, func(ctx context.Context) (bool, error) {
			var ok bool
			err := ch.Call(ctx, &rpc.WaitStageArgs{Stage: stage}, &ok)
			return ok, err
		})
	}
	ready := b.Wait(c.cfg.WaitSetupTimeout)
	c.log.Debug("邻居阶段同步", "stage", stage, "peers", len(peers), "ready", len(ready))
}

// ============================================================================
//                              阶段二
// ============================================================================

// Part2 执行阶段二，返回耗时
func (c *Coordinator) Part2(ctx context.Context, p Params) (elapsed time.Duration, err error) {
	start := time.Now()
	defer func() { c.observe(2, time.Since(start), err) }()

	round := c.st.SetupNumber()
	c.log.Info("setup 阶段二开始", "round", round, "w", p.W, "rd", p.RD, "rf", p.RF, "rs", p.RS)

	if len(c.st.ActivePeers()) == 0 {
		c.log.Error("阶段二失败：没有活跃邻居", "round", round)
		return 0, randwalk.ErrNoActivePeers
	}
	c.waitPeers(ctx, StageDatabase)

	for layer := 0; layer < c.st.NumLayers(); layer++ {
		id, err := c.chooseID(layer)
		if err != nil {
			c.log.Error("阶段二失败：选择 ID", "layer", layer, "stage", IDStage(layer), "err", err)
			return 0, err
		}
		if err := c.st.SetID(layer, id); err != nil {
			return 0, err
		}
		c.st.AdvanceStage(IDStage(layer))
		c.log.Debug("已选择 ID", "layer", layer, "id", id)

		if err := c.buildFingers(ctx, round, p, layer); err != nil {
			c.log.Error("阶段二失败：finger", "layer", layer, "stage", TablesStage(layer), "err", err)
			return 0, err
		}
		if err := c.buildSuccessors(ctx, round, p, layer, id); err != nil {
			c.log.Error("阶段二失败：successor", "layer", layer, "stage", TablesStage(layer), "err", err)
			return 0, err
		}
		c.st.AdvanceStage(TablesStage(layer))
		c.log.Debug("本层路由表就绪", "layer", layer)
	}

	elapsed = time.Since(start)
	c.log.Info("setup 阶段二完成", "round", round, "elapsed", elapsed)
	return elapsed, nil
}

// chooseID 第 0 层从数据库随机取键，其余层从上一层 finger 中随机取
func (c *Coordinator) chooseID(layer int) (types.Key, error) {
	var (
		id types.Key
		ok bool
	)
	if layer == 0 {
		id, ok = c.st.RandomDatabaseKey()
	} else {
		id, ok = c.st.RandomFingerID(layer - 1)
	}
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrNoID, layer)
	}
	return id, nil
}

// buildFingers 并行请求 rf 个目标的第 layer 层 ID
func (c *Coordinator) buildFingers(ctx context.Context, round int, p Params, layer int) error {
	replies, err := ParallelQuery(ctx, c, round, Query[types.Key]{
		NumNodes: p.RF,
		Steps:    p.W,
		Timeout:  c.cfg.GetIDTimeout,
		Call: func(s record.Sample) rpc.Call {
			return &rpc.GetIDArgs{Token: s.Token, Layer: layer}
		},
	})
	if err != nil {
		return err
	}

	fingers := make(map[types.Key]types.Target, len(replies))
	for _, r := range replies {
		if r.Value != "" {
			fingers[r.Value] = r.Target
		}
	}
	return c.st.SetFingers(layer, fingers)
}

// buildSuccessors 并行请求 rs 个目标的 id 后继记录
func (c *Coordinator) buildSuccessors(ctx context.Context, round int, p Params, layer int, id types.Key) error {
	replies, err := ParallelQuery(ctx, c, round, Query[[]*record.Record]{
		NumNodes: p.RS,
		Steps:    p.W,
		Timeout:  c.cfg.SuccessorsSampleTimeout,
		Call: func(s record.Sample) rpc.Call {
			return &rpc.SuccessorsSampleArgs{Token: s.Token, ID: id}
		},
	})
	if err != nil {
		return err
	}

	v := c.st.Validator()
	succ := make(map[types.Key]*record.Record)
	for _, r := range replies {
		for _, rec := range r.Value {
			if rec == nil {
				continue
			}
			key, err := v.ExtractKey(rec)
			if err != nil || !v.CheckKey(key, rec) {
				c.log.Warn("successorsSample 返回了无效记录", "from", r.Target.String())
				continue
			}
			succ[key] = rec
		}
	}
	return c.st.SetSuccessors(layer, succ)
}

func (c *Coordinator) observe(part int, elapsed time.Duration, err error) {
	if c.observer != nil {
		c.observer.ObserveSetup(part, elapsed, err)
	}
}

// ============================================================================
//                              采样
// ============================================================================

// PersistentSample 反复采样直到成功或达到重试上限
//
// round 与当前轮次不一致时立即失败。
func (c *Coordinator) PersistentSample(ctx context.Context, round, numNodes, steps int) ([]record.Sample, error) {
	if cur := c.st.SetupNumber(); cur != round {
		c.log.Warn("采样所属轮次已过期", "round", round, "current", cur)
		return nil, ErrStaleRound
	}

	var lastErr error
	for i := 0; i < c.cfg.MaxSampleFailures; i++ {
		samples, err := c.sampler.Sample(ctx, numNodes, steps)
		if err == nil {
			return samples, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("%w after %d attempts: %v", ErrSampleFailed, c.cfg.MaxSampleFailures, lastErr)
}
